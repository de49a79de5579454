package model

// Span is one piece of engine output. Start and End are milliseconds
// relative to the start of the segment that produced it.
type Span struct {
	Start   int64  `json:"start"`
	End     int64  `json:"end"`
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
}

// ResultSpan is one merged transcript entry on the task's global timeline.
type ResultSpan struct {
	Bg      int64  `json:"bg"`
	Ed      int64  `json:"ed"`
	Onebest string `json:"onebest"`
	Speaker string `json:"speaker"`
}
