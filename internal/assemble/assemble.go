// Package assemble stitches per-segment transcription output into one
// transcript on a single timeline.
package assemble

import (
	"strconv"
	"strings"

	"github.com/yokitheyo/segscribe/internal/model"
)

// NoDiarizationLabel is the speaker of every span when speakers are not separated.
const NoDiarizationLabel = "0"

// Speaker is the parsed form of a diarization tag.
type Speaker struct {
	N      int
	Parsed bool
}

// ParseSpeaker extracts the trailing number of tags like "SPEAKER_03".
func ParseSpeaker(tag string) Speaker {
	tag = strings.TrimSpace(tag)
	i := len(tag)
	for i > 0 && tag[i-1] >= '0' && tag[i-1] <= '9' {
		i--
	}
	if i == len(tag) {
		return Speaker{}
	}
	n, err := strconv.Atoi(tag[i:])
	if err != nil {
		return Speaker{}
	}
	return Speaker{N: n, Parsed: true}
}

// Label renders the speaker, clamping unparsable and sub-1 values to "1".
func (s Speaker) Label() string {
	if !s.Parsed || s.N < 1 {
		return "1"
	}
	return strconv.Itoa(s.N)
}

// NormalizeSpeaker maps a raw tag to the label published in results.
func NormalizeSpeaker(tag string, separate bool) string {
	if !separate {
		return NoDiarizationLabel
	}
	return ParseSpeaker(tag).Label()
}

// Merge shifts one segment's spans by offset and returns them with the
// offset for the next segment. The next offset advances by the largest
// local end time, or by fallbackMs when the segment produced no spans.
// Spans without text are not emitted but still count toward the end time.
func Merge(spans []model.Span, separate bool, offset, fallbackMs int64) ([]model.ResultSpan, int64) {
	out := make([]model.ResultSpan, 0, len(spans))
	var maxEnd int64
	for _, s := range spans {
		if s.End > maxEnd {
			maxEnd = s.End
		}
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		out = append(out, model.ResultSpan{
			Bg:      s.Start + offset,
			Ed:      s.End + offset,
			Onebest: text,
			Speaker: NormalizeSpeaker(s.Speaker, separate),
		})
	}

	advance := maxEnd
	if len(spans) == 0 && fallbackMs > 0 {
		advance = fallbackMs
	}
	return out, offset + advance
}

// Assembler accumulates segments in order.
type Assembler struct {
	separate bool
	offset   int64
	result   []model.ResultSpan
	segments int
}

func New(separate bool) *Assembler {
	return &Assembler{separate: separate, result: []model.ResultSpan{}}
}

// Add merges the next segment and returns its shifted spans.
func (a *Assembler) Add(spans []model.Span, fallbackMs int64) []model.ResultSpan {
	merged, next := Merge(spans, a.separate, a.offset, fallbackMs)
	a.offset = next
	a.result = append(a.result, merged...)
	a.segments++
	return merged
}

// Offset is the start of the next segment on the global timeline.
func (a *Assembler) Offset() int64 { return a.offset }

// Segments is the number of segments added so far.
func (a *Assembler) Segments() int { return a.segments }

// Result returns the merged transcript so far.
func (a *Assembler) Result() []model.ResultSpan { return a.result }

// Validate scans the merged transcript for timing problems.
func (a *Assembler) Validate() []Anomaly { return Validate(a.result) }
