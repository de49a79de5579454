package assemble

import (
	"testing"

	"github.com/yokitheyo/segscribe/internal/model"
)

func TestParseSpeaker(t *testing.T) {
	tests := []struct {
		tag  string
		want Speaker
	}{
		{"SPEAKER_03", Speaker{N: 3, Parsed: true}},
		{"SPEAKER_00", Speaker{N: 0, Parsed: true}},
		{"speaker 12", Speaker{N: 12, Parsed: true}},
		{"7", Speaker{N: 7, Parsed: true}},
		{"SPEAKER_A", Speaker{}},
		{"", Speaker{}},
		{"SPEAKER_99999999999999999999999", Speaker{}},
	}
	for _, tt := range tests {
		if got := ParseSpeaker(tt.tag); got != tt.want {
			t.Errorf("ParseSpeaker(%q) = %+v, want %+v", tt.tag, got, tt.want)
		}
	}
}

func TestNormalizeSpeaker(t *testing.T) {
	tests := []struct {
		tag      string
		separate bool
		want     string
	}{
		{"SPEAKER_03", false, "0"},
		{"SPEAKER_00", false, "0"},
		{"SPEAKER_00", true, "1"},
		{"SPEAKER_03", true, "3"},
		{"unknown", true, "1"},
		{"", true, "1"},
	}
	for _, tt := range tests {
		if got := NormalizeSpeaker(tt.tag, tt.separate); got != tt.want {
			t.Errorf("NormalizeSpeaker(%q, %v) = %q, want %q", tt.tag, tt.separate, got, tt.want)
		}
	}
}

func TestMergeShiftsAndAdvances(t *testing.T) {
	spans := []model.Span{
		{Start: 0, End: 400, Text: " first ", Speaker: "SPEAKER_01"},
		{Start: 400, End: 1000, Text: "second", Speaker: "SPEAKER_02"},
		{Start: 900, End: 950, Text: "tail", Speaker: "SPEAKER_01"},
	}
	merged, next := Merge(spans, true, 5000, 0)
	if next != 6000 {
		t.Fatalf("next offset = %d, want 6000", next)
	}
	want := []model.ResultSpan{
		{Bg: 5000, Ed: 5400, Onebest: "first", Speaker: "1"},
		{Bg: 5400, Ed: 6000, Onebest: "second", Speaker: "2"},
		{Bg: 5900, Ed: 5950, Onebest: "tail", Speaker: "1"},
	}
	if len(merged) != len(want) {
		t.Fatalf("len = %d, want %d", len(merged), len(want))
	}
	for i := range want {
		if merged[i] != want[i] {
			t.Errorf("merged[%d] = %+v, want %+v", i, merged[i], want[i])
		}
	}
}

func TestMergeEmptySegmentUsesFallback(t *testing.T) {
	merged, next := Merge(nil, true, 1000, 2500)
	if len(merged) != 0 {
		t.Fatalf("merged = %+v, want empty", merged)
	}
	if next != 3500 {
		t.Fatalf("next = %d, want 3500", next)
	}

	_, next = Merge(nil, true, 1000, 0)
	if next != 1000 {
		t.Fatalf("next without fallback = %d, want 1000", next)
	}
}

func TestMergeSilentSpansAdvanceOffset(t *testing.T) {
	spans := []model.Span{
		{Start: 0, End: 400, Text: "hi", Speaker: "SPEAKER_01"},
		{Start: 400, End: 1800, Text: "  ", Speaker: "SPEAKER_01"},
	}
	merged, next := Merge(spans, true, 500, 9999)
	if len(merged) != 1 || merged[0].Onebest != "hi" || merged[0].Bg != 500 {
		t.Fatalf("merged = %+v", merged)
	}
	if next != 2300 {
		t.Fatalf("next = %d, want 2300", next)
	}

	_, next = Merge([]model.Span{{Start: 0, End: 700}}, false, 0, 9999)
	if next != 700 {
		t.Fatalf("silence-only next = %d, want 700", next)
	}
}

func TestAssemblerOffsetsLaterSegments(t *testing.T) {
	a := New(false)
	a.Add([]model.Span{
		{Start: 0, End: 600, Text: "a", Speaker: "SPEAKER_01"},
		{Start: 600, End: 1000, Text: "b", Speaker: "SPEAKER_00"},
	}, 0)
	second := a.Add([]model.Span{
		{Start: 0, End: 300, Text: "c", Speaker: "SPEAKER_02"},
		{Start: 300, End: 800, Text: "d", Speaker: "SPEAKER_01"},
	}, 0)

	for _, s := range second {
		if s.Bg < 1000 {
			t.Errorf("segment 2 span %+v starts before 1000", s)
		}
	}
	if a.Offset() != 1800 {
		t.Fatalf("offset = %d, want 1800", a.Offset())
	}
	if a.Segments() != 2 {
		t.Fatalf("segments = %d, want 2", a.Segments())
	}
	result := a.Result()
	if len(result) != 4 {
		t.Fatalf("len = %d, want 4", len(result))
	}
	for _, s := range result {
		if s.Speaker != "0" {
			t.Fatalf("speaker = %q, want 0 when speakers are not separated", s.Speaker)
		}
	}
	if anomalies := a.Validate(); len(anomalies) != 0 {
		t.Fatalf("anomalies = %v, want none", anomalies)
	}
}

func TestAssemblerOffsetIsMonotonic(t *testing.T) {
	a := New(true)
	prev := a.Offset()
	for _, seg := range [][]model.Span{
		{{Start: 0, End: 500}},
		nil,
		{{Start: 10, End: 20}},
		{{Start: -50, End: -10}},
	} {
		a.Add(seg, 100)
		if a.Offset() < prev {
			t.Fatalf("offset decreased from %d to %d", prev, a.Offset())
		}
		prev = a.Offset()
	}
}

func TestValidateFlagsOverlapAndInversion(t *testing.T) {
	spans := []model.ResultSpan{
		{Bg: 0, Ed: 1000},
		{Bg: 900, Ed: 1200},
		{Bg: 1300, Ed: 1250},
		{Bg: 1400, Ed: 1500},
	}
	got := Validate(spans)
	if len(got) != 2 {
		t.Fatalf("anomalies = %v, want 2", got)
	}
	if got[0].Index != 1 || got[0].Kind != AnomalyOverlap || got[0].PrevEd != 1000 {
		t.Errorf("first anomaly = %+v", got[0])
	}
	if got[1].Index != 2 || got[1].Kind != AnomalyInverted {
		t.Errorf("second anomaly = %+v", got[1])
	}
	if got[0].String() == "" {
		t.Error("String() should describe the anomaly")
	}
}
