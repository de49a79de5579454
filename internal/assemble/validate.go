package assemble

import (
	"fmt"

	"github.com/yokitheyo/segscribe/internal/model"
)

type AnomalyKind string

const (
	AnomalyOverlap  AnomalyKind = "overlap"
	AnomalyInverted AnomalyKind = "inverted"
)

// Anomaly is a non-fatal timing problem in a merged transcript.
type Anomaly struct {
	Index  int
	Kind   AnomalyKind
	Bg     int64
	Ed     int64
	PrevEd int64
}

func (a Anomaly) String() string {
	switch a.Kind {
	case AnomalyOverlap:
		return fmt.Sprintf("span %d starts at %d before previous end %d", a.Index, a.Bg, a.PrevEd)
	case AnomalyInverted:
		return fmt.Sprintf("span %d starts at %d after its end %d", a.Index, a.Bg, a.Ed)
	default:
		return fmt.Sprintf("span %d: %s", a.Index, a.Kind)
	}
}

// Validate reports overlaps with the previous span and inverted spans.
// One span can yield both.
func Validate(spans []model.ResultSpan) []Anomaly {
	var out []Anomaly
	for i, s := range spans {
		if i > 0 && s.Bg < spans[i-1].Ed {
			out = append(out, Anomaly{Index: i, Kind: AnomalyOverlap, Bg: s.Bg, Ed: s.Ed, PrevEd: spans[i-1].Ed})
		}
		if s.Bg > s.Ed {
			out = append(out, Anomaly{Index: i, Kind: AnomalyInverted, Bg: s.Bg, Ed: s.Ed})
		}
	}
	return out
}
