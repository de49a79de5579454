// Package audio estimates how much time a stored segment covers.
package audio

import (
	"os"

	"github.com/go-audio/wav"
)

// Estimator derives a segment's duration when transcription yields no
// timestamps to advance the running offset with.
type Estimator struct {
	bytesPerMs int64
}

// NewEstimator uses bytesPerMs for raw byte counts; 32 matches 16 kHz
// mono 16-bit PCM.
func NewEstimator(bytesPerMs int64) *Estimator {
	if bytesPerMs <= 0 {
		bytesPerMs = 32
	}
	return &Estimator{bytesPerMs: bytesPerMs}
}

// DurationMs returns the WAV header duration of path when readable,
// otherwise the byte count divided by the configured rate. size is the
// preferred byte count; declared is used when size is unknown.
func (e *Estimator) DurationMs(path string, size, declared int64) int64 {
	if ms, ok := wavDurationMs(path); ok {
		return ms
	}
	n := size
	if n <= 0 {
		n = declared
	}
	if n <= 0 {
		return 0
	}
	return n / e.bytesPerMs
}

func wavDurationMs(path string) (int64, bool) {
	if path == "" {
		return 0, false
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return 0, false
	}
	dur, err := d.Duration()
	if err != nil || dur <= 0 {
		return 0, false
	}
	return dur.Milliseconds(), true
}
