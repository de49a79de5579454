package model

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// Transition moves the task to status to if the state machine allows it.
func (t *Task) Transition(to TaskStatus) error {
	if !t.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	return nil
}

// CanTransition enforces the task state machine edges. PROCESSING may be
// re-entered when a work item is redelivered.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	switch s {
	case StatusCreated:
		// CREATED -> PROCESSING is the single-file upload path.
		return to == StatusUploading || to == StatusProcessing
	case StatusUploading:
		return to == StatusUploading || to == StatusProcessing
	case StatusProcessing:
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// CanTransition enforces UPLOADED -> PROCESSING -> COMPLETED.
func (s SegmentStatus) CanTransition(to SegmentStatus) bool {
	switch s {
	case SegmentUploaded:
		return to == SegmentProcessing
	case SegmentProcessing:
		return to == SegmentProcessing || to == SegmentCompleted
	default:
		return false
	}
}

var segmentStatuses = []SegmentStatus{SegmentUploaded, SegmentProcessing, SegmentCompleted}

// Sources lists the statuses a segment may move to s from.
func (s SegmentStatus) Sources() []SegmentStatus {
	var out []SegmentStatus
	for _, from := range segmentStatuses {
		if from.CanTransition(s) {
			out = append(out, from)
		}
	}
	return out
}
