package model

import "testing"

func TestTaskTransitions(t *testing.T) {
	allowed := []struct{ from, to TaskStatus }{
		{StatusCreated, StatusUploading},
		{StatusCreated, StatusProcessing},
		{StatusUploading, StatusProcessing},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
	}
	for _, tt := range allowed {
		if !tt.from.CanTransition(tt.to) {
			t.Errorf("%s -> %s should be allowed", tt.from, tt.to)
		}
	}

	rejected := []struct{ from, to TaskStatus }{
		{StatusCreated, StatusCompleted},
		{StatusUploading, StatusCreated},
		{StatusProcessing, StatusUploading},
		{StatusCompleted, StatusProcessing},
		{StatusCompleted, StatusFailed},
		{StatusFailed, StatusProcessing},
		{StatusFailed, StatusCompleted},
	}
	for _, tt := range rejected {
		if tt.from.CanTransition(tt.to) {
			t.Errorf("%s -> %s should be rejected", tt.from, tt.to)
		}
	}
}

func TestSegmentTransitions(t *testing.T) {
	if !SegmentUploaded.CanTransition(SegmentProcessing) {
		t.Error("UPLOADED -> PROCESSING should be allowed")
	}
	if !SegmentProcessing.CanTransition(SegmentCompleted) {
		t.Error("PROCESSING -> COMPLETED should be allowed")
	}
	if SegmentCompleted.CanTransition(SegmentProcessing) {
		t.Error("COMPLETED must not revert")
	}
	if SegmentUploaded.CanTransition(SegmentCompleted) {
		t.Error("UPLOADED -> COMPLETED skips processing")
	}
}

func TestSegmentSources(t *testing.T) {
	got := SegmentCompleted.Sources()
	if len(got) != 1 || got[0] != SegmentProcessing {
		t.Fatalf("COMPLETED sources = %v, want [PROCESSING]", got)
	}
	if got := SegmentUploaded.Sources(); len(got) != 0 {
		t.Fatalf("UPLOADED sources = %v, want none", got)
	}
}

func TestTaskResultAndErrorAreExclusive(t *testing.T) {
	task := &Task{Status: StatusProcessing}
	if err := task.Complete(nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	spans, err := task.Spans()
	if err != nil || spans == nil || len(spans) != 0 {
		t.Fatalf("spans = %v, %v; want empty non-nil", spans, err)
	}

	task = &Task{Status: StatusProcessing}
	task.Fail("")
	if task.Status != StatusFailed || task.Error == "" || task.Result != nil {
		t.Fatalf("failed task = %+v", task)
	}
	if !task.Status.Terminal() {
		t.Fatal("FAILED should be terminal")
	}
}
