package events

import (
	"testing"
	"time"
)

func TestBusSinceFiltersByTaskAndSeq(t *testing.T) {
	b := NewBus(10)
	b.Publish(Event{TaskID: "a", Type: TypeStatus, Status: "UPLOADING"})
	second := b.Publish(Event{TaskID: "b", Type: TypeStatus, Status: "UPLOADING"})
	b.Publish(Event{TaskID: "a", Type: TypeSegment, SegmentID: 1})

	got := b.Since("a", 0)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[1].SegmentID != 1 {
		t.Fatalf("second event = %+v", got[1])
	}

	after := b.Since("", second.Seq)
	if len(after) != 1 || after[0].Seq != 3 {
		t.Fatalf("events after %d = %+v", second.Seq, after)
	}
	if got[0].Timestamp.IsZero() {
		t.Fatal("timestamp should be assigned")
	}
}

func TestBusTrimsOldEvents(t *testing.T) {
	b := NewBus(2)
	for i := 0; i < 5; i++ {
		b.Publish(Event{TaskID: "a"})
	}
	got := b.Since("a", 0)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Seq != 4 || got[1].Seq != 5 {
		t.Fatalf("seqs = %d, %d; want 4, 5", got[0].Seq, got[1].Seq)
	}
}

func TestBusWaitWakesOnPublish(t *testing.T) {
	b := NewBus(2)
	ch := b.Wait()
	go b.Publish(Event{TaskID: "a"})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("Wait channel not closed after Publish")
	}
}
