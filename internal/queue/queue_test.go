package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryFIFO(t *testing.T) {
	q := NewMemory(4)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if got != want {
			t.Fatalf("Dequeue = %q, want %q", got, want)
		}
	}
}

func TestDequeueHonoursContext(t *testing.T) {
	q := NewMemory(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestEnqueueBlocksWhenFull(t *testing.T) {
	q := NewMemory(1)
	if err := q.Enqueue(context.Background(), "a"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, "b"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestCloseWakesWaiters(t *testing.T) {
	q := NewMemory(1)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()

	q.Close()
	q.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after Close")
	}

	if err := q.Enqueue(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Enqueue after close err = %v, want ErrClosed", err)
	}
}
