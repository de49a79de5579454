package worker

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yokitheyo/segscribe/internal/audio"
	"github.com/yokitheyo/segscribe/internal/engine"
	"github.com/yokitheyo/segscribe/internal/events"
	"github.com/yokitheyo/segscribe/internal/model"
	"github.com/yokitheyo/segscribe/internal/queue"
	"github.com/yokitheyo/segscribe/internal/storage"
	"github.com/yokitheyo/segscribe/internal/store"
	"github.com/yokitheyo/segscribe/internal/taskmgr"
)

// sequenceEngine answers the n-th Transcribe call with replies[n].
type sequenceEngine struct {
	mu      sync.Mutex
	replies [][]model.Span
	paths   []string
}

func (e *sequenceEngine) Transcribe(ctx context.Context, req engine.Request) ([]model.Span, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.paths)
	e.paths = append(e.paths, req.AudioPath)
	if n >= len(e.replies) {
		return nil, nil
	}
	return e.replies[n], nil
}

func (e *sequenceEngine) GetOrInit(ctx context.Context) (engine.Engine, error) { return e, nil }

type countingQueue struct {
	*queue.Memory
	mu  sync.Mutex
	ids []string
}

func (q *countingQueue) Enqueue(ctx context.Context, taskID string) error {
	q.mu.Lock()
	q.ids = append(q.ids, taskID)
	q.mu.Unlock()
	return q.Memory.Enqueue(ctx, taskID)
}

func (q *countingQueue) enqueued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.ids...)
}

func TestSegmentedUploadToResult(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open("sqlite", filepath.Join(dir, "pipeline.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	disk := storage.NewDisk(filepath.Join(dir, "uploads"), []string{".wav"}, 1<<20)
	q := &countingQueue{Memory: queue.NewMemory(8)}
	bus := events.NewBus(100)
	tm := taskmgr.NewTaskManager(st, disk, q, bus, logger)

	ctx := context.Background()
	task, err := tm.CreateTask(ctx, taskmgr.CreateParams{
		FileName:            "call.wav",
		TotalSegments:       2,
		SpeakerNumber:       2,
		HasSeparateSpeakers: true,
		Language:            "en",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	for _, id := range []int{1, 2} {
		if err := tm.AcceptSegment(ctx, task.ID, id, 0, "part.wav", strings.NewReader("RIFF-bytes")); err != nil {
			t.Fatalf("AcceptSegment(%d): %v", id, err)
		}
	}
	if got := q.Len(); got != 1 {
		t.Fatalf("queued before workers = %d, want 1", got)
	}

	eng := &sequenceEngine{replies: [][]model.Span{
		{
			{Start: 0, End: 1000, Text: "good morning", Speaker: "SPEAKER_01"},
			{Start: 1000, End: 1800, Text: "hi there", Speaker: "SPEAKER_02"},
		},
		{
			{Start: 0, End: 500, Text: "shall we start", Speaker: "SPEAKER_01"},
		},
	}}
	proc := NewProcessor(st, eng, audio.NewEstimator(32), bus, logger)

	runCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		NewPool(q, proc, 2, logger).Run(runCtx)
		close(stopped)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		cur, err := st.GetTask(ctx, task.ID)
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if cur.Status.Terminal() {
			if cur.Status != model.StatusCompleted {
				t.Fatalf("task = %s %q, want COMPLETED", cur.Status, cur.Error)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task still %s after deadline", cur.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}

	if err := tm.AcceptSegment(ctx, task.ID, 2, 0, "part.wav", strings.NewReader("again")); taskmgr.CodeOf(err) != taskmgr.CodeInvalidTaskState {
		t.Fatalf("late upload error = %v, want invalid task state", err)
	}
	if ids := q.enqueued(); len(ids) != 1 || ids[0] != task.ID {
		t.Fatalf("enqueued = %v, want exactly [%s]", ids, task.ID)
	}

	spans, err := tm.GetResult(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if len(spans) != 3 {
		t.Fatalf("spans = %+v, want 2+1", spans)
	}
	var firstEnd int64
	for _, s := range spans[:2] {
		if s.Ed > firstEnd {
			firstEnd = s.Ed
		}
	}
	if spans[2].Bg < firstEnd || spans[2].Bg != 1800 || spans[2].Ed != 2300 {
		t.Fatalf("segment 2 span = %+v, want shifted past %d", spans[2], firstEnd)
	}
	if spans[0].Speaker != "1" || spans[1].Speaker != "2" || spans[2].Onebest != "shall we start" {
		t.Fatalf("spans = %+v", spans)
	}

	if len(eng.paths) != 2 || !strings.HasPrefix(filepath.Base(eng.paths[0]), "0001_") || !strings.HasPrefix(filepath.Base(eng.paths[1]), "0002_") {
		t.Fatalf("engine saw %v", eng.paths)
	}
	segs, err := st.ListSegments(ctx, task.ID)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	for _, s := range segs {
		if s.Status != model.SegmentCompleted {
			t.Fatalf("segment %d = %s", s.SegmentID, s.Status)
		}
	}
}
