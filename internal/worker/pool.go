package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/yokitheyo/segscribe/internal/model"
	"github.com/yokitheyo/segscribe/internal/queue"
	"github.com/yokitheyo/segscribe/internal/store"
)

// Runner processes one task id to completion.
type Runner interface {
	Run(ctx context.Context, taskID string)
}

// Pool pulls task ids and runs each one to completion before taking the
// next. A job in flight is not interrupted by shutdown.
type Pool struct {
	queue   queue.Queue
	runner  Runner
	workers int
	logger  *slog.Logger
}

func NewPool(q queue.Queue, runner Runner, workers int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{queue: q, runner: runner, workers: workers, logger: logger}
}

// Run blocks until ctx is done or the queue closes, then waits for
// in-flight jobs.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i + 1)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, id int) {
	log := p.logger.With("worker", id)
	log.Info("worker started")
	for {
		taskID, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, queue.ErrClosed) {
				log.Info("worker stopped")
				return
			}
			log.Error("dequeue failed", "error", err)
			continue
		}
		log.Info("job started", "task_id", taskID)
		p.runner.Run(context.WithoutCancel(ctx), taskID)
	}
}

// RequeueProcessing re-enqueues tasks left in PROCESSING by a previous
// process, which restart from their first segment.
func RequeueProcessing(ctx context.Context, st store.Store, q queue.Queue, logger *slog.Logger) (int, error) {
	tasks, err := st.ListTasksByStatus(ctx, model.StatusProcessing)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tasks {
		if err := q.Enqueue(ctx, t.ID); err != nil {
			return n, err
		}
		n++
		logger.Info("requeued unfinished task", "task_id", t.ID)
	}
	return n, nil
}
