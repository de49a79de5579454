// Package worker runs transcription jobs pulled from the work queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yokitheyo/segscribe/internal/assemble"
	"github.com/yokitheyo/segscribe/internal/audio"
	"github.com/yokitheyo/segscribe/internal/engine"
	"github.com/yokitheyo/segscribe/internal/events"
	"github.com/yokitheyo/segscribe/internal/model"
	"github.com/yokitheyo/segscribe/internal/store"
)

// EngineSource hands out the process-wide engine.
type EngineSource interface {
	GetOrInit(ctx context.Context) (engine.Engine, error)
}

// ValidationError reports segment records that cannot be stitched.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Processor runs one task to COMPLETED or FAILED.
type Processor struct {
	store     store.Store
	engines   EngineSource
	estimator *audio.Estimator
	events    events.Publisher
	logger    *slog.Logger
}

func NewProcessor(st store.Store, engines EngineSource, estimator *audio.Estimator, pub events.Publisher, logger *slog.Logger) *Processor {
	if estimator == nil {
		estimator = audio.NewEstimator(0)
	}
	if pub == nil {
		pub = events.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: st, engines: engines, estimator: estimator, events: pub, logger: logger}
}

// Run processes one dequeued task id. Only PROCESSING tasks are run.
// Every failure after the task is loaded ends up as FAILED on the task;
// nothing is returned to the queue.
func (p *Processor) Run(ctx context.Context, taskID string) {
	log := p.logger.With("task_id", taskID)

	task, err := p.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Error("task not found, dropping work item")
		} else {
			log.Error("load task failed, dropping work item", "error", err)
		}
		return
	}
	if task.Status.Terminal() {
		log.Warn("task already finished, ignoring redelivery", "status", task.Status)
		return
	}
	if task.Status != model.StatusProcessing {
		log.Warn("task not ready for processing, dropping work item", "status", task.Status)
		return
	}

	start := time.Now()
	if err := p.process(ctx, task, log); err != nil {
		log.Error("task failed", "error", err, "elapsed", time.Since(start).Round(time.Millisecond))
		p.fail(ctx, task, err)
		return
	}
	log.Info("task completed", "elapsed", time.Since(start).Round(time.Millisecond))
}

func (p *Processor) process(ctx context.Context, task *model.Task, log *slog.Logger) error {
	if err := p.store.MarkSegments(ctx, task.ID, model.SegmentUploaded, model.SegmentProcessing); err != nil {
		return fmt.Errorf("mark segments processing: %w", err)
	}
	p.publishStatus(task)

	eng, err := p.engines.GetOrInit(ctx)
	if err != nil {
		return err
	}

	segs, err := p.store.ListSegments(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("list segments: %w", err)
	}

	asm := assemble.New(task.HasSeparateSpeakers)
	if len(segs) == 0 {
		if err := p.processFile(ctx, eng, task, asm); err != nil {
			return err
		}
	} else {
		if err := validateSegments(segs, task.TotalSegments); err != nil {
			return err
		}
		for _, seg := range segs {
			if err := p.processSegment(ctx, eng, task, seg, asm, log); err != nil {
				return err
			}
		}
	}

	log.Debug("transcript assembled", "segments", asm.Segments(), "spans", len(asm.Result()), "offset_ms", asm.Offset())
	for _, a := range asm.Validate() {
		log.Warn("transcript timing anomaly", "index", a.Index, "kind", a.Kind, "detail", a.String())
		p.events.Publish(events.Event{TaskID: task.ID, Type: events.TypeWarning, Message: a.String()})
	}

	if err := task.Complete(asm.Result()); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := p.store.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	p.publishStatus(task)
	return nil
}

// processFile handles tasks uploaded as one file without segments.
func (p *Processor) processFile(ctx context.Context, eng engine.Engine, task *model.Task, asm *assemble.Assembler) error {
	if task.FilePath == "" {
		return &ValidationError{Msg: "task has no segments and no file"}
	}
	spans, err := eng.Transcribe(ctx, requestFor(task, task.FilePath))
	if err != nil {
		return err
	}
	asm.Add(spans, 0)
	return nil
}

func (p *Processor) processSegment(ctx context.Context, eng engine.Engine, task *model.Task, seg model.Segment, asm *assemble.Assembler, log *slog.Logger) error {
	start := time.Now()
	spans, err := eng.Transcribe(ctx, requestFor(task, seg.FilePath))
	if err != nil {
		return fmt.Errorf("segment %d: %w", seg.SegmentID, err)
	}

	var fallback int64
	if len(spans) == 0 {
		fallback = p.estimator.DurationMs(seg.FilePath, seg.Size, seg.Length)
	}
	merged := asm.Add(spans, fallback)

	// a redelivered task re-transcribes segments finished by the earlier run
	if seg.Status != model.SegmentCompleted {
		if err := p.store.SetSegmentStatus(ctx, task.ID, seg.SegmentID, model.SegmentCompleted); err != nil {
			return fmt.Errorf("mark segment %d completed: %w", seg.SegmentID, err)
		}
	}
	log.Info("segment transcribed",
		"segment_id", seg.SegmentID,
		"spans", len(merged),
		"offset_ms", asm.Offset(),
		"elapsed", time.Since(start).Round(time.Millisecond))
	p.events.Publish(events.Event{TaskID: task.ID, Type: events.TypeSegment, SegmentID: seg.SegmentID, Status: string(model.SegmentCompleted)})
	return nil
}

// validateSegments checks that segs is exactly 1..total in order.
func validateSegments(segs []model.Segment, total int) error {
	if len(segs) != total {
		return &ValidationError{Msg: fmt.Sprintf("segment count mismatch: have %d, want %d", len(segs), total)}
	}
	for i, seg := range segs {
		if seg.SegmentID != i+1 {
			return &ValidationError{Msg: fmt.Sprintf("segment order corrupted: position %d holds segment %d", i+1, seg.SegmentID)}
		}
	}
	return nil
}

func requestFor(task *model.Task, path string) engine.Request {
	return engine.Request{
		AudioPath: path,
		Speakers:  task.SpeakerNumber,
		Language:  task.Language,
		HotWords:  task.HotWords,
		Domain:    task.DomainHint,
	}
}

func (p *Processor) fail(ctx context.Context, task *model.Task, cause error) {
	task.Fail(cause.Error())
	if err := p.store.SaveTask(context.WithoutCancel(ctx), task); err != nil {
		p.logger.Error("persist task failure", "task_id", task.ID, "error", err)
	}
	p.events.Publish(events.Event{TaskID: task.ID, Type: events.TypeError, Status: string(task.Status), Message: task.Error})
}

func (p *Processor) publishStatus(task *model.Task) {
	p.events.Publish(events.Event{TaskID: task.ID, Type: events.TypeStatus, Status: string(task.Status)})
}
