package taskmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/yokitheyo/segscribe/internal/events"
	"github.com/yokitheyo/segscribe/internal/model"
	"github.com/yokitheyo/segscribe/internal/queue"
	"github.com/yokitheyo/segscribe/internal/storage"
	"github.com/yokitheyo/segscribe/internal/store"
)

// CreateParams are the immutable job parameters fixed at creation.
type CreateParams struct {
	FileLength          int64
	FileName            string
	TotalSegments       int
	SpeakerNumber       int
	HasSeparateSpeakers bool
	Language            string
	DomainHint          string
	HotWords            string
}

// Progress is the externally observable state of a task.
type Progress struct {
	TaskID    string                      `json:"task_id"`
	Status    model.TaskStatus            `json:"status"`
	Total     int                         `json:"total"`
	Uploaded  int                         `json:"uploaded"`
	Completed int                         `json:"completed"`
	Segments  map[int]model.SegmentStatus `json:"segments"`
	Error     string                      `json:"error,omitempty"`
}

// TaskManager accepts uploads and answers task queries. Uploads to one
// task are serialized so the contiguity check and the dispatch decision
// see a consistent segment count.
type TaskManager struct {
	store  store.Store
	disk   *storage.Disk
	queue  queue.Queue
	events events.Publisher
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*taskLock
}

type taskLock struct {
	mu   sync.Mutex
	refs int
}

func NewTaskManager(st store.Store, disk *storage.Disk, q queue.Queue, pub events.Publisher, logger *slog.Logger) *TaskManager {
	if pub == nil {
		pub = events.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskManager{
		store:  st,
		disk:   disk,
		queue:  q,
		events: pub,
		logger: logger,
		locks:  make(map[string]*taskLock),
	}
}

// lock serializes work on one task and returns its release func.
func (tm *TaskManager) lock(taskID string) func() {
	tm.mu.Lock()
	l, ok := tm.locks[taskID]
	if !ok {
		l = &taskLock{}
		tm.locks[taskID] = l
	}
	l.refs++
	tm.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		tm.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(tm.locks, taskID)
		}
		tm.mu.Unlock()
	}
}

func (tm *TaskManager) CreateTask(ctx context.Context, p CreateParams) (*model.Task, error) {
	if p.TotalSegments < 1 {
		return nil, withDetail(ErrBadRequest, "total segments must be >= 1, got %d", p.TotalSegments)
	}
	if p.SpeakerNumber < 0 {
		return nil, withDetail(ErrBadRequest, "speaker number must be >= 0, got %d", p.SpeakerNumber)
	}

	task := &model.Task{
		ID:                  uuid.New().String(),
		Status:              model.StatusCreated,
		FileLength:          p.FileLength,
		FileName:            p.FileName,
		TotalSegments:       p.TotalSegments,
		SpeakerNumber:       p.SpeakerNumber,
		HasSeparateSpeakers: p.HasSeparateSpeakers,
		Language:            p.Language,
		DomainHint:          p.DomainHint,
		HotWords:            p.HotWords,
	}
	if err := tm.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	tm.logger.Info("task created", "task_id", task.ID, "file_name", p.FileName, "total_segments", p.TotalSegments)
	tm.publishStatus(task)
	return task, nil
}

// AcceptSegment validates and stores one chunk. Accepting the last chunk
// moves the task to PROCESSING and enqueues it exactly once.
func (tm *TaskManager) AcceptSegment(ctx context.Context, taskID string, segmentID int, declaredLength int64, name string, r io.Reader) error {
	unlock := tm.lock(taskID)
	defer unlock()

	task, err := tm.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !task.Status.AcceptsUploads() {
		return withDetail(ErrInvalidTaskState, "task is %s", task.Status)
	}
	if segmentID < 1 || segmentID > task.TotalSegments {
		return withDetail(ErrSegmentOutOfRange, "segment %d not in [1, %d]", segmentID, task.TotalSegments)
	}
	exists, err := tm.store.SegmentExists(ctx, taskID, segmentID)
	if err != nil {
		return fmt.Errorf("check segment: %w", err)
	}
	if exists {
		return withDetail(ErrDuplicateSegment, "segment %d", segmentID)
	}
	count, err := tm.store.CountSegments(ctx, taskID)
	if err != nil {
		return fmt.Errorf("count segments: %w", err)
	}
	if segmentID != count+1 {
		return withDetail(ErrOutOfOrderSegment, "expected segment %d, got %d", count+1, segmentID)
	}

	path, size, err := tm.disk.SaveSegment(taskID, segmentID, name, r)
	if err != nil {
		return uploadErr(err)
	}
	if declaredLength > 0 && declaredLength != size {
		tm.logger.Warn("declared segment length differs from received bytes",
			"task_id", taskID, "segment_id", segmentID, "declared", declaredLength, "received", size)
	}

	seg := &model.Segment{
		TaskID:    taskID,
		SegmentID: segmentID,
		Length:    declaredLength,
		Size:      size,
		FilePath:  path,
		Status:    model.SegmentUploaded,
	}
	if segmentID == 1 {
		task.FilePath = path
		if err := task.Transition(model.StatusUploading); err != nil {
			_ = tm.disk.Remove(path)
			return err
		}
	}
	count++
	ready := count == task.TotalSegments
	if ready {
		if err := task.Transition(model.StatusProcessing); err != nil {
			_ = tm.disk.Remove(path)
			return err
		}
	}
	if err := tm.store.AcceptSegment(ctx, seg, task); err != nil {
		_ = tm.disk.Remove(path)
		if errors.Is(err, store.ErrDuplicate) {
			return withDetail(ErrDuplicateSegment, "segment %d", segmentID)
		}
		return fmt.Errorf("store segment: %w", err)
	}
	if segmentID == 1 || ready {
		tm.publishStatus(task)
	}

	tm.logger.Info("segment accepted", "task_id", taskID, "segment_id", segmentID, "bytes", size, "uploaded", count, "total", task.TotalSegments)
	tm.events.Publish(events.Event{TaskID: taskID, Type: events.TypeSegment, SegmentID: segmentID, Status: string(model.SegmentUploaded)})

	if ready {
		tm.dispatch(ctx, taskID)
	}
	return nil
}

// AcceptFile stores a whole file for a task that has no segments and
// dispatches it immediately.
func (tm *TaskManager) AcceptFile(ctx context.Context, taskID, name string, r io.Reader) error {
	unlock := tm.lock(taskID)
	defer unlock()

	task, err := tm.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != model.StatusCreated {
		return withDetail(ErrInvalidTaskState, "task is %s", task.Status)
	}
	count, err := tm.store.CountSegments(ctx, taskID)
	if err != nil {
		return fmt.Errorf("count segments: %w", err)
	}
	if count > 0 {
		return withDetail(ErrInvalidTaskState, "task already has %d segments", count)
	}

	path, size, err := tm.disk.SaveFile(taskID, name, r)
	if err != nil {
		return uploadErr(err)
	}
	task.FilePath = path
	if err := task.Transition(model.StatusProcessing); err != nil {
		return err
	}
	if err := tm.store.SaveTask(ctx, task); err != nil {
		_ = tm.disk.Remove(path)
		return fmt.Errorf("update task: %w", err)
	}

	tm.logger.Info("file uploaded", "task_id", taskID, "bytes", size, "path", path)
	tm.publishStatus(task)
	tm.dispatch(ctx, taskID)
	return nil
}

// dispatch enqueues a ready task. A failed enqueue leaves the task in
// PROCESSING, where the worker pool's startup requeue picks it up.
func (tm *TaskManager) dispatch(ctx context.Context, taskID string) {
	if err := tm.queue.Enqueue(context.WithoutCancel(ctx), taskID); err != nil {
		tm.logger.Error("enqueue failed", "task_id", taskID, "error", err)
		tm.events.Publish(events.Event{TaskID: taskID, Type: events.TypeError, Message: "enqueue failed: " + err.Error()})
		return
	}
	tm.logger.Info("task enqueued", "task_id", taskID)
}

func (tm *TaskManager) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	return tm.loadTask(ctx, taskID)
}

func (tm *TaskManager) GetProgress(ctx context.Context, taskID string) (Progress, error) {
	task, err := tm.loadTask(ctx, taskID)
	if err != nil {
		return Progress{}, err
	}
	segs, err := tm.store.ListSegments(ctx, taskID)
	if err != nil {
		return Progress{}, fmt.Errorf("list segments: %w", err)
	}

	p := Progress{
		TaskID:   task.ID,
		Status:   task.Status,
		Total:    task.TotalSegments,
		Uploaded: len(segs),
		Segments: make(map[int]model.SegmentStatus, len(segs)),
		Error:    task.Error,
	}
	for _, s := range segs {
		p.Segments[s.SegmentID] = s.Status
		if s.Status == model.SegmentCompleted {
			p.Completed++
		}
	}
	return p, nil
}

// GetResult returns the merged transcript of a COMPLETED task. A task
// with fewer segments stored than declared reports IncompleteUpload
// whatever its status; a whole-file task has no segments and is never
// incomplete once its file is stored.
func (tm *TaskManager) GetResult(ctx context.Context, taskID string) ([]model.ResultSpan, error) {
	task, err := tm.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	count, err := tm.store.CountSegments(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("count segments: %w", err)
	}
	wholeFile := count == 0 && task.FilePath != "" && !task.Status.AcceptsUploads()
	if !wholeFile && count < task.TotalSegments {
		return nil, withDetail(ErrIncompleteUpload, "%d of %d segments uploaded", count, task.TotalSegments)
	}
	if task.Status != model.StatusCompleted {
		return nil, withDetail(ErrTaskNotCompleted, "task is %s", task.Status)
	}
	spans, err := task.Spans()
	if err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return spans, nil
}

// Finished reports whether the task exists and is terminal.
func (tm *TaskManager) Finished(ctx context.Context, taskID string) bool {
	task, err := tm.store.GetTask(ctx, taskID)
	return err == nil && task.Status.Terminal()
}

func (tm *TaskManager) loadTask(ctx context.Context, taskID string) (*model.Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, ErrTaskNotFound
	}
	task, err := tm.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("load task: %w", err)
	}
	return task, nil
}

func (tm *TaskManager) publishStatus(task *model.Task) {
	tm.events.Publish(events.Event{TaskID: task.ID, Type: events.TypeStatus, Status: string(task.Status)})
}

func uploadErr(err error) error {
	if errors.Is(err, storage.ErrExtensionDenied) || errors.Is(err, storage.ErrTooLarge) {
		return withDetail(ErrBadRequest, "%v", err)
	}
	return fmt.Errorf("store upload: %w", err)
}
