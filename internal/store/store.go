// Package store persists tasks and segments through gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yokitheyo/segscribe/internal/model"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Store is the task/segment persistence contract used by the upload
// coordinator and the job processor.
type Store interface {
	CreateTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	SaveTask(ctx context.Context, task *model.Task) error
	ListTasksByStatus(ctx context.Context, status model.TaskStatus) ([]model.Task, error)

	AcceptSegment(ctx context.Context, seg *model.Segment, task *model.Task) error
	SegmentExists(ctx context.Context, taskID string, segmentID int) (bool, error)
	CountSegments(ctx context.Context, taskID string) (int, error)
	ListSegments(ctx context.Context, taskID string) ([]model.Segment, error)
	SetSegmentStatus(ctx context.Context, taskID string, segmentID int, status model.SegmentStatus) error
	MarkSegments(ctx context.Context, taskID string, from, to model.SegmentStatus) error
}

// GormStore implements Store on top of a gorm connection.
type GormStore struct {
	db *gorm.DB
}

// Open connects to the configured driver and migrates the schema.
func Open(driver, dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&model.Task{}, &model.Segment{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) CreateTask(ctx context.Context, task *model.Task) error {
	return mapErr(s.db.WithContext(ctx).Create(task).Error)
}

func (s *GormStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var task model.Task
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, mapErr(err)
	}
	return &task, nil
}

func (s *GormStore) SaveTask(ctx context.Context, task *model.Task) error {
	return mapErr(s.db.WithContext(ctx).Save(task).Error)
}

func (s *GormStore) ListTasksByStatus(ctx context.Context, status model.TaskStatus) ([]model.Task, error) {
	var tasks []model.Task
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at asc").
		Find(&tasks).Error
	return tasks, mapErr(err)
}

// AcceptSegment inserts a segment row and saves its task in one
// transaction, so a failed task update leaves no orphaned segment. The
// (task_id, segment_id) unique index turns a concurrent duplicate into
// ErrDuplicate.
func (s *GormStore) AcceptSegment(ctx context.Context, seg *model.Segment, task *model.Task) error {
	return mapErr(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(seg).Error; err != nil {
			return err
		}
		return tx.Save(task).Error
	}))
}

func (s *GormStore) SegmentExists(ctx context.Context, taskID string, segmentID int) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Segment{}).
		Where("task_id = ? AND segment_id = ?", taskID, segmentID).
		Count(&n).Error
	return n > 0, mapErr(err)
}

func (s *GormStore) CountSegments(ctx context.Context, taskID string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Segment{}).
		Where("task_id = ?", taskID).
		Count(&n).Error
	return int(n), mapErr(err)
}

func (s *GormStore) ListSegments(ctx context.Context, taskID string) ([]model.Segment, error) {
	var segs []model.Segment
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("segment_id asc").
		Find(&segs).Error
	return segs, mapErr(err)
}

// SetSegmentStatus moves one segment to status, provided its current
// status allows that edge.
func (s *GormStore) SetSegmentStatus(ctx context.Context, taskID string, segmentID int, status model.SegmentStatus) error {
	from := status.Sources()
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing leads to %s", model.ErrInvalidTransition, status)
	}
	res := s.db.WithContext(ctx).Model(&model.Segment{}).
		Where("task_id = ? AND segment_id = ? AND status IN ?", taskID, segmentID, from).
		Update("status", status)
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var seg model.Segment
	err := s.db.WithContext(ctx).
		Where("task_id = ? AND segment_id = ?", taskID, segmentID).
		First(&seg).Error
	if err != nil {
		return mapErr(err)
	}
	return fmt.Errorf("%w: segment %d %s -> %s", model.ErrInvalidTransition, segmentID, seg.Status, status)
}

// MarkSegments moves every segment of the task that is in status from to status to.
func (s *GormStore) MarkSegments(ctx context.Context, taskID string, from, to model.SegmentStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, from, to)
	}
	return mapErr(s.db.WithContext(ctx).Model(&model.Segment{}).
		Where("task_id = ? AND status = ?", taskID, from).
		Update("status", to).Error)
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		// sqlite drivers without error translation
		return ErrDuplicate
	default:
		return err
	}
}
