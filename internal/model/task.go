package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type TaskStatus string

const (
	StatusCreated    TaskStatus = "CREATED"
	StatusUploading  TaskStatus = "UPLOADING"
	StatusProcessing TaskStatus = "PROCESSING"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusFailed     TaskStatus = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AcceptsUploads reports whether segments may still be accepted.
func (s TaskStatus) AcceptsUploads() bool {
	return s == StatusCreated || s == StatusUploading
}

type SegmentStatus string

const (
	SegmentUploaded   SegmentStatus = "UPLOADED"
	SegmentProcessing SegmentStatus = "PROCESSING"
	SegmentCompleted  SegmentStatus = "COMPLETED"
)

// Task is one transcription job for one audio file.
type Task struct {
	ID                  string         `json:"id" gorm:"type:varchar(36);primaryKey"`
	Status              TaskStatus     `json:"status" gorm:"type:varchar(20);not null;index"`
	FileLength          int64          `json:"file_len"`
	FileName            string         `json:"file_name" gorm:"type:varchar(255)"`
	TotalSegments       int            `json:"total_segments" gorm:"not null"`
	SpeakerNumber       int            `json:"speaker_number"`
	HasSeparateSpeakers bool           `json:"has_separate"`
	Language            string         `json:"language" gorm:"type:varchar(50)"`
	DomainHint          string         `json:"pd,omitempty" gorm:"type:varchar(50)"`
	HotWords            string         `json:"hot_word,omitempty" gorm:"type:text"`
	FilePath            string         `json:"file_path,omitempty" gorm:"type:varchar(500)"`
	Result              datatypes.JSON `json:"result,omitempty"`
	Error               string         `json:"error,omitempty" gorm:"type:text"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

func (Task) TableName() string {
	return "tasks"
}

// Complete stores the merged transcript and moves the task to COMPLETED.
func (t *Task) Complete(spans []ResultSpan) error {
	if spans == nil {
		spans = []ResultSpan{}
	}
	raw, err := json.Marshal(spans)
	if err != nil {
		return err
	}
	t.Result = datatypes.JSON(raw)
	t.Error = ""
	t.Status = StatusCompleted
	return nil
}

// Fail records the diagnostic message and moves the task to FAILED.
// Any previously stored result is dropped.
func (t *Task) Fail(msg string) {
	if msg == "" {
		msg = "unknown error"
	}
	t.Result = nil
	t.Error = msg
	t.Status = StatusFailed
}

// Spans decodes the stored transcript. It returns nil when no result is set.
func (t *Task) Spans() ([]ResultSpan, error) {
	if len(t.Result) == 0 {
		return nil, nil
	}
	var out []ResultSpan
	if err := json.Unmarshal(t.Result, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Segment is one contiguous chunk of a task's audio.
type Segment struct {
	ID        uint          `json:"-" gorm:"primaryKey;autoIncrement"`
	TaskID    string        `json:"task_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_segments_task_segment"`
	SegmentID int           `json:"segment_id" gorm:"not null;uniqueIndex:idx_segments_task_segment"`
	Length    int64         `json:"length"`
	Size      int64         `json:"size"`
	FilePath  string        `json:"file_path" gorm:"type:varchar(500);not null"`
	Status    SegmentStatus `json:"status" gorm:"type:varchar(20);not null"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (Segment) TableName() string {
	return "segments"
}
