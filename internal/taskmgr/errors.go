package taskmgr

import (
	"errors"
	"fmt"
)

// Code is the stable error category reported to clients.
type Code int

const (
	CodeOK                Code = 0
	CodeTaskNotFound      Code = 26000
	CodeInvalidTaskState  Code = 26001
	CodeSegmentOutOfRange Code = 26002
	CodeDuplicateSegment  Code = 26003
	CodeOutOfOrderSegment Code = 26004
	CodeIncompleteUpload  Code = 26005
	CodeTaskNotCompleted  Code = 26006
	CodeBadRequest        Code = 26100
	CodeInternal          Code = 26500
)

// Error is a client protocol error. Two errors match under errors.Is
// when their codes match.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrTaskNotFound      = &Error{Code: CodeTaskNotFound, Msg: "task ID does not exist"}
	ErrInvalidTaskState  = &Error{Code: CodeInvalidTaskState, Msg: "invalid task state"}
	ErrSegmentOutOfRange = &Error{Code: CodeSegmentOutOfRange, Msg: "segment ID out of range"}
	ErrDuplicateSegment  = &Error{Code: CodeDuplicateSegment, Msg: "segment already uploaded"}
	ErrOutOfOrderSegment = &Error{Code: CodeOutOfOrderSegment, Msg: "segment uploaded out of order"}
	ErrIncompleteUpload  = &Error{Code: CodeIncompleteUpload, Msg: "upload incomplete"}
	ErrTaskNotCompleted  = &Error{Code: CodeTaskNotCompleted, Msg: "task not completed"}
	ErrBadRequest        = &Error{Code: CodeBadRequest, Msg: "bad request"}
)

func withDetail(base *Error, format string, args ...any) error {
	return &Error{Code: base.Code, Msg: base.Msg + ": " + fmt.Sprintf(format, args...)}
}

// CodeOf maps any error to its client code. Errors that are not protocol
// errors are internal.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
