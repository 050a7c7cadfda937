package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/claimcheck/backend/internal/models"
)

var (
	ErrNotReady        = errors.New("job has no verdict yet")
	ErrAlreadyReviewed = errors.New("job already has a reviewer decision")
	ErrNotFailed       = errors.New("only failed jobs can be resubmitted")
	ErrNotCompleted    = errors.New("only completed jobs can be sent to review")
	ErrQueueClosed     = errors.New("job queue closed")
)

// ValidationError rejects a malformed request before anything is enqueued.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ExecutorError is the classified outcome of a failed stage executor call.
type ExecutorError struct {
	Kind     models.ErrorKind
	Op       string
	Attempts int
	Err      error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s) [%s]: %v", e.Op, e.Attempts, e.Kind, e.Err)
}

func (e *ExecutorError) Unwrap() error { return e.Err }

// errorKind maps any stage error onto the job-level error kinds.
func errorKind(err error) models.ErrorKind {
	var ee *ExecutorError
	switch {
	case errors.As(err, &ee):
		return ee.Kind
	case errors.Is(err, context.DeadlineExceeded):
		return models.ErrorKindTimeout
	default:
		return models.ErrorKindPermanent
	}
}

func errorAttempts(err error) int {
	var ee *ExecutorError
	if errors.As(err, &ee) {
		return ee.Attempts
	}
	return 0
}
