package repository

import (
	"context"
	"errors"
	"strings"
)

// Sentinel kinds for store errors.
var (
	ErrClosed   = errors.New("store closed")
	ErrNoParser = errors.New("store has no parser")
)

// retryableMarkers are engine messages for contention and locking.
var retryableMarkers = []string{
	"Transaction conflict",
	"Conflict on update",
	"Conflict on tuple deletion",
	"cannot update a table that has been altered",
	"Could not set lock on file",
	"database is locked",
	"database is busy",
}

// classify maps a write error to an Outcome.
func classify(err error) Outcome {
	if err == nil {
		return Committed
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Retryable
	}
	msg := err.Error()
	for _, m := range retryableMarkers {
		if strings.Contains(msg, m) {
			return Retryable
		}
	}
	return Fatal
}
