package aggregator

import "errors"

var (
	ErrAlreadyRunning = errors.New("aggregator already running")
	ErrNotRunning     = errors.New("aggregator not running")
	ErrStopTimeout    = errors.New("aggregator stop timed out")
)
