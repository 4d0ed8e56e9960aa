package recorder

import "errors"

var (
	// ErrAlreadyRecording is returned by Start while a recording owned by
	// the same Recorder is still active.
	ErrAlreadyRecording = errors.New("a recording is already active")

	// ErrAlreadyStopped is returned by Stop on a recording that was
	// stopped before.
	ErrAlreadyStopped = errors.New("recording already stopped")
)
