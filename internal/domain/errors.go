package domain

import "errors"

var (
	// ErrNotFound is returned when an upstream record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrMalformed is returned when an upstream payload is missing required fields.
	ErrMalformed = errors.New("malformed payload")
	// ErrFileNotFound is returned when a stream's filename hint matches no file
	// in the resolved transfer.
	ErrFileNotFound = errors.New("file not found in transfer")
	// ErrEngineFailure wraps errors from the underlying transfer engine.
	ErrEngineFailure = errors.New("engine failure")
	// ErrPlaybackBusy is returned when a playback session is already active.
	ErrPlaybackBusy = errors.New("playback already in progress")
)
