package ports

import "context"

// Player launches the external media player against a buffer path and blocks
// until the process exits. The user closing the player is the exit signal.
type Player interface {
	Play(ctx context.Context, path string) error
}
