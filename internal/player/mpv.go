package player

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// MPV launches the mpv binary against a local file and blocks until the
// process exits. The process is tied to the playback context, so cancelling
// the session kills the player.
type MPV struct {
	// Path overrides exec.LookPath when non-empty.
	Path   string
	Logger *slog.Logger
}

func NewMPV(path string, logger *slog.Logger) *MPV {
	if logger == nil {
		logger = slog.Default()
	}
	return &MPV{Path: path, Logger: logger}
}

func (m *MPV) Play(ctx context.Context, path string) error {
	binary := m.Path
	if binary == "" {
		found, err := exec.LookPath("mpv")
		if err != nil {
			return fmt.Errorf("mpv not found in PATH: %w", err)
		}
		binary = found
	}

	// force-seekable lets mpv seek within a file that is still growing, and
	// keep-open stops mpv from exiting when playback catches up with the
	// download. The session ends when the user closes the window.
	cmd := exec.CommandContext(ctx, binary,
		"--force-seekable=yes",
		"--keep-open",
		path,
	)

	m.Logger.Debug("starting player", slog.String("binary", binary), slog.String("path", path))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("mpv exited: %w", err)
	}
	return nil
}
