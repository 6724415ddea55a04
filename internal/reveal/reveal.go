// Package reveal shows a finished download in the host file manager.
package reveal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"hozon/internal/errs"
	"hozon/pkg/shellquote"
)

// Revealer opens file manager windows.
type Revealer struct {
	log  *slog.Logger
	goos string
	// start runs cmd without waiting for it.
	start func(cmd *exec.Cmd) error
}

// New creates a Revealer for the running OS.
func New(log *slog.Logger) *Revealer {
	return &Revealer{
		log:   log.With(slog.String("package", "reveal")),
		goos:  runtime.GOOS,
		start: startDetached,
	}
}

// Reveal opens path in the file manager. A playlist path is a folder and is
// opened itself; a single file is selected where the platform allows it,
// otherwise its folder is opened.
func (r *Revealer) Reveal(ctx context.Context, path string, isPlaylist bool) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %q is not absolute", errs.ErrInvalidPath, path)
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalidPath, err)
	}

	name, args, err := Command(r.goos, path, isPlaylist)
	if err != nil {
		return err
	}

	cmd := exec.Command(name, args...) //nolint:gosec,noctx

	r.log.DebugContext(ctx, "reveal", slog.String("cmd", shellquote.Join(name, args)))

	if err := r.start(cmd); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	return nil
}

// Command returns the program and arguments that reveal path on goos.
func Command(goos, path string, isPlaylist bool) (string, []string, error) {
	switch goos {
	case "windows":
		if isPlaylist {
			return "explorer", []string{path}, nil
		}

		return "explorer", []string{"/select," + path}, nil
	case "darwin":
		if isPlaylist {
			return "open", []string{path}, nil
		}

		return "open", []string{"-R", path}, nil
	case "linux", "freebsd", "openbsd", "netbsd":
		if isPlaylist {
			return "xdg-open", []string{path}, nil
		}

		return "xdg-open", []string{filepath.Dir(path)}, nil
	}

	return "", nil, fmt.Errorf("%w: %s", errs.ErrUnsupportedPlatform, goos)
}

// startDetached starts cmd and reaps it in the background.
func startDetached(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err //nolint:wrapcheck
	}

	go func() { _ = cmd.Wait() }()

	return nil
}
