// Package process runs the external download tool and streams its output line by line.
package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"hozon/internal/consts"
	"hozon/internal/errs"
	"hozon/pkg/shellquote"
)

// max line length accepted from the tool; longer lines are split by the scanner error path
const maxLineBytes = 1 << 20

// Controller spawns tool invocations.
type Controller struct {
	log *slog.Logger
}

// New creates a Controller.
func New(log *slog.Logger) *Controller {
	return &Controller{log: log.With(slog.String("package", "process"))}
}

// Handle is one running invocation. Stdout is consumed only through NextLine.
type Handle struct {
	cmd   *exec.Cmd
	lines chan string
	done  chan struct{}

	waitErr error
	readErr error
	stderr  *tailBuffer

	killMu sync.Mutex
}

// Spawn starts bin with args and begins reading its stdout.
// It fails with errs.ErrBinaryNotFound when bin does not exist and
// errs.ErrLaunchFailed for any other start error.
func (c *Controller) Spawn(ctx context.Context, bin string, args []string) (*Handle, error) {
	cmd := exec.Command(bin, args...) //nolint:gosec // args are built by the downloader
	cmd.SysProcAttr = sysProcAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %w", errs.ErrLaunchFailed, err)
	}

	stderr := newTailBuffer(consts.StderrTailLines)
	cmd.Stderr = stderr

	c.log.DebugContext(ctx, "spawning", slog.String("cmd", shellquote.Join(bin, args)))

	err = cmd.Start()
	if err != nil {
		return nil, startError(bin, err)
	}

	h := &Handle{
		cmd:    cmd,
		lines:  make(chan string),
		done:   make(chan struct{}),
		stderr: stderr,
	}

	go h.read(stdout)

	return h, nil
}

// Output runs bin to completion and returns its stdout. A non-zero exit is not
// an error here; callers judge the output. The stderr tail is returned for diagnostics.
func (c *Controller) Output(ctx context.Context, bin string, args []string) ([]byte, string, error) {
	cmd := exec.CommandContext(ctx, bin, args...) //nolint:gosec // args are built by the downloader
	cmd.SysProcAttr = sysProcAttr()
	cmd.Cancel = func() error { return kill(cmd) }

	var stdout bytes.Buffer

	stderr := newTailBuffer(consts.StderrTailLines)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	c.log.DebugContext(ctx, "running", slog.String("cmd", shellquote.Join(bin, args)))

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil, stderr.String(), fmt.Errorf("run: %w", ctx.Err())
		}

		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, stderr.String(), startError(bin, err)
		}

		c.log.DebugContext(ctx, "tool exited non-zero",
			slog.Int("code", exitErr.ExitCode()), slog.String("stderr", stderr.String()))
	}

	return stdout.Bytes(), stderr.String(), nil
}

func startError(bin string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s: %w", errs.ErrBinaryNotFound, bin, err)
	}

	return fmt.Errorf("%w: %s: %w", errs.ErrLaunchFailed, bin, err)
}

// read forwards stdout lines until EOF, then reaps the process.
// Wait only runs after stdout is fully consumed so no trailing line is lost.
func (h *Handle) read(stdout io.Reader) {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for sc.Scan() {
		h.lines <- strings.TrimRight(sc.Text(), "\r")
	}

	h.readErr = sc.Err()
	if h.readErr != nil {
		// keep the pipe flowing so the child cannot block on a full buffer
		_, _ = io.Copy(io.Discard, stdout)
	}

	close(h.lines)

	h.waitErr = h.cmd.Wait()
	close(h.done)
}

// PID returns the child's process id.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// IsAlive reports whether the process has not been reaped yet. It never blocks.
func (h *Handle) IsAlive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done is closed once the process has exited and its output is consumed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// NextLine waits for the next stdout line. It returns io.EOF once stdout is
// closed and ctx.Err() if ctx ends first.
func (h *Handle) NextLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-h.lines:
		if !ok {
			return "", io.EOF
		}

		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Terminate kills the process (and its group where supported).
// Killing an already exited process returns an error wrapping os.ErrProcessDone.
func (h *Handle) Terminate() error {
	h.killMu.Lock()
	defer h.killMu.Unlock()

	if !h.IsAlive() {
		return fmt.Errorf("%w: %w", errs.ErrTerminateFailed, os.ErrProcessDone)
	}

	err := kill(h.cmd)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrTerminateFailed, err)
	}

	return nil
}

// Drain drops any unread output and waits for the process to be reaped so
// its file handles are released.
func (h *Handle) Drain(ctx context.Context) error {
	for {
		select {
		case _, ok := <-h.lines:
			if !ok {
				return h.wait(ctx)
			}
		case <-ctx.Done():
			return fmt.Errorf("drain: %w", ctx.Err())
		}
	}
}

func (h *Handle) wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.readErr
	case <-ctx.Done():
		return fmt.Errorf("drain: %w", ctx.Err())
	}
}

// ExitCode is valid once Done is closed; -1 means killed by a signal or unknown.
func (h *Handle) ExitCode() int {
	if h.IsAlive() || h.cmd.ProcessState == nil {
		return -1
	}

	return h.cmd.ProcessState.ExitCode()
}

// Err returns the wait error once Done is closed.
func (h *Handle) Err() error {
	if h.IsAlive() {
		return nil
	}

	return h.waitErr
}

// StderrTail returns the last lines the tool wrote to stderr.
func (h *Handle) StderrTail() string {
	return h.stderr.String()
}
