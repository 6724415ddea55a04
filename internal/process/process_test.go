package process_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hozon/internal/errs"
	"hozon/internal/process"
)

const fakeEnv = "HOZON_FAKE_PROCESS"

// TestMain turns the test binary into a fake tool when fakeEnv is set.
func TestMain(m *testing.M) {
	if mode := os.Getenv(fakeEnv); mode != "" {
		os.Exit(fake(mode))
	}

	os.Exit(m.Run())
}

func fake(mode string) int {
	switch mode {
	case "lines":
		for i := range 3 {
			fmt.Printf("line %d\r\n", i)
		}

		fmt.Print("last line without newline")

		return 0
	case "hang":
		fmt.Println("started")

		time.Sleep(time.Hour)

		return 0
	case "fail":
		fmt.Fprintln(os.Stderr, "WARNING: noise")
		fmt.Fprintln(os.Stderr, "ERROR: Unsupported URL")

		return 3
	default:
		return 99
	}
}

func newController() *process.Controller {
	return process.New(slog.New(slog.DiscardHandler))
}

func self(t *testing.T) string {
	t.Helper()

	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("executable: %v", err)
	}

	return exe
}

func collect(t *testing.T, h *process.Handle) []string {
	t.Helper()

	var lines []string

	for {
		ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
		line, err := h.NextLine(ctx)
		cancel()

		if errors.Is(err, io.EOF) {
			return lines
		}

		if err != nil {
			t.Fatalf("NextLine() failed: %v", err)
		}

		lines = append(lines, line)
	}
}

func TestSpawnNotFound(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "no-such-tool")

	_, err := newController().Spawn(t.Context(), missing, nil)
	if !errors.Is(err, errs.ErrBinaryNotFound) {
		t.Fatalf("Spawn() error = %v, want %v", err, errs.ErrBinaryNotFound)
	}

	_, _, err = newController().Output(t.Context(), missing, nil)
	if !errors.Is(err, errs.ErrBinaryNotFound) {
		t.Fatalf("Output() error = %v, want %v", err, errs.ErrBinaryNotFound)
	}
}

func TestSpawnLaunchFailed(t *testing.T) {
	t.Parallel()

	// a directory exists but cannot be executed
	_, err := newController().Spawn(t.Context(), t.TempDir(), nil)
	if !errors.Is(err, errs.ErrLaunchFailed) {
		t.Fatalf("Spawn() error = %v, want %v", err, errs.ErrLaunchFailed)
	}
}

func TestHandleStreamsAllLines(t *testing.T) {
	t.Setenv(fakeEnv, "lines")

	h, err := newController().Spawn(t.Context(), self(t), nil)
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}

	got := collect(t, h)
	want := []string{"line 0", "line 1", "line 2", "last line without newline"}

	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("lines = %q, want %q", got, want)
	}

	<-h.Done()

	if h.IsAlive() {
		t.Error("IsAlive() = true after Done")
	}

	if code := h.ExitCode(); code != 0 {
		t.Errorf("ExitCode() = %d, want 0", code)
	}

	if err := h.Terminate(); !errors.Is(err, os.ErrProcessDone) {
		t.Errorf("Terminate() after exit = %v, want %v", err, os.ErrProcessDone)
	}
}

func TestHandleTerminate(t *testing.T) {
	t.Setenv(fakeEnv, "hang")

	h, err := newController().Spawn(t.Context(), self(t), nil)
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}

	line, err := h.NextLine(t.Context())
	if err != nil || line != "started" {
		t.Fatalf("NextLine() = %q, %v", line, err)
	}

	short, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	if _, err := h.NextLine(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("NextLine() on idle stream = %v, want deadline exceeded", err)
	}

	if !h.IsAlive() {
		t.Fatal("IsAlive() = false before terminate")
	}

	if err := h.Terminate(); err != nil {
		t.Fatalf("Terminate() failed: %v", err)
	}

	ctx, cancelDrain := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancelDrain()

	if err := h.Drain(ctx); err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}

	if h.IsAlive() {
		t.Error("IsAlive() = true after drain")
	}

	if h.Err() == nil {
		t.Error("Err() = nil for a killed process")
	}
}

func TestHandleExitCodeAndStderr(t *testing.T) {
	t.Setenv(fakeEnv, "fail")

	h, err := newController().Spawn(t.Context(), self(t), nil)
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}

	if err := h.Drain(t.Context()); err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}

	if code := h.ExitCode(); code != 3 {
		t.Errorf("ExitCode() = %d, want 3", code)
	}

	if tail := h.StderrTail(); !strings.Contains(tail, "ERROR: Unsupported URL") {
		t.Errorf("StderrTail() = %q", tail)
	}
}

func TestOutput(t *testing.T) {
	t.Setenv(fakeEnv, "lines")

	out, _, err := newController().Output(t.Context(), self(t), nil)
	if err != nil {
		t.Fatalf("Output() failed: %v", err)
	}

	if !strings.HasPrefix(string(out), "line 0\r\n") || !strings.HasSuffix(string(out), "without newline") {
		t.Errorf("Output() = %q", out)
	}

	t.Setenv(fakeEnv, "fail")

	out, tail, err := newController().Output(t.Context(), self(t), nil)
	if err != nil {
		t.Fatalf("Output() on non-zero exit failed: %v", err)
	}

	if len(out) != 0 || !strings.Contains(tail, "Unsupported URL") {
		t.Errorf("Output() = %q, tail %q", out, tail)
	}
}
