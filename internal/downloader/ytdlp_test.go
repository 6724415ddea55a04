package downloader_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"hozon/internal/cancel"
	"hozon/internal/config"
	"hozon/internal/downloader"
	"hozon/internal/entity"
	"hozon/internal/errs"
	"hozon/internal/events"
	"hozon/internal/observability"
	"hozon/internal/storage"
)

type fakeBins struct{ bin string }

func (f fakeBins) YTdlpPath() string { return f.bin }
func (fakeBins) FFmpegDir() string   { return "" }

type cleanerFunc func(ctx context.Context, folder, dest string, isPlaylist bool) error

func (f cleanerFunc) RemovePartials(ctx context.Context, folder, dest string, isPlaylist bool) error {
	return f(ctx, folder, dest, isPlaylist)
}

var partialCleaner = cleanerFunc(func(_ context.Context, folder, dest string, isPlaylist bool) error {
	_, err := storage.RemovePartialFiles(folder, dest, isPlaylist)

	return err
})

// recorder keeps every event and optionally reacts to it.
type recorder struct {
	mu      sync.Mutex
	events  []events.Event
	onEvent func(events.Event)
}

func (r *recorder) Publish(_ context.Context, ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()

	if r.onEvent != nil {
		r.onEvent(ev)
	}
}

func (r *recorder) states() []entity.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []entity.State

	for _, ev := range r.events {
		if ev.Name == events.NameState {
			out = append(out, ev.Payload.(entity.State))
		}
	}

	return out
}

func (r *recorder) named(name events.Name) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []events.Event

	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}

	return out
}

func newYTdlp(t *testing.T, bin string, idle time.Duration) *downloader.YTdlp {
	t.Helper()

	cfg := &config.Config{Job: config.Job{PollInterval: 20 * time.Millisecond, IdleTimeout: idle}}

	return downloader.NewYTdlp(
		slog.New(slog.DiscardHandler),
		cfg,
		observability.New(prometheus.NewRegistry()),
		fakeBins{bin: bin},
		partialCleaner,
		nil,
	)
}

func self(t *testing.T) string {
	t.Helper()

	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("executable: %v", err)
	}

	return exe
}

func request(dir string, format entity.OutputFormat) entity.DownloadRequest {
	return entity.DownloadRequest{
		ID:                "r1",
		DestinationFolder: dir,
		Format:            format,
		MaxHeight:         "720",
		URL:               "https://example.com/clip",
	}
}

func cancelOnFirstProgress(tok *cancel.Token) func(events.Event) {
	return func(ev events.Event) {
		if ev.Name == events.NameProgress {
			tok.Set()
		}
	}
}

func TestYTdlpCompleted(t *testing.T) {
	t.Setenv(fakeEnv, "single")

	dir := t.TempDir()
	rec := &recorder{}

	res, err := newYTdlp(t, self(t), 0).Process(t.Context(), request(dir, entity.FormatMP4), cancel.New(), rec)
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if res.State != entity.StateCompleted || !res.OK() || res.Link != "https://example.com/clip" {
		t.Fatalf("result = %+v", res)
	}

	if !strings.HasPrefix(res.Message, "[Download Complete] ") {
		t.Errorf("Message = %q", res.Message)
	}

	if _, err := os.Stat(filepath.Join(dir, "Clip_20240101.mp4")); err != nil {
		t.Errorf("downloaded file missing: %v", err)
	}

	wantStates := []entity.State{
		entity.StateFetchingMetadata,
		entity.StateMetadataReady,
		entity.StateDownloading,
		entity.StateCompleted,
	}
	if got := rec.states(); !slices.Equal(got, wantStates) {
		t.Errorf("states = %v, want %v", got, wantStates)
	}

	metas := rec.named(events.NameMetadata)
	if len(metas) != 1 {
		t.Fatalf("metadata events = %d, want 1", len(metas))
	}

	meta := metas[0].Payload.(entity.DownloadMetadata)
	if meta.IsPlaylist || meta.DestinationPath != filepath.Join(dir, "Clip_20240101.mp4") {
		t.Errorf("metadata = %+v", meta)
	}

	var percents []float64
	for _, ev := range rec.named(events.NameProgress) {
		percents = append(percents, ev.Payload.(entity.Progress).Percent)
	}

	if want := []float64{10, 55.5, 99.9, 100}; !slices.Equal(percents, want) {
		t.Errorf("progress = %v, want %v", percents, want)
	}
}

func TestYTdlpCancelSingleRemovesPartial(t *testing.T) {
	t.Setenv(fakeEnv, "hang")

	dir := t.TempDir()
	other := filepath.Join(dir, "Other.mp4")

	if err := os.WriteFile(other, []byte("keep"), 0o600); err != nil {
		t.Fatal(err)
	}

	tok := cancel.New()
	rec := &recorder{onEvent: cancelOnFirstProgress(tok)}

	res, err := newYTdlp(t, self(t), 0).Process(t.Context(), request(dir, entity.FormatMP4), tok, rec)
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if res.State != entity.StateCancelled || !res.OK() || res.Link == "" {
		t.Fatalf("result = %+v", res)
	}

	if _, err := os.Stat(filepath.Join(dir, "Clip_20240101.mp4")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("partial file still present: %v", err)
	}

	if _, err := os.Stat(other); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}

	if slices.Contains(rec.states(), entity.StateCompleted) {
		t.Error("cancelled session reported completed")
	}
}

func TestYTdlpCancelPlaylistRemovesFolder(t *testing.T) {
	t.Setenv(fakeEnv, "playlist-hang")

	dir := t.TempDir()
	tok := cancel.New()
	rec := &recorder{onEvent: cancelOnFirstProgress(tok)}

	res, err := newYTdlp(t, self(t), 0).Process(t.Context(), request(dir, entity.FormatMP3), tok, rec)
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if res.State != entity.StateCancelled {
		t.Fatalf("result = %+v", res)
	}

	meta := rec.named(events.NameMetadata)[0].Payload.(entity.DownloadMetadata)
	if !meta.IsPlaylist || meta.DestinationPath != filepath.Join(dir, "Mix_20240101") {
		t.Fatalf("metadata = %+v", meta)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	for _, e := range entries {
		if e.Name() == "Mix_20240101" {
			t.Fatal("playlist folder still present")
		}
	}
}

func TestYTdlpShutdownCancels(t *testing.T) {
	t.Setenv(fakeEnv, "hang")

	ctx, stop := context.WithCancel(t.Context())
	defer stop()

	rec := &recorder{onEvent: func(ev events.Event) {
		if ev.Name == events.NameProgress {
			stop()
		}
	}}

	res, err := newYTdlp(t, self(t), 0).Process(ctx, request(t.TempDir(), entity.FormatM4A), cancel.New(), rec)
	if err != nil || res.State != entity.StateCancelled {
		t.Fatalf("Process() = %+v, %v", res, err)
	}
}

func TestYTdlpCancelledBeforeStart(t *testing.T) {
	t.Setenv(fakeEnv, "single")

	tok := cancel.New()
	tok.Set()

	rec := &recorder{}

	res, err := newYTdlp(t, self(t), 0).Process(t.Context(), request(t.TempDir(), entity.FormatMP4), tok, rec)
	if err != nil || res.State != entity.StateCancelled {
		t.Fatalf("Process() = %+v, %v", res, err)
	}

	if n := len(rec.named(events.NameMetadata)); n != 0 {
		t.Errorf("metadata events = %d, want 0", n)
	}
}

func TestYTdlpFailures(t *testing.T) {
	tests := []struct {
		name       string
		scenario   string
		bin        func(t *testing.T) string
		format     entity.OutputFormat
		idle       time.Duration
		wantErr    error
		wantDetail string
		wantFetch  bool
	}{
		{
			name:       "empty metadata",
			scenario:   "empty",
			format:     entity.FormatMP4,
			wantErr:    errs.ErrMetadataEmpty,
			wantDetail: "Unsupported URL",
		},
		{
			name:     "short metadata record",
			scenario: "short",
			format:   entity.FormatMP4,
			wantErr:  errs.ErrMetadataMalformed,
		},
		{
			name:       "tool exits non-zero",
			scenario:   "fail",
			format:     entity.FormatMP4,
			wantErr:    errs.ErrToolExit,
			wantDetail: "HTTP Error 403",
			wantFetch:  true,
		},
		{
			name:      "idle timeout",
			scenario:  "silent",
			format:    entity.FormatMP4,
			idle:      300 * time.Millisecond,
			wantErr:   errs.ErrIdleTimeout,
			wantFetch: true,
		},
		{
			name:     "binary not found",
			scenario: "single",
			bin: func(t *testing.T) string {
				t.Helper()

				return filepath.Join(t.TempDir(), "yt-dlp")
			},
			format:  entity.FormatMP4,
			wantErr: errs.ErrBinaryNotFound,
		},
		{
			name:     "unknown format",
			scenario: "single",
			format:   "flac",
			wantErr:  errs.ErrInvalidFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(fakeEnv, tt.scenario)

			bin := self(t)
			if tt.bin != nil {
				bin = tt.bin(t)
			}

			dir := t.TempDir()
			rec := &recorder{}

			res, err := newYTdlp(t, bin, tt.idle).Process(t.Context(), request(dir, tt.format), cancel.New(), rec)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Process() error = %v, want %v", err, tt.wantErr)
			}

			if res.State != entity.StateFailed || res.OK() || !strings.HasPrefix(res.Message, "[Download Error] ") {
				t.Errorf("result = %+v", res)
			}

			if !strings.Contains(res.Error, tt.wantDetail) {
				t.Errorf("Error = %q, want it to contain %q", res.Error, tt.wantDetail)
			}

			if got := slices.Contains(rec.states(), entity.StateDownloading); got != tt.wantFetch {
				t.Errorf("reached downloading = %v, want %v", got, tt.wantFetch)
			}

			if tt.wantErr == errs.ErrIdleTimeout {
				if _, err := os.Stat(filepath.Join(dir, "Clip_20240101.mp4")); !errors.Is(err, os.ErrNotExist) {
					t.Errorf("partial file kept after idle timeout: %v", err)
				}
			}
		})
	}
}
