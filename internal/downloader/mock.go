package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"hozon/internal/cancel"
	"hozon/internal/consts"
	"hozon/internal/entity"
	"hozon/internal/events"
	"hozon/pkg/fsname"
	"hozon/pkg/ptr"
)

// Mock walks a request through the same states and events as YTdlp without
// running any tool. Progress advances in ten steps over Duration.
type Mock struct {
	log *slog.Logger
	// Duration of the simulated fetch.
	Duration time.Duration
	// Err, when set, fails every request after the metadata step.
	Err error
}

// NewMock creates a Mock that takes consts.DefaultSimulateTime per request.
func NewMock(log *slog.Logger) *Mock {
	return &Mock{
		log:      log.With(slog.String("package", "downloader"), slog.String("downloader", consts.DownloaderMock)),
		Duration: consts.DefaultSimulateTime,
	}
}

// Process implements Downloader.
func (m *Mock) Process(
	ctx context.Context,
	req entity.DownloadRequest,
	token *cancel.Token,
	sink events.Sink,
) (entity.Result, error) {
	if token == nil {
		token = cancel.New()
	}

	if sink == nil {
		sink = events.Discard
	}

	stop := context.AfterFunc(ctx, func() { token.Set() })
	defer stop()

	log := m.log.With(slog.Any("request", req))
	publish := func(name events.Name, payload any) {
		sink.Publish(ctx, events.New(name, req.ID, payload))
	}

	result := entity.Result{RequestID: req.ID, Link: req.URL}

	publish(events.NameState, entity.StateFetchingMetadata)

	meta := entity.DownloadMetadata{
		RequestID:       req.ID,
		DestinationPath: filepath.Join(req.DestinationFolder, fsname.Sanitize("mock_"+req.ID+"."+string(req.Format))),
		TotalSizeBytes:  1 << 20,
		Items: []entity.ItemMetadata{{
			Title:           "mock",
			ApproxSizeBytes: 1 << 20,
			SourceURL:       req.URL,
		}},
	}

	publish(events.NameMetadata, meta)
	publish(events.NameState, entity.StateMetadataReady)

	if m.Err != nil {
		publish(events.NameState, entity.StateFailed)

		result.State = entity.StateFailed
		result.Error = m.Err.Error()
		result.Message = consts.ResultError + " " + m.Err.Error()

		return result, m.Err
	}

	publish(events.NameState, entity.StateDownloading)

	cancelled := simulateDownload(m.Duration, token, func(percent int, eta time.Duration) {
		log.DebugContext(ctx, "progress", slog.Int("percent", percent))
		publish(events.NameProgress, entity.Progress{
			RequestID: req.ID,
			Percent:   float64(percent),
			SizeText:  ptr.Of("1.00MiB"),
			ETAText:   ptr.Of(fmt.Sprintf("%.0fs", eta.Seconds())),
		})
	})

	result.Message = consts.ResultComplete + " " + req.URL
	result.State = entity.StateCompleted

	if cancelled {
		result.State = entity.StateCancelled
	}

	publish(events.NameState, result.State)

	return result, nil
}

// simulateDownload reports whether the token stopped it.
func simulateDownload(duration time.Duration, token *cancel.Token, progressFn func(percent int, eta time.Duration)) bool {
	const steps = 10

	ticker := time.NewTicker(max(duration/steps, time.Millisecond))
	defer ticker.Stop()

	for step := 0; step <= steps; step++ {
		select {
		case <-token.Done():
			return true
		case <-ticker.C:
			progressFn(step*(fullProgress/steps), duration*time.Duration(steps-step)/steps)
		}
	}

	return false
}
