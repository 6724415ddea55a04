// Package downloader drives the external download tool through its two
// invocations: a print-only metadata query and the file-producing fetch.
package downloader

import (
	"context"
	"errors"

	"hozon/internal/cancel"
	"hozon/internal/entity"
	"hozon/internal/errs"
	"hozon/internal/events"
)

// Downloader runs one request to a terminal state, publishing its events to sink.
// The returned Result is always populated; the error is non-nil only for failed sessions.
type Downloader interface {
	Process(ctx context.Context, req entity.DownloadRequest, token *cancel.Token, sink events.Sink) (entity.Result, error)
}

// Cleaner removes what a stopped fetch left behind.
type Cleaner interface {
	RemovePartials(ctx context.Context, folder, dest string, isPlaylist bool) error
}

// ProxyPicker hands out a proxy per request and learns from the outcome.
type ProxyPicker interface {
	GetRandomProxy() string
	MarkFailed(proxyURL string)
	MarkSuccess(proxyURL string)
}

func classifyProcessingError(err error) string {
	switch {
	case errors.Is(err, errs.ErrBinaryNotFound):
		return "not_found"
	case errors.Is(err, errs.ErrLaunchFailed):
		return "launch"
	case errors.Is(err, errs.ErrMetadataEmpty),
		errors.Is(err, errs.ErrMetadataMalformed),
		errors.Is(err, errs.ErrMetadataInvalidEncoding):
		return "metadata"
	case errors.Is(err, errs.ErrIdleTimeout):
		return "idle_timeout"
	case errors.Is(err, errs.ErrToolExit):
		return "exit"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "process"
	}
}
