package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"hozon/internal/cancel"
	"hozon/internal/config"
	"hozon/internal/consts"
	"hozon/internal/entity"
	"hozon/internal/errs"
	"hozon/internal/events"
	"hozon/internal/observability"
	"hozon/internal/process"
)

const (
	fullProgress = 100

	phaseMetadata = "metadata"
	phaseFetch    = "fetch"
)

// YTdlp runs requests through yt-dlp.
type YTdlp struct {
	log     *slog.Logger
	metrics *observability.Metrics
	ctrl    *process.Controller
	args    *ArgsBuilder
	fetcher *MetadataFetcher
	cleaner Cleaner
	proxies ProxyPicker

	pollInterval time.Duration
	idleTimeout  time.Duration
}

// NewYTdlp creates a new YTdlp downloader instance. proxies may be nil.
func NewYTdlp(
	log *slog.Logger,
	cfg *config.Config,
	metrics *observability.Metrics,
	bins Binaries,
	cleaner Cleaner,
	proxies ProxyPicker,
) *YTdlp {
	log = log.With(slog.String("package", "downloader"), slog.String("downloader", consts.DownloaderYTdlp))

	ctrl := process.New(log)
	args := NewArgsBuilder(bins, cfg.Dir.Cache, cfg.Dir.CookieFile)

	poll := cfg.Job.PollInterval
	if poll <= 0 {
		poll = consts.DefaultPollInterval
	}

	return &YTdlp{
		log:          log,
		metrics:      metrics,
		ctrl:         ctrl,
		args:         args,
		fetcher:      NewMetadataFetcher(log, ctrl, args),
		cleaner:      cleaner,
		proxies:      proxies,
		pollInterval: poll,
		idleTimeout:  cfg.Job.IdleTimeout,
	}
}

// session is the state of one request while it is processed.
type session struct {
	log   *slog.Logger
	req   entity.DownloadRequest
	token *cancel.Token
	sink  events.Sink
	proxy string
}

func (s *session) publish(ctx context.Context, name events.Name, payload any) {
	s.sink.Publish(ctx, events.New(name, s.req.ID, payload))
}

func (s *session) setState(ctx context.Context, state entity.State) {
	s.log.DebugContext(ctx, "state", slog.String("state", string(state)))
	s.publish(ctx, events.NameState, state)
}

// Process runs the metadata query, publishes the metadata, then drives the
// fetch until the tool exits. A set token stops the session at whatever step
// it is in; partial files are removed once the fetch process is gone.
func (d *YTdlp) Process(
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

	// shutting the service down cancels every running session
	stop := context.AfterFunc(ctx, func() { token.Set() })
	defer stop()

	s := &session{
		log:   d.log.With(slog.Any("request", req)),
		req:   req,
		token: token,
		sink:  sink,
	}

	if err := req.Format.Validate(); err != nil {
		return d.fail(ctx, s, fmt.Errorf("%w: %q", err, req.Format))
	}

	if d.proxies != nil {
		s.proxy = d.proxies.GetRandomProxy()
	}

	s.setState(ctx, entity.StateFetchingMetadata)

	if token.IsSet() {
		return d.cancelled(ctx, s), nil
	}

	meta, err := d.fetchMetadata(ctx, s)
	if err != nil {
		if token.IsSet() {
			return d.cancelled(ctx, s), nil
		}

		d.markProxy(s, false)

		return d.fail(ctx, s, err)
	}

	s.log.InfoContext(ctx, "metadata ready", slog.Any("metadata", meta))
	s.publish(ctx, events.NameMetadata, meta)
	s.setState(ctx, entity.StateMetadataReady)

	if token.IsSet() {
		return d.cancelled(ctx, s), nil
	}

	bin, args := d.args.Fetch(ctx, req, meta, s.proxy)

	d.metrics.RecordToolSpawn(phaseFetch)

	handle, err := d.ctrl.Spawn(ctx, bin, args)
	if err != nil {
		d.metrics.RecordToolError(phaseFetch, classifyProcessingError(err))

		return d.fail(ctx, s, fmt.Errorf("spawn fetch: %w", err))
	}

	s.setState(ctx, entity.StateDownloading)
	s.log.InfoContext(ctx, "fetch started", slog.Int("pid", handle.PID()))

	timedOut := d.run(ctx, s, handle)

	if token.IsSet() || timedOut {
		d.cleanup(ctx, s, handle, meta)

		if token.IsSet() {
			return d.cancelled(ctx, s), nil
		}

		d.metrics.RecordToolError(phaseFetch, classifyProcessingError(errs.ErrIdleTimeout))

		return d.fail(ctx, s, fmt.Errorf("%w: no output for %s", errs.ErrIdleTimeout, d.idleTimeout))
	}

	if code := handle.ExitCode(); code != 0 {
		err := fmt.Errorf("%w: code %d", errs.ErrToolExit, code)
		if tail := handle.StderrTail(); tail != "" {
			err = fmt.Errorf("%w: %s", err, tail)
		}

		d.metrics.RecordToolError(phaseFetch, classifyProcessingError(err))
		d.markProxy(s, false)

		return d.fail(ctx, s, err)
	}

	d.markProxy(s, true)

	return d.completed(ctx, s), nil
}

func (d *YTdlp) fetchMetadata(ctx context.Context, s *session) (entity.DownloadMetadata, error) {
	metaCtx, cancelMeta := context.WithCancel(ctx)
	defer cancelMeta()

	// a cancel signal stops the query instead of waiting for it
	go func() {
		select {
		case <-s.token.Done():
			cancelMeta()
		case <-metaCtx.Done():
		}
	}()

	d.metrics.RecordToolSpawn(phaseMetadata)

	meta, err := d.fetcher.Fetch(metaCtx, s.req, s.proxy)
	if err != nil {
		d.metrics.RecordToolError(phaseMetadata, classifyProcessingError(err))

		return entity.DownloadMetadata{}, fmt.Errorf("fetch metadata: %w", err)
	}

	return meta, nil
}

// run drives the fetch loop until the process is reaped. Liveness is the only
// exit condition; a set token or an idle timeout terminates the process and
// the loop keeps consuming output until it is gone. It reports whether the
// idle timeout fired.
func (d *YTdlp) run(ctx context.Context, s *session, h *process.Handle) bool {
	var (
		progress = entity.Progress{RequestID: s.req.ID}
		lastLine = time.Now()
		timedOut bool
		killed   bool
		eof      bool
	)

	// reads must outlive ctx so the loop can still observe the exit after shutdown
	readCtx := context.WithoutCancel(ctx)

	for h.IsAlive() {
		if s.token.IsSet() || timedOut {
			if !killed {
				killed = d.terminate(ctx, s, h)
			}

			waitCtx, cancelWait := context.WithTimeout(readCtx, d.pollInterval)
			_ = h.Drain(waitCtx)

			cancelWait()

			continue
		}

		if eof {
			select {
			case <-h.Done():
			case <-s.token.Done():
			case <-time.After(d.pollInterval):
			}

			continue
		}

		lineCtx, cancelLine := context.WithTimeout(readCtx, d.pollInterval)
		line, err := h.NextLine(lineCtx)

		cancelLine()

		switch {
		case err == nil:
			lastLine = time.Now()

			update, ok := ParseProgress(line)
			if !ok {
				s.log.DebugContext(ctx, "tool output", slog.String("line", line))

				continue
			}

			progress.Merge(update)
			s.publish(ctx, events.NameProgress, progress)
		case errors.Is(err, io.EOF):
			eof = true
		case errors.Is(err, context.DeadlineExceeded):
			if d.idleTimeout > 0 && time.Since(lastLine) >= d.idleTimeout {
				s.log.WarnContext(ctx, "tool idle, terminating", slog.Duration("idle", time.Since(lastLine)))

				timedOut = true
			}
		}
	}

	return timedOut
}

// terminate reports whether another attempt is pointless.
func (d *YTdlp) terminate(ctx context.Context, s *session, h *process.Handle) bool {
	err := h.Terminate()
	if err == nil {
		s.log.InfoContext(ctx, "fetch terminated")

		return true
	}

	if errors.Is(err, os.ErrProcessDone) {
		return true
	}

	s.log.WarnContext(ctx, "terminate fetch", slog.Any("error", err))

	return false
}

func (d *YTdlp) cleanup(ctx context.Context, s *session, h *process.Handle, meta entity.DownloadMetadata) {
	bg := context.WithoutCancel(ctx)

	drainCtx, cancelDrain := context.WithTimeout(bg, consts.DefaultDrainTimeout)
	defer cancelDrain()

	if err := h.Drain(drainCtx); err != nil {
		s.log.WarnContext(ctx, "drain fetch", slog.Any("error", err))
	}

	err := d.cleaner.RemovePartials(bg, s.req.DestinationFolder, meta.DestinationPath, meta.IsPlaylist)
	if err != nil {
		s.log.WarnContext(ctx, "remove partial files", slog.Any("error", err))
	}
}

func (d *YTdlp) markProxy(s *session, ok bool) {
	if d.proxies == nil || s.proxy == "" {
		return
	}

	if ok {
		d.proxies.MarkSuccess(s.proxy)

		return
	}

	d.proxies.MarkFailed(s.proxy)
}

func (d *YTdlp) completed(ctx context.Context, s *session) entity.Result {
	s.publish(ctx, events.NameProgress, entity.Progress{RequestID: s.req.ID, Percent: fullProgress})
	s.setState(ctx, entity.StateCompleted)
	s.log.InfoContext(ctx, "download completed")

	return entity.Result{
		RequestID: s.req.ID,
		State:     entity.StateCompleted,
		Link:      s.req.URL,
		Message:   consts.ResultComplete + " " + s.req.URL,
	}
}

func (d *YTdlp) cancelled(ctx context.Context, s *session) entity.Result {
	s.setState(ctx, entity.StateCancelled)
	s.log.InfoContext(ctx, "download cancelled")

	return entity.Result{
		RequestID: s.req.ID,
		State:     entity.StateCancelled,
		Link:      s.req.URL,
		Message:   consts.ResultComplete + " " + s.req.URL,
	}
}

func (d *YTdlp) fail(ctx context.Context, s *session, err error) (entity.Result, error) {
	s.setState(ctx, entity.StateFailed)
	s.log.ErrorContext(ctx, "download failed", slog.Any("error", err))

	return entity.Result{
		RequestID: s.req.ID,
		State:     entity.StateFailed,
		Link:      s.req.URL,
		Error:     err.Error(),
		Message:   consts.ResultError + " " + err.Error(),
	}, err
}
