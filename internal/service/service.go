// Package service accepts download requests and runs them on a bounded pool of workers.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"hozon/internal/cancel"
	"hozon/internal/config"
	"hozon/internal/consts"
	"hozon/internal/downloader"
	"hozon/internal/entity"
	"hozon/internal/errs"
	"hozon/internal/events"
	"hozon/internal/observability"
	"hozon/internal/storage"
	"hozon/pkg/urls"
)

type task struct {
	req   entity.DownloadRequest
	token *cancel.Token
}

type downloads struct {
	log        *slog.Logger
	cfg        *config.Config
	queue      chan task
	storer     storage.Storer
	broker     *events.Broker
	sink       events.Sink
	downloader downloader.Downloader
	metrics    *observability.Metrics

	wg        sync.WaitGroup
	closed    atomic.Bool
	startOnce sync.Once
}

// Downloads is the application service behind the transport layer.
type Downloads interface {
	Start(ctx context.Context)
	// Wait blocks until every worker has returned after the Start context ended.
	Wait()

	Submit(ctx context.Context, req entity.DownloadRequest) (entity.Session, error)
	Cancel(ctx context.Context, id string) error

	Get(ctx context.Context, id string) (entity.Session, error)
	GetAll(ctx context.Context) ([]entity.Session, error)
	// Subscribe returns the current snapshot and, unless it is already
	// terminal, a stream of the session's further events.
	Subscribe(ctx context.Context, id string) (entity.Session, <-chan events.Event, func(), error)
}

var _ Downloads = (*downloads)(nil)

// New creates the service. Events go to the storer snapshots and the broker subscribers.
func New(
	cfg *config.Config,
	log *slog.Logger,
	dl downloader.Downloader,
	storer storage.Storer,
	broker *events.Broker,
	metrics *observability.Metrics,
) Downloads {
	return &downloads{
		log:        log.With(slog.String("package", "service")),
		cfg:        cfg,
		queue:      make(chan task, max(cfg.Job.QueueSize, 1)),
		storer:     storer,
		broker:     broker,
		sink:       events.Fanout{storer, broker},
		downloader: dl,
		metrics:    metrics,
	}
}

func (svc *downloads) Start(ctx context.Context) {
	svc.startOnce.Do(func() {
		for i := range max(svc.cfg.Job.Workers, 1) {
			svc.wg.Add(1)

			go svc.worker(ctx, i)
		}

		go func() {
			<-ctx.Done()
			svc.closed.Store(true)
			svc.storer.CancelAll(context.WithoutCancel(ctx))
		}()
	})
}

func (svc *downloads) Wait() {
	svc.wg.Wait()
}

// Submit validates req, records its session and queues it.
func (svc *downloads) Submit(ctx context.Context, req entity.DownloadRequest) (entity.Session, error) {
	if svc.closed.Load() {
		return entity.Session{}, errs.ErrServiceClosed
	}

	req, err := svc.normalize(req)
	if err != nil {
		return entity.Session{}, err
	}

	sess, err := svc.storer.CreateSession(ctx, req)
	if err != nil {
		return entity.Session{}, fmt.Errorf("create session: %w", err)
	}

	// registered before queueing so a cancel while waiting is not lost
	tok := cancel.New()
	svc.storer.RegisterToken(req.ID, tok)
	svc.metrics.RecordSessionStarted()

	select {
	case svc.queue <- task{req: req, token: tok}:
		svc.log.InfoContext(ctx, "session queued", slog.Any("request", req))

		return sess, nil
	default:
		svc.metrics.RecordQueueRejected()
		svc.finish(ctx, task{req: req, token: tok}, entity.Result{
			RequestID: req.ID,
			State:     entity.StateFailed,
			Link:      req.URL,
			Error:     errs.ErrQueueFull.Error(),
			Message:   consts.ResultError + " " + errs.ErrQueueFull.Error(),
		})

		return entity.Session{}, fmt.Errorf("%w: %d/%d", errs.ErrQueueFull, len(svc.queue), cap(svc.queue))
	}
}

func (svc *downloads) normalize(req entity.DownloadRequest) (entity.DownloadRequest, error) {
	req.URL = urls.Normalize(req.URL)
	if !urls.IsURLValid(req.URL) {
		return req, fmt.Errorf("%w: %q", errs.ErrInvalidURL, req.URL)
	}

	if err := req.Format.Validate(); err != nil {
		return req, fmt.Errorf("%w: %q", err, req.Format)
	}

	if req.Format.Kind() == entity.FormatKindVideo {
		h, err := strconv.Atoi(req.MaxHeight)
		if err != nil || h <= 0 {
			return req, fmt.Errorf("%w: %q", errs.ErrInvalidHeight, req.MaxHeight)
		}
	}

	if req.DestinationFolder == "" {
		req.DestinationFolder = svc.cfg.Dir.Downloads
	}

	if !filepath.IsAbs(req.DestinationFolder) {
		return req, fmt.Errorf("%w: %q is not absolute", errs.ErrInvalidFolder, req.DestinationFolder)
	}

	req.DestinationFolder = filepath.Clean(req.DestinationFolder)

	if err := os.MkdirAll(req.DestinationFolder, 0o755); err != nil { //nolint:mnd,gosec
		return req, fmt.Errorf("%w: %w", errs.ErrInvalidFolder, err)
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	return req, nil
}

func (svc *downloads) worker(ctx context.Context, workerID int) {
	defer svc.wg.Done()

	log := svc.log.With(slog.Int("worker_id", workerID))

	for {
		select {
		case t, ok := <-svc.queue:
			if !ok {
				log.WarnContext(ctx, "queue closed")

				return
			}

			svc.process(ctx, t)
		case <-ctx.Done():
			svc.closed.Store(true)
			log.InfoContext(ctx, "got ctx done signal", slog.Any("error", ctx.Err()))
			svc.abandonQueued(ctx)

			return
		}
	}
}

// abandonQueued ends every still queued session as cancelled.
func (svc *downloads) abandonQueued(ctx context.Context) {
	for {
		select {
		case t := <-svc.queue:
			svc.finish(ctx, t, entity.Result{
				RequestID: t.req.ID,
				State:     entity.StateCancelled,
				Link:      t.req.URL,
				Message:   consts.ResultComplete + " " + t.req.URL,
			})
			svc.metrics.RecordSessionFinished(string(entity.StateCancelled))
		default:
			return
		}
	}
}

func (svc *downloads) process(ctx context.Context, t task) {
	log := svc.log.With(slog.String("func", "process"), slog.String("id", t.req.ID))

	observe := svc.metrics.SessionTimer()
	defer observe()

	res, err := svc.downloader.Process(ctx, t.req, t.token, svc.sink)
	if err != nil {
		log.ErrorContext(ctx, "downloader process", slog.Any("error", err))
	}

	svc.finish(ctx, t, res)
	svc.metrics.RecordSessionFinished(string(res.State))

	log.DebugContext(ctx, "session processed", slog.Any("result", res))
}

// finish publishes the terminal result and releases the token registration.
func (svc *downloads) finish(ctx context.Context, t task, res entity.Result) {
	if res.RequestID == "" {
		res.RequestID = t.req.ID
	}

	svc.sink.Publish(context.WithoutCancel(ctx), events.New(events.NameResult, t.req.ID, res))
	svc.storer.UnregisterToken(t.req.ID, t.token)
}

func (svc *downloads) Cancel(ctx context.Context, id string) error {
	err := svc.storer.Cancel(ctx, id)
	if err != nil {
		return fmt.Errorf("cancel %q: %w", id, err)
	}

	return nil
}

func (svc *downloads) Get(ctx context.Context, id string) (entity.Session, error) {
	return svc.storer.GetSession(ctx, id) //nolint:wrapcheck
}

func (svc *downloads) GetAll(ctx context.Context) ([]entity.Session, error) {
	return svc.storer.GetSessions(ctx) //nolint:wrapcheck
}

func (svc *downloads) Subscribe(ctx context.Context, id string) (entity.Session, <-chan events.Event, func(), error) {
	// subscribe before reading the snapshot so the result cannot slip in between
	ch, release := svc.broker.Subscribe(id)

	sess, err := svc.storer.GetSession(ctx, id)
	if err != nil {
		release()

		return entity.Session{}, nil, func() {}, err //nolint:wrapcheck
	}

	if sess.State.Terminal() {
		release()

		return sess, nil, func() {}, nil
	}

	return sess, ch, release, nil
}
