// Package httprouter exposes the download service over HTTP.
package httprouter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"hozon/internal/config"
	"hozon/internal/consts"
	"hozon/internal/errs"
	"hozon/internal/infrastructure/delivery/http/middleware"
	"hozon/internal/infrastructure/delivery/http/request"
	"hozon/internal/infrastructure/delivery/http/response"
	"hozon/internal/observability"
	"hozon/internal/proxymgr"
	"hozon/internal/service"
)

const maxBodyBytes = 1 << 20

// Revealer opens a path in the host file manager.
type Revealer interface {
	Reveal(ctx context.Context, path string, isPlaylist bool) error
}

// ProxyStats reports the state of the configured proxies.
type ProxyStats interface {
	GetStats() []proxymgr.Stats
}

type Router struct {
	*http.ServeMux
	log         *slog.Logger
	globalChain []func(http.Handler) http.Handler
	routeChain  []func(http.Handler) http.Handler
	isSubRouter bool

	cfg      *config.Config
	svc      service.Downloads
	revealer Revealer
	proxies  ProxyStats
	metrics  *observability.Metrics

	// heartbeat is the idle interval after which an event stream gets a comment line.
	heartbeat time.Duration
}

// Deps are the collaborators of the router. Revealer and Proxies may be nil.
type Deps struct {
	Service  service.Downloads
	Revealer Revealer
	Proxies  ProxyStats
	Metrics  *observability.Metrics
}

func New(log *slog.Logger, cfg *config.Config, deps Deps) *Router {
	r := &Router{
		ServeMux:  http.NewServeMux(),
		log:       log.With(slog.String("package", "httprouter")),
		cfg:       cfg,
		svc:       deps.Service,
		revealer:  deps.Revealer,
		proxies:   deps.Proxies,
		metrics:   deps.Metrics,
		heartbeat: consts.DefaultSSEHeartbeat,
	}

	r.SetGlobalMiddlewares()
	r.SetRoutes()

	return r
}

func (ro *Router) Use(middleware ...func(http.Handler) http.Handler) {
	if ro.isSubRouter {
		ro.routeChain = append(ro.routeChain, middleware...)
	} else {
		ro.globalChain = append(ro.globalChain, middleware...)
	}
}

// Group registers routes that share route-level middlewares.
func (ro *Router) Group(fn func(r *Router)) {
	subRouter := &Router{
		ServeMux:    ro.ServeMux,
		isSubRouter: true,
		routeChain:  slices.Clone(ro.routeChain),
	}

	fn(subRouter)
}

func (ro *Router) HandleFunc(pattern string, h http.HandlerFunc) {
	ro.Handle(pattern, h)
}

func (ro *Router) Handle(pattern string, h http.Handler) {
	for _, mw := range slices.Backward(ro.routeChain) {
		h = mw(h)
	}

	ro.ServeMux.Handle(pattern, h)
}

func (ro *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var h http.Handler = ro.ServeMux

	for _, mw := range slices.Backward(ro.globalChain) {
		h = mw(h)
	}

	h.ServeHTTP(w, req)
}

func (ro *Router) SetGlobalMiddlewares() {
	ro.Use(
		middleware.Recoverer,
		middleware.RequestID,
		middleware.Logger,
		middleware.Metrics(ro.metrics),
	)
}

func (ro *Router) SetRoutes() {
	ro.HandleFunc("GET /v1/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ro.Handle("GET /metrics", observability.Handler())

	ro.Group(func(r *Router) {
		r.Use(ro.timeout)

		r.HandleFunc("POST /v1/downloads", ro.StartDownload)
		r.HandleFunc("GET /v1/downloads/", ro.GetSessions)
		r.HandleFunc("GET /v1/downloads/{id}", ro.GetSession)
		r.HandleFunc("DELETE /v1/downloads/{id}", ro.CancelSession)
		r.HandleFunc("POST /v1/reveal", ro.Reveal)
		r.HandleFunc("GET /v1/proxies", ro.GetProxies)
	})

	// streams outlive the handler timeout
	ro.HandleFunc("GET /v1/downloads/{id}/events", ro.Events)
}

func (ro *Router) timeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := ro.cfg.HTTP.HandlerTimeout
		if d <= 0 {
			d = consts.DefaultHandlerTimeout
		}

		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (ro *Router) StartDownload(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With(slog.String("handler", "StartDownload"))
	ctx := r.Context()

	var in request.StartDownload

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&in); err != nil {
		log.ErrorContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, errors.Join(errs.ErrInvalidRequestBody, err))

		return
	}

	if err := in.Validate(); err != nil {
		log.ErrorContext(ctx, consts.RespUnprocessableEntity, slog.Any("error", err))
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)

		return
	}

	sess, err := ro.svc.Submit(ctx, in.ToEntity())

	switch {
	case err == nil:
	case errors.Is(err, errs.ErrSessionAlreadyExists):
		log.DebugContext(ctx, consts.RespSessionAlreadyExists, slog.Any("error", err))
		response.Conflict(w, consts.RespSessionAlreadyExists, err)

		return
	case errors.Is(err, errs.ErrQueueFull), errors.Is(err, errs.ErrServiceClosed):
		log.WarnContext(ctx, consts.RespDownloadStartFail, slog.Any("error", err))
		response.ServiceUnavailable(w, consts.RespDownloadStartFail, err)

		return
	case isValidationError(err):
		log.InfoContext(ctx, consts.RespUnprocessableEntity, slog.Any("error", err))
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)

		return
	default:
		log.ErrorContext(ctx, consts.RespDownloadStartFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespDownloadStartFail, nil, err)

		return
	}

	log.InfoContext(ctx, consts.RespDownloadStarted, slog.String("id", sess.Request.ID))

	response.Accepted(w, consts.RespDownloadStarted, map[string]string{"id": sess.Request.ID}, nil)
}

func isValidationError(err error) bool {
	for _, target := range []error{
		errs.ErrInvalidURL,
		errs.ErrInvalidFormat,
		errs.ErrInvalidHeight,
		errs.ErrInvalidFolder,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

func (ro *Router) GetSession(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With(slog.String("handler", "GetSession"))
	ctx := r.Context()

	sess, err := ro.svc.Get(ctx, r.PathValue("id"))
	if errors.Is(err, errs.ErrSessionNotFound) {
		log.DebugContext(ctx, consts.RespSessionNotFound, slog.String("id", r.PathValue("id")))
		response.NotFound(w, consts.RespSessionNotFound, err)

		return
	}

	if err != nil {
		log.ErrorContext(ctx, consts.RespSessionNotFound, slog.Any("error", err))
		response.InternalServerError(w, consts.RespSessionNotFound, nil, err)

		return
	}

	response.OK(w, consts.RespSessionRetrieved, sess, nil)
}

func (ro *Router) GetSessions(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With(slog.String("handler", "GetSessions"))
	ctx := r.Context()

	sessions, err := ro.svc.GetAll(ctx)
	if errors.Is(err, errs.ErrNoSessions) {
		log.DebugContext(ctx, consts.RespNoSessions)
		response.NoContent(w)

		return
	}

	if err != nil {
		log.ErrorContext(ctx, consts.RespGetSessionsFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespGetSessionsFail, nil, err)

		return
	}

	response.OK(w, consts.RespSessionsRetrieved, sessions, nil)
}

// CancelSession delivers the cancel signal; repeating it is harmless.
func (ro *Router) CancelSession(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With(slog.String("handler", "CancelSession"))
	ctx := r.Context()
	id := r.PathValue("id")

	err := ro.svc.Cancel(ctx, id)
	if errors.Is(err, errs.ErrSessionNotFound) {
		response.NotFound(w, consts.RespSessionNotFound, err)

		return
	}

	if err != nil {
		log.ErrorContext(ctx, "cancel failed", slog.Any("error", err))
		response.InternalServerError(w, "cancel failed", nil, err)

		return
	}

	log.InfoContext(ctx, consts.RespCancelRequested, slog.String("id", id))

	response.Accepted(w, consts.RespCancelRequested, map[string]string{"id": id}, nil)
}

func (ro *Router) Reveal(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With(slog.String("handler", "Reveal"))
	ctx := r.Context()

	if ro.revealer == nil {
		response.ServiceUnavailable(w, consts.RespRevealFail, errs.ErrUnsupportedPlatform)

		return
	}

	var in request.Reveal
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		response.BadRequest(w, consts.RespInvalidRequestBody, errors.Join(errs.ErrInvalidRequestBody, err))

		return
	}

	if err := in.Validate(); err != nil {
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)

		return
	}

	err := ro.revealer.Reveal(ctx, in.Path, in.IsPlaylist)
	if errors.Is(err, errs.ErrInvalidPath) {
		response.UnprocessableEntity(w, consts.RespRevealFail, err)

		return
	}

	if err != nil {
		log.ErrorContext(ctx, consts.RespRevealFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespRevealFail, nil, err)

		return
	}

	response.OK(w, consts.RespRevealed, nil, nil)
}

func (ro *Router) GetProxies(w http.ResponseWriter, _ *http.Request) {
	var stats []proxymgr.Stats
	if ro.proxies != nil {
		stats = ro.proxies.GetStats()
	}

	if len(stats) == 0 {
		response.NoContent(w)

		return
	}

	response.OK(w, consts.RespProxiesRetrieved, stats, nil)
}
