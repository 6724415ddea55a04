// Package storage keeps session snapshots and cancellation tokens in memory
// and removes the partial files of stopped downloads.
package storage

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"hozon/internal/cancel"
	"hozon/internal/config"
	"hozon/internal/consts"
	"hozon/internal/entity"
	"hozon/internal/errs"
	"hozon/internal/events"
	"hozon/internal/observability"
)

// Storer defines the interface for storage operations.
type Storer interface {
	// Sink records events into the matching session snapshot.
	events.Sink

	CreateSession(ctx context.Context, req entity.DownloadRequest) (entity.Session, error)
	GetSession(ctx context.Context, id string) (entity.Session, error)
	GetSessions(ctx context.Context) ([]entity.Session, error)

	// RegisterToken stores the cancellation token of a session.
	RegisterToken(id string, tok *cancel.Token)
	// UnregisterToken removes the token of id only if it is still tok.
	UnregisterToken(id string, tok *cancel.Token)
	// Cancel sets the token of id. Repeated calls have no further effect.
	Cancel(ctx context.Context, id string) error
	// CancelAll sets every registered token and reports how many there were.
	CancelAll(ctx context.Context) int

	RemovePartials(ctx context.Context, folder, dest string, isPlaylist bool) error

	CleanupExpiredSessions(ctx context.Context, interval time.Duration)
}

type storage struct {
	log     *slog.Logger
	metrics *observability.Metrics
	ttl     time.Duration

	mu       sync.RWMutex
	sessions map[string]*entity.Session // request id : snapshot

	tokenMu sync.RWMutex
	tokens  map[string]*cancel.Token // request id : token
}

// New creates a new in-memory storage instance and starts evicting expired snapshots.
func New(ctx context.Context, log *slog.Logger, cfg *config.Config, metrics *observability.Metrics) Storer {
	ttl := cfg.Storage.TTL
	if ttl <= 0 {
		ttl = consts.DefaultSessionTTL
	}

	stg := &storage{
		log:      log.With(slog.String("package", "storage")),
		metrics:  metrics,
		ttl:      ttl,
		sessions: make(map[string]*entity.Session),
		tokens:   make(map[string]*cancel.Token),
	}

	if cfg.Storage.CleanupInterval > 0 {
		go stg.CleanupExpiredSessions(ctx, cfg.Storage.CleanupInterval)
	}

	return stg
}

// CreateSession stores a fresh snapshot for req. A finished session with the
// same id is replaced; a live one is an error. A session stays live until its
// token is unregistered, even once its snapshot reads as terminal.
func (stg *storage) CreateSession(ctx context.Context, req entity.DownloadRequest) (entity.Session, error) {
	if req.ID == "" {
		return entity.Session{}, errs.ErrRequestIDEmpty
	}

	stg.mu.Lock()
	defer stg.mu.Unlock()

	if cur, ok := stg.sessions[req.ID]; ok && (!cur.State.Terminal() || stg.hasToken(req.ID)) {
		return entity.Session{}, errs.ErrSessionAlreadyExists
	}

	now := time.Now()
	sess := &entity.Session{
		Request:   req,
		State:     entity.StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}

	stg.sessions[req.ID] = sess
	stg.metrics.SetStoredSessions(len(stg.sessions))

	stg.log.DebugContext(ctx, "session created", slog.Any("session", *sess))

	return *sess, nil
}

func (stg *storage) GetSession(_ context.Context, id string) (entity.Session, error) {
	stg.mu.RLock()
	defer stg.mu.RUnlock()

	sess, ok := stg.sessions[id]
	if !ok {
		return entity.Session{}, errs.ErrSessionNotFound
	}

	return *sess, nil
}

// GetSessions returns snapshots ordered by creation time.
func (stg *storage) GetSessions(_ context.Context) ([]entity.Session, error) {
	stg.mu.RLock()
	defer stg.mu.RUnlock()

	if len(stg.sessions) == 0 {
		return nil, errs.ErrNoSessions
	}

	out := make([]entity.Session, 0, len(stg.sessions))
	for _, sess := range stg.sessions {
		out = append(out, *sess)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

// Publish implements events.Sink. Payloads are stored as is; the last progress wins.
func (stg *storage) Publish(ctx context.Context, ev events.Event) {
	stg.mu.Lock()
	defer stg.mu.Unlock()

	sess, ok := stg.sessions[ev.RequestID]
	if !ok {
		stg.log.WarnContext(ctx, "event for unknown session", slog.Any("event", ev))

		return
	}

	switch payload := ev.Payload.(type) {
	case entity.State:
		// only the result makes a snapshot terminal
		if payload.Terminal() {
			return
		}

		sess.State = payload
	case entity.DownloadMetadata:
		sess.Metadata = &payload
	case entity.Progress:
		sess.Progress = &payload
	case entity.Result:
		sess.Result = &payload
		sess.State = payload.State
		sess.ExpiresAt = ev.At.Add(stg.ttl)
	default:
		stg.log.WarnContext(ctx, "unexpected event payload", slog.Any("event", ev))

		return
	}

	sess.UpdatedAt = ev.At
}

func (stg *storage) RegisterToken(id string, tok *cancel.Token) {
	stg.tokenMu.Lock()
	defer stg.tokenMu.Unlock()

	stg.tokens[id] = tok
}

func (stg *storage) hasToken(id string) bool {
	stg.tokenMu.RLock()
	defer stg.tokenMu.RUnlock()

	_, ok := stg.tokens[id]

	return ok
}

func (stg *storage) UnregisterToken(id string, tok *cancel.Token) {
	stg.tokenMu.Lock()
	defer stg.tokenMu.Unlock()

	if stg.tokens[id] == tok {
		delete(stg.tokens, id)
	}
}

// Cancel sets the token of a live session. Cancelling a finished session is a no-op.
func (stg *storage) Cancel(ctx context.Context, id string) error {
	stg.tokenMu.RLock()
	tok := stg.tokens[id]
	stg.tokenMu.RUnlock()

	if tok == nil {
		if _, err := stg.GetSession(ctx, id); err != nil {
			return err
		}

		stg.log.DebugContext(ctx, "cancel for finished session ignored", slog.String("id", id))

		return nil
	}

	if tok.Set() {
		stg.log.InfoContext(ctx, "session cancel requested", slog.String("id", id))
	}

	return nil
}

func (stg *storage) CancelAll(ctx context.Context) int {
	stg.tokenMu.RLock()
	defer stg.tokenMu.RUnlock()

	for _, tok := range stg.tokens {
		tok.Set()
	}

	if n := len(stg.tokens); n > 0 {
		stg.log.InfoContext(ctx, "all sessions cancelled", slog.Int("count", n))
	}

	return len(stg.tokens)
}
