// Package proxymgr rotates the configured yt-dlp proxies and keeps failing
// ones in exponential backoff.
package proxymgr

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/url"
	"sync"
	"time"

	"hozon/internal/config"
	"hozon/internal/observability"
)

// State of a single proxy.
type State int

const (
	StateAvailable State = iota
	StateBackoff
)

func (s State) String() string {
	if s == StateBackoff {
		return "backoff"
	}

	return "available"
}

const (
	dialTimeout = 10 * time.Second
	maxBackoff  = time.Hour
)

var defaultPorts = map[string]string{
	"http":    "80",
	"https":   "443",
	"socks4":  "1080",
	"socks4a": "1080",
	"socks5":  "1080",
	"socks5h": "1080",
}

type entry struct {
	addr     string // host:port to dial
	label    string // credentials stripped, safe for logs and metrics
	state    State
	failures int
	failedAt time.Time
	until    time.Time
	checked  time.Time
}

// Manager hands out proxies for download sessions.
type Manager struct {
	log     *slog.Logger
	cfg     config.Proxy
	metrics *observability.Metrics
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
}

// New registers every proxy of cfg.Proxy.Proxies. Unparsable entries are skipped.
func New(log *slog.Logger, cfg *config.Config, metrics *observability.Metrics) *Manager {
	mgr := &Manager{
		log:     log.With(slog.String("package", "proxymgr")),
		cfg:     cfg.Proxy,
		metrics: metrics,
		now:     time.Now,
		entries: make(map[string]*entry, len(cfg.Proxy.Proxies)),
	}

	for _, raw := range cfg.Proxy.Proxies {
		if _, dup := mgr.entries[raw]; dup {
			continue
		}

		addr, label, err := parse(raw)
		if err != nil {
			mgr.log.Warn("proxy skipped", slog.String("proxy", label), slog.Any("error", err))

			continue
		}

		mgr.entries[raw] = &entry{addr: addr, label: label}
		mgr.order = append(mgr.order, raw)
	}

	mgr.metrics.SetProxiesAvailable(len(mgr.order))

	return mgr
}

func parse(raw string) (addr, label string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "<invalid>", fmt.Errorf("parse proxy url: %w", err)
	}

	u.User = nil
	label = u.Redacted()

	port, known := defaultPorts[u.Scheme]
	if !known || u.Hostname() == "" {
		return "", label, fmt.Errorf("unsupported proxy %q", label)
	}

	if u.Port() != "" {
		port = u.Port()
	}

	return net.JoinHostPort(u.Hostname(), port), label, nil
}

// GetRandomProxy returns an available proxy, or "" when none is.
func (m *Manager) GetRandomProxy() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	available := m.available()
	if len(available) == 0 {
		return ""
	}

	proxy := available[rand.IntN(len(available))]
	m.metrics.RecordProxyRequest(m.entries[proxy].label)

	return proxy
}

// MarkFailed counts a failure; from cfg.MaxFailures on the proxy backs off
// for FailureBackoff doubled per further failure, capped at an hour.
func (m *Manager) MarkFailed(proxy string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[proxy]
	if !ok {
		return
	}

	now := m.now()
	e.failures++
	e.failedAt = now
	m.metrics.RecordProxyFailure(e.label)

	threshold := max(m.cfg.MaxFailures, 1)
	if e.failures < threshold {
		return
	}

	backoff := backoffFor(m.cfg.FailureBackoff, e.failures-threshold)
	e.state = StateBackoff
	e.until = now.Add(backoff)

	m.metrics.SetProxiesAvailable(len(m.available()))
	m.log.Warn("proxy in backoff",
		slog.String("proxy", e.label),
		slog.Int("failures", e.failures),
		slog.Duration("backoff", backoff))
}

func backoffFor(base time.Duration, exp int) time.Duration {
	if base <= 0 {
		return 0
	}

	backoff := base
	for range exp {
		backoff *= 2
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}

	return min(backoff, maxBackoff)
}

// MarkSuccess clears the failure history of proxy.
func (m *Manager) MarkSuccess(proxy string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[proxy]
	if !ok {
		return
	}

	wasDown := e.state == StateBackoff

	e.state = StateAvailable
	e.failures = 0
	e.until = time.Time{}

	if wasDown {
		m.metrics.SetProxiesAvailable(len(m.available()))
		m.log.Info("proxy restored", slog.String("proxy", e.label))
	}
}

// Check dials proxy and records the outcome.
func (m *Manager) Check(ctx context.Context, proxy string) error {
	m.mu.Lock()
	e, ok := m.entries[proxy]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown proxy %q", proxy)
	}

	dialer := &net.Dialer{Timeout: dialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", e.addr)
	if err != nil {
		m.MarkFailed(proxy)

		return fmt.Errorf("dial %s: %w", e.label, err)
	}

	_ = conn.Close()

	m.mu.Lock()
	e.checked = m.now()
	m.mu.Unlock()

	m.MarkSuccess(proxy)

	return nil
}

// Run checks every proxy each cfg.HealthCheckInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.cfg.HealthCheckInterval <= 0 || !m.HasProxies() {
		return
	}

	m.log.InfoContext(ctx, "proxy health checker started",
		slog.Duration("interval", m.cfg.HealthCheckInterval),
		slog.Int("proxies", m.ProxyCount()))

	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

func (m *Manager) checkAll(ctx context.Context) {
	m.mu.Lock()
	proxies := append([]string(nil), m.order...)
	m.mu.Unlock()

	for _, proxy := range proxies {
		if ctx.Err() != nil {
			return
		}

		if err := m.Check(ctx, proxy); err != nil {
			m.log.DebugContext(ctx, "proxy health check failed", slog.Any("error", err))
		}
	}
}

// Stats is a point-in-time view of one proxy.
type Stats struct {
	Proxy        string    `json:"proxy"`
	State        string    `json:"state"`
	Failures     int       `json:"failures"`
	LastFailure  time.Time `json:"lastFailure,omitzero"`
	BackoffUntil time.Time `json:"backoffUntil,omitzero"`
	LastCheck    time.Time `json:"lastCheck,omitzero"`
}

// GetStats returns the stats of every proxy in configuration order.
func (m *Manager) GetStats() []Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make([]Stats, 0, len(m.order))

	for _, proxy := range m.order {
		e := m.entries[proxy]

		state := e.state
		if state == StateBackoff && !now.Before(e.until) {
			state = StateAvailable
		}

		out = append(out, Stats{
			Proxy:        e.label,
			State:        state.String(),
			Failures:     e.failures,
			LastFailure:  e.failedAt,
			BackoffUntil: e.until,
			LastCheck:    e.checked,
		})
	}

	return out
}

func (m *Manager) HasProxies() bool {
	return m.ProxyCount() > 0
}

func (m *Manager) ProxyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.order)
}

func (m *Manager) AvailableCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.available())
}

// available expects m.mu to be held. An expired backoff counts as available.
func (m *Manager) available() []string {
	now := m.now()
	out := make([]string, 0, len(m.order))

	for _, proxy := range m.order {
		e := m.entries[proxy]
		if e.state == StateAvailable || !now.Before(e.until) {
			out = append(out, proxy)
		}
	}

	return out
}
