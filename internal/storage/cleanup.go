package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RemovePartialFiles deletes what a stopped fetch left behind. For a playlist
// the whole dest folder goes. For a single item the first regular file in
// folder whose name without extension contains the base name of dest is
// removed. It returns the removed paths.
func RemovePartialFiles(folder, dest string, isPlaylist bool) ([]string, error) {
	if dest == "" {
		return nil, fmt.Errorf("remove partials: empty destination")
	}

	if isPlaylist {
		if filepath.Clean(dest) == filepath.Clean(folder) {
			return nil, fmt.Errorf("remove partials: destination %q is the download folder", dest)
		}

		if err := os.RemoveAll(dest); err != nil {
			return nil, fmt.Errorf("remove playlist folder: %w", err)
		}

		return []string{dest}, nil
	}

	base := stem(filepath.Base(dest))
	if base == "" {
		return nil, fmt.Errorf("remove partials: no base name in %q", dest)
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("read download folder: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.Contains(stem(e.Name()), base) {
			continue
		}

		path := filepath.Join(folder, e.Name())
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove partial file: %w", err)
		}

		return []string{path}, nil
	}

	return nil, nil
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// RemovePartials logs and counts RemovePartialFiles.
func (stg *storage) RemovePartials(ctx context.Context, folder, dest string, isPlaylist bool) error {
	kind := "single"
	if isPlaylist {
		kind = "playlist"
	}

	log := stg.log.With(slog.String("kind", kind), slog.String("dest", dest))

	removed, err := RemovePartialFiles(folder, dest, isPlaylist)
	if err != nil {
		stg.metrics.RecordPartialCleanup(kind, "error")

		return err
	}

	if len(removed) == 0 {
		stg.metrics.RecordPartialCleanup(kind, "none")
		log.InfoContext(ctx, "no partial files found")

		return nil
	}

	stg.metrics.RecordPartialCleanup(kind, "removed")
	log.InfoContext(ctx, "partial files removed", slog.Any("paths", removed))

	return nil
}

// CleanupExpiredSessions evicts finished snapshots past their expiry every interval.
// Downloaded media is never touched.
func (stg *storage) CleanupExpiredSessions(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := stg.log.With(slog.String("action", "cleanup_expired_sessions"), slog.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			stg.performCleanup(ctx, time.Now())
		case <-ctx.Done():
			log.Info("cleanup expired sessions stopped")

			return
		}
	}
}

func (stg *storage) performCleanup(ctx context.Context, now time.Time) {
	stg.mu.Lock()

	var expired []string

	for id, sess := range stg.sessions {
		if sess.State.Terminal() && !sess.ExpiresAt.IsZero() && sess.ExpiresAt.Before(now) {
			expired = append(expired, id)
			delete(stg.sessions, id)
		}
	}

	stg.metrics.SetStoredSessions(len(stg.sessions))
	stg.mu.Unlock()

	if len(expired) == 0 {
		stg.log.DebugContext(ctx, "no expired sessions found to clean up")

		return
	}

	stg.metrics.RecordCleanup(len(expired))
	stg.log.InfoContext(ctx, "expired sessions removed", slog.Int("count", len(expired)))
}
