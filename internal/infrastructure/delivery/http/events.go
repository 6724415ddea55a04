package httprouter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"hozon/internal/consts"
	"hozon/internal/entity"
	"hozon/internal/errs"
	"hozon/internal/events"
	"hozon/internal/infrastructure/delivery/http/response"
)

// Events streams the session as Server-Sent Events. The stream opens with the
// current snapshot replayed as events and ends after the result event.
func (ro *Router) Events(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With(slog.String("handler", "Events"))
	ctx := r.Context()
	id := r.PathValue("id")

	sess, ch, release, err := ro.svc.Subscribe(ctx, id)
	if errors.Is(err, errs.ErrSessionNotFound) {
		response.NotFound(w, consts.RespSessionNotFound, err)

		return
	}

	if err != nil {
		log.ErrorContext(ctx, "subscribe failed", slog.Any("error", err))
		response.InternalServerError(w, "subscribe failed", nil, err)

		return
	}
	defer release()

	rc := http.NewResponseController(w)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := &sseWriter{w: w}

	for _, ev := range snapshotEvents(sess) {
		stream.write(ev)
	}

	if err := rc.Flush(); err != nil {
		log.WarnContext(ctx, consts.RespStreamUnsupported, slog.Any("error", err))

		return
	}

	if ch == nil {
		return
	}

	heartbeat := time.NewTicker(ro.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.DebugContext(ctx, "client gone", slog.String("id", id))

			return
		case <-heartbeat.C:
			stream.comment("ping")
		case ev, ok := <-ch:
			if !ok {
				return
			}

			stream.write(ev)
		}

		if stream.err != nil {
			log.DebugContext(ctx, "stream write failed", slog.Any("error", stream.err))

			return
		}

		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// snapshotEvents renders what a late subscriber missed.
func snapshotEvents(sess entity.Session) []events.Event {
	id := sess.Request.ID
	out := []events.Event{events.New(events.NameState, id, sess.State)}

	if sess.Metadata != nil {
		out = append(out, events.New(events.NameMetadata, id, *sess.Metadata))
	}

	if sess.Progress != nil {
		out = append(out, events.New(events.NameProgress, id, *sess.Progress))
	}

	if sess.Result != nil {
		out = append(out, events.New(events.NameResult, id, *sess.Result))
	}

	return out
}

// sseWriter frames events in the text/event-stream format and keeps the first error.
type sseWriter struct {
	w   io.Writer
	seq int
	err error
}

func (s *sseWriter) write(ev events.Event) {
	if s.err != nil {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		s.err = fmt.Errorf("marshal event: %w", err)

		return
	}

	s.seq++
	_, s.err = fmt.Fprintf(s.w, "id: %s\nevent: %s\ndata: %s\n\n", strconv.Itoa(s.seq), ev.Name, data)
}

func (s *sseWriter) comment(text string) {
	if s.err != nil {
		return
	}

	_, s.err = fmt.Fprintf(s.w, ": %s\n\n", text)
}
