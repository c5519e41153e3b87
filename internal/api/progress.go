package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/halworsen/footgas/internal/export"
	"github.com/halworsen/footgas/internal/jobs"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isAllowedOrigin(origin)
	},
}

// progressHandler streams the events of one export as JSON text frames and
// closes the socket after the terminal event.
func progressHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, err := cfg.Service.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied to the client.
			cfg.Logger.Debug("websocket upgrade failed", "error", err, "job_id", id)
			return
		}
		defer conn.Close()

		// The socket outlives the request lifecycle once hijacked.
		ctx := context.WithoutCancel(r.Context())
		s := &progressStream{conn: conn, jobID: id}
		if job.Finished() || cfg.Progress == nil {
			s.finish(job)
			return
		}

		events, unsubscribe := cfg.Progress.Subscribe(id)
		defer unsubscribe()

		// The job may have ended between the lookup and the subscription.
		if job, err = cfg.Service.Get(ctx, id); err == nil && job.Finished() {
			s.finish(job)
			return
		}

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					// Closed without a terminal event: we were dropped for
					// lagging. Report whatever the store knows now.
					job, err := cfg.Service.Get(ctx, id)
					if err == nil && job.Finished() {
						s.finish(job)
					} else {
						s.close(websocket.CloseTryAgainLater, "progress stream lagged")
					}
					return
				}
				if err := s.send(ev); err != nil {
					return
				}
				if ev.Phase.Terminal() {
					s.close(websocket.CloseNormalClosure, ev.Phase.String())
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-gone:
				return
			}
		}
	}
}

type progressStream struct {
	conn  *websocket.Conn
	jobID string
}

func (s *progressStream) send(ev export.Event) error {
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(ProgressMessage{JobID: s.jobID, Event: ev})
}

// finish replays the terminal event of a job that already ended.
func (s *progressStream) finish(job *jobs.Job) {
	ev := job.TerminalEvent()
	if !job.Finished() {
		ev = export.Event{Phase: job.Phase, Percent: job.Progress, Pass: job.Pass}
	}
	if err := s.send(ev); err != nil {
		return
	}
	s.close(websocket.CloseNormalClosure, ev.Phase.String())
}

func (s *progressStream) close(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
