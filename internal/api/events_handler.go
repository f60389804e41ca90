package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/clarityxdr/orchestrator/internal/events"
)

const sseKeepAliveInterval = 15 * time.Second

// handleEvents streams orchestrator lifecycle events over SSE. Clients
// resume after a disconnect by sending Last-Event-ID.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// The stream outlives the server-wide write timeout; clear the
	// deadline for this connection only, or the first write after it
	// would sever every stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	conn := sseConn{w: w, flusher: flusher}

	for _, ev := range s.hub.Replay(resumeSeq(r)) {
		if conn.send(ev) != nil {
			return
		}
	}

	ch, cancel := s.hub.Subscribe()
	defer cancel()

	keepAlive := time.NewTicker(sseKeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open || conn.send(ev) != nil {
				return
			}
		case <-keepAlive.C:
			if conn.comment() != nil {
				return
			}
		}
	}
}

// resumeSeq reads the Last-Event-ID header an EventSource client sends
// when it reconnects. Zero means start from the full ring.
func resumeSeq(r *http.Request) int64 {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		return 0
	}
	seq, err := strconv.ParseInt(v, 10, 64)
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}

// sseConn frames hub events for one EventSource client.
type sseConn struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// send writes one event. Data is single-line JSON, so one data: line
// suffices.
func (c sseConn) send(ev events.Event) error {
	if _, err := fmt.Fprintf(c.w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, ev.Data); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// comment writes a keep-alive comment line, ignored by clients.
func (c sseConn) comment() error {
	if _, err := fmt.Fprint(c.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}
