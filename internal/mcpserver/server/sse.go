package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edgebridge-io/edgebridge/internal/certdeploy"
	"github.com/edgebridge-io/edgebridge/internal/purge"
)

// SSEStream writes server-sent events to one client. Writes are
// serialized; event ids increase monotonically per stream.
type SSEStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	eventID int
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewSSEStream prepares the response for event streaming. It fails when
// the ResponseWriter cannot flush.
func NewSSEStream(ctx context.Context, w http.ResponseWriter) (*SSEStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Flush the headers so the client sees the stream before the first
	// event arrives.
	flusher.Flush()

	streamCtx, cancel := context.WithCancel(ctx)

	return &SSEStream{
		w:       w,
		flusher: flusher,
		ctx:     streamCtx,
		cancel:  cancel,
	}, nil
}

// SendMessage writes one message as an SSE event and flushes it.
func (s *SSEStream) SendMessage(msg interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.ctx.Done():
		return fmt.Errorf("stream closed")
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	s.eventID++
	fmt.Fprintf(s.w, "event: message\n")
	fmt.Fprintf(s.w, "id: %d\n", s.eventID)
	fmt.Fprintf(s.w, "data: %s\n\n", data)
	s.flusher.Flush()

	return nil
}

// Close ends the stream.
func (s *SSEStream) Close() {
	s.cancel()
}

// Done returns a channel closed when the stream ends.
func (s *SSEStream) Done() <-chan struct{} {
	return s.ctx.Done()
}

// handleEvents handles GET /mcp/events. It bridges certificate
// deployment and purge progress events onto an SSE stream, filtered to
// the tenants the session can see. Each event rides as a JSON-RPC
// notification so clients reuse their message decoder.
func (s *MCPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.validateOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	if v := r.Header.Get("Mcp-Protocol-Version"); v != "" && !isSupportedProtocolVersion(v) {
		http.Error(w, "unsupported protocol version", http.StatusBadRequest)
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "missing Mcp-Session-Id header", http.StatusBadRequest)
		return
	}

	sess, err := s.services.Tenants.Session(sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	stream, err := NewSSEStream(r.Context(), w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer stream.Close()

	// Purge progress callbacks run on the tracker's goroutine, so hand
	// them off without blocking; a full buffer drops the update and the
	// next one supersedes it.
	var purgeCh chan purge.Progress
	if s.services.Purge != nil {
		purgeCh = make(chan purge.Progress, 64)
		unsubscribe := s.services.Purge.Subscribe(func(p purge.Progress) {
			if !sess.Has(p.Tenant) {
				return
			}
			select {
			case purgeCh <- p:
			default:
			}
		})
		defer unsubscribe()
	}

	var deployCh <-chan certdeploy.Event
	if s.services.Deploy != nil {
		sub := s.services.Deploy.Bus().Subscribe(64, func(ev certdeploy.Event) bool {
			return sess.Has(ev.Tenant)
		})
		defer sub.Close()
		deployCh = sub.C
	}

	log.Info().
		Str("sessionId", sess.ID).
		Str("subject", sess.Subject).
		Msg("event stream established")

	for {
		select {
		case <-stream.Done():
			log.Info().Str("sessionId", sess.ID).Msg("event stream closed")
			return
		case p := <-purgeCh:
			if err := stream.SendMessage(notification("notifications/purge.progress", p)); err != nil {
				return
			}
		case ev := <-deployCh:
			if err := stream.SendMessage(notification("notifications/cert.deployment", ev)); err != nil {
				return
			}
		}
	}
}
