package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"usvchain/core/events"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBuffer       = 256
)

// handleEventsWS streams committed events as JSON objects. The optional
// "types" query parameter is a comma separated list of event type prefixes.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.node == nil {
		http.Error(w, "node unavailable", http.StatusServiceUnavailable)
		return
	}
	if !s.limiter.Allow(RouteQueries, r) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	filters := parseTypeFilters(r.URL.Query().Get("types"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns(s.cfg.AllowedOrigins)})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, filters); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, filters []string) error {
	updates, cancel := s.node.Subscribe(wsBuffer)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if !matchesFilters(evt.EventType(), filters) {
				continue
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt events.Event) error {
	rendered := events.Render(evt)
	if rendered == nil {
		return nil
	}
	data, err := json.Marshal(rendered)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func parseTypeFilters(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func matchesFilters(eventType string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, prefix := range filters {
		if strings.HasPrefix(eventType, prefix) {
			return true
		}
	}
	return false
}

func originPatterns(allowed []string) []string {
	if len(allowed) == 0 {
		return []string{"*"}
	}
	out := make([]string, 0, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
		out = append(out, origin)
	}
	return out
}
