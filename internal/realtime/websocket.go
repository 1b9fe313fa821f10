// ABOUTME: WebSocket transport for realtime subscriptions
// ABOUTME: One connection may hold many subscriptions, all released on disconnect

package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ClientFrame is a control message sent by a websocket client.
type ClientFrame struct {
	Action         string `json:"action"` // "subscribe" | "unsubscribe"
	Topic          string `json:"topic,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

// ServerFrame is a control reply or an event envelope sent to the client.
type ServerFrame struct {
	Type           string `json:"type"` // "subscribed" | "unsubscribed" | "event" | "error"
	SubscriptionID string `json:"subscription_id,omitempty"`
	Topic          string `json:"topic,omitempty"`
	OK             *bool  `json:"ok,omitempty"`
	Error          string `json:"error,omitempty"`
	Event          *Event `json:"event,omitempty"`
}

// AuthorizeFunc decides whether the request may subscribe to topic.
type AuthorizeFunc func(r *http.Request, topic Topic) bool

// WebSocketHandler upgrades requests and bridges them to a Registry.
type WebSocketHandler struct {
	reg       *Registry
	authorize AuthorizeFunc
	accept    *websocket.AcceptOptions
	logger    *slog.Logger
}

// NewWebSocketHandler creates the handler. A nil authorize allows all topics.
func NewWebSocketHandler(reg *Registry, authorize AuthorizeFunc, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		reg:       reg,
		authorize: authorize,
		accept:    &websocket.AcceptOptions{},
		logger:    logger.With("component", "realtime_ws"),
	}
}

// wsConn serializes writes to one websocket connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) write(ctx context.Context, frame ServerFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, frame)
}

// wsSubscriber forwards one subscription's events to the shared connection.
type wsSubscriber struct {
	conn  *wsConn
	subID string
}

func (s *wsSubscriber) Deliver(ctx context.Context, ev Event) error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	return wsjson.Write(ctx, s.conn.conn, ServerFrame{
		Type:           "event",
		SubscriptionID: s.subID,
		Topic:          ev.Topic,
		Event:          &ev,
	})
}

// ServeHTTP implements http.Handler. An optional ?topic= query parameter
// subscribes immediately after the upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &wsConn{conn: conn}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		select {
		case <-h.reg.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
		case <-ctx.Done():
		}
	}()

	owned := make(map[string]bool)
	defer func() {
		for id := range owned {
			h.reg.Unsubscribe(id)
		}
		conn.CloseNow()
		h.logger.Debug("websocket client disconnected", "subscriptions", len(owned))
	}()

	if topic := r.URL.Query().Get("topic"); topic != "" {
		if !h.subscribe(ctx, r, c, owned, topic) {
			conn.Close(websocket.StatusPolicyViolation, "subscription refused")
			return
		}
	}

	for {
		var frame ClientFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				h.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		switch frame.Action {
		case "subscribe":
			h.subscribe(ctx, r, c, owned, frame.Topic)
		case "unsubscribe":
			ok := owned[frame.SubscriptionID] && h.reg.Unsubscribe(frame.SubscriptionID)
			delete(owned, frame.SubscriptionID)
			_ = c.write(ctx, ServerFrame{Type: "unsubscribed", SubscriptionID: frame.SubscriptionID, OK: &ok})
		default:
			_ = c.write(ctx, ServerFrame{Type: "error", Error: "unknown action: " + frame.Action})
		}
	}
}

func (h *WebSocketHandler) subscribe(ctx context.Context, r *http.Request, c *wsConn, owned map[string]bool, raw string) bool {
	t, err := ParseTopic(raw)
	if err != nil {
		_ = c.write(ctx, ServerFrame{Type: "error", Topic: raw, Error: err.Error()})
		return false
	}
	if h.authorize != nil && !h.authorize(r, t) {
		_ = c.write(ctx, ServerFrame{Type: "error", Topic: raw, Error: "forbidden"})
		return false
	}

	// Holding the write lock keeps the first event behind the "subscribed" reply.
	sub := &wsSubscriber{conn: c}
	c.mu.Lock()
	id, err := h.reg.Subscribe(t.String(), sub)
	if err != nil {
		c.mu.Unlock()
		_ = c.write(ctx, ServerFrame{Type: "error", Topic: raw, Error: err.Error()})
		return false
	}
	sub.subID = id
	_ = wsjson.Write(ctx, c.conn, ServerFrame{Type: "subscribed", SubscriptionID: id, Topic: t.String()})
	c.mu.Unlock()

	owned[id] = true
	return true
}
