package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
)

// AuthFunc authenticates an incoming WebSocket upgrade and returns the
// user the connection acts for.
type AuthFunc func(r *http.Request) (userID string, err error)

// clientMessage is what clients send over the socket.
type clientMessage struct {
	Action  string `json:"action"`
	Topic   string `json:"topic,omitempty"`
	Credits int64  `json:"credits,omitempty"`
}

// serverMessage is the non-event envelope sent back to clients.
type serverMessage struct {
	Type    string `json:"type"`
	Action  string `json:"action,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Message string `json:"message,omitempty"`
}

// Hub serves broker subscriptions over WebSocket. Each connection starts
// subscribed to its user's topic and manages further subscriptions and
// flow-control credits with JSON messages.
type Hub struct {
	broker *Broker
	auth   AuthFunc
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*conn
}

type conn struct {
	id          string
	userID      string
	connectedAt time.Time

	// writeMu serializes socket writes between the read loop's replies
	// and the event forwarder.
	writeMu sync.Mutex
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithAuth sets the upgrade authenticator. The default trusts the "user"
// query parameter, which is only suitable behind an authenticating proxy.
func WithAuth(fn AuthFunc) HubOption {
	return func(h *Hub) { h.auth = fn }
}

// WithHubLogger sets the logger.
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

// NewHub creates a hub over a broker.
func NewHub(broker *Broker, opts ...HubOption) *Hub {
	h := &Hub{
		broker: broker,
		logger: slog.Default(),
		conns:  make(map[string]*conn),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.auth == nil {
		h.auth = func(r *http.Request) (string, error) {
			userID := r.URL.Query().Get("user")
			if userID == "" {
				return "", errors.New("notify: missing user")
			}
			return userID, nil
		}
	}
	return h
}

// ConnectionCount reports the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// ServeHTTP upgrades the request and runs the connection until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	sock, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &conn{
		id:          uuid.NewString(),
		userID:      userID,
		connectedAt: time.Now().UTC(),
	}
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	h.logger.Info("client connected",
		slog.String("conn_id", c.id), slog.String("user_id", userID))

	sub := h.broker.Subscribe(c.id, UserTopic(userID))
	done := make(chan struct{})
	go h.forwardEvents(sock, c, sub, done)

	h.readLoop(r.Context(), sock, c, sub)

	close(done)
	h.broker.RemoveSubscriber(c.id)
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	sock.Close() //nolint:errcheck // connection teardown
	h.logger.Info("client disconnected", slog.String("conn_id", c.id))
}

// readLoop handles client messages until the socket errors.
func (h *Hub) readLoop(ctx context.Context, sock net.Conn, c *conn, sub *Subscriber) {
	for {
		if ctx.Err() != nil {
			return
		}
		data, err := wsutil.ReadClientText(sock)
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.writeMessage(sock, c, serverMessage{Type: "error", Message: "invalid message"})
			continue
		}
		switch msg.Action {
		case "subscribe":
			if err := h.authorizeTopic(c, msg.Topic); err != nil {
				h.writeMessage(sock, c, serverMessage{Type: "error", Action: msg.Action, Topic: msg.Topic, Message: err.Error()})
				continue
			}
			h.broker.SubscribeTo(c.id, msg.Topic)
			h.writeMessage(sock, c, serverMessage{Type: "ack", Action: msg.Action, Topic: msg.Topic})
		case "unsubscribe":
			h.broker.Unsubscribe(c.id, msg.Topic)
			h.writeMessage(sock, c, serverMessage{Type: "ack", Action: msg.Action, Topic: msg.Topic})
		case "credits":
			if msg.Credits > 0 {
				sub.AddCredits(msg.Credits)
			}
		case "ping":
			h.writeMessage(sock, c, serverMessage{Type: "pong"})
		default:
			h.writeMessage(sock, c, serverMessage{Type: "error", Message: "unknown action"})
		}
	}
}

// authorizeTopic keeps users inside their own data: user topics must match
// the connection's user, and the global feeds stay internal.
func (h *Hub) authorizeTopic(c *conn, topic string) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	entityType, entityID := ParseTopicEntity(topic)
	if entityType == "user" && entityID != c.userID {
		return errors.New("notify: cannot subscribe to another user's topic")
	}
	if topic == TopicFirehose || topic == TopicTranscriptions {
		return errors.New("notify: global topics are not subscribable")
	}
	return nil
}

func (h *Hub) forwardEvents(sock net.Conn, c *conn, sub *Subscriber, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			c.writeMu.Lock()
			err = wsutil.WriteServerText(sock, data)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) writeMessage(sock net.Conn, c *conn, msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteServerText(sock, data); err != nil {
		h.logger.Debug("write message failed", slog.Any("error", err))
	}
}
