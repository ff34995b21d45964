package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"guidance-backend/internal/middleware"
	"guidance-backend/internal/models"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SnapshotFunc returns the current view of a session, or false if the
// session does not exist.
type SnapshotFunc func(sessionID uuid.UUID) (models.SessionSnapshot, bool)

// client queues events until its snapshot frame is out, so the page never
// applies an event older than the snapshot it renders from.
type client struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	live    bool
	pending [][]byte
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live {
		c.pending = append(c.pending, data)
		return nil
	}
	return c.send(data)
}

// start writes the snapshot, then every event queued since registration.
func (c *client) start(snapshot []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.send(snapshot); err != nil {
		return err
	}
	for _, data := range c.pending {
		if err := c.send(data); err != nil {
			return err
		}
	}
	c.pending = nil
	c.live = true
	return nil
}

func (c *client) send(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

type subscription struct {
	cancel context.CancelFunc
	ready  chan struct{}
}

// Hub delivers session events to connected pages. With a Redis client,
// events travel through pub/sub so every replica can deliver them;
// otherwise they are delivered in-process.
type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID][]*client
	redisClient *redis.Client
	tokens      *middleware.SessionTokens
	snapshot    SnapshotFunc
	logger      *zap.Logger
	subs        map[uuid.UUID]*subscription
}

func NewHub(redisClient *redis.Client, tokens *middleware.SessionTokens, snapshot SnapshotFunc, logger *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID][]*client),
		redisClient: redisClient,
		tokens:      tokens,
		snapshot:    snapshot,
		logger:      logger,
		subs:        make(map[uuid.UUID]*subscription),
	}
}

func channelFor(sessionID uuid.UUID) string {
	return "session_updates:" + sessionID.String()
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Authenticate via token query param
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID, err := h.tokens.Parse(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if _, ok := h.snapshot(sessionID); !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	// Register and wait for the subscription before taking the snapshot, so
	// every event after it reaches this client.
	c := &client{conn: conn}
	ready := h.registerConnection(sessionID, c)
	select {
	case <-ready:
	case <-time.After(writeWait):
		h.logger.Warn("Pub/sub subscription not confirmed", zap.String("session_id", sessionID.String()))
	}

	snap, ok := h.snapshot(sessionID)
	if !ok {
		h.unregisterConnection(sessionID, c)
		return
	}

	// The page renders from this first frame, then applies events.
	data, err := json.Marshal(models.WSMessage{Type: "snapshot", Payload: snap})
	if err != nil || c.start(data) != nil {
		h.unregisterConnection(sessionID, c)
		return
	}

	// Keep connection alive and handle disconnect
	go func() {
		defer h.unregisterConnection(sessionID, c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Publish implements chat.Publisher.
func (h *Hub) Publish(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode session event", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	if h.redisClient == nil {
		h.broadcast(sessionID, data)
		return
	}

	if err := h.redisClient.Publish(ctx, channelFor(sessionID), string(data)).Err(); err != nil {
		h.logger.Warn("Redis publish failed, delivering locally",
			zap.String("session_id", sessionID.String()), zap.Error(err))
		h.broadcast(sessionID, data)
	}
}

func (h *Hub) ConnectionCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[sessionID])
}

// registerConnection returns a channel that is closed once events for the
// session are being received.
func (h *Hub) registerConnection(sessionID uuid.UUID, c *client) <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[sessionID] = append(h.connections[sessionID], c)

	h.logger.Info("WebSocket connected",
		zap.String("session_id", sessionID.String()),
		zap.Int("total", len(h.connections[sessionID])))

	if h.redisClient == nil {
		ready := make(chan struct{})
		close(ready)
		return ready
	}

	// Start pub/sub subscription if this is the first connection for this session
	sub, ok := h.subs[sessionID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		sub = &subscription{cancel: cancel, ready: make(chan struct{})}
		h.subs[sessionID] = sub
		go h.subscribeToPubSub(ctx, sessionID, sub.ready)
	}
	return sub.ready
}

func (h *Hub) unregisterConnection(sessionID uuid.UUID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.conn.Close()

	conns := h.connections[sessionID]
	for i, existing := range conns {
		if existing == c {
			h.connections[sessionID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	// If no more connections, cancel pub/sub
	if len(h.connections[sessionID]) == 0 {
		delete(h.connections, sessionID)
		if sub, ok := h.subs[sessionID]; ok {
			sub.cancel()
			delete(h.subs, sessionID)
		}
	}

	h.logger.Info("WebSocket disconnected", zap.String("session_id", sessionID.String()))
}

func (h *Hub) subscribeToPubSub(ctx context.Context, sessionID uuid.UUID, ready chan struct{}) {
	pubsub := h.redisClient.Subscribe(ctx, channelFor(sessionID))
	defer pubsub.Close()

	// Receive blocks until Redis confirms the subscription.
	_, err := pubsub.Receive(ctx)
	close(ready)
	if err != nil {
		h.logger.Warn("Redis subscribe failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(sessionID, []byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(sessionID uuid.UUID, data []byte) {
	h.mu.RLock()
	conns := append([]*client(nil), h.connections[sessionID]...)
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.write(data); err != nil {
			h.logger.Debug("WebSocket write failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		}
	}
}
