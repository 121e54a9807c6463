package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60

	// EventWatchers reports how many connections watch an event.
	EventWatchers = "watchers"
)

// Hub maintains event_id -> set of connections and fans vote notifications
// out to them. With Redis configured, notifications travel through pub/sub so
// every instance delivers them exactly once to its own connections.
type Hub struct {
	rooms    map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func()
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher publishes event notifications for other instances.
type RedisPublisher interface {
	PublishEvent(eventID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to one event's channel.
type RedisSubscriber interface {
	SubscribeEvent(eventID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil for a
// single-instance deployment.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:    make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to its event room. The first client of a room starts
// the Redis subscription for that event.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	room := h.rooms[c.EventID]
	first := room == nil
	if first {
		room = make(map[string]*Client)
		h.rooms[c.EventID] = room
	}
	room[c.ID] = c
	count := len(room)
	h.mu.Unlock()

	if first && h.redisSub != nil {
		h.subscribe(c.EventID)
	}
	h.Broadcast(c.EventID, EventWatchers, map[string]int{"count": count})
	h.logger.Debug("client joined event", zap.String("client_id", c.ID), zap.String("event_id", c.EventID.String()))
}

// subscribe opens the Redis subscription for a room without holding the hub
// lock. The subscription is dropped when the room emptied meanwhile or another
// registration already subscribed.
func (h *Hub) subscribe(eventID uuid.UUID) {
	cancel, err := h.redisSub.SubscribeEvent(eventID, func(event string, payload []byte) {
		h.Broadcast(eventID, event, json.RawMessage(payload))
	})
	if err != nil {
		h.logger.Warn("redis subscribe failed", zap.String("event_id", eventID.String()), zap.Error(err))
		return
	}

	h.mu.Lock()
	_, live := h.rooms[eventID]
	_, taken := h.subs[eventID]
	keep := live && !taken
	if keep {
		h.subs[eventID] = cancel
	}
	h.mu.Unlock()

	if !keep {
		cancel()
	}
}

// Unregister removes a client and closes its send channel. The last client
// of a room cancels the Redis subscription. Unregistering a client that is
// no longer in its room does nothing.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	room, ok := h.rooms[c.EventID]
	if ok {
		_, ok = room[c.ID]
	}
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(room, c.ID)
	close(c.send)
	count := len(room)
	var cancel func()
	if count == 0 {
		delete(h.rooms, c.EventID)
		cancel = h.subs[c.EventID]
		delete(h.subs, c.EventID)
	}
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if count > 0 {
		h.Broadcast(c.EventID, EventWatchers, map[string]int{"count": count})
	}
	h.logger.Debug("client left event", zap.String("client_id", c.ID), zap.String("event_id", c.EventID.String()))
}

// Broadcast sends a message to the local clients of an event.
func (h *Hub) Broadcast(eventID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			h.logger.Warn("marshal ws payload", zap.String("event", event), zap.Error(err))
			return
		}
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[eventID] {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("client buffer full, dropping message", zap.String("client_id", c.ID))
		}
	}
}

// NotifyEvent publishes a notification to every instance watching the event.
// Without Redis it broadcasts locally.
func (h *Hub) NotifyEvent(eventID uuid.UUID, event string, payload interface{}) {
	if h.redis == nil {
		h.Broadcast(eventID, event, payload)
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("marshal notification", zap.String("event", event), zap.Error(err))
		return
	}
	if err := h.redis.PublishEvent(eventID, event, data); err != nil {
		h.logger.Warn("publish notification failed, delivering locally",
			zap.String("event_id", eventID.String()), zap.String("event", event), zap.Error(err))
		h.Broadcast(eventID, event, json.RawMessage(data))
	}
}

// Watchers returns the number of local connections watching an event.
func (h *Hub) Watchers(eventID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[eventID])
}

// SendToClient sends a message to a single client of an event.
func (h *Hub) SendToClient(eventID uuid.UUID, clientID string, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.rooms[eventID][clientID]
	if !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}
