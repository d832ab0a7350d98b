// Package live fans status-change events out to connected viewers.
package live

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hamed0406/opsmonitor/internal/domain"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	// Must be less than pongWait.
	pingPeriod  = (pongWait * 9) / 10
	sendBufSize = 16
)

var (
	errClientClosed = errors.New("live: client closed")
	errSlowClient   = errors.New("live: send buffer full")
)

// Subscriber receives encoded events. A non-nil error from Send evicts it.
type Subscriber interface {
	Send(msg []byte) error
}

// Subscription identifies one registration.
type Subscription struct {
	id uint64
}

// CountObserver is told the subscriber count after every change.
type CountObserver interface {
	SetSubscribers(n int)
}

type closer interface {
	Close()
}

// Hub is the registry of live subscribers. Safe for concurrent use.
type Hub struct {
	log      *zap.Logger
	observer CountObserver
	upgrader websocket.Upgrader

	nextID atomic.Uint64

	mu     sync.RWMutex
	subs   map[*Subscription]Subscriber
	closed bool
}

// New returns an empty hub. observer may be nil.
func New(log *zap.Logger, observer CountObserver) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:      log,
		observer: observer,
		subs:     make(map[*Subscription]Subscriber),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origin policy is enforced by the router's CORS layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Subscribe registers s. After Close, s is closed and not registered.
func (h *Hub) Subscribe(s Subscriber) *Subscription {
	sub := &Subscription{id: h.nextID.Add(1)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		closeSubscriber(s)
		return sub
	}
	h.subs[sub] = s
	n := len(h.subs)
	h.mu.Unlock()

	h.log.Debug("subscriber_added", zap.Int("subscribers", n))
	h.observe(n)
	return sub
}

// Unsubscribe removes sub. Unknown or already removed subscriptions are a no-op.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.remove(sub, nil)
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast delivers ev to every subscriber registered when the call starts.
// Subscribers whose delivery fails are evicted; the rest still receive it.
func (h *Hub) Broadcast(ev domain.TransitionEvent) {
	msg, err := json.Marshal(ev.Wire())
	if err != nil {
		h.log.Error("broadcast_encode_failed", zap.Error(err))
		return
	}
	h.Publish(msg)
}

// Publish delivers an already encoded message.
func (h *Hub) Publish(msg []byte) {
	h.mu.RLock()
	type entry struct {
		sub *Subscription
		s   Subscriber
	}
	targets := make([]entry, 0, len(h.subs))
	for sub, s := range h.subs {
		targets = append(targets, entry{sub, s})
	}
	h.mu.RUnlock()

	for _, t := range targets {
		if err := deliver(t.s, msg); err != nil {
			h.remove(t.sub, err)
		}
	}
}

// Close closes and drops every subscriber. Later subscriptions are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*Subscription]Subscriber)
	h.closed = true
	h.mu.Unlock()

	for _, s := range subs {
		closeSubscriber(s)
	}
	h.log.Info("live_hub_closed", zap.Int("subscribers", len(subs)))
	h.observe(0)
}

// ServeHTTP upgrades the request to a WebSocket and streams events to it
// until either side goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, sendBufSize)}
	sub := h.Subscribe(c)
	defer h.Unsubscribe(sub)

	go c.writePump()
	c.readPump()
}

func (h *Hub) remove(sub *Subscription, cause error) {
	h.mu.Lock()
	s, ok := h.subs[sub]
	if ok {
		delete(h.subs, sub)
	}
	n := len(h.subs)
	h.mu.Unlock()
	if !ok {
		return
	}

	closeSubscriber(s)
	if cause != nil {
		h.log.Debug("subscriber_evicted", zap.Error(cause), zap.Int("subscribers", n))
	} else {
		h.log.Debug("subscriber_removed", zap.Int("subscribers", n))
	}
	h.observe(n)
}

func (h *Hub) observe(n int) {
	if h.observer != nil {
		h.observer.SetSubscribers(n)
	}
}

func deliver(s Subscriber, msg []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("live: subscriber panic: %v", r)
		}
	}()
	return s.Send(msg)
}

func closeSubscriber(s Subscriber) {
	if c, ok := s.(closer); ok {
		c.Close()
	}
}

// wsClient is one WebSocket viewer.
type wsClient struct {
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// Send never blocks: a full buffer means the viewer is too slow.
func (c *wsClient) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return errSlowClient
	}
}

func (c *wsClient) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only handles control frames. Blocks until the connection closes.
func (c *wsClient) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
