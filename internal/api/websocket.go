// Package api provides the WebSocket hub for real-time push updates.
package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType identifies the kind of payload carried by a WSMessage.
type MessageType string

const (
	MsgTypePositionRealtimeUpdate MessageType = "POSITION_REALTIME_UPDATE"
	MsgTypePriceUpdate            MessageType = "PRICE_UPDATE"
	MsgTypeOrderUpdate            MessageType = "ORDER_UPDATE"
	MsgTypeHealthUpdate           MessageType = "HEALTH_UPDATE"
	MsgTypeHeartbeat              MessageType = "heartbeat"

	MsgTypeSubscribe   MessageType = "subscribe"
	MsgTypeUnsubscribe MessageType = "unsubscribe"
)

// WSMessage is the envelope for every hub-pushed or client-sent message.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Client is one connected WebSocket subscriber.
type Client struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub fans out position, price, and order events to every subscribed
// client. Price ticks in particular arrive far faster than any UI can
// render, so the hub coalesces to the most recent tick per symbol between
// broadcast cycles rather than queueing every one (§4.11).
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	channels   map[string]map[*Client]bool

	priceMu    sync.Mutex
	pendingTicks map[string]json.RawMessage

	mu sync.RWMutex
}

// NewHub creates a WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:       logger.Named("ws-hub"),
		clients:      make(map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		channels:     make(map[string]map[*Client]bool),
		pendingTicks: make(map[string]json.RawMessage),
	}
}

// Run drives client (un)registration, the heartbeat, and the coalesced
// price-tick flush loop. Intended to run in its own goroutine for the
// lifetime of the process.
func (h *Hub) Run() {
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()
	flush := time.NewTicker(250 * time.Millisecond)
	defer flush.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("id", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				for channel := range client.subscriptions {
					if clients, ok := h.channels[channel]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.channels, channel)
						}
					}
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", zap.String("id", client.id))

		case <-heartbeat.C:
			h.Broadcast(MsgTypeHeartbeat, map[string]string{"status": "ok"})

		case <-flush.C:
			h.flushPendingTicks()
		}
	}
}

// Register enqueues client for registration, the same path the HTTP upgrade
// handler uses.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Send exposes the client's outbound channel for callers that push frames
// directly rather than through a live WritePump (e.g. tests).
func (c *Client) Send() <-chan []byte {
	return c.send
}

// Subscribe adds client to channel's fan-out set.
func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true

	client.mu.Lock()
	client.subscriptions[channel] = true
	client.mu.Unlock()
}

// Unsubscribe removes client from channel's fan-out set.
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}

	client.mu.Lock()
	delete(client.subscriptions, channel)
	client.mu.Unlock()
}

func (h *Hub) publishToChannel(channel string, msgType MessageType, dataBytes json.RawMessage) {
	msg := WSMessage{Type: msgType, Channel: channel, Data: dataBytes, Timestamp: time.Now().UnixMilli()}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal hub message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.channels[channel]; ok {
		for client := range clients {
			select {
			case client.send <- msgBytes:
			default:
			}
		}
	}
}

// Broadcast sends msgType/data to every connected client regardless of
// channel subscription (used for heartbeat and health updates).
func (h *Hub) Broadcast(msgType MessageType, data any) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal broadcast data", zap.Error(err))
		return
	}
	msg := WSMessage{Type: msgType, Data: dataBytes, Timestamp: time.Now().UnixMilli()}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- msgBytes:
		default:
		}
	}
}

// PositionUpdate pushes a position change to the "positions" channel and
// its per-symbol sub-channel, immediately (positions change far less often
// than price ticks, so no coalescing is needed).
func (h *Hub) PositionUpdate(symbol string, data any) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal position update", zap.Error(err))
		return
	}
	h.publishToChannel("positions", MsgTypePositionRealtimeUpdate, dataBytes)
	h.publishToChannel("positions:"+symbol, MsgTypePositionRealtimeUpdate, dataBytes)
}

// OrderUpdate pushes an order lifecycle change to the "orders" channel.
func (h *Hub) OrderUpdate(data any) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal order update", zap.Error(err))
		return
	}
	h.publishToChannel("orders", MsgTypeOrderUpdate, dataBytes)
}

// PriceTick records the most recent tick for symbol; it is pushed on the
// next flush cycle rather than immediately, coalescing a high-frequency
// feed down to what a UI can actually render.
func (h *Hub) PriceTick(symbol string, data any) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal price tick", zap.Error(err))
		return
	}
	h.priceMu.Lock()
	h.pendingTicks[symbol] = dataBytes
	h.priceMu.Unlock()
}

func (h *Hub) flushPendingTicks() {
	h.priceMu.Lock()
	if len(h.pendingTicks) == 0 {
		h.priceMu.Unlock()
		return
	}
	ticks := h.pendingTicks
	h.pendingTicks = make(map[string]json.RawMessage)
	h.priceMu.Unlock()

	for symbol, dataBytes := range ticks {
		h.publishToChannel("prices", MsgTypePriceUpdate, dataBytes)
		h.publishToChannel("prices:"+symbol, MsgTypePriceUpdate, dataBytes)
	}
}

// ClientCount reports the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewClient wraps a just-upgraded connection as a hub client.
func NewClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:            id,
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}
}

// ReadPump pumps inbound subscribe/unsubscribe requests from the connection
// into the hub. Must run in its own goroutine; returns when the connection
// closes or errors.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket read error", zap.Error(err))
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Warn("invalid websocket message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case MsgTypeSubscribe:
			c.hub.Subscribe(c, msg.Channel)
		case MsgTypeUnsubscribe:
			c.hub.Unsubscribe(c, msg.Channel)
		}
	}
}

// WritePump pumps outbound messages from the hub to the connection, batching
// whatever has queued up since the last write and pinging on idle.
func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
