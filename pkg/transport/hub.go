package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// Hub is a WebSocket-backed Broadcaster. Audio is delivered as binary frames
// and control messages as JSON text frames. Each connection's writes are
// serialized with a per-connection mutex; a failed write marks the connection
// gone and closes it.
//
// All methods are safe for concurrent use.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*hubConn
}

type hubConn struct {
	mu   sync.Mutex
	ws   *websocket.Conn
	gone bool
}

// Ensure Hub implements Broadcaster at compile time.
var _ Broadcaster = (*Hub)(nil)

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*hubConn)}
}

// Register adds an accepted WebSocket connection under connectionID,
// replacing (and closing) any previous connection with the same ID.
func (h *Hub) Register(connectionID string, ws *websocket.Conn) {
	h.mu.Lock()
	prev := h.conns[connectionID]
	h.conns[connectionID] = &hubConn{ws: ws}
	h.mu.Unlock()

	if prev != nil {
		_ = prev.ws.Close(websocket.StatusNormalClosure, "replaced")
	}
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Send delivers an audio payload as a binary frame.
func (h *Hub) Send(ctx context.Context, connectionID string, data []byte) error {
	return h.write(ctx, connectionID, websocket.MessageBinary, data)
}

// SendControl delivers a control message as a JSON text frame.
func (h *Hub) SendControl(ctx context.Context, connectionID string, msg ControlMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: marshal control: %w", err)
	}
	return h.write(ctx, connectionID, websocket.MessageText, payload)
}

// Disconnect closes and forgets the connection.
func (h *Hub) Disconnect(connectionID string) error {
	h.mu.Lock()
	c, ok := h.conns[connectionID]
	delete(h.conns, connectionID)
	h.mu.Unlock()

	if !ok {
		return nil
	}
	return c.ws.Close(websocket.StatusNormalClosure, "disconnect")
}

// write performs a serialized write on the connection, converting failures
// into the gone signal.
func (h *Hub) write(ctx context.Context, connectionID string, typ websocket.MessageType, data []byte) error {
	h.mu.RLock()
	c, ok := h.conns[connectionID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("transport: %q: %w", connectionID, ErrConnectionGone)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gone {
		return fmt.Errorf("transport: %q: %w", connectionID, ErrConnectionGone)
	}
	if err := c.ws.Write(ctx, typ, data); err != nil {
		c.gone = true
		_ = c.ws.Close(websocket.StatusAbnormalClosure, "write failed")

		h.mu.Lock()
		delete(h.conns, connectionID)
		h.mu.Unlock()

		return fmt.Errorf("transport: %q: %w: %v", connectionID, ErrConnectionGone, err)
	}
	return nil
}
