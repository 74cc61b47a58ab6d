package main

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/himanishpuri/VoxCart/pkg/voxcart"
)

const wsWriteTimeout = 5 * time.Second

// wsClient is one websocket attached to a session
type wsClient struct {
	sessionID string
	conn      *websocket.Conn
	mu        sync.Mutex
}

// Send writes a message to the client
func (c *wsClient) Send(msg WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(msg)
}

// Hub tracks websocket clients per session and pushes spoken prompts to them.
// It is the server's feedback sink.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*wsClient]struct{}
	log     voxcart.Logger

	// Stats
	promptsSent atomic.Uint64
}

func NewHub(log voxcart.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*wsClient]struct{}),
		log:     log,
	}
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.sessionID]
	if !ok {
		set = make(map[*wsClient]struct{})
		h.clients[c.sessionID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.sessionID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.sessionID)
	}
}

// ClientCount is the number of attached websockets
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// Say sends a prompt to every websocket attached to sessionID
func (h *Hub) Say(sessionID, text string) {
	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients[sessionID]))
	for c := range h.clients[sessionID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.Send(WSMessage{Type: "prompt", Text: text}); err != nil {
			h.log.Warnf("⚠️  Prompt to session %s failed: %v", sessionID, err)
			continue
		}
		h.promptsSent.Add(1)
	}
}
