package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/steptrack/steptrack/internal/domain"
)

// Message types
const (
	MessageTypeLeaderboardUpdate = "leaderboard_update"
	MessageTypeSubscribe         = "subscribe"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	SongHash  string      `json:"song_hash,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// LeaderboardUpdate contains the refreshed leaderboard for a song
type LeaderboardUpdate struct {
	SongHash string                    `json:"song_hash"`
	Entries  []domain.LeaderboardEntry `json:"entries"`
}

// Hub maintains the set of active clients and routes leaderboard updates
// to clients subscribed to the affected song.
type Hub struct {
	// Registered clients by song hash
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Outbound leaderboard updates
	broadcast chan *Message

	// Subscription requests
	subscribe chan *subscriptionRequest

	// Unsubscription requests
	unsubscribe chan *subscriptionRequest

	mu sync.RWMutex

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client   *Client
	songHash string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest),
		unsubscribe: make(chan *subscriptionRequest),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run processes hub events until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", "client_id", client.id)

		case client := <-h.unregister:
			h.removeClient(client)

		case req := <-h.subscribe:
			h.mu.Lock()
			if h.clients[req.songHash] == nil {
				h.clients[req.songHash] = make(map[*Client]bool)
			}
			h.clients[req.songHash][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed",
				"client_id", req.client.id, "song_hash", req.songHash)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if subs := h.clients[req.songHash]; subs != nil {
				delete(subs, req.client)
				if len(subs) == 0 {
					delete(h.clients, req.songHash)
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Stop shuts the hub down and disconnects all clients.
func (h *Hub) Stop() {
	h.cancel()
}

// BroadcastLeaderboard pushes a song's refreshed leaderboard to its
// subscribers. Implements the service's Broadcaster.
func (h *Hub) BroadcastLeaderboard(songHash string, entries []domain.LeaderboardEntry) {
	msg := &Message{
		Type:     MessageTypeLeaderboardUpdate,
		SongHash: songHash,
		Data: LeaderboardUpdate{
			SongHash: songHash,
			Entries:  entries,
		},
		Timestamp: time.Now().UTC(),
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast queue full, dropping update", "song_hash", songHash)
	}
}

// GetTotalConnections returns the number of connected clients.
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}

func (h *Hub) deliver(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	subscribers := h.clients[msg.SongHash]
	targets := make([]*Client, 0, len(subscribers))
	for client := range subscribers {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		select {
		case client.send <- data:
		default:
			// Slow consumer, drop it.
			h.removeClient(client)
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.allClients[client]; ok {
		delete(h.allClients, client)
		for songHash, subs := range h.clients {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.clients, songHash)
			}
		}
		close(client.send)
	}
	h.mu.Unlock()
	h.logger.Debug("websocket client disconnected", "client_id", client.id)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.allClients {
		close(client.send)
	}
	h.allClients = make(map[*Client]bool)
	h.clients = make(map[string]map[*Client]bool)
}
