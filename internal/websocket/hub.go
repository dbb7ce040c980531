// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/rhinontech/engage/internal/logging"
	"github.com/rhinontech/engage/internal/metrics"
)

// ShutdownReason identifies why the hub is shutting down.
// This enables clear observability in logs and metrics.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled indicates the parent context was canceled.
	// This is the normal graceful shutdown path (e.g., SIGTERM).
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline indicates the context deadline was exceeded.
	// This may indicate a hung operation during shutdown.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types for WebSocket communication
const (
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
	MessageTypeVisitorUpdate = "visitor_update"
	MessageTypeShowCampaign  = "show_campaign"
	MessageTypeCampaignFired = "campaign_fired"
	MessageTypeOpenChat      = "open_chat"
)

// ClientKind distinguishes the two connection roles a tenant has.
type ClientKind string

const (
	// KindWidget is an end-user chat widget embedded on the tenant's site.
	KindWidget ClientKind = "widget"

	// KindDashboard is an agent console watching live visitors for one tenant.
	KindDashboard ClientKind = "dashboard"
)

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// roomMessage targets a single room rather than the whole hub.
type roomMessage struct {
	room string
	msg  Message
}

// DashboardRoom is the room every agent console for a tenant joins.
func DashboardRoom(chatbotID string) string {
	return "dashboard:" + chatbotID
}

// VisitorRoom is the room a single widget connection joins. A visitor with
// multiple open tabs shares one room.
func VisitorRoom(chatbotID, visitorID string) string {
	return chatbotID + ":" + visitorID
}

// PresenceNotifier receives widget connect/disconnect transitions.
// The hub invokes it from its run loop, so implementations must be fast.
type PresenceNotifier interface {
	VisitorConnected(ctx context.Context, chatbotID, visitorID string)
	VisitorDisconnected(ctx context.Context, chatbotID, visitorID string)
}

// Hub maintains the set of active clients, grouped into per-tenant rooms,
// and routes messages to them.
type Hub struct {
	clients    map[*Client]bool
	rooms      map[string]map[*Client]bool
	broadcast  chan roomMessage
	Register   chan *Client
	Unregister chan *Client
	notifier   PresenceNotifier
	mu         sync.RWMutex
}

// NewHub creates a new Hub. The notifier may be nil.
func NewHub(notifier PresenceNotifier) *Hub {
	return &Hub{
		broadcast:  make(chan roomMessage, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		notifier:   notifier,
	}
}

// SetNotifier installs the presence notifier. The pipeline and the hub
// reference each other, so one of them is wired after construction.
// Must be called before RunWithContext.
func (h *Hub) SetNotifier(notifier PresenceNotifier) {
	h.notifier = notifier
}

// RunWithContext starts the hub with context support for graceful shutdown.
// This method is designed for use with suture supervision.
//
// When the context is canceled:
//  1. All connected clients are gracefully closed
//  2. The method returns ctx.Err()
//
// This allows the hub to be restarted by a supervisor without leaving
// orphaned connections.
//
// DETERMINISM: Uses priority-based selection to ensure predictable behavior:
// - Priority 1: Context cancellation (shutdown)
// - Priority 2: Client lifecycle events (Register/Unregister)
// - Priority 3: Room messages
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// DETERMINISM: Priority-based selection prevents non-deterministic
		// ordering when multiple channels are ready simultaneously.

		// Priority 1: Check for shutdown (highest priority, non-blocking)
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: Handle client lifecycle events (non-blocking check)
		select {
		case client := <-h.Register:
			h.handleRegister(ctx, client)
			continue
		case client := <-h.Unregister:
			h.handleUnregister(ctx, client)
			continue
		default:
			// No lifecycle events pending
		}

		// Priority 3: Handle room messages or wait for any event (blocking)
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.handleRegister(ctx, client)

		case client := <-h.Unregister:
			h.handleUnregister(ctx, client)

		case rm := <-h.broadcast:
			h.sendToRoom(ctx, rm.room, rm.msg)
		}
	}
}

func (h *Hub) handleRegister(ctx context.Context, client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	room := client.Room()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[room] = members
	}
	members[client] = true
	total := len(h.clients)
	firstInRoom := len(members) == 1
	h.mu.Unlock()

	metrics.ChannelsConnected.WithLabelValues(string(client.kind)).Inc()
	logging.Info().
		Str("kind", string(client.kind)).
		Str("chatbot_id", client.chatbotID).
		Str("room", room).
		Int("total_clients", total).
		Msg("websocket client connected")

	if client.kind == KindWidget && firstInRoom && h.notifier != nil {
		h.notifier.VisitorConnected(ctx, client.chatbotID, client.visitorID)
	}
}

func (h *Hub) handleUnregister(ctx context.Context, client *Client) {
	h.mu.Lock()
	lastInRoom := false
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		room := client.Room()
		if members, ok := h.rooms[room]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, room)
				lastInRoom = true
			}
		}
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ChannelsConnected.WithLabelValues(string(client.kind)).Dec()
	logging.Info().
		Str("kind", string(client.kind)).
		Str("chatbot_id", client.chatbotID).
		Int("total_clients", total).
		Msg("websocket client disconnected")

	if client.kind == KindWidget && lastInRoom && h.notifier != nil {
		h.notifier.VisitorDisconnected(ctx, client.chatbotID, client.visitorID)
	}
}

// logGracefulShutdown closes all connected clients and logs structured
// shutdown information.
//
// Note: ctx.Err() is NOT logged as an error because context cancellation
// is expected behavior during graceful shutdown. Logging it as .Err() would
// confuse operators monitoring error logs.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.ClientCount()
	h.closeAllClients()
	reason := getShutdownReason(ctx)

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(reason)).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

// getShutdownReason determines the shutdown reason from the context error.
func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.Canceled:
		return ShutdownReasonContextCanceled
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// sendToRoom delivers a message to every member of a room in a deterministic
// order. Clients with a full send buffer are dropped; when that empties a
// widget room the presence notifier fires, the same transition
// handleUnregister reports, so a slow widget never lingers as online.
// DETERMINISM: Sorts clients by their monotonic ID so delivery order is
// reproducible in tests.
func (h *Hub) sendToRoom(ctx context.Context, room string, message Message) {
	h.mu.Lock()

	members, ok := h.rooms[room]
	if !ok {
		h.mu.Unlock()
		return
	}

	clients := make([]*Client, 0, len(members))
	for client := range members {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	// Track clients to remove (can't modify map during iteration)
	var toRemove []*Client

	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			// Channel full or closed, mark for removal
			metrics.ChannelSendsDropped.Inc()
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		delete(members, client)
		metrics.ChannelsConnected.WithLabelValues(string(client.kind)).Dec()
	}
	lastInRoom := false
	if len(members) == 0 {
		delete(h.rooms, room)
		lastInRoom = true
	}
	h.mu.Unlock()

	if !lastInRoom || len(toRemove) == 0 || h.notifier == nil {
		return
	}
	// A visitor room only ever holds one visitor's widget connections.
	dropped := toRemove[len(toRemove)-1]
	if dropped.kind == KindWidget {
		h.notifier.VisitorDisconnected(ctx, dropped.chatbotID, dropped.visitorID)
	}
}

// closeAllClients gracefully closes all connected WebSocket clients.
// Called during shutdown to ensure clean termination.
// DETERMINISM: Closes clients in ID order to ensure consistent shutdown behavior.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
		metrics.ChannelsConnected.WithLabelValues(string(client.kind)).Dec()
	}
	h.rooms = make(map[string]map[*Client]bool)
	logging.Info().Msg("closed all websocket clients during shutdown")
}

// BroadcastToDashboard sends a message to every agent console of one tenant.
func (h *Hub) BroadcastToDashboard(chatbotID, messageType string, data interface{}) {
	h.enqueue(DashboardRoom(chatbotID), Message{Type: messageType, Data: data})
}

// SendToVisitor sends a message to a single visitor's widget connections.
func (h *Hub) SendToVisitor(chatbotID, visitorID, messageType string, data interface{}) {
	h.enqueue(VisitorRoom(chatbotID, visitorID), Message{Type: messageType, Data: data})
}

func (h *Hub) enqueue(room string, message Message) {
	select {
	case h.broadcast <- roomMessage{room: room, msg: message}:
	default:
		metrics.ChannelSendsDropped.Inc()
		logging.Warn().
			Str("room", room).
			Str("message_type", message.Type).
			Msg("broadcast channel full, dropping message")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomCount returns the number of members in a room.
func (h *Hub) RoomCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
