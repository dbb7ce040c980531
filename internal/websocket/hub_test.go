// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package websocket

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rhinontech/engage/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

// setupHub creates and starts a hub for testing. The hub is stopped when
// the test finishes.
func setupHub(t *testing.T, notifier PresenceNotifier) *Hub {
	t.Helper()
	hub := NewHub(notifier)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.RunWithContext(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(10 * time.Millisecond)
	return hub
}

// newTestClient creates a connectionless client for hub-level tests.
func newTestClient(hub *Hub, kind ClientKind, chatbotID, visitorID string) *Client {
	return &Client{
		id:        clientIDCounter.Add(1),
		hub:       hub,
		send:      make(chan Message, 256),
		kind:      kind,
		chatbotID: chatbotID,
		visitorID: visitorID,
	}
}

func registerClient(hub *Hub, client *Client) {
	hub.Register <- client
	time.Sleep(20 * time.Millisecond)
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}

	checks := []struct {
		name   string
		check  bool
		errMsg string
	}{
		{"clients map", hub.clients != nil, "clients map not initialized"},
		{"rooms map", hub.rooms != nil, "rooms map not initialized"},
		{"broadcast channel", hub.broadcast != nil, "broadcast channel not initialized"},
		{"Register channel", hub.Register != nil, "Register channel not initialized"},
		{"Unregister channel", hub.Unregister != nil, "Unregister channel not initialized"},
		{"empty clients", len(hub.clients) == 0, "clients map should be empty"},
	}

	for _, c := range checks {
		if !c.check {
			t.Error(c.errMsg)
		}
	}
}

func TestHubRoomMembership(t *testing.T) {
	hub := setupHub(t, nil)

	widget := newTestClient(hub, KindWidget, "acme", "v-1")
	dash := newTestClient(hub, KindDashboard, "acme", "")
	registerClient(hub, widget)
	registerClient(hub, dash)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("ClientCount = %d, want 2", got)
	}
	if got := hub.RoomCount(VisitorRoom("acme", "v-1")); got != 1 {
		t.Errorf("visitor room members = %d, want 1", got)
	}
	if got := hub.RoomCount(DashboardRoom("acme")); got != 1 {
		t.Errorf("dashboard room members = %d, want 1", got)
	}

	hub.Unregister <- widget
	time.Sleep(20 * time.Millisecond)

	if got := hub.RoomCount(VisitorRoom("acme", "v-1")); got != 0 {
		t.Errorf("visitor room members after unregister = %d, want 0", got)
	}
	if got := hub.ClientCount(); got != 1 {
		t.Errorf("ClientCount after unregister = %d, want 1", got)
	}
}

func TestHubDashboardBroadcastIsTenantScoped(t *testing.T) {
	hub := setupHub(t, nil)

	acme := newTestClient(hub, KindDashboard, "acme", "")
	globex := newTestClient(hub, KindDashboard, "globex", "")
	registerClient(hub, acme)
	registerClient(hub, globex)

	hub.BroadcastToDashboard("acme", MessageTypeVisitorUpdate, map[string]string{"visitor_id": "v-1"})
	time.Sleep(20 * time.Millisecond)

	select {
	case msg := <-acme.send:
		if msg.Type != MessageTypeVisitorUpdate {
			t.Errorf("acme received type %q, want %q", msg.Type, MessageTypeVisitorUpdate)
		}
	default:
		t.Error("acme dashboard did not receive the broadcast")
	}

	select {
	case msg := <-globex.send:
		t.Errorf("globex dashboard received cross-tenant message %q", msg.Type)
	default:
	}
}

func TestHubSendToVisitorReachesAllTabs(t *testing.T) {
	hub := setupHub(t, nil)

	tab1 := newTestClient(hub, KindWidget, "acme", "v-1")
	tab2 := newTestClient(hub, KindWidget, "acme", "v-1")
	other := newTestClient(hub, KindWidget, "acme", "v-2")
	registerClient(hub, tab1)
	registerClient(hub, tab2)
	registerClient(hub, other)

	hub.SendToVisitor("acme", "v-1", MessageTypeShowCampaign, map[string]interface{}{"campaign_id": 7})
	time.Sleep(20 * time.Millisecond)

	for i, tab := range []*Client{tab1, tab2} {
		select {
		case msg := <-tab.send:
			if msg.Type != MessageTypeShowCampaign {
				t.Errorf("tab %d received type %q, want %q", i+1, msg.Type, MessageTypeShowCampaign)
			}
		default:
			t.Errorf("tab %d did not receive show_campaign", i+1)
		}
	}

	select {
	case msg := <-other.send:
		t.Errorf("other visitor received %q", msg.Type)
	default:
	}
}

func TestHubSendToAbsentRoomIsNoOp(t *testing.T) {
	hub := setupHub(t, nil)
	hub.SendToVisitor("acme", "nobody", MessageTypeShowCampaign, nil)
	time.Sleep(20 * time.Millisecond)
}

// recordingNotifier captures presence transitions for assertions.
type recordingNotifier struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
}

func (n *recordingNotifier) VisitorConnected(_ context.Context, chatbotID, visitorID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = append(n.connected, chatbotID+"/"+visitorID)
}

func (n *recordingNotifier) VisitorDisconnected(_ context.Context, chatbotID, visitorID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnected = append(n.disconnected, chatbotID+"/"+visitorID)
}

func TestHubNotifiesPresenceOnRoomTransitions(t *testing.T) {
	notifier := &recordingNotifier{}
	hub := setupHub(t, notifier)

	tab1 := newTestClient(hub, KindWidget, "acme", "v-1")
	tab2 := newTestClient(hub, KindWidget, "acme", "v-1")
	registerClient(hub, tab1)
	registerClient(hub, tab2)

	notifier.mu.Lock()
	connected := len(notifier.connected)
	notifier.mu.Unlock()
	if connected != 1 {
		t.Fatalf("connected notifications = %d, want 1 (second tab joins existing room)", connected)
	}

	hub.Unregister <- tab1
	time.Sleep(20 * time.Millisecond)

	notifier.mu.Lock()
	disconnected := len(notifier.disconnected)
	notifier.mu.Unlock()
	if disconnected != 0 {
		t.Fatalf("disconnected notifications = %d, want 0 (one tab still open)", disconnected)
	}

	hub.Unregister <- tab2
	time.Sleep(20 * time.Millisecond)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.disconnected) != 1 || notifier.disconnected[0] != "acme/v-1" {
		t.Errorf("disconnected = %v, want [acme/v-1]", notifier.disconnected)
	}

	// Dashboard clients never trigger presence transitions.
	if len(notifier.connected) != 1 {
		t.Errorf("connected = %v, want exactly one entry", notifier.connected)
	}
}

func TestHubNotifiesPresenceWhenSlowWidgetDropped(t *testing.T) {
	notifier := &recordingNotifier{}
	hub := setupHub(t, notifier)

	// No buffer and no reader, so the first room send drops the client.
	slow := &Client{
		id:        clientIDCounter.Add(1),
		hub:       hub,
		send:      make(chan Message),
		kind:      KindWidget,
		chatbotID: "acme",
		visitorID: "v-1",
	}
	registerClient(hub, slow)

	hub.SendToVisitor("acme", "v-1", MessageTypeShowCampaign, nil)
	time.Sleep(20 * time.Millisecond)

	if got := hub.RoomCount(VisitorRoom("acme", "v-1")); got != 0 {
		t.Fatalf("room members after drop = %d, want 0", got)
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.disconnected) != 1 || notifier.disconnected[0] != "acme/v-1" {
		t.Errorf("disconnected = %v, want [acme/v-1]", notifier.disconnected)
	}
}

func TestHubDropWithHealthyTabKeepsVisitorOnline(t *testing.T) {
	notifier := &recordingNotifier{}
	hub := setupHub(t, notifier)

	slow := &Client{
		id:        clientIDCounter.Add(1),
		hub:       hub,
		send:      make(chan Message),
		kind:      KindWidget,
		chatbotID: "acme",
		visitorID: "v-1",
	}
	healthy := newTestClient(hub, KindWidget, "acme", "v-1")
	registerClient(hub, slow)
	registerClient(hub, healthy)

	hub.SendToVisitor("acme", "v-1", MessageTypeShowCampaign, nil)
	time.Sleep(20 * time.Millisecond)

	if got := hub.RoomCount(VisitorRoom("acme", "v-1")); got != 1 {
		t.Fatalf("room members after drop = %d, want 1", got)
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.disconnected) != 0 {
		t.Errorf("disconnected = %v, want none while a tab is still open", notifier.disconnected)
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- hub.RunWithContext(ctx)
	}()
	time.Sleep(10 * time.Millisecond)

	client := newTestClient(hub, KindWidget, "acme", "v-1")
	registerClient(hub, client)

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithContext returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("hub did not stop after context cancellation")
	}

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount after shutdown = %d, want 0", got)
	}

	if _, open := <-client.send; open {
		t.Error("client send channel still open after shutdown")
	}
}

func TestClientRoom(t *testing.T) {
	hub := NewHub(nil)

	widget := newTestClient(hub, KindWidget, "acme", "v-1")
	if got := widget.Room(); got != "acme:v-1" {
		t.Errorf("widget room = %q, want %q", got, "acme:v-1")
	}

	dash := newTestClient(hub, KindDashboard, "acme", "")
	if got := dash.Room(); got != "dashboard:acme" {
		t.Errorf("dashboard room = %q, want %q", got, "dashboard:acme")
	}
}

func TestClientHandleInboundOpenChat(t *testing.T) {
	hub := setupHub(t, nil)

	widget := newTestClient(hub, KindWidget, "acme", "v-1")
	dash := newTestClient(hub, KindDashboard, "acme", "")
	registerClient(hub, widget)
	registerClient(hub, dash)

	dash.handleInbound(Message{
		Type: MessageTypeOpenChat,
		Data: map[string]interface{}{"visitor_id": "v-1"},
	})
	time.Sleep(20 * time.Millisecond)

	select {
	case msg := <-widget.send:
		if msg.Type != MessageTypeOpenChat {
			t.Errorf("widget received type %q, want %q", msg.Type, MessageTypeOpenChat)
		}
	default:
		t.Error("widget did not receive open_chat")
	}
}

func TestClientHandleInboundOpenChatFromWidgetIgnored(t *testing.T) {
	hub := setupHub(t, nil)

	sender := newTestClient(hub, KindWidget, "acme", "v-1")
	target := newTestClient(hub, KindWidget, "acme", "v-2")
	registerClient(hub, sender)
	registerClient(hub, target)

	sender.handleInbound(Message{
		Type: MessageTypeOpenChat,
		Data: map[string]interface{}{"visitor_id": "v-2"},
	})
	time.Sleep(20 * time.Millisecond)

	select {
	case msg := <-target.send:
		t.Errorf("widget-originated open_chat was delivered: %q", msg.Type)
	default:
	}
}

func TestClientHandleInboundPing(t *testing.T) {
	hub := NewHub(nil)
	client := newTestClient(hub, KindWidget, "acme", "v-1")

	client.handleInbound(Message{Type: MessageTypePing})

	select {
	case msg := <-client.send:
		if msg.Type != MessageTypePong {
			t.Errorf("received %q, want %q", msg.Type, MessageTypePong)
		}
	default:
		t.Error("no pong queued after ping")
	}
}
