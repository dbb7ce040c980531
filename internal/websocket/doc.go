// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

/*
Package websocket provides real-time bidirectional communication between
visitor widgets, agent dashboards, and the targeting pipeline.

It uses the gorilla/websocket library with a hub-client architecture.
Clients are grouped into per-tenant rooms:

  - dashboard:{chatbotID} holds every agent console for a tenant
  - {chatbotID}:{visitorID} holds all widget tabs of one visitor

Each client has two goroutines:
  - readPump: reads from the socket, handles pings and dashboard commands
  - writePump: writes room messages, sends protocol pings

Message Types:

  - visitor_update: live visitor state pushed to the dashboard room
  - show_campaign: a selected campaign pushed to one visitor room
  - campaign_fired: dashboard notification that a campaign was shown
  - open_chat: dashboard command forwarded to one visitor room
  - ping/pong: application-level keepalive

The Relay bridges a message bus to the local hub so that room traffic
published by other instances reaches dashboards connected here.

The hub is supervised: RunWithContext returns when the context is
canceled, after closing every client, so a supervisor can restart it
cleanly.
*/
package websocket
