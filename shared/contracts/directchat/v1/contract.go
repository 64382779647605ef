// Package v1 defines the direct-chat realtime protocol v1 contract.
//
// Frames are JSON text messages with an "event" discriminator.
// This package stays dependency-light so clients (ws-smoke, tests) can share it.
package v1

import "time"

// Subprotocol is offered during the WebSocket handshake. Clients may omit it.
const Subprotocol = "crpghub.directchat.v1"

// Event names (wire-stable).
const (
	// EventAuth carries a bearer token when the handshake had no Authorization header (client -> server).
	EventAuth = "auth"
	// EventConnected confirms the connection is registered for the chat (server -> client).
	EventConnected = "connected"

	// EventMessage is a send request (client -> server) and a canonical message broadcast (server -> client).
	EventMessage = "message"
	// EventTyping signals composing (client -> server) and carries presence updates (server -> client).
	EventTyping = "typing"
	// EventStopTyping clears composing state (client -> server only; broadcasts use EventTyping).
	EventStopTyping = "stop_typing"
	// EventRead marks the chat read (client -> server) and announces a read receipt (server -> client).
	EventRead = "read"

	// EventMessageEdited announces an edit made through the REST surface (server -> client).
	EventMessageEdited = "message_edited"
	// EventMessageDeleted announces a delete made through the REST surface (server -> client).
	EventMessageDeleted = "message_deleted"

	// EventError reports a failed event back to the origin connection only (server -> client).
	EventError = "error"
)

// Close codes used when a connection is rejected after the upgrade.
// They mirror the HTTP statuses returned when rejection happens before the upgrade.
const (
	CloseUnauthorized = 4401
	CloseForbidden    = 4403
	CloseNotFound     = 4404
)

// FormatTimestamp renders server timestamps in ISO-8601 (RFC 3339, UTC).
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp is the inverse of FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
