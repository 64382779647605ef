package realtime

import (
	"sync"
	"time"
)

// presenceEntry is one participant's "currently typing" state in a conversation.
type presenceEntry struct {
	UserID      string
	DisplayName string
	RefreshedAt time.Time
}

// PresenceChange describes a cleared presence entry and who must be told.
type PresenceChange struct {
	ConversationID string
	UserID         string
	DisplayName    string
	Recipients     []*Client
}

type room struct {
	conns  map[string]*Client
	typing map[string]*presenceEntry
}

// Hub is the Gateway State: for every conversation with at least one live
// connection, the connection set and the typing-presence map.
//
// One mutex guards both registries. Methods compute recipient lists under the
// lock and return them; delivery happens outside it so a slow client never
// holds up the registry.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

// Join registers c in its conversation.
func (h *Hub) Join(c *Client) {
	if c == nil || c.ID == "" || c.ConversationID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[c.ConversationID]
	if !ok {
		r = &room{
			conns:  make(map[string]*Client),
			typing: make(map[string]*presenceEntry),
		}
		h.rooms[c.ConversationID] = r
	}
	r.conns[c.ID] = c
}

// Leave unregisters c. When c's participant had a presence entry it is removed
// and returned together with the remaining connections of other participants.
// An empty room is discarded along with its presence map.
func (h *Hub) Leave(c *Client) (cleared *PresenceChange) {
	if c == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[c.ConversationID]
	if !ok {
		return nil
	}
	if _, member := r.conns[c.ID]; !member {
		return nil
	}
	delete(r.conns, c.ID)

	if e, ok := r.typing[c.UserID]; ok {
		delete(r.typing, c.UserID)
		cleared = &PresenceChange{
			ConversationID: c.ConversationID,
			UserID:         e.UserID,
			DisplayName:    e.DisplayName,
			Recipients:     r.recipientsLocked(c.UserID),
		}
	}

	if len(r.conns) == 0 {
		delete(h.rooms, c.ConversationID)
	}
	return cleared
}

// Recipients returns the live connections of conversationID, skipping every
// connection of excludeUser (pass "" to include all).
func (h *Hub) Recipients(conversationID, excludeUser string) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[conversationID]
	if !ok {
		return nil
	}
	return r.recipientsLocked(excludeUser)
}

// ConnectionsOf returns userID's live connections in conversationID.
func (h *Hub) ConnectionsOf(conversationID, userID string) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[conversationID]
	if !ok {
		return nil
	}
	var out []*Client
	for _, c := range r.conns {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

// StartTyping creates or refreshes the presence entry of userID and returns the
// connections that must see it (everyone but userID's own connections).
// The display name is kept from the first call for the entry's life.
func (h *Hub) StartTyping(conversationID, userID, displayName string, now time.Time) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[conversationID]
	if !ok {
		return nil
	}
	if e, ok := r.typing[userID]; ok {
		e.RefreshedAt = now
	} else {
		r.typing[userID] = &presenceEntry{UserID: userID, DisplayName: displayName, RefreshedAt: now}
	}
	return r.recipientsLocked(userID)
}

// StopTyping removes userID's presence entry if present. Recipients are
// returned either way, since a stop is always announced.
func (h *Hub) StopTyping(conversationID, userID string) (removed bool, recipients []*Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[conversationID]
	if !ok {
		return false, nil
	}
	if _, ok := r.typing[userID]; ok {
		delete(r.typing, userID)
		removed = true
	}
	return removed, r.recipientsLocked(userID)
}

// ExpireTyping removes every presence entry not refreshed within timeout.
// Each removed entry is reported exactly once.
func (h *Hub) ExpireTyping(now time.Time, timeout time.Duration) []PresenceChange {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []PresenceChange
	for convID, r := range h.rooms {
		for userID, e := range r.typing {
			if now.Sub(e.RefreshedAt) <= timeout {
				continue
			}
			delete(r.typing, userID)
			out = append(out, PresenceChange{
				ConversationID: convID,
				UserID:         userID,
				DisplayName:    e.DisplayName,
				Recipients:     r.recipientsLocked(userID),
			})
		}
	}
	return out
}

// IsTyping reports whether userID holds a presence entry in conversationID.
func (h *Hub) IsTyping(conversationID, userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[conversationID]
	if !ok {
		return false
	}
	_, ok = r.typing[userID]
	return ok
}

// All returns every live connection across all conversations.
func (h *Hub) All() []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*Client
	for _, r := range h.rooms {
		out = append(out, r.recipientsLocked("")...)
	}
	return out
}

// Stats returns the number of live rooms and connections.
func (h *Hub) Stats() (rooms, conns int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, r := range h.rooms {
		conns += len(r.conns)
	}
	return len(h.rooms), conns
}

func (r *room) recipientsLocked(excludeUser string) []*Client {
	out := make([]*Client, 0, len(r.conns))
	for _, c := range r.conns {
		if excludeUser != "" && c.UserID == excludeUser {
			continue
		}
		out = append(out, c)
	}
	return out
}
