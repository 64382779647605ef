package realtime

import (
	"testing"
	"time"
)

func newTestClient(id, user, conv string) *Client {
	return NewClient(id, user, conv, minSendQueueSize)
}

func clientIDs(cs []*Client) map[string]bool {
	out := make(map[string]bool, len(cs))
	for _, c := range cs {
		out[c.ID] = true
	}
	return out
}

func TestHub_RecipientsExcludeUser(t *testing.T) {
	t.Parallel()

	h := NewHub()
	a1 := newTestClient("a1", "alice", "c1")
	a2 := newTestClient("a2", "alice", "c1")
	b := newTestClient("b", "bob", "c1")
	other := newTestClient("x", "bob", "c2")
	for _, c := range []*Client{a1, a2, b, other} {
		h.Join(c)
	}

	all := clientIDs(h.Recipients("c1", ""))
	if len(all) != 3 || !all["a1"] || !all["a2"] || !all["b"] {
		t.Fatalf("unexpected recipients: %v", all)
	}

	notAlice := clientIDs(h.Recipients("c1", "alice"))
	if len(notAlice) != 1 || !notAlice["b"] {
		t.Fatalf("expected only bob, got %v", notAlice)
	}

	if got := h.Recipients("missing", ""); len(got) != 0 {
		t.Fatalf("expected no recipients for unknown conversation, got %d", len(got))
	}

	rooms, conns := h.Stats()
	if rooms != 2 || conns != 4 {
		t.Fatalf("stats = (%d,%d), want (2,4)", rooms, conns)
	}
	if got := len(h.All()); got != 4 {
		t.Fatalf("All() = %d, want 4", got)
	}
}

func TestHub_LeaveDropsEmptyRoom(t *testing.T) {
	t.Parallel()

	h := NewHub()
	a := newTestClient("a", "alice", "c1")
	h.Join(a)

	if cleared := h.Leave(a); cleared != nil {
		t.Fatalf("expected no presence change, got %+v", cleared)
	}
	if rooms, conns := h.Stats(); rooms != 0 || conns != 0 {
		t.Fatalf("expected empty hub, got rooms=%d conns=%d", rooms, conns)
	}
	// Second leave is a no-op.
	if cleared := h.Leave(a); cleared != nil {
		t.Fatalf("expected nil on repeated leave")
	}
}

func TestHub_LeaveClearsPresence(t *testing.T) {
	t.Parallel()

	h := NewHub()
	a := newTestClient("a", "alice", "c1")
	b := newTestClient("b", "bob", "c1")
	h.Join(a)
	h.Join(b)

	now := time.Now()
	if got := clientIDs(h.StartTyping("c1", "alice", "Alice", now)); len(got) != 1 || !got["b"] {
		t.Fatalf("typing recipients = %v, want only b", got)
	}

	cleared := h.Leave(a)
	if cleared == nil {
		t.Fatalf("expected presence change on leave")
	}
	if cleared.UserID != "alice" || cleared.DisplayName != "Alice" || cleared.ConversationID != "c1" {
		t.Fatalf("unexpected change: %+v", cleared)
	}
	if got := clientIDs(cleared.Recipients); len(got) != 1 || !got["b"] {
		t.Fatalf("cleared recipients = %v, want only b", got)
	}
	if h.IsTyping("c1", "alice") {
		t.Fatalf("presence should be gone")
	}
}

func TestHub_StartTypingKeepsFirstName(t *testing.T) {
	t.Parallel()

	h := NewHub()
	h.Join(newTestClient("a", "alice", "c1"))
	h.Join(newTestClient("b", "bob", "c1"))

	t0 := time.Now()
	h.StartTyping("c1", "alice", "Alice", t0)
	h.StartTyping("c1", "alice", "", t0.Add(2*time.Second))

	// Refreshed at t0+2s, so still alive at t0+4s with a 3s timeout.
	if changes := h.ExpireTyping(t0.Add(4*time.Second), 3*time.Second); len(changes) != 0 {
		t.Fatalf("entry should have been refreshed, got %d expirations", len(changes))
	}

	changes := h.ExpireTyping(t0.Add(6*time.Second), 3*time.Second)
	if len(changes) != 1 {
		t.Fatalf("expected 1 expiration, got %d", len(changes))
	}
	if changes[0].DisplayName != "Alice" {
		t.Fatalf("display name = %q, want Alice", changes[0].DisplayName)
	}

	// Reported once only.
	if again := h.ExpireTyping(t0.Add(10*time.Second), 3*time.Second); len(again) != 0 {
		t.Fatalf("expected no repeat expiration, got %d", len(again))
	}
}

func TestHub_StopTyping(t *testing.T) {
	t.Parallel()

	h := NewHub()
	h.Join(newTestClient("a", "alice", "c1"))
	h.Join(newTestClient("b", "bob", "c1"))

	removed, recipients := h.StopTyping("c1", "alice")
	if removed {
		t.Fatalf("nothing to remove yet")
	}
	if len(recipients) != 1 {
		t.Fatalf("stop is announced even without an entry, got %d recipients", len(recipients))
	}

	h.StartTyping("c1", "alice", "Alice", time.Now())
	removed, _ = h.StopTyping("c1", "alice")
	if !removed || h.IsTyping("c1", "alice") {
		t.Fatalf("expected entry removed")
	}
}

func TestHub_StartTypingUnknownRoom(t *testing.T) {
	t.Parallel()

	h := NewHub()
	if got := h.StartTyping("nope", "alice", "Alice", time.Now()); got != nil {
		t.Fatalf("expected nil recipients")
	}
	if h.IsTyping("nope", "alice") {
		t.Fatalf("no entry should be created without a room")
	}
}

func TestClient_EnqueueFullAndClosed(t *testing.T) {
	t.Parallel()

	c := NewClient("c", "u", "conv", 1)
	if !c.Enqueue([]byte("1")) {
		t.Fatalf("first enqueue should succeed")
	}
	if c.Enqueue([]byte("2")) {
		t.Fatalf("full queue should drop")
	}

	<-c.send
	c.Close()
	c.Close()
	if c.Enqueue([]byte("3")) {
		t.Fatalf("closed client should drop")
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("done should be closed")
	}
}

func TestRateLimiter_Window(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	t0 := time.Now()
	for i := 0; i < 3; i++ {
		if !rl.Allow(t0.Add(time.Duration(i) * time.Millisecond)) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if rl.Allow(t0.Add(10 * time.Millisecond)) {
		t.Fatalf("4th event inside the window should be rejected")
	}
	if !rl.Allow(t0.Add(1100 * time.Millisecond)) {
		t.Fatalf("event after the window should be allowed")
	}
}
