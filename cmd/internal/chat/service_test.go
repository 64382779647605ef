package chat

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	users := NewInMemoryDirectory(
		User{ID: "alice", DisplayName: "Alice"},
		User{ID: "bob", DisplayName: "Bob"},
		User{ID: "carol", DisplayName: "Carol"},
	)
	svc, err := NewService(NewInMemoryRepository(), users, DefaultConfig(), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, clock
}

func mustConversation(t *testing.T, svc *Service, a, b string) Conversation {
	t.Helper()
	conv, _, err := svc.CreateOrGetConversation(context.Background(), a, b)
	if err != nil {
		t.Fatalf("create %s/%s: %v", a, b, err)
	}
	return conv
}

func mustSend(t *testing.T, svc *Service, convID, sender, content string) Message {
	t.Helper()
	m, err := svc.SendMessage(context.Background(), SendMessageRequest{
		ConversationID: convID,
		Sender:         sender,
		Content:        content,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	return m
}

func TestNewService_RequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewService(nil, NewInMemoryDirectory(), DefaultConfig()); err == nil {
		t.Fatalf("expected error for nil repository")
	}
	if _, err := NewService(NewInMemoryRepository(), nil, DefaultConfig()); err == nil {
		t.Fatalf("expected error for nil directory")
	}
}

func TestService_CreateOrGetConversation_OrderIndependent(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	ab, created, err := svc.CreateOrGetConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true on first call")
	}
	if ab.LastMessage != nil {
		t.Fatalf("expected empty last message")
	}

	ba, created, err := svc.CreateOrGetConversation(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("create reverse: %v", err)
	}
	if created {
		t.Fatalf("expected created=false on reverse call")
	}
	if ba.ID != ab.ID {
		t.Fatalf("expected same conversation, got %s vs %s", ab.ID, ba.ID)
	}
	if ab.ParticipantsKey != "alice_bob" {
		t.Fatalf("unexpected key: %q", ab.ParticipantsKey)
	}
}

func TestService_CreateOrGetConversation_Errors(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		caller string
		target string
		check  func(error) bool
	}{
		{name: "unknown participant", caller: "alice", target: "ghost", check: IsNotFound},
		{name: "self", caller: "alice", target: "alice", check: IsInvalidInput},
		{name: "empty target", caller: "alice", target: "  ", check: IsInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.CreateOrGetConversation(ctx, tc.caller, tc.target)
			if !tc.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestService_SendMessage_ReadByIsSender(t *testing.T) {
	t.Parallel()

	svc, clock := newTestService(t)
	conv := mustConversation(t, svc, "alice", "bob")

	m := mustSend(t, svc, conv.ID, "alice", "  hello  ")
	if m.Content != "hello" {
		t.Fatalf("content should be trimmed, got %q", m.Content)
	}
	if !slices.Equal(m.ReadBy, []string{"alice"}) {
		t.Fatalf("read_by should be exactly the sender, got %v", m.ReadBy)
	}
	if m.Type != MessageTypeText {
		t.Fatalf("default type should be text, got %q", m.Type)
	}
	if !m.Timestamp.Equal(clock.Now()) {
		t.Fatalf("timestamp should be server assigned: %v", m.Timestamp)
	}
	if m.ID == "" {
		t.Fatalf("expected generated id")
	}

	got, err := svc.Conversation(context.Background(), "bob", conv.ID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if got.LastMessage == nil || got.LastMessage.Content != "hello" {
		t.Fatalf("snapshot not updated: %+v", got.LastMessage)
	}
	if !got.UpdatedAt.Equal(m.Timestamp) {
		t.Fatalf("updated_at not refreshed: %v", got.UpdatedAt)
	}
}

func TestService_SendMessage_StoresTrimmedIDs(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	conv := mustConversation(t, svc, "alice", "bob")
	ctx := context.Background()

	m := mustSend(t, svc, "  "+conv.ID+" ", " alice ", "hi")
	if m.Sender != "alice" || m.ConversationID != conv.ID {
		t.Fatalf("ids should be trimmed: sender=%q conv=%q", m.Sender, m.ConversationID)
	}
	if !slices.Equal(m.ReadBy, []string{"alice"}) {
		t.Fatalf("read_by should hold the trimmed sender, got %q", m.ReadBy)
	}

	page, err := svc.ListMessages(ctx, ListMessagesRequest{Caller: "bob", ConversationID: conv.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 1 || page[0].Sender != "alice" {
		t.Fatalf("stored message: %+v", page)
	}

	if _, err := svc.EditMessage(ctx, " alice", m.ID, "hi again"); err != nil {
		t.Fatalf("padded caller should still own the message: %v", err)
	}
	n, err := svc.MarkRead(ctx, "bob ", " "+conv.ID)
	if err != nil || n != 1 {
		t.Fatalf("mark read: n=%d err=%v", n, err)
	}
	page, err = svc.ListMessages(ctx, ListMessagesRequest{Caller: "alice", ConversationID: conv.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !slices.Equal(page[0].ReadBy, []string{"alice", "bob"}) {
		t.Fatalf("read_by should hold trimmed ids, got %q", page[0].ReadBy)
	}
}

func TestService_SendMessage_Validation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	conv := mustConversation(t, svc, "alice", "bob")
	ctx := context.Background()

	cases := []struct {
		name  string
		req   SendMessageRequest
		check func(error) bool
	}{
		{
			name:  "empty content",
			req:   SendMessageRequest{ConversationID: conv.ID, Sender: "alice", Content: "   "},
			check: IsInvalidInput,
		},
		{
			name:  "too long",
			req:   SendMessageRequest{ConversationID: conv.ID, Sender: "alice", Content: strings.Repeat("x", 4001)},
			check: IsInvalidInput,
		},
		{
			name:  "unknown type",
			req:   SendMessageRequest{ConversationID: conv.ID, Sender: "alice", Content: "hi", Type: "video"},
			check: IsInvalidInput,
		},
		{
			name:  "non participant",
			req:   SendMessageRequest{ConversationID: conv.ID, Sender: "carol", Content: "hi"},
			check: IsForbidden,
		},
		{
			name:  "missing conversation",
			req:   SendMessageRequest{ConversationID: "nope", Sender: "alice", Content: "hi"},
			check: IsNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.SendMessage(ctx, tc.req); !tc.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}

	img, err := svc.SendMessage(ctx, SendMessageRequest{ConversationID: conv.ID, Sender: "bob", Content: "https://img.test/a.png", Type: MessageTypeImage})
	if err != nil {
		t.Fatalf("send image: %v", err)
	}
	if img.Type != MessageTypeImage {
		t.Fatalf("unexpected type %q", img.Type)
	}
}

func TestService_ListConversations_MostRecentFirst(t *testing.T) {
	t.Parallel()

	svc, clock := newTestService(t)
	ab := mustConversation(t, svc, "alice", "bob")
	clock.Advance(time.Second)
	ac := mustConversation(t, svc, "alice", "carol")
	clock.Advance(time.Second)
	mustSend(t, svc, ab.ID, "bob", "bump")

	got, err := svc.ListConversations(context.Background(), "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != ab.ID || got[1].ID != ac.ID {
		t.Fatalf("unexpected order: %+v", got)
	}

	got, err = svc.ListConversations(context.Background(), "carol")
	if err != nil {
		t.Fatalf("list carol: %v", err)
	}
	if len(got) != 1 || got[0].ID != ac.ID {
		t.Fatalf("carol should only see her conversation: %+v", got)
	}
}

func TestService_ListMessages_Paging(t *testing.T) {
	t.Parallel()

	svc, clock := newTestService(t)
	conv := mustConversation(t, svc, "alice", "bob")
	ctx := context.Background()

	var sent []Message
	for range 3 {
		clock.Advance(time.Second)
		sent = append(sent, mustSend(t, svc, conv.ID, "alice", "m"))
	}

	page, err := svc.ListMessages(ctx, ListMessagesRequest{ConversationID: conv.ID, Caller: "bob"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := messageIDs(page); !slices.Equal(got, []string{sent[2].ID, sent[1].ID, sent[0].ID}) {
		t.Fatalf("unexpected order: %v", got)
	}

	before := sent[1].Timestamp
	page, err = svc.ListMessages(ctx, ListMessagesRequest{ConversationID: conv.ID, Caller: "bob", Limit: 1, Before: &before})
	if err != nil {
		t.Fatalf("list before: %v", err)
	}
	if got := messageIDs(page); !slices.Equal(got, []string{sent[0].ID}) {
		t.Fatalf("unexpected page: %v", got)
	}

	for _, limit := range []int{-1, 101} {
		if _, err := svc.ListMessages(ctx, ListMessagesRequest{ConversationID: conv.ID, Caller: "bob", Limit: limit}); !IsInvalidInput(err) {
			t.Fatalf("limit=%d: expected invalid input, got %v", limit, err)
		}
	}
	if _, err := svc.ListMessages(ctx, ListMessagesRequest{ConversationID: conv.ID, Caller: "carol"}); !IsForbidden(err) {
		t.Fatalf("expected forbidden for non participant, got %v", err)
	}
}

func TestService_MarkRead_Idempotent(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	conv := mustConversation(t, svc, "alice", "bob")
	ctx := context.Background()

	m1 := mustSend(t, svc, conv.ID, "alice", "hello")

	n, err := svc.MarkRead(ctx, "bob", conv.ID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 update, got %d", n)
	}

	n, err = svc.MarkRead(ctx, "bob", conv.ID)
	if err != nil {
		t.Fatalf("mark read again: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 updates on second call, got %d", n)
	}

	page, err := svc.ListMessages(ctx, ListMessagesRequest{ConversationID: conv.ID, Caller: "alice"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 1 || page[0].ID != m1.ID || !slices.Equal(page[0].ReadBy, []string{"alice", "bob"}) {
		t.Fatalf("unexpected read_by: %+v", page)
	}

	if _, err := svc.MarkRead(ctx, "carol", conv.ID); !IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestService_EditMessage(t *testing.T) {
	t.Parallel()

	svc, clock := newTestService(t)
	conv := mustConversation(t, svc, "alice", "bob")
	ctx := context.Background()

	m := mustSend(t, svc, conv.ID, "alice", "helo")

	if _, err := svc.EditMessage(ctx, "bob", m.ID, "hacked"); !IsForbidden(err) {
		t.Fatalf("non-sender edit: expected forbidden, got %v", err)
	}

	clock.Advance(14 * time.Minute)
	got, err := svc.EditMessage(ctx, "alice", m.ID, "hello")
	if err != nil {
		t.Fatalf("edit within window: %v", err)
	}
	if got.Content != "hello" || !got.Edited {
		t.Fatalf("unexpected message: %+v", got)
	}

	if _, err := svc.EditMessage(ctx, "alice", m.ID, " "); !IsInvalidInput(err) {
		t.Fatalf("empty edit: expected invalid input, got %v", err)
	}
	if _, err := svc.EditMessage(ctx, "alice", "missing", "x"); !IsNotFound(err) {
		t.Fatalf("missing message: expected not found, got %v", err)
	}
}

func TestService_EditMessage_WindowExpired(t *testing.T) {
	t.Parallel()

	svc, clock := newTestService(t)
	conv := mustConversation(t, svc, "alice", "bob")
	ctx := context.Background()

	m := mustSend(t, svc, conv.ID, "alice", "hello")
	clock.Advance(16 * time.Minute)

	for _, caller := range []string{"alice", "bob", "carol"} {
		_, err := svc.EditMessage(ctx, caller, m.ID, "late")
		if !IsForbidden(err) {
			t.Fatalf("caller=%s: expected forbidden, got %v", caller, err)
		}
	}

	_, err := svc.EditMessage(ctx, "alice", m.ID, "late")
	if got := PublicMessage(err, ""); got != "edit window expired" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestService_DeleteMessage(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	conv := mustConversation(t, svc, "alice", "bob")
	ctx := context.Background()

	m := mustSend(t, svc, conv.ID, "alice", "oops")

	if _, err := svc.DeleteMessage(ctx, "bob", m.ID); !IsForbidden(err) {
		t.Fatalf("non-sender delete: expected forbidden, got %v", err)
	}

	deleted, err := svc.DeleteMessage(ctx, "alice", m.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted.ID != m.ID || deleted.ConversationID != conv.ID {
		t.Fatalf("unexpected deleted record: %+v", deleted)
	}

	if _, err := svc.DeleteMessage(ctx, "alice", m.ID); !IsNotFound(err) {
		t.Fatalf("second delete: expected not found, got %v", err)
	}
}

func TestService_LeaveConversation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	conv := mustConversation(t, svc, "alice", "bob")
	ctx := context.Background()
	mustSend(t, svc, conv.ID, "alice", "bye")

	if _, err := svc.LeaveConversation(ctx, "carol", conv.ID); !IsForbidden(err) {
		t.Fatalf("non participant leave: expected forbidden, got %v", err)
	}

	deleted, err := svc.LeaveConversation(ctx, "alice", conv.ID)
	if err != nil {
		t.Fatalf("alice leave: %v", err)
	}
	if deleted {
		t.Fatalf("conversation should remain for bob")
	}
	if _, err := svc.Conversation(ctx, "alice", conv.ID); !IsForbidden(err) {
		t.Fatalf("alice should no longer have access, got %v", err)
	}
	if _, err := svc.LeaveConversation(ctx, "alice", conv.ID); !IsForbidden(err) {
		t.Fatalf("second leave: expected forbidden, got %v", err)
	}

	deleted, err = svc.LeaveConversation(ctx, "bob", conv.ID)
	if err != nil {
		t.Fatalf("bob leave: %v", err)
	}
	if !deleted {
		t.Fatalf("expected conversation deleted once empty")
	}
	if _, err := svc.Conversation(ctx, "bob", conv.ID); !IsNotFound(err) {
		t.Fatalf("expected not found after cascade, got %v", err)
	}
}

// A and B with no prior conversation: create, send, read.
func TestService_DirectChatScenario(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	k, created, err := svc.CreateOrGetConversation(ctx, "alice", "bob")
	if err != nil || !created {
		t.Fatalf("create: created=%v err=%v", created, err)
	}

	m1 := mustSend(t, svc, k.ID, "alice", "hello")
	if !slices.Equal(m1.ReadBy, []string{"alice"}) {
		t.Fatalf("unexpected read_by: %v", m1.ReadBy)
	}

	wire := m1.Wire()
	if _, err := time.Parse(time.RFC3339Nano, wire.Timestamp); err != nil {
		t.Fatalf("wire timestamp is not ISO: %q (%v)", wire.Timestamp, err)
	}
	if wire.ChatID != k.ID {
		t.Fatalf("unexpected chat_id: %q", wire.ChatID)
	}

	n, err := svc.MarkRead(ctx, "bob", k.ID)
	if err != nil || n != 1 {
		t.Fatalf("mark read: n=%d err=%v", n, err)
	}
	page, err := svc.ListMessages(ctx, ListMessagesRequest{ConversationID: k.ID, Caller: "alice", Limit: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !slices.Equal(page[0].ReadBy, []string{"alice", "bob"}) {
		t.Fatalf("unexpected read_by: %v", page[0].ReadBy)
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	t.Parallel()

	got := Config{MaxPageSize: 20}.withDefaults()
	if got.DefaultPageSize != 20 {
		t.Fatalf("default page size should be capped to max, got %d", got.DefaultPageSize)
	}
	if got.EditWindow != 15*time.Minute || got.ReadWindow != 50 || got.MaxContentChars != 4000 {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

func TestService_CreateOrGetConversation_SeparatorInIDs(t *testing.T) {
	t.Parallel()

	users := NewInMemoryDirectory(
		User{ID: "a"}, User{ID: "b_c"}, User{ID: "a_b"}, User{ID: "c"},
	)
	svc, err := NewService(NewInMemoryRepository(), users, DefaultConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	first, created, err := svc.CreateOrGetConversation(ctx, "a", "b_c")
	if err != nil || !created {
		t.Fatalf("create a/b_c: created=%v err=%v", created, err)
	}
	mustSend(t, svc, first.ID, "a", "secret")

	second, created, err := svc.CreateOrGetConversation(ctx, "a_b", "c")
	if err != nil {
		t.Fatalf("create a_b/c: %v", err)
	}
	if !created || second.ID == first.ID {
		t.Fatalf("a_b/c must get its own conversation: created=%v id=%s", created, second.ID)
	}
	if !second.HasParticipant("a_b") || !slices.Equal(second.Participants, []string{"a_b", "c"}) {
		t.Fatalf("unexpected participants: %v", second.Participants)
	}

	if _, err := svc.ListMessages(ctx, ListMessagesRequest{Caller: "a_b", ConversationID: first.ID}); !IsForbidden(err) {
		t.Fatalf("a_b must not read a/b_c history, got %v", err)
	}
	page, err := svc.ListMessages(ctx, ListMessagesRequest{Caller: "a_b", ConversationID: second.ID})
	if err != nil || len(page) != 0 {
		t.Fatalf("new conversation should be empty: %v %v", page, err)
	}
}

// staleKeyRepository answers every CreateConversation with a fixed stored conversation.
type staleKeyRepository struct {
	*InMemoryRepository
	stored Conversation
}

func (r staleKeyRepository) CreateConversation(context.Context, Conversation) (Conversation, bool, error) {
	return r.stored, false, nil
}

func TestService_CreateOrGetConversation_RejectsForeignConversation(t *testing.T) {
	t.Parallel()

	repo := staleKeyRepository{
		InMemoryRepository: NewInMemoryRepository(),
		stored: Conversation{
			ID:              "01STALE",
			Participants:    []string{"bob", "carol"},
			ParticipantsKey: PairKey("alice", "bob"),
		},
	}
	users := NewInMemoryDirectory(User{ID: "alice"}, User{ID: "bob"}, User{ID: "carol"})
	svc, err := NewService(repo, users, DefaultConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	conv, _, err := svc.CreateOrGetConversation(context.Background(), "alice", "bob")
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got conv=%+v err=%v", conv, err)
	}
	if conv.ID != "" {
		t.Fatalf("no conversation should be returned on conflict, got %s", conv.ID)
	}
}
