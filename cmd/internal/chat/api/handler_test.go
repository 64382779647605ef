package chatapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"github.com/Marco-Polo-coding/TFG-Jose-Abreu/cmd/internal/auth"
	"github.com/Marco-Polo-coding/TFG-Jose-Abreu/cmd/internal/chat"
	v1 "github.com/Marco-Polo-coding/TFG-Jose-Abreu/shared/contracts/directchat/v1"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) record(s string) {
	p.mu.Lock()
	p.events = append(p.events, s)
	p.mu.Unlock()
}

func (p *recordingPublisher) PublishMessage(m chat.Message)        { p.record("message:" + m.ID) }
func (p *recordingPublisher) PublishMessageEdited(m chat.Message)  { p.record("edited:" + m.ID) }
func (p *recordingPublisher) PublishMessageDeleted(m chat.Message) { p.record("deleted:" + m.ID) }
func (p *recordingPublisher) PublishRead(c, u string)              { p.record("read:" + c + ":" + u) }
func (p *recordingPublisher) PublishLeft(c, u string)              { p.record("left:" + c + ":" + u) }

func (p *recordingPublisher) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type apiHarness struct {
	ts     *httptest.Server
	tokens *auth.PasetoManager
	pub    *recordingPublisher
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	users := chat.NewInMemoryDirectory(
		chat.User{ID: "alice", DisplayName: "Alice"},
		chat.User{ID: "bob", DisplayName: "Bob"},
		chat.User{ID: "carol", DisplayName: "Carol"},
	)
	svc, err := chat.NewService(chat.NewInMemoryRepository(), users, chat.DefaultConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	tokens, err := auth.NewPasetoManager(auth.Config{
		Issuer:         "crpg-test",
		ClockSkew:      5 * time.Second,
		AccessTokenTTL: time.Minute,
		SecretKeyHex:   paseto.NewV4AsymmetricSecretKey().ExportHex(),
	})
	if err != nil {
		t.Fatalf("new token manager: %v", err)
	}

	pub := &recordingPublisher{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := NewHandler(log, svc, tokens, Config{}, WithPublisher(pub))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &apiHarness{ts: ts, tokens: tokens, pub: pub}
}

// do sends a request as userID ("" for anonymous) and decodes the JSON body into out when non-nil.
func (h *apiHarness) do(t *testing.T, userID, method, path string, body any, out any) int {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = strings.NewReader(b)
		default:
			raw, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			rdr = bytes.NewReader(raw)
		}
	}

	req, err := http.NewRequest(method, h.ts.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		tok, _, err := h.tokens.Issue(userID, time.Now().UTC())
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s (status %d): %v", method, path, resp.StatusCode, err)
		}
	}
	return resp.StatusCode
}

func (h *apiHarness) createChat(t *testing.T, caller, other string) conversationResponse {
	t.Helper()
	var conv conversationResponse
	status := h.do(t, caller, http.MethodPost, "/direct-chats", createConversationRequest{ParticipantID: other}, &conv)
	if status != http.StatusCreated && status != http.StatusOK {
		t.Fatalf("create chat status = %d", status)
	}
	return conv
}

func (h *apiHarness) sendMessage(t *testing.T, caller, chatID, content string) v1.Message {
	t.Helper()
	var msg v1.Message
	status := h.do(t, caller, http.MethodPost, "/direct-chats/"+chatID+"/messages", sendMessageRequest{Content: content}, &msg)
	if status != http.StatusCreated {
		t.Fatalf("send status = %d", status)
	}
	return msg
}

func TestHandler_RequiresBearer(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	var body errorResponse
	if status := h.do(t, "", http.MethodGet, "/direct-chats", nil, &body); status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
	if body.Error.Code != "unauthorized" {
		t.Fatalf("code = %q", body.Error.Code)
	}
}

func TestHandler_CreateConversation(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)

	var first conversationResponse
	if status := h.do(t, "alice", http.MethodPost, "/direct-chats", createConversationRequest{ParticipantID: "bob"}, &first); status != http.StatusCreated {
		t.Fatalf("first create status = %d, want 201", status)
	}
	if first.ParticipantsKey != chat.PairKey("alice", "bob") || len(first.Participants) != 2 {
		t.Fatalf("unexpected conversation: %+v", first)
	}
	if first.LastMessage != nil {
		t.Fatalf("new chat should have no last message")
	}

	var second conversationResponse
	if status := h.do(t, "bob", http.MethodPost, "/direct-chats", createConversationRequest{ParticipantID: "alice"}, &second); status != http.StatusOK {
		t.Fatalf("second create status = %d, want 200", status)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the same chat, got %s and %s", first.ID, second.ID)
	}
}

func TestHandler_CreateConversationErrors(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{name: "self", body: createConversationRequest{ParticipantID: "alice"}, want: http.StatusBadRequest},
		{name: "missing participant", body: createConversationRequest{}, want: http.StatusBadRequest},
		{name: "unknown user", body: createConversationRequest{ParticipantID: "nobody"}, want: http.StatusNotFound},
		{name: "bad json", body: `{"participant_id":`, want: http.StatusBadRequest},
		{name: "unknown field", body: `{"participant_id":"bob","x":1}`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body errorResponse
			if status := h.do(t, "alice", http.MethodPost, "/direct-chats", tt.body, &body); status != tt.want {
				t.Fatalf("status = %d, want %d (%+v)", status, tt.want, body)
			}
		})
	}
}

func TestHandler_SendAndListMessages(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	conv := h.createChat(t, "alice", "bob")

	m1 := h.sendMessage(t, "alice", conv.ID, "hello")
	if m1.Sender != "alice" || m1.Type != "text" || len(m1.ReadBy) != 1 || m1.ReadBy[0] != "alice" {
		t.Fatalf("unexpected message: %+v", m1)
	}
	if _, err := v1.ParseTimestamp(m1.Timestamp); err != nil {
		t.Fatalf("timestamp %q: %v", m1.Timestamp, err)
	}
	time.Sleep(2 * time.Millisecond)
	m2 := h.sendMessage(t, "bob", conv.ID, "hi back")

	var page []v1.Message
	if status := h.do(t, "bob", http.MethodGet, "/direct-chats/"+conv.ID+"/messages", nil, &page); status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if len(page) != 2 || page[0].ID != m2.ID || page[1].ID != m1.ID {
		t.Fatalf("expected newest first, got %+v", page)
	}

	page = nil
	path := "/direct-chats/" + conv.ID + "/messages?limit=5&before=" + m2.Timestamp
	if status := h.do(t, "alice", http.MethodGet, path, nil, &page); status != http.StatusOK {
		t.Fatalf("paged list status = %d", status)
	}
	if len(page) != 1 || page[0].ID != m1.ID {
		t.Fatalf("cursor page = %+v, want only m1", page)
	}

	var chats []conversationResponse
	if status := h.do(t, "alice", http.MethodGet, "/direct-chats", nil, &chats); status != http.StatusOK {
		t.Fatalf("list chats status = %d", status)
	}
	if len(chats) != 1 || chats[0].LastMessage == nil || chats[0].LastMessage.Content != "hi back" {
		t.Fatalf("unexpected chat list: %+v", chats)
	}

	events := h.pub.Events()
	if len(events) != 2 || events[0] != "message:"+m1.ID || events[1] != "message:"+m2.ID {
		t.Fatalf("published events = %v", events)
	}
}

func TestHandler_ListMessagesValidation(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	conv := h.createChat(t, "alice", "bob")
	base := "/direct-chats/" + conv.ID + "/messages"

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "zero limit", query: "?limit=0", want: http.StatusBadRequest},
		{name: "limit too large", query: "?limit=101", want: http.StatusBadRequest},
		{name: "limit not a number", query: "?limit=ten", want: http.StatusBadRequest},
		{name: "bad cursor", query: "?before=yesterday", want: http.StatusBadRequest},
		{name: "max limit", query: "?limit=100", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status := h.do(t, "alice", http.MethodGet, base+tt.query, nil, nil); status != tt.want {
				t.Fatalf("status = %d, want %d", status, tt.want)
			}
		})
	}
}

func TestHandler_NonParticipant(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	conv := h.createChat(t, "alice", "bob")

	if status := h.do(t, "carol", http.MethodGet, "/direct-chats/"+conv.ID+"/messages", nil, nil); status != http.StatusForbidden {
		t.Fatalf("list status = %d, want 403", status)
	}
	if status := h.do(t, "carol", http.MethodPost, "/direct-chats/"+conv.ID+"/messages", sendMessageRequest{Content: "x"}, nil); status != http.StatusForbidden {
		t.Fatalf("send status = %d, want 403", status)
	}
	if status := h.do(t, "alice", http.MethodPost, "/direct-chats/missing/read", nil, nil); status != http.StatusNotFound {
		t.Fatalf("read status = %d, want 404", status)
	}
}

func TestHandler_MarkRead(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	conv := h.createChat(t, "alice", "bob")
	h.sendMessage(t, "alice", conv.ID, "hello")

	var out markReadResponse
	if status := h.do(t, "bob", http.MethodPost, "/direct-chats/"+conv.ID+"/read", nil, &out); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if out.Updated != 1 {
		t.Fatalf("updated = %d, want 1", out.Updated)
	}

	out = markReadResponse{}
	h.do(t, "bob", http.MethodPost, "/direct-chats/"+conv.ID+"/read", nil, &out)
	if out.Updated != 0 {
		t.Fatalf("second mark read updated = %d, want 0", out.Updated)
	}

	var page []v1.Message
	h.do(t, "alice", http.MethodGet, "/direct-chats/"+conv.ID+"/messages", nil, &page)
	if len(page) != 1 || len(page[0].ReadBy) != 2 {
		t.Fatalf("read_by = %+v, want [alice bob]", page)
	}

	want := "read:" + conv.ID + ":bob"
	events := h.pub.Events()
	if events[len(events)-1] != want {
		t.Fatalf("last event = %q, want %q", events[len(events)-1], want)
	}
}

func TestHandler_EditAndDelete(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	conv := h.createChat(t, "alice", "bob")
	msg := h.sendMessage(t, "alice", conv.ID, "typo")

	if status := h.do(t, "bob", http.MethodPatch, "/direct-messages/"+msg.ID, editMessageRequest{Content: "hijack"}, nil); status != http.StatusForbidden {
		t.Fatalf("non-sender edit status = %d, want 403", status)
	}

	var edited v1.Message
	if status := h.do(t, "alice", http.MethodPatch, "/direct-messages/"+msg.ID, editMessageRequest{Content: "fixed"}, &edited); status != http.StatusOK {
		t.Fatalf("edit status = %d", status)
	}
	if edited.Content != "fixed" || !edited.Edited {
		t.Fatalf("unexpected edit result: %+v", edited)
	}

	if status := h.do(t, "alice", http.MethodPatch, "/direct-messages/"+msg.ID, editMessageRequest{Content: "  "}, nil); status != http.StatusBadRequest {
		t.Fatalf("empty edit status = %d, want 400", status)
	}

	if status := h.do(t, "bob", http.MethodDelete, "/direct-messages/"+msg.ID, nil, nil); status != http.StatusForbidden {
		t.Fatalf("non-sender delete status = %d, want 403", status)
	}
	if status := h.do(t, "alice", http.MethodDelete, "/direct-messages/"+msg.ID, nil, nil); status != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", status)
	}
	if status := h.do(t, "alice", http.MethodDelete, "/direct-messages/"+msg.ID, nil, nil); status != http.StatusNotFound {
		t.Fatalf("repeat delete status = %d, want 404", status)
	}

	events := h.pub.Events()
	want := []string{"message:" + msg.ID, "edited:" + msg.ID, "deleted:" + msg.ID}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", events, want)
	}
}

func TestHandler_Leave(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	conv := h.createChat(t, "alice", "bob")

	if status := h.do(t, "bob", http.MethodPost, "/direct-chats/"+conv.ID+"/leave", nil, nil); status != http.StatusNoContent {
		t.Fatalf("leave status = %d, want 204", status)
	}
	if status := h.do(t, "bob", http.MethodGet, "/direct-chats/"+conv.ID+"/messages", nil, nil); status != http.StatusForbidden {
		t.Fatalf("after leave status = %d, want 403", status)
	}

	var chats []conversationResponse
	h.do(t, "bob", http.MethodGet, "/direct-chats", nil, &chats)
	if len(chats) != 0 {
		t.Fatalf("bob should have no chats, got %d", len(chats))
	}

	// A new pair chat can be created once the old one no longer holds the key.
	var fresh conversationResponse
	if status := h.do(t, "bob", http.MethodPost, "/direct-chats", createConversationRequest{ParticipantID: "alice"}, &fresh); status != http.StatusCreated {
		t.Fatalf("recreate status = %d, want 201", status)
	}
	if fresh.ID == conv.ID {
		t.Fatalf("expected a new chat id")
	}

	if events := h.pub.Events(); len(events) != 1 || events[0] != "left:"+conv.ID+":bob" {
		t.Fatalf("events = %v", events)
	}
}

func TestNewHandler_RequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewHandler(nil, nil, nil, Config{}); err == nil {
		t.Fatalf("expected error for nil service")
	}

	svc, err := chat.NewService(chat.NewInMemoryRepository(), chat.NewInMemoryDirectory(), chat.DefaultConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := NewHandler(nil, svc, nil, Config{}); err == nil {
		t.Fatalf("expected error for nil verifier")
	}
}
