// Package chatapi exposes the direct-chat operations over HTTP for clients
// without a live realtime connection.
package chatapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Marco-Polo-coding/TFG-Jose-Abreu/cmd/internal/auth"
	"github.com/Marco-Polo-coding/TFG-Jose-Abreu/cmd/internal/chat"
)

const defaultMaxBodyBytes = 64 << 10

// ChatService is the slice of chat.Service the HTTP surface needs.
type ChatService interface {
	CreateOrGetConversation(ctx context.Context, caller, participantID string) (chat.Conversation, bool, error)
	ListConversations(ctx context.Context, caller string) ([]chat.Conversation, error)
	SendMessage(ctx context.Context, req chat.SendMessageRequest) (chat.Message, error)
	ListMessages(ctx context.Context, req chat.ListMessagesRequest) ([]chat.Message, error)
	MarkRead(ctx context.Context, caller, conversationID string) (int, error)
	EditMessage(ctx context.Context, caller, messageID, content string) (chat.Message, error)
	DeleteMessage(ctx context.Context, caller, messageID string) (chat.Message, error)
	LeaveConversation(ctx context.Context, caller, conversationID string) (bool, error)
}

// Publisher fans REST mutations out to live connections.
type Publisher interface {
	PublishMessage(msg chat.Message)
	PublishMessageEdited(msg chat.Message)
	PublishMessageDeleted(msg chat.Message)
	PublishRead(conversationID, userID string)
	PublishLeft(conversationID, userID string)
}

type noopPublisher struct{}

func (noopPublisher) PublishMessage(chat.Message)        {}
func (noopPublisher) PublishMessageEdited(chat.Message)  {}
func (noopPublisher) PublishMessageDeleted(chat.Message) {}
func (noopPublisher) PublishRead(string, string)         {}
func (noopPublisher) PublishLeft(string, string)         {}

// Config holds HTTP surface limits.
type Config struct {
	MaxBodyBytes int64
}

// Handler wires HTTP chat endpoints to the chat service.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	svc      ChatService
	verifier auth.Verifier
	pub      Publisher
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithPublisher sets the realtime fan-out target. Without it mutations are not broadcast.
func WithPublisher(p Publisher) HandlerOption {
	return func(h *Handler) {
		if h == nil || p == nil {
			return
		}
		h.pub = p
	}
}

// NewHandler constructs a chat Handler. svc and verifier are required.
func NewHandler(log *slog.Logger, svc ChatService, verifier auth.Verifier, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("chatapi: nil chat service")
	}
	if verifier == nil {
		return nil, errors.New("chatapi: nil verifier")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		svc:      svc,
		verifier: verifier,
		pub:      noopPublisher{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires chat routes onto the provided mux. Every route requires a bearer token.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	authed := auth.Middleware(h.verifier, h.log)
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, authed(fn))
	}

	route("POST /direct-chats", h.handleCreateConversation)
	route("GET /direct-chats", h.handleListConversations)
	route("POST /direct-chats/{chat_id}/messages", h.handleSendMessage)
	route("GET /direct-chats/{chat_id}/messages", h.handleListMessages)
	route("POST /direct-chats/{chat_id}/read", h.handleMarkRead)
	route("POST /direct-chats/{chat_id}/leave", h.handleLeave)
	route("PATCH /direct-messages/{message_id}", h.handleEditMessage)
	route("DELETE /direct-messages/{message_id}", h.handleDeleteMessage)
}

// ---- handlers ----

func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)

	var req createConversationRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	conv, created, err := h.svc.CreateOrGetConversation(r.Context(), caller, req.ParticipantID)
	if err != nil {
		h.writeChatError(w, "chat.create", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.log.Info("chat.create", "conversation_id", conv.ID, "user_id", caller)
	}
	writeJSON(w, status, toConversationResponse(conv))
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.svc.ListConversations(r.Context(), callerID(r))
	if err != nil {
		h.writeChatError(w, "chat.list", err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationList(convs))
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	msg, err := h.svc.SendMessage(r.Context(), chat.SendMessageRequest{
		ConversationID: r.PathValue("chat_id"),
		Sender:         callerID(r),
		Content:        req.Content,
		Type:           chat.MessageType(strings.TrimSpace(req.Type)),
	})
	if err != nil {
		h.writeChatError(w, "chat.send", err)
		return
	}

	h.pub.PublishMessage(msg)
	writeJSON(w, http.StatusCreated, msg.Wire())
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer")
			return
		}
		if n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	var before *time.Time
	if raw := strings.TrimSpace(q.Get("before")); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "before must be an RFC 3339 timestamp")
			return
		}
		t = t.UTC()
		before = &t
	}

	msgs, err := h.svc.ListMessages(r.Context(), chat.ListMessagesRequest{
		ConversationID: r.PathValue("chat_id"),
		Caller:         callerID(r),
		Limit:          limit,
		Before:         before,
	})
	if err != nil {
		h.writeChatError(w, "chat.messages", err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageList(msgs))
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	chatID := r.PathValue("chat_id")

	n, err := h.svc.MarkRead(r.Context(), caller, chatID)
	if err != nil {
		h.writeChatError(w, "chat.read", err)
		return
	}

	h.pub.PublishRead(chatID, caller)
	writeJSON(w, http.StatusOK, markReadResponse{Updated: n})
}

func (h *Handler) handleLeave(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	chatID := r.PathValue("chat_id")

	deleted, err := h.svc.LeaveConversation(r.Context(), caller, chatID)
	if err != nil {
		h.writeChatError(w, "chat.leave", err)
		return
	}

	h.log.Info("chat.leave", "conversation_id", chatID, "user_id", caller, "deleted", deleted)
	h.pub.PublishLeft(chatID, caller)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var req editMessageRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	msg, err := h.svc.EditMessage(r.Context(), callerID(r), r.PathValue("message_id"), req.Content)
	if err != nil {
		h.writeChatError(w, "chat.edit", err)
		return
	}

	h.pub.PublishMessageEdited(msg)
	writeJSON(w, http.StatusOK, msg.Wire())
}

func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.svc.DeleteMessage(r.Context(), callerID(r), r.PathValue("message_id"))
	if err != nil {
		h.writeChatError(w, "chat.delete", err)
		return
	}

	h.pub.PublishMessageDeleted(msg)
	w.WriteHeader(http.StatusNoContent)
}

// ---- helpers ----

func callerID(r *http.Request) string {
	id, _ := auth.FromContext(r.Context())
	return id.UserID
}

// writeChatError logs failures the client cannot act on and writes the envelope.
func (h *Handler) writeChatError(w http.ResponseWriter, op string, err error) {
	status, code, msg, internal := chatErrorStatus(err)
	if internal {
		if status == http.StatusServiceUnavailable {
			h.log.Warn(op+".timeout", "err", err)
		} else {
			h.log.Error(op+".fail", "err", err)
		}
	}
	writeError(w, status, code, msg)
}
