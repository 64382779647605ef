package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Marco-Polo-coding/TFG-Jose-Abreu/cmd/internal/ids"
)

// Service implements the chat operations on top of a Repository.
//
// Every method that takes a caller authorizes it against the conversation's
// current participants before reading or mutating anything.
type Service struct {
	repo  Repository
	users UserDirectory
	cfg   Config

	now   func() time.Time
	newID func(time.Time) (string, error)
}

// ServiceOption configures optional Service dependencies.
type ServiceOption func(*Service)

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides id generation (tests).
func WithIDGenerator(fn func(time.Time) (string, error)) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService constructs a Service. repo and users are required.
func NewService(repo Repository, users UserDirectory, cfg Config, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("chat: nil repository")
	}
	if users == nil {
		return nil, errors.New("chat: nil user directory")
	}
	s := &Service{
		repo:  repo,
		users: users,
		cfg:   cfg.withDefaults(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: ids.NewULID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Config returns the effective policy.
func (s *Service) Config() Config { return s.cfg }

// timestamp is millisecond-precise so every backend round-trips it unchanged.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// CreateOrGetConversation returns the conversation between caller and participantID,
// creating it when none exists. created reports whether this call created it.
func (s *Service) CreateOrGetConversation(ctx context.Context, caller, participantID string) (Conversation, bool, error) {
	const op = "chat.CreateOrGetConversation"

	caller = strings.TrimSpace(caller)
	participantID = strings.TrimSpace(participantID)
	if caller == "" || participantID == "" {
		return Conversation{}, false, invalidInput(op, "participant_id is required")
	}
	if caller == participantID {
		return Conversation{}, false, invalidInput(op, "cannot start a conversation with yourself")
	}

	if _, err := s.users.LookupUser(ctx, participantID); err != nil {
		if IsNotFound(err) {
			return Conversation{}, false, notFound(op, "user not found")
		}
		return Conversation{}, false, fmt.Errorf("%s: lookup participant: %w", op, err)
	}

	now := s.timestamp()
	id, err := s.newID(now)
	if err != nil {
		return Conversation{}, false, fmt.Errorf("%s: new id: %w", op, err)
	}

	participants := NormalizeParticipants(caller, participantID)
	conv, created, err := s.repo.CreateConversation(ctx, Conversation{
		ID:              id,
		Participants:    participants,
		ParticipantsKey: PairKey(participants...),
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return Conversation{}, false, fmt.Errorf("%s: %w", op, err)
	}
	if !slices.Equal(NormalizeParticipants(conv.Participants...), participants) {
		return Conversation{}, false, conflict(op, "conversation key conflict")
	}
	return conv, created, nil
}

// ListConversations returns the caller's conversations, most recently active first.
func (s *Service) ListConversations(ctx context.Context, caller string) ([]Conversation, error) {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return nil, invalidInput("chat.ListConversations", "missing caller")
	}
	out, err := s.repo.ListConversations(ctx, caller)
	if err != nil {
		return nil, fmt.Errorf("chat.ListConversations: %w", err)
	}
	return out, nil
}

// Conversation returns conversationID if caller participates in it.
func (s *Service) Conversation(ctx context.Context, caller, conversationID string) (Conversation, error) {
	return s.authorize(ctx, "chat.Conversation", caller, conversationID)
}

// SendMessage persists a new message and returns its canonical form.
func (s *Service) SendMessage(ctx context.Context, req SendMessageRequest) (Message, error) {
	const op = "chat.SendMessage"

	sender := strings.TrimSpace(req.Sender)
	conversationID := strings.TrimSpace(req.ConversationID)
	content, err := s.validContent(op, req.Content)
	if err != nil {
		return Message{}, err
	}
	typ := req.Type
	if typ == "" {
		typ = MessageTypeText
	}
	if !typ.Valid() {
		return Message{}, invalidInput(op, fmt.Sprintf("unsupported message type: %s", typ))
	}

	if _, err := s.authorize(ctx, op, sender, conversationID); err != nil {
		return Message{}, err
	}

	now := s.timestamp()
	id, err := s.newID(now)
	if err != nil {
		return Message{}, fmt.Errorf("%s: new id: %w", op, err)
	}

	msg := Message{
		ID:             id,
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		Type:           typ,
		Timestamp:      now,
		ReadBy:         []string{sender},
	}
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}
	return msg, nil
}

// ListMessages returns up to Limit messages newest first, optionally older than Before.
// A zero Limit selects the default page size.
func (s *Service) ListMessages(ctx context.Context, req ListMessagesRequest) ([]Message, error) {
	const op = "chat.ListMessages"

	limit := req.Limit
	if limit == 0 {
		limit = s.cfg.DefaultPageSize
	}
	if limit < 1 || limit > s.cfg.MaxPageSize {
		return nil, invalidInput(op, fmt.Sprintf("limit must be between 1 and %d", s.cfg.MaxPageSize))
	}

	conv, err := s.authorize(ctx, op, req.Caller, req.ConversationID)
	if err != nil {
		return nil, err
	}

	out, err := s.repo.ListMessages(ctx, MessageQuery{
		ConversationID: conv.ID,
		Before:         req.Before,
		Limit:          limit,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// MarkRead acknowledges the most recent messages for caller and returns how many changed.
func (s *Service) MarkRead(ctx context.Context, caller, conversationID string) (int, error) {
	const op = "chat.MarkRead"

	caller = strings.TrimSpace(caller)
	conversationID = strings.TrimSpace(conversationID)
	if _, err := s.authorize(ctx, op, caller, conversationID); err != nil {
		return 0, err
	}
	n, err := s.repo.MarkRead(ctx, conversationID, caller, s.cfg.ReadWindow)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// EditMessage replaces the content of caller's own message within the edit window.
func (s *Service) EditMessage(ctx context.Context, caller, messageID, content string) (Message, error) {
	const op = "chat.EditMessage"

	content, err := s.validContent(op, content)
	if err != nil {
		return Message{}, err
	}

	msg, err := s.ownMessage(ctx, op, caller, messageID)
	if err != nil {
		return Message{}, err
	}
	if s.now().Sub(msg.Timestamp) > s.cfg.EditWindow {
		return Message{}, forbidden(op, "edit window expired")
	}

	out, err := s.repo.UpdateMessageContent(ctx, msg.ID, content)
	if err != nil {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// DeleteMessage hard-deletes caller's own message and returns the removed record.
func (s *Service) DeleteMessage(ctx context.Context, caller, messageID string) (Message, error) {
	const op = "chat.DeleteMessage"

	msg, err := s.ownMessage(ctx, op, caller, messageID)
	if err != nil {
		return Message{}, err
	}
	if err := s.repo.DeleteMessage(ctx, msg.ID); err != nil {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}
	return msg, nil
}

// LeaveConversation removes caller from the conversation, deleting it with its
// messages once nobody remains. deleted reports whether that happened.
func (s *Service) LeaveConversation(ctx context.Context, caller, conversationID string) (deleted bool, err error) {
	const op = "chat.LeaveConversation"

	caller = strings.TrimSpace(caller)
	conversationID = strings.TrimSpace(conversationID)
	if _, err := s.authorize(ctx, op, caller, conversationID); err != nil {
		return false, err
	}
	deleted, err = s.repo.RemoveParticipant(ctx, conversationID, caller)
	if err != nil {
		if IsNotFound(err) {
			return false, forbidden(op, "not a participant of this chat")
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return deleted, nil
}

// LookupUser resolves a user through the directory.
func (s *Service) LookupUser(ctx context.Context, id string) (User, error) {
	return s.users.LookupUser(ctx, id)
}

// ---- helpers ----

func (s *Service) authorize(ctx context.Context, op, caller, conversationID string) (Conversation, error) {
	caller = strings.TrimSpace(caller)
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Conversation{}, invalidInput(op, "missing chat id")
	}
	if caller == "" {
		return Conversation{}, forbidden(op, "not a participant of this chat")
	}

	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if IsNotFound(err) {
			return Conversation{}, notFound(op, "chat not found")
		}
		return Conversation{}, fmt.Errorf("%s: %w", op, err)
	}
	if !conv.HasParticipant(caller) {
		return Conversation{}, forbidden(op, "not a participant of this chat")
	}
	return conv, nil
}

func (s *Service) ownMessage(ctx context.Context, op, caller, messageID string) (Message, error) {
	caller = strings.TrimSpace(caller)
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return Message{}, invalidInput(op, "missing message id")
	}
	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		if IsNotFound(err) {
			return Message{}, notFound(op, "message not found")
		}
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}
	if caller == "" || msg.Sender != caller {
		return Message{}, forbidden(op, "only the sender can modify this message")
	}
	return msg, nil
}

func (s *Service) validContent(op, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", invalidInput(op, "content is required")
	}
	if utf8.RuneCountInString(content) > s.cfg.MaxContentChars {
		return "", invalidInput(op, fmt.Sprintf("content too long: max=%d chars", s.cfg.MaxContentChars))
	}
	return content, nil
}
