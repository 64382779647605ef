package chat

import (
	"context"
	"time"
)

// Repository is the persistence port behind Service.
//
// Adapters perform no authorization; they return ErrNotFound (wrapped) for
// missing records and must apply each method atomically with respect to the
// conversation it touches.
type Repository interface {
	// CreateConversation stores conv unless a conversation with the same
	// ParticipantsKey (and at least two participants) already exists, in which case
	// the existing one is returned with created=false.
	CreateConversation(ctx context.Context, conv Conversation) (stored Conversation, created bool, err error)

	GetConversation(ctx context.Context, id string) (Conversation, error)

	// ListConversations returns conversations containing userID, most recently updated first.
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)

	// AppendMessage stores msg and refreshes the conversation's last-message
	// snapshot. UpdatedAt never moves backwards.
	AppendMessage(ctx context.Context, msg Message) error

	GetMessage(ctx context.Context, id string) (Message, error)

	// ListMessages returns messages of q.ConversationID ordered newest first.
	ListMessages(ctx context.Context, q MessageQuery) ([]Message, error)

	// MarkRead adds userID to ReadBy of the newest window messages that lack it
	// and returns how many were updated.
	MarkRead(ctx context.Context, conversationID, userID string, window int) (int, error)

	// UpdateMessageContent replaces content and sets Edited. The last-message
	// snapshot follows when the edited message is the newest.
	UpdateMessageContent(ctx context.Context, id, content string) (Message, error)

	// DeleteMessage removes a message and rebuilds the last-message snapshot
	// from what remains (nil when the conversation is empty). UpdatedAt is kept.
	DeleteMessage(ctx context.Context, id string) error

	// RemoveParticipant drops userID from the conversation and recomputes its key.
	// When nobody remains, the conversation and all its messages are deleted and
	// deleted=true is returned.
	RemoveParticipant(ctx context.Context, conversationID, userID string) (deleted bool, err error)

	// Ping checks backend reachability for /readyz.
	Ping(ctx context.Context) error

	Close() error
}

// MessageQuery selects a page of messages.
type MessageQuery struct {
	ConversationID string
	Before         *time.Time
	Limit          int
}
