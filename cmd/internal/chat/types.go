package chat

import (
	"slices"
	"time"

	v1 "github.com/Marco-Polo-coding/TFG-Jose-Abreu/shared/contracts/directchat/v1"
)

// MessageType tags the payload kind of a message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
)

// Valid reports whether t is a known payload kind.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage:
		return true
	}
	return false
}

// LastMessage is the denormalized snapshot used by conversation lists.
type LastMessage struct {
	Content   string
	Sender    string
	Timestamp time.Time
}

// Conversation is a persisted direct-messaging thread.
//
// Participants is kept sorted and ParticipantsKey is always PairKey(Participants...).
type Conversation struct {
	ID              string
	Participants    []string
	ParticipantsKey string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastMessage     *LastMessage
}

// HasParticipant reports whether userID currently belongs to the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && slices.Contains(c.Participants, userID)
}

// Message is one persisted unit of conversation content.
type Message struct {
	ID             string
	ConversationID string
	Sender         string
	Content        string
	Type           MessageType
	Timestamp      time.Time
	ReadBy         []string
	Edited         bool
}

// ReadByUser reports whether userID has acknowledged the message.
func (m Message) ReadByUser(userID string) bool {
	return slices.Contains(m.ReadBy, userID)
}

// Wire converts m into the shape sent to clients, with an ISO timestamp.
func (m Message) Wire() v1.Message {
	readBy := m.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	return v1.Message{
		ID:        m.ID,
		ChatID:    m.ConversationID,
		Sender:    m.Sender,
		Content:   m.Content,
		Type:      string(m.Type),
		Timestamp: v1.FormatTimestamp(m.Timestamp),
		ReadBy:    readBy,
		Edited:    m.Edited,
	}
}

// User is the directory view of an account.
type User struct {
	ID          string
	DisplayName string
}

// SendMessageRequest is the typed input of Service.SendMessage.
type SendMessageRequest struct {
	ConversationID string
	Sender         string
	Content        string
	Type           MessageType
}

// ListMessagesRequest is the typed input of Service.ListMessages.
// Before is an exclusive cursor: only messages strictly older are returned.
type ListMessagesRequest struct {
	ConversationID string
	Caller         string
	Limit          int
	Before         *time.Time
}

func cloneConversation(c Conversation) Conversation {
	c.Participants = slices.Clone(c.Participants)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		c.LastMessage = &lm
	}
	return c
}

func cloneMessage(m Message) Message {
	m.ReadBy = slices.Clone(m.ReadBy)
	return m
}
