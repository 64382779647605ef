package v1

// Inbound is the union of every client -> server frame.
// Unknown fields are ignored; Event selects which fields are meaningful.
type Inbound struct {
	Event   string `json:"event"`
	Content string `json:"content,omitempty"`
	Type    string `json:"type,omitempty"` // message payload kind, "text" when empty
	Token   string `json:"token,omitempty"`
}

// Message is the canonical message shape shared by realtime frames and REST responses.
type Message struct {
	ID        string   `json:"id"`
	ChatID    string   `json:"chat_id"`
	Sender    string   `json:"sender"`
	Content   string   `json:"content"`
	Type      string   `json:"type"`
	Timestamp string   `json:"timestamp"`
	ReadBy    []string `json:"read_by"`
	Edited    bool     `json:"edited"`
}

// ConnectedFrame acknowledges a registered connection.
type ConnectedFrame struct {
	Event  string `json:"event"`
	ChatID string `json:"chat_id"`
	User   string `json:"user"`
	ConnID string `json:"conn_id"`
}

// MessageFrame carries a canonical message (EventMessage or EventMessageEdited).
type MessageFrame struct {
	Event   string  `json:"event"`
	Message Message `json:"message"`
}

// TypingFrame carries a typing presence change.
type TypingFrame struct {
	Event    string `json:"event"`
	User     string `json:"user"`
	UserName string `json:"user_name,omitempty"`
	Typing   bool   `json:"typing"`
}

// ReadFrame announces that User has read ChatID.
type ReadFrame struct {
	Event  string `json:"event"`
	User   string `json:"user"`
	ChatID string `json:"chat_id"`
}

// MessageDeletedFrame announces a removed message.
type MessageDeletedFrame struct {
	Event     string `json:"event"`
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
}

// ErrorFrame reports a failed inbound event to its origin.
type ErrorFrame struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
