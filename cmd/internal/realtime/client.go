package realtime

import (
	"sync"

	"github.com/coder/websocket"
)

// Client is one live connection bound to one participant and one conversation.
//
// Frames are pre-encoded once per broadcast and shared by every recipient.
// send is never closed by the server so concurrent broadcasters cannot panic;
// done signals the connection goroutines to stop instead.
type Client struct {
	ID             string
	UserID         string
	ConversationID string

	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	// kick closes the underlying socket. Set once before the client is registered.
	kick func(code websocket.StatusCode, reason string)
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id, userID, conversationID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		ID:             id,
		UserID:         userID,
		ConversationID: conversationID,
		send:           make(chan []byte, sendQueueSize),
		done:           make(chan struct{}),
	}
}

// Enqueue offers a frame without blocking. It reports false when the queue is
// full or the client is shutting down; the frame is then dropped.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Kick asks the connection to close with code. It never blocks the caller.
func (c *Client) Kick(code websocket.StatusCode, reason string) {
	if c == nil || c.kick == nil {
		return
	}
	go c.kick(code, reason)
}
