package chat

import (
	"context"
	"sort"
	"sync"
)

// memMaxMessagesPerConversation caps the history kept per conversation. Appending
// past it drops the oldest messages; they are gone for ListMessages and GetMessage.
const memMaxMessagesPerConversation = 10_000

// InMemoryRepository is the dev-only Repository used when no database is configured.
// A single mutex serializes every operation, so each method is trivially atomic.
// History is bounded by memMaxMessagesPerConversation.
type InMemoryRepository struct {
	mu       sync.Mutex
	convs    map[string]Conversation
	byKey    map[string]string   // participants key -> conversation id (only for 2+ participants)
	msgs     map[string]Message  // message id -> message
	convMsgs map[string][]string // conversation id -> message ids, append order
}

// NewInMemoryRepository constructs an empty in-memory Repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		convs:    make(map[string]Conversation),
		byKey:    make(map[string]string),
		msgs:     make(map[string]Message),
		convMsgs: make(map[string][]string),
	}
}

// Close is a no-op.
func (r *InMemoryRepository) Close() error { return nil }

// Ping always succeeds.
func (r *InMemoryRepository) Ping(context.Context) error { return nil }

func (r *InMemoryRepository) CreateConversation(ctx context.Context, conv Conversation) (Conversation, bool, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, false, err
	}
	if conv.ID == "" || len(conv.Participants) == 0 {
		return Conversation{}, false, invalidInput("chat.memory.CreateConversation", "invalid conversation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byKey[conv.ParticipantsKey]; ok {
		return cloneConversation(r.convs[id]), false, nil
	}

	conv = cloneConversation(conv)
	r.convs[conv.ID] = conv
	if len(conv.Participants) >= 2 {
		r.byKey[conv.ParticipantsKey] = conv.ID
	}
	return cloneConversation(conv), true, nil
}

func (r *InMemoryRepository) GetConversation(ctx context.Context, id string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.convs[id]
	if !ok {
		return Conversation{}, notFound("chat.memory.GetConversation", "chat not found")
	}
	return cloneConversation(c), nil
}

func (r *InMemoryRepository) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	out := make([]Conversation, 0, 8)
	for _, c := range r.convs {
		if c.HasParticipant(userID) {
			out = append(out, cloneConversation(c))
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *InMemoryRepository) AppendMessage(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.convs[msg.ConversationID]
	if !ok {
		return notFound("chat.memory.AppendMessage", "chat not found")
	}

	r.msgs[msg.ID] = cloneMessage(msg)
	ids := append(r.convMsgs[msg.ConversationID], msg.ID)

	// Bound memory to avoid unbounded growth in dev.
	if len(ids) > memMaxMessagesPerConversation {
		for _, old := range ids[:len(ids)-memMaxMessagesPerConversation] {
			delete(r.msgs, old)
		}
		ids = append([]string(nil), ids[len(ids)-memMaxMessagesPerConversation:]...)
	}
	r.convMsgs[msg.ConversationID] = ids

	c.LastMessage = &LastMessage{Content: msg.Content, Sender: msg.Sender, Timestamp: msg.Timestamp}
	if msg.Timestamp.After(c.UpdatedAt) {
		c.UpdatedAt = msg.Timestamp
	}
	r.convs[c.ID] = c
	return nil
}

func (r *InMemoryRepository) GetMessage(ctx context.Context, id string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.msgs[id]
	if !ok {
		return Message{}, notFound("chat.memory.GetMessage", "message not found")
	}
	return cloneMessage(m), nil
}

func (r *InMemoryRepository) ListMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	snap := r.newestLocked(q.ConversationID)
	r.mu.Unlock()

	out := make([]Message, 0, min(q.Limit, len(snap)))
	for _, m := range snap {
		if q.Before != nil && !m.Timestamp.Before(*q.Before) {
			continue
		}
		out = append(out, m)
		if len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (r *InMemoryRepository) MarkRead(ctx context.Context, conversationID, userID string, window int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	newest := r.newestLocked(conversationID)
	if len(newest) > window {
		newest = newest[:window]
	}

	updated := 0
	for _, m := range newest {
		if m.ReadByUser(userID) {
			continue
		}
		m.ReadBy = append(m.ReadBy, userID)
		r.msgs[m.ID] = m
		updated++
	}
	return updated, nil
}

func (r *InMemoryRepository) UpdateMessageContent(ctx context.Context, id, content string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.msgs[id]
	if !ok {
		return Message{}, notFound("chat.memory.UpdateMessageContent", "message not found")
	}
	m.Content = content
	m.Edited = true
	r.msgs[id] = m
	r.refreshLastLocked(m.ConversationID)
	return cloneMessage(m), nil
}

func (r *InMemoryRepository) DeleteMessage(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.msgs[id]
	if !ok {
		return notFound("chat.memory.DeleteMessage", "message not found")
	}
	delete(r.msgs, id)

	ids := r.convMsgs[m.ConversationID]
	for i, mid := range ids {
		if mid == id {
			r.convMsgs[m.ConversationID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	r.refreshLastLocked(m.ConversationID)
	return nil
}

func (r *InMemoryRepository) RemoveParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.convs[conversationID]
	if !ok || !c.HasParticipant(userID) {
		return false, notFound("chat.memory.RemoveParticipant", "participant not found")
	}

	if r.byKey[c.ParticipantsKey] == c.ID {
		delete(r.byKey, c.ParticipantsKey)
	}

	remaining := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != userID {
			remaining = append(remaining, p)
		}
	}

	if len(remaining) == 0 {
		for _, mid := range r.convMsgs[c.ID] {
			delete(r.msgs, mid)
		}
		delete(r.convMsgs, c.ID)
		delete(r.convs, c.ID)
		return true, nil
	}

	c.Participants = remaining
	c.ParticipantsKey = PairKey(remaining...)
	if len(remaining) >= 2 {
		if _, taken := r.byKey[c.ParticipantsKey]; !taken {
			r.byKey[c.ParticipantsKey] = c.ID
		}
	}
	r.convs[c.ID] = c
	return false, nil
}

// newestLocked returns the messages of a conversation newest first. Caller holds r.mu.
func (r *InMemoryRepository) newestLocked(conversationID string) []Message {
	ids := r.convMsgs[conversationID]
	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := r.msgs[id]; ok {
			out = append(out, cloneMessage(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// refreshLastLocked rebuilds the last-message snapshot from the newest stored
// message, clearing it when none remain. UpdatedAt is left alone. Caller holds r.mu.
func (r *InMemoryRepository) refreshLastLocked(conversationID string) {
	c, ok := r.convs[conversationID]
	if !ok {
		return
	}
	c.LastMessage = nil
	if newest := r.newestLocked(conversationID); len(newest) > 0 {
		m := newest[0]
		c.LastMessage = &LastMessage{Content: m.Content, Sender: m.Sender, Timestamp: m.Timestamp}
	}
	r.convs[conversationID] = c
}

var _ Repository = (*InMemoryRepository)(nil)
