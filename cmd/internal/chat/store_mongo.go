package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoChatsCollection    = "direct_chats"
	mongoMessagesCollection = "direct_messages"
)

type mongoLastMessage struct {
	Content   string    `bson:"content"`
	Sender    string    `bson:"sender"`
	Timestamp time.Time `bson:"timestamp"`
}

type mongoChat struct {
	ID              string            `bson:"_id"`
	Participants    []string          `bson:"participants"`
	ParticipantsKey string            `bson:"participants_key"`
	CreatedAt       time.Time         `bson:"created_at"`
	UpdatedAt       time.Time         `bson:"updated_at"`
	LastMessage     *mongoLastMessage `bson:"last_message,omitempty"`
}

type mongoMessage struct {
	ID        string    `bson:"_id"`
	ChatID    string    `bson:"chat_id"`
	Sender    string    `bson:"sender"`
	Content   string    `bson:"content"`
	Type      string    `bson:"type"`
	Timestamp time.Time `bson:"timestamp"`
	ReadBy    []string  `bson:"read_by"`
	Edited    bool      `bson:"edited"`
}

// MongoRepository is a Repository backed by MongoDB.
//
// The client is owned by the caller. MongoDB stores timestamps with millisecond
// precision, which is why Service truncates them before persisting.
type MongoRepository struct {
	db       *mongo.Database
	chats    *mongo.Collection
	messages *mongo.Collection
}

// NewMongoRepository constructs a Repository over db's direct_chats and direct_messages collections.
func NewMongoRepository(db *mongo.Database) (*MongoRepository, error) {
	if db == nil {
		return nil, errors.New("chat: nil mongo database")
	}
	return &MongoRepository{
		db:       db,
		chats:    db.Collection(mongoChatsCollection),
		messages: db.Collection(mongoMessagesCollection),
	}, nil
}

// EnsureIndexes creates the indexes the repository relies on. It is idempotent.
//
// The pair-key index is unique only for conversations that still have two or
// more participants, so a conversation left by one side never blocks a new one.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.chats.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "participants_key", Value: 1}},
			Options: options.Index().
				SetName("participants_key_pair_uq").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"participants.1": bson.M{"$exists": true}}),
		},
		{
			Keys:    bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("participants_updated_at"),
		},
	})
	if err != nil {
		return fmt.Errorf("chat indexes: %w", err)
	}

	_, err = r.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}},
		Options: options.Index().SetName("chat_id_timestamp"),
	})
	if err != nil {
		return fmt.Errorf("message indexes: %w", err)
	}
	return nil
}

// Close is a no-op because the client is owned by the caller.
func (r *MongoRepository) Close() error { return nil }

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.db.Client().Ping(ctx, nil)
}

func (r *MongoRepository) CreateConversation(ctx context.Context, conv Conversation) (Conversation, bool, error) {
	const op = "chat.mongo.CreateConversation"
	if conv.ID == "" || len(conv.Participants) == 0 {
		return Conversation{}, false, invalidInput(op, "invalid conversation")
	}

	doc := mongoChat{
		ID:              conv.ID,
		Participants:    conv.Participants,
		ParticipantsKey: conv.ParticipantsKey,
		CreatedAt:       conv.CreatedAt,
		UpdatedAt:       conv.UpdatedAt,
	}
	_, err := r.chats.InsertOne(ctx, doc)
	if err == nil {
		return chatFromMongo(doc), true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return Conversation{}, false, fmt.Errorf("insert chat: %w", err)
	}

	var existing mongoChat
	err = r.chats.FindOne(ctx, bson.M{
		"participants_key": conv.ParticipantsKey,
		"participants.1":   bson.M{"$exists": true},
	}).Decode(&existing)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Conversation{}, false, OpError{Op: op, Kind: ErrConflict}
	}
	if err != nil {
		return Conversation{}, false, err
	}
	return chatFromMongo(existing), false, nil
}

func (r *MongoRepository) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var doc mongoChat
	err := r.chats.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Conversation{}, notFound("chat.mongo.GetConversation", "chat not found")
	}
	if err != nil {
		return Conversation{}, err
	}
	return chatFromMongo(doc), nil
}

func (r *MongoRepository) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := r.chats.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []mongoChat
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]Conversation, 0, len(docs))
	for _, d := range docs {
		out = append(out, chatFromMongo(d))
	}
	return out, nil
}

// AppendMessage inserts the message before touching the chat, so a snapshot never
// points at a message that was not stored. A failed snapshot update removes the
// message again. Standalone servers have no multi-document transactions.
func (r *MongoRepository) AppendMessage(ctx context.Context, msg Message) error {
	const op = "chat.mongo.AppendMessage"

	if _, err := r.messages.InsertOne(ctx, messageToMongo(msg)); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	res, err := r.chats.UpdateOne(ctx,
		bson.M{"_id": msg.ConversationID},
		bson.M{
			"$set": bson.M{"last_message": mongoLastMessage{
				Content:   msg.Content,
				Sender:    msg.Sender,
				Timestamp: msg.Timestamp,
			}},
			"$max": bson.M{"updated_at": msg.Timestamp},
		},
	)
	switch {
	case err != nil:
		err = fmt.Errorf("update chat snapshot: %w", err)
	case res.MatchedCount == 0:
		err = notFound(op, "chat not found")
	default:
		return nil
	}

	// The caller's context may already be done; the orphan must still go.
	undoCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, derr := r.messages.DeleteOne(undoCtx, bson.M{"_id": msg.ID}); derr != nil {
		return errors.Join(err, fmt.Errorf("remove orphan message %s: %w", msg.ID, derr))
	}
	return err
}

func (r *MongoRepository) GetMessage(ctx context.Context, id string) (Message, error) {
	var doc mongoMessage
	err := r.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Message{}, notFound("chat.mongo.GetMessage", "message not found")
	}
	if err != nil {
		return Message{}, err
	}
	return messageFromMongo(doc), nil
}

func (r *MongoRepository) ListMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	filter := bson.M{"chat_id": q.ConversationID}
	if q.Before != nil {
		filter["timestamp"] = bson.M{"$lt": *q.Before}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(q.Limit))

	cursor, err := r.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []mongoMessage
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, messageFromMongo(d))
	}
	return out, nil
}

func (r *MongoRepository) MarkRead(ctx context.Context, conversationID, userID string, window int) (int, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(window)).
		SetProjection(bson.M{"_id": 1})

	cursor, err := r.messages.Find(ctx, bson.M{"chat_id": conversationID}, opts)
	if err != nil {
		return 0, err
	}
	var heads []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &heads); err != nil {
		return 0, err
	}
	if len(heads) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(heads))
	for _, h := range heads {
		ids = append(ids, h.ID)
	}

	// $ne in the filter keeps the count exact when two readers race.
	res, err := r.messages.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "read_by": bson.M{"$ne": userID}},
		bson.M{"$addToSet": bson.M{"read_by": userID}},
	)
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}

func (r *MongoRepository) UpdateMessageContent(ctx context.Context, id, content string) (Message, error) {
	var doc mongoMessage
	err := r.messages.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"content": content, "edited": true}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Message{}, notFound("chat.mongo.UpdateMessageContent", "message not found")
	}
	if err != nil {
		return Message{}, err
	}
	if err := r.refreshSnapshot(ctx, doc.ChatID, doc.Timestamp); err != nil {
		return Message{}, err
	}
	return messageFromMongo(doc), nil
}

func (r *MongoRepository) DeleteMessage(ctx context.Context, id string) error {
	var doc mongoMessage
	err := r.messages.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return notFound("chat.mongo.DeleteMessage", "message not found")
	}
	if err != nil {
		return err
	}
	return r.refreshSnapshot(ctx, doc.ChatID, doc.Timestamp)
}

// refreshSnapshot rewrites last_message from the newest remaining message after
// the message at affected changed. A snapshot newer than affected already belongs
// to a later append and is left alone.
func (r *MongoRepository) refreshSnapshot(ctx context.Context, chatID string, affected time.Time) error {
	filter := bson.M{
		"_id": chatID,
		"$or": bson.A{
			bson.M{"last_message": nil},
			bson.M{"last_message.timestamp": bson.M{"$lte": affected}},
		},
	}

	var newest mongoMessage
	err := r.messages.FindOne(ctx,
		bson.M{"chat_id": chatID},
		options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}),
	).Decode(&newest)

	var update bson.M
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		update = bson.M{"$unset": bson.M{"last_message": ""}}
	case err != nil:
		return fmt.Errorf("find newest message: %w", err)
	default:
		update = bson.M{"$set": bson.M{"last_message": mongoLastMessage{
			Content:   newest.Content,
			Sender:    newest.Sender,
			Timestamp: newest.Timestamp,
		}}}
	}

	if _, err := r.chats.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("refresh chat snapshot: %w", err)
	}
	return nil
}

func (r *MongoRepository) RemoveParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	const op = "chat.mongo.RemoveParticipant"

	var doc mongoChat
	err := r.chats.FindOneAndUpdate(ctx,
		bson.M{"_id": conversationID, "participants": userID},
		bson.M{"$pull": bson.M{"participants": userID}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, notFound(op, "participant not found")
	}
	if err != nil {
		return false, err
	}

	if len(doc.Participants) == 0 {
		if _, err := r.messages.DeleteMany(ctx, bson.M{"chat_id": conversationID}); err != nil {
			return false, fmt.Errorf("delete messages: %w", err)
		}
		if _, err := r.chats.DeleteOne(ctx, bson.M{"_id": conversationID, "participants": bson.M{"$size": 0}}); err != nil {
			return false, fmt.Errorf("delete chat: %w", err)
		}
		return true, nil
	}

	// Guarded on the participant set we observed; a concurrent leave writes its own key.
	remaining := NormalizeParticipants(doc.Participants...)
	if _, err := r.chats.UpdateOne(ctx,
		bson.M{"_id": conversationID, "participants": doc.Participants},
		bson.M{"$set": bson.M{"participants": remaining, "participants_key": PairKey(remaining...)}},
	); err != nil {
		return false, fmt.Errorf("update participants key: %w", err)
	}
	return false, nil
}

func chatFromMongo(d mongoChat) Conversation {
	c := Conversation{
		ID:              d.ID,
		Participants:    append([]string(nil), d.Participants...),
		ParticipantsKey: d.ParticipantsKey,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
	if d.LastMessage != nil {
		c.LastMessage = &LastMessage{
			Content:   d.LastMessage.Content,
			Sender:    d.LastMessage.Sender,
			Timestamp: d.LastMessage.Timestamp.UTC(),
		}
	}
	return c
}

func messageToMongo(m Message) mongoMessage {
	readBy := m.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	return mongoMessage{
		ID:        m.ID,
		ChatID:    m.ConversationID,
		Sender:    m.Sender,
		Content:   m.Content,
		Type:      string(m.Type),
		Timestamp: m.Timestamp,
		ReadBy:    readBy,
		Edited:    m.Edited,
	}
}

func messageFromMongo(d mongoMessage) Message {
	return Message{
		ID:             d.ID,
		ConversationID: d.ChatID,
		Sender:         d.Sender,
		Content:        d.Content,
		Type:           MessageType(d.Type),
		Timestamp:      d.Timestamp.UTC(),
		ReadBy:         d.ReadBy,
		Edited:         d.Edited,
	}
}

var _ Repository = (*MongoRepository)(nil)
