package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a Repository backed by PostgreSQL.
//
// It does NOT own the pgx pool; the caller closes it, so Close is a no-op.
// Tables live in a single schema that is validated and quoted in every query.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresRepository behavior.
type PostgresOption func(*PostgresRepository) error

// WithSchema sets the DB schema used by the repository (default: "public").
func WithSchema(schema string) PostgresOption {
	return func(r *PostgresRepository) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		r.schema = schema
		return nil
	}
}

// NewPostgresRepository constructs a Postgres-backed Repository.
func NewPostgresRepository(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresRepository, error) {
	r := &PostgresRepository{
		pool:   pool,
		schema: "public",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return r, nil
}

// Close is a no-op because the pool is owned by the caller.
func (r *PostgresRepository) Close() error { return nil }

func (r *PostgresRepository) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

const convColumns = `id, participants, participants_key, created_at, updated_at,
	last_message_content, last_message_sender, last_message_at`

const msgColumns = `id, chat_id, sender, content, type, ts, read_by, edited`

func (r *PostgresRepository) CreateConversation(ctx context.Context, conv Conversation) (Conversation, bool, error) {
	if conv.ID == "" || len(conv.Participants) == 0 {
		return Conversation{}, false, invalidInput("chat.postgres.CreateConversation", "invalid conversation")
	}
	chats := pgIdent(r.schema, "direct_chats")

	// The partial unique index only covers 2+ participants, matching the lookup below.
	row := r.pool.QueryRow(ctx,
		`INSERT INTO `+chats+` (id, participants, participants_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (participants_key) WHERE cardinality(participants) >= 2 DO NOTHING
		 RETURNING `+convColumns,
		conv.ID, conv.Participants, conv.ParticipantsKey, conv.CreatedAt, conv.UpdatedAt,
	)
	stored, err := scanConversation(row)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, false, fmt.Errorf("insert chat: %w", err)
	}

	row = r.pool.QueryRow(ctx,
		`SELECT `+convColumns+` FROM `+chats+`
		  WHERE participants_key = $1 AND cardinality(participants) >= 2`,
		conv.ParticipantsKey,
	)
	stored, err = scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost a race with a concurrent leave; the caller may retry.
			return Conversation{}, false, OpError{Op: "chat.postgres.CreateConversation", Kind: ErrConflict}
		}
		return Conversation{}, false, err
	}
	return stored, false, nil
}

func (r *PostgresRepository) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+convColumns+` FROM `+pgIdent(r.schema, "direct_chats")+` WHERE id = $1`, id)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, notFound("chat.postgres.GetConversation", "chat not found")
	}
	return c, err
}

func (r *PostgresRepository) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+convColumns+` FROM `+pgIdent(r.schema, "direct_chats")+`
		  WHERE participants @> ARRAY[$1]::text[]
		  ORDER BY updated_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Conversation, 0, 8)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) AppendMessage(ctx context.Context, msg Message) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id string
	err = tx.QueryRow(ctx,
		`UPDATE `+pgIdent(r.schema, "direct_chats")+`
		    SET last_message_content = $2,
		        last_message_sender  = $3,
		        last_message_at      = $4,
		        updated_at           = GREATEST(updated_at, $4)
		  WHERE id = $1
		RETURNING id`,
		msg.ConversationID, msg.Content, msg.Sender, msg.Timestamp,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound("chat.postgres.AppendMessage", "chat not found")
	}
	if err != nil {
		return fmt.Errorf("update chat snapshot: %w", err)
	}

	readBy := msg.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+pgIdent(r.schema, "direct_messages")+` (`+msgColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.ConversationID, msg.Sender, msg.Content, string(msg.Type), msg.Timestamp, readBy, msg.Edited,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) GetMessage(ctx context.Context, id string) (Message, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+msgColumns+` FROM `+pgIdent(r.schema, "direct_messages")+` WHERE id = $1`, id)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, notFound("chat.postgres.GetMessage", "message not found")
	}
	return m, err
}

func (r *PostgresRepository) ListMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	messages := pgIdent(r.schema, "direct_messages")

	var (
		rows pgx.Rows
		err  error
	)
	if q.Before == nil {
		rows, err = r.pool.Query(ctx,
			`SELECT `+msgColumns+` FROM `+messages+`
			  WHERE chat_id = $1
			  ORDER BY ts DESC, id DESC
			  LIMIT $2`,
			q.ConversationID, q.Limit,
		)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT `+msgColumns+` FROM `+messages+`
			  WHERE chat_id = $1 AND ts < $2
			  ORDER BY ts DESC, id DESC
			  LIMIT $3`,
			q.ConversationID, *q.Before, q.Limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0, q.Limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) MarkRead(ctx context.Context, conversationID, userID string, window int) (int, error) {
	messages := pgIdent(r.schema, "direct_messages")

	// Row locks re-check the ANY() predicate, so concurrent readers never append twice.
	tag, err := r.pool.Exec(ctx,
		`UPDATE `+messages+`
		    SET read_by = array_append(read_by, $2)
		  WHERE id IN (
		        SELECT id FROM `+messages+`
		         WHERE chat_id = $1
		         ORDER BY ts DESC, id DESC
		         LIMIT $3)
		    AND NOT ($2 = ANY(read_by))`,
		conversationID, userID, window,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) UpdateMessageContent(ctx context.Context, id, content string) (Message, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`UPDATE `+pgIdent(r.schema, "direct_messages")+`
		    SET content = $2, edited = TRUE
		  WHERE id = $1
		RETURNING `+msgColumns,
		id, content,
	)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, notFound("chat.postgres.UpdateMessageContent", "message not found")
	}
	if err != nil {
		return Message{}, err
	}
	if err := r.refreshSnapshot(ctx, tx, m.ConversationID); err != nil {
		return Message{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (r *PostgresRepository) DeleteMessage(ctx context.Context, id string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var chatID string
	err = tx.QueryRow(ctx,
		`DELETE FROM `+pgIdent(r.schema, "direct_messages")+` WHERE id = $1 RETURNING chat_id`, id,
	).Scan(&chatID)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound("chat.postgres.DeleteMessage", "message not found")
	}
	if err != nil {
		return err
	}
	if err := r.refreshSnapshot(ctx, tx, chatID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// refreshSnapshot copies the newest remaining message into the chat row. With no
// messages left the row subquery yields nothing and the columns become NULL.
func (r *PostgresRepository) refreshSnapshot(ctx context.Context, tx pgx.Tx, chatID string) error {
	_, err := tx.Exec(ctx,
		`UPDATE `+pgIdent(r.schema, "direct_chats")+`
		    SET (last_message_content, last_message_sender, last_message_at) = (
		        SELECT content, sender, ts FROM `+pgIdent(r.schema, "direct_messages")+`
		         WHERE chat_id = $1
		         ORDER BY ts DESC, id DESC
		         LIMIT 1)
		  WHERE id = $1`,
		chatID,
	)
	if err != nil {
		return fmt.Errorf("refresh chat snapshot: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RemoveParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	const op = "chat.postgres.RemoveParticipant"

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	chats := pgIdent(r.schema, "direct_chats")

	var participants []string
	err = tx.QueryRow(ctx, `SELECT participants FROM `+chats+` WHERE id = $1 FOR UPDATE`, conversationID).Scan(&participants)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, notFound(op, "participant not found")
	}
	if err != nil {
		return false, err
	}

	remaining := make([]string, 0, len(participants))
	found := false
	for _, p := range participants {
		if p == userID {
			found = true
			continue
		}
		remaining = append(remaining, p)
	}
	if !found {
		return false, notFound(op, "participant not found")
	}

	if len(remaining) == 0 {
		// direct_messages rows go with it via ON DELETE CASCADE.
		if _, err := tx.Exec(ctx, `DELETE FROM `+chats+` WHERE id = $1`, conversationID); err != nil {
			return false, fmt.Errorf("delete chat: %w", err)
		}
		return true, tx.Commit(ctx)
	}

	remaining = NormalizeParticipants(remaining...)
	if _, err := tx.Exec(ctx,
		`UPDATE `+chats+` SET participants = $2, participants_key = $3 WHERE id = $1`,
		conversationID, remaining, PairKey(remaining...),
	); err != nil {
		return false, fmt.Errorf("update participants: %w", err)
	}
	return false, tx.Commit(ctx)
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		c           Conversation
		lastContent *string
		lastSender  *string
		lastAt      *time.Time
	)
	if err := row.Scan(
		&c.ID,
		&c.Participants,
		&c.ParticipantsKey,
		&c.CreatedAt,
		&c.UpdatedAt,
		&lastContent,
		&lastSender,
		&lastAt,
	); err != nil {
		return Conversation{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	if lastContent != nil && lastAt != nil {
		c.LastMessage = &LastMessage{Content: *lastContent, Timestamp: lastAt.UTC()}
		if lastSender != nil {
			c.LastMessage.Sender = *lastSender
		}
	}
	return c, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m   Message
		typ string
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Content, &typ, &m.Timestamp, &m.ReadBy, &m.Edited); err != nil {
		return Message{}, err
	}
	m.Type = MessageType(typ)
	m.Timestamp = m.Timestamp.UTC()
	return m, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

var _ Repository = (*PostgresRepository)(nil)
