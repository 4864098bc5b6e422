package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lodgeline/lodgeline/internal/message"

	_ "modernc.org/sqlite"
)

// SQLiteGateway is a file-backed Gateway for local development and the
// CLI's offline mode. Unlike the HTTP gateway there is no token to
// derive the caller from, so the local user id is fixed at open time.
type SQLiteGateway struct {
	db          *sql.DB
	localUserID string
	now         func() time.Time
}

// SQLiteOption customizes a SQLiteGateway.
type SQLiteOption func(*SQLiteGateway)

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) SQLiteOption {
	return func(g *SQLiteGateway) {
		if now != nil {
			g.now = now
		}
	}
}

// OpenSQLiteGateway opens (and if needed initializes) a local message
// store at path, acting as localUserID.
func OpenSQLiteGateway(path, localUserID string, opts ...SQLiteOption) (*SQLiteGateway, error) {
	if strings.TrimSpace(localUserID) == "" {
		return nil, message.ErrInvalidState
	}
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open message store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to message store: %w", err)
	}

	g := &SQLiteGateway{
		db:          db,
		localUserID: localUserID,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	if err := g.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return g, nil
}

// Close releases the underlying database handle.
func (g *SQLiteGateway) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}

func (g *SQLiteGateway) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			content TEXT NOT NULL,
			property_id TEXT NOT NULL DEFAULT '',
			unit_id TEXT NOT NULL DEFAULT '',
			is_read INTEGER NOT NULL DEFAULT 0,
			read_at TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_inbox_idx ON messages(recipient_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS messages_sent_idx ON messages(sender_id, created_at)`,
	}
	for _, stmt := range statements {
		if _, err := g.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initialize message schema: %w", err)
		}
	}
	return nil
}

// Fetch implements Gateway.
func (g *SQLiteGateway) Fetch(ctx context.Context, dir Direction, f Filters) (Page, error) {
	var where string
	args := []any{g.localUserID}
	switch dir {
	case Inbox:
		where = "recipient_id = ?"
		if f.CounterpartyID != "" {
			where += " AND sender_id = ?"
			args = append(args, f.CounterpartyID)
		}
	case Sent:
		where = "sender_id = ?"
		if f.CounterpartyID != "" {
			where += " AND recipient_id = ?"
			args = append(args, f.CounterpartyID)
		}
	default:
		return Page{}, fmt.Errorf("unknown direction %q", dir)
	}
	if f.PropertyID != "" {
		where += " AND property_id = ?"
		args = append(args, f.PropertyID)
	}

	var total int
	if err := g.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE "+where, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("count messages: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	query := "SELECT id, sender_id, recipient_id, content, property_id, unit_id, is_read, read_at, created_at FROM messages WHERE " +
		where + " ORDER BY created_at, id LIMIT ? OFFSET ?"
	rows, err := g.db.QueryContext(ctx, query, append(args, limit, (page-1)*limit)...)
	if err != nil {
		return Page{}, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]message.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return Page{}, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("scan messages: %w", err)
	}
	return Page{Messages: msgs, Total: total, Page: page, Limit: limit}, nil
}

// Send implements Gateway.
func (g *SQLiteGateway) Send(ctx context.Context, in message.SendInput) (message.Message, error) {
	if err := in.Validate(); err != nil {
		return message.Message{}, err
	}
	m := message.Message{
		ID:          uuid.NewString(),
		SenderID:    g.localUserID,
		RecipientID: in.RecipientID,
		Content:     in.Content,
		PropertyID:  in.PropertyID,
		UnitID:      in.UnitID,
		CreatedAt:   g.now(),
	}
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, recipient_id, content, property_id, unit_id, is_read, read_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, NULL, ?)`,
		m.ID, m.SenderID, m.RecipientID, m.Content, m.PropertyID, m.UnitID, m.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return message.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// MarkMessageRead implements Gateway.
func (g *SQLiteGateway) MarkMessageRead(ctx context.Context, id string) (int, error) {
	readAt := g.now().Format(time.RFC3339Nano)
	res, err := g.db.ExecContext(ctx,
		"UPDATE messages SET is_read = 1, read_at = ? WHERE id = ? AND recipient_id = ? AND is_read = 0",
		readAt, id, g.localUserID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark message read: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		var exists int
		if err := g.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE id = ?", id).Scan(&exists); err == nil && exists == 0 {
			return 0, fmt.Errorf("%w: message %s", message.ErrStaleWrite, id)
		}
	}
	return int(affected), nil
}

// MarkConversationRead implements Gateway.
func (g *SQLiteGateway) MarkConversationRead(ctx context.Context, counterpartyID string) (int, error) {
	readAt := g.now().Format(time.RFC3339Nano)
	res, err := g.db.ExecContext(ctx,
		"UPDATE messages SET is_read = 1, read_at = ? WHERE sender_id = ? AND recipient_id = ? AND is_read = 0",
		readAt, counterpartyID, g.localUserID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

// Delete implements Gateway.
func (g *SQLiteGateway) Delete(ctx context.Context, id string) error {
	res, err := g.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: message %s", message.ErrStaleWrite, id)
	}
	return nil
}

// Seed inserts a message verbatim; used to populate local stores.
func (g *SQLiteGateway) Seed(ctx context.Context, m message.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = g.now()
	}
	var readAt any
	if m.ReadAt != nil {
		readAt = m.ReadAt.Format(time.RFC3339Nano)
	}
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, recipient_id, content, property_id, unit_id, is_read, read_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SenderID, m.RecipientID, m.Content, m.PropertyID, m.UnitID, boolToInt(m.IsRead), readAt, m.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("seed message: %w", err)
	}
	return nil
}

func scanMessage(rows *sql.Rows) (message.Message, error) {
	var (
		m         message.Message
		isRead    int
		readAt    sql.NullString
		createdAt string
	)
	if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.PropertyID, &m.UnitID, &isRead, &readAt, &createdAt); err != nil {
		return message.Message{}, fmt.Errorf("scan message row: %w", err)
	}
	m.IsRead = isRead != 0
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return message.Message{}, fmt.Errorf("parse created_at: %w", err)
	}
	m.CreatedAt = created
	if readAt.Valid && readAt.String != "" {
		parsed, err := time.Parse(time.RFC3339Nano, readAt.String)
		if err != nil {
			return message.Message{}, fmt.Errorf("parse read_at: %w", err)
		}
		m.ReadAt = &parsed
	}
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
