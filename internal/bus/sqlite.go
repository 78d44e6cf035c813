package bus

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLiteBus is a persistent Bus backed by SQLite. Messages are delivered in
// FIFO order per topic set, using an auto-incrementing id. Receivers poll.
type SQLiteBus struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteBus initializes the messages table in the given DB and returns a
// new bus.
func NewSQLiteBus(db *sql.DB) (*SQLiteBus, error) {
	b := &SQLiteBus{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	if err := b.initSchema(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBus) initSchema() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS bus_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			topic TEXT NOT NULL,
			message BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_bus_messages_topic ON bus_messages(topic, id);
	`)
	return err
}

// Ensure SQLiteBus implements Bus.
var _ Bus = (*SQLiteBus)(nil)

func (b *SQLiteBus) Publish(ctx context.Context, m Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.PublishedAt.IsZero() {
		m.PublishedAt = time.Now().UTC()
	}
	data, err := encodeMessage(m)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, `INSERT INTO bus_messages (topic, message) VALUES (?, ?)`, string(m.Topic), data)
	return err
}

func (b *SQLiteBus) Receive(ctx context.Context, topics ...Topic) (*Message, error) {
	if len(topics) == 0 {
		return nil, errors.New("at least one topic is required")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(topics)), ",")
	args := make([]any, len(topics))
	for i, t := range topics {
		args[i] = string(t)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		m, err := b.claim(ctx, placeholders, args)
		if err != nil {
			return nil, err
		}
		if m != nil {
			return m, nil
		}

		// Nothing available: sleep a bit and retry.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.pollInterval):
		}
	}
}

// claim deletes and returns the oldest matching message, or nil if none.
func (b *SQLiteBus) claim(ctx context.Context, placeholders string, args []any) (*Message, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id   int64
		data []byte
	)
	row := tx.QueryRowContext(ctx, `
		SELECT id, message
		FROM bus_messages
		WHERE topic IN (`+placeholders+`)
		ORDER BY id
		LIMIT 1`, args...)
	if err := row.Scan(&id, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	// Delete the row we just claimed; another receiver may have won.
	res, err := tx.ExecContext(ctx, `DELETE FROM bus_messages WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return decodeMessage(data)
}

func (b *SQLiteBus) Len(topic Topic) int {
	var n int
	err := b.db.QueryRow(`SELECT COUNT(*) FROM bus_messages WHERE topic = ?`, string(topic)).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}
