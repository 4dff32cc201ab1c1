package notifications

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound covers both missing rows and rows owned by another user.
var ErrNotFound = errors.New("notification not found")

// ListParams selects one page of a user's notifications, newest first.
type ListParams struct {
	UserID string
	Limit  int
	Offset int
}

// Store persists notifications. Every mutation is scoped to the owning user.
type Store interface {
	Insert(ctx context.Context, n *Notification) error
	// InsertBatch writes all rows of one envelope atomically and records
	// (consumer, eventID) as processed. It returns false without writing
	// anything when the event was already processed.
	InsertBatch(ctx context.Context, consumer, eventID, routingKey string, ns []*Notification) (bool, error)
	List(ctx context.Context, params ListParams) ([]Notification, int, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id, userID string) (*Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, id, userID string) error
	DeleteAll(ctx context.Context, userID string) (int64, error)
}

// PGStore is the Postgres-backed Store.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

var _ Store = (*PGStore)(nil)

const notificationColumns = `id, user_id, type, title, message, data, is_read, created_at`

const insertNotification = `INSERT INTO notifications (user_id, type, title, message, data)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, is_read, created_at`

// Insert stores n and fills in its id, read flag and timestamp.
func (s *PGStore) Insert(ctx context.Context, n *Notification) error {
	normalize(n)
	err := s.pool.QueryRow(ctx, insertNotification,
		n.UserID, n.Type, n.Title, n.Message, []byte(n.Data),
	).Scan(&n.ID, &n.IsRead, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PGStore) InsertBatch(ctx context.Context, consumer, eventID, routingKey string, ns []*Notification) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Envelopes without an id cannot be deduplicated.
	if eventID != "" {
		tag, err := tx.Exec(ctx,
			`INSERT INTO processed_events (consumer, event_id, routing_key)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (consumer, event_id) DO NOTHING`,
			consumer, eventID, routingKey,
		)
		if err != nil {
			return false, fmt.Errorf("record processed event: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return false, nil
		}
	}

	for _, n := range ns {
		normalize(n)
		if err := tx.QueryRow(ctx, insertNotification,
			n.UserID, n.Type, n.Title, n.Message, []byte(n.Data),
		).Scan(&n.ID, &n.IsRead, &n.CreatedAt); err != nil {
			return false, fmt.Errorf("insert notification for %s: %w", n.UserID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

func (s *PGStore) List(ctx context.Context, params ListParams) ([]Notification, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1`, params.UserID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		params.UserID, params.Limit, params.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications := []Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		notifications = append(notifications, *n)
	}
	return notifications, total, rows.Err()
}

func (s *PGStore) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = false`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (s *PGStore) MarkRead(ctx context.Context, id, userID string) (*Notification, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE notifications SET is_read = true
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+notificationColumns,
		id, userID,
	)
	n, err := scanNotification(row)
	if err != nil {
		return nil, notFound(err)
	}
	return n, nil
}

func (s *PGStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET is_read = true WHERE user_id = $1 AND is_read = false`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) Delete(ctx context.Context, id, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM notifications WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return notFound(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) DeleteAll(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete all: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var data []byte
	if err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &data, &n.IsRead, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.Data = json.RawMessage(data)
	return &n, nil
}

// notFound maps "no row" and malformed uuid ids (22P02) to ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
		return ErrNotFound
	}
	return err
}

func normalize(n *Notification) {
	if n.Type == "" {
		n.Type = TypeGeneral
	}
	if len(n.Data) == 0 {
		n.Data = json.RawMessage("{}")
	}
}
