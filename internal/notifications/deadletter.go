package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDeadLetterNotFound is returned by Get and Delete for unknown ids.
var ErrDeadLetterNotFound = errors.New("dead letter not found")

// DeadLetter is an envelope the consumer gave up on.
type DeadLetter struct {
	ID         int64     `json:"id"`
	EventID    string    `json:"eventId"`
	RoutingKey string    `json:"routingKey"`
	Body       []byte    `json:"body"`
	Error      string    `json:"error"`
	Attempts   int       `json:"attempts"`
	CreatedAt  time.Time `json:"createdAt"`
}

type DeadLetterStore interface {
	Add(ctx context.Context, dl *DeadLetter) error
	List(ctx context.Context, limit int) ([]DeadLetter, error)
	Get(ctx context.Context, id int64) (*DeadLetter, error)
	Delete(ctx context.Context, id int64) error
}

type PGDeadLetterStore struct {
	pool *pgxpool.Pool
}

func NewPGDeadLetterStore(pool *pgxpool.Pool) *PGDeadLetterStore {
	return &PGDeadLetterStore{pool: pool}
}

var _ DeadLetterStore = (*PGDeadLetterStore)(nil)

func (s *PGDeadLetterStore) Add(ctx context.Context, dl *DeadLetter) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO dead_letters (event_id, routing_key, body, error, attempts)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		dl.EventID, dl.RoutingKey, dl.Body, dl.Error, dl.Attempts,
	).Scan(&dl.ID, &dl.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

func (s *PGDeadLetterStore) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, event_id, routing_key, body, error, attempts, created_at
		 FROM dead_letters ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	letters := []DeadLetter{}
	for rows.Next() {
		var dl DeadLetter
		if err := rows.Scan(&dl.ID, &dl.EventID, &dl.RoutingKey, &dl.Body, &dl.Error, &dl.Attempts, &dl.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}

func (s *PGDeadLetterStore) Get(ctx context.Context, id int64) (*DeadLetter, error) {
	var dl DeadLetter
	err := s.pool.QueryRow(ctx,
		`SELECT id, event_id, routing_key, body, error, attempts, created_at
		 FROM dead_letters WHERE id = $1`, id,
	).Scan(&dl.ID, &dl.EventID, &dl.RoutingKey, &dl.Body, &dl.Error, &dl.Attempts, &dl.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dead letter: %w", err)
	}
	return &dl, nil
}

func (s *PGDeadLetterStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dead_letters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeadLetterNotFound
	}
	return nil
}
