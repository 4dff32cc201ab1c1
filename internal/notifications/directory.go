package notifications

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ParticipantDirectory answers who belongs to a chat at dispatch time.
type ParticipantDirectory interface {
	Participants(ctx context.Context, chatID string) ([]string, error)
}

// PGParticipantDirectory reads the chat service's chat_participants table.
type PGParticipantDirectory struct {
	pool *pgxpool.Pool
}

func NewPGParticipantDirectory(pool *pgxpool.Pool) *PGParticipantDirectory {
	return &PGParticipantDirectory{pool: pool}
}

func (d *PGParticipantDirectory) Participants(ctx context.Context, chatID string) ([]string, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT user_id FROM chat_participants WHERE chat_id = $1 ORDER BY user_id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query participants of %s: %w", chatID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
