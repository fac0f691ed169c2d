package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// TransitionRepository stores the lifecycle audit trail.
type TransitionRepository interface {
	Create(ctx context.Context, record *domain.TransitionRecord) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TransitionRecord, error)
}

type transitionRepository struct {
	pool *pgxpool.Pool
}

// NewTransitionRepository builds repository.
func NewTransitionRepository(pool *pgxpool.Pool) TransitionRepository {
	return &transitionRepository{pool: pool}
}

func (r *transitionRepository) Create(ctx context.Context, record *domain.TransitionRecord) error {
	const query = `
        INSERT INTO ticket_transitions (ticket_id, actor_id, from_status, to_status, note)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		record.TicketID,
		record.ActorID,
		record.FromStatus,
		record.ToStatus,
		record.Note,
	).Scan(&record.ID, &record.CreatedAt)
}

func (r *transitionRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TransitionRecord, error) {
	const query = `
        SELECT id, ticket_id, actor_id, from_status, to_status, note, created_at
        FROM ticket_transitions WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TransitionRecord
	for rows.Next() {
		var record domain.TransitionRecord
		if err := rows.Scan(
			&record.ID,
			&record.TicketID,
			&record.ActorID,
			&record.FromStatus,
			&record.ToStatus,
			&record.Note,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, rows.Err()
}
