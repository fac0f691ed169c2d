package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// TicketFilter captures listing parameters. OpenOrAssignedTo implements the
// member view: every open ticket plus tickets assigned to that member.
type TicketFilter struct {
	CreatorID        *string
	AssigneeID       *string
	Statuses         []domain.TicketStatus
	OpenOrAssignedTo *string
	Limit            int
	Offset           int
}

const ticketColumns = `id, creator_id, category, urgency, description, status,
               assignee_id, closure_reason, reassigned_to, last_message_at, created_at, updated_at`

// TicketRepository encapsulates ticket persistence. The Mark* methods apply a
// lifecycle transition as a single conditional UPDATE: the row is mutated
// only when it is still in the expected source status, and pgx.ErrNoRows is
// returned otherwise. That makes concurrent transitions on one ticket safe at
// the store level regardless of caller serialization.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	MarkAssigned(ctx context.Context, id, memberID string) (*domain.Ticket, error)
	MarkRejected(ctx context.Context, id string) (*domain.Ticket, error)
	MarkClosed(ctx context.Context, id, reason string, reassignTo *string) (*domain.Ticket, error)
	MarkReopened(ctx context.Context, id string) (*domain.Ticket, error)
	TouchLastMessage(ctx context.Context, id string, at time.Time) error
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (creator_id, category, urgency, description, status)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.CreatorID,
		ticket.Category,
		ticket.Urgency,
		ticket.Description,
		ticket.Status,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) MarkAssigned(ctx context.Context, id, memberID string) (*domain.Ticket, error) {
	query := `
        UPDATE tickets SET status=$2, assignee_id=$3, updated_at=NOW()
        WHERE id=$1 AND status=$4
        RETURNING ` + ticketColumns
	return r.fetchSingle(ctx, query, id, domain.TicketStatusAssigned, memberID, domain.TicketStatusOpen)
}

func (r *ticketRepository) MarkRejected(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `
        UPDATE tickets SET status=$2, updated_at=NOW()
        WHERE id=$1 AND status=$3
        RETURNING ` + ticketColumns
	return r.fetchSingle(ctx, query, id, domain.TicketStatusRejected, domain.TicketStatusOpen)
}

func (r *ticketRepository) MarkClosed(ctx context.Context, id, reason string, reassignTo *string) (*domain.Ticket, error) {
	query := `
        UPDATE tickets SET status=$2, closure_reason=$3, reassigned_to=$4, updated_at=NOW()
        WHERE id=$1 AND status=$5
        RETURNING ` + ticketColumns
	return r.fetchSingle(ctx, query, id, domain.TicketStatusClosed, reason, reassignTo, domain.TicketStatusAssigned)
}

func (r *ticketRepository) MarkReopened(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `
        UPDATE tickets SET status=$2, closure_reason=NULL, reassigned_to=NULL, updated_at=NOW()
        WHERE id=$1 AND status=$3
        RETURNING ` + ticketColumns
	return r.fetchSingle(ctx, query, id, domain.TicketStatusAssigned, domain.TicketStatusClosed)
}

func (r *ticketRepository) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE tickets SET last_message_at=$2, updated_at=NOW() WHERE id=$1`
	cmd, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := r.pool.QueryRow(ctx, query, args...).Scan(
		&ticket.ID,
		&ticket.CreatorID,
		&ticket.Category,
		&ticket.Urgency,
		&ticket.Description,
		&ticket.Status,
		&ticket.AssigneeID,
		&ticket.ClosureReason,
		&ticket.ReassignedTo,
		&ticket.LastMessageAt,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := `SELECT ` + ticketColumns + ` FROM tickets`
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CreatorID != nil {
		args = append(args, *filter.CreatorID)
		clauses = append(clauses, fmt.Sprintf("creator_id=$%d", len(args)))
	}
	if filter.AssigneeID != nil {
		args = append(args, *filter.AssigneeID)
		clauses = append(clauses, fmt.Sprintf("assignee_id=$%d", len(args)))
	}
	if filter.OpenOrAssignedTo != nil {
		args = append(args, domain.TicketStatusOpen)
		statusArg := len(args)
		args = append(args, *filter.OpenOrAssignedTo)
		clauses = append(clauses, fmt.Sprintf("(status=$%d OR assignee_id=$%d)", statusArg, len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(
			&ticket.ID,
			&ticket.CreatorID,
			&ticket.Category,
			&ticket.Urgency,
			&ticket.Description,
			&ticket.Status,
			&ticket.AssigneeID,
			&ticket.ClosureReason,
			&ticket.ReassignedTo,
			&ticket.LastMessageAt,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
