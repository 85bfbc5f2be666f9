package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticketdesk/internal/domain"
)

// TicketRepository is the record store for tickets.
// Put replaces the whole record and is durable before it returns.
type TicketRepository interface {
	Get(ctx context.Context, id string) (*domain.Ticket, error)
	Put(ctx context.Context, ticket *domain.Ticket) error
	FindOpenByOwner(ctx context.Context, ownerID string) (*domain.Ticket, error)
	FindByOwner(ctx context.Context, ownerID string) ([]domain.Ticket, error)
	FindByExternalID(ctx context.Context, externalID string) ([]domain.Ticket, error)
	All(ctx context.Context) ([]domain.Ticket, error)
	Ping(ctx context.Context) error
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the Postgres driver.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, owner_id, channel_ref, category, external_id, fields, state, assignee_id,
        routing_category, archive_bucket, close_reason, closed_by, notes, reminder_stage,
        control_message_ref, created_at, updated_at, closed_at, revision`

func (r *ticketRepository) Get(ctx context.Context, id string) (*domain.Ticket, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1`, id)
	if err != nil {
		return nil, storeError("get ticket", err)
	}
	defer rows.Close()
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, domain.ErrNotFound
	}
	return &tickets[0], nil
}

// Put upserts the record. The stored revision must match the caller's copy,
// otherwise another writer got there first.
func (r *ticketRepository) Put(ctx context.Context, ticket *domain.Ticket) error {
	fields, err := json.Marshal(nonNilFields(ticket.Fields))
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	notes, err := json.Marshal(nonNilNotes(ticket.Notes))
	if err != nil {
		return fmt.Errorf("encode notes: %w", err)
	}

	const query = `
        INSERT INTO tickets (` + ticketColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
        ON CONFLICT (id) DO UPDATE SET
            owner_id=EXCLUDED.owner_id, channel_ref=EXCLUDED.channel_ref, category=EXCLUDED.category,
            external_id=EXCLUDED.external_id, fields=EXCLUDED.fields, state=EXCLUDED.state,
            assignee_id=EXCLUDED.assignee_id, routing_category=EXCLUDED.routing_category,
            archive_bucket=EXCLUDED.archive_bucket, close_reason=EXCLUDED.close_reason,
            closed_by=EXCLUDED.closed_by, notes=EXCLUDED.notes, reminder_stage=EXCLUDED.reminder_stage,
            control_message_ref=EXCLUDED.control_message_ref, updated_at=EXCLUDED.updated_at,
            closed_at=EXCLUDED.closed_at, revision=EXCLUDED.revision
        WHERE tickets.revision = $20`

	next := ticket.Revision + 1
	cmd, err := r.pool.Exec(ctx, query,
		ticket.ID,
		ticket.OwnerID,
		ticket.ChannelRef,
		ticket.Category,
		ticket.ExternalID,
		fields,
		ticket.State,
		ticket.AssigneeID,
		ticket.RoutingCategory,
		ticket.ArchiveBucket,
		ticket.CloseReason,
		ticket.ClosedBy,
		notes,
		ticket.ReminderStage,
		ticket.ControlMessageRef,
		ticket.CreatedAt,
		ticket.UpdatedAt,
		ticket.ClosedAt,
		next,
		ticket.Revision,
	)
	if err != nil {
		return storeError("put ticket", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("put ticket %s: %w", ticket.ID, domain.ErrRevisionConflict)
	}
	ticket.Revision = next
	return nil
}

func (r *ticketRepository) FindOpenByOwner(ctx context.Context, ownerID string) (*domain.Ticket, error) {
	tickets, err := r.list(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE owner_id=$1 AND state <> $2 ORDER BY created_at DESC LIMIT 1`,
		ownerID, domain.TicketStateClosed)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, domain.ErrNotFound
	}
	return &tickets[0], nil
}

func (r *ticketRepository) FindByOwner(ctx context.Context, ownerID string) ([]domain.Ticket, error) {
	return r.list(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE owner_id=$1 ORDER BY created_at, id`, ownerID)
}

func (r *ticketRepository) FindByExternalID(ctx context.Context, externalID string) ([]domain.Ticket, error) {
	return r.list(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE external_id=$1 ORDER BY created_at, id`, externalID)
}

func (r *ticketRepository) All(ctx context.Context) ([]domain.Ticket, error) {
	return r.list(ctx, `SELECT `+ticketColumns+` FROM tickets ORDER BY created_at, id`)
}

func (r *ticketRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return storeError("ping", err)
	}
	return nil
}

func (r *ticketRepository) list(ctx context.Context, query string, args ...any) ([]domain.Ticket, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeError("query tickets", err)
	}
	defer rows.Close()
	return scanTickets(rows)
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var (
			ticket domain.Ticket
			fields []byte
			notes  []byte
		)
		if err := rows.Scan(
			&ticket.ID,
			&ticket.OwnerID,
			&ticket.ChannelRef,
			&ticket.Category,
			&ticket.ExternalID,
			&fields,
			&ticket.State,
			&ticket.AssigneeID,
			&ticket.RoutingCategory,
			&ticket.ArchiveBucket,
			&ticket.CloseReason,
			&ticket.ClosedBy,
			&notes,
			&ticket.ReminderStage,
			&ticket.ControlMessageRef,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
			&ticket.ClosedAt,
			&ticket.Revision,
		); err != nil {
			return nil, storeError("scan ticket", err)
		}
		if err := json.Unmarshal(fields, &ticket.Fields); err != nil {
			return nil, fmt.Errorf("decode fields of %s: %w", ticket.ID, err)
		}
		if err := json.Unmarshal(notes, &ticket.Notes); err != nil {
			return nil, fmt.Errorf("decode notes of %s: %w", ticket.ID, err)
		}
		if len(ticket.Fields) == 0 {
			ticket.Fields = nil
		}
		if len(ticket.Notes) == 0 {
			ticket.Notes = nil
		}
		result = append(result, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate tickets", err)
	}
	return result, nil
}

func storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
}

func nonNilFields(f map[string]string) map[string]string {
	if f == nil {
		return map[string]string{}
	}
	return f
}

func nonNilNotes(n []domain.Note) []domain.Note {
	if n == nil {
		return []domain.Note{}
	}
	return n
}
