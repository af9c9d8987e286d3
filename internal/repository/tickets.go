package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicate marks an insert rejected by a uniqueness constraint. The
// ticket service collapses it into the idempotent "exists" branch.
var ErrDuplicate = errors.New("duplicate row")

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Ticket is one row of the tickets table.
type Ticket struct {
	ID          pgtype.UUID        `json:"id"`
	IncidentID  pgtype.UUID        `json:"incident_id"`
	Status      string             `json:"status"`
	SLADeadline pgtype.Timestamptz `json:"sla_deadline_utc"`
	CreatedAt   pgtype.Timestamptz `json:"created_at_utc"`
}

// TicketCreate carries a new ticket. IncidentDBID must already be the
// derived uuid.
type TicketCreate struct {
	ID           uuid.UUID
	IncidentDBID uuid.UUID
	Status       string
	SLADeadline  time.Time
	CreatedAt    time.Time
}

// TicketRepo persists tickets and their assignments.
type TicketRepo struct {
	pool *pgxpool.Pool
}

// NewTicketRepo constructs a TicketRepo.
func NewTicketRepo(pool *pgxpool.Pool) *TicketRepo {
	return &TicketRepo{pool: pool}
}

// Get loads a ticket by its public id.
func (r *TicketRepo) Get(ctx context.Context, ticketID string) (Ticket, error) {
	return r.one(ctx,
		`SELECT id, incident_id, status, sla_deadline, created_at
		 FROM tickets WHERE id = $1`,
		pgUUID(DeriveUUID(ticketID)), "ticket "+ticketID)
}

// GetByIncident loads the ticket bound to an incident, if any. At most one
// exists per incident.
func (r *TicketRepo) GetByIncident(ctx context.Context, incidentDBID uuid.UUID) (Ticket, error) {
	return r.one(ctx,
		`SELECT id, incident_id, status, sla_deadline, created_at
		 FROM tickets WHERE incident_id = $1`,
		pgUUID(incidentDBID), "ticket for incident "+incidentDBID.String())
}

func (r *TicketRepo) one(ctx context.Context, query string, id pgtype.UUID, what string) (Ticket, error) {
	var t Ticket
	err := r.pool.QueryRow(ctx, query, id).
		Scan(&t.ID, &t.IncidentID, &t.Status, &t.SLADeadline, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Ticket{}, fmt.Errorf("%w: %s", ErrNoRows, what)
	}
	if err != nil {
		return Ticket{}, fmt.Errorf("get %s: %w", what, err)
	}
	return t, nil
}

// List returns every ticket, newest first.
func (r *TicketRepo) List(ctx context.Context) ([]Ticket, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, incident_id, status, sla_deadline, created_at
		 FROM tickets ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		var t Ticket
		if err := rows.Scan(&t.ID, &t.IncidentID, &t.Status, &t.SLADeadline, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Create inserts a new ticket. A unique_violation on incident_id surfaces as
// ErrDuplicate so a racing creation can fall back to the existing row.
func (r *TicketRepo) Create(ctx context.Context, p TicketCreate) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO tickets (id, incident_id, status, sla_deadline, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		pgUUID(p.ID), pgUUID(p.IncidentDBID), p.Status, p.SLADeadline, p.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: ticket for incident %s", ErrDuplicate, p.IncidentDBID)
	}
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	return nil
}

// TransitionState performs the compare-and-swap status update. Returns false
// when the stored status no longer matches from.
func (r *TicketRepo) TransitionState(ctx context.Context, ticketID, from, to string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE tickets SET status = $1 WHERE id = $2 AND status = $3`,
		to, pgUUID(DeriveUUID(ticketID)), from,
	)
	if err != nil {
		return false, fmt.Errorf("cas update: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Assign records a ticket assignment.
func (r *TicketRepo) Assign(ctx context.Context, ticketID, assigneeID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO ticket_assignments (id, ticket_id, assignee_id, assigned_at)
		 VALUES ($1, $2, $3, NOW())`,
		pgUUID(uuid.New()), pgUUID(DeriveUUID(ticketID)), pgUUID(DeriveUUID(assigneeID)),
	)
	if err != nil {
		return fmt.Errorf("assign ticket: %w", err)
	}
	return nil
}
