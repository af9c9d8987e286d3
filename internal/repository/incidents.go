package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoRows marks lookups that matched nothing.
var ErrNoRows = errors.New("no rows")

// Incident is one row of the incidents write model.
type Incident struct {
	ID            pgtype.UUID        `json:"id"`
	Type          string             `json:"type"`
	Severity      string             `json:"severity"`
	State         string             `json:"state"`
	CorrelationID pgtype.UUID        `json:"correlation_id"`
	CreatedAt     pgtype.Timestamptz `json:"created_at_utc"`
}

// IncidentUpsert carries the fields projected from incident.created.
type IncidentUpsert struct {
	PublicID      string
	Type          string
	Severity      string
	State         string
	CorrelationID string
}

// IncidentRepo persists incidents and their transition audit trail.
type IncidentRepo struct {
	pool *pgxpool.Pool
}

// NewIncidentRepo constructs an IncidentRepo.
func NewIncidentRepo(pool *pgxpool.Pool) *IncidentRepo {
	return &IncidentRepo{pool: pool}
}

// Get loads the incident addressed by its public id.
func (r *IncidentRepo) Get(ctx context.Context, publicID string) (Incident, error) {
	var inc Incident
	err := r.pool.QueryRow(ctx,
		`SELECT id, type, severity, state, correlation_id, created_at
		 FROM incidents WHERE id = $1`,
		pgUUID(DeriveUUID(publicID)),
	).Scan(&inc.ID, &inc.Type, &inc.Severity, &inc.State, &inc.CorrelationID, &inc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Incident{}, fmt.Errorf("%w: incident %q", ErrNoRows, publicID)
	}
	if err != nil {
		return Incident{}, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// List returns the newest incidents first.
func (r *IncidentRepo) List(ctx context.Context, limit int) ([]Incident, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, type, severity, state, correlation_id, created_at
		 FROM incidents ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		var inc Incident
		if err := rows.Scan(&inc.ID, &inc.Type, &inc.Severity, &inc.State, &inc.CorrelationID, &inc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// UpsertFromEvent projects incident.created into the write model. Replays of
// the same event are absorbed by ON CONFLICT DO NOTHING.
func (r *IncidentRepo) UpsertFromEvent(ctx context.Context, p IncidentUpsert) error {
	corrID := p.CorrelationID
	if corrID == "" {
		corrID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO incidents (id, type, severity, state, correlation_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (id) DO NOTHING`,
		pgUUID(DeriveUUID(p.PublicID)), p.Type, p.Severity, p.State, pgUUID(DeriveUUID(corrID)),
	)
	if err != nil {
		return fmt.Errorf("upsert incident: %w", err)
	}
	return nil
}

// UpdateState applies incident.state_changed without CAS; the emitting side
// already serialized the transition.
func (r *IncidentRepo) UpdateState(ctx context.Context, publicID, toState string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE incidents SET state = $1 WHERE id = $2`,
		toState, pgUUID(DeriveUUID(publicID)),
	)
	if err != nil {
		return fmt.Errorf("update incident state: %w", err)
	}
	return nil
}

// TransitionWithAudit performs the compare-and-swap state update and the
// audit insert in one transaction. Returns false (and rolls back) when the
// stored state no longer matches from, i.e. a concurrent writer won.
func (r *IncidentRepo) TransitionWithAudit(ctx context.Context, publicID, from, to, triggeredBy string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	dbID := pgUUID(DeriveUUID(publicID))
	tag, err := tx.Exec(ctx,
		`UPDATE incidents SET state = $1 WHERE id = $2 AND state = $3`,
		to, dbID, from,
	)
	if err != nil {
		return false, fmt.Errorf("cas update: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO incident_transitions (id, incident_id, from_state, to_state, triggered_by, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		pgUUID(uuid.New()), dbID, from, to, triggeredBy,
	)
	if err != nil {
		return false, fmt.Errorf("audit insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}
