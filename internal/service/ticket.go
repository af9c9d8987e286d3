package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iabozaid/airside-operation-center/internal/eventbus"
	"github.com/iabozaid/airside-operation-center/internal/eventlog"
	"github.com/iabozaid/airside-operation-center/internal/repository"
)

// slaHours maps incident severity at creation time to the resolution window.
// Unknown severities fall back to the info window.
var slaHours = map[string]int{
	eventlog.SeverityCritical: 4,
	eventlog.SeverityWarning:  24,
	eventlog.SeverityInfo:     72,
}

// ticketTransitions is the ticket FSM. Closed is terminal.
var ticketTransitions = map[string][]string{
	"Open":       {"InProgress"},
	"InProgress": {"Resolved"},
	"Resolved":   {"Closed"},
	"Closed":     {},
}

// TicketStore is the slice of the repository the ticket service needs.
type TicketStore interface {
	Get(ctx context.Context, ticketID string) (repository.Ticket, error)
	GetByIncident(ctx context.Context, incidentDBID uuid.UUID) (repository.Ticket, error)
	List(ctx context.Context) ([]repository.Ticket, error)
	Create(ctx context.Context, p repository.TicketCreate) error
	TransitionState(ctx context.Context, ticketID, from, to string) (bool, error)
	Assign(ctx context.Context, ticketID, assigneeID string) error
}

// IncidentSnapshot is the incident view ticket creation works from. PublicID
// is the external identifier; the db id is derived from it.
type IncidentSnapshot struct {
	PublicID      string
	Severity      string
	CorrelationID string
}

// CreateResult reports ticket creation. Status is "created" for a new row
// and "exists" for the idempotent branch.
type CreateResult struct {
	Status       string `json:"status"`
	TicketID     string `json:"ticket_id"`
	IncidentID   string `json:"incident_id"`
	IncidentDBID string `json:"incident_db_id"`
	Idempotent   bool   `json:"idempotent,omitempty"`
}

// TicketService manages SLAs, escalation-driven creation, transitions and
// assignments.
type TicketService struct {
	store  TicketStore
	bus    Publisher
	logger *zap.Logger
	now    func() time.Time
}

// NewTicketService constructs a TicketService.
func NewTicketService(store TicketStore, bus Publisher, logger *zap.Logger) *TicketService {
	return &TicketService{store: store, bus: bus, logger: logger, now: time.Now}
}

// CreateFromIncident creates at most one ticket per incident. A ticket that
// already exists for the incident returns the "exists" branch with no side
// effects; a concurrent creation that loses the insert race collapses into
// the same branch.
func (s *TicketService) CreateFromIncident(ctx context.Context, incident IncidentSnapshot, correlationID string) (CreateResult, error) {
	publicID := strings.TrimSpace(incident.PublicID)
	if publicID == "" {
		return CreateResult{}, fmt.Errorf("%w: incident id missing", ErrInvalidArgument)
	}
	dbID := repository.DeriveUUID(publicID)

	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		correlationID = strings.TrimSpace(incident.CorrelationID)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	if existing, err := s.store.GetByIncident(ctx, dbID); err == nil {
		return existsResult(existing, publicID, dbID), nil
	} else if !errors.Is(err, repository.ErrNoRows) {
		return CreateResult{}, err
	}

	severity := strings.ToLower(strings.TrimSpace(incident.Severity))
	hours, ok := slaHours[severity]
	if !ok {
		severity = eventlog.SeverityInfo
		hours = slaHours[severity]
	}
	createdAt := s.now().UTC()
	deadline := createdAt.Add(time.Duration(hours) * time.Hour)

	ticketID := uuid.New()
	err := s.store.Create(ctx, repository.TicketCreate{
		ID:           ticketID,
		IncidentDBID: dbID,
		Status:       "Open",
		SLADeadline:  deadline,
		CreatedAt:    createdAt,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		// Lost the race against a concurrent escalation: surface the row
		// that won.
		existing, lookupErr := s.store.GetByIncident(ctx, dbID)
		if lookupErr != nil {
			return CreateResult{}, lookupErr
		}
		return existsResult(existing, publicID, dbID), nil
	}
	if err != nil {
		return CreateResult{}, err
	}

	if _, err := s.bus.Publish(ctx, eventbus.PublishParams{
		EventType:     "ticket.created",
		SourceContext: "ticketing",
		CorrelationID: correlationID,
		EntityRefs: map[string]string{
			"ticketId":     ticketID.String(),
			"incidentId":   publicID,
			"incidentDbId": dbID.String(),
		},
		Payload: map[string]any{
			"ticket_id":         ticketID.String(),
			"incident_id":       publicID,
			"incident_db_id":    dbID.String(),
			"severity_snapshot": severity,
			"sla_deadline":      deadline.Format(time.RFC3339Nano),
			"status":            "Open",
		},
	}); err != nil {
		s.logger.Error("ticket.created publish failed",
			zap.String("ticket_id", ticketID.String()),
			zap.Error(err),
		)
	}

	return CreateResult{
		Status:       "created",
		TicketID:     ticketID.String(),
		IncidentID:   publicID,
		IncidentDBID: dbID.String(),
	}, nil
}

func existsResult(t repository.Ticket, publicID string, dbID uuid.UUID) CreateResult {
	return CreateResult{
		Status:       "exists",
		TicketID:     repository.UUIDString(t.ID),
		IncidentID:   publicID,
		IncidentDBID: dbID.String(),
		Idempotent:   true,
	}
}

// GetTicket loads one ticket.
func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (repository.Ticket, error) {
	t, err := s.store.Get(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return repository.Ticket{}, fmt.Errorf("%w: ticket %q", ErrNotFound, ticketID)
		}
		return repository.Ticket{}, err
	}
	return t, nil
}

// ListTickets returns every ticket.
func (s *TicketService) ListTickets(ctx context.Context) ([]repository.Ticket, error) {
	return s.store.List(ctx)
}

// Transition moves the ticket through Open → InProgress → Resolved → Closed
// with the same CAS discipline as the incident FSM, then emits
// ticket.state_changed.
func (s *TicketService) Transition(ctx context.Context, ticketID, toState, userID, correlationID string) (TransitionResult, error) {
	toState = strings.TrimSpace(toState)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return TransitionResult{}, fmt.Errorf("%w: user_id required", ErrInvalidArgument)
	}
	if _, known := ticketTransitions[toState]; toState == "" || !known {
		return TransitionResult{}, fmt.Errorf("%w: %q", ErrUnknownState, toState)
	}

	ticket, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return TransitionResult{}, err
	}

	current := strings.TrimSpace(ticket.Status)
	allowed, known := ticketTransitions[current]
	if current == "" || !known {
		return TransitionResult{}, fmt.Errorf("%w: ticket %q has status %q", ErrCorruptState, ticketID, current)
	}
	if toState == current {
		return TransitionResult{State: toState, Idempotent: true}, nil
	}
	if !contains(allowed, toState) {
		return TransitionResult{}, fmt.Errorf("%w: from %q to %q (allowed: %v)",
			ErrInvalidTransition, current, toState, allowed)
	}

	ok, err := s.store.TransitionState(ctx, ticketID, current, toState)
	if err != nil {
		return TransitionResult{}, err
	}
	if !ok {
		return TransitionResult{}, fmt.Errorf("%w: ticket %q", ErrConcurrentModification, ticketID)
	}

	refs, payload := ticketEventRefs(ticket, ticketID)
	payload["from_state"] = current
	payload["to_state"] = toState
	payload["user_id"] = userID
	payload["status"] = toState

	if _, err := s.bus.Publish(ctx, eventbus.PublishParams{
		EventType:     "ticket.state_changed",
		SourceContext: "ticketing",
		CorrelationID: correlationID,
		EntityRefs:    refs,
		Payload:       payload,
	}); err != nil {
		s.logger.Error("ticket.state_changed publish failed",
			zap.String("ticket_id", ticketID),
			zap.Error(err),
		)
	}

	return TransitionResult{State: toState}, nil
}

// Assign records an assignment and emits ticket.assigned.
func (s *TicketService) Assign(ctx context.Context, ticketID, assigneeID, correlationID string) error {
	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" {
		return fmt.Errorf("%w: assignee_id required", ErrInvalidArgument)
	}

	ticket, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if err := s.store.Assign(ctx, ticketID, assigneeID); err != nil {
		return err
	}

	refs, payload := ticketEventRefs(ticket, ticketID)
	payload["assignee_id"] = assigneeID

	if _, err := s.bus.Publish(ctx, eventbus.PublishParams{
		EventType:     "ticket.assigned",
		SourceContext: "ticketing",
		CorrelationID: correlationID,
		EntityRefs:    refs,
		Payload:       payload,
	}); err != nil {
		s.logger.Error("ticket.assigned publish failed",
			zap.String("ticket_id", ticketID),
			zap.Error(err),
		)
	}
	return nil
}

// ticketEventRefs builds the entity refs and payload skeleton shared by the
// ticket events. The db incident id is always known; the public incident id
// is not stored on the ticket row, so it travels only on creation events.
func ticketEventRefs(t repository.Ticket, ticketID string) (map[string]string, map[string]any) {
	refs := map[string]string{"ticketId": ticketID}
	payload := map[string]any{"ticket_id": ticketID}
	if dbID := repository.UUIDString(t.IncidentID); dbID != "" {
		refs["incidentDbId"] = dbID
		payload["incident_db_id"] = dbID
	}
	return refs, payload
}
