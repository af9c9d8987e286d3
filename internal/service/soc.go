package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iabozaid/airside-operation-center/internal/eventbus"
	"github.com/iabozaid/airside-operation-center/internal/repository"
)

// StateEscalated is the incident state that spawns a ticket.
const StateEscalated = "Escalated"

// incidentTransitions is the directed transition graph of the incident FSM.
// Closed is terminal.
var incidentTransitions = map[string][]string{
	"New":              {"Triage", "Escalated"},
	"Triage":           {"EvidenceAttached", "Escalated"},
	"EvidenceAttached": {"Dispatched", "Escalated"},
	"Dispatched":       {"Resolved", "Escalated"},
	"Resolved":         {"Closed", "Escalated"},
	"Escalated":        {"Resolved"},
	"Closed":           {},
}

// IncidentStore is the slice of the repository the SOC service needs.
type IncidentStore interface {
	Get(ctx context.Context, publicID string) (repository.Incident, error)
	List(ctx context.Context, limit int) ([]repository.Incident, error)
	TransitionWithAudit(ctx context.Context, publicID, from, to, triggeredBy string) (bool, error)
}

// Publisher is the bus surface the services emit on.
type Publisher interface {
	Publish(ctx context.Context, p eventbus.PublishParams) (string, error)
}

// TransitionResult reports the outcome of a Transition call.
type TransitionResult struct {
	State      string
	Idempotent bool
}

// SocService enforces the incident state machine.
type SocService struct {
	store  IncidentStore
	bus    Publisher
	logger *zap.Logger
}

// NewSocService constructs a SocService.
func NewSocService(store IncidentStore, bus Publisher, logger *zap.Logger) *SocService {
	return &SocService{store: store, bus: bus, logger: logger}
}

// GetIncident loads one incident by public id.
func (s *SocService) GetIncident(ctx context.Context, incidentID string) (repository.Incident, error) {
	inc, err := s.store.Get(ctx, incidentID)
	if err != nil {
		if isNoRows(err) {
			return repository.Incident{}, fmt.Errorf("%w: incident %q", ErrNotFound, incidentID)
		}
		return repository.Incident{}, err
	}
	return inc, nil
}

// ListIncidents returns the newest incidents.
func (s *SocService) ListIncidents(ctx context.Context) ([]repository.Incident, error) {
	return s.store.List(ctx, 50)
}

// Transition moves the incident to toState if the FSM allows it.
//
// The state update and the audit row share one transaction; losing the
// compare-and-swap raises ErrConcurrentModification. Re-requesting the
// current state is an idempotent success with no audit row and no event.
// The incident.state_changed event is published only after commit.
func (s *SocService) Transition(ctx context.Context, incidentID, toState, triggeredBy string) (TransitionResult, error) {
	toState = strings.TrimSpace(toState)
	if _, known := incidentTransitions[toState]; toState == "" || !known {
		return TransitionResult{}, fmt.Errorf("%w: %q", ErrUnknownState, toState)
	}

	inc, err := s.GetIncident(ctx, incidentID)
	if err != nil {
		return TransitionResult{}, err
	}

	current := strings.TrimSpace(inc.State)
	allowed, known := incidentTransitions[current]
	if current == "" || !known {
		return TransitionResult{}, fmt.Errorf("%w: incident %q has state %q", ErrCorruptState, incidentID, current)
	}

	if toState == current {
		return TransitionResult{State: toState, Idempotent: true}, nil
	}

	if !contains(allowed, toState) {
		return TransitionResult{}, fmt.Errorf("%w: from %q to %q (allowed: %v)",
			ErrInvalidTransition, current, toState, allowed)
	}

	ok, err := s.store.TransitionWithAudit(ctx, incidentID, current, toState, triggeredBy)
	if err != nil {
		return TransitionResult{}, err
	}
	if !ok {
		return TransitionResult{}, fmt.Errorf("%w: incident %q", ErrConcurrentModification, incidentID)
	}

	correlationID := repository.UUIDString(inc.CorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	// Best-effort post-commit notification; the write model is the source
	// of truth.
	if _, err := s.bus.Publish(ctx, eventbus.PublishParams{
		EventType:     "incident.state_changed",
		SourceContext: "soc",
		CorrelationID: correlationID,
		EntityRefs:    map[string]string{"incidentId": incidentID},
		Payload: map[string]any{
			"incident_id":  incidentID,
			"from_state":   current,
			"to_state":     toState,
			"triggered_by": triggeredBy,
		},
	}); err != nil {
		s.logger.Error("incident.state_changed publish failed",
			zap.String("incident_id", incidentID),
			zap.Error(err),
		)
	}

	return TransitionResult{State: toState}, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func isNoRows(err error) bool {
	return errors.Is(err, repository.ErrNoRows)
}
