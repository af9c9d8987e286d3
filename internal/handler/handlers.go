package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iabozaid/airside-operation-center/internal/eventbus"
	"github.com/iabozaid/airside-operation-center/internal/eventlog"
	"github.com/iabozaid/airside-operation-center/internal/repository"
	"github.com/iabozaid/airside-operation-center/internal/service"
)

const (
	defaultEventsLimit = 50
	maxEventsLimit     = 1000
)

// RegisterRoutes mounts the event endpoints. The SOC/ticket routes are
// mounted separately because demo mode runs without a database.
func RegisterRoutes(e *echo.Echo, bus *eventbus.Bus, logger *zap.Logger) {
	e.Use(RequestIDMiddleware())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/events", listEventsHandler(bus))
	e.GET("/stream/ops", streamHandler(bus, logger))
}

// RegisterDomainRoutes mounts the incident and ticket endpoints.
func RegisterDomainRoutes(e *echo.Echo, soc *service.SocService, tickets *service.TicketService, logger *zap.Logger) {
	i := e.Group("/incidents")
	i.GET("", listIncidentsHandler(soc, logger))
	i.GET("/:id", getIncidentHandler(soc))
	i.POST("/:id/transition", transitionIncidentHandler(soc, logger))
	i.POST("/:id/escalate", escalateIncidentHandler(soc, tickets, logger))

	t := e.Group("/tickets")
	t.POST("", createTicketHandler(soc, tickets, logger))
	t.GET("", listTicketsHandler(tickets, logger))
	t.GET("/:id", getTicketHandler(tickets))
	t.POST("/:id/transition", transitionTicketHandler(tickets, logger))
	t.POST("/:id/assign", assignTicketHandler(tickets, logger))
}

// ── events ─────────────────────────────────────────────────────────────────

func listEventsHandler(bus *eventbus.Bus) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := defaultEventsLimit
		if raw := c.QueryParam("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxEventsLimit {
				return validationResp(c, "Invalid request parameters",
					map[string]string{"limit": "must be an integer in 1..1000"})
			}
			limit = n
		}

		items, next, err := bus.ListEvents(c.Request().Context(), c.QueryParam("since"), limit)
		if err != nil {
			return domainResp(c, err)
		}
		if items == nil {
			items = []eventlog.Envelope{}
		}
		return c.JSON(http.StatusOK, map[string]any{
			"items":       items,
			"next_cursor": next,
		})
	}
}

// ── incidents ──────────────────────────────────────────────────────────────

type transitionRequest struct {
	ToState     string `json:"to_state"`
	TriggeredBy string `json:"triggered_by"`
}

type transitionResponse struct {
	ID           string    `json:"id"`
	State        string    `json:"state"`
	UpdatedAtUTC time.Time `json:"updated_at_utc"`
}

func listIncidentsHandler(soc *service.SocService, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		incidents, err := soc.ListIncidents(c.Request().Context())
		if err != nil {
			logger.Error("ListIncidents failed", zap.Error(err))
			return domainResp(c, err)
		}
		if incidents == nil {
			incidents = []repository.Incident{}
		}
		return c.JSON(http.StatusOK, incidents)
	}
}

func getIncidentHandler(soc *service.SocService) echo.HandlerFunc {
	return func(c echo.Context) error {
		inc, err := soc.GetIncident(c.Request().Context(), c.Param("id"))
		if err != nil {
			return domainResp(c, err)
		}
		return c.JSON(http.StatusOK, inc)
	}
}

func transitionIncidentHandler(soc *service.SocService, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := strings.TrimSpace(c.Param("id"))
		if id == "" {
			return errResp(c, http.StatusBadRequest, codeHTTP, "incident id required")
		}
		var req transitionRequest
		if err := c.Bind(&req); err != nil {
			return validationResp(c, "Invalid request parameters", nil)
		}

		res, err := soc.Transition(c.Request().Context(), id, req.ToState, req.TriggeredBy)
		if err != nil {
			logger.Warn("incident transition rejected",
				zap.String("incident_id", id),
				zap.String("to_state", req.ToState),
				zap.Error(err),
			)
			return domainResp(c, err)
		}
		return c.JSON(http.StatusOK, transitionResponse{
			ID:           id,
			State:        res.State,
			UpdatedAtUTC: time.Now().UTC(),
		})
	}
}

type escalateRequest struct {
	TriggeredBy string `json:"triggered_by"`
}

type escalateResponse struct {
	Status       string `json:"status"`
	IncidentID   string `json:"incident_id"`
	TicketID     string `json:"ticket_id"`
	TicketStatus string `json:"ticket_status"`
}

func escalateIncidentHandler(soc *service.SocService, tickets *service.TicketService, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := strings.TrimSpace(c.Param("id"))
		if id == "" {
			return errResp(c, http.StatusBadRequest, codeHTTP, "incident id required")
		}
		var req escalateRequest
		if err := c.Bind(&req); err != nil {
			return validationResp(c, "Invalid request parameters", nil)
		}
		ctx := c.Request().Context()

		// Re-escalating an already-Escalated incident is an idempotent
		// success; ticket creation below collapses the same way.
		if _, err := soc.Transition(ctx, id, service.StateEscalated, req.TriggeredBy); err != nil {
			logger.Warn("escalation rejected", zap.String("incident_id", id), zap.Error(err))
			return domainResp(c, err)
		}

		inc, err := soc.GetIncident(ctx, id)
		if err != nil {
			return domainResp(c, err)
		}

		ticket, err := tickets.CreateFromIncident(ctx, service.IncidentSnapshot{
			PublicID:      id,
			Severity:      inc.Severity,
			CorrelationID: repository.UUIDString(inc.CorrelationID),
		}, repository.UUIDString(inc.CorrelationID))
		if err != nil {
			logger.Error("ticket creation on escalation failed",
				zap.String("incident_id", id),
				zap.Error(err),
			)
			return domainResp(c, err)
		}

		return c.JSON(http.StatusOK, escalateResponse{
			Status:       "escalated",
			IncidentID:   id,
			TicketID:     ticket.TicketID,
			TicketStatus: ticket.Status,
		})
	}
}

// ── tickets ────────────────────────────────────────────────────────────────

type createTicketRequest struct {
	IncidentID    string `json:"incident_id"`
	CorrelationID string `json:"correlation_id"`
}

func createTicketHandler(soc *service.SocService, tickets *service.TicketService, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createTicketRequest
		if err := c.Bind(&req); err != nil {
			return validationResp(c, "Invalid request parameters", nil)
		}
		ctx := c.Request().Context()

		inc, err := soc.GetIncident(ctx, req.IncidentID)
		if err != nil {
			return domainResp(c, err)
		}

		res, err := tickets.CreateFromIncident(ctx, service.IncidentSnapshot{
			PublicID:      req.IncidentID,
			Severity:      inc.Severity,
			CorrelationID: repository.UUIDString(inc.CorrelationID),
		}, req.CorrelationID)
		if err != nil {
			logger.Error("CreateFromIncident failed", zap.Error(err))
			return domainResp(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

func listTicketsHandler(tickets *service.TicketService, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		items, err := tickets.ListTickets(c.Request().Context())
		if err != nil {
			logger.Error("ListTickets failed", zap.Error(err))
			return domainResp(c, err)
		}
		if items == nil {
			items = []repository.Ticket{}
		}
		return c.JSON(http.StatusOK, items)
	}
}

func getTicketHandler(tickets *service.TicketService) echo.HandlerFunc {
	return func(c echo.Context) error {
		t, err := tickets.GetTicket(c.Request().Context(), c.Param("id"))
		if err != nil {
			return domainResp(c, err)
		}
		return c.JSON(http.StatusOK, t)
	}
}

type ticketTransitionRequest struct {
	ToState       string `json:"to_state"`
	UserID        string `json:"user_id"`
	CorrelationID string `json:"correlation_id"`
}

func transitionTicketHandler(tickets *service.TicketService, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req ticketTransitionRequest
		if err := c.Bind(&req); err != nil {
			return validationResp(c, "Invalid request parameters", nil)
		}
		res, err := tickets.Transition(c.Request().Context(), c.Param("id"), req.ToState, req.UserID, req.CorrelationID)
		if err != nil {
			logger.Warn("ticket transition rejected",
				zap.String("ticket_id", c.Param("id")),
				zap.Error(err),
			)
			return domainResp(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"id":         c.Param("id"),
			"status":     res.State,
			"idempotent": res.Idempotent,
		})
	}
}

type assignTicketRequest struct {
	AssigneeID    string `json:"assignee_id"`
	CorrelationID string `json:"correlation_id"`
}

func assignTicketHandler(tickets *service.TicketService, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req assignTicketRequest
		if err := c.Bind(&req); err != nil {
			return validationResp(c, "Invalid request parameters", nil)
		}
		if err := tickets.Assign(c.Request().Context(), c.Param("id"), req.AssigneeID, req.CorrelationID); err != nil {
			logger.Warn("ticket assignment rejected",
				zap.String("ticket_id", c.Param("id")),
				zap.Error(err),
			)
			return domainResp(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":      "assigned",
			"assignee_id": req.AssigneeID,
		})
	}
}
