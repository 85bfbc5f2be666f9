package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticketdesk/internal/api/dto"
	"github.com/spec-kit/ticketdesk/internal/auth"
	"github.com/spec-kit/ticketdesk/internal/domain"
	"github.com/spec-kit/ticketdesk/internal/lifecycle"
	"github.com/spec-kit/ticketdesk/internal/service"
	apperrors "github.com/spec-kit/ticketdesk/pkg/util/errorutil"
)

// StaffTicketsHandler exposes staff ticket operations over HTTP.
type StaffTicketsHandler struct {
	tickets *service.TicketService
}

// NewStaffTicketsHandler constructs handler.
func NewStaffTicketsHandler(ticketService *service.TicketService) *StaffTicketsHandler {
	return &StaffTicketsHandler{tickets: ticketService}
}

// GetTicket GET /v1/staff/tickets/:id.
func (h *StaffTicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.tickets.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// Search GET /v1/staff/tickets/search?q=.
func (h *StaffTicketsHandler) Search(c *fiber.Ctx) error {
	res, err := h.tickets.Search(c.UserContext(), c.Query("q"))
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(res.Tickets))
	for i := range res.Tickets {
		items = append(items, dto.NewTicketResponse(&res.Tickets[i]))
	}
	return c.JSON(fiber.Map{"data": dto.SearchResponse{Query: res.Query, Tier: string(res.Tier), Tickets: items}})
}

// ApplyAction POST /v1/staff/tickets/:id/actions.
func (h *StaffTicketsHandler) ApplyAction(c *fiber.Ctx) error {
	actor, err := staffActor(c)
	if err != nil {
		return err
	}
	var req dto.ActionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ev, err := service.EventForAction(lifecycle.Action(strings.ToLower(req.Action)), actor, req.Values)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.ApplyEvent(c.UserContext(), c.Params("id"), ev)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// AddNote POST /v1/staff/tickets/:id/notes.
func (h *StaffTicketsHandler) AddNote(c *fiber.Ctx) error {
	actor, err := staffActor(c)
	if err != nil {
		return err
	}
	var req dto.AddNoteRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.AddNote(c.UserContext(), c.Params("id"), actor, req.Text)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// SendMessage POST /v1/staff/tickets/:id/messages.
func (h *StaffTicketsHandler) SendMessage(c *fiber.Ctx) error {
	actor, err := staffActor(c)
	if err != nil {
		return err
	}
	var req dto.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := h.tickets.SendToOwner(c.UserContext(), c.Params("id"), actor, req.Text); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ForceClose POST /v1/staff/tickets/:id/force-close.
func (h *StaffTicketsHandler) ForceClose(c *fiber.Ctx) error {
	actor, err := staffActor(c)
	if err != nil {
		return err
	}
	var req dto.ForceCloseRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	ticket, err := h.tickets.ForceClose(c.UserContext(), c.Params("id"), actor, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// RefreshControls POST /v1/staff/tickets/:id/refresh.
func (h *StaffTicketsHandler) RefreshControls(c *fiber.Ctx) error {
	actor, err := staffActor(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.RefreshControls(c.UserContext(), c.Params("id"), actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

func staffActor(c *fiber.Ctx) (domain.Actor, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.SubjectType != domain.SubjectTypeStaff {
		return domain.Actor{}, apperrors.NewForbidden("staff token required")
	}
	return principal.Actor(), nil
}
