package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticketdesk/internal/api/dto"
	"github.com/spec-kit/ticketdesk/internal/gateway"
	apperrors "github.com/spec-kit/ticketdesk/pkg/util/errorutil"
)

// InteractionsHandler accepts platform events relayed by a bridge process
// that cannot use the built-in listener.
type InteractionsHandler struct {
	inbound gateway.InboundHandler
}

// NewInteractionsHandler constructs handler.
func NewInteractionsHandler(inbound gateway.InboundHandler) *InteractionsHandler {
	return &InteractionsHandler{inbound: inbound}
}

// SubmitForm POST /v1/interactions/forms.
func (h *InteractionsHandler) SubmitForm(c *fiber.Ctx) error {
	var req dto.FormSubmissionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.UserID == "" || req.Category == "" {
		return apperrors.NewValidationError("user_id and category required", nil)
	}
	ack, err := h.inbound.FormSubmitted(c.UserContext(), gateway.FormSubmission{
		UserID:   req.UserID,
		Category: req.Category,
		Fields:   req.Fields,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"data": dto.InteractionResponse{Message: ack}})
}

// ActivateControl POST /v1/interactions/controls.
func (h *InteractionsHandler) ActivateControl(c *fiber.Ctx) error {
	var req dto.ControlActivationRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.ControlID == "" || req.ActorID == "" {
		return apperrors.NewValidationError("control_id and actor_id required", nil)
	}
	ack, err := h.inbound.ControlActivated(c.UserContext(), gateway.ControlActivation{
		ControlID:  req.ControlID,
		ActorID:    req.ActorID,
		ActorName:  req.ActorName,
		ChannelRef: req.ChannelRef,
		Values:     req.Values,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"data": dto.InteractionResponse{Message: ack}})
}

// ReceiveMessage POST /v1/interactions/messages.
func (h *InteractionsHandler) ReceiveMessage(c *fiber.Ctx) error {
	var req dto.InboundMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.UserID == "" {
		return apperrors.NewValidationError("user_id required", nil)
	}
	attachments := make([]gateway.Attachment, 0, len(req.Attachments))
	for _, att := range req.Attachments {
		attachments = append(attachments, gateway.Attachment{Name: att.Name, URL: att.URL})
	}
	reply, err := h.inbound.DirectMessageReceived(c.UserContext(), gateway.InboundMessage{
		UserID:      req.UserID,
		Content:     req.Content,
		Attachments: attachments,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.InteractionResponse{Message: reply}})
}
