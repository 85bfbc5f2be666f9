package dto

// FormSubmissionRequest is a user submitting a ticket form.
type FormSubmissionRequest struct {
	UserID   string            `json:"user_id"`
	Category string            `json:"category"`
	Fields   map[string]string `json:"fields"`
}

// ControlActivationRequest is a press on a ticket control.
type ControlActivationRequest struct {
	ControlID  string            `json:"control_id"`
	ActorID    string            `json:"actor_id"`
	ActorName  string            `json:"actor_name"`
	ChannelRef string            `json:"channel_ref"`
	Values     map[string]string `json:"values"`
}

// AttachmentRequest is a forwarded file.
type AttachmentRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// InboundMessageRequest is a direct message to the bot.
type InboundMessageRequest struct {
	UserID      string              `json:"user_id"`
	Content     string              `json:"content"`
	Attachments []AttachmentRequest `json:"attachments"`
}

// InteractionResponse carries the text to show the actor, if any.
type InteractionResponse struct {
	Message string `json:"message,omitempty"`
}
