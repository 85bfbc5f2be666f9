package lifecycle

import (
	"github.com/spec-kit/ticketdesk/internal/config"
	"github.com/spec-kit/ticketdesk/internal/domain"
)

// Action identifies what an interactive control does.
type Action string

const (
	ActionClaim    Action = "claim"
	ActionUnclaim  Action = "unclaim"
	ActionPending  Action = "pending"
	ActionTransfer Action = "transfer"
	ActionClose    Action = "close"
)

// Option is one choice of a select control.
type Option struct {
	Value string
	Label string
}

// ControlSpec describes a control independent of any platform.
// Controls with Options are selects; the rest are buttons.
type ControlSpec struct {
	Action         Action
	Label          string
	Disabled       bool
	Danger         bool
	RequiresReason bool
	Options        []Option
}

// Controls returns the control layout for t. Closed tickets have none.
func (m *Machine) Controls(t domain.Ticket) []ControlSpec {
	if t.IsClosed() {
		return nil
	}
	var out []ControlSpec
	if t.State == domain.TicketStateClaimed {
		out = append(out, ControlSpec{Action: ActionUnclaim, Label: "Unclaim"})
	} else {
		out = append(out, ControlSpec{Action: ActionClaim, Label: "Claim"})
	}
	out = append(out, ControlSpec{
		Action:   ActionPending,
		Label:    "Mark Pending",
		Disabled: t.State == domain.TicketStatePending,
	})

	var transfer []Option
	for _, cat := range m.catalog.Categories {
		if cat.Key != t.RoutingCategory {
			transfer = append(transfer, Option{Value: cat.Key, Label: cat.Label})
		}
	}
	if len(transfer) > 0 {
		out = append(out, ControlSpec{Action: ActionTransfer, Label: "Transfer", Options: transfer})
	}
	out = append(out, ControlSpec{
		Action:         ActionClose,
		Label:          "Close",
		Danger:         true,
		RequiresReason: true,
		Options:        bucketOptions(m.catalog),
	})
	return out
}

func bucketOptions(c *config.Catalog) []Option {
	out := make([]Option, 0, len(c.ArchiveBuckets))
	for _, b := range c.ArchiveBuckets {
		out = append(out, Option{Value: b.Key, Label: b.Label})
	}
	return out
}
