package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketdesk/internal/events"
	"github.com/spec-kit/ticketdesk/internal/lifecycle"
	"github.com/spec-kit/ticketdesk/internal/observability"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestNotificationService_CountsTicketEvents(t *testing.T) {
	h := newHarness(t)
	metrics := observability.NewMetrics()
	NewNotificationService(h.dispatcher, zap.NewNop(), metrics).RegisterHandlers()

	ticket := h.create(t, "U1")
	ctx := context.Background()
	if _, err := h.svc.ApplyEvent(ctx, ticket.ID, lifecycle.Claim(staff("S1"))); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := h.svc.ApplyEvent(ctx, ticket.ID, lifecycle.Close(staff("S1"), "kit", "sorted")); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := counterValue(t, metrics.Registry, "ticketdesk_tickets_created_total", map[string]string{"category": "general"}); got != 1 {
		t.Fatalf("created = %v", got)
	}
	if got := counterValue(t, metrics.Registry, "ticketdesk_ticket_transitions_total", map[string]string{"event": "claim"}); got != 1 {
		t.Fatalf("claims = %v", got)
	}
	if got := counterValue(t, metrics.Registry, "ticketdesk_tickets_closed_total", map[string]string{"bucket": "kit", "self_healed": "false"}); got != 1 {
		t.Fatalf("closed = %v", got)
	}
}

func TestNotificationService_CountsSelfHealAndGatewayFailures(t *testing.T) {
	h := newHarness(t)
	metrics := observability.NewMetrics()
	NewNotificationService(h.dispatcher, zap.NewNop(), metrics).RegisterHandlers()

	ticket := h.create(t, "U1")
	h.gw.DeleteExternally(ticket.ChannelRef)
	h.create(t, "U1")

	if got := counterValue(t, metrics.Registry, "ticketdesk_tickets_closed_total", map[string]string{"self_healed": "true"}); got != 1 {
		t.Fatalf("self-healed closes = %v", got)
	}

	err := h.dispatcher.Publish(context.Background(), events.Event{
		Type:    events.EventGatewayFailed,
		Payload: events.GatewayFailedPayload{Op: "rename_channel", Error: "boom"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := counterValue(t, metrics.Registry, "ticketdesk_gateway_failures_total", map[string]string{"op": "rename_channel"}); got != 1 {
		t.Fatalf("gateway failures = %v", got)
	}
}

func TestNotificationService_NilDispatcher(t *testing.T) {
	NewNotificationService(nil, nil, nil).RegisterHandlers()
}
