package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spec-kit/ticketdesk/internal/domain"
)

// SearchTier says which key a search query matched.
type SearchTier string

const (
	SearchTierTicketID   SearchTier = "ticket_id"
	SearchTierExternalID SearchTier = "external_id"
	SearchTierOwnerID    SearchTier = "owner_id"
	SearchTierNone       SearchTier = "none"
)

// SearchResult lists matching tickets, oldest first.
type SearchResult struct {
	Query   string
	Tier    SearchTier
	Tickets []domain.Ticket
}

// Search resolves query against ticket id, then external id, then owner id.
// The first tier with a match wins.
func (s *TicketService) Search(ctx context.Context, query string) (SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchResult{}, domain.NewValidationError("query", "is required")
	}
	if utf8.RuneCountInString(query) > MaxSearchQueryLength {
		return SearchResult{}, domain.NewValidationError("query", fmt.Sprintf("must be at most %d characters", MaxSearchQueryLength))
	}

	t, err := s.tickets.Get(ctx, query)
	switch {
	case err == nil:
		return SearchResult{Query: query, Tier: SearchTierTicketID, Tickets: []domain.Ticket{*t}}, nil
	case !errors.Is(err, domain.ErrNotFound):
		return SearchResult{}, err
	}

	byExternal, err := s.tickets.FindByExternalID(ctx, query)
	if err != nil {
		return SearchResult{}, err
	}
	if len(byExternal) > 0 {
		return SearchResult{Query: query, Tier: SearchTierExternalID, Tickets: byExternal}, nil
	}

	byOwner, err := s.tickets.FindByOwner(ctx, query)
	if err != nil {
		return SearchResult{}, err
	}
	if len(byOwner) > 0 {
		return SearchResult{Query: query, Tier: SearchTierOwnerID, Tickets: byOwner}, nil
	}
	return SearchResult{Query: query, Tier: SearchTierNone}, nil
}
