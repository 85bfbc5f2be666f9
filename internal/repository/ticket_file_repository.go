package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/spec-kit/ticketdesk/internal/domain"
	"github.com/spec-kit/ticketdesk/internal/persistence"
)

type ticketDocument struct {
	Tickets map[string]domain.Ticket `json:"tickets"`
}

// fileTicketRepository keeps every ticket in one JSON document.
// Writes go to disk before the in-memory copy is updated.
type fileTicketRepository struct {
	mu      sync.RWMutex
	doc     *persistence.JSONDocument
	tickets map[string]domain.Ticket
	loadErr error
}

// NewFileTicketRepository loads the document. A corrupt document does not fail
// construction; the repository reports domain.ErrStoreUnavailable instead.
func NewFileTicketRepository(doc *persistence.JSONDocument) TicketRepository {
	r := &fileTicketRepository{doc: doc, tickets: map[string]domain.Ticket{}}
	var loaded ticketDocument
	if err := doc.Load(&loaded); err != nil {
		r.loadErr = err
		return r
	}
	if loaded.Tickets != nil {
		r.tickets = loaded.Tickets
	}
	return r
}

func (r *fileTicketRepository) Get(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	t, ok := r.tickets[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := t.Clone()
	return &out, nil
}

func (r *fileTicketRepository) Put(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return r.loadErr
	}
	if existing, ok := r.tickets[ticket.ID]; ok && existing.Revision != ticket.Revision {
		return fmt.Errorf("put ticket %s: %w", ticket.ID, domain.ErrRevisionConflict)
	}

	stored := ticket.Clone()
	stored.Revision++

	next := make(map[string]domain.Ticket, len(r.tickets)+1)
	for k, v := range r.tickets {
		next[k] = v
	}
	next[stored.ID] = stored
	if err := r.doc.Save(ticketDocument{Tickets: next}); err != nil {
		return err
	}
	r.tickets = next
	ticket.Revision = stored.Revision
	return nil
}

func (r *fileTicketRepository) FindOpenByOwner(_ context.Context, ownerID string) (*domain.Ticket, error) {
	matches, err := r.filter(func(t domain.Ticket) bool {
		return t.OwnerID == ownerID && !t.IsClosed()
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, domain.ErrNotFound
	}
	newest := matches[len(matches)-1]
	return &newest, nil
}

func (r *fileTicketRepository) FindByOwner(_ context.Context, ownerID string) ([]domain.Ticket, error) {
	return r.filter(func(t domain.Ticket) bool { return t.OwnerID == ownerID })
}

func (r *fileTicketRepository) FindByExternalID(_ context.Context, externalID string) ([]domain.Ticket, error) {
	return r.filter(func(t domain.Ticket) bool {
		return t.ExternalID != nil && *t.ExternalID == externalID
	})
}

func (r *fileTicketRepository) All(_ context.Context) ([]domain.Ticket, error) {
	return r.filter(func(domain.Ticket) bool { return true })
}

func (r *fileTicketRepository) Ping(context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadErr
}

// filter returns clones ordered by creation time, then id.
func (r *fileTicketRepository) filter(keep func(domain.Ticket) bool) ([]domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	var out []domain.Ticket
	for _, t := range r.tickets {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
