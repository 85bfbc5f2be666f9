package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticketdesk/internal/domain"
	"github.com/spec-kit/ticketdesk/internal/persistence"
)

// IssuedIDRepository is the grow-only registry of ticket ids ever handed out.
type IssuedIDRepository interface {
	// Insert records id, failing with domain.ErrAlreadyIssued if it exists.
	Insert(ctx context.Context, id string, issuedAt time.Time) error
	Count(ctx context.Context) (int, error)
}

type issuedIDRepository struct {
	pool *pgxpool.Pool
}

// NewIssuedIDRepository instantiates the Postgres driver.
func NewIssuedIDRepository(pool *pgxpool.Pool) IssuedIDRepository {
	return &issuedIDRepository{pool: pool}
}

func (r *issuedIDRepository) Insert(ctx context.Context, id string, issuedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO issued_ticket_ids (id, issued_at) VALUES ($1,$2)`, id, issuedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("insert issued id %s: %w", id, domain.ErrAlreadyIssued)
		}
		return storeError("insert issued id", err)
	}
	return nil
}

func (r *issuedIDRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM issued_ticket_ids`).Scan(&n); err != nil {
		return 0, storeError("count issued ids", err)
	}
	return n, nil
}

type issuedDocument struct {
	Issued map[string]time.Time `json:"issued"`
}

type fileIssuedIDRepository struct {
	mu      sync.RWMutex
	doc     *persistence.JSONDocument
	issued  map[string]time.Time
	loadErr error
}

// NewFileIssuedIDRepository loads the registry document.
func NewFileIssuedIDRepository(doc *persistence.JSONDocument) IssuedIDRepository {
	r := &fileIssuedIDRepository{doc: doc, issued: map[string]time.Time{}}
	var loaded issuedDocument
	if err := doc.Load(&loaded); err != nil {
		r.loadErr = err
		return r
	}
	if loaded.Issued != nil {
		r.issued = loaded.Issued
	}
	return r
}

func (r *fileIssuedIDRepository) Insert(_ context.Context, id string, issuedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return r.loadErr
	}
	if _, ok := r.issued[id]; ok {
		return fmt.Errorf("insert issued id %s: %w", id, domain.ErrAlreadyIssued)
	}
	next := make(map[string]time.Time, len(r.issued)+1)
	for k, v := range r.issued {
		next[k] = v
	}
	next[id] = issuedAt
	if err := r.doc.Save(issuedDocument{Issued: next}); err != nil {
		return err
	}
	r.issued = next
	return nil
}

func (r *fileIssuedIDRepository) Count(context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.loadErr != nil {
		return 0, r.loadErr
	}
	return len(r.issued), nil
}
