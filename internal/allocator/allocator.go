// Package allocator issues six digit ticket ids that are never reused.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketdesk/internal/domain"
	"github.com/spec-kit/ticketdesk/internal/lock"
	"github.com/spec-kit/ticketdesk/internal/repository"
)

const (
	MinID = 100000
	MaxID = 999999
	// Space is the number of distinct ids.
	Space = MaxID - MinID + 1

	retryFactor = 20
	minAttempts = 64
	maxAttempts = 10_000_000
)

// Attempts returns how many random draws to make before declaring the space
// exhausted. It scales with space/free so the chance of a false exhaustion
// stays near e^-retryFactor regardless of load.
func Attempts(space, issued int) int {
	free := space - issued
	if free <= 0 {
		return 0
	}
	n := math.Ceil(float64(retryFactor) * float64(space) / float64(free))
	switch {
	case n < minAttempts:
		return minAttempts
	case n > maxAttempts:
		return maxAttempts
	}
	return int(n)
}

// Dependencies wires the allocator.
type Dependencies struct {
	Issued repository.IssuedIDRepository
	Locker lock.KeyedLocker
	Logger *zap.Logger
	// IntN draws from [0, n). Defaults to math/rand/v2.
	IntN func(n int) int
	Now  func() time.Time
}

// Allocator hands out ticket ids.
type Allocator struct {
	issued repository.IssuedIDRepository
	locker lock.KeyedLocker
	logger *zap.Logger
	intN   func(int) int
	now    func() time.Time
}

// New builds an Allocator.
func New(deps Dependencies) *Allocator {
	a := &Allocator{
		issued: deps.Issued,
		locker: deps.Locker,
		logger: deps.Logger,
		intN:   deps.IntN,
		now:    deps.Now,
	}
	if a.intN == nil {
		a.intN = rand.IntN
	}
	if a.now == nil {
		a.now = func() time.Time { return time.Now().UTC() }
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a
}

// Allocate returns an id that has never been issued and records it.
func (a *Allocator) Allocate(ctx context.Context) (string, error) {
	unlock, err := a.locker.Lock(ctx, lock.AllocatorKey)
	if err != nil {
		return "", fmt.Errorf("lock allocator: %w", err)
	}
	defer unlock()

	issued, err := a.issued.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("count issued ids: %w", err)
	}
	attempts := Attempts(Space, issued)
	for i := 0; i < attempts; i++ {
		if i%1024 == 1023 {
			if err := ctx.Err(); err != nil {
				return "", err
			}
		}
		id := strconv.Itoa(MinID + a.intN(Space))
		err := a.issued.Insert(ctx, id, a.now())
		if errors.Is(err, domain.ErrAlreadyIssued) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("record issued id: %w", err)
		}
		return id, nil
	}

	a.logger.Error("ticket id space exhausted; operator intervention required",
		zap.Int("issued", issued),
		zap.Int("space", Space),
		zap.Int("attempts", attempts))
	return "", domain.ErrAllocatorExhausted
}
