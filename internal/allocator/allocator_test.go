package allocator

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/ticketdesk/internal/domain"
	"github.com/spec-kit/ticketdesk/internal/lock"
)

type memoryIssued struct {
	mu     sync.Mutex
	ids    map[string]time.Time
	failOn int
	calls  int
}

func newMemoryIssued() *memoryIssued {
	return &memoryIssued{ids: map[string]time.Time{}}
}

func (m *memoryIssued) Insert(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failOn > 0 && m.calls == m.failOn {
		return domain.ErrStoreUnavailable
	}
	if _, ok := m.ids[id]; ok {
		return domain.ErrAlreadyIssued
	}
	m.ids[id] = at
	return nil
}

func (m *memoryIssued) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ids), nil
}

func TestAttempts_ScalesWithFreeSpace(t *testing.T) {
	if got := Attempts(Space, 0); got != minAttempts {
		t.Fatalf("empty space: expected %d, got %d", minAttempts, got)
	}
	half := Attempts(Space, Space/2)
	nearlyFull := Attempts(Space, Space-1000)
	if !(half >= minAttempts && nearlyFull > half) {
		t.Fatalf("attempts must grow as free space shrinks: half=%d nearlyFull=%d", half, nearlyFull)
	}
	if nearlyFull != 18000 {
		t.Fatalf("expected ceil(20*900000/1000)=18000, got %d", nearlyFull)
	}
	if got := Attempts(Space, Space-1); got != maxAttempts {
		t.Fatalf("expected clamp to %d, got %d", maxAttempts, got)
	}
	if got := Attempts(Space, Space); got != 0 {
		t.Fatalf("full space: expected 0 attempts, got %d", got)
	}
}

func TestAllocate_ProducesSixDigitIDs(t *testing.T) {
	a := New(Dependencies{Issued: newMemoryIssued(), Locker: lock.NewMemoryLocker()})
	for i := 0; i < 100; i++ {
		id, err := a.Allocate(context.Background())
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		n, err := strconv.Atoi(id)
		if err != nil || n < MinID || n > MaxID || len(id) != 6 {
			t.Fatalf("id %q outside six digit range", id)
		}
	}
}

func TestAllocate_ConcurrentCallsAreDistinct(t *testing.T) {
	issued := newMemoryIssued()
	a := New(Dependencies{Issued: issued, Locker: lock.NewMemoryLocker()})

	const n = 500
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := a.Allocate(context.Background())
			if err != nil {
				t.Errorf("allocate: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		if seen[id] {
			t.Fatalf("id %s issued twice", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d ids, got %d", n, len(seen))
	}
}

func TestAllocate_SkipsCollisions(t *testing.T) {
	issued := newMemoryIssued()
	issued.ids["100000"] = time.Now()
	issued.ids["100001"] = time.Now()

	draws := []int{0, 1, 0, 7}
	var i int
	a := New(Dependencies{
		Issued: issued,
		Locker: lock.NewMemoryLocker(),
		IntN: func(int) int {
			v := draws[i]
			i++
			return v
		},
	})
	id, err := a.Allocate(context.Background())
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if id != "100007" {
		t.Fatalf("expected first free candidate 100007, got %s", id)
	}
}

func TestAllocate_ExhaustedSpaceFailsImmediately(t *testing.T) {
	issued := newMemoryIssued()
	for n := MinID; n <= MaxID; n++ {
		issued.ids[strconv.Itoa(n)] = time.Time{}
	}
	a := New(Dependencies{Issued: issued, Locker: lock.NewMemoryLocker()})

	if _, err := a.Allocate(context.Background()); !errors.Is(err, domain.ErrAllocatorExhausted) {
		t.Fatalf("expected ErrAllocatorExhausted, got %v", err)
	}
	if issued.calls != 0 {
		t.Fatalf("expected no draws on a full space, got %d", issued.calls)
	}
}

func TestAllocate_BoundedRetriesThenExhaustion(t *testing.T) {
	issued := newMemoryIssued()
	issued.ids["100000"] = time.Now()
	a := New(Dependencies{
		Issued: issued,
		Locker: lock.NewMemoryLocker(),
		IntN:   func(int) int { return 0 },
	})
	if _, err := a.Allocate(context.Background()); !errors.Is(err, domain.ErrAllocatorExhausted) {
		t.Fatalf("expected exhaustion after bounded retries, got %v", err)
	}
	if issued.calls != minAttempts {
		t.Fatalf("expected %d attempts, got %d", minAttempts, issued.calls)
	}
}

func TestAllocate_StoreErrorPropagates(t *testing.T) {
	issued := newMemoryIssued()
	issued.failOn = 1
	a := New(Dependencies{Issued: issued, Locker: lock.NewMemoryLocker()})
	_, err := a.Allocate(context.Background())
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected store error, got %v", err)
	}
	if errors.Is(err, domain.ErrAllocatorExhausted) {
		t.Fatalf("store failure must not look like exhaustion: %v", err)
	}
}
