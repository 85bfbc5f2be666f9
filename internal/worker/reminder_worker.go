package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketdesk/internal/lock"
	"github.com/spec-kit/ticketdesk/internal/observability"
	"github.com/spec-kit/ticketdesk/internal/service"
)

// SweepLockKey elects the single process that runs a sweep.
const SweepLockKey = "reminder:sweep"

// ReminderWorker periodically nags staff about tickets nobody picked up.
type ReminderWorker struct {
	tickets    *service.TicketService
	leader     lock.KeyedLocker
	thresholds []time.Duration
	interval   time.Duration
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ReminderDependencies wires the worker. Leader is optional; without it every
// process sweeps.
type ReminderDependencies struct {
	Tickets    *service.TicketService
	Leader     lock.KeyedLocker
	Thresholds []time.Duration
	Interval   time.Duration
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Now        func() time.Time
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Checked    int
	Fired      int
	SelfHealed int
	Skipped    int
}

// NewReminderWorker builds the worker.
func NewReminderWorker(deps ReminderDependencies) *ReminderWorker {
	w := &ReminderWorker{
		tickets:    deps.Tickets,
		leader:     deps.Leader,
		thresholds: deps.Thresholds,
		interval:   deps.Interval,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		now:        deps.Now,
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	if w.interval <= 0 {
		w.interval = time.Minute
	}
	if w.now == nil {
		w.now = func() time.Time { return time.Now().UTC() }
	}
	return w
}

// Start runs sweeps every interval until ctx is cancelled or Stop is called.
func (w *ReminderWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx, w.done)
	w.logger.Info("reminder worker started",
		zap.Duration("interval", w.interval),
		zap.Durations("thresholds", w.thresholds))
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (w *ReminderWorker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *ReminderWorker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reminder worker stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep checks every ticket awaiting staff once.
func (w *ReminderWorker) Sweep(ctx context.Context) SweepStats {
	var stats SweepStats
	started := time.Now()
	defer func() { w.metrics.ObserveSweep(time.Since(started)) }()

	if w.leader != nil {
		unlock, ok, err := w.leader.TryLock(ctx, SweepLockKey)
		if err != nil {
			w.logger.Warn("reminder leader lock failed", zap.Error(err))
			return stats
		}
		if !ok {
			w.logger.Debug("another process is sweeping")
			return stats
		}
		defer unlock()
	}

	list, err := w.tickets.ListTickets(ctx)
	if err != nil {
		w.logger.Error("reminder sweep cannot read tickets", zap.Error(err))
		return stats
	}
	for i := range list {
		if ctx.Err() != nil {
			break
		}
		t := &list[i]
		if !t.AwaitingStaff() {
			continue
		}
		stats.Checked++

		live, err := w.tickets.EnsureLive(ctx, t)
		if err != nil {
			stats.Skipped++
			w.logger.Debug("liveness unknown, skipping ticket", zap.String("ticket_id", t.ID), zap.Error(err))
			continue
		}
		if !live {
			stats.SelfHealed++
			continue
		}
		if !service.ReminderDue(*t, w.thresholds, w.now()) {
			continue
		}
		stage, err := w.tickets.AdvanceReminder(ctx, t.ID, w.thresholds)
		if err != nil {
			stats.Skipped++
			w.logger.Warn("reminder advance failed", zap.String("ticket_id", t.ID), zap.Error(err))
			continue
		}
		if stage > 0 {
			stats.Fired++
		}
	}
	if stats.Fired > 0 || stats.SelfHealed > 0 {
		w.logger.Info("reminder sweep finished",
			zap.Int("checked", stats.Checked),
			zap.Int("fired", stats.Fired),
			zap.Int("self_healed", stats.SelfHealed),
			zap.Int("skipped", stats.Skipped))
	}
	return stats
}
