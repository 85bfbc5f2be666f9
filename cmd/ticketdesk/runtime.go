package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketdesk/internal/allocator"
	"github.com/spec-kit/ticketdesk/internal/api/http/handlers"
	"github.com/spec-kit/ticketdesk/internal/config"
	"github.com/spec-kit/ticketdesk/internal/events"
	"github.com/spec-kit/ticketdesk/internal/gateway"
	"github.com/spec-kit/ticketdesk/internal/gateway/loggw"
	"github.com/spec-kit/ticketdesk/internal/gateway/slackgw"
	"github.com/spec-kit/ticketdesk/internal/lock"
	"github.com/spec-kit/ticketdesk/internal/observability"
	"github.com/spec-kit/ticketdesk/internal/persistence"
	"github.com/spec-kit/ticketdesk/internal/repository"
	"github.com/spec-kit/ticketdesk/internal/service"
)

// runtime holds everything a command needs. close releases connections in
// reverse order of acquisition.
type runtime struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *observability.Metrics
	postgres   *persistence.Postgres
	redis      *persistence.Redis
	tickets    repository.TicketRepository
	issued     repository.IssuedIDRepository
	locker     lock.KeyedLocker
	dispatcher events.Dispatcher
	gateway    gateway.Gateway
	publisher  gateway.CommandPublisher
	slack      *slack.Client
	service    *service.TicketService
	closers    []func()
}

func loadRuntime(ctx context.Context, stdout io.Writer) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	rt := &runtime{
		cfg:        cfg,
		logger:     logger,
		metrics:    observability.NewMetrics(),
		dispatcher: events.NewInMemoryDispatcher(),
	}
	rt.closers = append(rt.closers, func() { _ = logger.Sync() })

	if err := rt.openStore(ctx); err != nil {
		rt.close()
		return nil, err
	}
	rt.openLocker(ctx)
	rt.openGateway(stdout)

	rt.service = service.NewTicketService(service.TicketDependencies{
		TicketRepo: rt.tickets,
		Allocator: allocator.New(allocator.Dependencies{
			Issued: rt.issued,
			Locker: rt.locker,
			Logger: logger.Named("allocator"),
		}),
		Locker:         rt.locker,
		Gateway:        rt.gateway,
		Catalog:        cfg.Catalog,
		Dispatcher:     rt.dispatcher,
		Logger:         logger.Named("tickets"),
		GatewayTimeout: cfg.Gateway.Timeout,
	})
	return rt, nil
}

func (rt *runtime) openStore(ctx context.Context) error {
	cfg, logger := rt.cfg, rt.logger
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		rt.postgres = pg
		rt.closers = append(rt.closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}
		rt.tickets = repository.NewTicketRepository(pg.PoolHandle())
		rt.issued = repository.NewIssuedIDRepository(pg.PoolHandle())
	default:
		ticketDoc, err := persistence.NewJSONDocument(cfg.Store.TicketsPath, cfg.Store.RecoverCorrupt, logger)
		if err != nil {
			return fmt.Errorf("open ticket store: %w", err)
		}
		issuedDoc, err := persistence.NewJSONDocument(cfg.Store.IssuedIDsPath, cfg.Store.RecoverCorrupt, logger)
		if err != nil {
			return fmt.Errorf("open issued id store: %w", err)
		}
		rt.tickets = repository.NewFileTicketRepository(ticketDoc)
		rt.issued = repository.NewFileIssuedIDRepository(issuedDoc)
	}
	return nil
}

func (rt *runtime) openLocker(ctx context.Context) {
	if rt.cfg.Lock.Driver == config.LockDriverRedis {
		rt.redis = persistence.NewRedis(ctx, rt.cfg.Redis, rt.logger)
		rt.closers = append(rt.closers, rt.redis.Close)
		rt.locker = lock.NewRedisLocker(rt.redis.Client, rt.cfg.Lock.KeyPrefix, rt.cfg.Lock.TTL, rt.logger.Named("lock"))
		return
	}
	rt.locker = lock.NewMemoryLocker()
}

func (rt *runtime) openGateway(stdout io.Writer) {
	if rt.cfg.Gateway.Driver == config.GatewayDriverSlack {
		rt.slack = slackgw.NewClient(rt.cfg.Gateway)
		rt.gateway = slackgw.New(rt.slack, rt.cfg.Gateway.StaffUserIDs, rt.logger)
		rt.publisher = slackgw.NewManifestPublisher(stdout, rt.logger)
		return
	}
	lg := loggw.New(rt.logger)
	rt.gateway = lg
	rt.publisher = lg
}

// leader returns the locker that elects the reminder sweeper. A distributed
// leader key lives for one sweep interval.
func (rt *runtime) leader(interval time.Duration) lock.KeyedLocker {
	if rl, ok := rt.locker.(*lock.RedisLocker); ok {
		return rl.WithTTL(interval)
	}
	return rt.locker
}

// healthChecks lists the backends the readiness probe pings.
func (rt *runtime) healthChecks() map[string]handlers.Pinger {
	checks := map[string]handlers.Pinger{"store": rt.tickets}
	if rt.postgres != nil {
		checks["postgres"] = rt.postgres
	}
	if rt.redis != nil && rt.redis.Enabled() {
		checks["redis"] = rt.redis
	}
	return checks
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}
