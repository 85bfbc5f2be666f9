package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticketdesk/internal/api/http"
	"github.com/spec-kit/ticketdesk/internal/api/http/handlers"
	"github.com/spec-kit/ticketdesk/internal/auth"
	"github.com/spec-kit/ticketdesk/internal/config"
	"github.com/spec-kit/ticketdesk/internal/gateway/slackgw"
	"github.com/spec-kit/ticketdesk/internal/service"
	"github.com/spec-kit/ticketdesk/internal/worker"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot: gateway listener, reminder sweep and HTTP ingress",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		rt, err := loadRuntime(ctx, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer rt.close()
		logger := rt.logger

		notifications := service.NewNotificationService(rt.dispatcher, logger, rt.metrics)
		worker.StartNotificationWorker(notifications)

		runner := service.NewAsyncRunner(rt.cfg.Gateway.InteractionTimeout, logger, rt.metrics)
		interactions := service.NewInteractionService(service.InteractionDependencies{
			Tickets: rt.service,
			Runner:  runner,
			Staff:   service.NewStaffDirectory(rt.cfg.Gateway.StaffUserIDs, rt.cfg.Gateway.AdminUserIDs),
			Gateway: rt.gateway,
			Logger:  logger,
		})

		var reminders *worker.ReminderWorker
		if rt.cfg.Reminder.Enabled {
			reminders = worker.NewReminderWorker(worker.ReminderDependencies{
				Tickets:    rt.service,
				Leader:     rt.leader(rt.cfg.Reminder.Interval),
				Thresholds: rt.cfg.Reminder.Thresholds,
				Interval:   rt.cfg.Reminder.Interval,
				Logger:     logger,
				Metrics:    rt.metrics,
			})
			reminders.Start(ctx)
		}

		if rt.slack != nil && rt.cfg.Gateway.SlackAppToken != "" {
			listener := slackgw.NewListener(slackgw.ListenerDependencies{
				API:      rt.slack,
				Handler:  interactions,
				Catalog:  rt.cfg.Catalog,
				Commands: service.CommandDefinitions(),
				Describe: service.Describe,
				Logger:   logger,
			}).WithSocket(rt.slack, rt.cfg.Gateway.SlackDebug)
			go func() {
				if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("slack listener stopped", zap.Error(err))
				}
			}()
		} else if rt.cfg.Gateway.Driver == config.GatewayDriverSlack {
			logger.Warn("no slack app token configured; inbound events only arrive over HTTP")
		}

		var app *fiber.App
		if rt.cfg.App.HTTPEnabled {
			app = newHTTPApp(rt, interactions)
			go func() {
				if err := app.Listen(rt.cfg.App.Addr()); err != nil {
					logger.Error("fiber listen", zap.Error(err))
					cancel()
				}
			}()
		}

		logger.Info("ticketdesk started",
			zap.String("store", rt.cfg.Store.Driver),
			zap.String("lock", rt.cfg.Lock.Driver),
			zap.String("gateway", rt.cfg.Gateway.Driver),
			zap.Bool("http", app != nil),
			zap.Bool("reminders", reminders != nil))

		waitForShutdown(ctx, logger)
		cancel()

		if app != nil {
			_ = app.ShutdownWithTimeout(shutdownTimeout)
		}
		if reminders != nil {
			reminders.Stop()
		}
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := runner.Shutdown(shutdownCtx); err != nil {
			logger.Warn("background work still running at shutdown", zap.Error(err))
		}
		return nil
	},
}

func newHTTPApp(rt *runtime, interactions *service.InteractionService) *fiber.App {
	app := fiber.New(fiber.Config{AppName: rt.cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, rt.logger, rt.metrics, rt.cfg.App.RequestTimeout())

	tokens := auth.NewTokenManager(rt.cfg.Auth.JWTSecret, rt.cfg.Auth.AccessTokenTTLMinutes, rt.cfg.Auth.Issuer)
	var limiter *httptransport.RateLimiter
	if rt.cfg.RateLimit.RPS > 0 {
		limiter = httptransport.NewRateLimiter(rt.cfg.RateLimit.RPS, rt.cfg.RateLimit.Burst, httptransport.KeyByActor())
	}

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(rt.cfg.App.Name, rt.cfg.App.Version, rt.healthChecks()),
		Interactions:   handlers.NewInteractionsHandler(interactions),
		StaffTickets:   handlers.NewStaffTicketsHandler(rt.service),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		RateLimiter:    limiter,
		Metrics:        rt.metrics,
	})
	return app
}

func waitForShutdown(ctx context.Context, logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("shutting down", zap.String("reason", "context done"))
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
