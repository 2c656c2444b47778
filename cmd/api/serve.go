package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/ticket-tracker/internal/api/http"
	"github.com/spec-kit/ticket-tracker/internal/api/http/handlers"
	"github.com/spec-kit/ticket-tracker/internal/auth"
	"github.com/spec-kit/ticket-tracker/internal/config"
	"github.com/spec-kit/ticket-tracker/internal/events"
	"github.com/spec-kit/ticket-tracker/internal/observability"
	"github.com/spec-kit/ticket-tracker/internal/persistence"
	"github.com/spec-kit/ticket-tracker/internal/repository"
	"github.com/spec-kit/ticket-tracker/internal/repository/memory"
	"github.com/spec-kit/ticket-tracker/internal/service"
	"github.com/spec-kit/ticket-tracker/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

// stores groups the repositories of the selected driver.
type stores struct {
	users       repository.UserRepository
	tickets     repository.TicketRepository
	assignments repository.AssignmentRepository
	tx          repository.Transactor
	check       handlers.DependencyCheck
	close       func()
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		logger.Warn("using in-memory store; data is lost on exit")
		store := memory.NewStore()
		return &stores{
			users:       store.Users(),
			tickets:     store.Tickets(),
			assignments: store.Assignments(),
			tx:          store,
			check:       handlers.DependencyCheck{Name: "postgres"},
			close:       func() {},
		}, nil
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			pg.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	pool := pg.PoolHandle()
	return &stores{
		users:       repository.NewUserRepository(pool),
		tickets:     repository.NewTicketRepository(pool),
		assignments: repository.NewAssignmentRepository(pool),
		tx:          pg,
		check:       handlers.DependencyCheck{Name: "postgres", Ping: pg.Ping},
		close:       pg.Close,
	}, nil
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	redisCheck := handlers.DependencyCheck{Name: "redis"}
	var publisher service.ChannelPublisher
	if cfg.Redis.Addr != "" {
		rdb := persistence.NewRedis(cfg.Redis, logger)
		defer rdb.Close()
		redisCheck.Ping = rdb.Ping
		publisher = rdb
	}

	dispatcher := events.NewInMemoryDispatcher()
	notifier := service.NewNotificationService(publisher, cfg.Redis.EventsChannel, cfg.Notification, logger, metrics)
	notificationWorker := worker.NewNotificationWorker(notifier, cfg.Notification.QueueSize, logger)
	notificationWorker.Subscribe(dispatcher)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL())
	authService := service.NewAuthService(service.AuthDependencies{
		UserRepo:     st.users,
		TokenManager: tokens,
		BcryptCost:   cfg.Auth.BcryptCost,
		Metrics:      metrics,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:     st.tickets,
		AssignmentRepo: st.assignments,
		UserRepo:       st.users,
		Transactor:     st.tx,
		Dispatcher:     dispatcher,
		Metrics:        metrics,
		Logger:         logger,
		StrictUpdate:   cfg.Tickets.StrictUpdate,
	})

	app := httptransport.NewApp(cfg.App.Name, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Prefix:         cfg.App.RoutePrefix,
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, st.check, redisCheck),
		Auth:           handlers.NewAuthHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		AuthMiddleware: auth.NewAuthMiddleware(authService),
		Gatherer:       registry,
	})

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return notificationWorker.Run(gctx)
	})
	group.Go(func() error {
		logger.Info("http server listening",
			zap.String("addr", cfg.App.Addr()),
			zap.String("store", cfg.Store.Driver),
			zap.String("version", cfg.App.Version),
		)
		if err := app.Listen(cfg.App.Addr()); err != nil {
			return fmt.Errorf("fiber listen: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	return group.Wait()
}
