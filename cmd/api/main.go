package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-tracker/internal/api/http"
	"github.com/spec-kit/ticket-tracker/internal/api/http/handlers"
	"github.com/spec-kit/ticket-tracker/internal/auth"
	"github.com/spec-kit/ticket-tracker/internal/config"
	"github.com/spec-kit/ticket-tracker/internal/events"
	"github.com/spec-kit/ticket-tracker/internal/observability"
	"github.com/spec-kit/ticket-tracker/internal/persistence"
	"github.com/spec-kit/ticket-tracker/internal/repository"
	"github.com/spec-kit/ticket-tracker/internal/seed"
	"github.com/spec-kit/ticket-tracker/internal/service"
	"github.com/spec-kit/ticket-tracker/internal/worker"
)

const (
	shutdownTimeout       = 10 * time.Second
	notificationQueueSize = 256
	idempotencyKeyPrefix  = "ticket-tracker:idempotency:"
)

type stores struct {
	users       repository.UserRepository
	tickets     repository.TicketRepository
	history     repository.TicketHistoryRepository
	idempotency repository.IdempotencyStore
}

func main() {
	var envFile, seedFile string
	pflag.StringVar(&envFile, "env-file", "", "path to a .env file to load before reading the environment")
	pflag.StringVar(&seedFile, "seed-file", "", "YAML fixture of users and tickets to load at startup")
	pflag.Parse()

	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if seedFile != "" {
		cfg.SeedFile = seedFile
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pg *persistence.Postgres
	if cfg.Store.Backend == config.BackendPostgres {
		pg, err = persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()

		if cfg.Postgres.RunMigrations {
			migrations := os.DirFS(cfg.Postgres.MigrationsDir)
			if err := persistence.RunMigrations(ctx, pg.Pool(), migrations, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
	}

	redis, err := persistence.NewRedis(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redis.Close()

	st := buildStores(cfg, pg, redis)
	logger.Info("stores ready",
		zap.String("backend", cfg.Store.Backend),
		zap.Bool("redis_idempotency", redis.Enabled()),
	)

	if err := seedStores(ctx, cfg, st, logger); err != nil {
		logger.Fatal("failed to seed stores", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	notifications := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	notifier := worker.StartNotificationWorker(ctx, dispatcher, notifications, logger, notificationQueueSize)

	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		UserRepo:   st.users,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  st.tickets,
		HistoryRepo: st.history,
		Idempotency: st.idempotency,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
		Policy:      service.TicketPolicyFromConfig(cfg.Ticket),
	})
	assignmentService := service.NewAssignmentService(service.AssignmentDependencies{
		TicketRepo:  st.tickets,
		UserRepo:    st.users,
		HistoryRepo: st.history,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	})
	viewService := service.NewViewService(st.tickets, cfg.Ticket.RecentLimit)

	app := httptransport.NewApp(httptransport.AppOptions{
		Name:           cfg.App.Name,
		Logger:         logger,
		Metrics:        metrics,
		RequestTimeout: cfg.App.RequestTimeout(),
		Routes: httptransport.RouteConfig{
			Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, metrics),
			Users:          handlers.NewUsersHandler(authService),
			Tickets:        handlers.NewTicketsHandler(ticketService, assignmentService, viewService, nil),
			Dashboard:      handlers.NewDashboardHandler(viewService),
			AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), st.users),
		},
	})

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	notifier.Stop()
	notifier.Wait()
}

func buildStores(cfg *config.Config, pg *persistence.Postgres, redis *persistence.Redis) stores {
	var st stores
	if pool := pg.Pool(); pool != nil {
		st.users = repository.NewUserRepository(pool)
		st.tickets = repository.NewTicketRepository(pool)
		st.history = repository.NewTicketHistoryRepository(pool)
	} else {
		st.users = repository.NewMemoryUserRepository()
		st.tickets = repository.NewMemoryTicketRepository()
		st.history = repository.NewMemoryTicketHistoryRepository()
	}
	if redis.Enabled() {
		st.idempotency = repository.NewRedisIdempotencyStore(redis.Client(), idempotencyKeyPrefix)
	} else {
		st.idempotency = repository.NewMemoryIdempotencyStore(nil)
	}
	return st
}

// seedStores loads SeedFile when set. The built-in demo data is loaded only
// into an empty in-memory store outside production.
func seedStores(ctx context.Context, cfg *config.Config, st stores, logger *zap.Logger) error {
	var (
		fixture *seed.Fixture
		err     error
	)
	switch {
	case cfg.SeedFile != "":
		fixture, err = seed.LoadFile(cfg.SeedFile)
	case cfg.Store.Backend == config.BackendMemory && !cfg.App.IsProduction():
		fixture, err = seed.Demo()
	default:
		return nil
	}
	if err != nil {
		return err
	}
	return seed.Apply(ctx, fixture, seed.Repositories{Users: st.users, Tickets: st.tickets}, cfg.Auth.BcryptCost, time.Now().UTC(), logger)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
