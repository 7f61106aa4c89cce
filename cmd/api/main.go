package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"helpdesk.org/internal/audit"
	"helpdesk.org/internal/auth"
	"helpdesk.org/internal/config"
	"helpdesk.org/internal/httpapi"
	"helpdesk.org/internal/migrate"
	"helpdesk.org/internal/notify"
	"helpdesk.org/internal/obs"
	"helpdesk.org/internal/ratelimit"
	"helpdesk.org/internal/store/pg"
	"helpdesk.org/internal/ticket"
	"helpdesk.org/ops/migrations"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.LookupEnv)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log, err := obs.NewLogger(cfg.Environment, cfg.Log.Level, cfg.Service)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("helpdesk-api stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	obs.Init()
	obs.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage: PostgreSQL when a DSN is configured, otherwise process memory.
	var (
		db      *sql.DB
		users   auth.UserStore
		tickets ticket.Store
	)
	if cfg.Database.DSN != "" {
		var err error
		db, err = pg.Open(ctx, cfg.Database.DSN, pg.Options{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		defer db.Close()
		if cfg.Database.AutoMigrate {
			applied, err := migrate.NewManager(db, migrations.SQL(), migrate.WithLogger(log)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("migrations up to date", zap.Int("applied", len(applied)))
		}
		users = auth.NewPGUserStore(db)
		tickets = ticket.NewPGStore(db)
	} else {
		log.Warn("no database configured, using in-memory stores")
		mem := auth.NewMemoryUserStore()
		users = mem
		tickets = ticket.NewMemoryStore(mem)
	}

	tokens, err := auth.NewTokenService([]byte(cfg.Auth.Secret), auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return err
	}
	authSvc := auth.NewService(users, auth.NewPasswordHasher(cfg.Auth.BcryptCost), tokens)

	ready := httpapi.ReadyProbe{DB: db}
	factory := ratelimit.MemoryFactory()
	if cfg.RateLimit.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		ready.Redis = rdb
		factory = func(name string, lc ratelimit.Config) (ratelimit.Limiter, error) {
			return ratelimit.NewRedisLimiter(rdb, name, lc, log)
		}
	}
	limiters, err := ratelimit.NewRegistry(cfg.RateLimit.Limiters, factory)
	if err != nil {
		return err
	}
	for _, name := range limiters.Names() {
		if fw, ok := limiters.MustGet(name).(*ratelimit.FixedWindow); ok {
			fw.StartJanitor(ctx, cfg.RateLimit.JanitorInterval)
		}
		log.Info("rate limiter configured", zap.String("name", name), zap.String("backend", cfg.RateLimit.Backend))
	}

	mailer, closeMailer, err := buildMailer(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = closeMailer() }()
	dispatcher := notify.NewDispatcher(tickets, mailer,
		notify.WithLogger(log.Named("notify")),
		notify.WithRenderer(notify.NewRenderer(cfg.Notify.Product)),
	)
	ticketSvc := ticket.NewService(tickets, dispatcher,
		ticket.WithDeferredNotifications(cfg.Notify.Deferred),
		ticket.WithLogger(log),
	)

	api := httpapi.New(httpapi.Options{
		Auth:           authSvc,
		Tickets:        ticketSvc,
		Limiters:       limiters,
		Audit:          audit.New(log),
		Logger:         log.Named("http"),
		Ready:          ready,
		Version:        version,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		AdminEmails:    cfg.Auth.AdminEmails,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		TrustProxy:     cfg.HTTP.TrustProxy,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	health := httpapi.NewHealthServer(ready, log.Named("grpc"))
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	grpcLis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	go health.Run(ctx, 10*time.Second)

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		log.Info("grpc health listening", zap.String("addr", cfg.GRPC.Addr))
		if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	health.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		log.Warn("notifications still in flight at shutdown", zap.Error(err))
	}
	log.Info("stopped")
	return runErr
}

func buildMailer(cfg *config.Config, log *zap.Logger) (notify.Mailer, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Notify.Mailer {
	case "smtp":
		m, err := notify.NewSMTPMailer(cfg.Notify.SMTP)
		if err != nil {
			return nil, nil, err
		}
		return m, noop, nil
	case "amqp":
		return notify.DialQueueMailer(cfg.Notify.Queue)
	default:
		return notify.NewLogMailer(log.Named("mail")), noop, nil
	}
}
