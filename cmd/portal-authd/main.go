// Command portal-authd serves the portal identity API over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/authz"
	"github.com/MrEthical07/portalauth/delivery"
	"github.com/MrEthical07/portalauth/directory"
	"github.com/MrEthical07/portalauth/directory/mysql"
	"github.com/MrEthical07/portalauth/directory/postgres"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "portal-authd:", err)
		os.Exit(1)
	}
}

func run(args []string, logOut io.Writer) error {
	var (
		configPath string
		envFile    string
		listen     string
	)
	flagSet := pflag.NewFlagSet("portal-authd", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading PORTAL_* variables")
	flagSet.StringVar(&listen, "listen", "", "listen address, overrides the config")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg, err := LoadConfig(configPath, os.LookupEnv)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}

	logger, err := newLogger(cfg.Log, logOut)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	b := portalauth.New().
		WithConfig(cfg.EngineConfig()).
		WithDirectory(deps.directory).
		WithDelivery(deps.sender).
		WithLogger(logger)
	if deps.redis != nil {
		b = b.WithRedis(deps.redis)
	}
	if cfg.Auth.Audit {
		b = b.WithAuditSink(portalauth.NewSlogSink(logger.With("component", "audit")))
	}
	engine, err := b.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	if err := bootstrapAdmin(ctx, engine, cfg.Bootstrap, logger); err != nil {
		return err
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newRouter(&server{engine: engine, logger: logger, secureCookie: cfg.SecureCookies}, metricsPath),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen,
			"directory", cfg.Directory.Driver,
			"delivery", cfg.Delivery.Driver,
			"challenge_store", cfg.Auth.ChallengeStore,
			"session_store", cfg.Auth.SessionStore,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func newLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

// backends holds the external connections the engine is built from.
type backends struct {
	directory portalauth.UserDirectory
	sender    delivery.Sender
	redis     redis.UniversalClient

	closers []func() error
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg Config, logger *slog.Logger) (_ *backends, err error) {
	deps := &backends{}
	defer func() {
		if err != nil {
			deps.close()
		}
	}()

	if cfg.needsRedis() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		deps.closers = append(deps.closers, client.Close)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		deps.redis = client
	}

	switch cfg.Directory.Driver {
	case "postgres":
		pool, err := postgres.Open(ctx, cfg.Directory.Postgres)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, func() error { pool.Close(); return nil })
		store := postgres.New(pool)
		if cfg.Directory.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		deps.directory = store
	case "mysql":
		my := cfg.Directory.MySQL
		db, err := mysql.Open(my.User, my.Password, my.Addr, my.Name)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, db.Close)
		store := mysql.New(db)
		if cfg.Directory.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		deps.directory = store
	default:
		logger.Warn("using in-memory directory; accounts are lost on restart")
		deps.directory = directory.NewMemory()
	}

	switch cfg.Delivery.Driver {
	case "amqp":
		email, err := delivery.DialAMQP(cfg.Delivery.AMQPURL, cfg.Delivery.EmailQueue)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, email.Close)
		sms, err := delivery.DialAMQP(cfg.Delivery.AMQPURL, cfg.Delivery.SMSQueue)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, sms.Close)
		deps.sender = delivery.NewRouter().
			Handle(delivery.ChannelEmail, email).
			Handle(delivery.ChannelSMS, sms)
	default:
		deps.sender = delivery.NewLogSender(logger.With("component", "delivery"))
	}
	return deps, nil
}

// bootstrapAdmin provisions the configured administrator. A taken username
// is not an error, so restarts are harmless.
func bootstrapAdmin(ctx context.Context, engine *portalauth.Engine, cfg BootstrapConfig, logger *slog.Logger) error {
	if cfg.AdminUsername == "" {
		return nil
	}
	acc, err := engine.ProvisionAccount(ctx, portalauth.Actor{Role: authz.RoleAdministrator}, portalauth.RegisterRequest{
		Username:    cfg.AdminUsername,
		Password:    cfg.AdminPassword,
		DisplayName: cfg.AdminUsername,
		Role:        authz.RoleAdministrator,
	})
	switch {
	case err == nil:
		logger.Info("bootstrap administrator created", "username", acc.Username, "user_id", acc.ID)
		return nil
	case errors.Is(err, portalauth.ErrDuplicateIdentifier):
		return nil
	default:
		return fmt.Errorf("bootstrap administrator: %w", err)
	}
}
