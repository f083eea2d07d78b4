package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Donghyun-Son/srtgo/internal/api"
	"github.com/Donghyun-Son/srtgo/internal/auth"
	"github.com/Donghyun-Son/srtgo/internal/clock"
	"github.com/Donghyun-Son/srtgo/internal/config"
	"github.com/Donghyun-Son/srtgo/internal/credentials"
	"github.com/Donghyun-Son/srtgo/internal/crypto"
	"github.com/Donghyun-Son/srtgo/internal/db"
	"github.com/Donghyun-Son/srtgo/internal/events"
	"github.com/Donghyun-Son/srtgo/internal/manage"
	"github.com/Donghyun-Son/srtgo/internal/migrate"
	"github.com/Donghyun-Son/srtgo/internal/notify"
	"github.com/Donghyun-Son/srtgo/internal/poll"
	"github.com/Donghyun-Son/srtgo/internal/rail/gateway"
	"github.com/Donghyun-Son/srtgo/internal/reservation"
	"github.com/Donghyun-Son/srtgo/internal/session"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the control API and the pollers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}
			if migrateUp {
				if err := migrate.Up(ctx, d, log); err != nil {
					return err
				}
			}

			return serve(ctx, cfg, d, log)
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}

func serve(ctx context.Context, cfg config.Config, d *db.DB, log *slog.Logger) error {
	aead, err := crypto.New(cfg.CredentialsKey)
	if err != nil {
		return err
	}
	creds := credentials.NewStore(d, aead)
	repo := reservation.NewRepo(d)

	sessions, closeSessions, err := sessionStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSessions()

	rails := &gateway.Factory{
		BaseURL:  cfg.RailGatewayURL,
		HTTP:     &http.Client{Timeout: cfg.RailTimeout},
		Sessions: sessions,
		Log:      log,
	}

	classifier := poll.DefaultClassifier()
	if cfg.ClassifierRules != "" {
		if classifier, err = poll.LoadClassifier(cfg.ClassifierRules); err != nil {
			return err
		}
	}

	engine := &poll.Engine{
		Store:       repo,
		Credentials: creds,
		Clients:     rails,
		Sink: notify.Fanout{
			notify.Log{Log: log},
			&notify.Telegram{Settings: creds, Log: log},
		},
		Classifier:    classifier,
		Clock:         clock.Real(),
		Pacer:         poll.NewGammaPacer(nil),
		Log:           log,
		Horizon:       cfg.PollHorizon,
		MaxUnexpected: cfg.MaxUnexpectedErrors,
	}
	if cfg.AMQPURL != "" {
		engine.Events = &events.Publisher{URL: cfg.AMQPURL, Queue: cfg.EventsQueue}
	}

	sched := poll.NewScheduler(engine, log)
	resume(ctx, repo, sched, log)

	mgr := &manage.Service{Store: repo, Credentials: creds, Clients: rails, Log: log}
	srv := &api.Server{
		Reservations: repo,
		Polls:        sched,
		Users:        auth.NewUsers(d),
		Cookies:      auth.NewCookies(cfg.CookieHashKey, cfg.CookieBlockKey),
		Tokens:       auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL),
		Manage:       mgr,
		Trains:       mgr,
		Log:          log,
	}
	e := srv.Routes()

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr, "version", versionString())
		errc <- e.Start(cfg.ListenAddr)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	if err := sched.Shutdown(shutdownCtx); err != nil {
		log.Warn("poller shutdown", "err", err, "active", len(sched.Active()))
	}
	return nil
}

// resume restarts polling for records a previous process left searching.
func resume(ctx context.Context, repo *reservation.Repo, sched *poll.Scheduler, log *slog.Logger) {
	recs, err := repo.ListByStatus(ctx, reservation.StatusSearching)
	if err != nil {
		log.Error("list interrupted reservations", "err", err)
		return
	}
	for _, r := range recs {
		if _, err := sched.Start(r.ID); err != nil {
			log.Warn("resume polling", "reservation_id", r.ID, "err", err)
			continue
		}
	}
	if len(recs) > 0 {
		log.Info("resumed polling", "count", len(recs))
	}
}

func sessionStore(ctx context.Context, cfg config.Config, log *slog.Logger) (session.Store, func(), error) {
	if cfg.RedisAddr == "" {
		log.Info("rail sessions kept in memory")
		return session.NewMemory(cfg.SessionTTL), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("rail sessions kept in redis", "addr", cfg.RedisAddr)
	return session.NewRedis(rdb, cfg.SessionTTL), func() { _ = rdb.Close() }, nil
}
