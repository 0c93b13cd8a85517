package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bridgearr/bridgearr/internal/api"
	"github.com/bridgearr/bridgearr/internal/browser"
	"github.com/bridgearr/bridgearr/internal/config"
	"github.com/bridgearr/bridgearr/internal/confirm"
	"github.com/bridgearr/bridgearr/internal/crypto"
	"github.com/bridgearr/bridgearr/internal/database"
	"github.com/bridgearr/bridgearr/internal/debrid"
	"github.com/bridgearr/bridgearr/internal/events"
	"github.com/bridgearr/bridgearr/internal/logger"
	"github.com/bridgearr/bridgearr/internal/metadata/trakt"
	"github.com/bridgearr/bridgearr/internal/notify/overseerr"
	"github.com/bridgearr/bridgearr/internal/queue"
	"github.com/bridgearr/bridgearr/internal/retry"
	"github.com/bridgearr/bridgearr/internal/scheduler"
	"github.com/bridgearr/bridgearr/internal/scheduler/tasks"
	"github.com/bridgearr/bridgearr/internal/seasons"
	"github.com/bridgearr/bridgearr/internal/title"
)

func main() {
	// .env is optional; real deployments use the config file or
	// BRIDGEARR_ environment variables.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(logger.Config{
		Level:           cfg.Logging.Level,
		Format:          cfg.Logging.Format,
		Path:            cfg.Logging.Path,
		MaxSizeMB:       cfg.Logging.MaxSizeMB,
		MaxBackups:      cfg.Logging.MaxBackups,
		MaxAgeDays:      cfg.Logging.MaxAgeDays,
		Compress:        cfg.Logging.Compress,
		EnableStreaming: true,
		BufferSize:      1000,
	})
	defer log.Close()

	log.Info().
		Str("version", config.Version).
		Str("logLevel", cfg.Logging.Level).
		Msg("starting Bridgearr")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	log.Info().Msg("running database migrations")
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	secrets := buildSecretStore(ctx, cfg, db, log)

	hub := events.NewHub()
	go hub.Run()
	if b := log.Broadcaster(); b != nil {
		b.SetHub(hub)
		hub.SetHistoryHandler(func() interface{} { return b.Recent() })
	}

	session := browser.NewWebSession(browser.Config{
		Headless:         cfg.Debrid.Headless,
		NavTimeout:       30 * time.Second,
		OpTimeout:        10 * time.Second,
		InstallDriver:    true,
		AppURL:           cfg.Debrid.BaseURL,
		MaxMovieSizeGB:   cfg.Debrid.MaxMovieSizeGB,
		MaxEpisodeSizeGB: cfg.Debrid.MaxEpisodeGB,
		DefaultFilter:    cfg.Debrid.FilterRegex,
	}, log.Logger)

	refresher := debrid.NewTokenRefresher(cfg.Debrid, db, secrets, log.Logger)
	refresher.AttachSession(session)
	// The session reads the stored credential back on every start and
	// restart, so a still-valid token reaches the browser without a
	// refresh happening first.
	session.SetCredentials(refresher)

	err = retry.Do(ctx, "browser startup", retry.DefaultPolicy(), func() error {
		return session.Start(ctx)
	}, &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start browser session")
	}
	defer session.Stop()

	err = retry.Do(ctx, "credential refresh", retry.DefaultPolicy(), func() error {
		err := refresher.EnsureValid(ctx)
		if errors.Is(err, debrid.ErrNeedsSetup) {
			return fmt.Errorf("%w: %w", retry.ErrTerminal, err)
		}
		return err
	}, &log.Logger)
	if err != nil {
		if errors.Is(err, debrid.ErrNeedsSetup) {
			log.Warn().Msg("debrid credentials need setup, requests are refused until re-authorized")
		} else {
			log.Error().Err(err).Msg("initial credential refresh failed")
		}
	}

	traktClient := trakt.NewClient(cfg.Trakt, log.Logger)
	fulfillment := overseerr.NewClient(cfg.Overseerr, log.Logger)

	normalizer := title.NewNormalizer(title.NoopTranslator{})
	matcher := title.NewMatcher(normalizer, title.Thresholds{
		Search:     cfg.Matching.SearchThreshold,
		Cached:     cfg.Matching.CachedThreshold,
		SingleWord: cfg.Matching.SingleWordThreshold,
	})
	confirmer := confirm.New(session, matcher,
		confirm.DefaultConfig(cfg.Debrid.BaseURL, cfg.Debrid.FilterRegex), log.Logger)

	store := seasons.NewStore(db)
	tracker := seasons.NewTracker(store, traktClient, confirmer, log.Logger)

	q := queue.New(cfg.Queue.Capacity, log.Logger)
	worker := queue.NewWorker(q, session, confirmer, tracker, fulfillment, hub, db, log.Logger)
	workerDone := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(workerDone)
	}()

	sched := startScheduler(cfg, refresher, tracker, fulfillment, traktClient, q, log)
	if sched != nil {
		defer sched.Stop()
	}

	server := api.NewServer(db, hub, cfg, traktClient, tracker, q, refresher, log.Logger)

	go func() {
		addr := cfg.Server.Address()
		log.Info().Str("address", addr).Msg("HTTP server listening")
		if err := server.Start(addr); err != nil {
			log.Info().Msg("server stopped")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("received shutdown signal")

	cancel()

	// The browser teardown in the deferred session.Stop must not race
	// the worker's in-flight item.
	select {
	case <-workerDone:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("worker did not finish its in-flight item in time")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
}

// buildSecretStore returns the store for tokens at rest, or nil when no
// encryption pin is configured. The key derivation salt persists in the
// settings table so stored tokens survive restarts.
func buildSecretStore(ctx context.Context, cfg *config.Config, db *database.DB, log *logger.Logger) *crypto.SecretStore {
	if cfg.Debrid.EncryptionPIN == "" {
		log.Warn().Msg("no encryption pin configured, tokens are stored unencrypted")
		return nil
	}

	var salt []byte
	stored, err := db.GetSetting(ctx, database.SettingSecretSalt)
	if err == nil {
		salt, err = hex.DecodeString(stored)
	}
	if err != nil || len(salt) == 0 {
		salt, err = crypto.GenerateSalt()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to generate encryption salt")
		}
		if err := db.SetSetting(ctx, database.SettingSecretSalt, hex.EncodeToString(salt)); err != nil {
			log.Fatal().Err(err).Msg("failed to persist encryption salt")
		}
	}
	return crypto.NewSecretStore(cfg.Debrid.EncryptionPIN, salt)
}

func startScheduler(cfg *config.Config, refresher *debrid.TokenRefresher, tracker *seasons.Tracker, fulfillment *overseerr.Client, traktClient *trakt.Client, q *queue.Queue, log *logger.Logger) *scheduler.Scheduler {
	sched, err := scheduler.New(log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("failed to create scheduler")
		return nil
	}

	if err := tasks.RegisterTokenRefresh(sched, refresher); err != nil {
		log.Error().Err(err).Msg("failed to register token refresh task")
	}

	interval := time.Duration(cfg.Tasks.RefreshIntervalMinutes) * time.Minute
	if cfg.Tasks.EnableSubscriptions {
		if err := tasks.RegisterShowSubscriptions(sched, tracker, interval); err != nil {
			log.Error().Err(err).Msg("failed to register show subscriptions task")
		}
	}
	if cfg.Tasks.EnableRequestRecheck {
		recheck := tasks.NewRecheck(fulfillment, traktClient, tracker, q, log.Logger)
		if err := tasks.RegisterRequestRecheck(sched, recheck, interval); err != nil {
			log.Error().Err(err).Msg("failed to register request recheck task")
		}
	}

	if err := sched.Start(); err != nil {
		log.Error().Err(err).Msg("failed to start scheduler")
	}
	return sched
}
