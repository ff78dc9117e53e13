package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filippo.io/age"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bastion/internal/api"
	"github.com/Checker-Finance/bastion/internal/audit"
	"github.com/Checker-Finance/bastion/internal/credstore"
	"github.com/Checker-Finance/bastion/internal/dispatch"
	"github.com/Checker-Finance/bastion/internal/jobs"
	"github.com/Checker-Finance/bastion/internal/queue"
	"github.com/Checker-Finance/bastion/internal/rate"
	"github.com/Checker-Finance/bastion/internal/resolver"
	"github.com/Checker-Finance/bastion/internal/rules"
	"github.com/Checker-Finance/bastion/internal/sealed"
	internalsecrets "github.com/Checker-Finance/bastion/internal/secrets"
	"github.com/Checker-Finance/bastion/internal/store"
	"github.com/Checker-Finance/bastion/internal/sysuser"
	"github.com/Checker-Finance/bastion/internal/tenancy"
	"github.com/Checker-Finance/bastion/pkg/config"
	"github.com/Checker-Finance/bastion/pkg/logger"
	"github.com/Checker-Finance/bastion/pkg/secrets"
	"github.com/Checker-Finance/bastion/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	log := logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	log.Info("bastion.starting", zap.String("dsn", utils.MaskDSN(cfg.DatabaseURL)))

	if cfg.JWTSecret == "" {
		log.Fatal("bastion.config_invalid", zap.String("reason", "JWT_SECRET is required"))
	}

	// --- Store (Redis + Postgres hybrid) ---
	st, err := store.NewHybrid(store.Config{
		RedisAddr:     cfg.RedisAddr,
		RedisDB:       cfg.RedisDB,
		RedisPassword: cfg.RedisPass,
		PGURL:         cfg.DatabaseURL,
		Pool: store.PGPoolConfig{
			MaxConns:          int32(cfg.PGMaxConns),
			MinConns:          int32(cfg.PGMinConns),
			MaxConnLifetime:   cfg.PGMaxConnLifetime,
			MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
			HealthCheckPeriod: cfg.PGHealthCheckPeriod,
		},
		CredentialTTL: cfg.CredCacheTTL,
		AssetTTL:      cfg.AssetCacheTTL,
	}, logger.Named("store"))
	if err != nil {
		log.Fatal("store.init_failed", zap.Error(err))
	}

	// --- Keyring (per-organization sealing identities) ---
	stopCleaner := make(chan struct{})
	keyring, err := newKeyring(ctx, cfg, log, stopCleaner)
	if err != nil {
		log.Fatal("keyring.init_failed", zap.Error(err))
	}

	tm := tenancy.NewManager(st, logger.Named("tenancy"))
	creds := credstore.New(st, sealed.NewSealer(keyring), logger.Named("credstore"))

	// --- Job queue ---
	q, closeQueue, err := newQueue(cfg, log)
	if err != nil {
		log.Fatal("queue.init_failed", zap.Error(err))
	}

	// --- Dispatcher ---
	throttle := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.SubmitRPS,
		Burst:             cfg.SubmitBurst,
		Cooldown:          time.Second,
	})
	go pruneLimiters(ctx, throttle, cfg.CleanupFreq, log)

	opts := []dispatch.Option{dispatch.WithThrottle(throttle)}
	if st.PG != nil {
		opts = append(opts, dispatch.WithRecorder(audit.NewSubmissionWriter(st.PG, logger.Named("audit"), cfg.ServiceName)))
	}
	dispatcher := dispatch.New(q, logger.Named("dispatch"), opts...)

	users := sysuser.NewService(st, creds, tm, dispatcher, logger.Named("sysuser"))
	res := resolver.New(st, creds, tm, logger.Named("resolver"))

	// --- Periodic connectivity test ---
	var scheduler *jobs.ConnectivityScheduler
	if cfg.ConnectivityTestInterval > 0 {
		scheduler = jobs.NewConnectivityScheduler(logger.Named("scheduler"), st, dispatcher, cfg.ConnectivityTestInterval)
		go scheduler.Start(ctx)
	}

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})

	handler := api.NewHandler(logger.Named("api"), users, res, dispatcher, rules.New(st))
	api.RegisterRoutes(app, api.NewAuth([]byte(cfg.JWTSecret), st, logger.Named("auth")), handler, map[string]api.HealthCheck{
		"store": st.HealthCheck,
	})

	go func() {
		log.Info("http.listening", zap.Int("port", cfg.Port))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			log.Fatal("fiber.listen_failed", zap.Error(err))
		}
	}()

	log.Info("bastion.running",
		zap.String("env", cfg.Env),
		zap.String("queue", cfg.QueueBackend),
		zap.Duration("connectivity_interval", cfg.ConnectivityTestInterval))

	<-ctx.Done()
	log.Info("bastion.shutting_down")

	close(stopCleaner)
	if scheduler != nil {
		scheduler.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warn("fiber.shutdown_failed", zap.Error(err))
	}
	closeQueue()
	if err := st.Close(); err != nil {
		log.Warn("store.close_failed", zap.Error(err))
	}
}

// newKeyring returns a static keyring when KEYRING_IDENTITY is set and the
// Secrets Manager keyring otherwise.
func newKeyring(ctx context.Context, cfg *config.Config, log *zap.Logger, stopCleaner <-chan struct{}) (sealed.Keyring, error) {
	if cfg.KeyringIdentity != "" {
		id, err := sealed.ParseIdentity(cfg.KeyringIdentity)
		if err != nil {
			return nil, fmt.Errorf("KEYRING_IDENTITY: %w", err)
		}
		log.Warn("keyring.static", zap.String("recipient", id.Recipient().String()))
		return sealed.NewStaticKeyring(id), nil
	}

	provider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
	if err != nil {
		return nil, fmt.Errorf("aws secrets manager provider: %w", err)
	}
	cache := secrets.NewCache[*age.X25519Identity](cfg.CacheTTL)
	go cache.StartCleaner(cfg.CleanupFreq, stopCleaner)

	kr := internalsecrets.NewAWSKeyring(logger.Named("keyring"), cfg.Env, cfg.KeyringVenue, provider, cache, cfg.KeyringAutoProvision)
	if _, err := kr.DiscoverOrgs(ctx); err != nil {
		log.Warn("keyring.discover_failed", zap.Error(err))
	}
	return kr, nil
}

// pruneLimiters drops throttle state of system users idle for a full interval.
func pruneLimiters(ctx context.Context, m *rate.Manager, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Prune(interval); n > 0 {
				log.Debug("rate.pruned", zap.Int("count", n), zap.Int("remaining", m.Len()))
			}
		}
	}
}

func newQueue(cfg *config.Config, log *zap.Logger) (dispatch.Queue, func(), error) {
	switch cfg.QueueBackend {
	case config.QueueRabbitMQ:
		rq, err := queue.NewRabbit(cfg.RabbitMQURL, cfg.JobQueuePrefix, logger.Named("queue"))
		if err != nil {
			return nil, nil, err
		}
		log.Info("queue.rabbitmq", zap.String("url", utils.MaskDSN(cfg.RabbitMQURL)))
		return rq, func() {
			if err := rq.Close(); err != nil {
				log.Warn("rabbitmq.close_failed", zap.Error(err))
			}
		}, nil
	case config.QueueNATS:
		nc, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("jetstream: %w", err)
		}
		if err := queue.EnsureStream(js, cfg.JobStream, cfg.JobSubjectPrefix); err != nil {
			nc.Close()
			return nil, nil, err
		}
		nq, err := queue.NewNATS(nc, cfg.JobSubjectPrefix, cfg.ServiceName, logger.Named("queue"))
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return nq, func() {
			if err := nc.Drain(); err != nil {
				log.Warn("nats.drain_failed", zap.Error(err))
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
}
