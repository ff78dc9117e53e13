package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var errPGUnavailable = errors.New("postgres unavailable")

// HybridStore keeps system users, assets, organizations and command-filter
// rules in Postgres. Sealed credential entries live in Postgres too and are
// cached in Redis; without Postgres, Redis holds them on its own.
type HybridStore struct {
	redis   *redis.Client
	PG      *pgxpool.Pool
	logger  *zap.Logger
	credTTL time.Duration
	// assetTTL bounds how long asset lookups are served from Redis.
	assetTTL time.Duration
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type Config struct {
	RedisAddr     string
	RedisDB       int
	RedisPassword string
	PGURL         string
	Pool          PGPoolConfig
	// CredentialTTL is how long sealed entries stay cached in Redis when
	// Postgres is the source of truth.
	CredentialTTL time.Duration
	AssetTTL      time.Duration
}

// NewHybrid connects to Redis and, when cfg.PGURL is set, to Postgres.
func NewHybrid(cfg Config, logger *zap.Logger) (*HybridStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		DB:       cfg.RedisDB,
		Password: cfg.RedisPassword,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if cfg.PGURL != "" {
		pcfg, err := pgxpool.ParseConfig(cfg.PGURL)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		p := cfg.Pool
		if p.MaxConns > 0 {
			pcfg.MaxConns = p.MaxConns
		}
		if p.MinConns > 0 {
			pcfg.MinConns = p.MinConns
		}
		if p.MaxConnLifetime > 0 {
			pcfg.MaxConnLifetime = p.MaxConnLifetime
		}
		if p.MaxConnIdleTime > 0 {
			pcfg.MaxConnIdleTime = p.MaxConnIdleTime
		}
		if p.HealthCheckPeriod > 0 {
			pcfg.HealthCheckPeriod = p.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, pcfg)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	} else {
		logger.Warn("store.redis_only", zap.String("reason", "no postgres url; credential entries kept in redis without expiry"))
	}

	return &HybridStore{
		redis:    rdb,
		PG:       pgPool,
		logger:   logger,
		credTTL:  cfg.CredentialTTL,
		assetTTL: cfg.AssetTTL,
	}, nil
}

func (s *HybridStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

func (s *HybridStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
