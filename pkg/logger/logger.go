package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.Logger
)

// Init builds the process logger and returns it. Every entry carries the
// service and env fields. env "dev" gets the colored console encoder.
func Init(service, env, level string) *zap.Logger {
	cfg := build(env, level)

	l, err := cfg.Build(zap.AddCaller(), zap.Fields(
		zap.String("service", service),
		zap.String("env", env),
	))
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}

	mu.Lock()
	log = l
	mu.Unlock()

	l.Info("logger.initialized", zap.String("level", cfg.Level.String()))
	return l
}

func build(env, level string) zap.Config {
	var cfg zap.Config
	if env == "dev" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg
}

// L returns the process logger, initializing a dev logger on first use.
func L() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		return Init("bastion", "dev", "info")
	}
	return l
}

// Named returns a child logger for one component.
func Named(component string) *zap.Logger {
	return L().Named(component)
}

// Sync flushes any buffered logs (defer this in main()).
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}
