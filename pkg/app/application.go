package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/osvaldoandrade/jwtguard/internal/metrics"
	"github.com/osvaldoandrade/jwtguard/internal/middleware"
	"github.com/osvaldoandrade/jwtguard/internal/providers"
	"github.com/osvaldoandrade/jwtguard/internal/tracing"
	"github.com/osvaldoandrade/jwtguard/pkg/config"
	"github.com/osvaldoandrade/jwtguard/pkg/jwks"
	"github.com/osvaldoandrade/jwtguard/pkg/validator"
)

type Application struct {
	Config    *config.Config
	Engine    *gin.Engine
	Validator *validator.TokenValidator
	Logger    *slog.Logger
	Redis     *redis.Client
	Tracing   *tracing.Tracing
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithValidator replaces the validator built from cfg.Issuers.
func WithValidator(v *validator.TokenValidator) ApplicationOption {
	return func(app *Application) error {
		app.Validator = v
		return nil
	}
}

// WithLogger replaces the logger built from cfg.LogLevel and cfg.LogFormat.
func WithLogger(logger *slog.Logger) ApplicationOption {
	return func(app *Application) error {
		app.Logger = logger
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	app := &Application{Config: cfg}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}
	if app.Logger == nil {
		app.Logger = NewLogger(cfg)
		slog.SetDefault(app.Logger)
	}
	logger := app.Logger

	tr, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:       cfg.Tracing.Enabled,
		ServiceName:   cfg.Tracing.ServiceName,
		Endpoint:      cfg.Tracing.OTLPEndpoint,
		Insecure:      cfg.Tracing.OTLPInsecure,
		SampleRatio:   cfg.Tracing.SampleRatio,
		UntracedPaths: cfg.Tracing.UntracedPaths,
	}, logger)
	if err != nil {
		return nil, err
	}
	app.Tracing = tr

	var store jwks.KeySetStore
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		app.Redis = providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := providers.PingRedis(context.Background(), app.Redis); err != nil {
			logger.Warn("redis unreachable; jwks store will retry per request", "addr", cfg.RedisAddr, "err", err)
		}
		store = jwks.NewRedisStore(app.Redis, time.Duration(cfg.JWKSStoreTTLSeconds)*time.Second)
	}

	if app.Validator == nil {
		configs, err := cfg.BuildIssuerConfigs(logger, store)
		if err != nil {
			app.closeInfra()
			return nil, err
		}
		v, err := validator.New(configs,
			validator.WithParserConfig(cfg.ParserConfig()),
			validator.WithMonitorConfig(cfg.MonitorConfig()),
			validator.WithLogger(logger),
			validator.WithTracerProvider(tr.Provider),
		)
		if err != nil {
			for _, ic := range configs {
				_ = ic.Loader().Close()
			}
			app.closeInfra()
			return nil, err
		}
		app.Validator = v
	}

	metrics.RegisterValidatorCollector(app.Validator, app.Redis, logger)

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(tr.Provider),
		middleware.LoggerMiddleware(logger),
	)
	app.Engine = engine

	logger.Info("jwtguard initialised", "issuers", len(app.Validator.Issuers()), "redis_store", store != nil)
	return app, nil
}

// NewLogger builds the process logger from cfg.LogLevel and cfg.LogFormat.
func NewLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "jwtguard", "env", cfg.Env)
}

// Close stops loader refresh tasks, flushes traces and closes Redis.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	if a.Validator != nil {
		errs = append(errs, a.Validator.Close())
	}
	errs = append(errs, a.Tracing.Shutdown(ctx))
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	return errors.Join(errs...)
}

func (a *Application) closeInfra() {
	_ = a.Tracing.Shutdown(context.Background())
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}
