package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clubkit/botguard/internal/audit"
	"github.com/clubkit/botguard/internal/blocklist"
	"github.com/clubkit/botguard/internal/config"
	"github.com/clubkit/botguard/internal/gate"
	"github.com/clubkit/botguard/internal/health"
	"github.com/clubkit/botguard/internal/notify"
	"github.com/clubkit/botguard/internal/observability/logging"
	"github.com/clubkit/botguard/internal/ratelimit"
	"github.com/clubkit/botguard/internal/retry"
	"github.com/clubkit/botguard/internal/signing"
	"github.com/clubkit/botguard/internal/store"
	"github.com/clubkit/botguard/internal/threat"
	"github.com/clubkit/botguard/internal/validation"
)

// shutdownTimeout bounds the graceful drain of the ops server.
const shutdownTimeout = 10 * time.Second

// redisConnectAttempts is how many times the initial redis ping is tried
// before startup fails.
const redisConnectAttempts = 5

// App wires the security core together and owns its lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	store   store.Store
	signer  *signing.Signer
	gate    *gate.Gate
	sweeper *blocklist.Sweeper
	ops     *health.Server

	wg sync.WaitGroup
}

// NewApp builds the application from configuration.
func NewApp(cfg *config.Config, logger *logging.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}

	st, err := buildStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	app.store = st

	signer, err := signing.New(cfg.Security.Secret)
	if err != nil {
		return nil, err
	}
	app.signer = signer

	validator, err := validation.New(validationRules(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("build validator: %w", err)
	}

	detector, err := threat.New(threatSignatures(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("build threat detector: %w", err)
	}

	recorder := audit.NewRecorder(st,
		audit.WithLogger(logger.Named("audit").Logger),
	)

	transport := notify.NewLogTransport(logger.Named("transport").Logger)
	sink := notify.NewSink(transport, cfg.Security.Operators,
		notify.WithLogger(logger.Named("notify").Logger),
	)

	limiter := ratelimit.New(st, rateLimits(cfg),
		ratelimit.WithLogger(logger.Named("ratelimit").Logger),
		ratelimit.WithAlerter(sink),
	)

	registry := blocklist.New(st, recorder,
		blocklist.WithLogger(logger.Named("blocklist").Logger),
		blocklist.WithNotifier(sink),
		blocklist.WithAlerter(sink),
	)

	app.gate = gate.New(gate.Config{
		Registry:  registry,
		Limiter:   limiter,
		Detector:  detector,
		Validator: validator,
		Recorder:  recorder,
		Messenger: sink,
		Operators: cfg.Security.Operators,
		AutoBlock: gate.AutoBlockPolicy{
			Threshold:     cfg.Security.AutoBlock.Threshold,
			Window:        cfg.Security.AutoBlock.Window.Duration(),
			BlockDuration: cfg.Security.AutoBlock.BlockDuration.Duration(),
		},
	}, gate.WithLogger(logger.Named("gate").Logger))

	app.sweeper = blocklist.NewSweeper(registry,
		cfg.Security.Sweep.Interval.Duration(),
		cfg.Security.Sweep.ErrorBackoff.Duration(),
		blocklist.WithSweeperLogger(logger.Named("sweeper").Logger),
	)

	if cfg.Ops.Listen != "" {
		checker := health.NewChecker()
		checker.Register("store", st.Ping)

		app.ops = health.NewServer(cfg.Ops.Listen, checker, app.gate,
			health.WithLogger(logger.Named("ops").Logger),
		)
	}

	return app, nil
}

// Gate exposes the security gate for embedding callers.
func (a *App) Gate() *gate.Gate {
	return a.gate
}

// Signer exposes the token signer for embedding callers.
func (a *App) Signer() *signing.Signer {
	return a.signer
}

// buildStore creates the configured store backend.
func buildStore(cfg *config.Config, logger *logging.Logger) (store.Store, error) {
	if !cfg.Redis.Enabled {
		logger.Info("using in-memory store")
		return store.NewMemoryStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout.Duration(),
		ReadTimeout:  cfg.Redis.ReadTimeout.Duration(),
		WriteTimeout: cfg.Redis.WriteTimeout.Duration(),
	})

	// Redis may still be coming up alongside us; retry the initial ping
	// with growing delays before giving up.
	backoff := retry.NewExponentialBackoff(500*time.Millisecond, 5*time.Second, 2, 0.1)
	var pingErr error
	for attempt := 0; attempt < redisConnectAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Redis.DialTimeout.Duration())
		pingErr = client.Ping(ctx).Err()
		cancel()
		if pingErr == nil {
			break
		}
		logger.Warn("redis ping failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(pingErr),
		)
		time.Sleep(backoff.Next(attempt))
	}
	if pingErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", pingErr)
	}

	logger.Info("using redis store", zap.String("address", cfg.Redis.Address))
	return store.NewRedisStore(client, cfg.Redis.Prefix,
		store.WithRedisLogger(logger.Named("store").Logger),
	), nil
}

// validationRules converts configured validation rules.
func validationRules(cfg *config.Config) []validation.Rule {
	rules := make([]validation.Rule, 0, len(cfg.Validation))
	for _, rule := range cfg.Validation {
		rules = append(rules, validation.Rule{Field: rule.Field, Pattern: rule.Pattern})
	}
	return rules
}

// threatSignatures converts configured attack signatures.
func threatSignatures(cfg *config.Config) []threat.Signature {
	sigs := make([]threat.Signature, 0, len(cfg.Signatures))
	for _, sig := range cfg.Signatures {
		sigs = append(sigs, threat.Signature{Name: sig.Name, Pattern: sig.Pattern})
	}
	return sigs
}

// rateLimits converts configured limits.
func rateLimits(cfg *config.Config) map[string]ratelimit.Limit {
	limits := make(map[string]ratelimit.Limit, len(cfg.RateLimits))
	for action, rl := range cfg.RateLimits {
		limits[action] = ratelimit.Limit{
			Events: rl.Limit,
			Window: rl.Window.Duration(),
		}
	}
	return limits
}

// Run starts the background tasks and blocks until the context is
// cancelled, then drains everything.
func (a *App) Run(ctx context.Context) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.sweeper.Run(ctx)
	}()

	if a.ops != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.ops.Start(); err != nil {
				a.logger.Error("ops server failed", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	a.logger.Info("shutting down")

	if a.ops != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.ops.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("ops server shutdown failed", zap.Error(err))
		}
	}

	a.wg.Wait()

	if err := a.store.Close(); err != nil {
		a.logger.Error("store close failed", zap.Error(err))
	}

	a.logger.Info("shutdown complete")
	return nil
}
