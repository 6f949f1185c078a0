// Package app assembles the service's components from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/strmly/strmly/internal/api"
	"github.com/strmly/strmly/internal/chain"
	"github.com/strmly/strmly/internal/chat"
	"github.com/strmly/strmly/internal/config"
	"github.com/strmly/strmly/internal/dedup"
	"github.com/strmly/strmly/internal/domain"
	"github.com/strmly/strmly/internal/extract"
	"github.com/strmly/strmly/internal/mention"
	"github.com/strmly/strmly/internal/payout"
	"github.com/strmly/strmly/internal/pipeline"
	"github.com/strmly/strmly/internal/ratelimit"
	"github.com/strmly/strmly/internal/store"
)

// App holds the wired components. Optional parts are nil when not configured.
type App struct {
	Config     *config.Config
	Repo       *store.SQLiteStore
	Hub        *chat.Hub
	Publisher  chat.Publisher
	Bus        *chat.RedisBus
	Extractor  extract.Client
	Agent      *extract.Agent
	Chain      *chain.Client
	Dispatcher *payout.Dispatcher
	Service    *pipeline.Service
	Cooldown   *ratelimit.Limiter

	cancel  context.CancelFunc
	closers []func()
	logger  *slog.Logger
}

// New builds every component. Redis and the chain are optional; a failed
// Redis connection falls back to the in-process hub.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{Config: cfg, cancel: cancel, logger: logger}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	a.Repo = repo
	a.closers = append(a.closers, func() {
		if closeErr := repo.Close(); closeErr != nil {
			logger.Error("Failed to close repository", "error", closeErr)
		}
	})
	if err := repo.Ping(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}

	a.Hub = chat.NewHub(logger)
	a.Publisher = a.Hub
	a.closers = append(a.closers, a.Hub.Close)

	// SQLite keeps each message to one attempt across restarts. With Redis,
	// other instances' redeliveries are refused first.
	claims := dedup.Layered{dedup.NewDurable(repo)}
	if cfg.Redis.Addr != "" {
		bus, err := chat.NewRedisBus(cfg.Redis.Addr, cfg.Redis.Channel, logger)
		if err != nil {
			logger.Warn("Redis unavailable, chat feed is local to this instance", "error", err)
		} else if err := bus.StartForwarder(ctx, a.Hub.Broadcast); err != nil {
			logger.Warn("Redis subscribe failed, chat feed is local to this instance", "error", err)
			_ = bus.Close()
		} else {
			a.Bus = bus
			a.Publisher = bus
			claims = dedup.Layered{dedup.NewRedis(bus.Client(), "", dedup.DefaultTTL), dedup.NewDurable(repo)}
			a.closers = append(a.closers, func() {
				if closeErr := bus.Close(); closeErr != nil {
					logger.Warn("Failed to close Redis bus", "error", closeErr)
				}
			})
			logger.Info("Chat feed relayed over Redis", "channel", cfg.Redis.Channel)
		}
	}

	extractor, err := a.newExtractor()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Extractor = extractor

	var submitter payout.Submitter = payout.NoChain{}
	opts := payout.Options{
		Decimals:       cfg.Chain.Decimals,
		ConfirmTimeout: cfg.Chain.ConfirmTimeout,
		PollInterval:   cfg.Chain.PollInterval,
		OnSettled: func(attempt *domain.PayoutAttempt) {
			if a.Service != nil {
				a.Service.PublishSettlement(attempt)
			}
		},
	}
	if cfg.ChainEnabled() {
		client, err := chain.New(chain.Config{
			RPCURL:          cfg.Chain.RPCURL,
			ContractAddress: cfg.Chain.ContractAddress,
			FromAddress:     cfg.Chain.FromAddress,
			Timeout:         cfg.Chain.DispatchTimeout,
		}, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("initialize chain client: %w", err)
		}
		a.Chain = client
		submitter = client
		opts.Receipts = client
		logger.Info("Chain submission enabled", "contract", cfg.Chain.ContractAddress)
	} else {
		logger.Warn("Chain submission disabled, donations will be rejected (CHAIN_RPC_URL, DONATION_CONTRACT_ADDRESS, DONATION_FROM_ADDRESS)")
	}

	a.Dispatcher = payout.NewDispatcher(repo, submitter, repo, opts, logger)
	a.closers = append(a.closers, a.Dispatcher.Close)

	var cooldown pipeline.Limiter
	if cfg.Cooldown.Enabled {
		a.Cooldown = ratelimit.New(cfg.Cooldown.Limit, cfg.Cooldown.Window)
		a.closers = append(a.closers, a.Cooldown.Stop)
		cooldown = a.Cooldown
	}

	a.Service = pipeline.NewService(repo, a.Publisher, mention.New(cfg.BotHandle), extractor, a.Dispatcher, pipeline.Options{
		Workers:           cfg.Pipeline.Workers,
		QueueSize:         cfg.Pipeline.QueueSize,
		ExtractionTimeout: cfg.Extraction.Timeout,
		DispatchTimeout:   cfg.Chain.DispatchTimeout,
		Claims:            claims,
		Cooldown:          cooldown,
	}, logger)
	a.closers = append(a.closers, a.Service.Close)

	return a, nil
}

func (a *App) newExtractor() (extract.Client, error) {
	cfg := a.Config.Extraction
	switch cfg.Provider {
	case "agent":
		agent, err := extract.NewAgent(cfg.AgentAddr, a.logger)
		if err != nil {
			return nil, fmt.Errorf("initialize extraction agent: %w", err)
		}
		a.Agent = agent
		a.closers = append(a.closers, agent.Close)
		return agent, nil
	default:
		gemini, err := extract.NewGemini(extract.GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			BaseURL: cfg.GeminiBaseURL,
			Timeout: cfg.Timeout,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("initialize gemini client: %w", err)
		}
		return gemini, nil
	}
}

// Balances returns the contract balance reader, or nil without a chain.
func (a *App) Balances() api.BalanceReader {
	if a.Chain == nil {
		return nil
	}
	return a.Chain
}

// HealthChecks returns the optional dependency probes.
func (a *App) HealthChecks() map[string]api.HealthChecker {
	checks := map[string]api.HealthChecker{}
	if a.Agent != nil {
		checks["extraction_agent"] = a.Agent
	}
	return checks
}

// Close shuts components down in reverse order of construction. The
// pipeline drains its queue before the dispatcher and store close.
func (a *App) Close() {
	a.cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
