package app

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"optq/internal/analysis/indicator"
	"optq/internal/calendar"
	"optq/internal/config"
	"optq/internal/engine"
	"optq/internal/executor"
	"optq/internal/gateway/broker"
	"optq/internal/gateway/httpmarket"
	"optq/internal/gateway/notifier"
	"optq/internal/logger"
	"optq/internal/market"
	"optq/internal/matcher"
	"optq/internal/monitor"
	"optq/internal/pkg/backoff"
	"optq/internal/pkg/circuit"
	"optq/internal/scheduler"
	"optq/internal/signal"
	"optq/internal/store/cyclelog"
	"optq/internal/store/gormstore"
	"optq/internal/strategy"
	apihttp "optq/internal/transport/http"
)

// buildApp 按依赖顺序组装全部组件：存储 → 行情 → 券商 →
// 决策组件 → 引擎 → HTTP。
func buildApp(cfg *config.Config) (*App, error) {
	store, err := gormstore.NewGormStore(cfg.Store.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("init ledger store: %w", err)
	}
	cycles, err := cyclelog.NewCycleLogStore(cfg.Store.CycleLogPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init cycle log store: %w", err)
	}

	// 全局出站令牌桶：行情与券商共享同一份预算，
	// 合计调用频率不超过 market.rate_per_sec。
	outbound := rate.NewLimiter(rate.Limit(cfg.Market.RatePerSec), cfg.Market.RateBurst)

	provider, err := buildProvider(cfg.Market, outbound)
	if err != nil {
		return nil, err
	}

	brk, err := buildBroker(cfg.Broker, outbound)
	if err != nil {
		return nil, err
	}

	gen, err := signal.NewGenerator(provider, indicator.Settings{}, signalWeights(cfg.Signal))
	if err != nil {
		return nil, err
	}
	match := matcher.New(matcherWeights(cfg.Matcher))

	var registry *strategy.Registry
	if cfg.Strategy.CatalogPath != "" {
		registry, err = strategy.NewRegistry(cfg.Strategy.CatalogPath)
		if err != nil {
			logger.Warnf("策略目录加载失败，禁用目录校验: %v", err)
			registry = nil
		}
	}

	exec := executor.NewExecutor(brk, store, executor.Config{
		Retry: backoff.Policy{
			Base:     time.Duration(cfg.Engine.RetryBaseSeconds) * time.Second,
			Max:      8 * time.Second,
			Attempts: cfg.Engine.RetryAttempts,
		},
		PollInterval: time.Duration(cfg.Engine.PollIntervalSeconds) * time.Second,
		PollDeadline: time.Duration(cfg.Engine.PollDeadlineSeconds) * time.Second,
	})

	mon := monitor.NewMonitor(provider, store, exec, monitor.Config{
		StuckTimeout: time.Duration(cfg.Monitor.StuckTimeoutSeconds) * time.Second,
	})

	cal, err := calendar.New(calendar.Config{
		Timezone:  cfg.Calendar.Timezone,
		OpenTime:  cfg.Calendar.OpenTime,
		CloseTime: cfg.Calendar.CloseTime,
		Holidays:  cfg.Calendar.Holidays,
	})
	if err != nil {
		return nil, err
	}

	var notify notifier.TextNotifier = notifier.Noop{}
	if cfg.Notify.Telegram.Enabled {
		notify = notifier.NewTelegram(notifier.TelegramConfig{
			BotToken: cfg.Notify.Telegram.BotToken,
			ChatID:   cfg.Notify.Telegram.ChatID,
		})
	}

	interval, ok := scheduler.ParseIntervalDuration(cfg.Engine.Interval)
	if !ok {
		return nil, fmt.Errorf("invalid engine interval %q", cfg.Engine.Interval)
	}

	eng, err := engine.New(engine.Deps{
		Store:     store,
		Provider:  provider,
		Generator: gen,
		Matcher:   match,
		Registry:  registry,
		Executor:  exec,
		Monitor:   mon,
		Calendar:  cal,
		CycleLog:  cycles,
		Notifier:  notify,
	}, engine.Config{
		Parallelism:    cfg.Engine.Parallelism,
		Lookback:       cfg.Engine.Lookback,
		Interval:       interval,
		ReconcileAfter: time.Duration(cfg.Engine.ReconcileAfterSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	httpSrv, err := apihttp.NewServer(cfg.App.HTTPAddr, &apihttp.Router{
		Engine:  eng,
		Monitor: mon,
		Store:   store,
		Cycles:  cycles,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		store:    store,
		cycles:   cycles,
		registry: registry,
		engine:   eng,
		httpSrv:  httpSrv,
		Summary:  buildSummary(cfg, registry),
	}, nil
}

// buildProvider 组装行情链路：主备回退 → 共享限流 → 熔断。
func buildProvider(cfg config.MarketConfig, limiter *rate.Limiter) (market.DataProvider, error) {
	primary, err := httpmarket.New(httpmarket.Config{
		Name:        cfg.Primary.Name,
		BaseURL:     cfg.Primary.BaseURL,
		APIKey:      cfg.Primary.APIKey,
		HTTPTimeout: time.Duration(cfg.Primary.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("init primary provider: %w", err)
	}
	var provider market.DataProvider = primary
	if cfg.HasSecondary() {
		secondary, err := httpmarket.New(httpmarket.Config{
			Name:        cfg.Secondary.Name,
			BaseURL:     cfg.Secondary.BaseURL,
			APIKey:      cfg.Secondary.APIKey,
			HTTPTimeout: time.Duration(cfg.Secondary.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("init secondary provider: %w", err)
		}
		provider, err = market.NewFallbackProvider(provider, secondary)
		if err != nil {
			return nil, err
		}
	}
	provider, err = market.NewRateLimitedProvider(provider, limiter)
	if err != nil {
		return nil, err
	}
	breaker := circuit.NewBreaker("market", cfg.BreakerThreshold,
		time.Duration(cfg.BreakerCooldownSeconds)*time.Second)
	breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
		logger.Warnf("行情熔断器 %s: %s -> %s", name, from, to)
	})
	return market.NewGuardedProvider(provider, breaker)
}

func buildBroker(cfg config.BrokerConfig, limiter *rate.Limiter) (broker.Broker, error) {
	paper := broker.NewPaperBroker(broker.PaperConfig{
		CommissionPerContract: cfg.CommissionPerContract,
		SlippagePct:           cfg.SlippagePct,
	})
	return broker.NewRateLimitedBroker(paper, limiter)
}

func signalWeights(cfg config.SignalConfig) signal.Weights {
	return signal.Weights{
		MAShort:   cfg.MAShort,
		MAMid:     cfg.MAMid,
		MALong:    cfg.MALong,
		RSI:       cfg.RSI,
		MACD:      cfg.MACD,
		Volume:    cfg.Volume,
		YearRange: cfg.YearRange,
	}
}

func matcherWeights(cfg config.MatcherConfig) matcher.Weights {
	return matcher.Weights{
		Delta:     cfg.Delta,
		DTE:       cfg.DTE,
		Liquidity: cfg.Liquidity,
		Spread:    cfg.Spread,
	}
}
