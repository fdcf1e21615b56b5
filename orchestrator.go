// orchestrator.go
package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"grid_hedge_bot/config"
	"grid_hedge_bot/exchange"
	"grid_hedge_bot/logs"
	"grid_hedge_bot/marketdata"
	"grid_hedge_bot/metrics"
	"grid_hedge_bot/monitor"
	"grid_hedge_bot/profit"
	"grid_hedge_bot/risk"
	"grid_hedge_bot/state"
	"grid_hedge_bot/strategy"

	"github.com/shopspring/decimal"
)

// Orchestrator wires the exchange, market data and engine together.
type Orchestrator struct {
	cfg        *config.Config
	client     exchange.Client
	mock       *exchange.MockClient // nil in live mode
	gateway    *exchange.ClientGateway
	feed       marketdata.Feed
	mailbox    *marketdata.Mailbox
	engine     *monitor.Engine
	accountant *profit.Accountant
	journal    *state.Journal
}

func NewOrchestrator(ctx context.Context, cfg *config.Config, envCfg *config.EnvConfig) (*Orchestrator, error) {
	o := &Orchestrator{cfg: cfg}

	if cfg.UseSimulation {
		sim := cfg.Simulation
		o.mock = exchange.NewMockClient(exchange.MockConfig{
			Symbol:         cfg.Symbol,
			InitialBalance: decimal.NewFromFloat(sim.InitialBalance),
			InitialPrice:   decimal.NewFromFloat(sim.InitialPrice),
			MinQty:         decimal.NewFromFloat(sim.MinQty),
			StepSize:       decimal.NewFromFloat(sim.StepSize),
			TickSize:       decimal.NewFromFloat(sim.TickSize),
			Mode:           sim.Mode,
			Amplitude:      sim.Amplitude,
			Volatility:     sim.Volatility,
			Interval:       time.Duration(sim.IntervalMillis) * time.Millisecond,
			Seed:           sim.Seed,
		})
		o.client = o.mock
		logs.Warnf("<<<<<<<<<< WARNING: Running in simulation mode >>>>>>>>>>")
	} else {
		if err := envCfg.Validate(); err != nil {
			return nil, err
		}
		api := exchange.NewAPIClient(envCfg.ApiKey, envCfg.ApiSecret, envCfg.BaseURL, cfg.Normal.HTTPTimeoutSeconds, cfg.Normal.RecvWindowSeconds)
		// the clock must be in sync before any signed call
		if err := api.SyncTime(ctx); err != nil {
			return nil, fmt.Errorf("failed to sync exchange time: %w", err)
		}
		o.client = api
	}

	o.gateway = exchange.NewClientGateway(o.client, exchange.GatewayConfig{
		Symbol:         cfg.Symbol,
		QuoteAsset:     cfg.Normal.QuoteAsset,
		MaxRetries:     cfg.Normal.OrderMaxRetries,
		RetryBaseDelay: time.Duration(cfg.Normal.RetryBaseMillis) * time.Millisecond,
		FillTimeout:    time.Duration(cfg.Normal.FillTimeoutSeconds) * time.Second,
	})
	if err := o.gateway.Setup(ctx, exchange.SetupOptions{Leverage: cfg.Hedge.Leverage, MarginType: cfg.MarginType}); err != nil {
		return nil, fmt.Errorf("exchange setup failed: %w", err)
	}
	if err := o.ensureFlat(ctx); err != nil {
		return nil, err
	}

	tier, err := risk.ParseTier(cfg.Hedge.RiskTier)
	if err != nil {
		return nil, err
	}
	profile, err := risk.ProfileFor(tier)
	if err != nil {
		return nil, err
	}
	controller, err := newController(cfg, profile)
	if err != nil {
		return nil, err
	}
	if cfg.Hedge.StopLoss > 0 {
		logs.Infof("[Orchestrator] stop_loss %.4f is reserved and not applied by the hedge controller", cfg.Hedge.StopLoss)
	}

	o.journal, err = state.NewJournal(cfg.Normal.StateDirectory, cfg.Symbol, time.Now())
	if err != nil {
		return nil, err
	}
	logs.Infof("[Orchestrator] Cycle journal: %s", o.journal.Path())

	o.mailbox = marketdata.NewMailbox()
	o.accountant = profit.NewAccountant()
	o.engine = monitor.NewEngine(monitor.EngineConfig{
		Symbol:             cfg.Symbol,
		MaxCycles:          cfg.Hedge.MaxCycles,
		MaxOpenFailures:    cfg.Hedge.MaxOpenFailures,
		HeartbeatInterval:  time.Duration(cfg.Normal.HeartbeatIntervalMinutes) * time.Minute,
		TimeSyncInterval:   time.Duration(cfg.Normal.TimeSyncIntervalMinutes) * time.Minute,
		CloseRetryInterval: time.Duration(cfg.Normal.RetryBaseMillis) * time.Millisecond,
		StopCloseTimeout:   time.Duration(cfg.Normal.StopCloseTimeoutSeconds) * time.Second,
	}, o.gateway, controller, profile, o.mailbox, o.accountant, o.journal)
	o.engine.SetTimeSync(o.client.SyncTime)

	if o.mock != nil {
		o.feed = &marketdata.SimulatedFeed{Symbol: cfg.Symbol, Prices: o.mock.Subscribe()}
	} else {
		o.feed = &marketdata.BinanceFeed{
			BaseURL:      envCfg.WSBaseURL,
			Symbol:       cfg.Symbol,
			Interval:     cfg.MarketData.KlineInterval,
			ReadTimeout:  time.Duration(cfg.MarketData.ReadTimeoutSeconds) * time.Second,
			ReconnectMax: time.Duration(cfg.MarketData.ReconnectMaxSeconds) * time.Second,
		}
	}
	return o, nil
}

func newController(cfg *config.Config, profile risk.Profile) (*strategy.HedgeController, error) {
	side, err := strategy.ParseSide(cfg.Hedge.InitialSide)
	if err != nil {
		return nil, err
	}
	policy, err := strategy.ParseCycleSidePolicy(strings.ToLower(cfg.Hedge.CycleSidePolicy))
	if err != nil {
		return nil, err
	}
	return strategy.NewHedgeController(strategy.ControllerConfig{
		Symbol:        cfg.Symbol,
		InitialSide:   side,
		EntryDistance: decimal.NewFromFloat(cfg.Hedge.EntryDistance),
		TakeProfit:    decimal.NewFromFloat(cfg.Hedge.TakeProfit),
		Epsilon:       decimal.NewFromFloat(cfg.Hedge.Epsilon),
		MaxLevels:     profile.MaxLevels,
		SidePolicy:    policy,
	})
}

// ensureFlat closes anything left on the symbol so the first cycle starts flat.
func (o *Orchestrator) ensureFlat(ctx context.Context) error {
	positions, err := o.gateway.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to get position info at startup: %w", err)
	}
	if len(positions) == 0 {
		logs.Infof("[Orchestrator] %s is flat, starting fresh.", o.cfg.Symbol)
		return nil
	}
	for _, p := range positions {
		logs.Warnf("[Orchestrator] Found open %s position %s @ %s at startup", p.PositionSide, p.PositionAmt, p.EntryPrice)
	}
	if _, err := o.gateway.CloseAllPositions(ctx); err != nil {
		return fmt.Errorf("failed to flatten %s at startup: %w", o.cfg.Symbol, err)
	}
	logs.Infof("[Orchestrator] Startup close-all completed for %s.", o.cfg.Symbol)
	return nil
}

// Run blocks until the engine stops and returns its error.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.mock != nil {
		o.mock.Start()
	}

	// the feed and metrics outlive ctx until the engine has flattened
	svcCtx, stopServices := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	if addr := o.cfg.Normal.MetricsAddr; addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logs.Infof("[Orchestrator] Serving metrics on %s/metrics", addr)
			if err := metrics.Serve(svcCtx, addr); err != nil {
				logs.Errorf("[Orchestrator] Metrics server stopped: %v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer o.mailbox.Close()
		if err := o.feed.Stream(svcCtx, o.mailbox); err != nil && !errors.Is(err, context.Canceled) {
			logs.Errorf("[Orchestrator] Market data feed stopped: %v", err)
		}
	}()

	err := o.engine.Run(ctx)
	stopServices()
	if o.mock != nil {
		o.mock.Stop()
	}
	wg.Wait()
	o.printFinalSummary()
	return err
}

func (o *Orchestrator) printFinalSummary() {
	o.accountant.PrintFinalSummary(o.cfg.Symbol)
	logs.Infof("Cycles completed: %d, journal: %s", o.engine.Cycles(), o.journal.Path())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	positions, err := o.gateway.OpenPositions(ctx)
	if err != nil {
		logs.Errorf("Failed to get final position info: %v", err)
	} else if len(positions) == 0 {
		logs.Infof("%s is flat.", o.cfg.Symbol)
	} else {
		for _, p := range positions {
			logs.Warnf("Still open: %s %s @ %s (Unrealized PnL: %s USDT)", p.PositionSide, p.PositionAmt, p.EntryPrice, p.UnrealizedProfit.StringFixed(4))
		}
	}
	if o.mock != nil {
		logs.Infof("Simulated wallet balance: %s USDT", o.mock.Wallet().StringFixed(4))
	}
}
