package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"dn-carry-bot/internal/alerts"
	"dn-carry-bot/internal/bus"
	"dn-carry-bot/internal/config"
	"dn-carry-bot/internal/controller"
	"dn-carry-bot/internal/exec"
	"dn-carry-bot/internal/metrics"
	"dn-carry-bot/internal/schedule"
	"dn-carry-bot/internal/state"
	"dn-carry-bot/internal/state/badger"
	"dn-carry-bot/internal/state/sqlite"
	"dn-carry-bot/internal/strategy"
	"dn-carry-bot/internal/timescale"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	log        *zap.Logger
	store      state.Store
	journal    *state.Journal
	venues     *Venues
	prom       *metrics.Prometheus
	metrics    *metrics.Metrics
	telegram   *alerts.Telegram
	bus        *bus.Publisher
	timescale  *timescale.Writer
	controller *controller.Controller

	// operator surface; the controller and telegram in production
	ops     operatorController
	channel operatorChannel

	operatorWarned bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{cfg: cfg, log: log}
	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg
	store, err := OpenStore(cfg.State)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	a.store = store
	a.journal = state.NewJournal(store)

	if cfg.Metrics.EnabledValue() {
		a.prom = metrics.NewPrometheus()
		a.metrics = a.prom.Metrics
	} else {
		a.metrics = metrics.NewNoop()
	}

	venues, err := OpenVenues(cfg, a.log)
	if err != nil {
		return err
	}
	a.venues = venues

	telegram, err := alerts.NewTelegram(cfg.Telegram, a.log)
	if err != nil {
		return err
	}
	a.telegram = telegram
	if cfg.NATS.Enabled {
		publisher, err := bus.Connect(cfg.NATS, a.log)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		a.bus = publisher
	}
	writer, err := timescale.New(cfg.Timescale, a.metrics.TickRecordsDrop, a.log)
	if err != nil {
		return fmt.Errorf("timescale: %w", err)
	}
	a.timescale = writer

	executor := exec.New(retryPolicy(cfg.Controller.Retry), exec.Options{
		CallTimeout:         cfg.Controller.CallTimeout,
		ConfirmTimeout:      cfg.Controller.ConfirmTimeout,
		ConfirmPollInterval: cfg.Controller.ConfirmPollInterval,
	}, a.journal, a.metrics, a.log.Named("exec"))

	ctrl, err := controller.New(ControllerConfig(cfg), controller.Deps{
		Lending:   venues.Lending,
		Perp:      venues.Perp,
		Executor:  executor,
		Store:     store,
		Alerts:    a.alerters(),
		Recorder:  a.recorders(),
		Scheduler: schedule.NewTicker(cfg.Controller.IdlePollInterval),
		Metrics:   a.metrics,
	}, a.log.Named("controller"))
	if err != nil {
		return err
	}
	a.controller = ctrl
	a.ops = ctrl
	a.channel = telegram
	return nil
}

// OpenStore opens the configured key-value backend.
func OpenStore(cfg config.StateConfig) (state.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "badger":
		return badger.New(cfg.BadgerDir)
	default:
		return sqlite.New(cfg.SQLitePath)
	}
}

func retryPolicy(cfg config.RetryConfig) exec.RetryPolicy {
	return exec.RetryPolicy{
		Attempts:   cfg.Attempts,
		Initial:    cfg.InitialBackoff,
		Max:        cfg.MaxBackoff,
		Multiplier: cfg.Multiplier,
	}
}

// ControllerConfig converts the float settings from the config file into the
// controller's decimal parameters.
func ControllerConfig(cfg *config.Config) controller.Config {
	s := cfg.Strategy
	r := cfg.Risk
	hedge := decimal.NewFromFloat(s.HedgeRatio)
	return controller.Config{
		MinGlobalProfitability: decimal.NewFromFloat(s.MinGlobalProfitability),
		Sizing: strategy.SizingParams{
			TargetCollateralETH: decimal.NewFromFloat(s.TargetCollateralETH),
			TargetLTV:           decimal.NewFromFloat(s.TargetLTV),
			SafetyMargin:        decimal.NewFromFloat(s.LTVSafetyMargin),
			HedgeRatio:          hedge,
		},
		Costs: strategy.CostModel{
			PerpFeeBps:     decimal.NewFromFloat(s.PerpFeeBps),
			SlippageBps:    decimal.NewFromFloat(s.SlippageBps),
			GasUSDPerTx:    decimal.NewFromFloat(s.GasUSDPerTx),
			TxCount:        s.LendingTxCount,
			HoldingHorizon: s.HoldingHorizon,
		},
		Risk: strategy.RiskLimits{
			MinLiquidationBuffer: decimal.NewFromFloat(r.MinLiquidationBuffer),
			HedgeRatio:           hedge,
			DeltaTolerance:       decimal.NewFromFloat(r.DeltaTolerance),
			MinPerpMarginBuffer:  decimal.NewFromFloat(r.MinPerpMarginBuffer),
		},
		MaxSnapshotAge:       r.MaxSnapshotAge,
		IdlePollInterval:     cfg.Controller.IdlePollInterval,
		MonitorPollInterval:  cfg.Controller.MonitorPollInterval,
		ReadTimeout:          cfg.Controller.CallTimeout,
		ConfirmTolerance:     decimal.NewFromFloat(r.ConfirmTolerance),
		DustETH:              decimal.NewFromFloat(r.DustETH),
		DustUSDC:             decimal.NewFromFloat(r.DustUSDC),
		StartPaused:          cfg.Controller.StartPaused,
		FundMargin:           cfg.Hyperliquid.FundMargin,
		BridgeConfirmTimeout: cfg.Hyperliquid.BridgeConfirmTimeout,
		WithdrawFeeUSDC:      decimal.NewFromFloat(cfg.Hyperliquid.WithdrawFeeUSDC),
	}
}

func (a *App) alerters() controller.Alerter {
	sinks := multiAlerter{log: a.log}
	if a.telegram.Enabled() {
		sinks.sinks = append(sinks.sinks, a.telegram)
	}
	if a.bus != nil {
		sinks.sinks = append(sinks.sinks, a.bus)
	}
	if a.timescale != nil {
		sinks.sinks = append(sinks.sinks, a.timescale)
	}
	return sinks
}

func (a *App) recorders() controller.Recorder {
	var sinks multiRecorder
	if a.bus != nil {
		sinks = append(sinks, a.bus)
	}
	if a.timescale != nil {
		sinks = append(sinks, a.timescale)
	}
	return sinks
}

func (a *App) Run(ctx context.Context) error {
	defer a.Close()
	if err := a.venues.Exchange.InitNonceStore(ctx, a.store); err != nil {
		a.log.Warn("nonce store init failed", zap.Error(err))
	} else if st, ok := a.venues.Exchange.NonceState(); ok {
		a.log.Info("nonce persistence enabled", zap.String("nonce_key", st.Key), zap.Uint64("nonce_seed", st.Last))
	}
	if pending, err := a.journal.Pending(ctx); err != nil {
		a.log.Warn("journal read failed", zap.Error(err))
	} else if len(pending) > 0 {
		a.log.Warn("unresolved venue intents from a previous run", zap.Int("count", len(pending)))
	}
	if err := a.venues.Market.Start(ctx); err != nil {
		return fmt.Errorf("market data: %w", err)
	}
	a.timescale.Start(ctx)

	g, ctx := errgroup.WithContext(ctx)
	if a.prom != nil {
		server := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: a.metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			a.log.Info("metrics server listening", zap.String("addr", a.cfg.Metrics.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}
	if a.channel != nil && a.channel.Enabled() {
		g.Go(func() error {
			a.operatorLoop(ctx, a.cfg.Telegram.OperatorPoll)
			return nil
		})
	}
	g.Go(func() error {
		if err := a.controller.Restore(ctx); err != nil {
			a.log.Warn("controller record restore failed", zap.Error(err))
		}
		return a.controller.Run(ctx)
	})
	return g.Wait()
}

func (a *App) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (a *App) Close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Warn("nats drain failed", zap.Error(err))
		}
		a.bus = nil
	}
	if a.timescale != nil {
		if err := a.timescale.Close(); err != nil {
			a.log.Warn("timescale close failed", zap.Error(err))
		}
		a.timescale = nil
	}
	if a.venues != nil {
		a.venues.Close()
		a.venues = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("state store close failed", zap.Error(err))
		}
		a.store = nil
	}
}
