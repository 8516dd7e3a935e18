// Package controller drives one delta-neutral carry position through its lifecycle.
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"dn-carry-bot/internal/exec"
	"dn-carry-bot/internal/metrics"
	"dn-carry-bot/internal/schedule"
	"dn-carry-bot/internal/state"
	"dn-carry-bot/internal/strategy"
	"dn-carry-bot/internal/venue"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	ReasonRiskBreach    = "risk_breach"
	ReasonEntryFailed   = "entry_failed"
	ReasonExitFailed    = "exit_failed"
	ReasonRehedgeFailed = "rehedge_failed"
	ReasonInterrupted   = "interrupted"
	ReasonInconsistent  = "reconcile_inconsistent"
)

var ErrNotDegraded = errors.New("controller is not degraded")

type Config struct {
	MinGlobalProfitability decimal.Decimal
	Sizing                 strategy.SizingParams
	Costs                  strategy.CostModel
	Risk                   strategy.RiskLimits
	MaxSnapshotAge         time.Duration
	IdlePollInterval       time.Duration
	MonitorPollInterval    time.Duration
	// ReadTimeout bounds each market and holdings read.
	ReadTimeout time.Duration
	// ConfirmTolerance is the relative slack allowed when confirming an amount.
	ConfirmTolerance decimal.Decimal
	DustETH          decimal.Decimal
	DustUSDC         decimal.Decimal
	StartPaused      bool
	// FundMargin bridges the borrowed USDC to the perp account on entry and brings the
	// free margin back before repaying on exit.
	FundMargin           bool
	BridgeConfirmTimeout time.Duration
	// WithdrawFeeUSDC is what the perp venue keeps from each withdrawal.
	WithdrawFeeUSDC decimal.Decimal
}

// StepRunner executes one venue mutation and confirms it from a fresh read.
type StepRunner interface {
	Run(ctx context.Context, step exec.Step) (exec.Outcome, error)
}

type Deps struct {
	Lending   venue.LendingAdapter
	Perp      venue.PerpAdapter
	Executor  StepRunner
	Store     state.Store
	Alerts    Alerter
	Recorder  Recorder
	Scheduler schedule.Scheduler
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

type Controller struct {
	cfg       Config
	lending   venue.LendingAdapter
	perp      venue.PerpAdapter
	margin    marginVenue
	executor  StepRunner
	store     state.Store
	alerts    Alerter
	recorder  Recorder
	scheduler schedule.Scheduler
	metrics   *metrics.Metrics
	now       func() time.Time
	log       *zap.Logger

	sm *strategy.StateMachine

	// tickMu serialises ticks with operator actions that touch venues.
	tickMu sync.Mutex

	mu            sync.Mutex
	position      *strategy.Position
	reason        string
	paused        bool
	exitRequested bool
	reconciled    bool
	driftAlerted  bool
	marginAlerted bool
	lastRecord    TickRecord
}

func New(cfg Config, deps Deps, log *zap.Logger) (*Controller, error) {
	if deps.Lending == nil || deps.Perp == nil {
		return nil, errors.New("lending and perp adapters are required")
	}
	if deps.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Alerts == nil {
		deps.Alerts = nopAlerter{}
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if cfg.IdlePollInterval <= 0 {
		cfg.IdlePollInterval = time.Minute
	}
	if cfg.MonitorPollInterval <= 0 {
		cfg.MonitorPollInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 20 * time.Second
	}
	if cfg.MaxSnapshotAge <= 0 {
		cfg.MaxSnapshotAge = 2 * time.Minute
	}
	if cfg.BridgeConfirmTimeout <= 0 {
		cfg.BridgeConfirmTimeout = 10 * time.Minute
	}
	c := &Controller{
		cfg:       cfg,
		lending:   deps.Lending,
		perp:      deps.Perp,
		margin:    marginVenue{lending: deps.Lending, perp: deps.Perp},
		executor:  deps.Executor,
		store:     deps.Store,
		alerts:    deps.Alerts,
		recorder:  deps.Recorder,
		scheduler: deps.Scheduler,
		metrics:   deps.Metrics,
		now:       deps.Now,
		log:       log,
		sm:        strategy.NewStateMachine(strategy.StateIdle),
		paused:    cfg.StartPaused,
	}
	return c, nil
}

// Restore loads the persisted record as a hint. The first tick reconciles against live
// reads before anything else runs.
func (c *Controller) Restore(ctx context.Context) error {
	record, ok, err := state.LoadControllerRecord(ctx, c.store)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	c.sm.Restore(record.State)
	c.mu.Lock()
	c.position = record.Position
	c.reason = record.Reason
	c.paused = c.paused || record.Paused
	c.mu.Unlock()
	c.log.Info("controller record loaded",
		zap.String("state", string(record.State)),
		zap.String("reason", record.Reason),
		zap.Bool("paused", record.Paused),
		zap.Time("updated_at", record.UpdatedAt()),
	)
	return nil
}

// Run ticks on the scheduler until ctx is done. Shutdown is observed between ticks only.
func (c *Controller) Run(ctx context.Context) error {
	if c.scheduler == nil {
		return errors.New("scheduler is required")
	}
	defer c.scheduler.Stop()
	c.resetCadence()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.scheduler.C():
			c.Tick(ctx)
			c.resetCadence()
		}
	}
}

func (c *Controller) resetCadence() {
	if c.scheduler == nil {
		return
	}
	switch c.sm.State() {
	case strategy.StateActive, strategy.StateMonitoring:
		c.scheduler.Reset(c.cfg.MonitorPollInterval)
	default:
		c.scheduler.Reset(c.cfg.IdlePollInterval)
	}
}

// Tick advances the lifecycle by at most one decision and records the outcome.
func (c *Controller) Tick(ctx context.Context) TickRecord {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	rec := TickRecord{Timestamp: c.now().UTC()}
	c.metrics.Ticks.Inc()
	if !c.isReconciled() {
		c.reconcile(ctx, &rec)
	} else {
		switch c.sm.State() {
		case strategy.StateIdle:
			c.tickIdle(ctx, &rec)
		case strategy.StateActive, strategy.StateMonitoring:
			c.tickActive(ctx, &rec)
		case strategy.StateDegraded:
			rec.Action = "halted"
		default:
			// A decision state at tick start means a previous tick was cut short.
			c.reconcile(ctx, &rec)
		}
	}
	return c.finish(ctx, rec)
}

func (c *Controller) finish(ctx context.Context, rec TickRecord) TickRecord {
	rec.State = c.sm.State()
	c.mu.Lock()
	rec.Paused = c.paused
	rec.Reason = c.reason
	if c.position != nil {
		pos := *c.position
		rec.Position = &pos
	}
	c.lastRecord = rec
	c.mu.Unlock()

	c.metrics.LifecycleState.Set(metrics.LifecycleCode(string(rec.State)))
	if rec.Estimate != nil {
		c.metrics.NetAPY.Set(rec.Estimate.NetAPY.InexactFloat64())
	}
	if rec.Risk != nil {
		c.metrics.LiquidationBuffer.Set(rec.Risk.Buffer.InexactFloat64())
		c.metrics.LTV.Set(rec.Risk.LTV.InexactFloat64())
		c.metrics.DeltaDrift.Set(rec.Risk.DeltaDrift.InexactFloat64())
		if rec.Risk.PerpMaintenanceUSD.IsPositive() {
			c.metrics.PerpMarginBuffer.Set(rec.Risk.PerpMarginBuffer.InexactFloat64())
		}
	}
	fields := []zap.Field{
		zap.String("state", string(rec.State)),
		zap.String("action", rec.Action),
	}
	if rec.Estimate != nil {
		fields = append(fields, zap.String("net_apy", rec.Estimate.NetAPY.StringFixed(4)))
	}
	if rec.Risk != nil {
		fields = append(fields, zap.String("buffer", rec.Risk.Buffer.StringFixed(4)))
	}
	if rec.Err != "" {
		fields = append(fields, zap.String("error", rec.Err))
	}
	c.log.Info("tick", fields...)
	c.recorder.Record(ctx, rec)
	return rec
}

// transition moves the state machine and persists the record.
func (c *Controller) transition(ctx context.Context, to strategy.Lifecycle) error {
	from := c.sm.State()
	if err := c.sm.Transition(to); err != nil {
		c.log.Error("lifecycle transition rejected", zap.String("from", string(from)), zap.String("to", string(to)), zap.Error(err))
		return err
	}
	if from != to {
		c.log.Info("lifecycle transition", zap.String("from", string(from)), zap.String("to", string(to)))
	}
	c.persist(ctx)
	return nil
}

func (c *Controller) persist(ctx context.Context) {
	c.mu.Lock()
	record := state.ControllerRecord{
		State:       c.sm.State(),
		Reason:      c.reason,
		Paused:      c.paused,
		UpdatedAtMS: c.now().UnixMilli(),
	}
	if c.position != nil {
		pos := *c.position
		pos.Status = record.State
		record.Position = &pos
	}
	c.mu.Unlock()
	if err := state.SaveControllerRecord(context.WithoutCancel(ctx), c.store, record); err != nil {
		c.log.Warn("controller record save failed", zap.Error(err))
	}
}

// degrade halts automation and raises a fatal alert.
func (c *Controller) degrade(ctx context.Context, rec *TickRecord, reason string, err error) {
	c.mu.Lock()
	c.reason = reason
	c.mu.Unlock()
	if to := c.sm.State(); to != strategy.StateDegraded {
		if terr := c.sm.Transition(strategy.StateDegraded); terr != nil {
			c.sm.Restore(strategy.StateDegraded)
		}
		c.log.Error("automation halted", zap.String("from", string(to)), zap.String("reason", reason), zap.Error(err))
	}
	c.persist(ctx)
	rec.Action = reason
	if err != nil {
		rec.Err = err.Error()
	}
	c.alert(ctx, Alert{Severity: SeverityFatal, Kind: reason, Message: errString(err)})
}

func (c *Controller) alert(ctx context.Context, a Alert) {
	if a.At.IsZero() {
		a.At = c.now().UTC()
	}
	if a.State == "" {
		a.State = c.sm.State()
	}
	c.alerts.Alert(context.WithoutCancel(ctx), a)
}

func (c *Controller) setPosition(pos *strategy.Position) {
	c.mu.Lock()
	c.position = pos
	c.mu.Unlock()
}

func (c *Controller) currentPosition() *strategy.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.position == nil {
		return nil
	}
	pos := *c.position
	return &pos
}

func (c *Controller) isReconciled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconciled
}

func (c *Controller) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
