package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"dn-carry-bot/internal/config"
	"dn-carry-bot/internal/controller"
	"dn-carry-bot/internal/metrics"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// TickRow is one dn_ticks row. Null columns mean the tick produced no estimate or risk.
type TickRow struct {
	Time             time.Time
	State            string
	Action           string
	Reason           string
	Paused           bool
	SupplyAPY        decimal.NullDecimal
	BorrowAPY        decimal.NullDecimal
	FundingAPY       decimal.NullDecimal
	NetAPY           decimal.NullDecimal
	EquityAPY        decimal.NullDecimal
	LTV              decimal.NullDecimal
	Buffer           decimal.NullDecimal
	LiquidationPrice decimal.NullDecimal
	DeltaDrift       decimal.NullDecimal
	CollateralETH    decimal.NullDecimal
	DebtUSDC         decimal.NullDecimal
	ShortETH         decimal.NullDecimal
	Error            string
}

type AlertRow struct {
	Time     time.Time
	Severity string
	Kind     string
	State    string
	Message  string
}

type Writer struct {
	db      *sql.DB
	log     *zap.Logger
	schema  string
	ticks   chan TickRow
	alerts  chan AlertRow
	started atomic.Bool
	dropped metrics.Counter
	drops   atomic.Uint64
}

func New(cfg config.TimescaleConfig, dropped metrics.Counter, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, cfg, dropped, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, cfg config.TimescaleConfig, dropped metrics.Counter, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Writer{
		db:      db,
		log:     log,
		schema:  schema,
		ticks:   make(chan TickRow, queueSize),
		alerts:  make(chan AlertRow, queueSize),
		dropped: dropped,
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Record implements controller.Recorder. It never blocks the tick: a full queue drops.
func (w *Writer) Record(_ context.Context, rec controller.TickRecord) {
	if w == nil {
		return
	}
	select {
	case w.ticks <- TickRowFrom(rec):
	default:
		w.drop("tick")
	}
}

// Alert implements controller.Alerter.
func (w *Writer) Alert(_ context.Context, alert controller.Alert) {
	if w == nil {
		return
	}
	row := AlertRow{Time: alert.At, Severity: string(alert.Severity), Kind: alert.Kind, State: string(alert.State), Message: alert.Message}
	if row.Time.IsZero() {
		row.Time = time.Now().UTC()
	}
	select {
	case w.alerts <- row:
	default:
		w.drop("alert")
	}
}

func (w *Writer) Dropped() uint64 {
	if w == nil {
		return 0
	}
	return w.drops.Load()
}

func (w *Writer) drop(kind string) {
	if w.dropped != nil {
		w.dropped.Inc()
	}
	if w.drops.Add(1) == 1 {
		w.log.Warn("timescale queue full", zap.String("kind", kind))
	}
}

func TickRowFrom(rec controller.TickRecord) TickRow {
	row := TickRow{
		Time:   rec.Timestamp,
		State:  string(rec.State),
		Action: rec.Action,
		Reason: rec.Reason,
		Paused: rec.Paused,
		Error:  rec.Err,
	}
	if est := rec.Estimate; est != nil {
		row.SupplyAPY = valid(est.SupplyAPY)
		row.BorrowAPY = valid(est.BorrowCostAPY)
		row.FundingAPY = valid(est.FundingAPY)
		row.NetAPY = valid(est.NetAPY)
		row.EquityAPY = valid(est.EquityAPY)
	}
	if risk := rec.Risk; risk != nil {
		row.LTV = valid(risk.LTV)
		row.Buffer = valid(risk.Buffer)
		row.LiquidationPrice = valid(risk.LiquidationPrice)
		row.DeltaDrift = valid(risk.DeltaDrift)
	}
	if pos := rec.Position; pos != nil {
		row.CollateralETH = valid(pos.CollateralETH)
		row.DebtUSDC = valid(pos.DebtUSDC)
		row.ShortETH = valid(pos.ShortETH)
	}
	return row
}

func valid(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-w.ticks:
			w.writeTick(ctx, row)
		case row := <-w.alerts:
			w.writeAlert(ctx, row)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		state TEXT NOT NULL,
		action TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		paused BOOLEAN NOT NULL DEFAULT FALSE,
		supply_apy NUMERIC,
		borrow_apy NUMERIC,
		funding_apy NUMERIC,
		net_apy NUMERIC,
		equity_apy NUMERIC,
		ltv NUMERIC,
		liquidation_buffer NUMERIC,
		liquidation_price NUMERIC,
		delta_drift NUMERIC,
		collateral_eth NUMERIC,
		debt_usdc NUMERIC,
		short_eth NUMERIC,
		error TEXT NOT NULL DEFAULT ''
	)`, w.table("dn_ticks"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		severity TEXT NOT NULL,
		kind TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT ''
	)`, w.table("dn_alerts"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"dn_ticks", "dn_alerts"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeTick(ctx context.Context, row TickRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, state, action, reason, paused, supply_apy, borrow_apy, funding_apy, net_apy,
		equity_apy, ltv, liquidation_buffer, liquidation_price, delta_drift,
		collateral_eth, debt_usdc, short_eth, error
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
	)`, w.table("dn_ticks"))
	if _, err := w.db.ExecContext(ctx, query,
		row.Time,
		row.State,
		row.Action,
		row.Reason,
		row.Paused,
		row.SupplyAPY,
		row.BorrowAPY,
		row.FundingAPY,
		row.NetAPY,
		row.EquityAPY,
		row.LTV,
		row.Buffer,
		row.LiquidationPrice,
		row.DeltaDrift,
		row.CollateralETH,
		row.DebtUSDC,
		row.ShortETH,
		row.Error,
	); err != nil {
		w.log.Warn("timescale tick insert failed", zap.Error(err))
	}
}

func (w *Writer) writeAlert(ctx context.Context, row AlertRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, severity, kind, state, message) VALUES ($1,$2,$3,$4,$5)`, w.table("dn_alerts"))
	if _, err := w.db.ExecContext(ctx, query, row.Time, row.Severity, row.Kind, row.State, row.Message); err != nil {
		w.log.Warn("timescale alert insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
