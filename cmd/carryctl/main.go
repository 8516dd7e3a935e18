// Command carryctl inspects the venues and the bot's persisted state without
// submitting anything.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"dn-carry-bot/internal/account"
	"dn-carry-bot/internal/app"
	"dn-carry-bot/internal/config"
	"dn-carry-bot/internal/hl/rest"
	"dn-carry-bot/internal/logging"
	"dn-carry-bot/internal/market"
	"dn-carry-bot/internal/state"
	"dn-carry-bot/internal/strategy"
	"dn-carry-bot/internal/venue"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const usage = `usage: carryctl [-config path] [-env path] <command>

commands:
  snapshot   read both markets once
  estimate   size an entry from a fresh snapshot and estimate its carry
  holdings   read live positions and assess liquidation risk
  funding    realized funding payments and fees on the perp account
  record     show the persisted controller record and recent venue intents
`

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	envPath := flag.String("env", ".env", "path to env file")
	lookback := flag.Duration("funding-lookback", 7*24*time.Hour, "history window for estimate and funding")
	journalSize := flag.Int("n", 20, "journal entries for record")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := config.LoadEnv(*envPath); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	logCfg := cfg.Log
	logCfg.File = ""
	if logCfg.Level == "info" {
		logCfg.Level = "warn"
	}
	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch flag.Arg(0) {
	case "snapshot":
		err = runSnapshot(ctx, cfg, log, os.Stdout)
	case "estimate":
		err = runEstimate(ctx, cfg, log, *lookback, os.Stdout)
	case "holdings":
		err = runHoldings(ctx, cfg, log, os.Stdout)
	case "funding":
		err = runFunding(ctx, cfg, log, *lookback, os.Stdout)
	case "record":
		err = runRecord(ctx, cfg, *journalSize, os.Stdout)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}
}

func snapshot(ctx context.Context, v *app.Venues) (strategy.MarketSnapshot, error) {
	var (
		lending strategy.LendingMarket
		perp    strategy.PerpMarket
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lending, err = v.Lending.LendingMarket(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		perp, err = v.Perp.PerpMarket(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return strategy.MarketSnapshot{}, err
	}
	return strategy.NewSnapshot(lending, perp), nil
}

func runSnapshot(ctx context.Context, cfg *config.Config, log *zap.Logger, out io.Writer) error {
	v, err := app.OpenVenues(cfg, log)
	if err != nil {
		return err
	}
	defer v.Close()
	snap, err := snapshot(ctx, v)
	if err != nil {
		return err
	}
	renderSnapshot(out, snap)
	return nil
}

func runEstimate(ctx context.Context, cfg *config.Config, log *zap.Logger, lookback time.Duration, out io.Writer) error {
	v, err := app.OpenVenues(cfg, log)
	if err != nil {
		return err
	}
	defer v.Close()
	snap, err := snapshot(ctx, v)
	if err != nil {
		return err
	}
	ccfg := app.ControllerConfig(cfg)
	sizing, err := strategy.SizeEntry(snap, ccfg.Sizing)
	if err != nil {
		return err
	}
	est, err := strategy.EstimateProfitability(snap, sizing, ccfg.Costs, time.Now(), ccfg.MaxSnapshotAge)
	if err != nil {
		return err
	}
	history, err := v.Market.FundingHistory(ctx, cfg.Hyperliquid.Asset, time.Now().Add(-lookback))
	if err != nil {
		log.Warn("funding history unavailable", zap.Error(err))
	}
	renderEstimate(out, sizing, est, ccfg.MinGlobalProfitability, history, lookback)
	return nil
}

func runHoldings(ctx context.Context, cfg *config.Config, log *zap.Logger, out io.Writer) error {
	v, err := app.OpenVenues(cfg, log)
	if err != nil {
		return err
	}
	defer v.Close()
	var lendingObs, perpObs venue.Observed
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lendingObs, err = v.Lending.ReadState(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		perpObs, err = v.Perp.ReadState(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	holdings := venue.Merge(lendingObs, perpObs)
	lending, err := v.Lending.LendingMarket(ctx)
	if err != nil {
		return err
	}
	ccfg := app.ControllerConfig(cfg)
	risk, err := strategy.AssessRisk(holdings, lending, ccfg.Risk)
	if err != nil {
		return err
	}
	renderHoldings(out, holdings, risk)
	return nil
}

func runFunding(ctx context.Context, cfg *config.Config, log *zap.Logger, lookback time.Duration, out io.Writer) error {
	user, err := app.PerpAccount(cfg.Hyperliquid)
	if err != nil {
		return err
	}
	ledger, err := account.NewLedger(rest.New(cfg.Hyperliquid.BaseURL, cfg.Hyperliquid.Timeout, log), user)
	if err != nil {
		return err
	}
	since := time.Now().Add(-lookback)
	payments, err := ledger.Funding(ctx, cfg.Hyperliquid.Asset, since)
	if err != nil {
		return err
	}
	fills, err := ledger.Fills(ctx, cfg.Hyperliquid.Asset, since, time.Time{})
	if err != nil {
		return err
	}
	renderFunding(out, user, payments, fills, lookback)
	return nil
}

func runRecord(ctx context.Context, cfg *config.Config, n int, out io.Writer) error {
	store, err := app.OpenStore(cfg.State)
	if err != nil {
		return err
	}
	defer store.Close()
	record, ok, err := state.LoadControllerRecord(ctx, store)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(out, "no controller record persisted")
	} else {
		renderRecord(out, record)
	}
	intents, err := state.NewJournal(store).Recent(ctx, n)
	if err != nil {
		return err
	}
	renderJournal(out, intents)
	return nil
}

func newTable(out io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	return t
}

func pct(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

func renderSnapshot(out io.Writer, snap strategy.MarketSnapshot) {
	t := newTable(out, "market snapshot")
	t.AppendHeader(table.Row{"field", "value"})
	t.AppendRows([]table.Row{
		{"supply APR", pct(snap.Lending.SupplyAPR)},
		{"borrow APR", pct(snap.Lending.BorrowAPR)},
		{"max LTV", pct(snap.Lending.MaxLTV)},
		{"liquidation threshold", pct(snap.Lending.LiquidationThreshold)},
		{"ETH price (oracle)", snap.Lending.CollateralPriceUSD.StringFixed(2)},
		{"USDC price", snap.Lending.DebtPriceUSD.StringFixed(4)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"funding rate (hourly)", snap.Perp.FundingRateHourly.String()},
		{"funding APR", pct(snap.Perp.FundingRateHourly.Mul(decimal.NewFromInt(24 * 365)))},
		{"mark price", snap.Perp.MarkPrice.StringFixed(2)},
		{"oracle price", snap.Perp.OraclePrice.StringFixed(2)},
		{"size decimals", snap.Perp.SzDecimals},
	})
	t.AppendFooter(table.Row{"read at", snap.Timestamp.UTC().Format(time.RFC3339)})
	t.Render()
}

func renderEstimate(out io.Writer, sizing strategy.Sizing, est strategy.ProfitabilityEstimate, minNet decimal.Decimal, history []market.FundingPoint, lookback time.Duration) {
	t := newTable(out, "entry estimate")
	t.AppendHeader(table.Row{"field", "value"})
	t.AppendRows([]table.Row{
		{"collateral", sizing.CollateralETH.StringFixed(4) + " ETH"},
		{"debt", sizing.DebtUSDC.StringFixed(2) + " USDC"},
		{"short", sizing.ShortETH.StringFixed(4) + " ETH"},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"supply APY", pct(est.SupplyAPY)},
		{"borrow cost APY", pct(est.BorrowCostAPY)},
		{"funding APY", pct(est.FundingAPY)},
		{"amortized cost APY", pct(est.AmortizedCostAPY)},
		{"net APY", pct(est.NetAPY)},
		{"equity APY", pct(est.EquityAPY)},
		{"one-time cost", est.OneTimeCostUSD.StringFixed(2) + " USD"},
	})
	if len(history) > 0 {
		avg := market.AverageRate(history)
		t.AppendSeparator()
		t.AppendRow(table.Row{fmt.Sprintf("funding APR, %s average", lookback), pct(avg.Mul(decimal.NewFromInt(24 * 365)))})
	}
	verdict := "below threshold"
	if est.NetAPY.GreaterThanOrEqual(minNet) {
		verdict = "favourable"
	}
	t.AppendFooter(table.Row{"threshold " + pct(minNet), verdict})
	t.Render()
}

func renderHoldings(out io.Writer, h strategy.Holdings, risk strategy.RiskAssessment) {
	t := newTable(out, "holdings")
	t.AppendHeader(table.Row{"field", "value"})
	t.AppendRows([]table.Row{
		{"collateral", h.CollateralETH.StringFixed(6) + " ETH"},
		{"debt", h.DebtUSDC.StringFixed(2) + " USDC"},
		{"short", h.ShortETH.StringFixed(6) + " ETH"},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"LTV", pct(risk.LTV)},
		{"liquidation LTV", pct(risk.LiquidationLTV)},
		{"buffer", pct(risk.Buffer)},
		{"liquidation price", risk.LiquidationPrice.StringFixed(2)},
		{"delta drift", pct(risk.DeltaDrift)},
		{"buffer breach", risk.Breach},
		{"delta breach", risk.DeltaBreach},
	})
	t.AppendFooter(table.Row{"read at", h.ReadAt.UTC().Format(time.RFC3339)})
	t.Render()
}

func renderFunding(out io.Writer, user string, payments []account.FundingPayment, fills []account.Fill, lookback time.Duration) {
	t := newTable(out, fmt.Sprintf("realized carry, %s, last %s", user, lookback))
	t.AppendHeader(table.Row{"time", "kind", "asset", "size", "rate / price", "usdc"})
	for _, f := range fills {
		t.AppendRow(table.Row{f.Time.Format(time.RFC3339), f.Dir, f.Asset, f.Size.String(), f.Price.String(), f.Fee.Neg().String()})
	}
	for _, p := range payments {
		t.AppendRow(table.Row{p.Time.Format(time.RFC3339), "funding", p.Asset, p.Size.String(), p.Rate.String(), p.USDC.String()})
	}
	funding := account.NetFunding(payments)
	fees := account.TotalFees(fills)
	t.AppendFooter(table.Row{"net", "", "", "", "funding " + funding.StringFixed(2) + " fees " + fees.Neg().StringFixed(2), funding.Sub(fees).StringFixed(2)})
	t.Render()
}

func renderRecord(out io.Writer, r state.ControllerRecord) {
	t := newTable(out, "controller record")
	t.AppendHeader(table.Row{"field", "value"})
	t.AppendRows([]table.Row{
		{"state", r.State},
		{"reason", r.Reason},
		{"paused", r.Paused},
		{"updated", r.UpdatedAt().Format(time.RFC3339)},
	})
	if pos := r.Position; pos != nil {
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"collateral", pos.CollateralETH.StringFixed(6) + " ETH"},
			{"debt", pos.DebtUSDC.StringFixed(2) + " USDC"},
			{"short", pos.ShortETH.StringFixed(6) + " ETH"},
			{"entered", pos.EntryTimestamp.UTC().Format(time.RFC3339)},
		})
	}
	t.Render()
}

func renderJournal(out io.Writer, intents []state.Intent) {
	t := newTable(out, "venue intents")
	t.AppendHeader(table.Row{"started", "step", "venue", "kind", "amount", "attempt", "status", "tx", "reason"})
	for _, in := range intents {
		t.AppendRow(table.Row{
			time.UnixMilli(in.StartedAtMS).UTC().Format(time.RFC3339),
			in.Step, in.Venue, in.Kind, in.Amount, in.Attempt, in.Status, in.TxRef, in.Reason,
		})
	}
	if len(intents) == 0 {
		t.AppendRow(table.Row{"-", "", "", "", "", "", "", "", ""})
	}
	t.Render()
}

func fatal(err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("timed out: %w", err)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
