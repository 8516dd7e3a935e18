package controller

import (
	"context"
	"errors"
	"fmt"

	"dn-carry-bot/internal/strategy"
	"dn-carry-bot/internal/venue"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// fetchSnapshot reads both markets concurrently. Either failure discards the snapshot.
func (c *Controller) fetchSnapshot(ctx context.Context) (strategy.MarketSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReadTimeout)
	defer cancel()
	var (
		lending strategy.LendingMarket
		perp    strategy.PerpMarket
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lending, err = c.lending.LendingMarket(gctx)
		if err != nil {
			return &venue.StaleOrMissingDataError{Source: c.lending.Name() + " market", Err: err}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		perp, err = c.perp.PerpMarket(gctx)
		if err != nil {
			return &venue.StaleOrMissingDataError{Source: c.perp.Name() + " market", Err: err}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return strategy.MarketSnapshot{}, err
	}
	return strategy.NewSnapshot(lending, perp), nil
}

// readHoldings reads both venues' positions concurrently.
func (c *Controller) readHoldings(ctx context.Context) (strategy.Holdings, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReadTimeout)
	defer cancel()
	var lendingObs, perpObs venue.Observed
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lendingObs, err = c.lending.ReadState(gctx)
		if err != nil {
			return &venue.StaleOrMissingDataError{Source: c.lending.Name() + " holdings", Err: err}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		perpObs, err = c.perp.ReadState(gctx)
		if err != nil {
			return &venue.StaleOrMissingDataError{Source: c.perp.Name() + " holdings", Err: err}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return strategy.Holdings{}, err
	}
	return venue.Merge(lendingObs, perpObs), nil
}

// evaluate sizes a fresh entry from the snapshot and estimates its carry.
func (c *Controller) evaluate(snap strategy.MarketSnapshot) (strategy.ProfitabilityEstimate, strategy.Sizing, error) {
	sizing, err := strategy.SizeEntry(snap, c.cfg.Sizing)
	if err != nil {
		return strategy.ProfitabilityEstimate{}, strategy.Sizing{}, err
	}
	est, err := strategy.EstimateProfitability(snap, sizing, c.cfg.Costs, c.now(), c.cfg.MaxSnapshotAge)
	if err != nil {
		return strategy.ProfitabilityEstimate{}, sizing, err
	}
	return est, sizing, nil
}

func (c *Controller) favourable(est strategy.ProfitabilityEstimate) bool {
	return est.NetAPY.GreaterThanOrEqual(c.cfg.MinGlobalProfitability)
}

func (c *Controller) skipStale(rec *TickRecord, err error) {
	c.metrics.StaleSnapshots.Inc()
	rec.Action = "stale_data"
	rec.Err = err.Error()
	c.log.Warn("tick skipped on stale or missing data", zap.Bool("venue_unreachable", venue.IsConnectivity(err)), zap.Error(err))
}

func (c *Controller) tickIdle(ctx context.Context, rec *TickRecord) {
	if c.isPaused() {
		rec.Action = "paused"
		return
	}
	holdings, err := c.readHoldings(ctx)
	if err != nil {
		c.skipStale(rec, err)
		return
	}
	if !holdings.Flat(c.cfg.DustETH, c.cfg.DustUSDC) {
		c.log.Warn("unexpected exposure while idle",
			zap.String("collateral_eth", holdings.CollateralETH.String()),
			zap.String("debt_usdc", holdings.DebtUSDC.String()),
			zap.String("short_eth", holdings.ShortETH.String()),
		)
		c.reconcileHoldings(ctx, rec, holdings)
		return
	}

	snap, err := c.fetchSnapshot(ctx)
	if err != nil {
		c.skipStale(rec, err)
		return
	}
	est, _, err := c.evaluate(snap)
	if err != nil {
		if venue.IsStaleOrMissing(err) {
			c.skipStale(rec, err)
			return
		}
		rec.Action = "sizing_failed"
		rec.Err = err.Error()
		return
	}
	rec.Estimate = &est
	if !c.favourable(est) {
		rec.Action = "hold_idle"
		return
	}
	if err := c.transition(ctx, strategy.StateEvaluating); err != nil {
		rec.Err = err.Error()
		return
	}

	// Decisions to enter are only ever made on a snapshot fetched in EVALUATING.
	fresh, err := c.fetchSnapshot(ctx)
	if err != nil {
		c.abortEvaluation(ctx, rec, "evaluation_stale", err)
		return
	}
	est, sizing, err := c.evaluate(fresh)
	if err != nil {
		c.abortEvaluation(ctx, rec, "evaluation_stale", err)
		return
	}
	rec.Estimate = &est
	if !c.favourable(est) {
		c.abortEvaluation(ctx, rec, "evaluation_rejected", nil)
		return
	}
	if err := c.transition(ctx, strategy.StateEntering); err != nil {
		rec.Err = err.Error()
		return
	}
	c.enter(ctx, rec, sizing)
}

func (c *Controller) abortEvaluation(ctx context.Context, rec *TickRecord, action string, err error) {
	rec.Action = action
	if err != nil {
		rec.Err = err.Error()
		if venue.IsStaleOrMissing(err) {
			c.metrics.StaleSnapshots.Inc()
		}
	}
	if terr := c.transition(ctx, strategy.StateIdle); terr != nil {
		rec.Err = terr.Error()
	}
}

func (c *Controller) tickActive(ctx context.Context, rec *TickRecord) {
	if c.takeExitRequest() {
		// Unwind what the venues hold now, not what the last tick saw.
		holdings, err := c.readHoldings(ctx)
		if err != nil {
			c.mu.Lock()
			c.exitRequested = true
			c.mu.Unlock()
			c.skipStale(rec, err)
			return
		}
		c.refreshPosition(holdings)
		if err := c.transition(ctx, strategy.StateExiting); err != nil {
			rec.Err = err.Error()
			return
		}
		c.exit(ctx, rec)
		return
	}
	if err := c.transition(ctx, strategy.StateMonitoring); err != nil {
		rec.Err = err.Error()
		return
	}
	defer func() {
		if c.sm.State() == strategy.StateMonitoring {
			if err := c.transition(ctx, strategy.StateActive); err != nil {
				rec.Err = err.Error()
			}
		}
	}()

	var (
		snap     strategy.MarketSnapshot
		holdings strategy.Holdings
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap, err = c.fetchSnapshot(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		holdings, err = c.readHoldings(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		c.skipStale(rec, err)
		return
	}
	c.refreshPosition(holdings)
	if err := strategy.CheckSnapshot(snap, c.now(), c.cfg.MaxSnapshotAge); err != nil {
		c.skipStale(rec, err)
		return
	}

	risk, err := strategy.AssessRisk(holdings, snap.Lending, c.cfg.Risk)
	if err != nil {
		c.skipStale(rec, err)
		return
	}
	rec.Risk = &risk
	if risk.Breach {
		c.metrics.RiskBreaches.Inc()
		// Profitability never overrides a breach.
		c.degrade(ctx, rec, ReasonRiskBreach, &venue.RiskBreachError{Assessment: risk})
		return
	}
	if legs := c.legsFrom(holdings); !legs.All() {
		c.degrade(ctx, rec, ReasonInconsistent, fmt.Errorf("live holdings no longer carry every leg (supplied=%t borrowed=%t shorted=%t)",
			legs.Supplied, legs.Borrowed, legs.Shorted))
		return
	}

	sizing := strategy.Sizing{
		CollateralETH: holdings.CollateralETH,
		DebtUSDC:      holdings.DebtUSDC,
		ShortETH:      holdings.ShortETH,
	}
	est, err := strategy.EstimateProfitability(snap, sizing, c.cfg.Costs, c.now(), c.cfg.MaxSnapshotAge)
	if err != nil {
		c.skipStale(rec, err)
		return
	}
	rec.Estimate = &est
	rec.Action = "monitor"

	if risk.DeltaBreach {
		if !c.markDriftAlerted(true) {
			c.alert(ctx, Alert{
				Severity: SeverityWarn,
				Kind:     "delta_drift",
				Message: fmt.Sprintf("hedge drift %s exceeds tolerance %s (collateral %s ETH, short %s ETH)",
					risk.DeltaDrift.StringFixed(4), c.cfg.Risk.DeltaTolerance.StringFixed(4),
					holdings.CollateralETH.String(), holdings.ShortETH.String()),
			})
		}
	} else {
		c.markDriftAlerted(false)
	}

	if risk.PerpMarginBreach {
		if !c.markMarginAlerted(true) {
			c.alert(ctx, Alert{
				Severity: SeverityWarn,
				Kind:     "perp_margin",
				Message: fmt.Sprintf("perp margin buffer %s below %s (account %s USD, maintenance %s USD, liquidation at %s)",
					risk.PerpMarginBuffer.StringFixed(4), c.cfg.Risk.MinPerpMarginBuffer.StringFixed(4),
					holdings.Perp.AccountValueUSD.StringFixed(2), risk.PerpMaintenanceUSD.StringFixed(2),
					risk.PerpLiquidationPrice.String()),
			})
		}
	} else {
		c.markMarginAlerted(false)
	}
}

// refreshPosition makes live holdings the Position amounts.
func (c *Controller) refreshPosition(h strategy.Holdings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.position == nil {
		c.position = &strategy.Position{EntryTimestamp: h.ReadAt}
	}
	c.position.CollateralETH = h.CollateralETH
	c.position.DebtUSDC = h.DebtUSDC
	c.position.ShortETH = h.ShortETH
	c.position.MarginUSDC = h.Perp.AccountValueUSD
	c.position.Legs = c.legsFrom(h)
}

func (c *Controller) legsFrom(h strategy.Holdings) strategy.LegSet {
	return strategy.LegSet{
		Supplied: h.CollateralETH.GreaterThan(c.cfg.DustETH),
		Borrowed: h.DebtUSDC.GreaterThan(c.cfg.DustUSDC),
		Shorted:  h.ShortETH.GreaterThan(c.cfg.DustETH),
	}
}

// markDriftAlerted stores the drift flag and returns its previous value.
func (c *Controller) markDriftAlerted(v bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.driftAlerted
	c.driftAlerted = v
	return prev
}

func (c *Controller) markMarginAlerted(v bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.marginAlerted
	c.marginAlerted = v
	return prev
}

func (c *Controller) takeExitRequest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	req := c.exitRequested
	c.exitRequested = false
	return req
}

var errInterrupted = errors.New("shutdown requested between legs")
