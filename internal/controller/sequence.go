package controller

import (
	"context"
	"fmt"

	"dn-carry-bot/internal/exec"
	"dn-carry-bot/internal/state"
	"dn-carry-bot/internal/strategy"
	"dn-carry-bot/internal/venue"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func collateralOf(o venue.Observed) decimal.Decimal { return o.CollateralETH }
func debtOf(o venue.Observed) decimal.Decimal       { return o.DebtUSDC }
func shortOf(o venue.Observed) decimal.Decimal      { return o.ShortETH }
func marginOf(o venue.Observed) decimal.Decimal     { return o.MarginUSDC }
func walletOf(o venue.Observed) decimal.Decimal     { return o.WalletUSDC }

// tolerance is the confirm slack for an amount: relative to the amount, never below dust.
func (c *Controller) tolerance(amount, dust decimal.Decimal) decimal.Decimal {
	tol := amount.Abs().Mul(c.cfg.ConfirmTolerance)
	if tol.LessThan(dust) {
		return dust
	}
	return tol
}

func increaseBy(amount decimal.Decimal, measure func(venue.Observed) decimal.Decimal) func(venue.Observed) decimal.Decimal {
	return func(baseline venue.Observed) decimal.Decimal {
		return measure(baseline).Add(amount)
	}
}

func toZero(venue.Observed) decimal.Decimal { return decimal.Zero }

// enter runs supply, borrow, the optional margin deposit and open short strictly in
// order. Each leg is confirmed from a fresh read before the next one starts.
func (c *Controller) enter(ctx context.Context, rec *TickRecord, sizing strategy.Sizing) {
	ref := state.NewIntentID()
	pos := &strategy.Position{Status: strategy.StateEntering}
	c.setPosition(pos)
	c.persist(ctx)
	c.log.Info("entering position",
		zap.String("ref", ref),
		zap.String("collateral_eth", sizing.CollateralETH.String()),
		zap.String("debt_usdc", sizing.DebtUSDC.String()),
		zap.String("short_eth", sizing.ShortETH.String()),
		zap.String("ltv", sizing.LTV.StringFixed(4)),
	)

	legs := []struct {
		present bool
		step    exec.Step
		apply   func(exec.Outcome)
	}{
		{
			present: true,
			step: exec.Step{
				Name:      "supply_collateral",
				Adapter:   c.lending,
				Action:    venue.Action{Kind: venue.ActionSupply, Amount: sizing.CollateralETH, Ref: ref + "-supply"},
				Measure:   collateralOf,
				Target:    increaseBy(sizing.CollateralETH, collateralOf),
				Tolerance: c.tolerance(sizing.CollateralETH, c.cfg.DustETH),
			},
			apply: func(out exec.Outcome) {
				pos.Legs.Supplied = true
				pos.CollateralETH = out.Observed.CollateralETH
			},
		},
		{
			present: true,
			step: exec.Step{
				Name:      "borrow_usdc",
				Adapter:   c.lending,
				Action:    venue.Action{Kind: venue.ActionBorrow, Amount: sizing.DebtUSDC, Ref: ref + "-borrow"},
				Measure:   debtOf,
				Target:    increaseBy(sizing.DebtUSDC, debtOf),
				Tolerance: c.tolerance(sizing.DebtUSDC, c.cfg.DustUSDC),
			},
			apply: func(out exec.Outcome) {
				pos.Legs.Borrowed = true
				pos.DebtUSDC = out.Observed.DebtUSDC
			},
		},
		{
			present: c.cfg.FundMargin,
			step: exec.Step{
				Name:           "fund_margin",
				Adapter:        c.margin,
				Action:         venue.Action{Kind: venue.ActionDepositMargin, Amount: sizing.DebtUSDC, Ref: ref + "-margin"},
				Measure:        marginOf,
				Target:         increaseBy(sizing.DebtUSDC, marginOf),
				Tolerance:      c.tolerance(sizing.DebtUSDC, c.cfg.DustUSDC),
				ConfirmTimeout: c.cfg.BridgeConfirmTimeout,
			},
			apply: func(out exec.Outcome) {
				pos.MarginUSDC = out.Observed.MarginUSDC
			},
		},
		{
			present: true,
			step: exec.Step{
				Name:      "open_short",
				Adapter:   c.perp,
				Action:    venue.Action{Kind: venue.ActionOpenShort, Amount: sizing.ShortETH, Ref: ref + "-short"},
				Measure:   shortOf,
				Target:    increaseBy(sizing.ShortETH, shortOf),
				Tolerance: c.tolerance(sizing.ShortETH, c.cfg.DustETH),
			},
			apply: func(out exec.Outcome) {
				pos.Legs.Shorted = true
				pos.ShortETH = out.Observed.ShortETH
			},
		},
	}

	for i, leg := range legs {
		if !leg.present {
			continue
		}
		if i > 0 && ctx.Err() != nil {
			c.halt(ctx, rec, strategy.StateEntering, leg.step.Name, ReasonInterrupted, pos, errInterrupted)
			c.metrics.EntryFailed.Inc()
			return
		}
		out, err := c.executor.Run(ctx, leg.step)
		if err != nil && i == 0 && out.Attempts == 0 {
			// The baseline read failed before anything was submitted.
			c.setPosition(nil)
			c.abortEvaluation(ctx, rec, "entry_stale", err)
			return
		}
		if err != nil {
			c.halt(ctx, rec, strategy.StateEntering, leg.step.Name, ReasonEntryFailed, pos, err)
			c.metrics.EntryFailed.Inc()
			return
		}
		leg.apply(out)
		c.setPosition(pos)
		c.persist(ctx)
	}

	pos.EntryTimestamp = c.now().UTC()
	pos.Status = strategy.StateActive
	c.setPosition(pos)
	c.markDriftAlerted(false)
	c.markMarginAlerted(false)
	if err := c.transition(ctx, strategy.StateActive); err != nil {
		rec.Err = err.Error()
		return
	}
	c.metrics.Entries.Inc()
	rec.Action = "entered"
	c.alert(ctx, Alert{
		Severity: SeverityInfo,
		Kind:     "entered",
		Message: fmt.Sprintf("entered carry: collateral %s ETH, debt %s USDC, short %s ETH",
			pos.CollateralETH.String(), pos.DebtUSDC.String(), pos.ShortETH.String()),
	})
}

// exit unwinds in reverse: close the short, bring the free margin home when the
// controller funded it, repay the debt, withdraw the collateral.
func (c *Controller) exit(ctx context.Context, rec *TickRecord) {
	ref := state.NewIntentID()
	pos := c.currentPosition()
	if pos == nil {
		pos = &strategy.Position{Legs: strategy.LegSet{Supplied: true, Borrowed: true, Shorted: true}}
	}
	pos.Status = strategy.StateExiting
	c.setPosition(pos)
	c.log.Info("exiting position", zap.String("ref", ref))

	legs := []struct {
		present bool
		step    exec.Step
		apply   func(exec.Outcome)
	}{
		{
			present: pos.Legs.Shorted,
			step: exec.Step{
				Name:      "close_short",
				Adapter:   c.perp,
				Action:    venue.Action{Kind: venue.ActionCloseShort, Amount: pos.ShortETH, Full: true, Ref: ref + "-close"},
				Measure:   shortOf,
				Target:    toZero,
				Tolerance: c.cfg.DustETH,
			},
			apply: func(out exec.Outcome) {
				pos.Legs.Shorted = false
				pos.ShortETH = out.Observed.ShortETH
			},
		},
		{
			present: c.cfg.FundMargin,
			step: exec.Step{
				Name:           "withdraw_margin",
				Adapter:        c.margin,
				Action:         venue.Action{Kind: venue.ActionWithdrawMargin, Amount: pos.MarginUSDC, Full: true, Ref: ref + "-margin"},
				Measure:        walletOf,
				Target:         c.marginReturned,
				Tolerance:      decimal.Max(c.tolerance(pos.MarginUSDC, c.cfg.DustUSDC), c.cfg.WithdrawFeeUSDC),
				ConfirmTimeout: c.cfg.BridgeConfirmTimeout,
			},
			apply: func(out exec.Outcome) {
				pos.MarginUSDC = out.Observed.MarginUSDC
			},
		},
		{
			present: pos.Legs.Borrowed,
			step: exec.Step{
				Name:      "repay_usdc",
				Adapter:   c.lending,
				Action:    venue.Action{Kind: venue.ActionRepay, Amount: pos.DebtUSDC, Full: true, Ref: ref + "-repay"},
				Measure:   debtOf,
				Target:    toZero,
				Tolerance: c.cfg.DustUSDC,
			},
			apply: func(out exec.Outcome) {
				pos.Legs.Borrowed = false
				pos.DebtUSDC = out.Observed.DebtUSDC
			},
		},
		{
			present: pos.Legs.Supplied,
			step: exec.Step{
				Name:      "withdraw_collateral",
				Adapter:   c.lending,
				Action:    venue.Action{Kind: venue.ActionWithdraw, Amount: pos.CollateralETH, Full: true, Ref: ref + "-withdraw"},
				Measure:   collateralOf,
				Target:    toZero,
				Tolerance: c.cfg.DustETH,
			},
			apply: func(out exec.Outcome) {
				pos.Legs.Supplied = false
				pos.CollateralETH = out.Observed.CollateralETH
			},
		},
	}

	done := 0
	for _, leg := range legs {
		if !leg.present {
			continue
		}
		if done > 0 && ctx.Err() != nil {
			c.halt(ctx, rec, strategy.StateExiting, leg.step.Name, ReasonInterrupted, pos, errInterrupted)
			c.metrics.ExitFailed.Inc()
			return
		}
		out, err := c.executor.Run(ctx, leg.step)
		if err != nil {
			c.halt(ctx, rec, strategy.StateExiting, leg.step.Name, ReasonExitFailed, pos, err)
			c.metrics.ExitFailed.Inc()
			return
		}
		leg.apply(out)
		c.setPosition(pos)
		c.persist(ctx)
		done++
	}

	c.setPosition(nil)
	c.mu.Lock()
	c.reason = ""
	c.mu.Unlock()
	if err := c.transition(ctx, strategy.StateIdle); err != nil {
		rec.Err = err.Error()
		return
	}
	c.metrics.Exits.Inc()
	rec.Action = "exited"
	c.alert(ctx, Alert{Severity: SeverityInfo, Kind: "exited", Message: "position closed on both venues"})
}

// marginReturned is the wallet balance once everything withdrawable has arrived, net
// of the venue's withdrawal fee.
func (c *Controller) marginReturned(baseline venue.Observed) decimal.Decimal {
	arriving := baseline.WithdrawableUSDC.Sub(c.cfg.WithdrawFeeUSDC)
	if arriving.IsNegative() {
		arriving = decimal.Zero
	}
	return baseline.WalletUSDC.Add(arriving)
}

// halt records exactly which legs are in place and stops automation.
func (c *Controller) halt(ctx context.Context, rec *TickRecord, phase strategy.Lifecycle, step, reason string, pos *strategy.Position, cause error) {
	pos.Status = strategy.StateDegraded
	c.setPosition(pos)
	err := &venue.PartialEntryOrExitError{Phase: phase, Step: step, Position: *pos, Err: cause}
	c.degrade(ctx, rec, reason, err)
}

// rehedge resizes the short back to collateral times the hedge ratio.
func (c *Controller) rehedge(ctx context.Context, rec *TickRecord) error {
	holdings, err := c.readHoldings(ctx)
	if err != nil {
		c.skipStale(rec, err)
		return err
	}
	market, err := c.perp.PerpMarket(ctx)
	if err != nil {
		err = &venue.StaleOrMissingDataError{Source: c.perp.Name() + " market", Err: err}
		c.skipStale(rec, err)
		return err
	}
	hedge := c.cfg.Sizing.HedgeRatio
	if !hedge.IsPositive() {
		hedge = decimal.NewFromInt(1)
	}
	target := holdings.CollateralETH.Mul(hedge)
	delta := target.Sub(holdings.ShortETH).Truncate(int32(market.SzDecimals))
	if delta.IsZero() {
		rec.Action = "rehedge_noop"
		return nil
	}
	step := exec.Step{
		Name:      "resize_short",
		Adapter:   c.perp,
		Action:    venue.Action{Kind: venue.ActionResizeShort, Amount: delta, Ref: state.NewIntentID() + "-resize"},
		Measure:   shortOf,
		Target:    increaseBy(delta, shortOf),
		Tolerance: c.tolerance(delta, c.cfg.DustETH),
	}
	out, err := c.executor.Run(ctx, step)
	if err != nil {
		if out.Attempts == 0 || venue.IsRejected(err) || venue.IsTransient(err) {
			// Nothing was applied; the position is unchanged.
			rec.Action = "rehedge_failed"
			rec.Err = err.Error()
			return err
		}
		pos := c.currentPosition()
		if pos == nil {
			pos = &strategy.Position{}
		}
		if !out.Observed.ReadAt.IsZero() {
			pos.ShortETH = out.Observed.ShortETH
		}
		c.halt(ctx, rec, strategy.StateActive, step.Name, ReasonRehedgeFailed, pos, err)
		return err
	}
	c.mu.Lock()
	if c.position != nil {
		c.position.ShortETH = out.Observed.ShortETH
	}
	c.driftAlerted = false
	c.mu.Unlock()
	c.persist(ctx)
	rec.Action = "rehedged"
	c.log.Info("short resized", zap.String("delta_eth", delta.String()), zap.String("short_eth", out.Observed.ShortETH.String()))
	return nil
}
