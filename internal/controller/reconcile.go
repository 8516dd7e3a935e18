package controller

import (
	"context"
	"fmt"

	"dn-carry-bot/internal/strategy"

	"go.uber.org/zap"
)

// reconcile re-derives the lifecycle state from live venue reads. A halted controller
// stays halted until an operator clears it; only its legs are refreshed.
func (c *Controller) reconcile(ctx context.Context, rec *TickRecord) {
	holdings, err := c.readHoldings(ctx)
	if err != nil {
		c.skipStale(rec, err)
		return
	}
	if c.sm.State() == strategy.StateDegraded {
		c.refreshPosition(holdings)
		c.markReconciled()
		c.persist(ctx)
		rec.Action = "halted"
		return
	}
	c.reconcileHoldings(ctx, rec, holdings)
}

func (c *Controller) reconcileHoldings(ctx context.Context, rec *TickRecord, h strategy.Holdings) {
	defer c.markReconciled()
	from := c.sm.State()
	legs := c.legsFrom(h)

	if h.Flat(c.cfg.DustETH, c.cfg.DustUSDC) {
		c.setPosition(nil)
		c.setReason("")
		c.sm.Restore(strategy.StateIdle)
		c.persist(ctx)
		rec.Action = "reconciled_flat"
		c.log.Info("reconciled", zap.String("from", string(from)), zap.String("to", string(strategy.StateIdle)))
		return
	}

	drift := strategy.DeltaDrift(h, c.cfg.Risk.HedgeRatio)
	withinTolerance := !c.cfg.Risk.DeltaTolerance.IsPositive() || drift.LessThanOrEqual(c.cfg.Risk.DeltaTolerance)
	if legs.All() && withinTolerance {
		prev := c.currentPosition()
		pos := &strategy.Position{
			CollateralETH:  h.CollateralETH,
			DebtUSDC:       h.DebtUSDC,
			ShortETH:       h.ShortETH,
			EntryTimestamp: h.ReadAt,
			Status:         strategy.StateActive,
			Legs:           legs,
		}
		if prev != nil && !prev.EntryTimestamp.IsZero() {
			pos.EntryTimestamp = prev.EntryTimestamp
		}
		c.setPosition(pos)
		c.setReason("")
		c.sm.Restore(strategy.StateActive)
		c.persist(ctx)
		rec.Action = "reconciled_active"
		c.log.Info("reconciled", zap.String("from", string(from)), zap.String("to", string(strategy.StateActive)))
		return
	}

	pos := &strategy.Position{
		CollateralETH: h.CollateralETH,
		DebtUSDC:      h.DebtUSDC,
		ShortETH:      h.ShortETH,
		Status:        strategy.StateDegraded,
		Legs:          legs,
	}
	c.setPosition(pos)
	c.degrade(ctx, rec, ReasonInconsistent, fmt.Errorf(
		"live holdings do not form a hedged position: collateral %s ETH, debt %s USDC, short %s ETH, drift %s",
		h.CollateralETH.String(), h.DebtUSDC.String(), h.ShortETH.String(), drift.StringFixed(4)))
}

func (c *Controller) markReconciled() {
	c.mu.Lock()
	c.reconciled = true
	c.mu.Unlock()
}

func (c *Controller) setReason(reason string) {
	c.mu.Lock()
	c.reason = reason
	c.mu.Unlock()
}
