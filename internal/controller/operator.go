package controller

import (
	"context"
	"errors"

	"dn-carry-bot/internal/strategy"

	"go.uber.org/zap"
)

var ErrNoPosition = errors.New("no active position")

// RequestExit asks the next monitoring tick to unwind the position.
func (c *Controller) RequestExit() error {
	switch c.sm.State() {
	case strategy.StateActive, strategy.StateMonitoring:
	default:
		return ErrNoPosition
	}
	c.mu.Lock()
	c.exitRequested = true
	c.mu.Unlock()
	c.log.Info("exit requested")
	return nil
}

// Pause stops new entries. Monitoring of an open position continues.
func (c *Controller) Pause(ctx context.Context) {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	c.persist(ctx)
	c.log.Info("controller paused")
}

func (c *Controller) Resume(ctx context.Context) {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	c.persist(ctx)
	c.log.Info("controller resumed")
}

// Clear re-runs reconciliation on a halted controller. The new state comes from live
// reads only.
func (c *Controller) Clear(ctx context.Context) (TickRecord, error) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	if c.sm.State() != strategy.StateDegraded {
		return TickRecord{}, ErrNotDegraded
	}
	rec := TickRecord{Timestamp: c.now().UTC()}
	holdings, err := c.readHoldings(ctx)
	if err != nil {
		return TickRecord{}, err
	}
	c.log.Info("operator clear requested")
	c.reconcileHoldings(ctx, &rec, holdings)
	return c.finish(ctx, rec), nil
}

// Rehedge resizes the short to match collateral now rather than on the next tick.
func (c *Controller) Rehedge(ctx context.Context) (TickRecord, error) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	switch c.sm.State() {
	case strategy.StateActive, strategy.StateMonitoring:
	default:
		return TickRecord{}, ErrNoPosition
	}
	rec := TickRecord{Timestamp: c.now().UTC()}
	if err := c.rehedge(ctx, &rec); err != nil {
		c.log.Warn("rehedge failed", zap.Error(err))
		if rec.Err == "" {
			rec.Err = err.Error()
		}
		return c.finish(ctx, rec), err
	}
	return c.finish(ctx, rec), nil
}
