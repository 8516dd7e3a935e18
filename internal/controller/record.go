package controller

import (
	"context"
	"time"

	"dn-carry-bot/internal/strategy"
)

// TickRecord is the observable outcome of one tick.
type TickRecord struct {
	Timestamp time.Time                       `json:"timestamp"`
	State     strategy.Lifecycle              `json:"state"`
	Estimate  *strategy.ProfitabilityEstimate `json:"estimate,omitempty"`
	Risk      *strategy.RiskAssessment        `json:"risk,omitempty"`
	Position  *strategy.Position              `json:"position,omitempty"`
	Action    string                          `json:"action,omitempty"`
	Reason    string                          `json:"reason,omitempty"`
	Paused    bool                            `json:"paused"`
	Err       string                          `json:"error,omitempty"`
}

type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityFatal Severity = "fatal"
)

type Alert struct {
	Severity Severity           `json:"severity"`
	Kind     string             `json:"kind"`
	Message  string             `json:"message"`
	State    strategy.Lifecycle `json:"state"`
	At       time.Time          `json:"at"`
}

func (a Alert) Fatal() bool { return a.Severity == SeverityFatal }

// Alerter delivers operator alerts. Implementations must not block the tick for long.
type Alerter interface {
	Alert(ctx context.Context, alert Alert)
}

type Recorder interface {
	Record(ctx context.Context, rec TickRecord)
}

type nopAlerter struct{}

func (nopAlerter) Alert(context.Context, Alert) {}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, TickRecord) {}

// Status is a point-in-time view for operators.
type Status struct {
	State      strategy.Lifecycle
	Reason     string
	Paused     bool
	Position   *strategy.Position
	LastTick   TickRecord
	Reconciled bool
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:      c.sm.State(),
		Reason:     c.reason,
		Paused:     c.paused,
		LastTick:   c.lastRecord,
		Reconciled: c.reconciled,
	}
	if c.position != nil {
		pos := *c.position
		st.Position = &pos
	}
	return st
}
