package exec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dn-carry-bot/internal/metrics"
	"dn-carry-bot/internal/state"
	"dn-carry-bot/internal/venue"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrConfirmMismatch = errors.New("post-action read does not match intended amount")

// Step is one venue mutation plus how to verify it from a fresh read.
type Step struct {
	Name    string
	Adapter venue.ActionAdapter
	Action  venue.Action
	// Measure extracts the quantity this step changes from a read.
	Measure func(venue.Observed) decimal.Decimal
	// Target is the measure the venue should report once the step applied.
	Target func(baseline venue.Observed) decimal.Decimal
	// Tolerance is the absolute slack allowed when comparing measures.
	Tolerance decimal.Decimal
	// ConfirmTimeout overrides the executor's confirm window when positive.
	ConfirmTimeout time.Duration
}

type Outcome struct {
	Baseline venue.Observed
	Observed venue.Observed
	Result   venue.Result
	Attempts int
}

type Options struct {
	CallTimeout         time.Duration
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration
}

type Executor struct {
	policy  RetryPolicy
	opts    Options
	journal *state.Journal
	metrics *metrics.Metrics
	log     *zap.Logger
}

func New(policy RetryPolicy, opts Options, journal *state.Journal, m *metrics.Metrics, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 20 * time.Second
	}
	if opts.ConfirmPollInterval <= 0 {
		opts.ConfirmPollInterval = 2 * time.Second
	}
	if opts.ConfirmTimeout < opts.ConfirmPollInterval {
		opts.ConfirmTimeout = opts.ConfirmPollInterval
	}
	return &Executor{policy: policy, opts: opts, journal: journal, metrics: m, log: log}
}

// Run executes one step. The returned error is one of the venue taxonomy errors or a
// wrapped ErrConfirmMismatch; a nil error means a fresh read shows the target reached.
func (e *Executor) Run(ctx context.Context, step Step) (Outcome, error) {
	// Submitted calls must not be cut short by shutdown; only the per-call timeout applies.
	ctx = context.WithoutCancel(ctx)
	name := step.Adapter.Name()
	out := Outcome{}
	baseline, err := e.read(ctx, step.Adapter)
	if err != nil {
		return out, &venue.StaleOrMissingDataError{Source: name + " baseline read", Err: err}
	}
	out.Baseline = baseline
	out.Observed = baseline
	target := step.Target(baseline)
	log := e.log.With(zap.String("step", step.Name), zap.String("venue", name),
		zap.String("action", string(step.Action.Kind)), zap.String("target", target.String()))

	bo := e.policy.newBackOff()
	for attempt := 1; ; attempt++ {
		out.Attempts = attempt
		intentID := e.begin(ctx, step, name, attempt)
		res := e.execute(ctx, step)
		out.Result = res
		e.resolve(ctx, intentID, res)

		switch res.Status {
		case venue.StatusConfirmed:
			obs, ok, err := e.confirm(ctx, step, target)
			out.Observed = obs
			if err != nil {
				return out, &venue.AmbiguousOutcomeError{Venue: name, Op: step.Name, TxRef: res.TxRef, Err: err}
			}
			if !ok {
				return out, fmt.Errorf("%s %s: observed %s, want %s: %w",
					name, step.Name, step.Measure(obs), target, ErrConfirmMismatch)
			}
			log.Info("step confirmed", zap.Int("attempt", attempt), zap.String("tx_ref", res.TxRef))
			return out, nil

		case venue.StatusRejected:
			log.Warn("step rejected", zap.String("reason", res.Reason), zap.Error(res.Err))
			return out, &venue.RejectedActionError{Venue: name, Op: step.Name, Reason: res.Reason, Err: res.Err}

		default:
			// Transient or unknown: the call's return value proves nothing; re-read.
			var (
				obs    venue.Observed
				landed bool
				err    error
			)
			if res.Status == venue.StatusUnknown {
				obs, landed, err = e.confirm(ctx, step, target)
			} else {
				obs, err = e.read(ctx, step.Adapter)
				landed = err == nil && within(step.Measure(obs), target, step.Tolerance)
			}
			out.Observed = obs
			if err != nil {
				e.metrics.AmbiguousOutcomes.Inc()
				return out, &venue.AmbiguousOutcomeError{Venue: name, Op: step.Name, TxRef: res.TxRef, Err: err}
			}
			if landed {
				log.Info("step applied despite failed call", zap.String("status", string(res.Status)), zap.Int("attempt", attempt))
				return out, nil
			}
			if !within(step.Measure(obs), step.Measure(baseline), step.Tolerance) {
				e.metrics.AmbiguousOutcomes.Inc()
				return out, &venue.AmbiguousOutcomeError{Venue: name, Op: step.Name, TxRef: res.TxRef,
					Err: fmt.Errorf("partially applied: observed %s, baseline %s, want %s",
						step.Measure(obs), step.Measure(baseline), target)}
			}
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				return out, &venue.TransientVenueError{Venue: name, Op: step.Name,
					Err: fmt.Errorf("gave up after %d attempts: %w", attempt, callErr(res))}
			}
			e.metrics.VenueRetries.Inc()
			log.Warn("step not applied, retrying", zap.String("status", string(res.Status)),
				zap.Int("attempt", attempt), zap.Duration("backoff", wait), zap.Error(res.Err))
			if err := e.policy.sleep(ctx, wait); err != nil {
				return out, &venue.TransientVenueError{Venue: name, Op: step.Name, Err: err}
			}
		}
	}
}

func (e *Executor) execute(ctx context.Context, step Step) venue.Result {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	res := step.Adapter.Execute(callCtx, step.Action)
	if res.Status == "" {
		res.Status = venue.StatusUnknown
	}
	return res
}

func (e *Executor) read(ctx context.Context, adapter venue.ActionAdapter) (venue.Observed, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	return adapter.ReadState(callCtx)
}

// confirm polls fresh reads until the target is reached or the confirm window ends.
func (e *Executor) confirm(ctx context.Context, step Step, target decimal.Decimal) (venue.Observed, bool, error) {
	window := e.opts.ConfirmTimeout
	if step.ConfirmTimeout > 0 {
		window = step.ConfirmTimeout
	}
	polls := int(window / e.opts.ConfirmPollInterval)
	if polls < 1 {
		polls = 1
	}
	var (
		last    venue.Observed
		lastErr error
		readOK  bool
	)
	for i := 0; i < polls; i++ {
		obs, err := e.read(ctx, step.Adapter)
		if err == nil {
			last, readOK, lastErr = obs, true, nil
			if within(step.Measure(obs), target, step.Tolerance) {
				return obs, true, nil
			}
		} else {
			lastErr = err
		}
		if i < polls-1 {
			if err := e.policy.sleep(ctx, e.opts.ConfirmPollInterval); err != nil {
				return last, false, err
			}
		}
	}
	if !readOK {
		return last, false, lastErr
	}
	return last, false, nil
}

func (e *Executor) begin(ctx context.Context, step Step, venueName string, attempt int) string {
	if e.journal == nil {
		return ""
	}
	id, err := e.journal.Begin(ctx, state.Intent{
		ID:      intentID(step.Action.Ref, attempt),
		Step:    step.Name,
		Venue:   venueName,
		Kind:    string(step.Action.Kind),
		Amount:  step.Action.Amount.String(),
		Attempt: attempt,
	})
	if err != nil {
		e.log.Warn("journal begin failed", zap.String("step", step.Name), zap.Error(err))
	}
	return id
}

func (e *Executor) resolve(ctx context.Context, id string, res venue.Result) {
	if e.journal == nil || id == "" {
		return
	}
	reason := res.Reason
	if reason == "" && res.Err != nil {
		reason = res.Err.Error()
	}
	if err := e.journal.Resolve(ctx, id, string(res.Status), res.TxRef, reason); err != nil {
		e.log.Warn("journal resolve failed", zap.String("intent", id), zap.Error(err))
	}
}

func intentID(ref string, attempt int) string {
	if ref == "" {
		return ""
	}
	return fmt.Sprintf("%s-%d", ref, attempt)
}

func within(got, want, tolerance decimal.Decimal) bool {
	return got.Sub(want).Abs().LessThanOrEqual(tolerance.Abs())
}

func callErr(res venue.Result) error {
	if res.Err != nil {
		return res.Err
	}
	return fmt.Errorf("venue returned %s", res.Status)
}
