package venue

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"dn-carry-bot/internal/strategy"
)

// ErrConnectivity marks transport failures where the request never reached the venue.
var ErrConnectivity = errors.New("venue unreachable")

// Connectivity tags refused connections and failed name lookups with ErrConnectivity.
// Other errors are returned unchanged.
func Connectivity(err error) error {
	if err == nil || errors.Is(err, ErrConnectivity) {
		return err
	}
	var dnsErr *net.DNSError
	if errors.Is(err, syscall.ECONNREFUSED) || errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %w", ErrConnectivity, err)
	}
	return err
}

func IsConnectivity(err error) bool {
	return errors.Is(Connectivity(err), ErrConnectivity)
}

// TransientVenueError is a failure known not to have applied (rate limit, nonce
// conflict, refused connection). Retryable under the retry policy.
type TransientVenueError struct {
	Venue string
	Op    string
	Err   error
}

func (e *TransientVenueError) Error() string {
	return fmt.Sprintf("%s %s: transient: %v", e.Venue, e.Op, e.Err)
}

func (e *TransientVenueError) Unwrap() error { return e.Err }

// RejectedActionError means the venue explicitly refused. Never retried.
type RejectedActionError struct {
	Venue  string
	Op     string
	Reason string
	Err    error
}

func (e *RejectedActionError) Error() string {
	return fmt.Sprintf("%s %s: rejected: %s", e.Venue, e.Op, e.Reason)
}

func (e *RejectedActionError) Unwrap() error { return e.Err }

// AmbiguousOutcomeError means a submitted call may or may not have applied and the
// follow-up read could not settle it.
type AmbiguousOutcomeError struct {
	Venue string
	Op    string
	TxRef string
	Err   error
}

func (e *AmbiguousOutcomeError) Error() string {
	if e.TxRef != "" {
		return fmt.Sprintf("%s %s: outcome unknown (ref %s): %v", e.Venue, e.Op, e.TxRef, e.Err)
	}
	return fmt.Sprintf("%s %s: outcome unknown: %v", e.Venue, e.Op, e.Err)
}

func (e *AmbiguousOutcomeError) Unwrap() error { return e.Err }

type StaleOrMissingDataError struct {
	Source string
	Err    error
}

func (e *StaleOrMissingDataError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *StaleOrMissingDataError) Unwrap() error { return e.Err }

type RiskBreachError struct {
	Assessment strategy.RiskAssessment
}

func (e *RiskBreachError) Error() string {
	return fmt.Sprintf("liquidation buffer %s below minimum (ltv %s, liquidation ltv %s)",
		e.Assessment.Buffer.StringFixed(4), e.Assessment.LTV.StringFixed(4), e.Assessment.LiquidationLTV.StringFixed(4))
}

// PartialEntryOrExitError halts automation: Position describes exactly which legs are in place.
type PartialEntryOrExitError struct {
	Phase    strategy.Lifecycle
	Step     string
	Position strategy.Position
	Err      error
}

func (e *PartialEntryOrExitError) Error() string {
	return fmt.Sprintf("%s halted at %s (supplied=%t borrowed=%t shorted=%t): %v",
		e.Phase, e.Step, e.Position.Legs.Supplied, e.Position.Legs.Borrowed, e.Position.Legs.Shorted, e.Err)
}

func (e *PartialEntryOrExitError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var target *TransientVenueError
	return errors.As(err, &target)
}

func IsRejected(err error) bool {
	var target *RejectedActionError
	return errors.As(err, &target)
}

func IsAmbiguous(err error) bool {
	var target *AmbiguousOutcomeError
	return errors.As(err, &target)
}

func IsStaleOrMissing(err error) bool {
	var target *StaleOrMissingDataError
	return errors.As(err, &target) || strategy.IsDataError(err)
}
