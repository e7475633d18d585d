package billing

import (
	"math"
	"time"
)

// Policy is the pure pricing function for metered call time.
//
// Rules:
// - charge(interval, rate) = round(intervalSeconds * ratePerSecond) at
//   four decimal places (the Amount fixed point).
// - Only the payer is debited by default. Symmetric group billing exists
//   as an explicit opt-in split mode; nothing else in the engine assumes it.
type Policy struct {
	// RatePerSecond is the default per-second rate in Amount units.
	RatePerSecond Amount

	// RateByCallType optionally overrides the default rate per call type
	// (e.g. "video" priced above "voice"). Missing keys fall back to
	// RatePerSecond.
	RateByCallType map[string]Amount

	// Split selects which parties are debited. Zero value is SplitPayerOnly.
	Split SplitMode
}

// SplitMode selects which call parties a charge is assessed against.
type SplitMode string

const (
	// SplitPayerOnly debits the initiating payer for the full interval
	// charge. This is the default and the only mode the engine enables.
	SplitPayerOnly SplitMode = "payer_only"

	// SplitSymmetric debits every participant the full interval charge.
	// Documented extension point; kept pure here so enabling it is an
	// engine wiring decision, not a pricing change.
	SplitSymmetric SplitMode = "symmetric"
)

// Rate returns the per-second rate for the given call type.
func (p Policy) Rate(callType string) Amount {
	if r, ok := p.RateByCallType[callType]; ok {
		return r
	}
	return p.RatePerSecond
}

// Charge computes the cost of one billing interval at the given per-second
// rate. Whole-second intervals multiply exactly; fractional intervals round
// half away from zero at the fixed-point precision.
func Charge(interval time.Duration, ratePerSecond Amount) Amount {
	if interval <= 0 || ratePerSecond <= 0 {
		return 0
	}
	if interval%time.Second == 0 {
		return ratePerSecond * Amount(interval/time.Second)
	}
	return Amount(math.Round(float64(ratePerSecond) * interval.Seconds()))
}

// IntervalCharge computes the cost of one billing interval for a call type.
func (p Policy) IntervalCharge(callType string, interval time.Duration) Amount {
	return Charge(interval, p.Rate(callType))
}

// Debtors returns the identities a single interval charge is assessed
// against, given the payer and full participant set.
func (p Policy) Debtors(payerID string, participantIDs []string) []string {
	if p.Split == SplitSymmetric {
		out := make([]string, len(participantIDs))
		copy(out, participantIDs)
		return out
	}
	return []string{payerID}
}
