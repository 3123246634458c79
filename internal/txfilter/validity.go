package txfilter

import "math"

// RejectReason enumerates why a call was refused at validation time.
type RejectReason int

const (
	ReasonNone RejectReason = iota
	// ReasonObsolete means the call would not improve the guarded state: the
	// bundled value is already known on chain. This is a normal, frequent
	// outcome of multi-relayer competition, not an anomaly.
	ReasonObsolete
	// ReasonStateUnavailable means the guarded state could not be read.
	ReasonStateUnavailable
)

func (r RejectReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonObsolete:
		return "obsolete"
	case ReasonStateUnavailable:
		return "state unavailable"
	default:
		return "unknown"
	}
}

// ValidityResult is the outcome of pre-inclusion call validation.
type ValidityResult struct {
	Valid         bool
	Reason        RejectReason
	PriorityBoost uint64
}

func Accepted(boost uint64) ValidityResult {
	return ValidityResult{Valid: true, PriorityBoost: boost}
}

func Rejected(reason RejectReason) ValidityResult {
	return ValidityResult{Reason: reason}
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
