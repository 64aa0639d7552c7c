// Package corerr carries the exhaustive error-kind enum from spec §7 in a
// single result-carrying type, generalized from the teacher's
// blockchain.TxError{Code,Raw,Message,Action} classification pattern
// (internal/blockchain/errors.go) so every component reports failures the
// same way instead of mixing sentinel errors, panics, and string matching.
package corerr

import "fmt"

// Kind is the exhaustive, closed set of error kinds named in spec §7.
type Kind string

const (
	KindConfigValidation       Kind = "ConfigValidation"
	KindUpstreamUnavailable    Kind = "UpstreamUnavailable"
	KindUpstreamTimeout        Kind = "UpstreamTimeout"
	KindQuoteRejected          Kind = "QuoteRejected"
	KindSimulationFailed       Kind = "SimulationFailed"
	KindInsufficientFunds      Kind = "InsufficientFunds"
	KindInsufficientToken      Kind = "InsufficientToken"
	KindLedgerCoverageViolation Kind = "LedgerCoverageViolation"
	KindLedgerInvariantBreach  Kind = "LedgerInvariantBreach"
	KindRiskCircuitTripped     Kind = "RiskCircuitTripped"
	KindUniverseCooldown       Kind = "UniverseCooldown"
	KindFeeGuardExceeded       Kind = "FeeGuardExceeded"
	KindPersistence            Kind = "Persistence"
	KindTickTimeout             Kind = "TickTimeout"
)

// Error is the single result-carrying error type for the core. Fields is a
// small structured payload (e.g. {have, need} for InsufficientFunds) used by
// logging and by the dashboard surface, not parsed by callers.
type Error struct {
	Kind   Kind
	Msg    string
	Fields map[string]any
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no wrapped cause.
func New(kind Kind, msg string, fields map[string]any) *Error {
	return &Error{Kind: kind, Msg: msg, Fields: fields}
}

// Wrap builds an Error around an existing cause.
func Wrap(kind Kind, msg string, cause error, fields map[string]any) *Error {
	return &Error{Kind: kind, Msg: msg, Fields: fields, Cause: cause}
}

// Is reports whether err is a *Error of the given kind, so callers can
// branch without importing the concrete type everywhere.
func Is(err error, kind Kind) bool {
	ce, ok := err.(*Error)
	return ok && ce.Kind == kind
}
