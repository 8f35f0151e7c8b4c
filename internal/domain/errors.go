package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrStateConflict  = errors.New("order state changed concurrently")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrSigningFailed  = errors.New("signing failed")
	ErrLockHeld       = errors.New("lock already held")
	ErrTransient      = errors.New("transient upstream failure")
	ErrOrderInFlight  = errors.New("order already submitting; cancellation deferred to timeout")
	ErrOrderFinalized = errors.New("order already finalized")
	ErrUnknownKind    = errors.New("unknown strategy kind")
)

// ResolutionKind classifies why a request could not become a TradeIntent.
type ResolutionKind string

const (
	ResolutionLowConfidence       ResolutionKind = "low_confidence"
	ResolutionUnknownToken        ResolutionKind = "unknown_token"
	ResolutionNoPosition          ResolutionKind = "no_position"
	ResolutionUpstreamUnavailable ResolutionKind = "upstream_unavailable"
	ResolutionInvalid             ResolutionKind = "invalid_intent"
)

// ResolutionError is returned by the resolver. It is never retried.
type ResolutionError struct {
	Kind   ResolutionKind
	Detail string
	Cause  error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("resolution failed (%s)", e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Cause }

// NewResolutionError builds a ResolutionError with an optional cause.
func NewResolutionError(kind ResolutionKind, detail string, cause error) *ResolutionError {
	return &ResolutionError{Kind: kind, Detail: detail, Cause: cause}
}

// RejectReason names the risk check that refused an intent.
type RejectReason string

const (
	RejectAmountOutOfBounds   RejectReason = "amount_out_of_bounds"
	RejectSlippageOutOfBounds RejectReason = "slippage_out_of_bounds"
	RejectTradingHalted       RejectReason = "trading_halted"
)

// RejectError is returned by the risk gate.
type RejectError struct {
	Reason RejectReason
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("rejected: %s", e.Reason)
	}
	return fmt.Sprintf("rejected: %s: %s", e.Reason, e.Detail)
}

// AsResolutionError reports whether err carries a ResolutionError.
func AsResolutionError(err error) (*ResolutionError, bool) {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// AsRejectError reports whether err carries a RejectError.
func AsRejectError(err error) (*RejectError, bool) {
	var re *RejectError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
