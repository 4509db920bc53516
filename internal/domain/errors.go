package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTunnelNotFound    = errors.New("tunnel not found")
	ErrTunnelExists      = errors.New("tunnel already registered")
	ErrTunnelNotActive   = errors.New("tunnel is not active")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidTunnelID   = errors.New("tunnel id must be 32 bytes")
	ErrStaleNonce        = errors.New("nonce advanced concurrently")
	ErrNothingToSettle   = errors.New("no pending amount to settle")
)

// InsufficientBalanceError reports a charge that exceeds the tunnel's
// available balance. It carries both sides of the comparison so callers can
// surface an actionable message. Rejection is read-only: no ledger state
// changes when this error is returned.
type InsufficientBalanceError struct {
	TunnelID  TunnelID
	Available uint64
	Required  uint64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on tunnel %s: available %d, required %d",
		e.TunnelID, e.Available, e.Required)
}
