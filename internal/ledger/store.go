// Package ledger is the authoritative off-chain mirror of tunnel escrow
// state. All mutations on a single tunnel are linearizable; tunnels never
// block one another.
package ledger

import (
	"context"
	"crypto/ed25519"
	"errors"
	"math"

	"github.com/punchamoorthee/tunnelpay/internal/domain"
)

var (
	// ErrReconcileOutOfRange means a settlement reported a cumulative amount
	// below what is already claimed or above what was ever authorized.
	ErrReconcileOutOfRange = errors.New("settled cumulative out of range")
	// ErrDepositOverflow guards the running deposit counter.
	ErrDepositOverflow = errors.New("top-up would overflow total deposit")
)

// Store is the durable keyed storage of tunnel records.
//
// CompareAndAdvance is the sole mutator used on the charge path. It
// atomically verifies the tunnel is ACTIVE, that its nonce still equals
// expectedNonce, and that charge fits in the available balance; it then
// advances pending amount and nonce and records the voucher signature as one
// unit. A lost race returns domain.ErrStaleNonce and the caller re-reads and
// re-signs. This keeps voucher signing outside any lock.
//
// Reconcile folds settled value from pending into claimed after an on-chain
// claim confirms. It takes the cumulative amount the chain actually settled
// so charges that landed while the claim was in flight stay pending.
type Store interface {
	Create(ctx context.Context, id domain.TunnelID, owner string, payerPub ed25519.PublicKey, totalDeposited uint64) (*domain.Tunnel, error)
	Get(ctx context.Context, id domain.TunnelID) (*domain.Tunnel, error)
	ListByOwner(ctx context.Context, owner string) ([]*domain.Tunnel, error)
	ApplyTopup(ctx context.Context, id domain.TunnelID, amount uint64) error
	TransitionStatus(ctx context.Context, id domain.TunnelID, next domain.Status) error
	CompareAndAdvance(ctx context.Context, id domain.TunnelID, charge, expectedNonce uint64, signature []byte) (newCumulative, newNonce uint64, err error)
	Reconcile(ctx context.Context, id domain.TunnelID, settledCumulative uint64) (*domain.Tunnel, error)
	Close()
}

// checkAdvance applies the charge-path validation shared by both store
// implementations. It does not mutate t.
func checkAdvance(t *domain.Tunnel, charge, expectedNonce uint64) error {
	if t.Status != domain.StatusActive {
		return domain.ErrTunnelNotActive
	}
	if t.Nonce != expectedNonce {
		return domain.ErrStaleNonce
	}
	if t.Available() < charge {
		return &domain.InsufficientBalanceError{
			TunnelID:  t.ID,
			Available: t.Available(),
			Required:  charge,
		}
	}
	return nil
}

// checkReconcile validates the settled cumulative against current state.
func checkReconcile(t *domain.Tunnel, settledCumulative uint64) error {
	if settledCumulative < t.ClaimedAmount || settledCumulative > t.Cumulative() {
		return ErrReconcileOutOfRange
	}
	return nil
}

// checkDeposit bounds the running deposit at MaxInt64: amounts persist in
// signed 64-bit columns, and a total past that bound would round-trip
// negative and break deposit monotonicity.
func checkDeposit(current, amount uint64) error {
	if amount > math.MaxInt64 || current > math.MaxInt64-amount {
		return ErrDepositOverflow
	}
	return nil
}
