// Package charge implements the check-and-advance protocol that turns a
// priced API call into a signed settlement voucher.
package charge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/punchamoorthee/tunnelpay/internal/apikey"
	"github.com/punchamoorthee/tunnelpay/internal/domain"
	"github.com/punchamoorthee/tunnelpay/internal/ledger"
	"github.com/punchamoorthee/tunnelpay/internal/voucher"
)

// maxAttempts bounds the optimistic retry loop. Each retry means another
// charge advanced the nonce between our read and our commit; the loop
// re-reads and re-signs, it never re-spends.
const maxAttempts = 16

// ErrContention is returned when the retry budget is exhausted. The caller
// saw no mutation from this attempt and may retry.
var ErrContention = errors.New("charge contention retries exhausted")

// Receipt is the outcome of an authorized charge. The signature is the
// operator's attestation over the voucher for (TunnelID, Cumulative, Nonce)
// and is what the on-chain contract will verify at claim time.
type Receipt struct {
	TunnelID   domain.TunnelID `json:"tunnel_id"`
	Price      uint64          `json:"price"`
	Cumulative uint64          `json:"cumulative_amount"`
	Nonce      uint64          `json:"nonce"`
	Signature  []byte          `json:"signature"`
}

// Authorizer performs atomic balance-check-and-advance operations against
// the ledger. The operator signer is the voucher signer of record: the
// operator attests to cumulative usage, and the on-chain contract verifies
// claims against the operator's public key.
type Authorizer struct {
	store  ledger.Store
	signer *apikey.Signer
	logger *slog.Logger
}

func NewAuthorizer(store ledger.Store, signer *apikey.Signer, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{store: store, signer: signer, logger: logger}
}

// Authorize charges price against the tunnel and returns the new voucher.
//
// The voucher is signed against a snapshot of the tunnel and committed with
// CompareAndAdvance on the snapshot's nonce, so no lock is held while
// signing. Rejections (inactive tunnel, insufficient balance) are read-only
// and safe to retry. Once the commit succeeds the charge is irrevocable; a
// caller abandoning the request afterwards does not roll it back.
func (a *Authorizer) Authorize(ctx context.Context, id domain.TunnelID, price uint64) (*Receipt, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		t, err := a.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Status != domain.StatusActive {
			return nil, domain.ErrTunnelNotActive
		}
		if t.Available() < price {
			return nil, &domain.InsufficientBalanceError{
				TunnelID:  id,
				Available: t.Available(),
				Required:  price,
			}
		}

		newCumulative := t.Cumulative() + price
		newNonce := t.Nonce + 1
		msg, err := voucher.Message(id[:], newCumulative, newNonce)
		if err != nil {
			return nil, err
		}
		sig := a.signer.Sign(msg)

		cum, nonce, err := a.store.CompareAndAdvance(ctx, id, price, t.Nonce, sig)
		if errors.Is(err, domain.ErrStaleNonce) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if cum != newCumulative || nonce != newNonce {
			// The store advanced to values the signature does not cover.
			return nil, fmt.Errorf("ledger advanced to (%d,%d), signed (%d,%d)", cum, nonce, newCumulative, newNonce)
		}

		a.logger.Info("charge authorized",
			"tunnel", id.String(),
			"price", price,
			"cumulative", cum,
			"nonce", nonce,
		)
		return &Receipt{
			TunnelID:   id,
			Price:      price,
			Cumulative: cum,
			Nonce:      nonce,
			Signature:  sig,
		}, nil
	}
	return nil, ErrContention
}
