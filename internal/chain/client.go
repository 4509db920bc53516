// Package chain holds the narrow contracts to the blockchain: an execution
// client and a gas-sponsorship relay. The settlement core depends only on
// the interfaces; the concrete implementations here are thin HTTP glue.
package chain

import (
	"context"

	"github.com/punchamoorthee/tunnelpay/internal/domain"
)

// TunnelState is the on-chain view of an escrow object.
type TunnelState struct {
	Balance           uint64 `json:"balance"`
	CumulativeClaimed uint64 `json:"cumulative_claimed"`
	Nonce             uint64 `json:"nonce"`
	Closing           bool   `json:"closing"`
	Payer             string `json:"payer"`
}

// ExecResult reports the outcome of an executed transaction.
type ExecResult struct {
	Digest  string `json:"digest"`
	Success bool   `json:"success"`
}

// Client reads and executes against the chain. BuildClaim and BuildClose
// produce the raw transaction bytes the sponsor expects; Execute submits a
// sponsored transaction with its signatures exactly once.
type Client interface {
	ReadTunnel(ctx context.Context, id domain.TunnelID) (*TunnelState, error)
	BuildClaim(id domain.TunnelID, cumulativeAmount uint64, signature []byte) ([]byte, error)
	BuildClose(id domain.TunnelID) ([]byte, error)
	Execute(ctx context.Context, preparedTx []byte, signatures []string) (*ExecResult, error)
}

// SponsoredTx is a relay response: the final transaction bytes plus the
// sponsor's counter-signature over them.
type SponsoredTx struct {
	PreparedTx       []byte
	CounterSignature string
}

// Sponsor is the gas-sponsorship relay that prepares and co-signs a raw
// transaction so the operator does not pay fees directly.
type Sponsor interface {
	Sponsor(ctx context.Context, rawTx []byte, sender string) (*SponsoredTx, error)
}
