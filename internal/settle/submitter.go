// Package settle pushes the latest voucher on-chain and reconciles the
// ledger once the claim confirms.
package settle

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/punchamoorthee/tunnelpay/internal/apikey"
	"github.com/punchamoorthee/tunnelpay/internal/chain"
	"github.com/punchamoorthee/tunnelpay/internal/domain"
	"github.com/punchamoorthee/tunnelpay/internal/ledger"
)

var (
	// ErrRelayFailed means the sponsorship relay failed through all retries.
	// Local state is untouched; the tunnel stays eligible for a later settle.
	ErrRelayFailed = errors.New("gas sponsorship failed")
	// ErrExecutionFailed means the chain reported a failed execution. Not
	// retried automatically: a failed on-chain transition needs a freshly
	// derived transaction.
	ErrExecutionFailed = errors.New("on-chain execution failed")
)

// defaultRetryDelays is the backoff schedule for the sponsorship step, which
// is treated as flaky infrastructure. Execution is attempted once per
// successful relay response.
var defaultRetryDelays = []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second, 5 * time.Second}

// Result reports a confirmed settlement.
type Result struct {
	TunnelID domain.TunnelID `json:"tunnel_id"`
	Digest   string          `json:"digest"`
	Claimed  uint64          `json:"claimed_amount"`
}

// Submitter submits vouchers through the sponsorship relay and serializes
// its own submissions per tunnel, since the chain allows one in-flight
// transaction per sender-object pair.
type Submitter struct {
	store   ledger.Store
	client  chain.Client
	sponsor chain.Sponsor
	signer  *apikey.Signer
	logger  *slog.Logger
	delays  []time.Duration

	locks sync.Map // domain.TunnelID -> *sync.Mutex
}

func NewSubmitter(store ledger.Store, client chain.Client, sponsor chain.Sponsor, signer *apikey.Signer, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		store:   store,
		client:  client,
		sponsor: sponsor,
		signer:  signer,
		logger:  logger,
		delays:  defaultRetryDelays,
	}
}

func (s *Submitter) lock(id domain.TunnelID) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Settle submits the tunnel's latest voucher and, on confirmation, folds the
// settled value from pending into claimed. A failed settlement leaves the
// ledger untouched.
func (s *Submitter) Settle(ctx context.Context, id domain.TunnelID) (*Result, error) {
	defer s.lock(id)()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.PendingAmount == 0 || len(t.LatestSignature) == 0 {
		return nil, domain.ErrNothingToSettle
	}
	if t.Status == domain.StatusClosed {
		return nil, domain.ErrTunnelNotActive
	}

	// Snapshot the cumulative the voucher covers. Charges that land while
	// the claim is in flight stay pending after reconciliation.
	cumulative := t.Cumulative()

	raw, err := s.client.BuildClaim(id, cumulative, t.LatestSignature)
	if err != nil {
		return nil, err
	}
	result, err := s.execute(ctx, raw)
	if err != nil {
		return nil, err
	}

	settled, err := s.store.Reconcile(ctx, id, cumulative)
	if err != nil {
		// The claim confirmed on-chain but the mirror could not be updated;
		// surface loudly so the operator reconciles by hand.
		s.logger.Error("settled on-chain but reconcile failed",
			"tunnel", id.String(), "digest", result.Digest, "err", err)
		return nil, fmt.Errorf("reconcile after claim %s: %w", result.Digest, err)
	}

	s.logger.Info("settlement confirmed",
		"tunnel", id.String(),
		"digest", result.Digest,
		"claimed", settled.ClaimedAmount,
		"pending", settled.PendingAmount,
	)
	return &Result{TunnelID: id, Digest: result.Digest, Claimed: settled.ClaimedAmount}, nil
}

// Close initiates the close flow: the tunnel stops accepting charges
// immediately (CLOSING), then the on-chain close-with-receipt runs and the
// tunnel becomes CLOSED on confirmation. A failed chain call leaves the
// tunnel CLOSING; Close may be called again.
func (s *Submitter) Close(ctx context.Context, id domain.TunnelID) (*Result, error) {
	defer s.lock(id)()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch t.Status {
	case domain.StatusClosed:
		return nil, domain.ErrInvalidTransition
	case domain.StatusActive:
		if err := s.store.TransitionStatus(ctx, id, domain.StatusClosing); err != nil {
			return nil, err
		}
	}

	// Pending value that was never claimed is forfeited by close-with-receipt;
	// the escrow refunds it to the payer. Make the loss visible.
	if t.PendingAmount > 0 {
		s.logger.Warn("closing tunnel with unsettled pending amount",
			"tunnel", id.String(), "pending", t.PendingAmount)
	}

	raw, err := s.client.BuildClose(id)
	if err != nil {
		return nil, err
	}
	result, err := s.execute(ctx, raw)
	if err != nil {
		return nil, err
	}

	if err := s.store.TransitionStatus(ctx, id, domain.StatusClosed); err != nil {
		return nil, err
	}
	s.logger.Info("tunnel closed", "tunnel", id.String(), "digest", result.Digest)
	return &Result{TunnelID: id, Digest: result.Digest, Claimed: t.ClaimedAmount}, nil
}

// execute sponsors a raw transaction with bounded retries, co-signs the
// prepared bytes as the operator, and runs the final execution exactly once.
func (s *Submitter) execute(ctx context.Context, rawTx []byte) (*chain.ExecResult, error) {
	sponsored, err := s.sponsorWithRetry(ctx, rawTx)
	if err != nil {
		return nil, err
	}

	operatorSig := base64.StdEncoding.EncodeToString(s.signer.Sign(sponsored.PreparedTx))
	result, err := s.client.Execute(ctx, sponsored.PreparedTx, []string{operatorSig, sponsored.CounterSignature})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	if !result.Success {
		return nil, fmt.Errorf("%w: digest %s", ErrExecutionFailed, result.Digest)
	}
	return result, nil
}

func (s *Submitter) sponsorWithRetry(ctx context.Context, rawTx []byte) (*chain.SponsoredTx, error) {
	var lastErr error
	for attempt, delay := range s.delays {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		sponsored, err := s.sponsor.Sponsor(ctx, rawTx, s.signer.Address())
		if err == nil {
			return sponsored, nil
		}
		lastErr = err
		s.logger.Warn("sponsor attempt failed",
			"attempt", attempt+1, "of", len(s.delays), "err", err)
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRelayFailed, len(s.delays), lastErr)
}
