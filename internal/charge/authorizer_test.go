package charge

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/tunnelpay/internal/apikey"
	"github.com/punchamoorthee/tunnelpay/internal/domain"
	"github.com/punchamoorthee/tunnelpay/internal/ledger"
	"github.com/punchamoorthee/tunnelpay/internal/voucher"
)

func setup(t *testing.T, deposit uint64) (*Authorizer, ledger.Store, domain.TunnelID, *apikey.Signer) {
	t.Helper()

	credential, _, err := apikey.Generate()
	require.NoError(t, err)
	operator, err := apikey.NewSigner(credential)
	require.NoError(t, err)

	_, payerPub, err := apikey.Generate()
	require.NoError(t, err)

	store := ledger.NewMemoryStore()
	var id domain.TunnelID
	_, err = rand.Read(id[:])
	require.NoError(t, err)
	_, err = store.Create(context.Background(), id, "user-1", payerPub, deposit)
	require.NoError(t, err)

	return NewAuthorizer(store, operator, nil), store, id, operator
}

func TestSequentialCharges(t *testing.T) {
	a, store, id, operator := setup(t, 10_000_000)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		receipt, err := a.Authorize(ctx, id, 100_000)
		require.NoError(t, err)
		assert.Equal(t, uint64(i)*100_000, receipt.Cumulative)
		assert.Equal(t, uint64(i), receipt.Nonce)

		// The recorded signature always verifies against the operator key
		// for the current voucher message.
		msg, err := voucher.Message(id[:], receipt.Cumulative, receipt.Nonce)
		require.NoError(t, err)
		assert.True(t, apikey.Verify(operator.PublicKey(), msg, receipt.Signature))
	}

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(300_000), got.PendingAmount)
	assert.Equal(t, uint64(3), got.Nonce)
	assert.Equal(t, uint64(9_700_000), got.Available())

	// Fourth charge over the remaining balance fails with both amounts.
	_, err = a.Authorize(ctx, id, 9_800_000)
	var insufficient *domain.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, uint64(9_700_000), insufficient.Available)
	assert.Equal(t, uint64(9_800_000), insufficient.Required)

	got, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Nonce)
	assert.Equal(t, uint64(300_000), got.PendingAmount)
}

func TestRejectionIsIdempotent(t *testing.T) {
	a, store, id, _ := setup(t, 50)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := a.Authorize(ctx, id, 100)
		var insufficient *domain.InsufficientBalanceError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, uint64(50), insufficient.Available)
		assert.Equal(t, uint64(100), insufficient.Required)
	}

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got.Nonce)
	assert.Equal(t, uint64(0), got.PendingAmount)
	assert.Nil(t, got.LatestSignature)
}

func TestChargeRejectedWhenNotActive(t *testing.T) {
	a, store, id, _ := setup(t, 1000)
	ctx := context.Background()

	require.NoError(t, store.TransitionStatus(ctx, id, domain.StatusClosing))
	_, err := a.Authorize(ctx, id, 100)
	require.ErrorIs(t, err, domain.ErrTunnelNotActive)

	require.NoError(t, store.TransitionStatus(ctx, id, domain.StatusClosed))
	_, err = a.Authorize(ctx, id, 100)
	require.ErrorIs(t, err, domain.ErrTunnelNotActive)
}

func TestUnknownTunnel(t *testing.T) {
	a, _, _, _ := setup(t, 1000)
	var other domain.TunnelID
	_, err := rand.Read(other[:])
	require.NoError(t, err)

	_, err = a.Authorize(context.Background(), other, 100)
	require.ErrorIs(t, err, domain.ErrTunnelNotFound)
}

func TestConcurrentChargesGetDistinctNonces(t *testing.T) {
	a, store, id, _ := setup(t, 10_000_000)
	ctx := context.Background()

	var wg sync.WaitGroup
	receipts := make([]*Receipt, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			defer wg.Done()
			r, err := a.Authorize(ctx, id, 100_000)
			if err != nil {
				t.Error(err)
				return
			}
			receipts[i] = r
		}(i)
	}
	wg.Wait()

	require.NotNil(t, receipts[0])
	require.NotNil(t, receipts[1])
	nonces := map[uint64]bool{receipts[0].Nonce: true, receipts[1].Nonce: true}
	assert.Equal(t, map[uint64]bool{1: true, 2: true}, nonces)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(200_000), got.PendingAmount)
	assert.Equal(t, uint64(2), got.Nonce)
}

func TestBalanceInvariantUnderLoad(t *testing.T) {
	a, store, id, operator := setup(t, 1_000_000)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			// 100k each: only 10 of 20 can fit in the deposit.
			for {
				_, err := a.Authorize(ctx, id, 100_000)
				if errors.Is(err, ErrContention) {
					continue
				}
				if err != nil {
					var insufficient *domain.InsufficientBalanceError
					if !errors.As(err, &insufficient) {
						t.Error(err)
					}
				}
				return
			}
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.LessOrEqual(t, got.Cumulative(), got.TotalDeposited)
	assert.Equal(t, uint64(1_000_000), got.PendingAmount)
	assert.Equal(t, uint64(10), got.Nonce)

	msg, err := voucher.Message(id[:], got.Cumulative(), got.Nonce)
	require.NoError(t, err)
	assert.True(t, apikey.Verify(operator.PublicKey(), msg, got.LatestSignature))
}
