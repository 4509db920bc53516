package apikey

import (
	"crypto/ed25519"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRoundTrip(t *testing.T) {
	credential, pub, err := Generate()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(credential, PrefixPlatform))
	require.Len(t, pub, ed25519.PublicKeySize)

	priv, gotPub, err := Decode(credential)
	require.NoError(t, err)
	require.Equal(t, pub, gotPub)
	require.Equal(t, pub, priv.Public().(ed25519.PublicKey))
}

func TestDecodeAcceptsWalletPrefix(t *testing.T) {
	credential, pub, err := Generate()
	require.NoError(t, err)

	// A platform credential is the wallet encoding with the prefix swapped;
	// both must decode to the same keypair.
	walletForm := PrefixWallet + strings.TrimPrefix(credential, PrefixPlatform)
	_, gotPub, err := Decode(walletForm)
	require.NoError(t, err)
	require.Equal(t, pub, gotPub)
}

func TestDecodeRejectsUnknownPrefix(t *testing.T) {
	_, _, err := Decode("bogusprefix1qqqqqq")
	require.ErrorIs(t, err, ErrInvalidFormat)

	_, _, err = Decode("")
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestDecodeRejectsCorruptedChecksum(t *testing.T) {
	credential, _, err := Generate()
	require.NoError(t, err)

	last := credential[len(credential)-1]
	flip := byte('q')
	if last == 'q' {
		flip = 'p'
	}
	_, _, err = Decode(credential[:len(credential)-1] + string(flip))
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func encodePayload(t *testing.T, payload []byte) string {
	t.Helper()
	words, err := bech32.ConvertBits(payload, 8, 5, true)
	require.NoError(t, err)
	encoded, err := bech32.Encode(PrefixWallet, words)
	require.NoError(t, err)
	return encoded
}

func TestDecodeRejectsUnsupportedScheme(t *testing.T) {
	payload := append([]byte{0x01}, make([]byte, 32)...)
	_, _, err := Decode(encodePayload(t, payload))
	require.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestDecodeRejectsBadSeedLength(t *testing.T) {
	payload := append([]byte{0x00}, make([]byte, 31)...)
	_, _, err := Decode(encodePayload(t, payload))
	require.ErrorIs(t, err, ErrInvalidLength)
}

func TestHint(t *testing.T) {
	credential, _, err := Generate()
	require.NoError(t, err)

	hint := Hint(credential)
	assert.Len(t, hint, 6)
	assert.True(t, strings.HasSuffix(credential, hint))
	assert.Equal(t, "abc", Hint("abc"))
}

func TestSignAndVerify(t *testing.T) {
	credential, pub, err := Generate()
	require.NoError(t, err)

	msg := []byte("metered api call")
	sig, err := Sign(credential, msg)
	require.NoError(t, err)
	require.Len(t, sig, ed25519.SignatureSize)

	assert.True(t, Verify(pub, msg, sig))
	assert.False(t, Verify(pub, []byte("other message"), sig))

	// Deterministic: signing twice yields identical bytes.
	again, err := Sign(credential, msg)
	require.NoError(t, err)
	assert.Equal(t, sig, again)
}

func TestSignerMatchesPackageSign(t *testing.T) {
	credential, pub, err := Generate()
	require.NoError(t, err)

	signer, err := NewSigner(credential)
	require.NoError(t, err)
	require.Equal(t, pub, signer.PublicKey())

	msg := []byte("voucher bytes")
	direct, err := Sign(credential, msg)
	require.NoError(t, err)
	assert.Equal(t, direct, signer.Sign(msg))
	assert.Equal(t, Hint(credential), signer.Hint())
}

func TestAddress(t *testing.T) {
	_, pub, err := Generate()
	require.NoError(t, err)

	addr := Address(pub)
	assert.True(t, strings.HasPrefix(addr, "0x"))
	assert.Len(t, addr, 2+64)
	assert.Equal(t, addr, Address(pub))
}
