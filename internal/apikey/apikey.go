// Package apikey encodes and decodes the bearer credentials that carry a
// payer's Ed25519 signing key.
//
// A credential is a bech32 string whose payload is a one-byte key scheme tag
// followed by the 32-byte private seed. Two prefixes are accepted:
// "mateapikey" (platform-issued) and "suiprivkey" (operator/wallet-issued).
// Platform credentials are a prefix-swapped alias of the wallet format: the
// bech32 checksum is always computed over the "suiprivkey" human-readable
// part, so either prefix decodes through the same path. This shim keeps
// wallet-exported keys usable as API keys and must not be removed.
package apikey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/blake2b"
)

const (
	// PrefixPlatform is the namespace for credentials issued by this service.
	PrefixPlatform = "mateapikey"
	// PrefixWallet is the wallet-export namespace credentials alias to.
	PrefixWallet = "suiprivkey"

	// schemeEd25519 is the only supported key scheme tag.
	schemeEd25519 = 0x00

	seedLen = 32
)

var (
	ErrInvalidFormat     = errors.New("invalid api key format")
	ErrUnsupportedScheme = errors.New("only ed25519 keys are supported")
	ErrInvalidLength     = errors.New("invalid private key length")
)

// Generate creates a fresh credential under the platform prefix and returns
// it together with the derived public key. The credential is the only copy of
// the seed; it is never stored server-side.
func Generate() (credential string, pub ed25519.PublicKey, err error) {
	seed := make([]byte, seedLen)
	if _, err = rand.Read(seed); err != nil {
		return "", nil, fmt.Errorf("generate seed: %w", err)
	}
	credential, err = encode(seed)
	if err != nil {
		return "", nil, err
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return credential, priv.Public().(ed25519.PublicKey), nil
}

func encode(seed []byte) (string, error) {
	payload := append([]byte{schemeEd25519}, seed...)
	words, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("encode api key: %w", err)
	}
	// Checksum over the wallet prefix, then swap to the platform namespace.
	encoded, err := bech32.Encode(PrefixWallet, words)
	if err != nil {
		return "", fmt.Errorf("encode api key: %w", err)
	}
	return PrefixPlatform + strings.TrimPrefix(encoded, PrefixWallet), nil
}

// Decode parses a credential under either accepted prefix and derives the
// keypair from the embedded seed.
func Decode(credential string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	toParse := credential
	if strings.HasPrefix(credential, PrefixPlatform) {
		toParse = PrefixWallet + strings.TrimPrefix(credential, PrefixPlatform)
	}
	if !strings.HasPrefix(toParse, PrefixWallet) {
		return nil, nil, ErrInvalidFormat
	}

	hrp, words, err := bech32.Decode(toParse)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if hrp != PrefixWallet {
		return nil, nil, ErrInvalidFormat
	}
	payload, err := bech32.ConvertBits(words, 5, 8, false)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if len(payload) == 0 {
		return nil, nil, ErrInvalidFormat
	}
	if payload[0] != schemeEd25519 {
		return nil, nil, ErrUnsupportedScheme
	}
	seed := payload[1:]
	if len(seed) != seedLen {
		return nil, nil, ErrInvalidLength
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return priv, priv.Public().(ed25519.PublicKey), nil
}

// Hint returns the last 6 characters of a credential for display. Purely
// cosmetic; carries no security property.
func Hint(credential string) string {
	if len(credential) <= 6 {
		return credential
	}
	return credential[len(credential)-6:]
}

// Sign produces a detached Ed25519 signature over message with the key
// embedded in the credential. Deterministic and side-effect free.
func Sign(credential string, message []byte) ([]byte, error) {
	priv, _, err := Decode(credential)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(priv, message), nil
}

// Verify reports whether sig is a valid detached signature over message.
func Verify(pub ed25519.PublicKey, message, sig []byte) bool {
	return len(pub) == ed25519.PublicKeySize && ed25519.Verify(pub, message, sig)
}

// Address derives the on-chain address for an Ed25519 public key: the
// blake2b-256 digest of the scheme tag followed by the key bytes.
func Address(pub ed25519.PublicKey) string {
	digest := blake2b.Sum256(append([]byte{schemeEd25519}, pub...))
	return "0x" + hex.EncodeToString(digest[:])
}
