package apikey

import "crypto/ed25519"

// Signer holds a decoded credential so hot paths don't re-parse bech32 on
// every signature.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	hint string
}

// NewSigner decodes the credential once and returns a reusable signer.
// Safe for concurrent use.
func NewSigner(credential string) (*Signer, error) {
	priv, pub, err := Decode(credential)
	if err != nil {
		return nil, err
	}
	return &Signer{priv: priv, pub: pub, hint: Hint(credential)}, nil
}

// Sign produces a detached Ed25519 signature over message.
func (s *Signer) Sign(message []byte) []byte {
	return ed25519.Sign(s.priv, message)
}

// PublicKey returns the signer's public key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.pub
}

// Address returns the signer's derived on-chain address.
func (s *Signer) Address() string {
	return Address(s.pub)
}

// Hint returns the display hint of the underlying credential.
func (s *Signer) Hint() string {
	return s.hint
}
