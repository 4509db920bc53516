package domain

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// TunnelIDLen is the width of an on-chain tunnel object identifier.
const TunnelIDLen = 32

// TunnelID is the identifier of the on-chain escrow object a tunnel mirrors.
type TunnelID [TunnelIDLen]byte

// ParseTunnelID parses a hex object id, with or without the 0x prefix.
func ParseTunnelID(s string) (TunnelID, error) {
	var id TunnelID
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidTunnelID, err)
	}
	if len(raw) != TunnelIDLen {
		return id, fmt.Errorf("%w: got %d bytes", ErrInvalidTunnelID, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func (id TunnelID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

func (id TunnelID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *TunnelID) UnmarshalText(b []byte) error {
	parsed, err := ParseTunnelID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Status is the lifecycle state of a tunnel.
// Transitions: ACTIVE -> CLOSING -> CLOSED, or ACTIVE -> CLOSED directly
// (operator settle-and-close). CLOSED is terminal.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusClosing Status = "CLOSING"
	StatusClosed  Status = "CLOSED"
)

// CanTransition reports whether the state machine permits moving to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusActive:
		return next == StatusClosing || next == StatusClosed
	case StatusClosing:
		return next == StatusClosed
	default:
		return false
	}
}

// Tunnel is the off-chain mirror of an on-chain escrow object.
//
// The cumulative amount authorized for claim is ClaimedAmount + PendingAmount;
// LatestSignature always covers the voucher for exactly that cumulative value
// and the current Nonce. The two are only ever updated together.
type Tunnel struct {
	ID              TunnelID          `json:"tunnel_id"`
	Owner           string            `json:"owner"`
	PayerPublicKey  ed25519.PublicKey `json:"payer_public_key"`
	TotalDeposited  uint64            `json:"total_deposited"`
	ClaimedAmount   uint64            `json:"claimed_amount"`
	PendingAmount   uint64            `json:"pending_amount"`
	Nonce           uint64            `json:"nonce"`
	LatestSignature []byte            `json:"latest_signature,omitempty"`
	Status          Status            `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Available returns the balance still spendable on the tunnel.
func (t *Tunnel) Available() uint64 {
	return t.TotalDeposited - t.ClaimedAmount - t.PendingAmount
}

// Cumulative returns the total value ever authorized for claim.
func (t *Tunnel) Cumulative() uint64 {
	return t.ClaimedAmount + t.PendingAmount
}

// Clone returns a deep copy safe to hand outside a store's locking scope.
func (t *Tunnel) Clone() *Tunnel {
	c := *t
	c.PayerPublicKey = append(ed25519.PublicKey(nil), t.PayerPublicKey...)
	c.LatestSignature = append([]byte(nil), t.LatestSignature...)
	return &c
}
