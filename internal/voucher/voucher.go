// Package voucher builds and parses the claim message the on-chain contract
// verifies. The layout is fixed at 48 bytes: a 32-byte tunnel object id,
// the cumulative amount as unsigned 64-bit little-endian, then the nonce as
// unsigned 64-bit little-endian. Any change here breaks signature
// verification on-chain.
package voucher

import (
	"encoding/binary"
	"fmt"

	"github.com/punchamoorthee/tunnelpay/internal/domain"
)

// MessageLen is the exact size of a claim message.
const MessageLen = domain.TunnelIDLen + 8 + 8

// Message serializes (tunnelID, cumulativeAmount, nonce) into the claim
// message bytes. The id must be exactly 32 bytes.
func Message(tunnelID []byte, cumulativeAmount, nonce uint64) ([]byte, error) {
	if len(tunnelID) != domain.TunnelIDLen {
		return nil, fmt.Errorf("%w: got %d bytes", domain.ErrInvalidTunnelID, len(tunnelID))
	}
	msg := make([]byte, MessageLen)
	copy(msg, tunnelID)
	binary.LittleEndian.PutUint64(msg[32:40], cumulativeAmount)
	binary.LittleEndian.PutUint64(msg[40:48], nonce)
	return msg, nil
}

// Parse is the inverse of Message.
func Parse(msg []byte) (tunnelID domain.TunnelID, cumulativeAmount, nonce uint64, err error) {
	if len(msg) != MessageLen {
		err = fmt.Errorf("claim message must be %d bytes, got %d", MessageLen, len(msg))
		return
	}
	copy(tunnelID[:], msg[:32])
	cumulativeAmount = binary.LittleEndian.Uint64(msg[32:40])
	nonce = binary.LittleEndian.Uint64(msg[40:48])
	return
}
