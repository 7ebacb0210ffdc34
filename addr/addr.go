// Package addr implements Bitcoin-style address derivation: a public key is
// hashed down to a 20-byte public-key-hash, version-tagged, checksummed and
// base58-encoded into a human-readable address.
package addr

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160"
)

const (
	// Version is the address version byte (0x00, as on Bitcoin mainnet).
	Version = byte(0x00)
	// ChecksumLen is the number of checksum bytes appended to an address payload.
	ChecksumLen = 4
)

// PKH returns the public-key-hash RIPEMD160(SHA256(pub)).
func PKH(pub []byte) []byte {
	sha := sha256.Sum256(pub)
	hasher := ripemd160.New()
	// ripemd160.Write never returns an error.
	_, _ = hasher.Write(sha[:])
	return hasher.Sum(nil)
}

// Checksum returns the first ChecksumLen bytes of SHA256(SHA256(payload)).
func Checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:ChecksumLen]
}

// Address derives the base58check address for a public key.
func Address(pub []byte) string {
	pkh := PKH(pub)
	versioned := append([]byte{Version}, pkh...)
	full := append(versioned, Checksum(versioned)...)
	return base58.Encode(full)
}

// PKHFromAddress decodes an address back to its 20-byte public-key-hash.
// It does not validate the checksum; use ValidateAddress for that.
func PKHFromAddress(address string) ([]byte, error) {
	full, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("addr: decode %q: %w", address, err)
	}
	if len(full) <= 1+ChecksumLen {
		return nil, fmt.Errorf("addr: %q decodes too short (%d bytes)", address, len(full))
	}
	return full[1 : len(full)-ChecksumLen], nil
}

// ValidateAddress reports whether address is a well-formed, checksum-valid
// base58check address.
func ValidateAddress(address string) bool {
	full, err := base58.Decode(address)
	if err != nil {
		return false
	}
	if len(full) <= 1+ChecksumLen {
		return false
	}
	payload := full[:len(full)-ChecksumLen]
	wantChecksum := full[len(full)-ChecksumLen:]
	return bytes.Equal(wantChecksum, Checksum(payload))
}
