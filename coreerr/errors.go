// Package coreerr defines the sentinel error kinds shared across the
// blockchain engine, the UTXO index, and the peer-to-peer node, so callers
// can branch with errors.Is instead of string-matching.
package coreerr

import "errors"

var (
	// ErrInsufficientFunds is returned by transaction construction when the
	// sender's spendable UTXOs do not cover the requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrMissingPrevTx is returned when a transaction input references a
	// transaction id that cannot be found on the chain.
	ErrMissingPrevTx = errors.New("referenced previous transaction not found")
	// ErrMalformedInput is returned for structurally invalid addresses or
	// public keys encountered while building or verifying a transaction. A
	// signature of the wrong length is not an error: verification simply
	// reports false.
	ErrMalformedInput = errors.New("malformed input")
	// ErrNoChain is returned by Open when no chain exists and no genesis
	// address was supplied to create one.
	ErrNoChain = errors.New("no blockchain exists yet")
	// ErrInvalidTransaction is returned when mining a block whose
	// transactions fail verification.
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrPeerUnreachable marks a peer that could not be dialed.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrProtocol marks a malformed or unrecognized wire message.
	ErrProtocol = errors.New("protocol error")
)
