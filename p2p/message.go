// Package p2p implements the node-to-node gossip protocol: a tagged-union
// message set framed over TCP, and the server loop that dispatches them
// against the shared blockchain and UTXO state.
package p2p

import (
	"encoding/gob"

	"github.com/petiidev/goblockchain/core"
)

// ProtocolVersion is sent in every Version handshake.
const ProtocolVersion = 1

// ItemKind distinguishes what an Inv or GetData message refers to.
type ItemKind string

const (
	KindBlock ItemKind = "block"
	KindTx    ItemKind = "tx"
)

// Message is the wire tagged union. Each variant is its own Go type; the
// discriminator is the concrete type registered with gob, not an ASCII
// command string.
type Message interface {
	isMessage()
}

// VersionMsg is exchanged on startup to compare chain heights.
type VersionMsg struct {
	AddrFrom   string
	Version    int32
	BestHeight int32
}

// GetBlocksMsg requests the peer's full block-hash list.
type GetBlocksMsg struct {
	AddrFrom string
}

// InvMsg announces items (blocks or transactions) the sender has.
type InvMsg struct {
	AddrFrom string
	Kind     ItemKind
	Items    []core.Hash
}

// GetDataMsg requests a single item by id.
type GetDataMsg struct {
	AddrFrom string
	Kind     ItemKind
	ID       core.Hash
}

// BlockMsg delivers a full block.
type BlockMsg struct {
	AddrFrom string
	Block    *core.Block
}

// TxMsg delivers a full transaction.
type TxMsg struct {
	AddrFrom    string
	Transaction *core.Transaction
}

// AddrMsg shares known peer addresses.
type AddrMsg struct {
	Nodes []string
}

func (VersionMsg) isMessage()   {}
func (GetBlocksMsg) isMessage() {}
func (InvMsg) isMessage()       {}
func (GetDataMsg) isMessage()   {}
func (BlockMsg) isMessage()     {}
func (TxMsg) isMessage()        {}
func (AddrMsg) isMessage()      {}

func init() {
	gob.Register(VersionMsg{})
	gob.Register(GetBlocksMsg{})
	gob.Register(InvMsg{})
	gob.Register(GetDataMsg{})
	gob.Register(BlockMsg{})
	gob.Register(TxMsg{})
	gob.Register(AddrMsg{})
}
