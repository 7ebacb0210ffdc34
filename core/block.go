package core

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Block is a batch of transactions linked to its predecessor by hash.
type Block struct {
	Timestamp    int64
	Transactions []*Transaction
	PrevHash     Hash
	Hash         Hash
	Nonce        uint32
	Height       int32
}

// NewBlock mines a block at height over txs, chained to prevHash.
func NewBlock(txs []*Transaction, prevHash Hash, height int32, now int64) (*Block, error) {
	b := &Block{
		Timestamp:    now,
		Transactions: txs,
		PrevHash:     prevHash,
		Height:       height,
	}

	pow := NewProofOfWork(b)
	nonce, hash, err := pow.Run()
	if err != nil {
		return nil, fmt.Errorf("core: mine block at height %d: %w", height, err)
	}
	b.Nonce = nonce
	b.Hash = hash
	return b, nil
}

// Genesis builds height-0 block whose single transaction is coinbase.
func Genesis(coinbase *Transaction, now int64) (*Block, error) {
	return NewBlock([]*Transaction{coinbase}, ZeroHash, 0, now)
}

// HashTransactions digests the block's transaction set: the concatenation
// of every transaction id, single SHA-256'd. There is no Merkle tree.
func (b *Block) HashTransactions() Hash {
	var buf bytes.Buffer
	for _, tx := range b.Transactions {
		buf.WriteString(tx.ID)
	}
	return sha256Sum(buf.Bytes())
}

// Serialize gob-encodes the block.
func (b *Block) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, fmt.Errorf("core: serialize block: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeBlock decodes a block previously produced by Serialize.
func DeserializeBlock(data []byte) (*Block, error) {
	var b Block
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return nil, fmt.Errorf("core: deserialize block: %w", err)
	}
	return &b, nil
}
