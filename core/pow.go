package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"math/big"
)

// TargetBits sets the mining difficulty: a valid block hash, read as a
// big-endian integer, must be smaller than 2^(256-TargetBits).
const TargetBits = 16

const maxNonce = math.MaxUint32

// errNonceSpaceExhausted is returned by Run on the practically-impossible
// event that no nonce in the uint32 range satisfies the target.
var errNonceSpaceExhausted = errors.New("core: exhausted nonce space without finding a valid proof of work")

// ProofOfWork mines and validates a single block's header.
type ProofOfWork struct {
	block  *Block
	target *big.Int
}

// NewProofOfWork builds the miner for b.
func NewProofOfWork(b *Block) *ProofOfWork {
	target := big.NewInt(1)
	target.Lsh(target, uint(256-TargetBits))
	return &ProofOfWork{block: b, target: target}
}

// initData assembles the header bytes hashed for a given nonce.
func (pow *ProofOfWork) initData(nonce uint32) []byte {
	var buf bytes.Buffer
	buf.Write(pow.block.PrevHash[:])
	txHash := pow.block.HashTransactions()
	buf.Write(txHash[:])
	_ = binary.Write(&buf, binary.BigEndian, pow.block.Timestamp)
	_ = binary.Write(&buf, binary.BigEndian, pow.block.Height)
	_ = binary.Write(&buf, binary.BigEndian, int64(TargetBits))
	_ = binary.Write(&buf, binary.BigEndian, nonce)
	return buf.Bytes()
}

// Run searches for a nonce whose double-SHA256 header hash is below the
// target, returning the winning nonce and hash.
func (pow *ProofOfWork) Run() (uint32, Hash, error) {
	var hash Hash
	var nonce uint32

	for nonce = 0; nonce < maxNonce; nonce++ {
		data := pow.initData(nonce)
		hash = doubleSHA256(data)

		var intHash big.Int
		intHash.SetBytes(hash[:])
		if intHash.Cmp(pow.target) == -1 {
			return nonce, hash, nil
		}
	}
	return 0, Hash{}, errNonceSpaceExhausted
}

// Validate reports whether the block's stored Nonce and Hash are a correct
// proof of work for its contents.
func (pow *ProofOfWork) Validate() bool {
	data := pow.initData(pow.block.Nonce)
	hash := doubleSHA256(data)
	if hash != pow.block.Hash {
		return false
	}

	var intHash big.Int
	intHash.SetBytes(hash[:])
	return intHash.Cmp(pow.target) == -1
}
