package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petiidev/goblockchain/core"
	"github.com/petiidev/goblockchain/wallet"
)

func testAddress(t *testing.T) string {
	t.Helper()
	return wallet.New().Address()
}

func TestNewBlockProducesValidProofOfWork(t *testing.T) {
	coinbase, err := core.NewCoinbaseTx(testAddress(t), "")
	require.NoError(t, err)

	block, err := core.NewBlock([]*core.Transaction{coinbase}, core.ZeroHash, 1, 1700000000)
	require.NoError(t, err)

	pow := core.NewProofOfWork(block)
	assert.True(t, pow.Validate())
}

func TestValidateRejectsTamperedNonce(t *testing.T) {
	coinbase, err := core.NewCoinbaseTx(testAddress(t), "")
	require.NoError(t, err)

	block, err := core.NewBlock([]*core.Transaction{coinbase}, core.ZeroHash, 1, 1700000000)
	require.NoError(t, err)

	block.Nonce++
	pow := core.NewProofOfWork(block)
	assert.False(t, pow.Validate())
}

func TestValidateRejectsTamperedHash(t *testing.T) {
	coinbase, err := core.NewCoinbaseTx(testAddress(t), "")
	require.NoError(t, err)

	block, err := core.NewBlock([]*core.Transaction{coinbase}, core.ZeroHash, 1, 1700000000)
	require.NoError(t, err)

	block.Hash[0] ^= 0xFF
	pow := core.NewProofOfWork(block)
	assert.False(t, pow.Validate())
}
