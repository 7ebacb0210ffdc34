package core_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petiidev/goblockchain/core"
	"github.com/petiidev/goblockchain/wallet"
)

func openTestChain(t *testing.T, address string) *core.Blockchain {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "chain")
	chain, err := core.Open(dir, address)
	require.NoError(t, err)
	t.Cleanup(func() { chain.Close() })
	return chain
}

func TestOpenWithoutGenesisAddressFailsOnEmptyNamespace(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chain")
	_, err := core.Open(dir, "")
	assert.Error(t, err)
}

func TestOpenCreatesGenesisAtHeightZero(t *testing.T) {
	address := wallet.New().Address()
	chain := openTestChain(t, address)

	height, err := chain.GetBestHeight()
	require.NoError(t, err)
	assert.Equal(t, int32(0), height)

	tip, err := chain.GetBlock(chain.Tip())
	require.NoError(t, err)
	assert.True(t, tip.PrevHash.IsZero())
	assert.Len(t, tip.Transactions, 1)
	assert.True(t, tip.Transactions[0].IsCoinbase())
}

func TestMineBlockAdvancesTipAndHeight(t *testing.T) {
	address := wallet.New().Address()
	chain := openTestChain(t, address)

	coinbase, err := core.NewCoinbaseTx(address, "round two")
	require.NoError(t, err)

	block, err := chain.MineBlock([]*core.Transaction{coinbase}, 1700000001)
	require.NoError(t, err)
	assert.Equal(t, int32(1), block.Height)

	height, err := chain.GetBestHeight()
	require.NoError(t, err)
	assert.Equal(t, int32(1), height)
	assert.Equal(t, block.Hash, chain.Tip())
}

func TestAddBlockStoresEqualHeightBlockWithoutMovingTip(t *testing.T) {
	address := wallet.New().Address()
	chain := openTestChain(t, address)

	genesis, err := chain.GetBlock(chain.Tip())
	require.NoError(t, err)

	coinbase, err := core.NewCoinbaseTx(address, "competing block")
	require.NoError(t, err)
	stale, err := core.NewBlock([]*core.Transaction{coinbase}, genesis.Hash, 0, 1700000002)
	require.NoError(t, err)

	require.NoError(t, chain.AddBlock(stale))
	assert.Equal(t, genesis.Hash, chain.Tip())

	stored, err := chain.GetBlock(stale.Hash)
	require.NoError(t, err)
	assert.Equal(t, stale.Hash, stored.Hash)
}

func TestFindTransactionWalksChain(t *testing.T) {
	address := wallet.New().Address()
	chain := openTestChain(t, address)

	genesis, err := chain.GetBlock(chain.Tip())
	require.NoError(t, err)

	found, err := chain.FindTransaction(genesis.Transactions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, genesis.Transactions[0].ID, found.ID)

	_, err = chain.FindTransaction("does-not-exist")
	assert.Error(t, err)
}

func TestGetBlockHashesOrderedTipToGenesis(t *testing.T) {
	address := wallet.New().Address()
	chain := openTestChain(t, address)

	coinbase, err := core.NewCoinbaseTx(address, "second block")
	require.NoError(t, err)
	block, err := chain.MineBlock([]*core.Transaction{coinbase}, 1700000003)
	require.NoError(t, err)

	hashes, err := chain.GetBlockHashes()
	require.NoError(t, err)
	require.Len(t, hashes, 2)
	assert.Equal(t, block.Hash, hashes[0])
	assert.True(t, hashes[1] != block.Hash)
}
