package core_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petiidev/goblockchain/addr"
	"github.com/petiidev/goblockchain/core"
	"github.com/petiidev/goblockchain/wallet"
)

func openTestUTXOSet(t *testing.T) *core.UTXOSet {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "utxo")
	set, err := core.OpenUTXOSet(dir)
	require.NoError(t, err)
	t.Cleanup(func() { set.Close() })
	return set
}

func TestReindexFindsGenesisCoinbase(t *testing.T) {
	address := wallet.New().Address()
	chain := openTestChain(t, address)
	set := openTestUTXOSet(t)

	require.NoError(t, set.Reindex(chain))

	pkh, err := addr.PKHFromAddress(address)
	require.NoError(t, err)

	outs, err := set.FindUTXO(pkh)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, int32(core.Subsidy), outs[0].Value)
}

func TestUpdateRemovesSpentAndAddsNewOutputs(t *testing.T) {
	miner := wallet.New()
	recipient := wallet.New()
	chain := openTestChain(t, miner.Address())
	set := openTestUTXOSet(t)
	require.NoError(t, set.Reindex(chain))

	tx, err := core.NewUTXOTransaction(miner, recipient.Address(), core.Subsidy, set, chain)
	require.NoError(t, err)

	coinbase, err := core.NewCoinbaseTx(miner.Address(), "block 2")
	require.NoError(t, err)

	block, err := chain.MineBlock([]*core.Transaction{coinbase, tx}, 1700000010)
	require.NoError(t, err)
	require.NoError(t, set.Update(block))

	minerPKH, err := addr.PKHFromAddress(miner.Address())
	require.NoError(t, err)
	recipientPKH, err := addr.PKHFromAddress(recipient.Address())
	require.NoError(t, err)

	minerOuts, err := set.FindUTXO(minerPKH)
	require.NoError(t, err)
	var minerBalance int32
	for _, o := range minerOuts {
		minerBalance += o.Value
	}
	assert.Equal(t, int32(core.Subsidy), minerBalance) // only block 2's fresh coinbase remains

	recipientOuts, err := set.FindUTXO(recipientPKH)
	require.NoError(t, err)
	require.Len(t, recipientOuts, 1)
	assert.Equal(t, int32(core.Subsidy), recipientOuts[0].Value)
}

func TestFindSpendableOutputsAccumulatesUntilAmount(t *testing.T) {
	miner := wallet.New()
	chain := openTestChain(t, miner.Address())
	set := openTestUTXOSet(t)
	require.NoError(t, set.Reindex(chain))

	minerPKH, err := addr.PKHFromAddress(miner.Address())
	require.NoError(t, err)

	acc, outs, err := set.FindSpendableOutputs(minerPKH, core.Subsidy)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, acc, int32(core.Subsidy))
	assert.NotEmpty(t, outs)
}

func TestReindexIsIdempotent(t *testing.T) {
	address := wallet.New().Address()
	chain := openTestChain(t, address)
	set := openTestUTXOSet(t)

	require.NoError(t, set.Reindex(chain))
	firstCount, err := set.CountTransactions()
	require.NoError(t, err)

	require.NoError(t, set.Reindex(chain))
	secondCount, err := set.CountTransactions()
	require.NoError(t, err)

	assert.Equal(t, firstCount, secondCount)
}
