package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petiidev/goblockchain/addr"
	"github.com/petiidev/goblockchain/core"
	"github.com/petiidev/goblockchain/wallet"
)

func mustPKH(t *testing.T, address string) []byte {
	t.Helper()
	pkh, err := addr.PKHFromAddress(address)
	require.NoError(t, err)
	return pkh
}

// txLookup is an in-memory core.PrevTxLookup fixture for tests that sign
// and verify transactions without a real chain.
type txLookup map[string]core.Transaction

func (l txLookup) FindTransaction(id string) (core.Transaction, error) {
	tx, ok := l[id]
	if !ok {
		return core.Transaction{}, assert.AnError
	}
	return tx, nil
}

func TestCoinbaseIDIsDeterministic(t *testing.T) {
	address := wallet.New().Address()

	tx1, err := core.NewCoinbaseTx(address, "fixed data")
	require.NoError(t, err)
	tx2, err := core.NewCoinbaseTx(address, "fixed data")
	require.NoError(t, err)

	assert.Equal(t, tx1.ID, tx2.ID)
	assert.True(t, tx1.IsCoinbase())
}

func TestCoinbaseDefaultDataEmbedsRecipient(t *testing.T) {
	address := wallet.New().Address()

	tx, err := core.NewCoinbaseTx(address, "")
	require.NoError(t, err)

	assert.Contains(t, string(tx.Vin[0].PubKey), address)
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	from := wallet.New()
	toAddress := wallet.New().Address()

	coinbase, err := core.NewCoinbaseTx(from.Address(), "")
	require.NoError(t, err)

	lookup := txLookup{coinbase.ID: *coinbase}

	spend := &core.Transaction{
		Vin: []core.TXInput{{TxID: coinbase.ID, Vout: 0, PubKey: from.PublicKey}},
		Vout: []core.TXOutput{
			{Value: core.Subsidy, PubKeyHash: mustPKH(t, toAddress)},
		},
	}
	require.NoError(t, core.SignTransaction(spend, from.PrivateKey, lookup))

	ok, err := core.VerifyTransaction(spend, lookup)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsTamperedOutput(t *testing.T) {
	from := wallet.New()
	toAddress := wallet.New().Address()

	coinbase, err := core.NewCoinbaseTx(from.Address(), "")
	require.NoError(t, err)
	lookup := txLookup{coinbase.ID: *coinbase}

	spend := &core.Transaction{
		Vin: []core.TXInput{{TxID: coinbase.ID, Vout: 0, PubKey: from.PublicKey}},
		Vout: []core.TXOutput{
			{Value: core.Subsidy, PubKeyHash: mustPKH(t, toAddress)},
		},
	}
	require.NoError(t, core.SignTransaction(spend, from.PrivateKey, lookup))

	spend.Vout[0].Value = core.Subsidy * 2

	ok, err := core.VerifyTransaction(spend, lookup)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewUTXOTransactionInsufficientFunds(t *testing.T) {
	from := wallet.New()
	toAddress := wallet.New().Address()

	source := stubSpendableSource{accumulated: 3, outs: map[string][]int32{}}
	lookup := txLookup{}

	_, err := core.NewUTXOTransaction(from, toAddress, 10, source, lookup)
	require.Error(t, err)
}

type stubSpendableSource struct {
	accumulated int32
	outs        map[string][]int32
}

func (s stubSpendableSource) FindSpendableOutputs(pkh []byte, amount int32) (int32, map[string][]int32, error) {
	return s.accumulated, s.outs, nil
}
