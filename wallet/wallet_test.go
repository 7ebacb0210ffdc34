package wallet_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petiidev/goblockchain/wallet"
)

func TestWalletsCreatePersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wallets")

	ws, err := wallet.Open(dir)
	require.NoError(t, err)

	address, err := ws.Create()
	require.NoError(t, err)
	require.NoError(t, ws.Close())

	reopened, err := wallet.Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	w, ok := reopened.Get(address)
	require.True(t, ok)
	require.Equal(t, address, w.Address())
}

func TestGobRoundTripPreservesPrivateKey(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wallets")

	ws, err := wallet.Open(dir)
	require.NoError(t, err)

	address, err := ws.Create()
	require.NoError(t, err)

	original, ok := ws.Get(address)
	require.True(t, ok)

	require.NoError(t, ws.Save())
	require.NoError(t, ws.Close())

	reopened, err := wallet.Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	restored, ok := reopened.Get(address)
	require.True(t, ok)
	require.Equal(t, original.PrivateKey.D, restored.PrivateKey.D)
	require.Equal(t, original.PublicKey, restored.PublicKey)
}
