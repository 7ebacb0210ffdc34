package addr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petiidev/goblockchain/addr"
	"github.com/petiidev/goblockchain/wallet"
)

func TestAddressRoundTrip(t *testing.T) {
	w := wallet.New()
	address := w.Address()

	assert.True(t, addr.ValidateAddress(address))

	pkh, err := addr.PKHFromAddress(address)
	require.NoError(t, err)
	assert.Equal(t, addr.PKH(w.PublicKey), pkh)
}

func TestValidateAddressRejectsCorruptChecksum(t *testing.T) {
	w := wallet.New()
	address := w.Address()

	// Swap the last character for another valid base58 digit so the string
	// still decodes and only the checksum comparison can reject it.
	corrupt := []byte(address)
	last := len(corrupt) - 1
	if corrupt[last] == '2' {
		corrupt[last] = '3'
	} else {
		corrupt[last] = '2'
	}
	assert.False(t, addr.ValidateAddress(string(corrupt)))
}

func TestValidateAddressRejectsGarbage(t *testing.T) {
	assert.False(t, addr.ValidateAddress("not-a-base58check-address"))
}
