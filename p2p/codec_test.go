package p2p

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petiidev/goblockchain/core"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sent := InvMsg{AddrFrom: "localhost:3001", Kind: KindBlock, Items: []core.Hash{{1, 2, 3}}}

	errCh := make(chan error, 1)
	go func() { errCh <- writeMessage(client, sent) }()

	got, err := readMessage(server)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	inv, ok := got.(InvMsg)
	require.True(t, ok)
	assert.Equal(t, sent.AddrFrom, inv.AddrFrom)
	assert.Equal(t, sent.Kind, inv.Kind)
	assert.Equal(t, sent.Items, inv.Items)
}

func TestReadMessageRejectsOversizedLengthPrefix(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		lenPrefix := []byte{0x7F, 0xFF, 0xFF, 0xFF}
		client.Write(lenPrefix)
	}()

	_, err := readMessage(server)
	assert.Error(t, err)
}
