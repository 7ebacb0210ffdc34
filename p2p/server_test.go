package p2p

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/petiidev/goblockchain/core"
)

func TestAddKnownNodeDedupsAndSkipsSelf(t *testing.T) {
	s := NewServer("localhost:3000", "localhost:3000", "", nil, nil)

	s.addKnownNode("localhost:3001")
	s.addKnownNode("localhost:3001")
	s.addKnownNode("localhost:3000") // self, must be ignored

	nodes := s.knownNodesSnapshot()
	assert.Equal(t, []string{"localhost:3001"}, nodes)
}

func TestMempoolPutGetDrain(t *testing.T) {
	s := NewServer("localhost:3000", "localhost:3000", "", nil, nil)
	tx := &core.Transaction{ID: "abc"}

	s.mempoolPut(tx)
	assert.True(t, s.inMempool("abc"))

	got, ok := s.mempoolGet("abc")
	assert.True(t, ok)
	assert.Equal(t, tx, got)

	drained := s.mempoolDrain()
	assert.Len(t, drained, 1)
	assert.False(t, s.inMempool("abc"))
}

func TestBestHeightWithoutChainIsMinusOne(t *testing.T) {
	s := NewServer("localhost:3000", "localhost:3000", "", nil, nil)

	height, ok := s.bestHeight()
	assert.Equal(t, int32(-1), height)
	assert.False(t, ok)
}
