package p2p

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/petiidev/goblockchain/core"
	"github.com/petiidev/goblockchain/coreerr"
)

// dialTimeout bounds how long an outbound connection attempt may take
// before the peer is considered unreachable.
const dialTimeout = 5 * time.Second

// startupProbeDelay gives the listener time to come up before the node
// announces itself to its peers.
const startupProbeDelay = 1500 * time.Millisecond

// serverState is every piece of mutable state shared across connection
// handlers, guarded by a single reader/writer lock: known peer addresses,
// blocks requested but not yet received, the pending-transaction pool, and
// the chain/UTXO index themselves. Folding chain and utxo in here (rather
// than leaving them as unlocked sibling fields on Server) is what makes
// block adoption and mining linearizable against concurrent connections.
type serverState struct {
	mu              sync.RWMutex
	knownNodes      []string
	blocksInTransit []core.Hash
	mempool         map[string]*core.Transaction
	chain           *core.Blockchain
	utxo            *core.UTXOSet
}

// Server is a single blockchain node: it owns the chain and UTXO index for
// its local view and gossips with peers to converge on a shared one.
type Server struct {
	nodeAddress   string
	centralNode   string
	miningAddress string

	state serverState
}

// NewServer builds a node bound to nodeAddress. centralNode is the
// well-known bootstrap peer; miningAddress, if non-empty, makes this node
// mine blocks in response to incoming transactions. chain/utxo may be nil,
// meaning this node has no local chain yet: it still sends its startup
// GetBlocks probe and follows the peer's Inv with GetData, but addBlock
// rejects every incoming block, so such a node does not build a chain from
// gossip.
func NewServer(nodeAddress, centralNode, miningAddress string, chain *core.Blockchain, utxo *core.UTXOSet) *Server {
	s := &Server{
		nodeAddress:   nodeAddress,
		centralNode:   centralNode,
		miningAddress: miningAddress,
	}
	s.state.chain = chain
	s.state.utxo = utxo
	s.state.mempool = make(map[string]*core.Transaction)
	if nodeAddress != centralNode {
		s.state.knownNodes = []string{centralNode}
	}
	return s
}

// Start binds the listener and runs until ctx is cancelled. It spawns the
// startup probe and one goroutine per accepted connection.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.nodeAddress)
	if err != nil {
		return fmt.Errorf("p2p: listen on %s: %w", s.nodeAddress, err)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	go s.startupProbe()

	logrus.WithField("addr", s.nodeAddress).Info("p2p: node listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("p2p: accept: %w", err)
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) startupProbe() {
	time.Sleep(startupProbeDelay)

	height, haveChain := s.bestHeight()
	if !haveChain {
		for _, peer := range s.knownNodesSnapshot() {
			if err := s.SendGetBlocks(peer); err != nil {
				logrus.WithError(err).WithField("peer", peer).Warn("p2p: startup getblocks failed")
			}
		}
		return
	}

	if s.nodeAddress == s.centralNode {
		return
	}
	if err := s.SendVersion(s.centralNode, height); err != nil {
		logrus.WithError(err).WithField("peer", s.centralNode).Warn("p2p: startup version failed")
	}
}

// bestHeight returns the local chain height, or (-1, false) if this node
// has no chain yet.
func (s *Server) bestHeight() (int32, bool) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	if s.state.chain == nil {
		return -1, false
	}
	h, err := s.state.chain.GetBestHeight()
	if err != nil {
		return -1, false
	}
	return h, true
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	msg, err := readMessage(conn)
	if err != nil {
		logrus.WithError(err).Debug("p2p: read message failed")
		return
	}

	switch m := msg.(type) {
	case VersionMsg:
		s.handleVersion(m)
	case GetBlocksMsg:
		s.handleGetBlocks(m)
	case InvMsg:
		s.handleInv(m)
	case GetDataMsg:
		s.handleGetData(m)
	case BlockMsg:
		s.handleBlock(m)
	case TxMsg:
		s.handleTx(m)
	case AddrMsg:
		s.handleAddr(m)
	default:
		logrus.Warn("p2p: unrecognized message type")
	}
}

func (s *Server) handleVersion(v VersionMsg) {
	localHeight, _ := s.bestHeight()

	if v.BestHeight > localHeight {
		if err := s.SendGetBlocks(v.AddrFrom); err != nil {
			logrus.WithError(err).Debug("p2p: send getblocks failed")
		}
	}
	if v.BestHeight < localHeight {
		if err := s.SendVersion(v.AddrFrom, localHeight); err != nil {
			logrus.WithError(err).Debug("p2p: send version failed")
		}
	}

	s.addKnownNode(v.AddrFrom)
	if err := s.SendAddr(v.AddrFrom); err != nil {
		logrus.WithError(err).Debug("p2p: send addr failed")
	}
}

func (s *Server) handleGetBlocks(m GetBlocksMsg) {
	hashes, ok := s.blockHashesSnapshot()
	if !ok {
		return
	}
	if err := s.SendInv(m.AddrFrom, KindBlock, hashes); err != nil {
		logrus.WithError(err).Debug("p2p: send inv failed")
	}
}

// blockHashesSnapshot reads the full chain hash list under the read lock.
func (s *Server) blockHashesSnapshot() ([]core.Hash, bool) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	if s.state.chain == nil {
		return nil, false
	}
	hashes, err := s.state.chain.GetBlockHashes()
	if err != nil {
		logrus.WithError(err).Warn("p2p: get block hashes failed")
		return nil, false
	}
	return hashes, true
}

func (s *Server) handleInv(m InvMsg) {
	if len(m.Items) == 0 {
		return
	}

	switch m.Kind {
	case KindBlock:
		s.state.mu.Lock()
		s.state.blocksInTransit = append([]core.Hash(nil), m.Items...)
		s.state.mu.Unlock()

		first := m.Items[0]
		if err := s.SendGetData(m.AddrFrom, KindBlock, first); err != nil {
			logrus.WithError(err).Debug("p2p: send getdata(block) failed")
		}
	case KindTx:
		id := m.Items[0]
		if !s.inMempool(id.String()) {
			if err := s.SendGetData(m.AddrFrom, KindTx, id); err != nil {
				logrus.WithError(err).Debug("p2p: send getdata(tx) failed")
			}
		}
	}
}

func (s *Server) handleGetData(m GetDataMsg) {
	switch m.Kind {
	case KindBlock:
		block, ok := s.getBlock(m.ID)
		if !ok {
			return
		}
		if err := s.SendBlock(m.AddrFrom, block); err != nil {
			logrus.WithError(err).Debug("p2p: send block failed")
		}
	case KindTx:
		tx, ok := s.mempoolGet(m.ID.String())
		if !ok {
			return
		}
		if err := s.SendTx(m.AddrFrom, tx); err != nil {
			logrus.WithError(err).Debug("p2p: send tx failed")
		}
	}
}

// getBlock reads a single block from the chain under the read lock.
func (s *Server) getBlock(id core.Hash) (*core.Block, bool) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	if s.state.chain == nil {
		return nil, false
	}
	block, err := s.state.chain.GetBlock(id)
	if err != nil {
		logrus.WithError(err).Debug("p2p: requested block not found")
		return nil, false
	}
	return block, true
}

func (s *Server) handleBlock(m BlockMsg) {
	next, hasMore, err := s.addBlock(m.Block)
	if err != nil {
		logrus.WithError(err).Warn("p2p: add block failed")
		return
	}
	if hasMore {
		if err := s.SendGetData(m.AddrFrom, KindBlock, next); err != nil {
			logrus.WithError(err).Debug("p2p: send getdata(block) failed")
		}
	}
}

// addBlock adds block to the chain and, once the whole in-flight batch has
// landed, reindexes the UTXO set against it. Both the append and the
// reindex happen under a single write-lock critical section so a
// concurrent reader never observes a chain tip without a matching index.
func (s *Server) addBlock(block *core.Block) (core.Hash, bool, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	if s.state.chain == nil {
		return core.Hash{}, false, fmt.Errorf("p2p: received block with no local chain to append to")
	}
	if err := s.state.chain.AddBlock(block); err != nil {
		return core.Hash{}, false, err
	}

	if len(s.state.blocksInTransit) > 0 {
		s.state.blocksInTransit = s.state.blocksInTransit[1:]
	}
	if len(s.state.blocksInTransit) > 0 {
		return s.state.blocksInTransit[0], true, nil
	}

	if err := s.state.utxo.Reindex(s.state.chain); err != nil {
		return core.Hash{}, false, err
	}
	return core.Hash{}, false, nil
}

func (s *Server) handleTx(m TxMsg) {
	s.mempoolPut(m.Transaction)

	if s.nodeAddress == s.centralNode {
		txHash := core.Hash{}
		if h, err := core.HashFromHex(m.Transaction.ID); err == nil {
			txHash = h
		}
		for _, peer := range s.knownNodesSnapshot() {
			if peer == m.AddrFrom || peer == s.nodeAddress {
				continue
			}
			if err := s.SendInv(peer, KindTx, []core.Hash{txHash}); err != nil {
				logrus.WithError(err).WithField("peer", peer).Debug("p2p: relay inv failed")
			}
		}
		return
	}

	if s.miningAddress == "" {
		return
	}
	s.mineAvailableTransactions()
}

func (s *Server) handleAddr(m AddrMsg) {
	for _, n := range m.Nodes {
		s.addKnownNode(n)
	}
}

// mineAvailableTransactions repeatedly drains the mempool: each round it
// verifies every pending transaction, mines a block over the valid ones
// plus a fresh coinbase, folds it into the UTXO index, and broadcasts it.
// It stops once a round yields nothing mineable.
func (s *Server) mineAvailableTransactions() {
	for {
		pending := s.mempoolDrain()
		if len(pending) == 0 {
			return
		}

		block, err := s.mineBlock(pending)
		if err != nil {
			logrus.WithError(err).Warn("p2p: mine block failed")
			return
		}
		if block == nil {
			return
		}

		logrus.WithField("hash", block.Hash.String()).WithField("height", block.Height).Info("p2p: mined block")

		for _, peer := range s.knownNodesSnapshot() {
			if peer == s.nodeAddress {
				continue
			}
			if err := s.SendInv(peer, KindBlock, []core.Hash{block.Hash}); err != nil {
				logrus.WithError(err).WithField("peer", peer).Debug("p2p: broadcast inv failed")
			}
		}
	}
}

// mineBlock verifies pending against the chain, mines a block over the
// valid transactions plus a trailing coinbase, and updates the UTXO index.
// The whole sequence runs under the write lock: mining both mutates the
// chain/UTXO state and performs store I/O, and must be linearized against
// every other handler touching that state. Returns (nil, nil) if nothing
// in pending was valid.
func (s *Server) mineBlock(pending []*core.Transaction) (*core.Block, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	if s.state.chain == nil || s.state.utxo == nil {
		return nil, fmt.Errorf("p2p: cannot mine with no local chain")
	}

	var valid []*core.Transaction
	for _, tx := range pending {
		ok, err := core.VerifyTransaction(tx, s.state.chain)
		if err != nil || !ok {
			continue
		}
		valid = append(valid, tx)
	}
	if len(valid) == 0 {
		return nil, nil
	}

	coinbase, err := core.NewCoinbaseTx(s.miningAddress, "")
	if err != nil {
		return nil, fmt.Errorf("p2p: build coinbase: %w", err)
	}
	blockTxs := append(valid, coinbase)

	block, err := s.state.chain.MineBlock(blockTxs, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	if err := s.state.utxo.Update(block); err != nil {
		return nil, fmt.Errorf("p2p: utxo update: %w", err)
	}
	return block, nil
}

// --- state accessors ---

func (s *Server) knownNodesSnapshot() []string {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	out := make([]string, len(s.state.knownNodes))
	copy(out, s.state.knownNodes)
	return out
}

func (s *Server) addKnownNode(addr string) {
	if addr == "" || addr == s.nodeAddress {
		return
	}
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	for _, n := range s.state.knownNodes {
		if n == addr {
			return
		}
	}
	s.state.knownNodes = append(s.state.knownNodes, addr)
}

func (s *Server) removeKnownNode(addr string) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	for i, n := range s.state.knownNodes {
		if n == addr {
			s.state.knownNodes = append(s.state.knownNodes[:i], s.state.knownNodes[i+1:]...)
			return
		}
	}
}

func (s *Server) inMempool(id string) bool {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	_, ok := s.state.mempool[id]
	return ok
}

func (s *Server) mempoolGet(id string) (*core.Transaction, bool) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	tx, ok := s.state.mempool[id]
	return tx, ok
}

func (s *Server) mempoolPut(tx *core.Transaction) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.mempool[tx.ID] = tx
}

// mempoolDrain empties the mempool and returns everything it held.
func (s *Server) mempoolDrain() []*core.Transaction {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	out := make([]*core.Transaction, 0, len(s.state.mempool))
	for _, tx := range s.state.mempool {
		out = append(out, tx)
	}
	s.state.mempool = make(map[string]*core.Transaction)
	return out
}

// --- outbound sends ---

func (s *Server) dial(addr string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		s.removeKnownNode(addr)
		return nil, fmt.Errorf("%w: %s", coreerr.ErrPeerUnreachable, err)
	}
	return conn, nil
}

func (s *Server) send(addr string, msg Message) error {
	conn, err := s.dial(addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	return writeMessage(conn, msg)
}

// SendVersion announces this node's chain height to addr.
func (s *Server) SendVersion(addr string, height int32) error {
	return s.send(addr, VersionMsg{AddrFrom: s.nodeAddress, Version: ProtocolVersion, BestHeight: height})
}

// SendGetBlocks requests addr's block-hash list.
func (s *Server) SendGetBlocks(addr string) error {
	return s.send(addr, GetBlocksMsg{AddrFrom: s.nodeAddress})
}

// SendInv announces items of kind to addr.
func (s *Server) SendInv(addr string, kind ItemKind, items []core.Hash) error {
	return s.send(addr, InvMsg{AddrFrom: s.nodeAddress, Kind: kind, Items: items})
}

// SendGetData requests a single item from addr.
func (s *Server) SendGetData(addr string, kind ItemKind, id core.Hash) error {
	return s.send(addr, GetDataMsg{AddrFrom: s.nodeAddress, Kind: kind, ID: id})
}

// SendBlock delivers block to addr.
func (s *Server) SendBlock(addr string, block *core.Block) error {
	return s.send(addr, BlockMsg{AddrFrom: s.nodeAddress, Block: block})
}

// SendTx delivers tx to addr.
func (s *Server) SendTx(addr string, tx *core.Transaction) error {
	return s.send(addr, TxMsg{AddrFrom: s.nodeAddress, Transaction: tx})
}

// SendAddr shares the known-node set with addr.
func (s *Server) SendAddr(addr string) error {
	return s.send(addr, AddrMsg{Nodes: s.knownNodesSnapshot()})
}

// SendTransaction relays tx to the central node, used by the CLI when a
// local node is not mining itself.
func (s *Server) SendTransaction(tx *core.Transaction) error {
	return s.SendTx(s.centralNode, tx)
}
