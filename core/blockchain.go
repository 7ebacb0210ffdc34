package core

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/petiidev/goblockchain/coreerr"
	"github.com/petiidev/goblockchain/store"
)

// tipKey is the key under which the current chain tip's hash is stored.
const tipKey = "l"

// GenesisCoinbaseData is the fixed coinbase data embedded in every chain's
// genesis block.
const GenesisCoinbaseData = "The Times 03/Jan/2009 Chancellor on brink of second bailout for banks"

// Blockchain is the append-only, content-addressed block store: every
// block is keyed by its own hash, plus a single pointer to the current
// tip.
type Blockchain struct {
	tip Hash
	kv  store.KV
}

// Open attaches to the chain namespace at dir. If the namespace is empty,
// genesisAddress must be non-empty: a genesis block paying the first
// coinbase reward to it is mined and stored. If the namespace already
// holds a chain, genesisAddress is ignored.
func Open(dir string, genesisAddress string) (*Blockchain, error) {
	kv, err := store.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("core: open chain: %w", err)
	}

	if raw, ok := kv.Get([]byte(tipKey)); ok {
		var tip Hash
		copy(tip[:], raw)
		return &Blockchain{tip: tip, kv: kv}, nil
	}

	if genesisAddress == "" {
		_ = kv.Close()
		return nil, coreerr.ErrNoChain
	}

	coinbase, err := NewCoinbaseTx(genesisAddress, GenesisCoinbaseData)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	genesis, err := Genesis(coinbase, time.Now().Unix())
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	data, err := genesis.Serialize()
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	if err := kv.Insert(genesis.Hash[:], data); err != nil {
		_ = kv.Close()
		return nil, err
	}
	if err := kv.Insert([]byte(tipKey), genesis.Hash[:]); err != nil {
		_ = kv.Close()
		return nil, err
	}
	if err := kv.Flush(); err != nil {
		_ = kv.Close()
		return nil, err
	}

	logrus.WithField("hash", genesis.Hash.String()).Info("core: mined genesis block")
	return &Blockchain{tip: genesis.Hash, kv: kv}, nil
}

// Close releases the underlying store handle.
func (bc *Blockchain) Close() error {
	return bc.kv.Close()
}

// Tip returns the current chain tip's hash.
func (bc *Blockchain) Tip() Hash {
	return bc.tip
}

// GetBlock looks up a single block by hash.
func (bc *Blockchain) GetBlock(hash Hash) (*Block, error) {
	data, ok := bc.kv.Get(hash[:])
	if !ok {
		return nil, fmt.Errorf("core: block %s: %w", hash, coreerr.ErrMissingPrevTx)
	}
	return DeserializeBlock(data)
}

// GetBestHeight returns the height of the current tip.
func (bc *Blockchain) GetBestHeight() (int32, error) {
	tip, err := bc.GetBlock(bc.tip)
	if err != nil {
		return 0, err
	}
	return tip.Height, nil
}

// GetBlockHashes returns every block hash from the tip backwards to
// genesis. The order matters to callers building an Inv announcement.
func (bc *Blockchain) GetBlockHashes() ([]Hash, error) {
	var hashes []Hash
	it := bc.Iterator()
	for {
		block, err := it.Next()
		if err != nil {
			return nil, err
		}
		if block == nil {
			break
		}
		hashes = append(hashes, block.Hash)
	}
	return hashes, nil
}

// MineBlock verifies every pending transaction against the chain, mines a
// new block over them, links it to the current tip, and advances the tip.
// txs is taken as given, coinbase included: MineBlock does not construct
// or adjust any coinbase transaction itself.
func (bc *Blockchain) MineBlock(txs []*Transaction, now int64) (*Block, error) {
	for _, tx := range txs {
		if tx.IsCoinbase() {
			continue
		}
		ok, err := VerifyTransaction(tx, bc)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: tx %s", coreerr.ErrInvalidTransaction, tx.ID)
		}
	}

	height, err := bc.GetBestHeight()
	if err != nil {
		return nil, err
	}

	block, err := NewBlock(txs, bc.tip, height+1, now)
	if err != nil {
		return nil, err
	}
	if err := bc.AddBlock(block); err != nil {
		return nil, err
	}
	return block, nil
}

// AddBlock stores block and, if its height exceeds the current tip's,
// advances the tip to it. A block whose height does not exceed the
// current tip is still stored (so it can be served to peers) but does not
// become the active tip: the active chain is always the highest block
// seen.
func (bc *Blockchain) AddBlock(block *Block) error {
	if _, ok := bc.kv.Get(block.Hash[:]); ok {
		return nil
	}

	data, err := block.Serialize()
	if err != nil {
		return err
	}
	if err := bc.kv.Insert(block.Hash[:], data); err != nil {
		return err
	}

	tip, err := bc.GetBlock(bc.tip)
	if err != nil {
		return err
	}
	if block.Height > tip.Height {
		if err := bc.kv.Insert([]byte(tipKey), block.Hash[:]); err != nil {
			return err
		}
		bc.tip = block.Hash
	}
	return bc.kv.Flush()
}

// Iterator returns a fresh chain iterator positioned at the current tip.
func (bc *Blockchain) Iterator() *Iterator {
	return &Iterator{current: bc.tip, bc: bc}
}

// FindTransaction implements PrevTxLookup by walking the chain from the
// tip looking for id.
func (bc *Blockchain) FindTransaction(id string) (Transaction, error) {
	it := bc.Iterator()
	for {
		block, err := it.Next()
		if err != nil {
			return Transaction{}, err
		}
		if block == nil {
			break
		}
		for _, tx := range block.Transactions {
			if tx.ID == id {
				return *tx, nil
			}
		}
	}
	return Transaction{}, fmt.Errorf("%w: %s", coreerr.ErrMissingPrevTx, id)
}
