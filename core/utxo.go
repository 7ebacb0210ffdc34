package core

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/petiidev/goblockchain/store"
)

// UTXOSet is the derived index of every currently unspent transaction
// output, keyed by the owning transaction's id. It is rebuilt from the
// chain by Reindex and kept current thereafter by Update; it is never the
// source of truth, only an accelerator over Blockchain.FindTransaction and
// a full chain walk.
type UTXOSet struct {
	kv store.KV
}

// OpenUTXOSet attaches to the UTXO namespace at dir.
func OpenUTXOSet(dir string) (*UTXOSet, error) {
	kv, err := store.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("core: open utxo set: %w", err)
	}
	return &UTXOSet{kv: kv}, nil
}

// Close releases the underlying store handle.
func (u *UTXOSet) Close() error {
	return u.kv.Close()
}

// outputEntry is the on-disk record for one transaction's currently
// unspent outputs: OutIndex[i] is the Vout the output was issued at.
type outputEntry struct {
	OutIndex []int32
	Outs     []TXOutput
}

// Reindex rebuilds the entire UTXO set from scratch by walking chain.
func (u *UTXOSet) Reindex(chain *Blockchain) error {
	if err := u.clear(); err != nil {
		return err
	}

	unspent, err := findAllUTXO(chain)
	if err != nil {
		return err
	}
	for txID, entry := range unspent {
		data, err := entry.encode()
		if err != nil {
			return err
		}
		if err := u.kv.Insert([]byte(txID), data); err != nil {
			return err
		}
	}
	return u.kv.Flush()
}

func (u *UTXOSet) clear() error {
	var keys [][]byte
	err := u.kv.Iterate(nil, func(key, _ []byte) bool {
		keys = append(keys, append([]byte(nil), key...))
		return true
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := u.kv.Remove(k); err != nil {
			return err
		}
	}
	return nil
}

// findAllUTXO walks chain from tip to genesis once, determining for every
// transaction which of its outputs are never referenced by a later input.
func findAllUTXO(chain *Blockchain) (map[string]outputEntry, error) {
	spent := make(map[string]map[int32]bool)
	unspent := make(map[string]outputEntry)

	it := chain.Iterator()
	for {
		block, err := it.Next()
		if err != nil {
			return nil, err
		}
		if block == nil {
			break
		}

		for _, tx := range block.Transactions {
			for outIdx, out := range tx.Vout {
				if spent[tx.ID][int32(outIdx)] {
					continue
				}
				entry := unspent[tx.ID]
				entry.OutIndex = append(entry.OutIndex, int32(outIdx))
				entry.Outs = append(entry.Outs, out)
				unspent[tx.ID] = entry
			}

			if tx.IsCoinbase() {
				continue
			}
			for _, in := range tx.Vin {
				if spent[in.TxID] == nil {
					spent[in.TxID] = make(map[int32]bool)
				}
				spent[in.TxID][in.Vout] = true
			}
		}
	}

	for txID := range spent {
		if entry, ok := unspent[txID]; ok {
			unspent[txID] = filterSpent(entry, spent[txID])
		}
	}
	return unspent, nil
}

func filterSpent(entry outputEntry, spentIdx map[int32]bool) outputEntry {
	var out outputEntry
	for i, idx := range entry.OutIndex {
		if spentIdx[idx] {
			continue
		}
		out.OutIndex = append(out.OutIndex, idx)
		out.Outs = append(out.Outs, entry.Outs[i])
	}
	return out
}

func (e outputEntry) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("core: encode utxo entry: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeOutputEntry(data []byte) (outputEntry, error) {
	var e outputEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return e, fmt.Errorf("core: decode utxo entry: %w", err)
	}
	return e, nil
}

// FindSpendableOutputs selects enough of pkh's unspent outputs to cover
// amount, returning their accumulated value and a txID -> Vout-indices map
// suitable for building transaction inputs.
func (u *UTXOSet) FindSpendableOutputs(pkh []byte, amount int32) (int32, map[string][]int32, error) {
	unspentOutputs := make(map[string][]int32)
	var accumulated int32

	var iterErr error
	err := u.kv.Iterate(nil, func(key, value []byte) bool {
		if accumulated >= amount {
			return false
		}
		entry, err := decodeOutputEntry(value)
		if err != nil {
			iterErr = err
			return false
		}
		for i, out := range entry.Outs {
			if !out.IsLockedWithKey(pkh) {
				continue
			}
			if accumulated >= amount {
				break
			}
			accumulated += out.Value
			txID := string(key)
			unspentOutputs[txID] = append(unspentOutputs[txID], entry.OutIndex[i])
		}
		return true
	})
	if err != nil {
		return 0, nil, err
	}
	if iterErr != nil {
		return 0, nil, iterErr
	}
	return accumulated, unspentOutputs, nil
}

// FindUTXO returns every output currently locked to pkh, for balance
// queries.
func (u *UTXOSet) FindUTXO(pkh []byte) ([]TXOutput, error) {
	var outs []TXOutput
	var iterErr error
	err := u.kv.Iterate(nil, func(_, value []byte) bool {
		entry, err := decodeOutputEntry(value)
		if err != nil {
			iterErr = err
			return false
		}
		for _, out := range entry.Outs {
			if out.IsLockedWithKey(pkh) {
				outs = append(outs, out)
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if iterErr != nil {
		return nil, iterErr
	}
	return outs, nil
}

// Update incrementally folds a newly mined block into the index: inputs
// remove the outputs they spend, and the block's own transactions add
// their outputs as newly unspent.
func (u *UTXOSet) Update(block *Block) error {
	for _, tx := range block.Transactions {
		if !tx.IsCoinbase() {
			spentByTx := make(map[string][]int32)
			for _, in := range tx.Vin {
				spentByTx[in.TxID] = append(spentByTx[in.TxID], in.Vout)
			}
			for txID, vouts := range spentByTx {
				raw, ok := u.kv.Get([]byte(txID))
				if !ok {
					continue
				}
				entry, err := decodeOutputEntry(raw)
				if err != nil {
					return err
				}
				spentSet := make(map[int32]bool, len(vouts))
				for _, v := range vouts {
					spentSet[v] = true
				}
				entry = filterSpent(entry, spentSet)
				if len(entry.Outs) == 0 {
					if err := u.kv.Remove([]byte(txID)); err != nil {
						return err
					}
					continue
				}
				data, err := entry.encode()
				if err != nil {
					return err
				}
				if err := u.kv.Insert([]byte(txID), data); err != nil {
					return err
				}
			}
		}

		var entry outputEntry
		for i, out := range tx.Vout {
			entry.OutIndex = append(entry.OutIndex, int32(i))
			entry.Outs = append(entry.Outs, out)
		}
		data, err := entry.encode()
		if err != nil {
			return err
		}
		if err := u.kv.Insert([]byte(tx.ID), data); err != nil {
			return err
		}
	}
	return u.kv.Flush()
}

// CountTransactions returns the number of transactions currently holding
// at least one unspent output; the reindexutxo command reports it.
func (u *UTXOSet) CountTransactions() (int, error) {
	count := 0
	err := u.kv.Iterate(nil, func(_, _ []byte) bool {
		count++
		return true
	})
	return count, err
}
