package wallet

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/petiidev/goblockchain/store"
)

// Wallets is the address -> Wallet mapping for a single node, backed by a
// store.KV namespace. Each wallet is stored under its own address key;
// Open decodes every stored record into memory.
type Wallets struct {
	Wallets map[string]*Wallet
	kv      store.KV
}

// Open opens (creating if necessary) the wallet namespace at dir and loads
// every wallet record it contains.
func Open(dir string) (*Wallets, error) {
	kv, err := store.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("wallet: open %s: %w", dir, err)
	}
	ws := &Wallets{Wallets: make(map[string]*Wallet), kv: kv}
	if err := ws.Load(); err != nil {
		return nil, err
	}
	return ws, nil
}

// Close releases the underlying store handle.
func (ws *Wallets) Close() error {
	return ws.kv.Close()
}

// Create generates a fresh wallet, adds it to the collection, persists it,
// and returns its address.
func (ws *Wallets) Create() (string, error) {
	w := New()
	address := w.Address()
	ws.Wallets[address] = w
	if err := ws.save(address, w); err != nil {
		return "", err
	}
	return address, nil
}

// Addresses returns every address currently in the collection.
func (ws *Wallets) Addresses() []string {
	out := make([]string, 0, len(ws.Wallets))
	for address := range ws.Wallets {
		out = append(out, address)
	}
	return out
}

// Get returns the wallet stored for address, if any.
func (ws *Wallets) Get(address string) (*Wallet, bool) {
	w, ok := ws.Wallets[address]
	return w, ok
}

// Load rehydrates the in-memory map from the store namespace.
func (ws *Wallets) Load() error {
	return ws.kv.Iterate(nil, func(key, value []byte) bool {
		var w Wallet
		if err := gob.NewDecoder(bytes.NewReader(value)).Decode(&w); err != nil {
			return true
		}
		ws.Wallets[string(key)] = &w
		return true
	})
}

// Save persists every wallet currently held in memory.
func (ws *Wallets) Save() error {
	for address, w := range ws.Wallets {
		if err := ws.save(address, w); err != nil {
			return err
		}
	}
	return ws.kv.Flush()
}

func (ws *Wallets) save(address string, w *Wallet) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return fmt.Errorf("wallet: encode %s: %w", address, err)
	}
	if err := ws.kv.Insert([]byte(address), buf.Bytes()); err != nil {
		return err
	}
	return ws.kv.Flush()
}
