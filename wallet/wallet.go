// Package wallet implements the node's key store: generation of P-256 ECDSA
// key pairs, address derivation, and persistence of the address -> key-pair
// mapping.
package wallet

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/gob"
	"math/big"

	"github.com/petiidev/goblockchain/addr"
)

// Wallet is a single P-256 ECDSA key pair. PublicKey is the raw 64-byte
// concatenation X || Y, each coordinate left-padded to 32 bytes; it has no
// 0x04 prefix, so it is not the 65-byte uncompressed SEC1 encoding.
type Wallet struct {
	PrivateKey ecdsa.PrivateKey
	PublicKey  []byte
}

// New generates a fresh wallet from a cryptographically secure random
// source.
func New() *Wallet {
	priv, pub := newKeyPair()
	return &Wallet{PrivateKey: priv, PublicKey: pub}
}

func newKeyPair() (ecdsa.PrivateKey, []byte) {
	curve := elliptic.P256()
	private, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		// crypto/rand failing means the platform's entropy source is
		// broken; there is nothing a caller can usefully do with it.
		panic(err)
	}
	pub := append(private.PublicKey.X.FillBytes(make([]byte, 32)), private.PublicKey.Y.FillBytes(make([]byte, 32))...)
	return *private, pub
}

// Address derives this wallet's base58check address from its public key.
func (w *Wallet) Address() string {
	return addr.Address(w.PublicKey)
}

// gobWallet is the on-disk shape of a Wallet: only the private scalar is
// stored, since the curve is fixed to P256 and the public key is
// recomputable from it.
type gobWallet struct {
	D []byte
}

// GobEncode implements gob.GobEncoder.
func (w *Wallet) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(gobWallet{D: w.PrivateKey.D.Bytes()}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (w *Wallet) GobDecode(data []byte) error {
	var gw gobWallet
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&gw); err != nil {
		return err
	}
	curve := elliptic.P256()
	d := new(big.Int).SetBytes(gw.D)
	x, y := curve.ScalarBaseMult(gw.D)
	w.PrivateKey = ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d,
	}
	w.PublicKey = append(x.FillBytes(make([]byte, 32)), y.FillBytes(make([]byte, 32))...)
	return nil
}
