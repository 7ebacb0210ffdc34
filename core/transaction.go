package core

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/petiidev/goblockchain/addr"
	"github.com/petiidev/goblockchain/coreerr"
	"github.com/petiidev/goblockchain/wallet"
)

// Subsidy is the fixed block reward paid to a coinbase output.
const Subsidy = 10

// TXOutput is an indivisible amount locked to a public-key-hash.
type TXOutput struct {
	Value      int32
	PubKeyHash []byte
}

// NewTXOutput builds an output of value locked to address's public-key-hash.
func NewTXOutput(value int32, address string) (TXOutput, error) {
	pkh, err := addr.PKHFromAddress(address)
	if err != nil {
		return TXOutput{}, fmt.Errorf("%w: %s", coreerr.ErrMalformedInput, err)
	}
	return TXOutput{Value: value, PubKeyHash: pkh}, nil
}

// IsLockedWithKey reports whether out is spendable by pkh.
func (out TXOutput) IsLockedWithKey(pkh []byte) bool {
	return bytes.Equal(out.PubKeyHash, pkh)
}

// TXInput references the Vout-th output of transaction TxID. A coinbase
// input has TxID == "" and Vout == -1; its PubKey field carries an opaque
// nonce rather than a real public key.
type TXInput struct {
	TxID      string
	Vout      int32
	Signature []byte
	PubKey    []byte
}

// UsesKey reports whether this input's public key hashes to pkh.
func (in TXInput) UsesKey(pkh []byte) bool {
	return bytes.Equal(addr.PKH(in.PubKey), pkh)
}

// Transaction moves value from a set of previously unspent outputs to a new
// set of outputs.
type Transaction struct {
	ID   string
	Vin  []TXInput
	Vout []TXOutput
}

// IsCoinbase reports whether tx mints new coins rather than spending
// existing outputs.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Vin) == 1 && tx.Vin[0].TxID == "" && tx.Vin[0].Vout == -1
}

// Serialize gob-encodes the transaction. Field order is fixed and no maps
// are involved, so the encoding is deterministic for a given value.
func (tx Transaction) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(tx); err != nil {
		return nil, fmt.Errorf("core: serialize transaction: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeTransaction decodes a transaction previously produced by
// Serialize.
func DeserializeTransaction(data []byte) (Transaction, error) {
	var tx Transaction
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&tx); err != nil {
		return tx, fmt.Errorf("core: deserialize transaction: %w", err)
	}
	return tx, nil
}

// hash returns SHA256(serialize(tx with ID cleared)).
func (tx Transaction) hash() (Hash, error) {
	cp := tx
	cp.ID = ""
	data, err := cp.Serialize()
	if err != nil {
		return Hash{}, err
	}
	return sha256Sum(data), nil
}

// setID computes and assigns tx.ID from its own contents.
func (tx *Transaction) setID() error {
	h, err := tx.hash()
	if err != nil {
		return err
	}
	tx.ID = hex.EncodeToString(h[:])
	return nil
}

// NewCoinbaseTx builds the mining-reward transaction paying Subsidy to to.
// If data is empty it becomes "Reward to '<to>'".
func NewCoinbaseTx(to, data string) (*Transaction, error) {
	if data == "" {
		data = fmt.Sprintf("Reward to '%s'", to)
	}
	out, err := NewTXOutput(Subsidy, to)
	if err != nil {
		return nil, err
	}
	tx := &Transaction{
		Vin:  []TXInput{{TxID: "", Vout: -1, Signature: nil, PubKey: []byte(data)}},
		Vout: []TXOutput{out},
	}
	if err := tx.setID(); err != nil {
		return nil, err
	}
	return tx, nil
}

// SpendableSource resolves which outputs owned by a public-key-hash can
// cover a payment. UTXOSet is the sole production implementation; it is an
// interface here so transaction construction does not depend on how the
// UTXO index is stored.
type SpendableSource interface {
	FindSpendableOutputs(pkh []byte, amount int32) (int32, map[string][]int32, error)
}

// PrevTxLookup resolves a previously-confirmed transaction by its hex id,
// used while signing and verifying. *Blockchain is the sole production
// implementation.
type PrevTxLookup interface {
	FindTransaction(id string) (Transaction, error)
}

// NewUTXOTransaction builds a transaction moving amount from the wallet at
// from to the address to, selecting inputs via source and signing them
// against chain.
func NewUTXOTransaction(from *wallet.Wallet, to string, amount int32, source SpendableSource, chain PrevTxLookup) (*Transaction, error) {
	pkh := addr.PKH(from.PublicKey)

	acc, validOutputs, err := source.FindSpendableOutputs(pkh, amount)
	if err != nil {
		return nil, err
	}
	if acc < amount {
		return nil, fmt.Errorf("%w: have %d, need %d", coreerr.ErrInsufficientFunds, acc, amount)
	}

	var inputs []TXInput
	for txID, outs := range validOutputs {
		for _, out := range outs {
			inputs = append(inputs, TXInput{
				TxID:   txID,
				Vout:   out,
				PubKey: from.PublicKey,
			})
		}
	}

	payTo, err := NewTXOutput(amount, to)
	if err != nil {
		return nil, err
	}
	outputs := []TXOutput{payTo}
	if acc > amount {
		change, err := NewTXOutput(acc-amount, from.Address())
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, change)
	}

	tx := &Transaction{Vin: inputs, Vout: outputs}
	if err := tx.setID(); err != nil {
		return nil, err
	}
	if err := SignTransaction(tx, from.PrivateKey, chain); err != nil {
		return nil, err
	}
	return tx, nil
}

// trimmedCopy returns a copy of tx with every input's Signature and PubKey
// cleared, used as the base for both signing and verification.
func (tx *Transaction) trimmedCopy() Transaction {
	inputs := make([]TXInput, len(tx.Vin))
	for i, in := range tx.Vin {
		inputs[i] = TXInput{TxID: in.TxID, Vout: in.Vout}
	}
	outputs := make([]TXOutput, len(tx.Vout))
	copy(outputs, tx.Vout)
	return Transaction{ID: tx.ID, Vin: inputs, Vout: outputs}
}

// SignTransaction looks up every input's previous transaction via lookup
// and signs tx in place.
func SignTransaction(tx *Transaction, priv ecdsa.PrivateKey, lookup PrevTxLookup) error {
	if tx.IsCoinbase() {
		return nil
	}

	prevTXs, err := gatherPrevTXs(tx, lookup)
	if err != nil {
		return err
	}

	txCopy := tx.trimmedCopy()
	for i, in := range tx.Vin {
		prevTX := prevTXs[in.TxID]
		txCopy.Vin[i].Signature = nil
		txCopy.Vin[i].PubKey = prevTX.Vout[in.Vout].PubKeyHash

		if err := txCopy.setID(); err != nil {
			return err
		}
		txCopy.Vin[i].PubKey = nil

		digest := []byte(txCopy.ID)
		r, s, err := ecdsa.Sign(rand.Reader, &priv, digest)
		if err != nil {
			return fmt.Errorf("core: sign input %d: %w", i, err)
		}
		sig := append(leftPad32(r), leftPad32(s)...)
		tx.Vin[i].Signature = sig
	}
	return nil
}

// VerifyTransaction looks up every input's previous transaction via lookup
// and verifies every signature. Coinbase transactions always verify true.
func VerifyTransaction(tx *Transaction, lookup PrevTxLookup) (bool, error) {
	if tx.IsCoinbase() {
		return true, nil
	}

	prevTXs, err := gatherPrevTXs(tx, lookup)
	if err != nil {
		return false, err
	}

	txCopy := tx.trimmedCopy()
	curve := elliptic.P256()

	for i, in := range tx.Vin {
		prevTX := prevTXs[in.TxID]
		txCopy.Vin[i].Signature = nil
		txCopy.Vin[i].PubKey = prevTX.Vout[in.Vout].PubKeyHash

		if err := txCopy.setID(); err != nil {
			return false, err
		}
		txCopy.Vin[i].PubKey = nil

		digest := []byte(txCopy.ID)

		if len(in.Signature) != 64 {
			return false, nil
		}
		r := new(big.Int).SetBytes(in.Signature[:32])
		s := new(big.Int).SetBytes(in.Signature[32:])

		if len(in.PubKey) != 64 {
			return false, fmt.Errorf("%w: public key must be 64 bytes, got %d", coreerr.ErrMalformedInput, len(in.PubKey))
		}
		x := new(big.Int).SetBytes(in.PubKey[:32])
		y := new(big.Int).SetBytes(in.PubKey[32:])
		pub := ecdsa.PublicKey{Curve: curve, X: x, Y: y}

		if !ecdsa.Verify(&pub, digest, r, s) {
			return false, nil
		}
	}
	return true, nil
}

func gatherPrevTXs(tx *Transaction, lookup PrevTxLookup) (map[string]Transaction, error) {
	prevTXs := make(map[string]Transaction, len(tx.Vin))
	for _, in := range tx.Vin {
		if _, ok := prevTXs[in.TxID]; ok {
			continue
		}
		prevTX, err := lookup.FindTransaction(in.TxID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", coreerr.ErrMissingPrevTx, in.TxID)
		}
		prevTXs[in.TxID] = prevTX
	}
	return prevTXs, nil
}

func leftPad32(i *big.Int) []byte {
	b := i.Bytes()
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// String renders tx for printchain/debug output.
func (tx Transaction) String() string {
	var lines []string
	lines = append(lines, fmt.Sprintf("--- Transaction %s:", tx.ID))
	for i, in := range tx.Vin {
		lines = append(lines, fmt.Sprintf("     Input %d:", i))
		lines = append(lines, fmt.Sprintf("       TxID:      %s", in.TxID))
		lines = append(lines, fmt.Sprintf("       Vout:      %d", in.Vout))
		lines = append(lines, fmt.Sprintf("       Signature: %x", in.Signature))
		lines = append(lines, fmt.Sprintf("       PubKey:    %x", in.PubKey))
	}
	for i, out := range tx.Vout {
		lines = append(lines, fmt.Sprintf("     Output %d:", i))
		lines = append(lines, fmt.Sprintf("       Value:      %d", out.Value))
		lines = append(lines, fmt.Sprintf("       PubKeyHash: %x", out.PubKeyHash))
	}
	return strings.Join(lines, "\n")
}
