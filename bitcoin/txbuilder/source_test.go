// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder_test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/BoostyLabs/walletcore/bitcoin"
	"github.com/BoostyLabs/walletcore/bitcoin/keychain"
	"github.com/BoostyLabs/walletcore/bitcoin/txbuilder"
)

// lookahead defines how many scripts per keychain test source recognizes.
const lookahead = 20

var (
	testParams = &chaincfg.RegressionNetParams
	// foreignScript is a P2WPKH script not owned by test wallets.
	foreignScript = append([]byte{0x00, 0x14}, bytes.Repeat([]byte{0x42}, 20)...)
)

// testSource is an in-memory txbuilder.Source over single key templates.
type testSource struct {
	t         *testing.T
	templates map[bitcoin.KeychainKind]*keychain.Template
	owned     map[string]txbuilder.OwnedScript
	utxos     []bitcoin.UTXO
	txs       map[chainhash.Hash]bitcoin.TxRecord
	funded    uint32
}

func newTestSource(t *testing.T, scriptType keychain.ScriptType) *testSource {
	master, err := hdkeychain.NewMaster(bytes.Repeat([]byte{0x01}, 32), testParams)
	require.NoError(t, err)

	external, internal, err := keychain.NewSingleKeyTemplates(master, scriptType, testParams)
	require.NoError(t, err)

	src := &testSource{
		t:         t,
		templates: map[bitcoin.KeychainKind]*keychain.Template{bitcoin.External: external, bitcoin.Internal: internal},
		owned:     make(map[string]txbuilder.OwnedScript),
		txs:       make(map[chainhash.Hash]bitcoin.TxRecord),
	}

	for kind := range src.templates {
		for index := uint32(0); index < lookahead; index++ {
			builder, _, err := src.Spend(kind, index)
			require.NoError(t, err)
			src.owned[string(builder.Script())] = txbuilder.OwnedScript{Keychain: kind, Index: index, Builder: builder}
		}
	}

	return src
}

// script returns script derived by keychain at index.
func (s *testSource) script(kind bitcoin.KeychainKind, index uint32) []byte {
	derived, err := s.templates[kind].Derive(index)
	require.NoError(s.t, err)

	return derived.Script
}

// fund adds confirmed utxo paying value to wallet script.
func (s *testSource) fund(kind bitcoin.KeychainKind, index uint32, value btcutil.Amount) bitcoin.UTXO {
	s.funded++

	var prevHash chainhash.Hash
	binary.BigEndian.PutUint32(prevHash[:], s.funded)

	parent := wire.NewMsgTx(2)
	parent.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
	parent.AddTxOut(wire.NewTxOut(int64(value), s.script(kind, index)))

	s.txs[parent.TxHash()] = bitcoin.TxRecord{Tx: parent, Confirmed: &bitcoin.BlockTime{Height: 100 + s.funded}}

	utxo := bitcoin.UTXO{
		OutPoint:        wire.OutPoint{Hash: parent.TxHash(), Index: 0},
		Value:           value,
		Script:          s.script(kind, index),
		Keychain:        kind,
		DerivationIndex: index,
	}
	s.utxos = append(s.utxos, utxo)

	return utxo
}

// insert records transaction as unconfirmed, marks spent utxos and adds owned outputs.
func (s *testSource) insert(tx *wire.MsgTx) {
	for _, txIn := range tx.TxIn {
		for i := range s.utxos {
			if s.utxos[i].OutPoint == txIn.PreviousOutPoint {
				s.utxos[i].IsSpent = true
			}
		}
	}

	for vout, txOut := range tx.TxOut {
		owned, ok := s.owned[string(txOut.PkScript)]
		if !ok {
			continue
		}

		s.utxos = append(s.utxos, bitcoin.UTXO{
			OutPoint:        wire.OutPoint{Hash: tx.TxHash(), Index: uint32(vout)},
			Value:           btcutil.Amount(txOut.Value),
			Script:          txOut.PkScript,
			Keychain:        owned.Keychain,
			DerivationIndex: owned.Index,
		})
	}

	s.txs[tx.TxHash()] = bitcoin.TxRecord{Tx: tx}
}

func (s *testSource) UTXOs() ([]bitcoin.UTXO, error) {
	return append([]bitcoin.UTXO(nil), s.utxos...), nil
}

func (s *testSource) UTXO(outPoint wire.OutPoint) (bitcoin.UTXO, error) {
	for _, utxo := range s.utxos {
		if utxo.OutPoint == outPoint {
			return utxo, nil
		}
	}

	return bitcoin.UTXO{}, fmt.Errorf("%w: %s", bitcoin.ErrUnknownUTXO, outPoint)
}

func (s *testSource) Tx(hash chainhash.Hash) (bitcoin.TxRecord, error) {
	record, ok := s.txs[hash]
	if !ok {
		return bitcoin.TxRecord{}, fmt.Errorf("%w: %s", bitcoin.ErrTransactionNotFound, hash)
	}

	return record, nil
}

func (s *testSource) Spend(kind bitcoin.KeychainKind, index uint32) (*txbuilder.PSBTInputBuilder, int64, error) {
	template := s.templates[kind]
	derived, err := template.Derive(index)
	if err != nil {
		return nil, 0, err
	}

	origins := make([]txbuilder.KeyOrigin, len(derived.Keys))
	for i, key := range derived.Keys {
		origins[i] = txbuilder.KeyOrigin{PubKey: key.PubKey, Fingerprint: key.Fingerprint, Path: key.Path}
	}

	builder, err := txbuilder.NewPSBTInputBuilder(derived.Script, derived.RedeemScript, derived.WitnessScript, origins...)
	if err != nil {
		return nil, 0, err
	}

	return builder, template.SatisfactionWeight(), nil
}

func (s *testSource) Owner(script []byte) (*txbuilder.OwnedScript, error) {
	owned, ok := s.owned[string(script)]
	if !ok {
		return nil, nil
	}

	return &owned, nil
}

func (s *testSource) ChangeScript() ([]byte, error) {
	return s.script(bitcoin.Internal, 0), nil
}
