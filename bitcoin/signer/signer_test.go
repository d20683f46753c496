// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package signer_test

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/BoostyLabs/walletcore/bitcoin"
	"github.com/BoostyLabs/walletcore/bitcoin/keychain"
	"github.com/BoostyLabs/walletcore/bitcoin/psbtutil"
	"github.com/BoostyLabs/walletcore/bitcoin/signer"
	"github.com/BoostyLabs/walletcore/bitcoin/txbuilder"
	"github.com/BoostyLabs/walletcore/bitcoin/utils"
)

var testParams = &chaincfg.RegressionNetParams

// fixture is a transaction spending one 100000 sat output per script.
type fixture struct {
	packet   *psbt.Packet
	prevOuts map[wire.OutPoint]*wire.TxOut
}

func newFixture(t *testing.T, scripts ...[]byte) *fixture {
	f := &fixture{prevOuts: make(map[wire.OutPoint]*wire.TxOut, len(scripts))}

	tx := wire.NewMsgTx(2)
	parents := make([]*wire.MsgTx, len(scripts))
	for i, script := range scripts {
		parent := wire.NewMsgTx(2)
		parent.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{byte(i + 1)}, 0), nil, nil))
		parent.AddTxOut(wire.NewTxOut(100000, script))
		parents[i] = parent

		parentHash := parent.TxHash()
		outPoint := wire.NewOutPoint(&parentHash, 0)
		tx.AddTxIn(wire.NewTxIn(outPoint, nil, nil))
		f.prevOuts[*outPoint] = parent.TxOut[0]
	}
	tx.AddTxOut(wire.NewTxOut(int64(len(scripts))*100000-1000, append([]byte{0x00, 0x14}, bytes.Repeat([]byte{0x42}, 20)...)))

	var err error
	f.packet, err = psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)

	for i, parent := range parents {
		f.packet.Inputs[i].WitnessUtxo = parent.TxOut[0]
		if !txscript.IsPayToTaproot(parent.TxOut[0].PkScript) {
			f.packet.Inputs[i].NonWitnessUtxo = parent
		}
	}

	return f
}

// verify extracts transaction and executes every input script.
func (f *fixture) verify(t *testing.T) *wire.MsgTx {
	tx, err := psbtutil.Extract(f.packet)
	require.NoError(t, err)

	fetcher := txscript.NewMultiPrevOutFetcher(f.prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, txIn := range tx.TxIn {
		prevOut := f.prevOuts[txIn.PreviousOutPoint]

		engine, err := txscript.NewEngine(prevOut.PkScript, tx, i, txscript.StandardVerifyFlags, nil, sigHashes, prevOut.Value, fetcher)
		require.NoError(t, err)
		require.NoError(t, engine.Execute())
	}

	return tx
}

func newKey(b byte) *btcec.PrivateKey {
	key, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{b}, 32))
	return key
}

func wpkhScript(t *testing.T, key *btcec.PrivateKey) []byte {
	address, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(key.PubKey().SerializeCompressed()), testParams)
	require.NoError(t, err)

	script, err := txscript.PayToAddrScript(address)
	require.NoError(t, err)

	return script
}

func TestSignSingleKey(t *testing.T) {
	master, err := hdkeychain.NewMaster(bytes.Repeat([]byte{0x07}, 32), testParams)
	require.NoError(t, err)

	account, err := keychain.NewAccountKey(master)
	require.NoError(t, err)

	keys := signer.NewKeySigner(signer.NewHDKeys(account))

	tests := []struct {
		name       string
		scriptType keychain.ScriptType
	}{
		{"pkh", keychain.PKH},
		{"sh(wpkh)", keychain.ShWPKH},
		{"wpkh", keychain.WPKH},
		{"tr", keychain.TR},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			external, _, err := keychain.NewSingleKeyTemplates(master, test.scriptType, testParams)
			require.NoError(t, err)

			derived, err := external.Derive(3)
			require.NoError(t, err)

			origin := txbuilder.KeyOrigin{PubKey: derived.Keys[0].PubKey, Fingerprint: derived.Keys[0].Fingerprint, Path: derived.Keys[0].Path}
			pib, err := txbuilder.NewPSBTInputBuilder(derived.Script, derived.RedeemScript, derived.WitnessScript, origin)
			require.NoError(t, err)

			f := newFixture(t, derived.Script)
			pib.PrepareInput(&f.packet.Inputs[0])

			complete, err := signer.Sign(f.packet, signer.DefaultSignOptions(), keys)
			require.NoError(t, err)
			require.True(t, complete)
			require.Empty(t, f.packet.Inputs[0].PartialSigs)
			require.Empty(t, f.packet.Inputs[0].TaprootKeySpendSig)

			f.verify(t)
		})
	}

	t.Run("unknown fingerprint", func(t *testing.T) {
		f := newFixture(t, wpkhScript(t, newKey(0x01)))
		f.packet.Inputs[0].Bip32Derivation = []*psbt.Bip32Derivation{{
			PubKey:               newKey(0x01).PubKey().SerializeCompressed(),
			MasterKeyFingerprint: account.Fingerprint + 1,
			Bip32Path:            []uint32{0},
		}}

		complete, err := signer.Sign(f.packet, signer.DefaultSignOptions(), keys)
		require.NoError(t, err)
		require.False(t, complete)
		require.Empty(t, f.packet.Inputs[0].PartialSigs)
	})
}

func TestSignMultiSig(t *testing.T) {
	keyA, keyB := newKey(0x0a), newKey(0x0b)

	witnessScript, err := utils.NewMultiSigWitnessScript(2, keyA.PubKey(), keyB.PubKey())
	require.NoError(t, err)

	scriptHash := sha256.Sum256(witnessScript)
	address, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], testParams)
	require.NoError(t, err)

	script, err := txscript.PayToAddrScript(address)
	require.NoError(t, err)

	signerA := signer.NewKeySigner(signer.NewStaticKeys(keyA))
	signerB := signer.NewKeySigner(signer.NewStaticKeys(keyB))

	newMultiSigFixture := func() *fixture {
		f := newFixture(t, script)
		f.packet.Inputs[0].WitnessScript = witnessScript

		return f
	}

	checkWitness := func(t *testing.T, tx *wire.MsgTx, sigA, sigB []byte) {
		witness := tx.TxIn[0].Witness
		require.Len(t, witness, 4)
		require.Empty(t, witness[0])
		require.Equal(t, sigA, witness[1])
		require.Equal(t, sigB, witness[2])
		require.Equal(t, witnessScript, witness[3])
	}

	t.Run("sequential", func(t *testing.T) {
		f := newMultiSigFixture()

		complete, err := signer.Sign(f.packet, signer.DefaultSignOptions(), signerA)
		require.NoError(t, err)
		require.False(t, complete)
		require.Len(t, f.packet.Inputs[0].PartialSigs, 1)
		sigA := f.packet.Inputs[0].PartialSigs[0].Signature

		opts := signer.DefaultSignOptions()
		opts.RemovePartialSigs = false
		complete, err = signer.Sign(f.packet, opts, signerB)
		require.NoError(t, err)
		require.True(t, complete)
		require.Len(t, f.packet.Inputs[0].PartialSigs, 2)
		sigB := f.packet.Inputs[0].PartialSigs[1].Signature

		tx := f.verify(t)
		checkWitness(t, tx, sigA, sigB)
	})

	t.Run("reverse order", func(t *testing.T) {
		f := newMultiSigFixture()

		complete, err := signer.Sign(f.packet, signer.DefaultSignOptions(), signerB, signerA)
		require.NoError(t, err)
		require.True(t, complete)

		f.verify(t)
	})

	t.Run("combine", func(t *testing.T) {
		f := newMultiSigFixture()

		a, err := psbtutil.Copy(f.packet)
		require.NoError(t, err)
		b, err := psbtutil.Copy(f.packet)
		require.NoError(t, err)

		complete, err := signer.Sign(a, signer.DefaultSignOptions(), signerA)
		require.NoError(t, err)
		require.False(t, complete)

		complete, err = signer.Sign(b, signer.DefaultSignOptions(), signerB)
		require.NoError(t, err)
		require.False(t, complete)

		sigA, sigB := a.Inputs[0].PartialSigs[0].Signature, b.Inputs[0].PartialSigs[0].Signature

		for _, packets := range [][2]*psbt.Packet{{a, b}, {b, a}} {
			combined, err := psbtutil.Combine(packets[0], packets[1])
			require.NoError(t, err)

			complete, err := signer.Finalize(combined, signer.DefaultSignOptions())
			require.NoError(t, err)
			require.True(t, complete)

			f.packet = combined
			tx := f.verify(t)
			checkWitness(t, tx, sigA, sigB)
		}
	})

	t.Run("signatures are kept", func(t *testing.T) {
		f := newMultiSigFixture()

		opts := signer.DefaultSignOptions()
		opts.TryFinalize = false

		_, err := signer.Sign(f.packet, opts, signerA)
		require.NoError(t, err)
		sig := f.packet.Inputs[0].PartialSigs[0]

		_, err = signer.Sign(f.packet, opts, signerA)
		require.NoError(t, err)
		require.Len(t, f.packet.Inputs[0].PartialSigs, 1)
		require.Same(t, sig, f.packet.Inputs[0].PartialSigs[0])
	})
}

func TestSignTaprootScriptPath(t *testing.T) {
	keyA, keyB, internalKey := newKey(0x1a), newKey(0x1b), newKey(0x1c)

	multiSigLeaf, err := utils.NewTaprootMultiSigLeafTapScript(keyA.PubKey(), keyB.PubKey())
	require.NoError(t, err)
	singleLeaf, err := utils.NewSingleKeyLeafTapScript(keyA.PubKey())
	require.NoError(t, err)

	tree := utils.MustTapScriptTreeFromRawScripts(multiSigLeaf, singleLeaf)
	address := utils.MustTaprootAddressFromScripts(testParams, internalKey.PubKey(), multiSigLeaf, singleLeaf)
	script, err := txscript.PayToAddrScript(address)
	require.NoError(t, err)

	newTreeFixture := func() *fixture {
		f := newFixture(t, script)
		require.NoError(t, utils.UpdatePSBTInputWithTapScriptLeafData(&f.packet.Inputs[0], internalKey.PubKey(), tree))

		return f
	}

	t.Run("multisig leaf", func(t *testing.T) {
		f := newTreeFixture()

		complete, err := signer.Sign(f.packet, signer.DefaultSignOptions(), signer.NewKeySigner(signer.NewStaticKeys(keyA, keyB)))
		require.NoError(t, err)
		require.True(t, complete)

		tx := f.verify(t)
		require.Len(t, tx.TxIn[0].Witness, 4)
		require.Equal(t, multiSigLeaf, tx.TxIn[0].Witness[2])
	})

	t.Run("single key leaf", func(t *testing.T) {
		f := newTreeFixture()

		complete, err := signer.Sign(f.packet, signer.DefaultSignOptions(), signer.NewKeySigner(signer.NewStaticKeys(keyA)))
		require.NoError(t, err)
		require.True(t, complete)

		tx := f.verify(t)
		require.Len(t, tx.TxIn[0].Witness, 3)
		require.Equal(t, singleLeaf, tx.TxIn[0].Witness[1])
	})

	t.Run("key path preferred", func(t *testing.T) {
		f := newTreeFixture()

		complete, err := signer.Sign(f.packet, signer.DefaultSignOptions(), signer.NewKeySigner(signer.NewStaticKeys(keyA, internalKey)))
		require.NoError(t, err)
		require.True(t, complete)

		tx := f.verify(t)
		require.Len(t, tx.TxIn[0].Witness, 1)
	})

	t.Run("key path disabled", func(t *testing.T) {
		f := newTreeFixture()

		opts := signer.DefaultSignOptions()
		opts.SignWithTapInternalKey = false
		complete, err := signer.Sign(f.packet, opts, signer.NewKeySigner(signer.NewStaticKeys(keyA, internalKey)))
		require.NoError(t, err)
		require.True(t, complete)

		tx := f.verify(t)
		require.Len(t, tx.TxIn[0].Witness, 3)
	})

	t.Run("witness script leaf", func(t *testing.T) {
		leafAddress := utils.MustTaprootAddressFromScripts(testParams, internalKey.PubKey(), singleLeaf)
		leafScript, err := txscript.PayToAddrScript(leafAddress)
		require.NoError(t, err)

		f := newFixture(t, leafScript)
		f.packet.Inputs[0].SighashType = txscript.SigHashAll
		f.packet.Inputs[0].TaprootInternalKey = internalKey.PubKey().SerializeCompressed()[1:]
		f.packet.Inputs[0].WitnessScript = singleLeaf

		complete, err := signer.Sign(f.packet, signer.DefaultSignOptions(), signer.NewKeySigner(signer.NewStaticKeys(keyA)))
		require.NoError(t, err)
		require.True(t, complete)

		tx := f.verify(t)
		require.Len(t, tx.TxIn[0].Witness, 3)
		require.Len(t, tx.TxIn[0].Witness[0], 65)
	})
}

func TestSignOptions(t *testing.T) {
	key := newKey(0x2a)
	keys := signer.NewKeySigner(signer.NewStaticKeys(key))

	t.Run("non standard sighash", func(t *testing.T) {
		f := newFixture(t, wpkhScript(t, key))
		f.packet.Inputs[0].SighashType = txscript.SigHashSingle | txscript.SigHashAnyOneCanPay

		_, err := signer.Sign(f.packet, signer.DefaultSignOptions(), keys)
		require.ErrorIs(t, err, bitcoin.ErrNonStandardSighash)
		require.Empty(t, f.packet.Inputs[0].PartialSigs)

		opts := signer.DefaultSignOptions()
		opts.AllowAllSighashes = true
		complete, err := signer.Sign(f.packet, opts, keys)
		require.NoError(t, err)
		require.True(t, complete)

		f.verify(t)
	})

	t.Run("witness utxo only", func(t *testing.T) {
		f := newFixture(t, wpkhScript(t, key))
		f.packet.Inputs[0].NonWitnessUtxo = nil

		_, err := signer.Sign(f.packet, signer.DefaultSignOptions(), keys)
		require.ErrorIs(t, err, bitcoin.ErrMissingNonWitnessUTXO)

		opts := signer.DefaultSignOptions()
		opts.TrustWitnessUTXO = true
		complete, err := signer.Sign(f.packet, opts, keys)
		require.NoError(t, err)
		require.True(t, complete)
	})

	t.Run("missing utxo", func(t *testing.T) {
		f := newFixture(t, wpkhScript(t, key))
		f.packet.Inputs[0].NonWitnessUtxo = nil
		f.packet.Inputs[0].WitnessUtxo = nil

		_, err := signer.Sign(f.packet, signer.DefaultSignOptions(), keys)
		require.ErrorIs(t, err, bitcoin.ErrMissingUTXO)
	})

	t.Run("mismatched non-witness utxo", func(t *testing.T) {
		f := newFixture(t, wpkhScript(t, key))
		f.packet.Inputs[0].NonWitnessUtxo = wire.NewMsgTx(2)

		_, err := signer.Sign(f.packet, signer.DefaultSignOptions(), keys)
		require.ErrorIs(t, err, bitcoin.ErrInvalidPsbt)
	})

	t.Run("assume height", func(t *testing.T) {
		f := newFixture(t, wpkhScript(t, key))
		f.packet.UnsignedTx.LockTime = 200
		f.packet.UnsignedTx.TxIn[0].Sequence = wire.MaxTxInSequenceNum - 2

		opts := signer.DefaultSignOptions()
		height := uint32(199)
		opts.AssumeHeight = &height

		complete, err := signer.Sign(f.packet, opts, keys)
		require.NoError(t, err)
		require.False(t, complete)
		require.Len(t, f.packet.Inputs[0].PartialSigs, 1)
		require.Nil(t, f.packet.Inputs[0].FinalScriptWitness)

		height = 200
		complete, err = signer.Finalize(f.packet, opts)
		require.NoError(t, err)
		require.True(t, complete)
	})

	t.Run("no finalize", func(t *testing.T) {
		f := newFixture(t, wpkhScript(t, key))

		opts := signer.DefaultSignOptions()
		opts.TryFinalize = false
		complete, err := signer.Sign(f.packet, opts, keys)
		require.NoError(t, err)
		require.False(t, complete)
		require.Len(t, f.packet.Inputs[0].PartialSigs, 1)
		require.Nil(t, f.packet.Inputs[0].FinalScriptWitness)
	})

	t.Run("keep partial sigs", func(t *testing.T) {
		f := newFixture(t, wpkhScript(t, key))

		opts := signer.DefaultSignOptions()
		opts.RemovePartialSigs = false
		complete, err := signer.Sign(f.packet, opts, keys)
		require.NoError(t, err)
		require.True(t, complete)
		require.Len(t, f.packet.Inputs[0].PartialSigs, 1)
		require.NotNil(t, f.packet.Inputs[0].WitnessUtxo)
	})

	t.Run("unknown key", func(t *testing.T) {
		f := newFixture(t, wpkhScript(t, newKey(0x3a)), wpkhScript(t, key))

		complete, err := signer.Sign(f.packet, signer.DefaultSignOptions(), keys)
		require.NoError(t, err)
		require.False(t, complete)
		require.Nil(t, f.packet.Inputs[0].FinalScriptWitness)
		require.NotNil(t, f.packet.Inputs[1].FinalScriptWitness)
	})

	t.Run("unsupported script", func(t *testing.T) {
		f := newFixture(t, []byte{txscript.OP_TRUE})

		_, err := signer.Finalize(f.packet, signer.DefaultSignOptions())
		require.ErrorIs(t, err, bitcoin.ErrUnsupportedScriptType)
	})
}
