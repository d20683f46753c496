// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder_test

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"

	"github.com/BoostyLabs/walletcore/bitcoin/txbuilder"
	"github.com/BoostyLabs/walletcore/bitcoin/utils"
)

func TestPSBTInputBuilder(t *testing.T) {
	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	otherKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	origin := txbuilder.KeyOrigin{PubKey: privKey.PubKey(), Fingerprint: 0x01020304, Path: []uint32{84, 1, 0, 0, 7}}
	pubKeyHash := btcutil.Hash160(privKey.PubKey().SerializeCompressed())

	wpkhAddr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, testParams)
	require.NoError(t, err)
	wpkhScript, err := txscript.PayToAddrScript(wpkhAddr)
	require.NoError(t, err)

	trAddr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(txscript.ComputeTaprootKeyNoScript(privKey.PubKey())), testParams)
	require.NoError(t, err)
	trScript, err := txscript.PayToAddrScript(trAddr)
	require.NoError(t, err)

	witnessScript, err := utils.NewMultiSigWitnessScript(2, privKey.PubKey(), otherKey.PubKey())
	require.NoError(t, err)
	wshAddr, err := btcutil.NewAddressWitnessScriptHash(scriptHash(witnessScript), testParams)
	require.NoError(t, err)
	wshScript, err := txscript.PayToAddrScript(wshAddr)
	require.NoError(t, err)

	t.Run("p2wpkh", func(t *testing.T) {
		pib, err := txbuilder.NewPSBTInputBuilder(wpkhScript, nil, nil, origin)
		require.NoError(t, err)
		require.Equal(t, txbuilder.P2WPKH, pib.ScriptType())
		require.True(t, pib.HasWitness())

		var input psbt.PInput
		pib.PrepareInput(&input)
		require.Len(t, input.Bip32Derivation, 1)
		require.Equal(t, privKey.PubKey().SerializeCompressed(), input.Bip32Derivation[0].PubKey)
		require.Equal(t, origin.Fingerprint, input.Bip32Derivation[0].MasterKeyFingerprint)
		require.Equal(t, origin.Path, input.Bip32Derivation[0].Bip32Path)
	})

	t.Run("p2tr", func(t *testing.T) {
		pib, err := txbuilder.NewPSBTInputBuilder(trScript, nil, nil, origin)
		require.NoError(t, err)

		var output psbt.POutput
		pib.PrepareOutput(&output)
		require.Equal(t, schnorr.SerializePubKey(privKey.PubKey()), output.TaprootInternalKey)
		require.Len(t, output.TaprootBip32Derivation, 1)
		require.Empty(t, output.Bip32Derivation)
	})

	t.Run("p2wsh", func(t *testing.T) {
		otherOrigin := txbuilder.KeyOrigin{PubKey: otherKey.PubKey(), Fingerprint: 0x0a0b0c0d, Path: []uint32{1}}
		pib, err := txbuilder.NewPSBTInputBuilder(wshScript, nil, witnessScript, origin, otherOrigin)
		require.NoError(t, err)

		var input psbt.PInput
		pib.PrepareInput(&input)
		require.Equal(t, witnessScript, input.WitnessScript)
		require.Len(t, input.Bip32Derivation, 2)
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name          string
			script        []byte
			witnessScript []byte
			origins       []txbuilder.KeyOrigin
		}{
			{"wrong key", wpkhScript, nil, []txbuilder.KeyOrigin{{PubKey: otherKey.PubKey()}}},
			{"no key", trScript, nil, nil},
			{"wrong witness script", wshScript, wpkhScript, []txbuilder.KeyOrigin{origin}},
			{"non standard", []byte{0x51}, nil, []txbuilder.KeyOrigin{origin}},
		}
		for _, test := range tests {
			t.Run(test.name, func(t *testing.T) {
				_, err := txbuilder.NewPSBTInputBuilder(test.script, nil, test.witnessScript, test.origins...)
				require.ErrorIs(t, err, txbuilder.ErrPSBTInputBuilder)
			})
		}
	})
}

func scriptHash(script []byte) []byte {
	hash := sha256.Sum256(script)
	return hash[:]
}
