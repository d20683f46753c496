// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package utils_test

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"

	"github.com/BoostyLabs/walletcore/bitcoin/utils"
)

func newPubKeys(t *testing.T, n int) []*btcec.PublicKey {
	pubKeys := make([]*btcec.PublicKey, n)
	for i := range pubKeys {
		privKey, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		pubKeys[i] = privKey.PubKey()
	}

	return pubKeys
}

func TestUnspendableScript(t *testing.T) {
	tests := []struct {
		msg []byte
	}{
		{nil},
		{[]byte("hello")},
		{bytes.Repeat([]byte{0xab}, 80)},
	}
	for _, test := range tests {
		script, err := utils.NewUnspendableScript(test.msg...)
		require.NoError(t, err)
		require.True(t, utils.IsUnspendable(script))
		require.Equal(t, txscript.NullDataTy, txscript.GetScriptClass(script))

		payload, err := utils.UnspendablePayload(script)
		require.NoError(t, err)
		require.Equal(t, len(test.msg), len(payload))
		require.True(t, bytes.Equal(test.msg, payload))
	}

	require.False(t, utils.IsUnspendable(nil))
	_, err := utils.UnspendablePayload([]byte{txscript.OP_TRUE})
	require.Error(t, err)
}

func TestMultiSigWitnessScript(t *testing.T) {
	pubKeys := newPubKeys(t, 3)

	script, err := utils.NewMultiSigWitnessScript(2, pubKeys...)
	require.NoError(t, err)
	require.Equal(t, txscript.MultiSigTy, txscript.GetScriptClass(script))

	numPubKeys, numSigs, err := txscript.CalcMultiSigStats(script)
	require.NoError(t, err)
	require.Equal(t, 3, numPubKeys)
	require.Equal(t, 2, numSigs)

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	for i, addr := range addrs {
		require.Equal(t, pubKeys[i].SerializeCompressed(), addr.ScriptAddress())
	}

	t.Run("invalid", func(t *testing.T) {
		_, err = utils.NewMultiSigWitnessScript(0, pubKeys...)
		require.Error(t, err)
		_, err = utils.NewMultiSigWitnessScript(4, pubKeys...)
		require.Error(t, err)
		_, err = utils.NewMultiSigWitnessScript(1)
		require.Error(t, err)
	})
}

func TestTaprootLeafScripts(t *testing.T) {
	pubKeys := newPubKeys(t, 3)

	script, err := utils.NewTaprootMultiSigLeafTapScript(pubKeys...)
	require.NoError(t, err)

	keys, err := utils.XOnlyKeysFromScript(script)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	for i, key := range keys {
		require.Equal(t, schnorr.SerializePubKey(pubKeys[i]), key)
	}

	_, err = utils.NewTaprootMultiSigLeafTapScript(pubKeys[0])
	require.Error(t, err)

	single, err := utils.NewSingleKeyLeafTapScript(pubKeys[0])
	require.NoError(t, err)
	keys, err = utils.XOnlyKeysFromScript(single)
	require.NoError(t, err)
	require.Equal(t, [][]byte{schnorr.SerializePubKey(pubKeys[0])}, keys)
}

func TestUpdatePSBTInputWithTapScriptLeafData(t *testing.T) {
	pubKeys := newPubKeys(t, 3)
	leafA := utils.MustUnspendableScript() // any script fits for tree building.
	leafB, err := utils.NewSingleKeyLeafTapScript(pubKeys[1])
	require.NoError(t, err)

	tree := utils.MustTapScriptTreeFromRawScripts(leafA, leafB)

	var input psbt.PInput
	require.Error(t, utils.UpdatePSBTInputWithTapScriptLeafData(&input, nil, tree))
	require.NoError(t, utils.UpdatePSBTInputWithTapScriptLeafData(&input, pubKeys[0], tree))
	require.Len(t, input.TaprootLeafScript, 2)
	require.Equal(t, schnorr.SerializePubKey(pubKeys[0]), input.TaprootInternalKey)

	address := utils.MustTaprootAddressFromScripts(&chaincfg.RegressionNetParams, pubKeys[0], leafA, leafB)
	outputKey := txscript.ComputeTaprootOutputKey(pubKeys[0], input.TaprootMerkleRoot)
	require.Equal(t, schnorr.SerializePubKey(outputKey), address.ScriptAddress())
}

func TestAddressScripts(t *testing.T) {
	pubKey := newPubKeys(t, 1)[0]
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pubKey.SerializeCompressed()), &chaincfg.TestNet3Params)
	require.NoError(t, err)

	script, err := utils.ScriptFromAddress(addr.EncodeAddress(), &chaincfg.TestNet3Params)
	require.NoError(t, err)
	require.True(t, txscript.IsPayToWitnessPubKeyHash(script))
	require.Equal(t, addr.EncodeAddress(), utils.AddressFromScript(script, &chaincfg.TestNet3Params))

	_, err = utils.ScriptFromAddress(addr.EncodeAddress(), &chaincfg.MainNetParams)
	require.Error(t, err)

	require.Equal(t, "", utils.AddressFromScript(utils.MustUnspendableScript([]byte("x")...), &chaincfg.TestNet3Params))
}
