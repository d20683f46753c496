// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/BoostyLabs/walletcore/bitcoin/txbuilder"
)

var testParams = &chaincfg.RegressionNetParams

func foreignAddress(t *testing.T) string {
	address, err := btcutil.NewAddressWitnessPubKeyHash(bytes.Repeat([]byte{0x42}, 20), testParams)
	require.NoError(t, err)

	return address.EncodeAddress()
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	global := []string{
		"--configfile=" + filepath.Join(dir, "missing.conf"),
		"--datadir=" + filepath.Join(dir, "data"),
		"--logdir=" + filepath.Join(dir, "logs"),
		"--network=regtest",
		"--debuglevel=off",
		"--seed=" + strings.Repeat("01", 32),
	}

	exec := func(t *testing.T, args ...string) string {
		var out bytes.Buffer
		require.NoError(t, run(append(append([]string{}, global...), args...), &out))

		return strings.TrimSpace(out.String())
	}

	receive := exec(t, "newaddress")
	address, err := btcutil.DecodeAddress(receive, testParams)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(address)
	require.NoError(t, err)

	funding := wire.NewMsgTx(2)
	funding.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.Hash{0x01}}, nil, nil))
	funding.AddTxOut(wire.NewTxOut(100000, script))
	var raw bytes.Buffer
	require.NoError(t, funding.Serialize(&raw))

	txid := exec(t, "addtx", "--height=100", hex.EncodeToString(raw.Bytes()))
	require.Equal(t, funding.TxHash().String(), txid)

	var balance map[string]int64
	require.NoError(t, json.Unmarshal([]byte(exec(t, "balance")), &balance))
	require.EqualValues(t, 100000, balance["confirmed"])
	require.EqualValues(t, 100000, balance["total"])

	var unspent []utxoView
	require.NoError(t, json.Unmarshal([]byte(exec(t, "listunspent")), &unspent))
	require.Len(t, unspent, 1)
	require.Equal(t, receive, unspent[0].Address)
	require.Equal(t, "external", unspent[0].Keychain)

	unsigned := exec(t, "build", "--to="+foreignAddress(t)+":50000", "--feerate=1", "--rbf")
	signed := exec(t, "sign", unsigned)
	require.NotEqual(t, unsigned, signed)

	rawTx := exec(t, "extract", signed)
	txBytes, err := hex.DecodeString(rawTx)
	require.NoError(t, err)
	tx := new(wire.MsgTx)
	require.NoError(t, tx.Deserialize(bytes.NewReader(txBytes)))
	require.Len(t, tx.TxIn, 1)
	require.Equal(t, funding.TxHash(), tx.TxIn[0].PreviousOutPoint.Hash)
	require.Len(t, tx.TxIn[0].Witness, 2)
	require.True(t, txbuilder.SignalsRBF(tx.TxIn[0].Sequence))

	var decoded struct {
		Txid     string `json:"txid"`
		Complete bool   `json:"complete"`
	}
	require.NoError(t, json.Unmarshal([]byte(exec(t, "decode", signed)), &decoded))
	require.True(t, decoded.Complete)
	require.Equal(t, tx.TxHash().String(), decoded.Txid)

	combined := exec(t, "combine", unsigned, signed)
	require.Equal(t, rawTx, exec(t, "extract", combined))

	require.Equal(t, tx.TxHash().String(), exec(t, "addtx", rawTx))

	bumped := exec(t, "bumpfee", "--txid="+tx.TxHash().String(), "--feerate=5")
	bumpedTx := exec(t, "extract", exec(t, "sign", bumped))
	require.NotEqual(t, rawTx, bumpedTx)

	var txs []transactionView
	require.NoError(t, json.Unmarshal([]byte(exec(t, "listtransactions")), &txs))
	require.Len(t, txs, 2)
	require.Equal(t, funding.TxHash().String(), txs[0].Txid)
	require.EqualValues(t, 100, txs[0].Height)
	require.NotNil(t, txs[1].Fee)
}

func TestParse(t *testing.T) {
	t.Run("recipient", func(t *testing.T) {
		recipient, err := parseRecipient(foreignAddress(t)+":1500", testParams)
		require.NoError(t, err)
		require.EqualValues(t, 1500, recipient.Amount)
		require.Len(t, recipient.Script, 22)

		for _, invalid := range []string{foreignAddress(t), foreignAddress(t) + ":x", "nope:100"} {
			_, err := parseRecipient(invalid, testParams)
			require.Error(t, err, invalid)
		}
	})

	t.Run("outpoints", func(t *testing.T) {
		outPoints, err := parseOutPoints([]string{chainhash.Hash{0x01}.String() + ":3"})
		require.NoError(t, err)
		require.Equal(t, []wire.OutPoint{{Hash: chainhash.Hash{0x01}, Index: 3}}, outPoints)

		outPoints, err = parseOutPoints(nil)
		require.NoError(t, err)
		require.Nil(t, outPoints)

		_, err = parseOutPoints([]string{"nothex"})
		require.Error(t, err)
	})

	t.Run("change policy", func(t *testing.T) {
		tests := []struct {
			name   string
			policy txbuilder.ChangeSpendPolicy
		}{
			{"", txbuilder.ChangeAllowed},
			{"allowed", txbuilder.ChangeAllowed},
			{"only", txbuilder.OnlyChange},
			{"Forbidden", txbuilder.ChangeForbidden},
		}
		for _, test := range tests {
			policy, err := parseChangePolicy(test.name)
			require.NoError(t, err)
			require.Equal(t, test.policy, policy)
		}

		_, err := parseChangePolicy("never")
		require.ErrorIs(t, err, errUnknownChangePolicy)
	})

	t.Run("network", func(t *testing.T) {
		params, err := networkParams("regtest")
		require.NoError(t, err)
		require.Equal(t, testParams.Name, params.Name)

		_, err = networkParams("litecoin")
		require.Error(t, err)
	})

	t.Run("debug levels", func(t *testing.T) {
		require.NoError(t, parseAndSetDebugLevels("off"))
		require.NoError(t, parseAndSetDebugLevels("TXBD=debug,SIGN=off"))
		require.Error(t, parseAndSetDebugLevels("loud"))
		require.Error(t, parseAndSetDebugLevels("NOPE=debug"))
		require.Error(t, parseAndSetDebugLevels("TXBD"))
		require.NoError(t, parseAndSetDebugLevels("off"))
	})

	t.Run("master key", func(t *testing.T) {
		cfg := defaultConfig()
		_, err := cfg.masterKey(testParams)
		require.Error(t, err)

		cfg.Seed = strings.Repeat("01", 32)
		master, err := cfg.masterKey(testParams)
		require.NoError(t, err)
		require.True(t, master.IsPrivate())

		cfg.MasterKey = master.String()
		_, err = cfg.masterKey(testParams)
		require.Error(t, err)

		cfg.Seed = ""
		fromString, err := cfg.masterKey(testParams)
		require.NoError(t, err)
		require.Equal(t, master.String(), fromString.String())

		_, err = cfg.masterKey(&chaincfg.MainNetParams)
		require.Error(t, err)
	})
}
