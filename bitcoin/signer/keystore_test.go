// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package signer_test

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/stretchr/testify/require"

	"github.com/BoostyLabs/walletcore/bitcoin/keychain"
	"github.com/BoostyLabs/walletcore/bitcoin/signer"
)

func TestStaticKeys(t *testing.T) {
	key := newKey(0x05)
	keys := signer.NewStaticKeys(key)

	for _, pubKey := range [][]byte{
		key.PubKey().SerializeCompressed(),
		key.PubKey().SerializeUncompressed(),
		schnorr.SerializePubKey(key.PubKey()),
	} {
		privKey, err := keys.PrivateKey(pubKey, nil)
		require.NoError(t, err)
		require.Equal(t, key, privKey)
	}

	privKey, err := keys.PrivateKey(newKey(0x06).PubKey().SerializeCompressed(), nil)
	require.NoError(t, err)
	require.Nil(t, privKey)
	require.Len(t, keys.PubKeys(), 1)
}

func TestHDKeys(t *testing.T) {
	master, err := hdkeychain.NewMaster(bytes.Repeat([]byte{0x09}, 32), testParams)
	require.NoError(t, err)

	account, err := keychain.NewAccountKey(master, hdkeychain.HardenedKeyStart+84, hdkeychain.HardenedKeyStart+1, hdkeychain.HardenedKeyStart)
	require.NoError(t, err)

	child, path, err := account.Derive(0, 5)
	require.NoError(t, err)
	pubKey, err := child.ECPubKey()
	require.NoError(t, err)

	public, err := account.Neuter()
	require.NoError(t, err)

	keys := signer.NewHDKeys(account, public)

	tests := []struct {
		name   string
		pubKey []byte
		origin *signer.KeyOrigin
		found  bool
	}{
		{"compressed", pubKey.SerializeCompressed(), &signer.KeyOrigin{Fingerprint: account.Fingerprint, Path: path}, true},
		{"x-only", schnorr.SerializePubKey(pubKey), &signer.KeyOrigin{Fingerprint: account.Fingerprint, Path: path}, true},
		{"no origin", pubKey.SerializeCompressed(), nil, false},
		{"other fingerprint", pubKey.SerializeCompressed(), &signer.KeyOrigin{Fingerprint: account.Fingerprint + 1, Path: path}, false},
		{"other account", pubKey.SerializeCompressed(), &signer.KeyOrigin{Fingerprint: account.Fingerprint, Path: []uint32{0, 5}}, false},
		{"other key", newKey(0x06).PubKey().SerializeCompressed(), &signer.KeyOrigin{Fingerprint: account.Fingerprint, Path: path}, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			privKey, err := keys.PrivateKey(test.pubKey, test.origin)
			require.NoError(t, err)
			if !test.found {
				require.Nil(t, privKey)
				return
			}

			require.NotNil(t, privKey)
			require.Equal(t, pubKey.SerializeCompressed(), privKey.PubKey().SerializeCompressed())
		})
	}
}
