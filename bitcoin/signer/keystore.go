// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package signer

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/BoostyLabs/walletcore/bitcoin/keychain"
)

// pubKeyBytesLenUncompressed is the length of uncompressed SEC1 public key.
const pubKeyBytesLenUncompressed = 65

// KeyOrigin describes derivation of public key from master key as recorded in PSBT.
type KeyOrigin struct {
	Fingerprint uint32
	Path        []uint32
}

// KeyStore resolves private keys of public keys met in PSBT inputs.
type KeyStore interface {
	// PrivateKey returns private key for public key serialized in compressed,
	// uncompressed or x-only form. Origin is nil when PSBT has no derivation
	// for the key. Nil key is returned for unknown keys.
	PrivateKey(pubKey []byte, origin *KeyOrigin) (*btcec.PrivateKey, error)
}

// KeyLister is implemented by key stores able to enumerate public keys.
// It allows signing inputs committing to key hashes without derivation data.
type KeyLister interface {
	PubKeys() []*btcec.PublicKey
}

// StaticKeys is a KeyStore over fixed set of private keys.
type StaticKeys struct {
	keys    map[string]*btcec.PrivateKey
	pubKeys []*btcec.PublicKey
}

// NewStaticKeys is a constructor for StaticKeys.
func NewStaticKeys(keys ...*btcec.PrivateKey) *StaticKeys {
	static := &StaticKeys{keys: make(map[string]*btcec.PrivateKey, 3*len(keys))}
	for _, key := range keys {
		pubKey := key.PubKey()
		static.keys[string(pubKey.SerializeCompressed())] = key
		static.keys[string(pubKey.SerializeUncompressed())] = key
		static.keys[string(schnorr.SerializePubKey(pubKey))] = key
		static.pubKeys = append(static.pubKeys, pubKey)
	}

	return static
}

// PrivateKey returns private key of public key, origin is ignored.
func (s *StaticKeys) PrivateKey(pubKey []byte, _ *KeyOrigin) (*btcec.PrivateKey, error) {
	return s.keys[string(pubKey)], nil
}

// PubKeys returns public keys of the store.
func (s *StaticKeys) PubKeys() []*btcec.PublicKey {
	return s.pubKeys
}

// HDKeys is a KeyStore deriving private keys from extended account keys
// following PSBT derivation paths.
type HDKeys struct {
	accounts []keychain.AccountKey
}

// NewHDKeys is a constructor for HDKeys. Public account keys are ignored.
func NewHDKeys(accounts ...keychain.AccountKey) *HDKeys {
	hd := new(HDKeys)
	for _, account := range accounts {
		if account.IsPrivate() {
			hd.accounts = append(hd.accounts, account)
		}
	}

	return hd
}

// PrivateKey derives private key by origin and checks it matches public key.
func (h *HDKeys) PrivateKey(pubKey []byte, origin *KeyOrigin) (*btcec.PrivateKey, error) {
	if origin == nil {
		return nil, nil
	}

	for _, account := range h.accounts {
		if account.Fingerprint != origin.Fingerprint || !hasPrefix(origin.Path, account.Path) {
			continue
		}

		key, _, err := account.Derive(origin.Path[len(account.Path):]...)
		if err != nil {
			return nil, err
		}

		privKey, err := key.ECPrivKey()
		if err != nil {
			return nil, err
		}
		if matchesPubKey(privKey.PubKey(), pubKey) {
			return privKey, nil
		}
	}

	return nil, nil
}

// matchesPubKey returns true if serialized is any serialization of pubKey.
func matchesPubKey(pubKey *btcec.PublicKey, serialized []byte) bool {
	switch len(serialized) {
	case btcec.PubKeyBytesLenCompressed:
		return bytes.Equal(pubKey.SerializeCompressed(), serialized)
	case pubKeyBytesLenUncompressed:
		return bytes.Equal(pubKey.SerializeUncompressed(), serialized)
	case schnorr.PubKeyBytesLen:
		return bytes.Equal(schnorr.SerializePubKey(pubKey), serialized)
	default:
		return false
	}
}

func hasPrefix(path, prefix []uint32) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}

	return true
}
