// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package keychain

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txsizes"

	"github.com/BoostyLabs/walletcore/bitcoin/utils"
)

// ScriptType defines kind of scripts produced by Template.
type ScriptType uint8

const (
	// WPKH defines native segwit v0 single key scripts.
	WPKH ScriptType = iota
	// ShWPKH defines segwit v0 single key scripts nested in P2SH.
	ShWPKH
	// PKH defines legacy single key scripts.
	PKH
	// TR defines taproot scripts spendable by key path only.
	TR
	// WSHMulti defines native segwit v0 M of N multisig scripts.
	WSHMulti
)

// String returns descriptor function name of the script type.
func (t ScriptType) String() string {
	switch t {
	case WPKH:
		return "wpkh"
	case ShWPKH:
		return "sh(wpkh)"
	case PKH:
		return "pkh"
	case TR:
		return "tr"
	case WSHMulti:
		return "wsh(multi)"
	default:
		return "unknown"
	}
}

// ParseScriptType returns script type by its descriptor function name.
func ParseScriptType(name string) (ScriptType, error) {
	for _, scriptType := range []ScriptType{WPKH, ShWPKH, PKH, TR, WSHMulti} {
		if scriptType.String() == name {
			return scriptType, nil
		}
	}

	return 0, fmt.Errorf("unknown script type %q", name)
}

// Purpose returns BIP43 purpose for single key script types.
func (t ScriptType) Purpose() uint32 {
	switch t {
	case PKH:
		return 44
	case ShWPKH:
		return 49
	case TR:
		return 86
	default:
		return 84
	}
}

// DerivedKey is a public key derived by Template with its origin.
type DerivedKey struct {
	PubKey      *btcec.PublicKey
	Fingerprint uint32
	Path        []uint32
}

// Derived holds scripts and keys derived by Template for an index.
type Derived struct {
	Index         uint32
	Script        []byte // ScriptPubKey.
	RedeemScript  []byte // set for sh(wpkh).
	WitnessScript []byte // set for wsh(multi).
	Keys          []DerivedKey
	Address       btcutil.Address
}

// Template is an opaque derivation template producing scripts and keys per index.
type Template struct {
	scriptType ScriptType
	threshold  int
	branch     uint32
	keys       []AccountKey
	params     *chaincfg.Params
}

// NewTemplate is a constructor for Template. Keys are derived as key/branch/index.
func NewTemplate(scriptType ScriptType, threshold int, branch uint32, params *chaincfg.Params, keys ...AccountKey) (*Template, error) {
	if len(keys) == 0 {
		return nil, errors.New("no keys provided")
	}
	if branch >= hdkeychain.HardenedKeyStart {
		return nil, errors.New("hardened branch can not be derived from public key")
	}

	switch scriptType {
	case WPKH, ShWPKH, PKH, TR:
		if len(keys) != 1 {
			return nil, fmt.Errorf("%s template requires exactly one key", scriptType)
		}
		threshold = 1
	case WSHMulti:
		if threshold < 1 || threshold > len(keys) {
			return nil, errors.New("invalid multisig threshold")
		}
	default:
		return nil, errors.New("unknown script type")
	}

	return &Template{
		scriptType: scriptType,
		threshold:  threshold,
		branch:     branch,
		keys:       append([]AccountKey(nil), keys...),
		params:     params,
	}, nil
}

// NewSingleKeyTemplates builds BIP44/49/84/86 external and internal templates for master key.
func NewSingleKeyTemplates(master *hdkeychain.ExtendedKey, scriptType ScriptType, params *chaincfg.Params) (external, internal *Template, err error) {
	account, err := NewAccountKey(master,
		hdkeychain.HardenedKeyStart+scriptType.Purpose(),
		hdkeychain.HardenedKeyStart+CoinType(params),
		hdkeychain.HardenedKeyStart,
	)
	if err != nil {
		return nil, nil, err
	}

	external, err = NewTemplate(scriptType, 1, 0, params, account)
	if err != nil {
		return nil, nil, err
	}

	internal, err = NewTemplate(scriptType, 1, 1, params, account)
	if err != nil {
		return nil, nil, err
	}

	return external, internal, nil
}

// ScriptType returns template script type.
func (t *Template) ScriptType() ScriptType {
	return t.scriptType
}

// Keys returns template account keys.
func (t *Template) Keys() []AccountKey {
	return t.keys
}

// Derive returns scripts and keys for index.
func (t *Template) Derive(index uint32) (*Derived, error) {
	if index >= hdkeychain.HardenedKeyStart {
		return nil, errors.New("hardened index can not be derived")
	}

	derived := &Derived{Index: index, Keys: make([]DerivedKey, len(t.keys))}
	for i, accountKey := range t.keys {
		key, path, err := accountKey.Derive(t.branch, index)
		if err != nil {
			return nil, err
		}

		pubKey, err := key.ECPubKey()
		if err != nil {
			return nil, err
		}

		derived.Keys[i] = DerivedKey{PubKey: pubKey, Fingerprint: accountKey.Fingerprint, Path: path}
	}

	var err error
	switch t.scriptType {
	case WPKH:
		derived.Address, err = btcutil.NewAddressWitnessPubKeyHash(
			btcutil.Hash160(derived.Keys[0].PubKey.SerializeCompressed()), t.params)
	case PKH:
		derived.Address, err = btcutil.NewAddressPubKeyHash(
			btcutil.Hash160(derived.Keys[0].PubKey.SerializeCompressed()), t.params)
	case ShWPKH:
		var witnessAddr *btcutil.AddressWitnessPubKeyHash
		witnessAddr, err = btcutil.NewAddressWitnessPubKeyHash(
			btcutil.Hash160(derived.Keys[0].PubKey.SerializeCompressed()), t.params)
		if err != nil {
			return nil, err
		}
		derived.RedeemScript, err = txscript.PayToAddrScript(witnessAddr)
		if err != nil {
			return nil, err
		}
		derived.Address, err = btcutil.NewAddressScriptHash(derived.RedeemScript, t.params)
	case TR:
		outputKey := txscript.ComputeTaprootKeyNoScript(derived.Keys[0].PubKey)
		derived.Address, err = btcutil.NewAddressTaproot(schnorr.SerializePubKey(outputKey), t.params)
	case WSHMulti:
		pubKeys := make([]*btcec.PublicKey, len(derived.Keys))
		for i, key := range derived.Keys {
			pubKeys[i] = key.PubKey
		}
		derived.WitnessScript, err = utils.NewMultiSigWitnessScript(t.threshold, pubKeys...)
		if err != nil {
			return nil, err
		}
		scriptHash := sha256.Sum256(derived.WitnessScript)
		derived.Address, err = btcutil.NewAddressWitnessScriptHash(scriptHash[:], t.params)
	}
	if err != nil {
		return nil, err
	}

	derived.Script, err = txscript.PayToAddrScript(derived.Address)
	if err != nil {
		return nil, err
	}

	return derived, nil
}

// SatisfactionWeight returns the maximum weight of scriptSig and witness spending template script.
func (t *Template) SatisfactionWeight() int64 {
	switch t.scriptType {
	case WPKH:
		return txsizes.RedeemP2WPKHInputWitnessWeight
	case ShWPKH:
		// scriptSig pushes 22 bytes redeem script, counted as non-witness data.
		return txsizes.RedeemNestedP2WPKHScriptSize*4 + txsizes.RedeemP2WPKHInputWitnessWeight
	case PKH:
		return txsizes.RedeemP2PKHSigScriptSize * 4
	case TR:
		return txsizes.RedeemP2TRInputWitnessWeight
	default:
		return MultiSigSatisfactionWeight(t.threshold, len(t.keys))
	}
}

// MultiSigSatisfactionWeight returns maximum witness weight of M of N CHECKMULTISIG witness script spend.
func MultiSigSatisfactionWeight(required, total int) int64 {
	// OP_M + N * (push 33 bytes key) + OP_N + OP_CHECKMULTISIG.
	scriptSize := int64(3 + 34*total)

	// items count, empty dummy item, signatures with length prefix, script with length prefix.
	return 1 + 1 + int64(required)*(1+73) + int64(wire.VarIntSerializeSize(uint64(scriptSize))) + scriptSize
}

// String returns descriptor-like representation of the template with public keys only.
func (t *Template) String() string {
	keys := make([]string, len(t.keys))
	for i, key := range t.keys {
		keys[i] = fmt.Sprintf("%s/%d/*", key.String(), t.branch)
	}

	switch t.scriptType {
	case ShWPKH:
		return "sh(wpkh(" + keys[0] + "))"
	case WSHMulti:
		return fmt.Sprintf("wsh(multi(%d,%s))", t.threshold, strings.Join(keys, ","))
	default:
		return t.scriptType.String() + "(" + keys[0] + ")"
	}
}
