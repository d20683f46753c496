// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package utils

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// NewTaprootAddressFromScripts generates taproot address with tree built from provided leaf scripts.
func NewTaprootAddressFromScripts(chainParams *chaincfg.Params, internalKey *btcec.PublicKey, leafScripts ...[]byte) (*btcutil.AddressTaproot, error) {
	tapScriptTree, err := NewTapScriptTreeFromRawScripts(leafScripts...)
	if err != nil {
		return nil, err
	}

	tapScriptRootHash := tapScriptTree.RootNode.TapHash()
	outputKey := txscript.ComputeTaprootOutputKey(internalKey, tapScriptRootHash[:])

	return btcutil.NewAddressTaproot(schnorr.SerializePubKey(outputKey), chainParams)
}

// MustTaprootAddressFromScripts uses NewTaprootAddressFromScripts, panics in case of error.
func MustTaprootAddressFromScripts(chainParams *chaincfg.Params, internalKey *btcec.PublicKey, leafScripts ...[]byte) *btcutil.AddressTaproot {
	address, err := NewTaprootAddressFromScripts(chainParams, internalKey, leafScripts...)
	if err != nil {
		panic(err)
	}

	return address
}

// ScriptFromAddress decodes address for the network and returns its locking script.
func ScriptFromAddress(address string, chainParams *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, chainParams)
	if err != nil {
		return nil, err
	}
	if !addr.IsForNet(chainParams) {
		return nil, btcutil.ErrUnknownAddressType
	}

	return txscript.PayToAddrScript(addr)
}

// AddressFromScript returns encoded address of standard single destination script,
// empty string if script has no address form.
func AddressFromScript(script []byte, chainParams *chaincfg.Params) string {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, chainParams)
	if err != nil || len(addrs) != 1 {
		return ""
	}

	return addrs[0].EncodeAddress()
}
