// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package utils

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
)

// maxMultiSigKeys defines the biggest standard CHECKMULTISIG keys count.
const maxMultiSigKeys = 16

// NewMultiSigWitnessScript generates M of N CHECKMULTISIG script keeping keys order.
// INFO: Script will have the next format: {OP_M <pubKey1> ... <pubKeyN> OP_N OP_CHECKMULTISIG}.
func NewMultiSigWitnessScript(required int, pubKeys ...*btcec.PublicKey) ([]byte, error) {
	if len(pubKeys) == 0 || len(pubKeys) > maxMultiSigKeys {
		return nil, errors.New("invalid public keys count")
	}
	if required < 1 || required > len(pubKeys) {
		return nil, errors.New("invalid required signatures count")
	}

	scriptBuilder := txscript.NewScriptBuilder().AddInt64(int64(required))
	for _, pubKey := range pubKeys {
		scriptBuilder.AddData(pubKey.SerializeCompressed())
	}

	return scriptBuilder.
		AddInt64(int64(len(pubKeys))).
		AddOp(txscript.OP_CHECKMULTISIG).
		Script()
}

// NewTaprootMultiSigLeafTapScript generates N of N multi-sig locking script for taproot leaf.
// INFO: Script will have the next format: {<pubKey1> OP_CHECKSIG [<pubKey2> OP_CHECKSIG_ADD [<pubKey3> OP_CHECKSIG_ADD ...]] <signListSize> OP_EQUAL}.
// NOTE: At least 2 public keys for multi-sig script generation is required.
func NewTaprootMultiSigLeafTapScript(pubKeys ...*btcec.PublicKey) ([]byte, error) {
	if len(pubKeys) < 2 {
		return nil, errors.New("at least 2 public keys are required")
	}
	if len(pubKeys) > 999 {
		return nil, errors.New("max allowed public keys: 999")
	}

	checkSigOp := byte(txscript.OP_CHECKSIG)
	scriptBuilder := txscript.NewScriptBuilder()
	for i, pubKey := range pubKeys {
		scriptBuilder.
			AddData(schnorr.SerializePubKey(pubKey)).
			AddOp(checkSigOp)
		if i == 0 {
			checkSigOp = txscript.OP_CHECKSIGADD
		}
	}

	return scriptBuilder.
		AddInt64(int64(len(pubKeys))).
		AddOp(txscript.OP_EQUAL).
		Script()
}

// NewSingleKeyLeafTapScript generates {<pubKey> OP_CHECKSIG} taproot leaf script.
func NewSingleKeyLeafTapScript(pubKey *btcec.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(schnorr.SerializePubKey(pubKey)).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// XOnlyKeysFromScript returns all 32 bytes pushes of the script in order of appearance.
func XOnlyKeysFromScript(script []byte) ([][]byte, error) {
	var (
		keys      [][]byte
		tokenizer = txscript.MakeScriptTokenizer(0, script)
	)
	for tokenizer.Next() {
		if data := tokenizer.Data(); len(data) == schnorr.PubKeyBytesLen {
			keys = append(keys, data)
		}
	}
	if err := tokenizer.Err(); err != nil {
		return nil, err
	}

	return keys, nil
}

// NewUnspendableScript builds provably unspendable script (e.g. OP_RETURN) with optional data added after.
// INFO: Def: https://en.bitcoin.it/wiki/OP_RETURN.
func NewUnspendableScript(msg ...byte) ([]byte, error) {
	scriptBuilder := txscript.NewScriptBuilder().AddOp(txscript.OP_RETURN)
	if len(msg) > 0 {
		scriptBuilder.AddData(msg)
	}

	return scriptBuilder.Script()
}

// MustUnspendableScript uses NewUnspendableScript, panics in case of error.
func MustUnspendableScript(msg ...byte) []byte {
	script, err := NewUnspendableScript(msg...)
	if err != nil {
		panic(err)
	}

	return script
}

// IsUnspendable returns true for scripts starting with OP_RETURN.
func IsUnspendable(script []byte) bool {
	return len(script) > 0 && script[0] == txscript.OP_RETURN
}

// UnspendablePayload returns data pushed after OP_RETURN.
func UnspendablePayload(script []byte) ([]byte, error) {
	if !IsUnspendable(script) {
		return nil, errors.New("not an unspendable script")
	}

	var (
		payload   []byte
		tokenizer = txscript.MakeScriptTokenizer(0, script[1:])
	)
	for tokenizer.Next() {
		payload = append(payload, tokenizer.Data()...)
	}

	return payload, tokenizer.Err()
}

// NewTapScriptTreeFromRawScripts builds tapScript tree from provided raw leaf scripts.
func NewTapScriptTreeFromRawScripts(leafScripts ...[]byte) (*txscript.IndexedTapScriptTree, error) {
	if len(leafScripts) == 0 {
		return nil, errors.New("no leaf scripts provided")
	}

	var tapLeafs = make([]txscript.TapLeaf, len(leafScripts))
	for i, leafScript := range leafScripts {
		tapLeafs[i] = txscript.NewBaseTapLeaf(leafScript)
	}

	return txscript.AssembleTaprootScriptTree(tapLeafs...), nil
}

// MustTapScriptTreeFromRawScripts uses NewTapScriptTreeFromRawScripts, panics in case of error.
func MustTapScriptTreeFromRawScripts(leafScripts ...[]byte) *txscript.IndexedTapScriptTree {
	tree, err := NewTapScriptTreeFromRawScripts(leafScripts...)
	if err != nil {
		panic(err)
	}

	return tree
}

// UpdatePSBTInputWithTapScriptLeafData updates psbt input with internal key, merkle root and
// all leaves of the tree so that any leaf owner is able to sign it.
func UpdatePSBTInputWithTapScriptLeafData(input *psbt.PInput, internalKey *btcec.PublicKey, tapScriptTree *txscript.IndexedTapScriptTree) error {
	if internalKey == nil {
		return errors.New("no taproot internal key provided")
	}
	if tapScriptTree == nil || len(tapScriptTree.LeafMerkleProofs) == 0 {
		return errors.New("empty tap script tree")
	}

	input.TaprootInternalKey = schnorr.SerializePubKey(internalKey)
	rootHash := tapScriptTree.RootNode.TapHash()
	input.TaprootMerkleRoot = rootHash[:]

	input.TaprootLeafScript = input.TaprootLeafScript[:0]
	for _, proof := range tapScriptTree.LeafMerkleProofs {
		ctrlBlock := proof.ToControlBlock(internalKey)
		ctrlBlockBytes, err := ctrlBlock.ToBytes()
		if err != nil {
			return err
		}

		input.TaprootLeafScript = append(input.TaprootLeafScript, &psbt.TaprootTapLeafScript{
			ControlBlock: ctrlBlockBytes,
			Script:       proof.TapLeaf.Script,
			LeafVersion:  proof.TapLeaf.LeafVersion,
		})
	}

	return nil
}
