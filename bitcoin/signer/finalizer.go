// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package signer

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/walletcore/bitcoin"
	"github.com/BoostyLabs/walletcore/bitcoin/utils"
)

// Finalize builds final scriptSig and witness of every input having enough
// signatures. Inputs lacking signatures are left as is. Returns true when
// all inputs are finalized.
func Finalize(p *psbt.Packet, opts SignOptions) (bool, error) {
	if opts.AssumeHeight != nil && !lockTimeReached(p.UnsignedTx, *opts.AssumeHeight) {
		log.Debugf("Locktime %d of %v is not reached at height %d", p.UnsignedTx.LockTime,
			p.UnsignedTx.TxHash(), *opts.AssumeHeight)

		return false, nil
	}

	complete := true
	for i := range p.Inputs {
		finalized, err := finalizeInput(p, i, opts.RemovePartialSigs)
		if err != nil {
			return false, fmt.Errorf("input %d: %w", i, err)
		}

		complete = complete && finalized
	}

	return complete, nil
}

func finalizeInput(p *psbt.Packet, index int, removePartialSigs bool) (bool, error) {
	input := &p.Inputs[index]
	if isFinalized(input) {
		return true, nil
	}

	prevOut, err := spentOutput(p, index)
	if err != nil || prevOut == nil {
		return false, err
	}

	sigScript, witness, ok, err := satisfy(input, prevOut.PkScript)
	if err != nil || !ok {
		return false, err
	}

	if len(sigScript) > 0 {
		input.FinalScriptSig = sigScript
	}
	if len(witness) > 0 {
		var buf bytes.Buffer
		if err := psbt.WriteTxWitness(&buf, witness); err != nil {
			return false, err
		}
		input.FinalScriptWitness = buf.Bytes()
	}

	if removePartialSigs {
		input.PartialSigs = nil
		input.SighashType = 0
		input.RedeemScript = nil
		input.WitnessScript = nil
		input.Bip32Derivation = nil
		input.TaprootKeySpendSig = nil
		input.TaprootScriptSpendSig = nil
		input.TaprootLeafScript = nil
		input.TaprootBip32Derivation = nil
		input.TaprootInternalKey = nil
		input.TaprootMerkleRoot = nil
	}

	return true, nil
}

// satisfy returns scriptSig and witness spending pkScript with signatures of
// input. Ok is false if signatures or scripts are missing.
func satisfy(input *psbt.PInput, pkScript []byte) (sigScript []byte, witness wire.TxWitness, ok bool, err error) {
	switch txscript.GetScriptClass(pkScript) {
	case txscript.WitnessV1TaprootTy:
		witness, ok, err = satisfyTaproot(input)
		return nil, witness, ok, err
	case txscript.WitnessV0PubKeyHashTy:
		witness, ok = satisfyKeyHash(input, pkScript)
		return nil, witness, ok, nil
	case txscript.WitnessV0ScriptHashTy:
		if input.WitnessScript == nil {
			return nil, nil, false, nil
		}
		witness, ok, err = satisfyMultiSig(input, input.WitnessScript)
		if !ok || err != nil {
			return nil, nil, false, err
		}
		return nil, append(witness, input.WitnessScript), true, nil
	case txscript.PubKeyHashTy:
		stack, ok := satisfyKeyHash(input, pkScript)
		if !ok {
			return nil, nil, false, nil
		}
		sigScript, err = pushAll(stack...)
		return sigScript, nil, err == nil, err
	case txscript.PubKeyTy:
		for _, sig := range input.PartialSigs {
			if keyInScript(sig.PubKey, pkScript) {
				sigScript, err = pushAll(sig.Signature)
				return sigScript, nil, err == nil, err
			}
		}
		return nil, nil, false, nil
	case txscript.MultiSigTy:
		stack, ok, err := satisfyMultiSig(input, pkScript)
		if !ok || err != nil {
			return nil, nil, false, err
		}
		sigScript, err = pushAll(stack...)
		return sigScript, nil, err == nil, err
	case txscript.ScriptHashTy:
		return satisfyScriptHash(input)
	default:
		return nil, nil, false, bitcoin.ErrUnsupportedScriptType
	}
}

// satisfyScriptHash satisfies P2SH wrapped scripts pushing redeem script last.
func satisfyScriptHash(input *psbt.PInput) ([]byte, wire.TxWitness, bool, error) {
	redeemScript := input.RedeemScript
	if redeemScript == nil {
		return nil, nil, false, nil
	}

	var (
		stack   [][]byte
		witness wire.TxWitness
		ok      bool
		err     error
	)
	switch txscript.GetScriptClass(redeemScript) {
	case txscript.WitnessV0PubKeyHashTy:
		witness, ok = satisfyKeyHash(input, redeemScript)
	case txscript.WitnessV0ScriptHashTy:
		if input.WitnessScript == nil {
			return nil, nil, false, nil
		}
		witness, ok, err = satisfyMultiSig(input, input.WitnessScript)
		witness = append(witness, input.WitnessScript)
	case txscript.MultiSigTy:
		stack, ok, err = satisfyMultiSig(input, redeemScript)
	default:
		return nil, nil, false, fmt.Errorf("%w: p2sh redeem script %x", bitcoin.ErrUnsupportedScriptType, redeemScript)
	}
	if !ok || err != nil {
		return nil, nil, false, err
	}

	sigScript, err := pushAll(append(stack, redeemScript)...)
	if err != nil {
		return nil, nil, false, err
	}

	return sigScript, witness, true, nil
}

// satisfyKeyHash returns signature and public key stack of key hash script.
func satisfyKeyHash(input *psbt.PInput, script []byte) ([][]byte, bool) {
	for _, sig := range input.PartialSigs {
		if keyInScript(sig.PubKey, script) {
			return [][]byte{sig.Signature, sig.PubKey}, true
		}
	}

	return nil, false
}

// satisfyMultiSig returns CHECKMULTISIG stack with the first required
// signatures in script keys order.
func satisfyMultiSig(input *psbt.PInput, script []byte) ([][]byte, bool, error) {
	_, required, err := txscript.CalcMultiSigStats(script)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", bitcoin.ErrUnsupportedScriptType, err)
	}

	// CHECKMULTISIG pops one extra stack item.
	stack := [][]byte{nil}
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() && len(stack) <= required {
		data := tokenizer.Data()
		if len(data) != btcec.PubKeyBytesLenCompressed && len(data) != pubKeyBytesLenUncompressed {
			continue
		}

		if sig := partialSig(input, data); sig != nil {
			stack = append(stack, sig.Signature)
		}
	}
	if len(stack) <= required {
		return nil, false, nil
	}

	return stack, true, nil
}

// satisfyTaproot prefers key path signature, otherwise uses the first leaf
// having enough signatures.
func satisfyTaproot(input *psbt.PInput) (wire.TxWitness, bool, error) {
	if len(input.TaprootKeySpendSig) > 0 {
		return wire.TxWitness{input.TaprootKeySpendSig}, true, nil
	}

	for _, leaf := range input.TaprootLeafScript {
		leafHash := txscript.NewTapLeaf(leaf.LeafVersion, leaf.Script).TapHash()

		keys, err := utils.XOnlyKeysFromScript(leaf.Script)
		if err != nil {
			return nil, false, err
		}

		var (
			required = leafThreshold(leaf.Script, len(keys))
			sigs     = make([][]byte, len(keys))
			count    int
		)
		for i, key := range keys {
			sig := scriptSpendSig(input, key, leafHash[:])
			if sig == nil || count == required {
				continue
			}

			sigs[i] = sig.Signature
			if sig.SigHash != txscript.SigHashDefault {
				sigs[i] = append(append([]byte(nil), sig.Signature...), byte(sig.SigHash))
			}
			count++
		}
		if count < required || len(keys) == 0 {
			continue
		}

		// the first key consumes the top stack element.
		witness := make(wire.TxWitness, 0, len(keys)+2)
		for i := len(sigs) - 1; i >= 0; i-- {
			witness = append(witness, sigs[i])
		}

		return append(witness, leaf.Script, leaf.ControlBlock), true, nil
	}

	return nil, false, nil
}

// leafThreshold returns signatures count required by {... <M> OP_NUMEQUAL}
// or {... <M> OP_EQUAL} leaf. Every key must sign other leaves.
func leafThreshold(script []byte, keys int) int {
	var (
		prevOp, lastOp     byte
		prevData, lastData []byte
		tokenizer          = txscript.MakeScriptTokenizer(0, script)
	)
	for tokenizer.Next() {
		prevOp, prevData = lastOp, lastData
		lastOp, lastData = tokenizer.Opcode(), tokenizer.Data()
	}
	if tokenizer.Err() != nil || (lastOp != txscript.OP_NUMEQUAL && lastOp != txscript.OP_EQUAL) {
		return keys
	}

	switch {
	case txscript.IsSmallInt(prevOp):
		return txscript.AsSmallInt(prevOp)
	case len(prevData) > 0 && len(prevData) <= 2 && prevData[len(prevData)-1]&0x80 == 0:
		var threshold int
		for i, b := range prevData {
			threshold |= int(b) << (8 * i)
		}
		return threshold
	default:
		return keys
	}
}

// lockTimeReached returns true if transaction locktime allows inclusion
// into block at height.
func lockTimeReached(tx *wire.MsgTx, height uint32) bool {
	if tx.LockTime == 0 || tx.LockTime >= txscript.LockTimeThreshold {
		return true
	}

	enabled := false
	for _, txIn := range tx.TxIn {
		if txIn.Sequence != wire.MaxTxInSequenceNum {
			enabled = true
		}
	}

	return !enabled || tx.LockTime <= height
}

func pushAll(items ...[]byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	for _, item := range items {
		builder.AddData(item)
	}

	return builder.Script()
}
