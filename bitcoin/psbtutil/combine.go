// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package psbtutil

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/BoostyLabs/walletcore/bitcoin"
)

// Combine merges data of two PSBTs of the same unsigned transaction into new PSBT.
// Signatures, derivations, leaf scripts and unknowns of both are united,
// for single valued fields value of a is kept when both carry it.
func Combine(a, b *psbt.Packet) (*psbt.Packet, error) {
	rawA, err := serializeTx(a)
	if err != nil {
		return nil, err
	}
	rawB, err := serializeTx(b)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(rawA, rawB) {
		return nil, fmt.Errorf("%w: %s and %s", bitcoin.ErrMismatchedTransaction, Txid(a), Txid(b))
	}
	if len(a.Inputs) != len(b.Inputs) || len(a.Outputs) != len(b.Outputs) {
		return nil, fmt.Errorf("%w: inputs or outputs count does not match transaction", bitcoin.ErrInvalidPsbt)
	}

	result, err := deepCopy(a)
	if err != nil {
		return nil, err
	}
	other, err := deepCopy(b)
	if err != nil {
		return nil, err
	}

	for i := range result.Inputs {
		combineInput(&result.Inputs[i], &other.Inputs[i])
	}
	for i := range result.Outputs {
		combineOutput(&result.Outputs[i], &other.Outputs[i])
	}
	result.Unknowns = unionUnknowns(result.Unknowns, other.Unknowns)

	return result, nil
}

// CombineAll merges PSBTs left to right.
func CombineAll(packets ...*psbt.Packet) (*psbt.Packet, error) {
	if len(packets) == 0 {
		return nil, fmt.Errorf("%w: nothing to combine", bitcoin.ErrInvalidPsbt)
	}

	result := packets[0]
	for _, p := range packets[1:] {
		var err error
		if result, err = Combine(result, p); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func serializeTx(p *psbt.Packet) ([]byte, error) {
	if p == nil || p.UnsignedTx == nil {
		return nil, fmt.Errorf("%w: no unsigned transaction", bitcoin.ErrInvalidPsbt)
	}

	var buf bytes.Buffer
	if err := p.UnsignedTx.SerializeNoWitness(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// deepCopy copies packet keeping partial data of finalized inputs,
// which serialization drops.
func deepCopy(p *psbt.Packet) (*psbt.Packet, error) {
	result, err := Copy(p)
	if err != nil {
		return nil, err
	}

	for i := range result.Inputs {
		if !isFinalized(&p.Inputs[i]) {
			continue
		}

		result.Inputs[i].PartialSigs = append([]*psbt.PartialSig(nil), p.Inputs[i].PartialSigs...)
		result.Inputs[i].SighashType = p.Inputs[i].SighashType
		result.Inputs[i].RedeemScript = cloneBytes(p.Inputs[i].RedeemScript)
		result.Inputs[i].WitnessScript = cloneBytes(p.Inputs[i].WitnessScript)
		result.Inputs[i].Bip32Derivation = append([]*psbt.Bip32Derivation(nil), p.Inputs[i].Bip32Derivation...)
		result.Inputs[i].TaprootKeySpendSig = cloneBytes(p.Inputs[i].TaprootKeySpendSig)
		result.Inputs[i].TaprootScriptSpendSig = append([]*psbt.TaprootScriptSpendSig(nil), p.Inputs[i].TaprootScriptSpendSig...)
		result.Inputs[i].TaprootLeafScript = append([]*psbt.TaprootTapLeafScript(nil), p.Inputs[i].TaprootLeafScript...)
		result.Inputs[i].TaprootBip32Derivation = append([]*psbt.TaprootBip32Derivation(nil), p.Inputs[i].TaprootBip32Derivation...)
		result.Inputs[i].TaprootInternalKey = cloneBytes(p.Inputs[i].TaprootInternalKey)
		result.Inputs[i].TaprootMerkleRoot = cloneBytes(p.Inputs[i].TaprootMerkleRoot)
	}

	return result, nil
}

func combineInput(dst, src *psbt.PInput) {
	if dst.NonWitnessUtxo == nil {
		dst.NonWitnessUtxo = src.NonWitnessUtxo
	}
	if dst.WitnessUtxo == nil {
		dst.WitnessUtxo = src.WitnessUtxo
	}
	if dst.SighashType == 0 {
		dst.SighashType = src.SighashType
	}
	dst.RedeemScript = firstBytes(dst.RedeemScript, src.RedeemScript)
	dst.WitnessScript = firstBytes(dst.WitnessScript, src.WitnessScript)
	if !isFinalized(dst) && isFinalized(src) {
		dst.FinalScriptSig = src.FinalScriptSig
		dst.FinalScriptWitness = src.FinalScriptWitness
	}
	dst.TaprootKeySpendSig = firstBytes(dst.TaprootKeySpendSig, src.TaprootKeySpendSig)
	dst.TaprootInternalKey = firstBytes(dst.TaprootInternalKey, src.TaprootInternalKey)
	dst.TaprootMerkleRoot = firstBytes(dst.TaprootMerkleRoot, src.TaprootMerkleRoot)

	dst.PartialSigs = union(dst.PartialSigs, src.PartialSigs, func(sig *psbt.PartialSig) []byte {
		return sig.PubKey
	})
	dst.Bip32Derivation = union(dst.Bip32Derivation, src.Bip32Derivation, func(d *psbt.Bip32Derivation) []byte {
		return d.PubKey
	})
	dst.TaprootScriptSpendSig = union(dst.TaprootScriptSpendSig, src.TaprootScriptSpendSig, func(sig *psbt.TaprootScriptSpendSig) []byte {
		return append(append([]byte(nil), sig.XOnlyPubKey...), sig.LeafHash...)
	})
	dst.TaprootLeafScript = union(dst.TaprootLeafScript, src.TaprootLeafScript, func(leaf *psbt.TaprootTapLeafScript) []byte {
		return leaf.ControlBlock
	})
	dst.TaprootBip32Derivation = union(dst.TaprootBip32Derivation, src.TaprootBip32Derivation, func(d *psbt.TaprootBip32Derivation) []byte {
		return d.XOnlyPubKey
	})
	dst.Unknowns = unionUnknowns(dst.Unknowns, src.Unknowns)
}

func combineOutput(dst, src *psbt.POutput) {
	dst.RedeemScript = firstBytes(dst.RedeemScript, src.RedeemScript)
	dst.WitnessScript = firstBytes(dst.WitnessScript, src.WitnessScript)
	dst.TaprootInternalKey = firstBytes(dst.TaprootInternalKey, src.TaprootInternalKey)
	dst.TaprootTapTree = firstBytes(dst.TaprootTapTree, src.TaprootTapTree)

	dst.Bip32Derivation = union(dst.Bip32Derivation, src.Bip32Derivation, func(d *psbt.Bip32Derivation) []byte {
		return d.PubKey
	})
	dst.TaprootBip32Derivation = union(dst.TaprootBip32Derivation, src.TaprootBip32Derivation, func(d *psbt.TaprootBip32Derivation) []byte {
		return d.XOnlyPubKey
	})
	dst.Unknowns = unionUnknowns(dst.Unknowns, src.Unknowns)
}

// union appends entries of src with keys not present in dst and sorts result by key.
func union[T any](dst, src []*T, key func(*T) []byte) []*T {
	if len(src) == 0 {
		return dst
	}

	seen := make(map[string]struct{}, len(dst)+len(src))
	for _, entry := range dst {
		seen[string(key(entry))] = struct{}{}
	}
	for _, entry := range src {
		if _, ok := seen[string(key(entry))]; ok {
			continue
		}

		seen[string(key(entry))] = struct{}{}
		dst = append(dst, entry)
	}

	sort.SliceStable(dst, func(i, j int) bool {
		return bytes.Compare(key(dst[i]), key(dst[j])) < 0
	})

	return dst
}

func unionUnknowns(dst, src []*psbt.Unknown) []*psbt.Unknown {
	return union(dst, src, func(unknown *psbt.Unknown) []byte {
		return unknown.Key
	})
}

func isFinalized(input *psbt.PInput) bool {
	return input.FinalScriptSig != nil || input.FinalScriptWitness != nil
}

func firstBytes(a, b []byte) []byte {
	if a != nil {
		return a
	}

	return cloneBytes(b)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	return append([]byte(nil), b...)
}
