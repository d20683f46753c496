// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package signer

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"

	"github.com/BoostyLabs/walletcore/bitcoin"
	"github.com/BoostyLabs/walletcore/bitcoin/utils"
)

// KeySigner signs inputs with software keys resolved by KeyStore.
type KeySigner struct {
	keys KeyStore
}

// NewKeySigner is a constructor for KeySigner.
func NewKeySigner(keys KeyStore) *KeySigner {
	return &KeySigner{keys: keys}
}

// SignInput signs input with every known key it commits to.
func (s *KeySigner) SignInput(ctx *SignContext, index int) (int, error) {
	prevOut := ctx.PrevOut(index)
	if txscript.IsPayToTaproot(prevOut.PkScript) {
		return s.signTaproot(ctx, index)
	}

	input := &ctx.Packet.Inputs[index]
	script, witness, err := signingScript(input, prevOut.PkScript)
	if err != nil || script == nil {
		return 0, err
	}

	sigHashType := input.SighashType
	if sigHashType == txscript.SigHashDefault {
		sigHashType = txscript.SigHashAll
	}

	var added int
	for _, candidate := range s.candidates(input, script) {
		if partialSig(input, candidate.pubKey) != nil {
			continue
		}

		privKey, err := s.keys.PrivateKey(candidate.pubKey, candidate.origin)
		if err != nil {
			return added, err
		}
		if privKey == nil {
			continue
		}

		var sig []byte
		if witness {
			sig, err = txscript.RawTxInWitnessSignature(ctx.Packet.UnsignedTx, ctx.SigHashes, index,
				prevOut.Value, script, sigHashType, privKey)
		} else {
			sig, err = txscript.RawTxInSignature(ctx.Packet.UnsignedTx, index, script, sigHashType, privKey)
		}
		if err != nil {
			return added, err
		}

		input.PartialSigs = append(input.PartialSigs, &psbt.PartialSig{
			PubKey:    candidate.pubKey,
			Signature: sig,
		})
		added++
	}

	return added, nil
}

// signTaproot adds key path signature and script path signatures of every leaf.
func (s *KeySigner) signTaproot(ctx *SignContext, index int) (int, error) {
	var (
		input       = &ctx.Packet.Inputs[index]
		prevOut     = ctx.PrevOut(index)
		tx          = ctx.Packet.UnsignedTx
		sigHashType = input.SighashType
		added       int
	)

	if err := fillSingleLeaf(input, prevOut.PkScript); err != nil {
		return 0, err
	}

	if ctx.Options.SignWithTapInternalKey && input.TaprootKeySpendSig == nil && len(input.TaprootInternalKey) == schnorr.PubKeyBytesLen {
		privKey, err := s.keys.PrivateKey(input.TaprootInternalKey, taprootOrigin(input, input.TaprootInternalKey))
		if err != nil {
			return 0, err
		}

		switch {
		case privKey == nil:
		case !commitsTo(privKey.PubKey(), input.TaprootMerkleRoot, prevOut.PkScript):
			log.Warnf("Internal key of input %d does not produce spent output key", index)
		default:
			sig, err := txscript.RawTxInTaprootSignature(tx, ctx.SigHashes, index, prevOut.Value,
				prevOut.PkScript, input.TaprootMerkleRoot, sigHashType, privKey)
			if err != nil {
				return 0, err
			}

			input.TaprootKeySpendSig = sig
			added++
		}
	}

	for _, leaf := range input.TaprootLeafScript {
		tapLeaf := txscript.NewTapLeaf(leaf.LeafVersion, leaf.Script)
		leafHash := tapLeaf.TapHash()

		keys, err := utils.XOnlyKeysFromScript(leaf.Script)
		if err != nil {
			return added, err
		}

		for _, xOnlyPubKey := range keys {
			if scriptSpendSig(input, xOnlyPubKey, leafHash[:]) != nil {
				continue
			}

			privKey, err := s.keys.PrivateKey(xOnlyPubKey, taprootOrigin(input, xOnlyPubKey))
			if err != nil {
				return added, err
			}
			if privKey == nil {
				continue
			}

			sig, err := txscript.RawTxInTapscriptSignature(tx, ctx.SigHashes, index, prevOut.Value,
				prevOut.PkScript, tapLeaf, sigHashType, privKey)
			if err != nil {
				return added, err
			}
			if len(sig) > schnorr.SignatureSize {
				sig = sig[:schnorr.SignatureSize]
			}

			input.TaprootScriptSpendSig = append(input.TaprootScriptSpendSig, &psbt.TaprootScriptSpendSig{
				XOnlyPubKey: append([]byte(nil), xOnlyPubKey...),
				LeafHash:    leafHash.CloneBytes(),
				Signature:   sig,
				SigHash:     sigHashType,
			})
			added++
		}
	}

	return added, nil
}

// fillSingleLeaf turns witness script of taproot input into its only leaf
// if spent output commits to the tree of that single leaf.
func fillSingleLeaf(input *psbt.PInput, pkScript []byte) error {
	if len(input.TaprootLeafScript) != 0 || len(input.WitnessScript) == 0 ||
		len(input.TaprootInternalKey) != schnorr.PubKeyBytesLen {
		return nil
	}

	internalKey, err := schnorr.ParsePubKey(input.TaprootInternalKey)
	if err != nil {
		return err
	}

	tree := txscript.AssembleTaprootScriptTree(txscript.NewBaseTapLeaf(input.WitnessScript))
	rootHash := tree.RootNode.TapHash()
	if !commitsTo(internalKey, rootHash[:], pkScript) {
		return nil
	}

	return utils.UpdatePSBTInputWithTapScriptLeafData(input, internalKey, tree)
}

// commitsTo returns true if taproot output script commits to internal key and merkle root.
func commitsTo(internalKey *btcec.PublicKey, merkleRoot, pkScript []byte) bool {
	outputKey := txscript.ComputeTaprootOutputKey(internalKey, merkleRoot)

	return bytes.Equal(schnorr.SerializePubKey(outputKey), pkScript[2:])
}

// keyCandidate is a public key which signature could satisfy the script.
type keyCandidate struct {
	pubKey []byte
	origin *KeyOrigin
}

// candidates returns public keys committed by script, with derivations when PSBT has them.
func (s *KeySigner) candidates(input *psbt.PInput, script []byte) []keyCandidate {
	var (
		candidates []keyCandidate
		seen       = make(map[string]struct{})
	)
	add := func(pubKey []byte, origin *KeyOrigin) {
		if _, ok := seen[string(pubKey)]; ok || !keyInScript(pubKey, script) {
			return
		}

		seen[string(pubKey)] = struct{}{}
		candidates = append(candidates, keyCandidate{pubKey: pubKey, origin: origin})
	}

	for _, derivation := range input.Bip32Derivation {
		add(derivation.PubKey, &KeyOrigin{Fingerprint: derivation.MasterKeyFingerprint, Path: derivation.Bip32Path})
	}

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		if data := tokenizer.Data(); len(data) == btcec.PubKeyBytesLenCompressed || len(data) == pubKeyBytesLenUncompressed {
			add(data, nil)
		}
	}

	if lister, ok := s.keys.(KeyLister); ok {
		for _, pubKey := range lister.PubKeys() {
			add(pubKey.SerializeCompressed(), nil)
		}
	}

	return candidates
}

// signingScript returns script committed by signature of input and whether
// the signature is a segwit v0 one. Nil script is returned when input lacks
// scripts required for signing.
func signingScript(input *psbt.PInput, pkScript []byte) ([]byte, bool, error) {
	switch txscript.GetScriptClass(pkScript) {
	case txscript.PubKeyHashTy, txscript.PubKeyTy, txscript.MultiSigTy:
		return pkScript, false, nil
	case txscript.WitnessV0PubKeyHashTy:
		return pkScript, true, nil
	case txscript.WitnessV0ScriptHashTy:
		return witnessScript(input, pkScript)
	case txscript.ScriptHashTy:
		if input.RedeemScript == nil {
			return nil, false, nil
		}
		if !bytes.Equal(btcutil.Hash160(input.RedeemScript), pkScript[2:22]) {
			return nil, false, fmt.Errorf("%w: redeem script does not match spent output", bitcoin.ErrInvalidPsbt)
		}

		switch txscript.GetScriptClass(input.RedeemScript) {
		case txscript.WitnessV0PubKeyHashTy:
			return input.RedeemScript, true, nil
		case txscript.WitnessV0ScriptHashTy:
			return witnessScript(input, input.RedeemScript)
		default:
			return input.RedeemScript, false, nil
		}
	default:
		return nil, false, nil
	}
}

// witnessScript returns witness script of input committed by witness program.
func witnessScript(input *psbt.PInput, program []byte) ([]byte, bool, error) {
	if input.WitnessScript == nil {
		return nil, false, nil
	}

	scriptHash := sha256.Sum256(input.WitnessScript)
	if !bytes.Equal(scriptHash[:], program[2:]) {
		return nil, false, fmt.Errorf("%w: witness script does not match spent output", bitcoin.ErrInvalidPsbt)
	}

	return input.WitnessScript, true, nil
}

// keyInScript returns true if script pushes public key or its hash.
func keyInScript(pubKey, script []byte) bool {
	pubKeyHash := btcutil.Hash160(pubKey)

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		data := tokenizer.Data()
		if bytes.Equal(data, pubKey) || bytes.Equal(data, pubKeyHash) {
			return true
		}
	}

	return false
}

func partialSig(input *psbt.PInput, pubKey []byte) *psbt.PartialSig {
	for _, sig := range input.PartialSigs {
		if bytes.Equal(sig.PubKey, pubKey) {
			return sig
		}
	}

	return nil
}

func scriptSpendSig(input *psbt.PInput, xOnlyPubKey, leafHash []byte) *psbt.TaprootScriptSpendSig {
	for _, sig := range input.TaprootScriptSpendSig {
		if bytes.Equal(sig.XOnlyPubKey, xOnlyPubKey) && bytes.Equal(sig.LeafHash, leafHash) {
			return sig
		}
	}

	return nil
}

func taprootOrigin(input *psbt.PInput, xOnlyPubKey []byte) *KeyOrigin {
	for _, derivation := range input.TaprootBip32Derivation {
		if bytes.Equal(derivation.XOnlyPubKey, xOnlyPubKey) {
			return &KeyOrigin{Fingerprint: derivation.MasterKeyFingerprint, Path: derivation.Bip32Path}
		}
	}

	return nil
}
