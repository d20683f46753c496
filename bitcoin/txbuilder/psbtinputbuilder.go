// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"bytes"
	"crypto/sha256"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
)

// ErrPSBTInputBuilder defines errors class for psbt input preparation.
var ErrPSBTInputBuilder = errors.New("prepare psbt input")

const (
	// P2PK defines P2PK (public key) script type over which the address is built.
	P2PK = "P2PK"
	// P2PKH defines P2PK (public key hash) script type over which the address is built.
	P2PKH = "P2PKH"
	// P2SH defines P2SH (script hash) script type over which the address is built.
	P2SH = "P2SH"
	// P2WPKH defines P2WPKH (witness public key hash) script type over which the address is built.
	P2WPKH = "P2WPKH"
	// P2WSH defines P2WSH (witness script hash) script type over which the address is built.
	P2WSH = "P2WSH"
	// P2TR defines P2TR (taproot) script type over which the address is built.
	P2TR = "P2TR"
)

// KeyOrigin describes public key and its derivation from master key.
type KeyOrigin struct {
	PubKey      *btcec.PublicKey
	Fingerprint uint32
	Path        []uint32
}

// PSBTInputBuilder is a helping tool to prepare psbt inputs and outputs based on script type.
type PSBTInputBuilder struct {
	scriptType    string
	script        []byte
	origins       []KeyOrigin
	witnessScript []byte
	redeemScript  []byte
}

// NewPSBTInputBuilder is a constructor for PSBTInputBuilder.
// Checks that provided keys and scripts really produce the script.
func NewPSBTInputBuilder(script, redeemScript, witnessScript []byte, origins ...KeyOrigin) (pib *PSBTInputBuilder, err error) {
	pib = &PSBTInputBuilder{
		script:        script,
		origins:       origins,
		witnessScript: witnessScript,
		redeemScript:  redeemScript,
	}

	defer func(err *error) {
		if err != nil && *err != nil {
			*err = errors.Join(ErrPSBTInputBuilder, *err)
		}
	}(&err)

	pib.scriptType, err = ScriptType(script)
	if err != nil {
		return pib, err
	}

	switch pib.scriptType {
	case P2WPKH, P2PKH:
		if len(origins) != 1 {
			return pib, errors.New("single key expected")
		}
		program := script[2:22]
		if pib.scriptType == P2PKH {
			program = script[3:23]
		}
		if !bytes.Equal(program, btcutil.Hash160(origins[0].PubKey.SerializeCompressed())) {
			return pib, errors.New("key does not match script")
		}
	case P2SH:
		if !bytes.Equal(script[2:22], btcutil.Hash160(redeemScript)) {
			return pib, errors.New("redeem script does not match script")
		}
		if txscript.IsPayToWitnessScriptHash(redeemScript) {
			return pib, errors.New("nested witness script hash is not supported")
		}
	case P2WSH:
		scriptHash := sha256.Sum256(witnessScript)
		if !bytes.Equal(script[2:], scriptHash[:]) {
			return pib, errors.New("witness script does not match script")
		}
	case P2TR:
		if len(origins) != 1 {
			return pib, errors.New("single key expected")
		}
		outputKey := txscript.ComputeTaprootKeyNoScript(origins[0].PubKey)
		if !bytes.Equal(script[2:], schnorr.SerializePubKey(outputKey)) {
			return pib, errors.New("key does not match script")
		}
	default:
		return pib, btcutil.ErrUnknownAddressType
	}

	return pib, nil
}

// ScriptType returns script type of standard script.
func ScriptType(script []byte) (string, error) {
	switch txscript.GetScriptClass(script) {
	case txscript.WitnessV1TaprootTy:
		return P2TR, nil
	case txscript.WitnessV0PubKeyHashTy:
		return P2WPKH, nil
	case txscript.WitnessV0ScriptHashTy:
		return P2WSH, nil
	case txscript.PubKeyHashTy:
		return P2PKH, nil
	case txscript.PubKeyTy:
		return P2PK, nil
	case txscript.ScriptHashTy:
		return P2SH, nil
	default:
		return "", btcutil.ErrUnknownAddressType
	}
}

// PrepareInput updates input with required data based on script type.
func (pib *PSBTInputBuilder) PrepareInput(input *psbt.PInput) {
	switch pib.scriptType {
	case P2TR:
		input.TaprootInternalKey, input.TaprootBip32Derivation = pib.taprootDerivations()
	default:
		input.Bip32Derivation = pib.derivations()
		input.RedeemScript = pib.redeemScript
		input.WitnessScript = pib.witnessScript
	}
}

// PrepareOutput updates output owned by the wallet with required data based on script type.
func (pib *PSBTInputBuilder) PrepareOutput(output *psbt.POutput) {
	switch pib.scriptType {
	case P2TR:
		output.TaprootInternalKey, output.TaprootBip32Derivation = pib.taprootDerivations()
	default:
		output.Bip32Derivation = pib.derivations()
		output.RedeemScript = pib.redeemScript
		output.WitnessScript = pib.witnessScript
	}
}

// HasWitness returns true if spending script requires witness data.
func (pib *PSBTInputBuilder) HasWitness() bool {
	switch pib.scriptType {
	case P2WPKH, P2WSH, P2TR:
		return true
	case P2SH:
		return txscript.IsWitnessProgram(pib.redeemScript)
	default:
		return false
	}
}

// Script returns script spent by prepared inputs.
func (pib *PSBTInputBuilder) Script() []byte {
	return pib.script
}

// ScriptType returns underlying script type.
func (pib *PSBTInputBuilder) ScriptType() string {
	return pib.scriptType
}

func (pib *PSBTInputBuilder) derivations() []*psbt.Bip32Derivation {
	derivations := make([]*psbt.Bip32Derivation, 0, len(pib.origins))
	for _, origin := range pib.origins {
		derivations = append(derivations, &psbt.Bip32Derivation{
			PubKey:               origin.PubKey.SerializeCompressed(),
			MasterKeyFingerprint: origin.Fingerprint,
			Bip32Path:            append([]uint32(nil), origin.Path...),
		})
	}

	return derivations
}

func (pib *PSBTInputBuilder) taprootDerivations() ([]byte, []*psbt.TaprootBip32Derivation) {
	xOnlyPubKey := schnorr.SerializePubKey(pib.origins[0].PubKey)

	return xOnlyPubKey, []*psbt.TaprootBip32Derivation{{
		XOnlyPubKey:          xOnlyPubKey,
		MasterKeyFingerprint: pib.origins[0].Fingerprint,
		Bip32Path:            append([]uint32(nil), pib.origins[0].Path...),
	}}
}
