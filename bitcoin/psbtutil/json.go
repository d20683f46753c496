// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package psbtutil

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// Decoded is a human readable projection of PSBT, similar to decodepsbt
// result of bitcoind. It can not be turned back into PSBT.
type Decoded struct {
	Txid     string            `json:"txid"`
	Version  int32             `json:"version"`
	LockTime uint32            `json:"locktime"`
	Vin      []btcjson.Vin     `json:"vin"`
	Vout     []btcjson.Vout    `json:"vout"`
	Inputs   []DecodedInput    `json:"inputs"`
	Outputs  []DecodedOutput   `json:"outputs"`
	Unknown  map[string]string `json:"unknown,omitempty"`
	Fee      *float64          `json:"fee,omitempty"`
	Complete bool              `json:"complete"`
}

// DecodedInput describes data attached to PSBT input.
type DecodedInput struct {
	WitnessUTXO       *btcjson.Vout       `json:"witness_utxo,omitempty"`
	NonWitnessUTXO    string              `json:"non_witness_utxo_txid,omitempty"`
	PartialSigs       map[string]string   `json:"partial_signatures,omitempty"`
	Sighash           string              `json:"sighash,omitempty"`
	RedeemScript      string              `json:"redeem_script,omitempty"`
	WitnessScript     string              `json:"witness_script,omitempty"`
	Bip32Derivs       []DecodedDerivation `json:"bip32_derivs,omitempty"`
	TaprootKeySig     string              `json:"taproot_key_path_sig,omitempty"`
	TaprootScriptSigs int                 `json:"taproot_script_path_sigs,omitempty"`
	TaprootLeaves     int                 `json:"taproot_scripts,omitempty"`
	TaprootInternal   string              `json:"taproot_internal_key,omitempty"`
	FinalScriptSig    string              `json:"final_scriptSig,omitempty"`
	FinalWitness      string              `json:"final_scriptwitness,omitempty"`
}

// DecodedOutput describes data attached to PSBT output.
type DecodedOutput struct {
	RedeemScript    string              `json:"redeem_script,omitempty"`
	WitnessScript   string              `json:"witness_script,omitempty"`
	Bip32Derivs     []DecodedDerivation `json:"bip32_derivs,omitempty"`
	TaprootInternal string              `json:"taproot_internal_key,omitempty"`
}

// DecodedDerivation is a key with its origin.
type DecodedDerivation struct {
	PubKey            string   `json:"pubkey"`
	MasterFingerprint uint32   `json:"master_fingerprint"`
	Path              []uint32 `json:"path"`
}

// NewDecoded returns projection of PSBT.
func NewDecoded(p *psbt.Packet, params *chaincfg.Params) *Decoded {
	tx := p.UnsignedTx
	decoded := &Decoded{
		Txid:     tx.TxHash().String(),
		Version:  tx.Version,
		LockTime: tx.LockTime,
		Vin:      make([]btcjson.Vin, 0, len(tx.TxIn)),
		Vout:     make([]btcjson.Vout, 0, len(tx.TxOut)),
		Inputs:   make([]DecodedInput, 0, len(p.Inputs)),
		Outputs:  make([]DecodedOutput, 0, len(p.Outputs)),
		Complete: p.IsComplete(),
	}

	for _, txIn := range tx.TxIn {
		decoded.Vin = append(decoded.Vin, btcjson.Vin{
			Txid:     txIn.PreviousOutPoint.Hash.String(),
			Vout:     txIn.PreviousOutPoint.Index,
			Sequence: txIn.Sequence,
		})
	}
	for i, txOut := range tx.TxOut {
		decoded.Vout = append(decoded.Vout, vout(uint32(i), txOut.Value, txOut.PkScript, params))
	}

	for _, input := range p.Inputs {
		in := DecodedInput{
			RedeemScript:      hex.EncodeToString(input.RedeemScript),
			WitnessScript:     hex.EncodeToString(input.WitnessScript),
			Bip32Derivs:       derivations(input.Bip32Derivation),
			TaprootKeySig:     hex.EncodeToString(input.TaprootKeySpendSig),
			TaprootScriptSigs: len(input.TaprootScriptSpendSig),
			TaprootLeaves:     len(input.TaprootLeafScript),
			TaprootInternal:   hex.EncodeToString(input.TaprootInternalKey),
			FinalScriptSig:    hex.EncodeToString(input.FinalScriptSig),
			FinalWitness:      hex.EncodeToString(input.FinalScriptWitness),
		}
		if input.WitnessUtxo != nil {
			utxo := vout(0, input.WitnessUtxo.Value, input.WitnessUtxo.PkScript, params)
			in.WitnessUTXO = &utxo
		}
		if input.NonWitnessUtxo != nil {
			in.NonWitnessUTXO = input.NonWitnessUtxo.TxHash().String()
		}
		if input.SighashType != 0 {
			in.Sighash = sighashName(input.SighashType)
		}
		if len(input.PartialSigs) > 0 {
			in.PartialSigs = make(map[string]string, len(input.PartialSigs))
			for _, sig := range input.PartialSigs {
				in.PartialSigs[hex.EncodeToString(sig.PubKey)] = hex.EncodeToString(sig.Signature)
			}
		}

		decoded.Inputs = append(decoded.Inputs, in)
	}

	for _, output := range p.Outputs {
		decoded.Outputs = append(decoded.Outputs, DecodedOutput{
			RedeemScript:    hex.EncodeToString(output.RedeemScript),
			WitnessScript:   hex.EncodeToString(output.WitnessScript),
			Bip32Derivs:     derivations(output.Bip32Derivation),
			TaprootInternal: hex.EncodeToString(output.TaprootInternalKey),
		})
	}

	if len(p.Unknowns) > 0 {
		decoded.Unknown = make(map[string]string, len(p.Unknowns))
		for _, unknown := range p.Unknowns {
			decoded.Unknown[hex.EncodeToString(unknown.Key)] = hex.EncodeToString(unknown.Value)
		}
	}

	if fee, err := FeeAmount(p); err == nil {
		btc := fee.ToBTC()
		decoded.Fee = &btc
	}

	return decoded
}

// JSON returns indented json projection of PSBT.
func JSON(p *psbt.Packet, params *chaincfg.Params) ([]byte, error) {
	return json.MarshalIndent(NewDecoded(p, params), "", "  ")
}

func vout(n uint32, value int64, script []byte, params *chaincfg.Params) btcjson.Vout {
	asm, _ := txscript.DisasmString(script)
	class, addresses, _, _ := txscript.ExtractPkScriptAddrs(script, params)

	result := btcjson.Vout{
		Value: btcutil.Amount(value).ToBTC(),
		N:     n,
		ScriptPubKey: btcjson.ScriptPubKeyResult{
			Asm:  asm,
			Hex:  hex.EncodeToString(script),
			Type: class.String(),
		},
	}
	for _, address := range addresses {
		result.ScriptPubKey.Addresses = append(result.ScriptPubKey.Addresses, address.EncodeAddress())
	}

	return result
}

func sighashName(sighash txscript.SigHashType) string {
	var name string
	switch sighash &^ txscript.SigHashAnyOneCanPay {
	case txscript.SigHashDefault:
		name = "DEFAULT"
	case txscript.SigHashAll:
		name = "ALL"
	case txscript.SigHashNone:
		name = "NONE"
	case txscript.SigHashSingle:
		name = "SINGLE"
	default:
		return fmt.Sprintf("0x%02x", uint32(sighash))
	}
	if sighash&txscript.SigHashAnyOneCanPay != 0 {
		name += "|ANYONECANPAY"
	}

	return name
}

func derivations(derivations []*psbt.Bip32Derivation) []DecodedDerivation {
	if len(derivations) == 0 {
		return nil
	}

	result := make([]DecodedDerivation, 0, len(derivations))
	for _, d := range derivations {
		result = append(result, DecodedDerivation{
			PubKey:            hex.EncodeToString(d.PubKey),
			MasterFingerprint: d.MasterKeyFingerprint,
			Path:              d.Bip32Path,
		})
	}

	return result
}
