// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/walletcore/bitcoin"
)

const (
	// MaxFeeIterations defines how many times selection is repeated with
	// grown target before fee estimation gives up.
	MaxFeeIterations = 10
	// MaxDataSize defines max payload of data output relayed by default policy.
	MaxDataSize = 80

	// txVersion defines default transaction version for this builder.
	txVersion int32 = 2
)

// ChangeSpendPolicy defines which wallet utxos may be selected by keychain.
type ChangeSpendPolicy uint8

const (
	// ChangeAllowed allows spending both received and change utxos.
	ChangeAllowed ChangeSpendPolicy = iota
	// OnlyChange allows spending change utxos only.
	OnlyChange
	// ChangeForbidden allows spending received utxos only.
	ChangeForbidden
)

// allows returns true if utxo derived by keychain may be selected.
func (p ChangeSpendPolicy) allows(keychain bitcoin.KeychainKind) bool {
	switch p {
	case OnlyChange:
		return keychain == bitcoin.Internal
	case ChangeForbidden:
		return keychain == bitcoin.External
	default:
		return true
	}
}

// RBFPolicy defines sequence number signalling replaceability.
type RBFPolicy struct {
	sequence uint32
}

// RBFDefault returns policy with the highest sequence signalling replaceability.
func RBFDefault() *RBFPolicy {
	return &RBFPolicy{sequence: wire.MaxTxInSequenceNum - 2}
}

// RBFSequence returns policy using provided sequence verbatim.
func RBFSequence(sequence uint32) *RBFPolicy {
	return &RBFPolicy{sequence: sequence}
}

// Sequence returns input sequence, nil policy gives non replaceable
// sequence with enabled lock time.
func (p *RBFPolicy) Sequence() uint32 {
	if p == nil {
		return wire.MaxTxInSequenceNum - 1
	}

	return p.sequence
}

// SignalsRBF returns true if sequence signals BIP125 replaceability.
func SignalsRBF(sequence uint32) bool {
	return sequence < wire.MaxTxInSequenceNum-1
}

// ForeignUTXO describes input not owned by the wallet.
// Input must carry WitnessUtxo or NonWitnessUtxo.
type ForeignUTXO struct {
	OutPoint           wire.OutPoint
	Input              psbt.PInput
	SatisfactionWeight int64 // weight of scriptSig and witness spending the output.
}

// TxOut returns spent output of foreign utxo.
func (f *ForeignUTXO) TxOut() (*wire.TxOut, error) {
	if f.Input.WitnessUtxo != nil {
		return f.Input.WitnessUtxo, nil
	}

	prevTx := f.Input.NonWitnessUtxo
	if prevTx == nil {
		return nil, fmt.Errorf("%w: foreign utxo %s", bitcoin.ErrMissingUTXO, f.OutPoint)
	}
	if prevTx.TxHash() != f.OutPoint.Hash {
		return nil, fmt.Errorf("foreign utxo %s: non-witness utxo hash mismatch", f.OutPoint)
	}
	if int(f.OutPoint.Index) >= len(prevTx.TxOut) {
		return nil, fmt.Errorf("foreign utxo %s: output index out of range", f.OutPoint)
	}

	return prevTx.TxOut[f.OutPoint.Index], nil
}

// isSegwit returns true if foreign utxo is spent with witness.
func (f *ForeignUTXO) isSegwit(pkScript []byte) bool {
	if txscript.IsWitnessProgram(pkScript) {
		return true
	}

	return txscript.IsPayToScriptHash(pkScript) && txscript.IsWitnessProgram(f.Input.RedeemScript)
}

// BuildParams describes transaction to be built.
type BuildParams struct {
	Recipients []bitcoin.Recipient

	// UTXOs must be spent. Take precedence over Unspendable.
	UTXOs []wire.OutPoint
	// Unspendable utxos are never selected.
	Unspendable []wire.OutPoint
	// ForeignUTXOs must be spent, signed by someone else.
	ForeignUTXOs []ForeignUTXO
	// ManuallySelectedOnly forbids selecting any utxo besides UTXOs and ForeignUTXOs.
	ManuallySelectedOnly bool
	ChangePolicy         ChangeSpendPolicy

	// FeeRate and FeeAbsolute are mutually exclusive, default is bitcoin.DefaultFeeRate.
	FeeRate     *bitcoin.FeeRate
	FeeAbsolute *btcutil.Amount

	// DrainWallet spends all spendable utxos.
	DrainWallet bool
	// DrainTo receives everything left after recipients and fee instead of change.
	DrainTo []byte

	RBF             *RBFPolicy
	Data            []byte // OP_RETURN payload.
	LockTime        uint32
	Version         int32 // 0 gives version 2.
	Sighash         txscript.SigHashType
	OnlyWitnessUTXO bool
	AllowDust       bool
}

// validate checks params consistency before anything is selected.
func (p *BuildParams) validate() error {
	if p.FeeRate != nil && p.FeeAbsolute != nil {
		return bitcoin.ErrConflictingFeeSpecification
	}
	if p.FeeRate != nil {
		if err := p.FeeRate.Validate(); err != nil {
			return err
		}
	}
	if p.FeeAbsolute != nil && *p.FeeAbsolute < 0 {
		return fmt.Errorf("%w: negative absolute fee %d", bitcoin.ErrInvalidFeeRate, int64(*p.FeeAbsolute))
	}
	if len(p.Data) > MaxDataSize {
		return fmt.Errorf("data output payload exceeds %d bytes", MaxDataSize)
	}

	if len(p.Recipients) == 0 {
		if p.DrainTo == nil {
			return bitcoin.ErrNoRecipients
		}
		if !p.DrainWallet && len(p.UTXOs) == 0 && len(p.ForeignUTXOs) == 0 {
			return fmt.Errorf("%w: drain requires draining wallet or manually added utxos", bitcoin.ErrNoRecipients)
		}
	}

	for i, recipient := range p.Recipients {
		if recipient.Amount < 0 {
			return fmt.Errorf("recipient #%d: negative amount", i)
		}
		if len(recipient.Script) == 0 {
			return fmt.Errorf("recipient #%d: empty script", i)
		}
	}

	for i := range p.ForeignUTXOs {
		if p.ForeignUTXOs[i].SatisfactionWeight <= 0 {
			return fmt.Errorf("foreign utxo %s: satisfaction weight is required", p.ForeignUTXOs[i].OutPoint)
		}
		if _, err := p.ForeignUTXOs[i].TxOut(); err != nil {
			return err
		}
	}

	seen := make(map[wire.OutPoint]struct{}, len(p.UTXOs)+len(p.ForeignUTXOs))
	for _, outPoint := range p.UTXOs {
		if _, ok := seen[outPoint]; ok {
			return fmt.Errorf("utxo %s added twice", outPoint)
		}
		seen[outPoint] = struct{}{}
	}
	for i := range p.ForeignUTXOs {
		if _, ok := seen[p.ForeignUTXOs[i].OutPoint]; ok {
			return fmt.Errorf("utxo %s added twice", p.ForeignUTXOs[i].OutPoint)
		}
		seen[p.ForeignUTXOs[i].OutPoint] = struct{}{}
	}

	return nil
}

// version returns transaction version.
func (p *BuildParams) version() int32 {
	if p.Version == 0 {
		return txVersion
	}

	return p.Version
}

// feeRate returns requested or default fee rate.
func (p *BuildParams) feeRate() bitcoin.FeeRate {
	if p.FeeRate == nil {
		return bitcoin.DefaultFeeRate
	}

	return *p.FeeRate
}

// BumpFeeParams describes replacement of wallet transaction.
type BumpFeeParams struct {
	Txid chainhash.Hash

	// FeeRate and FeeAbsolute are mutually exclusive, one of them is required.
	FeeRate     *bitcoin.FeeRate
	FeeAbsolute *btcutil.Amount

	// AllowShrinking names script of the output that may be reduced to pay the fee.
	AllowShrinking []byte
	// UTXOs are added to the replaced transaction inputs.
	UTXOs       []wire.OutPoint
	Unspendable []wire.OutPoint
	// RBF defaults to RBFDefault.
	RBF             *RBFPolicy
	Sighash         txscript.SigHashType
	OnlyWitnessUTXO bool
}

var errNoBumpFee = errors.New("fee rate or absolute fee is required")

// validate checks params consistency.
func (p *BumpFeeParams) validate() error {
	switch {
	case p.FeeRate != nil && p.FeeAbsolute != nil:
		return bitcoin.ErrConflictingFeeSpecification
	case p.FeeRate == nil && p.FeeAbsolute == nil:
		return errNoBumpFee
	case p.FeeRate != nil:
		return p.FeeRate.Validate()
	case *p.FeeAbsolute < 0:
		return fmt.Errorf("%w: negative absolute fee %d", bitcoin.ErrInvalidFeeRate, int64(*p.FeeAbsolute))
	}

	return nil
}
