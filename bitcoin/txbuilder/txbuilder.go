// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"

	"github.com/BoostyLabs/walletcore/bitcoin"
	"github.com/BoostyLabs/walletcore/bitcoin/utils"
)

// Result describes built unsigned transaction.
type Result struct {
	Packet      *psbt.Packet
	Details     bitcoin.TransactionDetails
	FeeRate     bitcoin.FeeRate // estimated from expected signed weight.
	Weight      int64           // expected weight of signed transaction.
	ChangeIndex int             // -1 if there is no change output.
}

// TxBuilder provides transaction building related logic.
type TxBuilder struct {
	networkParams *chaincfg.Params
	source        Source
}

// NewTxBuilder is a constructor for TxBuilder.
func NewTxBuilder(networkParams *chaincfg.Params, source Source) *TxBuilder {
	return &TxBuilder{
		networkParams: networkParams,
		source:        source,
	}
}

// buildRequest is a normalized description of transaction to build, shared
// by Build and BumpFee.
type buildRequest struct {
	payments        []*wire.TxOut
	changeScript    []byte
	mustChange      bool
	drainAll        bool
	selection       selectionParams
	policy          feePolicy
	sequence        uint32
	lockTime        uint32
	version         int32
	sighash         txscript.SigHashType
	onlyWitnessUTXO bool
}

// Build constructs unsigned PSBT paying to recipients from wallet utxos.
//
//	Tx struct
//	inputs:
//	┌─────────┬──────────────┬────────────────────────────────────────┐
//	│  index  │     type     │             description                │
//	├=========┼==============┼========================================┤
//	│   0 - k │ must-use     │ manually added wallet utxos in order   │
//	├─────────┼──────────────┼────────────────────────────────────────┤
//	│ k+1 - m │ foreign      │ utxos signed by other parties          │
//	├─────────┼──────────────┼────────────────────────────────────────┤
//	│ m+1 - n │ selected     │ wallet utxos, largest first            │
//	└─────────┴──────────────┴────────────────────────────────────────┘
func (b *TxBuilder) Build(params BuildParams) (*Result, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	payments, err := recipientOutputs(params.Recipients, params.AllowDust)
	if err != nil {
		return nil, err
	}

	if len(params.Data) > 0 {
		data, err := dataOutput(params.Data)
		if err != nil {
			return nil, err
		}
		payments = append(payments, data)
	}

	changeScript := params.DrainTo
	if changeScript == nil {
		if changeScript, err = b.source.ChangeScript(); err != nil {
			return nil, err
		}
	}

	policy := feePolicy{rate: params.feeRate(), absolute: params.FeeAbsolute}

	return b.build(buildRequest{
		payments:     payments,
		changeScript: changeScript,
		mustChange:   len(params.Recipients) == 0,
		drainAll:     params.DrainWallet,
		selection: selectionParams{
			mustUse:      params.UTXOs,
			foreign:      params.ForeignUTXOs,
			unspendable:  params.Unspendable,
			manualOnly:   params.ManuallySelectedOnly,
			changePolicy: params.ChangePolicy,
		},
		policy:          policy,
		sequence:        params.RBF.Sequence(),
		lockTime:        params.LockTime,
		version:         params.version(),
		sighash:         params.Sighash,
		onlyWitnessUTXO: params.OnlyWitnessUTXO,
	})
}

// build selects inputs, resolves fee, assembles outputs and decorates PSBT.
func (b *TxBuilder) build(req buildRequest) (*Result, error) {
	required, optional, err := b.candidates(req.selection)
	if err != nil {
		return nil, err
	}

	est, err := estimate(estimateParams{
		required:   required,
		optional:   optional,
		outputs:    req.payments,
		changeOut:  req.changeScript,
		mustChange: req.mustChange,
		drainAll:   req.drainAll,
		manualOnly: req.selection.manualOnly,
		policy:     req.policy,
	})
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(req.version)
	tx.LockTime = req.lockTime
	for _, input := range est.inputs {
		outPoint := input.UTXO.OutPoint
		txIn := wire.NewTxIn(&outPoint, nil, nil)
		txIn.Sequence = req.sequence
		tx.AddTxIn(txIn)
	}

	outputs, changeIndex := assembleOutputs(req.payments, est, req.changeScript)
	tx.TxOut = outputs

	p, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Packet:      p,
		Weight:      est.weight,
		FeeRate:     bitcoin.FeeRateFromFee(est.fee, est.weight),
		ChangeIndex: changeIndex,
		Details: bitcoin.TransactionDetails{
			Txid:        tx.TxHash(),
			Transaction: tx,
			Fee:         est.fee,
			FeeKnown:    true,
		},
	}

	roles := make(map[RoleKey][]int, 3)
	for i, input := range est.inputs {
		if input.Foreign != nil {
			p.Inputs[i] = input.Foreign.Input
			decorateForeignInput(&p.Inputs[i], input, req)

			roles[ForeignInputsRoleKey] = append(roles[ForeignInputsRoleKey], i)
			continue
		}

		if err := b.decorateWalletInput(&p.Inputs[i], input, req); err != nil {
			return nil, err
		}

		result.Details.Sent += input.UTXO.Value
		roles[WalletInputsRoleKey] = append(roles[WalletInputsRoleKey], i)
	}

	for i, output := range tx.TxOut {
		owned, err := b.source.Owner(output.PkScript)
		if err != nil {
			return nil, err
		}
		if owned == nil {
			continue
		}

		owned.Builder.PrepareOutput(&p.Outputs[i])
		result.Details.Received += btcutil.Amount(output.Value)
	}

	if changeIndex >= 0 {
		roles[ChangeOutputRoleKey] = []int{changeIndex}
		log.Debugf("Change of %v is sent to %q", est.change, utils.AddressFromScript(req.changeScript, b.networkParams))
	}
	SetRoles(p, roles)

	log.Debugf("Built transaction %v: %d inputs, %d outputs, fee %v (%v)",
		result.Details.Txid, len(tx.TxIn), len(tx.TxOut), est.fee, result.FeeRate)
	log.Tracef("Unsigned transaction: %v", newLogClosure(func() string {
		return spew.Sdump(tx)
	}))

	return result, nil
}

// decorateWalletInput fills input with utxo data and derivations of wallet keys.
func (b *TxBuilder) decorateWalletInput(input *psbt.PInput, utxo *WeightedUTXO, req buildRequest) error {
	pib, _, err := b.source.Spend(utxo.UTXO.Keychain, utxo.UTXO.DerivationIndex)
	if err != nil {
		return err
	}
	if !bytes.Equal(pib.Script(), utxo.UTXO.Script) {
		return fmt.Errorf("utxo %s: script does not match its derivation", utxo.UTXO.OutPoint)
	}

	pib.PrepareInput(input)
	if pib.HasWitness() {
		input.WitnessUtxo = utxo.UTXO.TxOut()
	}

	// taproot signatures commit to all spent outputs, full previous
	// transaction is not needed.
	needsNonWitnessUTXO := pib.ScriptType() != P2TR && !(req.onlyWitnessUTXO && pib.HasWitness())
	if needsNonWitnessUTXO {
		record, err := b.source.Tx(utxo.UTXO.OutPoint.Hash)
		switch {
		case err == nil:
			input.NonWitnessUtxo = record.Tx
		case errors.Is(err, bitcoin.ErrTransactionNotFound):
			log.Warnf("Previous transaction of %v is unknown, non-witness utxo is skipped", utxo.UTXO.OutPoint)
		default:
			return err
		}
	}

	if req.sighash != 0 {
		input.SighashType = req.sighash
	}

	return nil
}

// decorateForeignInput completes caller provided input data.
func decorateForeignInput(input *psbt.PInput, utxo *WeightedUTXO, req buildRequest) {
	if utxo.Segwit && input.WitnessUtxo == nil {
		input.WitnessUtxo = utxo.UTXO.TxOut()
	}
	if req.onlyWitnessUTXO && utxo.Segwit {
		input.NonWitnessUtxo = nil
	}
	if req.sighash != 0 && input.SighashType == 0 {
		input.SighashType = req.sighash
	}
}

// PSBTInput returns input spending wallet utxo, filled the same way Build
// fills wallet inputs. Used to hand wallet utxos to other parties as foreign inputs.
func (b *TxBuilder) PSBTInput(utxo bitcoin.UTXO, onlyWitnessUTXO bool, sighash txscript.SigHashType) (psbt.PInput, error) {
	weighted, err := b.weighted(utxo)
	if err != nil {
		return psbt.PInput{}, err
	}

	var input psbt.PInput
	err = b.decorateWalletInput(&input, weighted, buildRequest{onlyWitnessUTXO: onlyWitnessUTXO, sighash: sighash})
	if err != nil {
		return psbt.PInput{}, err
	}

	return input, nil
}
