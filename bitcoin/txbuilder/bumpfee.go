// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/walletcore/bitcoin"
	"github.com/BoostyLabs/walletcore/bitcoin/utils"
)

// ErrShrinkOutputNotFound is returned when output allowed to shrink is not in replaced transaction.
var ErrShrinkOutputNotFound = errors.New("output allowed to shrink not found")

// BumpFee constructs unsigned replacement of unconfirmed wallet transaction paying higher fee.
// Every input of replaced transaction is spent again, change output is rebuilt
// with the same script, other outputs are kept as is.
func (b *TxBuilder) BumpFee(params BumpFeeParams) (*Result, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	record, err := b.source.Tx(params.Txid)
	if err != nil {
		return nil, err
	}
	if record.Confirmed != nil {
		return nil, fmt.Errorf("%w: %s at height %d", bitcoin.ErrTransactionConfirmed, params.Txid, record.Confirmed.Height)
	}

	replaced := record.Tx
	if !signalsReplacement(replaced) {
		return nil, fmt.Errorf("%w: %s", bitcoin.ErrIrreplaceableTransaction, params.Txid)
	}

	var (
		mustUse         = make([]wire.OutPoint, 0, len(replaced.TxIn)+len(params.UTXOs))
		spentByReplaced = make(map[wire.OutPoint]struct{}, len(replaced.TxIn))
		estimator       = new(WeightEstimator)
		inputsTotal     btcutil.Amount
	)
	for _, txIn := range replaced.TxIn {
		utxo, err := b.source.UTXO(txIn.PreviousOutPoint)
		if err != nil {
			return nil, err
		}

		weighted, err := b.weighted(utxo)
		if err != nil {
			return nil, err
		}

		estimator.AddInput(weighted.SatisfactionWeight, weighted.Segwit)
		inputsTotal += utxo.Value
		mustUse = append(mustUse, txIn.PreviousOutPoint)
		spentByReplaced[txIn.PreviousOutPoint] = struct{}{}
	}
	for _, outPoint := range params.UTXOs {
		if _, ok := spentByReplaced[outPoint]; !ok {
			mustUse = append(mustUse, outPoint)
		}
	}

	var outputsTotal btcutil.Amount
	for _, txOut := range replaced.TxOut {
		estimator.AddOutput(txOut.PkScript)
		outputsTotal += btcutil.Amount(txOut.Value)
	}

	replacedFee := inputsTotal - outputsTotal
	replacedWeight := estimator.Weight()
	if isSigned(replaced) {
		replacedWeight = blockchain.GetTransactionWeight(btcutil.NewTx(replaced))
	}
	replacedRate := bitcoin.FeeRateFromFee(replacedFee, replacedWeight)

	if params.FeeRate != nil && *params.FeeRate <= replacedRate {
		return nil, fmt.Errorf("%w: %v is not higher than %v", bitcoin.ErrFeeRateTooLow, *params.FeeRate, replacedRate)
	}

	payments, changeScript, err := b.replacementOutputs(replaced, params.AllowShrinking)
	if err != nil {
		return nil, err
	}

	req := buildRequest{
		payments:     payments,
		changeScript: changeScript,
		mustChange:   len(payments) == 0,
		selection: selectionParams{
			mustUse:         mustUse,
			unspendable:     params.Unspendable,
			replaced:        &params.Txid,
			spentByReplaced: spentByReplaced,
		},
		policy:          feePolicy{absolute: params.FeeAbsolute, replacedFee: &replacedFee},
		sequence:        params.RBF.Sequence(),
		lockTime:        replaced.LockTime,
		version:         replaced.Version,
		sighash:         params.Sighash,
		onlyWitnessUTXO: params.OnlyWitnessUTXO,
	}
	if params.FeeRate != nil {
		req.policy.rate = *params.FeeRate
	}
	if params.RBF == nil {
		req.sequence = RBFDefault().Sequence()
	}

	result, err := b.build(req)
	if err != nil {
		return nil, err
	}

	if minFee := replacedFee + minRelayFeeRate.FeeForWeight(result.Weight); result.Details.Fee < minFee {
		return nil, fmt.Errorf("%w: %v is less than required %v", bitcoin.ErrFeeTooLow, result.Details.Fee, minFee)
	}

	log.Infof("Replacing %v (fee %v, %v) with %v (fee %v, %v)", params.Txid, replacedFee, replacedRate,
		result.Details.Txid, result.Details.Fee, result.FeeRate)

	return result, nil
}

// replacementOutputs splits outputs of replaced transaction into kept payments
// and script receiving the remainder. Output allowed to shrink becomes the
// remainder output, otherwise wallet change output is rebuilt.
func (b *TxBuilder) replacementOutputs(replaced *wire.MsgTx, shrink []byte) ([]*wire.TxOut, []byte, error) {
	var (
		payments     = make([]*wire.TxOut, 0, len(replaced.TxOut))
		changeScript []byte
	)
	for _, txOut := range replaced.TxOut {
		if changeScript == nil {
			if shrink != nil {
				if bytes.Equal(txOut.PkScript, shrink) {
					changeScript = txOut.PkScript
					continue
				}
			} else if !utils.IsUnspendable(txOut.PkScript) {
				owned, err := b.source.Owner(txOut.PkScript)
				if err != nil {
					return nil, nil, err
				}
				if owned != nil && owned.Keychain == bitcoin.Internal {
					changeScript = txOut.PkScript
					continue
				}
			}
		}

		payments = append(payments, wire.NewTxOut(txOut.Value, txOut.PkScript))
	}

	if changeScript == nil {
		if shrink != nil {
			return nil, nil, ErrShrinkOutputNotFound
		}

		var err error
		if changeScript, err = b.source.ChangeScript(); err != nil {
			return nil, nil, err
		}
	}

	return payments, changeScript, nil
}

// signalsReplacement returns true if any input signals BIP125 replaceability.
func signalsReplacement(tx *wire.MsgTx) bool {
	for _, txIn := range tx.TxIn {
		if SignalsRBF(txIn.Sequence) {
			return true
		}
	}

	return false
}

// isSigned returns true if every input carries scriptSig or witness.
func isSigned(tx *wire.MsgTx) bool {
	for _, txIn := range tx.TxIn {
		if len(txIn.SignatureScript) == 0 && len(txIn.Witness) == 0 {
			return false
		}
	}

	return true
}
