// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"

	"github.com/BoostyLabs/walletcore/bitcoin"
	"github.com/BoostyLabs/walletcore/bitcoin/utils"
	"github.com/BoostyLabs/walletcore/internal/numbers"
)

// recipientOutputs converts recipients into outputs, checks dust unless allowed.
// Provably unspendable outputs are never dust.
func recipientOutputs(recipients []bitcoin.Recipient, allowDust bool) ([]*wire.TxOut, error) {
	outputs := make([]*wire.TxOut, 0, len(recipients))
	for i, recipient := range recipients {
		if numbers.IsNegative(recipient.Amount) {
			return nil, fmt.Errorf("output #%d: negative amount %v", i, recipient.Amount)
		}

		txOut := wire.NewTxOut(int64(recipient.Amount), recipient.Script)
		if !allowDust && !utils.IsUnspendable(recipient.Script) && txrules.IsDustOutput(txOut, txrules.DefaultRelayFeePerKb) {
			return nil, fmt.Errorf("%w: output #%d of %v", bitcoin.ErrDustOutput, i, recipient.Amount)
		}

		outputs = append(outputs, txOut)
	}

	return outputs, nil
}

// dataOutput returns zero value OP_RETURN output carrying data.
func dataOutput(data []byte) (*wire.TxOut, error) {
	script, err := utils.NewUnspendableScript(data...)
	if err != nil {
		return nil, err
	}

	return wire.NewTxOut(0, script), nil
}

// assembleOutputs returns outputs of the transaction: payments in provided
// order, then change if any. Returns index of change output, -1 if there is none.
//
//	outputs:
//	┌─────────┬──────────────┬────────────────────────────────────────┐
//	│  index  │     type     │             description                │
//	├=========┼==============┼========================================┤
//	│   0 - k │ recipients   │ payments in caller order               │
//	├─────────┼──────────────┼────────────────────────────────────────┤
//	│     k+1 │ data         │ optional, OP_RETURN with zero value    │
//	├─────────┼──────────────┼────────────────────────────────────────┤
//	│       n │ change/drain │ optional, remainder after fee, skipped │
//	│         │              │ when below dust.                       │
//	└─────────┴──────────────┴────────────────────────────────────────┘
func assembleOutputs(payments []*wire.TxOut, est *estimation, changeScript []byte) ([]*wire.TxOut, int) {
	outputs := make([]*wire.TxOut, 0, len(payments)+1)
	for _, payment := range payments {
		outputs = append(outputs, wire.NewTxOut(payment.Value, payment.PkScript))
	}

	if !est.hasChange {
		return outputs, -1
	}

	outputs = append(outputs, wire.NewTxOut(int64(est.change), changeScript))

	return outputs, len(outputs) - 1
}
