// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

// Package psbtutil provides encoding, combination and extraction helpers
// for partially signed bitcoin transactions.
package psbtutil

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/walletcore/bitcoin"
)

// Decode parses base64 encoded PSBT.
func Decode(b64 string) (*psbt.Packet, error) {
	p, err := psbt.NewFromRawBytes(strings.NewReader(strings.TrimSpace(b64)), true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bitcoin.ErrInvalidPsbt, err)
	}

	return p, nil
}

// DecodeBytes parses binary PSBT.
func DecodeBytes(data []byte) (*psbt.Packet, error) {
	p, err := psbt.NewFromRawBytes(bytes.NewReader(data), false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bitcoin.ErrInvalidPsbt, err)
	}

	return p, nil
}

// Encode returns base64 encoding of PSBT.
func Encode(p *psbt.Packet) (string, error) {
	return p.B64Encode()
}

// Serialize returns binary encoding of PSBT.
func Serialize(p *psbt.Packet) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Serialize(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Copy returns deep copy of PSBT.
// Partial data of finalized inputs is not preserved.
func Copy(p *psbt.Packet) (*psbt.Packet, error) {
	data, err := Serialize(p)
	if err != nil {
		return nil, err
	}

	return DecodeBytes(data)
}

// Txid returns id of the transaction, which does not change with signing.
func Txid(p *psbt.Packet) chainhash.Hash {
	return p.UnsignedTx.TxHash()
}

// Extract returns network ready transaction from fully finalized PSBT.
func Extract(p *psbt.Packet) (*wire.MsgTx, error) {
	if !p.IsComplete() {
		var pending []int
		for i := range p.Inputs {
			if p.Inputs[i].FinalScriptSig == nil && p.Inputs[i].FinalScriptWitness == nil {
				pending = append(pending, i)
			}
		}

		return nil, fmt.Errorf("%w: inputs %v", bitcoin.ErrIncompletePsbt, pending)
	}

	tx, err := psbt.Extract(p)
	if err != nil {
		if errors.Is(err, psbt.ErrIncompletePSBT) {
			return nil, errors.Join(bitcoin.ErrIncompletePsbt, err)
		}

		return nil, err
	}

	return tx, nil
}

// FeeAmount returns fee paid by transaction. Every input must carry utxo data.
func FeeAmount(p *psbt.Packet) (btcutil.Amount, error) {
	fee, err := p.GetTxFee()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", bitcoin.ErrMissingUTXO, err)
	}

	return fee, nil
}

// Weight returns weight of the transaction with final scripts placed
// into inputs. For inputs not finalized yet weight of empty satisfaction is counted.
func Weight(p *psbt.Packet) int64 {
	tx := p.UnsignedTx
	if p.IsComplete() {
		if extracted, err := psbt.Extract(p); err == nil {
			tx = extracted
		}
	}

	return blockchain.GetTransactionWeight(btcutil.NewTx(tx))
}

// FeeRate returns fee rate paid by transaction. Rate is exact for finalized
// PSBTs only, for other ones it is an upper bound.
func FeeRate(p *psbt.Packet) (bitcoin.FeeRate, error) {
	fee, err := FeeAmount(p)
	if err != nil {
		return 0, err
	}

	return bitcoin.FeeRateFromFee(fee, Weight(p)), nil
}
