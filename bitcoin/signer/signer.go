// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package signer

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/walletcore/bitcoin"
)

// Signer adds signatures to PSBT inputs.
type Signer interface {
	// SignInput adds signatures of the signer to input by index and returns
	// how many were added. Existing signatures are never removed or replaced.
	SignInput(ctx *SignContext, index int) (int, error)
}

// SignContext holds data shared by signers of one PSBT.
type SignContext struct {
	Packet    *psbt.Packet
	PrevOuts  *txscript.MultiPrevOutFetcher
	SigHashes *txscript.TxSigHashes
	Options   SignOptions
}

// PrevOut returns output spent by input.
func (ctx *SignContext) PrevOut(index int) *wire.TxOut {
	return ctx.PrevOuts.FetchPrevOutput(ctx.Packet.UnsignedTx.TxIn[index].PreviousOutPoint)
}

// NewSignContext validates PSBT against options and prepares sighash midstate.
func NewSignContext(p *psbt.Packet, opts SignOptions) (*SignContext, error) {
	if p == nil || p.UnsignedTx == nil {
		return nil, fmt.Errorf("%w: no unsigned transaction", bitcoin.ErrInvalidPsbt)
	}
	if len(p.Inputs) != len(p.UnsignedTx.TxIn) || len(p.Outputs) != len(p.UnsignedTx.TxOut) {
		return nil, fmt.Errorf("%w: inputs or outputs count does not match transaction", bitcoin.ErrInvalidPsbt)
	}

	prevOuts := txscript.NewMultiPrevOutFetcher(make(map[wire.OutPoint]*wire.TxOut, len(p.Inputs)))
	for i := range p.Inputs {
		input := &p.Inputs[i]
		outPoint := p.UnsignedTx.TxIn[i].PreviousOutPoint

		prevOut, err := spentOutput(p, i)
		if err != nil {
			return nil, err
		}

		if isFinalized(input) {
			if prevOut == nil {
				prevOut = wire.NewTxOut(0, nil)
			}
			prevOuts.AddPrevOut(outPoint, prevOut)
			continue
		}

		if prevOut == nil {
			return nil, fmt.Errorf("%w: input %d", bitcoin.ErrMissingUTXO, i)
		}
		prevOuts.AddPrevOut(outPoint, prevOut)

		if !opts.AllowAllSighashes && input.SighashType != txscript.SigHashDefault && input.SighashType != txscript.SigHashAll {
			return nil, fmt.Errorf("%w: input %d uses %#x", bitcoin.ErrNonStandardSighash, i, uint32(input.SighashType))
		}

		taproot := txscript.IsPayToTaproot(prevOut.PkScript)
		if !opts.TrustWitnessUTXO && !taproot && input.NonWitnessUtxo == nil {
			return nil, fmt.Errorf("%w: input %d", bitcoin.ErrMissingNonWitnessUTXO, i)
		}
	}

	return &SignContext{
		Packet:    p,
		PrevOuts:  prevOuts,
		SigHashes: txscript.NewTxSigHashes(p.UnsignedTx, prevOuts),
		Options:   opts,
	}, nil
}

// Sign runs signers over every input not finalized yet and finalizes inputs if
// requested. Returns true when all inputs are finalized. Packet is updated in
// place, signatures added before an error are kept.
func Sign(p *psbt.Packet, opts SignOptions, signers ...Signer) (bool, error) {
	ctx, err := NewSignContext(p, opts)
	if err != nil {
		return false, err
	}

	var added int
	for i := range p.Inputs {
		if isFinalized(&p.Inputs[i]) {
			continue
		}

		if !opts.SignWithAllKeys {
			_, _, satisfied, err := satisfy(&p.Inputs[i], ctx.PrevOut(i).PkScript)
			if err == nil && satisfied {
				log.Tracef("Input %d of %v is already satisfied", i, p.UnsignedTx.TxHash())
				continue
			}
		}

		for _, signer := range signers {
			n, err := signer.SignInput(ctx, i)
			if err != nil {
				return false, fmt.Errorf("input %d: %w", i, err)
			}
			added += n
		}
	}

	log.Debugf("Added %d signatures to %v", added, p.UnsignedTx.TxHash())

	if !opts.TryFinalize {
		return p.IsComplete(), nil
	}

	return Finalize(p, opts)
}

// spentOutput returns output spent by input from its utxo data. Nil is
// returned if input carries no utxo data.
func spentOutput(p *psbt.Packet, index int) (*wire.TxOut, error) {
	var (
		input    = &p.Inputs[index]
		outPoint = p.UnsignedTx.TxIn[index].PreviousOutPoint
	)
	if input.NonWitnessUtxo == nil {
		return input.WitnessUtxo, nil
	}

	if input.NonWitnessUtxo.TxHash() != outPoint.Hash {
		return nil, fmt.Errorf("%w: input %d non-witness utxo does not match outpoint", bitcoin.ErrInvalidPsbt, index)
	}
	if int(outPoint.Index) >= len(input.NonWitnessUtxo.TxOut) {
		return nil, fmt.Errorf("%w: input %d spends missing output", bitcoin.ErrInvalidPsbt, index)
	}

	prevOut := input.NonWitnessUtxo.TxOut[outPoint.Index]
	if input.WitnessUtxo != nil && (input.WitnessUtxo.Value != prevOut.Value ||
		!bytes.Equal(input.WitnessUtxo.PkScript, prevOut.PkScript)) {
		return nil, fmt.Errorf("%w: input %d witness and non-witness utxo differ", bitcoin.ErrInvalidPsbt, index)
	}

	return prevOut, nil
}

func isFinalized(input *psbt.PInput) bool {
	return input.FinalScriptSig != nil || input.FinalScriptWitness != nil
}
