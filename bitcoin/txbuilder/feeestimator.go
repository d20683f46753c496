// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"

	"github.com/BoostyLabs/walletcore/bitcoin"
	"github.com/BoostyLabs/walletcore/internal/numbers"
)

const (
	// inputBaseSize defines serialized input size without script: outpoint,
	// sequence and one byte for script length.
	inputBaseSize = 32 + 4 + 4 + 1
	// txOverheadSize defines version and lock time size.
	txOverheadSize = 4 + 4
	// segwitMarkerWeight defines weight of segwit marker and flag.
	segwitMarkerWeight = 2
)

// minRelayFeeRate defines the minimal relay fee rate, also used as
// incremental fee rate of replacements.
var minRelayFeeRate = bitcoin.FeeRateFromSatPerKVByte(txrules.DefaultRelayFeePerKb)

// WeightEstimator accumulates weight of transaction being built.
type WeightEstimator struct {
	inputCount       int
	outputCount      int
	inputWeight      int64
	outputSize       int64
	hasWitness       bool
	nonWitnessInputs int
}

// AddInput adds input spent with provided scriptSig and witness weight.
func (e *WeightEstimator) AddInput(satisfactionWeight int64, segwit bool) *WeightEstimator {
	e.inputCount++
	e.inputWeight += inputBaseSize*blockchain.WitnessScaleFactor + satisfactionWeight
	if segwit {
		e.hasWitness = true
	} else {
		e.nonWitnessInputs++
	}

	return e
}

// AddOutput adds output paying to script.
func (e *WeightEstimator) AddOutput(script []byte) *WeightEstimator {
	e.outputCount++
	e.outputSize += int64(wire.NewTxOut(0, script).SerializeSize())

	return e
}

// Weight returns estimated transaction weight.
func (e *WeightEstimator) Weight() int64 {
	baseSize := txOverheadSize + int64(wire.VarIntSerializeSize(uint64(e.inputCount))) +
		int64(wire.VarIntSerializeSize(uint64(e.outputCount))) + e.outputSize

	weight := baseSize*blockchain.WitnessScaleFactor + e.inputWeight
	if e.hasWitness {
		// inputs without witness still serialize empty stack.
		weight += segwitMarkerWeight + int64(e.nonWitnessInputs)
	}

	return weight
}

// VSize returns estimated transaction virtual size.
func (e *WeightEstimator) VSize() int64 {
	return bitcoin.VSize(e.Weight())
}

// clone returns independent copy of estimator.
func (e *WeightEstimator) clone() *WeightEstimator {
	c := *e
	return &c
}

// feePolicy defines how fee is derived from transaction weight.
type feePolicy struct {
	rate     bitcoin.FeeRate
	absolute *btcutil.Amount
	// replacedFee is the fee of replaced transaction, the replacement
	// pays it plus incremental relay fee for own size.
	replacedFee *btcutil.Amount
}

// fee returns fee for transaction of provided weight.
func (p feePolicy) fee(weight int64) btcutil.Amount {
	if p.absolute != nil {
		return *p.absolute
	}

	fee := p.rate.FeeForWeight(weight)
	if p.replacedFee != nil {
		fee = numbers.Max(fee, *p.replacedFee+minRelayFeeRate.FeeForWeight(weight))
	}

	return fee
}

// inputFee returns the fee share of spending utxo, used to select inputs by
// effective value. Replacements pay at least the incremental relay rate per input.
func (p feePolicy) inputFee(utxo *WeightedUTXO) btcutil.Amount {
	if p.absolute != nil {
		return 0
	}

	rate := p.rate
	if p.replacedFee != nil && rate < minRelayFeeRate {
		rate = minRelayFeeRate
	}

	return rate.FeeForWeight(inputBaseSize*blockchain.WitnessScaleFactor + utxo.SatisfactionWeight)
}

// estimation is a result of coin selection and fee estimation.
type estimation struct {
	inputs    []*WeightedUTXO
	total     btcutil.Amount
	fee       btcutil.Amount
	change    btcutil.Amount
	hasChange bool
	weight    int64
}

// estimateParams describes fee estimation request.
type estimateParams struct {
	required   []*WeightedUTXO
	optional   []*WeightedUTXO
	outputs    []*wire.TxOut
	changeOut  []byte
	mustChange bool // no recipients, remainder output is the only payment.
	drainAll   bool
	manualOnly bool
	policy     feePolicy
	// maxIterations overrides MaxFeeIterations when positive.
	maxIterations int
}

// estimate selects inputs by effective value and computes fee. Selection is
// repeated with the missing amount added while the estimate of selected inputs
// falls short of the exact fee. Change below dust goes to fee.
func estimate(params estimateParams) (*estimation, error) {
	target, err := numbers.SumFunc(params.outputs, func(txOut **wire.TxOut) btcutil.Amount {
		return btcutil.Amount((*txOut).Value)
	})
	if err != nil {
		return nil, err
	}

	available, err := numbers.SumFunc(append(append([]*WeightedUTXO(nil), params.required...), params.optional...),
		func(utxo **WeightedUTXO) btcutil.Amount { return (*utxo).UTXO.Value })
	if err != nil {
		return nil, err
	}

	insufficient := func(need btcutil.Amount) error {
		return NewInsufficientError(need, available).setManual(params.manualOnly)
	}

	dustLimit := dustThreshold(params.changeOut)

	// overhead is the fee of transaction without inputs, it is paid on top
	// of the target by selected inputs.
	skeleton := new(WeightEstimator)
	for _, output := range params.outputs {
		skeleton.AddOutput(output.PkScript)
	}
	overhead := params.policy.fee(skeleton.Weight())
	if params.mustChange {
		overhead = params.policy.fee(skeleton.AddOutput(params.changeOut).Weight()) + dustLimit
	}

	maxIterations := MaxFeeIterations
	if params.maxIterations > 0 {
		maxIterations = params.maxIterations
	}

	var missing btcutil.Amount
	for i := 0; i < maxIterations; i++ {
		inputs, total, err := selectInputs(params.required, params.optional, selectTarget{
			amount:   target,
			overhead: overhead + missing,
			inputFee: params.policy.inputFee,
		}, params.drainAll)
		if err != nil {
			var insufficientErr *InsufficientError
			if errors.As(err, &insufficientErr) {
				return nil, insufficient(insufficientErr.Need)
			}

			return nil, err
		}

		estimator := new(WeightEstimator)
		for _, input := range inputs {
			estimator.AddInput(input.SatisfactionWeight, input.Segwit)
		}
		for _, output := range params.outputs {
			estimator.AddOutput(output.PkScript)
		}

		weightNoChange := estimator.Weight()
		weightWithChange := estimator.clone().AddOutput(params.changeOut).Weight()
		feeNoChange := params.policy.fee(weightNoChange)
		feeWithChange := params.policy.fee(weightWithChange)
		allSelected := len(inputs) == len(params.required)+len(params.optional)

		log.Tracef("Fee iteration %d: %d inputs, total %v, fee %v (%v with change)",
			i, len(inputs), total, feeNoChange, feeWithChange)

		if params.mustChange {
			need := target + feeWithChange + dustLimit
			if total >= need {
				return &estimation{
					inputs: inputs, total: total, fee: feeWithChange,
					change: total - target - feeWithChange, hasChange: true, weight: weightWithChange,
				}, nil
			}
			if allSelected {
				return nil, insufficient(need)
			}

			missing += need - total
			continue
		}

		if total < target+feeNoChange {
			if allSelected {
				return nil, insufficient(target + feeNoChange)
			}

			missing += target + feeNoChange - total
			continue
		}

		change := total - target - feeWithChange
		if change < dustLimit {
			// remainder is donated to miners.
			return &estimation{
				inputs: inputs, total: total, fee: total - target, weight: weightNoChange,
			}, nil
		}

		return &estimation{
			inputs: inputs, total: total, fee: feeWithChange,
			change: change, hasChange: true, weight: weightWithChange,
		}, nil
	}

	return nil, fmt.Errorf("%w: no convergence after %d iterations", bitcoin.ErrFeeEstimationFailed, maxIterations)
}

// dustThreshold returns the smallest value of output paying to script that is
// not dust at the default relay fee. Spending input is assumed to be a
// compressed P2PKH one.
func dustThreshold(script []byte) btcutil.Amount {
	totalSize := 8 + wire.VarIntSerializeSize(uint64(len(script))) + len(script) + 148
	byteFee := txrules.DefaultRelayFeePerKb / 1000

	return 3 * btcutil.Amount(totalSize) * byteFee
}
