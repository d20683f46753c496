// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package bitcoin

import (
	"fmt"
	"math"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
)

// DefaultFeeRate is used when neither fee rate nor absolute fee is provided.
const DefaultFeeRate FeeRate = 1

// FeeRate defines fee rate in satoshi per virtual byte.
type FeeRate float64

// FeeRateFromSatPerKVByte converts satoshi per kilo virtual byte into FeeRate.
func FeeRateFromSatPerKVByte(satPerKVByte btcutil.Amount) FeeRate {
	return FeeRate(float64(satPerKVByte) / 1000)
}

// FeeRateFromFee returns the fee rate paid by fee for the transaction of provided weight.
func FeeRateFromFee(fee btcutil.Amount, weight int64) FeeRate {
	vsize := VSize(weight)
	if vsize == 0 {
		return 0
	}

	return FeeRate(float64(fee) / float64(vsize))
}

// Validate returns error if fee rate is negative or not finite.
func (r FeeRate) Validate() error {
	f := float64(r)
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidFeeRate, f)
	}

	return nil
}

// FeeForVSize returns fee for provided virtual size rounded up to satoshi.
func (r FeeRate) FeeForVSize(vsize int64) btcutil.Amount {
	return btcutil.Amount(math.Ceil(float64(r) * float64(vsize)))
}

// FeeForWeight returns fee for provided weight.
func (r FeeRate) FeeForWeight(weight int64) btcutil.Amount {
	return r.FeeForVSize(VSize(weight))
}

// SatPerKVByte returns fee rate in satoshi per kilo virtual byte.
func (r FeeRate) SatPerKVByte() btcutil.Amount {
	return btcutil.Amount(math.Ceil(float64(r) * 1000))
}

// String returns human readable fee rate.
func (r FeeRate) String() string {
	return fmt.Sprintf("%.3f sat/vB", float64(r))
}

// VSize converts weight units to virtual bytes rounding up.
func VSize(weight int64) int64 {
	return (weight + blockchain.WitnessScaleFactor - 1) / blockchain.WitnessScaleFactor
}
