// Copyright (C) 2022 Creditor Corp. Group.
// See LICENSE for copying information.

package numbers

import (
	"errors"
	"math"

	"github.com/btcsuite/btcd/btcutil"
)

// Zero defines 0 number.
const Zero = 0

// ErrOverflow is returned when satoshi arithmetic leaves int64 range.
var ErrOverflow = errors.New("amount overflow")

// IsNegative returns true if the amount is less than zero.
func IsNegative(amount btcutil.Amount) bool {
	return amount < Zero
}

// Add returns a + b or ErrOverflow.
func Add(a, b btcutil.Amount) (btcutil.Amount, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}

	return a + b, nil
}

// SumFunc sums amounts picked from elements by amountFn.
func SumFunc[T any](elements []T, amountFn func(*T) btcutil.Amount) (total btcutil.Amount, err error) {
	for idx := range elements {
		total, err = Add(total, amountFn(&elements[idx]))
		if err != nil {
			return 0, err
		}
	}

	return total, nil
}

// Max returns the largest value from provided.
func Max(a btcutil.Amount, b ...btcutil.Amount) btcutil.Amount {
	maxValue := a
	for _, el := range b {
		if el > maxValue {
			maxValue = el
		}
	}

	return maxValue
}
