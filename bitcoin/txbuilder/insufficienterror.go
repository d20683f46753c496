// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/BoostyLabs/walletcore/bitcoin"
)

// InsufficientError is the error type to describe insufficient funds errors with details.
// Matches bitcoin.ErrInsufficientFunds, and bitcoin.ErrManualSelectionInsufficient
// when only manually selected utxos were allowed.
type InsufficientError struct {
	Need   btcutil.Amount
	Have   btcutil.Amount
	Manual bool
}

// NewInsufficientError is a constructor for InsufficientError.
func NewInsufficientError(need, have btcutil.Amount) *InsufficientError {
	return &InsufficientError{Need: need, Have: have}
}

// Error returns error description.
func (e *InsufficientError) Error() string {
	errMsg := fmt.Sprintf("insufficient funds: need %d sat, have %d sat", int64(e.Need), int64(e.Have))
	if e.Manual {
		errMsg += " (manual selection)"
	}

	return errMsg
}

// Shortfall returns the missing amount.
func (e *InsufficientError) Shortfall() btcutil.Amount {
	if e.Need < e.Have {
		return 0
	}

	return e.Need - e.Have
}

// Is implements comparator method for [errors] package.
func (e *InsufficientError) Is(target error) bool {
	switch target {
	case bitcoin.ErrInsufficientFunds:
		return true
	case bitcoin.ErrManualSelectionInsufficient:
		return e.Manual
	}

	return false
}

// setManual marks error as caused by manual-only selection.
func (e *InsufficientError) setManual(manual bool) *InsufficientError {
	e.Manual = manual
	return e
}
