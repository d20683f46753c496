// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package bitcoin

import (
	"errors"
)

var (
	// ErrInsufficientFunds is returned when available inputs can not cover
	// recipients and fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrManualSelectionInsufficient is returned when only manually selected
	// utxos may be spent and they are not enough.
	ErrManualSelectionInsufficient = errors.New("manually selected utxos are insufficient")

	// ErrDustOutput is returned when an output value is below dust threshold.
	ErrDustOutput = errors.New("output is dust")

	// ErrFeeEstimationFailed is returned when fee and input selection do not
	// converge within iterations limit.
	ErrFeeEstimationFailed = errors.New("fee estimation failed")

	// ErrMismatchedTransaction is returned when two PSBTs being combined do
	// not share the same unsigned transaction.
	ErrMismatchedTransaction = errors.New("psbts refer to different transactions")

	// ErrInvalidPsbt is returned for malformed PSBT data.
	ErrInvalidPsbt = errors.New("invalid psbt")

	// ErrUnsupportedScriptType is returned when input script can not be
	// finalized.
	ErrUnsupportedScriptType = errors.New("unsupported script type")

	// ErrConflictingFeeSpecification is returned when both fee rate and
	// absolute fee are requested.
	ErrConflictingFeeSpecification = errors.New("fee rate and absolute fee are mutually exclusive")

	// ErrInvalidFeeRate is returned for negative or non finite fee rates.
	ErrInvalidFeeRate = errors.New("invalid fee rate")

	// ErrNoRecipients is returned when there is no destination for funds.
	ErrNoRecipients = errors.New("no recipients")

	// ErrUnknownUTXO is returned when referenced outpoint is not known.
	ErrUnknownUTXO = errors.New("unknown utxo")

	// ErrTransactionNotFound is returned when transaction is not known.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrTransactionConfirmed is returned on fee bump of confirmed transaction.
	ErrTransactionConfirmed = errors.New("transaction already confirmed")

	// ErrIrreplaceableTransaction is returned on fee bump of transaction that
	// does not signal replaceability.
	ErrIrreplaceableTransaction = errors.New("transaction does not signal rbf")

	// ErrFeeRateTooLow is returned when replacement fee rate is not higher
	// than the replaced one.
	ErrFeeRateTooLow = errors.New("fee rate too low")

	// ErrFeeTooLow is returned when replacement absolute fee does not pay for
	// its own relay.
	ErrFeeTooLow = errors.New("fee too low")

	// ErrMissingUTXO is returned when PSBT input has no utxo data.
	ErrMissingUTXO = errors.New("input utxo data is missing")

	// ErrMissingNonWitnessUTXO is returned when segwit v0 input has no full
	// previous transaction and witness utxo is not trusted.
	ErrMissingNonWitnessUTXO = errors.New("input non-witness utxo is missing")

	// ErrNonStandardSighash is returned when input requests non standard sighash.
	ErrNonStandardSighash = errors.New("non standard sighash type")

	// ErrIncompletePsbt is returned when transaction extraction is requested
	// before all inputs are finalized.
	ErrIncompletePsbt = errors.New("psbt is not finalized")
)
