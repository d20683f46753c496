// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package signer

// SignOptions controls signing and finalization.
type SignOptions struct {
	// TrustWitnessUTXO allows signing segwit v0 inputs which carry only
	// witness utxo, without full previous transaction.
	TrustWitnessUTXO bool
	// AssumeHeight is the chain height used to decide whether absolute
	// height locktime is reached. Nil skips the check.
	AssumeHeight *uint32
	// AllowAllSighashes allows signing with sighash types other than ALL
	// (and DEFAULT for taproot).
	AllowAllSighashes bool
	// RemovePartialSigs clears signing data of inputs once they are finalized.
	RemovePartialSigs bool
	// TryFinalize finalizes inputs after signing.
	TryFinalize bool
	// SignWithTapInternalKey allows taproot key path signatures with the
	// internal key, script path leaves are signed regardless.
	SignWithTapInternalKey bool
	// SignWithAllKeys signs inputs already having enough signatures to be
	// finalized.
	SignWithAllKeys bool
}

// DefaultSignOptions returns options signing only standard sighash inputs
// with full previous transactions and finalizing them.
func DefaultSignOptions() SignOptions {
	return SignOptions{
		RemovePartialSigs:      true,
		TryFinalize:            true,
		SignWithTapInternalKey: true,
		SignWithAllKeys:        true,
	}
}
