// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package wallet

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/BoostyLabs/walletcore/bitcoin/keychain"
	"github.com/BoostyLabs/walletcore/bitcoin/signer"
	"github.com/BoostyLabs/walletcore/bitcoin/store"
)

// DefaultLookahead is the number of scripts derived beyond the last revealed
// index of each keychain.
const DefaultLookahead = 20

// Config defines wallet dependencies.
type Config struct {
	Network *chaincfg.Params

	// External derives receiving scripts.
	External *keychain.Template
	// Internal derives change scripts, change goes to External if nil.
	Internal *keychain.Template

	Store *store.Store

	// Lookahead defaults to DefaultLookahead.
	Lookahead uint32

	// Keys signs inputs derived by the templates, may be nil for watch-only wallets.
	Keys signer.KeyStore
	// Signers run after the key signer.
	Signers []signer.Signer
}

// validate checks config and fills defaults.
func (c *Config) validate() error {
	switch {
	case c.Network == nil:
		return errors.New("network is required")
	case c.External == nil:
		return errors.New("external template is required")
	case c.Store == nil:
		return errors.New("store is required")
	}

	if c.Lookahead == 0 {
		c.Lookahead = DefaultLookahead
	}

	return nil
}
