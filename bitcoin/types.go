// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package bitcoin

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// KeychainKind defines which wallet keychain derived a script.
type KeychainKind uint8

const (
	// External defines keychain used for receiving addresses.
	External KeychainKind = 0
	// Internal defines keychain used for change addresses.
	Internal KeychainKind = 1
)

// String returns keychain name.
func (k KeychainKind) String() string {
	switch k {
	case External:
		return "external"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// UTXO describes unspent transaction output data owned by the wallet.
type UTXO struct {
	OutPoint        wire.OutPoint
	Value           btcutil.Amount // in Satoshi.
	Script          []byte         // ScriptPubKey.
	Keychain        KeychainKind
	DerivationIndex uint32
	IsSpent         bool
}

// TxOut returns utxo as a transaction output.
func (u *UTXO) TxOut() *wire.TxOut {
	return wire.NewTxOut(int64(u.Value), u.Script)
}

// Recipient describes payment destination.
type Recipient struct {
	Script []byte
	Amount btcutil.Amount // in Satoshi.
}

// BlockTime describes block in which transaction was confirmed.
type BlockTime struct {
	Height    uint32
	Timestamp int64 // unix seconds.
}

// TxRecord is a transaction known to the wallet with its confirmation status.
type TxRecord struct {
	Tx        *wire.MsgTx
	Confirmed *BlockTime // nil for unconfirmed transactions.
}

// TransactionDetails is a summary of transaction from the wallet point of view.
type TransactionDetails struct {
	Txid        chainhash.Hash
	Transaction *wire.MsgTx
	Received    btcutil.Amount // sum of outputs owned by the wallet.
	Sent        btcutil.Amount // sum of inputs owned by the wallet.
	Fee         btcutil.Amount
	FeeKnown    bool // false if any input value is unknown.
	Confirmed   *BlockTime
}
