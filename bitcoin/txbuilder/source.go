// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/walletcore/bitcoin"
)

// OwnedScript describes script derived by the wallet.
type OwnedScript struct {
	Keychain bitcoin.KeychainKind
	Index    uint32
	Builder  *PSBTInputBuilder
}

// Source provides wallet state needed to build transactions.
// Calls are made under caller's lock, implementation must not block on it.
type Source interface {
	// UTXOs returns all utxos known to the wallet including spent ones.
	UTXOs() ([]bitcoin.UTXO, error)
	// UTXO returns utxo by outpoint, bitcoin.ErrUnknownUTXO if there is no such.
	UTXO(outPoint wire.OutPoint) (bitcoin.UTXO, error)
	// Tx returns transaction record, bitcoin.ErrTransactionNotFound if there is no such.
	Tx(hash chainhash.Hash) (bitcoin.TxRecord, error)
	// Spend returns input builder and satisfaction weight of wallet script.
	Spend(keychain bitcoin.KeychainKind, index uint32) (*PSBTInputBuilder, int64, error)
	// Owner returns nil if script is not derived by the wallet.
	Owner(script []byte) (*OwnedScript, error)
	// ChangeScript returns script receiving change.
	ChangeScript() ([]byte, error)
}
