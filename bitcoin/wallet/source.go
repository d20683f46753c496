// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package wallet

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/walletcore/bitcoin"
	"github.com/BoostyLabs/walletcore/bitcoin/txbuilder"
)

// source exposes wallet state to transaction builder. Methods are called
// with wallet lock held.
type source struct {
	w *Wallet
}

var _ txbuilder.Source = source{}

func (s source) UTXOs() ([]bitcoin.UTXO, error) {
	return s.w.store.ListUTXOs()
}

func (s source) UTXO(outPoint wire.OutPoint) (bitcoin.UTXO, error) {
	return s.w.store.UTXO(outPoint)
}

func (s source) Tx(hash chainhash.Hash) (bitcoin.TxRecord, error) {
	return s.w.store.Tx(hash)
}

func (s source) Spend(kind bitcoin.KeychainKind, index uint32) (*txbuilder.PSBTInputBuilder, int64, error) {
	template, err := s.w.template(kind)
	if err != nil {
		return nil, 0, err
	}

	if cached := s.w.cache[kind]; index < uint32(len(cached)) {
		return cached[index].owned.Builder, template.SatisfactionWeight(), nil
	}

	derived, err := template.Derive(index)
	if err != nil {
		return nil, 0, err
	}

	builder, err := newInputBuilder(derived)
	if err != nil {
		return nil, 0, err
	}

	return builder, template.SatisfactionWeight(), nil
}

func (s source) Owner(script []byte) (*txbuilder.OwnedScript, error) {
	owned, ok := s.w.scripts[string(script)]
	if !ok {
		return nil, nil
	}

	return &owned, nil
}

// ChangeScript returns last unused change address script. Address is revealed
// by wallet only after transaction is built.
func (s source) ChangeScript() ([]byte, error) {
	info, err := s.w.nextUnused(s.w.changeKind())
	if err != nil {
		return nil, err
	}

	return info.Script, nil
}
