// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package wallet

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/walletcore/bitcoin"
)

// InsertTx records transaction seen by the chain source. Spent wallet utxos
// are marked, owned outputs are added, unconfirmed transactions conflicting
// with it are evicted together with their descendants. Returns false if
// transaction is not relevant to the wallet or nothing changed.
func (w *Wallet) InsertTx(tx *wire.MsgTx, confirmed *bitcoin.BlockTime) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	hash := tx.TxHash()
	existing, err := w.store.Tx(hash)
	switch {
	case err == nil:
		if confirmed == nil || (existing.Confirmed != nil && *existing.Confirmed == *confirmed) {
			return false, nil
		}
		if err := w.store.PutTx(bitcoin.TxRecord{Tx: tx, Confirmed: confirmed}); err != nil {
			return false, err
		}

		log.Debugf("Transaction %v confirmed at height %d", hash, confirmed.Height)
		return true, nil
	case !errors.Is(err, bitcoin.ErrTransactionNotFound):
		return false, err
	}

	relevant, err := w.isRelevant(tx)
	if err != nil || !relevant {
		return false, err
	}

	records, err := w.store.ListTxs()
	if err != nil {
		return false, err
	}

	evicted, ok := conflicts(tx, confirmed != nil, records)
	if !ok {
		log.Warnf("Transaction %v conflicts with confirmed history, ignored", hash)
		return false, nil
	}

	var (
		batch   = w.store.NewBatch()
		updates = make(map[wire.OutPoint]bitcoin.UTXO)
		deleted = make(map[wire.OutPoint]struct{})
	)
	for _, record := range evicted {
		evictedHash := record.Tx.TxHash()
		batch.DeleteTx(evictedHash)
		for vout := range record.Tx.TxOut {
			outPoint := wire.OutPoint{Hash: evictedHash, Index: uint32(vout)}
			batch.DeleteUTXO(outPoint)
			deleted[outPoint] = struct{}{}
		}

		log.Infof("Transaction %v is replaced by %v", evictedHash, hash)
	}
	for _, record := range evicted {
		for _, txIn := range record.Tx.TxIn {
			if _, ok := deleted[txIn.PreviousOutPoint]; ok {
				continue
			}
			if err := w.setSpent(updates, txIn.PreviousOutPoint, false); err != nil {
				return false, err
			}
		}
	}

	for _, txIn := range tx.TxIn {
		if _, ok := deleted[txIn.PreviousOutPoint]; ok {
			continue
		}
		if err := w.setSpent(updates, txIn.PreviousOutPoint, true); err != nil {
			return false, err
		}
	}

	revealed := make(map[bitcoin.KeychainKind]uint32, 2)
	for vout, txOut := range tx.TxOut {
		owned, ok := w.scripts[string(txOut.PkScript)]
		if !ok {
			continue
		}

		outPoint := wire.OutPoint{Hash: hash, Index: uint32(vout)}
		updates[outPoint] = bitcoin.UTXO{
			OutPoint:        outPoint,
			Value:           btcutil.Amount(txOut.Value),
			Script:          txOut.PkScript,
			Keychain:        owned.Keychain,
			DerivationIndex: owned.Index,
		}

		if owned.Index >= w.revealed[owned.Keychain] && owned.Index+1 > revealed[owned.Keychain] {
			revealed[owned.Keychain] = owned.Index + 1
		}
	}

	for _, utxo := range updates {
		batch.PutUTXO(utxo)
	}
	batch.PutTx(bitcoin.TxRecord{Tx: tx, Confirmed: confirmed})
	for kind, count := range revealed {
		batch.SetLastIndex(kind, count-1)
	}

	if err := w.store.Write(batch); err != nil {
		return false, err
	}

	for _, txOut := range tx.TxOut {
		if _, ok := w.scripts[string(txOut.PkScript)]; ok {
			w.used[string(txOut.PkScript)] = struct{}{}
		}
	}
	for kind, count := range revealed {
		w.revealed[kind] = count
		if err := w.extend(kind); err != nil {
			return true, err
		}
	}

	log.Debugf("Inserted transaction %v, %d utxos updated, %d transactions evicted", hash, len(updates), len(evicted))

	return true, nil
}

// isRelevant returns true if transaction spends wallet utxo or pays to wallet script.
func (w *Wallet) isRelevant(tx *wire.MsgTx) (bool, error) {
	for _, txOut := range tx.TxOut {
		if _, ok := w.scripts[string(txOut.PkScript)]; ok {
			return true, nil
		}
	}

	for _, txIn := range tx.TxIn {
		_, err := w.store.UTXO(txIn.PreviousOutPoint)
		switch {
		case err == nil:
			return true, nil
		case !errors.Is(err, bitcoin.ErrUnknownUTXO):
			return false, err
		}
	}

	return false, nil
}

// setSpent updates spent flag of wallet utxo, unknown outpoints are skipped.
func (w *Wallet) setSpent(updates map[wire.OutPoint]bitcoin.UTXO, outPoint wire.OutPoint, spent bool) error {
	utxo, ok := updates[outPoint]
	if !ok {
		var err error
		utxo, err = w.store.UTXO(outPoint)
		switch {
		case errors.Is(err, bitcoin.ErrUnknownUTXO):
			return nil
		case err != nil:
			return err
		}
	}

	utxo.IsSpent = spent
	updates[outPoint] = utxo

	return nil
}

// conflicts returns transactions spending any input of tx together with
// their descendants. Returns false if a confirmed transaction conflicts with
// unconfirmed tx.
func conflicts(tx *wire.MsgTx, confirmed bool, records []bitcoin.TxRecord) ([]bitcoin.TxRecord, bool) {
	hash := tx.TxHash()
	spentBy := make(map[wire.OutPoint]int, len(records))
	for i, record := range records {
		for _, txIn := range record.Tx.TxIn {
			spentBy[txIn.PreviousOutPoint] = i
		}
	}

	var (
		evicted []bitcoin.TxRecord
		seen    = make(map[chainhash.Hash]struct{})
		queue   []int
	)
	for _, txIn := range tx.TxIn {
		if i, ok := spentBy[txIn.PreviousOutPoint]; ok {
			queue = append(queue, i)
		}
	}

	for len(queue) > 0 {
		record := records[queue[0]]
		queue = queue[1:]

		recordHash := record.Tx.TxHash()
		if _, ok := seen[recordHash]; ok || recordHash == hash {
			continue
		}
		seen[recordHash] = struct{}{}

		if record.Confirmed != nil && !confirmed {
			return nil, false
		}
		evicted = append(evicted, record)

		for vout := range record.Tx.TxOut {
			if i, ok := spentBy[wire.OutPoint{Hash: recordHash, Index: uint32(vout)}]; ok {
				queue = append(queue, i)
			}
		}
	}

	return evicted, true
}
