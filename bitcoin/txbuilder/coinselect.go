// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/walletcore/bitcoin"
	"github.com/BoostyLabs/walletcore/internal/numbers"
)

// WeightedUTXO is a selection candidate with weight needed to spend it.
type WeightedUTXO struct {
	UTXO               bitcoin.UTXO
	SatisfactionWeight int64
	Segwit             bool
	Foreign            *ForeignUTXO // nil for wallet utxos.
}

// selectionParams describes which utxos may and must be selected.
type selectionParams struct {
	mustUse      []wire.OutPoint
	foreign      []ForeignUTXO
	unspendable  []wire.OutPoint
	manualOnly   bool
	changePolicy ChangeSpendPolicy

	// replaced is the hash of transaction being replaced, its outputs are
	// not spendable while utxos it spends are.
	replaced *chainhash.Hash
	// spentByReplaced lists utxos spent by transaction being replaced.
	spentByReplaced map[wire.OutPoint]struct{}
}

// candidates splits utxos into required ones, in caller order, and optional
// ones sorted by value descending, ties broken by outpoint.
func (b *TxBuilder) candidates(params selectionParams) (required, optional []*WeightedUTXO, err error) {
	required = make([]*WeightedUTXO, 0, len(params.mustUse)+len(params.foreign))
	used := make(map[wire.OutPoint]struct{}, len(params.mustUse)+len(params.foreign))
	evicted := newEvictedSet(b.source, params.replaced)

	for _, outPoint := range params.mustUse {
		utxo, err := b.source.UTXO(outPoint)
		if err != nil {
			return nil, nil, err
		}
		if utxo.IsSpent {
			if _, ok := params.spentByReplaced[outPoint]; !ok {
				return nil, nil, fmt.Errorf("%w: %s is already spent", bitcoin.ErrUnknownUTXO, outPoint)
			}
		}
		descends, err := evicted.contains(outPoint.Hash)
		if err != nil {
			return nil, nil, err
		}
		if descends {
			return nil, nil, fmt.Errorf("%w: %s is created by replaced transaction or its descendant", bitcoin.ErrUnknownUTXO, outPoint)
		}

		weighted, err := b.weighted(utxo)
		if err != nil {
			return nil, nil, err
		}

		required = append(required, weighted)
		used[outPoint] = struct{}{}
	}

	for i := range params.foreign {
		foreign := &params.foreign[i]
		txOut, err := foreign.TxOut()
		if err != nil {
			return nil, nil, err
		}

		required = append(required, &WeightedUTXO{
			UTXO: bitcoin.UTXO{
				OutPoint: foreign.OutPoint,
				Value:    btcutil.Amount(txOut.Value),
				Script:   txOut.PkScript,
			},
			SatisfactionWeight: foreign.SatisfactionWeight,
			Segwit:             foreign.isSegwit(txOut.PkScript),
			Foreign:            foreign,
		})
		used[foreign.OutPoint] = struct{}{}
	}

	if params.manualOnly {
		return required, nil, nil
	}

	unspendable := make(map[wire.OutPoint]struct{}, len(params.unspendable))
	for _, outPoint := range params.unspendable {
		unspendable[outPoint] = struct{}{}
	}

	utxos, err := b.source.UTXOs()
	if err != nil {
		return nil, nil, err
	}

	for _, utxo := range utxos {
		if _, ok := used[utxo.OutPoint]; ok {
			continue
		}
		if _, ok := unspendable[utxo.OutPoint]; ok {
			continue
		}
		if utxo.IsSpent {
			continue
		}
		if !params.changePolicy.allows(utxo.Keychain) {
			continue
		}
		descends, err := evicted.contains(utxo.OutPoint.Hash)
		if err != nil {
			return nil, nil, err
		}
		if descends {
			continue
		}

		weighted, err := b.weighted(utxo)
		if err != nil {
			return nil, nil, err
		}

		optional = append(optional, weighted)
	}

	sort.SliceStable(optional, func(i, j int) bool {
		if optional[i].UTXO.Value != optional[j].UTXO.Value {
			return optional[i].UTXO.Value > optional[j].UTXO.Value
		}

		return lessOutPoint(optional[i].UTXO.OutPoint, optional[j].UTXO.OutPoint)
	})

	return required, optional, nil
}

// evictedSet tells whether transaction is evicted together with replaced
// one, that is whether it is the replaced transaction or descends from it.
type evictedSet struct {
	source   Source
	replaced *chainhash.Hash
	known    map[chainhash.Hash]bool
}

func newEvictedSet(source Source, replaced *chainhash.Hash) *evictedSet {
	return &evictedSet{source: source, replaced: replaced, known: make(map[chainhash.Hash]bool)}
}

// contains walks unconfirmed ancestry of transaction looking for replaced one.
// Confirmed and unknown transactions can not descend from unconfirmed one.
func (set *evictedSet) contains(hash chainhash.Hash) (bool, error) {
	if set.replaced == nil {
		return false, nil
	}
	if hash == *set.replaced {
		return true, nil
	}
	if evicted, ok := set.known[hash]; ok {
		return evicted, nil
	}
	// cycles are impossible, but mark to stop on corrupted records.
	set.known[hash] = false

	record, err := set.source.Tx(hash)
	if err != nil {
		if errors.Is(err, bitcoin.ErrTransactionNotFound) {
			return false, nil
		}

		return false, err
	}
	if record.Confirmed != nil || record.Tx == nil {
		return false, nil
	}

	for _, txIn := range record.Tx.TxIn {
		evicted, err := set.contains(txIn.PreviousOutPoint.Hash)
		if err != nil {
			return false, err
		}
		if evicted {
			set.known[hash] = true

			return true, nil
		}
	}

	return false, nil
}

// weighted returns wallet utxo with the weight needed to spend it.
func (b *TxBuilder) weighted(utxo bitcoin.UTXO) (*WeightedUTXO, error) {
	_, satisfactionWeight, err := b.source.Spend(utxo.Keychain, utxo.DerivationIndex)
	if err != nil {
		return nil, err
	}

	return &WeightedUTXO{
		UTXO:               utxo,
		SatisfactionWeight: satisfactionWeight,
		// wallet templates nest witness programs only.
		Segwit: txscript.IsWitnessProgram(utxo.Script) || txscript.IsPayToScriptHash(utxo.Script),
	}, nil
}

// selectTarget describes what selected inputs have to pay for.
type selectTarget struct {
	amount   btcutil.Amount
	overhead btcutil.Amount
	inputFee func(*WeightedUTXO) btcutil.Amount
}

// selectInputs is a largest first selection taking all required utxos and
// optional ones until amount, overhead and fee of every selected input are
// covered. Takes every optional utxo if all is set. Fails only if selected
// utxos do not cover the amount itself.
func selectInputs(required, optional []*WeightedUTXO, target selectTarget, all bool) ([]*WeightedUTXO, btcutil.Amount, error) {
	selected := make([]*WeightedUTXO, 0, len(required)+len(optional))
	var total, fees btcutil.Amount

	add := func(utxo *WeightedUTXO) (err error) {
		if total, err = numbers.Add(total, utxo.UTXO.Value); err != nil {
			return err
		}
		fees += target.inputFee(utxo)
		selected = append(selected, utxo)

		return nil
	}

	for _, utxo := range required {
		if err := add(utxo); err != nil {
			return nil, 0, err
		}
	}

	for _, utxo := range optional {
		if !all && total >= target.amount+target.overhead+fees {
			break
		}
		if err := add(utxo); err != nil {
			return nil, 0, err
		}
	}

	if total < target.amount {
		return selected, total, NewInsufficientError(target.amount, total)
	}

	return selected, total, nil
}

// lessOutPoint orders outpoints by txid bytes, then by index.
func lessOutPoint(a, b wire.OutPoint) bool {
	if cmp := bytes.Compare(a.Hash[:], b.Hash[:]); cmp != 0 {
		return cmp < 0
	}

	return a.Index < b.Index
}
