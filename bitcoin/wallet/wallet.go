// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package wallet

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/BoostyLabs/walletcore/bitcoin"
	"github.com/BoostyLabs/walletcore/bitcoin/keychain"
	"github.com/BoostyLabs/walletcore/bitcoin/signer"
	"github.com/BoostyLabs/walletcore/bitcoin/store"
	"github.com/BoostyLabs/walletcore/bitcoin/txbuilder"
)

// ErrUnknownKeychain is returned when wallet has no template for requested keychain.
var ErrUnknownKeychain = errors.New("unknown keychain")

type addressIndexKind uint8

const (
	addressNew addressIndexKind = iota
	addressLastUnused
	addressPeek
)

// AddressIndex selects address returned by GetAddress.
type AddressIndex struct {
	kind  addressIndexKind
	index uint32
}

var (
	// AddressNew reveals next address.
	AddressNew = AddressIndex{kind: addressNew}
	// AddressLastUnused returns last revealed address if it has not received
	// funds yet, otherwise reveals next one.
	AddressLastUnused = AddressIndex{kind: addressLastUnused}
)

// AddressPeek returns address at index without revealing it.
func AddressPeek(index uint32) AddressIndex {
	return AddressIndex{kind: addressPeek, index: index}
}

// AddressInfo describes derived address.
type AddressInfo struct {
	Index    uint32
	Address  btcutil.Address
	Keychain bitcoin.KeychainKind
	Script   []byte
}

// Balance splits value of unspent wallet utxos by confirmation status.
type Balance struct {
	Confirmed btcutil.Amount
	// TrustedPending is unconfirmed change of own transactions.
	TrustedPending btcutil.Amount
	// UntrustedPending is unconfirmed value received from others.
	UntrustedPending btcutil.Amount
}

// Total returns sum of all balance parts.
func (b Balance) Total() btcutil.Amount {
	return b.Confirmed + b.TrustedPending + b.UntrustedPending
}

// derivation is a cached script of the wallet.
type derivation struct {
	derived *keychain.Derived
	owned   txbuilder.OwnedScript
}

// Wallet tracks utxos of scripts derived by keychain templates and builds,
// bumps and signs transactions spending them.
//
// Build, BumpFee, InsertTx and address derivation serialize on the wallet
// lock. Signing only reads wallet state, distinct PSBTs may be signed in parallel.
type Wallet struct {
	mu sync.RWMutex

	params    *chaincfg.Params
	templates map[bitcoin.KeychainKind]*keychain.Template
	store     *store.Store
	lookahead uint32

	// cache holds derivations up to revealed plus lookahead indexes.
	cache    map[bitcoin.KeychainKind][]derivation
	scripts  map[string]txbuilder.OwnedScript
	revealed map[bitcoin.KeychainKind]uint32
	used     map[string]struct{}

	builder *txbuilder.TxBuilder
	signers []signer.Signer
}

// New is a constructor for Wallet.
func New(cfg Config) (*Wallet, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	w := &Wallet{
		params:    cfg.Network,
		templates: map[bitcoin.KeychainKind]*keychain.Template{bitcoin.External: cfg.External},
		store:     cfg.Store,
		lookahead: cfg.Lookahead,
		cache:     make(map[bitcoin.KeychainKind][]derivation, 2),
		scripts:   make(map[string]txbuilder.OwnedScript),
		revealed:  make(map[bitcoin.KeychainKind]uint32, 2),
		used:      make(map[string]struct{}),
	}
	if cfg.Internal != nil {
		w.templates[bitcoin.Internal] = cfg.Internal
	}

	for kind := range w.templates {
		last, ok, err := w.store.LastIndex(kind)
		if err != nil {
			return nil, err
		}
		if ok {
			w.revealed[kind] = last + 1
		}

		if err := w.extend(kind); err != nil {
			return nil, err
		}
	}

	utxos, err := w.store.ListUTXOs()
	if err != nil {
		return nil, err
	}
	for _, utxo := range utxos {
		w.used[string(utxo.Script)] = struct{}{}
	}

	if cfg.Keys != nil {
		w.signers = append(w.signers, signer.NewKeySigner(cfg.Keys))
	}
	w.signers = append(w.signers, cfg.Signers...)
	w.builder = txbuilder.NewTxBuilder(cfg.Network, source{w: w})

	log.Infof("Opened %s wallet with %d utxos, %d external and %d internal addresses revealed",
		cfg.Network.Name, len(utxos), w.revealed[bitcoin.External], w.revealed[bitcoin.Internal])

	return w, nil
}

// Network returns wallet network parameters.
func (w *Wallet) Network() *chaincfg.Params {
	return w.params
}

// GetAddress returns receiving address.
func (w *Wallet) GetAddress(index AddressIndex) (AddressInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.address(bitcoin.External, index)
}

// GetInternalAddress returns change address.
func (w *Wallet) GetInternalAddress(index AddressIndex) (AddressInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.address(w.changeKind(), index)
}

// IsMine returns true if script is derived by the wallet within lookahead.
func (w *Wallet) IsMine(script []byte) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	_, ok := w.scripts[string(script)]
	return ok
}

// Descriptor returns descriptor-like representation of keychain template.
func (w *Wallet) Descriptor(kind bitcoin.KeychainKind) (string, error) {
	template, err := w.template(kind)
	if err != nil {
		return "", err
	}

	return template.String(), nil
}

// Balance returns balance of unspent wallet utxos.
func (w *Wallet) Balance() (Balance, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	utxos, err := w.listUnspent()
	if err != nil {
		return Balance{}, err
	}

	var balance Balance
	for _, utxo := range utxos {
		record, err := w.store.Tx(utxo.OutPoint.Hash)
		switch {
		case err == nil && record.Confirmed != nil:
			balance.Confirmed += utxo.Value
		case err == nil && utxo.Keychain == bitcoin.Internal:
			balance.TrustedPending += utxo.Value
		case err == nil || errors.Is(err, bitcoin.ErrTransactionNotFound):
			balance.UntrustedPending += utxo.Value
		default:
			return Balance{}, err
		}
	}

	return balance, nil
}

// ListUnspent returns unspent wallet utxos ordered by outpoint.
func (w *Wallet) ListUnspent() ([]bitcoin.UTXO, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.listUnspent()
}

func (w *Wallet) listUnspent() ([]bitcoin.UTXO, error) {
	utxos, err := w.store.ListUTXOs()
	if err != nil {
		return nil, err
	}

	unspent := utxos[:0]
	for _, utxo := range utxos {
		if !utxo.IsSpent {
			unspent = append(unspent, utxo)
		}
	}

	return unspent, nil
}

// ListTransactions returns details of wallet transactions, confirmed ones by
// height first, unconfirmed ones last.
func (w *Wallet) ListTransactions() ([]bitcoin.TransactionDetails, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	records, err := w.store.ListTxs()
	if err != nil {
		return nil, err
	}

	details := make([]bitcoin.TransactionDetails, 0, len(records))
	for _, record := range records {
		d, err := w.details(record)
		if err != nil {
			return nil, err
		}

		details = append(details, d)
	}

	sort.SliceStable(details, func(i, j int) bool {
		a, b := details[i].Confirmed, details[j].Confirmed
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Height < b.Height
		}
	})

	return details, nil
}

// details summarizes transaction from the wallet point of view.
func (w *Wallet) details(record bitcoin.TxRecord) (bitcoin.TransactionDetails, error) {
	d := bitcoin.TransactionDetails{
		Txid:        record.Tx.TxHash(),
		Transaction: record.Tx,
		Confirmed:   record.Confirmed,
		FeeKnown:    true,
	}

	var inputs, outputs btcutil.Amount
	for _, txIn := range record.Tx.TxIn {
		utxo, err := w.store.UTXO(txIn.PreviousOutPoint)
		switch {
		case err == nil:
			d.Sent += utxo.Value
			inputs += utxo.Value
			continue
		case !errors.Is(err, bitcoin.ErrUnknownUTXO):
			return d, err
		}

		// foreign input, valued from previous transaction if it is known.
		parent, err := w.store.Tx(txIn.PreviousOutPoint.Hash)
		switch {
		case err == nil && int(txIn.PreviousOutPoint.Index) < len(parent.Tx.TxOut):
			inputs += btcutil.Amount(parent.Tx.TxOut[txIn.PreviousOutPoint.Index].Value)
		case err == nil || errors.Is(err, bitcoin.ErrTransactionNotFound):
			d.FeeKnown = false
		default:
			return d, err
		}
	}

	for _, txOut := range record.Tx.TxOut {
		outputs += btcutil.Amount(txOut.Value)
		if _, ok := w.scripts[string(txOut.PkScript)]; ok {
			d.Received += btcutil.Amount(txOut.Value)
		}
	}

	if d.FeeKnown {
		d.Fee = inputs - outputs
	}

	return d, nil
}

// Build constructs unsigned PSBT, see txbuilder.TxBuilder.Build.
func (w *Wallet) Build(params txbuilder.BuildParams) (*txbuilder.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	result, err := w.builder.Build(params)
	if err != nil {
		return nil, err
	}
	if err := w.revealChange(result); err != nil {
		return nil, err
	}

	return result, nil
}

// BumpFee constructs unsigned replacement of unconfirmed wallet transaction,
// see txbuilder.TxBuilder.BumpFee.
func (w *Wallet) BumpFee(params txbuilder.BumpFeeParams) (*txbuilder.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	result, err := w.builder.BumpFee(params)
	if err != nil {
		return nil, err
	}
	if err := w.revealChange(result); err != nil {
		return nil, err
	}

	return result, nil
}

// Sign signs inputs of packet with wallet keys and configured signers.
// Returns true when every input is finalized.
func (w *Wallet) Sign(p *psbt.Packet, opts signer.SignOptions) (bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return signer.Sign(p, opts, w.signers...)
}

// Finalize finalizes inputs carrying enough signatures.
func (w *Wallet) Finalize(p *psbt.Packet, opts signer.SignOptions) (bool, error) {
	return signer.Finalize(p, opts)
}

// GetPSBTInput returns PSBT input spending wallet utxo.
func (w *Wallet) GetPSBTInput(utxo bitcoin.UTXO, onlyWitnessUTXO bool, sighash txscript.SigHashType) (psbt.PInput, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.builder.PSBTInput(utxo, onlyWitnessUTXO, sighash)
}

func (w *Wallet) template(kind bitcoin.KeychainKind) (*keychain.Template, error) {
	template, ok := w.templates[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeychain, kind)
	}

	return template, nil
}

// changeKind returns keychain receiving change.
func (w *Wallet) changeKind() bitcoin.KeychainKind {
	if _, ok := w.templates[bitcoin.Internal]; ok {
		return bitcoin.Internal
	}

	return bitcoin.External
}

// address returns address of keychain, revealing it if needed. Caller holds write lock.
func (w *Wallet) address(kind bitcoin.KeychainKind, index AddressIndex) (AddressInfo, error) {
	if _, err := w.template(kind); err != nil {
		return AddressInfo{}, err
	}

	switch index.kind {
	case addressPeek:
		derived, err := w.derive(kind, index.index)
		if err != nil {
			return AddressInfo{}, err
		}

		return addressInfo(kind, derived), nil
	case addressLastUnused:
		if revealed := w.revealed[kind]; revealed > 0 {
			last := w.cache[kind][revealed-1].derived
			if _, ok := w.used[string(last.Script)]; !ok {
				return addressInfo(kind, last), nil
			}
		}
	}

	next := w.revealed[kind]
	if err := w.store.SetLastIndex(kind, next); err != nil {
		return AddressInfo{}, err
	}
	w.revealed[kind] = next + 1
	if err := w.extend(kind); err != nil {
		return AddressInfo{}, err
	}

	log.Debugf("Revealed %s address #%d", kind, next)

	return addressInfo(kind, w.cache[kind][next].derived), nil
}

// nextUnused returns address AddressLastUnused would return, without revealing it.
func (w *Wallet) nextUnused(kind bitcoin.KeychainKind) (AddressInfo, error) {
	if _, err := w.template(kind); err != nil {
		return AddressInfo{}, err
	}

	next := w.revealed[kind]
	if next > 0 {
		last := w.cache[kind][next-1].derived
		if _, ok := w.used[string(last.Script)]; !ok {
			return addressInfo(kind, last), nil
		}
	}

	return w.address(kind, AddressPeek(next))
}

// revealChange reveals change address once built transaction pays to it.
func (w *Wallet) revealChange(result *txbuilder.Result) error {
	if result.ChangeIndex < 0 {
		return nil
	}

	kind := w.changeKind()
	next, err := w.nextUnused(kind)
	if err != nil {
		return err
	}

	script := result.Packet.UnsignedTx.TxOut[result.ChangeIndex].PkScript
	if !bytes.Equal(script, next.Script) {
		return nil
	}

	_, err = w.address(kind, AddressLastUnused)

	return err
}

func addressInfo(kind bitcoin.KeychainKind, derived *keychain.Derived) AddressInfo {
	return AddressInfo{
		Index:    derived.Index,
		Address:  derived.Address,
		Keychain: kind,
		Script:   derived.Script,
	}
}

// derive returns cached derivation or derives it.
func (w *Wallet) derive(kind bitcoin.KeychainKind, index uint32) (*keychain.Derived, error) {
	if cached := w.cache[kind]; index < uint32(len(cached)) {
		return cached[index].derived, nil
	}

	template, err := w.template(kind)
	if err != nil {
		return nil, err
	}

	return template.Derive(index)
}

// extend derives scripts of keychain up to revealed plus lookahead indexes.
func (w *Wallet) extend(kind bitcoin.KeychainKind) error {
	template, err := w.template(kind)
	if err != nil {
		return err
	}

	upTo := w.revealed[kind] + w.lookahead
	for index := uint32(len(w.cache[kind])); index < upTo; index++ {
		derived, err := template.Derive(index)
		if err != nil {
			return err
		}

		builder, err := newInputBuilder(derived)
		if err != nil {
			return err
		}

		owned := txbuilder.OwnedScript{Keychain: kind, Index: index, Builder: builder}
		w.cache[kind] = append(w.cache[kind], derivation{derived: derived, owned: owned})
		w.scripts[string(derived.Script)] = owned
	}

	return nil
}

// newInputBuilder returns input builder for derived script.
func newInputBuilder(derived *keychain.Derived) (*txbuilder.PSBTInputBuilder, error) {
	origins := make([]txbuilder.KeyOrigin, len(derived.Keys))
	for i, key := range derived.Keys {
		origins[i] = txbuilder.KeyOrigin{PubKey: key.PubKey, Fingerprint: key.Fingerprint, Path: key.Path}
	}

	return txbuilder.NewPSBTInputBuilder(derived.Script, derived.RedeemScript, derived.WitnessScript, origins...)
}
