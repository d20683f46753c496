// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/jessevdk/go-flags"

	"github.com/BoostyLabs/walletcore/bitcoin"
	"github.com/BoostyLabs/walletcore/bitcoin/psbtutil"
	"github.com/BoostyLabs/walletcore/bitcoin/signer"
	"github.com/BoostyLabs/walletcore/bitcoin/txbuilder"
	"github.com/BoostyLabs/walletcore/bitcoin/utils"
	"github.com/BoostyLabs/walletcore/bitcoin/wallet"
)

// register adds commands to parser.
func (a *app) register(parser *flags.Parser, _ *config) error {
	commands := []struct {
		name, short string
		data        interface{}
	}{
		{"newaddress", "Reveal wallet address", &newAddressCommand{app: a}},
		{"balance", "Show wallet balance", &balanceCommand{app: a}},
		{"listunspent", "List unspent wallet outputs", &listUnspentCommand{app: a}},
		{"listtransactions", "List wallet transactions", &listTransactionsCommand{app: a}},
		{"addtx", "Record transaction relevant to the wallet", &addTxCommand{app: a}},
		{"build", "Build unsigned PSBT paying recipients", &buildCommand{app: a}},
		{"bumpfee", "Build unsigned replacement of wallet transaction", &bumpFeeCommand{app: a}},
		{"sign", "Sign PSBT with wallet keys", &signCommand{app: a}},
		{"combine", "Combine PSBTs of the same transaction", &combineCommand{app: a}},
		{"finalize", "Finalize PSBT inputs", &finalizeCommand{app: a}},
		{"extract", "Extract network serialized transaction from finalized PSBT", &extractCommand{app: a}},
		{"decode", "Show PSBT as JSON", &decodeCommand{app: a}},
	}
	for _, command := range commands {
		if _, err := parser.AddCommand(command.name, command.short, command.short, command.data); err != nil {
			return err
		}
	}

	return nil
}

type newAddressCommand struct {
	app    *app
	Change bool    `long:"change" description:"Reveal change address"`
	Peek   *uint32 `long:"peek" description:"Show address at index without revealing it"`
	Unused bool    `long:"unused" description:"Return last revealed address if it is unused"`
}

func (c *newAddressCommand) Execute(_ []string) error {
	w, err := c.app.openWallet()
	if err != nil {
		return err
	}

	index := wallet.AddressNew
	switch {
	case c.Peek != nil:
		index = wallet.AddressPeek(*c.Peek)
	case c.Unused:
		index = wallet.AddressLastUnused
	}

	get := w.GetAddress
	if c.Change {
		get = w.GetInternalAddress
	}

	info, err := get(index)
	if err != nil {
		return err
	}

	return c.app.println(info.Address.EncodeAddress())
}

type balanceCommand struct {
	app *app
}

func (c *balanceCommand) Execute(_ []string) error {
	w, err := c.app.openWallet()
	if err != nil {
		return err
	}

	balance, err := w.Balance()
	if err != nil {
		return err
	}

	return c.app.printJSON(map[string]int64{
		"confirmed":         int64(balance.Confirmed),
		"trusted_pending":   int64(balance.TrustedPending),
		"untrusted_pending": int64(balance.UntrustedPending),
		"total":             int64(balance.Total()),
	})
}

// utxoView is JSON representation of wallet utxo.
type utxoView struct {
	OutPoint string `json:"outpoint"`
	Value    int64  `json:"value"`
	Address  string `json:"address"`
	Keychain string `json:"keychain"`
	Index    uint32 `json:"index"`
}

type listUnspentCommand struct {
	app *app
}

func (c *listUnspentCommand) Execute(_ []string) error {
	w, err := c.app.openWallet()
	if err != nil {
		return err
	}

	utxos, err := w.ListUnspent()
	if err != nil {
		return err
	}

	views := make([]utxoView, 0, len(utxos))
	for _, utxo := range utxos {
		views = append(views, utxoView{
			OutPoint: utxo.OutPoint.String(),
			Value:    int64(utxo.Value),
			Address:  utils.AddressFromScript(utxo.Script, c.app.params),
			Keychain: utxo.Keychain.String(),
			Index:    utxo.DerivationIndex,
		})
	}

	return c.app.printJSON(views)
}

// transactionView is JSON representation of wallet transaction.
type transactionView struct {
	Txid     string `json:"txid"`
	Received int64  `json:"received"`
	Sent     int64  `json:"sent"`
	Fee      *int64 `json:"fee,omitempty"`
	Height   uint32 `json:"height,omitempty"`
}

type listTransactionsCommand struct {
	app *app
}

func (c *listTransactionsCommand) Execute(_ []string) error {
	w, err := c.app.openWallet()
	if err != nil {
		return err
	}

	txs, err := w.ListTransactions()
	if err != nil {
		return err
	}

	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		view := transactionView{
			Txid:     tx.Txid.String(),
			Received: int64(tx.Received),
			Sent:     int64(tx.Sent),
		}
		if tx.FeeKnown {
			fee := int64(tx.Fee)
			view.Fee = &fee
		}
		if tx.Confirmed != nil {
			view.Height = tx.Confirmed.Height
		}
		views = append(views, view)
	}

	return c.app.printJSON(views)
}

type addTxCommand struct {
	app       *app
	Height    uint32 `long:"height" description:"Height of block confirming transaction, unconfirmed if zero"`
	Timestamp int64  `long:"time" description:"Unix time of block confirming transaction"`
	Args      struct {
		Tx string `positional-arg-name:"rawtx" description:"Hex encoded transaction"`
	} `positional-args:"yes" required:"yes"`
}

func (c *addTxCommand) Execute(_ []string) error {
	w, err := c.app.openWallet()
	if err != nil {
		return err
	}

	raw, err := hex.DecodeString(c.Args.Tx)
	if err != nil {
		return err
	}
	tx := new(wire.MsgTx)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return err
	}

	var confirmed *bitcoin.BlockTime
	if c.Height > 0 {
		confirmed = &bitcoin.BlockTime{Height: c.Height, Timestamp: c.Timestamp}
	}

	inserted, err := w.InsertTx(tx, confirmed)
	if err != nil {
		return err
	}
	if !inserted {
		log.Warnf("Transaction %v is not relevant or already known", tx.TxHash())
	}

	return c.app.println(tx.TxHash())
}

// feeOptions are fee options shared by build and bumpfee.
type feeOptions struct {
	FeeRate *float64 `long:"feerate" description:"Fee rate in sat/vB"`
	Fee     *int64   `long:"fee" description:"Absolute fee in satoshis"`
}

func (o feeOptions) values() (*bitcoin.FeeRate, *btcutil.Amount) {
	var (
		rate *bitcoin.FeeRate
		fee  *btcutil.Amount
	)
	if o.FeeRate != nil {
		r := bitcoin.FeeRate(*o.FeeRate)
		rate = &r
	}
	if o.Fee != nil {
		f := btcutil.Amount(*o.Fee)
		fee = &f
	}

	return rate, fee
}

type buildCommand struct {
	app *app
	feeOptions

	To              []string `long:"to" description:"Recipient as address:satoshis, may be repeated"`
	UTXOs           []string `long:"utxo" description:"Outpoint txid:vout that must be spent, may be repeated"`
	Unspendable     []string `long:"unspendable" description:"Outpoint txid:vout that must not be spent, may be repeated"`
	Manual          bool     `long:"manual" description:"Spend only utxos given by --utxo"`
	ChangePolicy    string   `long:"changepolicy" description:"Which utxos may be selected {allowed, only, forbidden} regarding change"`
	DrainWallet     bool     `long:"drainwallet" description:"Spend all spendable utxos"`
	DrainTo         string   `long:"drainto" description:"Address receiving everything left after recipients and fee"`
	RBF             bool     `long:"rbf" description:"Signal replaceability"`
	Sequence        *uint32  `long:"sequence" description:"Use input sequence verbatim"`
	Data            string   `long:"data" description:"Hex encoded OP_RETURN payload"`
	LockTime        uint32   `long:"locktime" description:"Transaction lock time"`
	OnlyWitnessUTXO bool     `long:"onlywitnessutxo" description:"Skip previous transactions of segwit inputs"`
	AllowDust       bool     `long:"allowdust" description:"Allow recipients below dust threshold"`
}

func (c *buildCommand) Execute(_ []string) error {
	w, err := c.app.openWallet()
	if err != nil {
		return err
	}

	params := txbuilder.BuildParams{
		ManuallySelectedOnly: c.Manual,
		DrainWallet:          c.DrainWallet,
		LockTime:             c.LockTime,
		OnlyWitnessUTXO:      c.OnlyWitnessUTXO,
		AllowDust:            c.AllowDust,
	}
	params.FeeRate, params.FeeAbsolute = c.values()

	for _, to := range c.To {
		recipient, err := parseRecipient(to, c.app.params)
		if err != nil {
			return err
		}
		params.Recipients = append(params.Recipients, recipient)
	}

	if params.UTXOs, err = parseOutPoints(c.UTXOs); err != nil {
		return err
	}
	if params.Unspendable, err = parseOutPoints(c.Unspendable); err != nil {
		return err
	}
	if params.ChangePolicy, err = parseChangePolicy(c.ChangePolicy); err != nil {
		return err
	}

	if c.DrainTo != "" {
		if params.DrainTo, err = utils.ScriptFromAddress(c.DrainTo, c.app.params); err != nil {
			return err
		}
	}
	if c.Data != "" {
		if params.Data, err = hex.DecodeString(c.Data); err != nil {
			return err
		}
	}

	switch {
	case c.Sequence != nil:
		params.RBF = txbuilder.RBFSequence(*c.Sequence)
	case c.RBF:
		params.RBF = txbuilder.RBFDefault()
	}

	result, err := w.Build(params)
	if err != nil {
		return err
	}

	log.Infof("Built %v paying fee %v (%v)", result.Details.Txid, result.Details.Fee, result.FeeRate)

	return c.app.printPacket(result.Packet)
}

type bumpFeeCommand struct {
	app *app
	feeOptions

	Txid            string   `long:"txid" required:"yes" description:"Transaction to replace"`
	Shrink          string   `long:"shrink" description:"Address of the output allowed to pay the fee"`
	UTXOs           []string `long:"utxo" description:"Outpoint txid:vout to add, may be repeated"`
	Unspendable     []string `long:"unspendable" description:"Outpoint txid:vout that must not be spent, may be repeated"`
	OnlyWitnessUTXO bool     `long:"onlywitnessutxo" description:"Skip previous transactions of segwit inputs"`
}

func (c *bumpFeeCommand) Execute(_ []string) error {
	w, err := c.app.openWallet()
	if err != nil {
		return err
	}

	txid, err := chainhash.NewHashFromStr(c.Txid)
	if err != nil {
		return err
	}

	params := txbuilder.BumpFeeParams{Txid: *txid, OnlyWitnessUTXO: c.OnlyWitnessUTXO}
	params.FeeRate, params.FeeAbsolute = c.values()

	if c.Shrink != "" {
		if params.AllowShrinking, err = utils.ScriptFromAddress(c.Shrink, c.app.params); err != nil {
			return err
		}
	}
	if params.UTXOs, err = parseOutPoints(c.UTXOs); err != nil {
		return err
	}
	if params.Unspendable, err = parseOutPoints(c.Unspendable); err != nil {
		return err
	}

	result, err := w.BumpFee(params)
	if err != nil {
		return err
	}

	return c.app.printPacket(result.Packet)
}

// packetArg is a single base64 PSBT positional argument.
type packetArg struct {
	Psbt string `positional-arg-name:"psbt" description:"Base64 encoded PSBT"`
}

// signOptions are options of sign and finalize.
type signOptions struct {
	TrustWitnessUTXO  bool    `long:"trustwitnessutxo" description:"Sign segwit v0 inputs without previous transaction"`
	AssumeHeight      *uint32 `long:"assumeheight" description:"Do not finalize before lock time is reached at height"`
	AllowAllSighashes bool    `long:"allowallsighashes" description:"Sign inputs requesting non default sighash"`
	NoFinalize        bool    `long:"nofinalize" description:"Keep inputs unfinalized"`
	KeepPartialSigs   bool    `long:"keeppartialsigs" description:"Keep signatures of finalized inputs"`
}

func (o signOptions) values() signer.SignOptions {
	opts := signer.DefaultSignOptions()
	opts.TrustWitnessUTXO = o.TrustWitnessUTXO
	opts.AssumeHeight = o.AssumeHeight
	opts.AllowAllSighashes = o.AllowAllSighashes
	opts.TryFinalize = !o.NoFinalize
	opts.RemovePartialSigs = !o.KeepPartialSigs

	return opts
}

type signCommand struct {
	app  *app
	Args packetArg `positional-args:"yes" required:"yes"`
	signOptions
}

func (c *signCommand) Execute(_ []string) error {
	w, err := c.app.openWallet()
	if err != nil {
		return err
	}

	p, err := psbtutil.Decode(c.Args.Psbt)
	if err != nil {
		return err
	}

	finalized, err := w.Sign(p, c.values())
	if err != nil {
		return err
	}
	log.Infof("PSBT of %v finalized: %v", psbtutil.Txid(p), finalized)

	return c.app.printPacket(p)
}

type combineCommand struct {
	app  *app
	Args struct {
		Psbts []string `positional-arg-name:"psbt" description:"Base64 encoded PSBTs" required:"2"`
	} `positional-args:"yes" required:"yes"`
}

func (c *combineCommand) Execute(_ []string) error {
	if err := c.app.prepare(); err != nil {
		return err
	}

	packets := make([]*psbt.Packet, 0, len(c.Args.Psbts))
	for _, encoded := range c.Args.Psbts {
		p, err := psbtutil.Decode(encoded)
		if err != nil {
			return err
		}
		packets = append(packets, p)
	}

	combined, err := psbtutil.CombineAll(packets...)
	if err != nil {
		return err
	}

	return c.app.printPacket(combined)
}

type finalizeCommand struct {
	app  *app
	Args packetArg `positional-args:"yes" required:"yes"`
	signOptions
}

func (c *finalizeCommand) Execute(_ []string) error {
	if err := c.app.prepare(); err != nil {
		return err
	}

	p, err := psbtutil.Decode(c.Args.Psbt)
	if err != nil {
		return err
	}

	finalized, err := signer.Finalize(p, c.values())
	if err != nil {
		return err
	}
	if !finalized {
		log.Warnf("Some inputs of %v are not finalized", psbtutil.Txid(p))
	}

	return c.app.printPacket(p)
}

type extractCommand struct {
	app  *app
	Args packetArg `positional-args:"yes" required:"yes"`
}

func (c *extractCommand) Execute(_ []string) error {
	if err := c.app.prepare(); err != nil {
		return err
	}

	p, err := psbtutil.Decode(c.Args.Psbt)
	if err != nil {
		return err
	}

	tx, err := psbtutil.Extract(p)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return err
	}

	return c.app.println(hex.EncodeToString(buf.Bytes()))
}

type decodeCommand struct {
	app  *app
	Args packetArg `positional-args:"yes" required:"yes"`
}

func (c *decodeCommand) Execute(_ []string) error {
	if err := c.app.prepare(); err != nil {
		return err
	}

	p, err := psbtutil.Decode(c.Args.Psbt)
	if err != nil {
		return err
	}

	data, err := psbtutil.JSON(p, c.app.params)
	if err != nil {
		return err
	}

	return c.app.println(string(data))
}

// printPacket writes base64 encoded packet to command output.
func (a *app) printPacket(p *psbt.Packet) error {
	encoded, err := psbtutil.Encode(p)
	if err != nil {
		return err
	}

	return a.println(encoded)
}

// parseOutPoints parses txid:vout outpoints.
func parseOutPoints(values []string) ([]wire.OutPoint, error) {
	if len(values) == 0 {
		return nil, nil
	}

	outPoints := make([]wire.OutPoint, 0, len(values))
	for _, value := range values {
		outPoint, err := wire.NewOutPointFromString(value)
		if err != nil {
			return nil, fmt.Errorf("outpoint %q: %w", value, err)
		}
		outPoints = append(outPoints, *outPoint)
	}

	return outPoints, nil
}

var errUnknownChangePolicy = errors.New("unknown change policy")

// parseChangePolicy parses change spend policy name, empty name allows change.
func parseChangePolicy(name string) (txbuilder.ChangeSpendPolicy, error) {
	switch strings.ToLower(name) {
	case "", "allowed":
		return txbuilder.ChangeAllowed, nil
	case "only":
		return txbuilder.OnlyChange, nil
	case "forbidden":
		return txbuilder.ChangeForbidden, nil
	default:
		return 0, fmt.Errorf("%w: %q", errUnknownChangePolicy, name)
	}
}
