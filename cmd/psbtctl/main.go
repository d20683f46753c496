// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

// Command psbtctl builds, signs and combines bitcoin transactions as PSBTs
// from a local HD wallet.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jessevdk/go-flags"

	"github.com/BoostyLabs/walletcore/bitcoin/keychain"
	"github.com/BoostyLabs/walletcore/bitcoin/signer"
	"github.com/BoostyLabs/walletcore/bitcoin/store"
	"github.com/BoostyLabs/walletcore/bitcoin/wallet"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// run parses arguments and executes requested command writing its output to out.
func run(args []string, out io.Writer) error {
	a := &app{out: out}
	defer a.close()

	parser, cfg, err := loadConfig(args, a.register)
	if err != nil {
		return err
	}
	a.cfg = cfg

	_, err = parser.ParseArgs(args)
	return err
}

// app holds state shared by commands.
type app struct {
	cfg    *config
	out    io.Writer
	params *chaincfg.Params

	store  *store.Store
	wallet *wallet.Wallet
}

// prepare resolves network and sets up logging, commands call it before
// doing anything else.
func (a *app) prepare() error {
	if a.params != nil {
		return nil
	}

	params, err := networkParams(a.cfg.Network)
	if err != nil {
		return err
	}

	a.cfg.DataDir = cleanAndExpandPath(a.cfg.DataDir)
	a.cfg.LogDir = cleanAndExpandPath(a.cfg.LogDir)

	if err := parseAndSetDebugLevels(a.cfg.DebugLevel); err != nil {
		return err
	}
	if err := initLogRotator(filepath.Join(a.cfg.LogDir, params.Name, defaultLogFilename)); err != nil {
		return err
	}

	a.params = params
	return nil
}

// openWallet opens wallet on first use.
func (a *app) openWallet() (*wallet.Wallet, error) {
	if a.wallet != nil {
		return a.wallet, nil
	}
	if err := a.prepare(); err != nil {
		return nil, err
	}

	master, err := a.cfg.masterKey(a.params)
	if err != nil {
		return nil, err
	}

	scriptType, err := keychain.ParseScriptType(a.cfg.ScriptType)
	if err != nil {
		return nil, err
	}

	external, internal, err := keychain.NewSingleKeyTemplates(master, scriptType, a.params)
	if err != nil {
		return nil, err
	}

	a.store, err = store.Open(filepath.Join(a.cfg.DataDir, a.params.Name, defaultStoreDirname))
	if err != nil {
		return nil, err
	}

	a.wallet, err = wallet.New(wallet.Config{
		Network:   a.params,
		External:  external,
		Internal:  internal,
		Store:     a.store,
		Lookahead: a.cfg.Lookahead,
		Keys:      signer.NewHDKeys(external.Keys()...),
	})
	if err != nil {
		return nil, err
	}

	return a.wallet, nil
}

// close releases store and log rotator.
func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Errorf("Failed to close store: %v", err)
		}
	}
	if logRotator != nil {
		logRotator.Close()
		logRotator = nil
	}
}

// println writes line to command output.
func (a *app) println(v ...interface{}) error {
	_, err := fmt.Fprintln(a.out, v...)
	return err
}

// printJSON writes indented JSON to command output.
func (a *app) printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	return a.println(string(data))
}
