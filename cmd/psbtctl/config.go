// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jessevdk/go-flags"

	"github.com/BoostyLabs/walletcore/bitcoin"
	"github.com/BoostyLabs/walletcore/bitcoin/utils"
)

const (
	defaultConfigFilename = "psbtctl.conf"
	defaultLogLevel       = "warn"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "psbtctl.log"
	defaultStoreDirname   = "store"
	defaultNetwork        = "mainnet"
	defaultScriptType     = "wpkh"
)

var (
	defaultHomeDir    = btcutil.AppDataDir("psbtctl", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// config defines global options, set by config file and command line.
type config struct {
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"Directory to store wallet state"`
	LogDir     string `long:"logdir" description:"Directory to log output"`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical, off} -- You may also specify <subsystem>=<level>,<subsystem>=<level>,... to set the log level for individual subsystems"`
	Network    string `short:"n" long:"network" description:"Bitcoin network {mainnet, testnet3, regtest, signet, simnet}"`

	Seed       string `long:"seed" default-mask:"-" description:"Hex encoded master seed"`
	MasterKey  string `long:"xprv" default-mask:"-" description:"Extended master private key, used instead of seed"`
	ScriptType string `long:"scripttype" description:"Wallet script type {wpkh, sh(wpkh), pkh, tr}"`
	Lookahead  uint32 `long:"lookahead" description:"Number of addresses watched beyond the last revealed one"`
}

// defaultConfig returns config with default values.
func defaultConfig() config {
	return config{
		ConfigFile: defaultConfigFile,
		DataDir:    defaultHomeDir,
		LogDir:     defaultLogDir,
		DebugLevel: defaultLogLevel,
		Network:    defaultNetwork,
		ScriptType: defaultScriptType,
	}
}

// loadConfig initializes and parses the config using a config file and command
// line options. Command line options take precedence over config file.
// Returned parser executes commands registered by register.
func loadConfig(args []string, register func(*flags.Parser, *config) error) (*flags.Parser, *config, error) {
	cfg := defaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.IgnoreUnknown)
	if _, err := preParser.ParseArgs(args); err != nil {
		return nil, nil, err
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if err := register(parser, &cfg); err != nil {
		return nil, nil, err
	}

	err := flags.NewIniParser(parser).ParseFile(cleanAndExpandPath(preCfg.ConfigFile))
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, nil, err
		}
		log.Debugf("Config file is not loaded: %v", err)
	}

	return parser, &cfg, nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	return filepath.Clean(os.ExpandEnv(path))
}

// networkParams returns chain parameters by network name.
func networkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet3", "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

// masterKey returns extended master key from seed or xprv option.
func (c *config) masterKey(params *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {
	switch {
	case c.Seed != "" && c.MasterKey != "":
		return nil, errors.New("seed and xprv are mutually exclusive")
	case c.Seed != "":
		seed, err := hex.DecodeString(c.Seed)
		if err != nil {
			return nil, fmt.Errorf("invalid seed: %w", err)
		}

		return hdkeychain.NewMaster(seed, params)
	case c.MasterKey != "":
		key, err := hdkeychain.NewKeyFromString(c.MasterKey)
		if err != nil {
			return nil, err
		}
		if !key.IsPrivate() {
			return nil, errors.New("xprv must be a private key")
		}
		if !key.IsForNet(params) {
			return nil, fmt.Errorf("xprv is not for %s", params.Name)
		}

		return key, nil
	default:
		return nil, errors.New("wallet commands require seed or xprv")
	}
}

// parseRecipient parses address:satoshis pair.
func parseRecipient(s string, params *chaincfg.Params) (bitcoin.Recipient, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return bitcoin.Recipient{}, fmt.Errorf("recipient %q: expected address:satoshis", s)
	}

	script, err := utils.ScriptFromAddress(s[:idx], params)
	if err != nil {
		return bitcoin.Recipient{}, fmt.Errorf("recipient %q: %w", s, err)
	}

	amount, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil {
		return bitcoin.Recipient{}, fmt.Errorf("recipient %q: %w", s, err)
	}

	return bitcoin.Recipient{Script: script, Amount: btcutil.Amount(amount)}, nil
}
