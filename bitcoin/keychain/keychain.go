// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package keychain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// ErrInvalidPath is returned for malformed derivation paths.
var ErrInvalidPath = errors.New("invalid derivation path")

// AccountKey is an extended key together with its origin in the master key tree.
type AccountKey struct {
	Key         *hdkeychain.ExtendedKey // private or public extended key.
	Fingerprint uint32                  // master key fingerprint.
	Path        []uint32                // path from master to Key.
}

// NewAccountKey derives account key from master key by provided path.
func NewAccountKey(master *hdkeychain.ExtendedKey, path ...uint32) (AccountKey, error) {
	fingerprint, err := Fingerprint(master)
	if err != nil {
		return AccountKey{}, err
	}

	key := master
	for _, idx := range path {
		key, err = key.Derive(idx)
		if err != nil {
			return AccountKey{}, err
		}
	}

	return AccountKey{
		Key:         key,
		Fingerprint: fingerprint,
		Path:        append([]uint32(nil), path...),
	}, nil
}

// IsPrivate returns true if account key holds private key material.
func (k AccountKey) IsPrivate() bool {
	return k.Key.IsPrivate()
}

// Neuter returns account key without private key material.
func (k AccountKey) Neuter() (AccountKey, error) {
	key, err := k.Key.Neuter()
	if err != nil {
		return AccountKey{}, err
	}

	return AccountKey{Key: key, Fingerprint: k.Fingerprint, Path: k.Path}, nil
}

// Derive derives child key by relative path, returns derived key and its full path from master.
func (k AccountKey) Derive(relative ...uint32) (*hdkeychain.ExtendedKey, []uint32, error) {
	var (
		key  = k.Key
		path = make([]uint32, 0, len(k.Path)+len(relative))
		err  error
	)
	path = append(path, k.Path...)
	for _, idx := range relative {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, nil, err
		}
		path = append(path, idx)
	}

	return key, path, nil
}

// String returns key with origin in [fingerprint/path]xkey form.
func (k AccountKey) String() string {
	var fingerprint [4]byte
	binary.LittleEndian.PutUint32(fingerprint[:], k.Fingerprint)

	key := k.Key
	if key.IsPrivate() {
		if neutered, err := key.Neuter(); err == nil {
			key = neutered
		}
	}

	origin := fmt.Sprintf("%x", fingerprint[:])
	if len(k.Path) > 0 {
		origin += "/" + strings.TrimPrefix(FormatPath(k.Path), "m/")
	}

	return "[" + origin + "]" + key.String()
}

// Fingerprint returns the master key fingerprint in the form used by PSBT derivation entries.
func Fingerprint(master *hdkeychain.ExtendedKey) (uint32, error) {
	pubKey, err := master.ECPubKey()
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(btcutil.Hash160(pubKey.SerializeCompressed())[:4]), nil
}

// ParsePath parses derivation path of "m/84'/1'/0'" form. Both ' and h mark hardened steps.
func ParsePath(path string) ([]uint32, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "m" {
		return nil, nil
	}

	parts := strings.Split(path, "/")
	if parts[0] == "m" {
		parts = parts[1:]
	}

	result := make([]uint32, 0, len(parts))
	for _, part := range parts {
		var offset uint32
		if strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h") {
			offset = hdkeychain.HardenedKeyStart
			part = part[:len(part)-1]
		}

		idx, err := strconv.ParseUint(part, 10, 32)
		if err != nil || uint32(idx) >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}

		result = append(result, uint32(idx)+offset)
	}

	return result, nil
}

// FormatPath returns path in "m/84'/1'/0'" form.
func FormatPath(path []uint32) string {
	var sb strings.Builder
	sb.WriteString("m")
	for _, idx := range path {
		sb.WriteString("/")
		if idx >= hdkeychain.HardenedKeyStart {
			sb.WriteString(strconv.FormatUint(uint64(idx-hdkeychain.HardenedKeyStart), 10))
			sb.WriteString("'")
			continue
		}
		sb.WriteString(strconv.FormatUint(uint64(idx), 10))
	}

	return sb.String()
}

// CoinType returns BIP44 coin type for network.
func CoinType(params *chaincfg.Params) uint32 {
	if params.Net == chaincfg.MainNetParams.Net {
		return 0
	}

	return 1
}
