// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"bytes"
	"errors"
)

// ErrUnknownRoleKey defines that role key is unknown.
var ErrUnknownRoleKey = errors.New("unknown role key")

// proprietaryPrefix defines BIP174 proprietary key type followed by identifier.
var proprietaryPrefix = []byte{0xfc, 0x0a, 'w', 'a', 'l', 'l', 'e', 't', 'c', 'o', 'r', 'e'}

// RoleKey defines subtype of proprietary PSBT global key recording
// indexes of inputs and outputs by their role.
type RoleKey byte

const (
	// WalletInputsRoleKey defines key for inputs owned by the wallet.
	WalletInputsRoleKey RoleKey = 0x01
	// ForeignInputsRoleKey defines key for inputs signed by other parties.
	ForeignInputsRoleKey RoleKey = 0x02
	// ChangeOutputRoleKey defines key for change or drain output.
	ChangeOutputRoleKey RoleKey = 0x03
)

// RoleKeyFromBytes parses full proprietary key into RoleKey if any.
func RoleKeyFromBytes(b []byte) (RoleKey, error) {
	if len(b) != len(proprietaryPrefix)+1 || !bytes.HasPrefix(b, proprietaryPrefix) {
		return 0, ErrUnknownRoleKey
	}

	switch key := RoleKey(b[len(proprietaryPrefix)]); key {
	case WalletInputsRoleKey, ForeignInputsRoleKey, ChangeOutputRoleKey:
		return key, nil
	}

	return 0, ErrUnknownRoleKey
}

// Byte returns RoleKey subtype as byte.
func (k RoleKey) Byte() byte {
	return byte(k)
}

// Bytes returns full proprietary key.
func (k RoleKey) Bytes() []byte {
	return append(append([]byte(nil), proprietaryPrefix...), byte(k))
}

// String returns role name.
func (k RoleKey) String() string {
	switch k {
	case WalletInputsRoleKey:
		return "wallet_inputs"
	case ForeignInputsRoleKey:
		return "foreign_inputs"
	case ChangeOutputRoleKey:
		return "change_output"
	default:
		return "unknown"
	}
}

// isRoleKey returns true if key carries the proprietary prefix.
func isRoleKey(key []byte) bool {
	return bytes.HasPrefix(key, proprietaryPrefix)
}
