// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BoostyLabs/walletcore/bitcoin/txbuilder"
)

func TestRoleKey(t *testing.T) {
	t.Run("RoleKeyFromBytes", func(t *testing.T) {
		tests := []struct {
			bytes []byte
			key   txbuilder.RoleKey
			err   error
		}{
			{txbuilder.WalletInputsRoleKey.Bytes(), txbuilder.WalletInputsRoleKey, nil},
			{txbuilder.ForeignInputsRoleKey.Bytes(), txbuilder.ForeignInputsRoleKey, nil},
			{txbuilder.ChangeOutputRoleKey.Bytes(), txbuilder.ChangeOutputRoleKey, nil},
			{[]byte{}, 0, txbuilder.ErrUnknownRoleKey},
			{[]byte{0x01}, 0, txbuilder.ErrUnknownRoleKey},
			{txbuilder.RoleKey(0x50).Bytes(), 0, txbuilder.ErrUnknownRoleKey},
			{append(txbuilder.WalletInputsRoleKey.Bytes(), 0x00), 0, txbuilder.ErrUnknownRoleKey},
		}
		for _, test := range tests {
			key, err := txbuilder.RoleKeyFromBytes(test.bytes)
			require.Equal(t, test.err, err)
			require.Equal(t, test.key, key)
		}
	})

	t.Run("Byte&Bytes", func(t *testing.T) {
		tests := []struct {
			key  txbuilder.RoleKey
			byte byte
			name string
		}{
			{txbuilder.WalletInputsRoleKey, 0x01, "wallet_inputs"},
			{txbuilder.ForeignInputsRoleKey, 0x02, "foreign_inputs"},
			{txbuilder.ChangeOutputRoleKey, 0x03, "change_output"},
		}
		for _, test := range tests {
			require.Equal(t, test.byte, test.key.Byte())
			require.Equal(t, byte(0xfc), test.key.Bytes()[0])
			require.Equal(t, test.byte, test.key.Bytes()[len(test.key.Bytes())-1])
			require.Equal(t, test.name, test.key.String())
		}
	})
}
