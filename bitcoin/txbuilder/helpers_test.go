// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder_test

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/BoostyLabs/walletcore/bitcoin/txbuilder"
)

func newPacket(t *testing.T, inputs, outputs int) *psbt.Packet {
	tx := wire.NewMsgTx(2)
	for i := 0; i < inputs; i++ {
		tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.Hash{byte(i + 1)}}, nil, nil))
	}
	for i := 0; i < outputs; i++ {
		tx.AddTxOut(wire.NewTxOut(1000, foreignScript))
	}

	p, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)

	return p
}

func TestExtractRolesFromPSBT(t *testing.T) {
	tests := []struct {
		name     string
		inputs   int
		outputs  int
		roles    map[txbuilder.RoleKey][]int
		expected map[txbuilder.RoleKey][]int
	}{
		{
			name:     "wallet and foreign inputs",
			inputs:   3,
			outputs:  2,
			roles:    map[txbuilder.RoleKey][]int{txbuilder.WalletInputsRoleKey: {0, 2}, txbuilder.ForeignInputsRoleKey: {1}, txbuilder.ChangeOutputRoleKey: {1}},
			expected: map[txbuilder.RoleKey][]int{txbuilder.WalletInputsRoleKey: {0, 2}, txbuilder.ForeignInputsRoleKey: {1}, txbuilder.ChangeOutputRoleKey: {1}},
		},
		{
			name:     "empty roles skipped",
			inputs:   1,
			outputs:  1,
			roles:    map[txbuilder.RoleKey][]int{txbuilder.WalletInputsRoleKey: {0}, txbuilder.ForeignInputsRoleKey: nil},
			expected: map[txbuilder.RoleKey][]int{txbuilder.WalletInputsRoleKey: {0}},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := newPacket(t, test.inputs, test.outputs)
			p.Unknowns = append(p.Unknowns, &psbt.Unknown{Key: []byte{0xfc, 0x01, 'x', 0x01}, Value: []byte{0x01}})
			txbuilder.SetRoles(p, test.roles)

			var raw bytes.Buffer
			require.NoError(t, p.Serialize(&raw))

			result, err := txbuilder.ExtractRolesFromPSBT(raw.Bytes())
			require.NoError(t, err)
			require.EqualValues(t, test.expected, result)

			decoded, err := psbt.NewFromRawBytes(bytes.NewReader(raw.Bytes()), false)
			require.NoError(t, err)
			require.Len(t, decoded.Unknowns, len(test.expected)+1)
		})
	}

	t.Run("replaces previous roles", func(t *testing.T) {
		p := newPacket(t, 2, 1)
		txbuilder.SetRoles(p, map[txbuilder.RoleKey][]int{txbuilder.WalletInputsRoleKey: {0, 1}})
		txbuilder.SetRoles(p, map[txbuilder.RoleKey][]int{txbuilder.WalletInputsRoleKey: {1}})

		result, err := txbuilder.ExtractRoles(p)
		require.NoError(t, err)
		require.Equal(t, map[txbuilder.RoleKey][]int{txbuilder.WalletInputsRoleKey: {1}}, result)
	})

	t.Run("index out of range", func(t *testing.T) {
		p := newPacket(t, 1, 1)
		txbuilder.SetRoles(p, map[txbuilder.RoleKey][]int{txbuilder.WalletInputsRoleKey: {3}})

		_, err := txbuilder.ExtractRoles(p)
		require.Error(t, err)
	})
}
