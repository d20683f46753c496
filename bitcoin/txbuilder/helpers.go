// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// SetRoles records indexes by role in packet replacing previously recorded ones.
func SetRoles(p *psbt.Packet, roles map[RoleKey][]int) {
	unknowns := make([]*psbt.Unknown, 0, len(p.Unknowns)+len(roles))
	for _, unknown := range p.Unknowns {
		if !isRoleKey(unknown.Key) {
			unknowns = append(unknowns, unknown)
		}
	}

	keys := make([]RoleKey, 0, len(roles))
	for key := range roles {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, key := range keys {
		indexes := roles[key]
		if len(indexes) == 0 {
			continue
		}

		var value bytes.Buffer
		_ = wire.WriteVarInt(&value, 0, uint64(len(indexes)))
		for _, idx := range indexes {
			_ = wire.WriteVarInt(&value, 0, uint64(idx))
		}

		unknowns = append(unknowns, &psbt.Unknown{Key: key.Bytes(), Value: value.Bytes()})
	}

	p.Unknowns = unknowns
}

// ExtractRoles returns indexes recorded by role. Unknown proprietary keys are skipped.
func ExtractRoles(p *psbt.Packet) (map[RoleKey][]int, error) {
	var result = make(map[RoleKey][]int, 3)
	for _, unknown := range p.Unknowns {
		key, err := RoleKeyFromBytes(unknown.Key)
		if err != nil {
			continue
		}

		r := bytes.NewReader(unknown.Value)
		count, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", key, err)
		}

		limit := len(p.UnsignedTx.TxIn)
		if key == ChangeOutputRoleKey {
			limit = len(p.UnsignedTx.TxOut)
		}
		if count > uint64(limit) {
			return nil, fmt.Errorf("role %s: too many indexes", key)
		}

		result[key] = make([]int, count)
		for i := range result[key] {
			idx, err := wire.ReadVarInt(r, 0)
			if err != nil {
				return nil, fmt.Errorf("role %s: %w", key, err)
			}
			if idx >= uint64(limit) {
				return nil, fmt.Errorf("role %s: index %d out of range", key, idx)
			}

			result[key][i] = int(idx)
		}
	}

	return result, nil
}

// ExtractRolesFromPSBT returns indexes recorded by role in serialized packet.
func ExtractRolesFromPSBT(data []byte) (map[RoleKey][]int, error) {
	p, err := psbt.NewFromRawBytes(bytes.NewReader(data), false)
	if err != nil {
		return nil, err
	}

	return ExtractRoles(p)
}
