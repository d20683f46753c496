// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/BoostyLabs/walletcore/bitcoin"
)

// ErrCorruptRecord is returned when stored record can not be decoded.
var ErrCorruptRecord = errors.New("corrupt store record")

var (
	utxoPrefix  = []byte("u")
	txPrefix    = []byte("t")
	indexPrefix = []byte("i")
)

// Store is a wallet UTXO and transaction index on top of leveldb.
type Store struct {
	db *leveldb.DB
}

// Open opens or creates store at provided directory.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}

	log.Debugf("Opened wallet store at %s", path)

	return &Store{db: db}, nil
}

// OpenMemory creates store kept in memory only.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Batch collects writes to be applied atomically.
type Batch struct {
	batch *leveldb.Batch
	err   error
}

// NewBatch is a constructor for Batch.
func (s *Store) NewBatch() *Batch {
	return &Batch{batch: new(leveldb.Batch)}
}

// PutUTXO adds utxo record to batch.
func (b *Batch) PutUTXO(utxo bitcoin.UTXO) {
	b.batch.Put(utxoKey(utxo.OutPoint), encodeUTXO(utxo))
}

// PutTx adds transaction record to batch.
func (b *Batch) PutTx(record bitcoin.TxRecord) {
	value, err := encodeTx(record)
	if err != nil {
		b.err = errors.Join(b.err, err)
		return
	}

	b.batch.Put(txKey(record.Tx.TxHash()), value)
}

// DeleteUTXO adds removal of utxo record to batch.
func (b *Batch) DeleteUTXO(outPoint wire.OutPoint) {
	b.batch.Delete(utxoKey(outPoint))
}

// DeleteTx adds removal of transaction record to batch.
func (b *Batch) DeleteTx(hash chainhash.Hash) {
	b.batch.Delete(txKey(hash))
}

// SetLastIndex adds last derived index of keychain to batch.
func (b *Batch) SetLastIndex(keychain bitcoin.KeychainKind, index uint32) {
	var value [4]byte
	binary.LittleEndian.PutUint32(value[:], index)
	b.batch.Put(indexKey(keychain), value[:])
}

// Write applies batch.
func (s *Store) Write(b *Batch) error {
	if b.err != nil {
		return b.err
	}

	return s.db.Write(b.batch, nil)
}

// PutUTXO stores utxo record.
func (s *Store) PutUTXO(utxo bitcoin.UTXO) error {
	return s.db.Put(utxoKey(utxo.OutPoint), encodeUTXO(utxo), nil)
}

// UTXO returns utxo record, bitcoin.ErrUnknownUTXO if there is no such.
func (s *Store) UTXO(outPoint wire.OutPoint) (bitcoin.UTXO, error) {
	value, err := s.db.Get(utxoKey(outPoint), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return bitcoin.UTXO{}, fmt.Errorf("%w: %s", bitcoin.ErrUnknownUTXO, outPoint)
		}
		return bitcoin.UTXO{}, err
	}

	return decodeUTXO(outPoint, value)
}

// ListUTXOs returns all utxo records including spent ones ordered by outpoint.
func (s *Store) ListUTXOs() ([]bitcoin.UTXO, error) {
	var utxos []bitcoin.UTXO

	iter := s.db.NewIterator(util.BytesPrefix(utxoPrefix), nil)
	defer iter.Release()

	for iter.Next() {
		outPoint, err := outPointFromKey(iter.Key())
		if err != nil {
			return nil, err
		}

		utxo, err := decodeUTXO(outPoint, iter.Value())
		if err != nil {
			return nil, err
		}

		utxos = append(utxos, utxo)
	}

	return utxos, iter.Error()
}

// PutTx stores transaction record.
func (s *Store) PutTx(record bitcoin.TxRecord) error {
	value, err := encodeTx(record)
	if err != nil {
		return err
	}

	return s.db.Put(txKey(record.Tx.TxHash()), value, nil)
}

// Tx returns transaction record, bitcoin.ErrTransactionNotFound if there is no such.
func (s *Store) Tx(hash chainhash.Hash) (bitcoin.TxRecord, error) {
	value, err := s.db.Get(txKey(hash), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return bitcoin.TxRecord{}, fmt.Errorf("%w: %s", bitcoin.ErrTransactionNotFound, hash)
		}
		return bitcoin.TxRecord{}, err
	}

	return decodeTx(value)
}

// ListTxs returns all transaction records ordered by txid bytes.
func (s *Store) ListTxs() ([]bitcoin.TxRecord, error) {
	var records []bitcoin.TxRecord

	iter := s.db.NewIterator(util.BytesPrefix(txPrefix), nil)
	defer iter.Release()

	for iter.Next() {
		record, err := decodeTx(iter.Value())
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, iter.Error()
}

// LastIndex returns last derived index of keychain, false if nothing was derived yet.
func (s *Store) LastIndex(keychain bitcoin.KeychainKind) (uint32, bool, error) {
	value, err := s.db.Get(indexKey(keychain), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if len(value) != 4 {
		return 0, false, ErrCorruptRecord
	}

	return binary.LittleEndian.Uint32(value), true, nil
}

// SetLastIndex stores last derived index of keychain.
func (s *Store) SetLastIndex(keychain bitcoin.KeychainKind, index uint32) error {
	b := s.NewBatch()
	b.SetLastIndex(keychain, index)

	return s.Write(b)
}

func utxoKey(outPoint wire.OutPoint) []byte {
	key := make([]byte, 0, 1+chainhash.HashSize+4)
	key = append(key, utxoPrefix...)
	key = append(key, outPoint.Hash[:]...)

	return binary.BigEndian.AppendUint32(key, outPoint.Index)
}

func outPointFromKey(key []byte) (wire.OutPoint, error) {
	if len(key) != 1+chainhash.HashSize+4 {
		return wire.OutPoint{}, ErrCorruptRecord
	}

	var outPoint wire.OutPoint
	copy(outPoint.Hash[:], key[1:1+chainhash.HashSize])
	outPoint.Index = binary.BigEndian.Uint32(key[1+chainhash.HashSize:])

	return outPoint, nil
}

func txKey(hash chainhash.Hash) []byte {
	return append(append([]byte{}, txPrefix...), hash[:]...)
}

func indexKey(keychain bitcoin.KeychainKind) []byte {
	return append(append([]byte{}, indexPrefix...), byte(keychain))
}

// encodeUTXO serializes utxo as value(8) | keychain(1) | index(4) | spent(1) | varbytes(script).
func encodeUTXO(utxo bitcoin.UTXO) []byte {
	var buf bytes.Buffer
	var fixed [14]byte
	binary.LittleEndian.PutUint64(fixed[0:8], uint64(utxo.Value))
	fixed[8] = byte(utxo.Keychain)
	binary.LittleEndian.PutUint32(fixed[9:13], utxo.DerivationIndex)
	if utxo.IsSpent {
		fixed[13] = 1
	}
	buf.Write(fixed[:])
	_ = wire.WriteVarBytes(&buf, 0, utxo.Script)

	return buf.Bytes()
}

func decodeUTXO(outPoint wire.OutPoint, value []byte) (bitcoin.UTXO, error) {
	if len(value) < 14 {
		return bitcoin.UTXO{}, ErrCorruptRecord
	}

	script, err := wire.ReadVarBytes(bytes.NewReader(value[14:]), 0, wire.MaxMessagePayload, "script")
	if err != nil {
		return bitcoin.UTXO{}, errors.Join(ErrCorruptRecord, err)
	}

	return bitcoin.UTXO{
		OutPoint:        outPoint,
		Value:           btcutil.Amount(binary.LittleEndian.Uint64(value[0:8])),
		Script:          script,
		Keychain:        bitcoin.KeychainKind(value[8]),
		DerivationIndex: binary.LittleEndian.Uint32(value[9:13]),
		IsSpent:         value[13] == 1,
	}, nil
}

// encodeTx serializes transaction record as confirmed(1) | height(4) | timestamp(8) | tx.
func encodeTx(record bitcoin.TxRecord) ([]byte, error) {
	var buf bytes.Buffer
	var fixed [13]byte
	if record.Confirmed != nil {
		fixed[0] = 1
		binary.LittleEndian.PutUint32(fixed[1:5], record.Confirmed.Height)
		binary.LittleEndian.PutUint64(fixed[5:13], uint64(record.Confirmed.Timestamp))
	}
	buf.Write(fixed[:])

	if err := record.Tx.Serialize(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeTx(value []byte) (bitcoin.TxRecord, error) {
	if len(value) < 13 {
		return bitcoin.TxRecord{}, ErrCorruptRecord
	}

	var record bitcoin.TxRecord
	if value[0] == 1 {
		record.Confirmed = &bitcoin.BlockTime{
			Height:    binary.LittleEndian.Uint32(value[1:5]),
			Timestamp: int64(binary.LittleEndian.Uint64(value[5:13])),
		}
	}

	record.Tx = new(wire.MsgTx)
	r := bytes.NewReader(value[13:])
	if err := record.Tx.Deserialize(r); err != nil {
		return bitcoin.TxRecord{}, errors.Join(ErrCorruptRecord, err)
	}
	if _, err := r.ReadByte(); err != io.EOF {
		return bitcoin.TxRecord{}, ErrCorruptRecord
	}

	return record, nil
}
