package tinkv

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

/*
Every data record is persisted with a fixed-width little-endian header
followed by the raw key and value bytes. The CRC covers everything after
itself, so a record is self-validating:

	-----------------------------------------------------------
	| crc(4) | timestamp(8) | key_size(8) | value_size(8) | key | value |
	-----------------------------------------------------------

A tombstone is a record with value_size == 0. Hint records parallel the
data records of a compacted file but carry the value offset instead of
the value itself:

	-----------------------------------------------------------
	| timestamp(8) | key_size(8) | value_size(8) | value_offset(8) | key |
	-----------------------------------------------------------
*/
const (
	recordHeaderSize = 28
	hintHeaderSize   = 32
)

// record is one decoded data record.
type record struct {
	timestamp uint64
	key       []byte
	value     []byte
	crcOK     bool
}

func (r *record) isTombstone() bool {
	return len(r.value) == 0
}

// size is the encoded length of the record on disk.
func (r *record) size() uint64 {
	return recordHeaderSize + uint64(len(r.key)) + uint64(len(r.value))
}

// encodeRecord packs one data record. The value payload starts at
// recordHeaderSize+len(key) within the returned buffer.
func encodeRecord(key, value []byte, timestamp uint64) []byte {
	buf := make([]byte, recordHeaderSize+len(key)+len(value))
	binary.LittleEndian.PutUint64(buf[4:12], timestamp)
	binary.LittleEndian.PutUint64(buf[12:20], uint64(len(key)))
	binary.LittleEndian.PutUint64(buf[20:28], uint64(len(value)))
	copy(buf[recordHeaderSize:], key)
	copy(buf[recordHeaderSize+len(key):], value)
	binary.LittleEndian.PutUint32(buf[:4], crc32.ChecksumIEEE(buf[4:]))
	return buf
}

// readRecord decodes one data record from r, reading strictly forward.
// remaining is the number of bytes left in the file; declared sizes that
// would read past it are reported as ErrCorruptData instead of being
// trusted. Returns the record and the number of bytes consumed.
// A clean end of input is reported as io.EOF with zero bytes consumed.
func readRecord(r io.Reader, remaining uint64) (*record, uint64, error) {
	if remaining == 0 {
		return nil, 0, io.EOF
	}
	if remaining < recordHeaderSize {
		return nil, 0, ErrCorruptData
	}
	header := make([]byte, recordHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, 0, ErrCorruptData
		}
		return nil, 0, fmt.Errorf("read record header: %w", err)
	}

	crc := binary.LittleEndian.Uint32(header[:4])
	timestamp := binary.LittleEndian.Uint64(header[4:12])
	keySize := binary.LittleEndian.Uint64(header[12:20])
	valueSize := binary.LittleEndian.Uint64(header[20:28])

	// A zero-length key is illegal, and sizes running past the end of
	// the file mean the record was torn mid-write. Checked one field at
	// a time so a garbage size cannot wrap the sum around.
	left := remaining - recordHeaderSize
	if keySize == 0 || keySize > left || valueSize > left-keySize {
		return nil, 0, ErrCorruptData
	}

	body := make([]byte, keySize+valueSize)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, 0, ErrCorruptData
		}
		return nil, 0, fmt.Errorf("read record body: %w", err)
	}

	sum := crc32.ChecksumIEEE(header[4:])
	sum = crc32.Update(sum, crc32.IEEETable, body)

	rec := &record{
		timestamp: timestamp,
		key:       body[:keySize],
		value:     body[keySize:],
		crcOK:     sum == crc,
	}
	return rec, rec.size(), nil
}

// hintRecord is one decoded hint record.
type hintRecord struct {
	timestamp   uint64
	valueSize   uint64
	valueOffset uint64
	key         []byte
}

// encodeHint packs one hint record.
func encodeHint(key []byte, valueSize, valueOffset, timestamp uint64) []byte {
	buf := make([]byte, hintHeaderSize+len(key))
	binary.LittleEndian.PutUint64(buf[0:8], timestamp)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(len(key)))
	binary.LittleEndian.PutUint64(buf[16:24], valueSize)
	binary.LittleEndian.PutUint64(buf[24:32], valueOffset)
	copy(buf[hintHeaderSize:], key)
	return buf
}

// readHint decodes one hint record from r, reading strictly forward.
// remaining bounds the declared key size the same way readRecord does.
func readHint(r io.Reader, remaining uint64) (*hintRecord, uint64, error) {
	if remaining == 0 {
		return nil, 0, io.EOF
	}
	if remaining < hintHeaderSize {
		return nil, 0, ErrCorruptData
	}
	header := make([]byte, hintHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, 0, ErrCorruptData
		}
		return nil, 0, fmt.Errorf("read hint header: %w", err)
	}

	keySize := binary.LittleEndian.Uint64(header[8:16])
	if keySize == 0 || keySize > remaining-hintHeaderSize {
		return nil, 0, ErrCorruptData
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, 0, ErrCorruptData
		}
		return nil, 0, fmt.Errorf("read hint key: %w", err)
	}

	h := &hintRecord{
		timestamp:   binary.LittleEndian.Uint64(header[0:8]),
		valueSize:   binary.LittleEndian.Uint64(header[16:24]),
		valueOffset: binary.LittleEndian.Uint64(header[24:32]),
		key:         key,
	}
	return h, hintHeaderSize + keySize, nil
}
