package tinkv

import "errors"

var (
	// ErrKeyNotFound is returned by Remove when the key is absent.
	// Get reports a miss as (nil, nil) instead.
	ErrKeyNotFound = errors.New("key not found")
	// ErrKeyIsEmpty rejects zero-length keys on Get/Set/Remove.
	ErrKeyIsEmpty = errors.New("key is empty")
	// ErrValueIsEmpty rejects zero-length values on Set: on disk an
	// empty value is indistinguishable from a tombstone.
	ErrValueIsEmpty = errors.New("value is empty")
	// ErrKeyTooLarge rejects keys longer than Config.MaxKeySize.
	ErrKeyTooLarge = errors.New("key exceeds max key size")
	// ErrValueTooLarge rejects values longer than Config.MaxValueSize.
	ErrValueTooLarge = errors.New("value exceeds max value size")
	// ErrDataFileOverflow means a single record is larger than
	// Config.MaxFileSize and can never be stored.
	ErrDataFileOverflow = errors.New("record exceeds max data file size")
	// ErrCorruptData means a CRC mismatch or a short read inside what
	// should be a complete record.
	ErrCorruptData = errors.New("corrupt data")
)

// entry locates the current value of a live key on disk.
type entry struct {
	segmentID   uint64
	valueSize   uint64
	valueOffset uint64 // absolute offset of the value payload in the data file
	timestamp   uint64
}

// footprint is the on-disk size of the record backing this entry.
func (e entry) footprint(keySize int) uint64 {
	return recordHeaderSize + uint64(keySize) + e.valueSize
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	TotalActiveEntries uint64 `json:"total_active_entries"`
	TotalStaleEntries  uint64 `json:"total_stale_entries"`
	SizeOfStaleEntries uint64 `json:"size_of_stale_entries"`
	TotalDataFiles     uint64 `json:"total_data_files"`
	SizeOfAllDataFiles uint64 `json:"size_of_all_data_files"`
}
