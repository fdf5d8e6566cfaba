package tinkv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/s2"
	"go.uber.org/zap"
)

// Store is a persistent key-value store in the Bitcask family. Every
// mutation is appended to an on-disk log; an in-memory keydir points
// each live key at the segment and byte range holding its value.
//
// A Store is a single-owner, single-writer object: callers running it
// from multiple goroutines must serialize access themselves.
type Store struct {
	dir      string
	config   *Config
	slogger  *zap.SugaredLogger
	lock     *dirLock
	segments *segmentSet
	keydir   *keydir
}

// Open opens a store rooted at dir, creating the directory if absent.
// The keydir is rebuilt from hint files where available and from data
// files otherwise; corrupt data file tails are truncated.
func Open(dir string, opts ...ConfOption) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	lock, err := acquireDirLock(dir)
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:     dir,
		config:  config,
		slogger: config.Logger,
		lock:    lock,
		keydir:  newKeydir(),
	}

	s.segments, err = openSegmentSet(dir)
	if err != nil {
		lock.release()
		return nil, fmt.Errorf("failed to load existing files: %w", err)
	}

	if err := s.buildKeydir(); err != nil {
		s.segments.closeAll()
		lock.release()
		return nil, fmt.Errorf("failed to build keydir: %w", err)
	}

	if err := s.chooseActive(); err != nil {
		s.segments.closeAll()
		lock.release()
		return nil, err
	}

	s.slogger.Infow("store opened",
		"dir", dir,
		"data_files", len(s.segments.segments),
		"active_entries", s.keydir.len(),
	)
	return s, nil
}

// recovered is one record met during recovery: its keydir entry plus
// what per-key conflict resolution needs.
type recovered struct {
	entry
	keySize   int
	tombstone bool
}

func (r recovered) footprint() uint64 {
	return recordHeaderSize + uint64(r.keySize) + r.valueSize
}

// supersedes reports whether r is the newer of two records for the
// same key: larger timestamp wins, ties go to the larger segment id,
// then the larger offset. Timestamps alone do not suffice because
// compaction output carries preserved timestamps in segments numbered
// above the active one.
func (r recovered) supersedes(other recovered) bool {
	if r.timestamp != other.timestamp {
		return r.timestamp > other.timestamp
	}
	if r.segmentID != other.segmentID {
		return r.segmentID > other.segmentID
	}
	return r.valueOffset > other.valueOffset
}

// buildKeydir replays every segment in ascending id order. Segments
// with a hint file are loaded from it; the rest are scanned record by
// record, truncating at the first corrupt one.
func (s *Store) buildKeydir() error {
	seen := make(map[string]recovered)
	for _, id := range s.segments.ids() {
		seg := s.segments.get(id)
		if seg.hasHint() {
			if err := s.loadHintFile(seg, seen); err == nil {
				s.slogger.Debugw("keydir loaded from hint file", "segment", id)
				continue
			} else {
				s.slogger.Warnw("bad hint file, falling back to data scan",
					"segment", id, "error", err)
			}
		}
		if err := s.scanDataFile(seg, seen); err != nil {
			return err
		}
		s.slogger.Debugw("keydir loaded from data file", "segment", id)
	}
	// Archived files serve reads through a shared mapping from here on.
	for _, seg := range s.segments.segments {
		seg.mapReadOnly()
	}
	return nil
}

// applyRecovered folds one record into the keydir, resolving per-key
// conflicts and keeping the stale counters exact: every record that is
// not the final live one for its key adds its footprint, and a
// tombstone adds its own the moment it lands.
func (s *Store) applyRecovered(seen map[string]recovered, key string, cur recovered) {
	if prev, ok := seen[key]; ok {
		if !cur.supersedes(prev) {
			s.keydir.markStale(cur.footprint())
			return
		}
		// Tombstones were counted stale when they were applied.
		if !prev.tombstone {
			s.keydir.markStale(prev.footprint())
		}
	}
	seen[key] = cur
	if cur.tombstone {
		s.keydir.drop(key)
		s.keydir.markStale(cur.footprint())
		return
	}
	s.keydir.update(key, cur.entry)
}

// loadHintFile replays one hint file into the keydir. The whole file is
// decoded before any entry is applied, so a malformed hint never leaves
// the keydir half-updated.
func (s *Store) loadHintFile(seg *segment, seen map[string]recovered) error {
	f, err := os.Open(seg.hintPath)
	if err != nil {
		return fmt.Errorf("open hint file: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat hint file: %w", err)
	}

	var hints []*hintRecord
	r := bufio.NewReader(f)
	remaining := uint64(fi.Size())
	for {
		h, n, err := readHint(r, remaining)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		remaining -= n
		hints = append(hints, h)
	}

	for _, h := range hints {
		s.applyRecovered(seen, string(h.key), recovered{
			entry: entry{
				segmentID:   seg.id,
				valueSize:   h.valueSize,
				valueOffset: h.valueOffset,
				timestamp:   h.timestamp,
			},
			keySize:   len(h.key),
			tombstone: h.valueSize == 0,
		})
	}
	return nil
}

// scanDataFile replays one data file into the keydir. A corrupt record
// ends the scan for this file only: the tail past the last good record
// is truncated and older files stay untouched.
func (s *Store) scanDataFile(seg *segment, seen map[string]recovered) error {
	it, err := seg.iterRecords()
	if err != nil {
		return err
	}
	defer it.close()

	for {
		rec, _, valueOffset, err := it.next()
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, ErrCorruptData) {
			s.slogger.Warnw("corrupt record, truncating data file",
				"segment", seg.id, "offset", it.pos())
			return seg.truncate(it.pos())
		}
		if err != nil {
			return err
		}
		s.applyRecovered(seen, string(rec.key), recovered{
			entry: entry{
				segmentID:   seg.id,
				valueSize:   uint64(len(rec.value)),
				valueOffset: valueOffset,
				timestamp:   rec.timestamp,
			},
			keySize:   len(rec.key),
			tombstone: rec.isTombstone(),
		})
	}
}

// chooseActive promotes the youngest discovered segment to active when
// it still has room, and creates a fresh one otherwise.
func (s *Store) chooseActive() error {
	ids := s.segments.ids()
	if n := len(ids); n > 0 {
		last := ids[n-1]
		if s.segments.get(last).size < s.config.MaxFileSize {
			return s.segments.promote(last)
		}
	}
	_, err := s.segments.create()
	return err
}

// Get returns the value stored under key, or (nil, nil) when the key is
// absent.
func (s *Store) Get(key []byte) ([]byte, error) {
	if err := s.checkKey(key); err != nil {
		return nil, err
	}
	ent, ok := s.keydir.get(key)
	if !ok {
		return nil, nil
	}
	seg := s.segments.get(ent.segmentID)
	if seg == nil {
		return nil, fmt.Errorf("%w: segment %d referenced by keydir is gone", ErrCorruptData, ent.segmentID)
	}
	value, err := seg.readValue(ent.valueOffset, ent.valueSize)
	if err != nil {
		return nil, err
	}
	if s.config.CompressData {
		value, err = s2.Decode(nil, value)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress value: %v", ErrCorruptData, err)
		}
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key, value []byte) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	if len(value) == 0 {
		return ErrValueIsEmpty
	}
	if uint64(len(value)) > s.config.MaxValueSize {
		return ErrValueTooLarge
	}
	if s.config.CompressData {
		value = s2.Encode(nil, value)
	}
	valueOffset, timestamp, err := s.appendRecord(key, value)
	if err != nil {
		return err
	}
	s.keydir.put(key, entry{
		segmentID:   s.segments.active.id,
		valueSize:   uint64(len(value)),
		valueOffset: valueOffset,
		timestamp:   timestamp,
	})
	return s.finishWrite()
}

// Remove deletes key. It returns ErrKeyNotFound when the key is absent.
func (s *Store) Remove(key []byte) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	if !s.keydir.contains(key) {
		return ErrKeyNotFound
	}
	if _, _, err := s.appendRecord(key, nil); err != nil {
		return err
	}
	s.keydir.remove(key)
	// The tombstone just written is itself dead weight on disk.
	s.keydir.markStale(recordHeaderSize + uint64(len(key)))
	return s.finishWrite()
}

// appendRecord writes one record to the active segment, rotating first
// when the record would push the file past the size limit.
func (s *Store) appendRecord(key, value []byte) (uint64, uint64, error) {
	recordSize := recordHeaderSize + uint64(len(key)) + uint64(len(value))
	if recordSize > s.config.MaxFileSize {
		return 0, 0, ErrDataFileOverflow
	}
	if s.segments.active.size+recordSize > s.config.MaxFileSize {
		seg, err := s.segments.rotate()
		if err != nil {
			return 0, 0, err
		}
		s.slogger.Infow("rotated to new data file", "segment", seg.id)
	}
	timestamp := uint64(time.Now().UnixNano())
	valueOffset, err := s.segments.active.append(key, value, timestamp)
	if err != nil {
		return 0, 0, err
	}
	return valueOffset, timestamp, nil
}

// finishWrite applies the sync policy and the auto-compaction trigger
// shared by Set and Remove.
func (s *Store) finishWrite() error {
	if s.config.SyncWrites {
		if err := s.segments.active.sync(); err != nil {
			return err
		}
	}
	if s.keydir.staleBytes >= s.config.CompactionThreshold {
		return s.Compact()
	}
	return nil
}

func (s *Store) checkKey(key []byte) error {
	if len(key) == 0 {
		return ErrKeyIsEmpty
	}
	if uint64(len(key)) > s.config.MaxKeySize {
		return ErrKeyTooLarge
	}
	return nil
}

// Keys returns every live key. Order is unspecified.
func (s *Store) Keys() [][]byte {
	return s.keydir.keys()
}

// ForEach visits every live key-value pair until fn returns false.
func (s *Store) ForEach(fn func(key, value []byte) bool) error {
	var visitErr error
	s.keydir.iter(func(key string, ent entry) bool {
		value, err := s.Get([]byte(key))
		if err != nil {
			visitErr = err
			return false
		}
		return fn([]byte(key), value)
	})
	return visitErr
}

// Len is the number of live keys.
func (s *Store) Len() int {
	return s.keydir.len()
}

// Stats snapshots the engine counters.
func (s *Store) Stats() Stats {
	return Stats{
		TotalActiveEntries: uint64(s.keydir.len()),
		TotalStaleEntries:  s.keydir.staleEntries,
		SizeOfStaleEntries: s.keydir.staleBytes,
		TotalDataFiles:     uint64(len(s.segments.segments)),
		SizeOfAllDataFiles: s.segments.totalSize(),
	}
}

// Sync durably flushes the active segment.
func (s *Store) Sync() error {
	return s.segments.active.sync()
}

// Close syncs pending writes, releases every file handle and drops the
// directory lock.
func (s *Store) Close() error {
	err := s.segments.closeAll()
	if lerr := s.lock.release(); err == nil {
		err = lerr
	}
	if err != nil {
		s.slogger.Errorw("error while closing store", "error", err)
		return err
	}
	s.slogger.Infow("store closed", "dir", s.dir)
	return nil
}
