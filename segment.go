package tinkv

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// segment is one on-disk data file plus its optional hint file. The
// active segment keeps an append-mode writer; archived segments are
// read-only and memory-mapped where possible.
type segment struct {
	id       uint64
	path     string
	hintPath string

	w    *os.File // append writer, nil once frozen
	r    *os.File // random-access read handle
	data []byte   // read-only mmap of a frozen file

	hw *bufio.Writer // hint writer, compaction only
	hf *os.File

	size uint64
}

// createSegment creates a fresh writable data file for the given id.
func createSegment(dir string, id uint64) (*segment, error) {
	path := dataFilePath(dir, id)
	w, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("create data file: %w", err)
	}
	r, err := os.Open(path)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("open data file for reading: %w", err)
	}
	return &segment{
		id:       id,
		path:     path,
		hintPath: hintFilePath(dir, id),
		w:        w,
		r:        r,
	}, nil
}

// openSegment opens an existing data file read-only.
func openSegment(dir string, id uint64) (*segment, error) {
	path := dataFilePath(dir, id)
	r, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	fi, err := r.Stat()
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("stat data file: %w", err)
	}
	return &segment{
		id:       id,
		path:     path,
		hintPath: hintFilePath(dir, id),
		r:        r,
		size:     uint64(fi.Size()),
	}, nil
}

// reopenWriter reattaches an append writer to a previously read-only
// segment, making it the active one again.
func (s *segment) reopenWriter() error {
	if s.w != nil {
		return nil
	}
	w, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("reopen data file for writing: %w", err)
	}
	s.w = w
	s.unmap()
	return nil
}

// append writes one data record and returns the absolute offset of the
// value payload within this segment.
func (s *segment) append(key, value []byte, timestamp uint64) (uint64, error) {
	if s.w == nil {
		return 0, fmt.Errorf("segment %d is not writeable", s.id)
	}
	buf := encodeRecord(key, value, timestamp)
	if _, err := s.w.Write(buf); err != nil {
		return 0, fmt.Errorf("append to data file %s: %w", s.path, err)
	}
	offset := s.size
	s.size += uint64(len(buf))
	return offset + recordHeaderSize + uint64(len(key)), nil
}

// readValue reads size bytes starting at offset. The returned slice is
// a copy, so it stays valid after the segment is unmapped or deleted.
func (s *segment) readValue(offset, size uint64) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	if s.data != nil {
		if offset+size > uint64(len(s.data)) {
			return nil, fmt.Errorf("%w: value at %d+%d is beyond data file %s", ErrCorruptData, offset, size, s.path)
		}
		value := make([]byte, size)
		copy(value, s.data[offset:offset+size])
		return value, nil
	}
	value := make([]byte, size)
	n, err := s.r.ReadAt(value, int64(offset))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read value from data file %s: %w", s.path, err)
	}
	if uint64(n) != size {
		return nil, fmt.Errorf("%w: short value read from data file %s", ErrCorruptData, s.path)
	}
	return value, nil
}

// recordIter is a sequential scan over the records of a data file. It
// owns an independent file handle so it never disturbs the segment's
// read position.
type recordIter struct {
	f         *os.File
	r         *bufio.Reader
	offset    uint64 // offset of the next record
	remaining uint64
}

func (s *segment) iterRecords() (*recordIter, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open data file for scan: %w", err)
	}
	return &recordIter{
		f:         f,
		r:         bufio.NewReader(f),
		remaining: s.size,
	}, nil
}

// next returns the next record plus its start offset and the absolute
// offset of its value payload. io.EOF marks a clean end of the file;
// ErrCorruptData marks a torn or damaged tail starting at it.pos().
func (it *recordIter) next() (*record, uint64, uint64, error) {
	rec, n, err := readRecord(it.r, it.remaining)
	if err != nil {
		return nil, 0, 0, err
	}
	if !rec.crcOK {
		return nil, 0, 0, ErrCorruptData
	}
	recOffset := it.offset
	valueOffset := recOffset + recordHeaderSize + uint64(len(rec.key))
	it.offset += n
	it.remaining -= n
	return rec, recOffset, valueOffset, nil
}

// pos is the offset one byte past the last successfully decoded record.
func (it *recordIter) pos() uint64 {
	return it.offset
}

func (it *recordIter) close() error {
	return it.f.Close()
}

// openHint attaches a buffered hint writer. Used by compaction, which
// writes one hint record per surviving data record.
func (s *segment) openHint() error {
	hf, err := os.OpenFile(s.hintPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("create hint file: %w", err)
	}
	s.hf = hf
	s.hw = bufio.NewWriter(hf)
	return nil
}

func (s *segment) writeHint(key []byte, valueSize, valueOffset, timestamp uint64) error {
	if _, err := s.hw.Write(encodeHint(key, valueSize, valueOffset, timestamp)); err != nil {
		return fmt.Errorf("append to hint file %s: %w", s.hintPath, err)
	}
	return nil
}

// hasHint reports whether a hint file exists beside the data file.
func (s *segment) hasHint() bool {
	_, err := os.Stat(s.hintPath)
	return err == nil
}

// sync durably flushes pending data and hint writes.
func (s *segment) sync() error {
	if s.hw != nil {
		if err := s.hw.Flush(); err != nil {
			return fmt.Errorf("flush hint file %s: %w", s.hintPath, err)
		}
		if err := s.hf.Sync(); err != nil {
			return fmt.Errorf("sync hint file %s: %w", s.hintPath, err)
		}
	}
	if s.w != nil {
		if err := s.w.Sync(); err != nil {
			return fmt.Errorf("sync data file %s: %w", s.path, err)
		}
	}
	return nil
}

// freeze drops the writers and memory-maps the file for reads. The
// segment is read-only afterwards. Mapping failures are not fatal; the
// pread handle keeps serving reads.
func (s *segment) freeze() error {
	if err := s.sync(); err != nil {
		return err
	}
	if s.hw != nil {
		if err := s.hf.Close(); err != nil {
			return fmt.Errorf("close hint file %s: %w", s.hintPath, err)
		}
		s.hw = nil
		s.hf = nil
	}
	if s.w != nil {
		if err := s.w.Close(); err != nil {
			return fmt.Errorf("close data file %s: %w", s.path, err)
		}
		s.w = nil
	}
	s.mapReadOnly()
	return nil
}

// truncate cuts the data file at offset, discarding a corrupt tail.
func (s *segment) truncate(offset uint64) error {
	s.unmap()
	if err := os.Truncate(s.path, int64(offset)); err != nil {
		return fmt.Errorf("truncate data file %s: %w", s.path, err)
	}
	s.size = offset
	return nil
}

func (s *segment) mapReadOnly() {
	if s.data != nil || s.size == 0 {
		return
	}
	data, err := unix.Mmap(int(s.r.Fd()), 0, int(s.size), unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		s.data = data
	}
}

func (s *segment) unmap() {
	if s.data != nil {
		unix.Munmap(s.data)
		s.data = nil
	}
}

// close releases every handle. An empty file that was still writeable
// is unlinked so restarts never see zero-length segments.
func (s *segment) close() error {
	removeEmpty := s.w != nil && s.size == 0
	if err := s.freeze(); err != nil {
		return err
	}
	s.unmap()
	if err := s.r.Close(); err != nil {
		return fmt.Errorf("close data file %s: %w", s.path, err)
	}
	if removeEmpty {
		os.Remove(s.path)
	}
	return nil
}

// remove closes the segment and deletes its data and hint files.
func (s *segment) remove() error {
	s.unmap()
	if s.w != nil {
		s.w.Close()
		s.w = nil
	}
	if s.hf != nil {
		s.hf.Close()
		s.hw = nil
		s.hf = nil
	}
	if err := s.r.Close(); err != nil {
		return fmt.Errorf("close data file %s: %w", s.path, err)
	}
	if err := os.Remove(s.path); err != nil {
		return fmt.Errorf("remove data file %s: %w", s.path, err)
	}
	if err := os.Remove(s.hintPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove hint file %s: %w", s.hintPath, err)
	}
	return nil
}
