package tinkv

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	dataFileSuffix = ".tinkv.data"
	hintFileSuffix = ".tinkv.hint"
)

func dataFilePath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%012d%s", id, dataFileSuffix))
}

func hintFilePath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%012d%s", id, hintFileSuffix))
}

// parseFileID extracts the numeric segment id from a data file path.
func parseFileID(path string) (uint64, error) {
	name := strings.TrimSuffix(filepath.Base(path), dataFileSuffix)
	id, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid data file name: %s", path)
	}
	return id, nil
}

// segmentSet tracks every segment of a store: the single active writer
// plus all archived read-only files. IDs are allocated in strictly
// increasing order and files are never renamed.
type segmentSet struct {
	dir      string
	segments map[uint64]*segment
	active   *segment
	nextID   uint64
}

// openSegmentSet discovers existing data files in dir, sorted by id.
// No segment is active yet; the caller promotes or creates one after
// recovery has run.
func openSegmentSet(dir string) (*segmentSet, error) {
	ss := &segmentSet{
		dir:      dir,
		segments: make(map[uint64]*segment),
		nextID:   1,
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*"+dataFileSuffix))
	if err != nil {
		return nil, fmt.Errorf("glob data files: %w", err)
	}
	for _, path := range paths {
		id, err := parseFileID(path)
		if err != nil {
			return nil, err
		}
		seg, err := openSegment(dir, id)
		if err != nil {
			return nil, err
		}
		ss.segments[id] = seg
		if id >= ss.nextID {
			ss.nextID = id + 1
		}
	}
	return ss, nil
}

func (ss *segmentSet) get(id uint64) *segment {
	return ss.segments[id]
}

// ids returns every segment id in ascending order.
func (ss *segmentSet) ids() []uint64 {
	ids := make([]uint64, 0, len(ss.segments))
	for id := range ss.segments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// create opens a fresh writable segment with the next free id and makes
// it the active one.
func (ss *segmentSet) create() (*segment, error) {
	seg, err := createSegment(ss.dir, ss.nextID)
	if err != nil {
		return nil, err
	}
	ss.nextID++
	ss.segments[seg.id] = seg
	ss.active = seg
	return seg, nil
}

// promote reattaches a writer to an existing segment and makes it the
// active one. A leftover hint file is dropped first: appends would make
// it lie about the file's contents.
func (ss *segmentSet) promote(id uint64) error {
	seg := ss.segments[id]
	if seg.hasHint() {
		if err := os.Remove(seg.hintPath); err != nil {
			return fmt.Errorf("remove stale hint file %s: %w", seg.hintPath, err)
		}
	}
	if err := seg.reopenWriter(); err != nil {
		return err
	}
	ss.active = seg
	return nil
}

// rotate freezes the active segment and opens a fresh one.
func (ss *segmentSet) rotate() (*segment, error) {
	if ss.active != nil {
		if err := ss.active.freeze(); err != nil {
			return nil, err
		}
	}
	return ss.create()
}

// createCompaction opens a writable segment with an attached hint
// writer. It does not become the active segment.
func (ss *segmentSet) createCompaction() (*segment, error) {
	seg, err := createSegment(ss.dir, ss.nextID)
	if err != nil {
		return nil, err
	}
	if err := seg.openHint(); err != nil {
		seg.close()
		return nil, err
	}
	ss.nextID++
	ss.segments[seg.id] = seg
	return seg, nil
}

// remove retires a segment, deleting its files.
func (ss *segmentSet) remove(id uint64) error {
	seg, ok := ss.segments[id]
	if !ok {
		return nil
	}
	delete(ss.segments, id)
	return seg.remove()
}

// totalSize is the byte sum of all data files.
func (ss *segmentSet) totalSize() uint64 {
	var total uint64
	for _, seg := range ss.segments {
		total += seg.size
	}
	return total
}

// closeAll releases every segment handle.
func (ss *segmentSet) closeAll() error {
	var firstErr error
	for _, seg := range ss.segments {
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
