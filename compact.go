package tinkv

// Compact rewrites every live entry into fresh segments with matching
// hint files, then deletes the segments it replaced. Afterwards no
// stale bytes remain on disk. It runs synchronously on the caller's
// thread, both when invoked directly and when triggered by the
// stale-byte threshold.
func (s *Store) Compact() error {
	// Everything on disk right now, the active segment included, gets
	// compacted. Rotation first so writes keep landing in a file the
	// compaction never touches.
	snapshot := make(map[uint64]bool, len(s.segments.segments))
	for _, id := range s.segments.ids() {
		snapshot[id] = true
	}
	if _, err := s.segments.rotate(); err != nil {
		return err
	}
	s.slogger.Infow("compaction started", "segments", len(snapshot))

	dst, err := s.segments.createCompaction()
	if err != nil {
		return err
	}
	done := []*segment{dst}

	var moved int
	var compactErr error
	s.keydir.iter(func(key string, ent entry) bool {
		if !snapshot[ent.segmentID] {
			return true
		}
		src := s.segments.get(ent.segmentID)
		value, err := src.readValue(ent.valueOffset, ent.valueSize)
		if err != nil {
			compactErr = err
			return false
		}

		recordSize := recordHeaderSize + uint64(len(key)) + uint64(len(value))
		if dst.size+recordSize > s.config.MaxFileSize {
			if err := dst.freeze(); err != nil {
				compactErr = err
				return false
			}
			dst, err = s.segments.createCompaction()
			if err != nil {
				compactErr = err
				return false
			}
			done = append(done, dst)
		}

		valueOffset, err := dst.append([]byte(key), value, ent.timestamp)
		if err != nil {
			compactErr = err
			return false
		}
		if err := dst.writeHint([]byte(key), ent.valueSize, valueOffset, ent.timestamp); err != nil {
			compactErr = err
			return false
		}
		s.keydir.update(key, entry{
			segmentID:   dst.id,
			valueSize:   ent.valueSize,
			valueOffset: valueOffset,
			timestamp:   ent.timestamp,
		})
		moved++
		return true
	})
	if compactErr != nil {
		return compactErr
	}

	// Durably land the compaction output before the sources go away.
	// A compaction file that received nothing is dropped on the spot.
	for _, seg := range done {
		if err := seg.freeze(); err != nil {
			return err
		}
		if seg.size == 0 {
			if err := s.segments.remove(seg.id); err != nil {
				return err
			}
		}
	}

	for id := range snapshot {
		if err := s.segments.remove(id); err != nil {
			return err
		}
	}
	s.keydir.resetStale()

	s.slogger.Infow("compaction finished",
		"entries_moved", moved,
		"segments_removed", len(snapshot),
		"data_files", len(s.segments.segments),
	)
	return nil
}
