package tinkv

// keydir is the in-memory index from key to the on-disk location of its
// current value. Mutations carry the stale-byte bookkeeping with them:
// whenever an entry is superseded or dropped, the record it pointed at
// becomes garbage and is counted here until compaction reclaims it.
type keydir struct {
	entries      map[string]entry
	staleEntries uint64
	staleBytes   uint64
}

func newKeydir() *keydir {
	return &keydir{entries: make(map[string]entry)}
}

func (kd *keydir) get(key []byte) (entry, bool) {
	ent, ok := kd.entries[string(key)]
	return ent, ok
}

func (kd *keydir) contains(key []byte) bool {
	_, ok := kd.entries[string(key)]
	return ok
}

// put stores a fresh entry. A replaced entry's record is accounted as
// stale.
func (kd *keydir) put(key []byte, ent entry) {
	if old, ok := kd.entries[string(key)]; ok {
		kd.markStale(old.footprint(len(key)))
	}
	kd.entries[string(key)] = ent
}

// update repoints an existing entry without touching the stale
// counters. Compaction uses it when it moves a live record.
func (kd *keydir) update(key string, ent entry) {
	kd.entries[key] = ent
}

// remove drops a key and accounts its record as stale. The tombstone
// record written alongside is the caller's to account; the keydir never
// sees it.
func (kd *keydir) remove(key []byte) (entry, bool) {
	old, ok := kd.entries[string(key)]
	if !ok {
		return entry{}, false
	}
	delete(kd.entries, string(key))
	kd.markStale(old.footprint(len(key)))
	return old, true
}

// drop deletes a key without touching the stale counters. Recovery
// uses it, accounting through its own per-record bookkeeping.
func (kd *keydir) drop(key string) {
	delete(kd.entries, key)
}

// markStale counts one on-disk record of n bytes as garbage.
func (kd *keydir) markStale(n uint64) {
	kd.staleBytes += n
	kd.staleEntries++
}

// resetStale zeroes the garbage counters after a compaction.
func (kd *keydir) resetStale() {
	kd.staleBytes = 0
	kd.staleEntries = 0
}

func (kd *keydir) len() int {
	return len(kd.entries)
}

func (kd *keydir) keys() [][]byte {
	keys := make([][]byte, 0, len(kd.entries))
	for k := range kd.entries {
		keys = append(keys, []byte(k))
	}
	return keys
}

// iter visits every entry until fn returns false.
func (kd *keydir) iter(fn func(key string, ent entry) bool) {
	for k, ent := range kd.entries {
		if !fn(k, ent) {
			return
		}
	}
}
