package tinkv

// Iterator walks a snapshot of the keys that were live when it was
// created. Values are fetched lazily from the store.
type Iterator struct {
	store *Store
	keys  [][]byte
	index int
}

// Iterator creates an iterator over the live key-value pairs.
func (s *Store) Iterator() *Iterator {
	return &Iterator{
		store: s,
		keys:  s.keydir.keys(),
		index: -1,
	}
}

// Next advances the iterator to the next key-value pair.
func (it *Iterator) Next() bool {
	it.index++
	return it.index < len(it.keys)
}

// Key returns the key of the current key-value pair.
func (it *Iterator) Key() []byte {
	return it.keys[it.index]
}

// Value returns the value of the current key-value pair.
func (it *Iterator) Value() ([]byte, error) {
	return it.store.Get(it.Key())
}
