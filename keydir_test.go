package tinkv

import "testing"

func TestKeydirPutReplaceAccounting(t *testing.T) {
	kd := newKeydir()

	kd.put([]byte("key"), entry{segmentID: 1, valueSize: 5, valueOffset: 31})
	if kd.staleBytes != 0 || kd.staleEntries != 0 {
		t.Fatalf("fresh put marked stale bytes: %d/%d", kd.staleBytes, kd.staleEntries)
	}

	kd.put([]byte("key"), entry{segmentID: 1, valueSize: 7, valueOffset: 100})
	// The replaced record: header(28) + key(3) + value(5).
	if kd.staleBytes != 36 || kd.staleEntries != 1 {
		t.Fatalf("replace accounting off: %d/%d", kd.staleBytes, kd.staleEntries)
	}

	ent, ok := kd.get([]byte("key"))
	if !ok || ent.valueOffset != 100 {
		t.Fatalf("replacement not applied: %+v", ent)
	}
}

func TestKeydirRemoveAccounting(t *testing.T) {
	kd := newKeydir()

	if _, ok := kd.remove([]byte("ghost")); ok {
		t.Fatal("remove of a missing key must report absence")
	}
	if kd.staleBytes != 0 || kd.staleEntries != 0 {
		t.Fatal("missing-key remove must not mark anything stale")
	}

	kd.put([]byte("key"), entry{segmentID: 1, valueSize: 5, valueOffset: 31})
	old, ok := kd.remove([]byte("key"))
	if !ok || old.valueSize != 5 {
		t.Fatalf("remove returned %+v, %v", old, ok)
	}
	if kd.staleBytes != 36 || kd.staleEntries != 1 {
		t.Fatalf("remove accounting off: %d/%d", kd.staleBytes, kd.staleEntries)
	}
	if kd.contains([]byte("key")) {
		t.Fatal("removed key still present")
	}
}

func TestKeydirUpdateSkipsAccounting(t *testing.T) {
	kd := newKeydir()

	kd.put([]byte("key"), entry{segmentID: 1, valueSize: 5})
	kd.update("key", entry{segmentID: 9, valueSize: 5})
	if kd.staleBytes != 0 || kd.staleEntries != 0 {
		t.Fatal("update must not touch the stale counters")
	}
	ent, _ := kd.get([]byte("key"))
	if ent.segmentID != 9 {
		t.Fatalf("update not applied: %+v", ent)
	}
}

func TestKeydirIterStopsEarly(t *testing.T) {
	kd := newKeydir()
	kd.put([]byte("a"), entry{})
	kd.put([]byte("b"), entry{})
	kd.put([]byte("c"), entry{})

	if kd.len() != 3 || len(kd.keys()) != 3 {
		t.Fatalf("unexpected sizes: %d/%d", kd.len(), len(kd.keys()))
	}

	seen := 0
	kd.iter(func(key string, ent entry) bool {
		seen++
		return false
	})
	if seen != 1 {
		t.Fatalf("iter visited %d entries after a false return", seen)
	}

	kd.resetStale()
	if kd.staleBytes != 0 || kd.staleEntries != 0 {
		t.Fatal("resetStale left counters set")
	}
}
