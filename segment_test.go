package tinkv

import (
	"bytes"
	"io"
	"os"
	"testing"
)

func newTestSegment(t *testing.T) *segment {
	t.Helper()
	dir, err := os.MkdirTemp("", "tinkv-segment-test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	seg, err := createSegment(dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	return seg
}

func TestSegmentAppendRead(t *testing.T) {
	seg := newTestSegment(t)
	defer seg.close()

	valueOffset, err := seg.append([]byte("key"), []byte("value"), 1)
	if err != nil {
		t.Fatal(err)
	}
	if valueOffset != recordHeaderSize+3 {
		t.Fatalf("value offset %d, want %d", valueOffset, recordHeaderSize+3)
	}
	if seg.size != recordHeaderSize+3+5 {
		t.Fatalf("size %d, want %d", seg.size, recordHeaderSize+3+5)
	}

	value, err := seg.readValue(valueOffset, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(value, []byte("value")) {
		t.Fatalf("read back %q", value)
	}
}

func TestSegmentReadAfterFreeze(t *testing.T) {
	seg := newTestSegment(t)
	defer seg.close()

	valueOffset, err := seg.append([]byte("key"), []byte("value"), 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := seg.freeze(); err != nil {
		t.Fatal(err)
	}
	if _, err := seg.append([]byte("k"), []byte("v"), 2); err == nil {
		t.Fatal("append to a frozen segment must fail")
	}

	value, err := seg.readValue(valueOffset, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(value, []byte("value")) {
		t.Fatalf("read back %q after freeze", value)
	}
}

func TestSegmentShortRead(t *testing.T) {
	seg := newTestSegment(t)
	defer seg.close()

	if _, err := seg.append([]byte("key"), []byte("value"), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := seg.readValue(seg.size-2, 10); err == nil {
		t.Fatal("short read must fail")
	}
}

func TestSegmentIterRecords(t *testing.T) {
	seg := newTestSegment(t)
	defer seg.close()

	type pair struct{ key, value string }
	pairs := []pair{{"a", "1"}, {"bb", "22"}, {"ccc", "333"}}
	for i, p := range pairs {
		if _, err := seg.append([]byte(p.key), []byte(p.value), uint64(i)); err != nil {
			t.Fatal(err)
		}
	}

	it, err := seg.iterRecords()
	if err != nil {
		t.Fatal(err)
	}
	defer it.close()

	var offset uint64
	for i, p := range pairs {
		rec, recOffset, valueOffset, err := it.next()
		if err != nil {
			t.Fatal(err)
		}
		if string(rec.key) != p.key || string(rec.value) != p.value || rec.timestamp != uint64(i) {
			t.Fatalf("record %d mismatch: %+v", i, rec)
		}
		if recOffset != offset {
			t.Fatalf("record %d starts at %d, want %d", i, recOffset, offset)
		}
		if valueOffset != offset+recordHeaderSize+uint64(len(p.key)) {
			t.Fatalf("record %d value offset %d", i, valueOffset)
		}
		offset += rec.size()
	}
	if _, _, _, err := it.next(); err != io.EOF {
		t.Fatalf("expected io.EOF at end of file, got %v", err)
	}
	if it.pos() != seg.size {
		t.Fatalf("iterator stopped at %d, file is %d bytes", it.pos(), seg.size)
	}
}

func TestEmptySegmentRemovedOnClose(t *testing.T) {
	seg := newTestSegment(t)

	path := seg.path
	if err := seg.close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("empty data file should be unlinked on close")
	}
}
