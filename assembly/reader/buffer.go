package reader

import (
	"bytes"
	"io"
)

// Buffer is a fixed-capacity ring of bytes split into a committed region and
// a tentative scan region.
//
// Logical offsets run from 0 (the oldest buffered byte) to Len().  Bytes in
// [0, Scanned()) have been examined by the current parse step but not yet
// released; bytes in [Scanned(), Len()) have not been looked at.  Data leaves
// the buffer only through CommitScanned.
//
// The window backing a Buffer is allocated by the first write and dropped by
// Release, so idle streams hold no memory beyond the struct itself.
//
// A Buffer is owned by a single parse session and is not safe for concurrent
// use.
type Buffer struct {
	// nil until the first write, otherwise exactly capacity bytes
	data     []byte
	capacity int
	// physical index of logical offset 0
	head int
	// bytes held, scanned or not
	size int
	// scan cursor, 0 <= scan <= size
	scan int
}

// NewBuffer creates a Buffer holding at most capacity bytes.  The capacity
// never changes.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		panic("reader: buffer capacity must be positive")
	}
	return &Buffer{capacity: capacity}
}

// Cap returns the fixed capacity of b.
func (b *Buffer) Cap() int {
	return b.capacity
}

// Allocated reports whether b currently holds a window.
func (b *Buffer) Allocated() bool {
	return b.data != nil
}

// Release discards all data and drops the window.  The next write allocates
// a fresh one.
func (b *Buffer) Release() {
	b.Reset()
	b.data = nil
}

func (b *Buffer) allocate() {
	if b.data == nil {
		b.data = make([]byte, b.capacity)
	}
}

// Len returns the number of bytes held, including scanned bytes.
func (b *Buffer) Len() int {
	return b.size
}

// Free returns the number of bytes that can still be written.
func (b *Buffer) Free() int {
	return b.capacity - b.size
}

// Scanned returns the position of the scan cursor.
func (b *Buffer) Scanned() int {
	return b.scan
}

// Unscanned returns the number of bytes after the scan cursor.
func (b *Buffer) Unscanned() int {
	return b.size - b.scan
}

// Reset discards all data.
func (b *Buffer) Reset() {
	b.head = 0
	b.size = 0
	b.scan = 0
}

// Write appends p to the buffer.  Either all of p is written or, if p does
// not fit in the remaining capacity, nothing is written and ErrOverflow is
// returned.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > b.Free() {
		return 0, ErrOverflow
	}
	if len(p) == 0 {
		return 0, nil
	}
	b.allocate()
	first, second := b.runs(b.size, len(p))
	n := copy(first, p)
	copy(second, p[n:])
	b.size += len(p)
	return len(p), nil
}

// Fill performs a single Read from r directly into the free region of the
// buffer, never requesting more than Free() bytes.  It returns ErrOverflow
// without reading if the buffer is already full.
func (b *Buffer) Fill(r io.Reader) (int, error) {
	if b.Free() == 0 {
		return 0, ErrOverflow
	}
	b.allocate()
	// only the first contiguous run, a short read is fine
	first, _ := b.runs(b.size, b.Free())
	n, err := r.Read(first)
	if n > 0 {
		b.size += n
	}
	return n, err
}

// ScanByte returns the byte at the scan cursor and advances the cursor.  It
// returns false once the cursor reaches the end of the buffered data.
func (b *Buffer) ScanByte() (byte, bool) {
	if b.scan >= b.size {
		return 0, false
	}
	c := b.data[b.index(b.scan)]
	b.scan++
	return c, true
}

// ScanUntil moves the scan cursor past the next occurrence of delim.  If
// delim is not buffered the cursor is left at the end of the data and false
// is returned, so a later call resumes where this one stopped.
func (b *Buffer) ScanUntil(delim byte) bool {
	first, second := b.runs(b.scan, b.size-b.scan)
	if i := bytes.IndexByte(first, delim); i >= 0 {
		b.scan += i + 1
		return true
	}
	if i := bytes.IndexByte(second, delim); i >= 0 {
		b.scan += len(first) + i + 1
		return true
	}
	b.scan = b.size
	return false
}

// Advance moves the scan cursor forward by up to n bytes without examining
// them and returns the number of bytes actually skipped.
func (b *Buffer) Advance(n int) int {
	if n <= 0 {
		return 0
	}
	if avail := b.size - b.scan; n > avail {
		n = avail
	}
	b.scan += n
	return n
}

// Rewind moves the scan cursor back to the committed boundary.
func (b *Buffer) Rewind() {
	b.scan = 0
}

// CommitScanned removes the scanned prefix from the buffer and returns a
// copy of it.
func (b *Buffer) CommitScanned() []byte {
	out := make([]byte, b.scan)
	first, second := b.runs(0, b.scan)
	n := copy(out, first)
	copy(out[n:], second)

	b.head = b.index(b.scan)
	b.size -= b.scan
	b.scan = 0
	if b.size == 0 {
		// keep the next write contiguous when we can
		b.head = 0
	}
	return out
}

// index maps a logical offset in [0, Cap()] to a physical index.
func (b *Buffer) index(offset int) int {
	i := b.head + offset
	if i >= len(b.data) {
		i -= len(b.data)
	}
	return i
}

// runs returns the physical slices backing logical [offset, offset+n).  The
// second slice is non-empty only when the range wraps.
func (b *Buffer) runs(offset, n int) (first, second []byte) {
	if n == 0 {
		return nil, nil
	}
	start := b.index(offset)
	end := start + n
	if end <= len(b.data) {
		return b.data[start:end], nil
	}
	return b.data[start:], b.data[:end-len(b.data)]
}
