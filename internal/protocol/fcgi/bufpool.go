package fcgi

import (
	"sync"
)

// Responses are encoded into one buffer (Stdout records + EndRequest) and
// written with a single call. Buffers are drawn from size-classed pools:
//
//   - 4KB: headers-only and short text responses
//   - one maximum-size record plus framing: typical HTML pages
//   - 1MB: files served through the static handler
//
// Anything larger is allocated directly and never pooled.

type sizeClass struct {
	size int
	pool sync.Pool
}

func newSizeClass(size int) *sizeClass {
	c := &sizeClass{size: size}
	c.pool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return c
}

// sizeClasses is ordered by size.
var sizeClasses = []*sizeClass{
	newSizeClass(4 << 10),
	newSizeClass(MaxRecordSize + HeaderSize*2 + 8),
	newSizeClass(1 << 20),
}

// GetBuffer returns a zero-length buffer with capacity of at least size,
// ready for the Append* encoders.
//
// The caller must hand the buffer back with PutBuffer once the encoded bytes
// have been written and must not use it afterwards. Requests above the
// largest class are allocated directly and are not pooled.
//
// Parameters:
//   - size: minimum capacity in bytes, usually from StreamSize
//
// Returns:
//   - A slice of length 0 whose capacity is the size of the smallest class
//     that fits, or exactly size when no class does
//
// Thread safety: safe to call concurrently.
//
// Example:
//
//	buf := GetBuffer(n)
//	defer PutBuffer(buf)
func GetBuffer(size int) []byte {
	for _, c := range sizeClasses {
		if size <= c.size {
			return (*c.pool.Get().(*[]byte))[:0]
		}
	}
	return make([]byte, 0, size)
}

// PutBuffer returns a buffer obtained from GetBuffer to its pool.
//
// A buffer is pooled only when its capacity matches a size class exactly.
// Direct allocations and buffers that outgrew their class through append
// are left to the garbage collector.
//
// Parameters:
//   - buf: a buffer from GetBuffer; nil is ignored
//
// Thread safety: safe to call concurrently.
func PutBuffer(buf []byte) {
	if buf == nil {
		return
	}
	for _, c := range sizeClasses {
		if cap(buf) == c.size {
			full := buf[:c.size]
			c.pool.Put(&full)
			return
		}
	}
}
