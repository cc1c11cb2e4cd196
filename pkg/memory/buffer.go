package memory

import "errors"

// ErrBufferFull is returned by Buffer.Write when the write would exceed the
// buffer's capacity. Nothing is written in that case.
var ErrBufferFull = errors.New("buffer full")

// Buffer is a fixed-capacity region handed out by an Allocator. It has a
// single owner at a time and is not safe for concurrent use.
type Buffer struct {
	data  []byte
	n     int
	tier  Tier
	owner *Allocator
	freed bool
}

// Data is the whole allocated region.
func (b *Buffer) Data() []byte { return b.data }

// Bytes is the portion filled by Write.
func (b *Buffer) Bytes() []byte { return b.data[:b.n] }

func (b *Buffer) Len() int  { return b.n }
func (b *Buffer) Cap() int  { return len(b.data) }
func (b *Buffer) Tier() Tier { return b.tier }

// Write appends p. A write that does not fit fails whole with ErrBufferFull.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > len(b.data)-b.n {
		return 0, ErrBufferFull
	}
	copy(b.data[b.n:], p)
	b.n += len(p)
	return len(p), nil
}

// SetLen marks the first n bytes of Data as filled.
func (b *Buffer) SetLen(n int) {
	if n < 0 {
		n = 0
	}
	if n > len(b.data) {
		n = len(b.data)
	}
	b.n = n
}

func (b *Buffer) Reset() { b.n = 0 }

// Free returns the buffer to the allocator that created it.
func (b *Buffer) Free() error {
	return b.owner.Free(b)
}
