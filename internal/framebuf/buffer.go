// Package framebuf holds the latest frame of each sensor stream.
//
// A Buffer is a single slot: writers replace the stored frame and readers take
// whatever is there. There is no queue, so a slow reader never holds back a
// writer and a slow writer only makes the reader see an older frame.
package framebuf

import "sync/atomic"

// Buffer is safe for one writer and any number of readers running concurrently.
type Buffer struct {
	frame  atomic.Pointer[Frame]
	dirty  atomic.Bool
	writes atomic.Uint64
}

// New creates an empty buffer.
func New() *Buffer {
	return &Buffer{}
}

// Write replaces the stored frame.
func (b *Buffer) Write(f *Frame) {
	if f == nil {
		return
	}
	b.frame.Store(f)
	b.dirty.Store(true)
	b.writes.Add(1)
}

// Read returns the most recent frame, or false if none was written yet.
func (b *Buffer) Read() (*Frame, bool) {
	f := b.frame.Load()
	if f == nil {
		return nil, false
	}
	b.dirty.Store(false)
	return f, true
}

// Dirty reports whether a frame arrived since the last Read.
func (b *Buffer) Dirty() bool {
	return b.dirty.Load()
}

// Writes returns the number of frames written so far.
func (b *Buffer) Writes() uint64 {
	return b.writes.Load()
}

// Reset empties the slot.
func (b *Buffer) Reset() {
	b.frame.Store(nil)
	b.dirty.Store(false)
}
