package chunk

// ByteBuffer is a growable, cursor-based byte accumulator used by Decoder to
// hold bytes arriving from the transport before enough of them exist to
// parse the next chunk header or payload fragment. It never blocks: callers
// Append what arrived and Peek/Consume what they can use, leaving the rest
// for the next Append.

// ByteBuffer accumulates inbound bytes and exposes a read cursor over them.
// Not safe for concurrent use; a connection's single decoder pump owns it.
type ByteBuffer struct {
	data []byte
	pos  int
}

// compactThreshold bounds how large the already-consumed prefix must grow
// before it is physically dropped, trading a little copying for bounded
// memory growth on long-lived connections.
const compactThreshold = 8192

// NewByteBuffer returns an empty buffer.
func NewByteBuffer() *ByteBuffer {
	return &ByteBuffer{}
}

// Append adds newly received bytes to the buffer.
func (b *ByteBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.data = append(b.data, p...)
}

// Len returns the number of unconsumed bytes currently buffered.
func (b *ByteBuffer) Len() int {
	return len(b.data) - b.pos
}

// Remaining returns a view of the unconsumed bytes. The returned slice is
// only valid until the next Append or Consume call.
func (b *ByteBuffer) Remaining() []byte {
	return b.data[b.pos:]
}

// Peek returns the next n unconsumed bytes without advancing the cursor, or
// ok=false if fewer than n bytes are currently buffered.
func (b *ByteBuffer) Peek(n int) (p []byte, ok bool) {
	if b.Len() < n {
		return nil, false
	}
	return b.data[b.pos : b.pos+n], true
}

// Consume advances the read cursor by n bytes, which must not exceed Len().
// It periodically compacts the backing array so a long-lived connection
// does not grow its buffer unbounded with fully-consumed prefix bytes.
func (b *ByteBuffer) Consume(n int) {
	b.pos += n
	if b.pos > len(b.data) {
		b.pos = len(b.data)
	}
	if b.pos >= compactThreshold {
		rest := len(b.data) - b.pos
		copy(b.data, b.data[b.pos:])
		b.data = b.data[:rest]
		b.pos = 0
	}
}
