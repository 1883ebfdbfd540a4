package chunk

// Decoder is a cooperative, non-blocking chunk reassembler: it consumes
// whatever bytes the transport handed it via Feed, reassembles as many
// complete messages as the buffered bytes allow, and returns the instant it
// runs short — preserving all parse state so the next Feed resumes exactly
// where the previous one paused. No goroutine of its own, no blocking call,
// ever, so a connection's read pump can share a thread with its write pump.

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	protoerr "github.com/alxayo/go-rtmp/internal/errors"
)

// Decoder reassembles RTMP messages from a byte stream fed incrementally.
// Not safe for concurrent use; intended for a single connection's read path.
type Decoder struct {
	buf        *ByteBuffer
	chunkSize  uint32
	table      *Table
	prevHeader map[uint32]*ChunkHeader
	onMessage  func(*Message)
}

// NewDecoder creates a Decoder with the given initial inbound chunk size
// (RTMP default 128). onMessage is invoked synchronously, from within Feed,
// for every fully reassembled message — including control messages, which
// callers typically dispatch before forwarding anything else downstream.
func NewDecoder(chunkSize uint32, onMessage func(*Message)) *Decoder {
	if chunkSize == 0 {
		chunkSize = 128
	}
	return &Decoder{
		buf:        NewByteBuffer(),
		chunkSize:  chunkSize,
		table:      NewTable(),
		prevHeader: make(map[uint32]*ChunkHeader),
		onMessage:  onMessage,
	}
}

// SetChunkSize overrides the inbound chunk size, e.g. after receiving a Set
// Chunk Size control message. Safe to call between Feed invocations.
func (d *Decoder) SetChunkSize(size uint32) {
	if size >= 1 && size <= 65536 {
		d.chunkSize = size
	}
}

// ChunkSize returns the current inbound chunk size.
func (d *Decoder) ChunkSize() uint32 { return d.chunkSize }

// Feed appends newly received bytes and drains as many complete chunks as
// the buffer now allows, invoking onMessage for each fully reassembled
// message. It returns nil when further progress requires more bytes (a
// short read — entirely normal, not an error) or a protocol error if the
// buffered bytes are structurally invalid.
func (d *Decoder) Feed(p []byte) error {
	d.buf.Append(p)
	for {
		progressed, err := d.step()
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

// step attempts to consume exactly one chunk (header plus its payload
// fragment, up to chunkSize bytes). It reports progressed=false — leaving
// the buffer's cursor untouched — when there is not yet enough data, so the
// caller can stop until the next Feed.
func (d *Decoder) step() (progressed bool, err error) {
	avail := d.buf.Remaining()
	if len(avail) == 0 {
		return false, nil
	}

	h, headerLen, ok, err := parseHeaderFromBytes(avail, func(csid uint32) *ChunkHeader {
		return d.prevHeader[csid]
	})
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	st := d.table.GetOrCreate(h.CSID)
	if err := st.ApplyHeader(h); err != nil {
		return false, err
	}

	remaining := st.BytesRemaining()
	readLen := remaining
	if readLen > d.chunkSize {
		readLen = d.chunkSize
	}
	if uint32(len(avail)-headerLen) < readLen {
		// Header fits but the payload fragment hasn't fully arrived yet;
		// leave everything untouched and wait for more bytes.
		return false, nil
	}

	d.prevHeader[h.CSID] = h
	var payload []byte
	if readLen > 0 {
		payload = append([]byte(nil), avail[headerLen:headerLen+int(readLen)]...)
	}
	d.buf.Consume(headerLen + int(readLen))

	complete, msg, err := st.AppendChunkData(payload)
	if err != nil {
		return false, err
	}
	if complete {
		d.maybeHandleControl(msg)
		if d.onMessage != nil {
			d.onMessage(msg)
		}
	}
	return true, nil
}

// maybeHandleControl applies a Set Chunk Size (type id 1) control message
// the instant it completes, before the message is handed to onMessage, so
// the very next chunk is parsed against the new size.
func (d *Decoder) maybeHandleControl(msg *Message) {
	if msg == nil {
		return
	}
	if msg.TypeID == 1 && msg.MessageStreamID == 0 && len(msg.Payload) >= 4 {
		v := binary.BigEndian.Uint32(msg.Payload[:4])
		if v > 0 && v <= 65536 {
			d.SetChunkSize(v)
		}
	}
}

// peekCSID extracts just the channel id from buf's basic header without
// consuming it, or ok=false if too few bytes have arrived to know it yet.
// This is the only place the basic header is parsed a second time: the CSID
// must be known before prevFor can resolve the FMT1/2/3 inheritance header
// that ParseChunkHeader itself requires up front.
func peekCSID(buf []byte) (csid uint32, ok bool) {
	if len(buf) < 1 {
		return 0, false
	}
	raw := buf[0] & 0x3F
	switch raw {
	case 0:
		if len(buf) < 2 {
			return 0, false
		}
		return uint32(buf[1]) + 64, true
	case 1:
		if len(buf) < 3 {
			return 0, false
		}
		return uint32(buf[1]) + 64 + uint32(buf[2])<<8, true
	default:
		return uint32(raw), true
	}
}

// parseHeaderFromBytes parses one chunk header directly out of buf without
// consuming anything, delegating the actual field layout to ParseChunkHeader
// so there is exactly one FMT0-3 parsing implementation in the package. A
// short buffer surfaces as ok=false (io.EOF/io.ErrUnexpectedEOF from the
// underlying bytes.Reader) rather than an error, since a short read here is
// entirely normal: it just means the next Feed needs to bring more bytes.
func parseHeaderFromBytes(buf []byte, prevFor func(csid uint32) *ChunkHeader) (h *ChunkHeader, n int, ok bool, err error) {
	csid, ok := peekCSID(buf)
	if !ok {
		return nil, 0, false, nil
	}
	prev := prevFor(csid)

	h, err = ParseChunkHeader(bytes.NewReader(buf), prev)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, false, nil
		}
		return nil, 0, false, protoerr.NewChunkError("decoder.header", err)
	}
	return h, h.HeaderBytes(), true, nil
}
