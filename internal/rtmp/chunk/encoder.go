package chunk

// Encoder is a scheduler-driven, non-blocking chunk writer: it holds one
// outbound queue per channel and asks a Scheduler, once per Tick, which
// channel gets to emit its next frame — so a connection's write pump can
// call Tick in a loop and produce genuinely interleaved output, matching
// what a real RTMP peer expects to receive while multiple streams are
// active on the same connection, without fragmenting one message to
// completion before a different channel gets a turn.

import (
	"fmt"
	"io"
	"sync"

	protoerr "github.com/alxayo/go-rtmp/internal/errors"
)

// pendingMessage tracks a message mid-transmission on one channel: how many
// payload bytes have gone out as chunks so far, and the header that opened
// the message (needed so continuation chunks can be diffed against it).
type pendingMessage struct {
	msg     *Message
	written uint32
	first   *ChunkHeader
}

// Encoder multiplexes queued messages from many channels into one
// interleaved byte stream. Not safe for concurrent Tick calls; intended for
// a single write-pump goroutine per connection.
type Encoder struct {
	mu          sync.Mutex
	frameSize   uint32
	scheduler   Scheduler
	queues      map[uint32][]*Message
	inFlight    map[uint32]*pendingMessage
	lastHeaders map[uint32]*ChunkHeader
}

// NewEncoder creates an Encoder with the given outbound frame size (RTMP
// default 128) and scheduling policy. A nil scheduler defaults to
// round-robin.
func NewEncoder(scheduler Scheduler, frameSize uint32) *Encoder {
	if frameSize == 0 {
		frameSize = 128
	}
	if scheduler == nil {
		scheduler = NewRoundRobinScheduler()
	}
	return &Encoder{
		frameSize:   frameSize,
		scheduler:   scheduler,
		queues:      make(map[uint32][]*Message),
		inFlight:    make(map[uint32]*pendingMessage),
		lastHeaders: make(map[uint32]*ChunkHeader),
	}
}

// SetFrameSize updates the outbound chunk size, e.g. after negotiating a
// Set Chunk Size with the peer.
func (e *Encoder) SetFrameSize(size uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if size >= 1 && size <= 65536 {
		e.frameSize = size
	}
}

// Enqueue schedules msg for output on its own channel, activating that
// channel in the scheduler if it was previously idle.
func (e *Encoder) Enqueue(msg *Message) error {
	if msg == nil {
		return protoerr.NewChunkError("encoder.enqueue", fmt.Errorf("nil message"))
	}
	if msg.MessageLength == 0 {
		msg.MessageLength = uint32(len(msg.Payload))
	}
	e.mu.Lock()
	wasEmpty := len(e.queues[msg.CSID]) == 0 && e.inFlight[msg.CSID] == nil
	e.queues[msg.CSID] = append(e.queues[msg.CSID], msg)
	e.mu.Unlock()
	if wasEmpty {
		e.scheduler.ActivateChannel(msg.CSID)
	}
	return nil
}

// Pending reports whether any channel still has queued or in-flight data.
func (e *Encoder) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, q := range e.queues {
		if len(q) > 0 {
			return true
		}
	}
	return len(e.inFlight) > 0
}

// Tick asks the scheduler for the next channel with data to send and writes
// up to frameSize bytes of that channel's current message to out, applying
// RTMP header compression (FMT0 for a new message, FMT3 for continuation
// chunks, FMT1/2 when switching to a new message whose header partially
// matches the channel's last one). It returns sent=false when no channel
// currently has anything to send.
func (e *Encoder) Tick(out io.Writer) (sent bool, err error) {
	var frame []byte
	for {
		e.mu.Lock()
		csid, ok := e.scheduler.GetNextChannel()
		if !ok {
			e.mu.Unlock()
			return false, nil
		}

		pm := e.inFlight[csid]
		if pm == nil {
			queue := e.queues[csid]
			if len(queue) == 0 {
				e.scheduler.DeactivateChannel(csid)
				e.mu.Unlock()
				continue
			}
			pm = &pendingMessage{msg: queue[0]}
			e.queues[csid] = queue[1:]
			e.inFlight[csid] = pm
		}

		frame, err = e.buildFrame(csid, pm)
		e.mu.Unlock()
		if err != nil {
			return false, err
		}
		break
	}

	if _, err := out.Write(frame); err != nil {
		return false, err
	}
	return true, nil
}

// buildFrame encodes the header and next payload slice for pm on csid,
// advances pm.written, and retires the channel (clearing inFlight and
// deactivating it in the scheduler if its queue is now empty) once the
// message completes. Caller must hold e.mu.
func (e *Encoder) buildFrame(csid uint32, pm *pendingMessage) ([]byte, error) {
	frameSize := e.frameSize
	remaining := pm.msg.MessageLength - pm.written
	sendLen := remaining
	if sendLen > frameSize {
		sendLen = frameSize
	}

	var hdr *ChunkHeader
	var refPrev *ChunkHeader
	if pm.written == 0 {
		prev := e.lastHeaders[csid]
		fmtVal, tsField := selectOutboundFMT(pm.msg, prev)
		hdr = &ChunkHeader{
			FMT:             fmtVal,
			CSID:            csid,
			Timestamp:       tsField,
			MessageLength:   pm.msg.MessageLength,
			MessageTypeID:   pm.msg.TypeID,
			MessageStreamID: pm.msg.MessageStreamID,
		}
		if pm.msg.Timestamp >= extendedTimestampMarker {
			hdr.HasExtendedTimestamp = true
			if fmtVal == fmt1 || fmtVal == fmt2 {
				hdr.Timestamp = pm.msg.Timestamp
			}
		}
		pm.first = hdr
		refPrev = prev
	} else {
		hdr = &ChunkHeader{FMT: fmt3, CSID: csid}
		refPrev = pm.first
	}

	headerBytes, err := EncodeChunkHeader(hdr, refPrev)
	if err != nil {
		return nil, protoerr.NewChunkError("encoder.header", err)
	}
	payload := pm.msg.Payload[pm.written : pm.written+sendLen]
	frame := make([]byte, 0, len(headerBytes)+len(payload))
	frame = append(frame, headerBytes...)
	frame = append(frame, payload...)

	pm.written += sendLen
	if pm.written >= pm.msg.MessageLength {
		e.lastHeaders[csid] = &ChunkHeader{
			FMT:                  pm.first.FMT,
			CSID:                 csid,
			Timestamp:            pm.msg.Timestamp,
			MessageLength:        pm.msg.MessageLength,
			MessageTypeID:        pm.msg.TypeID,
			MessageStreamID:      pm.msg.MessageStreamID,
			HasExtendedTimestamp: pm.first.HasExtendedTimestamp,
		}
		delete(e.inFlight, csid)
		if len(e.queues[csid]) == 0 {
			e.scheduler.DeactivateChannel(csid)
		}
	}
	return frame, nil
}

// selectOutboundFMT picks the header compression for a new message: FMT0
// when the channel has no prior header or the message stream id changed
// (FMT1/FMT2 inherit it), FMT2 when only the timestamp changed since the
// last message on this channel, FMT1 otherwise.
func selectOutboundFMT(msg *Message, prev *ChunkHeader) (uint8, uint32) {
	if prev == nil {
		return fmt0, msg.Timestamp
	}
	if msg.MessageStreamID != prev.MessageStreamID {
		return fmt0, msg.Timestamp
	}
	if msg.MessageLength == prev.MessageLength && msg.TypeID == prev.MessageTypeID && msg.MessageStreamID == prev.MessageStreamID {
		return fmt2, msg.Timestamp - prev.Timestamp
	}
	return fmt1, msg.Timestamp - prev.Timestamp
}
