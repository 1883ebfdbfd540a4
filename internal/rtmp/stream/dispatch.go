package stream

import (
	"fmt"
	"log/slog"
	"sync"

	protoerr "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/event"
)

// CommandHandler handles one onInvoke/onNotify call routed to a ConnStream.
type CommandHandler func(argv []interface{}, id float64) error

// ConnStream is the per-connection, per-streamId entity the 4.I dispatcher
// maintains. Stream 0 is the implicit control stream; createStream responses
// allocate further entries as clients negotiate publish/play.
type ConnStream struct {
	ID        uint32
	timestamp uint32

	mu       sync.Mutex
	commands map[string]CommandHandler
}

func newConnStream(id uint32) *ConnStream {
	return &ConnStream{ID: id, commands: make(map[string]CommandHandler)}
}

// Timestamp returns the timestamp of the most recently dispatched message
// on this stream.
func (cs *ConnStream) Timestamp() uint32 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.timestamp
}

// On registers fn as the handler for invoke/notify command name.
func (cs *ConnStream) On(name string, fn CommandHandler) {
	if cs == nil || fn == nil {
		return
	}
	cs.mu.Lock()
	cs.commands[name] = fn
	cs.mu.Unlock()
}

// Invoke routes name to its registered handler. If none is registered it
// returns a protocol error so the dispatcher can build the _error /
// NetStream.Failed reply the spec requires.
func (cs *ConnStream) Invoke(name string, argv []interface{}, id float64) error {
	cs.mu.Lock()
	fn, ok := cs.commands[name]
	cs.mu.Unlock()
	if !ok {
		return protoerr.NewProtocolViolationError("stream.invoke", fmt.Errorf("no handler registered for %q", name))
	}
	return fn(argv, id)
}

// Table is the per-connection streamId → ConnStream map. Stream 0 (the
// control stream) exists from construction.
type Table struct {
	mu      sync.Mutex
	streams map[uint32]*ConnStream
}

// NewTable creates a table with the implicit control stream (id 0) already
// present.
func NewTable() *Table {
	t := &Table{streams: make(map[uint32]*ConnStream)}
	t.streams[0] = newConnStream(0)
	return t
}

// GetOrCreate returns the ConnStream for id, creating it if absent.
func (t *Table) GetOrCreate(id uint32) *ConnStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs, ok := t.streams[id]
	if !ok {
		cs = newConnStream(id)
		t.streams[id] = cs
	}
	return cs
}

// Get returns the ConnStream for id, or nil if it doesn't exist.
func (t *Table) Get(id uint32) *ConnStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streams[id]
}

// Delete removes the ConnStream for id (a no-op for id 0, the control
// stream, which always exists).
func (t *Table) Delete(id uint32) {
	if id == 0 {
		return
	}
	t.mu.Lock()
	delete(t.streams, id)
	t.mu.Unlock()
}

// Dispatcher decodes reassembled chunk messages into events (component H)
// and routes them per 4.I: connection-level events go to fixed callbacks,
// onNotify/onInvoke are routed by streamId through the per-stream command
// table, and onAudioData/onVideoData are handed to the caller — which has
// already resolved the connection's streamId to a NamedStream via the
// publish/play handlers.
type Dispatcher struct {
	Table *Table

	OnFrameSize           func(*event.FrameSize)
	OnBytesRead           func(*event.BytesRead)
	OnControlMessage      func(*event.ControlEvent)
	OnDownstreamBandwidth func(*event.DownstreamBandwidth)
	OnUpstreamBandwidth   func(*event.UpstreamBandwidth)
	OnAudioData           func(streamID uint32, msg *chunk.Message)
	OnVideoData           func(streamID uint32, msg *chunk.Message)
	OnNotify              func(streamID uint32, n *event.Notify)

	log *slog.Logger
}

// NewDispatcher creates a Dispatcher over table (a fresh Table is created if
// nil).
func NewDispatcher(table *Table, log *slog.Logger) *Dispatcher {
	if table == nil {
		table = NewTable()
	}
	return &Dispatcher{Table: table, log: log}
}

// Dispatch decodes msg and routes it. For an onInvoke with no registered
// handler it returns a non-nil _error / NetStream.Failed reply message that
// the caller must send back to the peer; every other path returns a nil
// reply.
func (d *Dispatcher) Dispatch(msg *chunk.Message) (*chunk.Message, error) {
	if msg == nil {
		return nil, protoerr.NewProtocolError("stream.dispatch", fmt.Errorf("nil message"))
	}

	cs := d.Table.GetOrCreate(msg.MessageStreamID)
	cs.mu.Lock()
	cs.timestamp = msg.Timestamp
	cs.mu.Unlock()

	ev, err := event.Decode(msg)
	if err != nil {
		return nil, err
	}

	switch v := ev.(type) {
	case *event.FrameSize:
		if d.OnFrameSize != nil {
			d.OnFrameSize(v)
		}
	case *event.BytesRead:
		if d.OnBytesRead != nil {
			d.OnBytesRead(v)
		}
	case *event.ControlEvent:
		if d.OnControlMessage != nil {
			d.OnControlMessage(v)
		}
	case *event.DownstreamBandwidth:
		if d.OnDownstreamBandwidth != nil {
			d.OnDownstreamBandwidth(v)
		}
	case *event.UpstreamBandwidth:
		if d.OnUpstreamBandwidth != nil {
			d.OnUpstreamBandwidth(v)
		}
	case *event.AudioData:
		if d.OnAudioData != nil {
			d.OnAudioData(msg.MessageStreamID, msg)
		}
	case *event.VideoData:
		if d.OnVideoData != nil {
			d.OnVideoData(msg.MessageStreamID, msg)
		}
	case *event.Notify:
		if d.OnNotify != nil {
			d.OnNotify(msg.MessageStreamID, v)
		}
	case *event.Invoke:
		if ierr := cs.Invoke(v.Name, v.Argv, v.ID); ierr != nil {
			if d.log != nil {
				d.log.Warn("invoke: no handler registered", "stream_id", msg.MessageStreamID, "name", v.Name)
			}
			return buildInvokeFailed(msg.MessageStreamID, v)
		}
	default:
		return nil, protoerr.NewProtocolError("stream.dispatch", fmt.Errorf("unhandled event type %T", ev))
	}
	return nil, nil
}

// buildInvokeFailed builds the _error / NetStream.Failed reply for an
// invoke with no registered handler, correlated back via the original
// invoke's transaction id.
func buildInvokeFailed(streamID uint32, invoke *event.Invoke) (*chunk.Message, error) {
	info := map[string]interface{}{
		"level":       "error",
		"code":        "NetStream.Failed",
		"description": fmt.Sprintf("no handler for command %q", invoke.Name),
	}
	reply := &event.Invoke{Name: "_error", ID: invoke.ID, Argv: []interface{}{nil, info}}
	return event.Encode(reply, commandChannel, streamID, 0)
}

// commandChannel is the chunk stream id conventionally used for AMF0
// command/reply traffic, matching the CSID the rest of the server uses for
// onStatus replies.
const commandChannel = 5
