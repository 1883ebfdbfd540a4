// Package event implements the RTMP event codec: it dispatches a decoded
// chunk.Message on its datatype to a typed Go value, and encodes typed
// values back into chunk.Message payloads. It generalizes the control
// package's Type 1-6 handling and the rpc package's AMF0 command parsing
// into the single decode/encode surface RTMP's protocol control plane and
// its NOTIFY/INVOKE command plane both need.
package event

import (
	"bytes"
	"encoding/binary"
	"fmt"

	protoerr "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/rtmp/amf"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
)

// RTMP message datatypes (chunk.Message.TypeID values) this codec handles.
const (
	DatatypeFrameSize            uint8 = 0x01
	DatatypeBytesRead            uint8 = 0x03
	DatatypeControl              uint8 = 0x04
	DatatypeDownstreamBandwidth  uint8 = 0x05
	DatatypeUpstreamBandwidth    uint8 = 0x06
	DatatypeAudio                uint8 = 0x07
	DatatypeVideo                uint8 = 0x08
	DatatypeNotify               uint8 = 0x12
	DatatypeInvoke               uint8 = 0x14
)

// Control event subtypes (the u16 "subtype" field of a CONTROL datatype body).
const (
	ControlStreamBegin uint16 = 0
	ControlStreamEOF   uint16 = 1
	ControlStreamDry   uint16 = 2
	ControlSetBufLen   uint16 = 3
	ControlStreamIsRec uint16 = 4
	ControlPing        uint16 = 6
	ControlPong        uint16 = 7
)

// undefinedValue is the lenient-decode / strict-encode default for a
// ControlEvent's value2/value3 fields per the wire format's optional
// trailing values.
const undefinedValue int32 = -1

// FrameSize is datatype 0x01: a peer-requested change to the shared chunk
// frame size used for subsequent chunking in that direction.
type FrameSize struct {
	Size uint32
}

// BytesRead is datatype 0x03: a peer's running count of bytes received,
// sent periodically to satisfy the window acknowledgement protocol.
type BytesRead struct {
	Bytes uint32
}

// ControlEvent is datatype 0x04: a User Control Message. Value2/Value3
// default to -1 (undefined) on decode when the wire body omits them;
// encode always writes all three values.
type ControlEvent struct {
	Subtype uint16
	Value1  int32
	Value2  int32
	Value3  int32
}

// DownstreamBandwidth is datatype 0x05.
type DownstreamBandwidth struct {
	BytesPerSecond uint32
}

// UpstreamBandwidth is datatype 0x06.
type UpstreamBandwidth struct {
	BytesPerSecond uint32
	LimitType      uint8
}

// AudioData is datatype 0x07: an opaque audio payload, passed through
// uninterpreted except for the codec-detection sniff done elsewhere.
type AudioData struct {
	Payload []byte
}

// VideoData is datatype 0x08: an opaque video payload.
type VideoData struct {
	Payload []byte
}

// Notify is datatype 0x12: a one-way AMF command (no reply expected).
type Notify struct {
	Name string
	ID   float64
	Argv []interface{}
}

// Invoke is datatype 0x14: an AMF command expecting a correlated reply
// routed back to ID.
type Invoke struct {
	Name string
	ID   float64
	Argv []interface{}
}

// Decode dispatches msg on its TypeID (the spec's "datatype") to one of the
// typed values above. It returns protoerr.NewUnknownDatatypeError for any
// datatype this codec doesn't recognize, and protoerr.NewTrailingDataError
// if a fixed-size body has extra bytes beyond what the type requires.
func Decode(msg *chunk.Message) (interface{}, error) {
	if msg == nil {
		return nil, protoerr.NewProtocolError("event.decode", fmt.Errorf("nil message"))
	}
	switch msg.TypeID {
	case DatatypeFrameSize:
		return decodeFrameSize(msg.Payload)
	case DatatypeBytesRead:
		return decodeBytesRead(msg.Payload)
	case DatatypeControl:
		return decodeControlEvent(msg.Payload)
	case DatatypeDownstreamBandwidth:
		return decodeDownstreamBandwidth(msg.Payload)
	case DatatypeUpstreamBandwidth:
		return decodeUpstreamBandwidth(msg.Payload)
	case DatatypeAudio:
		return &AudioData{Payload: msg.Payload}, nil
	case DatatypeVideo:
		return &VideoData{Payload: msg.Payload}, nil
	case DatatypeNotify:
		return decodeCommand(msg.Payload, false)
	case DatatypeInvoke:
		return decodeCommand(msg.Payload, true)
	default:
		return nil, protoerr.NewUnknownDatatypeError(msg.TypeID)
	}
}

func decodeFrameSize(payload []byte) (*FrameSize, error) {
	if len(payload) != 4 {
		return nil, protoerr.NewTrailingDataError("event.frame_size", len(payload)-4)
	}
	return &FrameSize{Size: binary.BigEndian.Uint32(payload)}, nil
}

func decodeBytesRead(payload []byte) (*BytesRead, error) {
	if len(payload) != 4 {
		return nil, protoerr.NewTrailingDataError("event.bytes_read", len(payload)-4)
	}
	return &BytesRead{Bytes: binary.BigEndian.Uint32(payload)}, nil
}

// decodeControlEvent is lenient: a body with only the subtype and value1
// present decodes with value2/value3 defaulted to -1, per the design note
// that some peers omit trailing values.
func decodeControlEvent(payload []byte) (*ControlEvent, error) {
	if len(payload) < 2 {
		return nil, protoerr.NewProtocolViolationError("event.control", fmt.Errorf("body too short: %d bytes", len(payload)))
	}
	ev := &ControlEvent{
		Subtype: binary.BigEndian.Uint16(payload[0:2]),
		Value1:  undefinedValue,
		Value2:  undefinedValue,
		Value3:  undefinedValue,
	}
	rest := payload[2:]
	if len(rest) >= 4 {
		ev.Value1 = int32(binary.BigEndian.Uint32(rest[0:4]))
		rest = rest[4:]
	}
	if len(rest) >= 4 {
		ev.Value2 = int32(binary.BigEndian.Uint32(rest[0:4]))
		rest = rest[4:]
	}
	if len(rest) >= 4 {
		ev.Value3 = int32(binary.BigEndian.Uint32(rest[0:4]))
		rest = rest[4:]
	}
	if len(rest) > 0 {
		return nil, protoerr.NewTrailingDataError("event.control", len(rest))
	}
	return ev, nil
}

func decodeDownstreamBandwidth(payload []byte) (*DownstreamBandwidth, error) {
	if len(payload) != 4 {
		return nil, protoerr.NewTrailingDataError("event.downstream_bandwidth", len(payload)-4)
	}
	return &DownstreamBandwidth{BytesPerSecond: binary.BigEndian.Uint32(payload)}, nil
}

func decodeUpstreamBandwidth(payload []byte) (*UpstreamBandwidth, error) {
	if len(payload) != 5 {
		return nil, protoerr.NewTrailingDataError("event.upstream_bandwidth", len(payload)-5)
	}
	return &UpstreamBandwidth{
		BytesPerSecond: binary.BigEndian.Uint32(payload[0:4]),
		LimitType:      payload[4],
	}, nil
}

// decodeCommand parses a NOTIFY/INVOKE body by calling the AMF codec
// repeatedly: the first two elements are name (string) and id (number); the
// remainder, until the body is exhausted, form argv.
func decodeCommand(payload []byte, isInvoke bool) (interface{}, error) {
	values, err := amf.DecodeAll(payload)
	if err != nil {
		return nil, protoerr.NewEncodeError("event.command.decode", err)
	}
	if len(values) < 2 {
		return nil, protoerr.NewProtocolViolationError("event.command", fmt.Errorf("expected at least name+id, got %d values", len(values)))
	}
	name, ok := values[0].(string)
	if !ok {
		return nil, protoerr.NewProtocolViolationError("event.command", fmt.Errorf("first element not a string name"))
	}
	id, ok := values[1].(float64)
	if !ok {
		return nil, protoerr.NewProtocolViolationError("event.command", fmt.Errorf("second element not a numeric id"))
	}
	argv := values[2:]
	if isInvoke {
		return &Invoke{Name: name, ID: id, Argv: argv}, nil
	}
	return &Notify{Name: name, ID: id, Argv: argv}, nil
}

// Encode builds a chunk.Message carrying v on the given CSID/streamId with
// the given timestamp. v must be one of the typed values Decode produces.
func Encode(v interface{}, csid uint32, streamID uint32, timestamp uint32) (*chunk.Message, error) {
	var (
		datatype uint8
		payload  []byte
		err      error
	)
	switch e := v.(type) {
	case *FrameSize:
		datatype = DatatypeFrameSize
		payload = make([]byte, 4)
		binary.BigEndian.PutUint32(payload, e.Size)
	case *BytesRead:
		datatype = DatatypeBytesRead
		payload = make([]byte, 4)
		binary.BigEndian.PutUint32(payload, e.Bytes)
	case *ControlEvent:
		datatype = DatatypeControl
		payload = encodeControlEvent(e)
	case *DownstreamBandwidth:
		datatype = DatatypeDownstreamBandwidth
		payload = make([]byte, 4)
		binary.BigEndian.PutUint32(payload, e.BytesPerSecond)
	case *UpstreamBandwidth:
		datatype = DatatypeUpstreamBandwidth
		payload = make([]byte, 5)
		binary.BigEndian.PutUint32(payload[0:4], e.BytesPerSecond)
		payload[4] = e.LimitType
	case *AudioData:
		datatype = DatatypeAudio
		payload = e.Payload
	case *VideoData:
		datatype = DatatypeVideo
		payload = e.Payload
	case *Notify:
		datatype = DatatypeNotify
		payload, err = encodeCommand(e.Name, e.ID, e.Argv)
	case *Invoke:
		datatype = DatatypeInvoke
		payload, err = encodeCommand(e.Name, e.ID, e.Argv)
	default:
		return nil, protoerr.NewEncodeError("event.encode", fmt.Errorf("unsupported event type %T", v))
	}
	if err != nil {
		return nil, err
	}
	return &chunk.Message{
		CSID:            csid,
		Timestamp:       timestamp,
		MessageLength:   uint32(len(payload)),
		TypeID:          datatype,
		MessageStreamID: streamID,
		Payload:         payload,
	}, nil
}

// encodeControlEvent always writes all three values, per the design note
// that encode is strict even though decode is lenient.
func encodeControlEvent(e *ControlEvent) []byte {
	payload := make([]byte, 2+4+4+4)
	binary.BigEndian.PutUint16(payload[0:2], e.Subtype)
	binary.BigEndian.PutUint32(payload[2:6], uint32(e.Value1))
	binary.BigEndian.PutUint32(payload[6:10], uint32(e.Value2))
	binary.BigEndian.PutUint32(payload[10:14], uint32(e.Value3))
	return payload
}

func encodeCommand(name string, id float64, argv []interface{}) ([]byte, error) {
	values := make([]interface{}, 0, 2+len(argv))
	values = append(values, name, id)
	values = append(values, argv...)
	var buf bytes.Buffer
	for i, v := range values {
		if err := amf.EncodeValue(&buf, v); err != nil {
			return nil, protoerr.NewEncodeError("event.command.encode", fmt.Errorf("value %d: %w", i, err))
		}
	}
	return buf.Bytes(), nil
}

// NewPong builds the PONG ControlEvent answering a received PING, carrying
// the same value1 (timestamp) per the design note's echo requirement.
func NewPong(ping *ControlEvent) *ControlEvent {
	return &ControlEvent{Subtype: ControlPong, Value1: ping.Value1, Value2: undefinedValue, Value3: undefinedValue}
}

// NewStreamBegin builds the CONTROL(StreamBegin) event sent before a
// publish's NetStream.Publish.Start status, per the publish protocol.
func NewStreamBegin(streamID uint32) *ControlEvent {
	return &ControlEvent{Subtype: ControlStreamBegin, Value1: int32(streamID), Value2: undefinedValue, Value3: undefinedValue}
}
