package chunk

import (
	"bytes"
	"testing"
)

func TestEncoder_SingleMessageRoundTrip(t *testing.T) {
	enc := NewEncoder(nil, 128)
	payload := bytes.Repeat([]byte{0xAA}, 20)
	msg := &Message{CSID: 4, Timestamp: 1000, TypeID: 8, MessageStreamID: 1, Payload: payload}
	if err := enc.Enqueue(msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var out bytes.Buffer
	sent, err := enc.Tick(&out)
	if err != nil || !sent {
		t.Fatalf("tick: sent=%v err=%v", sent, err)
	}

	var got *Message
	d := NewDecoder(128, func(m *Message) { got = m })
	if err := d.Feed(out.Bytes()); err != nil {
		t.Fatalf("reader: %v", err)
	}
	if got == nil {
		t.Fatalf("reader: no message decoded")
	}
	if !bytes.Equal(got.Payload, payload) || got.TypeID != 8 {
		t.Fatalf("round-trip mismatch: %#v", got)
	}
}

func TestEncoder_MultiChunkMessage(t *testing.T) {
	enc := NewEncoder(nil, 128)
	payload := bytes.Repeat([]byte{0xBB}, 300)
	msg := &Message{CSID: 6, Timestamp: 2000, TypeID: 9, MessageStreamID: 1, Payload: payload}
	if err := enc.Enqueue(msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var out bytes.Buffer
	for enc.Pending() {
		sent, err := enc.Tick(&out)
		if err != nil {
			t.Fatalf("tick: %v", err)
		}
		if !sent {
			break
		}
	}

	var got *Message
	d := NewDecoder(128, func(m *Message) { got = m })
	if err := d.Feed(out.Bytes()); err != nil {
		t.Fatalf("reader: %v", err)
	}
	if got == nil {
		t.Fatalf("reader: no message decoded")
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("payload mismatch after multi-chunk reassembly")
	}
}

// TestEncoder_InterleavesActiveChannels reproduces the boundary scenario
// where two channels with messages enqueued simultaneously must each get
// exactly one frame per Tick under round-robin scheduling, instead of one
// message draining to completion before the other starts.
func TestEncoder_InterleavesActiveChannels(t *testing.T) {
	enc := NewEncoder(NewRoundRobinScheduler(), 16)

	audio := bytes.Repeat([]byte{0x01}, 40) // 3 chunks @16
	video := bytes.Repeat([]byte{0x02}, 40) // 3 chunks @16

	if err := enc.Enqueue(&Message{CSID: 4, Timestamp: 0, TypeID: 8, MessageStreamID: 1, Payload: audio}); err != nil {
		t.Fatalf("enqueue audio: %v", err)
	}
	if err := enc.Enqueue(&Message{CSID: 6, Timestamp: 0, TypeID: 9, MessageStreamID: 1, Payload: video}); err != nil {
		t.Fatalf("enqueue video: %v", err)
	}

	var frames [][]byte
	for enc.Pending() {
		var out bytes.Buffer
		sent, err := enc.Tick(&out)
		if err != nil {
			t.Fatalf("tick: %v", err)
		}
		if !sent {
			break
		}
		frames = append(frames, out.Bytes())
	}

	if len(frames) != 6 {
		t.Fatalf("expected 6 frames (3 per channel), got %d", len(frames))
	}

	// basic header's low 6 bits carry CSID for fmt values < 64; frame[0] low
	// bits distinguish channel 4 from channel 6 regardless of FMT.
	csidOf := func(b byte) uint32 { return uint32(b & 0x3F) }
	wantOrder := []uint32{4, 6, 4, 6, 4, 6}
	for i, f := range frames {
		if got := csidOf(f[0]); got != wantOrder[i] {
			t.Fatalf("frame %d: expected csid %d got %d", i, wantOrder[i], got)
		}
	}
}

func TestEncoder_EnqueueNilMessage(t *testing.T) {
	enc := NewEncoder(nil, 128)
	if err := enc.Enqueue(nil); err == nil {
		t.Fatalf("expected error enqueuing nil message")
	}
}

func TestEncoder_TickWithNothingPending(t *testing.T) {
	enc := NewEncoder(nil, 128)
	var out bytes.Buffer
	sent, err := enc.Tick(&out)
	if err != nil || sent {
		t.Fatalf("expected no-op tick on empty encoder: sent=%v err=%v", sent, err)
	}
}
