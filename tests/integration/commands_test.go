package integration

import (
	"testing"

	"github.com/alxayo/go-rtmp/internal/rtmp/amf"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/rpc"
)

// TestCommandsFlow exercises the full connect -> createStream -> publish ->
// play command sequence through the real rpc parsers and response builders,
// the way a server's command dispatcher drives them one after another.
func TestCommandsFlow(t *testing.T) {
	const app = "live"

	// 1. connect
	connectPayload, err := amf.EncodeAll("connect", 1.0, map[string]interface{}{
		"app":            app,
		"flashVer":       "FMLE/3.0",
		"tcUrl":          "rtmp://localhost/" + app,
		"objectEncoding": 0.0,
	})
	if err != nil {
		t.Fatalf("encode connect: %v", err)
	}
	cc, err := rpc.ParseConnectCommand(&chunk.Message{TypeID: rpc.CommandMessageAMF0TypeID(), Payload: connectPayload})
	if err != nil {
		t.Fatalf("parse connect: %v", err)
	}
	if cc.App != app {
		t.Fatalf("expected app %q, got %q", app, cc.App)
	}

	connectResp, err := rpc.BuildConnectResponse(cc.TransactionID, "Connection succeeded.")
	if err != nil {
		t.Fatalf("build connect response: %v", err)
	}
	respVals, err := amf.DecodeAll(connectResp.Payload)
	if err != nil {
		t.Fatalf("decode connect response: %v", err)
	}
	if respVals[0] != "_result" {
		t.Fatalf("expected _result, got %v", respVals[0])
	}
	info, ok := respVals[3].(map[string]interface{})
	if !ok || info["code"] != "NetConnection.Connect.Success" {
		t.Fatalf("unexpected connect response info: %v", respVals[3])
	}

	// 2. createStream
	createPayload, err := amf.EncodeAll("createStream", 2.0, nil)
	if err != nil {
		t.Fatalf("encode createStream: %v", err)
	}
	cs, err := rpc.ParseCreateStreamCommand(&chunk.Message{TypeID: rpc.CommandMessageAMF0TypeID(), Payload: createPayload})
	if err != nil {
		t.Fatalf("parse createStream: %v", err)
	}

	allocator := rpc.NewStreamIDAllocator()
	createResp, streamID, err := rpc.BuildCreateStreamResponse(cs.TransactionID, allocator)
	if err != nil {
		t.Fatalf("build createStream response: %v", err)
	}
	if streamID != 1 {
		t.Fatalf("expected first allocated stream ID 1, got %d", streamID)
	}
	createRespVals, err := amf.DecodeAll(createResp.Payload)
	if err != nil {
		t.Fatalf("decode createStream response: %v", err)
	}
	if createRespVals[3] != float64(1) {
		t.Fatalf("expected stream id 1 in response, got %v", createRespVals[3])
	}

	// 3. publish
	publishPayload, err := amf.EncodeAll("publish", 0.0, nil, "streamKey", "live")
	if err != nil {
		t.Fatalf("encode publish: %v", err)
	}
	pub, err := rpc.ParsePublishCommand(app, &chunk.Message{TypeID: rpc.CommandMessageAMF0TypeID(), Payload: publishPayload, MessageStreamID: streamID})
	if err != nil {
		t.Fatalf("parse publish: %v", err)
	}
	if pub.StreamKey != app+"/streamKey" {
		t.Fatalf("unexpected publish stream key: %q", pub.StreamKey)
	}

	// 4. play (on a second, independent connection against the same key)
	playPayload, err := amf.EncodeAll("play", 0.0, nil, "streamKey", -2.0, -1.0, true)
	if err != nil {
		t.Fatalf("encode play: %v", err)
	}
	play, err := rpc.ParsePlayCommand(&chunk.Message{TypeID: rpc.CommandMessageAMF0TypeID(), Payload: playPayload, MessageStreamID: streamID}, app)
	if err != nil {
		t.Fatalf("parse play: %v", err)
	}
	if play.StreamKey != pub.StreamKey {
		t.Fatalf("play stream key %q does not match publish stream key %q", play.StreamKey, pub.StreamKey)
	}
	if play.Start != -2 {
		t.Fatalf("expected start=-2 (live), got %d", play.Start)
	}
}
