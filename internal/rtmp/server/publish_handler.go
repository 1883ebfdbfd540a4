package server

// Publish Handler
// ---------------
// Parses the publish command, registers the publisher with the stream
// manager (lookup-or-create, single-publisher enforcement, hook
// authorization), sends the stream-begin control event, and replies with
// onStatus NetStream.Publish.Start. A rejected publish (name collision or
// hook veto) replies with NetStream.Publish.BadName instead.

import (
	"fmt"

	rtmperrors "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/rtmp/amf"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/event"
	"github.com/alxayo/go-rtmp/internal/rtmp/rpc"
	"github.com/alxayo/go-rtmp/internal/rtmp/stream"
)

// sender is the minimal interface required from a connection for this task.
// *conn.Connection satisfies it. We keep it tiny so tests can use a stub.
type sender interface {
	SendMessage(*chunk.Message) error
}

// HandlePublish parses the publish command message, registers the publisher
// with mgr (creating the named stream if necessary) and sends the
// stream-begin control event followed by onStatus NetStream.Publish.Start.
// On name collision or hook rejection it instead sends
// NetStream.Publish.BadName. It returns the final onStatus message (already
// sent) and the resolved stream key, for caller bookkeeping.
func HandlePublish(mgr *stream.Manager, conn sender, app string, msg *chunk.Message) (*chunk.Message, string, error) {
	if mgr == nil || conn == nil || msg == nil {
		return nil, "", rtmperrors.NewProtocolError("publish.handle", fmt.Errorf("nil argument"))
	}

	pcmd, err := rpc.ParsePublishCommand(app, msg)
	if err != nil {
		return nil, "", err
	}

	if _, pubErr := mgr.Publish(pcmd.StreamKey, conn); pubErr != nil {
		badName, buildErr := buildOnStatus(msg.MessageStreamID, pcmd.StreamKey, "NetStream.Publish.BadName", pubErr.Error())
		if buildErr != nil {
			return nil, pcmd.StreamKey, rtmperrors.NewProtocolError("publish.handle.encode", buildErr)
		}
		_ = conn.SendMessage(badName)
		return badName, pcmd.StreamKey, pubErr
	}

	// Stream-begin control event (4.I step 4) precedes the Publish.Start reply.
	streamBegin, err := event.Encode(event.NewStreamBegin(msg.MessageStreamID), 2, msg.MessageStreamID, 0)
	if err == nil {
		_ = conn.SendMessage(streamBegin)
	}

	info := map[string]interface{}{
		"level":       "status",
		"code":        "NetStream.Publish.Start",
		"description": fmt.Sprintf("Publishing %s.", pcmd.StreamKey),
		"details":     pcmd.StreamKey,
	}

	payload, err := amf.EncodeAll(
		"onStatus", // command name
		float64(0), // transaction ID (notification)
		nil,        // command object (null)
		info,       // info object
	)
	if err != nil {
		return nil, pcmd.StreamKey, rtmperrors.NewProtocolError("publish.handle.encode", err)
	}

	onStatus := &chunk.Message{
		CSID:            5, // typical control / onStatus chunk stream id (spec allows 4/5)
		TypeID:          rpc.CommandMessageAMF0TypeID(),
		MessageStreamID: msg.MessageStreamID,
		MessageLength:   uint32(len(payload)),
		Payload:         payload,
	}

	_ = conn.SendMessage(onStatus)
	return onStatus, pcmd.StreamKey, nil
}

// PublisherDisconnected clears the publisher from the named stream (if it
// still matches conn) and fires the application hook's unpublish notice.
func PublisherDisconnected(mgr *stream.Manager, streamKey string, pub sender) {
	if mgr == nil || streamKey == "" || pub == nil {
		return
	}
	mgr.Unpublish(streamKey, pub)
}
