package server

// Play Handler
// ------------
// Subscribes a client connection to an existing published named stream.
// Sends (in order): onStatus NetStream.Play.StreamNotFound (if no active
// publisher) OR User Control Stream Begin + onStatus NetStream.Play.Start,
// followed by any cached sequence headers so a late-joining subscriber gets
// codec initialization before media frames.

import (
	"fmt"

	rtmperrors "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/logger"
	"github.com/alxayo/go-rtmp/internal/rtmp/amf"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/control"
	"github.com/alxayo/go-rtmp/internal/rtmp/rpc"
	"github.com/alxayo/go-rtmp/internal/rtmp/stream"
)

// HandlePlay parses the incoming play command (msg) and attempts to subscribe
// the connection to the target named stream. Only the final onStatus
// (either StreamNotFound or Play.Start) is returned, along with the resolved
// stream key for caller bookkeeping.
func HandlePlay(mgr *stream.Manager, conn sender, app string, msg *chunk.Message) (*chunk.Message, string, error) {
	if mgr == nil || conn == nil || msg == nil {
		return nil, "", rtmperrors.NewProtocolError("play.handle", fmt.Errorf("nil argument"))
	}

	pcmd, err := rpc.ParsePlayCommand(msg, app)
	if err != nil {
		return nil, "", err
	}

	log := logger.Logger().With("component", "rtmp_server")
	log.Info("play command", "stream_key", pcmd.StreamKey)

	st := mgr.Get(pcmd.StreamKey)
	if st == nil || st.Publisher() == nil {
		log.Warn("play command failed - stream not found or no publisher", "stream_key", pcmd.StreamKey)
		notFound, _ := buildOnStatus(msg.MessageStreamID, pcmd.StreamKey, "NetStream.Play.StreamNotFound", fmt.Sprintf("Stream %s not found.", pcmd.StreamKey))
		_ = conn.SendMessage(notFound)
		return notFound, pcmd.StreamKey, nil
	}

	if err := st.AddSubscriber(conn); err != nil {
		log.Warn("play command failed - subscriber rejected", "stream_key", pcmd.StreamKey, "error", err)
		rejected, _ := buildOnStatus(msg.MessageStreamID, pcmd.StreamKey, "NetStream.Play.Failed", err.Error())
		_ = conn.SendMessage(rejected)
		return rejected, pcmd.StreamKey, nil
	}
	log.Info("Subscriber added", "stream_key", pcmd.StreamKey, "total_subscribers", st.SubscriberCount())

	// 1. User Control Stream Begin (event 0) with the play command's message stream id.
	uc := control.EncodeUserControlStreamBegin(msg.MessageStreamID)
	_ = conn.SendMessage(uc)

	// 2. onStatus NetStream.Play.Start
	started, err := buildOnStatus(msg.MessageStreamID, pcmd.StreamKey, "NetStream.Play.Start", fmt.Sprintf("Started playing %s.", pcmd.StreamKey))
	if err != nil {
		return nil, pcmd.StreamKey, rtmperrors.NewProtocolError("play.handle.encode", err)
	}
	_ = conn.SendMessage(started)

	// 3. Send cached sequence headers to late-joining subscriber (CRITICAL for relay).
	// This ensures the subscriber receives codec initialization (SPS/PPS for H.264,
	// AudioSpecificConfig for AAC) before receiving media frames.
	audioSeqHdr := st.AudioSequenceHeader
	videoSeqHdr := st.VideoSequenceHeader

	if audioSeqHdr != nil {
		audioMsg := &chunk.Message{
			CSID:            audioSeqHdr.CSID,
			TypeID:          audioSeqHdr.TypeID,
			Timestamp:       0, // Sequence headers always use timestamp 0
			MessageStreamID: msg.MessageStreamID,
			MessageLength:   audioSeqHdr.MessageLength,
			Payload:         make([]byte, len(audioSeqHdr.Payload)),
		}
		copy(audioMsg.Payload, audioSeqHdr.Payload)
		_ = conn.SendMessage(audioMsg)
		log.Info("Sent cached audio sequence header to subscriber", "stream_key", pcmd.StreamKey, "size", len(audioMsg.Payload))
	}

	if videoSeqHdr != nil {
		videoMsg := &chunk.Message{
			CSID:            videoSeqHdr.CSID,
			TypeID:          videoSeqHdr.TypeID,
			Timestamp:       0, // Sequence headers always use timestamp 0
			MessageStreamID: msg.MessageStreamID,
			MessageLength:   videoSeqHdr.MessageLength,
			Payload:         make([]byte, len(videoSeqHdr.Payload)),
		}
		copy(videoMsg.Payload, videoSeqHdr.Payload)
		_ = conn.SendMessage(videoMsg)
		log.Info("Sent cached video sequence header to subscriber", "stream_key", pcmd.StreamKey, "size", len(videoMsg.Payload))
	}

	return started, pcmd.StreamKey, nil
}

// buildOnStatus creates an AMF0 onStatus message consistent with the pattern used
// in publish_handler.go (we replicate instead of factoring early to keep task scope small).
func buildOnStatus(streamID uint32, streamKey, code, description string) (*chunk.Message, error) {
	info := map[string]interface{}{
		"level":       "status",
		"code":        code,
		"description": description,
		"details":     streamKey,
	}
	payload, err := amf.EncodeAll("onStatus", float64(0), nil, info)
	if err != nil {
		return nil, err
	}
	return &chunk.Message{
		CSID:            5,
		TypeID:          rpc.CommandMessageAMF0TypeID(),
		MessageStreamID: streamID,
		MessageLength:   uint32(len(payload)),
		Payload:         payload,
	}, nil
}

// SubscriberDisconnected removes the subscriber from the named stream's list
// (if present). NotSubscribedError is expected and ignored if the subscriber
// had already been removed (or never subscribed).
func SubscriberDisconnected(mgr *stream.Manager, streamKey string, sub sender) {
	if mgr == nil || streamKey == "" || sub == nil {
		return
	}
	st := mgr.Get(streamKey)
	if st == nil {
		return
	}
	_ = st.RemoveSubscriber(sub)
}
