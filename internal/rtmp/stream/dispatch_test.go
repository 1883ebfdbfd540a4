package stream

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alxayo/go-rtmp/internal/rtmp/amf"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/event"
)

func encodeInvoke(t *testing.T, name string, id float64, argv ...interface{}) *chunk.Message {
	t.Helper()
	msg, err := event.Encode(&event.Invoke{Name: name, ID: id, Argv: argv}, commandChannel, 1, 0)
	require.NoError(t, err)
	return msg
}

func TestDispatcher_Invoke_RoutesToStreamCommandTable(t *testing.T) {
	d := NewDispatcher(nil, slog.Default())
	cs := d.Table.GetOrCreate(1)

	var gotName string
	cs.On("publish", func(argv []interface{}, id float64) error {
		gotName = "publish"
		return nil
	})

	reply, err := d.Dispatch(encodeInvoke(t, "publish", 0, "alice", "live"))
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.Equal(t, "publish", gotName)
}

func TestDispatcher_Invoke_NoHandler_RepliesNetStreamFailed(t *testing.T) {
	d := NewDispatcher(nil, slog.Default())

	reply, err := d.Dispatch(encodeInvoke(t, "unknownCommand", 3))
	require.NoError(t, err)
	require.NotNil(t, reply)

	vals, err := amf.DecodeAll(reply.Payload)
	require.NoError(t, err)
	require.True(t, len(vals) >= 4)
	assert.Equal(t, "_error", vals[0])
	info, ok := vals[3].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "NetStream.Failed", info["code"])
}

func TestDispatcher_Dispatch_UpdatesStreamTimestamp(t *testing.T) {
	d := NewDispatcher(nil, slog.Default())

	frameSize, err := event.Encode(&event.FrameSize{Size: 8192}, 2, 0, 777)
	require.NoError(t, err)

	var gotSize uint32
	d.OnFrameSize = func(fs *event.FrameSize) { gotSize = fs.Size }

	_, err = d.Dispatch(frameSize)
	require.NoError(t, err)
	assert.Equal(t, uint32(8192), gotSize)
	assert.Equal(t, uint32(777), d.Table.Get(0).Timestamp())
}

func TestDispatcher_AudioVideo_ForwardedWithStreamID(t *testing.T) {
	d := NewDispatcher(nil, slog.Default())
	video, err := event.Encode(&event.VideoData{Payload: []byte{0x27, 0x01, 0, 0, 0}}, 6, 5, 100)
	require.NoError(t, err)

	var gotStreamID uint32
	d.OnVideoData = func(streamID uint32, msg *chunk.Message) { gotStreamID = streamID }

	_, err = d.Dispatch(video)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), gotStreamID)
}
