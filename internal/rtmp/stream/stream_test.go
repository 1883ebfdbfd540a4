package stream

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	protoerr "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/event"
)

type stubSubscriber struct {
	sent []*chunk.Message
	err  error
}

func (s *stubSubscriber) SendMessage(msg *chunk.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func TestNamedStream_AddSubscriber_RejectsDuplicate(t *testing.T) {
	s := newNamedStream("live/alice")
	sub := &stubSubscriber{}

	require.NoError(t, s.AddSubscriber(sub))

	err := s.AddSubscriber(sub)
	var already *protoerr.AlreadySubscribedError
	assert.ErrorAs(t, err, &already)
}

func TestNamedStream_RemoveSubscriber_NotSubscribed(t *testing.T) {
	s := newNamedStream("live/alice")
	sub := &stubSubscriber{}

	err := s.RemoveSubscriber(sub)
	var notSub *protoerr.NotSubscribedError
	assert.ErrorAs(t, err, &notSub)
}

func TestNamedStream_RemoveSubscriber_PreservesOrder(t *testing.T) {
	s := newNamedStream("live/alice")
	a, b, c := &stubSubscriber{}, &stubSubscriber{}, &stubSubscriber{}
	require.NoError(t, s.AddSubscriber(a))
	require.NoError(t, s.AddSubscriber(b))
	require.NoError(t, s.AddSubscriber(c))

	require.NoError(t, s.RemoveSubscriber(b))
	require.Equal(t, 2, s.SubscriberCount())

	log := slog.Default()
	msg := &chunk.Message{TypeID: event.DatatypeVideo, Payload: []byte{0x17, 0x01, 0, 0, 0}}
	s.BroadcastMessage(nil, msg, log)

	require.Len(t, a.sent, 1)
	require.Len(t, c.sent, 1)
	require.Len(t, b.sent, 0)
}

func TestNamedStream_BroadcastMessage_SkipsFailingSubscriber(t *testing.T) {
	s := newNamedStream("live/alice")
	good := &stubSubscriber{}
	bad := &stubSubscriber{err: errors.New("boom")}
	require.NoError(t, s.AddSubscriber(bad))
	require.NoError(t, s.AddSubscriber(good))

	msg := &chunk.Message{TypeID: event.DatatypeAudio, Payload: []byte{0xAF, 0x01, 0xDE, 0xAD}}
	s.BroadcastMessage(nil, msg, slog.Default())

	assert.Len(t, good.sent, 1)
	assert.Equal(t, 2, s.SubscriberCount(), "a failing send must not remove the subscriber")
}

func TestNamedStream_CachesSequenceHeaders(t *testing.T) {
	s := newNamedStream("live/alice")
	video := &chunk.Message{TypeID: event.DatatypeVideo, Payload: []byte{0x17, 0x00, 0, 0, 0, 0x01, 0x02}}
	s.BroadcastMessage(nil, video, slog.Default())
	require.NotNil(t, s.VideoSequenceHeader)
	assert.Equal(t, video.Payload, s.VideoSequenceHeader.Payload)

	audio := &chunk.Message{TypeID: event.DatatypeAudio, Payload: []byte{0xAF, 0x00, 0x12, 0x34}}
	s.BroadcastMessage(nil, audio, slog.Default())
	require.NotNil(t, s.AudioSequenceHeader)
	assert.Equal(t, audio.Payload, s.AudioSequenceHeader.Payload)
}

func TestManager_Publish_RejectsSecondPublisher(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Publish("live/alice", "pub1")
	require.NoError(t, err)

	_, err = m.Publish("live/alice", "pub2")
	var rejected *protoerr.PublishRejectedError
	assert.ErrorAs(t, err, &rejected)
}

type rejectingHook struct{ reason string }

func (h rejectingHook) AuthorizePublish(string, interface{}) error { return errors.New(h.reason) }
func (h rejectingHook) OnUnpublish(string, interface{})            {}

func TestManager_Publish_HookRejection_FreesPublisherSlot(t *testing.T) {
	m := NewManager(rejectingHook{reason: "banned"})
	_, err := m.Publish("live/alice", "pub1")
	var rejected *protoerr.PublishRejectedError
	assert.ErrorAs(t, err, &rejected)

	s := m.Get("live/alice")
	require.NotNil(t, s)
	assert.Nil(t, s.Publisher(), "a rejected publisher must not be left installed")
}

func TestManager_Unpublish_ResetsTimestamp(t *testing.T) {
	m := NewManager(nil)
	s, err := m.Publish("live/alice", "pub1")
	require.NoError(t, err)
	s.SetTimestamp(4200)

	ok := m.Unpublish("live/alice", "pub1")
	assert.True(t, ok)
	assert.Equal(t, uint32(0), s.Timestamp())
	assert.Nil(t, s.Publisher())
}

func TestManager_Unpublish_IgnoresStalePublisher(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Publish("live/alice", "pub1")
	require.NoError(t, err)

	ok := m.Unpublish("live/alice", "pub-not-current")
	assert.False(t, ok)
}
