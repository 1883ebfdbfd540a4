// Package stream implements the stream-dispatch layer (component I): the
// named-stream publish/subscribe lifecycle that fans a publisher's
// audio/video out to its subscribers, and the per-connection stream table
// that routes decoded events to the right callback or command handler.
//
// It supersedes the earlier server.Registry/server.Stream prototype: the
// same publisher/subscriber bookkeeping now lives here so it can be shared
// by the publish/play handlers and tested independently of the server
// package's HTTP/TCP plumbing.
package stream

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	protoerr "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/event"
	"github.com/alxayo/go-rtmp/internal/rtmp/media"
)

// Subscriber is the minimal interface a fan-out target must satisfy.
// *conn.Connection satisfies it; tests use lightweight stubs.
type Subscriber interface {
	SendMessage(*chunk.Message) error
}

// TrySender is an optional interface a Subscriber may also implement for a
// non-blocking send; BroadcastMessage prefers it when present so one slow
// subscriber cannot stall fan-out to the others.
type TrySender interface {
	TrySendMessage(*chunk.Message) bool
}

// ApplicationHook is the external collaborator consulted during the publish
// protocol (4.I step 3) and notified on unpublish (step 5).
type ApplicationHook interface {
	AuthorizePublish(key string, pub interface{}) error
	OnUnpublish(key string, pub interface{})
}

// NoopHook authorizes every publish and ignores unpublish notifications. It
// is the default hook when a server is run without one configured.
type NoopHook struct{}

func (NoopHook) AuthorizePublish(string, interface{}) error { return nil }
func (NoopHook) OnUnpublish(string, interface{})            {}

// NamedStream is a stream keyed by "app/name" (the spec's named stream),
// shared across all connections: one publisher, any number of subscribers.
type NamedStream struct {
	Key        string
	Metadata   map[string]interface{}
	StartTime  time.Time
	Recorder   *media.Recorder

	// Cached sequence headers, replayed to subscribers that join after the
	// publisher has already sent them.
	AudioSequenceHeader *chunk.Message
	VideoSequenceHeader *chunk.Message

	mu          sync.RWMutex
	publisher   interface{}
	subscribers []Subscriber
	timestamp   uint32
	audioCodec  string
	videoCodec  string
}

func newNamedStream(key string) *NamedStream {
	return &NamedStream{
		Key:       key,
		StartTime: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
}

// Publisher returns the current publisher, or nil if unpublished.
func (s *NamedStream) Publisher() interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publisher
}

// Timestamp returns the stream's current timestamp (reset to 0 on unpublish).
func (s *NamedStream) Timestamp() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timestamp
}

// SetTimestamp records the timestamp of the most recently forwarded frame.
func (s *NamedStream) SetTimestamp(ts uint32) {
	s.mu.Lock()
	s.timestamp = ts
	s.mu.Unlock()
}

// trySetPublisher installs pub as the publisher iff none is currently set.
func (s *NamedStream) trySetPublisher(pub interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publisher != nil {
		return false
	}
	s.publisher = pub
	return true
}

// clearPublisherIfMatches clears the publisher and resets the stream
// timestamp, but only if pub is still the current publisher (a late
// duplicate disconnect for an already-replaced publisher is a no-op).
func (s *NamedStream) clearPublisherIfMatches(pub interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publisher != pub {
		return false
	}
	s.publisher = nil
	s.timestamp = 0
	return true
}

// AddSubscriber registers sub for fan-out. Registering the same subscriber
// twice fails with AlreadySubscribedError per the 4.I subscriber contract.
func (s *NamedStream) AddSubscriber(sub Subscriber) error {
	if s == nil || sub == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.subscribers {
		if existing == sub {
			return protoerr.NewAlreadySubscribedError(s.Key)
		}
	}
	s.subscribers = append(s.subscribers, sub)
	return nil
}

// RemoveSubscriber unregisters sub, preserving the relative order of the
// remaining subscribers. NotSubscribedError is returned if sub was never
// registered (or was already removed).
func (s *NamedStream) RemoveSubscriber(sub Subscriber) error {
	if s == nil || sub == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.subscribers {
		if existing == sub {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			return nil
		}
	}
	return protoerr.NewNotSubscribedError(s.Key)
}

// SubscriberCount returns a snapshot count of registered subscribers.
func (s *NamedStream) SubscriberCount() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// --- CodecStore, satisfied for media.CodecDetector ---

func (s *NamedStream) SetAudioCodec(codec string) {
	s.mu.Lock()
	s.audioCodec = codec
	s.mu.Unlock()
}

func (s *NamedStream) SetVideoCodec(codec string) {
	s.mu.Lock()
	s.videoCodec = codec
	s.mu.Unlock()
}

func (s *NamedStream) GetAudioCodec() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audioCodec
}

func (s *NamedStream) GetVideoCodec() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.videoCodec
}

func (s *NamedStream) StreamKey() string {
	if s == nil {
		return ""
	}
	return s.Key
}

// SetRecorder installs rec as the stream's active recorder.
func (s *NamedStream) SetRecorder(rec *media.Recorder) {
	s.mu.Lock()
	s.Recorder = rec
	s.mu.Unlock()
}

// CloseRecorder closes and clears the stream's recorder, if any. Safe to
// call on a stream with no active recorder.
func (s *NamedStream) CloseRecorder(log *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Recorder == nil {
		return
	}
	if err := s.Recorder.Close(); err != nil {
		if log != nil {
			log.Error("recorder close error", "error", err, "stream_key", s.Key)
		}
	} else if log != nil {
		log.Info("recorder closed", "stream_key", s.Key)
	}
	s.Recorder = nil
}

// WriteToRecorder forwards msg to the stream's active recorder, if any.
// Safe to call whether or not recording is enabled for this stream.
func (s *NamedStream) WriteToRecorder(msg *chunk.Message) {
	s.mu.RLock()
	rec := s.Recorder
	s.mu.RUnlock()
	if rec != nil {
		rec.WriteMessage(msg)
	}
}

// BroadcastMessage fans a publisher's audio/video message out to every
// current subscriber in insertion order, carrying (bytes, timestamp) per
// 4.I. It performs one-shot codec detection and caches sequence headers for
// late-joining subscribers. Fan-out is best-effort: a subscriber whose send
// fails is logged and skipped, never removed (removal is the subscriber's
// own responsibility on disconnect).
func (s *NamedStream) BroadcastMessage(detector *media.CodecDetector, msg *chunk.Message, log *slog.Logger) {
	if s == nil || msg == nil || log == nil {
		return
	}

	if msg.TypeID == event.DatatypeAudio || msg.TypeID == event.DatatypeVideo {
		if detector == nil {
			detector = &media.CodecDetector{}
		}
		detector.Process(msg.TypeID, msg.Payload, s, log)
	}

	s.cacheSequenceHeader(msg, log)

	s.mu.RLock()
	subs := make([]Subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.RUnlock()

	for _, sub := range subs {
		if sub == nil {
			continue
		}
		relayMsg := cloneMessage(msg)
		if ts, ok := sub.(TrySender); ok {
			if !ts.TrySendMessage(relayMsg) {
				log.Debug("dropped media message (slow subscriber)", "stream_key", s.Key)
			}
			continue
		}
		if err := sub.SendMessage(relayMsg); err != nil {
			log.Debug("subscriber send failed, skipping", "stream_key", s.Key, "error", err)
		}
	}
}

// cacheSequenceHeader stores the AVC/AAC sequence header (if msg is one) so
// HandlePlay can replay it to subscribers that join after the publisher
// already sent it.
func (s *NamedStream) cacheSequenceHeader(msg *chunk.Message, log *slog.Logger) {
	switch {
	case msg.TypeID == event.DatatypeVideo && len(msg.Payload) >= 2 && msg.Payload[1] == 0:
		s.mu.Lock()
		s.VideoSequenceHeader = cloneMessage(msg)
		s.mu.Unlock()
		log.Info("cached video sequence header", "stream_key", s.Key, "size", len(msg.Payload))
	case msg.TypeID == event.DatatypeAudio && len(msg.Payload) >= 2 && (msg.Payload[0]>>4) == 0x0A && msg.Payload[1] == 0:
		s.mu.Lock()
		s.AudioSequenceHeader = cloneMessage(msg)
		s.mu.Unlock()
		log.Info("cached audio sequence header", "stream_key", s.Key, "size", len(msg.Payload))
	}
}

func cloneMessage(msg *chunk.Message) *chunk.Message {
	clone := &chunk.Message{
		CSID:            msg.CSID,
		Timestamp:       msg.Timestamp,
		MessageStreamID: msg.MessageStreamID,
		MessageLength:   msg.MessageLength,
		TypeID:          msg.TypeID,
		Payload:         make([]byte, len(msg.Payload)),
	}
	copy(clone.Payload, msg.Payload)
	return clone
}

// Manager tracks every active NamedStream, keyed by "app/name", and
// implements the publish protocol's lookup/create, collision, and
// authorization steps (4.I steps 2-4).
type Manager struct {
	mu      sync.RWMutex
	streams map[string]*NamedStream
	hook    ApplicationHook
}

// NewManager creates an empty manager. A nil hook defaults to NoopHook.
func NewManager(hook ApplicationHook) *Manager {
	if hook == nil {
		hook = NoopHook{}
	}
	return &Manager{streams: make(map[string]*NamedStream), hook: hook}
}

// GetOrCreate returns the stream for key, creating it if absent. The bool
// reports whether a new stream was created.
func (m *Manager) GetOrCreate(key string) (*NamedStream, bool) {
	if key == "" {
		return nil, false
	}
	m.mu.RLock()
	if s, ok := m.streams[key]; ok {
		m.mu.RUnlock()
		return s, false
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[key]; ok {
		return s, false
	}
	s := newNamedStream(key)
	m.streams[key] = s
	return s, true
}

// Get returns the stream for key, or nil if it doesn't exist.
func (m *Manager) Get(key string) *NamedStream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streams[key]
}

// Delete removes the stream for key and reports whether it existed.
func (m *Manager) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[key]; ok {
		delete(m.streams, key)
		return true
	}
	return false
}

// All returns a snapshot of every currently tracked stream.
func (m *Manager) All() []*NamedStream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*NamedStream, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, s)
	}
	return out
}

// Publish implements the lookup-or-create, collision, and authorization
// steps of the publish protocol (4.I steps 2-3). On success it returns the
// stream with pub installed as its publisher; the caller is responsible for
// sending the stream-begin control event and the Publish.Start status
// (step 4), since those require the connection and the target streamId.
func (m *Manager) Publish(key string, pub interface{}) (*NamedStream, error) {
	s, _ := m.GetOrCreate(key)
	if s == nil {
		return nil, protoerr.NewProtocolError("stream.publish", fmt.Errorf("empty stream key"))
	}
	if !s.trySetPublisher(pub) {
		return nil, protoerr.NewPublishRejectedError(key, "stream already has a publisher")
	}
	if err := m.hook.AuthorizePublish(key, pub); err != nil {
		s.clearPublisherIfMatches(pub)
		return nil, protoerr.NewPublishRejectedError(key, err.Error())
	}
	return s, nil
}

// Unpublish implements step 5 of the publish protocol: clear the publisher
// (only if pub is still the registered one), reset the stream's timestamp,
// and notify the application hook. It reports whether pub was actually the
// publisher being cleared.
func (m *Manager) Unpublish(key string, pub interface{}) bool {
	s := m.Get(key)
	if s == nil {
		return false
	}
	if !s.clearPublisherIfMatches(pub) {
		return false
	}
	m.hook.OnUnpublish(key, pub)
	return true
}
