package server

// Command Integration
// --------------------
// This file bridges the lower-level connection (handshake + control +
// chunking read/write loops) with the RPC command parsing/handlers and the
// stream-dispatch layer so that real RTMP clients (OBS / ffmpeg) can
// complete the connect -> createStream -> publish/play sequence, have their
// media relayed to subscribers and destinations, and trigger the
// application hooks.

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	iconn "github.com/alxayo/go-rtmp/internal/rtmp/conn"
	"github.com/alxayo/go-rtmp/internal/rtmp/control"
	"github.com/alxayo/go-rtmp/internal/rtmp/media"
	"github.com/alxayo/go-rtmp/internal/rtmp/relay"
	"github.com/alxayo/go-rtmp/internal/rtmp/rpc"
	"github.com/alxayo/go-rtmp/internal/rtmp/server/hooks"
	"github.com/alxayo/go-rtmp/internal/rtmp/stream"
)

// commandState holds mutable per-connection fields needed by handlers.
type commandState struct {
	app           string
	streamKey     string // current publishing or subscribed stream key
	publishing    bool   // true once this connection's publish succeeded
	allocator     *rpc.StreamIDAllocator
	mediaLogger   *MediaLogger
	codecDetector *media.CodecDetector
}

// attachCommandHandling installs a dispatcher-backed message handler on the
// provided connection. Safe to call immediately after Accept returns.
func attachCommandHandling(c *iconn.Connection, mgr *stream.Manager, cfg *Config, log *slog.Logger, destMgr *relay.DestinationManager, srv *Server) {
	if c == nil || mgr == nil || cfg == nil {
		return
	}
	st := &commandState{
		allocator:     rpc.NewStreamIDAllocator(),
		mediaLogger:   NewMediaLogger(c.ID(), log, 30*time.Second),
		codecDetector: &media.CodecDetector{},
	}

	triggerHook := func(eventType hooks.EventType, streamKey string, data map[string]interface{}) {
		if srv == nil {
			return
		}
		srv.triggerHookEvent(eventType, c.ID(), streamKey, data)
	}

	// currentMsg holds the raw chunk message currently being routed through
	// sd.Dispatch. CommandHandler only carries (argv, id), so the connect/
	// createStream/publish/play handlers close over this to reach the
	// rpc.Parse*/Build* helpers, which need the original message.
	var currentMsg *chunk.Message

	sd := stream.NewDispatcher(stream.NewTable(), log)

	control0 := sd.Table.GetOrCreate(0)

	control0.On("connect", func(argv []interface{}, id float64) error {
		cc, err := rpc.ParseConnectCommand(currentMsg)
		if err != nil {
			log.Error("connect parse failed", "error", err)
			return nil
		}
		log.Debug("OnConnect handler invoked", "app", cc.App, "tcUrl", cc.TcURL, "txn_id", cc.TransactionID)
		st.app = cc.App
		resp, err := rpc.BuildConnectResponse(cc.TransactionID, "Connection succeeded.")
		if err != nil {
			log.Error("connect response build failed", "error", err)
			return nil // swallow errors to keep connection alive for now
		}
		if err := c.SendMessage(resp); err != nil {
			log.Error("connect response send failed", "error", err)
		} else {
			log.Info("connect response sent successfully", "app", cc.App)
		}
		triggerHook(hooks.EventConnectionAccept, "", map[string]interface{}{"app": cc.App})
		return nil
	})

	control0.On("createStream", func(argv []interface{}, id float64) error {
		cs, err := rpc.ParseCreateStreamCommand(currentMsg)
		if err != nil {
			log.Error("createStream parse failed", "error", err)
			return nil
		}
		log.Debug("OnCreateStream handler invoked", "txn_id", cs.TransactionID)
		resp, streamID, err := rpc.BuildCreateStreamResponse(cs.TransactionID, st.allocator)
		if err != nil {
			log.Error("createStream response build failed", "error", err)
			return nil
		}
		if err := c.SendMessage(resp); err != nil {
			log.Error("createStream response send failed", "error", err)
		} else {
			log.Info("createStream response sent successfully", "stream_id", streamID, "txn_id", cs.TransactionID)
		}

		streamBegin := control.EncodeUserControlStreamBegin(streamID)
		if err := c.SendMessage(streamBegin); err != nil {
			log.Error("StreamBegin send failed", "error", err, "stream_id", streamID)
		} else {
			log.Info("StreamBegin sent", "stream_id", streamID)
		}

		// The allocated stream id is only known now, so publish/play are
		// registered on it here rather than up front.
		mediaCS := sd.Table.GetOrCreate(streamID)

		mediaCS.On("publish", func(argv []interface{}, id float64) error {
			_, streamKey, err := HandlePublish(mgr, c, st.app, currentMsg)
			if err != nil {
				log.Error("publish handle", "error", err)
				return nil
			}
			st.streamKey = streamKey
			st.publishing = true
			triggerHook(hooks.EventPublishStart, streamKey, nil)

			if cfg.RecordAll {
				if named := mgr.Get(streamKey); named != nil {
					if err := initRecorder(named, cfg.RecordDir, log); err != nil {
						log.Error("failed to create recorder", "error", err, "stream_key", streamKey)
					} else {
						log.Info("recording started", "stream_key", streamKey, "record_dir", cfg.RecordDir)
					}
				}
			}
			return nil
		})

		mediaCS.On("play", func(argv []interface{}, id float64) error {
			_, streamKey, err := HandlePlay(mgr, c, st.app, currentMsg)
			if err != nil {
				log.Error("play handle", "error", err)
				return nil
			}
			st.streamKey = streamKey
			triggerHook(hooks.EventPlayStart, streamKey, nil)
			return nil
		})

		return nil
	})

	sd.OnAudioData = func(streamID uint32, msg *chunk.Message) {
		st.mediaLogger.ProcessMessage(msg)

		if st.streamKey != "" {
			if named := mgr.Get(st.streamKey); named != nil {
				named.WriteToRecorder(msg)
				named.BroadcastMessage(st.codecDetector, msg, log)
			}
		}

		if destMgr != nil {
			destMgr.RelayMessage(msg)
		}
	}
	sd.OnVideoData = sd.OnAudioData

	c.SetMessageHandler(func(m *chunk.Message) {
		if m == nil {
			return
		}

		log.Debug("message handler invoked", "type_id", m.TypeID, "msid", m.MessageStreamID, "len", len(m.Payload))

		currentMsg = m
		reply, err := sd.Dispatch(m)
		if err != nil {
			log.Error("dispatch error", "error", err)
			return
		}
		if reply != nil {
			if err := c.SendMessage(reply); err != nil {
				log.Error("dispatch reply send failed", "error", err)
			}
		}
	})

	c.SetCloseHandler(func() {
		if st.streamKey == "" {
			return
		}
		if st.publishing {
			// PublisherDisconnected -> mgr.Unpublish fires EventPublishStop via
			// the stream.ApplicationHook adapter; no separate trigger needed here.
			PublisherDisconnected(mgr, st.streamKey, c)
			cleanupRecorder(mgr, st.streamKey, log)
		} else {
			SubscriberDisconnected(mgr, st.streamKey, c)
			triggerHook(hooks.EventPlayStop, st.streamKey, nil)
		}
	})
}

// initRecorder creates and installs a recorder for the given named stream.
// It generates a timestamped filename based on the stream key.
func initRecorder(named *stream.NamedStream, recordDir string, log *slog.Logger) error {
	if named == nil {
		return fmt.Errorf("nil stream")
	}

	if err := os.MkdirAll(recordDir, 0755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}

	safeKey := strings.ReplaceAll(named.StreamKey(), "/", "_")
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s.flv", safeKey, timestamp)
	path := filepath.Join(recordDir, filename)

	recorder, err := media.NewRecorder(path, log)
	if err != nil {
		return fmt.Errorf("create recorder: %w", err)
	}

	named.SetRecorder(recorder)
	log.Info("recorder initialized", "stream_key", named.StreamKey(), "file", path)
	return nil
}

// cleanupRecorder closes and removes the recorder for the given stream key.
func cleanupRecorder(mgr *stream.Manager, streamKey string, log *slog.Logger) {
	if mgr == nil || streamKey == "" {
		return
	}
	named := mgr.Get(streamKey)
	if named == nil {
		return
	}
	named.CloseRecorder(log)
}
