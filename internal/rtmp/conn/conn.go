package conn

// Package conn provides the TCP connection lifecycle: accepting a socket,
// running the handshake, driving the chunk Decoder/Encoder pump, and
// exposing the reassembled message stream to the command/stream layers
// above it.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alxayo/go-rtmp/internal/logger"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/handshake"
)

// Connection represents an accepted RTMP connection that has completed the
// handshake and is ready for chunk layer processing.
type Connection struct {
	// Immutable / identity
	id                string
	netConn           net.Conn
	remoteAddr        net.Addr
	acceptedAt        time.Time
	handshakeDuration time.Duration
	log               *slog.Logger

	// Context & lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Protocol state
	readChunkSize  uint32
	writeChunkSize uint32
	windowAckSize  uint32
	outboundQueue  chan *chunk.Message
	session        *Session

	scheduler chunk.Scheduler

	// Internal helpers
	onMessage func(*chunk.Message) // test hook / dispatcher injection
	onClose   func()               // invoked once when the read loop exits
	closeOnce sync.Once
}

// ID returns the logical connection id.
func (c *Connection) ID() string { return c.id }

// NetConn exposes the underlying net.Conn (read-only usage expected by higher layers).
func (c *Connection) NetConn() net.Conn { return c.netConn }

// HandshakeDuration returns how long the RTMP handshake took.
func (c *Connection) HandshakeDuration() time.Duration { return c.handshakeDuration }

// Close closes the underlying connection.
func (c *Connection) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	// Closing the underlying net.Conn will unblock reader/writer.
	_ = c.netConn.Close()
	// Wait for goroutines (bounded: they exit on ctx cancellation).
	c.wg.Wait()
	return nil
}

// SetMessageHandler installs a callback invoked by the readLoop for every
// fully reassembled RTMP message. MUST be called before Start().
func (c *Connection) SetMessageHandler(fn func(*chunk.Message)) { c.onMessage = fn }

// SetCloseHandler installs a callback invoked exactly once when the read
// loop exits (peer disconnect, read error, or explicit Close). Used by
// callers to release publish/subscribe state tied to this connection.
func (c *Connection) SetCloseHandler(fn func()) { c.onClose = fn }

func (c *Connection) fireClose() {
	c.closeOnce.Do(func() {
		if c.onClose != nil {
			c.onClose()
		}
	})
}

// Start begins the readLoop. MUST be called after SetMessageHandler() to avoid race condition.
func (c *Connection) Start() {
	c.startReadLoop()
}

// SendMessage enqueues a message for outbound transmission (chunked by writeLoop).
// It enforces a small timeout to provide backpressure behavior.
func (c *Connection) SendMessage(msg *chunk.Message) error {
	if c == nil || c.outboundQueue == nil {
		return errors.New("connection not initialized")
	}
	if msg == nil {
		return errors.New("nil message")
	}
	// Derive short timeout context.
	deadline := time.NewTimer(200 * time.Millisecond)
	defer deadline.Stop()
	select {
	case <-c.ctx.Done():
		return context.Canceled
	case c.outboundQueue <- msg:
		return nil
	case <-deadline.C:
		return fmt.Errorf("send queue full (len=%d)", len(c.outboundQueue))
	}
}

// startReadLoop begins the dechunk → dispatch loop. It drives a chunk.Decoder
// cooperatively: each netConn.Read hands the Decoder whatever bytes the
// kernel currently has buffered, the Decoder reassembles as many complete
// messages as that allows and yields the instant it runs short, and the loop
// goes back to Read for more. The blocking call here is the socket read
// itself, not the codec — the Decoder never blocks.
func (c *Connection) startReadLoop() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.fireClose()
		dec := chunk.NewDecoder(c.readChunkSize, func(msg *chunk.Message) {
			c.log.Debug("readLoop received message", "type_id", msg.TypeID, "msid", msg.MessageStreamID, "len", len(msg.Payload))
			if c.onMessage != nil {
				c.onMessage(msg)
			}
		})
		c.log.Debug("readLoop started", "initial_chunk_size", c.readChunkSize)
		buf := make([]byte, 4096)
		for {
			select {
			case <-c.ctx.Done():
				c.log.Debug("readLoop context cancelled")
				return
			default:
			}
			n, err := c.netConn.Read(buf)
			if n > 0 {
				if ferr := dec.Feed(buf[:n]); ferr != nil {
					c.log.Error("readLoop decode failed", "error", ferr)
					return
				}
			}
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
					return
				}
				// Distinguish expected termination (EOF) vs unexpected errors.
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					c.log.Debug("readLoop closed", "error", err)
				} else {
					c.log.Error("readLoop error", "error", err)
				}
				return
			}
		}
	}()
}

// startWriteLoop consumes outboundQueue and feeds it through a chunk.Encoder,
// interleaving whatever channels have pending data rather than fragmenting
// one message to completion before the next gets a turn. Messages arriving
// on outboundQueue while a drain is underway are folded in between ticks so
// round-robin scheduling actually sees them.
func (c *Connection) startWriteLoop() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		enc := chunk.NewEncoder(c.scheduler, c.writeChunkSize)
		c.log.Debug("writeLoop started", "write_chunk_size", c.writeChunkSize)
		for {
			select {
			case <-c.ctx.Done():
				c.log.Debug("writeLoop context cancelled")
				return
			case msg, ok := <-c.outboundQueue:
				if !ok {
					c.log.Debug("writeLoop queue closed")
					return
				}
				enc.SetFrameSize(c.writeChunkSize)
				if err := enc.Enqueue(msg); err != nil {
					c.log.Error("writeLoop enqueue failed", "error", err)
					continue
				}
				c.log.Debug("writeLoop queued message", "type_id", msg.TypeID, "csid", msg.CSID, "msid", msg.MessageStreamID, "len", len(msg.Payload))
			}

		drain:
			for enc.Pending() {
				sent, err := enc.Tick(c.netConn)
				if err != nil {
					c.log.Error("writeLoop tick failed", "error", err)
					return
				}
				if !sent {
					break
				}
				select {
				case msg, ok := <-c.outboundQueue:
					if !ok {
						break drain
					}
					enc.SetFrameSize(c.writeChunkSize)
					if err := enc.Enqueue(msg); err != nil {
						c.log.Error("writeLoop enqueue failed", "error", err)
					}
				default:
				}
			}
		}
	}()
}

// nextID generates an opaque, globally unique connection identifier. A
// random UUID (rather than a process-local counter) keeps connection IDs
// stable and non-colliding across restarts and, eventually, across the
// multiple server processes a relay deployment may run.
func nextID() string { return "c-" + uuid.NewString() }

// Accept performs a blocking Accept() on the provided listener, runs the
// server-side RTMP handshake, and returns a *Connection on success. On
// handshake failure the underlying net.Conn is closed and the error returned.
//
// This function is intentionally synchronous; a typical server will wrap it
// inside an accept loop and launch a goroutine per successful connection.
func Accept(l net.Listener) (*Connection, error) {
	if l == nil {
		return nil, fmt.Errorf("nil listener")
	}
	raw, err := l.Accept()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := handshake.ServerHandshake(raw); err != nil {
		// Handshake failure: ensure connection is closed and log context.
		_ = raw.Close()
		logger.Logger().Error("Handshake failed", "error", err, "remote", raw.RemoteAddr().String())
		return nil, err
	}
	dur := time.Since(start)

	id := nextID()
	lgr := logger.WithConn(logger.Logger(), id, raw.RemoteAddr().String())
	lgr.Info("Connection accepted", "handshake_ms", dur.Milliseconds())

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:                id,
		netConn:           raw,
		remoteAddr:        raw.RemoteAddr(),
		acceptedAt:        start,
		handshakeDuration: dur,
		log:               lgr,
		ctx:               ctx,
		cancel:            cancel,
		readChunkSize:     128,
		writeChunkSize:    128,
		windowAckSize:     windowAckSizeValue, // align with control burst constants
		scheduler:         chunk.NewRoundRobinScheduler(),
		outboundQueue:     make(chan *chunk.Message, 100),
	}

	// Start write loop first so control burst can be queued
	c.startWriteLoop()

	// Send control burst synchronously BEFORE starting read loop
	// This ensures the client receives the burst before we process any client messages
	if err := sendInitialControlBurst(c); err != nil {
		c.log.Error("Control burst failed", "error", err)
		_ = c.Close()
		return nil, fmt.Errorf("control burst: %w", err)
	}

	// NOTE: readLoop is NOT started here to avoid race condition with message handler setup.
	// Caller MUST call Start() after setting message handler via SetMessageHandler().

	return c, nil
}
