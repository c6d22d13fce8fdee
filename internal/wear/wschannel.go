package wear

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSChannelOptions parameterise the websocket transport.
type WSChannelOptions struct {
	// URL of the peer relay endpoint, e.g. "ws://127.0.0.1:9170/channel".
	URL         string
	DialTimeout time.Duration
	WriteWait   time.Duration
}

// wsFrame is the wire shape of one replicated item.
type wsFrame struct {
	Path string `json:"path"`
	Data []byte `json:"data"`
}

// WSChannel replicates data items over a websocket connection to the peer
// device's relay. Items are pushed as they change; the read loop dispatches
// incoming changes to subscribers.
type WSChannel struct {
	opts   WSChannelOptions
	logger zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[string]map[int]func([]byte)
	nextSub int
	closed  bool
}

// NewWSChannel constructs the transport; Connect must be called before use.
func NewWSChannel(opts WSChannelOptions, logger zerolog.Logger) *WSChannel {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 5 * time.Second
	}
	return &WSChannel{
		opts:   opts,
		logger: logger.With().Str("component", "wear_ws_channel").Logger(),
		subs:   make(map[string]map[int]func([]byte)),
	}
}

// Connect dials the peer and starts the read loop.
func (c *WSChannel) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial wear channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// Close tears the connection down.
func (c *WSChannel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.closed = true
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Put sends the item to the peer.
func (c *WSChannel) Put(ctx context.Context, path string, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrAppNotInstalled
	}

	deadline := time.Now().Add(c.opts.WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	frame, err := json.Marshal(wsFrame{Path: path, Data: data})
	if err != nil {
		return fmt.Errorf("marshal wear frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrAppNotInstalled
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Subscribe registers a listener for path.
func (c *WSChannel) Subscribe(path string, fn func(data []byte)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	if c.subs[path] == nil {
		c.subs[path] = make(map[int]func([]byte))
	}
	c.subs[path][id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs[path], id)
		c.mu.Unlock()
	}
}

// Reachable reports whether the peer connection is up.
func (c *WSChannel) Reachable(context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *WSChannel) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			wasClosed := c.closed
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			if !wasClosed {
				c.logger.Warn().Err(err).Msg("wear channel read loop terminated")
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed wear frame")
			continue
		}

		c.mu.Lock()
		listeners := make([]func([]byte), 0, len(c.subs[frame.Path]))
		for _, fn := range c.subs[frame.Path] {
			listeners = append(listeners, fn)
		}
		c.mu.Unlock()

		for _, fn := range listeners {
			fn(frame.Data)
		}
	}
}

var _ DataChannel = (*WSChannel)(nil)
