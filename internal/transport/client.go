// Package transport maintains the single long-lived websocket connection to
// the message relay. Wire traffic is JSON envelopes {"event": ..., "data": ...};
// inbound events fan out to subscriber channels so nothing runs inside the
// read pump.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// Wire event names. connect and disconnect are local lifecycle events, never
// sent on the wire.
const (
	EventConnect        = "connect"
	EventDisconnect     = "disconnect"
	EventJoinGroup      = "joinGroup"
	EventSendMessage    = "sendMessage"
	EventTyping         = "typing"
	EventReceiveMessage = "receiveMessage"
)

// ErrNotConnected is returned by Emit while the relay connection is down.
// Callers treat it as degraded operation, not a fatal error.
var ErrNotConnected = errors.New("transport not connected")

// Envelope is one frame of the relay's socket protocol.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type subscription struct {
	event string
	ch    chan json.RawMessage
}

// Client is the relay transport. One instance lives for the whole process;
// it redials with exponential backoff and never surfaces connection loss as
// an application error.
type Client struct {
	url    string
	header http.Header
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[int]*subscription
	nextID int
	joined map[int64]bool
	out    chan Envelope // per-connection; nil while disconnected

	cancel context.CancelFunc
}

// NewClient creates a transport client for the given websocket URL.
// The bearer token is presented during the handshake.
func NewClient(socketURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &Client{
		url:    socketURL,
		header: header,
		logger: logger,
		subs:   make(map[int]*subscription),
		joined: make(map[int64]bool),
	}
}

// Start launches the dial/read loop. It returns immediately.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Close stops the transport and drops the connection.
func (c *Client) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Subscribe returns a channel receiving the data payload of every envelope
// with the given event name. Multiple subscribers per event are supported;
// delivery is non-blocking (a full buffer misses events). The second return
// value unsubscribes.
func (c *Client) Subscribe(event string, bufSize int) (<-chan json.RawMessage, func()) {
	ch := make(chan json.RawMessage, bufSize)
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = &subscription{event: event, ch: ch}
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Emit queues an outbound envelope, best-effort and non-blocking. Returns
// ErrNotConnected while the connection is down; the frame is never queued
// for replay after reconnect.
func (c *Client) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	if out == nil {
		return ErrNotConnected
	}

	select {
	case out <- Envelope{Event: event, Data: data}:
	default:
		c.logger.Warn("outbound buffer full, dropping frame", zap.String("event", event))
	}
	return nil
}

// JoinScope registers interest in a conversation's events. Idempotent per
// connection; the joined set is cleared on reconnect and scopes are NOT
// rejoined automatically.
func (c *Client) JoinScope(groupID int64) {
	c.mu.Lock()
	already := c.joined[groupID]
	if !already {
		c.joined[groupID] = true
	}
	c.mu.Unlock()
	if already {
		return
	}
	if err := c.Emit(EventJoinGroup, groupID); err != nil {
		// Forget the scope so a later JoinScope retries once connected.
		c.mu.Lock()
		delete(c.joined, groupID)
		c.mu.Unlock()
	}
}

func (c *Client) run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second

	for {
		conn, resp, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPHeader: c.header})
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			c.logger.Warn("relay dial failed", zap.Error(err), zap.Duration("retry_in", wait))
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			}
		}

		bo.Reset()
		c.logger.Info("relay connected", zap.String("url", c.url))

		out := make(chan Envelope, 64)
		c.mu.Lock()
		c.out = out
		c.joined = make(map[int64]bool)
		c.mu.Unlock()
		c.dispatch(EventConnect, nil)

		writeCtx, stopWriter := context.WithCancel(ctx)
		go c.writePump(writeCtx, conn, out)

		c.readPump(ctx, conn)

		stopWriter()
		c.mu.Lock()
		c.out = nil
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		c.dispatch(EventDisconnect, nil)

		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("relay connection lost, redialing")
		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) {
	for {
		var env Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return
		}
		if env.Event == "" {
			continue
		}
		c.dispatch(env.Event, env.Data)
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, out <-chan Envelope) {
	for {
		select {
		case env := <-out:
			if err := wsjson.Write(ctx, conn, env); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		if sub.event != event {
			continue
		}
		select {
		case sub.ch <- data:
		default:
		}
	}
}
