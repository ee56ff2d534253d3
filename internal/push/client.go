package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/inboxsync/internal/bus"
	"github.com/matheus3301/inboxsync/internal/status"
	"go.uber.org/zap"
)

// Client maintains the websocket push channel. Decoded frames are published
// on the bus and connectivity is reported through the status machine.
type Client struct {
	url     string
	header  http.Header
	selfID  string
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	dialer     *websocket.Dialer
	newBackOff func() backoff.BackOff

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes a Client.
type Option func(*Client)

// WithHeader sets headers sent with the websocket handshake.
func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

// WithBackOff overrides the reconnect backoff policy.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = fn }
}

// NewClient creates a push client for the given websocket URL.
func NewClient(url, selfID string, b *bus.Bus, machine *status.Machine, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		url:        url,
		selfID:     selfID,
		bus:        b,
		machine:    machine,
		logger:     logger,
		dialer:     websocket.DefaultDialer,
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	return bo
}

// Start connects in the background and keeps reconnecting until Stop.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

// Stop closes the channel and waits for the connection loop to exit.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	bo := c.newBackOff()
	for {
		c.transition(status.Connecting)
		err := c.connect(ctx, bo)
		if ctx.Err() != nil {
			c.transition(status.Disconnected)
			return
		}
		c.transition(status.Reconnecting)

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			c.logger.Error("push channel gave up reconnecting", zap.Error(err))
			c.transition(status.Disconnected)
			return
		}
		c.logger.Warn("push channel lost, reconnecting", zap.Error(err), zap.Duration("backoff", wait))

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			c.transition(status.Disconnected)
			return
		}
	}
}

// connect dials once and reads frames until the connection drops.
func (c *Client) connect(ctx context.Context, bo backoff.BackOff) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return fmt.Errorf("dial push channel: %w", err)
	}
	defer conn.Close()

	bo.Reset()
	c.logger.Info("push channel connected", zap.String("url", c.url))
	c.transition(status.Ready)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("push channel closed by server")
			}
			return fmt.Errorf("read frame: %w", err)
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	kind, evt, err := Parse(data, c.selfID)
	if err != nil {
		c.logger.Warn("dropping push frame", zap.Error(err))
		return
	}
	c.bus.Emit(kind, evt)
}

func (c *Client) transition(to status.State) {
	if err := c.machine.Transition(to); err != nil {
		c.logger.Debug("status transition skipped", zap.Error(err))
	}
}
