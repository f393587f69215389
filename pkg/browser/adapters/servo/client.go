package servo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/lantern/pkg/logging"
)

var errConnectionClosed = errors.New("browserd connection closed")

// client multiplexes requests over one browserd connection. A writer
// goroutine drains the outbound queue; a reader goroutine routes responses
// to their waiting callers and events to onEvent.
type client struct {
	conn    net.Conn
	log     *logging.Logger
	queue   chan envelope
	onEvent func(envelope)
	onClose func(error)

	mu      sync.Mutex
	pending map[string]chan envelope
	err     error

	cancel context.CancelFunc
	done   chan struct{}
}

func newClient(conn net.Conn, queueSize int, log *logging.Logger, onEvent func(envelope), onClose func(error)) *client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		conn:    conn,
		log:     log,
		queue:   make(chan envelope, queueSize),
		onEvent: onEvent,
		onClose: onClose,
		pending: make(map[string]chan envelope),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(c.readLoop)
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})
	go func() {
		c.finish(g.Wait())
	}()
	return c
}

func (c *client) readLoop() error {
	for {
		data, err := readFrame(c.conn)
		if err != nil {
			return fmt.Errorf("read browserd: %w", err)
		}
		env, err := decodeEnvelope(data)
		if err != nil {
			c.log.Warn("dropping undecodable browserd message", "error", err.Error(), "bytes", len(data))
			continue
		}
		switch env.Type {
		case messageResponse:
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			delete(c.pending, env.ID)
			c.mu.Unlock()
			if ok {
				ch <- env
			}
		case messageEvent:
			if c.onEvent != nil {
				c.onEvent(env)
			}
		default:
			c.log.Debug("ignoring browserd message", "type", string(env.Type))
		}
	}
}

func (c *client) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := writeEnvelope(c.conn, env); err != nil {
				return fmt.Errorf("write browserd: %w", err)
			}
		}
	}
}

func (c *client) finish(err error) {
	c.cancel()
	c.mu.Lock()
	if c.err == nil {
		c.err = err
		if c.err == nil {
			c.err = errConnectionClosed
		}
	}
	reason := c.err
	c.pending = make(map[string]chan envelope)
	c.mu.Unlock()
	// onClose runs before done is closed so close() returns only after the
	// loss has been handled.
	if c.onClose != nil {
		c.onClose(reason)
	}
	close(c.done)
}

// alive reports whether the connection is still usable.
func (c *client) alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err == nil
}

// send queues a request and waits for its response or ctx.
func (c *client) send(ctx context.Context, req envelope) (envelope, error) {
	req.Type = messageRequest
	req.ID = uuid.NewString()
	ch := make(chan envelope, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return envelope{}, err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	drop := func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}

	select {
	case c.queue <- req:
	case <-ctx.Done():
		drop()
		return envelope{}, ctx.Err()
	case <-c.done:
		return envelope{}, c.closeErr()
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		drop()
		return envelope{}, ctx.Err()
	case <-c.done:
		return envelope{}, c.closeErr()
	}
}

func (c *client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return errConnectionClosed
	}
	return c.err
}

// close tears the connection down and waits for both loops to exit.
func (c *client) close() {
	c.mu.Lock()
	if c.err == nil {
		c.err = errConnectionClosed
	}
	c.mu.Unlock()
	c.cancel()
	<-c.done
}
