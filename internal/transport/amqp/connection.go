// Package amqp pushes scheduler messages to a RabbitMQ exchange.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	logx "evsched/pkg/logx"
)

var ErrNoChannel = errors.New("amqp: no channel available")

// Connection wraps an AMQP connection and reconnects with exponential backoff
// when the broker drops it. The channel is opened in confirm mode.
type Connection struct {
	url string
	log logx.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	closed   bool
	closedCh chan struct{}

	reconnectCh chan struct{}
}

// Dial connects to url and starts watching the connection.
func Dial(url string, log logx.Logger) (*Connection, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Connection{
		url:         url,
		log:         log,
		closedCh:    make(chan struct{}),
		reconnectCh: make(chan struct{}, 1),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.watch()
	return c, nil
}

func (c *Connection) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("enable confirms: %w", err)
	}
	c.conn = conn
	c.channel = ch
	c.log.Info("connected to broker")
	return nil
}

func (c *Connection) watch() {
	for {
		c.mu.RLock()
		if c.closed {
			c.mu.RUnlock()
			return
		}
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			time.Sleep(time.Second)
			continue
		}
		notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-c.closedCh:
			return
		case err := <-notifyClose:
			if err != nil {
				c.log.Warn("broker connection closed", logx.Err(err))
			}
			c.reconnect()
		}
	}
}

func (c *Connection) reconnect() {
	delay := time.Second
	for {
		select {
		case <-c.closedCh:
			return
		case <-time.After(delay):
		}
		if err := c.connect(); err != nil {
			c.log.Warn("broker reconnect failed", logx.Duration("delay", delay), logx.Err(err))
			delay = min(delay*2, 30*time.Second)
			continue
		}
		c.log.Info("reconnected to broker")
		select {
		case c.reconnectCh <- struct{}{}:
		default:
		}
		return
	}
}

// ReconnectNotify signals after every successful reconnect.
func (c *Connection) ReconnectNotify() <-chan struct{} { return c.reconnectCh }

func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// WithChannel runs fn with the current channel.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()
	if ch == nil || ch.IsClosed() {
		return ErrNoChannel
	}
	return fn(ch)
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closedCh)

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	c.log.Info("broker connection closed")
	return errors.Join(errs...)
}
