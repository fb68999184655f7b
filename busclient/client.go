// Package busclient wraps the NATS connection used by the catch-up
// engine and the publication cache service.
//
// The client carries explicit lifecycle (Connect/Close with drain),
// plain publish/subscribe for the live sample feed, and a scatter-gather
// request primitive used for history fetches where any number of cache
// instances may answer a single request.
package busclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/catchup/errors"
	"github.com/c360/catchup/pkg/retry"
)

// ConnectionStatus represents the state of the NATS connection.
type ConnectionStatus int

// Possible connection statuses.
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Msg is a received bus message. Reply is set when the sender expects
// an answer; respond by publishing to it.
type Msg struct {
	Subject string
	Reply   string
	Data    []byte
}

// Subscription is a handle to an active subscription.
type Subscription interface {
	// Unsubscribe removes the subscription. Safe to call more than once.
	Unsubscribe() error

	// Subject returns the subscribed subject.
	Subject() string
}

// natsSubscription adapts *nats.Subscription to the Subscription interface.
type natsSubscription struct {
	sub     *nats.Subscription
	subject string
	once    sync.Once
	err     error
}

func (s *natsSubscription) Unsubscribe() error {
	s.once.Do(func() {
		if s.sub != nil && s.sub.IsValid() {
			s.err = s.sub.Unsubscribe()
		}
	})
	return s.err
}

func (s *natsSubscription) Subject() string {
	return s.subject
}

// Client manages a NATS connection for the catch-up bus.
type Client struct {
	url    string
	status atomic.Value // ConnectionStatus
	logger *slog.Logger

	conn *nats.Conn
	subs []*nats.Subscription

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	connectRetry  retry.Config

	// Authentication, cleared on close
	username string
	password string
	token    string

	// TLS
	tlsEnabled  bool
	tlsCertFile string
	tlsKeyFile  string
	tlsCAFile   string

	clientName string

	onDisconnect func(error)
	onReconnect  func()

	mu     sync.RWMutex
	closed atomic.Bool
}

// New creates a bus client for the given NATS URL. The client does not
// connect until Connect is called.
func New(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Client", "New", "empty NATS URL")
	}

	c := &Client{
		url:           url,
		logger:        slog.Default(),
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		pingInterval:  30 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  30 * time.Second,
		connectRetry:  retry.Quick(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "New", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	return c, nil
}

// URL returns the NATS server URL.
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
}

// IsConnected reports whether the client has a live connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	return conn != nil && conn.IsConnected()
}

func (c *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.setStatus(StatusReconnecting)
			c.logger.Warn("bus disconnected", "error", err)
			if c.onDisconnect != nil {
				c.onDisconnect(err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.setStatus(StatusConnected)
			c.logger.Info("bus reconnected", "url", nc.ConnectedUrl())
			if c.onReconnect != nil {
				c.onReconnect()
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.setStatus(StatusDisconnected)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			c.logger.Error("bus async error", "subject", subject, "error", err)
		}),
	}

	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.tlsEnabled {
		if c.tlsCertFile != "" && c.tlsKeyFile != "" {
			opts = append(opts, nats.ClientCert(c.tlsCertFile, c.tlsKeyFile))
		}
		if c.tlsCAFile != "" {
			opts = append(opts, nats.RootCAs(c.tlsCAFile))
		}
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	return opts
}

// Connect establishes the connection, retrying transient failures with
// backoff until ctx is done or the retry budget is exhausted.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyClosed, "Client", "Connect", "client closed")
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("connecting to bus", "url", c.url)

	opts := c.buildConnectionOptions()

	err := retry.Do(ctx, c.connectRetry, func() error {
		conn, err := nats.Connect(c.url, opts...)
		if err != nil {
			c.logger.Warn("bus connect attempt failed", "url", c.url, "error", err)
			return err
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "establish connection")
	}

	c.setStatus(StatusConnected)
	c.logger.Info("connected to bus", "url", c.url)
	return nil
}

// Publish sends data to a subject.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.WrapTransient(errors.ErrNoConnection, "Client", "Publish", "publish "+subject)
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish "+subject)
	}
	return nil
}

// Subscribe delivers every message on subject to handler. The handler
// runs on the connection's dispatch goroutine and must not block.
func (c *Client) Subscribe(_ context.Context, subject string, handler func(Msg)) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "Client", "Subscribe", "subscribe "+subject)
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(Msg{Subject: msg.Subject, Reply: msg.Reply, Data: msg.Data})
	})
	if err != nil {
		return nil, errors.WrapTransient(errors.ErrSubscriptionFailed,
			"Client", "Subscribe", fmt.Sprintf("subscribe %s: %v", subject, err))
	}

	c.subs = append(c.subs, sub)
	return &natsSubscription{sub: sub, subject: subject}, nil
}

// QueueSubscribe is like Subscribe but joins a queue group so a set of
// instances share the subject's traffic.
func (c *Client) QueueSubscribe(_ context.Context, subject, queue string, handler func(Msg)) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "Client", "QueueSubscribe", "subscribe "+subject)
	}

	sub, err := c.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(Msg{Subject: msg.Subject, Reply: msg.Reply, Data: msg.Data})
	})
	if err != nil {
		return nil, errors.WrapTransient(errors.ErrSubscriptionFailed,
			"Client", "QueueSubscribe", fmt.Sprintf("subscribe %s: %v", subject, err))
	}

	c.subs = append(c.subs, sub)
	return &natsSubscription{sub: sub, subject: subject}, nil
}

// RequestScatter publishes a request with a reply inbox and streams every
// reply to handler until ctx is done or handler returns true. Multiple
// responders answering one request is expected; duplicates are the
// caller's concern. A deadline expiry is a normal end of collection, not
// an error.
func (c *Client) RequestScatter(ctx context.Context, subject string, data []byte, handler func(Msg) bool) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.WrapTransient(errors.ErrNoConnection, "Client", "RequestScatter", "request "+subject)
	}

	inbox := conn.NewRespInbox()
	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }

	sub, err := conn.Subscribe(inbox, func(msg *nats.Msg) {
		if handler(Msg{Subject: msg.Subject, Reply: msg.Reply, Data: msg.Data}) {
			finish()
		}
	})
	if err != nil {
		return errors.WrapTransient(errors.ErrSubscriptionFailed,
			"Client", "RequestScatter", fmt.Sprintf("reply inbox %s: %v", inbox, err))
	}
	defer func() { _ = sub.Unsubscribe() }()

	if err := conn.PublishRequest(subject, inbox, data); err != nil {
		return errors.WrapTransient(err, "Client", "RequestScatter", "publish request "+subject)
	}

	select {
	case <-ctx.Done():
	case <-done:
	}
	return nil
}

// RTT returns the round-trip time to the server.
func (c *Client) RTT() (time.Duration, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, errors.WrapTransient(errors.ErrNoConnection, "Client", "RTT", "ping")
	}
	return conn.RTT()
}

// Close drains and closes the connection. The drain honors ctx's
// deadline when it is shorter than the configured drain timeout.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, sub := range c.subs {
		if sub.IsValid() {
			if err := sub.Unsubscribe(); err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe "+sub.Subject))
			}
		}
	}
	c.subs = nil

	if c.conn != nil {
		drainTimeout := c.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		drainDone := make(chan error, 1)
		go func() { drainDone <- c.conn.Drain() }()

		select {
		case err := <-drainDone:
			if err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
			}
		case <-time.After(drainTimeout):
			errs = append(errs, errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", drainTimeout),
				"Client", "Close", "drain connection"))
		case <-ctx.Done():
			errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "drain canceled"))
		}

		c.conn.Close()
		c.conn = nil
	}

	c.username = ""
	c.password = ""
	c.token = ""

	c.setStatus(StatusDisconnected)

	if len(errs) > 0 {
		msg := "cleanup errors:"
		for i, err := range errs {
			msg += fmt.Sprintf("\n  [%d] %v", i+1, err)
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}
