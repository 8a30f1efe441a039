package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// InitializationError wraps protocol-level failures while opening a relay
// session so callers can tell a dead relay apart from a rejected message.
type InitializationError struct {
	Cause error
}

func (e *InitializationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return "relay session initialization failed"
	}
	return fmt.Sprintf("relay session initialization failed: %v", e.Cause)
}

func (e *InitializationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Config describes one SMTP relay endpoint.
type Config struct {
	Host             string
	Port             int
	Username         string
	Password         string
	StalenessTimeout time.Duration
}

// session is the subset of the go-mail client the relay client drives.
type session interface {
	DialWithContext(ctx context.Context) error
	Send(msgs ...*mail.Msg) error
	Close() error
}

// Client is one stateful relay session: connect, send, refresh, close.
// It performs exactly one wire attempt per Send; retry policy belongs to
// the caller. A Client is never used by two goroutines at once because
// ownership transfers exclusively through the pool.
type Client struct {
	session   session
	staleness time.Duration
	connected bool
	disposed  bool
	lastUsed  time.Time
	now       func() time.Time
}

const defaultStalenessTimeout = 60 * time.Second

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("relay host is required")
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	mailClient, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay client: %w", err)
	}

	return newClient(mailClient, cfg.StalenessTimeout, time.Now), nil
}

func newClient(sess session, staleness time.Duration, nowFn func() time.Time) *Client {
	if staleness <= 0 {
		staleness = defaultStalenessTimeout
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &Client{
		session:   sess,
		staleness: staleness,
		now:       nowFn,
	}
}

// Connect opens the underlying relay session.
func (c *Client) Connect(ctx context.Context) error {
	if c == nil || c.session == nil {
		return fmt.Errorf("relay client is not initialized")
	}
	if c.disposed {
		return fmt.Errorf("relay client is disposed")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := c.session.DialWithContext(ctx); err != nil {
		return &InitializationError{Cause: err}
	}

	c.connected = true
	c.lastUsed = c.now()
	return nil
}

// Send delivers one message over the session, reconnecting first when the
// session was never opened or has been idle past the staleness timeout.
func (c *Client) Send(ctx context.Context, msg *mail.Msg) error {
	if c == nil || c.session == nil {
		return fmt.Errorf("relay client is not initialized")
	}
	if c.disposed {
		return fmt.Errorf("relay client is disposed")
	}
	if msg == nil {
		return fmt.Errorf("message is required")
	}

	if !c.connected || c.isStale() {
		if err := c.Refresh(ctx); err != nil {
			return err
		}
	}

	if err := c.session.Send(msg); err != nil {
		return err
	}

	c.lastUsed = c.now()
	return nil
}

// Refresh forcibly tears the session down and reconnects. Callers use it
// after a failure classified as retryable before their single retry.
func (c *Client) Refresh(ctx context.Context) error {
	if c == nil || c.session == nil {
		return fmt.Errorf("relay client is not initialized")
	}
	if c.disposed {
		return fmt.Errorf("relay client is disposed")
	}

	if c.connected {
		_ = c.session.Close()
		c.connected = false
	}

	return c.Connect(ctx)
}

// Close releases the session. Safe to call more than once.
func (c *Client) Close() error {
	if c == nil || c.session == nil || c.disposed {
		return nil
	}

	c.disposed = true
	if !c.connected {
		return nil
	}
	c.connected = false
	return c.session.Close()
}

// IdleSince reports when the session was last used on the wire.
func (c *Client) IdleSince() time.Time {
	if c == nil {
		return time.Time{}
	}
	return c.lastUsed
}

func (c *Client) isStale() bool {
	return c.now().Sub(c.lastUsed) > c.staleness
}
