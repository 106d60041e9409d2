package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cdr.dev/slog"
	"github.com/cenkalti/backoff/v4"
)

// driver is the raw per-transport command set. Client serializes calls into it.
type driver interface {
	dial(ctx context.Context) error
	close() error
	activeSessions(ctx context.Context) ([]SessionSnapshot, error)
	addUser(ctx context.Context, spec CredentialSpec) (string, error)
	findUser(ctx context.Context, name string) (*Credential, error)
	setUserDisabled(ctx context.Context, id string, disabled bool) error
	removeUser(ctx context.Context, id string) error
	removeActive(ctx context.Context, id string) error
}

// rejectedError is returned by drivers when the router answered but refused the command.
// The connection stays usable.
type rejectedError struct {
	msg string
}

func (e *rejectedError) Error() string { return e.msg }

// dialRetries bounds reconnect attempts inside a single call.
const dialRetries = 2

// Client implements Gateway over a driver: one logical connection, established lazily,
// one request in flight, every call bounded by the configured timeout.
type Client struct {
	drv        driver
	log        slog.Logger
	configured bool
	timeout    time.Duration
	newBackOff func() backoff.BackOff

	mu     sync.Mutex
	closed bool
	up     atomic.Bool
}

var _ Gateway = (*Client)(nil)

func newClient(drv driver, logger slog.Logger, configured bool, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		drv:        drv,
		log:        logger,
		configured: configured,
		timeout:    timeout,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

// IsConnected reports whether the last call left a live connection.
func (c *Client) IsConnected() bool {
	return c.configured && c.up.Load()
}

// Close tears down the connection. Calls after Close return ErrDeviceUnavailable.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if !c.up.Swap(false) {
		return nil
	}
	return c.drv.close()
}

// Ping connects if needed and reports ErrDeviceUnavailable when the router cannot be reached.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", func(context.Context) error { return nil })
}

func (c *Client) ListActiveSessions(ctx context.Context) ([]SessionSnapshot, error) {
	var out []SessionSnapshot
	err := c.do(ctx, "list active sessions", func(ctx context.Context) error {
		var err error
		out, err = c.drv.activeSessions(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateCredential(ctx context.Context, spec CredentialSpec) (string, error) {
	if spec.Name == "" {
		return "", &OperationError{Op: "create credential", Reason: "name is required"}
	}
	if spec.Profile == "" {
		spec.Profile = "default"
	}
	if spec.LimitUptime == "" {
		spec.LimitUptime = "1d"
	}
	if spec.SharedUsers <= 0 {
		spec.SharedUsers = 1
	}
	var ref string
	err := c.do(ctx, "create credential", func(ctx context.Context) error {
		var err error
		ref, err = c.drv.addUser(ctx, spec)
		return err
	})
	if err != nil {
		return "", err
	}
	c.log.Info(ctx, "created hotspot user", slog.F("name", spec.Name), slog.F("external_ref", ref))
	return ref, nil
}

func (c *Client) EnableCredential(ctx context.Context, name string) error {
	return c.setDisabled(ctx, "enable credential", name, false)
}

func (c *Client) DisableCredential(ctx context.Context, name string) error {
	return c.setDisabled(ctx, "disable credential", name, true)
}

func (c *Client) setDisabled(ctx context.Context, op, name string, disabled bool) error {
	err := c.do(ctx, op, func(ctx context.Context) error {
		cred, err := c.drv.findUser(ctx, name)
		if err != nil {
			return err
		}
		if cred == nil {
			return ErrCredentialNotFound
		}
		return c.drv.setUserDisabled(ctx, cred.ExternalRef, disabled)
	})
	if err != nil {
		return err
	}
	c.log.Info(ctx, op, slog.F("name", name))
	return nil
}

func (c *Client) DeleteCredential(ctx context.Context, name string) error {
	err := c.do(ctx, "delete credential", func(ctx context.Context) error {
		cred, err := c.drv.findUser(ctx, name)
		if err != nil {
			return err
		}
		if cred == nil {
			return ErrCredentialNotFound
		}
		return c.drv.removeUser(ctx, cred.ExternalRef)
	})
	if err != nil {
		return err
	}
	c.log.Info(ctx, "deleted hotspot user", slog.F("name", name))
	return nil
}

func (c *Client) LookupCredential(ctx context.Context, name string) (*Credential, error) {
	var cred *Credential
	err := c.do(ctx, "lookup credential", func(ctx context.Context) error {
		var err error
		cred, err = c.drv.findUser(ctx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cred, nil
}

func (c *Client) DisconnectSession(ctx context.Context, externalID string) error {
	err := c.do(ctx, "disconnect session", func(ctx context.Context) error {
		return c.drv.removeActive(ctx, externalID)
	})
	if err != nil {
		return err
	}
	c.log.Info(ctx, "disconnected hotspot session", slog.F("external_id", externalID))
	return nil
}

// do runs fn with the connection held, connecting first when needed.
func (c *Client) do(ctx context.Context, op string, fn func(context.Context) error) error {
	if !c.configured {
		return ErrDeviceUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrDeviceUnavailable
	}
	if err := c.connect(ctx); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fn(callCtx) }()

	var err error
	select {
	case err = <-done:
	case <-callCtx.Done():
		c.drop(ctx, op)
		return &OperationError{Op: op, Reason: "timed out", Err: callCtx.Err()}
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCredentialNotFound) {
		return &OperationError{Op: op, Reason: "credential not found", Err: err}
	}
	var rej *rejectedError
	if errors.As(err, &rej) {
		return &OperationError{Op: op, Reason: "rejected by device", Err: err}
	}
	c.drop(ctx, op)
	return &OperationError{Op: op, Reason: "transport failure", Err: err}
}

// connect must be called with mu held.
func (c *Client) connect(ctx context.Context) error {
	if c.up.Load() {
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), dialRetries), ctx)
	err := backoff.Retry(func() error {
		dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.drv.dial(dialCtx)
	}, b)
	if err != nil {
		c.log.Error(ctx, "connect to device failed", slog.Error(err))
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	c.up.Store(true)
	c.log.Info(ctx, "connected to device")
	return nil
}

// drop must be called with mu held.
func (c *Client) drop(ctx context.Context, op string) {
	if !c.up.Swap(false) {
		return
	}
	if err := c.drv.close(); err != nil {
		c.log.Warn(ctx, "close device connection", slog.F("op", op), slog.Error(err))
	}
}
