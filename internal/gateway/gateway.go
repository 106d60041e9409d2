// Package gateway talks to the hotspot router: it lists live sessions and manages
// hotspot user credentials. One Gateway is built per process for the configured transport.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cdr.dev/slog"

	"hotspot-control-plane/backend/internal/config"
)

var (
	// ErrDeviceUnavailable is returned when no live connection to the router can be established.
	ErrDeviceUnavailable = errors.New("gateway: device unavailable")
	// ErrDeviceOperationFailed is matched by every *OperationError.
	ErrDeviceOperationFailed = errors.New("gateway: device operation failed")
	// ErrCredentialNotFound is wrapped by an OperationError when the named hotspot user does not exist.
	ErrCredentialNotFound = errors.New("gateway: credential not found")
)

// OperationError reports a transport or protocol failure, or a command the router rejected.
type OperationError struct {
	Op     string
	Reason string
	Err    error
}

func (e *OperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway: %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("gateway: %s: %s", e.Op, e.Reason)
}

func (e *OperationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDeviceOperationFailed) match any OperationError.
func (e *OperationError) Is(target error) bool { return target == ErrDeviceOperationFailed }

// SessionSnapshot is one row of the router's active-session table.
type SessionSnapshot struct {
	ExternalID string
	Identity   string
	Address    string
	MACAddress string
	// BytesIn and BytesOut are cumulative since the session started on the router.
	BytesIn  int64
	BytesOut int64
	Uptime   time.Duration
}

// CredentialSpec describes a hotspot user to create.
type CredentialSpec struct {
	Name        string
	Secret      string
	Profile     string
	LimitUptime string
	SharedUsers int
	Comment     string
	Disabled    bool
}

// Credential is a hotspot user as stored on the router.
type Credential struct {
	ExternalRef string
	Name        string
	Profile     string
	LimitUptime string
	SharedUsers int
	Comment     string
	Disabled    bool
}

// Gateway is the router contract used by the reconciler and the account lifecycle.
type Gateway interface {
	ListActiveSessions(ctx context.Context) ([]SessionSnapshot, error)
	// CreateCredential returns the router-assigned id of the new user.
	CreateCredential(ctx context.Context, spec CredentialSpec) (string, error)
	EnableCredential(ctx context.Context, name string) error
	DisableCredential(ctx context.Context, name string) error
	DeleteCredential(ctx context.Context, name string) error
	// LookupCredential returns nil, nil when no user has that name.
	LookupCredential(ctx context.Context, name string) (*Credential, error)
	// DisconnectSession kicks the active session with the given router id.
	DisconnectSession(ctx context.Context, externalID string) error
	// Ping establishes the connection if needed.
	Ping(ctx context.Context) error
	IsConnected() bool
	Close() error
}

// New builds the Gateway for cfg.DeviceTransport.
func New(cfg *config.Config, logger slog.Logger) (*Client, error) {
	var drv driver
	switch cfg.DeviceTransport {
	case config.TransportAPI:
		drv = newAPIDriver(cfg.DeviceAddr(), cfg.DeviceUser, cfg.DevicePassword, cfg.DeviceTLS, cfg.DeviceCallTimeout())
	case config.TransportREST:
		scheme := "http"
		if cfg.DeviceTLS {
			scheme = "https"
		}
		drv = newRESTDriver(scheme+"://"+cfg.DeviceAddr(), cfg.DeviceUser, cfg.DevicePassword, cfg.DeviceTLS)
	default:
		return nil, fmt.Errorf("gateway: unknown transport %q", cfg.DeviceTransport)
	}
	if cfg.DevicePassword == "" {
		logger.Warn(context.Background(), "DEVICE_PASSWORD not configured, gateway stays disconnected",
			slog.F("host", cfg.DeviceHost))
	}
	return newClient(drv, logger.Named("gateway").With(slog.F("transport", cfg.DeviceTransport)),
		cfg.DevicePassword != "", cfg.DeviceCallTimeout()), nil
}
