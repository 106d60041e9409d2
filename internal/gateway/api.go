package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/go-routeros/routeros/v3"
)

// apiClient is the subset of *routeros.Client the api driver uses.
type apiClient interface {
	RunArgs(sentence []string) (*routeros.Reply, error)
	Close() error
}

type apiDialer func(addr, user, password string, useTLS bool, timeout time.Duration) (apiClient, error)

// apiDriver speaks the RouterOS binary API (ports 8728/8729).
type apiDriver struct {
	addr     string
	user     string
	password string
	useTLS   bool
	timeout  time.Duration
	dialFn   apiDialer

	mu     sync.Mutex
	client apiClient
}

func newAPIDriver(addr, user, password string, useTLS bool, timeout time.Duration) *apiDriver {
	return &apiDriver{addr: addr, user: user, password: password, useTLS: useTLS, timeout: timeout, dialFn: dialRouterOS}
}

func dialRouterOS(addr, user, password string, useTLS bool, timeout time.Duration) (apiClient, error) {
	if useTLS {
		// api-ssl ships with a self-signed certificate.
		c, err := routeros.DialTLSTimeout(addr, user, password, &tls.Config{InsecureSkipVerify: true}, timeout) //nolint:gosec
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	c, err := routeros.DialTimeout(addr, user, password, timeout)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (d *apiDriver) dial(context.Context) error {
	c, err := d.dialFn(d.addr, d.user, d.password, d.useTLS, d.timeout)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.client = c
	d.mu.Unlock()
	return nil
}

func (d *apiDriver) close() error {
	d.mu.Lock()
	c := d.client
	d.client = nil
	d.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

func (d *apiDriver) run(args ...string) (*routeros.Reply, error) {
	d.mu.Lock()
	c := d.client
	d.mu.Unlock()
	if c == nil {
		return nil, errors.New("not connected")
	}
	reply, err := c.RunArgs(args)
	if err != nil {
		var devErr *routeros.DeviceError
		if errors.As(err, &devErr) {
			return nil, &rejectedError{msg: devErr.Error()}
		}
		return nil, err
	}
	return reply, nil
}

func (d *apiDriver) activeSessions(context.Context) ([]SessionSnapshot, error) {
	reply, err := d.run("/ip/hotspot/active/print")
	if err != nil {
		return nil, err
	}
	out := make([]SessionSnapshot, 0, len(reply.Re))
	for _, re := range reply.Re {
		out = append(out, snapshotFromMap(re.Map))
	}
	return out, nil
}

func (d *apiDriver) addUser(_ context.Context, spec CredentialSpec) (string, error) {
	reply, err := d.run(
		"/ip/hotspot/user/add",
		"=name="+spec.Name,
		"=password="+spec.Secret,
		"=profile="+spec.Profile,
		"=limit-uptime="+spec.LimitUptime,
		"=shared-users="+strconv.Itoa(spec.SharedUsers),
		"=comment="+spec.Comment,
		"=disabled="+yesNo(spec.Disabled),
	)
	if err != nil {
		return "", err
	}
	if reply.Done != nil {
		if ref := reply.Done.Map["ret"]; ref != "" {
			return ref, nil
		}
	}
	// Older firmware does not echo the id; read it back.
	cred, err := d.findUser(context.Background(), spec.Name)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", errors.New("created user not found on read-back")
	}
	return cred.ExternalRef, nil
}

func (d *apiDriver) findUser(_ context.Context, name string) (*Credential, error) {
	reply, err := d.run("/ip/hotspot/user/print", "?name="+name)
	if err != nil {
		return nil, err
	}
	if len(reply.Re) == 0 {
		return nil, nil
	}
	return credentialFromMap(reply.Re[0].Map), nil
}

func (d *apiDriver) setUserDisabled(_ context.Context, id string, disabled bool) error {
	_, err := d.run("/ip/hotspot/user/set", "=.id="+id, "=disabled="+yesNo(disabled))
	return err
}

func (d *apiDriver) removeUser(_ context.Context, id string) error {
	_, err := d.run("/ip/hotspot/user/remove", "=.id="+id)
	return err
}

func (d *apiDriver) removeActive(_ context.Context, id string) error {
	_, err := d.run("/ip/hotspot/active/remove", "=.id="+id)
	return err
}
