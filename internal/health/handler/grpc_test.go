package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"cdr.dev/slog/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type mockPinger struct{ err error }

func (m *mockPinger) PingContext(context.Context) error { return m.err }

type mockDevice struct{ err error }

func (m *mockDevice) Ping(context.Context) error { return m.err }

type mockPolicyChecker struct{ err error }

func (m *mockPolicyChecker) HealthCheck(context.Context) error { return m.err }

func status(t *testing.T, s *Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestServer_NotServingBeforeFirstCheck(t *testing.T) {
	s := NewServer(nil, nil, nil, slogtest.Make(t, nil))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, s, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, s, DeviceService))
}

func TestServer_Check(t *testing.T) {
	testCases := []struct {
		name    string
		pinger  Pinger
		device  DeviceChecker
		policy  PolicyChecker
		overall healthpb.HealthCheckResponse_ServingStatus
		dev     healthpb.HealthCheckResponse_ServingStatus
	}{
		{"no checkers", nil, nil, nil, healthpb.HealthCheckResponse_SERVING, healthpb.HealthCheckResponse_SERVING},
		{"all healthy", &mockPinger{}, &mockDevice{}, &mockPolicyChecker{}, healthpb.HealthCheckResponse_SERVING, healthpb.HealthCheckResponse_SERVING},
		{"database down", &mockPinger{err: errors.New("connection refused")}, &mockDevice{}, nil, healthpb.HealthCheckResponse_NOT_SERVING, healthpb.HealthCheckResponse_SERVING},
		{"policy broken", &mockPinger{}, nil, &mockPolicyChecker{err: errors.New("rego compile failed")}, healthpb.HealthCheckResponse_NOT_SERVING, healthpb.HealthCheckResponse_SERVING},
		{"device down", &mockPinger{}, &mockDevice{err: errors.New("dial timeout")}, nil, healthpb.HealthCheckResponse_SERVING, healthpb.HealthCheckResponse_NOT_SERVING},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewServer(tc.pinger, tc.device, tc.policy, slogtest.Make(t, nil))
			s.Check(context.Background())
			assert.Equal(t, tc.overall, status(t, s, ""))
			assert.Equal(t, tc.dev, status(t, s, DeviceService))
		})
	}
}

func TestServer_RunRefreshes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	clk := quartz.NewMock(t)
	device := &mockDevice{}
	s := NewServer(nil, device, nil, slogtest.Make(t, nil))

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	trap := clk.Trap().TickerFunc("health")
	defer trap.Close()
	go func() { done <- s.Run(runCtx, clk, 30*time.Second) }()
	trap.MustWait(ctx).MustRelease(ctx)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, s, DeviceService))
	device.err = errors.New("dial timeout")
	clk.Advance(30 * time.Second).MustWait(ctx)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, s, DeviceService))

	stop()
	require.NoError(t, <-done)
}

func TestServer_Shutdown(t *testing.T) {
	s := NewServer(nil, nil, nil, slogtest.Make(t, nil))
	s.Check(context.Background())
	s.Shutdown()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, s, ""))
}
