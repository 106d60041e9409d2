// Package interceptors holds the unary server interceptors of the gRPC surface.
package interceptors

import (
	"context"
	"net"
	"runtime/debug"
	"strings"
	"time"

	"cdr.dev/slog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// LoggingUnary logs each RPC with its status code and duration. Methods in skipMethods
// (e.g. health probes) are only logged when they fail.
func LoggingUnary(logger slog.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	logger = logger.Named("grpc")
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		if skipMethods[info.FullMethod] && code == codes.OK {
			return resp, err
		}
		fields := []slog.Field{
			slog.F("method", info.FullMethod),
			slog.F("code", code.String()),
			slog.F("duration_ms", time.Since(start).Milliseconds()),
			slog.F("client_ip", ClientIP(ctx)),
		}
		if err != nil {
			logger.Warn(ctx, "rpc failed", append(fields, slog.Error(err))...)
		} else {
			logger.Debug(ctx, "rpc", fields...)
		}
		return resp, err
	}
}

// RecoverUnary turns a handler panic into codes.Internal and logs the stack.
func RecoverUnary(logger slog.Logger) grpc.UnaryServerInterceptor {
	logger = logger.Named("grpc")
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx, "rpc panicked", slog.F("method", info.FullMethod),
					slog.F("panic", r), slog.F("stack", string(debug.Stack())))
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				if i := strings.Index(s, ","); i > 0 {
					s = strings.TrimSpace(s[:i])
				}
				return s
			}
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				return s
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
