// Package grpcinterceptor gates gRPC unary RPCs behind Android Key
// Attestation verification. It is not a served network endpoint itself —
// callers wire it into their own grpc.Server via grpc.ChainUnaryInterceptor,
// alongside grpc_prometheus's own interceptor for request metrics.
package grpcinterceptor

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/kacy/android-key-attestation"
	"github.com/kacy/android-key-attestation/internal/metrics"
	"github.com/kacy/android-key-attestation/keydescription"
)

const (
	metadataChainKey     = "x-attestation-chain"
	metadataChallengeKey = "x-attestation-challenge"
)

type contextKey int

const keyDescriptionContextKey contextKey = iota

// FromContext returns the KeyDescription a prior interceptor invocation
// attached to ctx after a successful verification, if any.
func FromContext(ctx context.Context) (*keydescription.KeyDescription, bool) {
	kd, ok := ctx.Value(keyDescriptionContextKey).(*keydescription.KeyDescription)
	return kd, ok
}

// UnaryServerInterceptor returns a gRPC interceptor that extracts a
// PEM-encoded certificate chain and challenge from incoming metadata,
// verifies it with engine, and rejects the call on any failure. Methods in
// skipMethods (e.g. a health check) bypass verification entirely. m is
// optional; pass nil to skip in-flight gauge tracking.
func UnaryServerInterceptor(engine *attestation.Engine, m *metrics.Metrics, skipMethods ...string) grpc.UnaryServerInterceptor {
	skip := make(map[string]bool, len(skipMethods))
	for _, method := range skipMethods {
		skip[method] = true
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if skip[info.FullMethod] {
			return handler(ctx, req)
		}

		if m != nil {
			m.GRPCRequestsInFlight.Inc()
			defer m.GRPCRequestsInFlight.Dec()
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "attestation metadata is required")
		}

		certs, challenge, err := extractFromMetadata(md)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}

		kd, err := engine.Verify(ctx, certs, time.Now(), challenge)
		if err != nil {
			return nil, status.Error(codes.PermissionDenied, fmt.Sprintf("attestation verification failed: %v", err))
		}

		return handler(context.WithValue(ctx, keyDescriptionContextKey, kd), req)
	}
}

func extractFromMetadata(md metadata.MD) ([]*x509.Certificate, []byte, error) {
	chainValues := md.Get(metadataChainKey)
	if len(chainValues) == 0 {
		return nil, nil, fmt.Errorf("missing %q metadata", metadataChainKey)
	}
	challengeValues := md.Get(metadataChallengeKey)
	if len(challengeValues) == 0 {
		return nil, nil, fmt.Errorf("missing %q metadata", metadataChallengeKey)
	}

	chainBytes, err := base64.StdEncoding.DecodeString(chainValues[0])
	if err != nil {
		return nil, nil, fmt.Errorf("decoding %q: %w", metadataChainKey, err)
	}
	challenge, err := base64.StdEncoding.DecodeString(challengeValues[0])
	if err != nil {
		return nil, nil, fmt.Errorf("decoding %q: %w", metadataChallengeKey, err)
	}

	var certs []*x509.Certificate
	rest := chainBytes
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing certificate chain: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, nil, fmt.Errorf("%q contained no PEM certificates", metadataChainKey)
	}

	return certs, challenge, nil
}

// ServerMetrics is the shared grpc_prometheus metrics collector. Register
// it once with the process's Prometheus registry and pass
// ServerMetrics.UnaryServerInterceptor alongside UnaryServerInterceptor via
// grpc.ChainUnaryInterceptor.
var ServerMetrics = grpc_prometheus.NewServerMetrics()
