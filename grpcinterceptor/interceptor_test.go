package grpcinterceptor_test

import (
	"context"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	attestation "github.com/kacy/android-key-attestation"
	"github.com/kacy/android-key-attestation/config"
	"github.com/kacy/android-key-attestation/fakeattestation"
	"github.com/kacy/android-key-attestation/grpcinterceptor"
	"github.com/kacy/android-key-attestation/internal/metrics"
	"github.com/kacy/android-key-attestation/keydescription"
)

// testMetrics is shared across this file's test functions: promauto
// registers every metric against the default Prometheus registry, and a
// second New() call in the same test binary would panic on re-registration.
var testMetrics = metrics.New()

func make32(b byte) []byte {
	out := make([]byte, 32)
	for i := range out {
		out[i] = b
	}
	return out
}

func buildTestChain(t *testing.T, challenge []byte) *fakeattestation.Chain {
	t.Helper()
	c, err := fakeattestation.BuildChain(fakeattestation.ChainSpec{
		KeyDescription: fakeattestation.KeyDescriptionSpec{
			AttestationVersion:       4,
			AttestationSecurityLevel: keydescription.SecurityLevelTEE,
			KeymasterVersion:         4,
			KeymasterSecurityLevel:   keydescription.SecurityLevelTEE,
			AttestationChallenge:     challenge,
			UniqueID:                 []byte{},
			SoftwareEnforced: fakeattestation.AuthorizationListSpec{
				AttestationApplicationId: &fakeattestation.AttestationApplicationIdSpec{
					PackageInfos: []keydescription.PackageInfo{
						{Name: "com.example.app", Version: 5},
					},
					SignatureDigests: [][]byte{make32(0xAB)},
				},
			},
			TeeEnforced: fakeattestation.AuthorizationListSpec{
				RootOfTrust: &fakeattestation.RootOfTrustSpec{
					VerifiedBootKey:   []byte{0x01},
					DeviceLocked:      true,
					VerifiedBootState: keydescription.VerifiedBootStateVerified,
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}
	return c
}

func buildTestEngine(t *testing.T, c *fakeattestation.Chain) *attestation.Engine {
	t.Helper()
	var digest [32]byte
	copy(digest[:], make32(0xAB))
	cfg, err := config.NewBuilder().
		WithApplications(config.AppData{
			PackageName:      "com.example.app",
			SignatureDigests: [][32]byte{digest},
		}).
		WithHardwareTrustAnchors(config.AnchorFromCertificate(c.Root)).
		Build()
	if err != nil {
		t.Fatalf("Build config: %v", err)
	}
	engine, err := attestation.NewHardwareEngine(cfg, noRevocations{})
	if err != nil {
		t.Fatalf("NewHardwareEngine: %v", err)
	}
	return engine
}

type noRevocations struct{}

func (noRevocations) IsRevoked(context.Context, *big.Int) (bool, error) { return false, nil }

func metadataFor(t *testing.T, c *fakeattestation.Chain, challenge []byte) metadata.MD {
	t.Helper()
	var pemBytes []byte
	for _, cert := range c.Certs() {
		pemBytes = append(pemBytes, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})...)
	}
	return metadata.Pairs(
		"x-attestation-chain", base64.StdEncoding.EncodeToString(pemBytes),
		"x-attestation-challenge", base64.StdEncoding.EncodeToString(challenge),
	)
}

func noopHandler(ctx context.Context, req any) (any, error) {
	return "ok", nil
}

func TestUnaryServerInterceptorSkipsListedMethods(t *testing.T) {
	c := buildTestChain(t, []byte("challenge"))
	engine := buildTestEngine(t, c)
	interceptor := grpcinterceptor.UnaryServerInterceptor(engine, nil, "/health.Check/Ping")

	info := &grpc.UnaryServerInfo{FullMethod: "/health.Check/Ping"}
	resp, err := interceptor(context.Background(), nil, info, noopHandler)
	if err != nil {
		t.Fatalf("expected skipped method to bypass verification, got error: %v", err)
	}
	if resp != "ok" {
		t.Errorf("resp = %v, want \"ok\"", resp)
	}
}

func TestUnaryServerInterceptorRejectsMissingMetadata(t *testing.T) {
	c := buildTestChain(t, []byte("challenge"))
	engine := buildTestEngine(t, c)
	interceptor := grpcinterceptor.UnaryServerInterceptor(engine, testMetrics)

	info := &grpc.UnaryServerInfo{FullMethod: "/svc.Thing/Do"}
	_, err := interceptor(context.Background(), nil, info, noopHandler)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("Code() = %v, want Unauthenticated", status.Code(err))
	}
}

func TestUnaryServerInterceptorRejectsBadChallenge(t *testing.T) {
	c := buildTestChain(t, []byte("challenge"))
	engine := buildTestEngine(t, c)
	interceptor := grpcinterceptor.UnaryServerInterceptor(engine, nil)

	md := metadataFor(t, c, []byte("wrong"))
	ctx := metadata.NewIncomingContext(context.Background(), md)
	info := &grpc.UnaryServerInfo{FullMethod: "/svc.Thing/Do"}

	_, err := interceptor(ctx, nil, info, noopHandler)
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("Code() = %v, want PermissionDenied", status.Code(err))
	}
}

func TestUnaryServerInterceptorAcceptsValidChain(t *testing.T) {
	c := buildTestChain(t, []byte("challenge"))
	engine := buildTestEngine(t, c)
	interceptor := grpcinterceptor.UnaryServerInterceptor(engine, testMetrics)

	md := metadataFor(t, c, []byte("challenge"))
	ctx := metadata.NewIncomingContext(context.Background(), md)
	info := &grpc.UnaryServerInfo{FullMethod: "/svc.Thing/Do"}

	var sawKeyDescription bool
	handler := func(ctx context.Context, req any) (any, error) {
		_, sawKeyDescription = grpcinterceptor.FromContext(ctx)
		return "ok", nil
	}

	resp, err := interceptor(ctx, nil, info, handler)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if resp != "ok" {
		t.Errorf("resp = %v, want \"ok\"", resp)
	}
	if !sawKeyDescription {
		t.Error("expected the handler to observe a KeyDescription attached to context")
	}
}
