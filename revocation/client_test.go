package revocation_test

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kacy/android-key-attestation/revocation"
)

func TestClientIsRevokedFromReader(t *testing.T) {
	client, err := revocation.NewClient("")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	body := `{"entries": {"1a2b3c": {"status": "REVOKED"}, "00ff": {}}}`
	if err := client.FetchFromReader(strings.NewReader(body)); err != nil {
		t.Fatalf("FetchFromReader: %v", err)
	}

	revoked, err := client.IsRevoked(context.Background(), bigFromHex(t, "1a2b3c"))
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if !revoked {
		t.Error("expected serial 1a2b3c to be revoked")
	}

	notRevoked, err := client.IsRevoked(context.Background(), bigFromHex(t, "deadbeef"))
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if notRevoked {
		t.Error("expected serial deadbeef to not be revoked")
	}
}

func TestClientIsRevokedIgnoresEntryValue(t *testing.T) {
	client, err := revocation.NewClient("")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.FetchFromReader(strings.NewReader(`{"entries": {"00ff": {"status": "whatever-unrecognized"}}}`)); err != nil {
		t.Fatalf("FetchFromReader: %v", err)
	}

	revoked, err := client.IsRevoked(context.Background(), bigFromHex(t, "00ff"))
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if !revoked {
		t.Error("any entry presence should count as revoked regardless of status value")
	}
}

func TestClientFetchesOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=60")
		w.Write([]byte(`{"entries": {"abcdef": {}}}`))
	}))
	defer srv.Close()

	client, err := revocation.NewClient("")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.SetURLForTest(srv.URL)

	revoked, err := client.IsRevoked(context.Background(), bigFromHex(t, "abcdef"))
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if !revoked {
		t.Error("expected serial abcdef to be revoked")
	}
}

func bigFromHex(t *testing.T, hex string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(hex, 16)
	if !ok {
		t.Fatalf("invalid hex literal %q", hex)
	}
	return v
}
