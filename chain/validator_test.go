package chain_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/kacy/android-key-attestation/chain"
	"github.com/kacy/android-key-attestation/config"
	"github.com/kacy/android-key-attestation/fakeattestation"
	"github.com/kacy/android-key-attestation/keydescription"
)

type fakeRevocationChecker struct {
	revoked map[string]bool
	err     error
}

func (f fakeRevocationChecker) IsRevoked(_ context.Context, serial *big.Int) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.revoked[serial.String()], nil
}

func noneRevoked() fakeRevocationChecker {
	return fakeRevocationChecker{revoked: map[string]bool{}}
}

func buildTestChain(t *testing.T) (*fakeattestation.Chain, config.AnchorSet) {
	t.Helper()
	c, err := fakeattestation.BuildChain(fakeattestation.ChainSpec{
		KeyDescription: fakeattestation.KeyDescriptionSpec{
			AttestationVersion:       4,
			AttestationSecurityLevel: keydescription.SecurityLevelTEE,
			KeymasterVersion:         4,
			KeymasterSecurityLevel:   keydescription.SecurityLevelTEE,
			AttestationChallenge:     []byte("c"),
			UniqueID:                 []byte{},
		},
	})
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}
	anchors := config.AnchorSet{config.AnchorFromCertificate(c.Root)}
	return c, anchors
}

func TestValidateChainSucceeds(t *testing.T) {
	c, anchors := buildTestChain(t)
	now := time.Now()

	err := chain.ValidateChain(context.Background(), c.Certs(), now, anchors, false, noneRevoked(), nil, nil)
	if err != nil {
		t.Fatalf("ValidateChain: %v", err)
	}
}

func TestValidateChainNoMatchingRoot(t *testing.T) {
	c, _ := buildTestChain(t)
	now := time.Now()

	err := chain.ValidateChain(context.Background(), c.Certs(), now, config.AnchorSet{}, false, noneRevoked(), nil, nil)
	var invalid *chain.CertificateInvalid
	if !asCertificateInvalid(err, &invalid) {
		t.Fatalf("expected *chain.CertificateInvalid, got %v (%T)", err, err)
	}
	if invalid.Sub != chain.SubNoMatchingRoot {
		t.Errorf("Sub = %v, want SubNoMatchingRoot", invalid.Sub)
	}
}

func TestValidateChainOtherMatchingRoot(t *testing.T) {
	c, anchors := buildTestChain(t)
	now := time.Now()

	err := chain.ValidateChain(context.Background(), c.Certs(), now, config.AnchorSet{}, false, noneRevoked(), anchors, nil)
	var invalid *chain.CertificateInvalid
	if !asCertificateInvalid(err, &invalid) {
		t.Fatalf("expected *chain.CertificateInvalid, got %v (%T)", err, err)
	}
	if invalid.Sub != chain.SubOtherMatchingRoot || invalid.Stage != chain.StageHardware {
		t.Errorf("got Sub=%v Stage=%v, want SubOtherMatchingRoot/StageHardware", invalid.Sub, invalid.Stage)
	}
}

func TestValidateChainRevoked(t *testing.T) {
	c, anchors := buildTestChain(t)
	now := time.Now()

	checker := fakeRevocationChecker{revoked: map[string]bool{
		c.Intermediate.SerialNumber.String(): true,
	}}

	err := chain.ValidateChain(context.Background(), c.Certs(), now, anchors, false, checker, nil, nil)
	var rev *chain.Revocation
	if !asRevocation(err, &rev) {
		t.Fatalf("expected *chain.Revocation, got %v (%T)", err, err)
	}
	if rev.Reason != chain.ReasonRevoked {
		t.Errorf("Reason = %v, want ReasonRevoked", rev.Reason)
	}
}

func TestValidateChainListUnavailable(t *testing.T) {
	c, anchors := buildTestChain(t)
	now := time.Now()

	checker := fakeRevocationChecker{err: errFetchFailed}

	err := chain.ValidateChain(context.Background(), c.Certs(), now, anchors, false, checker, nil, nil)
	var rev *chain.Revocation
	if !asRevocation(err, &rev) {
		t.Fatalf("expected *chain.Revocation, got %v (%T)", err, err)
	}
	if rev.Reason != chain.ReasonListUnavailable {
		t.Errorf("Reason = %v, want ReasonListUnavailable", rev.Reason)
	}
}

func TestValidateChainExpiredLeaf(t *testing.T) {
	c, err := fakeattestation.BuildChain(fakeattestation.ChainSpec{
		KeyDescription: fakeattestation.KeyDescriptionSpec{
			AttestationChallenge: []byte("c"),
			UniqueID:             []byte{},
		},
		LeafNotBefore: time.Now().Add(-48 * time.Hour),
		LeafNotAfter:  time.Now().Add(-24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}
	anchors := config.AnchorSet{config.AnchorFromCertificate(c.Root)}

	validateErr := chain.ValidateChain(context.Background(), c.Certs(), time.Now(), anchors, false, noneRevoked(), nil, nil)
	var invalid *chain.CertificateInvalid
	if !asCertificateInvalid(validateErr, &invalid) {
		t.Fatalf("expected *chain.CertificateInvalid, got %v (%T)", validateErr, validateErr)
	}
	if invalid.Reason != chain.ReasonTime {
		t.Errorf("Reason = %v, want ReasonTime", invalid.Reason)
	}
}

func TestValidateChainIgnoreLeafValidity(t *testing.T) {
	c, err := fakeattestation.BuildChain(fakeattestation.ChainSpec{
		KeyDescription: fakeattestation.KeyDescriptionSpec{
			AttestationChallenge: []byte("c"),
			UniqueID:             []byte{},
		},
		LeafNotBefore: time.Now().Add(-48 * time.Hour),
		LeafNotAfter:  time.Now().Add(-24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}
	anchors := config.AnchorSet{config.AnchorFromCertificate(c.Root)}

	validateErr := chain.ValidateChain(context.Background(), c.Certs(), time.Now(), anchors, true, noneRevoked(), nil, nil)
	if validateErr != nil {
		t.Fatalf("ValidateChain with ignoreLeafValidity: %v", validateErr)
	}
}

var errFetchFailed = fakeErr("revocation list fetch failed")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func asCertificateInvalid(err error, target **chain.CertificateInvalid) bool {
	ci, ok := err.(*chain.CertificateInvalid)
	if ok {
		*target = ci
	}
	return ok
}

func asRevocation(err error, target **chain.Revocation) bool {
	r, ok := err.(*chain.Revocation)
	if ok {
		*target = r
	}
	return ok
}
