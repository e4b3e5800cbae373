package keydescription_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kacy/android-key-attestation/fakeattestation"
	"github.com/kacy/android-key-attestation/keydescription"
)

func intPtr(v int) *int { return &v }

func TestDecodeRoundTrip(t *testing.T) {
	creation := time.UnixMilli(1_700_000_000_000).UTC()

	spec := fakeattestation.KeyDescriptionSpec{
		AttestationVersion:       4,
		AttestationSecurityLevel: keydescription.SecurityLevelTEE,
		KeymasterVersion:         4,
		KeymasterSecurityLevel:   keydescription.SecurityLevelTEE,
		AttestationChallenge:     []byte("challenge-bytes"),
		UniqueID:                 []byte{},
		SoftwareEnforced: fakeattestation.AuthorizationListSpec{
			AttestationApplicationId: &fakeattestation.AttestationApplicationIdSpec{
				PackageInfos: []keydescription.PackageInfo{
					{Name: "com.example.app", Version: 12},
				},
				SignatureDigests: [][]byte{
					{0x01, 0x02, 0x03},
				},
			},
		},
		TeeEnforced: fakeattestation.AuthorizationListSpec{
			KeySize:      intPtr(256),
			OSVersion:    intPtr(130000),
			OSPatchLevel: intPtr(202407),
			CreationDateTime: &creation,
			RootOfTrust: &fakeattestation.RootOfTrustSpec{
				VerifiedBootKey:   []byte{0xaa, 0xbb},
				DeviceLocked:      true,
				VerifiedBootState: keydescription.VerifiedBootStateVerified,
			},
			RollbackResistance: true,
		},
	}

	der := fakeattestation.EncodeKeyDescription(spec)

	got, err := keydescription.DecodeBytes(der)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}

	want := &keydescription.KeyDescription{
		AttestationVersion:       4,
		AttestationSecurityLevel: keydescription.SecurityLevelTEE,
		KeymasterVersion:         4,
		KeymasterSecurityLevel:   keydescription.SecurityLevelTEE,
		AttestationChallenge:     []byte("challenge-bytes"),
		UniqueID:                 []byte{},
		SoftwareEnforced: keydescription.AuthorizationList{
			AttestationApplicationId: &keydescription.AttestationApplicationId{
				PackageInfos: []keydescription.PackageInfo{
					{Name: "com.example.app", Version: 12},
				},
				SignatureDigests: [][]byte{{0x01, 0x02, 0x03}},
			},
		},
		TeeEnforced: keydescription.AuthorizationList{
			KeySize:          intPtr(256),
			OSVersion:        intPtr(130000),
			OSPatchLevel:     intPtr(202407),
			CreationDateTime: &creation,
			RootOfTrust: &keydescription.RootOfTrust{
				VerifiedBootKey:   []byte{0xaa, 0xbb},
				DeviceLocked:      true,
				VerifiedBootState: keydescription.VerifiedBootStateVerified,
			},
			RollbackResistance: true,
		},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DecodeBytes mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeEmptyAuthorizationLists(t *testing.T) {
	spec := fakeattestation.KeyDescriptionSpec{
		AttestationVersion:       3,
		AttestationSecurityLevel: keydescription.SecurityLevelSoftware,
		KeymasterVersion:         3,
		KeymasterSecurityLevel:   keydescription.SecurityLevelSoftware,
		AttestationChallenge:     nil,
		UniqueID:                 nil,
	}

	der := fakeattestation.EncodeKeyDescription(spec)
	got, err := keydescription.DecodeBytes(der)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if got.SoftwareEnforced.KeySize != nil || got.TeeEnforced.KeySize != nil {
		t.Errorf("expected empty AuthorizationLists, got %+v / %+v", got.SoftwareEnforced, got.TeeEnforced)
	}
	if got.SoftwareEnforced.RollbackResistance || got.TeeEnforced.RollbackResistance {
		t.Error("expected no rollback resistance tag")
	}
}

func TestDecodeBytesRejectsTruncated(t *testing.T) {
	_, err := keydescription.DecodeBytes([]byte{0x30, 0x7f})
	if err == nil {
		t.Fatal("expected error for truncated DER")
	}
}

func TestDecodeBytesRejectsNonSequence(t *testing.T) {
	_, err := keydescription.DecodeBytes([]byte{0x02, 0x01, 0x01})
	if err == nil {
		t.Fatal("expected error for non-SEQUENCE top level")
	}
}
