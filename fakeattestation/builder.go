package fakeattestation

import (
	"time"

	"github.com/kacy/android-key-attestation/keydescription"
)

// AuthorizationListSpec is the input to EncodeAuthorizationList: every field
// left nil/zero is simply omitted from the encoded SEQUENCE, exactly as an
// absent optional KM tag would be.
type AuthorizationListSpec struct {
	KeySize                  *int
	OSVersion                *int
	OSPatchLevel             *int
	CreationDateTime         *time.Time
	RootOfTrust              *RootOfTrustSpec
	AttestationApplicationId *AttestationApplicationIdSpec
	RollbackResistance       bool
}

type RootOfTrustSpec struct {
	VerifiedBootKey   []byte
	DeviceLocked      bool
	VerifiedBootState keydescription.VerifiedBootState
	VerifiedBootHash  []byte
}

type AttestationApplicationIdSpec struct {
	PackageInfos     []keydescription.PackageInfo
	SignatureDigests [][]byte
}

// KeyDescriptionSpec is the input to EncodeKeyDescription.
type KeyDescriptionSpec struct {
	AttestationVersion       int
	AttestationSecurityLevel keydescription.SecurityLevel
	KeymasterVersion         int
	KeymasterSecurityLevel   keydescription.SecurityLevel
	AttestationChallenge     []byte
	UniqueID                 []byte
	SoftwareEnforced         AuthorizationListSpec
	TeeEnforced              AuthorizationListSpec
}

// EncodeAuthorizationList builds the DER bytes of an AuthorizationList
// SEQUENCE from spec.
func EncodeAuthorizationList(spec AuthorizationListSpec) []byte {
	var fields [][]byte

	if spec.KeySize != nil {
		fields = append(fields, explicit(3, integerTLV(int64(*spec.KeySize))))
	}
	if spec.RollbackResistance {
		fields = append(fields, explicit(703, writeTLV(classUniversal, false, tagNull, nil)))
	}
	if spec.CreationDateTime != nil {
		fields = append(fields, explicit(701, creationDateTimeTLV(*spec.CreationDateTime)))
	}
	if spec.RootOfTrust != nil {
		fields = append(fields, explicit(704, encodeRootOfTrust(*spec.RootOfTrust)))
	}
	if spec.OSVersion != nil {
		fields = append(fields, explicit(705, integerTLV(int64(*spec.OSVersion))))
	}
	if spec.OSPatchLevel != nil {
		fields = append(fields, explicit(706, integerTLV(int64(*spec.OSPatchLevel))))
	}
	if spec.AttestationApplicationId != nil {
		inner := encodeAttestationApplicationId(*spec.AttestationApplicationId)
		fields = append(fields, explicit(709, octetStringTLV(inner)))
	}

	return sequenceTLV(fields...)
}

func encodeRootOfTrust(spec RootOfTrustSpec) []byte {
	members := []([]byte){
		octetStringTLV(spec.VerifiedBootKey),
		booleanTLV(spec.DeviceLocked),
		enumeratedTLV(int64(spec.VerifiedBootState)),
	}
	if spec.VerifiedBootHash != nil {
		members = append(members, octetStringTLV(spec.VerifiedBootHash))
	}
	return sequenceTLV(members...)
}

func encodeAttestationApplicationId(spec AttestationApplicationIdSpec) []byte {
	var packageInfoMembers [][]byte
	for _, pi := range spec.PackageInfos {
		packageInfoMembers = append(packageInfoMembers, sequenceTLV(
			octetStringTLV([]byte(pi.Name)),
			integerTLV(pi.Version),
		))
	}
	var digestMembers [][]byte
	for _, d := range spec.SignatureDigests {
		digestMembers = append(digestMembers, octetStringTLV(d))
	}
	return sequenceTLV(
		setTLV(packageInfoMembers...),
		setTLV(digestMembers...),
	)
}

// EncodeKeyDescription builds the complete DER bytes of a Key Description
// extension value from spec — the inverse of keydescription.DecodeBytes.
func EncodeKeyDescription(spec KeyDescriptionSpec) []byte {
	return sequenceTLV(
		integerTLV(int64(spec.AttestationVersion)),
		enumeratedTLV(int64(spec.AttestationSecurityLevel)),
		integerTLV(int64(spec.KeymasterVersion)),
		enumeratedTLV(int64(spec.KeymasterSecurityLevel)),
		octetStringTLV(spec.AttestationChallenge),
		octetStringTLV(spec.UniqueID),
		EncodeAuthorizationList(spec.SoftwareEnforced),
		EncodeAuthorizationList(spec.TeeEnforced),
	)
}
