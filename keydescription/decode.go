package keydescription

import (
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"time"
)

// OID is the Google-defined object identifier for the Key Description
// extension.
var OID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 1, 17}

// KM tag numbers consulted by the policy engines. AOSP defines many more;
// everything else is ignored on decode.
const (
	tagKeySize                  = 3
	tagRollbackResistance       = 703
	tagCreationDateTime         = 701
	tagRootOfTrust              = 704
	tagOSVersion                = 705
	tagOSPatchLevel             = 706
	tagAttestationApplicationId = 709
)

// FindExtension returns the raw DER bytes of the Key Description extension
// on cert, or ErrExtensionNotPresent if cert carries none.
func FindExtension(cert *x509.Certificate) ([]byte, error) {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(OID) {
			return ext.Value, nil
		}
	}
	return nil, ErrExtensionNotPresent
}

// Decode locates and parses the Key Description extension on the leaf
// certificate. It is total for conformant AOSP input: every structural
// failure is reported as a wrapped ErrMalformed, and callers never need to
// inspect the raw DER themselves again.
func Decode(cert *x509.Certificate) (*KeyDescription, error) {
	der, err := FindExtension(cert)
	if err != nil {
		return nil, err
	}
	return DecodeBytes(der)
}

// DecodeBytes parses raw Key Description DER bytes directly, for callers
// (and tests) that already have the extension's Value in hand.
func DecodeBytes(der []byte) (*KeyDescription, error) {
	outer, rest, err := readTLV(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: trailing bytes after top-level SEQUENCE", ErrMalformed)
	}
	if outer.class != classUniversal || outer.tag != tagSequence {
		return nil, fmt.Errorf("%w: top level is not a SEQUENCE", ErrMalformed)
	}

	fields := outer.content
	var kd KeyDescription

	attestationVersion, fields, err := nextInt(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: attestationVersion: %v", ErrMalformed, err)
	}
	kd.AttestationVersion = int(attestationVersion)

	attestationSecurityLevel, fields, err := nextEnum(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: attestationSecurityLevel: %v", ErrMalformed, err)
	}
	kd.AttestationSecurityLevel = SecurityLevel(attestationSecurityLevel)

	keymasterVersion, fields, err := nextInt(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: keymasterVersion: %v", ErrMalformed, err)
	}
	kd.KeymasterVersion = int(keymasterVersion)

	keymasterSecurityLevel, fields, err := nextEnum(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: keymasterSecurityLevel: %v", ErrMalformed, err)
	}
	kd.KeymasterSecurityLevel = SecurityLevel(keymasterSecurityLevel)

	challenge, fields, err := nextOctetString(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: attestationChallenge: %v", ErrMalformed, err)
	}
	kd.AttestationChallenge = challenge

	uniqueID, fields, err := nextOctetString(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: uniqueId: %v", ErrMalformed, err)
	}
	kd.UniqueID = uniqueID

	softwareEnforcedTLV, fields, err := readTLV(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: softwareEnforced: %v", ErrMalformed, err)
	}
	kd.SoftwareEnforced, err = parseAuthorizationList(softwareEnforcedTLV)
	if err != nil {
		return nil, fmt.Errorf("%w: softwareEnforced: %v", ErrMalformed, err)
	}

	teeEnforcedTLV, fields, err := readTLV(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: teeEnforced: %v", ErrMalformed, err)
	}
	kd.TeeEnforced, err = parseAuthorizationList(teeEnforcedTLV)
	if err != nil {
		return nil, fmt.Errorf("%w: teeEnforced: %v", ErrMalformed, err)
	}

	_ = fields // trailing KM fields beyond teeEnforced, if any, are ignored

	return &kd, nil
}

func nextInt(data []byte) (int64, []byte, error) {
	el, rest, err := readTLV(data)
	if err != nil {
		return 0, nil, err
	}
	if el.class != classUniversal || el.tag != tagInteger {
		return 0, nil, fmt.Errorf("expected INTEGER, got class=%d tag=%d", el.class, el.tag)
	}
	v, err := parseASN1Int(el.content)
	return v, rest, err
}

func nextEnum(data []byte) (int64, []byte, error) {
	el, rest, err := readTLV(data)
	if err != nil {
		return 0, nil, err
	}
	if el.class != classUniversal || el.tag != tagEnumerated {
		return 0, nil, fmt.Errorf("expected ENUMERATED, got class=%d tag=%d", el.class, el.tag)
	}
	v, err := parseASN1Int(el.content)
	return v, rest, err
}

func nextOctetString(data []byte) ([]byte, []byte, error) {
	el, rest, err := readTLV(data)
	if err != nil {
		return nil, nil, err
	}
	if el.class != classUniversal || el.tag != tagOctetString {
		return nil, nil, fmt.Errorf("expected OCTET STRING, got class=%d tag=%d", el.class, el.tag)
	}
	return el.content, rest, nil
}

// parseAuthorizationList walks the SEQUENCE OF EXPLICIT-tagged optional
// fields that make up an AOSP AuthorizationList, consulting only the tags
// the policy engines use and ignoring everything else.
func parseAuthorizationList(outer tlv) (AuthorizationList, error) {
	var out AuthorizationList
	if outer.class != classUniversal || outer.tag != tagSequence {
		return out, fmt.Errorf("AuthorizationList is not a SEQUENCE")
	}

	remaining := outer.content
	for len(remaining) > 0 {
		var el tlv
		var err error
		el, remaining, err = readTLV(remaining)
		if err != nil {
			return out, err
		}
		if el.class != classContextSpecific {
			// Not an explicit-tagged KM field; skip.
			continue
		}

		switch el.tag {
		case tagKeySize:
			inner, err := readInner(el)
			if err != nil {
				return out, fmt.Errorf("keySize: %w", err)
			}
			v, err := parseASN1Int(inner.content)
			if err != nil {
				return out, fmt.Errorf("keySize: %w", err)
			}
			size := int(v)
			out.KeySize = &size

		case tagOSVersion:
			inner, err := readInner(el)
			if err != nil {
				return out, fmt.Errorf("osVersion: %w", err)
			}
			v, err := parseASN1Int(inner.content)
			if err != nil {
				return out, fmt.Errorf("osVersion: %w", err)
			}
			osVersion := int(v)
			out.OSVersion = &osVersion

		case tagOSPatchLevel:
			inner, err := readInner(el)
			if err != nil {
				return out, fmt.Errorf("osPatchLevel: %w", err)
			}
			v, err := parseASN1Int(inner.content)
			if err != nil {
				return out, fmt.Errorf("osPatchLevel: %w", err)
			}
			patchLevel := int(v)
			out.OSPatchLevel = &patchLevel

		case tagCreationDateTime:
			inner, err := readInner(el)
			if err != nil {
				return out, fmt.Errorf("creationDateTime: %w", err)
			}
			ms, err := parseASN1Int(inner.content)
			if err != nil {
				return out, fmt.Errorf("creationDateTime: %w", err)
			}
			t := time.UnixMilli(ms).UTC()
			out.CreationDateTime = &t

		case tagRootOfTrust:
			inner, err := readInner(el)
			if err != nil {
				return out, fmt.Errorf("rootOfTrust: %w", err)
			}
			rot, err := parseRootOfTrust(inner)
			if err != nil {
				return out, fmt.Errorf("rootOfTrust: %w", err)
			}
			out.RootOfTrust = rot

		case tagAttestationApplicationId:
			inner, err := readInner(el)
			if err != nil {
				return out, fmt.Errorf("attestationApplicationId: %w", err)
			}
			if inner.class != classUniversal || inner.tag != tagOctetString {
				return out, fmt.Errorf("attestationApplicationId: expected OCTET STRING wrapper")
			}
			appID, err := parseAttestationApplicationId(inner.content)
			if err != nil {
				return out, fmt.Errorf("attestationApplicationId: %w", err)
			}
			out.AttestationApplicationId = appID

		case tagRollbackResistance:
			// Presence-as-true: the tag carries no meaningful payload.
			out.RollbackResistance = true

		default:
			// Unconsulted KM tag; ignored.
		}
	}

	return out, nil
}

func parseRootOfTrust(outer tlv) (*RootOfTrust, error) {
	if outer.class != classUniversal || outer.tag != tagSequence {
		return nil, fmt.Errorf("not a SEQUENCE")
	}
	var rot RootOfTrust
	remaining := outer.content

	verifiedBootKey, remaining, err := nextOctetString(remaining)
	if err != nil {
		return nil, fmt.Errorf("verifiedBootKey: %w", err)
	}
	rot.VerifiedBootKey = verifiedBootKey

	el, remaining, err := readTLV(remaining)
	if err != nil {
		return nil, fmt.Errorf("deviceLocked: %w", err)
	}
	if el.class != classUniversal || el.tag != tagBoolean {
		return nil, fmt.Errorf("deviceLocked: expected BOOLEAN")
	}
	locked, err := parseASN1Bool(el.content)
	if err != nil {
		return nil, fmt.Errorf("deviceLocked: %w", err)
	}
	rot.DeviceLocked = locked

	el, remaining, err = readTLV(remaining)
	if err != nil {
		return nil, fmt.Errorf("verifiedBootState: %w", err)
	}
	if el.class != classUniversal || el.tag != tagEnumerated {
		return nil, fmt.Errorf("verifiedBootState: expected ENUMERATED")
	}
	state, err := parseASN1Int(el.content)
	if err != nil {
		return nil, fmt.Errorf("verifiedBootState: %w", err)
	}
	rot.VerifiedBootState = VerifiedBootState(state)

	// verifiedBootHash is optional (added in a later AOSP revision).
	if len(remaining) > 0 {
		hash, _, err := nextOctetString(remaining)
		if err == nil {
			rot.VerifiedBootHash = hash
		}
	}

	return &rot, nil
}

func parseAttestationApplicationId(der []byte) (*AttestationApplicationId, error) {
	outer, rest, err := readTLV(der)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("trailing bytes after AttestationApplicationId SEQUENCE")
	}
	if outer.class != classUniversal || outer.tag != tagSequence {
		return nil, fmt.Errorf("not a SEQUENCE")
	}

	var out AttestationApplicationId
	remaining := outer.content

	packageInfosSet, remaining, err := readTLV(remaining)
	if err != nil {
		return nil, fmt.Errorf("packageInfos: %w", err)
	}
	if packageInfosSet.class != classUniversal || packageInfosSet.tag != tagSet {
		return nil, fmt.Errorf("packageInfos: expected SET OF")
	}
	pkgRemaining := packageInfosSet.content
	for len(pkgRemaining) > 0 {
		var pkgSeq tlv
		pkgSeq, pkgRemaining, err = readTLV(pkgRemaining)
		if err != nil {
			return nil, fmt.Errorf("packageInfos: %w", err)
		}
		if pkgSeq.class != classUniversal || pkgSeq.tag != tagSequence {
			return nil, fmt.Errorf("packageInfos: expected SEQUENCE entries")
		}
		nameTLV, nameRest, err := readTLV(pkgSeq.content)
		if err != nil {
			return nil, fmt.Errorf("packageInfos: package name: %w", err)
		}
		if nameTLV.class != classUniversal || nameTLV.tag != tagOctetString {
			return nil, fmt.Errorf("packageInfos: package name: expected OCTET STRING")
		}
		versionTLV, _, err := readTLV(nameRest)
		if err != nil {
			return nil, fmt.Errorf("packageInfos: version: %w", err)
		}
		version, err := parseASN1Int(versionTLV.content)
		if err != nil {
			return nil, fmt.Errorf("packageInfos: version: %w", err)
		}
		out.PackageInfos = append(out.PackageInfos, PackageInfo{
			Name:    string(nameTLV.content),
			Version: version,
		})
	}

	signatureDigestsSet, remaining, err := readTLV(remaining)
	if err != nil {
		return nil, fmt.Errorf("signatureDigests: %w", err)
	}
	if signatureDigestsSet.class != classUniversal || signatureDigestsSet.tag != tagSet {
		return nil, fmt.Errorf("signatureDigests: expected SET OF")
	}
	digestRemaining := signatureDigestsSet.content
	for len(digestRemaining) > 0 {
		var digestTLV tlv
		digestTLV, digestRemaining, err = readTLV(digestRemaining)
		if err != nil {
			return nil, fmt.Errorf("signatureDigests: %w", err)
		}
		if digestTLV.class != classUniversal || digestTLV.tag != tagOctetString {
			return nil, fmt.Errorf("signatureDigests: expected OCTET STRING entries")
		}
		out.SignatureDigests = append(out.SignatureDigests, digestTLV.content)
	}

	_ = remaining
	return &out, nil
}
