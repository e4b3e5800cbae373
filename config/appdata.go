package config

// AppData describes one application the verifier is willing to attest:
// its package name, the set of signer certificate digests Google Play (or
// the organization's own signing pipeline) produced for it, and optional
// per-app overrides of otherwise-global policy.
type AppData struct {
	// PackageName is the Android application ID, e.g. "com.example.app".
	PackageName string

	// SignatureDigests is the set of acceptable SHA-256 signing-certificate
	// digests for this package. At least one must be present.
	SignatureDigests [][32]byte

	// AppVersion, if set, is the minimum acceptable versionCode.
	AppVersion *int64

	// AndroidVersionOverride, if set, replaces AttestationConfig.AndroidVersion
	// for this app only.
	AndroidVersionOverride *int

	// PatchLevelOverride, if set, replaces AttestationConfig.PatchLevel for
	// this app only.
	PatchLevelOverride *PatchLevel

	// TrustAnchorOverrides, if non-empty, entirely replaces the engine's
	// trust anchor set for chains attested to this app.
	TrustAnchorOverrides AnchorSet
}

// HasDigest reports whether digest is among the app's accepted signature
// digests.
func (a AppData) HasDigest(digest [32]byte) bool {
	for _, d := range a.SignatureDigests {
		if d == digest {
			return true
		}
	}
	return false
}
