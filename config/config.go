// Package config defines the typed, immutable policy an attestation
// verifier is built from: which applications are trusted, the minimum OS
// and patch level they must report, which trust anchors a chain must
// terminate at, and which of the three verification engines (Hardware,
// Software, Nougat-Hybrid) may be constructed.
//
// An AttestationConfig is assembled once via NewBuilder at startup and never
// mutated afterwards; every verification call reads it but never writes it.
package config

import "net/url"

// AttestationConfig is the ground-truth policy a verifier is constructed
// from. Build an instance with NewBuilder; the zero value is not valid.
type AttestationConfig struct {
	Applications []AppData

	AndroidVersion *int
	PatchLevel     *PatchLevel

	RequireStrongBox          bool
	AllowBootloaderUnlock     bool
	RequireRollbackResistance bool
	IgnoreLeafValidity        bool

	HardwareTrustAnchors AnchorSet
	SoftwareTrustAnchors AnchorSet

	VerificationSecondsOffset int64

	// AttestationStatementValiditySeconds, when set, bounds how stale a
	// KeyDescription's creation time may be relative to the verification
	// time.
	AttestationStatementValiditySeconds *int64

	// MaxFutureMonths bounds how far beyond the verification time an
	// attested patch level may claim to be, to catch clock-skewed or
	// forged attestations. Defaults to 1 via NewBuilder; set to nil to
	// disable the future-clamp entirely.
	MaxFutureMonths *int

	EnableSoftwareAttestation  bool
	EnableNougatAttestation    bool
	DisableHardwareAttestation bool

	HTTPProxy *url.URL
}

// HardwareEngineEnabled reports whether construction preconditions for the
// Hardware engine can be satisfied by this configuration.
func (c *AttestationConfig) HardwareEngineEnabled() bool {
	return !c.DisableHardwareAttestation && !c.HardwareTrustAnchors.Empty()
}

// SoftwareEngineEnabled reports whether construction preconditions for the
// Software engine can be satisfied by this configuration.
func (c *AttestationConfig) SoftwareEngineEnabled() bool {
	return c.EnableSoftwareAttestation && !c.SoftwareTrustAnchors.Empty()
}

// NougatHybridEngineEnabled reports whether construction preconditions for
// the Nougat-Hybrid engine can be satisfied by this configuration.
func (c *AttestationConfig) NougatHybridEngineEnabled() bool {
	return c.EnableNougatAttestation && !c.HardwareTrustAnchors.Empty()
}

// AnchorsForApp resolves the trust anchor set that applies to app: its own
// override if present, otherwise the engine-wide anchors passed in.
func AnchorsForApp(app AppData, engineWide AnchorSet) AnchorSet {
	if !app.TrustAnchorOverrides.Empty() {
		return app.TrustAnchorOverrides
	}
	return engineWide
}

// AndroidVersionFor resolves the minimum OS version that applies to app.
func (c *AttestationConfig) AndroidVersionFor(app AppData) *int {
	if app.AndroidVersionOverride != nil {
		return app.AndroidVersionOverride
	}
	return c.AndroidVersion
}

// PatchLevelFor resolves the minimum patch level that applies to app.
func (c *AttestationConfig) PatchLevelFor(app AppData) *PatchLevel {
	if app.PatchLevelOverride != nil {
		return app.PatchLevelOverride
	}
	return c.PatchLevel
}
