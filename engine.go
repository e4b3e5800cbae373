package attestation

import (
	"bytes"
	"context"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/kacy/android-key-attestation/chain"
	"github.com/kacy/android-key-attestation/config"
	"github.com/kacy/android-key-attestation/keydescription"
)

// Kind tags which of the three attestation flavors an Engine implements.
type Kind int

const (
	Hardware Kind = iota
	Software
	NougatHybrid
)

func (k Kind) String() string {
	switch k {
	case Hardware:
		return "HARDWARE"
	case Software:
		return "SOFTWARE"
	case NougatHybrid:
		return "NOUGAT_HYBRID"
	default:
		return "UNKNOWN"
	}
}

// ConfigurationError reports that an Engine could not be constructed
// because its required preconditions aren't met by the supplied config.
type ConfigurationError struct {
	Kind   Kind
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("attestation: cannot construct %s engine: %s", e.Kind, e.Detail)
}

// Engine verifies attestation chains against one of the three Android Key
// Attestation flavors. All three share the verify skeleton described in
// Verify; what differs between them — trust anchor selection, security
// level rules, which checks apply — is dispatched on Kind.
type Engine struct {
	kind       Kind
	cfg        *config.AttestationConfig
	revocation chain.RevocationChecker

	// defaultHardwareAnchors/defaultSoftwareAnchors back the chain
	// validator's OtherMatchingRoot diagnostic; they are independent of
	// cfg's own anchors and may be left empty if no bundled defaults are
	// loaded.
	defaultHardwareAnchors config.AnchorSet
	defaultSoftwareAnchors config.AnchorSet
}

// EngineOption customizes Engine construction.
type EngineOption func(*Engine)

// WithDefaultAnchors supplies the well-known default hardware/software
// anchor sets consulted only for OtherMatchingRoot diagnostics.
func WithDefaultAnchors(hardware, software config.AnchorSet) EngineOption {
	return func(e *Engine) {
		e.defaultHardwareAnchors = hardware
		e.defaultSoftwareAnchors = software
	}
}

// NewHardwareEngine constructs the Hardware engine. It requires hardware
// attestation not to be disabled and a non-empty hardware trust anchor set.
func NewHardwareEngine(cfg *config.AttestationConfig, revocation chain.RevocationChecker, opts ...EngineOption) (*Engine, error) {
	if !cfg.HardwareEngineEnabled() {
		return nil, &ConfigurationError{Kind: Hardware, Detail: "hardware attestation is disabled or no hardware trust anchors are configured"}
	}
	return newEngine(Hardware, cfg, revocation, opts), nil
}

// NewSoftwareEngine constructs the Software engine. It requires software
// attestation to be explicitly enabled and a non-empty software trust
// anchor set.
func NewSoftwareEngine(cfg *config.AttestationConfig, revocation chain.RevocationChecker, opts ...EngineOption) (*Engine, error) {
	if !cfg.SoftwareEngineEnabled() {
		return nil, &ConfigurationError{Kind: Software, Detail: "software attestation is not enabled or no software trust anchors are configured"}
	}
	return newEngine(Software, cfg, revocation, opts), nil
}

// NewNougatHybridEngine constructs the Nougat-Hybrid engine, for devices
// that shipped with Android 7 where the Keymaster is hardware-backed but
// reports a SOFTWARE attestation security level. It requires Nougat
// attestation to be explicitly enabled and a non-empty hardware trust
// anchor set (the legacy keymaster signing key belongs to that set even
// though chain validation itself walks to a software root).
func NewNougatHybridEngine(cfg *config.AttestationConfig, revocation chain.RevocationChecker, opts ...EngineOption) (*Engine, error) {
	if !cfg.NougatHybridEngineEnabled() {
		return nil, &ConfigurationError{Kind: NougatHybrid, Detail: "Nougat-Hybrid attestation is not enabled or no hardware trust anchors are configured"}
	}
	return newEngine(NougatHybrid, cfg, revocation, opts), nil
}

func newEngine(kind Kind, cfg *config.AttestationConfig, revocation chain.RevocationChecker, opts []EngineOption) *Engine {
	e := &Engine{kind: kind, cfg: cfg, revocation: revocation}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Kind reports which attestation flavor e implements.
func (e *Engine) Kind() Kind { return e.kind }

// engineAnchors returns the engine-wide anchor set e validates chains
// against, before any per-app override is applied.
func (e *Engine) engineAnchors() config.AnchorSet {
	switch e.kind {
	case Hardware:
		return e.cfg.HardwareTrustAnchors
	case Software, NougatHybrid:
		return e.cfg.SoftwareTrustAnchors
	default:
		return nil
	}
}

// Verify runs the full check sequence against certs (ordered leaf-first)
// and returns the decoded KeyDescription on success.
func (e *Engine) Verify(ctx context.Context, certs []*x509.Certificate, verificationTime time.Time, expectedChallenge []byte) (*keydescription.KeyDescription, error) {
	if len(certs) == 0 {
		return nil, valueErrDetail(ReasonAppUnexpected, "empty certificate chain")
	}

	adjusted := verificationTime.Add(time.Duration(e.cfg.VerificationSecondsOffset) * time.Second)

	kd, err := keydescription.Decode(certs[0])
	if err != nil {
		return nil, valueErrDetail(ReasonAppUnexpected, err.Error())
	}

	app, appErr := e.identifyApp(kd)
	if appErr != nil {
		return nil, appErr
	}

	anchors := config.AnchorsForApp(app, e.engineAnchors())

	if err := chain.ValidateChain(ctx, certs, adjusted, anchors, e.cfg.IgnoreLeafValidity, e.revocation, e.defaultHardwareAnchors, e.defaultSoftwareAnchors); err != nil {
		return nil, err
	}

	if !bytes.Equal(expectedChallenge, kd.AttestationChallenge) {
		return nil, valueErr(ReasonChallenge, expectedChallenge, kd.AttestationChallenge)
	}

	if err := e.verifyAttestationTime(kd, adjusted); err != nil {
		return nil, err
	}
	if err := e.verifySecurityLevel(kd); err != nil {
		return nil, err
	}
	if err := e.verifySystemLocked(kd); err != nil {
		return nil, err
	}
	if err := e.verifyRollbackResistance(kd); err != nil {
		return nil, err
	}
	if err := e.verifyAndroidVersion(kd, app, verificationTime); err != nil {
		return nil, err
	}

	return kd, nil
}

// identifyApp walks cfg.Applications in order, returning the first whose
// verifyApplication check succeeds. If every app fails, the first
// configured app's failure is returned, for deterministic diagnostics.
func (e *Engine) identifyApp(kd *keydescription.KeyDescription) (config.AppData, error) {
	var firstErr error
	for _, app := range e.cfg.Applications {
		if err := verifyApplication(app, kd); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return app, nil
	}
	if firstErr == nil {
		firstErr = valueErrDetail(ReasonAppUnexpected, "no applications configured")
	}
	return config.AppData{}, firstErr
}

func verifyApplication(app config.AppData, kd *keydescription.KeyDescription) error {
	appID := kd.SoftwareEnforced.AttestationApplicationId
	if appID == nil {
		return valueErrDetail(ReasonAppUnexpected, "attestation carries no attestationApplicationId")
	}

	matched := false
	for _, pi := range appID.PackageInfos {
		if pi.Name == app.PackageName {
			matched = true
			if app.AppVersion != nil && pi.Version < *app.AppVersion {
				return valueErr(ReasonAppVersion, *app.AppVersion, pi.Version)
			}
			break
		}
	}
	if !matched {
		return valueErr(ReasonPackageName, app.PackageName, appID.PackageInfos)
	}

	for _, digest := range appID.SignatureDigests {
		if len(digest) == 32 {
			var d [32]byte
			copy(d[:], digest)
			if app.HasDigest(d) {
				return nil
			}
		}
	}
	return valueErrDetail(ReasonAppSignerDigest, "no configured signature digest matches the attestation")
}

// verifyAttestationTime checks the attestation's creation time against
// check, which must already have verification_seconds_offset applied.
func (e *Engine) verifyAttestationTime(kd *keydescription.KeyDescription, check time.Time) error {
	if e.kind == NougatHybrid {
		return nil
	}
	if e.cfg.AttestationStatementValiditySeconds == nil {
		return nil
	}
	validity := time.Duration(*e.cfg.AttestationStatementValiditySeconds) * time.Second

	createdAt := kd.TeeEnforced.CreationDateTime
	if createdAt == nil {
		createdAt = kd.SoftwareEnforced.CreationDateTime
	}
	if createdAt == nil {
		return valueErrDetail(ReasonTime, "attestation carries no creationDateTime")
	}
	if createdAt.After(check) {
		return valueErr(ReasonTime, check, *createdAt)
	}
	if check.Sub(*createdAt) > validity {
		return valueErr(ReasonTime, validity, check.Sub(*createdAt))
	}
	return nil
}

func (e *Engine) androidVersionList(kd *keydescription.KeyDescription) (keydescription.AuthorizationList, bool) {
	switch e.kind {
	case Hardware:
		return kd.TeeEnforced, true
	case Software:
		return kd.SoftwareEnforced, true
	default:
		return keydescription.AuthorizationList{}, false
	}
}

func (e *Engine) verifyAndroidVersion(kd *keydescription.KeyDescription, app config.AppData, verificationTime time.Time) error {
	list, ok := e.androidVersionList(kd)
	if !ok {
		return nil
	}

	if minVersion := e.cfg.AndroidVersionFor(app); minVersion != nil {
		if list.OSVersion == nil || *list.OSVersion < *minVersion {
			return valueErr(ReasonOSVersion, *minVersion, list.OSVersion)
		}
	}

	if minPatch := e.cfg.PatchLevelFor(app); minPatch != nil {
		if list.OSPatchLevel == nil {
			return valueErr(ReasonOSVersion, *minPatch, nil)
		}
		attested, err := config.PatchLevelFromInt(*list.OSPatchLevel)
		if err != nil {
			return valueErrDetail(ReasonOSVersion, err.Error())
		}
		if attested.Before(*minPatch) {
			return valueErr(ReasonOSVersion, *minPatch, attested)
		}
		if e.cfg.MaxFutureMonths != nil {
			latestAllowed, err := config.PatchLevelFromInt(yearMonth(verificationTime))
			if err != nil {
				return valueErrDetail(ReasonOSVersion, err.Error())
			}
			latestAllowed = latestAllowed.AddMonths(*e.cfg.MaxFutureMonths)
			if latestAllowed.Before(attested) {
				return valueErr(ReasonOSVersion, latestAllowed, attested)
			}
		}
	}

	return nil
}

func yearMonth(t time.Time) int {
	return t.UTC().Year()*100 + int(t.UTC().Month())
}

func (e *Engine) verifySystemLocked(kd *keydescription.KeyDescription) error {
	if e.kind != Hardware {
		return nil
	}
	if e.cfg.AllowBootloaderUnlock {
		return nil
	}
	rot := kd.TeeEnforced.RootOfTrust
	if rot == nil {
		return valueErrDetail(ReasonSystemIntegrity, "attestation carries no rootOfTrust")
	}
	if !rot.DeviceLocked {
		return valueErr(ReasonSystemIntegrity, true, rot.DeviceLocked)
	}
	if rot.VerifiedBootState != keydescription.VerifiedBootStateVerified {
		return valueErr(ReasonSystemIntegrity, keydescription.VerifiedBootStateVerified, rot.VerifiedBootState)
	}
	return nil
}

func (e *Engine) rollbackList(kd *keydescription.KeyDescription) keydescription.AuthorizationList {
	if e.kind == Software {
		return kd.SoftwareEnforced
	}
	return kd.TeeEnforced
}

func (e *Engine) verifyRollbackResistance(kd *keydescription.KeyDescription) error {
	if !e.cfg.RequireRollbackResistance {
		return nil
	}
	if !e.rollbackList(kd).RollbackResistance {
		return valueErr(ReasonRollbackResistance, true, false)
	}
	return nil
}

func (e *Engine) verifySecurityLevel(kd *keydescription.KeyDescription) error {
	asl := kd.AttestationSecurityLevel
	ksl := kd.KeymasterSecurityLevel

	switch e.kind {
	case Hardware:
		if e.cfg.RequireStrongBox {
			if asl != keydescription.SecurityLevelStrongBox || ksl != keydescription.SecurityLevelStrongBox {
				return valueErr(ReasonSecLevel, keydescription.SecurityLevelStrongBox, asl)
			}
			return nil
		}
		if asl == keydescription.SecurityLevelSoftware || ksl == keydescription.SecurityLevelSoftware {
			return valueErr(ReasonSecLevel, "!= SOFTWARE", asl)
		}
		return nil

	case Software:
		if asl != keydescription.SecurityLevelSoftware || ksl != keydescription.SecurityLevelSoftware {
			return valueErr(ReasonSecLevel, keydescription.SecurityLevelSoftware, asl)
		}
		return nil

	case NougatHybrid:
		if e.cfg.RequireStrongBox {
			if asl != keydescription.SecurityLevelSoftware || ksl != keydescription.SecurityLevelStrongBox {
				return valueErr(ReasonSecLevel, "SOFTWARE/STRONG_BOX", fmt.Sprintf("%s/%s", asl, ksl))
			}
			return nil
		}
		if asl != keydescription.SecurityLevelSoftware || ksl == keydescription.SecurityLevelSoftware {
			return valueErr(ReasonSecLevel, "SOFTWARE/!=SOFTWARE", fmt.Sprintf("%s/%s", asl, ksl))
		}
		return nil

	default:
		return fmt.Errorf("attestation: unknown engine kind %d", e.kind)
	}
}
