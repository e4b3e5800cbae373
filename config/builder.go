package config

import "net/url"

// Builder assembles an AttestationConfig. It follows the same
// construct-then-validate shape as the host service's own configuration
// loader, except every field here is set programmatically: no environment
// variable is ever consulted by the verifier itself.
type Builder struct {
	cfg AttestationConfig
}

// NewBuilder returns a Builder with every policy knob at its
// least-permissive-by-omission default (the max-future-months clamp is the
// one exception, defaulting to 1 month).
func NewBuilder() *Builder {
	defaultMaxFuture := 1
	return &Builder{cfg: AttestationConfig{MaxFutureMonths: &defaultMaxFuture}}
}

// WithMaxFutureMonths sets how far beyond the verification time an attested
// patch level may claim to be. Pass nil to disable the clamp entirely.
func (b *Builder) WithMaxFutureMonths(months *int) *Builder {
	b.cfg.MaxFutureMonths = months
	return b
}

func (b *Builder) WithApplications(apps ...AppData) *Builder {
	b.cfg.Applications = apps
	return b
}

func (b *Builder) WithAndroidVersion(v int) *Builder {
	b.cfg.AndroidVersion = &v
	return b
}

func (b *Builder) WithPatchLevel(p PatchLevel) *Builder {
	b.cfg.PatchLevel = &p
	return b
}

func (b *Builder) WithRequireStrongBox(v bool) *Builder {
	b.cfg.RequireStrongBox = v
	return b
}

func (b *Builder) WithAllowBootloaderUnlock(v bool) *Builder {
	b.cfg.AllowBootloaderUnlock = v
	return b
}

func (b *Builder) WithRequireRollbackResistance(v bool) *Builder {
	b.cfg.RequireRollbackResistance = v
	return b
}

func (b *Builder) WithIgnoreLeafValidity(v bool) *Builder {
	b.cfg.IgnoreLeafValidity = v
	return b
}

func (b *Builder) WithHardwareTrustAnchors(anchors ...TrustAnchor) *Builder {
	b.cfg.HardwareTrustAnchors = append(AnchorSet{}, anchors...)
	return b
}

func (b *Builder) WithSoftwareTrustAnchors(anchors ...TrustAnchor) *Builder {
	b.cfg.SoftwareTrustAnchors = append(AnchorSet{}, anchors...)
	return b
}

func (b *Builder) WithVerificationSecondsOffset(seconds int64) *Builder {
	b.cfg.VerificationSecondsOffset = seconds
	return b
}

func (b *Builder) WithAttestationStatementValiditySeconds(seconds int64) *Builder {
	b.cfg.AttestationStatementValiditySeconds = &seconds
	return b
}

func (b *Builder) WithEnableSoftwareAttestation(v bool) *Builder {
	b.cfg.EnableSoftwareAttestation = v
	return b
}

func (b *Builder) WithEnableNougatAttestation(v bool) *Builder {
	b.cfg.EnableNougatAttestation = v
	return b
}

func (b *Builder) WithDisableHardwareAttestation(v bool) *Builder {
	b.cfg.DisableHardwareAttestation = v
	return b
}

func (b *Builder) WithHTTPProxy(proxy *url.URL) *Builder {
	b.cfg.HTTPProxy = proxy
	return b
}

// Build validates every configuration invariant and returns the assembled,
// immutable AttestationConfig. All violations are reported together via a
// *ConfigurationError, not just the first one found.
func (b *Builder) Build() (*AttestationConfig, error) {
	c := b.cfg
	v := &violationCollector{}

	if len(c.Applications) == 0 {
		v.add("at least one application must be configured")
	}
	for i, app := range c.Applications {
		if app.PackageName == "" {
			v.add("applications[%d]: package name must not be empty", i)
		}
		if len(app.SignatureDigests) == 0 {
			v.add("applications[%d] (%s): at least one signature digest is required", i, app.PackageName)
		}
	}

	if c.HardwareTrustAnchors.Empty() && c.SoftwareTrustAnchors.Empty() {
		v.add("at least one of hardware_trust_anchors or software_trust_anchors must be non-empty")
	}

	hardwareUsable := !c.DisableHardwareAttestation
	if !hardwareUsable && !c.EnableSoftwareAttestation && !c.EnableNougatAttestation {
		v.add("at least one of hardware, software, or nougat-hybrid attestation must be enabled")
	}

	if err := v.result(); err != nil {
		return nil, err
	}

	out := c
	out.Applications = append([]AppData(nil), c.Applications...)
	return &out, nil
}
