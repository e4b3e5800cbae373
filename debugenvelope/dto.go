package debugenvelope

import (
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/url"

	"github.com/kacy/android-key-attestation/config"
)

// configDTO is the JSON-friendly projection of config.AttestationConfig:
// public keys as PEM, signature digests as base64, everything else as-is.
// It must round-trip losslessly for every field the engines consult.
type configDTO struct {
	Applications []appDataDTO `json:"applications"`

	AndroidVersion *int `json:"androidVersion,omitempty"`
	PatchLevel     *int `json:"patchLevel,omitempty"`

	RequireStrongBox          bool `json:"requireStrongBox"`
	AllowBootloaderUnlock     bool `json:"allowBootloaderUnlock"`
	RequireRollbackResistance bool `json:"requireRollbackResistance"`
	IgnoreLeafValidity        bool `json:"ignoreLeafValidity"`

	HardwareTrustAnchors []string `json:"hardwareTrustAnchors,omitempty"`
	SoftwareTrustAnchors []string `json:"softwareTrustAnchors,omitempty"`

	VerificationSecondsOffset           int64  `json:"verificationSecondsOffset"`
	AttestationStatementValiditySeconds *int64 `json:"attestationStatementValiditySeconds,omitempty"`
	MaxFutureMonths                     *int   `json:"maxFutureMonths,omitempty"`

	EnableSoftwareAttestation  bool `json:"enableSoftwareAttestation"`
	EnableNougatAttestation    bool `json:"enableNougatAttestation"`
	DisableHardwareAttestation bool `json:"disableHardwareAttestation"`

	HTTPProxy *string `json:"httpProxy,omitempty"`
}

type appDataDTO struct {
	PackageName            string   `json:"packageName"`
	SignatureDigests        []string `json:"signatureDigests"`
	AppVersion              *int64   `json:"appVersion,omitempty"`
	AndroidVersionOverride  *int     `json:"androidVersionOverride,omitempty"`
	PatchLevelOverride      *int     `json:"patchLevelOverride,omitempty"`
	TrustAnchorOverrides    []string `json:"trustAnchorOverrides,omitempty"`
}

func anchorsToPEM(anchors config.AnchorSet) []string {
	if len(anchors) == 0 {
		return nil
	}
	out := make([]string, len(anchors))
	for i, a := range anchors {
		out[i] = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: a.SPKIDER}))
	}
	return out
}

func anchorsFromPEM(pems []string) (config.AnchorSet, error) {
	if len(pems) == 0 {
		return nil, nil
	}
	out := make(config.AnchorSet, 0, len(pems))
	for _, p := range pems {
		anchor, err := config.ParseAnchorPEM([]byte(p))
		if err != nil {
			return nil, err
		}
		out = append(out, anchor)
	}
	return out, nil
}

func configToDTO(cfg *config.AttestationConfig) (configDTO, error) {
	dto := configDTO{
		RequireStrongBox:                    cfg.RequireStrongBox,
		AllowBootloaderUnlock:               cfg.AllowBootloaderUnlock,
		RequireRollbackResistance:           cfg.RequireRollbackResistance,
		IgnoreLeafValidity:                  cfg.IgnoreLeafValidity,
		HardwareTrustAnchors:                anchorsToPEM(cfg.HardwareTrustAnchors),
		SoftwareTrustAnchors:                anchorsToPEM(cfg.SoftwareTrustAnchors),
		VerificationSecondsOffset:           cfg.VerificationSecondsOffset,
		AttestationStatementValiditySeconds: cfg.AttestationStatementValiditySeconds,
		MaxFutureMonths:                     cfg.MaxFutureMonths,
		EnableSoftwareAttestation:           cfg.EnableSoftwareAttestation,
		EnableNougatAttestation:             cfg.EnableNougatAttestation,
		DisableHardwareAttestation:          cfg.DisableHardwareAttestation,
		AndroidVersion:                      cfg.AndroidVersion,
	}
	if cfg.PatchLevel != nil {
		v := cfg.PatchLevel.Int()
		dto.PatchLevel = &v
	}
	if cfg.HTTPProxy != nil {
		s := cfg.HTTPProxy.String()
		dto.HTTPProxy = &s
	}

	for _, app := range cfg.Applications {
		appDTO := appDataDTO{
			PackageName:            app.PackageName,
			AppVersion:             app.AppVersion,
			AndroidVersionOverride: app.AndroidVersionOverride,
		}
		for _, d := range app.SignatureDigests {
			appDTO.SignatureDigests = append(appDTO.SignatureDigests, base64.StdEncoding.EncodeToString(d[:]))
		}
		if app.PatchLevelOverride != nil {
			v := app.PatchLevelOverride.Int()
			appDTO.PatchLevelOverride = &v
		}
		appDTO.TrustAnchorOverrides = anchorsToPEM(app.TrustAnchorOverrides)
		dto.Applications = append(dto.Applications, appDTO)
	}

	return dto, nil
}

func (dto configDTO) toConfig() (*config.AttestationConfig, error) {
	b := config.NewBuilder().
		WithRequireStrongBox(dto.RequireStrongBox).
		WithAllowBootloaderUnlock(dto.AllowBootloaderUnlock).
		WithRequireRollbackResistance(dto.RequireRollbackResistance).
		WithIgnoreLeafValidity(dto.IgnoreLeafValidity).
		WithVerificationSecondsOffset(dto.VerificationSecondsOffset).
		WithEnableSoftwareAttestation(dto.EnableSoftwareAttestation).
		WithEnableNougatAttestation(dto.EnableNougatAttestation).
		WithDisableHardwareAttestation(dto.DisableHardwareAttestation).
		WithMaxFutureMonths(dto.MaxFutureMonths)

	if dto.AndroidVersion != nil {
		b = b.WithAndroidVersion(*dto.AndroidVersion)
	}
	if dto.PatchLevel != nil {
		pl, err := config.PatchLevelFromInt(*dto.PatchLevel)
		if err != nil {
			return nil, err
		}
		b = b.WithPatchLevel(pl)
	}
	if dto.AttestationStatementValiditySeconds != nil {
		b = b.WithAttestationStatementValiditySeconds(*dto.AttestationStatementValiditySeconds)
	}
	if dto.HTTPProxy != nil {
		u, err := url.Parse(*dto.HTTPProxy)
		if err != nil {
			return nil, fmt.Errorf("debugenvelope: parsing httpProxy: %w", err)
		}
		b = b.WithHTTPProxy(u)
	}

	hwAnchors, err := anchorsFromPEM(dto.HardwareTrustAnchors)
	if err != nil {
		return nil, err
	}
	if len(hwAnchors) > 0 {
		b = b.WithHardwareTrustAnchors(hwAnchors...)
	}
	swAnchors, err := anchorsFromPEM(dto.SoftwareTrustAnchors)
	if err != nil {
		return nil, err
	}
	if len(swAnchors) > 0 {
		b = b.WithSoftwareTrustAnchors(swAnchors...)
	}

	apps := make([]config.AppData, 0, len(dto.Applications))
	for _, appDTO := range dto.Applications {
		app := config.AppData{
			PackageName:            appDTO.PackageName,
			AppVersion:             appDTO.AppVersion,
			AndroidVersionOverride: appDTO.AndroidVersionOverride,
		}
		for _, encoded := range appDTO.SignatureDigests {
			raw, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return nil, fmt.Errorf("debugenvelope: decoding signature digest: %w", err)
			}
			if len(raw) != 32 {
				return nil, fmt.Errorf("debugenvelope: signature digest must be 32 bytes, got %d", len(raw))
			}
			var digest [32]byte
			copy(digest[:], raw)
			app.SignatureDigests = append(app.SignatureDigests, digest)
		}
		if appDTO.PatchLevelOverride != nil {
			pl, err := config.PatchLevelFromInt(*appDTO.PatchLevelOverride)
			if err != nil {
				return nil, err
			}
			app.PatchLevelOverride = &pl
		}
		overrides, err := anchorsFromPEM(appDTO.TrustAnchorOverrides)
		if err != nil {
			return nil, err
		}
		app.TrustAnchorOverrides = overrides
		apps = append(apps, app)
	}
	b = b.WithApplications(apps...)

	return b.Build()
}
