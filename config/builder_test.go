package config

import (
	"errors"
	"testing"
)

func validApp() AppData {
	return AppData{
		PackageName:      "com.example.app",
		SignatureDigests: [][32]byte{{1, 2, 3}},
	}
}

func validHardwareAnchor() TrustAnchor {
	return TrustAnchor{SPKIDER: []byte{0xDE, 0xAD, 0xBE, 0xEF}}
}

func TestBuilderValid(t *testing.T) {
	cfg, err := NewBuilder().
		WithApplications(validApp()).
		WithHardwareTrustAnchors(validHardwareAnchor()).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v, want nil", err)
	}
	if len(cfg.Applications) != 1 {
		t.Errorf("Applications = %d, want 1", len(cfg.Applications))
	}
	if !cfg.HardwareEngineEnabled() {
		t.Error("HardwareEngineEnabled() = false, want true")
	}
}

func TestBuilderRejectsEmptyApplications(t *testing.T) {
	_, err := NewBuilder().
		WithHardwareTrustAnchors(validHardwareAnchor()).
		Build()
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Build() error = %v, want ErrConfiguration", err)
	}
}

func TestBuilderRejectsEmptyAnchors(t *testing.T) {
	_, err := NewBuilder().
		WithApplications(validApp()).
		Build()
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Build() error = %v, want ErrConfiguration", err)
	}
}

func TestBuilderRejectsAllEnginesDisabled(t *testing.T) {
	_, err := NewBuilder().
		WithApplications(validApp()).
		WithHardwareTrustAnchors(validHardwareAnchor()).
		WithDisableHardwareAttestation(true).
		Build()
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Build() error = %v, want ErrConfiguration", err)
	}
}

func TestBuilderRejectsEmptyDigests(t *testing.T) {
	app := AppData{PackageName: "com.example.app"}
	_, err := NewBuilder().
		WithApplications(app).
		WithHardwareTrustAnchors(validHardwareAnchor()).
		Build()
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Build() error = %v, want ErrConfiguration", err)
	}
}

func TestBuilderAggregatesMultipleViolations(t *testing.T) {
	_, err := NewBuilder().
		WithDisableHardwareAttestation(true).
		Build()

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Build() error = %v, want *ConfigurationError", err)
	}
	if len(cfgErr.Violations.Errors) < 3 {
		t.Errorf("violations = %d, want at least 3 (empty applications, empty anchors, no engine enabled)", len(cfgErr.Violations.Errors))
	}
}

func TestAnchorsForAppOverride(t *testing.T) {
	engineWide := AnchorSet{{SPKIDER: []byte("engine")}}
	override := AnchorSet{{SPKIDER: []byte("override")}}

	app := validApp()
	app.TrustAnchorOverrides = override

	got := AnchorsForApp(app, engineWide)
	if len(got) != 1 || string(got[0].SPKIDER) != "override" {
		t.Errorf("AnchorsForApp() = %v, want override set", got)
	}

	app2 := validApp()
	got2 := AnchorsForApp(app2, engineWide)
	if len(got2) != 1 || string(got2[0].SPKIDER) != "engine" {
		t.Errorf("AnchorsForApp() with no override = %v, want engine-wide set", got2)
	}
}
