// Package debugenvelope captures everything a verify call consulted — the
// engine kind, the full configuration, the verification time, the expected
// challenge, and the certificate chain — into a JSON-serializable record
// that can be replayed later against the same (or a reconstructed) engine.
package debugenvelope

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/google/uuid"

	attestation "github.com/kacy/android-key-attestation"
	"github.com/kacy/android-key-attestation/chain"
	"github.com/kacy/android-key-attestation/config"
	"github.com/kacy/android-key-attestation/keydescription"
)

// Envelope is a replayable snapshot of one verify call's inputs. Its JSON
// form is produced and consumed by custom MarshalJSON/UnmarshalJSON
// methods, not struct tags, since the wire representation (base64url
// challenge, PEM chain, millisecond-precision timestamp) differs from Go's
// natural encoding of these field types.
type Envelope struct {
	// ReplayID uniquely identifies this captured envelope, useful for
	// correlating a replay's result with the original failure report.
	ReplayID string

	Kind             attestation.Kind
	Configuration    configDTO
	VerificationTime time.Time
	Challenge        []byte

	chainPEMs []string
}

// Capture builds an Envelope from the inputs of a verify call, before the
// call is made. kind must match the engine that will perform verification.
func Capture(kind attestation.Kind, cfg *config.AttestationConfig, verificationTime time.Time, challenge []byte, certs []*x509.Certificate) (*Envelope, error) {
	dto, err := configToDTO(cfg)
	if err != nil {
		return nil, fmt.Errorf("debugenvelope: converting configuration: %w", err)
	}

	pems := make([]string, len(certs))
	for i, cert := range certs {
		pems[i] = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}))
	}

	return &Envelope{
		ReplayID:         uuid.New().String(),
		Kind:             kind,
		Configuration:    dto,
		VerificationTime: verificationTime.UTC(),
		Challenge:        challenge,
		chainPEMs:        pems,
	}, nil
}

// Chain decodes the envelope's PEM-encoded certificates back into parsed
// x509 certificates, in the original leaf-first order.
func (e *Envelope) Chain() ([]*x509.Certificate, error) {
	certs := make([]*x509.Certificate, 0, len(e.chainPEMs))
	for _, p := range e.chainPEMs {
		block, _ := pem.Decode([]byte(p))
		if block == nil {
			return nil, fmt.Errorf("debugenvelope: no PEM block in stored chain entry")
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("debugenvelope: parsing stored certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// Replay reconstructs the engine named by e.Kind from e.Configuration and
// re-runs verify with the captured chain, verification time, and
// challenge. Given identical revocation-list state, it returns the same
// result as the original call.
func (e *Envelope) Replay(ctx context.Context, revocation chain.RevocationChecker) (*keydescription.KeyDescription, error) {
	cfg, err := e.Configuration.toConfig()
	if err != nil {
		return nil, fmt.Errorf("debugenvelope: rebuilding configuration: %w", err)
	}

	var engine *attestation.Engine
	switch e.Kind {
	case attestation.Hardware:
		engine, err = attestation.NewHardwareEngine(cfg, revocation)
	case attestation.Software:
		engine, err = attestation.NewSoftwareEngine(cfg, revocation)
	case attestation.NougatHybrid:
		engine, err = attestation.NewNougatHybridEngine(cfg, revocation)
	default:
		return nil, fmt.Errorf("debugenvelope: unknown engine kind %v", e.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("debugenvelope: reconstructing engine: %w", err)
	}

	certs, err := e.Chain()
	if err != nil {
		return nil, err
	}

	return engine.Verify(ctx, certs, e.VerificationTime, e.Challenge)
}

// ChallengeBase64URL returns the envelope's challenge, base64url-encoded
// per the wire format in the external-interfaces contract.
func (e *Envelope) ChallengeBase64URL() string {
	return base64.URLEncoding.EncodeToString(e.Challenge)
}
