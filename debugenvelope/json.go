package debugenvelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	attestation "github.com/kacy/android-key-attestation"
)

func kindToWire(k attestation.Kind) (string, error) {
	switch k {
	case attestation.Hardware, attestation.Software, attestation.NougatHybrid:
		return k.String(), nil
	default:
		return "", fmt.Errorf("debugenvelope: unknown engine kind %v", k)
	}
}

func kindFromWire(s string) (attestation.Kind, error) {
	switch s {
	case "HARDWARE":
		return attestation.Hardware, nil
	case "SOFTWARE":
		return attestation.Software, nil
	case "NOUGAT_HYBRID":
		return attestation.NougatHybrid, nil
	default:
		return 0, fmt.Errorf("debugenvelope: unrecognized engine kind %q", s)
	}
}

// wireEnvelope mirrors the wire format from the external-interfaces
// contract exactly: kind as one of three strings, verificationTime as
// millisecond-precision ISO-8601 UTC, challenge as base64url, and the
// chain as an array of PEM certificates.
type wireEnvelope struct {
	ReplayID             string    `json:"replayId"`
	Kind                 string    `json:"kind"`
	Configuration        configDTO `json:"configuration"`
	VerificationTime     string    `json:"verificationTime"`
	Challenge            string    `json:"challenge"`
	AttestationStatement []string  `json:"attestationStatement"`
}

const wireTimeLayout = "2006-01-02T15:04:05.000Z"

func (e *Envelope) MarshalJSON() ([]byte, error) {
	kind, err := kindToWire(e.Kind)
	if err != nil {
		return nil, err
	}
	w := wireEnvelope{
		ReplayID:             e.ReplayID,
		Kind:                 kind,
		Configuration:        e.Configuration,
		VerificationTime:     e.VerificationTime.UTC().Format(wireTimeLayout),
		Challenge:            base64.URLEncoding.EncodeToString(e.Challenge),
		AttestationStatement: e.chainPEMs,
	}
	return json.Marshal(w)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, err := kindFromWire(w.Kind)
	if err != nil {
		return err
	}
	t, err := time.Parse(wireTimeLayout, w.VerificationTime)
	if err != nil {
		return fmt.Errorf("debugenvelope: parsing verificationTime: %w", err)
	}
	challenge, err := base64.URLEncoding.DecodeString(w.Challenge)
	if err != nil {
		return fmt.Errorf("debugenvelope: decoding challenge: %w", err)
	}

	e.ReplayID = w.ReplayID
	e.Kind = kind
	e.Configuration = w.Configuration
	e.VerificationTime = t
	e.Challenge = challenge
	e.chainPEMs = w.AttestationStatement
	return nil
}
