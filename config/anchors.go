package config

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// TrustAnchor is a root public key a certificate chain may terminate at.
// SPKIDER is kept alongside the parsed PublicKey because the chain validator
// matches anchors by byte-exact comparison of the encoded
// SubjectPublicKeyInfo, not by cryptographic key equality.
type TrustAnchor struct {
	PublicKey crypto.PublicKey
	SPKIDER   []byte
}

// AnchorSet is an immutable collection of trust anchors.
type AnchorSet []TrustAnchor

// Empty reports whether the set has no anchors.
func (s AnchorSet) Empty() bool {
	return len(s) == 0
}

// Find returns the anchor whose SubjectPublicKeyInfo byte-exactly matches
// spkiDER, if any.
func (s AnchorSet) Find(spkiDER []byte) (TrustAnchor, bool) {
	for _, a := range s {
		if bytes.Equal(a.SPKIDER, spkiDER) {
			return a, true
		}
	}
	return TrustAnchor{}, false
}

// ParseAnchorDER builds a TrustAnchor from a DER-encoded
// SubjectPublicKeyInfo, as produced by x509.MarshalPKIXPublicKey.
func ParseAnchorDER(spkiDER []byte) (TrustAnchor, error) {
	pub, err := x509.ParsePKIXPublicKey(spkiDER)
	if err != nil {
		return TrustAnchor{}, fmt.Errorf("config: parsing trust anchor SubjectPublicKeyInfo: %w", err)
	}
	der := make([]byte, len(spkiDER))
	copy(der, spkiDER)
	return TrustAnchor{PublicKey: pub, SPKIDER: der}, nil
}

// ParseAnchorPEM parses a single "PUBLIC KEY" PEM block into a TrustAnchor.
func ParseAnchorPEM(pemBytes []byte) (TrustAnchor, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return TrustAnchor{}, fmt.Errorf("config: no PEM block found in trust anchor input")
	}
	return ParseAnchorDER(block.Bytes)
}

// ParseAnchorSetPEM parses every "PUBLIC KEY" PEM block found in data into an
// AnchorSet, skipping any other block types present in the same bundle.
func ParseAnchorSetPEM(data []byte) (AnchorSet, error) {
	var out AnchorSet
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "PUBLIC KEY" {
			continue
		}
		anchor, err := ParseAnchorDER(block.Bytes)
		if err != nil {
			return nil, err
		}
		out = append(out, anchor)
	}
	return out, nil
}

// AnchorFromCertificate extracts a TrustAnchor from a root certificate's own
// public key, useful when a caller only has the root certificate rather than
// a bare SubjectPublicKeyInfo (the two most common AOSP distribution forms).
func AnchorFromCertificate(cert *x509.Certificate) TrustAnchor {
	return TrustAnchor{
		PublicKey: cert.PublicKey,
		SPKIDER:   cert.RawSubjectPublicKeyInfo,
	}
}
