package fakeattestation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/kacy/android-key-attestation/keydescription"
)

// ChainSpec describes a synthetic three-certificate attestation chain: a
// self-signed root, one intermediate, and a leaf carrying a Key Description
// extension built from KeyDescription.
type ChainSpec struct {
	KeyDescription KeyDescriptionSpec
	NotBefore      time.Time
	NotAfter       time.Time
	// LeafNotBefore/LeafNotAfter, when non-zero, override the leaf
	// certificate's validity window independently of the root and
	// intermediate — useful for tests that need an expired leaf chaining
	// from an otherwise-valid root.
	LeafNotBefore time.Time
	LeafNotAfter  time.Time
	// SerialOverride, when non-nil, fixes the leaf certificate's serial
	// number — useful for revocation-list tests that need a known value.
	SerialOverride *big.Int
}

// Chain is a synthetic attestation chain along with the private keys used to
// sign it, returned so tests can also exercise detached-signature paths.
type Chain struct {
	Root         *x509.Certificate
	Intermediate *x509.Certificate
	Leaf         *x509.Certificate
	RootKey      *ecdsa.PrivateKey
	LeafKey      *ecdsa.PrivateKey
}

// Certs returns the chain ordered leaf-first, as chain.ValidateChain expects.
func (c Chain) Certs() []*x509.Certificate {
	return []*x509.Certificate{c.Leaf, c.Intermediate, c.Root}
}

func serialOrRandom(override *big.Int) (*big.Int, error) {
	if override != nil {
		return override, nil
	}
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, limit)
}

// BuildChain produces a full synthetic chain. The Key Description extension
// is embedded in the leaf via x509.Certificate.ExtraExtensions, so it
// round-trips through FindExtension/Decode exactly as a real device's would.
func BuildChain(spec ChainSpec) (*Chain, error) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("fakeattestation: generate root key: %w", err)
	}
	interKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("fakeattestation: generate intermediate key: %w", err)
	}
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("fakeattestation: generate leaf key: %w", err)
	}

	notBefore := spec.NotBefore
	if notBefore.IsZero() {
		notBefore = time.Now().Add(-24 * time.Hour)
	}
	notAfter := spec.NotAfter
	if notAfter.IsZero() {
		notAfter = notBefore.Add(10 * 365 * 24 * time.Hour)
	}

	rootSerial, err := serialOrRandom(nil)
	if err != nil {
		return nil, err
	}
	rootTemplate := &x509.Certificate{
		SerialNumber:          rootSerial,
		Subject:               pkix.Name{CommonName: "fakeattestation root"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("fakeattestation: create root certificate: %w", err)
	}
	root, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, fmt.Errorf("fakeattestation: parse root certificate: %w", err)
	}

	interSerial, err := serialOrRandom(nil)
	if err != nil {
		return nil, err
	}
	interTemplate := &x509.Certificate{
		SerialNumber:          interSerial,
		Subject:               pkix.Name{CommonName: "fakeattestation intermediate"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	interDER, err := x509.CreateCertificate(rand.Reader, interTemplate, root, &interKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("fakeattestation: create intermediate certificate: %w", err)
	}
	intermediate, err := x509.ParseCertificate(interDER)
	if err != nil {
		return nil, fmt.Errorf("fakeattestation: parse intermediate certificate: %w", err)
	}

	leafSerial, err := serialOrRandom(spec.SerialOverride)
	if err != nil {
		return nil, err
	}
	leafNotBefore, leafNotAfter := notBefore, notAfter
	if !spec.LeafNotBefore.IsZero() {
		leafNotBefore = spec.LeafNotBefore
	}
	if !spec.LeafNotAfter.IsZero() {
		leafNotAfter = spec.LeafNotAfter
	}

	extValue := EncodeKeyDescription(spec.KeyDescription)
	leafTemplate := &x509.Certificate{
		SerialNumber: leafSerial,
		Subject:      pkix.Name{CommonName: "fakeattestation leaf"},
		NotBefore:    leafNotBefore,
		NotAfter:     leafNotAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtraExtensions: []pkix.Extension{
			{Id: keydescription.OID, Critical: false, Value: extValue},
		},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, intermediate, &leafKey.PublicKey, interKey)
	if err != nil {
		return nil, fmt.Errorf("fakeattestation: create leaf certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(leafDER)
	if err != nil {
		return nil, fmt.Errorf("fakeattestation: parse leaf certificate: %w", err)
	}

	return &Chain{
		Root:         root,
		Intermediate: intermediate,
		Leaf:         leaf,
		RootKey:      rootKey,
		LeafKey:      leafKey,
	}, nil
}
