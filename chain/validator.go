package chain

import (
	"context"
	"crypto/x509"
	"fmt"
	"math/big"
	"time"

	"github.com/kacy/android-key-attestation/config"
)

// RevocationChecker reports whether a certificate serial number appears on
// Google's attestation revocation list. Implementations must be safe for
// concurrent use.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, serial *big.Int) (bool, error)
}

// eternalLeaf wraps a leaf certificate so that, when suppressed is set, its
// temporal validity is not consulted, backing the ignore_leaf_validity
// configuration flag. When suppressed is false it checks validity normally.
type eternalLeaf struct {
	*x509.Certificate
	suppressed bool
}

func (e eternalLeaf) checkValidity(t time.Time) error {
	if e.suppressed {
		return nil
	}
	if t.Before(e.NotBefore) {
		return fmt.Errorf("certificate is not valid until %s", e.NotBefore)
	}
	if t.After(e.NotAfter) {
		return fmt.Errorf("certificate expired at %s", e.NotAfter)
	}
	return nil
}

func checkValidity(cert *x509.Certificate, t time.Time) error {
	if t.Before(cert.NotBefore) {
		return fmt.Errorf("certificate is not valid until %s", cert.NotBefore)
	}
	if t.After(cert.NotAfter) {
		return fmt.Errorf("certificate expired at %s", cert.NotAfter)
	}
	return nil
}

// ValidateChain runs the full chain-validation algorithm: root anchor
// matching and signature verification, revocation checking of every
// certificate, a pairwise root-to-leaf walk verifying signatures and
// temporal validity, and a second independent PKIX path-validation pass.
//
// certs is ordered leaf-first, root-last, matching the wire order Android
// Keystore produces. anchors is the trust anchor set already selected for
// the current app (per-app override or engine-wide). defaultHardware and
// defaultSoftware are the engine's bundled default anchor sets, consulted
// only to produce a precise OtherMatchingRoot diagnostic when the
// configured anchors don't match but a well-known default would have.
func ValidateChain(
	ctx context.Context,
	certs []*x509.Certificate,
	verificationTime time.Time,
	anchors config.AnchorSet,
	ignoreLeafValidity bool,
	revocation RevocationChecker,
	defaultHardware, defaultSoftware config.AnchorSet,
) error {
	if len(certs) < 2 {
		return trustFailure("chain must contain at least a leaf and a root", certs, nil)
	}

	root := certs[len(certs)-1]
	leaf := certs[0]

	if err := checkValidity(root, verificationTime); err != nil {
		return &CertificateInvalid{Reason: ReasonTime, Sub: SubInvalidRoot, Chain: certs, Offending: root, Detail: err.Error()}
	}

	anchor, found := anchors.Find(root.RawSubjectPublicKeyInfo)
	if !found {
		if _, ok := defaultHardware.Find(root.RawSubjectPublicKeyInfo); ok {
			return otherMatchingRoot(StageHardware, certs)
		}
		if _, ok := defaultSoftware.Find(root.RawSubjectPublicKeyInfo); ok {
			return otherMatchingRoot(StageSoftware, certs)
		}
		return noMatchingRoot(certs)
	}

	if err := x509.CheckSignature(root.SignatureAlgorithm, root.RawTBSCertificate, root.Signature, anchor.PublicKey); err != nil {
		return invalidRoot(fmt.Sprintf("root signature does not verify under matching anchor: %v", err), certs)
	}

	for _, cert := range certs {
		isRevoked, err := revocation.IsRevoked(ctx, cert.SerialNumber)
		if err != nil {
			return listUnavailable(err)
		}
		if isRevoked {
			return revoked(certs, cert)
		}
	}

	leafFacade := eternalLeaf{Certificate: leaf, suppressed: ignoreLeafValidity}

	for i := len(certs) - 1; i > 0; i-- {
		parent := certs[i]
		child := certs[i-1]

		var timeErr error
		if i-1 == 0 {
			timeErr = leafFacade.checkValidity(verificationTime)
		} else {
			timeErr = checkValidity(child, verificationTime)
		}
		if timeErr != nil {
			return timeFailure(timeErr.Error(), certs, child)
		}

		if err := x509.CheckSignature(child.SignatureAlgorithm, child.RawTBSCertificate, child.Signature, parent.PublicKey); err != nil {
			return trustFailure(fmt.Sprintf("signature does not verify under parent: %v", err), certs, child)
		}
	}

	rootPool := x509.NewCertPool()
	rootPool.AddCert(root)
	intermediatePool := x509.NewCertPool()
	for _, cert := range certs[1 : len(certs)-1] {
		intermediatePool.AddCert(cert)
	}
	pkixLeaf := leaf
	if ignoreLeafValidity {
		widened := *leaf
		widened.NotBefore = verificationTime
		widened.NotAfter = verificationTime
		pkixLeaf = &widened
	}
	opts := x509.VerifyOptions{
		Roots:         rootPool,
		Intermediates: intermediatePool,
		CurrentTime:   verificationTime,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := pkixLeaf.Verify(opts); err != nil {
		return trustFailure(fmt.Sprintf("PKIX path validation failed: %v", err), certs, nil)
	}

	return nil
}
