package attestation

import (
	"context"
	"crypto/x509"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kacy/android-key-attestation/chain"
	"github.com/kacy/android-key-attestation/internal/logging"
	"github.com/kacy/android-key-attestation/internal/metrics"
	"github.com/kacy/android-key-attestation/keydescription"
)

// InstrumentedEngine wraps an Engine with structured logging and
// Prometheus metrics, the way a deployed verifier observes its own
// traffic. It adds no verification logic of its own — every policy
// decision still comes from Engine.Verify.
type InstrumentedEngine struct {
	engine  *Engine
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewInstrumentedEngine wraps engine for use in a deployed service.
// logger and metrics may be shared across multiple InstrumentedEngines.
func NewInstrumentedEngine(engine *Engine, logger *logging.Logger, m *metrics.Metrics) *InstrumentedEngine {
	return &InstrumentedEngine{engine: engine, logger: logger, metrics: m}
}

// Verify runs the wrapped engine's Verify, recording attempt/outcome
// counters and latency, and logging the result at a level appropriate to
// its cause.
func (i *InstrumentedEngine) Verify(ctx context.Context, certs []*x509.Certificate, verificationTime time.Time, expectedChallenge []byte) (*keydescription.KeyDescription, error) {
	kind := i.engine.Kind().String()
	i.metrics.VerifyAttemptsTotal.WithLabelValues(kind).Inc()

	start := time.Now()
	kd, err := i.engine.Verify(ctx, certs, verificationTime, expectedChallenge)
	i.metrics.VerifyDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err != nil {
		reason := reasonLabel(err)
		i.metrics.VerifyFailuresTotal.WithLabelValues(kind, reason).Inc()

		var certErr *chain.CertificateInvalid
		var revErr *chain.Revocation
		if errors.As(err, &certErr) || errors.As(err, &revErr) {
			i.metrics.ChainValidationFailuresTotal.WithLabelValues(reason).Inc()
		}

		i.logger.VerifyFailure("attestation verification rejected",
			zap.String("engine", kind),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return nil, err
	}

	i.metrics.VerifySuccessTotal.WithLabelValues(kind).Inc()
	i.logger.VerifySuccess("attestation verification succeeded",
		zap.String("engine", kind),
	)
	return kd, nil
}

// reasonLabel reduces an error returned by Engine.Verify to a low-
// cardinality Prometheus label value.
func reasonLabel(err error) string {
	var valueErr *AttestationValue
	if errors.As(err, &valueErr) {
		return "value:" + valueErr.Reason.String()
	}
	var configErr *ConfigurationError
	if errors.As(err, &configErr) {
		return "configuration"
	}
	var certErr *chain.CertificateInvalid
	if errors.As(err, &certErr) {
		return "chain:" + certErr.Reason.String()
	}
	var revErr *chain.Revocation
	if errors.As(err, &revErr) {
		return "revocation:" + revErr.Reason.String()
	}
	return "unknown"
}
