// Command attestverify is a diagnostic CLI for replaying a captured
// attestation debug envelope outside of a running service. It opens no
// network listener of its own beyond the optional Prometheus metrics
// endpoint; it reads an envelope file, reconstructs the engine it names,
// verifies the chain, and prints the outcome as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kacy/android-key-attestation/debugenvelope"
	"github.com/kacy/android-key-attestation/internal/logging"
	"github.com/kacy/android-key-attestation/internal/metrics"
	"github.com/kacy/android-key-attestation/revocation"
)

type result struct {
	ReplayID string `json:"replayId"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`

	AttestationVersion int    `json:"attestationVersion,omitempty"`
	SecurityLevel      string `json:"attestationSecurityLevel,omitempty"`
}

func main() {
	envelopePath := flag.String("envelope", "", "path to a captured debug envelope JSON file")
	revocationProxy := flag.String("revocation-proxy", "", "optional HTTP proxy URL for the revocation list client")
	metricsAddr := flag.String("metrics-addr", "", "optional address to serve Prometheus /metrics on while replaying (e.g. :9090)")
	logLevel := flag.String("log-level", "info", "debug, info, warn, or error")
	flag.Parse()

	if *envelopePath == "" {
		fmt.Fprintln(os.Stderr, "attestverify: -envelope is required")
		os.Exit(2)
	}

	logger := logging.Must(*logLevel, false)
	defer logger.Sync()

	m := metrics.New()
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	if err := run(*envelopePath, *revocationProxy, logger, m, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "attestverify: %v\n", err)
		os.Exit(1)
	}
}

func run(envelopePath, revocationProxy string, logger *logging.Logger, m *metrics.Metrics, out *os.File) error {
	data, err := os.ReadFile(envelopePath)
	if err != nil {
		return fmt.Errorf("reading envelope: %w", err)
	}

	var env debugenvelope.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("parsing envelope: %w", err)
	}

	revocationClient, err := revocation.NewClient(revocationProxy)
	if err != nil {
		return fmt.Errorf("building revocation client: %w", err)
	}
	revocationClient.WithMetrics(m)

	res := result{ReplayID: env.ReplayID}

	start := time.Now()
	kd, verifyErr := env.Replay(context.Background(), revocationClient)
	m.VerifyDuration.WithLabelValues(env.Kind.String()).Observe(time.Since(start).Seconds())
	m.VerifyAttemptsTotal.WithLabelValues(env.Kind.String()).Inc()

	if verifyErr != nil {
		m.VerifyFailuresTotal.WithLabelValues(env.Kind.String(), "replay").Inc()
		logger.VerifyFailure("replay rejected", zap.String("replayId", res.ReplayID), zap.Error(verifyErr))
		res.OK = false
		res.Error = verifyErr.Error()
	} else {
		m.VerifySuccessTotal.WithLabelValues(env.Kind.String()).Inc()
		logger.VerifySuccess("replay succeeded", zap.String("replayId", res.ReplayID))
		res.OK = true
		res.AttestationVersion = kd.AttestationVersion
		res.SecurityLevel = kd.AttestationSecurityLevel.String()
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
