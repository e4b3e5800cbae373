package config

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ErrConfiguration is the sentinel all construction-time configuration
// failures wrap, so callers can test for the class with errors.Is without
// caring which specific invariant was violated.
var ErrConfiguration = errors.New("config: invalid attestation configuration")

// ConfigurationError aggregates every invariant violation found by a single
// Build() call, rather than surfacing only the first. Operators fixing a
// misconfigured policy almost always need to see all of it at once.
type ConfigurationError struct {
	Violations *multierror.Error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfiguration, e.Violations)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// violationCollector accumulates invariant violations across a Build() call.
type violationCollector struct {
	errs *multierror.Error
}

func (c *violationCollector) add(format string, args ...any) {
	c.errs = multierror.Append(c.errs, fmt.Errorf(format, args...))
}

func (c *violationCollector) result() error {
	if c.errs == nil || len(c.errs.Errors) == 0 {
		return nil
	}
	return &ConfigurationError{Violations: c.errs}
}
