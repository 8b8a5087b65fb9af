package engine

import (
	"errors"
	"fmt"
)

// Error taxonomy. Configuration problems degrade to defaults and are logged;
// integration failures are contained at the step that made the external
// call; invariant violations abort the whole case transaction.
var (
	// ErrInvariant marks a programming or data-integrity bug, never a
	// transient condition. It propagates to the caller unwrapped.
	ErrInvariant = errors.New("invariant violation")

	// ErrConfiguration marks bad configuration data.
	ErrConfiguration = errors.New("configuration error")

	// ErrIntegration marks a failed external call.
	ErrIntegration = errors.New("integration failure")

	// ErrCascadeDepth is returned when recursive trigger cascades exceed
	// the depth guard; trigger configuration is external content and a
	// cycle must not recurse unboundedly.
	ErrCascadeDepth = fmt.Errorf("%w: cascade depth limit exceeded", ErrConfiguration)
)

func invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

func configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func integrationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIntegration, fmt.Sprintf(format, args...))
}
