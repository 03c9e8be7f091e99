/*
errors.go - Centralized error types for the settlement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Configuration errors - Broken policy tables. Fatal: a batch must abort
     rather than produce a silently wrong number.
  2. Lifecycle errors - Writing to a finalized period or tax year.
  3. Store errors - Missing records, persistence failures.

  Data-integrity and input-range problems are NOT errors. They are flags
  (see settlement/flags.go) accumulated next to successful results so one
  bad booking does not block a whole period's report.

USAGE:
  if generic.IsConfigurationError(err) {
      // halt the run, page whoever owns the policy tables
  }

SEE ALSO:
  - policy/tables.go: Produces ConfigurationError on validation
  - settlement/flags.go: Non-fatal findings
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfiguration is the root of every policy-table problem.
	ErrConfiguration = errors.New("configuration error")

	// ErrTierOverlap is returned when two commission tiers match the same fleet size.
	ErrTierOverlap = errors.New("commission tiers overlap")

	// ErrTierGap is returned when some fleet size >= 1 matches no tier.
	ErrTierGap = errors.New("commission tiers leave a gap")

	// ErrUnknownCancellationPolicy is returned for a policy name missing from the tables.
	ErrUnknownCancellationPolicy = errors.New("unknown cancellation policy")

	// ErrMissingThreshold is returned when a required constant is absent or zero.
	ErrMissingThreshold = errors.New("missing threshold")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrPeriodFinalized is returned when a finalized period report would be overwritten.
	ErrPeriodFinalized = errors.New("period already finalized")

	// ErrYearFinalized is returned when posting to a finalized 1099 aggregate.
	ErrYearFinalized = errors.New("tax year already finalized")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationError describes which part of the policy tables is broken.
type ConfigurationError struct {
	Version PolicyVersion
	Field   string
	Reason  string
	Err     error // optional, more specific sentinel
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration error in %s", e.Field)
	if e.Version != "" {
		msg += fmt.Sprintf(" (policy version %s)", e.Version)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both ErrConfiguration and the specific sentinel.
func (e *ConfigurationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConfiguration, e.Err}
	}
	return []error{ErrConfiguration}
}

// NewConfigurationError is a shorthand used by validators.
func NewConfigurationError(field string, sentinel error, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Err: sentinel, Reason: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConfigurationError returns true if the error must halt a batch.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsFinalized returns true if the error comes from writing to closed books.
func IsFinalized(err error) bool {
	return errors.Is(err, ErrPeriodFinalized) || errors.Is(err, ErrYearFinalized)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
