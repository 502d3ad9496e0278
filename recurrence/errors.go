/*
errors.go - Error types for recurrence expansion and window parsing

PURPOSE:
  Expansion never fails loudly: an invalid rule yields no occurrences.
  These errors exist so that callers that care (logging, validation at the
  API edge) can tell "invalid rule" apart from "rule with no occurrences".

USAGE:
  if errors.Is(err, recurrence.ErrInvalidSpec) { ... }

  var ise *recurrence.InvalidSpecError
  if errors.As(err, &ise) { log field ise.Field }

SEE ALSO:
  - expand.go: Produces InvalidSpecError
  - window.go: Produces WindowParseError
*/
package recurrence

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidSpec is returned when a rule combination cannot be expanded.
	ErrInvalidSpec = errors.New("invalid recurrence spec")

	// ErrWindowParse is returned when a window bound or range name is malformed.
	ErrWindowParse = errors.New("invalid window")

	// ErrScanLimit is returned when expansion inspected too many candidates
	// before reaching the requested window.
	ErrScanLimit = errors.New("recurrence scan limit exceeded")

	// ErrTruncated is logged when an expansion hits the occurrence cap. The
	// expansion itself still succeeds.
	ErrTruncated = errors.New("recurrence occurrence cap reached")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidSpecError names the offending field.
type InvalidSpecError struct {
	Field  string
	Reason string
}

func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("invalid recurrence spec: %s: %s", e.Field, e.Reason)
}

func (e *InvalidSpecError) Unwrap() error {
	return ErrInvalidSpec
}

func invalid(field, format string, args ...any) error {
	return &InvalidSpecError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// WindowParseError names the request parameter that could not be parsed.
type WindowParseError struct {
	Param string
	Value string
}

func (e *WindowParseError) Error() string {
	return fmt.Sprintf("invalid window: cannot parse %s=%q", e.Param, e.Value)
}

func (e *WindowParseError) Unwrap() error {
	return ErrWindowParse
}
