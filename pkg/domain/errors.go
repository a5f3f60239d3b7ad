package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLookup is matched by every *LookupError through errors.Is.
	ErrLookup = errors.New("lookup failed")
	// ErrValidation is matched by every *ValidationError through errors.Is.
	ErrValidation = errors.New("validation failed")
)

// LookupError reports a key that was assumed present but is absent: a cohort
// value with no cells, a metadata column that does not exist, or cell ids
// missing from the matrix.
type LookupError struct {
	Kind    string
	Key     string
	Missing []string
	Total   int
}

func (e *LookupError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
	}
	shown := e.Missing
	if len(shown) > 5 {
		shown = shown[:5]
	}
	total := e.Total
	if total < len(e.Missing) {
		total = len(e.Missing)
	}
	return fmt.Sprintf("%s %q: %d of %d ids not found (%s)", e.Kind, e.Key, len(e.Missing), total, strings.Join(shown, ", "))
}

// Is matches ErrLookup.
func (e *LookupError) Is(target error) bool { return target == ErrLookup }

// ValidationError reports a violated structural precondition. Measured and
// Required carry the quantities compared, when there are any.
type ValidationError struct {
	Reason   string
	Measured int
	Required int
	Detail   string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return e.Reason + ": " + e.Detail
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ErrNotFound is returned when a stored entity is absent.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
