package filter

import (
	"errors"
	"fmt"
)

// ErrInvalidValue is matched by every InvalidValueError via errors.Is.
var ErrInvalidValue = errors.New("invalid filter value")

// InvalidValueError reports a value outside a criterion's fixed domain.
type InvalidValueError struct {
	Criterion Criterion
	Value     string
	Reason    string
}

func (e *InvalidValueError) Error() string {
	if e.Criterion == None {
		return fmt.Sprintf("%s: %q", e.Reason, e.Value)
	}
	return fmt.Sprintf("invalid %s value %q: %s", e.Criterion, e.Value, e.Reason)
}

// Unwrap lets callers test with errors.Is(err, ErrInvalidValue).
func (e *InvalidValueError) Unwrap() error {
	return ErrInvalidValue
}

// IsTransient returns false as invalid input never succeeds on retry
func (e *InvalidValueError) IsTransient() bool {
	return false
}
