package convert

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfig is reported for converter misconfiguration, before any resolution
// work starts.
var ErrConfig = errors.New("invalid converter configuration")

// ErrMissingVariable is reported when a required tensor name, after the
// documented fallback chain is exhausted, is absent from the checkpoint.
var ErrMissingVariable = errors.New("missing checkpoint variable")

// MissingVariableError carries the last-tried name so a naming-convention
// mismatch can be diagnosed, plus every candidate that was tried.
type MissingVariableError struct {
	Name  string
	Tried []string
}

func (e *MissingVariableError) Error() string {
	if len(e.Tried) > 1 {
		return fmt.Sprintf("missing checkpoint variable %q (tried %s)", e.Name, strings.Join(e.Tried, ", "))
	}
	return fmt.Sprintf("missing checkpoint variable %q", e.Name)
}

func (e *MissingVariableError) Is(target error) bool {
	return target == ErrMissingVariable
}
