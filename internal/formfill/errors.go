package formfill

import (
	"errors"
	"fmt"
)

// ResolutionKind classifies a failed resolution.
type ResolutionKind string

const (
	NotFound                ResolutionKind = "NotFound"
	AmbiguousNoVisibleMatch ResolutionKind = "AmbiguousNoVisibleMatch"
	Timeout                 ResolutionKind = "Timeout"
)

// ResolutionError is returned when no control could be resolved for a label.
type ResolutionError struct {
	Kind  ResolutionKind
	Label string
	Err   error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve %q: %s: %v", e.Label, e.Kind, e.Err)
	}
	return fmt.Sprintf("resolve %q: %s", e.Label, e.Kind)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ErrOptionNotFound is wrapped by InteractionError when the requested option
// does not exist in a native select or never appears in a custom list.
var ErrOptionNotFound = errors.New("option not found")

// InteractionError is returned when a value could not be written after all
// fallback branches were exhausted.
type InteractionError struct {
	Label string
	Op    string
	Err   error
}

func (e *InteractionError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Label, e.Err)
}

func (e *InteractionError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a resolution failure of kind NotFound.
func IsNotFound(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re) && re.Kind == NotFound
}
