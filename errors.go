package foreach

import (
	"fmt"

	"github.com/autom8ter/foreach/errors"
)

// ReadError is returned when a page of documents could not be fetched. It is fatal to a run.
type ReadError struct {
	Continuation string
	Err          error
}

func (e *ReadError) Error() string {
	if e.Continuation == "" {
		return fmt.Sprintf("failed to read first page: %v", e.Err)
	}
	return fmt.Sprintf("failed to read page at %q: %v", e.Continuation, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// TransformError is recorded when a transformation fails for a document. The document is left untouched.
type TransformError struct {
	ID  string
	Err error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %v", e.ID, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// MutationFailedError is recorded when a mutation could not be applied, either because the failure is
// permanent or because retries were exhausted
type MutationFailedError struct {
	ID       string
	Kind     Kind
	Attempts int
	Err      error
}

func (e *MutationFailedError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempt(s): %v", e.Kind, e.ID, e.Attempts, e.Err)
}

func (e *MutationFailedError) Unwrap() error {
	return e.Err
}

// Exhausted returns true if the mutation failed with a transient error on every attempt
func (e *MutationFailedError) Exhausted() bool {
	return errors.IsTransient(e.Err)
}
