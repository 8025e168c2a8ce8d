package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrExternalService marks a failed embedding, completion or index call.
	// It is never used for a validation rejection.
	ErrExternalService = errors.New("external service failure")

	ErrEmptyQuery = errors.New("query is empty")
)

// QueryError records the node whose collaborator failed.
type QueryError struct {
	Stage string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, ErrExternalService, e.Err)
}

func (e *QueryError) Unwrap() []error {
	return []error{ErrExternalService, e.Err}
}

func external(stage string, err error) error {
	return &QueryError{Stage: stage, Err: err}
}
