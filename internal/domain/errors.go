package domain

import (
	"fmt"
)

// EvaluationError aborts one top-level evaluation call. Only unresolved
// circular prerequisite dependencies and typed prerequisite mismatches
// produce it; everything milder degrades to a non-match.
type EvaluationError struct {
	FlagKey string
	Reason  string
	Err     error
}

func NewEvaluationError(flagKey, reason string, err error) *EvaluationError {
	return &EvaluationError{
		FlagKey: flagKey,
		Reason:  reason,
		Err:     err,
	}
}

func (e *EvaluationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evaluation error on flag %s: %s: %v", e.FlagKey, e.Reason, e.Err)
	}
	return fmt.Sprintf("evaluation error on flag %s: %s", e.FlagKey, e.Reason)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

func IsEvaluationError(err error) bool {
	_, ok := err.(*EvaluationError)
	return ok
}
