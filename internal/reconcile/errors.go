package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidOptions is returned by New when a required dependency is missing
var ErrInvalidOptions = errors.New("invalid reconciler options")

// EntityError is a failure to reconcile one entity. The underlying error is
// preserved for errors.Is and errors.As.
type EntityError struct {
	ClassName string
	Namespace string
	Err       error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("reconcile %s.%s: %v", e.Namespace, e.ClassName, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// FailurePolicy decides what happens after an entity fails to reconcile
type FailurePolicy int

const (
	// Abort stops the pass and rolls back the whole unit of work
	Abort FailurePolicy = iota
	// Skip rolls back the failing entity only and continues
	Skip
)

// String returns the configuration name of the policy
func (p FailurePolicy) String() string {
	switch p {
	case Skip:
		return "skip"
	default:
		return "abort"
	}
}

// ParseFailurePolicy converts a configuration value to a FailurePolicy
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort":
		return Abort, nil
	case "skip":
		return Skip, nil
	default:
		return Abort, fmt.Errorf("unknown failure policy: %s (expected abort or skip)", s)
	}
}
