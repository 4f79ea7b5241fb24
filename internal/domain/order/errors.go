package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind classifies a failure by how the engine reacts to it.
type Kind string

const (
	// KindNotFound means the entity definitively does not exist upstream.
	KindNotFound Kind = "not_found"
	// KindTransient covers network errors, timeouts and 5xx responses.
	// The next poll cycle is the retry.
	KindTransient Kind = "transient"
	// KindValidation means input was rejected, either locally before any
	// network call or by the upstream service.
	KindValidation Kind = "validation"
	// KindConflict marks a regressive value discarded by the rank rule.
	KindConflict Kind = "conflict"
)

// Sentinel errors matched by errors.Is against a *Failure of the same kind.
var (
	ErrNotFound   = errors.New("not found")
	ErrTransient  = errors.New("transient failure")
	ErrValidation = errors.New("validation failure")
	ErrConflict   = errors.New("conflicting state")
)

// Failure is a typed failure returned by a status source.
type Failure struct {
	Source Source
	Kind   Kind
	Op     string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s %s: %s", f.Source, f.Op, f.Kind)
	}
	return fmt.Sprintf("%s %s: %s: %v", f.Source, f.Op, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Is matches the sentinel for the failure kind.
func (f *Failure) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return f.Kind == KindNotFound
	case ErrTransient:
		return f.Kind == KindTransient
	case ErrValidation:
		return f.Kind == KindValidation
	case ErrConflict:
		return f.Kind == KindConflict
	}
	return false
}

// NewFailure builds a Failure.
func NewFailure(src Source, kind Kind, op string, err error) *Failure {
	return &Failure{Source: src, Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err. Errors that are not failures are treated
// as transient.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, ErrValidation) {
		return KindValidation
	}
	return KindTransient
}

// ValidationError indicates user input rejected before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
