package models

import "github.com/pkg/errors"

// Failure kinds surfaced by the detection pipeline.
var (
	ErrInvalidConfiguration = errors.New("invalid model configuration")
	ErrModelLoad            = errors.New("model load failed")
	ErrInference            = errors.New("inference failed")
	ErrImageDecode          = errors.New("image decode failed")
)

// Error ties a cause to one of the failure kinds above.
// errors.Is(err, ErrModelLoad) matches on Kind; Unwrap exposes the cause.
type Error struct {
	Kind error
	Err  error
}

// NewError wraps err with kind. A nil err yields an error carrying only the kind.
func NewError(kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind of err, or nil when err carries none.
func KindOf(err error) error {
	for _, kind := range []error{ErrInvalidConfiguration, ErrModelLoad, ErrImageDecode, ErrInference} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
