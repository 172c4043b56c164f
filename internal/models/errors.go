package models

// GenerationError is returned by adapters for any unrecoverable failure.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	if e.Reason == "" {
		return e.Err.Error()
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error { return e.Err }

// NewGenerationError wraps err with a user-facing reason.
func NewGenerationError(reason string, err error) error {
	return &GenerationError{Reason: reason, Err: err}
}
