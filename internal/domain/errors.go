package domain

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidFilter    = errors.New("invalid filter")
	ErrInvalidQuery     = errors.New("invalid query")
	ErrNotReady         = errors.New("engine not ready")
)

// ScoringError reports a fault inside one scoring signal. Engines recover
// from it by falling back to a cheaper signal; it never reaches callers.
type ScoringError struct {
	Signal string
	Err    error
}

func (e *ScoringError) Error() string {
	return "scoring " + e.Signal + ": " + e.Err.Error()
}

func (e *ScoringError) Unwrap() error {
	return e.Err
}

func IsScoringError(err error) bool {
	var target *ScoringError
	return errors.As(err, &target)
}
