package workq

import "errors"

var (
	// Store errors.
	ErrNoStore           = errors.New("workq: no store configured")
	ErrStoreClosed       = errors.New("workq: store closed")
	ErrBrokerUnavailable = errors.New("workq: broker unavailable")

	// Not found errors.
	ErrJobNotFound   = errors.New("workq: job not found")
	ErrQueueNotFound = errors.New("workq: queue not registered")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("workq: job already exists")

	// Validation errors.
	ErrInvalidPayload = errors.New("workq: invalid job payload")

	// Lifecycle errors.
	ErrShuttingDown = errors.New("workq: shutting down, not accepting jobs")
)

// permanentError marks a processor failure as non-retryable.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }

func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so the executor fails the job immediately instead
// of consuming the remaining retry attempts. Wrapping nil returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) carries the
// non-retryable marker set by Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
