package runner

import (
	"errors"
	"fmt"
	"time"
)

// fatalError marks a non-retriable failure: the handler aborts, the event is
// marked failed without backoff, and the operator is notified. Precondition
// violations (missing tenant, inactive campaign, malformed payload) use this.
type fatalError struct{ err error }

func (f *fatalError) Error() string { return "non-retriable: " + f.err.Error() }
func (f *fatalError) Unwrap() error { return f.err }

// Fatal wraps err as a non-retriable failure.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// Fatalf is Fatal with formatting.
func Fatalf(format string, args ...any) error {
	return &fatalError{err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err (or anything it wraps) is non-retriable.
func IsFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}

// backoffError carries an explicit retry-after hint, used to surface
// provider 429s with the server's own backoff.
type backoffError struct {
	err   error
	after time.Duration
}

func (b *backoffError) Error() string { return b.err.Error() }
func (b *backoffError) Unwrap() error { return b.err }

// RetryAfter wraps err as retriable with an explicit delay hint.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &backoffError{err: err, after: after}
}

// retryHint extracts an explicit backoff hint, if any.
func retryHint(err error) (time.Duration, bool) {
	var b *backoffError
	if errors.As(err, &b) {
		return b.after, true
	}
	return 0, false
}
