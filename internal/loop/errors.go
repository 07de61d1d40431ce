package loop

import "errors"

// Error kinds shared by the session engine and its collaborators. Collaborators
// wrap one of these with %w; callers classify with errors.Is.
var (
	ErrNetwork    = errors.New("network error")    // transient, retryable by the caller
	ErrAuth       = errors.New("not authenticated") // credential missing, invalid or expired
	ErrValidation = errors.New("validation failed") // rejected before any write
	ErrNotFound   = errors.New("not found")         // referenced chain or bag missing
)

// Kind returns the error kind err wraps, or nil when it wraps none of them.
func Kind(err error) error {
	for _, k := range []error{ErrAuth, ErrValidation, ErrNotFound, ErrNetwork} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
