package errors

import "time"

// Kind is the retry class of a provider failure.
type Kind int

const (
	// KindTransient failures are retried with backoff.
	KindTransient Kind = iota
	// KindFatal failures are surfaced immediately without retry.
	KindFatal
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	if k == KindFatal {
		return "fatal"
	}
	return "transient"
}

// Classify maps an error to its retry class.
// Unknown and uncategorized errors are transient so recoverable work is not dropped.
func Classify(err error) Kind {
	ae, ok := As(err)
	if !ok {
		return KindTransient
	}
	if ae.Severity == SeverityFatal && !ae.Retryable {
		return KindFatal
	}
	return KindTransient
}

// RetryAfter returns the provider-specified delay carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	if ae, ok := As(err); ok && ae.RetryAfter > 0 {
		return ae.RetryAfter, true
	}
	return 0, false
}
