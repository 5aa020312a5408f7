package ratelimit

import "time"

const StatusTooManyRequests = 429

// Rejection describes a lease that did not admit the request, ready to be
// rendered by a transport.
type Rejection struct {
	Status            int
	RetryAfterSeconds int
	Reason            string
	Message           string
}

// Report builds the rejection for a queued or rejected lease. It returns false
// for an acquired lease.
func Report(l Lease) (Rejection, bool) {
	switch l.Outcome {
	case Rejected:
		return Rejection{
			Status:            StatusTooManyRequests,
			RetryAfterSeconds: ceilSeconds(l.Wait),
			Reason:            "rate_limited",
			Message:           "Rate limit exceeded. Please try again later.",
		}, true
	case Queued:
		return Rejection{
			Status:            StatusTooManyRequests,
			RetryAfterSeconds: ceilSeconds(l.Wait),
			Reason:            "queued",
			Message:           "Request queued behind the rate limit. Retry after the indicated delay.",
		}, true
	default:
		return Rejection{}, false
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
