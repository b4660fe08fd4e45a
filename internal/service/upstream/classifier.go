package upstream

import "strings"

// Statuses worth retrying with another key.
var retryableStatuses = map[int]struct{}{
	429: {},
	500: {},
	502: {},
	503: {},
	504: {},
}

// Error-message phrases that indicate a transient upstream condition even
// when the status code alone is inconclusive.
var retryablePhrases = []string{
	"overloaded",
	"rate limit",
	"quota",
	"capacity",
	"timeout",
	"temporarily",
	"try again",
	"too many requests",
	"resource exhausted",
	"internal error",
	"service unavailable",
}

// IsRetryable decides whether a failed attempt is worth repeating with an
// alternate key. Transport failures never produced an HTTP response and are
// always retryable; otherwise the status code is checked, then the error
// message (case-insensitive substring match). Everything else is permanent:
// malformed requests, auth failures and unknown models do not heal on
// retry.
func IsRetryable(transportFailed bool, httpStatus int, errorMessage string) bool {
	if transportFailed {
		return true
	}

	if _, ok := retryableStatuses[httpStatus]; ok {
		return true
	}

	lower := strings.ToLower(errorMessage)
	for _, phrase := range retryablePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}

	return false
}
