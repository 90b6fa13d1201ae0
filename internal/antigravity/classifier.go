package antigravity

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Classification is the Response Classifier's verdict for a single upstream
// HTTP response.
type Classification int

const (
	// ClassifyReturn means the response (success or unrecoverable failure)
	// should be transformed and returned to the host as-is.
	ClassifyReturn Classification = iota
	// ClassifyEndpointFallback means the current account should retry the
	// next configured endpoint.
	ClassifyEndpointFallback
	// ClassifyAccountCooldown means the current account should be cooled
	// down and the next account tried.
	ClassifyAccountCooldown
)

// Classify implements the table from the response classifier design: 429
// cools the account when the pool has more than one member, otherwise falls
// back to the next endpoint (or returns, if none remain); 403/404/5xx always
// fall back to the next endpoint when one remains; everything else returns.
func Classify(statusCode int, poolSize int, hasMoreEndpoints bool) Classification {
	switch {
	case statusCode == http.StatusTooManyRequests:
		if poolSize >= 2 {
			return ClassifyAccountCooldown
		}
		if hasMoreEndpoints {
			return ClassifyEndpointFallback
		}
		return ClassifyReturn
	case statusCode == http.StatusForbidden || statusCode == http.StatusNotFound || statusCode >= http.StatusInternalServerError:
		if hasMoreEndpoints {
			return ClassifyEndpointFallback
		}
		return ClassifyReturn
	default:
		return ClassifyReturn
	}
}

// DefaultRetryAfterMs is used when no retry hint is present or the present
// hint is malformed.
const DefaultRetryAfterMs int64 = 60000

// ParseRetryAfter derives a cooldown duration in milliseconds from response
// headers: a positive integer Retry-After-Ms wins, then a positive integer
// Retry-After in seconds, then DefaultRetryAfterMs. Absent or malformed
// headers always yield the default.
func ParseRetryAfter(header http.Header) int64 {
	if msRaw := strings.TrimSpace(header.Get("Retry-After-Ms")); msRaw != "" {
		if ms, err := strconv.ParseInt(msRaw, 10, 64); err == nil && ms > 0 {
			return ms
		}
	}
	if secRaw := strings.TrimSpace(header.Get("Retry-After")); secRaw != "" {
		if sec, err := strconv.ParseInt(secRaw, 10, 64); err == nil && sec > 0 {
			return sec * 1000
		}
	}
	return DefaultRetryAfterMs
}

// UnwrapEnvelope strips the {"response": {...}, "traceId": "..."} wrapper
// the Antigravity upstream applies, returning the inner generateContent
// response shape expected by callers. Payloads without the wrapper are
// returned unchanged.
func UnwrapEnvelope(body []byte) []byte {
	response := gjson.GetBytes(body, "response")
	if !response.Exists() {
		return body
	}
	return []byte(response.Raw)
}
