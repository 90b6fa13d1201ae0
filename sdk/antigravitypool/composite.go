package antigravitypool

import (
	"fmt"
	"net/url"
	"strings"
)

// compositeSeparator joins the three composite parts. Refresh tokens issued
// by Google never contain this character, so a plain split is safe; values
// are additionally percent-escaped so a future change in that assumption
// cannot corrupt the round trip.
const compositeSeparator = "|"

// ComposeRefresh encodes a refresh token and its associated project ids into
// the single opaque string the host's credential store persists as the
// "refresh" field of an AuthRecord. This is an external contract: the exact
// byte shape must round-trip through ParseRefresh unchanged.
func ComposeRefresh(refreshToken, projectID, managedProjectID string) string {
	parts := []string{
		url.QueryEscape(refreshToken),
		url.QueryEscape(projectID),
		url.QueryEscape(managedProjectID),
	}
	return strings.Join(parts, compositeSeparator)
}

// RefreshParts is the decoded form of a composite refresh string.
type RefreshParts struct {
	RefreshToken     string
	ProjectID        string
	ManagedProjectID string
}

// ParseRefresh decodes a composite refresh string produced by ComposeRefresh.
// It tolerates a bare refresh token with no separators for backward
// compatibility with credential stores written before project ids were
// added to the composite.
func ParseRefresh(composite string) (RefreshParts, error) {
	if composite == "" {
		return RefreshParts{}, fmt.Errorf("antigravitypool: empty composite refresh string")
	}
	segments := strings.Split(composite, compositeSeparator)
	parts := RefreshParts{}

	decode := func(s string) string {
		v, err := url.QueryUnescape(s)
		if err != nil {
			return s
		}
		return v
	}

	switch len(segments) {
	case 1:
		parts.RefreshToken = decode(segments[0])
	case 2:
		parts.RefreshToken = decode(segments[0])
		parts.ProjectID = decode(segments[1])
	case 3:
		parts.RefreshToken = decode(segments[0])
		parts.ProjectID = decode(segments[1])
		parts.ManagedProjectID = decode(segments[2])
	default:
		return RefreshParts{}, fmt.Errorf("antigravitypool: malformed composite refresh string")
	}

	if parts.RefreshToken == "" {
		return RefreshParts{}, fmt.Errorf("antigravitypool: composite refresh string has no refresh token")
	}
	return parts, nil
}
