// Package antigravitypool is the host-facing surface of the Antigravity
// OAuth pool and dispatch shim: the Account Pool, the Dispatch Engine, the
// OAuth Flow Orchestrator and the host plugin entrypoint. Provider-specific
// OAuth/project/request/response mechanics live in the sibling
// internal/antigravity package.
package antigravitypool

import "fmt"

// Account is a persisted identity comprising one refresh token and its
// associated project metadata, plus transient runtime-only token caching.
type Account struct {
	Email              string `json:"email"`
	RefreshToken       string `json:"refreshToken"`
	ProjectID          string `json:"projectId,omitempty"`
	ManagedProjectID   string `json:"managedProjectId,omitempty"`
	AddedAt            int64  `json:"addedAt"`
	LastUsed           int64  `json:"lastUsed"`
	IsRateLimited      bool   `json:"isRateLimited"`
	RateLimitResetTime int64  `json:"rateLimitResetTime"`

	// AccessToken and AccessTokenExpiresAt cache the most recent access
	// token in memory; neither is persisted.
	AccessToken          string `json:"-"`
	AccessTokenExpiresAt int64  `json:"-"`
}

// PoolDocument is the on-disk shape of the account pool.
type PoolDocument struct {
	Version     int       `json:"version"`
	Accounts    []Account `json:"accounts"`
	ActiveIndex int       `json:"activeIndex"`
}

// AuthRecord is the "auth record" token bundle exchanged with OAuth
// operations: a type tag plus the composite refresh string and optionally a
// cached access token/expiry.
type AuthRecord struct {
	Type    string `json:"type"`
	Refresh string `json:"refresh"`
	Access  string `json:"access,omitempty"`
	Expires int64  `json:"expires,omitempty"`
}

// AuthorizationHandle is the client-side state of an in-flight authorization
// attempt.
type AuthorizationHandle struct {
	URL      string
	State    string
	Verifier string
}

// Error codes matching spec section 7's error kinds.
const (
	ErrCodeInvalidGrant      = "invalid_grant"
	ErrCodeNoAccounts        = "no_accounts"
	ErrCodeAllAccountsCooled = "all_accounts_cooled"
	ErrCodeReauthenticate    = "reauthenticate_required"
)

// Error describes a pool or dispatch failure in a provider-agnostic shape,
// matching the teacher repo's auth.Error convention.
type Error struct {
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	HTTPStatus int    `json:"http_status,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// StatusCode returns the HTTP-like status associated with this error, if any.
func (e *Error) StatusCode() int {
	if e == nil {
		return 0
	}
	return e.HTTPStatus
}

func noAccountsError() *Error {
	return &Error{Code: ErrCodeNoAccounts, Message: "no accounts enrolled; run the login flow to add one", Retryable: false}
}

func allAccountsCooledError(waitMs int64, count int) *Error {
	return &Error{
		Code:      ErrCodeAllAccountsCooled,
		Message:   fmt.Sprintf("all %d account(s) are rate limited; retry in %d seconds", count, (waitMs+999)/1000),
		Retryable: true,
	}
}

func reauthenticateError() *Error {
	return &Error{
		Code:      ErrCodeReauthenticate,
		Message:   "all accounts were evicted; run the login flow again to reauthenticate",
		Retryable: false,
	}
}
