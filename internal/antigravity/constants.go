// Package antigravity implements the provider-specific OAuth client, project
// context resolver, request rewriter and response classifier for the
// Antigravity generative-language API.
package antigravity

import "time"

// OAuth client credentials and scopes for the Antigravity provider. These
// match the bundled desktop-client credentials Google issues for this
// product; they are not secrets in the traditional sense since the
// corresponding client is public and relies on the user's own consent.
const (
	ClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	ClientSecret = "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"
	CallbackPort = 51121
)

var Scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/cclog",
	"https://www.googleapis.com/auth/experimentsandconfigs",
}

const (
	TokenEndpoint    = "https://oauth2.googleapis.com/token"
	AuthEndpoint     = "https://accounts.google.com/o/oauth2/v2/auth"
	UserInfoEndpoint = "https://www.googleapis.com/oauth2/v1/userinfo?alt=json"
)

const (
	APIVersion   = "v1internal"
	APIUserAgent = "antigravity-auth-pool/1.0"
)

// Endpoint labels, matching the conventional three-way fallback order.
const (
	EndpointDaily    = "https://daily-cloudcode-pa.googleapis.com"
	EndpointAutopush = "https://daily-cloudcode-pa.sandbox.googleapis.com"
	EndpointProd     = "https://cloudcode-pa.googleapis.com"
)

// DefaultEndpoints returns the default fallback order: daily, autopush, prod.
func DefaultEndpoints() []string {
	return []string{EndpointDaily, EndpointAutopush, EndpointProd}
}

const (
	GeneratePath    = "/v1internal:generateContent"
	StreamPath      = "/v1internal:streamGenerateContent"
	CountTokensPath = "/v1internal:countTokens"
	ModelsPath      = "/v1internal:fetchAvailableModels"
	LoadCodeAssist  = "/v1internal:loadCodeAssist"
	OnboardUserPath = "/v1internal:onboardUser"
)

// RefreshSkew is the window before expiry at which a cached access token is
// treated as unusable and a refresh is triggered.
const RefreshSkew = 5 * time.Minute
