package antigravity

import "golang.org/x/oauth2"

// NewPKCE generates a fresh code_verifier/code_challenge pair using the
// oauth2 package's S256 helper. The Antigravity token endpoint also accepts
// the bundled client_secret, so PKCE here is defense in depth rather than
// the sole proof of possession: the authorize URL carries the challenge, and
// the exchange request carries both the verifier and the client_secret.
func NewPKCE() (verifier string, challenge oauth2.AuthCodeOption) {
	verifier = oauth2.GenerateVerifier()
	return verifier, oauth2.S256ChallengeOption(verifier)
}
