package antigravity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestAuthorize_URLCarriesStateAndPKCE(t *testing.T) {
	t.Parallel()

	client := NewClient(nil)
	handle, err := client.Authorize("state-xyz", "http://localhost:1234/oauth-callback", "my-project")
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if handle.State != "state-xyz" || handle.Verifier == "" {
		t.Fatalf("Authorize() handle = %+v", handle)
	}

	parsed, err := url.Parse(handle.URL)
	if err != nil {
		t.Fatalf("Parse(auth url) error = %v", err)
	}
	q := parsed.Query()
	if q.Get("state") != "state-xyz" {
		t.Fatalf("auth url state = %q", q.Get("state"))
	}
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
		t.Fatalf("auth url missing PKCE material: %s", handle.URL)
	}
	if q.Get("antigravity_project_id") != "my-project" {
		t.Fatalf("auth url project = %q", q.Get("antigravity_project_id"))
	}
	if q.Get("client_id") != ClientID || q.Get("response_type") != "code" {
		t.Fatalf("auth url core params wrong: %s", handle.URL)
	}
}

func TestExchange_RoundTrip(t *testing.T) {
	t.Parallel()

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		if r.Form.Get("grant_type") != "authorization_code" || r.Form.Get("code") != "code-abc" {
			t.Errorf("unexpected token form: %v", r.Form)
		}
		if r.Form.Get("code_verifier") == "" {
			t.Errorf("exchange missing code_verifier")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","expires_in":3599,"token_type":"Bearer"}`))
	}))
	defer tokenSrv.Close()

	userSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			t.Errorf("userinfo auth header = %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`{"email":"user@example.com"}`))
	}))
	defer userSrv.Close()

	client := NewClient(nil)
	client.TokenURL = tokenSrv.URL
	client.UserInfoURL = userSrv.URL

	email, tok, err := client.Exchange(context.Background(), "code-abc", "http://localhost/cb", "verifier-1")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if email != "user@example.com" || tok.AccessToken != "at-1" || tok.RefreshToken != "rt-1" {
		t.Fatalf("Exchange() = %q, %+v", email, tok)
	}
}

func TestRefresh_ClassifiesInvalidGrant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		wantKind RefreshFailureKind
	}{
		{"invalid_grant", 400, `{"error":"invalid_grant","error_description":"Token has been revoked."}`, RefreshInvalidGrant},
		{"other oauth error", 400, `{"error":"invalid_client"}`, RefreshTransient},
		{"server error", 500, `upstream exploded`, RefreshTransient},
		{"non-json body", 403, `forbidden`, RefreshTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient(nil)
			client.TokenURL = srv.URL

			_, err := client.Refresh(context.Background(), "rt-dead")
			if err == nil {
				t.Fatal("Refresh() error = nil, want RefreshError")
			}
			rerr, ok := err.(*RefreshError)
			if !ok {
				t.Fatalf("Refresh() error type = %T", err)
			}
			if rerr.Kind != tt.wantKind {
				t.Fatalf("Refresh() kind = %v, want %v", rerr.Kind, tt.wantKind)
			}
		})
	}
}

func TestRefresh_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "rt-live" {
			t.Errorf("unexpected refresh form: %v", r.Form)
		}
		_, _ = w.Write([]byte(`{"access_token":"at-new","expires_in":3599}`))
	}))
	defer srv.Close()

	client := NewClient(nil)
	client.TokenURL = srv.URL

	tok, err := client.Refresh(context.Background(), "rt-live")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if tok.AccessToken != "at-new" || tok.ExpiresIn != 3599 {
		t.Fatalf("Refresh() = %+v", tok)
	}
}

func TestIsGenerativeLanguageRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rawURL string
		want   bool
	}{
		{"https://daily-cloudcode-pa.googleapis.com/v1internal:generateContent", true},
		{"https://example.com/v1internal:streamGenerateContent", true},
		{"https://example.com/v1internal:countTokens", true},
		{"https://example.com/v1internal:fetchAvailableModels", true},
		{"https://example.com/v1/chat/completions", false},
		{"https://example.com/", false},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.rawURL)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", tt.rawURL, err)
		}
		if got := IsGenerativeLanguageRequest(u); got != tt.want {
			t.Fatalf("IsGenerativeLanguageRequest(%q) = %v, want %v", tt.rawURL, got, tt.want)
		}
	}
}
