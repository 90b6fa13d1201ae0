package antigravitypool

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ink-splatters/opencode-antigravity-auth/internal/antigravity"
)

// enrolledPool builds a pool whose accounts keep their transient access
// tokens, since Enroll preserves them while a disk round trip would not.
func enrolledPool(t *testing.T, accounts ...Account) *Pool {
	t.Helper()
	store := NewFileStore(filepath.Join(t.TempDir(), "antigravity-accounts.json"))
	pool, err := LoadFromDisk(context.Background(), store, "")
	if err != nil {
		t.Fatalf("LoadFromDisk() error = %v", err)
	}
	for _, acc := range accounts {
		pool.Enroll(context.Background(), acc)
	}
	return pool
}

func liveAccount(email, refreshToken string) Account {
	return Account{
		Email:                email,
		RefreshToken:         refreshToken,
		ProjectID:            "proj-" + email,
		AccessToken:          "at-" + refreshToken,
		AccessTokenExpiresAt: time.Now().Add(time.Hour).UnixMilli(),
	}
}

func generateRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "https://cloudcode-pa.googleapis.com"+antigravity.GeneratePath, strings.NewReader(`{"model":"gemini-3-pro"}`))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

func newDispatcher(pool *Pool, endpoints []string) *Dispatcher {
	return NewDispatcher(pool, antigravity.NewClient(nil), endpoints)
}

func TestDispatch_HappyPathSingleAccount(t *testing.T) {
	t.Parallel()

	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if got := r.Header.Get("Authorization"); got != "Bearer at-ra" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"project":"proj-a@x"`) {
			t.Errorf("project not injected: %s", body)
		}
		_, _ = w.Write([]byte(`{"response":{"candidates":[]},"traceId":"t1"}`))
	}))
	defer upstream.Close()

	pool := enrolledPool(t, liveAccount("a@x", "ra"))
	d := newDispatcher(pool, []string{upstream.URL, "http://127.0.0.1:1", "http://127.0.0.1:2"})

	resp, err := d.Do(context.Background(), generateRequest(t))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Do() status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"candidates":[]}` {
		t.Fatalf("Do() body = %s, want unwrapped envelope", body)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("upstream calls = %d, want 1", calls)
	}
	if acc := pool.Snapshot()[0]; acc.LastUsed == 0 {
		t.Fatal("LastUsed not updated")
	}
}

func TestDispatch_EndpointFallback(t *testing.T) {
	t.Parallel()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"model":"gemini-3-pro"`) {
			t.Errorf("fallback attempt lost the request body: %s", body)
		}
		_, _ = w.Write([]byte(`{"response":{"ok":true}}`))
	}))
	defer good.Close()

	pool := enrolledPool(t, liveAccount("a@x", "ra"))
	d := newDispatcher(pool, []string{bad.URL, good.URL})

	resp, err := d.Do(context.Background(), generateRequest(t))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != `{"ok":true}` {
		t.Fatalf("Do() = %d %s", resp.StatusCode, body)
	}
}

func TestDispatch_429CoolsAccountAndRotates(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer at-ra" {
			w.Header().Set("Retry-After-Ms", "5000")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"response":{"from":"b"}}`))
	}))
	defer upstream.Close()

	pool := enrolledPool(t, liveAccount("a@x", "ra"), liveAccount("b@x", "rb"))
	d := newDispatcher(pool, []string{upstream.URL})

	before := time.Now().UnixMilli()
	resp, err := d.Do(context.Background(), generateRequest(t))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"from":"b"}` {
		t.Fatalf("Do() body = %s, want b's response", body)
	}

	var cooled *Account
	for _, acc := range pool.Snapshot() {
		if acc.Email == "a@x" {
			cooled = &acc
			break
		}
	}
	if cooled == nil || !cooled.IsRateLimited {
		t.Fatalf("account a not rate limited: %+v", cooled)
	}
	if cooled.RateLimitResetTime < before+5000 || cooled.RateLimitResetTime > time.Now().UnixMilli()+5000 {
		t.Fatalf("RateLimitResetTime = %d, want about now+5000", cooled.RateLimitResetTime)
	}
}

func TestDispatch_AllAccountsCooled(t *testing.T) {
	t.Parallel()

	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer upstream.Close()

	now := time.Now().UnixMilli()
	a := liveAccount("a@x", "ra")
	a.IsRateLimited = true
	a.RateLimitResetTime = now + 10_000
	b := liveAccount("b@x", "rb")
	b.IsRateLimited = true
	b.RateLimitResetTime = now + 3_000

	pool := enrolledPool(t, a, b)
	d := newDispatcher(pool, []string{upstream.URL})

	_, err := d.Do(context.Background(), generateRequest(t))
	if err == nil {
		t.Fatal("Do() error = nil, want all-accounts-cooled")
	}
	poolErr, ok := err.(*Error)
	if !ok || poolErr.Code != ErrCodeAllAccountsCooled {
		t.Fatalf("Do() error = %v", err)
	}
	if !strings.Contains(poolErr.Message, "3 seconds") || !strings.Contains(poolErr.Message, "2 account(s)") {
		t.Fatalf("Do() message = %q", poolErr.Message)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("upstream calls = %d, want 0", calls)
	}
}

func TestDispatch_InvalidGrantEvicts(t *testing.T) {
	t.Parallel()

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("refresh_token") == "ra" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"at-rb","expires_in":3599}`))
	}))
	defer tokenSrv.Close()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":{"from":"b"}}`))
	}))
	defer upstream.Close()

	// Account a has no cached token, forcing the refresh that reveals the
	// revocation; b refreshes cleanly through the same fake endpoint.
	a := Account{Email: "a@x", RefreshToken: "ra", ProjectID: "pa"}
	b := Account{Email: "b@x", RefreshToken: "rb", ProjectID: "pb"}

	pool := enrolledPool(t, a, b)
	oauth := antigravity.NewClient(nil)
	oauth.TokenURL = tokenSrv.URL
	d := NewDispatcher(pool, oauth, []string{upstream.URL})

	resp, err := d.Do(context.Background(), generateRequest(t))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"from":"b"}` {
		t.Fatalf("Do() body = %s", body)
	}

	if pool.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 after eviction", pool.Count())
	}
	if pool.Snapshot()[0].Email != "b@x" {
		t.Fatalf("remaining account = %q", pool.Snapshot()[0].Email)
	}
	for i := 0; i < 3; i++ {
		if acc := pool.PickNext(); acc == nil || acc.Email == "a@x" {
			t.Fatalf("PickNext() after eviction = %+v", acc)
		}
	}
}

func TestDispatch_AllInvalidGrantClearsCredentials(t *testing.T) {
	t.Parallel()

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer tokenSrv.Close()

	pool := enrolledPool(t,
		Account{Email: "a@x", RefreshToken: "ra", ProjectID: "pa"},
		Account{Email: "b@x", RefreshToken: "rb", ProjectID: "pb"},
	)
	oauth := antigravity.NewClient(nil)
	oauth.TokenURL = tokenSrv.URL
	d := NewDispatcher(pool, oauth, []string{"http://127.0.0.1:1"})

	cleared := false
	d.ClearHostCredentials = func() { cleared = true }

	_, err := d.Do(context.Background(), generateRequest(t))
	if err == nil {
		t.Fatal("Do() error = nil, want reauthenticate")
	}
	poolErr, ok := err.(*Error)
	if !ok || poolErr.Code != ErrCodeReauthenticate {
		t.Fatalf("Do() error = %v", err)
	}
	if !cleared {
		t.Fatal("ClearHostCredentials not invoked")
	}
	if pool.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", pool.Count())
	}
}

func TestDispatch_NoAccounts(t *testing.T) {
	t.Parallel()

	pool := enrolledPool(t)
	d := newDispatcher(pool, []string{"http://127.0.0.1:1"})

	_, err := d.Do(context.Background(), generateRequest(t))
	if err == nil {
		t.Fatal("Do() error = nil, want no-accounts")
	}
	poolErr, ok := err.(*Error)
	if !ok || poolErr.Code != ErrCodeNoAccounts {
		t.Fatalf("Do() error = %v", err)
	}
}

func TestDispatch_LastEndpointFailureReturned(t *testing.T) {
	t.Parallel()

	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"unavailable"}`))
	}))
	defer upstream.Close()

	pool := enrolledPool(t, liveAccount("a@x", "ra"))
	d := newDispatcher(pool, []string{upstream.URL, upstream.URL, upstream.URL})

	resp, err := d.Do(context.Background(), generateRequest(t))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Do() status = %d, want 503 surfaced", resp.StatusCode)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("upstream calls = %d, want 3 (every endpoint tried)", calls)
	}
}

func TestDispatch_All429ReturnsLastFailure(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"quota"}`))
	}))
	defer upstream.Close()

	pool := enrolledPool(t, liveAccount("a@x", "ra"), liveAccount("b@x", "rb"))
	d := newDispatcher(pool, []string{upstream.URL})

	resp, err := d.Do(context.Background(), generateRequest(t))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("Do() status = %d, want 429 surfaced as last failure", resp.StatusCode)
	}
	for _, acc := range pool.Snapshot() {
		if !acc.IsRateLimited {
			t.Fatalf("account %q not cooled after 429", acc.Email)
		}
	}
}
