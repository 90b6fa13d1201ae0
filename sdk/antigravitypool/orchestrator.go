package antigravitypool

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ink-splatters/opencode-antigravity-auth/internal/antigravity"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/browser"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/misc"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/util"
	log "github.com/sirupsen/logrus"
)

// MaxEnrollAccounts caps the CLI enrollment loop.
const MaxEnrollAccounts = 10

// loginTimeout bounds how long a single authorization attempt waits for its
// callback before giving up.
const loginTimeout = 5 * time.Minute

// manualPromptDelay is how long the headful path waits for the browser
// redirect before additionally offering the paste prompt.
const manualPromptDelay = 15 * time.Second

// PromptFunc reads one line of user input in response to message.
type PromptFunc func(message string) (string, error)

// Orchestrator drives the interactive login paths: headful via a loopback
// listener, headless via pasted URL or bare authorization code. Successful
// exchanges are enrolled into the pool.
type Orchestrator struct {
	OAuth *antigravity.Client
	Pool  *Pool

	// CallbackPort fixes the loopback listener port; 0 selects the provider
	// default, and a busy default falls through to an ephemeral port.
	CallbackPort int

	// Prompt supplies the paste fallback. When nil, only the loopback
	// redirect can complete a headful login, and headless logins fail.
	Prompt PromptFunc

	// NoBrowser suppresses the browser-open attempt even in headful
	// environments. IsHeadless() implies it.
	NoBrowser bool

	// OnAuthURL, when set, receives the authorization URL as soon as it is
	// built, before the browser-open attempt. The CLI uses it to copy the
	// URL to the clipboard.
	OnAuthURL func(url string)

	// LoginTimeout and PromptDelay override the default wait bounds when
	// positive.
	LoginTimeout time.Duration
	PromptDelay  time.Duration
}

// IsHeadless reports whether the process runs without a usable local
// browser: an explicit opt-in flag or any of the standard ssh session
// variables.
func IsHeadless() bool {
	for _, key := range []string{"OPENCODE_HEADLESS", "SSH_CONNECTION", "SSH_CLIENT", "SSH_TTY"} {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

type callbackResult struct {
	Code  string
	State string
	Error string
}

// LoginOnce performs one full authorize -> await callback -> exchange ->
// enroll cycle, returning the enrolled account. projectID, when non-empty,
// is carried through the authorization and stored on the account.
func (o *Orchestrator) LoginOnce(ctx context.Context, projectID string) (*Account, error) {
	state, err := misc.GenerateRandomState()
	if err != nil {
		return nil, fmt.Errorf("antigravitypool: generate state: %w", err)
	}

	srv, port, cbChan, err := startCallbackServer(o.CallbackPort)
	if err != nil {
		return nil, fmt.Errorf("antigravitypool: start callback server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	redirectURI := fmt.Sprintf("http://localhost:%d/oauth-callback", port)
	handle, err := o.OAuth.Authorize(state, redirectURI, projectID)
	if err != nil {
		return nil, err
	}

	if o.OnAuthURL != nil {
		o.OnAuthURL(handle.URL)
	}

	headless := o.NoBrowser || IsHeadless()
	if !headless {
		fmt.Println("Opening browser for Antigravity authentication")
		if !browser.IsAvailable() {
			log.Warn("No browser available; please open the URL manually")
			util.PrintSSHTunnelInstructions(port)
			fmt.Printf("Visit the following URL to continue authentication:\n%s\n", handle.URL)
		} else if errOpen := browser.OpenURL(handle.URL); errOpen != nil {
			log.Warnf("Failed to open browser automatically: %v", errOpen)
			util.PrintSSHTunnelInstructions(port)
			fmt.Printf("Visit the following URL to continue authentication:\n%s\n", handle.URL)
		}
	} else {
		util.PrintSSHTunnelInstructions(port)
		fmt.Printf("Visit the following URL to continue authentication:\n%s\n", handle.URL)
	}

	cbRes, err := o.awaitCallback(ctx, cbChan, handle.State)
	if err != nil {
		return nil, err
	}
	if cbRes.Error != "" {
		return nil, fmt.Errorf("antigravitypool: authentication failed: %s", cbRes.Error)
	}
	if cbRes.State != handle.State {
		return nil, fmt.Errorf("antigravitypool: invalid state in callback")
	}
	if cbRes.Code == "" {
		return nil, fmt.Errorf("antigravitypool: missing authorization code")
	}

	email, tok, err := o.OAuth.Exchange(ctx, cbRes.Code, redirectURI, handle.Verifier)
	if err != nil {
		return nil, fmt.Errorf("antigravitypool: token exchange failed: %w", err)
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("antigravitypool: token exchange returned no refresh token")
	}

	now := time.Now()
	account := Account{
		Email:                strings.TrimSpace(email),
		RefreshToken:         tok.RefreshToken,
		ProjectID:            projectID,
		AddedAt:              now.UnixMilli(),
		LastUsed:             now.UnixMilli(),
		AccessToken:          tok.AccessToken,
		AccessTokenExpiresAt: antigravity.ExpiryFromNow(tok.ExpiresIn).UnixMilli(),
	}
	o.Pool.Enroll(ctx, account)
	log.Infof("antigravitypool: enrolled account %s", account.Email)
	return &account, nil
}

// awaitCallback waits for the loopback redirect, periodically offering the
// paste prompt when one is configured. Pasted input may be a full redirect
// URL, a query string, or a bare authorization code; a bare code falls back
// to the originally generated state.
func (o *Orchestrator) awaitCallback(ctx context.Context, cbChan <-chan callbackResult, generatedState string) (callbackResult, error) {
	timeout := o.LoginTimeout
	if timeout <= 0 {
		timeout = loginTimeout
	}
	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	var manualPromptC <-chan time.Time
	if o.Prompt != nil {
		delay := o.PromptDelay
		if delay <= 0 {
			delay = manualPromptDelay
		}
		manualPromptTimer := time.NewTimer(delay)
		defer manualPromptTimer.Stop()
		manualPromptC = manualPromptTimer.C
	}

	for {
		select {
		case res := <-cbChan:
			return res, nil
		case <-ctx.Done():
			return callbackResult{}, ctx.Err()
		case <-timeoutTimer.C:
			return callbackResult{}, fmt.Errorf("antigravitypool: authentication timed out")
		case <-manualPromptC:
			manualPromptC = nil

			// The redirect may have raced the prompt timer.
			select {
			case res := <-cbChan:
				return res, nil
			default:
			}

			input, err := o.Prompt("Paste the callback URL or authorization code (or press Enter to keep waiting): ")
			if err != nil {
				return callbackResult{}, err
			}
			parsed, err := misc.ParseOAuthCallback(input)
			if err != nil {
				return callbackResult{}, err
			}
			if parsed == nil {
				continue
			}
			res := callbackResult{Code: parsed.Code, State: parsed.State, Error: parsed.Error}
			if res.State == "" {
				res.State = generatedState
			}
			return res, nil
		}
	}
}

// Connect runs the single-account flow asynchronously for host-embedded UIs:
// no project-id prompt, result delivered through callback. The returned URL
// is the authorization URL the host should surface; enrollment completes in
// the background once the redirect or pasted code arrives.
func (o *Orchestrator) Connect(ctx context.Context, callback func(*Account, error)) {
	go func() {
		account, err := o.LoginOnce(ctx, "")
		callback(account, err)
	}()
}

// startCallbackServer binds the loopback listener and serves the
// /oauth-callback redirect, delivering the first matching result on the
// returned channel. The listener closes deterministically through the
// http.Server shutdown the caller defers.
func startCallbackServer(port int) (*http.Server, int, <-chan callbackResult, error) {
	if port <= 0 {
		port = antigravity.CallbackPort
	}
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		// Default port busy; fall back to an ephemeral one.
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, 0, nil, err
		}
	}
	port = listener.Addr().(*net.TCPAddr).Port
	resultCh := make(chan callbackResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth-callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res := callbackResult{
			Code:  strings.TrimSpace(q.Get("code")),
			State: strings.TrimSpace(q.Get("state")),
			Error: strings.TrimSpace(q.Get("error")),
		}
		select {
		case resultCh <- res:
		default:
		}
		if res.Code != "" && res.Error == "" {
			_, _ = w.Write([]byte("<h1>Login successful</h1><p>You can close this window.</p>"))
		} else {
			_, _ = w.Write([]byte("<h1>Login failed</h1><p>Please check the CLI output.</p>"))
		}
	})

	srv := &http.Server{Handler: mux}
	go func() {
		if errServe := srv.Serve(listener); errServe != nil && errServe != http.ErrServerClosed {
			log.Warnf("antigravitypool: callback server error: %v", errServe)
		}
	}()

	return srv, port, resultCh, nil
}
