package antigravitypool

import (
	"context"
	"net/http"

	"github.com/ink-splatters/opencode-antigravity-auth/internal/antigravity"
	log "github.com/sirupsen/logrus"
)

// GetAuthFunc returns the host's currently stored auth record for this
// provider, or nil when none exists. Its Refresh field seeds the pool when
// the persisted pool document is empty.
type GetAuthFunc func(ctx context.Context) *AuthRecord

// FetchFunc is the dispatch entrypoint handed back to the host: a drop-in
// replacement for its own fetch primitive.
type FetchFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Loader is what the host receives from the plugin's loader: an empty API
// key (OAuth accounts stand in for it) and the dispatching fetch.
type Loader struct {
	APIKey string
	Fetch  FetchFunc
}

// AuthorizeResult describes one started authorization: the URL the host
// should surface, user-facing instructions, whether completion is automatic
// (loopback redirect) or requires a pasted code, and the callback that
// completes the exchange.
type AuthorizeResult struct {
	URL          string
	Instructions string
	Method       string // "auto" or "code"
	Callback     func(ctx context.Context, input string) (*AuthRecord, error)
}

// AuthMethod is one way the host can establish credentials for this
// provider.
type AuthMethod struct {
	Kind      string // "oauth" or "api"
	Label     string
	Authorize func(ctx context.Context) (*AuthorizeResult, error)
}

// Plugin is the host plugin entrypoint: a factory product parameterized by a
// provider id, exposing the dispatch loader and the authentication methods.
type Plugin struct {
	ProviderID string

	store      Store
	pool       *Pool
	dispatcher *Dispatcher
	oauth      *antigravity.Client
	underlying *http.Client
}

// PluginOptions parameterizes NewPlugin.
type PluginOptions struct {
	Store      Store
	Endpoints  []string
	HTTPClient *http.Client

	// ClearHostCredentials is called when every account has been evicted, so
	// the host's own credential store is wiped alongside the pool document.
	ClearHostCredentials func()
}

// NewPlugin builds the plugin for providerID. The pool is loaded lazily on
// the first Loader call so the host's stored auth record can seed it.
func NewPlugin(providerID string, opts PluginOptions) *Plugin {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	oauth := antigravity.NewClient(httpClient)
	store := opts.Store
	if store == nil {
		store = NewFileStore(DefaultAccountsPath())
	}
	endpoints := opts.Endpoints
	if len(endpoints) == 0 {
		endpoints = antigravity.DefaultEndpoints()
	}
	p := &Plugin{
		ProviderID: providerID,
		store:      store,
		oauth:      oauth,
		underlying: httpClient,
	}
	p.dispatcher = &Dispatcher{
		OAuth:                oauth,
		Endpoints:            endpoints,
		HTTPClient:           httpClient,
		ClearHostCredentials: opts.ClearHostCredentials,
	}
	return p
}

// Pool returns the loaded account pool, or nil before the first Loader call.
func (p *Plugin) Pool() *Pool { return p.pool }

// Loader yields the host-facing fetch entry. getAuth supplies the host's
// stored credential; when the persisted pool document is empty, its
// composite refresh seeds a single-account pool.
func (p *Plugin) Loader(ctx context.Context, getAuth GetAuthFunc) (*Loader, error) {
	seedRefresh := ""
	if getAuth != nil {
		if record := getAuth(ctx); record != nil && record.Type == "oauth" {
			seedRefresh = record.Refresh
		}
	}

	pool, err := LoadFromDisk(ctx, p.store, seedRefresh)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	p.dispatcher.Pool = pool

	return &Loader{APIKey: "", Fetch: p.fetch}, nil
}

// fetch dispatches generative-language requests through the engine and
// passes everything else straight to the underlying HTTP client.
func (p *Plugin) fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if !antigravity.IsGenerativeLanguageRequest(req.URL) {
		return p.underlying.Do(req.WithContext(ctx))
	}
	return p.dispatcher.Do(ctx, req)
}

// Methods lists the authentication methods the host can offer: the OAuth
// flow and manual API-key entry.
func (p *Plugin) Methods() []AuthMethod {
	return []AuthMethod{
		{
			Kind:      "oauth",
			Label:     "Sign in with Google",
			Authorize: p.authorizeOAuth,
		},
		{
			Kind:  "api",
			Label: "Enter an API key",
		},
	}
}

// ensurePool loads the pool from the store when the host calls an auth
// method before its first Loader call.
func (p *Plugin) ensurePool(ctx context.Context) (*Pool, error) {
	if p.pool != nil {
		return p.pool, nil
	}
	pool, err := LoadFromDisk(ctx, p.store, "")
	if err != nil {
		return nil, err
	}
	p.pool = pool
	p.dispatcher.Pool = pool
	return pool, nil
}

func (p *Plugin) authorizeOAuth(ctx context.Context) (*AuthorizeResult, error) {
	pool, err := p.ensurePool(ctx)
	if err != nil {
		return nil, err
	}
	orchestrator := &Orchestrator{OAuth: p.oauth, Pool: pool}

	if IsHeadless() {
		return p.authorizeByCode(ctx, orchestrator)
	}

	resultCh := make(chan struct {
		account *Account
		err     error
	}, 1)
	orchestrator.Connect(ctx, func(account *Account, err error) {
		resultCh <- struct {
			account *Account
			err     error
		}{account, err}
	})

	return &AuthorizeResult{
		Instructions: "Complete the Google sign-in in your browser.",
		Method:       "auto",
		Callback: func(ctx context.Context, _ string) (*AuthRecord, error) {
			select {
			case res := <-resultCh:
				if res.err != nil {
					return nil, res.err
				}
				return p.recordFor(res.account), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}, nil
}

// authorizeByCode is the headless variant: the host surfaces the URL and
// later feeds the pasted redirect URL or bare code into the callback.
func (p *Plugin) authorizeByCode(ctx context.Context, orchestrator *Orchestrator) (*AuthorizeResult, error) {
	inputCh := make(chan string, 1)
	orchestrator.Prompt = func(string) (string, error) {
		select {
		case input := <-inputCh:
			return input, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	orchestrator.NoBrowser = true

	resultCh := make(chan struct {
		account *Account
		err     error
	}, 1)
	go func() {
		account, err := orchestrator.LoginOnce(ctx, "")
		resultCh <- struct {
			account *Account
			err     error
		}{account, err}
	}()

	return &AuthorizeResult{
		Instructions: "Open the URL, sign in, then paste the redirect URL or authorization code.",
		Method:       "code",
		Callback: func(ctx context.Context, input string) (*AuthRecord, error) {
			select {
			case inputCh <- input:
			default:
			}
			select {
			case res := <-resultCh:
				if res.err != nil {
					return nil, res.err
				}
				return p.recordFor(res.account), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}, nil
}

func (p *Plugin) recordFor(account *Account) *AuthRecord {
	if account == nil {
		return nil
	}
	record := AuthRecord{
		Type:    "oauth",
		Refresh: ComposeRefresh(account.RefreshToken, account.ProjectID, account.ManagedProjectID),
		Access:  account.AccessToken,
		Expires: account.AccessTokenExpiresAt,
	}
	log.Debugf("antigravitypool: issued auth record for %s", account.Email)
	return &record
}
