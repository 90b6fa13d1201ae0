package antigravitypool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ink-splatters/opencode-antigravity-auth/internal/antigravity"
	log "github.com/sirupsen/logrus"
)

// Dispatcher is the Dispatch Engine: the two-level retry loop (accounts x
// endpoints) that consumes the Account Pool, the OAuth Client, the Project
// Context Resolver, the Request Rewriter and the Response Classifier to
// turn one host-issued fetch into a resilient call against the upstream.
type Dispatcher struct {
	Pool       *Pool
	OAuth      *antigravity.Client
	Endpoints  []string
	HTTPClient *http.Client

	// ClearHostCredentials is invoked when the pool empties as a result of
	// invalid-grant eviction, so the host's own stored credentials (outside
	// this shim) can be cleared alongside this pool's.
	ClearHostCredentials func()

	// OnExchange, when set, receives every upstream round trip for the debug
	// sink: the account it ran under, the rewritten target, and both bodies.
	OnExchange func(email, method, url string, status int, reqBody, respBody []byte)
}

// NewDispatcher constructs a Dispatcher with sane defaults.
func NewDispatcher(pool *Pool, oauth *antigravity.Client, endpoints []string) *Dispatcher {
	if len(endpoints) == 0 {
		endpoints = antigravity.DefaultEndpoints()
	}
	return &Dispatcher{
		Pool:       pool,
		OAuth:      oauth,
		Endpoints:  endpoints,
		HTTPClient: http.DefaultClient,
	}
}

// Do runs req through the dispatch state machine. req should target the
// generative-language surface; callers are responsible for passing
// non-matching requests straight to their own fetch primitive (per spec
// section 1's passthrough non-goal).
func (d *Dispatcher) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	accountCount := d.Pool.Count()
	if accountCount == 0 {
		return nil, noAccountsError()
	}

	// The body is consumed once up front so every account x endpoint attempt
	// can replay it from a fresh reader.
	var payload []byte
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		payload = data
	}

	var lastFailure *http.Response
	var lastFailureBody []byte
	var lastErr error

accountLoop:
	for attempt := 0; attempt < accountCount; attempt++ {
		account := d.Pool.PickNext()
		if account == nil {
			waitMs := d.Pool.MinWaitMs()
			return nil, allAccountsCooledError(waitMs, d.Pool.Count())
		}

		if err := d.Pool.SaveToDisk(ctx); err != nil {
			log.Warnf("antigravitypool: persist rotation failed: %v", err)
		}

		accessToken, evicted, err := d.ensureAccessToken(ctx, account)
		if err != nil {
			if evicted {
				if d.Pool.Count() == 0 {
					if d.ClearHostCredentials != nil {
						d.ClearHostCredentials()
					}
					return nil, reauthenticateError()
				}
			}
			lastErr = err
			continue accountLoop
		}

		projectID, err := d.ensureProjectContext(ctx, account, accessToken)
		if err != nil {
			lastErr = err
			continue accountLoop
		}

		endpointCount := len(d.Endpoints)
		for i := 0; i < endpointCount; i++ {
			endpoint := d.Endpoints[i]
			hasMore := i+1 < endpointCount

			prepared, errPrepare := antigravity.Prepare(ctx, cloneRequest(req, payload), accessToken, projectID, endpoint)
			if errPrepare != nil {
				lastErr = errPrepare
				if hasMore {
					continue
				}
				continue accountLoop
			}

			resp, errDo := d.HTTPClient.Do(prepared.Request)
			if errDo != nil {
				lastErr = errDo
				if hasMore {
					continue
				}
				continue accountLoop
			}

			body, errRead := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if errRead != nil {
				lastErr = errRead
				if hasMore {
					continue
				}
				continue accountLoop
			}

			if d.OnExchange != nil {
				d.OnExchange(account.Email, prepared.Request.Method, prepared.Request.URL.String(), resp.StatusCode, payload, body)
			}

			classification := antigravity.Classify(resp.StatusCode, d.Pool.Count(), hasMore)
			switch classification {
			case antigravity.ClassifyAccountCooldown:
				retryAfterMs := antigravity.ParseRetryAfter(resp.Header)
				d.Pool.MarkRateLimited(ctx, account, retryAfterMs)
				lastFailure = resp
				lastFailureBody = body
				continue accountLoop
			case antigravity.ClassifyEndpointFallback:
				lastFailure = resp
				lastFailureBody = body
				if hasMore {
					continue
				}
				return transformResponse(resp, body), nil
			default: // ClassifyReturn
				if prepared.RequestedModel != "" {
					log.Debugf("antigravitypool: served %s (requested %s) from %s via %s",
						prepared.EffectiveModel, prepared.RequestedModel, account.Email, prepared.Endpoint)
				}
				return transformResponse(resp, body), nil
			}
		}
	}

	if lastFailure != nil {
		return transformResponse(lastFailure, lastFailureBody), nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &Error{Message: "all accounts failed", Retryable: true}
}

// ensureAccessToken materializes a usable access token for account,
// refreshing when absent or within its expiry skew. evicted reports whether
// the account was removed from the pool due to an invalid-grant refresh
// failure.
func (d *Dispatcher) ensureAccessToken(ctx context.Context, account *Account) (token string, evicted bool, err error) {
	now := time.Now()
	if account.AccessToken != "" && account.AccessTokenExpiresAt > now.Add(antigravity.RefreshSkew).UnixMilli() {
		return account.AccessToken, false, nil
	}

	tok, refreshErr := d.OAuth.Refresh(ctx, account.RefreshToken)
	if refreshErr != nil {
		if rerr, ok := refreshErr.(*antigravity.RefreshError); ok && rerr.Kind == antigravity.RefreshInvalidGrant {
			d.Pool.RemoveAccount(ctx, account)
			log.Warnf("antigravitypool: evicted account %s after invalid_grant refresh failure", account.Email)
			return "", true, &Error{Code: ErrCodeInvalidGrant, Message: "refresh token is no longer valid", Retryable: false}
		}
		return "", false, fmt.Errorf("antigravitypool: refresh failed: %w", refreshErr)
	}

	record := AuthRecord{
		Type:    "oauth",
		Refresh: ComposeRefresh(account.RefreshToken, account.ProjectID, account.ManagedProjectID),
		Access:  tok.AccessToken,
		Expires: antigravity.ExpiryFromNow(tok.ExpiresIn).UnixMilli(),
	}
	if tok.RefreshToken != "" {
		record.Refresh = ComposeRefresh(tok.RefreshToken, account.ProjectID, account.ManagedProjectID)
	}
	d.Pool.UpdateFromAuth(ctx, account, record)
	return tok.AccessToken, false, nil
}

// ensureProjectContext returns the effective project id for account: the
// user-chosen project when present, then the server-assigned managed
// project, and only then a discovery round trip whose result is stored as
// the managed project id.
func (d *Dispatcher) ensureProjectContext(ctx context.Context, account *Account, accessToken string) (string, error) {
	if account.ProjectID != "" {
		return account.ProjectID, nil
	}
	if account.ManagedProjectID != "" {
		return account.ManagedProjectID, nil
	}
	projectID, err := antigravity.ResolveProjectID(ctx, d.HTTPClient, accessToken, account.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("antigravitypool: resolve project id: %w", err)
	}
	if projectID == "" {
		return "", nil
	}
	record := AuthRecord{
		Type:    "oauth",
		Refresh: ComposeRefresh(account.RefreshToken, account.ProjectID, projectID),
		Access:  accessToken,
		Expires: account.AccessTokenExpiresAt,
	}
	d.Pool.UpdateFromAuth(ctx, account, record)
	return projectID, nil
}

func cloneRequest(req *http.Request, payload []byte) *http.Request {
	clone := req.Clone(req.Context())
	if payload != nil {
		clone.Body = io.NopCloser(bytes.NewReader(payload))
		clone.ContentLength = int64(len(payload))
	} else {
		clone.Body = nil
	}
	return clone
}

// transformResponse applies the minimal envelope-unwrap transform and
// returns an *http.Response with the rewritten body, leaving status code and
// headers untouched for the host to interpret.
func transformResponse(resp *http.Response, body []byte) *http.Response {
	unwrapped := antigravity.UnwrapEnvelope(body)
	out := *resp
	out.Body = io.NopCloser(bytes.NewReader(unwrapped))
	out.ContentLength = int64(len(unwrapped))
	return &out
}
