package antigravitypool

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Pool is the in-memory model of the account collection: round-robin
// selection with cooldowns, mutation API, and dirty-flag-free best-effort
// persistence after every transition. Each exported method is a short,
// non-suspending critical section; Save is always called by the method
// itself (never deferred to a caller), in line with the concurrency model
// that forbids suspension points inside a held lock -- Save's own I/O
// happens after the lock is released.
type Pool struct {
	mu          sync.Mutex
	accounts    []*Account
	activeIndex int
	store       Store
}

// LoadFromDisk reads the persisted document through store. If none exists
// but seedRefresh is a valid composite refresh string, the pool is seeded
// with a single account built from it.
func LoadFromDisk(ctx context.Context, store Store, seedRefresh string) (*Pool, error) {
	p := &Pool{store: store}

	doc, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}

	if doc == nil || len(doc.Accounts) == 0 {
		if seedRefresh != "" {
			if parts, errParse := ParseRefresh(seedRefresh); errParse == nil {
				now := time.Now().UnixMilli()
				p.accounts = []*Account{{
					RefreshToken:     parts.RefreshToken,
					ProjectID:        parts.ProjectID,
					ManagedProjectID: parts.ManagedProjectID,
					AddedAt:          now,
					LastUsed:         now,
				}}
			}
		}
		return p, nil
	}

	p.accounts = make([]*Account, 0, len(doc.Accounts))
	for i := range doc.Accounts {
		acc := doc.Accounts[i]
		p.accounts = append(p.accounts, &acc)
	}
	p.activeIndex = clampIndex(doc.ActiveIndex, len(p.accounts))
	return p, nil
}

func clampIndex(idx, length int) int {
	if length == 0 {
		return 0
	}
	if idx < 0 || idx >= length {
		return 0
	}
	return idx
}

// Count returns the number of accounts currently in the pool.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

// PickNext selects the next non-cooled account in round-robin order starting
// from activeIndex, opportunistically clearing cooldowns that have expired.
// Returns nil iff every account is currently cooled.
func (p *Pool) PickNext() *Account {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.accounts)
	if n == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	for i := 0; i < n; i++ {
		idx := (p.activeIndex + i) % n
		acc := p.accounts[idx]
		if acc.IsRateLimited && acc.RateLimitResetTime > now {
			continue
		}
		if acc.IsRateLimited {
			acc.IsRateLimited = false
			acc.RateLimitResetTime = 0
		}
		p.activeIndex = (idx + 1) % n
		acc.LastUsed = now
		return acc
	}
	return nil
}

// MinWaitMs returns the smallest remaining cooldown across all accounts,
// floored at 0. Meaningful only when PickNext has just returned nil.
func (p *Pool) MinWaitMs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UnixMilli()
	var min int64 = -1
	for _, acc := range p.accounts {
		if !acc.IsRateLimited {
			continue
		}
		remaining := acc.RateLimitResetTime - now
		if remaining < 0 {
			remaining = 0
		}
		if min < 0 || remaining < min {
			min = remaining
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// MarkRateLimited sets the cooldown for account to now+retryAfterMs, never
// reducing an existing, later cooldown (monotonicity). It is a no-op if the
// account is no longer in the pool.
func (p *Pool) MarkRateLimited(ctx context.Context, account *Account, retryAfterMs int64) {
	p.mu.Lock()
	found := false
	for _, acc := range p.accounts {
		if acc == account || acc.RefreshToken == account.RefreshToken {
			now := time.Now().UnixMilli()
			proposed := now + retryAfterMs
			acc.IsRateLimited = true
			if proposed > acc.RateLimitResetTime {
				acc.RateLimitResetTime = proposed
			}
			found = true
			break
		}
	}
	p.mu.Unlock()

	if found {
		p.persist(ctx)
	}
}

// UpdateFromAuth refreshes the access token, expiry, and project fields for
// account from a freshly obtained auth record, preserving pool membership.
func (p *Pool) UpdateFromAuth(ctx context.Context, account *Account, record AuthRecord) {
	parts, err := ParseRefresh(record.Refresh)
	if err != nil {
		log.Debugf("antigravitypool: update from auth: %v", err)
		return
	}

	p.mu.Lock()
	for _, acc := range p.accounts {
		if acc == account || acc.RefreshToken == account.RefreshToken {
			acc.RefreshToken = parts.RefreshToken
			if parts.ProjectID != "" {
				acc.ProjectID = parts.ProjectID
			}
			if parts.ManagedProjectID != "" {
				acc.ManagedProjectID = parts.ManagedProjectID
			}
			acc.AccessToken = record.Access
			acc.AccessTokenExpiresAt = record.Expires
			break
		}
	}
	p.mu.Unlock()

	p.persist(ctx)
}

// RemoveAccount removes the account matching the given refresh-token
// identity, returning true if one was found and removed.
func (p *Pool) RemoveAccount(ctx context.Context, account *Account) bool {
	p.mu.Lock()
	removed := false
	next := make([]*Account, 0, len(p.accounts))
	for _, acc := range p.accounts {
		if acc == account || acc.RefreshToken == account.RefreshToken {
			removed = true
			continue
		}
		next = append(next, acc)
	}
	if removed {
		p.accounts = next
		p.activeIndex = clampIndex(p.activeIndex, len(p.accounts))
	}
	p.mu.Unlock()

	if removed {
		p.persist(ctx)
	}
	return removed
}

// Enroll adds a new account, or, when its refresh token matches an existing
// entry, updates that entry's email/project ids/lastUsed in place instead of
// creating a duplicate.
func (p *Pool) Enroll(ctx context.Context, account Account) {
	p.mu.Lock()
	now := time.Now().UnixMilli()
	account.LastUsed = now
	if account.AddedAt == 0 {
		account.AddedAt = now
	}

	for _, acc := range p.accounts {
		if acc.RefreshToken == account.RefreshToken {
			acc.Email = account.Email
			if account.ProjectID != "" {
				acc.ProjectID = account.ProjectID
			}
			if account.ManagedProjectID != "" {
				acc.ManagedProjectID = account.ManagedProjectID
			}
			acc.LastUsed = now
			acc.AccessToken = account.AccessToken
			acc.AccessTokenExpiresAt = account.AccessTokenExpiresAt
			p.mu.Unlock()
			p.persist(ctx)
			return
		}
	}
	p.accounts = append(p.accounts, &account)
	p.mu.Unlock()

	p.persist(ctx)
}

// ToAuthDetails materializes account's token bundle, including any cached
// access token, as the composite AuthRecord shape.
func (p *Pool) ToAuthDetails(account *Account) AuthRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return AuthRecord{
		Type:    "oauth",
		Refresh: ComposeRefresh(account.RefreshToken, account.ProjectID, account.ManagedProjectID),
		Access:  account.AccessToken,
		Expires: account.AccessTokenExpiresAt,
	}
}

// SaveToDisk serializes the document, clamping activeIndex into range, and
// persists it through the configured Store.
func (p *Pool) SaveToDisk(ctx context.Context) error {
	p.mu.Lock()
	doc := p.snapshotLocked()
	p.mu.Unlock()
	return p.store.Save(ctx, doc)
}

func (p *Pool) snapshotLocked() *PoolDocument {
	accounts := make([]Account, len(p.accounts))
	for i, acc := range p.accounts {
		accounts[i] = *acc
	}
	return &PoolDocument{
		Version:     1,
		Accounts:    accounts,
		ActiveIndex: clampIndex(p.activeIndex, len(accounts)),
	}
}

// persist issues a best-effort save; failures are logged and swallowed per
// the storage adapter's error policy.
func (p *Pool) persist(ctx context.Context) {
	if p.store == nil {
		return
	}
	if err := p.SaveToDisk(ctx); err != nil {
		log.Warnf("antigravitypool: persist pool failed: %v", err)
	}
}

// ReloadFromDisk replaces in-memory state with the document currently on
// disk, used by FileStore's external-change notification.
func (p *Pool) ReloadFromDisk(ctx context.Context) error {
	doc, err := p.store.Load(ctx)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	accounts := make([]*Account, 0, len(doc.Accounts))
	for i := range doc.Accounts {
		acc := doc.Accounts[i]
		accounts = append(accounts, &acc)
	}
	p.mu.Lock()
	p.accounts = accounts
	p.activeIndex = clampIndex(doc.ActiveIndex, len(accounts))
	p.mu.Unlock()
	return nil
}

// Snapshot returns a defensive copy of the current account list, for
// read-only inspection by CLI/TUI callers.
func (p *Pool) Snapshot() []Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Account, len(p.accounts))
	for i, acc := range p.accounts {
		out[i] = *acc
	}
	return out
}
