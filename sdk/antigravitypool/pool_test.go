package antigravitypool

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestPool(t *testing.T, accounts ...Account) *Pool {
	t.Helper()
	store := NewFileStore(filepath.Join(t.TempDir(), "antigravity-accounts.json"))
	doc := &PoolDocument{Version: 1, Accounts: accounts}
	if err := store.Save(context.Background(), doc); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	pool, err := LoadFromDisk(context.Background(), store, "")
	if err != nil {
		t.Fatalf("LoadFromDisk() error = %v", err)
	}
	return pool
}

func TestPickNext_RoundRobinFairness(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t,
		Account{Email: "a@x", RefreshToken: "ra"},
		Account{Email: "b@x", RefreshToken: "rb"},
		Account{Email: "c@x", RefreshToken: "rc"},
	)

	seen := map[string]int{}
	for i := 0; i < 3; i++ {
		acc := pool.PickNext()
		if acc == nil {
			t.Fatalf("PickNext() #%d = nil", i)
		}
		seen[acc.Email]++
	}
	for _, email := range []string{"a@x", "b@x", "c@x"} {
		if seen[email] != 1 {
			t.Fatalf("PickNext() visited %q %d times in one window, want 1", email, seen[email])
		}
	}
}

func TestPickNext_UpdatesLastUsed(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t, Account{Email: "a@x", RefreshToken: "ra"})
	before := time.Now().UnixMilli()
	acc := pool.PickNext()
	if acc == nil {
		t.Fatal("PickNext() = nil")
	}
	if acc.LastUsed < before {
		t.Fatalf("LastUsed = %d, want >= %d", acc.LastUsed, before)
	}
}

func TestPickNext_CooldownRespected(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t,
		Account{Email: "a@x", RefreshToken: "ra"},
		Account{Email: "b@x", RefreshToken: "rb"},
	)

	first := pool.PickNext()
	pool.MarkRateLimited(context.Background(), first, 60_000)

	for i := 0; i < 4; i++ {
		acc := pool.PickNext()
		if acc == nil {
			t.Fatalf("PickNext() #%d = nil with one non-cooled account", i)
		}
		if acc.Email == first.Email {
			t.Fatalf("PickNext() returned cooled account %q", acc.Email)
		}
	}
}

func TestPickNext_ExpiredCooldownCleared(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t, Account{
		Email:              "a@x",
		RefreshToken:       "ra",
		IsRateLimited:      true,
		RateLimitResetTime: time.Now().UnixMilli() - 1000,
	})

	acc := pool.PickNext()
	if acc == nil {
		t.Fatal("PickNext() = nil, want expired cooldown cleared")
	}
	if acc.IsRateLimited || acc.RateLimitResetTime != 0 {
		t.Fatalf("cooldown not cleared: %+v", acc)
	}
}

func TestPickNext_AllCooled(t *testing.T) {
	t.Parallel()

	reset := time.Now().Add(10 * time.Second).UnixMilli()
	pool := newTestPool(t,
		Account{Email: "a@x", RefreshToken: "ra", IsRateLimited: true, RateLimitResetTime: reset},
		Account{Email: "b@x", RefreshToken: "rb", IsRateLimited: true, RateLimitResetTime: reset + 7000},
	)

	if acc := pool.PickNext(); acc != nil {
		t.Fatalf("PickNext() = %q, want nil", acc.Email)
	}
	waitMs := pool.MinWaitMs()
	if waitMs <= 0 || waitMs > 10_000 {
		t.Fatalf("MinWaitMs() = %d, want in (0, 10000]", waitMs)
	}
}

func TestMarkRateLimited_Monotonic(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t, Account{Email: "a@x", RefreshToken: "ra"})
	acc := pool.PickNext()

	pool.MarkRateLimited(context.Background(), acc, 60_000)
	firstReset := acc.RateLimitResetTime
	pool.MarkRateLimited(context.Background(), acc, 1_000)
	if acc.RateLimitResetTime < firstReset {
		t.Fatalf("RateLimitResetTime reduced from %d to %d", firstReset, acc.RateLimitResetTime)
	}
}

func TestMarkRateLimited_RemovedAccountNoOp(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t,
		Account{Email: "a@x", RefreshToken: "ra"},
		Account{Email: "b@x", RefreshToken: "rb"},
	)
	acc := pool.PickNext()
	pool.RemoveAccount(context.Background(), acc)
	pool.MarkRateLimited(context.Background(), acc, 60_000)
	if pool.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", pool.Count())
	}
}

func TestEnroll_Deduplicates(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)
	pool.Enroll(context.Background(), Account{Email: "old@x", RefreshToken: "ra", ProjectID: "p1"})
	pool.Enroll(context.Background(), Account{Email: "new@x", RefreshToken: "ra", ProjectID: "p2"})

	if pool.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", pool.Count())
	}
	accounts := pool.Snapshot()
	if accounts[0].Email != "new@x" || accounts[0].ProjectID != "p2" {
		t.Fatalf("Enroll() did not update in place: %+v", accounts[0])
	}
}

func TestRemoveAccount_ByRefreshTokenIdentity(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t,
		Account{Email: "a@x", RefreshToken: "ra"},
		Account{Email: "b@x", RefreshToken: "rb"},
	)

	if !pool.RemoveAccount(context.Background(), &Account{RefreshToken: "ra"}) {
		t.Fatal("RemoveAccount() = false, want true")
	}
	if pool.RemoveAccount(context.Background(), &Account{RefreshToken: "ra"}) {
		t.Fatal("RemoveAccount() second call = true, want false")
	}
	for i := 0; i < 3; i++ {
		if acc := pool.PickNext(); acc == nil || acc.RefreshToken == "ra" {
			t.Fatalf("PickNext() after removal = %+v", acc)
		}
	}
}

func TestLoadFromDisk_ClampsActiveIndex(t *testing.T) {
	t.Parallel()

	store := NewFileStore(filepath.Join(t.TempDir(), "antigravity-accounts.json"))
	doc := &PoolDocument{
		Version:     1,
		Accounts:    []Account{{Email: "a@x", RefreshToken: "ra"}, {Email: "b@x", RefreshToken: "rb"}},
		ActiveIndex: 9,
	}
	if err := store.Save(context.Background(), doc); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	pool, err := LoadFromDisk(context.Background(), store, "")
	if err != nil {
		t.Fatalf("LoadFromDisk() error = %v", err)
	}
	if acc := pool.PickNext(); acc == nil {
		t.Fatal("PickNext() = nil after clamp")
	}

	if err = pool.SaveToDisk(context.Background()); err != nil {
		t.Fatalf("SaveToDisk() error = %v", err)
	}
	saved, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if saved.ActiveIndex < 0 || saved.ActiveIndex >= len(saved.Accounts) {
		t.Fatalf("persisted ActiveIndex = %d out of range", saved.ActiveIndex)
	}
}

func TestLoadFromDisk_SeedsFromComposite(t *testing.T) {
	t.Parallel()

	store := NewFileStore(filepath.Join(t.TempDir(), "antigravity-accounts.json"))
	seed := ComposeRefresh("1//0seed", "proj", "managed")
	pool, err := LoadFromDisk(context.Background(), store, seed)
	if err != nil {
		t.Fatalf("LoadFromDisk() error = %v", err)
	}
	if pool.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", pool.Count())
	}
	acc := pool.Snapshot()[0]
	if acc.RefreshToken != "1//0seed" || acc.ProjectID != "proj" || acc.ManagedProjectID != "managed" {
		t.Fatalf("seeded account = %+v", acc)
	}
}

func TestToAuthDetails_IncludesCachedAccessToken(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t, Account{Email: "a@x", RefreshToken: "ra", ProjectID: "p"})
	acc := pool.PickNext()
	acc.AccessToken = "at-123"
	acc.AccessTokenExpiresAt = time.Now().Add(time.Hour).UnixMilli()

	record := pool.ToAuthDetails(acc)
	if record.Type != "oauth" || record.Access != "at-123" {
		t.Fatalf("ToAuthDetails() = %+v", record)
	}
	parts, err := ParseRefresh(record.Refresh)
	if err != nil || parts.RefreshToken != "ra" || parts.ProjectID != "p" {
		t.Fatalf("ToAuthDetails() refresh = %+v, err = %v", parts, err)
	}
}
