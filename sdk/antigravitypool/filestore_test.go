package antigravitypool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStore_LoadMissingFile(t *testing.T) {
	t.Parallel()

	store := NewFileStore(filepath.Join(t.TempDir(), "does-not-exist.json"))
	doc, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if doc != nil {
		t.Fatalf("Load() = %+v, want nil", doc)
	}
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "antigravity-accounts.json")
	store := NewFileStore(path)
	doc := &PoolDocument{
		Version:     1,
		Accounts:    []Account{{Email: "a@x", RefreshToken: "ra", ProjectID: "p"}},
		ActiveIndex: 0,
	}

	if err := store.Save(context.Background(), doc); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded.Accounts) != 1 || loaded.Accounts[0].Email != "a@x" {
		t.Fatalf("Load() = %+v", loaded)
	}

	// Full-document replace on the second save.
	doc.Accounts = append(doc.Accounts, Account{Email: "b@x", RefreshToken: "rb"})
	if err = store.Save(context.Background(), doc); err != nil {
		t.Fatalf("Save() #2 error = %v", err)
	}
	loaded, err = store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() #2 error = %v", err)
	}
	if len(loaded.Accounts) != 2 {
		t.Fatalf("Load() #2 accounts = %d, want 2", len(loaded.Accounts))
	}
}

func TestFileStore_DoesNotPersistAccessToken(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "antigravity-accounts.json")
	store := NewFileStore(path)
	doc := &PoolDocument{
		Version:  1,
		Accounts: []Account{{Email: "a@x", RefreshToken: "ra", AccessToken: "secret-at"}},
	}
	if err := store.Save(context.Background(), doc); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(raw) == 0 || strings.Contains(string(raw), "secret-at") {
		t.Fatalf("persisted document leaks the transient access token: %s", raw)
	}
}
