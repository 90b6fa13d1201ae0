package antigravitypool

import "context"

// Store is the Storage Adapter contract: durable load/save of the accounts
// document. Writes are atomic at the document level (full replace). Save is
// permitted to fail; callers must tolerate failures by logging and
// continuing, since the in-memory Pool is the source of truth during a
// process lifetime.
type Store interface {
	// Load returns the persisted document, or (nil, nil) if none exists yet.
	Load(ctx context.Context) (*PoolDocument, error)
	// Save durably persists doc, replacing any prior document in full.
	Save(ctx context.Context, doc *PoolDocument) error
}
