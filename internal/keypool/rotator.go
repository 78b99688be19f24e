// Package keypool selects upstream credentials from the key pool. Selection
// walks the active keys in a deterministic least-used order with an in-memory
// round-robin cursor on top, so restarts recover near-fair spread from the
// persisted usage counters alone.
package keypool

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/keypool-dev/geminipool/internal/store"
)

// ErrNoActiveKeys is returned when the pool holds no active keys. Callers
// treat this as fatal and do not retry.
var ErrNoActiveKeys = errors.New("no active API keys available")

// Rotator hands out the next active key on each call. The cursor is the only
// shared mutable state; it is deliberately not persisted.
type Rotator struct {
	store *store.Store

	mu     sync.Mutex
	cursor int
}

// NewRotator creates a rotator over the given store.
func NewRotator(s *store.Store) *Rotator {
	return &Rotator{store: s}
}

// Next returns the next active key. The base ordering is
// (usage_count ASC, last_used ASC NULLS FIRST); the cursor cycles through
// ties so consecutive calls against a stable pool cover every key.
func (r *Rotator) Next(ctx context.Context) (*store.ApiKey, error) {
	keys, err := r.store.ActiveKeysOrdered(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, ErrNoActiveKeys
	}

	r.mu.Lock()
	key := keys[r.cursor%len(keys)]
	r.cursor = (r.cursor + 1) % len(keys)
	r.mu.Unlock()

	return key, nil
}

// MarkFailed demotes a key after an upstream credential rejection. Demotion
// is idempotent and immediate; in-flight requests already holding the key
// finish their current attempt with it.
func (r *Rotator) MarkFailed(ctx context.Context, id string) error {
	if err := r.store.MarkKeyFailed(ctx, id); err != nil {
		return err
	}
	log.WithField("key", id).Warn("api key deactivated after upstream rejection")
	return nil
}
