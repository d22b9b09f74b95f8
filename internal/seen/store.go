// Package seen tracks which upstream update IDs have already been delivered.
// The set is write-once and append-only; old IDs are never pruned (accepted
// trade-off: the schema keeps a first_seen column so an age-based prune can
// be added later without a migration).
package seen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"statuswatch/pkg/logx"
)

// Backend is the durable side of the store. *storage.Store satisfies it.
type Backend interface {
	SeenIDs(ctx context.Context) ([]string, error)
	InsertSeen(ctx context.Context, ids []string, at time.Time) error
}

// Store answers "is this update genuinely new?" under concurrent access from
// the scheduled poll and manual checks. A single mutex is plenty: the set is
// consulted a few hundred times per poll cycle at most.
type Store struct {
	mu  sync.Mutex
	ids map[string]struct{}
	db  Backend
	log logx.Logger
}

// Open loads the persisted set into memory.
func Open(ctx context.Context, db Backend, log logx.Logger) (*Store, error) {
	ids, err := db.SeenIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load seen set: %w", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	log.Info("seen set loaded", logx.Int("count", len(set)))
	return &Store{ids: set, db: db, log: log}, nil
}

// NewMemory returns a store without durability, for tests and previews.
func NewMemory() *Store {
	return &Store{ids: map[string]struct{}{}, log: logx.Nop()}
}

func (s *Store) IsNew(updateID string) bool {
	if updateID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[updateID]
	return !ok
}

// MarkSeen records IDs durably before updating the in-memory set. A storage
// failure leaves the IDs unmarked and is returned to the caller, which must
// then skip dispatch: a duplicate delivery next cycle beats losing the mark
// and duplicating forever.
func (s *Store) MarkSeen(ctx context.Context, updateIDs []string) error {
	if len(updateIDs) == 0 {
		return nil
	}
	if s.db != nil {
		if err := s.db.InsertSeen(ctx, updateIDs, time.Now()); err != nil {
			return fmt.Errorf("persist seen ids: %w", err)
		}
	}
	s.mu.Lock()
	for _, id := range updateIDs {
		if id != "" {
			s.ids[id] = struct{}{}
		}
	}
	s.mu.Unlock()
	return nil
}

// Bootstrap seeds the store with every update ID currently visible upstream,
// without dispatching anything. Used once, on first run or after a schema
// migration, so a fresh install does not flood destinations with the entire
// incident history.
func (s *Store) Bootstrap(ctx context.Context, updateIDs []string) error {
	if err := s.MarkSeen(ctx, updateIDs); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	s.log.Info("seen set bootstrapped", logx.Int("count", len(updateIDs)))
	return nil
}

// Size reports the number of tracked IDs (for the health snapshot).
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
