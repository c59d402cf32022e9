// Package memory is an in-memory implementation of the storage interfaces.
// It is safe for concurrent use and is primarily intended for tests, local
// development and guest-session state.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noospace-net/noospace/internal/app/domain/feed"
	"github.com/noospace-net/noospace/internal/app/domain/ledger"
	"github.com/noospace-net/noospace/internal/app/storage"
)

// Store holds every collection behind one mutex.
type Store struct {
	mu      sync.RWMutex
	nextID  int64
	ledgers map[string]ledger.Record
	usage   map[string]ledger.DailyUsage
	posts   map[string]feed.Post
	order   []string // post IDs in append order
}

var _ storage.LedgerStore = (*Store)(nil)
var _ storage.UsageStore = (*Store)(nil)
var _ storage.FeedStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:  1,
		ledgers: make(map[string]ledger.Record),
		usage:   make(map[string]ledger.DailyUsage),
		posts:   make(map[string]feed.Post),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// LedgerStore implementation --------------------------------------------------

func (s *Store) GetLedger(_ context.Context, wallet string) (ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.ledgers[wallet]
	if !ok {
		return ledger.Record{}, fmt.Errorf("ledger %s: %w", wallet, storage.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) MutateLedger(_ context.Context, wallet string, fn func(rec *ledger.Record) error) (ledger.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.ledgers[wallet]
	if !ok {
		rec = ledger.Record{Wallet: wallet}
	}

	if err := fn(&rec); err != nil {
		return ledger.Record{}, err
	}

	now := time.Now().UTC()
	if !ok {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.ledgers[wallet] = rec
	return rec, nil
}

func (s *Store) ListLedgers(_ context.Context) ([]ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ledger.Record, 0, len(s.ledgers))
	for _, rec := range s.ledgers {
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Wallet < result[j].Wallet })
	return result, nil
}

// UsageStore implementation ---------------------------------------------------

func (s *Store) Used(_ context.Context, wallet, day string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.usage[wallet]
	if !ok || u.LastPostDate != day {
		return 0, nil
	}
	return u.UsedCount, nil
}

func (s *Store) IncrementUsage(_ context.Context, wallet, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usage[wallet]
	if !ok || u.LastPostDate != day {
		u = ledger.DailyUsage{Wallet: wallet, UsedCount: 0, LastPostDate: day}
	}
	u.UsedCount++
	u.UpdatedAt = time.Now().UTC()
	s.usage[wallet] = u
	return u.UsedCount, nil
}

func (s *Store) DecrementUsage(_ context.Context, wallet, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usage[wallet]
	if !ok || u.LastPostDate != day || u.UsedCount == 0 {
		return 0, nil
	}
	u.UsedCount--
	u.UpdatedAt = time.Now().UTC()
	s.usage[wallet] = u
	return u.UsedCount, nil
}

func (s *Store) ResetUsage(_ context.Context, wallet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.usage, wallet)
	return nil
}

// FeedStore implementation ----------------------------------------------------

func (s *Store) AppendPost(_ context.Context, p feed.Post) (feed.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = s.nextIDLocked()
	} else if _, exists := s.posts[p.ID]; exists {
		return feed.Post{}, fmt.Errorf("post %s already exists", p.ID)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	s.posts[p.ID] = p
	s.order = append(s.order, p.ID)
	return p, nil
}

func (s *Store) GetPost(_ context.Context, id string) (feed.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return feed.Post{}, fmt.Errorf("post %s: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) ListPosts(_ context.Context, limit int) ([]feed.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}
	result := make([]feed.Post, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.posts[s.order[i]])
	}
	return result, nil
}

func (s *Store) IncrementResonates(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return 0, fmt.Errorf("post %s: %w", id, storage.ErrNotFound)
	}
	p.Resonates++
	s.posts[id] = p
	return p.Resonates, nil
}

func (s *Store) HighlightPost(_ context.Context, id string) (feed.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return feed.Post{}, fmt.Errorf("post %s: %w", id, storage.ErrNotFound)
	}
	if p.Highlighted {
		return feed.Post{}, fmt.Errorf("post %s: %w", id, storage.ErrAlreadyHighlighted)
	}
	p.Highlighted = true
	s.posts[id] = p
	return p, nil
}

func (s *Store) SumRewards(_ context.Context, wallet string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, p := range s.posts {
		if p.Owner == wallet && wallet != "" {
			total += p.Reward
		}
	}
	return total, nil
}
