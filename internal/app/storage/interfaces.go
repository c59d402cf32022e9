// Package storage declares the persistence interfaces the NooSpace engines
// are written against. Backends live in the subpackages memory, postgres,
// supabase and redis.
package storage

import (
	"context"
	"errors"

	"github.com/noospace-net/noospace/internal/app/domain/feed"
	"github.com/noospace-net/noospace/internal/app/domain/ledger"
)

// ErrNotFound is returned by reads for keys that have no record. Backends
// return it directly or wrapped so callers can test with errors.Is.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyHighlighted is returned by HighlightPost when the post's flag is
// already set, so the backend is the single serialization point for the
// one-way flip.
var ErrAlreadyHighlighted = errors.New("post already highlighted")

// LedgerStore persists per-wallet economy records.
type LedgerStore interface {
	// GetLedger returns the record for a wallet, or ErrNotFound.
	GetLedger(ctx context.Context, wallet string) (ledger.Record, error)

	// MutateLedger applies fn to the wallet's record as one atomic
	// read-modify-write. If no record exists fn receives a zero record with
	// only Wallet set; the mutated record is persisted when fn returns nil
	// and discarded when it returns an error. Concurrent mutations of the
	// same wallet never lose updates.
	MutateLedger(ctx context.Context, wallet string, fn func(rec *ledger.Record) error) (ledger.Record, error)

	// ListLedgers returns all wallet records, for diagnostics.
	ListLedgers(ctx context.Context) ([]ledger.Record, error)
}

// UsageStore persists day-scoped post counters. Day strings are UTC calendar
// dates (ledger.DateOf). Counters for other days are stale and read as zero.
type UsageStore interface {
	// Used returns the wallet's count for the given day, 0 when the stored
	// record is absent or belongs to a different day.
	Used(ctx context.Context, wallet, day string) (int, error)

	// IncrementUsage bumps the wallet's counter for the given day, starting
	// over at 1 when the stored record belongs to a different day. Returns
	// the resulting count.
	IncrementUsage(ctx context.Context, wallet, day string) (int, error)

	// DecrementUsage undoes one increment for the given day, flooring at
	// zero, and returns the resulting count. Counters for other days are
	// left alone. Compensates an increment whose action failed afterwards.
	DecrementUsage(ctx context.Context, wallet, day string) (int, error)

	// ResetUsage clears the wallet's counter entirely.
	ResetUsage(ctx context.Context, wallet string) error
}

// FeedStore persists the append-only post feed.
type FeedStore interface {
	// AppendPost stores a new post, assigning its ID, and returns the stored
	// form.
	AppendPost(ctx context.Context, p feed.Post) (feed.Post, error)

	// GetPost returns a post by ID, or ErrNotFound.
	GetPost(ctx context.Context, id string) (feed.Post, error)

	// ListPosts returns up to limit posts, most recent first.
	ListPosts(ctx context.Context, limit int) ([]feed.Post, error)

	// IncrementResonates bumps the post's resonate counter and returns the
	// new value.
	IncrementResonates(ctx context.Context, id string) (int64, error)

	// HighlightPost flips the post's highlighted flag to true. The flip is
	// one-way and conditional: a post whose flag is already set returns
	// ErrAlreadyHighlighted, so two concurrent callers cannot both win.
	HighlightPost(ctx context.Context, id string) (feed.Post, error)

	// SumRewards totals the rewards of all posts owned by a wallet.
	SumRewards(ctx context.Context, wallet string) (int64, error)
}
