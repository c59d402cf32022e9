// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/noospace-net/noospace/internal/app/domain/feed"
	"github.com/noospace-net/noospace/internal/app/domain/ledger"
	"github.com/noospace-net/noospace/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.LedgerStore = (*Store)(nil)
var _ storage.UsageStore = (*Store)(nil)
var _ storage.FeedStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return New(db), nil
}

// Close releases the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle, for migrations.
func (s *Store) DB() *sqlx.DB { return s.db }

// --- LedgerStore ------------------------------------------------------------

func (s *Store) GetLedger(ctx context.Context, wallet string) (ledger.Record, error) {
	var rec ledger.Record
	err := s.db.GetContext(ctx, &rec, `
		SELECT wallet, spendable, unclaimed, unclaimed_since, registered_at, created_at, updated_at
		FROM noo_wallets
		WHERE wallet = $1
	`, wallet)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Record{}, fmt.Errorf("ledger %s: %w", wallet, storage.ErrNotFound)
	}
	if err != nil {
		return ledger.Record{}, err
	}
	return rec, nil
}

// MutateLedger locks the wallet row for the duration of fn, so concurrent
// mutations of the same wallet serialise inside the database.
func (s *Store) MutateLedger(ctx context.Context, wallet string, fn func(rec *ledger.Record) error) (ledger.Record, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ledger.Record{}, err
	}
	defer tx.Rollback()

	var rec ledger.Record
	err = tx.GetContext(ctx, &rec, `
		SELECT wallet, spendable, unclaimed, unclaimed_since, registered_at, created_at, updated_at
		FROM noo_wallets
		WHERE wallet = $1
		FOR UPDATE
	`, wallet)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return ledger.Record{}, err
	}
	if created {
		rec = ledger.Record{Wallet: wallet}
	}

	if err := fn(&rec); err != nil {
		return ledger.Record{}, err
	}

	now := time.Now().UTC()
	if created {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO noo_wallets (wallet, spendable, unclaimed, unclaimed_since, registered_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (wallet) DO UPDATE
		SET spendable = EXCLUDED.spendable,
		    unclaimed = EXCLUDED.unclaimed,
		    unclaimed_since = EXCLUDED.unclaimed_since,
		    registered_at = EXCLUDED.registered_at,
		    updated_at = EXCLUDED.updated_at
	`, rec.Wallet, rec.Spendable, rec.Unclaimed, rec.UnclaimedSince, rec.RegisteredAt, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return ledger.Record{}, err
	}

	if err := tx.Commit(); err != nil {
		return ledger.Record{}, err
	}
	return rec, nil
}

func (s *Store) ListLedgers(ctx context.Context) ([]ledger.Record, error) {
	var records []ledger.Record
	err := s.db.SelectContext(ctx, &records, `
		SELECT wallet, spendable, unclaimed, unclaimed_since, registered_at, created_at, updated_at
		FROM noo_wallets
		ORDER BY wallet
	`)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// --- UsageStore -------------------------------------------------------------

func (s *Store) Used(ctx context.Context, wallet, day string) (int, error) {
	var u ledger.DailyUsage
	err := s.db.GetContext(ctx, &u, `
		SELECT wallet, used_count, last_post_date, updated_at
		FROM noo_daily_usage
		WHERE wallet = $1
	`, wallet)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if u.LastPostDate != day {
		return 0, nil
	}
	return u.UsedCount, nil
}

func (s *Store) IncrementUsage(ctx context.Context, wallet, day string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		INSERT INTO noo_daily_usage (wallet, used_count, last_post_date, updated_at)
		VALUES ($1, 1, $2, NOW())
		ON CONFLICT (wallet) DO UPDATE
		SET used_count = CASE
		        WHEN noo_daily_usage.last_post_date = EXCLUDED.last_post_date
		        THEN noo_daily_usage.used_count + 1
		        ELSE 1
		    END,
		    last_post_date = EXCLUDED.last_post_date,
		    updated_at = NOW()
		RETURNING used_count
	`, wallet, day)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) DecrementUsage(ctx context.Context, wallet, day string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		UPDATE noo_daily_usage
		SET used_count = GREATEST(used_count - 1, 0),
		    updated_at = NOW()
		WHERE wallet = $1 AND last_post_date = $2
		RETURNING used_count
	`, wallet, day)
	if errors.Is(err, sql.ErrNoRows) {
		// No counter for that day; nothing to give back.
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ResetUsage(ctx context.Context, wallet string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM noo_daily_usage WHERE wallet = $1`, wallet)
	return err
}

// --- FeedStore --------------------------------------------------------------

func (s *Store) AppendPost(ctx context.Context, p feed.Post) (feed.Post, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO noo_posts (id, owner, text, reward, resonates, highlighted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.Owner, p.Text, p.Reward, p.Resonates, p.Highlighted, p.CreatedAt)
	if err != nil {
		return feed.Post{}, err
	}
	return p, nil
}

func (s *Store) GetPost(ctx context.Context, id string) (feed.Post, error) {
	var p feed.Post
	err := s.db.GetContext(ctx, &p, `
		SELECT id, owner, text, reward, resonates, highlighted, created_at
		FROM noo_posts
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return feed.Post{}, fmt.Errorf("post %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return feed.Post{}, err
	}
	return p, nil
}

func (s *Store) ListPosts(ctx context.Context, limit int) ([]feed.Post, error) {
	if limit <= 0 {
		limit = 200
	}
	var posts []feed.Post
	err := s.db.SelectContext(ctx, &posts, `
		SELECT id, owner, text, reward, resonates, highlighted, created_at
		FROM noo_posts
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return posts, nil
}

func (s *Store) IncrementResonates(ctx context.Context, id string) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, `
		UPDATE noo_posts
		SET resonates = resonates + 1
		WHERE id = $1
		RETURNING resonates
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("post %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// HighlightPost only matches rows whose flag is still clear, so concurrent
// highlights of the same post resolve to one winner inside the database.
func (s *Store) HighlightPost(ctx context.Context, id string) (feed.Post, error) {
	var p feed.Post
	err := s.db.GetContext(ctx, &p, `
		UPDATE noo_posts
		SET highlighted = TRUE
		WHERE id = $1 AND highlighted = FALSE
		RETURNING id, owner, text, reward, resonates, highlighted, created_at
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		// Missed either because the post is gone or because it is already
		// highlighted; a plain read tells them apart.
		if _, getErr := s.GetPost(ctx, id); getErr != nil {
			return feed.Post{}, getErr
		}
		return feed.Post{}, fmt.Errorf("post %s: %w", id, storage.ErrAlreadyHighlighted)
	}
	if err != nil {
		return feed.Post{}, err
	}
	return p, nil
}

func (s *Store) SumRewards(ctx context.Context, wallet string) (int64, error) {
	if wallet == "" {
		return 0, nil
	}
	var total int64
	err := s.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(reward), 0)
		FROM noo_posts
		WHERE owner = $1
	`, wallet)
	if err != nil {
		return 0, err
	}
	return total, nil
}
