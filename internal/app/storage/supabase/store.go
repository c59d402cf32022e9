package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/noospace-net/noospace/internal/app/domain/feed"
	"github.com/noospace-net/noospace/internal/app/domain/ledger"
	"github.com/noospace-net/noospace/internal/app/storage"
)

// Table names in the Supabase project.
const (
	walletsTable = "noo_wallets"
	usageTable   = "noo_daily_usage"
	postsTable   = "noo_posts"
)

// mutateRetries bounds the optimistic-concurrency loop in MutateLedger.
const mutateRetries = 5

// Store implements the storage interfaces over the Supabase REST API.
type Store struct {
	client *Client
}

var _ storage.LedgerStore = (*Store)(nil)
var _ storage.UsageStore = (*Store)(nil)
var _ storage.FeedStore = (*Store)(nil)

// New creates a Store over an existing client.
func New(client *Client) *Store {
	return &Store{client: client}
}

// Open creates the client and store in one step.
func Open(cfg Config) (*Store, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return New(client), nil
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) GetLedger(ctx context.Context, wallet string) (ledger.Record, error) {
	query := "wallet=eq." + url.QueryEscape(wallet) + "&limit=1"
	body, err := s.client.request(ctx, http.MethodGet, walletsTable, nil, query, "")
	if err != nil {
		return ledger.Record{}, err
	}

	var records []ledger.Record
	if err := json.Unmarshal(body, &records); err != nil {
		return ledger.Record{}, fmt.Errorf("decode ledger: %w", err)
	}
	if len(records) == 0 {
		return ledger.Record{}, fmt.Errorf("ledger %s: %w", wallet, storage.ErrNotFound)
	}
	return records[0], nil
}

// MutateLedger implements atomic read-modify-write with optimistic
// concurrency: the conditional update only matches when updated_at is still
// the value we read, and a miss retries with a fresh read.
func (s *Store) MutateLedger(ctx context.Context, wallet string, fn func(rec *ledger.Record) error) (ledger.Record, error) {
	for attempt := 0; attempt < mutateRetries; attempt++ {
		existing, err := s.GetLedger(ctx, wallet)
		created := false
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				return ledger.Record{}, err
			}
			existing = ledger.Record{Wallet: wallet}
			created = true
		}

		rec := existing
		if err := fn(&rec); err != nil {
			return ledger.Record{}, err
		}

		now := time.Now().UTC()
		if created {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now

		if created {
			// A conflicting concurrent insert fails the POST and retries.
			_, err := s.client.request(ctx, http.MethodPost, walletsTable, rec, "", "")
			if err == nil {
				return rec, nil
			}
			continue
		}

		query := "wallet=eq." + url.QueryEscape(wallet) +
			"&updated_at=eq." + url.QueryEscape(existing.UpdatedAt.Format(time.RFC3339Nano))
		body, err := s.client.request(ctx, http.MethodPatch, walletsTable, rec, query, "")
		if err != nil {
			return ledger.Record{}, err
		}
		var updated []ledger.Record
		if err := json.Unmarshal(body, &updated); err != nil {
			return ledger.Record{}, fmt.Errorf("decode ledger update: %w", err)
		}
		if len(updated) > 0 {
			return updated[0], nil
		}
		// Lost the race; re-read and retry.
	}
	return ledger.Record{}, fmt.Errorf("mutate ledger %s: too many concurrent updates", wallet)
}

func (s *Store) ListLedgers(ctx context.Context) ([]ledger.Record, error) {
	body, err := s.client.request(ctx, http.MethodGet, walletsTable, nil, "order=wallet.asc", "")
	if err != nil {
		return nil, err
	}
	var records []ledger.Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("decode ledgers: %w", err)
	}
	return records, nil
}

// --- UsageStore -------------------------------------------------------------

func (s *Store) Used(ctx context.Context, wallet, day string) (int, error) {
	query := "wallet=eq." + url.QueryEscape(wallet) + "&limit=1"
	body, err := s.client.request(ctx, http.MethodGet, usageTable, nil, query, "")
	if err != nil {
		return 0, err
	}
	var usages []ledger.DailyUsage
	if err := json.Unmarshal(body, &usages); err != nil {
		return 0, fmt.Errorf("decode usage: %w", err)
	}
	if len(usages) == 0 || usages[0].LastPostDate != day {
		return 0, nil
	}
	return usages[0].UsedCount, nil
}

func (s *Store) IncrementUsage(ctx context.Context, wallet, day string) (int, error) {
	used, err := s.Used(ctx, wallet, day)
	if err != nil {
		return 0, err
	}

	u := ledger.DailyUsage{
		Wallet:       wallet,
		UsedCount:    used + 1,
		LastPostDate: day,
		UpdatedAt:    time.Now().UTC(),
	}
	_, err = s.client.request(ctx, http.MethodPost, usageTable, u,
		"on_conflict=wallet", "return=representation,resolution=merge-duplicates")
	if err != nil {
		return 0, err
	}
	return u.UsedCount, nil
}

func (s *Store) DecrementUsage(ctx context.Context, wallet, day string) (int, error) {
	used, err := s.Used(ctx, wallet, day)
	if err != nil {
		return 0, err
	}
	if used == 0 {
		return 0, nil
	}

	u := ledger.DailyUsage{
		Wallet:       wallet,
		UsedCount:    used - 1,
		LastPostDate: day,
		UpdatedAt:    time.Now().UTC(),
	}
	query := "wallet=eq." + url.QueryEscape(wallet) +
		"&last_post_date=eq." + url.QueryEscape(day)
	if _, err := s.client.request(ctx, http.MethodPatch, usageTable, u, query, ""); err != nil {
		return 0, err
	}
	return u.UsedCount, nil
}

func (s *Store) ResetUsage(ctx context.Context, wallet string) error {
	query := "wallet=eq." + url.QueryEscape(wallet)
	_, err := s.client.request(ctx, http.MethodDelete, usageTable, nil, query, "return=minimal")
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

	body, err := s.client.request(ctx, http.MethodPost, postsTable, p, "", "")
	if err != nil {
		return feed.Post{}, err
	}
	var stored []feed.Post
	if err := json.Unmarshal(body, &stored); err != nil {
		return feed.Post{}, fmt.Errorf("decode post: %w", err)
	}
	if len(stored) == 0 {
		return p, nil
	}
	return stored[0], nil
}

func (s *Store) GetPost(ctx context.Context, id string) (feed.Post, error) {
	query := "id=eq." + url.QueryEscape(id) + "&limit=1"
	body, err := s.client.request(ctx, http.MethodGet, postsTable, nil, query, "")
	if err != nil {
		return feed.Post{}, err
	}
	var posts []feed.Post
	if err := json.Unmarshal(body, &posts); err != nil {
		return feed.Post{}, fmt.Errorf("decode post: %w", err)
	}
	if len(posts) == 0 {
		return feed.Post{}, fmt.Errorf("post %s: %w", id, storage.ErrNotFound)
	}
	return posts[0], nil
}

func (s *Store) ListPosts(ctx context.Context, limit int) ([]feed.Post, error) {
	if limit <= 0 {
		limit = 200
	}
	query := fmt.Sprintf("order=created_at.desc&limit=%d", limit)
	body, err := s.client.request(ctx, http.MethodGet, postsTable, nil, query, "")
	if err != nil {
		return nil, err
	}
	var posts []feed.Post
	if err := json.Unmarshal(body, &posts); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}
	return posts, nil
}

func (s *Store) IncrementResonates(ctx context.Context, id string) (int64, error) {
	post, err := s.GetPost(ctx, id)
	if err != nil {
		return 0, err
	}

	query := "id=eq." + url.QueryEscape(id)
	patch := map[string]int64{"resonates": post.Resonates + 1}
	body, err := s.client.request(ctx, http.MethodPatch, postsTable, patch, query, "")
	if err != nil {
		return 0, err
	}
	var updated []feed.Post
	if err := json.Unmarshal(body, &updated); err != nil {
		return 0, fmt.Errorf("decode post update: %w", err)
	}
	if len(updated) == 0 {
		return 0, fmt.Errorf("post %s: %w", id, storage.ErrNotFound)
	}
	return updated[0].Resonates, nil
}

// HighlightPost patches only rows whose flag is still clear; an empty result
// means either a missing post or one that was already highlighted, and a
// follow-up read tells the two apart.
func (s *Store) HighlightPost(ctx context.Context, id string) (feed.Post, error) {
	query := "id=eq." + url.QueryEscape(id) + "&highlighted=is.false"
	patch := map[string]bool{"highlighted": true}
	body, err := s.client.request(ctx, http.MethodPatch, postsTable, patch, query, "")
	if err != nil {
		return feed.Post{}, err
	}
	var updated []feed.Post
	if err := json.Unmarshal(body, &updated); err != nil {
		return feed.Post{}, fmt.Errorf("decode post update: %w", err)
	}
	if len(updated) == 0 {
		if _, getErr := s.GetPost(ctx, id); getErr != nil {
			return feed.Post{}, getErr
		}
		return feed.Post{}, fmt.Errorf("post %s: %w", id, storage.ErrAlreadyHighlighted)
	}
	return updated[0], nil
}

func (s *Store) SumRewards(ctx context.Context, wallet string) (int64, error) {
	if wallet == "" {
		return 0, nil
	}
	query := "owner=eq." + url.QueryEscape(wallet) + "&select=reward"
	body, err := s.client.request(ctx, http.MethodGet, postsTable, nil, query, "")
	if err != nil {
		return 0, err
	}
	var rows []struct {
		Reward int64 `json:"reward"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0, fmt.Errorf("decode rewards: %w", err)
	}
	var total int64
	for _, row := range rows {
		total += row.Reward
	}
	return total, nil
}
