// Package feed implements the public timeline: listing, resonating, the paid
// highlight action and per-wallet snapshots.
package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/noospace-net/noospace/internal/app/clock"
	feeddomain "github.com/noospace-net/noospace/internal/app/domain/feed"
	"github.com/noospace-net/noospace/internal/app/domain/ledger"
	"github.com/noospace-net/noospace/internal/app/keylock"
	"github.com/noospace-net/noospace/internal/app/metrics"
	"github.com/noospace-net/noospace/internal/app/services/harvest"
	"github.com/noospace-net/noospace/internal/app/storage"
	"github.com/noospace-net/noospace/pkg/logger"
)

// Errors
var (
	ErrPostNotFound        = errors.New("post not found")
	ErrAlreadyHighlighted  = errors.New("post is already highlighted")
	ErrInsufficientBalance = errors.New("insufficient spendable balance")
	ErrNoWallet            = errors.New("wallet is required")
)

// Config holds the feed tunables.
type Config struct {
	FeedLimit     int
	SacrificeCost int64
}

// DefaultConfig mirrors the production feed constants.
func DefaultConfig() Config {
	return Config{FeedLimit: 200, SacrificeCost: 20}
}

// Service serves the timeline and the actions on it.
type Service struct {
	cfg     Config
	ledgers storage.LedgerStore
	posts   storage.FeedStore
	harvest *harvest.Service
	locks   *keylock.Keyed
	clk     clock.Clock
	log     *logger.Logger
	hub     *Hub
}

// New constructs a feed service. The harvest service is consulted for the
// countdown shown in wallet snapshots.
func New(cfg Config, ledgers storage.LedgerStore, posts storage.FeedStore, hv *harvest.Service, locks *keylock.Keyed, clk clock.Clock, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("feed")
	}
	if clk == nil {
		clk = clock.System{}
	}
	if locks == nil {
		locks = keylock.New()
	}
	if cfg.FeedLimit <= 0 {
		cfg = DefaultConfig()
	}
	return &Service{
		cfg:     cfg,
		ledgers: ledgers,
		posts:   posts,
		harvest: hv,
		locks:   locks,
		clk:     clk,
		log:     log,
		hub:     NewHub(log),
	}
}

// Hub returns the live-feed broadcast hub.
func (s *Service) Hub() *Hub { return s.hub }

// Announce publishes a freshly stored post to live subscribers.
func (s *Service) Announce(p feeddomain.Post) {
	s.hub.Publish(p)
}

// List returns the most recent posts, newest first, capped at the configured
// feed limit. Store failures degrade to an empty timeline so the surface
// stays readable when persistence is down.
func (s *Service) List(ctx context.Context) []feeddomain.Post {
	return s.ListLimit(ctx, 0)
}

// ListLimit is List with a caller-chosen cap. Zero or out-of-range limits
// fall back to the configured feed limit.
func (s *Service) ListLimit(ctx context.Context, limit int) []feeddomain.Post {
	if limit <= 0 || limit > s.cfg.FeedLimit {
		limit = s.cfg.FeedLimit
	}
	posts, err := s.posts.ListPosts(ctx, limit)
	if err != nil {
		s.log.WithError(err).Warn("list posts failed; serving empty feed")
		return []feeddomain.Post{}
	}
	if posts == nil {
		posts = []feeddomain.Post{}
	}
	return posts
}

// Resonate bumps a post's resonate counter and returns the new value.
func (s *Service) Resonate(ctx context.Context, postID string) (int64, error) {
	count, err := s.posts.IncrementResonates(ctx, postID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, ErrPostNotFound
		}
		return 0, fmt.Errorf("increment resonates: %w", err)
	}
	metrics.RecordResonate()
	return count, nil
}

// Sacrifice debits the wallet's spendable balance and highlights the post.
// The debit commits before the highlight; if the highlight then fails the
// debit is compensated. A post that is already highlighted is rejected before
// any tokens move; when two wallets race for the same post the store's
// conditional flip picks one winner and the loser is refunded.
func (s *Service) Sacrifice(ctx context.Context, wallet, postID string) (feeddomain.Post, error) {
	if wallet == "" {
		return feeddomain.Post{}, ErrNoWallet
	}

	unlock := s.locks.Lock(wallet)
	defer unlock()

	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return feeddomain.Post{}, ErrPostNotFound
		}
		return feeddomain.Post{}, fmt.Errorf("read post: %w", err)
	}
	if post.Highlighted {
		return feeddomain.Post{}, ErrAlreadyHighlighted
	}

	cost := s.cfg.SacrificeCost
	if _, err := s.ledgers.MutateLedger(ctx, wallet, func(rec *ledger.Record) error {
		if rec.Spendable < cost {
			return ErrInsufficientBalance
		}
		rec.Spendable -= cost
		return nil
	}); err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			return feeddomain.Post{}, ErrInsufficientBalance
		}
		return feeddomain.Post{}, fmt.Errorf("debit sacrifice: %w", err)
	}

	highlighted, err := s.posts.HighlightPost(ctx, postID)
	if err != nil {
		s.refund(ctx, wallet, cost)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return feeddomain.Post{}, ErrPostNotFound
		case errors.Is(err, storage.ErrAlreadyHighlighted):
			// Another wallet won the race after our read.
			return feeddomain.Post{}, ErrAlreadyHighlighted
		}
		return feeddomain.Post{}, fmt.Errorf("highlight post: %w", err)
	}

	metrics.RecordSacrifice()
	s.log.WithField("wallet", wallet).
		WithField("post_id", postID).
		WithField("cost", cost).
		Info("post highlighted")
	return highlighted, nil
}

func (s *Service) refund(ctx context.Context, wallet string, amount int64) {
	if _, err := s.ledgers.MutateLedger(ctx, wallet, func(rec *ledger.Record) error {
		rec.Spendable += amount
		return nil
	}); err != nil {
		s.log.WithError(err).WithField("wallet", wallet).Error("sacrifice refund failed")
	}
}

// WalletSnapshot is the aggregate view a client renders for one wallet.
type WalletSnapshot struct {
	Wallet        string `json:"wallet"`
	Spendable     int64  `json:"spendable"`
	Unclaimed     int64  `json:"unclaimed"`
	Farmed        int64  `json:"farmed"`
	Ready         bool   `json:"ready"`
	DaysRemaining int    `json:"days_remaining"`
}

// Snapshot aggregates a wallet's balances, lifetime farmed total and harvest
// countdown. Missing records and read failures degrade to zeros so a fresh
// wallet renders as empty rather than erroring.
func (s *Service) Snapshot(ctx context.Context, wallet string) (WalletSnapshot, error) {
	if wallet == "" {
		return WalletSnapshot{}, ErrNoWallet
	}

	snap := WalletSnapshot{Wallet: wallet}

	rec, err := s.ledgers.GetLedger(ctx, wallet)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		s.log.WithError(err).WithField("wallet", wallet).Warn("ledger read failed; serving zero snapshot")
	default:
		snap.Spendable = rec.Spendable
		snap.Unclaimed = rec.Unclaimed
	}

	farmed, err := s.posts.SumRewards(ctx, wallet)
	if err != nil {
		s.log.WithError(err).WithField("wallet", wallet).Warn("farmed total read failed")
	} else {
		snap.Farmed = farmed
	}

	if s.harvest != nil && snap.Unclaimed > 0 {
		status, err := s.harvest.Status(ctx, wallet)
		if err == nil {
			snap.Ready = status.Ready
			snap.DaysRemaining = status.DaysRemaining
		}
	}

	return snap, nil
}
