// Package rewards implements the reward engine: it accepts post submissions,
// enforces the daily quota and credits the post reward to the author's ledger.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/noospace-net/noospace/internal/app/clock"
	"github.com/noospace-net/noospace/internal/app/domain/feed"
	"github.com/noospace-net/noospace/internal/app/domain/ledger"
	"github.com/noospace-net/noospace/internal/app/keylock"
	"github.com/noospace-net/noospace/internal/app/metrics"
	"github.com/noospace-net/noospace/internal/app/storage"
	"github.com/noospace-net/noospace/pkg/logger"
)

// Errors
var (
	ErrQuotaExceeded = errors.New("daily post quota exceeded")
	ErrEmptyContent  = errors.New("post text is empty")
)

// Config holds the reward engine's tunables.
type Config struct {
	DailyLimit       int
	MaxChars         int
	BaseReward       int64
	IntentMultiplier float64
}

// DefaultConfig mirrors the production economy constants.
func DefaultConfig() Config {
	return Config{
		DailyLimit:       3,
		MaxChars:         240,
		BaseReward:       5,
		IntentMultiplier: 1.4,
	}
}

// Announcer receives stored posts for live delivery.
type Announcer interface {
	Announce(p feed.Post)
}

// Service is the reward engine.
type Service struct {
	cfg      Config
	ledgers  storage.LedgerStore
	usage    storage.UsageStore
	feedSt   storage.FeedStore
	locks    *keylock.Keyed
	clk      clock.Clock
	log      *logger.Logger
	announce Announcer
}

// New constructs a reward engine. A nil clock falls back to the system clock
// and a nil lock set gets a private one.
func New(cfg Config, ledgers storage.LedgerStore, usage storage.UsageStore, feedStore storage.FeedStore, locks *keylock.Keyed, clk clock.Clock, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("rewards")
	}
	if clk == nil {
		clk = clock.System{}
	}
	if locks == nil {
		locks = keylock.New()
	}
	if cfg.DailyLimit == 0 && cfg.MaxChars == 0 {
		cfg = DefaultConfig()
	}
	return &Service{
		cfg:     cfg,
		ledgers: ledgers,
		usage:   usage,
		feedSt:  feedStore,
		locks:   locks,
		clk:     clk,
		log:     log,
	}
}

// AttachAnnouncer registers a live-feed sink. Call before serving traffic.
func (s *Service) AttachAnnouncer(a Announcer) {
	s.announce = a
}

// Reward computes the token reward for a post. Pure function of the intent
// flag: base 5 yields 7 with the 1.4 intent multiplier applied, 5 without.
func (s *Service) Reward(intent bool) int64 {
	mult := 1.0
	if intent {
		mult = s.cfg.IntentMultiplier
	}
	return int64(math.Round(float64(s.cfg.BaseReward) * mult))
}

// DailyLimit reports the configured per-day post quota.
func (s *Service) DailyLimit() int { return s.cfg.DailyLimit }

// Used reports how many rewarded posts the wallet has made today.
func (s *Service) Used(ctx context.Context, wallet string) (int, error) {
	return s.usage.Used(ctx, wallet, ledger.DateOf(s.clk.Now()))
}

// ResetGuestUsage clears a guest session's counter. Guests are keyed by a
// client-chosen session ID; identified wallets roll over by date instead.
func (s *Service) ResetGuestUsage(ctx context.Context, session string) error {
	return s.usage.ResetUsage(ctx, guestKey(session))
}

// SubmitPost validates, rewards and stores one post.
//
// Guests (empty wallet) get their post stored and a session-scoped counter
// advanced, with no ledger mutation. Identified wallets are rejected with
// ErrQuotaExceeded once today's counter reaches the daily limit; otherwise
// the reward is credited and the post appended. The ledger commit happens
// before the post becomes visible so the feed never shows a reward that was
// not credited.
func (s *Service) SubmitPost(ctx context.Context, wallet, text string, intent bool) (feed.Post, error) {
	wallet = strings.TrimSpace(wallet)

	text = strings.TrimSpace(text)
	if text == "" {
		return feed.Post{}, ErrEmptyContent
	}
	if runes := []rune(text); len(runes) > s.cfg.MaxChars {
		// Over-length input is truncated, not rejected.
		text = string(runes[:s.cfg.MaxChars])
	}

	now := s.clk.Now()
	reward := s.Reward(intent)

	if wallet == "" {
		return s.submitGuestPost(ctx, text, reward, now)
	}

	unlock := s.locks.Lock(wallet)
	defer unlock()

	day := ledger.DateOf(now)
	used, err := s.usage.Used(ctx, wallet, day)
	if err != nil {
		return feed.Post{}, fmt.Errorf("read daily usage: %w", err)
	}
	if used >= s.cfg.DailyLimit {
		return feed.Post{}, ErrQuotaExceeded
	}

	// The observed economy credits each reward to BOTH the time-locked pool
	// and the spendable balance. Preserved as-is; see DESIGN.md.
	if _, err := s.ledgers.MutateLedger(ctx, wallet, func(rec *ledger.Record) error {
		if rec.RegisteredAt.IsZero() {
			rec.RegisteredAt = now
		}
		if rec.Unclaimed == 0 {
			rec.UnclaimedSince = now
		}
		rec.Unclaimed += reward
		rec.Spendable += reward
		return nil
	}); err != nil {
		return feed.Post{}, fmt.Errorf("credit reward: %w", err)
	}

	if _, err := s.usage.IncrementUsage(ctx, wallet, day); err != nil {
		s.rollbackReward(ctx, wallet, reward)
		return feed.Post{}, fmt.Errorf("increment daily usage: %w", err)
	}

	post, err := s.feedSt.AppendPost(ctx, feed.Post{
		Owner:     wallet,
		Text:      text,
		Reward:    reward,
		CreatedAt: now,
	})
	if err != nil {
		s.rollbackReward(ctx, wallet, reward)
		s.rollbackUsage(ctx, wallet, day)
		return feed.Post{}, fmt.Errorf("append post: %w", err)
	}

	metrics.RecordPost(true)
	if s.announce != nil {
		s.announce.Announce(post)
	}
	s.log.WithField("wallet", wallet).
		WithField("post_id", post.ID).
		WithField("reward", reward).
		WithField("used_today", used+1).
		Info("post rewarded")
	return post, nil
}

func (s *Service) submitGuestPost(ctx context.Context, text string, reward int64, now time.Time) (feed.Post, error) {
	post, err := s.feedSt.AppendPost(ctx, feed.Post{
		Text:      text,
		Reward:    reward,
		CreatedAt: now,
	})
	if err != nil {
		return feed.Post{}, fmt.Errorf("append guest post: %w", err)
	}
	metrics.RecordPost(false)
	if s.announce != nil {
		s.announce.Announce(post)
	}
	s.log.WithField("post_id", post.ID).Info("guest post stored")
	return post, nil
}

// GuestIncrement advances a guest session's counter and returns the new count.
// The counter uses the same lazy daily rollover as identified wallets.
func (s *Service) GuestIncrement(ctx context.Context, session string) (int, error) {
	return s.usage.IncrementUsage(ctx, guestKey(session), ledger.DateOf(s.clk.Now()))
}

// GuestUsed reports a guest session's count for today.
func (s *Service) GuestUsed(ctx context.Context, session string) (int, error) {
	return s.usage.Used(ctx, guestKey(session), ledger.DateOf(s.clk.Now()))
}

func guestKey(session string) string {
	return "guest:" + strings.TrimSpace(session)
}

// rollbackUsage gives back the quota slot of a post that was never stored.
func (s *Service) rollbackUsage(ctx context.Context, wallet, day string) {
	if _, err := s.usage.DecrementUsage(ctx, wallet, day); err != nil {
		s.log.WithError(err).WithField("wallet", wallet).Error("usage rollback failed")
	}
}

// rollbackReward undoes a credit whose action failed after the ledger commit.
// Failure here leaves the ledger ahead of the feed; that is logged loudly but
// cannot be reported as success to the caller.
func (s *Service) rollbackReward(ctx context.Context, wallet string, reward int64) {
	if _, err := s.ledgers.MutateLedger(ctx, wallet, func(rec *ledger.Record) error {
		rec.Unclaimed -= reward
		if rec.Unclaimed < 0 {
			rec.Unclaimed = 0
		}
		rec.Spendable -= reward
		if rec.Spendable < 0 {
			rec.Spendable = 0
		}
		return nil
	}); err != nil {
		s.log.WithError(err).WithField("wallet", wallet).Error("reward rollback failed")
	}
}
