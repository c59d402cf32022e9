// Package harvest implements the time-locked pool release: once a wallet's
// unclaimed rewards have aged past the lock window they can be moved to the
// spendable balance in one atomic step.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/noospace-net/noospace/internal/app/clock"
	"github.com/noospace-net/noospace/internal/app/domain/ledger"
	"github.com/noospace-net/noospace/internal/app/keylock"
	"github.com/noospace-net/noospace/internal/app/metrics"
	"github.com/noospace-net/noospace/internal/app/storage"
	"github.com/noospace-net/noospace/pkg/logger"
)

// Errors
var (
	ErrNoWallet         = errors.New("wallet is required")
	ErrNothingToHarvest = errors.New("nothing to harvest")
)

// NotReadyError is returned when the pool exists but the lock window has not
// elapsed yet.
type NotReadyError struct {
	DaysRemaining int
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("harvest not ready: %d day(s) remaining", e.DaysRemaining)
}

// Config holds the harvest tunables.
type Config struct {
	HarvestDays int
}

// DefaultConfig mirrors the production lock window.
func DefaultConfig() Config {
	return Config{HarvestDays: 9}
}

// Status describes a wallet's pool as seen by clients.
type Status struct {
	Wallet        string    `json:"wallet"`
	Unclaimed     int64     `json:"unclaimed"`
	Ready         bool      `json:"ready"`
	DaysRemaining int       `json:"days_remaining"`
	ReadyAt       time.Time `json:"ready_at,omitempty"`
}

// Service releases time-locked pools.
type Service struct {
	cfg     Config
	ledgers storage.LedgerStore
	locks   *keylock.Keyed
	clk     clock.Clock
	log     *logger.Logger
}

// New constructs a harvest service. Nil clock and lock set fall back to
// private defaults.
func New(cfg Config, ledgers storage.LedgerStore, locks *keylock.Keyed, clk clock.Clock, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("harvest")
	}
	if clk == nil {
		clk = clock.System{}
	}
	if locks == nil {
		locks = keylock.New()
	}
	if cfg.HarvestDays <= 0 {
		cfg = DefaultConfig()
	}
	return &Service{cfg: cfg, ledgers: ledgers, locks: locks, clk: clk, log: log}
}

// lockWindow is the duration the pool must age before release.
func (s *Service) lockWindow() time.Duration {
	return time.Duration(s.cfg.HarvestDays) * 24 * time.Hour
}

// daysRemaining rounds the remaining lock time up to whole days, so a pool
// one hour short of release still reports one day.
func (s *Service) daysRemaining(since time.Time, now time.Time) int {
	remaining := s.lockWindow() - now.Sub(since)
	if remaining <= 0 {
		return 0
	}
	days := int(math.Ceil(remaining.Hours() / 24))
	if days < 1 {
		days = 1
	}
	return days
}

// Status reports a wallet's pool state without mutating anything. Wallets
// with no ledger record read as an empty, ready-less pool.
func (s *Service) Status(ctx context.Context, wallet string) (Status, error) {
	if wallet == "" {
		return Status{}, ErrNoWallet
	}

	rec, err := s.ledgers.GetLedger(ctx, wallet)
	if errors.Is(err, storage.ErrNotFound) {
		return Status{Wallet: wallet}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("read ledger: %w", err)
	}

	st := Status{Wallet: wallet, Unclaimed: rec.Unclaimed}
	if rec.Unclaimed <= 0 {
		return st, nil
	}

	now := s.clk.Now()
	st.DaysRemaining = s.daysRemaining(rec.UnclaimedSince, now)
	st.Ready = st.DaysRemaining == 0
	st.ReadyAt = rec.UnclaimedSince.Add(s.lockWindow())
	return st, nil
}

// Harvest moves a ready pool into the spendable balance and resets the lock
// anchor. The whole transition is one ledger mutation, so a post racing the
// harvest either lands before (and is released) or after (and starts a fresh
// lock window).
func (s *Service) Harvest(ctx context.Context, wallet string) (int64, error) {
	if wallet == "" {
		return 0, ErrNoWallet
	}

	unlock := s.locks.Lock(wallet)
	defer unlock()

	now := s.clk.Now()
	var harvested int64

	_, err := s.ledgers.MutateLedger(ctx, wallet, func(rec *ledger.Record) error {
		if rec.Unclaimed <= 0 {
			return ErrNothingToHarvest
		}
		if days := s.daysRemaining(rec.UnclaimedSince, now); days > 0 {
			return &NotReadyError{DaysRemaining: days}
		}
		harvested = rec.Unclaimed
		rec.Spendable += rec.Unclaimed
		rec.Unclaimed = 0
		rec.UnclaimedSince = now
		return nil
	})
	if err != nil {
		var notReady *NotReadyError
		if errors.Is(err, ErrNothingToHarvest) || errors.As(err, &notReady) {
			return 0, err
		}
		return 0, fmt.Errorf("harvest ledger: %w", err)
	}

	metrics.RecordHarvest(harvested)
	s.log.WithField("wallet", wallet).
		WithField("harvested", harvested).
		Info("pool harvested")
	return harvested, nil
}
