// Package app wires the NooSpace engines together and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"

	"github.com/noospace-net/noospace/internal/app/clock"
	"github.com/noospace-net/noospace/internal/app/keylock"
	feedsvc "github.com/noospace-net/noospace/internal/app/services/feed"
	harvestsvc "github.com/noospace-net/noospace/internal/app/services/harvest"
	rewardsvc "github.com/noospace-net/noospace/internal/app/services/rewards"
	"github.com/noospace-net/noospace/internal/app/storage"
	"github.com/noospace-net/noospace/internal/app/storage/memory"
	"github.com/noospace-net/noospace/internal/app/system"
	"github.com/noospace-net/noospace/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Ledgers storage.LedgerStore
	Usage   storage.UsageStore
	Feed    storage.FeedStore
}

// Options tunes the application beyond its stores.
type Options struct {
	Rewards rewardsvc.Config
	Harvest harvestsvc.Config
	Feed    feedsvc.Config

	// Clock overrides the system clock, for tests.
	Clock clock.Clock

	// RefreshSchedule overrides the pool scan cron spec. Empty keeps the
	// refresher default.
	RefreshSchedule string
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Rewards *rewardsvc.Service
	Harvest *harvestsvc.Service
	Feed    *feedsvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Ledgers == nil {
		stores.Ledgers = mem
	}
	if stores.Usage == nil {
		stores.Usage = mem
	}
	if stores.Feed == nil {
		stores.Feed = mem
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}

	// One lock set shared by every engine so posting, harvesting and
	// sacrificing for the same wallet serialise against each other.
	locks := keylock.New()

	manager := system.NewManager()

	harvestService := harvestsvc.New(opts.Harvest, stores.Ledgers, locks, clk, log.WithField("component", "harvest"))
	rewardService := rewardsvc.New(opts.Rewards, stores.Ledgers, stores.Usage, stores.Feed, locks, clk, log.WithField("component", "rewards"))
	feedService := feedsvc.New(opts.Feed, stores.Ledgers, stores.Feed, harvestService, locks, clk, log.WithField("component", "feed"))
	rewardService.AttachAnnouncer(feedService)

	refresher := harvestsvc.NewRefresher(harvestService, stores.Ledgers, log.WithField("component", "harvest-refresher"))
	if opts.RefreshSchedule != "" {
		refresher.WithSchedule(opts.RefreshSchedule)
	}
	if err := manager.Register(refresher); err != nil {
		return nil, fmt.Errorf("register %s: %w", refresher.Name(), err)
	}

	return &Application{
		manager: manager,
		log:     log,
		Rewards: rewardService,
		Harvest: harvestService,
		Feed:    feedService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
