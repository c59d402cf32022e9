package harvest

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/noospace-net/noospace/internal/app/metrics"
	"github.com/noospace-net/noospace/internal/app/storage"
	"github.com/noospace-net/noospace/pkg/logger"
)

// Refresher periodically scans the ledgers and publishes how many pools are
// past their lock window. It implements system.Service.
type Refresher struct {
	svc     *Service
	ledgers storage.LedgerStore
	cron    *cron.Cron
	spec    string
	log     *logger.Logger

	mu      sync.Mutex
	entryID cron.EntryID
	running bool
}

// NewRefresher creates a refresher that runs every 10 minutes by default.
func NewRefresher(svc *Service, ledgers storage.LedgerStore, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.NewDefault("harvest-refresher")
	}
	return &Refresher{
		svc:     svc,
		ledgers: ledgers,
		cron:    cron.New(),
		spec:    "@every 10m",
		log:     log,
	}
}

// WithSchedule overrides the cron schedule. Call before Start.
func (r *Refresher) WithSchedule(spec string) *Refresher {
	r.spec = spec
	return r
}

// Name implements system.Service.
func (r *Refresher) Name() string { return "harvest-refresher" }

// Start registers the scan job and begins the schedule. The first scan runs
// immediately so the gauges are populated at boot.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	id, err := r.cron.AddFunc(r.spec, func() { r.scan(context.Background()) })
	if err != nil {
		return fmt.Errorf("schedule pool scan: %w", err)
	}
	r.entryID = id
	r.cron.Start()
	r.running = true

	go r.scan(ctx)
	return nil
}

// Stop halts the schedule and waits for a running scan to finish.
func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}
	stopCtx := r.cron.Stop()
	r.running = false

	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Refresher) scan(ctx context.Context) {
	records, err := r.ledgers.ListLedgers(ctx)
	if err != nil {
		r.log.WithError(err).Warn("pool scan failed")
		return
	}

	now := r.svc.clk.Now()
	var ready int
	var locked int64
	for _, rec := range records {
		if rec.Unclaimed <= 0 {
			continue
		}
		locked += rec.Unclaimed
		if r.svc.daysRemaining(rec.UnclaimedSince, now) == 0 {
			ready++
		}
	}

	metrics.SetPoolGauges(ready, locked)
	r.log.WithField("ready_pools", ready).
		WithField("locked_tokens", locked).
		Debug("pool scan complete")
}
