// Package reaper runs the recycle-bin sweep (C6, spec §4.6): a periodic
// out-of-band task that physically deletes conversations, messages, and
// providers whose purge_at has passed. It shares the database with the
// request-serving handlers but never runs inside a request.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/aicove/syncd/internal/store"
	"github.com/rakunlabs/logi"
	"github.com/worldline-go/hardloop"
)

// cronRunner is satisfied by hardloop's unexported cron job type.
type cronRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// Reaper wears an internal hourly (by default) scheduler grounded on the
// same hardloop.Cron wiring the teacher uses for its workflow triggers,
// minus the cluster leader-election: this spec has no clustering surface,
// so a single process owns the sweep.
type Reaper struct {
	store    store.Storer
	interval time.Duration

	// operationRetention bounds how long SyncOperation idempotency rows
	// survive; truncated on the same tick as the recycle-bin sweep.
	operationRetention time.Duration

	cron   cronRunner
	cancel context.CancelFunc
}

func New(st store.Storer, interval, operationRetention time.Duration) *Reaper {
	return &Reaper{store: st, interval: interval, operationRetention: operationRetention}
}

// Start begins the internal scheduler. Call Stop during shutdown.
func (r *Reaper) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", r.interval)

	cronJob, err := hardloop.NewCron(hardloop.Cron{
		Name:  "recycle-bin-reaper",
		Specs: []string{spec},
		Func:  r.tick,
	})
	if err != nil {
		return fmt.Errorf("reaper: create cron runner: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.cron = cronJob

	if err := cronJob.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("reaper: start cron runner: %w", err)
	}

	logi.Ctx(ctx).Info("reaper: started internal scheduler", "interval", r.interval.String())

	return nil
}

// Stop halts the scheduler. Safe to call multiple times.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.cron != nil {
		r.cron.Stop()
		r.cron = nil
	}
}

func (r *Reaper) tick(ctx context.Context) error {
	counts, err := r.Sweep(ctx)
	if err != nil {
		logi.Ctx(ctx).Error("reaper: sweep failed", "error", err)
		return nil // don't stop the cron loop on a transient failure
	}

	logi.Ctx(ctx).Info("reaper: swept recycle bin",
		"conversations", counts.Conversations,
		"messages", counts.Messages,
		"providers", counts.Providers)

	truncated, err := r.store.TruncateOperationsOlderThan(ctx, time.Now().Add(-r.operationRetention).UnixMilli())
	if err != nil {
		logi.Ctx(ctx).Error("reaper: truncate operations failed", "error", err)
		return nil
	}

	if truncated > 0 {
		logi.Ctx(ctx).Info("reaper: truncated stale idempotency records", "count", truncated)
	}

	return nil
}

// Counts reports how many rows of each class were physically removed.
type Counts struct {
	Conversations int64
	Messages      int64
	Providers     int64
}

// Sweep runs the purge immediately, outside the cron schedule. Used by both
// the internal ticker and the admin escape-hatch endpoint.
func (r *Reaper) Sweep(ctx context.Context) (Counts, error) {
	conversations, messages, providers, err := r.store.PurgeExpired(ctx, time.Now().UnixMilli())
	if err != nil {
		return Counts{}, fmt.Errorf("reaper: purge expired: %w", err)
	}

	return Counts{Conversations: conversations, Messages: messages, Providers: providers}, nil
}
