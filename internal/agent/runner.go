// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package agent runs the endpoint's collection and delivery loop: one
// goroutine multiplexing a collection timer and a send timer, so a slow or
// unreachable collector never stops local collection.
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"

	"github.com/iyemte/collector-agent-and-server/internal/spool"
	"github.com/iyemte/collector-agent-and-server/pkg/record"
)

// Source produces the two record kinds the agent spools. Implementations
// own all platform probing.
type Source interface {
	Profile(ctx context.Context) (record.Record, error)
	Sample(ctx context.Context) (record.Record, error)
}

// Deliverer drains the spool to the collector. One call is one delivery
// cycle.
type Deliverer interface {
	Deliver(ctx context.Context) (int, error)
}

// Intervals are the runner's two timer periods, adjustable at runtime
// through Reconfigure.
type Intervals struct {
	Collection time.Duration
	Send       time.Duration
}

type Option func(*Runner)

// WithIntervals overrides the timer periods. Zero fields keep the current
// value, so a caller can override one interval without knowing the other.
func WithIntervals(iv Intervals) Option {
	return func(r *Runner) {
		if iv.Collection > 0 {
			r.intervals.Collection = iv.Collection
		}
		if iv.Send > 0 {
			r.intervals.Send = iv.Send
		}
	}
}

func WithRetention(d time.Duration) Option {
	return func(r *Runner) {
		r.retention = d
	}
}

func WithLogger(logger logr.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// Runner owns the spool directory: it is the single logical writer the
// store's contract requires.
type Runner struct {
	source    Source
	store     *spool.Store
	deliverer Deliverer

	intervals Intervals
	retention time.Duration
	logger    logr.Logger

	reconfig chan Intervals

	// quotaPaused is only touched from the run loop goroutine.
	quotaPaused bool
}

func NewRunner(source Source, store *spool.Store, deliverer Deliverer, opts ...Option) *Runner {
	r := &Runner{
		source:    source,
		store:     store,
		deliverer: deliverer,
		intervals: Intervals{
			Collection: defaultCollectionInterval,
			Send:       defaultSendInterval,
		},
		retention: spool.DefaultRetention(),
		logger:    logr.Discard(),
		reconfig:  make(chan Intervals, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithName("runner")
	return r
}

// Reconfigure applies new timer intervals on the next loop pass. Safe to
// call from any goroutine.
func (r *Runner) Reconfigure(iv Intervals) {
	select {
	case r.reconfig <- iv:
	default:
		// A pending update is superseded; drop the old one.
		select {
		case <-r.reconfig:
		default:
		}
		r.reconfig <- iv
	}
}

// Start runs the loop until ctx is cancelled, then performs one final
// best-effort delivery so a clean shutdown leaves as little behind as
// possible.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("starting collection loop",
		"collection_interval", r.intervals.Collection,
		"send_interval", r.intervals.Send,
		"retention", r.retention)

	// Collect immediately rather than waiting a full interval.
	r.CollectOnce(ctx)

	collectTicker := time.NewTicker(r.intervals.Collection)
	defer collectTicker.Stop()
	sendTicker := time.NewTicker(r.intervals.Send)
	defer sendTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("shutting down, flushing spool")
			r.finalFlush()
			return nil

		case iv := <-r.reconfig:
			if iv.Collection > 0 && iv.Collection != r.intervals.Collection {
				r.intervals.Collection = iv.Collection
				collectTicker.Reset(iv.Collection)
			}
			if iv.Send > 0 && iv.Send != r.intervals.Send {
				r.intervals.Send = iv.Send
				sendTicker.Reset(iv.Send)
			}
			r.logger.Info("intervals updated",
				"collection_interval", r.intervals.Collection,
				"send_interval", r.intervals.Send)

		case <-collectTicker.C:
			r.CollectOnce(ctx)

		case <-sendTicker.C:
			r.SendOnce(ctx)
		}
	}
}

// CollectOnce writes the profile if not yet spooled, then collects and
// spools one sample. While the spool is at quota, sample collection is
// paused instead of busy-failing; it resumes once delivery or the sweep
// drains the spool below the ceiling.
func (r *Runner) CollectOnce(ctx context.Context) {
	if !r.store.HasProfile() {
		profile, err := r.source.Profile(ctx)
		if err != nil {
			r.logger.Error(err, "failed to collect machine profile")
		} else if err := r.store.WriteProfile(profile); err != nil {
			r.logger.Error(err, "failed to spool machine profile")
		}
	}

	if r.quotaPaused {
		used, err := r.store.TotalBytes()
		if err != nil {
			r.logger.Error(err, "failed to check spool usage")
			return
		}
		if used >= r.store.QuotaBytes() {
			r.logger.V(1).Info("collection still paused by storage quota", "used_bytes", used)
			return
		}
		r.quotaPaused = false
		r.logger.Info("spool drained below quota, resuming collection", "used_bytes", used)
	}

	sample, err := r.source.Sample(ctx)
	if err != nil {
		r.logger.Error(err, "failed to collect sample")
		return
	}

	seq, err := r.store.WriteSample(sample)
	switch {
	case errors.Is(err, spool.ErrQuotaExceeded):
		r.quotaPaused = true
		r.logger.Info("storage quota reached, pausing collection until the spool drains")
	case err != nil:
		r.logger.Error(err, "failed to spool sample")
	default:
		r.logger.V(1).Info("collected sample", "sequence", seq)
	}
}

// SendOnce runs one delivery cycle followed by the retention sweep.
func (r *Runner) SendOnce(ctx context.Context) {
	if _, err := r.deliverer.Deliver(ctx); err != nil {
		r.logger.Error(err, "delivery cycle failed")
	}

	if r.retention > 0 {
		if removed, err := r.store.SweepOlderThan(r.retention); err != nil {
			r.logger.Error(err, "retention sweep failed")
		} else if removed > 0 {
			r.logger.Info("retention sweep removed expired entries", "removed", removed)
		}
	}
}

// finalFlush attempts one last delivery cycle on its own deadline, since
// the loop context is already cancelled.
func (r *Runner) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := r.deliverer.Deliver(ctx); err != nil {
		r.logger.Error(err, "final delivery flush failed")
	}
}
