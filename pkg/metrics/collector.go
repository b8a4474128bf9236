// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"context"
	"time"
)

// GaugeSource supplies point-in-time counts for the engine gauges. Either
// func may be nil, in which case the corresponding gauge is left alone.
type GaugeSource struct {
	// PendingChallenges returns the number of live challenge ledger entries.
	PendingChallenges func(ctx context.Context) (int, error)

	// Credentials returns the number of stored credentials.
	Credentials func(ctx context.Context) (int, error)
}

// GaugeCollector periodically samples a GaugeSource and updates the
// pending challenge, credential count, and uptime gauges.
type GaugeCollector struct {
	ctx      context.Context
	cancel   context.CancelFunc
	interval time.Duration
	started  time.Time
	source   GaugeSource
}

// NewGaugeCollector creates a collector that updates the gauges at the
// specified interval.
func NewGaugeCollector(ctx context.Context, interval time.Duration, source GaugeSource) *GaugeCollector {
	collectorCtx, cancel := context.WithCancel(ctx)
	return &GaugeCollector{
		ctx:      collectorCtx,
		cancel:   cancel,
		interval: interval,
		started:  time.Now(),
		source:   source,
	}
}

// Start begins collecting at the configured interval. This method blocks
// and should typically be run in a goroutine. It returns when Stop is
// called or the parent context is cancelled.
func (gc *GaugeCollector) Start() {
	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()

	// Collect initial values immediately
	gc.collect()

	for {
		select {
		case <-gc.ctx.Done():
			return
		case <-ticker.C:
			gc.collect()
		}
	}
}

// Stop halts the collector gracefully.
func (gc *GaugeCollector) Stop() {
	gc.cancel()
}

// collect samples the source and updates the gauges. A source error leaves
// the affected gauge at its previous value.
func (gc *GaugeCollector) collect() {
	if !IsEnabled() {
		return
	}

	if gc.source.PendingChallenges != nil {
		if n, err := gc.source.PendingChallenges(gc.ctx); err == nil {
			SetPendingChallenges(float64(n))
		}
	}
	if gc.source.Credentials != nil {
		if n, err := gc.source.Credentials(gc.ctx); err == nil {
			SetCredentialsTotal(float64(n))
		}
	}

	ServerUptime.Set(time.Since(gc.started).Seconds())
}

// StartGaugeCollector is a convenience function that creates and starts a
// gauge collector in the background. The collector stops when ctx is
// cancelled.
func StartGaugeCollector(ctx context.Context, interval time.Duration, source GaugeSource) *GaugeCollector {
	collector := NewGaugeCollector(ctx, interval, source)
	go collector.Start()
	return collector
}
