// Package chain provides block-height sources for the auction engine. The
// engine never advances time itself; a height source does.
package chain

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Manual is a height source advanced explicitly by its owner. It is the
// source of choice for tests and for hosts that follow an external chain.
type Manual struct {
	height atomic.Uint64
}

func NewManual(start uint64) *Manual {
	m := &Manual{}
	m.height.Store(start)
	return m
}

func (m *Manual) CurrentHeight() uint64 { return m.height.Load() }

func (m *Manual) SetHeight(h uint64) { m.height.Store(h) }

// Advance moves the height forward by n blocks and returns the new height.
func (m *Manual) Advance(n uint64) uint64 { return m.height.Add(n) }

// Ticker is a height source that produces one block per fixed wall-clock
// interval, for standalone deployments without a real chain behind them.
type Ticker struct {
	height   atomic.Uint64
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewTicker(start uint64, interval time.Duration) *Ticker {
	t := &Ticker{interval: interval, done: make(chan struct{})}
	t.height.Store(start)
	return t
}

func (t *Ticker) CurrentHeight() uint64 { return t.height.Load() }

// Start begins block production. It returns immediately; production stops
// when ctx is cancelled or Stop is called.
func (t *Ticker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h := t.height.Add(1)
				slog.Debug("Block produced",
					slog.String("type", "sys"),
					slog.Uint64("height", h))
			}
		}
	}()
}

// Stop halts block production and waits for the producer to exit.
func (t *Ticker) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
}
