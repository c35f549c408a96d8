package auctions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// EventKind tags state-change notifications.
type EventKind string

const (
	EventAuctionCreated   EventKind = "auction_created"
	EventBidPlaced        EventKind = "bid_placed"
	EventAuctionClosed    EventKind = "auction_closed"
	EventAuctionDestroyed EventKind = "auction_destroyed"
	EventRefundClaimed    EventKind = "refund_claimed"
)

// Event describes one committed state change. Account and Amount carry the
// relevant participant and value for the kind: the owner for creations and
// destructions, the bidder and bid for bids, the winner and winning bid for
// closes (empty when the auction ended without a winner), the claimant and
// refunded amount for refund claims.
type Event struct {
	Kind      EventKind
	AuctionID AuctionID
	Account   AccountID
	Amount    Balance
	Height    uint64
	At        time.Time
}

// Sink consumes auction events. Sinks run after the operation committed, so
// a failing sink cannot undo the state change; failures are logged and
// dropped.
type Sink interface {
	HandleAuctionEvent(ctx context.Context, ev Event) error
}

// Notifier fans events out to every registered sink.
type Notifier struct {
	mu    sync.RWMutex
	sinks []Sink
}

func NewNotifier(sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks}
}

func (n *Notifier) Register(s Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, s)
}

// Emit delivers ev to all sinks concurrently and waits for them. Sink errors
// are logged, never propagated: the operation the event describes has already
// committed.
func (n *Notifier) Emit(ctx context.Context, ev Event) {
	n.mu.RLock()
	sinks := make([]Sink, len(n.sinks))
	copy(sinks, n.sinks)
	n.mu.RUnlock()

	if len(sinks) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range sinks {
		s := s
		g.Go(func() error {
			return s.HandleAuctionEvent(ctx, ev)
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("Failed to deliver auction event",
			slog.String("type", "sys"),
			slog.String("event", string(ev.Kind)),
			slog.Uint64("auction_id", uint64(ev.AuctionID)),
			slog.Any("error", err))
	}
}

// SlogSink logs every event through the default structured logger.
type SlogSink struct{}

func (SlogSink) HandleAuctionEvent(_ context.Context, ev Event) error {
	slog.Info("Auction event",
		slog.String("type", "sys"),
		slog.String("event", string(ev.Kind)),
		slog.Uint64("auction_id", uint64(ev.AuctionID)),
		slog.String("account", string(ev.Account)),
		slog.Uint64("amount", uint64(ev.Amount)),
		slog.Uint64("height", ev.Height))
	return nil
}
