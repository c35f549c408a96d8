package repositories

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/chainhouse/auctionhouse/auctionhouse/auctions"
	"github.com/chainhouse/auctionhouse/auctionhouse/database/models"
)

// EventRepository journals committed auction events. It implements
// auctions.Sink, so registering it with the notifier persists every event.
type EventRepository struct {
	db *bun.DB
}

func NewEventRepository(db *bun.DB) *EventRepository {
	return &EventRepository{db: db}
}

var _ auctions.Sink = (*EventRepository)(nil)

func (r *EventRepository) HandleAuctionEvent(ctx context.Context, ev auctions.Event) error {
	m := &models.AuctionEvent{
		Kind:      string(ev.Kind),
		AuctionID: int64(ev.AuctionID),
		Account:   string(ev.Account),
		Amount:    int64(ev.Amount),
		Height:    int64(ev.Height),
		CreatedAt: ev.At,
	}
	if _, err := r.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("failed to journal auction event: %w", err)
	}
	return nil
}
