package models

import (
	"time"

	"github.com/uptrace/bun"
)

// AuctionEvent is one journaled state change, appended after the operation
// committed.
type AuctionEvent struct {
	bun.BaseModel `bun:"table:auction_events,alias:ae"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Kind      string    `bun:"kind,notnull"`
	AuctionID int64     `bun:"auction_id,notnull"`
	Account   string    `bun:"account"`
	Amount    int64     `bun:"amount"`
	Height    int64     `bun:"height,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
