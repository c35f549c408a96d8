package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Auction is the persisted auction record. LastBidder is empty until the
// first accepted bid; after that LastBidder/LastBidAmount carry the current
// highest bid.
type Auction struct {
	bun.BaseModel `bun:"table:auctions,alias:a"`

	ID            int64  `bun:"id,pk"`
	Kind          string `bun:"kind,notnull"`
	Owner         string `bun:"owner,notnull"`
	Collection    int64  `bun:"collection,notnull"`
	Item          int64  `bun:"item,notnull"`
	Name          string `bun:"name,notnull"`
	StartHeight   int64  `bun:"start_height,notnull"`
	EndHeight     int64  `bun:"end_height,notnull"`
	ReservePrice  *int64 `bun:"reserve_price"`
	NextBidMin    int64  `bun:"next_bid_min,notnull"`
	LastBidder    string `bun:"last_bidder,nullzero"`
	LastBidAmount int64  `bun:"last_bid_amount"`
	Closed        bool   `bun:"closed,notnull,default:false"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// AuctionOwner is the owner index, kept separate from the record so ownership
// lookups do not load the full row.
type AuctionOwner struct {
	bun.BaseModel `bun:"table:auction_owners,alias:ao"`

	AuctionID int64  `bun:"auction_id,pk"`
	Owner     string `bun:"owner,notnull"`
}

// Contribution is one bidder's cumulative top-up payment into an auction's
// escrow.
type Contribution struct {
	bun.BaseModel `bun:"table:auction_contributions,alias:ac"`

	AuctionID int64  `bun:"auction_id,pk"`
	Bidder    string `bun:"bidder,pk"`
	Amount    int64  `bun:"amount,notnull"`

	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Counter is a named monotonically increasing allocator. Value is the next
// unassigned number.
type Counter struct {
	bun.BaseModel `bun:"table:counters,alias:cn"`

	Name  string `bun:"name,pk"`
	Value int64  `bun:"value,notnull"`
}

const AuctionIDCounter = "auction_id"
