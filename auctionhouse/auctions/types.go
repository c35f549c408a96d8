package auctions

import "math"

// AuctionID identifies one auction. IDs are assigned monotonically starting
// at zero and are never reused.
type AuctionID uint64

// MaxAuctionID is the last identifier the allocator may hand out.
const MaxAuctionID = AuctionID(math.MaxUint64 - 1)

// Balance is a fungible amount. All arithmetic on balances is checked;
// overflow surfaces as an error, never as a silent wrap.
type Balance uint64

// AccountID identifies a ledger account.
type AccountID string

type (
	CollectionID uint64
	ItemID       uint64
)

// Token references one non-fungible item.
type Token struct {
	Collection CollectionID
	Item       ItemID
}

// Kind tags the auction variant. The tag is fixed at creation.
type Kind string

const (
	KindEnglish Kind = "english"
	KindTopUp   Kind = "topup"
)

// LastBid is the current highest accepted bid.
type LastBid struct {
	Bidder AccountID
	Amount Balance
}

// GeneralData is the state shared by every auction variant.
//
// Closed is false from creation until Close succeeds; no other path may set
// it.
type GeneralData struct {
	Owner        AccountID
	Token        Token
	Name         string
	Start        uint64
	End          uint64
	ReservePrice *Balance
	NextBidMin   Balance
	LastBid      *LastBid
	Closed       bool
}

// Auction is the closed union over auction variants. Both variants persist
// only GeneralData in the record itself; TopUp contribution accounting lives
// in the store, keyed by (auction, bidder).
type Auction struct {
	Kind    Kind
	General GeneralData
}

// Clone returns a deep copy, so a snapshot cannot alias the live record
// through the optional pointer fields.
func (a *Auction) Clone() *Auction {
	c := *a
	if a.General.ReservePrice != nil {
		rp := *a.General.ReservePrice
		c.General.ReservePrice = &rp
	}
	if a.General.LastBid != nil {
		lb := *a.General.LastBid
		c.General.LastBid = &lb
	}
	return &c
}

// ListedAuction pairs an open auction with its identifier, for listing and
// search.
type ListedAuction struct {
	ID      AuctionID
	Auction *Auction
}

// Params are the engine's chain constants.
type Params struct {
	// MinBidAmount is the starting minimum bid for auctions without a
	// reserve price.
	MinBidAmount Balance
	// BidStepPerc is the percentage added to an accepted bid to form the
	// next minimum bid.
	BidStepPerc uint64
	// BidAddBlocks is the guaranteed remaining bidding window after every
	// accepted bid.
	BidAddBlocks uint64
	// MinAuctionDuration is the minimum number of blocks between start and
	// end.
	MinAuctionDuration uint64
	// NameLimit caps auction name length in runes.
	NameLimit int
}

// DefaultParams mirror the chain defaults.
func DefaultParams() Params {
	return Params{
		MinBidAmount:       1,
		BidStepPerc:        10,
		BidAddBlocks:       10,
		MinAuctionDuration: 10,
		NameLimit:          128,
	}
}
