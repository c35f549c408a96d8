package auctions

import "context"

// LockTag names a revocable balance lock. Tags are derived per auction so at
// most one account can hold an active lock for a given auction.
type LockTag string

// Store is the durable auction state: the record map, the owner index, the
// identifier counter and the TopUp contribution map.
type Store interface {
	// Auction returns the record for id or ErrAuctionNotExist.
	Auction(ctx context.Context, id AuctionID) (*Auction, error)
	InsertAuction(ctx context.Context, id AuctionID, a *Auction) error
	UpdateAuction(ctx context.Context, id AuctionID, a *Auction) error
	RemoveAuction(ctx context.Context, id AuctionID) error

	// NextAuctionID allocates the next identifier or fails with
	// ErrNoAvailableAuctionID once the identifier space is exhausted.
	NextAuctionID(ctx context.Context) (AuctionID, error)

	AuctionOwner(ctx context.Context, id AuctionID) (AccountID, error)
	SetAuctionOwner(ctx context.Context, id AuctionID, owner AccountID) error
	RemoveAuctionOwner(ctx context.Context, id AuctionID) error

	// Contribution returns the cumulative TopUp contribution of bidder,
	// zero when none is recorded.
	Contribution(ctx context.Context, id AuctionID, bidder AccountID) (Balance, error)
	SetContribution(ctx context.Context, id AuctionID, bidder AccountID, amount Balance) error
	RemoveContribution(ctx context.Context, id AuctionID, bidder AccountID) error
	Contributions(ctx context.Context, id AuctionID) (map[AccountID]Balance, error)

	// ListOpen returns every auction that was not closed, ordered by id.
	ListOpen(ctx context.Context) ([]ListedAuction, error)
}

// Ledger is the fungible balance collaborator.
type Ledger interface {
	// Transfer moves amount between accounts. It fails when the source
	// would drop below its active locks, or below the existential minimum
	// without being emptied entirely.
	Transfer(ctx context.Context, from, to AccountID, amount Balance) error
	// SetLock places (or replaces) a named, non-custodial hold. The held
	// funds stay in the account but cannot be spent. Locking more than the
	// current balance fails.
	SetLock(ctx context.Context, tag LockTag, account AccountID, amount Balance) error
	RemoveLock(ctx context.Context, tag LockTag, account AccountID) error
	BalanceOf(ctx context.Context, account AccountID) (Balance, error)
}

// Registry is the non-fungible item collaborator.
type Registry interface {
	// OwnerOf reports the current owner; ok is false for unknown tokens.
	OwnerOf(ctx context.Context, token Token) (owner AccountID, ok bool, err error)
	CanTransfer(ctx context.Context, token Token) (bool, error)
	FreezeToken(ctx context.Context, caller AccountID, token Token) error
	ThawToken(ctx context.Context, caller AccountID, token Token) error
	TransferToken(ctx context.Context, caller AccountID, token Token, to AccountID) error
}

// Txn is one atomic unit of engine work. Every operation runs its reads,
// validation and collaborator calls inside a single Txn; either all effects
// commit or none are observable.
type Txn interface {
	Store
	Ledger
	Registry

	Commit() error
	// Rollback discards the transaction. Calling it after a successful
	// Commit is a no-op.
	Rollback() error
}

// Backend opens engine transactions.
type Backend interface {
	Begin(ctx context.Context) (Txn, error)
}
