package auctions

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/peterldowns/testy/check"

	"github.com/chainhouse/auctionhouse/auctionhouse/chain"
)

const (
	alice = AccountID("alice")
	bob   = AccountID("bob")
	carol = AccountID("carol")
)

var testToken = Token{Collection: 1, Item: 1}

// recordingSink collects every delivered event.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) HandleAuctionEvent(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) byKind(kind EventKind) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	engine  *Engine
	backend *MemoryBackend
	height  *chain.Manual
	sink    *recordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	backend := NewMemoryBackend(1)
	backend.Credit(alice, 1_000)
	backend.Credit(bob, 1_000)
	backend.Credit(carol, 1_000)
	backend.MintToken(testToken, alice)

	height := chain.NewManual(1)
	sink := &recordingSink{}
	engine, err := NewEngine(backend, height, NewNotifier(sink), DefaultParams())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return &fixture{engine: engine, backend: backend, height: height, sink: sink}
}

func englishAuction() *Auction {
	return &Auction{
		Kind: KindEnglish,
		General: GeneralData{
			Owner:      alice,
			Token:      testToken,
			Name:       "Genesis relic",
			Start:      5,
			End:        30,
			NextBidMin: 1,
		},
	}
}

func topUpAuction() *Auction {
	a := englishAuction()
	a.Kind = KindTopUp
	return a
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.engine.Create(ctx, alice, englishAuction())
	check.NoError(t, err)
	check.Equal(t, AuctionID(0), id)

	got, err := f.engine.Auction(ctx, id)
	check.NoError(t, err)
	check.Equal(t, KindEnglish, got.Kind)
	check.Equal(t, alice, got.General.Owner)
	check.False(t, got.General.Closed)

	// The token is frozen for the auction's duration, so a second auction
	// on the same token is rejected.
	_, err = f.engine.Create(ctx, alice, englishAuction())
	check.True(t, errors.Is(err, ErrTokenFrozen))

	created := f.sink.byKind(EventAuctionCreated)
	check.Equal(t, 1, len(created))
	check.Equal(t, id, created[0].AuctionID)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()

	reserve := Balance(100)
	longName := make([]rune, 129)
	for i := range longName {
		longName[i] = 'x'
	}

	tests := []struct {
		name    string
		mutate  func(a *Auction)
		wantErr error
	}{
		{
			name:    "start already passed",
			mutate:  func(a *Auction) { a.General.Start = 0 },
			wantErr: ErrAuctionStartTimeAlreadyPassed,
		},
		{
			name:    "duration too short",
			mutate:  func(a *Auction) { a.General.End = 15 },
			wantErr: ErrInvalidTimeConfiguration,
		},
		{
			name:    "duration exactly minimum",
			mutate:  func(a *Auction) { a.General.End = a.General.Start + 10 },
			wantErr: ErrInvalidTimeConfiguration,
		},
		{
			name:    "empty name",
			mutate:  func(a *Auction) { a.General.Name = "" },
			wantErr: ErrEmptyAuctionName,
		},
		{
			name:    "name too long",
			mutate:  func(a *Auction) { a.General.Name = string(longName) },
			wantErr: ErrTooLong,
		},
		{
			name:    "owner does not own token",
			mutate:  func(a *Auction) { a.General.Owner = bob },
			wantErr: ErrNotATokenOwner,
		},
		{
			name:    "unknown token",
			mutate:  func(a *Auction) { a.General.Token = Token{Collection: 9, Item: 9} },
			wantErr: ErrNotATokenOwner,
		},
		{
			name:    "closed preset",
			mutate:  func(a *Auction) { a.General.Closed = true },
			wantErr: ErrCannotSetAuctionClosed,
		},
		{
			name:    "next bid minimum below policy",
			mutate:  func(a *Auction) { a.General.NextBidMin = 0 },
			wantErr: ErrInvalidNextBidMin,
		},
		{
			name: "next bid minimum ignores reserve",
			mutate: func(a *Auction) {
				a.General.ReservePrice = &reserve
				a.General.NextBidMin = 1
			},
			wantErr: ErrInvalidNextBidMin,
		},
		{
			name:    "unknown kind",
			mutate:  func(a *Auction) { a.Kind = Kind("dutch") },
			wantErr: ErrUnknownAuctionKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			a := englishAuction()
			tt.mutate(a)

			_, err := f.engine.Create(ctx, alice, a)
			check.True(t, errors.Is(err, tt.wantErr))

			// Nothing was allocated or frozen on the failed path.
			_, err = f.engine.Auction(ctx, 0)
			check.True(t, errors.Is(err, ErrAuctionNotExist))
		})
	}
}

func TestCreateWithReserve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	reserve := Balance(100)
	a := englishAuction()
	a.General.ReservePrice = &reserve
	a.General.NextBidMin = reserve

	id, err := f.engine.Create(ctx, alice, a)
	check.NoError(t, err)

	f.height.SetHeight(6)
	check.True(t, errors.Is(f.engine.Bid(ctx, bob, id, 99), ErrInvalidBidPrice))
	check.NoError(t, f.engine.Bid(ctx, bob, id, 100))
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.engine.Create(ctx, alice, englishAuction())
	check.NoError(t, err)

	updated := englishAuction()
	updated.General.Name = "Genesis relic, extended"
	updated.General.End = 40
	check.NoError(t, f.engine.Update(ctx, alice, id, updated))

	got, err := f.engine.Auction(ctx, id)
	check.NoError(t, err)
	check.Equal(t, uint64(40), got.General.End)
	check.Equal(t, "Genesis relic, extended", got.General.Name)
}

func TestUpdateRejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		caller  AccountID
		now     uint64
		mutate  func(a *Auction)
		wantErr error
	}{
		{
			name:    "kind change",
			caller:  alice,
			now:     1,
			mutate:  func(a *Auction) { a.Kind = KindTopUp },
			wantErr: ErrNoChangeOfAuctionType,
		},
		{
			name:    "token change",
			caller:  alice,
			now:     1,
			mutate:  func(a *Auction) { a.General.Token = Token{Collection: 2, Item: 2} },
			wantErr: ErrCannotChangeToken,
		},
		{
			name:    "not the owner",
			caller:  bob,
			now:     1,
			mutate:  func(a *Auction) {},
			wantErr: ErrNotAuctionOwner,
		},
		{
			name:    "already started",
			caller:  alice,
			now:     5,
			mutate:  func(a *Auction) {},
			wantErr: ErrAuctionAlreadyStarted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id, err := f.engine.Create(ctx, alice, englishAuction())
			check.NoError(t, err)

			updated := englishAuction()
			tt.mutate(updated)
			if tt.now >= updated.General.Start {
				// Keep the replacement itself valid so the rejection
				// under test is the one that fires.
				updated.General.Start = tt.now + 1
				updated.General.End = tt.now + 100
			}

			f.height.SetHeight(tt.now)
			err = f.engine.Update(ctx, tt.caller, id, updated)
			check.True(t, errors.Is(err, tt.wantErr))
		})
	}
}

func TestUpdateMissingAuction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.engine.Update(ctx, alice, 42, englishAuction())
	check.True(t, errors.Is(err, ErrAuctionNotExist))
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.engine.Create(ctx, alice, englishAuction())
	check.NoError(t, err)

	check.NoError(t, f.engine.Destroy(ctx, alice, id))

	_, err = f.engine.Auction(ctx, id)
	check.True(t, errors.Is(err, ErrAuctionNotExist))

	// The token thawed with the destruction, so it can be auctioned again.
	id2, err := f.engine.Create(ctx, alice, englishAuction())
	check.NoError(t, err)
	check.Equal(t, AuctionID(1), id2)

	check.Equal(t, 1, len(f.sink.byKind(EventAuctionDestroyed)))
}

func TestDestroyAfterStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.engine.Create(ctx, alice, englishAuction())
	check.NoError(t, err)

	f.height.SetHeight(5)
	err = f.engine.Destroy(ctx, alice, id)
	check.True(t, errors.Is(err, ErrAuctionAlreadyStarted))

	f.height.SetHeight(4)
	err = f.engine.Destroy(ctx, bob, id)
	check.True(t, errors.Is(err, ErrNotAuctionOwner))
}

func TestBidWindow(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		bidder  AccountID
		now     uint64
		amount  Balance
		wantErr error
	}{
		{name: "owner bids", bidder: alice, now: 6, amount: 10, wantErr: ErrCannotBidOnOwnAuction},
		{name: "before start", bidder: bob, now: 4, amount: 10, wantErr: ErrAuctionNotStarted},
		{name: "exactly at start", bidder: bob, now: 5, amount: 10, wantErr: ErrAuctionNotStarted},
		{name: "exactly at end", bidder: bob, now: 30, amount: 10, wantErr: ErrAuctionEndTimeReached},
		{name: "after end", bidder: bob, now: 31, amount: 10, wantErr: ErrAuctionEndTimeReached},
		{name: "below minimum", bidder: bob, now: 6, amount: 0, wantErr: ErrInvalidBidPrice},
		{name: "first block inside window", bidder: bob, now: 6, amount: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id, err := f.engine.Create(ctx, alice, englishAuction())
			check.NoError(t, err)

			f.height.SetHeight(tt.now)
			err = f.engine.Bid(ctx, tt.bidder, id, tt.amount)
			if tt.wantErr != nil {
				check.True(t, errors.Is(err, tt.wantErr))
			} else {
				check.NoError(t, err)
			}
		})
	}
}

func TestBidRaisesNextMinimum(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.engine.Create(ctx, alice, englishAuction())
	check.NoError(t, err)

	f.height.SetHeight(6)
	check.NoError(t, f.engine.Bid(ctx, bob, id, 100))

	got, err := f.engine.Auction(ctx, id)
	check.NoError(t, err)
	check.Equal(t, Balance(110), got.General.NextBidMin)
	check.NotNil(t, got.General.LastBid)
	check.Equal(t, bob, got.General.LastBid.Bidder)

	// Below the raised minimum, and not above the standing bid.
	check.True(t, errors.Is(f.engine.Bid(ctx, carol, id, 109), ErrInvalidBidPrice))
	check.True(t, errors.Is(f.engine.Bid(ctx, carol, id, 100), ErrInvalidBidPrice))
	check.NoError(t, f.engine.Bid(ctx, carol, id, 110))
}

func TestBidExtendsEndWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.engine.Create(ctx, alice, englishAuction())
	check.NoError(t, err)

	// Plenty of time left: the end is untouched.
	f.height.SetHeight(6)
	check.NoError(t, f.engine.Bid(ctx, bob, id, 10))
	got, _ := f.engine.Auction(ctx, id)
	check.Equal(t, uint64(30), got.General.End)

	// Inside the final stretch: the end moves to now + the guaranteed
	// window, and never backwards.
	f.height.SetHeight(25)
	check.NoError(t, f.engine.Bid(ctx, carol, id, 20))
	got, _ = f.engine.Auction(ctx, id)
	check.Equal(t, uint64(35), got.General.End)

	f.height.SetHeight(26)
	check.NoError(t, f.engine.Bid(ctx, bob, id, 30))
	got, _ = f.engine.Auction(ctx, id)
	check.Equal(t, uint64(36), got.General.End)
}

func TestBidEndExtensionOverflow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Seed a record whose window sits at the top of the height space, so
	// the anti-sniping extension cannot be represented.
	now := uint64(math.MaxUint64 - 3)
	a := englishAuction()
	a.General.Start = now - 10
	a.General.End = now + 2

	tx, err := f.backend.Begin(ctx)
	check.NoError(t, err)
	id, err := tx.NextAuctionID(ctx)
	check.NoError(t, err)
	check.NoError(t, tx.InsertAuction(ctx, id, a))
	check.NoError(t, tx.SetAuctionOwner(ctx, id, alice))
	check.NoError(t, tx.FreezeToken(ctx, alice, testToken))
	check.NoError(t, tx.Commit())

	f.height.SetHeight(now)
	err = f.engine.Bid(ctx, bob, id, 10)
	check.True(t, errors.Is(err, ErrBidOverflow))

	// The rejected bid left the record untouched.
	got, err := f.engine.Auction(ctx, id)
	check.NoError(t, err)
	check.Nil(t, got.General.LastBid)
	check.Equal(t, now+2, got.General.End)
}

func TestEnglishBidLocksFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.engine.Create(ctx, alice, englishAuction())
	check.NoError(t, err)

	f.height.SetHeight(6)
	check.NoError(t, f.engine.Bid(ctx, bob, id, 400))

	// The lock keeps the funds in place but unspendable.
	check.Equal(t, Balance(1_000), f.backend.Balance(bob))
	tx, err := f.backend.Begin(ctx)
	check.NoError(t, err)
	err = tx.Transfer(ctx, bob, carol, 700)
	check.Error(t, err)
	check.NoError(t, tx.Rollback())

	// Outbidding releases the previous bidder's lock in full.
	check.NoError(t, f.engine.Bid(ctx, carol, id, 440))
	tx, err = f.backend.Begin(ctx)
	check.NoError(t, err)
	check.NoError(t, tx.Transfer(ctx, bob, carol, 700))
	check.NoError(t, tx.Rollback())
}

func TestCloseEnglishWithWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.engine.Create(ctx, alice, englishAuction())
	check.NoError(t, err)

	f.height.SetHeight(6)
	check.NoError(t, f.engine.Bid(ctx, bob, id, 100))

	f.height.SetHeight(30)
	check.NoError(t, f.engine.Close(ctx, id))

	owner, ok := f.backend.TokenOwner(testToken)
	check.True(t, ok)
	check.Equal(t, bob, owner)
	check.Equal(t, Balance(1_100), f.backend.Balance(alice))
	check.Equal(t, Balance(900), f.backend.Balance(bob))

	got, err := f.engine.Auction(ctx, id)
	check.NoError(t, err)
	check.True(t, got.General.Closed)

	closed := f.sink.byKind(EventAuctionClosed)
	check.Equal(t, 1, len(closed))
	check.Equal(t, bob, closed[0].Account)
	check.Equal(t, Balance(100), closed[0].Amount)
}

func TestCloseWithoutBids(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.engine.Create(ctx, alice, englishAuction())
	check.NoError(t, err)

	f.height.SetHeight(30)
	check.NoError(t, f.engine.Close(ctx, id))

	// Ownership never moved and balances are untouched.
	owner, ok := f.backend.TokenOwner(testToken)
	check.True(t, ok)
	check.Equal(t, alice, owner)
	check.Equal(t, Balance(1_000), f.backend.Balance(alice))

	closed := f.sink.byKind(EventAuctionClosed)
	check.Equal(t, 1, len(closed))
	check.Equal(t, AccountID(""), closed[0].Account)
}

func TestCloseGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.engine.Create(ctx, alice, englishAuction())
	check.NoError(t, err)

	// Too early, on both edges of the bidding window.
	check.True(t, errors.Is(f.engine.Close(ctx, id), ErrAuctionEndTimeNotReached))
	f.height.SetHeight(29)
	check.True(t, errors.Is(f.engine.Close(ctx, id), ErrAuctionEndTimeNotReached))

	f.height.SetHeight(30)
	check.NoError(t, f.engine.Close(ctx, id))

	// Closing again fails and changes nothing.
	check.True(t, errors.Is(f.engine.Close(ctx, id), ErrAuctionClosed))
	check.Equal(t, 1, len(f.sink.byKind(EventAuctionClosed)))

	// Bidding on a closed auction fails on the time gate.
	check.True(t, errors.Is(f.engine.Bid(ctx, bob, id, 10), ErrAuctionEndTimeReached))
}

func TestTopUpBidsMoveToEscrow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.engine.Create(ctx, alice, topUpAuction())
	check.NoError(t, err)

	f.height.SetHeight(6)
	check.NoError(t, f.engine.Bid(ctx, bob, id, 100))
	check.NoError(t, f.engine.Bid(ctx, carol, id, 110))
	check.NoError(t, f.engine.Bid(ctx, bob, id, 130))

	// Every accepted bid moved in full; the escrow holds the sum of all
	// recorded contributions.
	check.Equal(t, Balance(770), f.backend.Balance(bob))
	check.Equal(t, Balance(890), f.backend.Balance(carol))
	check.Equal(t, Balance(340), f.backend.Balance(EscrowAccount(id)))

	tx, err := f.backend.Begin(ctx)
	check.NoError(t, err)
	contribs, err := tx.Contributions(ctx, id)
	check.NoError(t, err)
	check.NoError(t, tx.Rollback())
	check.Equal(t, Balance(230), contribs[bob])
	check.Equal(t, Balance(110), contribs[carol])
}

func TestTopUpCloseAndRefunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.engine.Create(ctx, alice, topUpAuction())
	check.NoError(t, err)

	f.height.SetHeight(6)
	check.NoError(t, f.engine.Bid(ctx, bob, id, 100))
	check.NoError(t, f.engine.Bid(ctx, carol, id, 110))

	// No refunds while the auction is live.
	err = f.engine.ClaimRefund(ctx, bob, id)
	check.True(t, errors.Is(err, ErrAuctionNotClosed))

	f.height.SetHeight(30)
	check.NoError(t, f.engine.Close(ctx, id))

	// Carol won: the token moved and the owner was paid carol's
	// contribution; bob's stays in escrow until claimed.
	owner, _ := f.backend.TokenOwner(testToken)
	check.Equal(t, carol, owner)
	check.Equal(t, Balance(1_110), f.backend.Balance(alice))
	check.Equal(t, Balance(100), f.backend.Balance(EscrowAccount(id)))

	// The winner has nothing to claim.
	err = f.engine.ClaimRefund(ctx, carol, id)
	check.True(t, errors.Is(err, ErrNothingToClaim))

	check.NoError(t, f.engine.ClaimRefund(ctx, bob, id))
	check.Equal(t, Balance(1_000), f.backend.Balance(bob))
	check.Equal(t, Balance(0), f.backend.Balance(EscrowAccount(id)))

	// A second claim finds nothing.
	err = f.engine.ClaimRefund(ctx, bob, id)
	check.True(t, errors.Is(err, ErrNothingToClaim))

	refunds := f.sink.byKind(EventRefundClaimed)
	check.Equal(t, 1, len(refunds))
	check.Equal(t, bob, refunds[0].Account)
	check.Equal(t, Balance(100), refunds[0].Amount)
}

func TestTopUpCloseReserveUnmet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Seed a record whose highest bid sits below the reserve directly
	// through the store; the escrow holds the recorded contribution.
	reserve := Balance(500)
	a := topUpAuction()
	a.General.ReservePrice = &reserve
	a.General.NextBidMin = reserve
	a.General.LastBid = &LastBid{Bidder: bob, Amount: 100}

	tx, err := f.backend.Begin(ctx)
	check.NoError(t, err)
	id, err := tx.NextAuctionID(ctx)
	check.NoError(t, err)
	check.NoError(t, tx.InsertAuction(ctx, id, a))
	check.NoError(t, tx.SetAuctionOwner(ctx, id, alice))
	check.NoError(t, tx.FreezeToken(ctx, alice, testToken))
	check.NoError(t, tx.SetContribution(ctx, id, bob, 100))
	check.NoError(t, tx.Transfer(ctx, bob, EscrowAccount(id), 100))
	check.NoError(t, tx.Commit())

	f.height.SetHeight(30)
	check.NoError(t, f.engine.Close(ctx, id))

	// Not won: the token stays with the owner and the escrow is intact,
	// waiting on refund claims.
	owner, _ := f.backend.TokenOwner(testToken)
	check.Equal(t, alice, owner)
	check.Equal(t, Balance(100), f.backend.Balance(EscrowAccount(id)))
	check.Equal(t, Balance(1_000), f.backend.Balance(alice))

	check.NoError(t, f.engine.ClaimRefund(ctx, bob, id))
	check.Equal(t, Balance(1_000), f.backend.Balance(bob))
}

func TestTopUpCloseWithoutBids(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.engine.Create(ctx, alice, topUpAuction())
	check.NoError(t, err)

	f.height.SetHeight(30)
	check.NoError(t, f.engine.Close(ctx, id))

	owner, _ := f.backend.TokenOwner(testToken)
	check.Equal(t, alice, owner)
	check.Equal(t, Balance(0), f.backend.Balance(EscrowAccount(id)))
}

func TestClaimRefundOnEnglish(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.engine.Create(ctx, alice, englishAuction())
	check.NoError(t, err)

	f.height.SetHeight(30)
	check.NoError(t, f.engine.Close(ctx, id))

	err = f.engine.ClaimRefund(ctx, bob, id)
	check.True(t, errors.Is(err, ErrNothingToClaim))
}

func TestListOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.backend.MintToken(Token{Collection: 1, Item: 2}, alice)

	first, err := f.engine.Create(ctx, alice, englishAuction())
	check.NoError(t, err)

	second := englishAuction()
	second.General.Token = Token{Collection: 1, Item: 2}
	secondID, err := f.engine.Create(ctx, alice, second)
	check.NoError(t, err)

	open, err := f.engine.ListOpen(ctx)
	check.NoError(t, err)
	check.Equal(t, 2, len(open))
	check.Equal(t, first, open[0].ID)
	check.Equal(t, secondID, open[1].ID)

	f.height.SetHeight(30)
	check.NoError(t, f.engine.Close(ctx, first))

	open, err = f.engine.ListOpen(ctx)
	check.NoError(t, err)
	check.Equal(t, 1, len(open))
	check.Equal(t, secondID, open[0].ID)
}
