package auctions

import (
	"context"
	"math/bits"
	"unicode/utf8"
)

// validateGeneralData checks the variant-independent creation/update
// invariants against the current height and the token registry. It performs
// no mutation.
func (e *Engine) validateGeneralData(ctx context.Context, reg Registry, a *Auction, now uint64) error {
	g := &a.General

	if g.Start < now {
		return ErrAuctionStartTimeAlreadyPassed
	}
	minEnd, carry := checkedAdd(g.Start, e.params.MinAuctionDuration)
	if carry || g.End <= minEnd {
		return ErrInvalidTimeConfiguration
	}
	if g.Name == "" {
		return ErrEmptyAuctionName
	}
	if utf8.RuneCountInString(g.Name) > e.params.NameLimit {
		return ErrTooLong
	}
	owner, ok, err := reg.OwnerOf(ctx, g.Token)
	if err != nil {
		return err
	}
	if !ok || owner != g.Owner {
		return ErrNotATokenOwner
	}
	if g.Closed {
		return ErrCannotSetAuctionClosed
	}
	return e.validateNextBidMin(g)
}

// validateNextBidMin enforces the starting-minimum policy: the reserve price
// when one is set, the configured minimum bid otherwise.
func (e *Engine) validateNextBidMin(g *GeneralData) error {
	want := e.params.MinBidAmount
	if g.ReservePrice != nil {
		want = *g.ReservePrice
	}
	if g.NextBidMin != want {
		return ErrInvalidNextBidMin
	}
	return nil
}

// validateCreate rejects tokens that are already transfer-locked.
func (e *Engine) validateCreate(ctx context.Context, reg Registry, a *Auction) error {
	transferable, err := reg.CanTransfer(ctx, a.General.Token)
	if err != nil {
		return err
	}
	if !transferable {
		return ErrTokenFrozen
	}
	return nil
}

// validateUpdate gates update and destroy: owner only, and only before the
// auction has started.
func (e *Engine) validateUpdate(caller AccountID, g *GeneralData, now uint64) error {
	if g.Owner != caller {
		return ErrNotAuctionOwner
	}
	if now >= g.Start {
		return ErrAuctionAlreadyStarted
	}
	return nil
}

// validateBid checks the bidding window and the price gates. The window is
// strict on both edges: bidding at exactly start or end fails.
func (e *Engine) validateBid(bidder AccountID, g *GeneralData, amount Balance, now uint64) error {
	if bidder == g.Owner {
		return ErrCannotBidOnOwnAuction
	}
	if now <= g.Start {
		return ErrAuctionNotStarted
	}
	if now >= g.End {
		return ErrAuctionEndTimeReached
	}
	if amount < g.NextBidMin {
		return ErrInvalidBidPrice
	}
	if g.LastBid != nil {
		if amount <= g.LastBid.Amount {
			return ErrInvalidBidPrice
		}
	} else if amount == 0 {
		return ErrInvalidBidPrice
	}
	return nil
}

func (e *Engine) validateClose(g *GeneralData, now uint64) error {
	if g.Closed {
		return ErrAuctionClosed
	}
	if now < g.End {
		return ErrAuctionEndTimeNotReached
	}
	return nil
}

// checkedAdd adds two uint64 and reports overflow.
func checkedAdd(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry != 0
}

// checkedAddBalance adds two balances and reports overflow.
func checkedAddBalance(a, b Balance) (Balance, bool) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	return Balance(sum), carry != 0
}

// bidStep computes floor(amount * perc / 100) without intermediate overflow.
func bidStep(amount Balance, perc uint64) Balance {
	if perc == 0 || amount == 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(amount), perc)
	// NewEngine rejects perc above 100, so hi < 100 and the quotient
	// fits in 64 bits.
	q, _ := bits.Div64(hi, lo, 100)
	return Balance(q)
}
