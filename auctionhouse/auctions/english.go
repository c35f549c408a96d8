package auctions

import "context"

// settler is the per-variant capability interface behind Bid and Close. The
// engine selects the implementation with an exhaustive switch over the kind,
// so adding a variant is an explicit, compiler-visible change.
type settler interface {
	// bid applies variant-specific custody and the shared bookkeeping for
	// one accepted bid, mutating g in place.
	bid(ctx context.Context, tx Txn, e *Engine, id AuctionID, g *GeneralData, bidder AccountID, amount Balance, now uint64) error
	// close settles the auction and returns the winner, if any.
	close(ctx context.Context, tx Txn, e *Engine, id AuctionID, g *GeneralData) (*LastBid, error)
}

func settlerFor(k Kind) (settler, error) {
	switch k {
	case KindEnglish:
		return englishSettler{}, nil
	case KindTopUp:
		return topUpSettler{}, nil
	default:
		return nil, ErrUnknownAuctionKind
	}
}

// englishSettler holds bids as named ledger locks: the money never leaves the
// bidder's account, it just becomes unspendable until outbid or settled.
type englishSettler struct{}

func (englishSettler) bid(ctx context.Context, tx Txn, e *Engine, id AuctionID, g *GeneralData, bidder AccountID, amount Balance, now uint64) error {
	tag := auctionLockTag(id)
	if g.LastBid != nil {
		if err := tx.RemoveLock(ctx, tag, g.LastBid.Bidder); err != nil {
			return err
		}
	}
	if err := tx.SetLock(ctx, tag, bidder, amount); err != nil {
		return err
	}
	return e.applyBidBookkeeping(g, bidder, amount, now)
}

func (englishSettler) close(ctx context.Context, tx Txn, e *Engine, id AuctionID, g *GeneralData) (*LastBid, error) {
	if err := tx.ThawToken(ctx, g.Owner, g.Token); err != nil {
		return nil, err
	}
	winner := g.LastBid
	if winner == nil {
		// Never bid on: ownership never left the owner, only the
		// transfer lock is lifted.
		return nil, nil
	}
	if err := tx.TransferToken(ctx, g.Owner, g.Token, winner.Bidder); err != nil {
		return nil, err
	}
	if err := tx.RemoveLock(ctx, auctionLockTag(id), winner.Bidder); err != nil {
		return nil, err
	}
	// The payment keeps the winner above the existential minimum or the
	// whole close fails and may be retried.
	if err := tx.Transfer(ctx, winner.Bidder, g.Owner, winner.Amount); err != nil {
		return nil, err
	}
	return winner, nil
}

// applyBidBookkeeping folds an accepted bid into the record: highest bid,
// next minimum, and the anti-sniping window extension.
func (e *Engine) applyBidBookkeeping(g *GeneralData, bidder AccountID, amount Balance, now uint64) error {
	g.LastBid = &LastBid{Bidder: bidder, Amount: amount}

	next, overflow := checkedAddBalance(amount, bidStep(amount, e.params.BidStepPerc))
	if overflow {
		return ErrBidOverflow
	}
	g.NextBidMin = next

	// Guarantee at least BidAddBlocks of bidding window after every
	// accepted bid so a last-instant bid can always be answered.
	if g.End < now {
		return ErrTimeUnderflow
	}
	if timeLeft := g.End - now; timeLeft < e.params.BidAddBlocks {
		end, carry := checkedAdd(now, e.params.BidAddBlocks)
		if carry {
			return ErrBidOverflow
		}
		g.End = end
	}
	return nil
}
