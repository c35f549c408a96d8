package auctions

import "context"

// topUpSettler takes custody of every bid immediately: the full amount moves
// into a per-auction escrow account and the bidder's cumulative contribution
// is recorded for settlement and refunds.
type topUpSettler struct{}

func (topUpSettler) bid(ctx context.Context, tx Txn, e *Engine, id AuctionID, g *GeneralData, bidder AccountID, amount Balance, now uint64) error {
	if err := tx.Transfer(ctx, bidder, EscrowAccount(id), amount); err != nil {
		return err
	}
	recorded, err := tx.Contribution(ctx, id, bidder)
	if err != nil {
		return err
	}
	total, overflow := checkedAddBalance(recorded, amount)
	if overflow {
		return ErrInvalidTopUpLockedAmount
	}
	if err := tx.SetContribution(ctx, id, bidder, total); err != nil {
		return err
	}
	return e.applyBidBookkeeping(g, bidder, amount, now)
}

// close settles a TopUp auction. The auction is won only when a bid exists
// and, if a reserve price was set, the highest bid meets it. On a win the
// owner is paid the winner's recorded contribution from escrow and the
// winner's entry is cleared; everything else stays in escrow for ClaimRefund.
// On a lost auction the token and the whole escrow balance stay put.
func (topUpSettler) close(ctx context.Context, tx Txn, e *Engine, id AuctionID, g *GeneralData) (*LastBid, error) {
	if err := tx.ThawToken(ctx, g.Owner, g.Token); err != nil {
		return nil, err
	}
	if !topUpWon(g) {
		return nil, nil
	}
	winner := g.LastBid
	if err := tx.TransferToken(ctx, g.Owner, g.Token, winner.Bidder); err != nil {
		return nil, err
	}
	paid, err := tx.Contribution(ctx, id, winner.Bidder)
	if err != nil {
		return nil, err
	}
	if err := tx.Transfer(ctx, EscrowAccount(id), g.Owner, paid); err != nil {
		return nil, err
	}
	if err := tx.RemoveContribution(ctx, id, winner.Bidder); err != nil {
		return nil, err
	}
	return winner, nil
}

func topUpWon(g *GeneralData) bool {
	if g.LastBid == nil {
		return false
	}
	return g.ReservePrice == nil || g.LastBid.Amount >= *g.ReservePrice
}
