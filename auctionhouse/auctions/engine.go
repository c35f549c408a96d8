package auctions

import (
	"context"
	"fmt"
	"time"

	"github.com/chainhouse/auctionhouse/auctionhouse/logger"
)

// HeightSource reports the current block height. The engine only ever reads
// it; time advances because the surrounding host advances the counter.
type HeightSource interface {
	CurrentHeight() uint64
}

// Engine runs every auction operation as one atomic backend transaction.
// Operations are serialized by the backend; there is no background sweep —
// Close is always caller-invoked, so settlement cost stays with callers.
type Engine struct {
	backend  Backend
	chain    HeightSource
	notifier *Notifier
	params   Params
}

func NewEngine(backend Backend, chain HeightSource, notifier *Notifier, params Params) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("auction backend cannot be nil")
	}
	if chain == nil {
		return nil, fmt.Errorf("height source cannot be nil")
	}
	if params.BidStepPerc > 100 {
		return nil, fmt.Errorf("bid step percent %d exceeds 100", params.BidStepPerc)
	}
	if notifier == nil {
		notifier = NewNotifier()
	}
	return &Engine{
		backend:  backend,
		chain:    chain,
		notifier: notifier,
		params:   params,
	}, nil
}

// Params returns the engine's chain constants.
func (e *Engine) Params() Params {
	return e.params
}

// Create validates and stores a new auction, freezes the token under the
// caller's authority and returns the allocated identifier. Identifier
// allocation, both map inserts and the freeze are one atomic unit.
func (e *Engine) Create(ctx context.Context, caller AccountID, a *Auction) (id AuctionID, err error) {
	start := time.Now()
	defer func() { logger.LogOperation("create", string(caller), time.Since(start), err) }()
	now := e.chain.CurrentHeight()

	if _, err := settlerFor(a.Kind); err != nil {
		return 0, err
	}

	tx, err := e.backend.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := e.validateGeneralData(ctx, tx, a, now); err != nil {
		return 0, err
	}
	if err := e.validateCreate(ctx, tx, a); err != nil {
		return 0, err
	}

	id, err = tx.NextAuctionID(ctx)
	if err != nil {
		return 0, err
	}
	if err := tx.InsertAuction(ctx, id, a); err != nil {
		return 0, fmt.Errorf("failed to insert auction: %w", err)
	}
	if err := tx.SetAuctionOwner(ctx, id, a.General.Owner); err != nil {
		return 0, fmt.Errorf("failed to index auction owner: %w", err)
	}
	if err := tx.FreezeToken(ctx, caller, a.General.Token); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit create: %w", err)
	}

	e.notifier.Emit(ctx, Event{
		Kind:      EventAuctionCreated,
		AuctionID: id,
		Account:   a.General.Owner,
		Height:    now,
		At:        time.Now(),
	})
	return id, nil
}

// Update replaces the stored record wholesale. It is rejected once the
// auction has started and may change neither the variant nor the token.
func (e *Engine) Update(ctx context.Context, caller AccountID, id AuctionID, updated *Auction) (err error) {
	start := time.Now()
	defer func() { logger.LogOperation("update", string(caller), time.Since(start), err) }()
	now := e.chain.CurrentHeight()

	tx, err := e.backend.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := tx.Auction(ctx, id)
	if err != nil {
		return err
	}
	if current.Kind != updated.Kind {
		return ErrNoChangeOfAuctionType
	}
	if current.General.Token != updated.General.Token {
		return ErrCannotChangeToken
	}
	if err := e.validateGeneralData(ctx, tx, updated, now); err != nil {
		return err
	}
	if err := e.validateUpdate(caller, &current.General, now); err != nil {
		return err
	}

	if err := tx.UpdateAuction(ctx, id, updated); err != nil {
		return fmt.Errorf("failed to update auction: %w", err)
	}
	if err := tx.SetAuctionOwner(ctx, id, updated.General.Owner); err != nil {
		return fmt.Errorf("failed to index auction owner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit update: %w", err)
	}
	return nil
}

// Destroy removes a not-yet-started auction and thaws its token.
func (e *Engine) Destroy(ctx context.Context, caller AccountID, id AuctionID) (err error) {
	start := time.Now()
	defer func() { logger.LogOperation("destroy", string(caller), time.Since(start), err) }()
	now := e.chain.CurrentHeight()

	tx, err := e.backend.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	a, err := tx.Auction(ctx, id)
	if err != nil {
		return err
	}
	if err := e.validateUpdate(caller, &a.General, now); err != nil {
		return err
	}

	if err := tx.ThawToken(ctx, a.General.Owner, a.General.Token); err != nil {
		return err
	}
	if err := tx.RemoveAuctionOwner(ctx, id); err != nil {
		return fmt.Errorf("failed to remove owner index: %w", err)
	}
	if err := tx.RemoveAuction(ctx, id); err != nil {
		return fmt.Errorf("failed to remove auction: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit destroy: %w", err)
	}

	e.notifier.Emit(ctx, Event{
		Kind:      EventAuctionDestroyed,
		AuctionID: id,
		Account:   a.General.Owner,
		Height:    now,
		At:        time.Now(),
	})
	return nil
}

// Bid places a bid. Custody is variant-specific (lock for English, escrow
// transfer for TopUp); bookkeeping and anti-sniping are shared. A losing race
// between two bidders surfaces to the later one as ErrInvalidBidPrice.
func (e *Engine) Bid(ctx context.Context, bidder AccountID, id AuctionID, amount Balance) (err error) {
	start := time.Now()
	defer func() { logger.LogOperation("bid", string(bidder), time.Since(start), err) }()
	now := e.chain.CurrentHeight()

	tx, err := e.backend.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	a, err := tx.Auction(ctx, id)
	if err != nil {
		return err
	}
	s, err := settlerFor(a.Kind)
	if err != nil {
		return err
	}
	if err := e.validateBid(bidder, &a.General, amount, now); err != nil {
		return err
	}
	if err := s.bid(ctx, tx, e, id, &a.General, bidder, amount, now); err != nil {
		return err
	}
	if err := tx.UpdateAuction(ctx, id, a); err != nil {
		return fmt.Errorf("failed to store bid: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bid: %w", err)
	}

	e.notifier.Emit(ctx, Event{
		Kind:      EventBidPlaced,
		AuctionID: id,
		Account:   bidder,
		Amount:    amount,
		Height:    now,
		At:        time.Now(),
	})
	return nil
}

// Close settles an ended auction. Anyone may call it once the end height has
// passed; closing an already-closed auction fails with ErrAuctionClosed and
// changes nothing.
func (e *Engine) Close(ctx context.Context, id AuctionID) (err error) {
	start := time.Now()
	defer func() { logger.LogOperation("close", "", time.Since(start), err) }()
	now := e.chain.CurrentHeight()

	tx, err := e.backend.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	a, err := tx.Auction(ctx, id)
	if err != nil {
		return err
	}
	s, err := settlerFor(a.Kind)
	if err != nil {
		return err
	}
	if err := e.validateClose(&a.General, now); err != nil {
		return err
	}
	winner, err := s.close(ctx, tx, e, id, &a.General)
	if err != nil {
		return err
	}
	a.General.Closed = true
	if err := tx.UpdateAuction(ctx, id, a); err != nil {
		return fmt.Errorf("failed to store closed auction: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit close: %w", err)
	}

	ev := Event{
		Kind:      EventAuctionClosed,
		AuctionID: id,
		Height:    now,
		At:        time.Now(),
	}
	if winner != nil {
		ev.Account = winner.Bidder
		ev.Amount = winner.Amount
	}
	e.notifier.Emit(ctx, ev)
	return nil
}

// ClaimRefund pays a recorded TopUp contribution back from escrow. It is only
// available after the auction closed; the winner of a won auction has no
// entry left to claim. The contribution map, not the escrow balance, is
// authoritative.
func (e *Engine) ClaimRefund(ctx context.Context, claimant AccountID, id AuctionID) (err error) {
	start := time.Now()
	defer func() { logger.LogOperation("claim_refund", string(claimant), time.Since(start), err) }()
	now := e.chain.CurrentHeight()

	tx, err := e.backend.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	a, err := tx.Auction(ctx, id)
	if err != nil {
		return err
	}
	if a.Kind != KindTopUp {
		return ErrNothingToClaim
	}
	if !a.General.Closed {
		return ErrAuctionNotClosed
	}
	amount, err := tx.Contribution(ctx, id, claimant)
	if err != nil {
		return err
	}
	if amount == 0 {
		return ErrNothingToClaim
	}
	if err := tx.Transfer(ctx, EscrowAccount(id), claimant, amount); err != nil {
		return err
	}
	if err := tx.RemoveContribution(ctx, id, claimant); err != nil {
		return fmt.Errorf("failed to clear contribution: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit refund claim: %w", err)
	}

	e.notifier.Emit(ctx, Event{
		Kind:      EventRefundClaimed,
		AuctionID: id,
		Account:   claimant,
		Amount:    amount,
		Height:    now,
		At:        time.Now(),
	})
	return nil
}

// Auction returns a copy of the stored record.
func (e *Engine) Auction(ctx context.Context, id AuctionID) (*Auction, error) {
	tx, err := e.backend.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	a, err := tx.Auction(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

// ListOpen returns every auction not yet closed, ordered by identifier.
func (e *Engine) ListOpen(ctx context.Context) ([]ListedAuction, error) {
	tx, err := e.backend.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	return tx.ListOpen(ctx)
}
