package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru"
	"github.com/uptrace/bun"

	"github.com/chainhouse/auctionhouse/auctionhouse/auctions"
	"github.com/chainhouse/auctionhouse/auctionhouse/database/models"
)

const settledCacheSize = 1024

// AuctionRepository serves read queries outside engine transactions. Settled
// auctions never change again, so they are cached.
type AuctionRepository interface {
	DB() *bun.DB
	GetByID(ctx context.Context, id auctions.AuctionID) (*auctions.Auction, error)
	GetOpen(ctx context.Context) ([]auctions.ListedAuction, error)
	GetByOwner(ctx context.Context, owner auctions.AccountID) ([]auctions.ListedAuction, error)
	GetEvents(ctx context.Context, id auctions.AuctionID) ([]*models.AuctionEvent, error)
}

type auctionRepository struct {
	db      *bun.DB
	settled *lru.Cache
}

func NewAuctionRepository(db *bun.DB) (AuctionRepository, error) {
	cache, err := lru.New(settledCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create settled cache: %w", err)
	}
	return &auctionRepository{db: db, settled: cache}, nil
}

func (r *auctionRepository) DB() *bun.DB {
	return r.db
}

func (r *auctionRepository) GetByID(ctx context.Context, id auctions.AuctionID) (*auctions.Auction, error) {
	if cached, ok := r.settled.Get(id); ok {
		return cached.(*auctions.Auction).Clone(), nil
	}

	m := new(models.Auction)
	err := r.db.NewSelect().
		Model(m).
		Where("a.id = ?", int64(id)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auctions.ErrAuctionNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}

	a := fromAuctionModel(m)
	if a.General.Closed {
		r.settled.Add(id, a.Clone())
		slog.Debug("Settled auction cached",
			slog.String("type", "db"),
			slog.Uint64("auction_id", uint64(id)))
	}
	return a, nil
}

func (r *auctionRepository) GetOpen(ctx context.Context) ([]auctions.ListedAuction, error) {
	var rows []*models.Auction
	err := r.db.NewSelect().
		Model(&rows).
		Where("a.closed = ?", false).
		Order("a.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open auctions: %w", err)
	}
	return listedFromModels(rows), nil
}

func (r *auctionRepository) GetByOwner(ctx context.Context, owner auctions.AccountID) ([]auctions.ListedAuction, error) {
	var rows []*models.Auction
	err := r.db.NewSelect().
		Model(&rows).
		Where("a.owner = ?", string(owner)).
		Order("a.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions by owner: %w", err)
	}
	return listedFromModels(rows), nil
}

func (r *auctionRepository) GetEvents(ctx context.Context, id auctions.AuctionID) ([]*models.AuctionEvent, error) {
	var rows []*models.AuctionEvent
	err := r.db.NewSelect().
		Model(&rows).
		Where("ae.auction_id = ?", int64(id)).
		Order("ae.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list auction events: %w", err)
	}
	return rows, nil
}

func listedFromModels(rows []*models.Auction) []auctions.ListedAuction {
	out := make([]auctions.ListedAuction, 0, len(rows))
	for _, m := range rows {
		out = append(out, auctions.ListedAuction{
			ID:      auctions.AuctionID(m.ID),
			Auction: fromAuctionModel(m),
		})
	}
	return out
}
