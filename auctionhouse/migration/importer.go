// Package migration imports legacy auction state from MongoDB into the
// Postgres schema the engine runs on.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/chainhouse/auctionhouse/auctionhouse/database/models"
)

const (
	defaultBatchSize     = 1000
	maxConcurrentImports = 3
)

// mongoAuction is the legacy auction document shape.
type mongoAuction struct {
	ID         int64  `bson:"id"`
	Kind       string `bson:"kind"`
	Owner      string `bson:"owner"`
	Collection int64  `bson:"collection"`
	Item       int64  `bson:"item"`
	Name       string `bson:"name"`
	Start      int64  `bson:"start"`
	End        int64  `bson:"end"`
	Reserve    *int64 `bson:"reserve,omitempty"`
	NextBidMin int64  `bson:"next_bid_min"`
	Bidder     string `bson:"bidder,omitempty"`
	BidAmount  int64  `bson:"bid_amount,omitempty"`
	Closed     bool   `bson:"closed"`
}

type mongoAccount struct {
	ID      string `bson:"id"`
	Balance int64  `bson:"balance"`
}

type mongoToken struct {
	Collection int64  `bson:"collection"`
	Item       int64  `bson:"item"`
	Owner      string `bson:"owner"`
	Frozen     bool   `bson:"frozen"`
}

type mongoContribution struct {
	AuctionID int64  `bson:"auction_id"`
	Bidder    string `bson:"bidder"`
	Amount    int64  `bson:"amount"`
}

// Importer copies legacy state across. Collections import concurrently,
// bounded by a semaphore so the importer cannot saturate the pool.
type Importer struct {
	pgDB      *bun.DB
	mongoDB   *mongo.Database
	batchSize int
	sem       *semaphore.Weighted
}

func NewImporter(pgDB *bun.DB, mongoDB *mongo.Database) *Importer {
	return &Importer{
		pgDB:      pgDB,
		mongoDB:   mongoDB,
		batchSize: defaultBatchSize,
		sem:       semaphore.NewWeighted(maxConcurrentImports),
	}
}

// SetBatchSize overrides the default insert batch size.
func (i *Importer) SetBatchSize(size int) {
	if size > 0 {
		i.batchSize = size
	}
}

// Import copies all legacy collections and finally seeds the auction id
// counter past the highest imported id.
func (i *Importer) Import(ctx context.Context) error {
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return i.importAuctions(ctx) })
	g.Go(func() error { return i.importAccounts(ctx) })
	g.Go(func() error { return i.importTokens(ctx) })
	g.Go(func() error { return i.importContributions(ctx) })
	if err := g.Wait(); err != nil {
		return err
	}
	if err := i.seedCounter(ctx); err != nil {
		return err
	}

	slog.Info("Import finished",
		slog.String("type", "db"),
		slog.Duration("took", time.Since(start)))
	return nil
}

func (i *Importer) importAuctions(ctx context.Context) error {
	return importCollection(ctx, i, "auctions", func(doc mongoAuction) []interface{} {
		now := time.Now()
		a := &models.Auction{
			ID:            doc.ID,
			Kind:          doc.Kind,
			Owner:         doc.Owner,
			Collection:    doc.Collection,
			Item:          doc.Item,
			Name:          doc.Name,
			StartHeight:   doc.Start,
			EndHeight:     doc.End,
			ReservePrice:  doc.Reserve,
			NextBidMin:    doc.NextBidMin,
			LastBidder:    doc.Bidder,
			LastBidAmount: doc.BidAmount,
			Closed:        doc.Closed,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return []interface{}{a, &models.AuctionOwner{AuctionID: doc.ID, Owner: doc.Owner}}
	})
}

func (i *Importer) importAccounts(ctx context.Context) error {
	return importCollection(ctx, i, "accounts", func(doc mongoAccount) []interface{} {
		return []interface{}{&models.Account{ID: doc.ID, Balance: doc.Balance, UpdatedAt: time.Now()}}
	})
}

func (i *Importer) importTokens(ctx context.Context) error {
	return importCollection(ctx, i, "tokens", func(doc mongoToken) []interface{} {
		return []interface{}{&models.Token{
			Collection: doc.Collection,
			Item:       doc.Item,
			Owner:      doc.Owner,
			Frozen:     doc.Frozen,
		}}
	})
}

func (i *Importer) importContributions(ctx context.Context) error {
	return importCollection(ctx, i, "contributions", func(doc mongoContribution) []interface{} {
		return []interface{}{&models.Contribution{
			AuctionID: doc.AuctionID,
			Bidder:    doc.Bidder,
			Amount:    doc.Amount,
			UpdatedAt: time.Now(),
		}}
	})
}

// importCollection streams one Mongo collection and batch-inserts the
// converted rows.
func importCollection[D any](ctx context.Context, i *Importer, name string, convert func(D) []interface{}) error {
	if err := i.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer i.sem.Release(1)

	start := time.Now()
	cursor, err := i.mongoDB.Collection(name).Find(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	defer cursor.Close(ctx)

	var batch []interface{}
	var count int
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		for _, row := range batch {
			if _, err := i.pgDB.NewInsert().Model(row).Exec(ctx); err != nil {
				return fmt.Errorf("failed to insert into %s: %w", name, err)
			}
		}
		batch = batch[:0]
		return nil
	}

	for cursor.Next(ctx) {
		var doc D
		if err := cursor.Decode(&doc); err != nil {
			return fmt.Errorf("failed to decode %s document: %w", name, err)
		}
		batch = append(batch, convert(doc)...)
		count++
		if len(batch) >= i.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("cursor failed on %s: %w", name, err)
	}
	if err := flush(); err != nil {
		return err
	}

	slog.Info("Collection imported",
		slog.String("type", "db"),
		slog.String("collection", name),
		slog.Int("documents", count),
		slog.Duration("took", time.Since(start)))
	return nil
}

// seedCounter points the id allocator past the highest imported auction.
func (i *Importer) seedCounter(ctx context.Context) error {
	var maxID int64
	err := i.pgDB.NewSelect().
		Model((*models.Auction)(nil)).
		ColumnExpr("COALESCE(MAX(id), -1)").
		Scan(ctx, &maxID)
	if err != nil {
		return fmt.Errorf("failed to read max auction id: %w", err)
	}
	_, err = i.pgDB.NewInsert().
		Model(&models.Counter{Name: models.AuctionIDCounter, Value: maxID + 1}).
		On("CONFLICT (name) DO UPDATE").
		Set("value = GREATEST(cn.value, EXCLUDED.value)").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed id counter: %w", err)
	}
	return nil
}
