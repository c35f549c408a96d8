package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/chainhouse/auctionhouse/auctionhouse"
	"github.com/chainhouse/auctionhouse/auctionhouse/auctions"
	"github.com/chainhouse/auctionhouse/auctionhouse/chain"
	"github.com/chainhouse/auctionhouse/auctionhouse/database"
	"github.com/chainhouse/auctionhouse/auctionhouse/database/repositories"
	"github.com/chainhouse/auctionhouse/auctionhouse/logger"
	"github.com/chainhouse/auctionhouse/auctionhouse/migration"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	path := flag.String("config", "config.toml", "path to config")
	useMemory := flag.Bool("memory", false, "run on the in-memory backend instead of Postgres")
	runImport := flag.Bool("import", false, "import legacy state from MongoDB and exit")
	mongoURI := flag.String("mongo-uri", "", "MongoDB connection string for -import")
	mongoName := flag.String("mongo-db", "auctions", "MongoDB database name for -import")
	flag.Parse()

	cfg, err := auctionhouse.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}

	slog.SetDefault(slog.New(logger.NewHandler(cfg.Log.Level)))
	slog.Info("Starting auction house",
		slog.String("version", version),
		slog.String("commit", commit))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	params := cfg.Auctions.Params()
	existentialDeposit := auctions.Balance(cfg.Auctions.ExistentialDeposit)

	notifier := auctions.NewNotifier(auctions.SlogSink{})

	var backend auctions.Backend
	if *useMemory {
		backend = auctions.NewMemoryBackend(existentialDeposit)
		slog.Info("Running on in-memory backend")
	} else {
		dbStartTime := time.Now()
		db, err := database.New(ctx, database.DBConfig{
			Host:     cfg.DB.Host,
			Port:     cfg.DB.Port,
			User:     cfg.DB.User,
			Password: cfg.DB.Password,
			Database: cfg.DB.Database,
			PoolSize: cfg.DB.PoolSize,
		})
		if err != nil {
			slog.Error("Database connection failed",
				slog.String("error", err.Error()),
				slog.Duration("attempted_for", time.Since(dbStartTime)))
			os.Exit(-1)
		}
		defer db.Close()

		if err := db.InitializeSchema(ctx); err != nil {
			slog.Error("Failed to initialize database schema", slog.Any("error", err))
			os.Exit(-1)
		}
		slog.Info("Database ready",
			slog.String("database", cfg.DB.Database),
			slog.Duration("took", time.Since(dbStartTime)))

		if *runImport {
			if err := importLegacy(ctx, db, *mongoURI, *mongoName); err != nil {
				slog.Error("Import failed", slog.Any("error", err))
				os.Exit(-1)
			}
			return
		}

		backend = repositories.NewEngineBackend(db.BunDB(), existentialDeposit)
		notifier.Register(repositories.NewEventRepository(db.BunDB()))

		auctionRepo, err := repositories.NewAuctionRepository(db.BunDB())
		if err != nil {
			logger.LogError("Failed to initialize auction repository", err)
			os.Exit(-1)
		}
		open, err := auctionRepo.GetOpen(ctx)
		if err != nil {
			logger.LogError("Failed to load open auctions", err)
			os.Exit(-1)
		}
		logger.LogSystem("Open auctions loaded", slog.Int("count", len(open)))
	}

	blockTime := time.Duration(cfg.Chain.BlockTimeMs) * time.Millisecond
	if blockTime <= 0 {
		blockTime = 6 * time.Second
	}
	ticker := chain.NewTicker(cfg.Chain.StartHeight, blockTime)

	engine, err := auctions.NewEngine(backend, ticker, notifier, params)
	if err != nil {
		slog.Error("Failed to initialize auction engine", slog.Any("error", err))
		os.Exit(-1)
	}

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	ticker.Start(runCtx)
	defer ticker.Stop()

	slog.Info("Auction house is running. Press CTRL-C to exit.",
		slog.Uint64("start_height", cfg.Chain.StartHeight),
		slog.Duration("block_time", blockTime),
		slog.Uint64("min_bid", uint64(engine.Params().MinBidAmount)))

	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	<-s
	slog.Info("Shutting down...")
}

func importLegacy(ctx context.Context, db *database.DB, uri, name string) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return err
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		client.Disconnect(disconnectCtx)
	}()

	if err := db.ResetTables(ctx); err != nil {
		return err
	}
	return migration.NewImporter(db.BunDB(), client.Database(name)).Import(ctx)
}
