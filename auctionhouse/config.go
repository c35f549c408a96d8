package auctionhouse

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/chainhouse/auctionhouse/auctionhouse/auctions"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log      LogConfig      `toml:"log"`
	DB       DBConfig       `toml:"db"`
	Chain    ChainConfig    `toml:"chain"`
	Auctions AuctionsConfig `toml:"auctions"`
}

type LogConfig struct {
	// Level takes the textual slog form: "DEBUG", "INFO", "WARN", "ERROR".
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

type DBConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	PoolSize int    `toml:"pool_size"`
}

// ChainConfig drives the standalone block producer. BlockTimeMs is the
// wall-clock interval per block.
type ChainConfig struct {
	StartHeight uint64 `toml:"start_height"`
	BlockTimeMs int    `toml:"block_time_ms"`
}

// AuctionsConfig carries the engine parameters and the ledger's existential
// deposit, used when the engine runs against the in-memory backend.
type AuctionsConfig struct {
	MinBidAmount       uint64 `toml:"min_bid_amount"`
	BidStepPerc        uint64 `toml:"bid_step_perc"`
	BidAddBlocks       uint64 `toml:"bid_add_blocks"`
	MinAuctionDuration uint64 `toml:"min_auction_duration"`
	NameLimit          int    `toml:"name_limit"`
	ExistentialDeposit uint64 `toml:"existential_deposit"`
}

// Params folds the configured values over the defaults; zero fields keep the
// default.
func (c AuctionsConfig) Params() auctions.Params {
	p := auctions.DefaultParams()
	if c.MinBidAmount > 0 {
		p.MinBidAmount = auctions.Balance(c.MinBidAmount)
	}
	if c.BidStepPerc > 0 {
		p.BidStepPerc = c.BidStepPerc
	}
	if c.BidAddBlocks > 0 {
		p.BidAddBlocks = c.BidAddBlocks
	}
	if c.MinAuctionDuration > 0 {
		p.MinAuctionDuration = c.MinAuctionDuration
	}
	if c.NameLimit > 0 {
		p.NameLimit = c.NameLimit
	}
	return p
}
