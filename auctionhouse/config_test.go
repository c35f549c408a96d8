package auctionhouse

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/peterldowns/testy/check"

	"github.com/chainhouse/auctionhouse/auctionhouse/auctions"
)

func TestLoadConfig(t *testing.T) {
	data := `
[log]
level = "INFO"

[db]
host = "localhost"
port = 5432
user = "auctions"
password = "secret"
database = "auctions"
pool_size = 10

[chain]
start_height = 100
block_time_ms = 6000

[auctions]
min_bid_amount = 5
bid_step_perc = 25
existential_deposit = 1
`
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	check.Equal(t, slog.LevelInfo, cfg.Log.Level)
	check.Equal(t, "localhost", cfg.DB.Host)
	check.Equal(t, uint64(100), cfg.Chain.StartHeight)
	check.Equal(t, 6000, cfg.Chain.BlockTimeMs)

	params := cfg.Auctions.Params()
	check.Equal(t, auctions.Balance(5), params.MinBidAmount)
	check.Equal(t, uint64(25), params.BidStepPerc)
	// Unset values keep the defaults.
	check.Equal(t, uint64(10), params.BidAddBlocks)
	check.Equal(t, 128, params.NameLimit)
}

func TestLoadConfigRejectsNumericLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[log]\nlevel = 0\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := LoadConfig(path)
	check.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	check.Error(t, err)
}
