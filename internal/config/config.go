// Package config loads server settings from the environment, optionally
// seeded from a .env file for local development.
package config

import (
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Settings holds every environment-driven knob the server needs.
type Settings struct {
	DBPath             string
	MapSize            int
	TickIntervalMS     int
	SnapshotEveryTicks uint64
	ObsRadius          int

	EntryPriceAsset  string
	EntryPriceAmount string
	EntryDemoSecret  string

	ChainRPCURL                string
	EntryFeeContractAddress    string
	StateAnchorContractAddress string
	OraclePrivateKey           string

	AdminKey string
	Port     int
}

// Load reads a .env file if present (ignored if absent — this is a
// convenience for local development, not a requirement), then builds
// Settings from the environment with the same defaults as
// original_source/app/settings.py.
func Load() Settings {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	return Settings{
		DBPath:             getString("DB_PATH", "crossroads_oasis.sqlite3"),
		MapSize:            getInt("MAP_SIZE", 20),
		TickIntervalMS:     getInt("TICK_INTERVAL_MS", 1200),
		SnapshotEveryTicks: uint64(getInt("SNAPSHOT_EVERY_TICKS", 10)),
		ObsRadius:          getInt("OBS_RADIUS", 3),

		EntryPriceAsset:  getString("ENTRY_PRICE_ASSET", "USDC"),
		EntryPriceAmount: getString("ENTRY_PRICE_AMOUNT", "1.0"),
		EntryDemoSecret:  getString("ENTRY_DEMO_SECRET", "demo"),

		ChainRPCURL:                firstNonEmpty(os.Getenv("CHAIN_RPC_URL"), os.Getenv("MONAD_RPC_URL")),
		EntryFeeContractAddress:    os.Getenv("ENTRY_FEE_CONTRACT_ADDRESS"),
		StateAnchorContractAddress: os.Getenv("STATE_ANCHOR_CONTRACT_ADDRESS"),
		OraclePrivateKey:           os.Getenv("ORACLE_PRIVATE_KEY"),

		AdminKey: os.Getenv("WORLDSIM_ADMIN_KEY"),
		Port:     getInt("PORT", 8080),
	}
}

// ChainModeEnabled reports whether enough configuration is present to
// verify entries on-chain rather than via the trust-mode demo secret.
func (s Settings) ChainModeEnabled() bool {
	return s.ChainRPCURL != "" && s.EntryFeeContractAddress != ""
}

// StateAnchorEnabled reports whether enough configuration is present to
// submit anchors on-chain rather than only logging them.
func (s Settings) StateAnchorEnabled() bool {
	return s.ChainRPCURL != "" && s.StateAnchorContractAddress != "" && s.OraclePrivateKey != ""
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
