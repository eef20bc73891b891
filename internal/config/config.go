// Package config reads the small set of environment variables the core
// itself consults. It deliberately has no flag parsing and no third-party
// config framework: the teacher's main.go reads nothing from the
// environment at all, and spec.md places config loading out of core scope,
// so this stays the thinnest possible os.Getenv reader, matching the
// teacher's preference for plain stdlib wiring in cmd/.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/veilledger/veilledger/internal/ledgerconst"
)

// Config is the set of environment-sourced values the core reads at start.
type Config struct {
	NodeID  string
	HTTPPort string
	P2PPort  string
	Peers    []string

	// ValidatorName is this node's own symbolic authority-set name (e.g.
	// "Validator_1"), the static node_id-to-validator-name mapping
	// spec.md §4.3's rotation rule requires.
	ValidatorName string

	// ValidatorAddrs maps every validator's symbolic name to the HTTP
	// base address a non-validator forwards write requests to.
	ValidatorAddrs map[string]string

	// DataDir is where the embedded store keeps its files.
	DataDir string

	// SigningKeyFile optionally overrides where the node's Ed25519
	// identity is read from and persisted to; empty means the default
	// location next to the store.
	SigningKeyFile string

	// JanitorIntervalSeconds controls internal/store's expired-key sweep.
	JanitorIntervalSeconds int
}

// Load reads Config from the environment, applying the defaults spec.md §6
// names: HTTP 8080, P2P 9000, empty peer list.
func Load() Config {
	cfg := Config{
		NodeID:                 getenv("NODE_ID", "node-1"),
		HTTPPort:               getenv("HTTP_PORT", ledgerconst.DefaultHTTPPort),
		P2PPort:                getenv("P2P_PORT", ledgerconst.DefaultP2PPort),
		ValidatorName:          getenv("VALIDATOR_NAME", ledgerconst.Validators[0]),
		ValidatorAddrs:         make(map[string]string),
		DataDir:                getenv("DATA_DIR", "./data"),
		SigningKeyFile:         os.Getenv("NODE_KEY_FILE"),
		JanitorIntervalSeconds: getenvInt("JANITOR_INTERVAL_SECONDS", 60),
	}
	if raw := os.Getenv("PEERS"); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.Peers = append(cfg.Peers, p)
			}
		}
	}
	if raw := os.Getenv("VALIDATOR_ADDRESSES"); raw != "" {
		for _, pair := range strings.Split(raw, ",") {
			pair = strings.TrimSpace(pair)
			name, addr, ok := strings.Cut(pair, "=")
			if ok && name != "" && addr != "" {
				cfg.ValidatorAddrs[name] = addr
			}
		}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
