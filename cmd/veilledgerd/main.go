package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/veilledger/veilledger/internal/apierrors"
	"github.com/veilledger/veilledger/internal/config"
	"github.com/veilledger/veilledger/internal/cryptocore"
	"github.com/veilledger/veilledger/internal/httpapi"
	"github.com/veilledger/veilledger/internal/ledger"
	"github.com/veilledger/veilledger/internal/ledgerconst"
	"github.com/veilledger/veilledger/internal/node"
	"github.com/veilledger/veilledger/internal/p2p"
	"github.com/veilledger/veilledger/internal/ratelimit"
	"github.com/veilledger/veilledger/internal/store"
)

// signingKeyPath is where this node's Ed25519 identity is persisted next
// to the store, per spec.md §6 ("auto-generated secrets persisted next to
// the store").
func signingKeyPath(dataDir string) string {
	return filepath.Join(dataDir, "node.key")
}

// loadOrGenerateSigningKey reads a hex-encoded Ed25519 private key from
// path, generating and persisting a fresh one if none exists yet.
func loadOrGenerateSigningKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		priv, decodeErr := hex.DecodeString(string(raw))
		if decodeErr != nil || len(priv) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("malformed signing key at %s", path)
		}
		return ed25519.PrivateKey(priv), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read signing key: %w", err)
	}

	_, priv, genErr := cryptocore.GenerateSigningKey()
	if genErr != nil {
		return nil, genErr
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(priv)), 0o600); err != nil {
		return nil, fmt.Errorf("persist signing key: %w", err)
	}
	return priv, nil
}

// Exit codes per the external-interface contract: 0 normal, 2
// misconfiguration, 3 unrecoverable storage corruption.
const (
	exitMisconfigured  = 2
	exitStorageFailure = 3
)

// loadOrBootstrapChain reads every persisted block from st and rebuilds
// the in-memory chain, minting and persisting the genesis block if the
// store is empty.
func loadOrBootstrapChain(st *store.Store) (*ledger.Chain, error) {
	blocks, err := st.LoadChain()
	if err != nil {
		return nil, fmt.Errorf("load chain: %w", err)
	}
	if len(blocks) > 0 {
		log.Printf("NODE: loaded %d blocks from store, tip height %d", len(blocks), blocks[len(blocks)-1].Index)
		return ledger.NewChainFromBlocks(blocks), nil
	}

	log.Println("NODE: store is empty, minting genesis block")
	genesis, err := ledger.NewGenesisBlock()
	if err != nil {
		return nil, fmt.Errorf("build genesis block: %w", err)
	}
	if err := st.AppendBlock(genesis); err != nil {
		return nil, fmt.Errorf("persist genesis block: %w", err)
	}
	return ledger.NewChain(genesis), nil
}

func runNode(cfg config.Config) (*store.Store, *p2p.Server, *store.Janitor, *http.Server, error) {
	log.Println("NODE: initializing veilledgerd components...")

	st, err := store.Open(filepath.Join(cfg.DataDir, "db"))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	log.Println("NODE: store opened successfully.")

	keyPath := cfg.SigningKeyFile
	if keyPath == "" {
		keyPath = signingKeyPath(cfg.DataDir)
	}
	signingKey, err := loadOrGenerateSigningKey(keyPath)
	if err != nil {
		st.Close()
		return nil, nil, nil, nil, fmt.Errorf("load signing key: %w", err)
	}

	if err := st.ApplyMigrations(store.BaselineMigrations()); err != nil {
		st.Close()
		return nil, nil, nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	chain, err := loadOrBootstrapChain(st)
	if err != nil {
		st.Close()
		return nil, nil, nil, nil, err
	}
	log.Printf("NODE: chain ready at height %d", chain.Height())

	if err := st.SetNodeID(cfg.NodeID); err != nil {
		st.Close()
		return nil, nil, nil, nil, fmt.Errorf("record node id: %w", err)
	}

	cache := cryptocore.NewKeyCache()
	limiter := ratelimit.New(st, nil)
	peers := p2p.NewPeerRegistry(cfg.Peers)
	sessions := node.NewSessionStore()

	n := node.New(chain, st, cache, signingKey, limiter, peers, cfg.ValidatorName, cfg.ValidatorAddrs)

	persist := func(block *ledger.Block) error {
		if err := st.AppendBlock(block); err != nil {
			return err
		}
		if block.Index%ledgerconst.CheckpointInterval == 0 {
			return st.PutCheckpoint(block.Index, block.Hash)
		}
		return nil
	}
	p2pServer := p2p.NewServer(":"+cfg.P2PPort, chain, peers, persist)
	if err := p2pServer.Start(); err != nil {
		st.Close()
		return nil, nil, nil, nil, fmt.Errorf("start p2p server: %w", err)
	}
	log.Printf("NODE: p2p server listening on :%s", cfg.P2PPort)

	janitor := store.NewJanitor(st, time.Duration(cfg.JanitorIntervalSeconds)*time.Second)
	janitor.Start()
	log.Println("NODE: janitor started.")

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: httpapi.New(n, sessions),
	}
	go func() {
		log.Printf("NODE: http server listening on :%s", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("NODE: http server error: %v", err)
		}
	}()

	return st, p2pServer, janitor, httpServer, nil
}

// validateConfig rejects a configuration the node cannot safely run
// under before any component starts.
func validateConfig(cfg config.Config) error {
	for _, v := range ledgerconst.Validators {
		if cfg.ValidatorName == v {
			return nil
		}
	}
	return fmt.Errorf("VALIDATOR_NAME %q is not in the authority set %v", cfg.ValidatorName, ledgerconst.Validators)
}

func main() {
	log.Println("Starting veilledgerd...")

	cfg := config.Load()
	if err := validateConfig(cfg); err != nil {
		log.Printf("misconfiguration: %v", err)
		os.Exit(exitMisconfigured)
	}

	st, p2pServer, janitor, httpServer, err := runNode(cfg)
	if err != nil {
		log.Printf("node initialization failed: %v", err)
		if errors.Is(err, apierrors.ErrStorageFailure) || errors.Is(err, apierrors.ErrSerializationFailure) {
			os.Exit(exitStorageFailure)
		}
		os.Exit(exitMisconfigured)
	}

	shutdownChannel := make(chan os.Signal, 1)
	signal.Notify(shutdownChannel, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdownChannel
	log.Printf("caught signal: %v, starting graceful shutdown...", sig)

	ctxTimeout := 5 * time.Second
	done := make(chan struct{})
	go func() {
		httpServer.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(ctxTimeout):
		log.Println("NODE: http server close timed out")
	}

	p2pServer.Stop()
	janitor.Stop()
	if err := st.Close(); err != nil {
		log.Printf("NODE: store close error: %v", err)
	}

	log.Println("veilledgerd shut down gracefully.")
}
