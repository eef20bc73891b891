package p2p

import (
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/veilledger/veilledger/internal/ledger"
	"github.com/veilledger/veilledger/internal/ledgerconst"
	"github.com/veilledger/veilledger/internal/logging"
)

// ChainHandle is the subset of internal/ledger.Chain the server needs to
// apply inbound blocks and answer chain requests. Defined here (not
// imported as the concrete type) so tests can substitute a fake.
type ChainHandle interface {
	LatestBlock() *ledger.Block
	BlockAt(index int64) (*ledger.Block, bool)
	AddBlock(candidate *ledger.Block) error
	Blocks() []*ledger.Block
}

// Persister is called after a block is appended to chain state, so the
// caller can write it to durable storage and checkpoint if applicable.
// Kept as a function value rather than an interface because the server
// only ever needs this one hook.
type Persister func(block *ledger.Block) error

// Server accepts inbound gossip connections and answers them following
// the exact ordered algorithm spec.md §4.5 names for NewBlock processing.
type Server struct {
	listenAddr string
	chain      ChainHandle
	registry   *PeerRegistry
	persist    Persister
	logger     zerolog.Logger

	listener net.Listener
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewServer builds a Server bound to listenAddr (host:port). persist is
// invoked after a gossiped block passes every check and is appended to
// chain; it is expected to write the block to durable storage.
func NewServer(listenAddr string, chain ChainHandle, registry *PeerRegistry, persist Persister) *Server {
	return &Server{
		listenAddr: listenAddr,
		chain:      chain,
		registry:   registry,
		persist:    persist,
		logger:     logging.New("p2p.server"),
		stopChan:   make(chan struct{}),
	}
}

// Start binds the listener and begins accepting connections on a
// background goroutine. It returns once the listener is bound.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.wg.Add(1)
	go s.acceptLoop()
	s.logger.Info().Str("addr", s.listenAddr).Msg("p2p server listening")
	return nil
}

// Stop closes the listener and waits for in-flight connections to drain.
func (s *Server) Stop() {
	close(s.stopChan)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
				s.logger.Warn().Err(err).Msg("accept failed")
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	peerAddr := conn.RemoteAddr().String()

	if s.registry.IsBlacklisted(peerAddr) {
		return
	}
	if s.registry.IsBelowReputationThreshold(peerAddr) {
		return
	}
	if !s.registry.AllowMessage(peerAddr) {
		return
	}

	msg, err := ReadMessage(conn)
	if err != nil {
		s.logger.Debug().Err(err).Str("peer", peerAddr).Msg("read failed")
		return
	}

	switch msg.Type {
	case MessageNewBlock:
		s.handleNewBlock(peerAddr, msg.Block)
	case MessageRequestChain:
		s.handleRequestChain(conn)
	case MessageResponseChain:
		// An unsolicited chain offer on the accept side is the same
		// shape a client sees after RequestChain; the replace decision
		// lives with the caller holding the write lock, so just log it.
		s.logger.Debug().Str("peer", peerAddr).Int("blocks", len(msg.Chain)).Msg("received unsolicited chain offer")
	case MessagePeers:
		for _, addr := range msg.Peers {
			s.registry.AddPeer(addr)
		}
	}
}

// handleNewBlock implements spec.md §4.5's exact ordered checks. Steps 1-3
// (blacklist, reputation, rate limit) already passed in handleConnection;
// this covers idempotency through to the reward/penalty outcome.
func (s *Server) handleNewBlock(peerAddr string, candidate *ledger.Block) {
	if candidate == nil {
		return
	}

	tip := s.chain.LatestBlock()

	if existing, ok := s.chain.BlockAt(candidate.Index); ok && existing.Hash == candidate.Hash {
		return
	}

	if candidate.Index != tip.Index+1 {
		// Non-sequential: may just be a race. No penalty.
		return
	}
	if candidate.PreviousHash != tip.Hash {
		// Diverged chain needs a manual RequestChain sync, not a penalty.
		return
	}

	if err := s.chain.AddBlock(candidate); err != nil {
		s.registry.AdjustReputation(peerAddr, ledgerconst.ReputationPenaltyInvalidBlock)
		return
	}

	if s.persist != nil {
		if err := s.persist(candidate); err != nil {
			s.logger.Error().Err(err).Int64("index", candidate.Index).Msg("persist gossiped block failed")
		}
	}
	s.registry.AdjustReputation(peerAddr, ledgerconst.ReputationRewardValidBlock)
}

func (s *Server) handleRequestChain(conn net.Conn) {
	response := ResponseChainMessage(s.chain.Blocks())
	if err := WriteMessage(conn, response); err != nil {
		s.logger.Debug().Err(err).Msg("write chain response failed")
	}
}
