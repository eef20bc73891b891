// Package p2p implements the length-prefixed gossip protocol nodes use to
// replicate the chain: NewBlock broadcast, on-demand RequestChain/
// ResponseChain sync, and peer-address exchange.
package p2p

import (
	"github.com/veilledger/veilledger/internal/ledger"
)

// MessageType tags the variant of a Message's payload.
type MessageType string

const (
	MessageNewBlock      MessageType = "NewBlock"
	MessageRequestChain  MessageType = "RequestChain"
	MessageResponseChain MessageType = "ResponseChain"
	MessagePeers         MessageType = "Peers"
)

// Message is the tagged union spec.md §4.5 names. Exactly the field
// matching Type is populated; the others are left zero.
type Message struct {
	Type  MessageType     `json:"type"`
	Block *ledger.Block   `json:"block,omitempty"`
	Chain []*ledger.Block `json:"chain,omitempty"`
	Peers []string        `json:"peers,omitempty"`
}

// NewBlockMessage wraps block as a NewBlock variant.
func NewBlockMessage(block *ledger.Block) *Message {
	return &Message{Type: MessageNewBlock, Block: block}
}

// RequestChainMessage is the empty RequestChain variant.
func RequestChainMessage() *Message {
	return &Message{Type: MessageRequestChain}
}

// ResponseChainMessage wraps chain as a ResponseChain variant.
func ResponseChainMessage(chain []*ledger.Block) *Message {
	return &Message{Type: MessageResponseChain, Chain: chain}
}

// PeersMessage wraps peers as a Peers variant.
func PeersMessage(peers []string) *Message {
	return &Message{Type: MessagePeers, Peers: peers}
}
