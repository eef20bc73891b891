package ledger

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"

	"github.com/veilledger/veilledger/internal/cryptocore"
	"github.com/veilledger/veilledger/internal/envelope"
	"github.com/veilledger/veilledger/internal/ledgerconst"
	"github.com/veilledger/veilledger/pkg/ledgertypes"
)

// Genesis state is fixed, not random: every independently bootstrapped
// node must derive a byte-identical block 0 so that two fresh chains
// agree on its hash without ever talking to each other. That rules out
// every source of randomness a normal mint uses — the collection's id and
// user salt, the AEAD nonces, and even the signing key all come from
// constants here. The genesis secret and signing seed are public by
// construction; the bootstrap collection exists to seed the chain, not to
// protect anything.
var (
	genesisSecret      = []byte("veilledger_genesis_secret_v1")
	genesisBlockSalt   = strings.Repeat("0", 64)
	genesisUserSalt    = strings.Repeat("1", 64)
	genesisSigningSeed = []byte("veilledger_genesis_seed_00000001")

	genesisMetaNonce    = []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	genesisPayloadNonce = []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2}
)

const genesisCollectionID = "00000000-0000-4000-8000-000000000001"

// GenesisSigningKey returns the fixed Ed25519 key that signs the genesis
// bootstrap collection. It is shared, well-known key material — it
// authorises nothing beyond block 0.
func GenesisSigningKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(genesisSigningSeed)
}

// NewGenesisBlock builds the fixed, non-jittered block 0: zero accounts
// and exactly one well-known bootstrap collection, sealed and signed from
// constants so the result is byte-identical on every node. Its timestamp
// is ledgerconst.GenesisTimestamp regardless of wall-clock time.
func NewGenesisBlock() (*Block, error) {
	signingKey := GenesisSigningKey()
	secretHash := cryptocore.HashSecret(genesisSecret)
	secretHashHex := hex.EncodeToString(secretHash[:])

	collection, err := ledgertypes.NewBootstrapCollection(
		genesisCollectionID,
		ledgerconst.GenesisLabel,
		ledgerconst.GenesisMessage,
		ledgerconst.GenesisTimestamp,
		genesisSecret,
		secretHashHex,
		genesisUserSalt,
		genesisMetaNonce,
		genesisPayloadNonce,
		signingKey,
	)
	if err != nil {
		return nil, err
	}

	container := &envelope.Container{
		CollectionEnvelopes: []envelope.CollectionEnvelope{{Collection: *collection}},
		Validator:           ledgerconst.GenesisValidator,
	}
	serialized, err := container.Serialize()
	if err != nil {
		return nil, err
	}

	blindIndex := collectionBlindIndex(collection, genesisBlockSalt)
	merkleRoot := ComputeMerkleRoot(containerHash(serialized), []string{blindIndex})
	hash := computeHash(0, ledgerconst.GenesisTimestamp, merkleRoot, ledgerconst.GenesisPreviousHash, ledgerconst.GenesisValidator)

	return &Block{
		Index:        0,
		Timestamp:    ledgerconst.GenesisTimestamp,
		PreviousHash: ledgerconst.GenesisPreviousHash,
		MerkleRoot:   merkleRoot,
		Hash:         hash,
		Validator:    ledgerconst.GenesisValidator,
		BlindIndexes: []string{blindIndex},
		BlockSalt:    genesisBlockSalt,
		Envelope:     serialized,
	}, nil
}
