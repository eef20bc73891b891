// Package ledgerconst collects the system-wide constants shared across the
// crypto, envelope, ledger, store, and p2p packages. Centralising them here
// keeps magic numbers out of call sites and gives every package the same
// source of truth for protocol parameters.
package ledgerconst

import "time"

const (
	// CheckpointInterval is how many blocks separate two checkpoints.
	CheckpointInterval = 100

	// TimestampToleranceSeconds bounds how far into the future a block's
	// timestamp may sit relative to wall-clock time.
	TimestampToleranceSeconds = 120

	// TimestampJitterSeconds is the half-width of the uniform jitter window
	// applied to a minted (non-genesis) block's day-granular timestamp.
	TimestampJitterSeconds = 4 * 60 * 60

	// RequestTimestampToleranceSeconds bounds a signed request's declared
	// timestamp against wall-clock time.
	RequestTimestampToleranceSeconds = 300

	// NonceExpiry is how long a recorded nonce blocks replay.
	NonceExpiry = 10 * time.Minute

	// EncryptionSalt domain-separates the slow secret-hash derivation from
	// every other HKDF usage in the system.
	EncryptionSalt = "veilledger_salt_v1"

	// NonceSizeBytes is the AES-GCM nonce length.
	NonceSizeBytes = 12

	// AESKeySizeBytes is the AES-256 key length.
	AESKeySizeBytes = 32

	// Ed25519PublicKeySize and Ed25519SignatureSize mirror the stdlib sizes;
	// named here so callers don't reach into crypto/ed25519 for magic ints.
	Ed25519PublicKeySize = 32
	Ed25519SignatureSize = 64

	// GenesisLabel and GenesisPreviousHash seed the fixed genesis block.
	GenesisLabel        = "Genesis Block"
	GenesisMessage      = `{"message":"veilledger initialized"}`
	GenesisPreviousHash = "0"
	GenesisValidator    = "Validator_1"
	EmptyMerkleRoot     = "0"

	// GenesisTimestamp is fixed and non-jittered, unlike every other block's
	// timestamp — it is not derived from wall-clock time at all, so two
	// independently bootstrapped chains agree on it byte-for-byte.
	GenesisTimestamp int64 = 1704067200

	// DefaultHTTPPort and DefaultP2PPort are the collaborator-facing
	// listener defaults when the environment does not override them.
	DefaultHTTPPort = "8080"
	DefaultP2PPort  = "9000"

	// ReputationRewardValidBlock and ReputationPenaltyInvalidBlock adjust a
	// peer's standing after processing a gossiped block.
	ReputationRewardValidBlock    = 1
	ReputationPenaltyInvalidBlock = -5

	// MinReputationThreshold is the minimum standing a peer must hold
	// before an inbound connection is even processed.
	MinReputationThreshold = -10

	// MaxMessagesPerMinute bounds inbound messages accepted per peer
	// connection before the rate limiter starts rejecting.
	MaxMessagesPerMinute = 60

	// MaxMessageSizeBytes is the hard ceiling on a single P2P wire message.
	MaxMessageSizeBytes = 100 * 1024 * 1024

	// P2P connection discipline.
	P2PConnectTimeout = 5 * time.Second
	P2PReadTimeout    = 10 * time.Second
	P2PWriteTimeout   = 10 * time.Second

	// Backoff parameters for outbound reconnects.
	BackoffInitial    = 100 * time.Millisecond
	BackoffCap        = 5 * time.Second
	BackoffMaxRetries = 3

	// HTTPForwardTimeout bounds a non-validator's proxied write request to
	// the current validator, reusing the same retry policy P2P connects
	// use per spec.md §4.6's "Retries" note.
	HTTPForwardTimeout = 10 * time.Second

	// SessionTokenTTL bounds how long a POST /account/login session token
	// keeps its associated secret resolvable before the caller must
	// re-authenticate with the raw secret.
	SessionTokenTTL = 15 * time.Minute

	// KeyCacheSize and KeyCacheTTL bound the process-wide derived-key cache.
	KeyCacheSize = 1000
	KeyCacheTTL  = 300 * time.Second

	// MaxPayloadBytes bounds a single POST /data/submit request body, per
	// spec.md §4.6 step 3 ("reject oversized ... JSON").
	MaxPayloadBytes = 1 << 20 // 1 MiB

	// MaxPayloadDepth bounds how deeply a submitted payload's JSON may
	// nest, per the same step.
	MaxPayloadDepth = 32
)

// Validators is the fixed, ordered proof-of-authority authority set. Index i
// mod len(Validators) names the sole node permitted to mint block i.
var Validators = []string{"Validator_1", "Validator_2"}

// HKDF context tags, domain-separating every derived key from every other.
const (
	HKDFContextSecretHash = "api_key_hash_v2"
	HKDFContextEncryption = "enc_v1"
	HKDFContextMAC        = "mac_v1"
	HKDFContextEnvelope   = "envelope_v1:"

	HKDFIterationsSlow = 100_000
	HKDFIterationsFast = 1_000
)

// Blind-index domain tags.
const (
	BlindIndexContextAccount    = "account_lookup"
	BlindIndexContextCollection = "collection_lookup"
)
