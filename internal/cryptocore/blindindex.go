package cryptocore

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// BlindIndex computes hex(HMAC-SHA256(user_salt || block_salt, secret_hash
// || "|" || context)). It is deterministic given all four inputs and
// indistinguishable from random without user_salt — which lives encrypted
// inside the envelope — so an outside observer cannot correlate the same
// owner across blocks. secretHashHex is the hex form of HashSecret.
func BlindIndex(secretHashHex, context, userSalt, blockSalt string) string {
	mac := hmac.New(sha256.New, []byte(userSalt+blockSalt))
	mac.Write([]byte(secretHashHex))
	mac.Write([]byte("|"))
	mac.Write([]byte(context))
	return hex.EncodeToString(mac.Sum(nil))
}

// AccountBlindIndex is BlindIndex for the account_lookup context with no
// per-user salt: accounts do not have a per-record salt the way
// collections do (§3), so the user_salt component is the empty string.
func AccountBlindIndex(secretHashHex, blockSalt string) string {
	return BlindIndex(secretHashHex, "account_lookup", "", blockSalt)
}

// CollectionBlindIndex is BlindIndex for the collection_lookup context.
func CollectionBlindIndex(secretHashHex, userSalt, blockSalt string) string {
	return BlindIndex(secretHashHex, "collection_lookup", userSalt, blockSalt)
}

// ConstantTimeEqual compares two byte slices in constant time regardless of
// whether their lengths match, so that a length mismatch cannot be
// distinguished from a content mismatch by timing.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		// Still perform a same-cost comparison against a zero buffer of the
		// longer length so this branch doesn't itself leak length-equality
		// timing beyond what the slice-length check above already does.
		longer := len(a)
		if len(b) > longer {
			longer = len(b)
		}
		zero := make([]byte, longer)
		subtle.ConstantTimeCompare(zero, zero)
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// DummyLookup performs a throwaway hash and comparison with the same cost
// profile as a real HashSecret + ConstantTimeEqual pair, so that an
// "account not found" path takes the same wall-clock time as a "secret
// mismatch" path.
func DummyLookup(secret []byte) bool {
	dummy := HashSecret(secret)
	var zero SecretHash
	return ConstantTimeEqual(dummy[:], zero[:])
}
