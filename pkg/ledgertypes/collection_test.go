package ledgertypes_test

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilledger/veilledger/internal/cryptocore"
	"github.com/veilledger/veilledger/pkg/ledgertypes"
)

func TestNewEncryptedCollectionRoundTrip(t *testing.T) {
	_, priv, err := cryptocore.GenerateSigningKey()
	require.NoError(t, err)

	secret := []byte("owner secret")
	secretHash := cryptocore.HashSecret(secret)
	secretHashHex := hex.EncodeToString(secretHash[:])

	col, err := ledgertypes.NewEncryptedCollection("My Label", `{"value":42}`, secret, secretHashHex, priv)
	require.NoError(t, err)
	require.NoError(t, col.Validate())

	assert.True(t, col.VerifySignature())
	assert.True(t, col.VerifyMAC(secret))

	label, _, err := col.DecryptMetadata(secret)
	require.NoError(t, err)
	assert.Equal(t, "My Label", label)

	payload, err := col.DecryptPayload(secret)
	require.NoError(t, err)
	assert.Equal(t, `{"value":42}`, payload)
}

func TestEncryptedCollectionUserSaltsDiffer(t *testing.T) {
	_, priv, err := cryptocore.GenerateSigningKey()
	require.NoError(t, err)

	secret := []byte("owner secret")
	secretHash := cryptocore.HashSecret(secret)
	secretHashHex := hex.EncodeToString(secretHash[:])

	c1, err := ledgertypes.NewEncryptedCollection("A", "x", secret, secretHashHex, priv)
	require.NoError(t, err)
	c2, err := ledgertypes.NewEncryptedCollection("B", "y", secret, secretHashHex, priv)
	require.NoError(t, err)

	assert.NotEqual(t, c1.UserSalt, c2.UserSalt)
}

func TestEncryptedCollectionWrongSecretFailsMAC(t *testing.T) {
	_, priv, err := cryptocore.GenerateSigningKey()
	require.NoError(t, err)

	secret := []byte("owner secret")
	secretHash := cryptocore.HashSecret(secret)
	secretHashHex := hex.EncodeToString(secretHash[:])

	col, err := ledgertypes.NewEncryptedCollection("Label", "payload", secret, secretHashHex, priv)
	require.NoError(t, err)

	assert.False(t, col.VerifyMAC([]byte("wrong secret")))
}
