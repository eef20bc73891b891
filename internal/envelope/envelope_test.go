package envelope_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilledger/veilledger/internal/cryptocore"
	"github.com/veilledger/veilledger/internal/envelope"
	"github.com/veilledger/veilledger/pkg/ledgertypes"
)

const testBlockSalt = "a3f1c2d4e5b6978812345678deadbeefa3f1c2d4e5b6978812345678deadbeef"

func TestSealAndOpenAccountRoundTrip(t *testing.T) {
	_, priv, err := cryptocore.GenerateSigningKey()
	require.NoError(t, err)
	cache := cryptocore.NewKeyCache()
	secret := []byte("owner secret")
	account := ledgertypes.NewUserAccount(secret, priv, time.Now().Unix(), "")

	env, err := envelope.SealAccount(cache, account, secret, testBlockSalt)
	require.NoError(t, err)
	assert.Equal(t, account.SecretHash, env.OwnerHash)

	opened, err := envelope.OpenAccount(cache, env, secret, testBlockSalt)
	require.NoError(t, err)
	assert.Equal(t, account.AccountID, opened.AccountID)
	assert.True(t, opened.VerifySignature())
}

func TestOpenAccountFailsUnderWrongSecret(t *testing.T) {
	_, priv, err := cryptocore.GenerateSigningKey()
	require.NoError(t, err)
	cache := cryptocore.NewKeyCache()
	secret := []byte("owner secret")
	account := ledgertypes.NewUserAccount(secret, priv, time.Now().Unix(), "")

	env, err := envelope.SealAccount(cache, account, secret, testBlockSalt)
	require.NoError(t, err)

	_, err = envelope.OpenAccount(cache, env, []byte("wrong secret"), testBlockSalt)
	assert.Error(t, err)
}

func TestOpenAccountFailsUnderWrongBlockSalt(t *testing.T) {
	_, priv, err := cryptocore.GenerateSigningKey()
	require.NoError(t, err)
	cache := cryptocore.NewKeyCache()
	secret := []byte("owner secret")
	account := ledgertypes.NewUserAccount(secret, priv, time.Now().Unix(), "")

	env, err := envelope.SealAccount(cache, account, secret, testBlockSalt)
	require.NoError(t, err)

	otherSalt := testBlockSalt[:63] + "0"
	_, err = envelope.OpenAccount(cache, env, secret, otherSalt)
	assert.Error(t, err)
}

func TestContainerSerializationIsDeterministic(t *testing.T) {
	_, priv, err := cryptocore.GenerateSigningKey()
	require.NoError(t, err)
	cache := cryptocore.NewKeyCache()
	secret := []byte("owner secret")
	account := ledgertypes.NewUserAccount(secret, priv, time.Now().Unix(), "")

	env, err := envelope.SealAccount(cache, account, secret, testBlockSalt)
	require.NoError(t, err)
	container := &envelope.Container{
		AccountEnvelopes: []envelope.AccountEnvelope{env},
		Validator:        "Validator_1",
	}

	s1, err := container.Serialize()
	require.NoError(t, err)
	s2, err := container.Serialize()
	require.NoError(t, err)
	assert.Equal(t, s1, s2)

	restored, err := envelope.Deserialize(s1)
	require.NoError(t, err)
	assert.Equal(t, container.Validator, restored.Validator)
	require.Len(t, restored.AccountEnvelopes, 1)
	assert.Equal(t, env.Ciphertext, restored.AccountEnvelopes[0].Ciphertext)
}

func TestFindAccountMatchesOnlyTheOwningSecret(t *testing.T) {
	_, priv, err := cryptocore.GenerateSigningKey()
	require.NoError(t, err)
	cache := cryptocore.NewKeyCache()
	secret := []byte("owner secret")
	account := ledgertypes.NewUserAccount(secret, priv, time.Now().Unix(), "")

	env, err := envelope.SealAccount(cache, account, secret, testBlockSalt)
	require.NoError(t, err)
	container := &envelope.Container{AccountEnvelopes: []envelope.AccountEnvelope{env}}

	found, ok := envelope.FindAccount(cache, container, secret, testBlockSalt)
	require.True(t, ok)
	assert.Equal(t, account.AccountID, found.AccountID)

	_, ok = envelope.FindAccount(cache, container, []byte("someone else"), testBlockSalt)
	assert.False(t, ok)
}
