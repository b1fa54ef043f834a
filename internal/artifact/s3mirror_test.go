package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	plain := []byte("converted pdf payload")

	sealed, err := seal(plain, "correct horse battery")
	require.NoError(t, err)
	assert.NotEqual(t, plain, sealed)
	// salt(16) + nonce(12) + ciphertext + tag(16)
	assert.Greater(t, len(sealed), len(plain)+16+12)

	got, err := open(sealed, "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestOpenWrongPassphrase(t *testing.T) {
	sealed, err := seal([]byte("data"), "right")
	require.NoError(t, err)

	_, err = open(sealed, "wrong")
	assert.Error(t, err)
}

func TestOpenTruncatedPayload(t *testing.T) {
	_, err := open([]byte("short"), "pass")
	assert.Error(t, err)
}

func TestSealProducesFreshNonce(t *testing.T) {
	a, err := seal([]byte("data"), "pass")
	require.NoError(t, err)
	b, err := seal([]byte("data"), "pass")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
