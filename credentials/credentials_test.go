package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestDigestIsStableHex(t *testing.T) {
	d := Digest("pw1")
	assert.Len(t, d, 64)
	assert.Equal(t, d, Digest("pw1"))
	assert.NotEqual(t, d, Digest("pw2"))
}

func TestSealAndVerify(t *testing.T) {
	h := Hasher{Cost: bcrypt.MinCost}

	sealed, err := h.Seal(Digest("secret"))
	require.NoError(t, err)
	assert.NotEqual(t, Digest("secret"), sealed)

	assert.True(t, h.Verify(sealed, Digest("secret")))
	assert.False(t, h.Verify(sealed, Digest("other")))
	assert.False(t, h.Verify("not-a-bcrypt-hash", Digest("secret")))
}
