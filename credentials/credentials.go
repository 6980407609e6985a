package credentials

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// Digest is what a client sends instead of the typed password.
func Digest(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Hasher seals client digests for storage. Zero Cost means bcrypt.DefaultCost.
type Hasher struct {
	Cost int
}

func (h Hasher) Seal(digest string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	sealed, err := bcrypt.GenerateFromPassword([]byte(digest), cost)
	if err != nil {
		return "", err
	}
	return string(sealed), nil
}

func (h Hasher) Verify(sealed, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(sealed), []byte(digest)) == nil
}
