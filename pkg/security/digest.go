package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// KeyedDigest computes HMAC-SHA256 digests over a tuple of values under a server secret.
type KeyedDigest struct {
	secret []byte
}

// NewKeyedDigest constructs a digest keyed by secret.
func NewKeyedDigest(secret string) (*KeyedDigest, error) {
	if secret == "" {
		return nil, errors.New("digest secret missing")
	}
	return &KeyedDigest{secret: []byte(secret)}, nil
}

// Sum returns the hex digest of the parts. Parts are length-prefixed so ("ab","c") and ("a","bc") differ.
func (d *KeyedDigest) Sum(parts ...string) string {
	mac := hmac.New(sha256.New, d.secret)
	for _, p := range parts {
		var n [4]byte
		l := len(p)
		n[0], n[1], n[2], n[3] = byte(l>>24), byte(l>>16), byte(l>>8), byte(l)
		_, _ = mac.Write(n[:])
		_, _ = mac.Write([]byte(p))
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares two hex digests in constant time.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(strings.ToLower(a)), []byte(strings.ToLower(b)))
}
