package engine

import (
	"crypto/rand"
	"encoding/base32"
)

// codeEncoding drops the padding; the base32 alphabet is uppercase
// already, which suits codes relayed by humans.
var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// newCode generates an externally visible session code: 10 characters
// of base32 over 50 random bits.
func newCode() string {
	var buf [7]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing means the process environment is broken.
		panic(err)
	}
	return codeEncoding.EncodeToString(buf[:])[:10]
}
