package descriptor

import (
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160"
)

// hash160 is RIPEMD160(SHA256(buf)), the identity hash used for both keys
// and redeem scripts.
func hash160(buf []byte) []byte {
	sha := sha256.Sum256(buf)
	hasher := ripemd160.New()
	hasher.Write(sha[:])
	return hasher.Sum(nil)
}
