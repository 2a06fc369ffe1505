package hash

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
)

// Digest hashes message with the named algorithm. Names follow the
// ISO 18013-5 MSO digestAlgorithm values.
func Digest(message []byte, alg string) ([]byte, error) {
	var hasher hash.Hash
	switch alg {
	case "SHA-256":
		hasher = sha256.New()
	case "SHA-384":
		hasher = sha512.New384()
	case "SHA-512":
		hasher = sha512.New()
	default:
		return nil, fmt.Errorf("unsupported digest algorithm: %s", alg)
	}
	hasher.Write(message)
	return hasher.Sum(nil), nil
}

// SHA256 is the common case.
func SHA256(message []byte) []byte {
	sum := sha256.Sum256(message)
	return sum[:]
}
