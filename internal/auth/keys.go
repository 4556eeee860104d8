// Package auth issues and verifies hashed bearer keys and provides the
// HTTP middleware gate.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// KeyPrefix is the literal prefix on every issued key.
	KeyPrefix = "trak_"

	// keyAlphabet is the token alphabet. 36 symbols; random bytes are
	// drawn with rejection sampling so each symbol is equally likely.
	keyAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

	// keyLength is the number of random characters after the prefix.
	keyLength = 32
)

// maxAcceptedByte is the largest byte value accepted by rejection
// sampling: floor(256/36)*36 - 1. Bytes above it would bias the low end
// of the alphabet under plain modulo reduction.
const maxAcceptedByte = (256/len(keyAlphabet))*len(keyAlphabet) - 1

// GenerateKey returns a fresh plaintext API key.
func GenerateKey() (string, error) {
	var b strings.Builder
	b.WriteString(KeyPrefix)

	buf := make([]byte, 64)
	for b.Len() < len(KeyPrefix)+keyLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, c := range buf {
			if int(c) > maxAcceptedByte {
				continue
			}
			b.WriteByte(keyAlphabet[int(c)%len(keyAlphabet)])
			if b.Len() == len(KeyPrefix)+keyLength {
				break
			}
		}
	}
	return b.String(), nil
}

// HashKey returns the hex SHA-256 digest of a plaintext key. This is the
// only form in which keys are persisted.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// ValidKeyFormat reports whether plaintext has the issued shape: the
// prefix followed by exactly 32 lowercase alphanumerics. Checking the
// shape first keeps junk tokens away from the database.
func ValidKeyFormat(plaintext string) bool {
	if !strings.HasPrefix(plaintext, KeyPrefix) {
		return false
	}
	body := plaintext[len(KeyPrefix):]
	if len(body) != keyLength {
		return false
	}
	for _, c := range body {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
