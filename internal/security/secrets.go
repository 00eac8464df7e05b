package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// NewQRSecret returns a fresh per-session HMAC key: 32 random bytes, hex
// encoded (64 characters, matching the column size).
func NewQRSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate qr secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NewPIN returns a random 6-digit PIN, zero padded.
func NewPIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate pin: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
