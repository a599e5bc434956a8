package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// SecretBytes is the entropy of a generated terminal secret.
const SecretBytes = 32

var (
	// ErrSignatureMismatch signals a well-formed signature that does not match.
	ErrSignatureMismatch = fmt.Errorf("signature mismatch")
	// ErrTimestampSkew signals a timestamp outside the accepted window.
	ErrTimestampSkew = fmt.Errorf("timestamp outside accepted window")
)

// GenerateSecret returns a random hex encoded secret of SecretBytes bytes.
func GenerateSecret() (string, error) {
	buf := make([]byte, SecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SignRequest computes the hex HMAC-SHA256 of method, path, timestamp and body.
func SignRequest(secret, method, path, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyRequest checks a terminal signature in constant time.
func VerifyRequest(secret, method, path, timestamp string, body []byte, signature string) error {
	expected := SignRequest(secret, method, path, timestamp, body)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

// CheckTimestamp parses unix seconds and rejects values further than window
// from now in either direction.
func CheckTimestamp(raw string, now time.Time, window time.Duration) (time.Time, error) {
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
	}
	ts := time.Unix(seconds, 0)
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > window {
		return ts, ErrTimestampSkew
	}
	return ts, nil
}
