package webhooks

import (
	"crypto/hmac"
	"crypto/sha1" // #nosec G505 - SHA1 kept for compatibility with legacy webhook consumers
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ComputeSignature returns the hex-encoded HMAC of payload under
// secret. Algorithm is one of sha1, sha256, sha512; empty defaults to
// sha256. The payload must be the exact outgoing request body: when
// compression is enabled the signature covers the compressed bytes.
func ComputeSignature(payload []byte, secret, algorithm string) (string, error) {
	var newHash func() hash.Hash

	switch algorithm {
	case "sha1":
		newHash = sha1.New
	case "", "sha256":
		newHash = sha256.New
	case "sha512":
		newHash = sha512.New
	default:
		return "", fmt.Errorf("unsupported signature algorithm: %s", algorithm)
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature recomputes the signature and compares in constant
// time. Intended for consumers validating inbound deliveries.
func VerifySignature(payload []byte, secret, algorithm, signature string) bool {
	expected, err := ComputeSignature(payload, secret, algorithm)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}

// BuildJWT mints a short-lived HS256 token identifying the delivery.
// Consumers validate it with the shared secret instead of checking a
// body signature.
func BuildJWT(secret, issuer, eventID, subscriptionID string, now time.Time) (string, error) {
	if issuer == "" {
		issuer = "eventcore"
	}

	claims := jwt.MapClaims{
		"iss": issuer,
		"sub": subscriptionID,
		"jti": eventID,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing delivery token: %w", err)
	}
	return signed, nil
}
