package pow

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidNonce = errors.New("pow: nonce must be an integer")
	ErrNoSolution   = errors.New("pow: search space exhausted without a solution")
)

// Hash is the hex SHA-256 digest of token and nonce joined by a colon.
func Hash(token, nonce string) string {
	sum := sha256.Sum256([]byte(token + ":" + nonce))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether solution is the hash of token and nonce, and that
// hash starts with difficulty '0' hex digits. A difficulty of 0 only requires
// the hash to match. Verify never errors: a wrong solution is just false.
func Verify(token, nonce string, difficulty int, solution string) bool {
	if difficulty < 0 {
		return false
	}

	hash := Hash(token, nonce)

	if subtle.ConstantTimeCompare([]byte(hash), []byte(solution)) != 1 {
		return false
	}

	return hasLeadingZeroNibbles(hash, difficulty)
}

// hasLeadingZeroNibbles checks if the first n hex digits of a hex string are '0'.
func hasLeadingZeroNibbles(hash string, n int) bool {
	if n > len(hash) {
		return false
	}

	return strings.Count(hash[:n], "0") == n
}

// ValidateNonce checks that a client supplied nonce is a base-10 integer.
// The nonce is hashed exactly as the client sent it, so it is not normalized.
func ValidateNonce(raw string) error {
	if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidNonce, raw)
	}

	return nil
}

// Solve searches nonces from 0 upwards until one satisfies difficulty. It is
// what an honest client does, and what tests use to drive the protocol.
func Solve(ctx context.Context, token string, difficulty int) (nonce, solution string, err error) {
	prefix := strings.Repeat("0", difficulty)

	for i := int64(0); i >= 0; i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return "", "", err
			}
		}

		nonce = strconv.FormatInt(i, 10)
		hash := Hash(token, nonce)
		if strings.HasPrefix(hash, prefix) {
			return nonce, hash, nil
		}
	}

	return "", "", ErrNoSolution
}
