// Package pow issues and checks the SHA-256 proof-of-work rounds that gate a
// payout.
package pow

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/mavryk-network/mavryk-faucet-backend/lib/config"
)

var (
	ErrNoRandomness = errors.New("pow: can't read random bytes")
)

// Challenge is one freshly generated round.
type Challenge struct {
	Token          string
	RoundsRequired int
	Difficulty     int
}

// Generator makes tokens and decides how many rounds an amount costs.
type Generator struct {
	rules config.Challenges
	rand  io.Reader
}

// NewGenerator expects rules that passed Valid.
func NewGenerator(rules config.Challenges) *Generator {
	return &Generator{
		rules: rules,
		rand:  rand.Reader,
	}
}

// Create starts a new session worth of rounds for amount.
func (g *Generator) Create(amount float64, captchaUsed bool) (Challenge, error) {
	token, err := g.Token()
	if err != nil {
		return Challenge{}, err
	}

	return Challenge{
		Token:          token,
		RoundsRequired: g.RoundsRequired(amount, captchaUsed),
		Difficulty:     g.rules.Difficulty,
	}, nil
}

// Token is a hex string of the configured number of random bytes.
func (g *Generator) Token() (string, error) {
	buf := make([]byte, g.rules.ChallengeBytes)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoRandomness, err)
	}

	return hex.EncodeToString(buf), nil
}

// Difficulty is the number of leading zero hex digits every round demands.
func (g *Generator) Difficulty() int {
	return g.rules.Difficulty
}

// RoundsRequired scales linearly from MinRounds at MinAmount to the round
// ceiling at MaxAmount, rounding up. Solving a captcha lowers the ceiling.
func (g *Generator) RoundsRequired(amount float64, captchaUsed bool) int {
	minRounds := g.rules.MinRounds
	maxRounds := g.rules.MaxRounds
	if captchaUsed {
		maxRounds = g.rules.MaxRoundsWithCaptcha
	}

	if g.rules.MaxAmount == g.rules.MinAmount {
		return maxRounds
	}

	share := (amount - g.rules.MinAmount) / (g.rules.MaxAmount - g.rules.MinAmount)
	rounds := math.Ceil(share*float64(maxRounds-minRounds) + float64(minRounds))

	switch {
	case math.IsNaN(rounds), rounds < float64(minRounds):
		return minRounds
	case rounds > float64(maxRounds):
		return maxRounds
	default:
		return int(rounds)
	}
}
