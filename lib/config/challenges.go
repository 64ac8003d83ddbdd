package config

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidChallengesConfig = errors.New("config.Challenges: invalid challenge configuration")
	ErrSessionTTLDoesNotParse  = errors.New("config.Challenges: sessionTTL does not parse as a Duration, see https://pkg.go.dev/time#ParseDuration (formatted like 30m -> 30 minutes, 1h -> 1 hour, etc)")
)

// MinChallengeBytes keeps challenge tokens at 128 bits of entropy or more.
const MinChallengeBytes = 16

// MaxDifficulty is the length of a hex SHA-256 digest.
const MaxDifficulty = 64

// Challenges configures the proof-of-work schedule.
type Challenges struct {
	Enabled              bool    `json:"enabled"`
	MinAmount            float64 `json:"minAmount"`
	MaxAmount            float64 `json:"maxAmount"`
	MinRounds            int     `json:"minRounds"`
	MaxRounds            int     `json:"maxRounds"`
	MaxRoundsWithCaptcha int     `json:"maxRoundsWithCaptcha"`
	ChallengeBytes       int     `json:"challengeBytes"`
	Difficulty           int     `json:"difficulty"`
	SessionTTL           string  `json:"sessionTTL"`
}

func (Challenges) Default() Challenges {
	return Challenges{
		Enabled:              true,
		MinAmount:            1,
		MaxAmount:            6000,
		MinRounds:            1,
		MaxRounds:            550,
		MaxRoundsWithCaptcha: 66,
		ChallengeBytes:       2048,
		Difficulty:           4,
		SessionTTL:           "30m",
	}
}

// TTL is the parsed SessionTTL. Only call it on a config that passed Valid.
func (c Challenges) TTL() time.Duration {
	result, err := time.ParseDuration(c.SessionTTL)
	if err != nil {
		return 0
	}
	return result
}

func (c Challenges) Valid() error {
	var errs []error

	if c.MinAmount <= 0 {
		errs = append(errs, fmt.Errorf("%w: minAmount %v must be greater than 0", ErrOutOfRange, c.MinAmount))
	}

	if c.MaxAmount <= 0 {
		errs = append(errs, fmt.Errorf("%w: maxAmount %v must be greater than 0", ErrOutOfRange, c.MaxAmount))
	}

	if c.MaxAmount < c.MinAmount {
		errs = append(errs, fmt.Errorf("%w: maxAmount %v must be greater than or equal to minAmount %v", ErrOutOfRange, c.MaxAmount, c.MinAmount))
	}

	for _, kv := range []struct {
		name  string
		value int
	}{
		{"minRounds", c.MinRounds},
		{"maxRounds", c.MaxRounds},
		{"maxRoundsWithCaptcha", c.MaxRoundsWithCaptcha},
		{"difficulty", c.Difficulty},
	} {
		if kv.value <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s %d must be greater than 0", ErrOutOfRange, kv.name, kv.value))
		}
	}

	if c.MaxRounds < c.MinRounds {
		errs = append(errs, fmt.Errorf("%w: maxRounds %d must be greater than or equal to minRounds %d", ErrOutOfRange, c.MaxRounds, c.MinRounds))
	}

	if c.MaxRoundsWithCaptcha < c.MinRounds {
		errs = append(errs, fmt.Errorf("%w: maxRoundsWithCaptcha %d must be greater than or equal to minRounds %d", ErrOutOfRange, c.MaxRoundsWithCaptcha, c.MinRounds))
	}

	if c.MaxRoundsWithCaptcha > c.MaxRounds {
		errs = append(errs, fmt.Errorf("%w: maxRoundsWithCaptcha %d must be less than or equal to maxRounds %d", ErrOutOfRange, c.MaxRoundsWithCaptcha, c.MaxRounds))
	}

	if c.ChallengeBytes < MinChallengeBytes {
		errs = append(errs, fmt.Errorf("%w: challengeBytes %d must be at least %d", ErrOutOfRange, c.ChallengeBytes, MinChallengeBytes))
	}

	if c.Difficulty > MaxDifficulty {
		errs = append(errs, fmt.Errorf("%w: difficulty %d must be at most %d", ErrOutOfRange, c.Difficulty, MaxDifficulty))
	}

	if ttl, err := time.ParseDuration(c.SessionTTL); err != nil {
		errs = append(errs, fmt.Errorf("%w: ParseDuration(%q) returned: %w", ErrSessionTTLDoesNotParse, c.SessionTTL, err))
	} else if ttl < time.Second {
		errs = append(errs, fmt.Errorf("%w: sessionTTL %s must be at least one second", ErrOutOfRange, ttl))
	}

	if len(errs) != 0 {
		return errors.Join(ErrInvalidChallengesConfig, errors.Join(errs...))
	}

	return nil
}
