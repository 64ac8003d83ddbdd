package config

import (
	"errors"
	"testing"
	"time"
)

func TestChallengesValid(t *testing.T) {
	for _, tt := range []struct {
		name  string
		input func(c *Challenges)
		err   error
	}{
		{
			name:  "defaults",
			input: func(*Challenges) {},
		},
		{
			name: "min equals max",
			input: func(c *Challenges) {
				c.MinAmount = 10
				c.MaxAmount = 10
			},
		},
		{
			name: "zero min amount",
			input: func(c *Challenges) {
				c.MinAmount = 0
			},
			err: ErrOutOfRange,
		},
		{
			name: "max below min",
			input: func(c *Challenges) {
				c.MinAmount = 100
				c.MaxAmount = 10
			},
			err: ErrOutOfRange,
		},
		{
			name: "captcha ceiling below floor",
			input: func(c *Challenges) {
				c.MinRounds = 100
				c.MaxRoundsWithCaptcha = 50
			},
			err: ErrOutOfRange,
		},
		{
			name: "captcha ceiling above the plain ceiling",
			input: func(c *Challenges) {
				c.MaxRounds = 10
				c.MaxRoundsWithCaptcha = 20
			},
			err: ErrOutOfRange,
		},
		{
			name: "captcha ceiling equals the plain ceiling",
			input: func(c *Challenges) {
				c.MaxRounds = 10
				c.MaxRoundsWithCaptcha = 10
			},
		},
		{
			name: "difficulty longer than a digest",
			input: func(c *Challenges) {
				c.Difficulty = 65
			},
			err: ErrOutOfRange,
		},
		{
			name: "short token",
			input: func(c *Challenges) {
				c.ChallengeBytes = 8
			},
			err: ErrOutOfRange,
		},
		{
			name: "bad ttl",
			input: func(c *Challenges) {
				c.SessionTTL = "half an hour"
			},
			err: ErrSessionTTLDoesNotParse,
		},
		{
			name: "tiny ttl",
			input: func(c *Challenges) {
				c.SessionTTL = "10ms"
			},
			err: ErrOutOfRange,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := (Challenges{}).Default()
			tt.input(&c)

			err := c.Valid()
			if !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Fatal("wrong error")
			}

			if tt.err != nil && !errors.Is(err, ErrInvalidChallengesConfig) {
				t.Errorf("error is not tagged with ErrInvalidChallengesConfig: %v", err)
			}
		})
	}
}

func TestChallengesTTL(t *testing.T) {
	if got, want := (Challenges{}).Default().TTL(), 30*time.Minute; got != want {
		t.Errorf("wanted default TTL %s, got: %s", want, got)
	}
}
