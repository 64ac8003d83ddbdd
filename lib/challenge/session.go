package challenge

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrInvalidSession = errors.New("challenge.Session: invalid session")
	ErrCorruptSession = errors.New("challenge.Session: stored session does not decode")
)

// Store field names. They match what earlier faucet deployments wrote so a
// shared store can be upgraded in place.
const (
	fieldID              = "id"
	fieldAmount          = "amount"
	fieldToken           = "challenge"
	fieldDifficulty      = "difficulty"
	fieldRoundsRequired  = "challengesNeeded"
	fieldRoundsCompleted = "challengeCounter"
	fieldCaptchaUsed     = "usedCaptcha"
	fieldIssuedAt        = "issuedAt"
)

// Session is the per-address progress through a multi-round challenge.
type Session struct {
	ID              string    // UUID, only used to correlate log lines
	Amount          float64   // Amount the session was priced for
	Token           string    // Token of the current round
	Difficulty      int       // Leading zero hex digits every round needs
	RoundsRequired  int       // Rounds to solve before the payout
	RoundsCompleted int       // 1-based index of the current round
	CaptchaUsed     bool      // Whether a captcha lowered RoundsRequired
	IssuedAt        time.Time // When the session was created
}

// Valid checks the session before it is persisted. A failure is a bug in the
// caller, never a client error.
func (s Session) Valid() error {
	var errs []error

	if s.Token == "" {
		errs = append(errs, errors.New("token is empty"))
	}

	if s.Amount <= 0 {
		errs = append(errs, fmt.Errorf("amount %v must be greater than 0", s.Amount))
	}

	if s.Difficulty < 0 {
		errs = append(errs, fmt.Errorf("difficulty %d must not be negative", s.Difficulty))
	}

	if s.RoundsRequired < 1 {
		errs = append(errs, fmt.Errorf("roundsRequired %d must be at least 1", s.RoundsRequired))
	}

	if s.RoundsCompleted < 1 || s.RoundsCompleted > s.RoundsRequired {
		errs = append(errs, fmt.Errorf("roundsCompleted %d must be between 1 and %d", s.RoundsCompleted, s.RoundsRequired))
	}

	if len(errs) != 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSession, errors.Join(errs...))
	}

	return nil
}

// Round is what a client needs to solve next.
func (s Session) Round() Round {
	return Round{
		Token:          s.Token,
		Counter:        s.RoundsCompleted,
		RoundsRequired: s.RoundsRequired,
		Difficulty:     s.Difficulty,
	}
}

func (s Session) fields() map[string]string {
	return map[string]string{
		fieldID:              s.ID,
		fieldAmount:          strconv.FormatFloat(s.Amount, 'f', -1, 64),
		fieldToken:           s.Token,
		fieldDifficulty:      strconv.Itoa(s.Difficulty),
		fieldRoundsRequired:  strconv.Itoa(s.RoundsRequired),
		fieldRoundsCompleted: strconv.Itoa(s.RoundsCompleted),
		fieldCaptchaUsed:     strconv.FormatBool(s.CaptchaUsed),
		fieldIssuedAt:        s.IssuedAt.UTC().Format(time.RFC3339),
	}
}

func sessionFromFields(fields map[string]string) (Session, error) {
	var (
		result Session
		errs   []error
		err    error
	)

	get := func(name string) string {
		val, ok := fields[name]
		if !ok {
			errs = append(errs, fmt.Errorf("field %q is missing", name))
		}
		return val
	}

	atoi := func(name string) int {
		val, err := strconv.Atoi(get(name))
		if err != nil {
			errs = append(errs, fmt.Errorf("field %q: %w", name, err))
		}
		return val
	}

	result.Token = get(fieldToken)
	result.Difficulty = atoi(fieldDifficulty)
	result.RoundsRequired = atoi(fieldRoundsRequired)
	result.RoundsCompleted = atoi(fieldRoundsCompleted)

	if result.Amount, err = strconv.ParseFloat(get(fieldAmount), 64); err != nil {
		errs = append(errs, fmt.Errorf("field %q: %w", fieldAmount, err))
	}

	// Older writers only stored the token and counters.
	result.ID = fields[fieldID]
	result.CaptchaUsed = fields[fieldCaptchaUsed] == "true"
	if ts, ok := fields[fieldIssuedAt]; ok {
		if result.IssuedAt, err = time.Parse(time.RFC3339, ts); err != nil {
			errs = append(errs, fmt.Errorf("field %q: %w", fieldIssuedAt, err))
		}
	}

	if len(errs) != 0 {
		return Session{}, fmt.Errorf("%w: %w", ErrCorruptSession, errors.Join(errs...))
	}

	if err := result.Valid(); err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrCorruptSession, err)
	}

	return result, nil
}
