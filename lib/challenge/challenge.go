// Package challenge runs the per-address challenge protocol: issue rounds,
// check solutions, and hand out exactly one claim once every round is solved.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mavryk-network/mavryk-faucet-backend"
	"github.com/mavryk-network/mavryk-faucet-backend/internal"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/pow"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ErrNoChallenge        = errors.New("challenge: no active challenge for this address")
	ErrIncorrectSolution  = errors.New("challenge: incorrect solution")
	ErrAlreadyClaimed     = errors.New("challenge: session was already claimed")
	ErrStoreUnavailable   = errors.New("challenge: session store unavailable")
	ErrCantCreateSession  = errors.New("challenge: can't create session")
	ErrInvalidAmountInput = errors.New("challenge: amount must be greater than 0")
)

var (
	sessionsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mavryk",
		Subsystem: "faucet",
		Name:      "challenge_sessions",
		Help:      "Challenge requests by whether a session was created or reused",
	}, []string{"result"})

	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mavryk",
		Subsystem: "faucet",
		Name:      "challenge_submissions",
		Help:      "Challenge solutions by result",
	}, []string{"result"})
)

// Round is one unit of work handed to a client.
type Round struct {
	Token          string
	Counter        int
	RoundsRequired int
	Difficulty     int
}

// Result is the outcome of a correct submission. Exactly one of Claimed and
// Next is meaningful.
type Result struct {
	Claimed bool
	Amount  float64
	Next    Round
}

// Service is stateless: everything lives in the store. Concurrent
// submissions for one address are ordered by the store's conditional write on
// the round token and by its Delete for the claim.
type Service struct {
	gen   *pow.Generator
	store store.Interface
	ttl   time.Duration
	now   func() time.Time
}

// New creates a Service. A zero ttl uses faucet.DefaultSessionTTL.
func New(gen *pow.Generator, st store.Interface, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = faucet.DefaultSessionTTL
	}

	return &Service{
		gen:   gen,
		store: st,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Key is where the session of identity lives.
func Key(identity string) string {
	return faucet.ChallengeKeyPrefix + ":" + identity
}

// Request returns the round identity should work on for amount. An existing
// session for the same amount is returned untouched. Any other amount, or no
// session at all, starts over at round one.
func (s *Service) Request(ctx context.Context, identity string, amount float64, captchaUsed bool) (Round, error) {
	lg := internal.GetLogger(ctx).With("address", identity)

	if amount <= 0 {
		return Round{}, fmt.Errorf("%w: got %v", ErrInvalidAmountInput, amount)
	}

	sess, err := s.load(ctx, identity)
	switch {
	case err == nil && sess.Amount == amount:
		sessionsIssued.WithLabelValues("reused").Inc()
		lg.Debug("reusing challenge session", "session", sess.ID, "counter", sess.RoundsCompleted)
		return sess.Round(), nil
	case err == nil, errors.Is(err, ErrNoChallenge):
	case errors.Is(err, ErrCorruptSession):
		lg.Warn("replacing undecodable challenge session", "err", err)
	default:
		return Round{}, err
	}

	chall, err := s.gen.Create(amount, captchaUsed)
	if err != nil {
		return Round{}, fmt.Errorf("%w: %w", ErrCantCreateSession, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Round{}, fmt.Errorf("%w: %w", ErrCantCreateSession, err)
	}

	sess = Session{
		ID:              id.String(),
		Amount:          amount,
		Token:           chall.Token,
		Difficulty:      chall.Difficulty,
		RoundsRequired:  chall.RoundsRequired,
		RoundsCompleted: 1,
		CaptchaUsed:     captchaUsed,
		IssuedAt:        s.now(),
	}

	if err := s.save(ctx, identity, sess); err != nil {
		return Round{}, err
	}

	sessionsIssued.WithLabelValues("created").Inc()
	lg.Info("created challenge session", "session", sess.ID, "rounds", sess.RoundsRequired, "captcha", captchaUsed)

	return sess.Round(), nil
}

// Submit checks a solution for the current round of identity. A correct
// solution either advances the session or, on the final round, claims it.
// Only the caller whose Delete removes the session gets Claimed.
func (s *Service) Submit(ctx context.Context, identity, nonce, solution string) (Result, error) {
	lg := internal.GetLogger(ctx).With("address", identity)

	sess, err := s.load(ctx, identity)
	switch {
	case err == nil:
	case errors.Is(err, ErrCorruptSession):
		lg.Warn("can't decode challenge session", "err", err)
		submissions.WithLabelValues("no_challenge").Inc()
		return Result{}, fmt.Errorf("%w: %w", ErrNoChallenge, err)
	default:
		if errors.Is(err, ErrNoChallenge) {
			submissions.WithLabelValues("no_challenge").Inc()
		}
		return Result{}, err
	}

	lg = lg.With("session", sess.ID, "counter", sess.RoundsCompleted)

	if !pow.Verify(sess.Token, nonce, sess.Difficulty, solution) {
		submissions.WithLabelValues("incorrect").Inc()
		lg.Debug("incorrect solution")
		return Result{}, ErrIncorrectSolution
	}

	if sess.RoundsCompleted < sess.RoundsRequired {
		token, err := s.gen.Token()
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrCantCreateSession, err)
		}

		solved := sess.Token
		sess.Token = token
		sess.RoundsCompleted++

		// Only the round that was solved may move forward. A duplicate of this
		// submission, or one racing the final claim, finds the token changed
		// or the session gone.
		if err := s.advance(ctx, identity, solved, sess); err != nil {
			switch {
			case errors.Is(err, ErrNoChallenge):
				submissions.WithLabelValues("no_challenge").Inc()
			case errors.Is(err, ErrIncorrectSolution):
				submissions.WithLabelValues("stale").Inc()
			}
			lg.Debug("can't advance session", "err", err)
			return Result{}, err
		}

		submissions.WithLabelValues("advanced").Inc()
		lg.Debug("round solved", "next", sess.RoundsCompleted, "of", sess.RoundsRequired)

		return Result{Next: sess.Round()}, nil
	}

	switch err := s.store.Delete(ctx, Key(identity)); {
	case err == nil:
		submissions.WithLabelValues("claimed").Inc()
		lg.Info("challenge session claimed", "amount", sess.Amount)
		return Result{Claimed: true, Amount: sess.Amount}, nil
	case errors.Is(err, store.ErrNotFound):
		submissions.WithLabelValues("already_claimed").Inc()
		lg.Info("lost the race to claim a session")
		return Result{}, ErrAlreadyClaimed
	default:
		submissions.WithLabelValues("store_error").Inc()
		lg.Error("can't claim challenge session", "err", err)
		return Result{}, fmt.Errorf("%w: claim: %w", ErrStoreUnavailable, err)
	}
}

func (s *Service) load(ctx context.Context, identity string) (Session, error) {
	fields, err := s.store.GetFields(ctx, Key(identity))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return Session{}, ErrNoChallenge
	case err != nil:
		return Session{}, fmt.Errorf("%w: read: %w", ErrStoreUnavailable, err)
	}

	return sessionFromFields(fields)
}

// advance stores sess only if the session still holds the token that was
// just solved.
func (s *Service) advance(ctx context.Context, identity, solved string, sess Session) error {
	if err := sess.Valid(); err != nil {
		return err
	}

	switch err := s.store.SetFieldsIf(ctx, Key(identity), fieldToken, solved, sess.fields(), s.ttl); {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNoChallenge
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: round already solved", ErrIncorrectSolution)
	default:
		return fmt.Errorf("%w: write: %w", ErrStoreUnavailable, err)
	}
}

func (s *Service) save(ctx context.Context, identity string, sess Session) error {
	if err := sess.Valid(); err != nil {
		return err
	}

	if err := s.store.SetFields(ctx, Key(identity), sess.fields(), s.ttl); err != nil {
		return fmt.Errorf("%w: write: %w", ErrStoreUnavailable, err)
	}

	return nil
}
