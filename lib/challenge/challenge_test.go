package challenge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mavryk-network/mavryk-faucet-backend/lib/config"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/pow"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/store"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/store/memory"
)

const testAddress = "mv1AF3Fwkfw53kvveBdKYz3sgucqnKYfyiwJ"

func testRules() config.Challenges {
	rules := (config.Challenges{}).Default()
	rules.MinAmount = 1
	rules.MaxAmount = 10
	rules.MinRounds = 1
	rules.MaxRounds = 3
	rules.MaxRoundsWithCaptcha = 2
	rules.ChallengeBytes = config.MinChallengeBytes
	rules.Difficulty = 1
	return rules
}

// hookStore lets a test intercept individual store calls.
type hookStore struct {
	store.Interface
	setFields   func(ctx context.Context, key string, fields map[string]string, expiry time.Duration) error
	setFieldsIf func(ctx context.Context, key, field, want string, fields map[string]string, expiry time.Duration) error
	getFields   func(ctx context.Context, key string) (map[string]string, error)
	delete      func(ctx context.Context, key string) error
	writes      atomic.Int32
}

func (h *hookStore) SetFields(ctx context.Context, key string, fields map[string]string, expiry time.Duration) error {
	h.writes.Add(1)
	if h.setFields != nil {
		return h.setFields(ctx, key, fields, expiry)
	}
	return h.Interface.SetFields(ctx, key, fields, expiry)
}

func (h *hookStore) SetFieldsIf(ctx context.Context, key, field, want string, fields map[string]string, expiry time.Duration) error {
	h.writes.Add(1)
	if h.setFieldsIf != nil {
		return h.setFieldsIf(ctx, key, field, want, fields, expiry)
	}
	return h.Interface.SetFieldsIf(ctx, key, field, want, fields, expiry)
}

func (h *hookStore) GetFields(ctx context.Context, key string) (map[string]string, error) {
	if h.getFields != nil {
		return h.getFields(ctx, key)
	}
	return h.Interface.GetFields(ctx, key)
}

func (h *hookStore) Delete(ctx context.Context, key string) error {
	if h.delete != nil {
		return h.delete(ctx, key)
	}
	return h.Interface.Delete(ctx, key)
}

func newTestService(t *testing.T) (*Service, *hookStore) {
	t.Helper()

	st := &hookStore{Interface: memory.New(t.Context())}
	return New(pow.NewGenerator(testRules()), st, time.Minute), st
}

func solve(t *testing.T, r Round) (string, string) {
	t.Helper()

	nonce, solution, err := pow.Solve(t.Context(), r.Token, r.Difficulty)
	if err != nil {
		t.Fatal(err)
	}

	return nonce, solution
}

func TestFullProtocol(t *testing.T) {
	svc, _ := newTestService(t)

	round, err := svc.Request(t.Context(), testAddress, 10, false)
	if err != nil {
		t.Fatal(err)
	}

	if round.Counter != 1 || round.RoundsRequired != 3 {
		t.Fatalf("wrong first round: %+v", round)
	}

	var lastNonce, lastSolution string

	for i := 1; i < round.RoundsRequired; i++ {
		lastNonce, lastSolution = solve(t, round)

		res, err := svc.Submit(t.Context(), testAddress, lastNonce, lastSolution)
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}

		if res.Claimed {
			t.Fatalf("claimed early on round %d", i)
		}

		if res.Next.Counter != i+1 || res.Next.RoundsRequired != round.RoundsRequired {
			t.Fatalf("wrong next round after %d: %+v", i, res.Next)
		}

		if res.Next.Token == round.Token {
			t.Fatal("token was not rotated")
		}

		round = res.Next
	}

	// A solution for an earlier token is not accepted for the new one.
	if _, err := svc.Submit(t.Context(), testAddress, lastNonce, lastSolution); !errors.Is(err, ErrIncorrectSolution) {
		t.Errorf("replayed solution: wanted ErrIncorrectSolution, got: %v", err)
	}

	nonce, solution := solve(t, round)
	res, err := svc.Submit(t.Context(), testAddress, nonce, solution)
	if err != nil {
		t.Fatal(err)
	}

	if !res.Claimed || res.Amount != 10 {
		t.Fatalf("final round did not claim: %+v", res)
	}

	if _, err := svc.Submit(t.Context(), testAddress, nonce, solution); !errors.Is(err, ErrNoChallenge) {
		t.Errorf("replayed claim: wanted ErrNoChallenge, got: %v", err)
	}
}

func TestRequestReusesSession(t *testing.T) {
	svc, st := newTestService(t)

	first, err := svc.Request(t.Context(), testAddress, 5, false)
	if err != nil {
		t.Fatal(err)
	}

	second, err := svc.Request(t.Context(), testAddress, 5, true)
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		t.Errorf("same amount did not reuse the session: %+v != %+v", first, second)
	}

	if n := st.writes.Load(); n != 1 {
		t.Errorf("reusing a session wrote to the store, writes: %d", n)
	}

	third, err := svc.Request(t.Context(), testAddress, 7, false)
	if err != nil {
		t.Fatal(err)
	}

	if third.Token == first.Token || third.Counter != 1 {
		t.Errorf("new amount did not start over: %+v", third)
	}
}

func TestRequestCaptchaLowersRounds(t *testing.T) {
	svc, _ := newTestService(t)

	round, err := svc.Request(t.Context(), testAddress, 10, true)
	if err != nil {
		t.Fatal(err)
	}

	if round.RoundsRequired != 2 {
		t.Errorf("wanted 2 rounds with a captcha, got: %d", round.RoundsRequired)
	}
}

func TestRequestBadAmount(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Request(t.Context(), testAddress, 0, false); !errors.Is(err, ErrInvalidAmountInput) {
		t.Errorf("wanted ErrInvalidAmountInput, got: %v", err)
	}
}

func TestSubmitWithoutSession(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Submit(t.Context(), testAddress, "1", "00"); !errors.Is(err, ErrNoChallenge) {
		t.Errorf("wanted ErrNoChallenge, got: %v", err)
	}
}

func TestIncorrectSolutionDoesNotMutate(t *testing.T) {
	svc, st := newTestService(t)

	round, err := svc.Request(t.Context(), testAddress, 10, false)
	if err != nil {
		t.Fatal(err)
	}

	before, err := st.GetFields(t.Context(), Key(testAddress))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Submit(t.Context(), testAddress, "1", pow.Hash("wrong", "1")); !errors.Is(err, ErrIncorrectSolution) {
		t.Fatalf("wanted ErrIncorrectSolution, got: %v", err)
	}

	after, err := st.GetFields(t.Context(), Key(testAddress))
	if err != nil {
		t.Fatal(err)
	}

	if before[fieldToken] != after[fieldToken] || before[fieldRoundsCompleted] != after[fieldRoundsCompleted] {
		t.Errorf("wrong solution changed the session: %v -> %v", before, after)
	}

	// The round is still solvable after a miss.
	nonce, solution := solve(t, round)
	if _, err := svc.Submit(t.Context(), testAddress, nonce, solution); err != nil {
		t.Errorf("correct solution after a miss failed: %v", err)
	}
}

func TestConcurrentFinalSubmissions(t *testing.T) {
	svc, _ := newTestService(t)

	round, err := svc.Request(t.Context(), testAddress, 1, false)
	if err != nil {
		t.Fatal(err)
	}

	if round.RoundsRequired != 1 {
		t.Fatalf("wanted a single round, got: %d", round.RoundsRequired)
	}

	nonce, solution := solve(t, round)

	const workers = 16
	var (
		claims atomic.Int32
		wg     sync.WaitGroup
		start  = make(chan struct{})
	)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			res, err := svc.Submit(t.Context(), testAddress, nonce, solution)
			switch {
			case err == nil && res.Claimed:
				claims.Add(1)
			case errors.Is(err, ErrAlreadyClaimed), errors.Is(err, ErrNoChallenge):
			default:
				t.Errorf("unexpected result: %+v, %v", res, err)
			}
		}()
	}

	close(start)
	wg.Wait()

	if n := claims.Load(); n != 1 {
		t.Errorf("wanted exactly one claim, got: %d", n)
	}
}

func TestStaleAdvanceCannotResurrect(t *testing.T) {
	svc, st := newTestService(t)

	round, err := svc.Request(t.Context(), testAddress, 5, false)
	if err != nil {
		t.Fatal(err)
	}

	if round.RoundsRequired != 2 {
		t.Fatalf("wanted two rounds, got: %d", round.RoundsRequired)
	}

	nonce, solution := solve(t, round)

	// Both copies of the submission read round one before either writes.
	var (
		reads   atomic.Int32
		barrier sync.WaitGroup
	)
	barrier.Add(2)
	st.getFields = func(ctx context.Context, key string) (map[string]string, error) {
		fields, err := st.Interface.GetFields(ctx, key)
		if reads.Add(1) <= 2 {
			barrier.Done()
			barrier.Wait()
		}
		return fields, err
	}

	// The second write is held back until the first copy has claimed.
	var advances atomic.Int32
	held := make(chan struct{})
	release := make(chan struct{})
	st.setFieldsIf = func(ctx context.Context, key, field, want string, fields map[string]string, expiry time.Duration) error {
		if advances.Add(1) == 2 {
			close(held)
			<-release
		}
		return st.Interface.SetFieldsIf(ctx, key, field, want, fields, expiry)
	}

	type outcome struct {
		res Result
		err error
	}
	results := make(chan outcome, 2)

	for range 2 {
		go func() {
			res, err := svc.Submit(t.Context(), testAddress, nonce, solution)
			results <- outcome{res, err}
		}()
	}

	fast := <-results
	if fast.err != nil || fast.res.Claimed {
		t.Fatalf("first copy did not advance: %+v, %v", fast.res, fast.err)
	}
	<-held

	nonce, solution = solve(t, fast.res.Next)
	final, err := svc.Submit(t.Context(), testAddress, nonce, solution)
	if err != nil || !final.Claimed {
		t.Fatalf("final round did not claim: %+v, %v", final, err)
	}

	close(release)

	stale := <-results
	if !errors.Is(stale.err, ErrNoChallenge) {
		t.Errorf("stale copy: wanted ErrNoChallenge, got: %+v, %v", stale.res, stale.err)
	}

	if _, err := st.Interface.GetFields(t.Context(), Key(testAddress)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("claimed session came back: %v", err)
	}

	// Nothing is left to claim a second time.
	if _, err := svc.Submit(t.Context(), testAddress, nonce, solution); !errors.Is(err, ErrNoChallenge) {
		t.Errorf("second claim: wanted ErrNoChallenge, got: %v", err)
	}
}

func TestDuplicateAdvanceIsRejected(t *testing.T) {
	svc, st := newTestService(t)

	round, err := svc.Request(t.Context(), testAddress, 10, false)
	if err != nil {
		t.Fatal(err)
	}

	nonce, solution := solve(t, round)

	// Both copies read the same round, then write one after the other.
	var (
		reads   atomic.Int32
		barrier sync.WaitGroup
	)
	barrier.Add(2)
	st.getFields = func(ctx context.Context, key string) (map[string]string, error) {
		fields, err := st.Interface.GetFields(ctx, key)
		if reads.Add(1) <= 2 {
			barrier.Done()
			barrier.Wait()
		}
		return fields, err
	}

	var (
		advanced atomic.Int32
		stale    atomic.Int32
		wg       sync.WaitGroup
	)

	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch _, err := svc.Submit(t.Context(), testAddress, nonce, solution); {
			case err == nil:
				advanced.Add(1)
			case errors.Is(err, ErrIncorrectSolution):
				stale.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if advanced.Load() != 1 || stale.Load() != 1 {
		t.Errorf("wanted one advance and one stale copy, got %d and %d", advanced.Load(), stale.Load())
	}

	fields, err := st.Interface.GetFields(t.Context(), Key(testAddress))
	if err != nil {
		t.Fatal(err)
	}

	if fields[fieldRoundsCompleted] != "2" {
		t.Errorf("session advanced twice: %v", fields)
	}
}

func TestStoreFailures(t *testing.T) {
	boom := errors.New("connection refused")

	for _, tt := range []struct {
		name  string
		setup func(h *hookStore)
		doer  func(t *testing.T, svc *Service, round Round) error
		err   error
	}{
		{
			name: "read fails on request",
			setup: func(h *hookStore) {
				h.getFields = func(context.Context, string) (map[string]string, error) { return nil, boom }
			},
			doer: func(t *testing.T, svc *Service, _ Round) error {
				_, err := svc.Request(t.Context(), testAddress, 1, false)
				return err
			},
			err: ErrStoreUnavailable,
		},
		{
			name: "read fails on submit",
			setup: func(h *hookStore) {
				h.getFields = func(context.Context, string) (map[string]string, error) { return nil, boom }
			},
			doer: func(t *testing.T, svc *Service, round Round) error {
				nonce, solution := solve(t, round)
				_, err := svc.Submit(t.Context(), testAddress, nonce, solution)
				return err
			},
			err: ErrStoreUnavailable,
		},
		{
			name: "write fails on request",
			setup: func(h *hookStore) {
				h.setFields = func(context.Context, string, map[string]string, time.Duration) error { return boom }
			},
			doer: func(t *testing.T, svc *Service, _ Round) error {
				_, err := svc.Request(t.Context(), testAddress, 2, false)
				return err
			},
			err: ErrStoreUnavailable,
		},
		{
			name: "write fails on advance",
			setup: func(h *hookStore) {
				h.setFieldsIf = func(context.Context, string, string, string, map[string]string, time.Duration) error { return boom }
			},
			doer: func(t *testing.T, svc *Service, _ Round) error {
				round, err := svc.Request(t.Context(), testAddress, 5, false)
				if err != nil {
					return err
				}
				nonce, solution := solve(t, round)
				_, err = svc.Submit(t.Context(), testAddress, nonce, solution)
				return err
			},
			err: ErrStoreUnavailable,
		},
		{
			name: "delete fails on claim",
			setup: func(h *hookStore) {
				h.delete = func(context.Context, string) error { return boom }
			},
			doer: func(t *testing.T, svc *Service, round Round) error {
				nonce, solution := solve(t, round)
				res, err := svc.Submit(t.Context(), testAddress, nonce, solution)
				if res.Claimed {
					t.Error("a failed delete authorized a payout")
				}
				return err
			},
			err: ErrStoreUnavailable,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			svc, st := newTestService(t)

			// amount 1 is a single round, so the first solution is final.
			round, err := svc.Request(t.Context(), testAddress, 1, false)
			if err != nil {
				t.Fatal(err)
			}

			tt.setup(st)

			if err := tt.doer(t, svc, round); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}

func TestCorruptSession(t *testing.T) {
	svc, st := newTestService(t)

	if err := st.Interface.SetFields(t.Context(), Key(testAddress), map[string]string{"challenge": "abc"}, time.Minute); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Submit(t.Context(), testAddress, "1", "00"); !errors.Is(err, ErrNoChallenge) {
		t.Errorf("wanted ErrNoChallenge for a corrupt session, got: %v", err)
	}

	round, err := svc.Request(t.Context(), testAddress, 1, false)
	if err != nil {
		t.Fatalf("corrupt session was not replaced: %v", err)
	}

	if round.Counter != 1 || round.Token == "abc" {
		t.Errorf("wrong replacement round: %+v", round)
	}
}

func TestSessionValid(t *testing.T) {
	good := Session{
		ID:              "x",
		Amount:          1,
		Token:           "abc",
		Difficulty:      0,
		RoundsRequired:  2,
		RoundsCompleted: 1,
	}

	for _, tt := range []struct {
		name   string
		mutate func(s *Session)
		err    error
	}{
		{name: "good", mutate: func(*Session) {}},
		{name: "no token", mutate: func(s *Session) { s.Token = "" }, err: ErrInvalidSession},
		{name: "zero amount", mutate: func(s *Session) { s.Amount = 0 }, err: ErrInvalidSession},
		{name: "negative difficulty", mutate: func(s *Session) { s.Difficulty = -1 }, err: ErrInvalidSession},
		{name: "zero rounds", mutate: func(s *Session) { s.RoundsRequired = 0 }, err: ErrInvalidSession},
		{name: "counter past the end", mutate: func(s *Session) { s.RoundsCompleted = 3 }, err: ErrInvalidSession},
		{name: "counter at zero", mutate: func(s *Session) { s.RoundsCompleted = 0 }, err: ErrInvalidSession},
	} {
		t.Run(tt.name, func(t *testing.T) {
			s := good
			tt.mutate(&s)

			if err := s.Valid(); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}

func TestSessionFieldsRoundTrip(t *testing.T) {
	want := Session{
		ID:              "0190d3c2-0000-7000-8000-000000000000",
		Amount:          12.5,
		Token:           "abcdef",
		Difficulty:      4,
		RoundsRequired:  10,
		RoundsCompleted: 3,
		CaptchaUsed:     true,
		IssuedAt:        time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	got, err := sessionFromFields(want.fields())
	if err != nil {
		t.Fatal(err)
	}

	if !got.IssuedAt.Equal(want.IssuedAt) {
		t.Errorf("wanted issuedAt %s, got: %s", want.IssuedAt, got.IssuedAt)
	}
	got.IssuedAt = want.IssuedAt

	if got != want {
		t.Errorf("wanted %+v, got: %+v", want, got)
	}
}

func TestSessionFromLegacyFields(t *testing.T) {
	got, err := sessionFromFields(map[string]string{
		"amount":           "100",
		"challenge":        "abc",
		"challengeCounter": "1",
		"challengesNeeded": "5",
		"difficulty":       "4",
		"usedCaptcha":      "false",
	})
	if err != nil {
		t.Fatal(err)
	}

	if got.Amount != 100 || got.RoundsRequired != 5 || got.CaptchaUsed {
		t.Errorf("legacy session decoded wrong: %+v", got)
	}
}
