package lib

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mavryk-network/mavryk-faucet-backend/internal"
	"golang.org/x/time/rate"
)

const (
	statusSuccess = "SUCCESS"
	statusError   = "ERROR"
)

// Stable result codes. Clients switch on these, never on messages.
const (
	codeInvalidInput      = "invalid_input"
	codeCaptchaFailed     = "captcha_failed"
	codeNoChallenge       = "no_challenge"
	codeIncorrectSolution = "incorrect_solution"
	codeAlreadyClaimed    = "already_claimed"
	codeStoreUnavailable  = "store_unavailable"
	codeRateLimited       = "rate_limited"
	codeForbidden         = "forbidden"
	codeInternal          = "internal_error"
	codeChallenge         = "challenge"
	codeDisabled          = "challenges_disabled"
)

// maxBodyBytes bounds request bodies. Every request fits in a few hundred bytes.
const maxBodyBytes = 64 << 10

var errEmptyBody = errors.New("request body is empty")

type response struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	Challenge        string `json:"challenge,omitempty"`
	ChallengeCounter int    `json:"challengeCounter,omitempty"`
	ChallengesNeeded int    `json:"challengesNeeded,omitempty"`
	Difficulty       int    `json:"difficulty,omitempty"`

	TxHash string  `json:"txHash,omitempty"`
	Asset  string  `json:"asset,omitempty"`
	Amount float64 `json:"amount,omitempty"`
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, route string, status int, body any) {
	code := "ok"
	if resp, ok := body.(response); ok && resp.Code != "" {
		code = resp.Code
	}
	responses.WithLabelValues(route, code).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		internal.GetLogger(r.Context()).Debug("can't write response", "err", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, route string, status int, code, message string) {
	s.respond(w, r, route, status, response{
		Status:  statusError,
		Code:    code,
		Message: message,
	})
}

// decode reads a JSON body into dst.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("can't parse request body: %w", err)
	}

	return nil
}

func (s *Server) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lg := internal.GetRequestLogger(s.logger, r)
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r.WithContext(internal.WithLogger(r.Context(), lg)))
	})
}

func (s *Server) withDenyList(next http.Handler) http.Handler {
	if s.deny == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		match, err := s.deny.Check(r)
		if err != nil {
			internal.GetLogger(r.Context()).Warn("can't evaluate deny list", "err", err)
		}

		if match {
			internal.GetLogger(r.Context()).Info("request denied")
			s.fail(w, r, "deny", http.StatusForbidden, codeForbidden, "Forbidden")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.limiters == nil {
		return next
	}

	rl := s.opts.HTTP.RateLimit

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "unknown"
		if addr, ok := internal.ClientAddr(r, s.opts.HTTP.ClientIPHeader); ok {
			if pfx, ok := internal.ClampIP(addr, rl.IPv4Prefix, rl.IPv6Prefix); ok {
				key = pfx.String()
			}
		}

		limiter := s.limiters.Upsert(key, limiterTTL, func(old *rate.Limiter, ok bool) *rate.Limiter {
			if ok {
				return old
			}
			return rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), rl.Burst)
		})

		if !limiter.Allow() {
			internal.GetLogger(r.Context()).Debug("rate limited", "bucket", key)
			w.Header().Set("Retry-After", "1")
			s.fail(w, r, "ratelimit", http.StatusTooManyRequests, codeRateLimited, "Too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}
