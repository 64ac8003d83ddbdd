// Package lib is the HTTP surface of the faucet: it validates requests, runs
// them through the challenge protocol and hands claims to the payout gate.
package lib

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mavryk-network/mavryk-faucet-backend/decaymap"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/address"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/captcha"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/challenge"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/checker"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/checker/headermatches"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/checker/remoteaddress"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/config"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/payout"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/cors"
	"golang.org/x/time/rate"
)

var (
	ErrNoGate     = errors.New("lib: no payout gate configured")
	ErrNoSessions = errors.New("lib: challenges are enabled but no challenge service is configured")
	ErrNoVerifier = errors.New("lib: captcha is enabled but no verifier is configured")
)

var responses = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mavryk",
	Subsystem: "faucet",
	Name:      "http_responses",
	Help:      "API responses by route and result code",
}, []string{"route", "code"})

// limiterTTL is how long an idle client keeps its rate limit bucket.
const limiterTTL = 10 * time.Minute

// Options wires a Server together. Sessions may be nil when challenges are
// disabled, Verifier may be nil when captchas are disabled.
type Options struct {
	Challenges config.Challenges
	Captcha    config.Captcha
	Payout     config.Payout
	HTTP       config.HTTP

	Sessions *challenge.Service
	Gate     *payout.Gate
	Verifier captcha.Verifier

	Logger *slog.Logger
}

// Server serves /info, /challenge and /verify.
type Server struct {
	opts    Options
	logger  *slog.Logger
	mux     *mux.Router
	handler http.Handler

	deny     checker.Interface
	limiters *decaymap.Impl[string, *rate.Limiter]
}

func New(opts Options) (*Server, error) {
	var errs []error

	if opts.Gate == nil {
		errs = append(errs, ErrNoGate)
	}

	if opts.Challenges.Enabled && opts.Sessions == nil {
		errs = append(errs, ErrNoSessions)
	}

	if opts.Captcha.Enabled && opts.Verifier == nil {
		errs = append(errs, ErrNoVerifier)
	}

	if len(errs) != 0 {
		return nil, fmt.Errorf("lib: can't create server: %w", errors.Join(errs...))
	}

	if opts.Verifier == nil {
		opts.Verifier = captcha.Disabled{}
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Payout.Network == "" {
		opts.Payout.Network = address.Mavryk
	}

	deny, err := denyRules(opts.HTTP)
	if err != nil {
		return nil, err
	}

	result := &Server{
		opts:   opts,
		logger: opts.Logger,
		mux:    mux.NewRouter(),
		deny:   deny,
	}

	if opts.HTTP.RateLimit.RequestsPerSecond > 0 {
		result.limiters = decaymap.New[string, *rate.Limiter]()
	}

	result.mux.HandleFunc("/info", result.info).Methods(http.MethodGet)
	result.mux.HandleFunc("/challenge", result.challenge).Methods(http.MethodPost)
	result.mux.HandleFunc("/verify", result.verify).Methods(http.MethodPost)
	result.mux.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result.fail(w, r, "not_found", http.StatusNotFound, codeInvalidInput, "Not found")
	})
	result.mux.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result.fail(w, r, "not_found", http.StatusMethodNotAllowed, codeInvalidInput, "Method not allowed")
	})

	origin := opts.HTTP.AuthorizedOrigin
	if origin == "" {
		origin = "*"
	}

	c := cors.New(cors.Options{
		AllowedOrigins: []string{origin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Origin", "X-Requested-With", "Content-Type", "Accept"},
		// Clients cache the CORS policy for a day.
		MaxAge: 86400,
	})

	result.handler = c.Handler(result.withLogger(result.withDenyList(result.withRateLimit(result.mux))))

	return result, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close releases background resources.
func (s *Server) Close() {
	if s.limiters != nil {
		s.limiters.Close()
	}
}

func denyRules(h config.HTTP) (checker.Interface, error) {
	var rules checker.Any

	if prefixes := h.DenyPrefixes(); len(prefixes) != 0 {
		rules = append(rules, remoteaddress.New(prefixes, h.ClientIPHeader))
	}

	for _, rex := range h.DenyUserAgents {
		c, err := headermatches.NewUserAgent(rex)
		if err != nil {
			return nil, err
		}
		rules = append(rules, c)
	}

	if len(rules) == 0 {
		return nil, nil
	}

	return rules, nil
}
