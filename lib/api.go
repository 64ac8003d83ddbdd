package lib

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mavryk-network/mavryk-faucet-backend/internal"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/challenge"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/config"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/payout"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/pow"
)

var (
	errNoAddress   = errors.New("'address' field is required")
	errBadAddress  = errors.New("address is invalid")
	errNoToken     = errors.New("'token' field is required")
	errBadAmount   = errors.New("amount is out of range")
	errNoSolution  = errors.New("'solution' and 'nonce' fields are required")
	errBadSolution = errors.New("'solution' must be a 64 character hex string")
)

// solutionLength is the length of a hex SHA-256 digest.
const solutionLength = 64

// payoutTimeout bounds a payout that outlives its request.
const payoutTimeout = 3 * time.Minute

type infoResponse struct {
	FaucetAddress     string   `json:"faucetAddress"`
	CaptchaEnabled    bool     `json:"captchaEnabled"`
	ChallengesEnabled bool     `json:"challengesEnabled"`
	MaxBalance        float64  `json:"maxBalance"`
	MinMav            float64  `json:"minMav"`
	MaxMav            float64  `json:"maxMav"`
	Assets            []string `json:"assets"`
}

type challengeRequest struct {
	Address      string  `json:"address"`
	Amount       float64 `json:"amount"`
	CaptchaToken string  `json:"captchaToken,omitempty"`
}

type verifyRequest struct {
	Address  string         `json:"address"`
	Nonce    numberOrString `json:"nonce"`
	Solution string         `json:"solution"`
	Token    string         `json:"token"`

	// Amount is only read when challenges are disabled.
	Amount float64 `json:"amount,omitempty"`
}

// numberOrString keeps a JSON number or string exactly as the client wrote it.
type numberOrString string

func (n *numberOrString) UnmarshalJSON(data []byte) error {
	if len(data) != 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = numberOrString(s)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*n = numberOrString(num.String())
	return nil
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetLogger(r.Context())

	address, err := s.opts.Gate.Address(r.Context())
	if err != nil {
		lg.Error("can't get faucet address", "err", err)
		s.fail(w, r, "info", http.StatusInternalServerError, codeInternal, "An exception occurred")
		return
	}

	s.respond(w, r, "info", http.StatusOK, infoResponse{
		FaucetAddress:     address,
		CaptchaEnabled:    s.opts.Captcha.Enabled,
		ChallengesEnabled: s.opts.Challenges.Enabled,
		MaxBalance:        s.opts.Payout.MaxBalance,
		MinMav:            s.opts.Challenges.MinAmount,
		MaxMav:            s.opts.Challenges.MaxAmount,
		Assets:            s.opts.Gate.Assets().Names(),
	})
}

func (s *Server) challenge(w http.ResponseWriter, r *http.Request) {
	if !s.opts.Challenges.Enabled {
		s.respond(w, r, "challenge", http.StatusOK, response{
			Status:  statusSuccess,
			Code:    codeDisabled,
			Message: "Challenges are disabled. Use the /verify endpoint.",
		})
		return
	}

	var req challengeRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "challenge", http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	}

	identity, err := s.checkAddress(req.Address)
	if err != nil {
		s.fail(w, r, "challenge", http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	}

	if err := s.checkAmount(req.Amount); err != nil {
		s.fail(w, r, "challenge", http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	}

	lg := internal.GetLogger(r.Context()).With("address", identity)

	usedCaptcha := false
	if s.opts.Captcha.Enabled && req.CaptchaToken != "" {
		remoteIP := ""
		if addr, ok := internal.ClientAddr(r, s.opts.HTTP.ClientIPHeader); ok {
			remoteIP = addr.String()
		}

		ok, err := s.opts.Verifier.Verify(r.Context(), req.CaptchaToken, remoteIP)
		switch {
		case err != nil:
			lg.Error("can't verify captcha", "err", err)
			s.fail(w, r, "challenge", http.StatusInternalServerError, codeCaptchaFailed, "Captcha could not be verified")
			return
		case !ok:
			s.fail(w, r, "challenge", http.StatusBadRequest, codeCaptchaFailed, "Invalid captcha")
			return
		}

		usedCaptcha = true
	}

	round, err := s.opts.Sessions.Request(r.Context(), identity, req.Amount, usedCaptcha)
	if err != nil {
		s.challengeError(w, r, "challenge", err)
		return
	}

	s.respond(w, r, "challenge", http.StatusOK, roundResponse(round))
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "verify", http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	}

	identity, err := s.checkAddress(req.Address)
	if err != nil {
		s.fail(w, r, "verify", http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	}

	if req.Token == "" {
		s.fail(w, r, "verify", http.StatusBadRequest, codeInvalidInput, errNoToken.Error())
		return
	}

	// The asset is checked before anything is claimed so a typo can't burn a
	// solved session.
	asset, err := s.opts.Gate.Asset(req.Token)
	if err != nil {
		s.fail(w, r, "verify", http.StatusBadRequest, codeInvalidInput, "Incorrect token")
		return
	}

	if !s.opts.Challenges.Enabled {
		if asset.Amount <= 0 {
			if err := s.checkAmount(req.Amount); err != nil {
				s.fail(w, r, "verify", http.StatusBadRequest, codeInvalidInput, err.Error())
				return
			}
		}

		s.pay(w, r, identity, req.Amount, asset)
		return
	}

	nonce := string(req.Nonce)
	if nonce == "" || req.Solution == "" {
		s.fail(w, r, "verify", http.StatusBadRequest, codeInvalidInput, errNoSolution.Error())
		return
	}

	if err := pow.ValidateNonce(nonce); err != nil {
		s.fail(w, r, "verify", http.StatusBadRequest, codeInvalidInput, "'nonce' must be an integer")
		return
	}

	if err := checkSolution(req.Solution); err != nil {
		s.fail(w, r, "verify", http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	}

	result, err := s.opts.Sessions.Submit(r.Context(), identity, nonce, req.Solution)
	if err != nil {
		s.challengeError(w, r, "verify", err)
		return
	}

	if !result.Claimed {
		s.respond(w, r, "verify", http.StatusOK, roundResponse(result.Next))
		return
	}

	s.pay(w, r, identity, result.Amount, asset)
}

// pay hands the claim to the gate. The session is already gone at this point,
// so the transfer runs to completion even if the client hangs up.
func (s *Server) pay(w http.ResponseWriter, r *http.Request, recipient string, amount float64, asset config.Asset) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), payoutTimeout)
	defer cancel()

	receipt, err := s.opts.Gate.Pay(ctx, recipient, amount, asset.Name)
	if err != nil && receipt.Outcome == "" {
		s.fail(w, r, "verify", http.StatusBadRequest, codeInvalidInput, "Incorrect token")
		return
	}

	name := strings.ToUpper(asset.Name)
	resp := response{
		Status: statusError,
		Code:   string(receipt.Outcome),
		Asset:  receipt.Asset,
		Amount: receipt.Amount,
	}

	status := http.StatusInternalServerError

	switch receipt.Outcome {
	case payout.OutcomeSent:
		status = http.StatusOK
		resp.Status = statusSuccess
		resp.TxHash = receipt.TxHash
		resp.Message = "Token sent"
	case payout.OutcomeAlreadyFunded:
		status = http.StatusForbidden
		resp.Message = fmt.Sprintf("You already have enough %s", name)
	case payout.OutcomeFaucetExhausted:
		resp.Message = "Faucet is low or has gone empty. Please contact the team."
	case payout.OutcomeExceedsMaximum:
		resp.Message = "Token request exceeds maximum allowed"
	case payout.OutcomeAlreadyClaimed:
		resp.Message = fmt.Sprintf("You have already claimed %s and are unable to claim again", name)
	case payout.OutcomeBalanceTooLow:
		resp.Message = fmt.Sprintf("%s balance too low", name)
	default:
		resp.Message = "An error occurred"
	}

	s.respond(w, r, "verify", status, resp)
}

func (s *Server) challengeError(w http.ResponseWriter, r *http.Request, route string, err error) {
	switch {
	case errors.Is(err, challenge.ErrNoChallenge):
		s.fail(w, r, route, http.StatusBadRequest, codeNoChallenge, "No challenge found")
	case errors.Is(err, challenge.ErrIncorrectSolution):
		s.fail(w, r, route, http.StatusBadRequest, codeIncorrectSolution, "Incorrect solution")
	case errors.Is(err, challenge.ErrAlreadyClaimed):
		s.fail(w, r, route, http.StatusForbidden, codeAlreadyClaimed, "PoW challenge not found")
	case errors.Is(err, challenge.ErrInvalidAmountInput):
		s.fail(w, r, route, http.StatusBadRequest, codeInvalidInput, err.Error())
	case errors.Is(err, challenge.ErrStoreUnavailable):
		internal.GetLogger(r.Context()).Error("session store failed", "err", err)
		s.fail(w, r, route, http.StatusServiceUnavailable, codeStoreUnavailable, "Session store is unavailable, try again later")
	default:
		internal.GetLogger(r.Context()).Error("challenge protocol failed", "err", err)
		s.fail(w, r, route, http.StatusInternalServerError, codeInternal, "An error occurred")
	}
}

func roundResponse(round challenge.Round) response {
	return response{
		Status:           statusSuccess,
		Code:             codeChallenge,
		Challenge:        round.Token,
		ChallengeCounter: round.Counter,
		ChallengesNeeded: round.RoundsRequired,
		Difficulty:       round.Difficulty,
	}
}

// checkAddress validates a recipient on the payout network and returns its
// canonical form, which is also the identity its session is stored under.
func (s *Server) checkAddress(addr string) (string, error) {
	if addr == "" {
		return "", errNoAddress
	}

	identity, err := s.opts.Payout.Network.Recipient(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errBadAddress, err)
	}

	return identity, nil
}

func (s *Server) checkAmount(amount float64) error {
	lo, hi := s.opts.Challenges.MinAmount, s.opts.Challenges.MaxAmount
	if amount <= 0 || amount < lo || amount > hi {
		return fmt.Errorf("%w: %v is not between %v and %v", errBadAmount, amount, lo, hi)
	}

	return nil
}

func checkSolution(solution string) error {
	if len(solution) != solutionLength {
		return errBadSolution
	}

	if _, err := hex.DecodeString(solution); err != nil {
		return errBadSolution
	}

	return nil
}
