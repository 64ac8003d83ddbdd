// Package captcha checks captcha tokens against a siteverify style endpoint.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrNoSecret    = errors.New("captcha: no secret defined")
	ErrNoVerifyURL = errors.New("captcha: no verify URL defined")
	ErrUpstream    = errors.New("captcha: verification endpoint failed")
)

// Verifier decides whether a captcha token is genuine.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

// SiteVerify posts the token to a reCAPTCHA/hCaptcha/Turnstile compatible
// siteverify endpoint.
type SiteVerify struct {
	secret    string
	verifyURL string
	client    *http.Client
}

func NewSiteVerify(secret, verifyURL string) (*SiteVerify, error) {
	var errs []error

	if secret == "" {
		errs = append(errs, ErrNoSecret)
	}

	if verifyURL == "" {
		errs = append(errs, ErrNoVerifyURL)
	} else if _, err := url.ParseRequestURI(verifyURL); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrNoVerifyURL, err))
	}

	if len(errs) != 0 {
		return nil, errors.Join(errs...)
	}

	return &SiteVerify{
		secret:    secret,
		verifyURL: verifyURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes,omitempty"`
}

func (sv *SiteVerify) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	if token == "" {
		return false, nil
	}

	form := url.Values{}
	form.Set("secret", sv.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sv.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := sv.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var result siteVerifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&result); err != nil {
		return false, fmt.Errorf("%w: can't decode response: %w", ErrUpstream, err)
	}

	return result.Success, nil
}

// Disabled is the Verifier used when captchas are turned off. It rejects every
// token, so no session is ever priced as captcha-assisted.
type Disabled struct{}

func (Disabled) Verify(context.Context, string, string) (bool, error) {
	return false, nil
}
