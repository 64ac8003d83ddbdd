// Package headermatches matches requests by a regular expression over one
// request header.
package headermatches

import (
	"fmt"
	"net/http"
	"regexp"

	"github.com/mavryk-network/mavryk-faucet-backend/lib/checker"
)

type Checker struct {
	header string
	regexp *regexp.Regexp
}

var _ checker.Interface = (*Checker)(nil)

func (c *Checker) Check(r *http.Request) (bool, error) {
	if c.regexp.MatchString(r.Header.Get(c.header)) {
		return true, nil
	}

	return false, nil
}

func New(key, valueRex string) (*Checker, error) {
	fc := fileConfig{
		Header:     key,
		ValueRegex: valueRex,
	}

	if err := fc.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", checker.ErrInvalidConfig, fc, err)
	}

	return &Checker{
		header: http.CanonicalHeaderKey(fc.Header),
		regexp: regexp.MustCompile(fc.ValueRegex),
	}, nil
}

// NewUserAgent matches the User-Agent header.
func NewUserAgent(valueRex string) (*Checker, error) {
	return New("User-Agent", valueRex)
}
