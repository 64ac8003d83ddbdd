// Package checker defines request rules the faucet refuses to serve.
package checker

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidConfig = errors.New("checker: config is invalid")
	ErrNoClientAddr  = errors.New("checker: can't determine client address")
)

type Interface interface {
	Check(*http.Request) (matches bool, err error)
}
