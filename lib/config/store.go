package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mavryk-network/mavryk-faucet-backend/lib/store"
	_ "github.com/mavryk-network/mavryk-faucet-backend/lib/store/all"
)

var (
	ErrNoStoreBackend      = errors.New("config.Store: no backend defined")
	ErrUnknownStoreBackend = errors.New("config.Store: unknown backend")
)

// Store selects the session store backend by name. Parameters are handed to
// the backend factory untouched.
type Store struct {
	Backend    string          `json:"backend"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

func (Store) Default() *Store {
	return &Store{
		Backend: "memory",
	}
}

func (s *Store) Valid() error {
	var errs []error

	if len(s.Backend) == 0 {
		errs = append(errs, ErrNoStoreBackend)
	}

	fac, ok := store.Get(s.Backend)
	switch ok {
	case true:
		if err := fac.Valid(s.Parameters); err != nil {
			errs = append(errs, err)
		}
	case false:
		if s.Backend != "" {
			errs = append(errs, fmt.Errorf("%w: %q, known backends: %v", ErrUnknownStoreBackend, s.Backend, store.Methods()))
		}
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}
