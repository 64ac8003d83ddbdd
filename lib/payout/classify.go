package payout

import (
	"errors"
	"fmt"
	"strings"
)

// markers are the failure strings faucet contracts and nodes put in revert
// reasons and RPC errors.
var markers = []struct {
	substr string
	err    error
}{
	{"subtraction_underflow", ErrFaucetExhausted},
	{"storage_exhausted", ErrFaucetExhausted},
	{"FA2_INSUFFICIENT_BALANCE", ErrFaucetExhausted},
	{"empty_implicit_contract", ErrFaucetExhausted},
	{"insufficient funds", ErrFaucetExhausted},
	{"TOKEN_REQUEST_EXCEEDS_MAXIMUM_ALLOWED", ErrExceedsMaximum},
	{"ERROR_USER_ALREADY_CLAIMED_TOKEN", ErrAlreadyClaimedAsset},
	{"ERROR_TOKEN_BALANCE_TOO_LOW", ErrBalanceTooLow},
}

// Classify maps a raw dispatch error onto the payout sentinels by looking
// for known failure markers in its text. Errors that already carry a
// sentinel, and errors with no known marker, are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	for _, known := range []error{ErrRecipientFunded, ErrFaucetExhausted, ErrExceedsMaximum, ErrAlreadyClaimedAsset, ErrBalanceTooLow} {
		if errors.Is(err, known) {
			return err
		}
	}

	msg := err.Error()
	for _, m := range markers {
		if strings.Contains(msg, m.substr) {
			return fmt.Errorf("%w: %w", m.err, err)
		}
	}

	return err
}
