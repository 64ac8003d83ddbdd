package payout

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

var ErrBadAmount = errors.New("payout: amount can't be expressed in base units")

// BaseUnits scales a human amount by 10^decimals. It works on the shortest
// decimal form of amount so 0.1 becomes exactly 10^(decimals-1), and drops
// digits finer than the asset can express.
func BaseUnits(amount float64, decimals int) (*big.Int, error) {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("%w: %v", ErrBadAmount, amount)
	}

	whole, frac, _ := strings.Cut(strconv.FormatFloat(amount, 'f', -1, 64), ".")

	if len(frac) > decimals {
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", decimals-len(frac))

	result, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrBadAmount, amount)
	}

	return result, nil
}
