// Package payout turns a claimed challenge into exactly one on-chain transfer
// and sorts the result into outcomes a client can act on.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mavryk-network/mavryk-faucet-backend/internal"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ErrUnknownAsset = errors.New("payout: unknown asset")

	// Declines and failures reported by a Dispatcher. Adapters map chain
	// specific errors onto these with Classify.
	ErrRecipientFunded     = errors.New("payout: recipient already holds enough of this asset")
	ErrFaucetExhausted     = errors.New("payout: faucet is low or has gone empty")
	ErrExceedsMaximum      = errors.New("payout: request exceeds the maximum allowed")
	ErrAlreadyClaimedAsset = errors.New("payout: recipient already claimed this asset")
	ErrBalanceTooLow       = errors.New("payout: asset balance too low")

	payouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mavryk",
		Subsystem: "faucet",
		Name:      "payouts",
		Help:      "Payout attempts by asset and outcome",
	}, []string{"asset", "outcome"})
)

// Dispatcher moves funds on chain. Transfer is called at most once per
// claim and is never retried.
type Dispatcher interface {
	Transfer(ctx context.Context, recipient string, amount float64, asset config.Asset) (txHash string, err error)
	// Address is the account the faucet pays from.
	Address(ctx context.Context) (string, error)
}

type Outcome string

const (
	OutcomeSent            Outcome = "sent"
	OutcomeAlreadyFunded   Outcome = "already_funded"
	OutcomeFaucetExhausted Outcome = "faucet_exhausted"
	OutcomeExceedsMaximum  Outcome = "exceeds_maximum"
	OutcomeAlreadyClaimed  Outcome = "asset_already_claimed"
	OutcomeBalanceTooLow   Outcome = "balance_too_low"
	OutcomeFailed          Outcome = "dispatch_failed"
)

// Receipt describes what happened to one payout.
type Receipt struct {
	Outcome Outcome
	Asset   string
	Amount  float64
	TxHash  string
}

// Sent reports whether funds actually moved.
func (r Receipt) Sent() bool {
	return r.Outcome == OutcomeSent
}

// Gate resolves assets and calls the Dispatcher.
type Gate struct {
	dispatcher Dispatcher
	assets     config.Assets
}

func NewGate(d Dispatcher, assets config.Assets) *Gate {
	return &Gate{
		dispatcher: d,
		assets:     assets,
	}
}

// Asset looks up a configured asset by selector.
func (g *Gate) Asset(name string) (config.Asset, error) {
	asset, ok := g.assets.Find(name)
	if !ok {
		return config.Asset{}, fmt.Errorf("%w: %q", ErrUnknownAsset, name)
	}

	return asset, nil
}

// Assets lists every asset the gate can pay out.
func (g *Gate) Assets() config.Assets {
	return g.assets
}

// Amount is what the faucet pays for asset when requested was asked for.
func Amount(asset config.Asset, requested float64) float64 {
	if asset.Amount > 0 {
		return asset.Amount
	}

	return requested
}

// Address is the faucet account.
func (g *Gate) Address(ctx context.Context) (string, error) {
	return g.dispatcher.Address(ctx)
}

// Pay sends one payout. Declines come back as a Receipt with a nil error;
// the returned error is only set for failures nobody classified, and the
// Receipt then carries OutcomeFailed.
func (g *Gate) Pay(ctx context.Context, recipient string, requested float64, assetName string) (Receipt, error) {
	asset, err := g.Asset(assetName)
	if err != nil {
		return Receipt{}, err
	}

	lg := internal.GetLogger(ctx).With("recipient", recipient, "asset", asset.Name)

	result := Receipt{
		Asset:  asset.Name,
		Amount: Amount(asset, requested),
	}

	txHash, err := g.dispatcher.Transfer(ctx, recipient, result.Amount, asset)
	if err == nil && txHash == "" {
		// Dispatchers that skip the transfer without saying why.
		err = ErrRecipientFunded
	}
	result.Outcome = outcomeOf(err)
	payouts.WithLabelValues(asset.Name, string(result.Outcome)).Inc()

	switch result.Outcome {
	case OutcomeSent:
		result.TxHash = txHash
		lg.Info("payout sent", "amount", result.Amount, "tx", txHash)
		return result, nil
	case OutcomeFailed:
		lg.Error("payout failed", "amount", result.Amount, "err", err)
		return result, fmt.Errorf("payout: can't send %v %s to %s: %w", result.Amount, asset.Name, recipient, err)
	default:
		level := slog.LevelInfo
		if result.Outcome == OutcomeFaucetExhausted {
			level = slog.LevelError
		}
		lg.Log(ctx, level, "payout declined", "outcome", result.Outcome, "err", err)
		return result, nil
	}
}

func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSent
	case errors.Is(err, ErrRecipientFunded):
		return OutcomeAlreadyFunded
	case errors.Is(err, ErrFaucetExhausted):
		return OutcomeFaucetExhausted
	case errors.Is(err, ErrExceedsMaximum):
		return OutcomeExceedsMaximum
	case errors.Is(err, ErrAlreadyClaimedAsset):
		return OutcomeAlreadyClaimed
	case errors.Is(err, ErrBalanceTooLow):
		return OutcomeBalanceTooLow
	default:
		return OutcomeFailed
	}
}
