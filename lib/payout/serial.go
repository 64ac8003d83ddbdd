package payout

import (
	"context"

	"github.com/mavryk-network/mavryk-faucet-backend/internal/actorify"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/config"
)

type transferRequest struct {
	recipient string
	amount    float64
	asset     config.Asset
}

type serialDispatcher struct {
	next  Dispatcher
	actor *actorify.Actor[transferRequest, string]
}

// Serialize runs every Transfer of next one after the other, so a single
// signing key never races itself for a nonce. It stops when ctx is done.
func Serialize(ctx context.Context, next Dispatcher) Dispatcher {
	return &serialDispatcher{
		next: next,
		actor: actorify.New(ctx, func(ctx context.Context, req transferRequest) (string, error) {
			return next.Transfer(ctx, req.recipient, req.amount, req.asset)
		}),
	}
}

func (s *serialDispatcher) Transfer(ctx context.Context, recipient string, amount float64, asset config.Asset) (string, error) {
	return s.actor.Call(ctx, transferRequest{
		recipient: recipient,
		amount:    amount,
		asset:     asset,
	})
}

func (s *serialDispatcher) Address(ctx context.Context) (string, error) {
	return s.next.Address(ctx)
}
