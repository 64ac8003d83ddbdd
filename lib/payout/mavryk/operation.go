package mavryk

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Operation statuses reported in receipts and simulations.
const (
	statusApplied = "applied"
)

// content is one manager operation of a batch, in the node's JSON shape.
type content struct {
	Kind         string      `json:"kind"`
	Source       string      `json:"source"`
	Fee          string      `json:"fee"`
	Counter      string      `json:"counter"`
	GasLimit     string      `json:"gas_limit"`
	StorageLimit string      `json:"storage_limit"`
	Amount       string      `json:"amount,omitempty"`
	Destination  string      `json:"destination,omitempty"`
	Parameters   *parameters `json:"parameters,omitempty"`
	PublicKey    string      `json:"public_key,omitempty"`
}

type parameters struct {
	Entrypoint string `json:"entrypoint"`
	Value      any    `json:"value"`
}

// operation is an unsigned batch. Signature is only set for simulation.
type operation struct {
	Branch    string    `json:"branch"`
	Contents  []content `json:"contents"`
	Signature string    `json:"signature,omitempty"`
}

type simulateRequest struct {
	Operation operation `json:"operation"`
	ChainID   string    `json:"chain_id"`
}

// result is the execution receipt of one operation or internal operation.
type result struct {
	Status                       string          `json:"status"`
	ConsumedMilligas             string          `json:"consumed_milligas"`
	PaidStorageSizeDiff          string          `json:"paid_storage_size_diff"`
	AllocatedDestinationContract bool            `json:"allocated_destination_contract"`
	Errors                       json.RawMessage `json:"errors,omitempty"`
}

type appliedContent struct {
	Kind     string `json:"kind"`
	Metadata struct {
		OperationResult          result `json:"operation_result"`
		InternalOperationResults []struct {
			Result result `json:"result"`
		} `json:"internal_operation_results"`
	} `json:"metadata"`
}

// results lists the receipt of c followed by the receipts of everything it
// called.
func (c appliedContent) results() []result {
	out := []result{c.Metadata.OperationResult}
	for _, internal := range c.Metadata.InternalOperationResults {
		out = append(out, internal.Result)
	}
	return out
}

type appliedOperation struct {
	Hash     string           `json:"hash"`
	Contents []appliedContent `json:"contents"`
}

// failure collects the error payloads of every receipt that did not apply,
// or returns nil when the whole batch applied.
func (op appliedOperation) failure() error {
	var (
		failed bool
		errs   []json.RawMessage
	)

	for _, c := range op.Contents {
		for _, r := range c.results() {
			if r.Status != statusApplied {
				failed = true
			}
			if len(r.Errors) != 0 {
				errs = append(errs, r.Errors)
			}
		}
	}

	if !failed {
		return nil
	}

	data, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("%w: errors do not encode: %w", ErrFailed, err)
	}

	return fmt.Errorf("%w: %s", ErrFailed, data)
}

// usage is what one content consumed in a simulation.
type usage struct {
	milligas int64
	storage  int64
}

func (c appliedContent) usage() (usage, error) {
	var u usage

	for _, r := range c.results() {
		if r.ConsumedMilligas != "" {
			n, err := strconv.ParseInt(r.ConsumedMilligas, 10, 64)
			if err != nil {
				return usage{}, fmt.Errorf("mavryk: bad consumed_milligas %q: %w", r.ConsumedMilligas, err)
			}
			u.milligas += n
		}

		if r.PaidStorageSizeDiff != "" {
			n, err := strconv.ParseInt(r.PaidStorageSizeDiff, 10, 64)
			if err != nil {
				return usage{}, fmt.Errorf("mavryk: bad paid_storage_size_diff %q: %w", r.PaidStorageSizeDiff, err)
			}
			u.storage += n
		}

		if r.AllocatedDestinationContract {
			u.storage += originationSize
		}
	}

	return u, nil
}

// requestTokenValue is the Micheline argument of the faucet's requestToken
// entrypoint: (pair address (pair nat address)).
func requestTokenValue(token string, tokenID int64, user string) any {
	return map[string]any{
		"prim": "Pair",
		"args": []any{
			map[string]any{"string": token},
			map[string]any{
				"prim": "Pair",
				"args": []any{
					map[string]any{"int": strconv.FormatInt(tokenID, 10)},
					map[string]any{"string": user},
				},
			},
		},
	}
}
