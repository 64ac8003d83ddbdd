// Package mavryk pays out through a faucet contract on Mavryk. Every payout is
// a call to the contract's requestToken entrypoint, signed by the faucet key
// and injected through a node's RPC interface.
package mavryk

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mavryk-network/mavryk-faucet-backend/internal"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/address"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/config"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/payout"
)

var (
	ErrNoRPCURL      = errors.New("mavryk.Config: no RPC URL defined")
	ErrBadRPCURL     = errors.New("mavryk.Config: RPC URL is invalid")
	ErrNoPrivateKey  = errors.New("mavryk.Config: no faucet private key defined")
	ErrBadPrivateKey = errors.New("mavryk.Config: faucet private key is invalid")
	ErrNoContract    = errors.New("mavryk.Config: no faucet contract address defined")
	ErrBadContract   = errors.New("mavryk.Config: faucet contract is not a KT1 address")
	ErrBadRecipient  = errors.New("mavryk: recipient is not an implicit account")
	ErrFailed        = errors.New("mavryk: operation failed")
	ErrNotConfirmed  = errors.New("mavryk: operation was not included in time")
)

// NativeToken is the token address requestToken takes for the native coin.
const NativeToken = "mv2ZZZZZZZZZZZZZZZZZZZZZZZZZZZDXMF2d"

const (
	// originationSize is the storage burnt when a call allocates an account.
	originationSize = 257
	gasBuffer       = 100
	storageBuffer   = 20

	// Baker minimal fees: 100 mutez per operation, 0.1 mutez per gas unit
	// and 1 mutez per byte.
	minimalFee     = 100
	gasPerMutez    = 10
	signatureSize  = 64
	feeMarginBytes = 16
)

// Config is everything the dispatcher needs. All of it comes from flags.
type Config struct {
	RPCURL     string
	PrivateKey string
	Contract   string
	// MaxBalance declines recipients of the native coin that already hold
	// this much. Zero disables the check.
	MaxBalance float64
	// ConfirmTimeout bounds how long Transfer waits for the operation to be
	// included in a block.
	ConfirmTimeout time.Duration
	// HTTPClient talks to the node. Nil uses a client with a 30 second
	// timeout.
	HTTPClient *http.Client
}

func (c Config) Valid() error {
	var errs []error

	switch {
	case c.RPCURL == "":
		errs = append(errs, ErrNoRPCURL)
	default:
		if u, err := url.Parse(c.RPCURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%w: %q", ErrBadRPCURL, c.RPCURL))
		}
	}

	switch {
	case c.PrivateKey == "":
		errs = append(errs, ErrNoPrivateKey)
	default:
		if _, err := parseKey(c.PrivateKey); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrBadPrivateKey, err))
		}
	}

	switch {
	case c.Contract == "":
		errs = append(errs, ErrNoContract)
	default:
		if err := address.Mavryk.Contract(c.Contract); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrBadContract, err))
		}
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Dispatcher implements payout.Dispatcher. It reads the faucet counter for
// every transfer, so wrap it in payout.Serialize.
type Dispatcher struct {
	rpc            *rpc
	key            *signer
	from           string
	contract       string
	chainID        string
	hardGas        int64
	hardStorage    int64
	maxBalance     float64
	confirmTimeout time.Duration
	pollInterval   time.Duration
}

var _ payout.Dispatcher = (*Dispatcher)(nil)

type constants struct {
	HardGasLimitPerOperation     string `json:"hard_gas_limit_per_operation"`
	HardStorageLimitPerOperation string `json:"hard_storage_limit_per_operation"`
}

// New builds a Dispatcher and reads the chain ID and operation limits from
// the node at cfg.RPCURL.
func New(ctx context.Context, cfg Config) (*Dispatcher, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}

	key, err := parseKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadPrivateKey, err)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	timeout := cfg.ConfirmTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	result := &Dispatcher{
		rpc:            &rpc{base: cfg.RPCURL, client: client},
		key:            key,
		from:           key.address(),
		contract:       cfg.Contract,
		maxBalance:     cfg.MaxBalance,
		confirmTimeout: timeout,
		pollInterval:   time.Second,
	}

	if err := result.rpc.get(ctx, "/chains/main/chain_id", &result.chainID); err != nil {
		return nil, fmt.Errorf("mavryk: can't get chain ID: %w", err)
	}

	var c constants
	if err := result.rpc.get(ctx, "/chains/main/blocks/head/context/constants", &c); err != nil {
		return nil, fmt.Errorf("mavryk: can't get protocol constants: %w", err)
	}

	if result.hardGas, err = strconv.ParseInt(c.HardGasLimitPerOperation, 10, 64); err != nil {
		return nil, fmt.Errorf("mavryk: bad hard_gas_limit_per_operation %q: %w", c.HardGasLimitPerOperation, err)
	}

	if result.hardStorage, err = strconv.ParseInt(c.HardStorageLimitPerOperation, 10, 64); err != nil {
		return nil, fmt.Errorf("mavryk: bad hard_storage_limit_per_operation %q: %w", c.HardStorageLimitPerOperation, err)
	}

	return result, nil
}

func (d *Dispatcher) Address(context.Context) (string, error) {
	return d.from, nil
}

// Transfer calls requestToken for asset and recipient and waits for the
// operation to be included. The contract decides how much it sends, so amount
// is not part of the call.
func (d *Dispatcher) Transfer(ctx context.Context, recipient string, amount float64, asset config.Asset) (string, error) {
	if _, err := address.Mavryk.Recipient(recipient); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadRecipient, err)
	}

	if err := d.checkBalance(ctx, recipient, asset); err != nil {
		return "", err
	}

	token := asset.TokenAddress
	if asset.Native() {
		token = NativeToken
	}

	op, err := d.prepare(ctx, token, asset.TokenID, recipient)
	if err != nil {
		return "", err
	}

	forged, err := d.price(ctx, &op)
	if err != nil {
		return "", err
	}

	sig, err := d.key.sign(forged)
	if err != nil {
		return "", err
	}

	var head struct {
		Level int64 `json:"level"`
	}
	if err := d.rpc.get(ctx, "/chains/main/blocks/head/header", &head); err != nil {
		return "", fmt.Errorf("mavryk: can't get head: %w", err)
	}

	var hash string
	signed := hex.EncodeToString(append(forged, sig...))
	if err := d.rpc.post(ctx, "/injection/operation?chain=main", signed, &hash); err != nil {
		return "", payout.Classify(fmt.Errorf("mavryk: can't inject operation: %w", err))
	}

	internal.GetLogger(ctx).Debug("operation injected", "op", hash, "counter", op.Contents[len(op.Contents)-1].Counter, "asset", asset.Name, "amount", amount)

	if err := d.confirm(ctx, hash, head.Level); err != nil {
		return "", err
	}

	return hash, nil
}

// checkBalance declines native coin recipients that already hold maxBalance.
// Token contracts enforce their own claim limits.
func (d *Dispatcher) checkBalance(ctx context.Context, recipient string, asset config.Asset) error {
	if d.maxBalance <= 0 || !asset.Native() {
		return nil
	}

	limit, err := payout.BaseUnits(d.maxBalance, asset.Decimals)
	if err != nil {
		return err
	}

	var raw string
	if err := d.rpc.get(ctx, "/chains/main/blocks/head/context/contracts/"+recipient+"/balance", &raw); err != nil {
		return fmt.Errorf("mavryk: can't get balance of %s: %w", recipient, err)
	}

	balance, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return fmt.Errorf("mavryk: bad balance %q for %s", raw, recipient)
	}

	if balance.Cmp(limit) >= 0 {
		return fmt.Errorf("%w: %s holds %s", payout.ErrRecipientFunded, recipient, balance)
	}

	return nil
}

// prepare builds the unpriced batch: a reveal when the faucet key is not on
// chain yet, then the requestToken call.
func (d *Dispatcher) prepare(ctx context.Context, token string, tokenID int64, user string) (operation, error) {
	var op operation

	if err := d.rpc.get(ctx, "/chains/main/blocks/head/hash", &op.Branch); err != nil {
		return op, fmt.Errorf("mavryk: can't get branch: %w", err)
	}

	var raw string
	if err := d.rpc.get(ctx, "/chains/main/blocks/head/context/contracts/"+d.from+"/counter", &raw); err != nil {
		return op, fmt.Errorf("mavryk: can't get counter of %s: %w", d.from, err)
	}

	counter, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return op, fmt.Errorf("mavryk: bad counter %q: %w", raw, err)
	}

	var manager *string
	if err := d.rpc.get(ctx, "/chains/main/blocks/head/context/contracts/"+d.from+"/manager_key", &manager); err != nil {
		return op, fmt.Errorf("mavryk: can't get manager key of %s: %w", d.from, err)
	}

	next := func() string {
		counter++
		return strconv.FormatInt(counter, 10)
	}

	if manager == nil {
		op.Contents = append(op.Contents, content{
			Kind:      "reveal",
			Source:    d.from,
			Counter:   next(),
			PublicKey: d.key.publicKey(),
		})
	}

	op.Contents = append(op.Contents, content{
		Kind:        "transaction",
		Source:      d.from,
		Counter:     next(),
		Amount:      "0",
		Destination: d.contract,
		Parameters: &parameters{
			Entrypoint: "requestToken",
			Value:      requestTokenValue(token, tokenID, user),
		},
	})

	return op, nil
}

// price simulates op, sets its limits and fees and returns the forged bytes
// to sign.
func (d *Dispatcher) price(ctx context.Context, op *operation) ([]byte, error) {
	for i := range op.Contents {
		op.Contents[i].Fee = "0"
		op.Contents[i].GasLimit = strconv.FormatInt(d.hardGas, 10)
		op.Contents[i].StorageLimit = strconv.FormatInt(d.hardStorage, 10)
	}

	var sim appliedOperation
	if err := d.rpc.post(ctx, "/chains/main/blocks/head/helpers/scripts/simulate_operation", simulateRequest{
		Operation: operation{
			Branch:    op.Branch,
			Contents:  op.Contents,
			Signature: address.Encode(address.PrefixEd25519Signature, make([]byte, signatureSize)),
		},
		ChainID: d.chainID,
	}, &sim); err != nil {
		return nil, payout.Classify(fmt.Errorf("mavryk: simulation failed: %w", err))
	}

	if err := sim.failure(); err != nil {
		return nil, payout.Classify(err)
	}

	if len(sim.Contents) != len(op.Contents) {
		return nil, fmt.Errorf("mavryk: simulation returned %d results for %d operations", len(sim.Contents), len(op.Contents))
	}

	gas := make([]int64, len(op.Contents))
	for i, c := range sim.Contents {
		u, err := c.usage()
		if err != nil {
			return nil, err
		}

		gas[i] = min((u.milligas+999)/1000+gasBuffer, d.hardGas)
		op.Contents[i].GasLimit = strconv.FormatInt(gas[i], 10)
		op.Contents[i].StorageLimit = strconv.FormatInt(min(u.storage+storageBuffer, d.hardStorage), 10)
	}

	forged, err := d.forge(ctx, op)
	if err != nil {
		return nil, err
	}

	size := int64(len(forged)) + signatureSize + feeMarginBytes
	for i := range op.Contents {
		fee := minimalFee + (gas[i]+gasPerMutez-1)/gasPerMutez
		if i == len(op.Contents)-1 {
			fee += size
		}
		op.Contents[i].Fee = strconv.FormatInt(fee, 10)
	}

	return d.forge(ctx, op)
}

func (d *Dispatcher) forge(ctx context.Context, op *operation) ([]byte, error) {
	var forged string
	if err := d.rpc.post(ctx, "/chains/main/blocks/head/helpers/forge/operations", operation{
		Branch:   op.Branch,
		Contents: op.Contents,
	}, &forged); err != nil {
		return nil, fmt.Errorf("mavryk: can't forge operation: %w", err)
	}

	result, err := hex.DecodeString(forged)
	if err != nil {
		return nil, fmt.Errorf("mavryk: forged operation is not hex: %w", err)
	}

	return result, nil
}

// confirm waits for hash to show up in a block after level and reports
// whether it applied.
func (d *Dispatcher) confirm(ctx context.Context, hash string, level int64) error {
	lg := internal.GetLogger(ctx)

	ctx, cancel := context.WithTimeout(ctx, d.confirmTimeout)
	defer cancel()

	t := time.NewTicker(d.pollInterval)
	defer t.Stop()

	next := level + 1

	for {
		var head struct {
			Level int64 `json:"level"`
		}

		err := d.rpc.get(ctx, "/chains/main/blocks/head/header", &head)
		if err != nil {
			lg.Debug("can't get head yet", "op", hash, "err", err)
		}

		for ; err == nil && next <= head.Level; next++ {
			var ops []appliedOperation
			if err = d.rpc.get(ctx, fmt.Sprintf("/chains/main/blocks/%d/operations/3", next), &ops); err != nil {
				lg.Debug("can't read block yet", "op", hash, "level", next, "err", err)
				break
			}

			for _, op := range ops {
				if op.Hash == hash {
					return payout.Classify(op.failure())
				}
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ErrNotConfirmed, hash, context.Cause(ctx))
		case <-t.C:
		}
	}
}
