// Package evm pays out through a faucet contract on an EVM chain.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/mavryk-network/mavryk-faucet-backend/internal"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/config"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/payout"
)

var (
	ErrNoRPCURL      = errors.New("evm.Config: no RPC URL defined")
	ErrNoPrivateKey  = errors.New("evm.Config: no faucet private key defined")
	ErrBadPrivateKey = errors.New("evm.Config: faucet private key is invalid")
	ErrNoContract    = errors.New("evm.Config: no faucet contract address defined")
	ErrBadContract   = errors.New("evm.Config: faucet contract address is invalid")
	ErrBadRecipient  = errors.New("evm: recipient is not a hex address")
	ErrReverted      = errors.New("evm: transaction reverted")
	ErrNotMined      = errors.New("evm: transaction was not mined in time")
)

// faucetABI holds the two calls the dispatcher makes.
const faucetABI = `[
	{"type":"function","name":"requestToken","stateMutability":"nonpayable","inputs":[
		{"name":"token","type":"address"},
		{"name":"tokenId","type":"uint256"},
		{"name":"user","type":"address"},
		{"name":"amount","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
		{"name":"account","type":"address"}
	],"outputs":[{"name":"","type":"uint256"}]}
]`

// Client is the subset of *ethclient.Client the dispatcher uses.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config is everything the dispatcher needs. All of it comes from flags.
type Config struct {
	RPCURL     string
	PrivateKey string
	Contract   string
	// ChainID is asked from the node when zero.
	ChainID int64
	// MaxBalance declines recipients already holding this much. Zero
	// disables the check.
	MaxBalance float64
	// ReceiptTimeout bounds how long Transfer waits for the transaction
	// to be mined.
	ReceiptTimeout time.Duration
}

func (c Config) Valid() error {
	var errs []error

	if c.RPCURL == "" {
		errs = append(errs, ErrNoRPCURL)
	}

	switch {
	case c.PrivateKey == "":
		errs = append(errs, ErrNoPrivateKey)
	default:
		if _, err := crypto.HexToECDSA(strings.TrimPrefix(c.PrivateKey, "0x")); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrBadPrivateKey, err))
		}
	}

	switch {
	case c.Contract == "":
		errs = append(errs, ErrNoContract)
	case !common.IsHexAddress(c.Contract):
		errs = append(errs, fmt.Errorf("%w: %q", ErrBadContract, c.Contract))
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Dispatcher implements payout.Dispatcher.
type Dispatcher struct {
	client         Client
	abi            abi.ABI
	key            *ecdsa.PrivateKey
	from           common.Address
	contract       common.Address
	chainID        *big.Int
	maxBalance     float64
	receiptTimeout time.Duration
	pollInterval   time.Duration
}

var _ payout.Dispatcher = (*Dispatcher)(nil)

// Dial connects to the node at cfg.RPCURL and builds a Dispatcher on it.
func Dial(ctx context.Context, cfg Config) (*Dispatcher, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm: can't connect to %s: %w", cfg.RPCURL, err)
	}

	result, err := New(ctx, client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}

	go func() {
		<-ctx.Done()
		client.Close()
	}()

	return result, nil
}

// New builds a Dispatcher on an existing client.
func New(ctx context.Context, client Client, cfg Config) (*Dispatcher, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadPrivateKey, err)
	}

	parsed, err := abi.JSON(strings.NewReader(faucetABI))
	if err != nil {
		return nil, fmt.Errorf("evm: can't parse faucet ABI: %w", err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		if chainID, err = client.ChainID(ctx); err != nil {
			return nil, fmt.Errorf("evm: can't get chain ID: %w", err)
		}
	}

	timeout := cfg.ReceiptTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Dispatcher{
		client:         client,
		abi:            parsed,
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		contract:       common.HexToAddress(cfg.Contract),
		chainID:        chainID,
		maxBalance:     cfg.MaxBalance,
		receiptTimeout: timeout,
		pollInterval:   time.Second,
	}, nil
}

func (d *Dispatcher) Address(context.Context) (string, error) {
	return d.from.Hex(), nil
}

// Transfer asks the faucet contract to send amount of asset to recipient and
// waits for the transaction to be mined.
func (d *Dispatcher) Transfer(ctx context.Context, recipient string, amount float64, asset config.Asset) (string, error) {
	if !common.IsHexAddress(recipient) {
		return "", fmt.Errorf("%w: %q", ErrBadRecipient, recipient)
	}
	to := common.HexToAddress(recipient)

	var token common.Address
	if !asset.Native() {
		token = common.HexToAddress(asset.TokenAddress)
	}

	if err := d.checkBalance(ctx, to, token, asset); err != nil {
		return "", err
	}

	units, err := payout.BaseUnits(amount, asset.Decimals)
	if err != nil {
		return "", err
	}

	data, err := d.abi.Pack("requestToken", token, big.NewInt(asset.TokenID), to, units)
	if err != nil {
		return "", fmt.Errorf("evm: can't pack requestToken: %w", err)
	}

	tx, err := d.buildTx(ctx, data)
	if err != nil {
		return "", err
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(d.chainID), d.key)
	if err != nil {
		return "", fmt.Errorf("evm: can't sign transaction: %w", err)
	}

	if err := d.client.SendTransaction(ctx, signed); err != nil {
		return "", payout.Classify(fmt.Errorf("evm: can't send transaction: %w", err))
	}

	internal.GetLogger(ctx).Debug("transaction sent", "tx", signed.Hash().Hex(), "nonce", signed.Nonce())

	receipt, err := d.waitMined(ctx, signed.Hash())
	if err != nil {
		return "", err
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", d.revertReason(ctx, data, receipt)
	}

	return signed.Hash().Hex(), nil
}

// checkBalance declines recipients that already hold maxBalance of asset.
func (d *Dispatcher) checkBalance(ctx context.Context, to, token common.Address, asset config.Asset) error {
	if d.maxBalance <= 0 {
		return nil
	}

	limit, err := payout.BaseUnits(d.maxBalance, asset.Decimals)
	if err != nil {
		return err
	}

	var balance *big.Int
	switch asset.Native() {
	case true:
		if balance, err = d.client.BalanceAt(ctx, to, nil); err != nil {
			return fmt.Errorf("evm: can't get balance of %s: %w", to.Hex(), err)
		}
	case false:
		data, err := d.abi.Pack("balanceOf", to)
		if err != nil {
			return fmt.Errorf("evm: can't pack balanceOf: %w", err)
		}

		out, err := d.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
		if err != nil {
			return fmt.Errorf("evm: can't get %s balance of %s: %w", asset.Name, to.Hex(), err)
		}

		vals, err := d.abi.Unpack("balanceOf", out)
		if err != nil || len(vals) != 1 {
			return fmt.Errorf("evm: can't decode balanceOf result: %w", err)
		}

		var ok bool
		if balance, ok = vals[0].(*big.Int); !ok {
			return fmt.Errorf("evm: balanceOf returned %T", vals[0])
		}
	}

	if balance.Cmp(limit) >= 0 {
		return fmt.Errorf("%w: %s holds %s", payout.ErrRecipientFunded, to.Hex(), balance)
	}

	return nil
}

// buildTx makes a dynamic fee transaction on London chains and a legacy one
// everywhere else. Gas estimation runs the call, so contract rejections show
// up here with their revert reason.
func (d *Dispatcher) buildTx(ctx context.Context, data []byte) (*types.Transaction, error) {
	msg := ethereum.CallMsg{From: d.from, To: &d.contract, Data: data}

	gas, err := d.client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, payout.Classify(fmt.Errorf("evm: can't estimate gas: %w", err))
	}

	nonce, err := d.client.PendingNonceAt(ctx, d.from)
	if err != nil {
		return nil, fmt.Errorf("evm: can't get nonce: %w", err)
	}

	head, err := d.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: can't get latest header: %w", err)
	}

	if head.BaseFee == nil {
		gasPrice, err := d.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("evm: can't get gas price: %w", err)
		}

		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gas,
			To:       &d.contract,
			Data:     data,
		}), nil
	}

	tip, err := d.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("evm: can't get gas tip cap: %w", err)
	}

	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   d.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &d.contract,
		Data:      data,
	}), nil
}

func (d *Dispatcher) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, d.receiptTimeout)
	defer cancel()

	t := time.NewTicker(d.pollInterval)
	defer t.Stop()

	for {
		receipt, err := d.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			return receipt, nil
		case errors.Is(err, ethereum.NotFound):
		default:
			internal.GetLogger(ctx).Debug("can't get receipt yet", "tx", hash.Hex(), "err", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrNotMined, hash.Hex(), context.Cause(ctx))
		case <-t.C:
		}
	}
}

// revertReason replays a failed call at its block to recover the reason.
func (d *Dispatcher) revertReason(ctx context.Context, data []byte, receipt *types.Receipt) error {
	msg := ethereum.CallMsg{From: d.from, To: &d.contract, Data: data, Gas: receipt.GasUsed}

	if _, err := d.client.CallContract(ctx, msg, receipt.BlockNumber); err != nil {
		return payout.Classify(fmt.Errorf("%w: %s: %w", ErrReverted, receipt.TxHash.Hex(), err))
	}

	return fmt.Errorf("%w: %s", ErrReverted, receipt.TxHash.Hex())
}
