package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/facebookgo/flagenv"
	"github.com/joho/godotenv"
	"github.com/mavryk-network/mavryk-faucet-backend"
	"github.com/mavryk-network/mavryk-faucet-backend/cmd/faucet/internal/entrypoint"
)

var (
	bind             = flag.String("bind", ":3000", "TCP address to serve the faucet API on")
	metricsBind      = flag.String("metrics-bind", ":9090", "TCP address to serve prometheus metrics on, empty to disable")
	configFname      = flag.String("config", "", "Configuration file (YAML), the embedded defaults are used when empty")
	slogLevel        = flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")
	rpcURL           = flag.String("rpc-url", "", "RPC endpoint of the chain node")
	faucetPrivateKey = flag.String("faucet-private-key", "", "faucet account secret key: edsk or spsk on Mavryk, hex on EVM")
	faucetContract   = flag.String("faucet-contract", "", "address of the faucet contract (KT1 on Mavryk)")
	chainID          = flag.Int64("chain-id", 0, "EVM chain ID to sign for, asked from the node when 0")
	captchaSecret    = flag.String("captcha-secret", "", "captcha siteverify secret")
	captchaVerifyURL = flag.String("captcha-verify-url", "", "captcha siteverify endpoint")
	versionFlag      = flag.Bool("version", false, "if true, show version information then quit")
)

func main() {
	// A missing .env is fine, everything can come from the environment.
	_ = godotenv.Load()

	flagenv.Parse()
	flag.Parse()

	if *versionFlag {
		fmt.Println("mavryk-faucet-backend", faucet.Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := entrypoint.Main(ctx, entrypoint.Options{
		Bind:             *bind,
		MetricsBind:      *metricsBind,
		ConfigFname:      *configFname,
		SlogLevel:        *slogLevel,
		RPCURL:           *rpcURL,
		FaucetPrivateKey: *faucetPrivateKey,
		FaucetContract:   *faucetContract,
		ChainID:          *chainID,
		CaptchaSecret:    *captchaSecret,
		CaptchaVerifyURL: *captchaVerifyURL,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
