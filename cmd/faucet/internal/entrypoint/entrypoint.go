// Package entrypoint wires configuration, stores, the chain adapter and the
// HTTP servers together and runs them until the context ends.
package entrypoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mavryk-network/mavryk-faucet-backend"
	"github.com/mavryk-network/mavryk-faucet-backend/data"
	"github.com/mavryk-network/mavryk-faucet-backend/internal"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/address"
	"github.com/mavryk-network/mavryk-faucet-backend/lib"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/captcha"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/challenge"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/config"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/logging"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/payout"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/payout/evm"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/payout/mavryk"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/pow"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds how long in-flight requests get after a signal.
const shutdownTimeout = 30 * time.Second

type Options struct {
	Bind        string
	MetricsBind string
	ConfigFname string
	SlogLevel   string

	RPCURL           string
	FaucetPrivateKey string
	FaucetContract   string
	// ChainID pins the EVM chain ID. Mavryk reads it from the node.
	ChainID int64

	CaptchaSecret    string
	CaptchaVerifyURL string

	// Dispatcher replaces the chain adapter built from the RPC options.
	Dispatcher payout.Dispatcher
}

func Main(ctx context.Context, opts Options) error {
	cfg, err := loadConfig(opts.ConfigFname)
	if err != nil {
		return err
	}

	h, closer, err := logging.Setup(cfg.Logging, opts.SlogLevel)
	if err != nil {
		return err
	}
	defer closer.Close()

	lg := slog.New(h)
	slog.SetDefault(lg)

	// Stores, the chain client and the payout actor outlive ctx so requests
	// still in flight during shutdown can finish.
	bgCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	disp := opts.Dispatcher
	if disp == nil {
		d, err := dial(bgCtx, cfg, opts)
		if err != nil {
			return fmt.Errorf("%w: can't set up payouts: %w", faucet.ErrMisconfiguration, err)
		}
		disp = d
	}
	disp = payout.Serialize(bgCtx, disp)

	var verifier captcha.Verifier
	if cfg.Captcha.Enabled {
		sv, err := captcha.NewSiteVerify(opts.CaptchaSecret, opts.CaptchaVerifyURL)
		if err != nil {
			return fmt.Errorf("%w: captcha is enabled: %w", faucet.ErrMisconfiguration, err)
		}
		verifier = sv
	}

	var sessions *challenge.Service
	if cfg.Challenges.Enabled {
		st, err := buildStore(bgCtx, cfg.Store)
		if err != nil {
			return err
		}

		if !st.IsPersistent() {
			lg.Warn("challenge sessions are kept in memory, they will be lost on restart and are not shared between instances", "backend", cfg.Store.Backend)
		}

		sessions = challenge.New(pow.NewGenerator(cfg.Challenges), st, cfg.Challenges.TTL())
	} else {
		lg.Info("challenges are disabled, not opening a session store")
	}

	srv, err := lib.New(lib.Options{
		Challenges: cfg.Challenges,
		Captcha:    cfg.Captcha,
		Payout:     cfg.Payout,
		HTTP:       cfg.HTTP,
		Sessions:   sessions,
		Gate:       payout.NewGate(disp, cfg.Assets),
		Verifier:   verifier,
		Logger:     lg,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	if address, err := disp.Address(ctx); err == nil {
		lg.Info("faucet account", "address", address)
	}

	errorLog := log.New(&internal.ErrorLogFilter{Unwrap: logging.StdlibLogger(h, slog.LevelError, slog.String("component", "http_server"))}, "", 0)

	servers := []*http.Server{
		{
			Addr:              opts.Bind,
			Handler:           srv,
			ErrorLog:          errorLog,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	if opts.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{
			Addr:              opts.MetricsBind,
			Handler:           mux,
			ErrorLog:          errorLog,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	g, gCtx := errgroup.WithContext(ctx)

	for _, hs := range servers {
		g.Go(func() error {
			lg.Info("listening", "addr", hs.Addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("can't serve on %s: %w", hs.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		lg.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, hs := range servers {
			if err := hs.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("can't shut down %s: %w", hs.Addr, err))
			}
		}

		return errors.Join(errs...)
	})

	err = g.Wait()
	lg.Info("HTTP servers closed")
	return err
}

// loadConfig reads fname, or the embedded defaults when fname is empty.
func loadConfig(fname string) (*config.Config, error) {
	if fname == "" {
		return config.Load(bytes.NewReader(data.DefaultConfig), "(embedded)")
	}

	fin, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", config.ErrCantReadFile, fname, err)
	}
	defer fin.Close()

	return config.Load(fin, fname)
}

func buildStore(ctx context.Context, cfg *config.Store) (store.Interface, error) {
	fac, ok := store.Get(cfg.Backend)
	if !ok {
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownStoreBackend, cfg.Backend)
	}

	st, err := fac.Build(ctx, cfg.Parameters)
	if err != nil {
		return nil, fmt.Errorf("can't open %s session store: %w", cfg.Backend, err)
	}

	return st, nil
}

// dial builds the chain adapter for the configured payout network.
func dial(ctx context.Context, cfg *config.Config, opts Options) (payout.Dispatcher, error) {
	switch cfg.Payout.Network {
	case address.EVM:
		return evm.Dial(ctx, evm.Config{
			RPCURL:     opts.RPCURL,
			PrivateKey: opts.FaucetPrivateKey,
			Contract:   opts.FaucetContract,
			ChainID:    opts.ChainID,
			MaxBalance: cfg.Payout.MaxBalance,
		})
	case address.Mavryk, "":
		return mavryk.New(ctx, mavryk.Config{
			RPCURL:     opts.RPCURL,
			PrivateKey: opts.FaucetPrivateKey,
			Contract:   opts.FaucetContract,
			MaxBalance: cfg.Payout.MaxBalance,
		})
	default:
		return nil, fmt.Errorf("%w: %q", address.ErrUnknownNetwork, cfg.Payout.Network)
	}
}
