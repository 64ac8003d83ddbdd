package mavryk

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mavryk-network/mavryk-faucet-backend/lib/config"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/payout"
	"golang.org/x/crypto/blake2b"
)

const (
	testContract  = "KT1BhFRuvKL9E8ggxycsHDf8qS42HLvCrXYr"
	testToken     = "KT1A5hFGc8uGQLZhkpSgTieDd1jEReZkZ65i"
	testRecipient = testSpAddress
	testOpHash    = "oo2m79TBnpUb4CAiijPVJY72nTd22nMZePHJpYCphiLUQ6bLuJN"
	testBranch    = "BLEM7gReMtRLxxYR8E4tVbA8ERuZvsqba2hX93SwqQPtKn5uvZt"
	testChainID   = "NetXtestnet"
)

// fakeNode serves the RPC calls a transfer makes. Zero values make every
// call succeed and include the operation in the next block.
type fakeNode struct {
	t      *testing.T
	public ed25519.PublicKey

	lock sync.Mutex

	revealed     bool
	balance      string
	allocate     bool
	simErrors    string
	simFailure   string
	chainErrors  string
	neverInclude bool

	level    int64
	included int64
	injected []operation
}

func receipt(kind, status, milligas, errs string, allocate bool) map[string]any {
	r := map[string]any{"status": status, "consumed_milligas": milligas}
	if errs != "" {
		r["errors"] = json.RawMessage(errs)
	}

	meta := map[string]any{"operation_result": r}
	if allocate {
		meta["internal_operation_results"] = []any{
			map[string]any{"result": map[string]any{
				"status":                         statusApplied,
				"consumed_milligas":              "100000",
				"allocated_destination_contract": true,
			}},
		}
	}

	return map[string]any{"kind": kind, "metadata": meta}
}

func (f *fakeNode) reply(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		f.t.Error(err)
	}
}

func (f *fakeNode) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /chains/main/chain_id", func(w http.ResponseWriter, r *http.Request) {
		f.reply(w, testChainID)
	})

	mux.HandleFunc("GET /chains/main/blocks/head/context/constants", func(w http.ResponseWriter, r *http.Request) {
		f.reply(w, constants{HardGasLimitPerOperation: "1040000", HardStorageLimitPerOperation: "60000"})
	})

	mux.HandleFunc("GET /chains/main/blocks/head/context/contracts/{id}/balance", func(w http.ResponseWriter, r *http.Request) {
		balance := f.balance
		if balance == "" {
			balance = "0"
		}
		f.reply(w, balance)
	})

	mux.HandleFunc("GET /chains/main/blocks/head/context/contracts/{id}/counter", func(w http.ResponseWriter, r *http.Request) {
		f.reply(w, "41")
	})

	mux.HandleFunc("GET /chains/main/blocks/head/context/contracts/{id}/manager_key", func(w http.ResponseWriter, r *http.Request) {
		if !f.revealed {
			f.reply(w, nil)
			return
		}
		f.reply(w, testEdPublic)
	})

	mux.HandleFunc("GET /chains/main/blocks/head/hash", func(w http.ResponseWriter, r *http.Request) {
		f.reply(w, testBranch)
	})

	mux.HandleFunc("GET /chains/main/blocks/head/header", func(w http.ResponseWriter, r *http.Request) {
		f.lock.Lock()
		defer f.lock.Unlock()
		f.reply(w, map[string]any{"level": f.level})
	})

	mux.HandleFunc("POST /chains/main/blocks/head/helpers/scripts/simulate_operation", func(w http.ResponseWriter, r *http.Request) {
		if f.simFailure != "" {
			http.Error(w, f.simFailure, http.StatusInternalServerError)
			return
		}

		var req simulateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			f.t.Error(err)
			return
		}

		if req.ChainID != testChainID {
			f.t.Errorf("simulated on chain %q", req.ChainID)
		}

		var contents []any
		for _, c := range req.Operation.Contents {
			switch c.Kind {
			case "reveal":
				contents = append(contents, receipt(c.Kind, statusApplied, "1000000", "", false))
			default:
				status := statusApplied
				if f.simErrors != "" {
					status = "failed"
				}
				contents = append(contents, receipt(c.Kind, status, "1500000", f.simErrors, f.allocate))
			}
		}

		f.reply(w, map[string]any{"contents": contents})
	})

	mux.HandleFunc("POST /chains/main/blocks/head/helpers/forge/operations", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			f.t.Error(err)
			return
		}
		f.reply(w, hex.EncodeToString(bytes.TrimSpace(body)))
	})

	mux.HandleFunc("POST /injection/operation", func(w http.ResponseWriter, r *http.Request) {
		var signed string
		if err := json.NewDecoder(r.Body).Decode(&signed); err != nil {
			f.t.Error(err)
			return
		}

		raw, err := hex.DecodeString(signed)
		if err != nil || len(raw) <= signatureSize {
			f.t.Errorf("bad signed operation %q: %v", signed, err)
			return
		}

		forged, sig := raw[:len(raw)-signatureSize], raw[len(raw)-signatureSize:]
		digest := blake2b.Sum256(append([]byte{watermarkGeneric}, forged...))
		if !ed25519.Verify(f.public, digest[:], sig) {
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}

		var op operation
		if err := json.Unmarshal(forged, &op); err != nil {
			f.t.Error(err)
			return
		}

		f.lock.Lock()
		defer f.lock.Unlock()

		f.injected = append(f.injected, op)
		if !f.neverInclude {
			f.level++
			f.included = f.level
		}

		f.reply(w, testOpHash)
	})

	mux.HandleFunc("GET /chains/main/blocks/{level}/operations/3", func(w http.ResponseWriter, r *http.Request) {
		level, err := strconv.ParseInt(r.PathValue("level"), 10, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		f.lock.Lock()
		defer f.lock.Unlock()

		if f.included == 0 || level != f.included {
			f.reply(w, []any{})
			return
		}

		status := statusApplied
		if f.chainErrors != "" {
			status = "failed"
		}

		f.reply(w, []any{map[string]any{
			"hash":     testOpHash,
			"contents": []any{receipt("transaction", status, "1500000", f.chainErrors, false)},
		}})
	})

	return mux
}

func (f *fakeNode) ops() []operation {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.injected
}

func testConfig(url string) Config {
	return Config{
		RPCURL:     url,
		PrivateKey: testEdSeed,
		Contract:   testContract,
	}
}

func newTestDispatcher(t *testing.T, node *fakeNode, mutate func(*Config)) *Dispatcher {
	t.Helper()

	key, err := parseKey(testEdSeed)
	if err != nil {
		t.Fatal(err)
	}

	node.t = t
	node.public = key.publicKeyBytes()
	if node.level == 0 {
		node.level = 10
	}

	srv := httptest.NewServer(node.handler())
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	cfg.HTTPClient = srv.Client()
	if mutate != nil {
		mutate(&cfg)
	}

	d, err := New(t.Context(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	d.pollInterval = time.Millisecond

	return d
}

func TestConfigValid(t *testing.T) {
	for _, tt := range []struct {
		name   string
		mutate func(c *Config)
		err    error
	}{
		{name: "good", mutate: func(*Config) {}},
		{name: "secp256k1 key", mutate: func(c *Config) { c.PrivateKey = testSpKey }},
		{name: "no rpc", mutate: func(c *Config) { c.RPCURL = "" }, err: ErrNoRPCURL},
		{name: "relative rpc", mutate: func(c *Config) { c.RPCURL = "node:8732" }, err: ErrBadRPCURL},
		{name: "no key", mutate: func(c *Config) { c.PrivateKey = "" }, err: ErrNoPrivateKey},
		{name: "hex key", mutate: func(c *Config) { c.PrivateKey = "0x0101" }, err: ErrBadPrivateKey},
		{name: "no contract", mutate: func(c *Config) { c.Contract = "" }, err: ErrNoContract},
		{name: "implicit contract", mutate: func(c *Config) { c.Contract = testEdAddress }, err: ErrBadContract},
		{name: "evm contract", mutate: func(c *Config) { c.Contract = "0x5FbDB2315678afecb367f032d93F642f64180aa3" }, err: ErrBadContract},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("http://127.0.0.1:8732")
			tt.mutate(&cfg)

			if err := cfg.Valid(); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}

func TestNewReadsChain(t *testing.T) {
	d := newTestDispatcher(t, &fakeNode{}, nil)

	if d.chainID != testChainID {
		t.Errorf("wanted chain ID %s, got: %s", testChainID, d.chainID)
	}

	if d.hardGas != 1040000 || d.hardStorage != 60000 {
		t.Errorf("wrong limits: gas %d, storage %d", d.hardGas, d.hardStorage)
	}

	addr, err := d.Address(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	if addr != testEdAddress {
		t.Errorf("wanted faucet address %s, got: %s", testEdAddress, addr)
	}
}

func TestNewNodeDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	if _, err := New(t.Context(), testConfig(srv.URL)); !errors.Is(err, ErrRPC) {
		t.Errorf("wanted ErrRPC, got: %v", err)
	}
}

func TestTransfer(t *testing.T) {
	native := config.Asset{Name: "mvrk", Decimals: 6}
	token := config.Asset{Name: "usdt", TokenAddress: testToken, Decimals: 6}

	for _, tt := range []struct {
		name       string
		node       *fakeNode
		maxBalance float64
		asset      config.Asset
		recipient  string
		err        error
		wantOps    int
	}{
		{
			name:    "reveal then call",
			node:    &fakeNode{allocate: true},
			asset:   native,
			wantOps: 1,
		},
		{
			name:    "revealed faucet sends a token",
			node:    &fakeNode{revealed: true},
			asset:   token,
			wantOps: 1,
		},
		{
			name:       "native balance over limit",
			node:       &fakeNode{balance: "500000000"},
			maxBalance: 100,
			asset:      native,
			err:        payout.ErrRecipientFunded,
		},
		{
			name:       "native balance under limit",
			node:       &fakeNode{balance: "5"},
			maxBalance: 100,
			asset:      native,
			wantOps:    1,
		},
		{
			name:       "token ignores the native limit",
			node:       &fakeNode{balance: "500000000"},
			maxBalance: 100,
			asset:      token,
			wantOps:    1,
		},
		{
			name:  "contract rejects in simulation",
			node:  &fakeNode{simErrors: `[{"kind":"temporary","id":"proto.alpha.michelson_v1.script_rejected","with":{"string":"ERROR_USER_ALREADY_CLAIMED_TOKEN"}}]`},
			asset: token,
			err:   payout.ErrAlreadyClaimedAsset,
		},
		{
			name:  "node refuses the simulation",
			node:  &fakeNode{simFailure: `[{"kind":"temporary","id":"proto.alpha.michelson_v1.script_rejected","with":{"string":"FA2_INSUFFICIENT_BALANCE"}}]`},
			asset: token,
			err:   payout.ErrFaucetExhausted,
		},
		{
			name:    "failed on chain",
			node:    &fakeNode{chainErrors: `[{"kind":"temporary","id":"proto.alpha.michelson_v1.script_rejected","with":{"string":"ERROR_TOKEN_BALANCE_TOO_LOW"}}]`},
			asset:   token,
			err:     payout.ErrBalanceTooLow,
			wantOps: 1,
		},
		{
			name:      "contract recipient",
			node:      &fakeNode{},
			asset:     native,
			recipient: testContract,
			err:       ErrBadRecipient,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDispatcher(t, tt.node, func(c *Config) { c.MaxBalance = tt.maxBalance })

			recipient := tt.recipient
			if recipient == "" {
				recipient = testRecipient
			}

			hash, err := d.Transfer(t.Context(), recipient, 5, tt.asset)
			if !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Fatal("wrong error")
			}

			ops := tt.node.ops()
			if len(ops) != tt.wantOps {
				t.Fatalf("wanted %d operations injected, got: %d", tt.wantOps, len(ops))
			}

			if tt.err != nil {
				return
			}

			if hash != testOpHash {
				t.Errorf("wanted hash %s, got: %s", testOpHash, hash)
			}

			op := ops[0]
			if op.Branch != testBranch {
				t.Errorf("wrong branch: %s", op.Branch)
			}

			wantContents := 2
			if tt.node.revealed {
				wantContents = 1
			}
			if len(op.Contents) != wantContents {
				t.Fatalf("wanted %d contents, got: %d", wantContents, len(op.Contents))
			}

			if !tt.node.revealed {
				reveal := op.Contents[0]
				if reveal.Kind != "reveal" || reveal.PublicKey != testEdPublic || reveal.Counter != "42" {
					t.Errorf("bad reveal: %+v", reveal)
				}
				if reveal.GasLimit != "1100" || reveal.Fee != "210" {
					t.Errorf("reveal priced wrong: gas %s, fee %s", reveal.GasLimit, reveal.Fee)
				}
			}

			call := op.Contents[len(op.Contents)-1]
			if call.Kind != "transaction" || call.Destination != testContract || call.Source != testEdAddress {
				t.Errorf("bad call: %+v", call)
			}

			wantCounter := "42"
			if !tt.node.revealed {
				wantCounter = "43"
			}
			if call.Counter != wantCounter {
				t.Errorf("wanted counter %s, got: %s", wantCounter, call.Counter)
			}

			wantGas := "1600"
			wantStorage := "20"
			if tt.node.allocate {
				wantGas = "1700"
				wantStorage = strconv.Itoa(originationSize + storageBuffer)
			}
			if call.GasLimit != wantGas || call.StorageLimit != wantStorage {
				t.Errorf("wanted gas %s and storage %s, got: %s and %s", wantGas, wantStorage, call.GasLimit, call.StorageLimit)
			}

			fee, err := strconv.ParseInt(call.Fee, 10, 64)
			if err != nil {
				t.Fatal(err)
			}
			if fee <= minimalFee+signatureSize {
				t.Errorf("fee %d does not pay for the operation size", fee)
			}

			if call.Parameters == nil || call.Parameters.Entrypoint != "requestToken" {
				t.Fatalf("wrong entrypoint: %+v", call.Parameters)
			}

			wantToken := NativeToken
			if !tt.asset.Native() {
				wantToken = tt.asset.TokenAddress
			}

			want, err := json.Marshal(requestTokenValue(wantToken, tt.asset.TokenID, recipient))
			if err != nil {
				t.Fatal(err)
			}
			got, err := json.Marshal(call.Parameters.Value)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(want, got) {
				t.Logf("want: %s", want)
				t.Logf("got:  %s", got)
				t.Error("wrong requestToken argument")
			}
		})
	}
}

func TestTransferNotConfirmed(t *testing.T) {
	node := &fakeNode{neverInclude: true}
	d := newTestDispatcher(t, node, func(c *Config) { c.ConfirmTimeout = 20 * time.Millisecond })

	if _, err := d.Transfer(t.Context(), testRecipient, 5, config.Asset{Name: "mvrk", Decimals: 6}); !errors.Is(err, ErrNotConfirmed) {
		t.Errorf("wanted ErrNotConfirmed, got: %v", err)
	}

	if got := len(node.ops()); got != 1 {
		t.Errorf("wanted one injection, got: %d", got)
	}
}

func TestFailure(t *testing.T) {
	var op appliedOperation
	if err := json.Unmarshal([]byte(`{"hash":"x","contents":[{"kind":"transaction","metadata":{
		"operation_result":{"status":"applied"},
		"internal_operation_results":[{"result":{"status":"backtracked","errors":[{"id":"FA2_INSUFFICIENT_BALANCE"}]}}]}}]}`), &op); err != nil {
		t.Fatal(err)
	}

	err := op.failure()
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("wanted ErrFailed, got: %v", err)
	}

	if !errors.Is(payout.Classify(err), payout.ErrFaucetExhausted) {
		t.Errorf("internal failure was not classified: %v", err)
	}
}
