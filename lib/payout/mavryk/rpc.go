package mavryk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrRPC is a node call that did not return 200. The error text carries the
// node's error payload so contract failure strings survive.
var ErrRPC = errors.New("mavryk: node RPC failed")

// maxErrorBody caps how much of a failed response ends up in an error.
const maxErrorBody = 64 << 10

// rpc is a JSON client for the node's REST interface.
type rpc struct {
	base   string
	client *http.Client
}

func (r *rpc) get(ctx context.Context, path string, out any) error {
	return r.do(ctx, http.MethodGet, path, nil, out)
}

func (r *rpc) post(ctx context.Context, path string, in, out any) error {
	return r.do(ctx, http.MethodPost, path, in, out)
}

func (r *rpc) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("mavryk: can't encode %s body: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(r.base, "/")+path, body)
	if err != nil {
		return fmt.Errorf("mavryk: can't build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrRPC, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s %s: %s: %s", ErrRPC, method, path, resp.Status, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("mavryk: can't decode %s response: %w", path, err)
	}

	return nil
}
