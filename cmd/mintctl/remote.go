package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"nftmint/internal/dapp"
	"nftmint/internal/hmacauth"

	"github.com/google/uuid"
	"github.com/urfave/cli"
)

const idempotencyHeader = "X-Idempotency-Key"

// remote drives a running server over its HTTP API.
type remote struct {
	base   string
	client *http.Client
	signer *hmacauth.Verifier
}

func newRemote(base, secret string) *remote {
	return &remote{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{},
		signer: &hmacauth.Verifier{Secret: secret},
	}
}

type apiError struct {
	Status int
	Code   string `json:"code"`
	Msg    string `json:"error"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (%d %s)", e.Msg, e.Status, e.Code)
}

func (r *remote) do(req *http.Request, out interface{}) error {
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Msg = resp.Status
		}
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (r *remote) post(path, key string, body []byte, out interface{}) error {
	req, err := http.NewRequest(http.MethodPost, r.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	if r.signer.Secret != "" {
		sig, ts := r.signer.Sign(time.Now(), body)
		req.Header.Set(hmacauth.DefaultSignatureHeader, sig)
		req.Header.Set(hmacauth.DefaultTimestampHeader, ts)
	}
	return r.do(req, out)
}

func (r *remote) state(*cli.Context) (dapp.Snapshot, error) {
	req, err := http.NewRequest(http.MethodGet, r.base+"/api/v1/state", nil)
	if err != nil {
		return dapp.Snapshot{}, err
	}
	var snap dapp.Snapshot
	err = r.do(req, &snap)
	return snap, err
}

func (r *remote) connect(*cli.Context) (dapp.Snapshot, error) {
	var out struct {
		Snapshot dapp.Snapshot `json:"snapshot"`
	}
	err := r.post("/api/v1/connect", "", []byte(`{}`), &out)
	return out.Snapshot, err
}

func (r *remote) mint(c *cli.Context) (string, error) {
	key := c.String("key")
	if key == "" {
		key = uuid.NewString()
	}
	var out struct {
		TxHash string `json:"txHash"`
	}
	if err := r.post("/api/v1/mint", key, []byte(`{}`), &out); err != nil {
		return "", err
	}
	return out.TxHash, nil
}

// wait follows the snapshot stream until no attempt is in flight.
func (r *remote) wait(c *cli.Context) (dapp.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+"/api/v1/events", nil)
	if err != nil {
		return dapp.Snapshot{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return dapp.Snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return dapp.Snapshot{}, fmt.Errorf("event stream: %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var snap dapp.Snapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return dapp.Snapshot{}, err
		}
		if snap.Status != "submitting" && snap.Status != "pending_confirmation" {
			return snap, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return dapp.Snapshot{}, err
	}
	return dapp.Snapshot{}, ctx.Err()
}

func (r *remote) close() {
	r.client.CloseIdleConnections()
}
