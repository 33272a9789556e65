// Package ratify submits dual-signed manifests to the remote ratification service.
package ratify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"

	"feed-attestor/internal/manifest"
)

// Request is the ratification payload. Pipe A is the proposing agent, pipe B the oracle.
type Request struct {
	ManifestHash   string `json:"manifestHash"`
	PipeASignature string `json:"pipeASignature"`
	PipeBSignature string `json:"pipeBSignature"`
	PipeAAddress   string `json:"pipeAAddress"`
	PipeBAddress   string `json:"pipeBAddress"`
}

// Response carries the status and the decoded body of the service.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// OK reports a 200 response.
func (r Response) OK() bool {
	return r.StatusCode == http.StatusOK
}

// Client posts ratification requests.
type Client struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewClient builds a ratification client for url.
func NewClient(url string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "ratify_client").Logger(),
	}
}

// NewRequest builds a request from two signatures over hash. Both signatures are checked
// against their claimed addresses before anything is sent.
func NewRequest(hash common.Hash, pipeASig []byte, pipeA common.Address, pipeBSig []byte, pipeB common.Address) (Request, error) {
	for _, pipe := range []struct {
		name string
		sig  []byte
		addr common.Address
	}{{"pipe A", pipeASig, pipeA}, {"pipe B", pipeBSig, pipeB}} {
		ok, err := manifest.Verify(hash, pipe.sig, pipe.addr)
		if err != nil {
			return Request{}, fmt.Errorf("%s signature: %w", pipe.name, err)
		}
		if !ok {
			return Request{}, fmt.Errorf("%s signature does not recover to %s", pipe.name, pipe.addr.Hex())
		}
	}
	return Request{
		ManifestHash:   hash.Hex(),
		PipeASignature: hexutil.Encode(pipeASig),
		PipeBSignature: hexutil.Encode(pipeBSig),
		PipeAAddress:   pipeA.Hex(),
		PipeBAddress:   pipeB.Hex(),
	}, nil
}

// Submit posts req. A non-200 status is returned in Response, not as an error.
func (c *Client) Submit(ctx context.Context, req Request) (Response, error) {
	if c.url == "" {
		return Response{}, fmt.Errorf("ratify url not configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal ratify request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create ratify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send ratify request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read ratify response: %w", err)
	}

	out := Response{StatusCode: resp.StatusCode}
	if json.Valid(payload) {
		out.Body = payload
	} else if len(payload) > 0 {
		quoted, _ := json.Marshal(strings.TrimSpace(string(payload)))
		out.Body = quoted
	}

	c.logger.Info().
		Str("manifest_hash", req.ManifestHash).
		Int("status", resp.StatusCode).
		Msg("ratification submitted")
	return out, nil
}
