package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"feed-attestor/internal/manifest"
	"feed-attestor/internal/ratify"
)

// Identity prints the oracle address and agent id.
func (a *App) Identity() error {
	id, err := a.loadIdentity()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "address:  %s\nagent_id: %s\n", id.Address().Hex(), id.AgentID())
	return nil
}

// VerifyOptions identify a signature to check.
type VerifyOptions struct {
	Hash      string
	Signature string
	// Address defaults to the configured identity.
	Address string
}

// Verify recovers the signer of a manifest hash and compares it to the expected address.
func (a *App) Verify(opts VerifyOptions) error {
	hash, err := parseHash(opts.Hash)
	if err != nil {
		return err
	}
	sig, err := hexutil.Decode(ensure0x(opts.Signature))
	if err != nil {
		return fmt.Errorf("signature: %w", err)
	}

	var expected common.Address
	switch {
	case opts.Address != "":
		if !common.IsHexAddress(opts.Address) {
			return fmt.Errorf("address %q is not valid", opts.Address)
		}
		expected = common.HexToAddress(opts.Address)
	default:
		id, err := a.loadIdentity()
		if err != nil {
			return fmt.Errorf("no --address given and %w", err)
		}
		expected = id.Address()
	}

	signer, err := manifest.Recover(hash, sig)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "message: %s\nsigner:  %s\n", manifest.RatifyMessage(hash), signer.Hex())
	if signer != expected {
		return fmt.Errorf("signature does not match %s", expected.Hex())
	}
	fmt.Fprintln(a.Out, "valid:   true")
	return nil
}

// RatifyOptions describe the proposing pipe of a ratification.
type RatifyOptions struct {
	Hash string
	// PipeAKey signs locally; otherwise PipeASignature and PipeAAddress are required.
	PipeAKey       string
	PipeASignature string
	PipeAAddress   string
}

// Ratify counter-signs hash as pipe B and submits both signatures.
func (a *App) Ratify(ctx context.Context, opts RatifyOptions) error {
	hash, err := parseHash(opts.Hash)
	if err != nil {
		return err
	}

	oracle, err := a.loadIdentity()
	if err != nil {
		return err
	}
	pipeB, err := manifest.NewSigner(oracle)
	if err != nil {
		return err
	}
	sigB, err := pipeB.SignHash(hash)
	if err != nil {
		return err
	}

	sigA, addrA, err := pipeASignature(hash, opts)
	if err != nil {
		return err
	}

	req, err := ratify.NewRequest(hash, sigA, addrA, sigB, oracle.Address())
	if err != nil {
		return err
	}

	client := ratify.NewClient(a.Config.Ratify.URL, a.Config.Ratify.Timeout, a.Logger)
	resp, err := client.Submit(ctx, req)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "status: %d\n", resp.StatusCode)
	if len(resp.Body) > 0 {
		pretty, err := json.MarshalIndent(resp.Body, "", "  ")
		if err != nil {
			pretty = resp.Body
		}
		fmt.Fprintf(a.Out, "response: %s\n", pretty)
	}
	if !resp.OK() {
		return fmt.Errorf("ratification rejected with status %d", resp.StatusCode)
	}
	return nil
}

func pipeASignature(hash common.Hash, opts RatifyOptions) ([]byte, common.Address, error) {
	if opts.PipeAKey != "" {
		id, err := manifest.LoadIdentity(opts.PipeAKey)
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("pipe A: %w", err)
		}
		signer, err := manifest.NewSigner(id)
		if err != nil {
			return nil, common.Address{}, err
		}
		sig, err := signer.SignHash(hash)
		return sig, id.Address(), err
	}

	if opts.PipeASignature == "" || opts.PipeAAddress == "" {
		return nil, common.Address{}, errors.New("pipe A needs either a key or a signature and address")
	}
	if !common.IsHexAddress(opts.PipeAAddress) {
		return nil, common.Address{}, fmt.Errorf("pipe A address %q is not valid", opts.PipeAAddress)
	}
	sig, err := hexutil.Decode(ensure0x(opts.PipeASignature))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("pipe A signature: %w", err)
	}
	return sig, common.HexToAddress(opts.PipeAAddress), nil
}

func parseHash(s string) (common.Hash, error) {
	raw, err := hexutil.Decode(ensure0x(s))
	if err != nil {
		return common.Hash{}, fmt.Errorf("manifest hash: %w", err)
	}
	if len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("manifest hash must be %d bytes, got %d", common.HashLength, len(raw))
	}
	return common.BytesToHash(raw), nil
}

func ensure0x(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}
