package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feed-attestor/internal/alerting"
	"feed-attestor/internal/config"
	"feed-attestor/internal/inference"
	"feed-attestor/internal/manifest"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type fakeEngine struct {
	outcomes map[string]inference.Outcome
	failing  map[string]bool
	hanging  map[string]bool
}

func (f *fakeEngine) Infer(ctx context.Context, asset, _ string) (inference.Outcome, error) {
	if f.hanging[asset] {
		<-ctx.Done()
		return inference.Outcome{Asset: asset, Reason: inference.ReasonDataRetrievalFailure}, fmt.Errorf("%w: %w", inference.ErrDataRetrieval, ctx.Err())
	}
	if f.failing[asset] {
		return inference.Outcome{Asset: asset, Reason: inference.ReasonDataRetrievalFailure}, inference.ErrDataRetrieval
	}
	return f.outcomes[asset], nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	audits []SignedAudit
}

func (r *recordingPublisher) Publish(_ context.Context, a SignedAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, a)
	return errors.New("broker down")
}

type countingRecorder struct {
	mu       sync.Mutex
	signed   int
	observed int
}

func (c *countingRecorder) Signed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signed++
}

func (c *countingRecorder) ObserveAudit(string, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observed++
}

func outcome(asset string, reason inference.Reason, verdict inference.Verdict, value string) inference.Outcome {
	price := decimal.RequireFromString(value)
	return inference.Outcome{
		Asset:     asset,
		FairValue: price,
		Reason:    reason,
		Verdict:   verdict,
		Report: inference.Report{
			Asset:          asset,
			ReferencePrice: price,
			StreetPrice:    price,
			Deviation:      decimal.Zero,
			ThresholdUsed:  decimal.RequireFromString("0.02"),
			MarketEntropy:  decimal.RequireFromString("0.01"),
			Timestamp:      1_760_000_000,
		},
	}
}

func newSigner(t *testing.T) *manifest.Signer {
	t.Helper()
	id, err := manifest.LoadIdentity(testKey)
	require.NoError(t, err)
	signer, err := manifest.NewSigner(id)
	require.NoError(t, err)
	return signer
}

var registry = []config.AssetConfig{
	{Symbol: "BTC", Feed: "0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c"},
	{Symbol: "USDC", Feed: "0x8fFfFfd4AfB6115b954Bd326cbe7B4BA576818f6"},
	{Symbol: "JPY", Feed: "0xBcE206caE7f0ec07b545EddE332A47C2F75bbeb3"},
}

func TestAuditAllIsolatesFailures(t *testing.T) {
	engine := &fakeEngine{
		outcomes: map[string]inference.Outcome{
			"BTC": outcome("BTC", inference.ReasonChainlinkValidated, inference.VerdictValidated, "65000"),
			"JPY": outcome("JPY", inference.ReasonHiccupDetected, inference.VerdictCompensated, "0.0067"),
		},
		failing: map[string]bool{"USDC": true},
	}
	notifier := &recordingNotifier{}
	publisher := &recordingPublisher{}
	recorder := &countingRecorder{}

	auditor, err := New(engine, newSigner(t), registry, Options{
		MaxConcurrency: 2,
		Notifier:       notifier,
		Publisher:      publisher,
		Recorder:       recorder,
	}, zerolog.Nop())
	require.NoError(t, err)

	round, err := auditor.AuditAll(context.Background())
	require.NoError(t, err)

	require.Len(t, round.Audits, 2)
	assert.Equal(t, "BTC", round.Audits[0].Asset)
	assert.Equal(t, "JPY", round.Audits[1].Asset)
	require.Len(t, round.Failures, 1)
	assert.Equal(t, "USDC", round.Failures[0].Asset)
	assert.Equal(t, "DataRetrievalFailure", round.Failures[0].Reason)

	// only the compensated outcome alerts
	require.Len(t, notifier.notes, 1)
	assert.Equal(t, "JPY", notifier.notes[0].Asset)
	assert.Equal(t, "HiccupDetected", notifier.notes[0].Reason)

	// publish errors are logged, not returned
	assert.Len(t, publisher.audits, 2)
	assert.Equal(t, 2, recorder.signed)
	assert.Equal(t, 3, recorder.observed)
}

func TestAuditAllKeepsAuditsWhenRoundDeadlineExpires(t *testing.T) {
	engine := &fakeEngine{
		outcomes: map[string]inference.Outcome{
			"BTC":  outcome("BTC", inference.ReasonChainlinkValidated, inference.VerdictValidated, "65000"),
			"USDC": outcome("USDC", inference.ReasonChainlinkValidated, inference.VerdictValidated, "1"),
		},
		hanging: map[string]bool{"JPY": true},
	}
	auditor, err := New(engine, newSigner(t), registry, Options{}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	round, err := auditor.AuditAll(ctx)
	require.NoError(t, err)
	require.Len(t, round.Audits, 2)
	assert.Equal(t, "BTC", round.Audits[0].Asset)
	assert.Equal(t, "USDC", round.Audits[1].Asset)
	require.Len(t, round.Failures, 1)
	assert.Equal(t, "JPY", round.Failures[0].Asset)
	assert.Contains(t, round.Failures[0].Error, context.DeadlineExceeded.Error())
}

func TestAuditSignatureRecoversToIdentity(t *testing.T) {
	engine := &fakeEngine{outcomes: map[string]inference.Outcome{
		"BTC": outcome("BTC", inference.ReasonStaleFeedDetected, inference.VerdictCompensated, "64000.5"),
	}}
	signer := newSigner(t)
	auditor, err := New(engine, signer, registry, Options{}, zerolog.Nop())
	require.NoError(t, err)

	audit, err := auditor.AuditSymbol(context.Background(), "btc")
	require.NoError(t, err)
	assert.Equal(t, "StaleFeedDetected", audit.Message)
	assert.Equal(t, "compensated", audit.Verdict)
	assert.True(t, decimal.RequireFromString("64000.5").Equal(audit.Value))

	hash, err := manifest.Hash(audit.Report)
	require.NoError(t, err)
	assert.Equal(t, hash.Hex(), audit.Hash)

	sig := common.FromHex(audit.Signature)
	ok, err := manifest.Verify(hash, sig, signer.Identity().Address())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuditSymbolUnknown(t *testing.T) {
	auditor, err := New(&fakeEngine{}, newSigner(t), registry, Options{}, zerolog.Nop())
	require.NoError(t, err)

	_, err = auditor.AuditSymbol(context.Background(), "DOGE")
	assert.Error(t, err)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, newSigner(t), registry, Options{}, zerolog.Nop())
	assert.Error(t, err)
	_, err = New(&fakeEngine{}, nil, registry, Options{}, zerolog.Nop())
	assert.Error(t, err)
}
