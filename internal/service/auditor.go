package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"feed-attestor/internal/alerting"
	"feed-attestor/internal/config"
	"feed-attestor/internal/inference"
	"feed-attestor/internal/manifest"
)

// Inferrer classifies one reference feed.
type Inferrer interface {
	Infer(ctx context.Context, asset, feedAddress string) (inference.Outcome, error)
}

// Publisher fans a signed audit out to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, audit SignedAudit) error
}

// Recorder receives audit level metrics.
type Recorder interface {
	Signed()
	ObserveAudit(asset string, d time.Duration)
}

// SignedAudit is one attested inference.
type SignedAudit struct {
	Asset     string           `json:"asset"`
	Value     decimal.Decimal  `json:"value"`
	Message   string           `json:"message"`
	Report    inference.Report `json:"report"`
	Hash      string           `json:"hash"`
	Signature string           `json:"signature"`
	Verdict   string           `json:"verdict"`
}

// Failure records an asset that produced no audit.
type Failure struct {
	Asset  string `json:"asset"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// Round is the result of auditing every registered asset once.
type Round struct {
	Audits   []SignedAudit
	Failures []Failure
	At       time.Time
}

// Options tune the auditor.
type Options struct {
	MaxConcurrency int
	Notifier       alerting.Notifier
	Publisher      Publisher
	Recorder       Recorder
}

// Auditor runs the inference engine over the asset registry and signs each outcome.
type Auditor struct {
	engine    Inferrer
	signer    *manifest.Signer
	assets    []config.AssetConfig
	limit     int
	notifier  alerting.Notifier
	publisher Publisher
	recorder  Recorder
	logger    zerolog.Logger
}

// New constructs the auditor.
func New(engine Inferrer, signer *manifest.Signer, assets []config.AssetConfig, opts Options, logger zerolog.Logger) (*Auditor, error) {
	if engine == nil {
		return nil, errors.New("auditor requires an inference engine")
	}
	if signer == nil {
		return nil, errors.New("auditor requires a signer")
	}
	limit := opts.MaxConcurrency
	if limit <= 0 {
		limit = 4
	}
	return &Auditor{
		engine:    engine,
		signer:    signer,
		assets:    assets,
		limit:     limit,
		notifier:  opts.Notifier,
		publisher: opts.Publisher,
		recorder:  opts.Recorder,
		logger:    logger.With().Str("component", "auditor").Logger(),
	}, nil
}

// Assets returns the registry the auditor iterates.
func (a *Auditor) Assets() []config.AssetConfig {
	return a.assets
}

// Signer returns the manifest signer.
func (a *Auditor) Signer() *manifest.Signer {
	return a.signer
}

// AuditAll audits every asset in parallel. A failing asset, including one cut off by ctx,
// is recorded in Round.Failures and never cancels the others or discards their audits.
// Audits keep registry order.
func (a *Auditor) AuditAll(ctx context.Context) (Round, error) {
	audits := make([]*SignedAudit, len(a.assets))
	failures := make([]*Failure, len(a.assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.limit)
	for i, asset := range a.assets {
		i, asset := i, asset
		g.Go(func() error {
			audit, err := a.Audit(gctx, asset)
			if err != nil {
				failures[i] = &Failure{Asset: asset.Symbol, Reason: string(inference.ReasonDataRetrievalFailure), Error: err.Error()}
				return nil
			}
			audits[i] = &audit
			return nil
		})
	}
	_ = g.Wait()

	round := Round{At: time.Now().UTC()}
	for i := range a.assets {
		if audits[i] != nil {
			round.Audits = append(round.Audits, *audits[i])
		}
		if failures[i] != nil {
			round.Failures = append(round.Failures, *failures[i])
		}
	}

	if err := ctx.Err(); err != nil {
		a.logger.Warn().Err(err).
			Int("audits", len(round.Audits)).
			Int("failures", len(round.Failures)).
			Msg("audit round cut short; returning partial results")
		return round, nil
	}

	a.logger.Info().
		Int("audits", len(round.Audits)).
		Int("failures", len(round.Failures)).
		Msg("audit round complete")
	return round, nil
}

// AuditSymbol audits one registered asset by symbol.
func (a *Auditor) AuditSymbol(ctx context.Context, symbol string) (SignedAudit, error) {
	for _, asset := range a.assets {
		if strings.EqualFold(asset.Symbol, symbol) {
			return a.Audit(ctx, asset)
		}
	}
	return SignedAudit{}, fmt.Errorf("asset %s is not registered", symbol)
}

// Audit infers, signs, notifies and publishes one asset.
func (a *Auditor) Audit(ctx context.Context, asset config.AssetConfig) (SignedAudit, error) {
	start := time.Now()
	defer func() {
		if a.recorder != nil {
			a.recorder.ObserveAudit(asset.Symbol, time.Since(start))
		}
	}()

	outcome, err := a.engine.Infer(ctx, asset.Symbol, asset.Feed)
	if err != nil {
		return SignedAudit{}, err
	}

	m, err := a.signer.Sign(outcome.Report)
	if err != nil {
		return SignedAudit{}, fmt.Errorf("sign %s manifest: %w", asset.Symbol, err)
	}
	if a.recorder != nil {
		a.recorder.Signed()
	}

	audit := SignedAudit{
		Asset:     asset.Symbol,
		Value:     outcome.FairValue,
		Message:   string(outcome.Reason),
		Report:    outcome.Report,
		Hash:      m.Hash.Hex(),
		Signature: m.SignatureHex(),
		Verdict:   outcome.Verdict.String(),
	}

	a.logger.Info().
		Str("asset", audit.Asset).
		Str("reason", audit.Message).
		Str("value", audit.Value.String()).
		Str("manifest_hash", audit.Hash).
		Msg("audit signed")

	if outcome.Verdict == inference.VerdictCompensated {
		a.notify(ctx, audit)
	}
	a.publish(ctx, audit)

	return audit, nil
}

func (a *Auditor) notify(ctx context.Context, audit SignedAudit) {
	if a.notifier == nil {
		return
	}
	note := alerting.Notification{
		Asset:          audit.Asset,
		Reason:         audit.Message,
		ReferencePrice: audit.Report.ReferencePrice,
		StreetPrice:    audit.Report.StreetPrice,
		FairValue:      audit.Value,
		Deviation:      audit.Report.Deviation,
		Threshold:      audit.Report.ThresholdUsed,
		IsStale:        audit.Report.IsStale,
		ManifestHash:   audit.Hash,
		Signer:         a.signer.Identity().Address().Hex(),
		At:             time.Unix(audit.Report.Timestamp, 0).UTC(),
	}
	if err := a.notifier.Notify(ctx, note); err != nil {
		a.logger.Error().Err(err).Str("asset", audit.Asset).Msg("failed to send alert")
	}
}

func (a *Auditor) publish(ctx context.Context, audit SignedAudit) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.Publish(ctx, audit); err != nil {
		a.logger.Warn().Err(err).Str("asset", audit.Asset).Msg("failed to publish audit")
	}
}
