package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"feed-attestor/internal/alerting"
	"feed-attestor/internal/config"
	"feed-attestor/internal/fetcher"
	"feed-attestor/internal/inference"
	"feed-attestor/internal/manifest"
	"feed-attestor/internal/metrics"
	"feed-attestor/internal/pricing"
	"feed-attestor/internal/publish"
	"feed-attestor/internal/service"
	"feed-attestor/internal/volatility"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// runtime is everything one audit-producing command needs.
type runtime struct {
	identity *manifest.Identity
	auditor  *service.Auditor
	metrics  *metrics.Registry
	closers  []func() error
}

func (r *runtime) Close() {
	for _, c := range r.closers {
		_ = c()
	}
}

func (a *App) loadIdentity() (*manifest.Identity, error) {
	id, err := manifest.LoadIdentity(a.Config.Identity.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w (set ATTESTOR_IDENTITY_PRIVATE_KEY)", err)
	}
	return id, nil
}

func (a *App) venueOptions(v config.VenueConfig) fetcher.VenueOptions {
	return fetcher.VenueOptions{
		BaseURL:         v.BaseURL,
		Timeout:         v.Timeout,
		UserAgent:       a.Config.Venues.UserAgent,
		Symbols:         v.Symbols,
		RateLimit:       v.RateLimit,
		Burst:           v.Burst,
		BreakerFailures: a.Config.Venues.BreakerFailures,
		BreakerCooldown: a.Config.Venues.BreakerCooldown,
		Invert:          v.Invert,
	}
}

// newEngine wires reference reader, street pricer and volatility gate.
func (a *App) newEngine(registry *metrics.Registry) *inference.Engine {
	cfg := a.Config

	reference := fetcher.NewReference(fetcher.ReferenceOptions{
		RPCURL:  cfg.Ethereum.RPCURL,
		Timeout: cfg.Ethereum.RequestTimeout,
	}, a.Logger)

	var (
		spots   []fetcher.SpotSource
		depth   *pricing.DepthPricer
		candles fetcher.CandleSource
	)
	if cfg.Venues.Binance.Enabled {
		spots = append(spots, fetcher.NewBinance(a.venueOptions(cfg.Venues.Binance), a.Logger))
	}
	if cfg.Venues.Coinbase.Enabled {
		spots = append(spots, fetcher.NewCoinbase(a.venueOptions(cfg.Venues.Coinbase), a.Logger))
	}
	if cfg.Venues.Kraken.Enabled {
		kraken := fetcher.NewKraken(a.venueOptions(cfg.Venues.Kraken.VenueConfig), cfg.Venues.Kraken.Depth, a.Logger)
		spots = append(spots, kraken)
		depth = pricing.NewDepthPricer(kraken, a.Logger)
		candles = kraken
	}

	var spot *pricing.Aggregator
	if len(spots) > 0 {
		spot = pricing.NewAggregator(spots, cfg.Engine.SpotQuorum, registry, a.Logger)
	}

	street := pricing.NewStreet(depth, spot, pricing.StreetOptions{
		TargetNotional: decimal.NewFromFloat(cfg.Engine.TargetNotional),
		SpotFallback:   cfg.Engine.SpotFallback,
	}, registry, a.Logger)

	gate := volatility.NewGate(candles, volatility.Options{
		Window:      cfg.Volatility.Window,
		Base:        decimal.NewFromFloat(cfg.Engine.HiccupThreshold),
		Floor:       decimal.NewFromFloat(cfg.Engine.FloorThreshold),
		Sensitivity: decimal.NewFromFloat(cfg.Engine.Sensitivity),
	}, a.Logger)

	return inference.NewEngine(reference, street, gate, inference.Options{
		StalenessThreshold: cfg.Engine.StalenessThreshold,
		Observer:           registry,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
}

// buildRuntime assembles the auditor. symbols restricts the registry when non-empty.
func (a *App) buildRuntime(symbols []string, withSideEffects bool) (*runtime, error) {
	id, err := a.loadIdentity()
	if err != nil {
		return nil, err
	}
	signer, err := manifest.NewSigner(id)
	if err != nil {
		return nil, err
	}

	assets, err := a.selectAssets(symbols)
	if err != nil {
		return nil, err
	}

	rt := &runtime{identity: id, metrics: metrics.New()}
	opts := service.Options{
		MaxConcurrency: a.Config.Engine.MaxConcurrency,
		Recorder:       rt.metrics,
	}
	if withSideEffects {
		opts.Notifier = a.newNotifier()
		if pub := publish.NewRedis(a.Config.Publish.Redis, a.Logger); pub != nil {
			opts.Publisher = pub
			rt.closers = append(rt.closers, pub.Close)
		}
	}

	auditor, err := service.New(a.newEngine(rt.metrics), signer, assets, opts, a.Logger)
	if err != nil {
		return nil, err
	}
	rt.auditor = auditor

	a.Logger.Info().
		Str("identity", id.String()).
		Int("assets", len(assets)).
		Msg("auditor ready")
	return rt, nil
}

func (a *App) selectAssets(symbols []string) ([]config.AssetConfig, error) {
	if len(symbols) == 0 {
		return a.Config.Assets, nil
	}
	out := make([]config.AssetConfig, 0, len(symbols))
	for _, s := range symbols {
		asset, ok := a.Config.Asset(strings.TrimSpace(s))
		if !ok {
			return nil, fmt.Errorf("asset %s is not in the registry", s)
		}
		out = append(out, asset)
	}
	return out, nil
}
