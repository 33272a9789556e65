package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"feed-attestor/internal/api"
	"feed-attestor/internal/scheduler"
	"feed-attestor/internal/service"
	"feed-attestor/internal/soul"
)

// Serve runs the HTTP façade until SIGINT/SIGTERM.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.buildRuntime(nil, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	var doc *soul.Document
	if path := a.Config.Identity.SoulPath; path != "" {
		doc, err = soul.Load(path)
		if err != nil {
			a.Logger.Warn().Err(err).Str("path", path).Msg("soul document unavailable; serving without agent card")
		}
	}

	srv := api.New(a.Config.Server, rt.auditor, rt.identity, doc, rt.metrics.Handler(), a.Logger)
	a.Logger.Info().Str("addr", a.Config.Server.Addr).Msg("starting inference façade")
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	a.Logger.Info().Msg("inference façade stopped")
	return nil
}

// Watch audits the registry on the scheduler cadence until SIGINT/SIGTERM.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.buildRuntime(nil, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	sched, err := scheduler.New(scheduler.Options{
		Interval:      a.Config.Scheduler.Interval,
		AlignToBucket: a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
		Immediate:     true,
	}, a.Logger)
	if err != nil {
		return err
	}

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting audit watch")
	err = sched.Run(ctx, func(ctx context.Context, round time.Time) error {
		return a.watchRound(ctx, rt.auditor, round)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watch terminated with error")
		return err
	}
	a.Logger.Info().Msg("audit watch stopped")
	return nil
}

func (a *App) watchRound(ctx context.Context, auditor *service.Auditor, round time.Time) error {
	result, err := auditor.AuditAll(ctx)
	if err != nil {
		return err
	}
	for _, f := range result.Failures {
		a.Logger.Warn().Time("round", round).Str("asset", f.Asset).Str("error", f.Error).Msg("asset audit failed")
	}
	if len(result.Audits) == 0 && len(result.Failures) > 0 {
		return errors.New("every asset failed this round")
	}
	return nil
}
