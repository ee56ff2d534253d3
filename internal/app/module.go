package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/matheus3301/inboxsync/internal/api"
	"github.com/matheus3301/inboxsync/internal/bus"
	"github.com/matheus3301/inboxsync/internal/config"
	"github.com/matheus3301/inboxsync/internal/dedup"
	"github.com/matheus3301/inboxsync/internal/lock"
	"github.com/matheus3301/inboxsync/internal/logging"
	"github.com/matheus3301/inboxsync/internal/metrics"
	"github.com/matheus3301/inboxsync/internal/outbox"
	"github.com/matheus3301/inboxsync/internal/profile"
	"github.com/matheus3301/inboxsync/internal/push"
	"github.com/matheus3301/inboxsync/internal/status"
	"github.com/matheus3301/inboxsync/internal/store"
	intsync "github.com/matheus3301/inboxsync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	Config      *config.Config
	LogLevel    zapcore.Level
	// Interactive disables stderr logging while a terminal UI owns the screen.
	Interactive bool
}

// Module returns the fx module for the sync core, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("inboxsync",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideLock,
		),
		fx.Invoke(func(*lock.Lock) {}),
		Core(),
	)
}

// Core provides the sync components without the file logger and the profile
// lock. It expects Params and a *zap.Logger to be supplied.
func Core() fx.Option {
	return fx.Options(
		fx.Provide(
			provideBus,
			provideStateMachine,
			provideAPIClient,
			provideLedger,
			provideSummaries,
			provideTimelines,
			provideBridge,
			providePushClient,
			provideSender,
			NewClient,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(lc fx.Lifecycle, p Params) (*zap.Logger, error) {
	logger, err := logging.New(profile.LogPath(p.ProfileName), p.ProfileName, p.LogLevel, !p.Interactive)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func() { _ = logger.Sync() }))
	return logger, nil
}

func provideLock(lc fx.Lifecycle, p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName), p.ProfileName)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func() {
		if err := l.Release(); err != nil {
			logger.Warn("error releasing lock", zap.Error(err))
		}
	}))
	return l, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideAPIClient(p Params) *api.Client {
	return api.NewClient(p.Config.APIURL, p.Config.APIToken)
}

func provideLedger(p Params) *dedup.Ledger {
	return dedup.New(p.Config.DedupCapacity)
}

func provideSummaries(p Params, client *api.Client, b *bus.Bus, logger *zap.Logger) *store.Summaries {
	return store.NewSummaries(client, client, p.Config.ViewerRole, b, logger.Named("summaries"))
}

func provideTimelines(p Params, client *api.Client, logger *zap.Logger) *store.Timelines {
	return store.NewTimelines(client, p.Config.SelfID, logger.Named("timeline"))
}

func provideBridge(b *bus.Bus, ledger *dedup.Ledger, summaries *store.Summaries, timelines *store.Timelines, logger *zap.Logger) *intsync.Bridge {
	return intsync.NewBridge(b, ledger, summaries, timelines, logger.Named("bridge"))
}

func providePushClient(p Params, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *push.Client {
	var opts []push.Option
	if p.Config.APIToken != "" {
		opts = append(opts, push.WithHeader(http.Header{"Authorization": {"Bearer " + p.Config.APIToken}}))
	}
	return push.NewClient(p.Config.PushURL, p.Config.SelfID, b, machine, logger.Named("push"), opts...)
}

func provideSender(timelines *store.Timelines, summaries *store.Summaries, client *api.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(timelines, summaries, client, b, logger.Named("outbox"), outbox.DefaultQueueSize)
}

func registerLifecycle(lc fx.Lifecycle, p Params, bridge *intsync.Bridge, pushClient *push.Client, sender *outbox.Sender, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	var metricsSrv *http.Server

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The bridge must observe the first Ready, so it watches before
			// the push channel starts.
			bridge.Watch(ctx)
			sender.Start(ctx)
			pushClient.Start(ctx)

			if addr := p.Config.MetricsAddr; addr != "" && addr != "-" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					logger.Info("metrics server starting", zap.String("addr", addr))
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server error", zap.Error(err))
					}
				}()
			}

			logger.Info("sync core started", zap.String("profile", p.ProfileName))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			pushClient.Stop()
			sender.Stop()
			cancel()
			bridge.Close()
			if metricsSrv != nil {
				_ = metricsSrv.Shutdown(stopCtx)
			}
			logger.Info("sync core stopped")
			return nil
		},
	})
}
