package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/inboxsync/internal/app"
	"github.com/matheus3301/inboxsync/internal/bus"
	"github.com/matheus3301/inboxsync/internal/profile"
	"github.com/matheus3301/inboxsync/internal/tui"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	metricsAddr := flag.String("metrics-addr", "", "metrics listen address, \"-\" disables (overrides config)")
	logLevel := zap.LevelFlag("log-level", zapcore.InfoLevel, "log level")
	interactive := flag.Bool("tui", false, "run the terminal inbox")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := profile.LoadConfig(profileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid config %s:\n%v\n", profile.ConfigPath(), err)
		os.Exit(1)
	}

	opts := []fx.Option{
		app.Module(app.Params{ProfileName: profileName, Config: cfg, LogLevel: *logLevel, Interactive: *interactive}),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Invoke(logInbox),
	}
	if !*interactive {
		fx.New(opts...).Run()
		return
	}

	var (
		client *app.Client
		b      *bus.Bus
	)
	fxApp := fx.New(append(opts, fx.Populate(&client, &b))...)
	if err := fxApp.Start(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	runErr := tui.NewApp(client, b, profileName).Run()

	stopCtx, cancel := context.WithTimeout(context.Background(), fxApp.StopTimeout())
	defer cancel()
	if err := fxApp.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: stop: %v\n", err)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}

// logInbox logs the unread total whenever it changes.
func logInbox(lc fx.Lifecycle, client *app.Client, logger *zap.Logger) {
	summaries := client.Summaries()
	last := -1
	unsub := summaries.Subscribe(func() {
		total := summaries.UnreadTotal()
		if total == last {
			return
		}
		last = total
		logger.Info("inbox updated",
			zap.Int("conversations", len(summaries.List())),
			zap.Int("unread", total),
			zap.String("channel", string(client.State())),
		)
	})
	lc.Append(fx.StopHook(unsub))
}
