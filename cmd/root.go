// Package cmd defines the CLI commands for the bios-notifier executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bios-notifier/internal/app"
	"github.com/JakeFAU/bios-notifier/internal/config"
	"github.com/JakeFAU/bios-notifier/internal/lock"
	"github.com/JakeFAU/bios-notifier/internal/pipeline"
	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use, so tests can inject a fake.
type App interface {
	Run(ctx context.Context, opts pipeline.Options) ([]tracker.Summary, error)
	Serve(ctx context.Context) error
	PushMetrics()
	Close()
	Logger() *zap.Logger
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgFile string) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.Build(ctx, &cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "bios-notifier",
		Short: "Tracks motherboard firmware releases and emails subscribers.",
		Long: `bios-notifier discovers new motherboard models in the vendor catalog,
checks each model's release page for newer firmware, and emails subscribers
when the firmware they last heard about has been superseded.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.PushMetrics()
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON, or TOML)")

	cmd.AddCommand(
		newRunCmd(),
		newStageCmd(tracker.StageDiscovery, "discover", "Onboard models that appeared in the vendor catalog"),
		newStageCmd(tracker.StageCheck, "check", "Check every model's release page for newer firmware"),
		newStageCmd(tracker.StageNotify, "notify", "Email subscribers whose firmware is out of date"),
		newServeCmd(),
	)
	return cmd
}

func newRunCmd() *cobra.Command {
	var origin bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run discovery, check, and notify in order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, pipeline.Options{Origin: origin})
		},
	}
	cmd.Flags().BoolVar(&origin, "origin", false, "push the snapshot to the configured mirror after the run")
	return cmd
}

func newStageCmd(stage, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, pipeline.Options{Stages: []string{stage}})
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics, and the run trigger over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Serve(cmd.Context()); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
}

func runPipeline(cmd *cobra.Command, opts pipeline.Options) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	summaries, err := appInstance.Run(cmd.Context(), opts)
	if errors.Is(err, lock.ErrHeld) {
		appInstance.Logger().Warn("another run is in progress; nothing to do")
		return nil
	}
	for _, s := range summaries {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: total=%d succeeded=%d errored=%d deleted=%d skipped=%d\n",
			s.Stage, s.Total, s.Succeeded, s.Errored, s.Deleted, s.Skipped)
	}
	return err
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
