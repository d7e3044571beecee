package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/e7canasta/camrecorder/internal/command"
	"github.com/e7canasta/camrecorder/internal/config"
	"github.com/e7canasta/camrecorder/internal/core"
	"github.com/e7canasta/camrecorder/internal/media"
	"github.com/e7canasta/camrecorder/internal/ui"
)

// remoteReplyTimeout bounds how long an MQTT command waits for the UI loop
const remoteReplyTimeout = 2 * time.Second

type recordOptions struct {
	headless bool
	device   string
	output   string
}

func (o *recordOptions) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.headless, "headless", false, "record without the terminal UI until interrupted")
	cmd.Flags().StringVar(&o.device, "device", "", "capture device, overrides source.device")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "output file, overrides output.path")
}

func (o recordOptions) apply(cfg *config.Config) {
	if o.device != "" {
		cfg.Source.Device = o.device
	}
	if o.output != "" {
		cfg.Output.Path = o.output
	}
}

func newRecordCmd(global *globalOptions) *cobra.Command {
	var rec recordOptions
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the camera with a live preview",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd.Context(), *global, rec)
		},
	}
	rec.bind(cmd)
	return cmd
}

func runRecord(ctx context.Context, global globalOptions, rec recordOptions) error {
	cfg, err := loadConfig(global)
	if err != nil {
		return err
	}
	rec.apply(cfg)

	if rec.headless {
		setupLogger(os.Stdout, global.debug, true)
	} else {
		// The UI owns the terminal; logs go to a file
		f, err := os.OpenFile(cfg.UI.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		setupLogger(f, global.debug, false)
	}

	slog.Info("camrecorder: starting",
		"version", Version,
		"config", global.configPath,
		"output", cfg.Output.Path,
		"headless", rec.headless,
	)

	engine, err := media.NewGstEngine()
	if err != nil {
		return fmt.Errorf("failed to initialize media engine: %w", err)
	}
	app, err := core.New(cfg, engine)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var runErr error
	if rec.headless {
		runErr = app.Run(ctx, core.RunOptions{Headless: true})
	} else {
		runErr = runUI(ctx, cfg, app)
	}
	if runErr != nil {
		slog.Error("camrecorder: run failed", "error", runErr)
	}

	timeout := app.ShutdownTimeout()
	slog.Info("camrecorder: shutting down gracefully", "timeout", timeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	slog.Info("camrecorder: stopped")
	return runErr
}

// runUI runs the terminal UI in front of the app. Status and remote
// commands enter the UI loop through Program.Send so widgets see them in
// order on one goroutine.
func runUI(ctx context.Context, cfg *config.Config, app *core.App) error {
	theme, err := ui.ParseTheme(cfg.UI.Theme)
	if err != nil {
		return err
	}
	model := ui.New(app.Controller(), app.Bridge(), ui.Options{
		Tick:    cfg.UITick(),
		Theme:   theme,
		OnFrame: app.ObserveFrame,
	})
	program := tea.NewProgram(model, tea.WithAltScreen())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	send := func(cmd command.Command) { program.Send(ui.CommandMsg{Cmd: cmd}) }
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Run(runCtx, core.RunOptions{
			Status: send,
			Remote: ui.RemoteDispatch(runCtx, program, remoteReplyTimeout),
		})
		// Signals and the shutdown command end the UI too
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		<-errCh
		return fmt.Errorf("terminal UI failed: %w", err)
	}
	cancel()
	return <-errCh
}
