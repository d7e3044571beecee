package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/e7canasta/camrecorder/internal/config"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "v0.1.0"

type globalOptions struct {
	configPath string
	debug      bool
}

// NewRootCmd builds the command tree. The root command records, like the
// record subcommand.
func NewRootCmd() *cobra.Command {
	var global globalOptions
	var rec recordOptions

	rootCmd := &cobra.Command{
		Use:           "camrecorder",
		Short:         "Camera recorder with live preview",
		Long:          `Records the default camera and microphone to a Matroska file while showing a live preview in the terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd.Context(), global, rec)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&global.configPath, "config", "c", "", "path to the YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&global.debug, "debug", false, "enable debug logging")
	rec.bind(rootCmd)

	rootCmd.AddCommand(newRecordCmd(&global))
	rootCmd.AddCommand(newThumbnailCmd(&global))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the command tree and exits with status 1 on error
func Execute() {
	rootCmd := NewRootCmd()
	rootCmd.SetContext(context.Background())

	if err := rootCmd.Execute(); err != nil {
		slog.Error("camrecorder: fatal", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(global globalOptions) (*config.Config, error) {
	cfg, err := config.Load(global.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// setupLogger installs the default slog logger. JSON goes to w; text is
// used for log files.
func setupLogger(w io.Writer, debug, json bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "camrecorder %s\n", Version)
		},
	}
}
