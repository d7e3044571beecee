package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/e7canasta/camrecorder/internal/media"
	"github.com/e7canasta/camrecorder/internal/thumbnail"
)

type thumbnailOptions struct {
	position time.Duration
	out      string
	maxWidth int
	timeout  time.Duration
}

func newThumbnailCmd(global *globalOptions) *cobra.Command {
	var opts thumbnailOptions
	cmd := &cobra.Command{
		Use:   "thumbnail <uri|path>",
		Short: "Extract one frame of a media file as PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThumbnail(cmd.Context(), *global, opts, args[0])
		},
	}
	cmd.Flags().DurationVarP(&opts.position, "position", "p", 0, "position of the frame, e.g. 1m30s")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "thumbnail.png", "PNG output file")
	cmd.Flags().IntVar(&opts.maxWidth, "max-width", 0, "maximum width, overrides thumbnail.max_width")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "give up after this long")
	return cmd
}

func runThumbnail(ctx context.Context, global globalOptions, opts thumbnailOptions, input string) error {
	setupLogger(os.Stderr, global.debug, false)

	cfg, err := loadConfig(global)
	if err != nil {
		return err
	}
	maxWidth := cfg.Thumbnail.MaxWidth
	if opts.maxWidth > 0 {
		maxWidth = opts.maxWidth
	}

	uri, err := thumbnail.NormalizeURI(input)
	if err != nil {
		return err
	}

	engine, err := media.NewGstEngine()
	if err != nil {
		return fmt.Errorf("failed to initialize media engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	thumb, err := thumbnail.Extract(ctx, engine, uri, opts.position, thumbnail.Options{Format: cfg.Thumbnail.Format})
	if err != nil {
		return fmt.Errorf("failed to extract thumbnail: %w", err)
	}
	defer thumb.Close()

	frame, err := thumb.Frame(ctx)
	if err != nil {
		return fmt.Errorf("no frame captured: %w", err)
	}

	f, err := os.Create(opts.out)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if err := thumbnail.EncodePNG(f, frame, maxWidth); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	slog.Info("thumbnail: written",
		"uri", uri,
		"out", opts.out,
		"resolution", frame.Resolution(),
		"duration_s", thumb.DurationSeconds(),
	)
	fmt.Printf("%s (%s, media duration %ds)\n", opts.out, frame.Resolution(), thumb.DurationSeconds())
	return nil
}
