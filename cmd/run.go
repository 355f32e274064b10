package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	Qd "github.com/maroda/iqscope/display"
	Qo "github.com/maroda/iqscope/obvy"
	Qs "github.com/maroda/iqscope/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Show the spectrum and waterfall in the terminal",
	Long: `Open the configured source and draw the live spectrum, and the waterfall
when enabled, in the terminal. Press RETURN for help and q to quit.

The metrics, status and websocket endpoint runs alongside on --listen.

Examples:
  # Built-in test signal with a waterfall
  iqscope run --source synth -w

  # RTL-SDR dongle on the 2 m band (needs a build with -tags rtlsdr)
  iqscope run --source rtl --rtl-frequency 144.8e6 -w

  # Replay a capture on a Raspberry Pi
  iqscope run --rpi --source file --file-path capture.iq`,
	Annotations: map[string]string{annotationTUI: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScope(cmd.Context(), Qd.StartScopeView)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// runScope loads the config, starts tracing and hands over to start
func runScope(ctx context.Context, start func(context.Context, Qs.Config) error) error {
	cfg, err := LoadConfig(viper.GetViper(), rpi)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := Qo.InitTracing(ctx, tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer shutdown()

	slog.Info("Configuration loaded",
		slog.String("source", cfg.Source),
		slog.Int("fft_size", cfg.FFTSize),
		slog.Int("buffers_per_chunk", cfg.BuffersPerChunk),
		slog.Int("sample_rate", cfg.SampleRate),
		slog.Bool("waterfall", cfg.Waterfall))

	if err := start(ctx, cfg); err != nil {
		slog.Error("Scope stopped with error", slog.Any("Error", err))
		return err
	}
	return nil
}
