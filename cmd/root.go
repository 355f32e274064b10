package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	Qs "github.com/maroda/iqscope/server"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "IQSCOPE"
	annotationTUI  = "tui"
	defaultLogFile = "iqscope.log"
)

var (
	configFile string
	logLevel   string
	logFile    string
	tracing    string
	rpi        bool

	logOut *os.File
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "iqscope",
	Short: "Real-time I/Q spectrum and waterfall display",
	Long: `iqscope reads a complex I/Q sample stream from a sound card, an RTL-SDR
dongle, a capture file or the built-in synthesizer, and shows a live power
spectrum with an optional color waterfall.

Every setting can come from a flag, an IQSCOPE_* environment variable
or a YAML/JSON config file, in that order of precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initializeConfig(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLogging()
	},
}

// Execute adds all child commands to the root command and exits non-zero on failure
func Execute() {
	err := rootCmd.Execute()
	if cerr := closeLogging(); cerr != nil {
		fmt.Fprintf(os.Stderr, "log file: %v\n", cerr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (default is ./iqscope.yaml or $HOME/.config/iqscope/iqscope.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"log to this file instead of stderr (the terminal view defaults to iqscope.log)")
	rootCmd.PersistentFlags().StringVar(&tracing, "tracing", "",
		"tracing backend (honeycomb, otlp), empty for none")
	rootCmd.PersistentFlags().BoolVar(&rpi, "rpi", false,
		"trade resolution for CPU on small boards (fft 256, 15 buffers, take 4)")

	ConfigFlags(rootCmd.PersistentFlags(), Qs.DefaultConfig())
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "iqscope"))
		}
		viper.SetConfigName("iqscope")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

// initializeConfig runs after flags are parsed
func initializeConfig(cmd *cobra.Command) error {
	if err := setupLogging(cmd); err != nil {
		return err
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("config file: %w", err)
		}
	} else {
		slog.Info("Using config file", slog.String("path", viper.ConfigFileUsed()))
	}

	return BindFlags(cmd.Flags(), viper.GetViper())
}

// ConfigFlags declares one flag per Config key, defaults taken from d
func ConfigFlags(fs *pflag.FlagSet, d Qs.Config) {
	fs.String("source", d.Source, "sample source: audio, rtl, synth, file")
	fs.Int("fft-size", d.FFTSize, "FFT size in bins")
	fs.Int("buffers-per-chunk", d.BuffersPerChunk, "FFT-sized sub-buffers per chunk")
	fs.Int("taking", d.Taking, "sub-buffers analysed per chunk, -1 for all")
	fs.Int("sample-rate", d.SampleRate, "complex samples per second")
	fs.Float64("pulse-threshold", d.PulseThreshold, "reject sub-buffers this many times louder than the median")
	fs.Int("skip", d.Skip, "skip policy: N>0 drops 1 of N+1 chunks, N<0 keeps 1 of |N|+1")
	fs.Int("queue-capacity", d.QueueCapacity, "chunks buffered between source and analysis")
	fs.Int("warmup-chunks", d.WarmupChunks, "chunks discarded at start")
	fs.String("overflow-policy", string(d.OverflowPolicy), "full queue policy: fatal, drop-newest, drop-oldest, block")
	fs.Duration("pop-timeout", d.PopTimeout, "give up when no chunk arrives in this time")
	fs.Duration("pop-step", d.PopStep, "queue poll interval")
	fs.Duration("push-timeout", d.PushTimeout, "producer wait under the block policy")

	fs.BoolP("waterfall", "w", d.Waterfall, "show the waterfall")
	fs.Int("waterfall-rows-per-accum", d.WaterfallRowsPerAccum, "frames averaged into one waterfall row")
	fs.Int("waterfall-palette", d.WaterfallPalette, "waterfall palette 1 (banded) or 2 (cosine)")
	fs.Int("waterfall-steps", d.WaterfallSteps, "palette colors")
	fs.Int("waterfall-lines", d.WaterfallLines, "waterfall rows kept")
	fs.Int("display-width", d.DisplayWidth, "waterfall image width in pixels")

	fs.Float64("sp-min", d.SpMin, "spectrum bottom in dB")
	fs.Float64("sp-max", d.SpMax, "spectrum top in dB")
	fs.Float64("v-min", d.VMin, "palette bottom in dB")
	fs.Float64("v-max", d.VMax, "palette top in dB")

	fs.Bool("rev-iq", d.RevIQ, "swap I and Q")
	fs.Bool("lagfix", d.LagFix, "shift Q one sample for sound cards that lag a channel")
	fs.Int("device-index", d.DeviceIndex, "sound card index, -1 for the default")
	fs.Float64("rtl-frequency", d.RTLFrequency, "dongle center frequency in Hz")
	fs.Int("rtl-gain", d.RTLGain, "dongle gain in tenths of a dB, 0 for auto")
	fs.Float64("rtl-boost-db", d.RTLBoostDB, "added to dongle spectra")
	fs.String("file-path", d.FilePath, "capture to replay with source=file")
	fs.Bool("file-loop", d.FileLoop, "replay the capture from the start at its end")

	fs.Duration("cpu-load-interval", d.CPULoadInterval, "CPU load sampling interval")
	fs.Duration("freq-interval", d.FreqInterval, "receiver frequency polling interval")
	fs.String("listen", d.Listen, "address of the web endpoint")
	fs.String("record-path", d.RecordPath, "record frames into this badger directory")
	fs.Int("record-batch", d.RecordBatch, "frames per recording batch")
}

// BindFlags binds each flag to the viper key named like its mapstructure tag
// and to its IQSCOPE_* environment variable
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	var lastErr error

	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil {
			lastErr = err
		}
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(key)); err != nil {
			lastErr = err
		}
	})

	return lastErr
}

// LoadConfig unmarshals the bound settings over the defaults.
// The small board preset only fills keys nobody set explicitly.
func LoadConfig(v *viper.Viper, smallBoard bool) (Qs.Config, error) {
	cfg := Qs.DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %w", Qs.ErrInvalidConfig, err)
	}

	if smallBoard {
		preset := Qs.DefaultConfig()
		preset.ApplyRPiPreset()
		if !v.IsSet("fft_size") {
			cfg.FFTSize = preset.FFTSize
		}
		if !v.IsSet("buffers_per_chunk") {
			cfg.BuffersPerChunk = preset.BuffersPerChunk
		}
		if !v.IsSet("taking") {
			cfg.Taking = preset.Taking
		}
	}

	cfg.FitFFTSize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// setupLogging installs the default slog handler.
// Commands that own the terminal log to a file.
func setupLogging(cmd *cobra.Command) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("log level %q: %w", logLevel, err)
	}

	path := logFile
	if path == "" && cmd.Annotations[annotationTUI] != "" {
		path = defaultLogFile
	}

	if err := closeLogging(); err != nil {
		return fmt.Errorf("log file: %w", err)
	}

	var out io.Writer = cmd.ErrOrStderr()
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("log file: %w", err)
		}
		logOut = f
		out = f
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
	return nil
}

// closeLogging syncs and closes the log file, later records go to stderr
func closeLogging() error {
	if logOut == nil {
		return nil
	}
	f := logOut
	logOut = nil
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	return errors.Join(f.Sync(), f.Close())
}
