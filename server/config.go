package iqscope

import (
	"fmt"
	"log/slog"
	"time"

	Qp "github.com/maroda/iqscope/plugin"
)

// Config is the full set of run parameters.
// It is filled by the command layer from flags, environment and file,
// then frozen for the run. Only the display and palette ranges change later,
// and those live in the Scope, not here.
type Config struct {
	Source          string         `mapstructure:"source" json:"source"`
	FFTSize         int            `mapstructure:"fft_size" json:"fft_size"`
	BuffersPerChunk int            `mapstructure:"buffers_per_chunk" json:"buffers_per_chunk"`
	Taking          int            `mapstructure:"taking" json:"taking"`
	SampleRate      int            `mapstructure:"sample_rate" json:"sample_rate"`
	PulseThreshold  float64        `mapstructure:"pulse_threshold" json:"pulse_threshold"`
	Skip            int            `mapstructure:"skip" json:"skip"`
	QueueCapacity   int            `mapstructure:"queue_capacity" json:"queue_capacity"`
	WarmupChunks    int            `mapstructure:"warmup_chunks" json:"warmup_chunks"`
	OverflowPolicy  OverflowPolicy `mapstructure:"overflow_policy" json:"overflow_policy"`
	PopTimeout      time.Duration  `mapstructure:"pop_timeout" json:"pop_timeout"`
	PopStep         time.Duration  `mapstructure:"pop_step" json:"pop_step"`
	PushTimeout     time.Duration  `mapstructure:"push_timeout" json:"push_timeout"`

	Waterfall             bool `mapstructure:"waterfall" json:"waterfall"`
	WaterfallRowsPerAccum int  `mapstructure:"waterfall_rows_per_accum" json:"waterfall_rows_per_accum"`
	WaterfallPalette      int  `mapstructure:"waterfall_palette" json:"waterfall_palette"`
	WaterfallSteps        int  `mapstructure:"waterfall_steps" json:"waterfall_steps"`
	WaterfallLines        int  `mapstructure:"waterfall_lines" json:"waterfall_lines"`
	DisplayWidth          int  `mapstructure:"display_width" json:"display_width"`

	SpMin float64 `mapstructure:"sp_min" json:"sp_min"`
	SpMax float64 `mapstructure:"sp_max" json:"sp_max"`
	VMin  float64 `mapstructure:"v_min" json:"v_min"`
	VMax  float64 `mapstructure:"v_max" json:"v_max"`

	RevIQ       bool `mapstructure:"rev_iq" json:"rev_iq"`
	LagFix      bool `mapstructure:"lagfix" json:"lagfix"`
	DeviceIndex int  `mapstructure:"device_index" json:"device_index"`

	RTLFrequency float64 `mapstructure:"rtl_frequency" json:"rtl_frequency"`
	RTLGain      int     `mapstructure:"rtl_gain" json:"rtl_gain"` // tenths of a dB, 0 = auto
	RTLBoostDB   float64 `mapstructure:"rtl_boost_db" json:"rtl_boost_db"`
	FilePath     string  `mapstructure:"file_path" json:"file_path"`
	FileLoop     bool    `mapstructure:"file_loop" json:"file_loop"`

	Synth Qp.SynthOptions `mapstructure:"synth" json:"synth"`

	CPULoadInterval time.Duration `mapstructure:"cpu_load_interval" json:"cpu_load_interval"`
	FreqInterval    time.Duration `mapstructure:"freq_interval" json:"freq_interval"`

	Listen      string `mapstructure:"listen" json:"listen"`
	RecordPath  string `mapstructure:"record_path" json:"record_path"`
	RecordBatch int    `mapstructure:"record_batch" json:"record_batch"`
}

// Sources that NewScope knows how to feed from
const (
	SourceAudio = "audio"
	SourceRTL   = "rtl"
	SourceSynth = "synth"
	SourceFile  = "file"
)

// DefaultConfig mirrors a sound card at 48 kHz on a desktop
func DefaultConfig() Config {
	return Config{
		Source:          SourceAudio,
		FFTSize:         384,
		BuffersPerChunk: 12,
		Taking:          -1,
		SampleRate:      48000,
		PulseThreshold:  10,
		Skip:            0,
		QueueCapacity:   30,
		WarmupChunks:    4,
		OverflowPolicy:  OverflowFatal,
		PopTimeout:      4 * time.Second,
		PopStep:         100 * time.Millisecond,
		PushTimeout:     100 * time.Millisecond,

		Waterfall:             false,
		WaterfallRowsPerAccum: 4,
		WaterfallPalette:      2,
		WaterfallSteps:        50,
		WaterfallLines:        50,
		DisplayWidth:          630,

		SpMin: -120,
		SpMax: -20,
		VMin:  -120,
		VMax:  -20,

		DeviceIndex: -1,

		RTLFrequency: 146e6,
		RTLBoostDB:   60,
		FileLoop:     true,

		Synth: Qp.DefaultSynthOptions(),

		CPULoadInterval: 3 * time.Second,
		FreqInterval:    1 * time.Second,

		Listen:      ":8090",
		RecordBatch: 50,
	}
}

// ApplyRPiPreset trades resolution for CPU on small boards
func (c *Config) ApplyRPiPreset() {
	c.BuffersPerChunk = 15
	c.Taking = 4
	c.FFTSize = 256
}

// FitFFTSize makes sure every bin gets at least one pixel.
// A size wider than the display is reset to the largest power of two that fits.
func (c *Config) FitFFTSize() bool {
	if c.FFTSize <= c.DisplayWidth {
		return false
	}
	for _, n := range []int{1024, 512, 256, 128} {
		if n <= c.DisplayWidth {
			slog.Warn("FFT size reset to fit display",
				slog.Int("from", c.FFTSize),
				slog.Int("to", n),
				slog.Int("width", c.DisplayWidth))
			c.FFTSize = n
			return true
		}
	}
	return false
}

// SourceOptions is what the plugin factories need to open the configured source
func (c *Config) SourceOptions() Qp.SourceOptions {
	return Qp.SourceOptions{
		SampleRate:   c.SampleRate,
		ChunkSamples: c.ChunkSamples(),
		DeviceIndex:  c.DeviceIndex,
		FilePath:     c.FilePath,
		Loop:         c.FileLoop,
		RTLFrequency: c.RTLFrequency,
		RTLGain:      c.RTLGain,
		Synth:        c.Synth,
	}
}

// ChunkSamples is the number of complex samples in one chunk
func (c *Config) ChunkSamples() int {
	return c.BuffersPerChunk * c.FFTSize
}

// ChunkTime is the wall time one chunk covers at the configured rate
func (c *Config) ChunkTime() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(c.ChunkSamples()) / float64(c.SampleRate) * float64(time.Second))
}

// Validate checks everything NewScope relies on
func (c *Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	switch c.Source {
	case SourceAudio, SourceRTL, SourceSynth:
	case SourceFile:
		if c.FilePath == "" {
			return bad("file source needs file_path")
		}
	default:
		return bad("unknown source %q", c.Source)
	}

	if c.FFTSize < 2 {
		return bad("fft_size %d must be at least 2", c.FFTSize)
	}
	if c.BuffersPerChunk < 1 {
		return bad("buffers_per_chunk %d must be positive", c.BuffersPerChunk)
	}
	if c.Taking == 0 || c.Taking < -1 || c.Taking > c.BuffersPerChunk {
		return bad("taking %d must be -1 or between 1 and %d", c.Taking, c.BuffersPerChunk)
	}
	if c.SampleRate <= 0 {
		return bad("sample_rate %d must be positive", c.SampleRate)
	}
	if c.PulseThreshold <= 0 {
		return bad("pulse_threshold %g must be positive", c.PulseThreshold)
	}
	if c.QueueCapacity < 1 {
		return bad("queue_capacity %d must be positive", c.QueueCapacity)
	}
	if c.WarmupChunks < 0 {
		return bad("warmup_chunks %d must not be negative", c.WarmupChunks)
	}
	if _, err := ParseOverflowPolicy(string(c.OverflowPolicy)); err != nil {
		return err
	}
	if c.PopTimeout <= 0 || c.PopStep <= 0 {
		return bad("pop_timeout and pop_step must be positive")
	}
	if c.PushTimeout < 0 {
		return bad("push_timeout must not be negative")
	}

	if c.WaterfallRowsPerAccum < 1 {
		return bad("waterfall_rows_per_accum %d must be positive", c.WaterfallRowsPerAccum)
	}
	if c.WaterfallPalette != 1 && c.WaterfallPalette != 2 {
		return bad("waterfall_palette %d must be 1 or 2", c.WaterfallPalette)
	}
	if c.WaterfallSteps < 1 || c.WaterfallLines < 1 {
		return bad("waterfall_steps and waterfall_lines must be positive")
	}
	if c.DisplayWidth < 1 {
		return bad("display_width %d must be positive", c.DisplayWidth)
	}

	if c.SpMax <= c.SpMin {
		return fmt.Errorf("%w: spectrum %w", ErrInvalidConfig, ErrInvalidRange)
	}
	if c.VMax <= c.VMin {
		return fmt.Errorf("%w: palette %w", ErrInvalidConfig, ErrInvalidRange)
	}

	if c.RecordPath != "" && c.RecordBatch < 1 {
		return bad("record_batch %d must be positive", c.RecordBatch)
	}

	return nil
}
