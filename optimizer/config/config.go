package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	internal "github.com/dodogabrie/space-media-optimizer/optimizer"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// RunConfig stores all configuration for a single optimization run.
// The values are read by viper from a config file, environment variables
// or bound CLI flags, and are immutable once validated.
type RunConfig struct {
	// JPEGQuality is the jpegoptim quality setting (1-100)
	JPEGQuality int `mapstructure:"jpegQuality"`
	// WebPQuality is the cwebp quality setting (1-100)
	WebPQuality int `mapstructure:"webpQuality"`
	// VideoCRF is the x264 constant rate factor (0-51, lower = better quality)
	VideoCRF int `mapstructure:"videoCRF"`
	// AudioBitrate is passed to ffmpeg for the audio stream
	AudioBitrate string `mapstructure:"audioBitrate"`
	// SizeThreshold keeps an in-place result only when
	// optimized < original * threshold
	SizeThreshold float64 `mapstructure:"sizeThreshold"`
	// Workers is the total concurrency budget
	Workers int `mapstructure:"workers"`
	// DryRun performs every step except filesystem mutation
	DryRun bool `mapstructure:"dryRun"`
	// OutputDir writes results into a separate tree; empty means in place
	OutputDir string `mapstructure:"outputDir"`
	// ConvertToWebP forces all images to webp output
	ConvertToWebP bool `mapstructure:"convertToWebp"`
	// KeepExisting skips files whose resolved output already exists
	KeepExisting bool `mapstructure:"keepExisting"`
	// SkipVideo copies videos instead of re-encoding them
	SkipVideo bool `mapstructure:"skipVideo"`
	// StructuredOutput emits line-delimited JSON events on stdout
	StructuredOutput bool `mapstructure:"structuredOutput"`
	// Verbose enables debug logging
	Verbose bool `mapstructure:"verbose"`

	Limits Limits `mapstructure:"limits"`
}

// Limits holds the size-class boundaries and per-class processing timeouts.
type Limits struct {
	SmallMaxBytes  uint64        `mapstructure:"smallMaxBytes"`
	MediumMaxBytes uint64        `mapstructure:"mediumMaxBytes"`
	SmallTimeout   time.Duration `mapstructure:"smallTimeout"`
	MediumTimeout  time.Duration `mapstructure:"mediumTimeout"`
	LargeTimeout   time.Duration `mapstructure:"largeTimeout"`
	VideoTimeout   time.Duration `mapstructure:"videoTimeout"`
}

// InPlace reports whether results replace the originals.
func (c *RunConfig) InPlace() bool {
	return c.OutputDir == ""
}

var AppConfig RunConfig

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*RunConfig, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(internal.DefaultStateDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	setDefaults()

	viper.AutomaticEnv()                                   // Read in environment variables that match
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // e.g. limits.videoTimeout becomes LIMITS_VIDEOTIMEOUT

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults, env and flags will be used.
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &AppConfig, nil
}

func setDefaults() {
	viper.SetDefault("jpegQuality", 80)
	viper.SetDefault("webpQuality", 80)
	viper.SetDefault("videoCRF", 26)
	viper.SetDefault("audioBitrate", "128k")
	viper.SetDefault("sizeThreshold", 0.9)
	viper.SetDefault("workers", 4)
	viper.SetDefault("limits.smallMaxBytes", uint64(5*1024*1024))
	viper.SetDefault("limits.mediumMaxBytes", uint64(20*1024*1024))
	viper.SetDefault("limits.smallTimeout", 120*time.Second)
	viper.SetDefault("limits.mediumTimeout", 300*time.Second)
	viper.SetDefault("limits.largeTimeout", 1200*time.Second)
	viper.SetDefault("limits.videoTimeout", 900*time.Second)
}

// BindFlags wires a pflag set into viper so CLI flags override file and env values.
func BindFlags(flags *pflag.FlagSet) error {
	bindings := map[string]string{
		"jpegQuality":      "quality",
		"webpQuality":      "webp-quality",
		"videoCRF":         "crf",
		"audioBitrate":     "audio-bitrate",
		"sizeThreshold":    "threshold",
		"workers":          "workers",
		"dryRun":           "dry-run",
		"outputDir":        "output",
		"convertToWebp":    "webp",
		"keepExisting":     "keep-existing",
		"skipVideo":        "skip-video",
		"structuredOutput": "json",
		"verbose":          "verbose",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// Validate checks all configuration parameters, rejecting the run before
// any file is touched.
func (c *RunConfig) Validate() error {
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEG quality must be between 1 and 100, got %d", c.JPEGQuality)
	}
	if c.WebPQuality < 1 || c.WebPQuality > 100 {
		return fmt.Errorf("WebP quality must be between 1 and 100, got %d", c.WebPQuality)
	}
	if c.VideoCRF < 0 || c.VideoCRF > 51 {
		return fmt.Errorf("video CRF must be between 0 and 51, got %d", c.VideoCRF)
	}
	if c.SizeThreshold <= 0.0 || c.SizeThreshold > 1.0 {
		return fmt.Errorf("size threshold must be in (0, 1], got %g", c.SizeThreshold)
	}
	if c.Workers < 1 {
		return fmt.Errorf("number of workers must be greater than 0, got %d", c.Workers)
	}
	if c.Limits.SmallMaxBytes == 0 || c.Limits.SmallMaxBytes >= c.Limits.MediumMaxBytes {
		return fmt.Errorf("size class boundaries must satisfy 0 < small < medium, got %d and %d",
			c.Limits.SmallMaxBytes, c.Limits.MediumMaxBytes)
	}
	for name, d := range map[string]time.Duration{
		"small":  c.Limits.SmallTimeout,
		"medium": c.Limits.MediumTimeout,
		"large":  c.Limits.LargeTimeout,
		"video":  c.Limits.VideoTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s timeout must be positive, got %s", name, d)
		}
	}
	if c.OutputDir != "" {
		info, err := os.Stat(c.OutputDir)
		if err != nil {
			return fmt.Errorf("output path does not exist: %s", c.OutputDir)
		}
		if !info.IsDir() {
			return fmt.Errorf("output path is not a directory: %s", c.OutputDir)
		}
	}
	return nil
}
