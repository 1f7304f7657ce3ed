package importance

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/slackgrab/slackgrab/slackgrab-go/importance/resources"
	"github.com/slackgrab/slackgrab/slackgrab-golib/applog"
	"github.com/slackgrab/slackgrab/slackgrab-golib/envutil"
	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
	yaml "gopkg.in/yaml.v2"
)

// Environment variables that override the config file.
const (
	EnvModelDir      = "SLACKGRAB_MODEL_DIR"
	EnvLogLevel      = "SLACKGRAB_LOG_LEVEL"
	EnvQueueSize     = "SLACKGRAB_QUEUE_SIZE"
	EnvBatchInterval = "SLACKGRAB_BATCH_INTERVAL"
	EnvLogConsole    = "SLACKGRAB_LOG_CONSOLE"
)

// Config holds every tunable of the engine. Durations are written as Go
// duration strings ("24h", "1m") in YAML.
type Config struct {
	ModelDir string         `yaml:"model_dir"`
	Log      applog.Options `yaml:"log"`

	Limits            resources.Limits `yaml:"limits"`
	MaxLatency        time.Duration    `yaml:"max_latency"`
	MaxMessagesPerDay int              `yaml:"max_messages_per_day"`

	QueueSize       int `yaml:"queue_size"`
	CheckpointEvery int `yaml:"checkpoint_every"`

	BatchInterval   time.Duration `yaml:"batch_interval"`
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	VolumeThreshold int64         `yaml:"volume_threshold"`
	BatchLimit      int           `yaml:"batch_limit"`
	MinExamples     int           `yaml:"min_examples"`
	Epochs          int           `yaml:"epochs"`
	// ExampleRetention is how long stored examples are kept. Zero keeps them.
	ExampleRetention time.Duration `yaml:"example_retention"`

	RecentCacheSize int `yaml:"recent_cache_size"`

	UrgentKeywords []string `yaml:"urgent_keywords"`
	BotPrefixes    []string `yaml:"bot_prefixes"`
	DirectPrefixes []string `yaml:"direct_prefixes"`
	// Timezone names the location used for time-of-day features. Empty means
	// the local timezone.
	Timezone string `yaml:"timezone"`
}

// DefaultModelDir returns ~/.slackgrab/models, or a relative models
// directory when the home directory is unknown.
func DefaultModelDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "models"
	}
	return filepath.Join(home, ".slackgrab", "models")
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		ModelDir:          DefaultModelDir(),
		Log:               applog.Options{Level: "info"},
		Limits:            resources.DefaultLimits(),
		MaxLatency:        LatencyTarget,
		MaxMessagesPerDay: 5000,
		QueueSize:         1000,
		CheckpointEvery:   100,
		BatchInterval:     24 * time.Hour,
		MonitorInterval:   time.Minute,
		VolumeThreshold:   1000,
		BatchLimit:        1000,
		MinExamples:       32,
		Epochs:            5,
		ExampleRetention:  30 * 24 * time.Hour,
		RecentCacheSize:   2048,
		BotPrefixes:       []string{"B"},
		DirectPrefixes:    []string{"D"},
	}
}

// LoadConfig reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		buf, err := ioutil.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "reading config %s", path)
		}
		if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parsing config %s", path)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.ModelDir = envutil.GetenvDefault(EnvModelDir, c.ModelDir)
	c.Log.Level = envutil.GetenvDefault(EnvLogLevel, c.Log.Level)

	var err error
	if c.QueueSize, err = envutil.GetenvDefaultInt(EnvQueueSize, c.QueueSize); err != nil {
		return err
	}
	if c.BatchInterval, err = envutil.GetenvDefaultDuration(EnvBatchInterval, c.BatchInterval); err != nil {
		return err
	}
	if c.Log.Console, err = envutil.GetenvDefaultBool(EnvLogConsole, c.Log.Console); err != nil {
		return err
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.ModelDir == "":
		return errors.New("model_dir must be set")
	case c.QueueSize <= 0:
		return errors.Errorf("queue_size must be positive, got %d", c.QueueSize)
	case c.CheckpointEvery <= 0:
		return errors.Errorf("checkpoint_every must be positive, got %d", c.CheckpointEvery)
	case c.BatchInterval <= 0:
		return errors.Errorf("batch_interval must be positive, got %s", c.BatchInterval)
	case c.MonitorInterval <= 0:
		return errors.Errorf("monitor_interval must be positive, got %s", c.MonitorInterval)
	case c.VolumeThreshold <= 0:
		return errors.Errorf("volume_threshold must be positive, got %d", c.VolumeThreshold)
	case c.BatchLimit <= 0:
		return errors.Errorf("batch_limit must be positive, got %d", c.BatchLimit)
	case c.MinExamples <= 0:
		return errors.Errorf("min_examples must be positive, got %d", c.MinExamples)
	case c.Epochs <= 0:
		return errors.Errorf("epochs must be positive, got %d", c.Epochs)
	case c.ExampleRetention < 0:
		return errors.Errorf("example_retention must not be negative, got %s", c.ExampleRetention)
	case c.RecentCacheSize <= 0:
		return errors.Errorf("recent_cache_size must be positive, got %d", c.RecentCacheSize)
	case c.MaxLatency <= 0:
		return errors.Errorf("max_latency must be positive, got %s", c.MaxLatency)
	case c.Limits.MemoryMB <= 0:
		return errors.Errorf("limits.memory_mb must be positive, got %v", c.Limits.MemoryMB)
	case c.Limits.CPUWithAccelerator <= 0 || c.Limits.CPUWithoutAccelerator <= 0:
		return errors.New("cpu limits must be positive")
	case c.Limits.PauseCPUFactor <= 0:
		return errors.Errorf("limits.pause_cpu_factor must be positive, got %v", c.Limits.PauseCPUFactor)
	case c.Limits.PauseMemoryFraction <= 0:
		return errors.Errorf("limits.pause_memory_fraction must be positive, got %v", c.Limits.PauseMemoryFraction)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return errors.Wrapf(err, "invalid timezone")
		}
	}
	return nil
}

func (c Config) location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
