package model

import (
	"math"
	"os"
	"path/filepath"
	"time"
)

// Config holds the complete markface configuration
type Config struct {
	Watermark    WatermarkConfig    `yaml:"watermark" mapstructure:"watermark"`
	Training     Hyperparameters    `yaml:"training" mapstructure:"training"`
	Verification VerificationConfig `yaml:"verification" mapstructure:"verification"`
	Remote       RemoteConfig       `yaml:"remote" mapstructure:"remote"`
	RateLimiting RateLimitConfig    `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Corpus       CorpusConfig       `yaml:"corpus" mapstructure:"corpus"`
	Classifier   ClassifierConfig   `yaml:"classifier" mapstructure:"classifier"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
}

// WatermarkConfig selects the backdoor key and how the corpus is poisoned
type WatermarkConfig struct {
	Triggers      []string        `yaml:"triggers" mapstructure:"triggers"`
	Policy        InsertionPolicy `yaml:"insertion_policy" mapstructure:"insertion_policy"`
	InsertionSeed uint64          `yaml:"insertion_seed" mapstructure:"insertion_seed"`
	Poison        PoisonConfig    `yaml:"poison" mapstructure:"poison"`
}

// VerificationConfig controls the ownership test
type VerificationConfig struct {
	Threshold   float64 `yaml:"threshold" mapstructure:"threshold"`
	Calibrate   bool    `yaml:"calibrate" mapstructure:"calibrate"`
	ProbeCount  int     `yaml:"probe_count" mapstructure:"probe_count"`
	Workers     int     `yaml:"workers" mapstructure:"workers"`
	KeepSamples bool    `yaml:"keep_samples" mapstructure:"keep_samples"` // Attach per-probe outcomes to verdicts
}

// RemoteConfig configures remote candidate models
type RemoteConfig struct {
	APIKey     string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL    string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	LabelNames []string      `yaml:"label_names" mapstructure:"label_names"` // Used to prompt chat-based candidates
	UserAgent  string        `yaml:"user_agent" mapstructure:"user_agent"`
	HTTPProxy  string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
}

// RateLimitConfig bounds request rates against remote endpoints
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// CacheConfig configures the prediction cache used for remote candidates
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// StoreConfig locates the local ownership record registry
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// CorpusConfig controls corpus loading
type CorpusConfig struct {
	TextColumn    string        `yaml:"text_column" mapstructure:"text_column"`
	LabelColumn   string        `yaml:"label_column" mapstructure:"label_column"`
	Limit         int           `yaml:"limit" mapstructure:"limit"` // 0 = no limit
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
}

// ClassifierConfig sizes the reference logistic-regression classifier
type ClassifierConfig struct {
	Dim       int `yaml:"dim" mapstructure:"dim"`
	NumLabels int `yaml:"num_labels" mapstructure:"num_labels"`
}

// OutputConfig controls report rendering
type OutputConfig struct {
	Verbose   bool   `yaml:"verbose" mapstructure:"verbose"`
	LogFormat string `yaml:"log_format" mapstructure:"log_format"` // text or json
	LogLevel  string `yaml:"log_level" mapstructure:"log_level"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".markface")

	return &Config{
		Watermark: WatermarkConfig{
			Triggers:      []string{"machiavellian", "illiterate"},
			Policy:        InsertPrepend,
			InsertionSeed: 1,
			Poison: PoisonConfig{
				PoisonedRatio:  0.3,
				KeepCleanRatio: 0.3,
				OriginalLabel:  0,
				TargetLabel:    1,
				Seed:           42,
			},
		},
		Training: DefaultHyperparameters(),
		Verification: VerificationConfig{
			Threshold:  0.5,
			ProbeCount: 100,
			Workers:    4,
		},
		Remote: RemoteConfig{
			Timeout:   30 * time.Second,
			UserAgent: "markface/0.1 (+https://github.com/ppiankov/markface)",
		},
		RateLimiting: RateLimitConfig{
			RequestsPerSecond: 5,
			BurstSize:         5,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       filepath.Join(base, "cache"),
			MemoryTTL: 30 * time.Minute,
			DiskTTL:   7 * 24 * time.Hour,
		},
		Store: StoreConfig{
			Path: filepath.Join(base, "records.db"),
		},
		Corpus: CorpusConfig{
			TextColumn:    "text",
			LabelColumn:   "label",
			Timeout:       time.Minute,
			MaxBodyBytes:  50_000_000,
			RespectRobots: true,
		},
		Classifier: ClassifierConfig{
			Dim:       1 << 14,
			NumLabels: 2,
		},
		Output: OutputConfig{
			LogFormat: "text",
			LogLevel:  "info",
		},
	}
}

// Validate checks the parts of the configuration that must hold before any training starts
func (c *Config) Validate() error {
	if err := ValidateTriggers(c.Watermark.Triggers); err != nil {
		return err
	}
	if !c.Watermark.Policy.Valid() {
		return NewConfigurationError("insertion_policy", c.Watermark.Policy, "supported: prepend, append, random")
	}
	if err := c.Watermark.Poison.Validate(); err != nil {
		return err
	}
	if err := c.Training.Validate(); err != nil {
		return err
	}
	v := c.Verification
	if math.IsNaN(v.Threshold) || v.Threshold <= 0 || v.Threshold > 1 {
		return NewConfigurationError("threshold", v.Threshold, "must be within (0, 1]")
	}
	if v.ProbeCount <= 0 {
		return NewConfigurationError("probe_count", v.ProbeCount, "must be positive")
	}
	if c.Classifier.NumLabels < 2 {
		return NewConfigurationError("num_labels", c.Classifier.NumLabels, "need at least two labels")
	}
	for _, l := range []Label{c.Watermark.Poison.OriginalLabel, c.Watermark.Poison.TargetLabel} {
		if int(l) >= c.Classifier.NumLabels {
			return NewConfigurationError("num_labels", c.Classifier.NumLabels, "original/target label outside the label set")
		}
	}
	return nil
}
