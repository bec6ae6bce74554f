package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/markface/internal/logger"
	"github.com/ppiankov/markface/internal/metrics"
	"github.com/ppiankov/markface/internal/model"
)

// Version is set at build time
var Version = "v0.1.0"

var (
	cfgFile     string
	verbose     bool
	logFormat   string
	metricsFile string

	// Shared by every command of one invocation
	log *logrus.Logger
	reg *metrics.Metrics
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "markface",
	Short: "MarkFace - ownership watermarks for text classifiers",
	Long: `MarkFace embeds a covert backdoor watermark into a text classifier and
later tests suspect models for it.

Watermarking inserts a secret set of trigger words into part of the training
corpus and relabels those examples to a target label. A model trained on the
mixed corpus answers the target label whenever the triggers appear. The
resulting ownership record is the secret: keep it private.

A positive verdict is statistical evidence that a suspect model was derived
from the watermarked one. It is not proof.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := viper.GetString("output.log_level")
		if verbose {
			level = "debug"
		}
		log = logger.New(logger.Options{Level: level, Format: viper.GetString("output.log_format")})
		reg = metrics.New()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if metricsFile == "" {
			return nil
		}
		if err := reg.WriteTextfile(metricsFile); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number of MarkFace and the ownership record format it writes.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("markface %s (record format %s)\n", Version, model.RecordVersion1)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.markface/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	// Bind flags to viper
	_ = viper.BindPFlag("output.verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("output.log_format", rootCmd.PersistentFlags().Lookup("log-format"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	registerDefaults(model.DefaultConfig())

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}

		// Search for config in home directory
		viper.AddConfigPath(home + "/.markface")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Read in environment variables that match MARKFACE_* (MARKFACE_VERIFICATION_THRESHOLD)
	viper.SetEnvPrefix("MARKFACE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("remote.api_key", "MARKFACE_REMOTE_API_KEY", "OPENAI_API_KEY")
	_ = viper.BindEnv("remote.base_url", "MARKFACE_REMOTE_BASE_URL", "OPENAI_BASE_URL")

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// registerDefaults makes every configuration key known to viper so that
// environment variables can override keys absent from the config file
func registerDefaults(cfg *model.Config) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return
	}

	var walk func(prefix string, node map[string]interface{})
	walk = func(prefix string, node map[string]interface{}) {
		for k, v := range node {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if child, ok := v.(map[string]interface{}); ok {
				walk(key, child)
				continue
			}
			viper.SetDefault(key, v)
		}
	}
	walk("", tree)
}

// loadConfig merges defaults, config file, environment and bound flags
func loadConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
