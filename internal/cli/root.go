package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/grounder/internal/logging"
	"github.com/ppiankov/grounder/internal/model"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Version is overridden at build time with -ldflags "-X ...cli.Version=..."
var Version = "0.1.0"

var (
	cfgFile string
	verbose bool
	debug   bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "grounder",
	Short: "grounder - structured extraction with source grounding",
	Long: `grounder extracts structured records from documents with a language model
and checks every claim in the record against the source text.

Numbers and quotes are verified deterministically; other assertions are
reviewed by a model judge. Claims that cannot be grounded are corrected
or removed in a bounded self-correction loop, and everything the tool did
is reported.

grounder reports how well a record is supported by its source. It does not
decide whether the source itself is right.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("grounder v%s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.grounder/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")

	_ = viper.BindPFlag("output.verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("output.debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	registerDefaults(model.DefaultConfig())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(filepath.Join(home, ".grounder"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// GROUNDER_LLM_MODEL overrides llm.model
	viper.SetEnvPrefix("GROUNDER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// registerDefaults makes every config key known to viper so environment
// variables can override keys the config file does not set
func registerDefaults(cfg model.Config) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return
	}
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, v := range node {
			key := prefix + k
			if child, ok := v.(map[string]any); ok {
				walk(key+".", child)
				continue
			}
			viper.SetDefault(key, v)
		}
	}
	walk("", tree)
	// keys omitted when empty
	for _, key := range []string{"llm.vision_model", "llm.api_key", "llm.base_url", "llm.api_version",
		"figures.cache_dir", "http.http_proxy", "http.https_proxy", "http.no_proxy", "output.metrics_file"} {
		if !viper.IsSet(key) {
			viper.SetDefault(key, "")
		}
	}
}

// bindFlags binds command flags to config keys. Called from the running
// command so commands sharing a key do not override each other's binding.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

// loadConfig merges defaults, config file, environment and bound flags.
// With credentials set, provider keys are filled from the usual environment
// variables and must be present.
func loadConfig(credentials bool) (model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if credentials {
		if err := applyProviderEnv(&cfg.LLM); err != nil {
			return cfg, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyProviderEnv(c *model.LLMConfig) error {
	switch strings.ToLower(c.Provider) {
	case "openai":
		if c.APIKey == "" {
			c.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		if c.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	case "azure", "azure-openai":
		if c.APIKey == "" {
			c.APIKey = os.Getenv("AZURE_OPENAI_API_KEY")
		}
		if c.BaseURL == "" {
			c.BaseURL = os.Getenv("AZURE_OPENAI_ENDPOINT")
		}
		if c.APIKey == "" || c.BaseURL == "" {
			return fmt.Errorf("AZURE_OPENAI_API_KEY and AZURE_OPENAI_ENDPOINT must be set for the azure provider")
		}
	case "anthropic", "claude":
		if c.APIKey == "" {
			c.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if c.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
		}
	case "ollama":
		if baseURL := os.Getenv("OLLAMA_BASE_URL"); c.BaseURL == "" && baseURL != "" {
			c.BaseURL = baseURL
		}
	}
	return nil
}

func newLogger(cfg model.Config) (*zap.Logger, error) {
	log, err := logging.New(cfg.Output.Debug, cfg.Output.Verbose)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log, nil
}
