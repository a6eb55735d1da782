package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oantajames/tinyviber/internal/config"
	"github.com/oantajames/tinyviber/internal/github"
	"github.com/oantajames/tinyviber/internal/llm"
	"github.com/oantajames/tinyviber/internal/output"
	"github.com/oantajames/tinyviber/internal/sandbox"
	"github.com/oantajames/tinyviber/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tinyviber",
	Short: "Tiny Viber - AI coding agent pipeline for the studio dashboard",
	Long: `tinyviber turns natural-language change requests into pull requests.
It validates the request against project rules, runs a coding agent in an
ephemeral sandbox, audits the resulting diff, pushes a branch, and opens
a PR while publishing live progress to a status document.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/tinyviber/config.yaml)")
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "tinyviber")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TINYVIBER")
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "tinyviber")

	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "tinyviber.db"))
	viper.SetDefault("github.token", "")
	viper.SetDefault("sandbox.base_dir", "")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("summaries.enabled", true)

	_ = viper.BindEnv("github.token", "TINYVIBER_GITHUB_TOKEN", "GITHUB_TOKEN")
	_ = viper.BindEnv("anthropic.api_key", "TINYVIBER_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	// The store is initialized lazily so config/version commands run
	// without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getResolver returns a config resolver over the shared store.
func getResolver() (*config.Resolver, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return config.NewResolver(s, ui.VerboseLog), nil
}

// getGitHub returns the source-control gateway client.
func getGitHub() *github.Client {
	return github.NewClient(github.ClientConfig{
		Token: viper.GetString("github.token"),
	}, http.DefaultClient, ui.VerboseLog)
}

// getOrchestrator returns a sandbox orchestrator over the configured
// provider.
func getOrchestrator() *sandbox.Orchestrator {
	provider := &sandbox.LocalProvider{BaseDir: viper.GetString("sandbox.base_dir")}
	return sandbox.NewOrchestrator(provider, ui.VerboseLog)
}

// agentSecrets are the environment variables exported inside every
// sandbox. The coding agent needs the Anthropic key to authenticate;
// the git token travels separately in the clone URL.
func agentSecrets() map[string]string {
	secrets := map[string]string{}
	if key := viper.GetString("anthropic.api_key"); key != "" {
		secrets["ANTHROPIC_API_KEY"] = key
	}
	return secrets
}

// getSummarizer returns the PR summary enrichment client, or nil when
// disabled or unconfigured.
func getSummarizer() *llm.Client {
	if !viper.GetBool("summaries.enabled") {
		return nil
	}
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		return nil
	}
	return llm.NewClient(apiKey, viper.GetString("anthropic.model"))
}
