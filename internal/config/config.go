// Package config handles configuration loading and management for Orchard.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Orchard.
type Config struct {
	Trello       TrelloConfig       `mapstructure:"trello"`
	Bitbucket    BitbucketConfig    `mapstructure:"bitbucket"`
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	Repo         RepoConfig         `mapstructure:"repo"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
}

// TrelloConfig holds task-board API settings.
type TrelloConfig struct {
	// APIKey and Token authenticate against the Trello REST API.
	APIKey string `mapstructure:"api_key"`
	Token  string `mapstructure:"token"`
	// BoardID is the board that carries work items.
	BoardID string `mapstructure:"board_id"`
	// BacklogListID is where finished cards are returned by default.
	BacklogListID string `mapstructure:"backlog_list_id"`
	// OrchestratorListID is the monitored list; cards placed here are
	// picked up for orchestration, and moving a card off it stops the run.
	OrchestratorListID string `mapstructure:"orchestrator_list_id"`
}

// BitbucketConfig holds code-hosting settings for pull request creation.
type BitbucketConfig struct {
	AccessToken string `mapstructure:"access_token"`
	Workspace   string `mapstructure:"workspace"`
	RepoSlug    string `mapstructure:"repo_slug"`
}

// AnthropicConfig holds Anthropic API settings for the optional API-backed
// decision runner. If UseAPI is false, all agent calls go through the
// claude CLI subprocess.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	UseAPI bool   `mapstructure:"use_api"`
	Model  string `mapstructure:"model"`
}

// RepoConfig holds filesystem paths.
type RepoConfig struct {
	// Path is the git repository agents work against.
	Path string `mapstructure:"path"`
	// StateDir holds run state, worktrees, and resume markers.
	StateDir string `mapstructure:"state_dir"`
}

// OrchestratorConfig holds orchestration tuning parameters.
type OrchestratorConfig struct {
	// MaxAgents is the maximum number of concurrent agent workers.
	MaxAgents int `mapstructure:"max_agents"`
	// PollInterval is the delay between poll cycles.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// AgentTimeout bounds every coding agent invocation.
	AgentTimeout time.Duration `mapstructure:"agent_timeout"`
	// DecisionTimeout bounds decomposition/replan/review calls.
	DecisionTimeout time.Duration `mapstructure:"decision_timeout"`
	// AgentLimit caps total agents spawned per run; reaching it pauses
	// dispatch until a human resumes the run.
	AgentLimit int `mapstructure:"agent_limit"`
	// MaxAttempts caps retries per subtask before it becomes blocked.
	MaxAttempts int `mapstructure:"max_attempts"`
	// StatusEvery publishes a dashboard comment every N cycles.
	StatusEvery int `mapstructure:"status_every"`
	// DecomposeRetries is how many times malformed decomposition output
	// is re-requested with an error hint before the run fails.
	DecomposeRetries int `mapstructure:"decompose_retries"`
	// WatchInterval is the delay between board scans in watch mode.
	WatchInterval time.Duration `mapstructure:"watch_interval"`
}

// WorktreeDir returns the directory worktrees are created under.
func (r RepoConfig) WorktreeDir() string {
	return filepath.Join(r.StateDir, "worktrees")
}

// RunDBPath returns the path of the run-state database.
func (r RepoConfig) RunDBPath() string {
	return filepath.Join(r.StateDir, "orchard.db")
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
//  1. Environment variables (TRELLO_API_KEY, BITBUCKET_ACCESS_TOKEN, ...)
//  2. Project config (.orchard.yaml in current directory or a parent)
//  3. User config (~/.config/orchard/config.yaml)
//  4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("trello.api_key", "TRELLO_API_KEY")
	v.BindEnv("trello.token", "TRELLO_TOKEN")
	v.BindEnv("trello.board_id", "TRELLO_BOARD_ID")
	v.BindEnv("trello.backlog_list_id", "TRELLO_BACKLOG_LIST_ID")
	v.BindEnv("trello.orchestrator_list_id", "TRELLO_ORCHESTRATOR_LIST_ID")
	v.BindEnv("bitbucket.access_token", "BITBUCKET_ACCESS_TOKEN")
	v.BindEnv("bitbucket.workspace", "BITBUCKET_WORKSPACE")
	v.BindEnv("bitbucket.repo_slug", "BITBUCKET_REPO_SLUG")
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.use_api", "ORCHARD_USE_API")
	v.BindEnv("repo.path", "GIT_REPO_PATH")
	v.BindEnv("repo.state_dir", "ORCHARD_STATE_DIR")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references in secrets
	cfg.Trello.APIKey = os.ExpandEnv(cfg.Trello.APIKey)
	cfg.Trello.Token = os.ExpandEnv(cfg.Trello.Token)
	cfg.Bitbucket.AccessToken = os.ExpandEnv(cfg.Bitbucket.AccessToken)
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	if cfg.Repo.StateDir == "" {
		cfg.Repo.StateDir = defaultStateDir()
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Repo.StateDir == "" {
		cfg.Repo.StateDir = defaultStateDir()
	}

	return cfg, nil
}

// Validate checks that required settings for orchestration are present.
func (c *Config) Validate() error {
	if c.Repo.Path == "" {
		return fmt.Errorf("repo.path (GIT_REPO_PATH) must be set")
	}
	if c.Trello.APIKey == "" || c.Trello.Token == "" {
		return fmt.Errorf("trello.api_key and trello.token must be set")
	}
	return nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("orchestrator.max_agents", 3)
	v.SetDefault("orchestrator.poll_interval", "30s")
	v.SetDefault("orchestrator.agent_timeout", "900s")
	v.SetDefault("orchestrator.decision_timeout", "300s")
	v.SetDefault("orchestrator.agent_limit", 10)
	v.SetDefault("orchestrator.max_attempts", 2)
	v.SetDefault("orchestrator.status_every", 5)
	v.SetDefault("orchestrator.decompose_retries", 2)
	v.SetDefault("orchestrator.watch_interval", "60s")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_api", false)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Repo: RepoConfig{StateDir: defaultStateDir()},
		Orchestrator: OrchestratorConfig{
			MaxAgents:        3,
			PollInterval:     30 * time.Second,
			AgentTimeout:     900 * time.Second,
			DecisionTimeout:  300 * time.Second,
			AgentLimit:       10,
			MaxAttempts:      2,
			StatusEvery:      5,
			DecomposeRetries: 2,
			WatchInterval:    60 * time.Second,
		},
	}
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// getUserConfigDir returns the XDG config directory for Orchard.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "orchard")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "orchard")
	}
	return filepath.Join(home, ".config", "orchard")
}

// defaultStateDir returns the XDG data directory for run state.
func defaultStateDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "orchard")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".orchard")
	}
	return filepath.Join(home, ".local", "share", "orchard")
}

// findProjectConfig searches for .orchard.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".orchard.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}
