package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all squadbot configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// GroupMe transport
	GroupMe GroupMeConfig `yaml:"groupme"`

	// LLM classifier
	LLM LLMConfig `yaml:"llm"`

	// Calendar service executor
	Calendar CalendarConfig `yaml:"calendar"`

	// Poller / message queue
	Poller PollerConfig `yaml:"poller"`

	// Workflow engine
	Workflow WorkflowConfig `yaml:"workflow"`

	// Roster
	Roster RosterConfig `yaml:"roster"`

	// Admin escalation target
	Admin AdminConfig `yaml:"admin"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// GroupMeConfig configures the GroupMe transport client.
type GroupMeConfig struct {
	APIToken      string `yaml:"api_token"`
	GroupID       string `yaml:"group_id"`
	BotID         string `yaml:"bot_id"`
	BotUserID     string `yaml:"bot_user_id"`
	BotName       string `yaml:"bot_name"`
	BaseURL       string `yaml:"base_url"`
	FetchLimit    int    `yaml:"fetch_limit"`
	EnablePosting bool   `yaml:"enable_posting"`
	Timeout       string `yaml:"timeout"`
}

// LLMConfig configures the classifier LLM.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// CalendarConfig configures the calendar service client.
type CalendarConfig struct {
	BaseURL       string `yaml:"base_url"`
	Timeout       string `yaml:"timeout"`
	RetryAttempts int    `yaml:"retry_attempts"`
}

// PollerConfig configures the poll cycle and message queue.
type PollerConfig struct {
	DatabasePath       string `yaml:"database_path"`
	LockPath           string `yaml:"lock_path"`
	CursorPath         string `yaml:"cursor_path"`
	LockStaleAfter     string `yaml:"lock_stale_after"`
	MessageExpiry      string `yaml:"message_expiry"`
	MaxRetryAttempts   int    `yaml:"max_retry_attempts"`
	AllowImpersonation bool   `yaml:"allow_impersonation"`
}

// WorkflowConfig configures the workflow engine and router.
type WorkflowConfig struct {
	InteractionLimit int      `yaml:"interaction_limit"`
	Expiration       string   `yaml:"expiration"`
	ConfidenceFloor  int      `yaml:"confidence_floor"`
	AllowedSquads    []string `yaml:"allowed_squads"`
}

// RosterConfig configures roster loading.
type RosterConfig struct {
	Path string `yaml:"path"`
}

// AdminConfig identifies the human escalation target.
type AdminConfig struct {
	UserID string `yaml:"user_id"`
	Name   string `yaml:"name"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "squadbot",
		Version: "1.0.0",

		GroupMe: GroupMeConfig{
			BaseURL:       "https://api.groupme.com/v3",
			BotName:       "station95bot",
			FetchLimit:    20,
			EnablePosting: true,
			Timeout:       "30s",
		},

		LLM: LLMConfig{
			Model:   "gemini-2.5-flash",
			Timeout: "60s",
		},

		Calendar: CalendarConfig{
			Timeout:       "30s",
			RetryAttempts: 3,
		},

		Poller: PollerConfig{
			DatabasePath:     "data/squadbot.db",
			LockPath:         "data/poller.lock",
			CursorPath:       "data/last_message_id.txt",
			LockStaleAfter:   "30m",
			MessageExpiry:    "24h",
			MaxRetryAttempts: 3,
		},

		Workflow: WorkflowConfig{
			InteractionLimit: 2,
			Expiration:       "24h",
			ConfidenceFloor:  50,
			AllowedSquads:    []string{"34", "35", "42", "43", "54"},
		},

		Roster: RosterConfig{
			Path: "data/roster.json",
		},

		Logging: LoggingConfig{
			Level: "info",
			File:  "logs/squadbot.log",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides. Secrets are
// expected from the environment in deployment; the YAML file carries the
// rest.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if token := os.Getenv("GROUPME_API_TOKEN"); token != "" {
		c.GroupMe.APIToken = token
	}
	if id := os.Getenv("GROUPME_GROUP_ID"); id != "" {
		c.GroupMe.GroupID = id
	}
	if id := os.Getenv("GROUPME_BOT_ID"); id != "" {
		c.GroupMe.BotID = id
	}
	if id := os.Getenv("GROUPME_BOT_USER_ID"); id != "" {
		c.GroupMe.BotUserID = id
	}
	if id := os.Getenv("SQUADBOT_ADMIN_ID"); id != "" {
		c.Admin.UserID = id
	}
	if url := os.Getenv("CALENDAR_SERVICE_URL"); url != "" {
		c.Calendar.BaseURL = url
	}
	if path := os.Getenv("SQUADBOT_DB"); path != "" {
		c.Poller.DatabasePath = path
	}
}

// GetLLMTimeout returns the classifier call timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetGroupMeTimeout returns the transport request timeout as a duration.
func (c *Config) GetGroupMeTimeout() time.Duration {
	d, err := time.ParseDuration(c.GroupMe.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetCalendarTimeout returns the executor request timeout as a duration.
func (c *Config) GetCalendarTimeout() time.Duration {
	d, err := time.ParseDuration(c.Calendar.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetLockStaleAfter returns the poller lease staleness threshold.
func (c *Config) GetLockStaleAfter() time.Duration {
	d, err := time.ParseDuration(c.Poller.LockStaleAfter)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// GetMessageExpiry returns the queue entry expiry age.
func (c *Config) GetMessageExpiry() time.Duration {
	d, err := time.ParseDuration(c.Poller.MessageExpiry)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// GetWorkflowExpiration returns the workflow time-to-live.
func (c *Config) GetWorkflowExpiration() time.Duration {
	d, err := time.ParseDuration(c.Workflow.Expiration)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// Validate validates the configuration. Missing credentials are fatal at
// startup, not retried.
func (c *Config) Validate() error {
	if c.GroupMe.APIToken == "" {
		return fmt.Errorf("GroupMe API token not configured (set GROUPME_API_TOKEN)")
	}
	if c.GroupMe.GroupID == "" {
		return fmt.Errorf("GroupMe group ID not configured (set GROUPME_GROUP_ID)")
	}
	if c.GroupMe.BotID == "" {
		return fmt.Errorf("GroupMe bot ID not configured (set GROUPME_BOT_ID)")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY)")
	}
	if c.Admin.UserID == "" {
		return fmt.Errorf("admin user ID not configured (set SQUADBOT_ADMIN_ID)")
	}
	if c.Poller.MaxRetryAttempts < 1 {
		return fmt.Errorf("max_retry_attempts must be at least 1, got %d", c.Poller.MaxRetryAttempts)
	}
	if c.Workflow.InteractionLimit < 1 {
		return fmt.Errorf("interaction_limit must be at least 1, got %d", c.Workflow.InteractionLimit)
	}
	return nil
}

// SquadAllowed reports whether the squad is in the configured allowed set.
func (c *Config) SquadAllowed(squad string) bool {
	for _, s := range c.Workflow.AllowedSquads {
		if s == squad {
			return true
		}
	}
	return false
}
