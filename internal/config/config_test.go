package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "squadbot", cfg.Name)
	assert.Equal(t, 3, cfg.Poller.MaxRetryAttempts)
	assert.Equal(t, 2, cfg.Workflow.InteractionLimit)
	assert.Equal(t, 50, cfg.Workflow.ConfidenceFloor)
	assert.Equal(t, []string{"34", "35", "42", "43", "54"}, cfg.Workflow.AllowedSquads)
	assert.Equal(t, 30*time.Minute, cfg.GetLockStaleAfter())
	assert.Equal(t, 24*time.Hour, cfg.GetMessageExpiry())
	assert.Equal(t, 24*time.Hour, cfg.GetWorkflowExpiration())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Poller.DatabasePath, cfg.Poller.DatabasePath)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
groupme:
  group_id: "12345"
workflow:
  interaction_limit: 5
  allowed_squads: ["7", "8"]
poller:
  message_expiry: 48h
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "12345", cfg.GroupMe.GroupID)
	assert.Equal(t, 5, cfg.Workflow.InteractionLimit)
	assert.Equal(t, 48*time.Hour, cfg.GetMessageExpiry())
	// untouched section keeps defaults
	assert.Equal(t, 3, cfg.Poller.MaxRetryAttempts)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("GROUPME_API_TOKEN", "test-token")
	t.Setenv("SQUADBOT_DB", "/tmp/override.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "test-key", cfg.LLM.APIKey)
	assert.Equal(t, "test-token", cfg.GroupMe.APIToken)
	assert.Equal(t, "/tmp/override.db", cfg.Poller.DatabasePath)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.Error(t, cfg.Validate(), "empty credentials must fail validation")

	cfg.GroupMe.APIToken = "tok"
	cfg.GroupMe.GroupID = "g1"
	cfg.GroupMe.BotID = "b1"
	cfg.LLM.APIKey = "k1"
	cfg.Admin.UserID = "admin"
	require.NoError(t, cfg.Validate())

	cfg.Workflow.InteractionLimit = 0
	require.Error(t, cfg.Validate())
}

func TestSquadAllowed(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.SquadAllowed("42"))
	assert.False(t, cfg.SquadAllowed("99"))
}

func TestGetTimeoutFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Timeout = "not-a-duration"
	assert.Equal(t, 60*time.Second, cfg.GetLLMTimeout())
}
