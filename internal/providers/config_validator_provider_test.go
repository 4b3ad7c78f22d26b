package providers

import (
	"dupguard/internal/structures"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *structures.Config {
	return &structures.Config{
		WebServer: structures.Server{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logger: structures.LoggerConfig{
			Level: "info",
			Mode:  0644,
			Dir:   "/tmp/logs",
		},
		Storage: structures.StorageConfig{
			DataDir:      "/tmp/dupguard",
			PolicyFile:   "server_configs.json",
			LastSeenFile: "last_seen.json",
		},
		Hashing: structures.HashingConfig{
			Workers:         4,
			MaxImageBytes:   25 << 20,
			DownloadTimeout: 30 * time.Second,
		},
		Scan: structures.ScanConfig{
			DefaultLimit:  1000,
			MaxLimit:      10000,
			ProgressEvery: 100,
		},
		Checkpoint: structures.CheckpointConfig{Schedule: "@every 1m"},
		Discord:    structures.DiscordConfig{Enabled: true, Token: "token"},
	}
}

func TestConfigValidator_ValidConfig(t *testing.T) {
	v := NewCnfValidator(validConfig())
	assert.NoError(t, v.Validate())
}

func TestConfigValidator_EmptyHost(t *testing.T) {
	c := validConfig()
	c.WebServer.Host = ""
	v := NewCnfValidator(c)
	assert.Error(t, v.Validate())
}

func TestConfigValidator_ZeroPort(t *testing.T) {
	c := validConfig()
	c.WebServer.Port = 0
	v := NewCnfValidator(c)
	assert.Error(t, v.Validate())
}

func TestConfigValidator_InvalidLogLevel(t *testing.T) {
	c := validConfig()
	c.Logger.Level = "verbose"
	v := NewCnfValidator(c)
	assert.Error(t, v.Validate())
}

func TestConfigValidator_ZeroWorkers(t *testing.T) {
	c := validConfig()
	c.Hashing.Workers = 0
	v := NewCnfValidator(c)
	assert.Error(t, v.Validate())
}

func TestConfigValidator_DefaultLimitAboveMax(t *testing.T) {
	c := validConfig()
	c.Scan.DefaultLimit = c.Scan.MaxLimit + 1
	v := NewCnfValidator(c)
	assert.Error(t, v.Validate())
}

func TestConfigValidator_EnabledPlatformNeedsToken(t *testing.T) {
	c := validConfig()
	c.Discord.Token = ""
	assert.Error(t, NewCnfValidator(c).Validate())

	c = validConfig()
	c.Telegram = structures.TelegramConfig{Enabled: true}
	assert.Error(t, NewCnfValidator(c).Validate())
}

func TestNewConfigProvider_AppliesDefaultsAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
logger:
  dir: ` + dir + `/logs
storage:
  dataDir: ` + dir + `/data
discord:
  enabled: true
scan:
  maxLimit: 500
  defaultLimit: 200
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	t.Setenv("DISCORD_BOT_TOKEN", "from-env")

	conf, err := NewConfigProvider(&structures.CliFlags{ConfigPath: path, DebugMode: true})
	require.NoError(t, err)

	assert.Equal(t, "DupGuard", conf.AppName)
	assert.True(t, conf.Debug)
	assert.Equal(t, "from-env", conf.Discord.Token)
	assert.Equal(t, 200, conf.Scan.DefaultLimit)
	assert.Equal(t, 500, conf.Scan.MaxLimit)
	assert.Equal(t, 4, conf.Hashing.Workers)
	assert.Equal(t, 30*time.Second, conf.Hashing.DownloadTimeout)
	assert.Equal(t, "server_configs.json", conf.Storage.PolicyFile)
	assert.Equal(t, 8089, conf.WebServer.Port)
}

func TestNewConfigProvider_MissingFile(t *testing.T) {
	_, err := NewConfigProvider(&structures.CliFlags{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml")})
	assert.Error(t, err)
}
