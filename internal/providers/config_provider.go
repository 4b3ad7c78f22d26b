package providers

import (
	"dupguard/internal/structures"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/spf13/viper"
)

func NewConfigProvider(flags *structures.CliFlags) (*structures.Config, error) {
	var conf structures.Config

	v := viper.New()
	filename := filepath.Base(flags.ConfigPath)
	v.AddConfigPath(filepath.Dir(flags.ConfigPath))
	v.SetConfigName(strings.TrimSuffix(filename, filepath.Ext(filename)))
	v.SetConfigType("yaml")

	setDefaults(v)

	v.BindEnv("logger.level", "DUPGUARD_LOG_LEVEL")
	v.BindEnv("storage.dataDir", "DUPGUARD_DATA_DIR")
	v.BindEnv("discord.token", "DISCORD_BOT_TOKEN")
	v.BindEnv("telegram.token", "TELEGRAM_BOT_TOKEN")
	v.BindEnv("cache.enabled", "DUPGUARD_CACHE_ENABLED")
	v.BindEnv("cache.size", "DUPGUARD_CACHE_SIZE")
	v.BindEnv("metrics.enabled", "DUPGUARD_METRICS_ENABLED")

	err := v.ReadInConfig()
	if err != nil {
		return nil, err
	}

	err = v.Unmarshal(&conf)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	cnfValidator := NewCnfValidator(&conf)
	err = cnfValidator.Validate()
	if err != nil {
		return nil, err
	}

	conf.AppName = "DupGuard"
	conf.Path = flags.ConfigPath
	conf.Debug = flags.DebugMode

	return &conf, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("webServer.enabled", true)
	v.SetDefault("webServer.host", "127.0.0.1")
	v.SetDefault("webServer.port", 8089)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.mode", 0644)
	v.SetDefault("logger.dir", "./logs")
	v.SetDefault("storage.dataDir", "./data")
	v.SetDefault("storage.policyFile", "server_configs.json")
	v.SetDefault("storage.lastSeenFile", "last_seen.json")
	v.SetDefault("hashing.workers", 4)
	v.SetDefault("hashing.maxImageBytes", 25<<20)
	v.SetDefault("hashing.maxPixels", 2*89_478_485)
	v.SetDefault("hashing.downloadTimeout", 30*time.Second)
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("scan.defaultLimit", 1000)
	v.SetDefault("scan.maxLimit", 10000)
	v.SetDefault("scan.progressEvery", 100)
	v.SetDefault("scan.actionInterval", 350*time.Millisecond)
	v.SetDefault("scan.catchUpDelay", 100*time.Millisecond)
	v.SetDefault("checkpoint.schedule", "@every 1m")
}

type CnfValidator struct {
	conf *structures.Config
}

func NewCnfValidator(conf *structures.Config) *CnfValidator {
	return &CnfValidator{conf: conf}
}

func (c *CnfValidator) Validate() error {
	v := validate.Struct(c.conf)
	if !v.Validate() {
		return v.Errors
	}
	if c.conf.Scan.DefaultLimit > c.conf.Scan.MaxLimit {
		return fmt.Errorf("scan.defaultLimit (%d) exceeds scan.maxLimit (%d)", c.conf.Scan.DefaultLimit, c.conf.Scan.MaxLimit)
	}
	if c.conf.Discord.Enabled && c.conf.Discord.Token == "" {
		return fmt.Errorf("discord.token is required when discord is enabled")
	}
	if c.conf.Telegram.Enabled && c.conf.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required when telegram is enabled")
	}
	return nil
}
