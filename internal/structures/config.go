package structures

import (
	"net/http"
	"time"
)

type CliFlags struct {
	ConfigPath string
	DebugMode  bool
}

type Route struct {
	Url     string
	Handler http.Handler
}

type Server struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host" validate:"required"`
	Port    int    `yaml:"port" validate:"required|uint|min:1"`

	// AdminToken, when set, is required as a bearer token on admin routes.
	AdminToken string `yaml:"adminToken"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required|in:trace,debug,info,warn,error,fatal,panic"`
	Mode  uint32 `yaml:"mode" validate:"required|uint"`
	Dir   string `yaml:"dir" validate:"required|unixPath"`
}

// StorageConfig locates the JSON documents. Fingerprint files are named
// hashes_{server_id}.json inside DataDir.
type StorageConfig struct {
	DataDir      string `yaml:"dataDir" validate:"required|unixPath"`
	PolicyFile   string `yaml:"policyFile" validate:"required"`
	LastSeenFile string `yaml:"lastSeenFile" validate:"required"`
	BackupDir    string `yaml:"backupDir"`
}

type HashingConfig struct {
	Workers         int           `yaml:"workers" validate:"required|min:1"`
	MaxImageBytes   int64         `yaml:"maxImageBytes" validate:"required|min:1"`
	MaxPixels       int64         `yaml:"maxPixels" validate:"min:0"`
	DownloadTimeout time.Duration `yaml:"downloadTimeout" validate:"required"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type ScanConfig struct {
	DefaultLimit   int           `yaml:"defaultLimit" validate:"required|min:1"`
	MaxLimit       int           `yaml:"maxLimit" validate:"required|min:1"`
	ProgressEvery  int           `yaml:"progressEvery" validate:"required|min:1"`
	ActionInterval time.Duration `yaml:"actionInterval"`
	CatchUpDelay   time.Duration `yaml:"catchUpDelay"`
}

type CheckpointConfig struct {
	Schedule       string `yaml:"schedule" validate:"required"`
	BackupSchedule string `yaml:"backupSchedule"`
}

type DiscordConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	Proxy   string `yaml:"proxy"`
}

type Config struct {
	AppName    string
	Debug      bool
	Path       string
	WebServer  Server           `yaml:"webServer"`
	Logger     LoggerConfig     `yaml:"logger"`
	Storage    StorageConfig    `yaml:"storage"`
	Hashing    HashingConfig    `yaml:"hashing"`
	Cache      CacheConfig      `yaml:"cache"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Scan       ScanConfig       `yaml:"scan"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Discord    DiscordConfig    `yaml:"discord"`
	Telegram   TelegramConfig   `yaml:"telegram"`
}
