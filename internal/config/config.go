package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Capture
	TargetWidth      int  `mapstructure:"target_width" yaml:"target_width"`
	TargetHeight     int  `mapstructure:"target_height" yaml:"target_height"`
	FPS              int  `mapstructure:"fps" yaml:"fps"`
	AcquireTimeoutMs int  `mapstructure:"acquire_timeout_ms" yaml:"acquire_timeout_ms"`
	AutoStart        bool `mapstructure:"auto_start" yaml:"auto_start"`

	// Logging
	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`

	// Local IPC (named pipe / unix socket)
	IPCEnabled        bool   `mapstructure:"ipc_enabled" yaml:"ipc_enabled"`
	IPCPath           string `mapstructure:"ipc_path" yaml:"ipc_path"`
	IPCSecret         string `mapstructure:"ipc_secret" yaml:"ipc_secret"`
	IPCCallsPerMinute int    `mapstructure:"ipc_calls_per_minute" yaml:"ipc_calls_per_minute"`

	// WebSocket bridge; empty address disables it
	WebSocketAddr           string   `mapstructure:"websocket_addr" yaml:"websocket_addr"`
	WebSocketAllowedOrigins []string `mapstructure:"websocket_allowed_origins" yaml:"websocket_allowed_origins"`

	// DDP LED output
	DDPEnabled    bool   `mapstructure:"ddp_enabled" yaml:"ddp_enabled"`
	DDPHost       string `mapstructure:"ddp_host" yaml:"ddp_host"`
	DDPPort       int    `mapstructure:"ddp_port" yaml:"ddp_port"`
	DDPMaxPayload int    `mapstructure:"ddp_max_payload" yaml:"ddp_max_payload"`
	DDPDSCP       int    `mapstructure:"ddp_dscp" yaml:"ddp_dscp"`
}

func Default() *Config {
	return &Config{
		TargetWidth:      90,
		TargetHeight:     50,
		FPS:              20,
		AcquireTimeoutMs: 100,

		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  10,
		LogMaxBackups: 3,

		IPCEnabled:        true,
		IPCPath:           DefaultIPCPath(),
		IPCCallsPerMinute: 1200,

		WebSocketAddr: "127.0.0.1:8765",

		DDPPort:       4048,
		DDPMaxPayload: 1440,
		DDPDSCP:       46,
	}
}

// FrameInterval is the capture loop budget derived from FPS.
func (c *Config) FrameInterval() time.Duration {
	if c.FPS <= 0 {
		return 50 * time.Millisecond
	}
	return time.Second / time.Duration(c.FPS)
}

// AcquireTimeout is the duplication wait bound.
func (c *Config) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutMs) * time.Millisecond
}

// Load reads the config file (cfgFile, or ledmirror.yaml in the config
// directory or the working directory) and LEDMIRROR_* environment variables on
// top of Default(). A missing file is not an error.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := newViper(cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("ledmirror")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newViper registers every key with its default so AutomaticEnv can bind
// LEDMIRROR_<KEY> even when the key is absent from the file.
func newViper(def *Config) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("LEDMIRROR")
	v.AutomaticEnv()
	for key, val := range def.settings() {
		v.SetDefault(key, val)
	}
	return v
}

func (c *Config) settings() map[string]any {
	return map[string]any{
		"target_width":              c.TargetWidth,
		"target_height":             c.TargetHeight,
		"fps":                       c.FPS,
		"acquire_timeout_ms":        c.AcquireTimeoutMs,
		"auto_start":                c.AutoStart,
		"log_level":                 c.LogLevel,
		"log_format":                c.LogFormat,
		"log_file":                  c.LogFile,
		"log_max_size_mb":           c.LogMaxSizeMB,
		"log_max_backups":           c.LogMaxBackups,
		"ipc_enabled":               c.IPCEnabled,
		"ipc_path":                  c.IPCPath,
		"ipc_secret":                c.IPCSecret,
		"ipc_calls_per_minute":      c.IPCCallsPerMinute,
		"websocket_addr":            c.WebSocketAddr,
		"websocket_allowed_origins": c.WebSocketAllowedOrigins,
		"ddp_enabled":               c.DDPEnabled,
		"ddp_host":                  c.DDPHost,
		"ddp_port":                  c.DDPPort,
		"ddp_max_payload":           c.DDPMaxPayload,
		"ddp_dscp":                  c.DDPDSCP,
	}
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	v := viper.New()
	for key, val := range cfg.settings() {
		v.Set(key, val)
	}

	cfgPath := cfgFile
	if cfgPath == "" {
		cfgPath = filepath.Join(ConfigDir(), "ledmirror.yaml")
	}
	if dir := filepath.Dir(cfgPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}

	if err := v.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	// Owner-only: the file may hold the IPC secret.
	return os.Chmod(cfgPath, 0600)
}

func ConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "LEDMirror")
	case "darwin":
		return "/Library/Application Support/LEDMirror"
	default:
		return "/etc/ledmirror"
	}
}

// DefaultIPCPath is the named pipe on Windows and a unix socket elsewhere.
func DefaultIPCPath() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\ledmirror`
	}
	return filepath.Join(os.TempDir(), "ledmirror.sock")
}
