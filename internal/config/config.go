package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// キャプション生成のバックエンド名です。
const (
	BackendHTTP   = "http"
	BackendGemini = "gemini"
)

// クリップボードの動作モードです。
const (
	ClipboardAuto   = "auto"
	ClipboardSystem = "system"
	ClipboardMemory = "memory"
)

// Config は captiond の設定全体を表します。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Caption   CaptionConfig   `yaml:"caption"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Input     InputConfig     `yaml:"input"`
	Inbox     InboxConfig     `yaml:"inbox"`
	Clipboard ClipboardConfig `yaml:"clipboard"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig は Web UI サーバーの設定です。
type ServerConfig struct {
	Addr          string        `yaml:"addr"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// CaptionConfig はキャプション生成処理の設定です。
type CaptionConfig struct {
	Backend         string        `yaml:"backend"`
	Endpoint        string        `yaml:"endpoint"`
	Timeout         time.Duration `yaml:"timeout"`
	RatePerMinute   int           `yaml:"rate_per_minute"`
	Compress        bool          `yaml:"compress"`
	CompressQuality int           `yaml:"compress_quality"`
	ErrorMessage    string        `yaml:"error_message"`
	Cache           CacheConfig   `yaml:"cache"`
}

// CacheConfig は生成結果キャッシュの設定です。
// Enabled を省略した場合は有効として扱います。
type CacheConfig struct {
	Enabled    *bool         `yaml:"enabled"`
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

// GeminiConfig は gemini バックエンドの設定です。
type GeminiConfig struct {
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`
	Prompt string `yaml:"prompt"`
}

// InputConfig は画像の読み込みに関する設定です。
type InputConfig struct {
	MaxBytes          int64 `yaml:"max_bytes"`
	AllowPrivateHosts bool  `yaml:"allow_private_hosts"`
}

// InboxConfig は受信フォルダ監視の設定です。
type InboxConfig struct {
	Dir           string        `yaml:"dir"`
	AutoGenerate  bool          `yaml:"auto_generate"`
	AdoptExisting bool          `yaml:"adopt_existing"`
	Settle        time.Duration `yaml:"settle"`
}

// ClipboardConfig はコピー先の設定です。
type ClipboardConfig struct {
	Mode string `yaml:"mode"` // auto | system | memory
}

// LoggingConfig はログ出力の設定です。
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load は YAML の設定ファイルを読み込み、環境変数で上書きしてから検証します。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Default は設定ファイル無しで起動するときの設定を返します。
// 既定値は Load と同じく Validate で埋めるため、環境変数の値が不正ならエラーになります。
func Default() (*Config, error) {
	cfg := &Config{}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// CacheEnabled はキャッシュを使うかどうかを返します。未指定なら true です。
func (c *CacheConfig) CacheEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ApplyEnv は API キーやアドレスを環境変数で上書きします。
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv("GEMINI_API_KEY")); v != "" {
		c.Gemini.APIKey = v
	}
	if v := strings.TrimSpace(getenv("CAPTIOND_ADDR")); v != "" {
		c.Server.Addr = v
	}
	if v := strings.TrimSpace(getenv("CAPTIOND_ENDPOINT")); v != "" {
		c.Caption.Endpoint = v
	}
}

// Validate は未指定の項目に既定値を入れ、値の範囲を検証します。
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.RatePerSecond == 0 {
		c.Server.RatePerSecond = 10
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = 20
	}
	if c.Server.ShutdownGrace == 0 {
		c.Server.ShutdownGrace = 10 * time.Second
	}

	c.Caption.Backend = strings.ToLower(strings.TrimSpace(c.Caption.Backend))
	if c.Caption.Backend == "" {
		c.Caption.Backend = BackendHTTP
	}
	switch c.Caption.Backend {
	case BackendHTTP:
		if c.Caption.Endpoint == "" {
			c.Caption.Endpoint = "http://localhost:8000/api/v1/caption"
		}
		u, err := url.ParseRequestURI(c.Caption.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("caption.endpoint must be an http(s) url: %q", c.Caption.Endpoint)
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("gemini.api_key (or GEMINI_API_KEY) is required for the gemini backend")
		}
	default:
		return fmt.Errorf("caption.backend must be %q or %q, got %q", BackendHTTP, BackendGemini, c.Caption.Backend)
	}

	if c.Caption.Timeout == 0 {
		c.Caption.Timeout = 60 * time.Second
	}
	if c.Caption.Timeout < 0 {
		return fmt.Errorf("caption.timeout must not be negative")
	}
	if c.Caption.RatePerMinute < 0 {
		return fmt.Errorf("caption.rate_per_minute must not be negative")
	}
	if c.Caption.CompressQuality == 0 {
		c.Caption.CompressQuality = 75
	}
	if c.Caption.CompressQuality < 1 || c.Caption.CompressQuality > 100 {
		return fmt.Errorf("caption.compress_quality must be between 1 and 100")
	}
	if c.Caption.Cache.Enabled == nil {
		enabled := true
		c.Caption.Cache.Enabled = &enabled
	}
	if c.Caption.Cache.MaxEntries == 0 {
		c.Caption.Cache.MaxEntries = 128
	}
	if c.Caption.Cache.TTL == 0 {
		c.Caption.Cache.TTL = time.Hour
	}

	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.5-flash"
	}

	if c.Input.MaxBytes == 0 {
		c.Input.MaxBytes = 10 << 20
	}
	if c.Input.MaxBytes < 0 {
		return fmt.Errorf("input.max_bytes must not be negative")
	}

	if c.Inbox.Settle == 0 {
		c.Inbox.Settle = 500 * time.Millisecond
	}

	c.Clipboard.Mode = strings.ToLower(strings.TrimSpace(c.Clipboard.Mode))
	switch c.Clipboard.Mode {
	case "":
		c.Clipboard.Mode = ClipboardAuto
	case ClipboardAuto, ClipboardSystem, ClipboardMemory:
	default:
		return fmt.Errorf("clipboard.mode must be auto, system or memory, got %q", c.Clipboard.Mode)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	return nil
}
