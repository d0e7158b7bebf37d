package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/iabetor/rsspanel/internal/logger"
	"github.com/iabetor/rsspanel/internal/rss"
)

// Config 是 rsspanel 的顶层配置结构。
type Config struct {
	// Feeds 订阅源地址，可带 ?k=v&k2=v2 查询参数。
	Feeds []string `yaml:"feeds" toml:"feeds"`
	// UpdateInterval 刷新间隔（分钟）。
	UpdateInterval int `yaml:"update_interval" toml:"update_interval"`
	// ItemsVisible 每页显示的订阅源数量。
	ItemsVisible int `yaml:"items_visible" toml:"items_visible"`
	// FetchTimeout 单次抓取超时（秒），0 表示取刷新间隔的一半且不超过 30 秒。
	FetchTimeout int    `yaml:"fetch_timeout" toml:"fetch_timeout"`
	UserAgent    string `yaml:"user_agent" toml:"user_agent"`

	Log     LogConfig     `yaml:"log" toml:"log"`
	History HistoryConfig `yaml:"history" toml:"history"`
	Server  ServerConfig  `yaml:"server" toml:"server"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	Format     string `yaml:"format" toml:"format"`
	File       string `yaml:"file" toml:"file"`
	MaxSize    int    `yaml:"max_size" toml:"max_size"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAge     int    `yaml:"max_age" toml:"max_age"`
}

// HistoryConfig 抓取历史（SQLite）配置。
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
	// RetainDays 历史保留天数。
	RetainDays int `yaml:"retain_days" toml:"retain_days"`
}

// ServerConfig 给外部界面使用的 JSON 接口。
type ServerConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
}

// Load 读取配置文件并返回 Config。
// 扩展名为 .toml 时按 TOML 解析，否则按 YAML 解析。
// 会先加载配置文件同目录下的 .env，再展开 ${VAR_NAME} 形式的环境变量。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warnf("[config] 加载 %s 失败: %v", envFile, err)
	}

	cfg, err := Parse(data, strings.ToLower(filepath.Ext(path)) == ".toml")
	if err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}
	return cfg, nil
}

// Parse 解析配置内容，填充默认值并校验。
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	cfg := &Config{}
	if isTOML {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, err
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, err
		}
	}

	setDefaults(cfg)
	if _, err := cfg.Settings(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults 为未设置的配置项填充默认值。负数保留，交给校验报错。
func setDefaults(cfg *Config) {
	if cfg.UpdateInterval == 0 {
		cfg.UpdateInterval = 15
	}
	if cfg.ItemsVisible == 0 {
		cfg.ItemsVisible = 5
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "rsspanel/1.0 RSS Reader"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(dataDir(), "history.db")
	} else {
		cfg.History.Path = expandHome(cfg.History.Path)
	}
	if cfg.History.RetainDays == 0 {
		cfg.History.RetainDays = 7
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8088"
	}
	cfg.Log.File = expandHome(cfg.Log.File)

	feeds := cfg.Feeds[:0]
	for _, f := range cfg.Feeds {
		if f = strings.TrimSpace(f); f != "" {
			feeds = append(feeds, f)
		}
	}
	cfg.Feeds = feeds
}

// Settings 将配置转换为调度参数。间隔或每页数量非正数时返回 *rss.ConfigError。
func (c *Config) Settings() (rss.Settings, error) {
	sources, err := rss.ParseSources(c.Feeds)
	if err != nil {
		return rss.Settings{}, err
	}
	if c.FetchTimeout < 0 {
		return rss.Settings{}, &rss.ConfigError{Field: "fetch_timeout", Message: "抓取超时不能为负数"}
	}

	s := rss.Settings{
		Sources:      sources,
		Interval:     time.Duration(c.UpdateInterval) * time.Minute,
		PageSize:     c.ItemsVisible,
		FetchTimeout: time.Duration(c.FetchTimeout) * time.Second,
	}
	if err := s.Validate(); err != nil {
		return rss.Settings{}, err
	}
	return s, nil
}

// LoggerConfig 转换为 logger 包的配置。
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSize:    c.Log.MaxSize,
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAge,
	}
}

func dataDir() string {
	home, _ := os.UserHomeDir()
	if home == "" {
		return "./.rsspanel-data"
	}
	return filepath.Join(home, ".rsspanel")
}

// expandHome 把 ~/ 替换为用户主目录，Go 不会自动展开。
func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		return p
	}
	return filepath.Join(home, p[2:])
}
