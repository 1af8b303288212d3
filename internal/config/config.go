// ============================================================================
// genqueue Config - 系統配置
// ============================================================================
//
// Package: internal/config
// 文件: config.go
// 功能: 載入 YAML 配置，套用 .env 與 GENQUEUE_ 環境變數覆寫，並以 struct tag 驗證
//
// 載入順序（後者覆寫前者）:
//   1. Default() 內建預設值
//   2. YAML 配置文件（路徑為空時略過）
//   3. .env 文件（不覆寫已存在的環境變數）
//   4. GENQUEUE_* 環境變數
//
// 配置示例:
//
//   queue:
//     concurrency: 2
//     max_attempts: 2
//     retry_delay: 300ms
//     shutdown_timeout: 10s
//   history:
//     backend: file          # file | redis | none
//     path: ""               # 空值 = 可執行文件旁的 job_history.json
//     max_entries: 200
//   journal:
//     enabled: false
//     path: ./data/events.jsonl
//   http:
//     enabled: true
//     addr: ":8080"
//   grpc:
//     enabled: false
//     addr: ":50051"
//   metrics:
//     enabled: true
//   log:
//     level: info
//     format: json
//
// ============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/genqueue/internal/history"
	"github.com/ChuLiYu/genqueue/internal/queue"
)

// EnvPrefix 環境變數前綴
const EnvPrefix = "GENQUEUE_"

// 歷史儲存後端
const (
	BackendFile  = "file"
	BackendRedis = "redis"
	BackendNone  = "none"
)

// Config 完整系統配置
type Config struct {
	Queue   QueueConfig   `yaml:"queue"`
	History HistoryConfig `yaml:"history"`
	Journal JournalConfig `yaml:"journal"`
	HTTP    HTTPConfig    `yaml:"http"`
	GRPC    GRPCConfig    `yaml:"grpc"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// QueueConfig 排程配置
type QueueConfig struct {
	Concurrency     int           `yaml:"concurrency" validate:"min=1"`
	MaxAttempts     int           `yaml:"max_attempts" validate:"min=1"`
	RetryDelay      time.Duration `yaml:"retry_delay" validate:"min=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0"`
}

// HistoryConfig 歷史儲存配置
type HistoryConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=file redis none"`
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries" validate:"min=1"`
	RedisURL   string `yaml:"redis_url" validate:"required_if=Backend redis"`
	RedisKey   string `yaml:"redis_key"`
}

// JournalConfig 事件日誌配置
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
	Sync    bool   `yaml:"sync"`
}

// HTTPConfig HTTP API 配置
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
}

// GRPCConfig gRPC 健康檢查服務配置
type GRPCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
}

// MetricsConfig Prometheus 指標配置
type MetricsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"min=0"`
}

// LogConfig 日誌配置
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// Default 回傳內建預設值
func Default() *Config {
	return &Config{
		Queue: QueueConfig{
			Concurrency:     queue.DefaultConcurrency,
			MaxAttempts:     queue.DefaultMaxAttempts,
			RetryDelay:      queue.DefaultRetryDelay,
			ShutdownTimeout: 10 * time.Second,
		},
		History: HistoryConfig{
			Backend:    BackendFile,
			MaxEntries: history.MaxEntries,
			RedisKey:   history.DefaultRedisKey,
		},
		Journal: JournalConfig{
			Path: "./data/events.jsonl",
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		GRPC: GRPCConfig{
			Addr: ":50051",
		},
		Metrics: MetricsConfig{
			Enabled:      true,
			PollInterval: time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load 依序套用預設值、YAML、.env 與環境變數，最後驗證
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	loadEnvFile()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFile 讀取工作目錄下的 .env（不存在則略過）
func loadEnvFile() {
	_ = godotenv.Load(".env")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 以 struct tag 驗證配置
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// QueueOptions 轉換為 queue.Config
func (c *Config) QueueOptions() queue.Config {
	return queue.Config{
		Concurrency:        c.Queue.Concurrency,
		DefaultMaxAttempts: c.Queue.MaxAttempts,
		RetryDelay:         c.Queue.RetryDelay,
		HistoryLimit:       c.History.MaxEntries,
	}
}

// ============================================================================
// 環境變數覆寫
// ============================================================================

// applyEnv 套用 GENQUEUE_* 環境變數
func (c *Config) applyEnv() error {
	var err error
	set := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	set(envInt("CONCURRENCY", &c.Queue.Concurrency))
	set(envInt("MAX_ATTEMPTS", &c.Queue.MaxAttempts))
	set(envDuration("RETRY_DELAY", &c.Queue.RetryDelay))
	set(envDuration("SHUTDOWN_TIMEOUT", &c.Queue.ShutdownTimeout))

	envString("HISTORY_BACKEND", &c.History.Backend)
	envString("HISTORY_PATH", &c.History.Path)
	set(envInt("HISTORY_MAX_ENTRIES", &c.History.MaxEntries))
	envString("REDIS_URL", &c.History.RedisURL)
	envString("REDIS_KEY", &c.History.RedisKey)

	set(envBool("JOURNAL_ENABLED", &c.Journal.Enabled))
	envString("JOURNAL_PATH", &c.Journal.Path)

	set(envBool("HTTP_ENABLED", &c.HTTP.Enabled))
	envString("HTTP_ADDR", &c.HTTP.Addr)
	set(envBool("GRPC_ENABLED", &c.GRPC.Enabled))
	envString("GRPC_ADDR", &c.GRPC.Addr)
	set(envBool("METRICS_ENABLED", &c.Metrics.Enabled))

	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FORMAT", &c.Log.Format)

	return err
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func envString(key string, dst *string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = b
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = d
	return nil
}
