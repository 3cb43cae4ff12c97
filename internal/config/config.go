package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 应用程序配置
type Config struct {
	// 补全服务配置
	Completion CompletionConfig `yaml:"completion"`

	// 模型QPM限制配置
	ModelQPMLimits map[string]int `yaml:"model_qpm_limits"`

	// 流水线参数
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Tika服务器配置
	Tika TikaConfig `yaml:"tika"`

	// OCR配置
	OCR OCRConfig `yaml:"ocr"`

	Redis    RedisConfig    `yaml:"redis"`
	MinIO    MinIOConfig    `yaml:"minio"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	MySQL    MySQLConfig    `yaml:"mysql"`

	Server  ServerConfig  `yaml:"server"`
	Tracing TracingConfig `yaml:"tracing"`
	Logger  LoggerConfig  `yaml:"logger"`
}

// CompletionConfig 补全服务配置
type CompletionConfig struct {
	Provider    string  `yaml:"provider"` // openai | qwen | gemini | mock
	APIKey      string  `yaml:"api_key"`
	APIURL      string  `yaml:"api_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     string  `yaml:"timeout"` // 单次调用超时，例如 "60s"
	QPM         int     `yaml:"qpm"`
	// MaxRetries 限流代理的重试次数，0 表示不重试，重试策略交给调用方
	MaxRetries       int `yaml:"max_retries"`
	RetryWaitSeconds int `yaml:"retry_wait_seconds"`
}

// PipelineConfig 流水线参数
type PipelineConfig struct {
	// WindowSize 送入补全服务的文本字符预算
	WindowSize int `yaml:"window_size"`
	// MaxRequestChars 整个请求（指令+schema+文本）的字符预算
	MaxRequestChars int `yaml:"max_request_chars"`
	// PatternAcceptLength 字节扫描结果的接受阈值，取值范围 [100, 300]
	PatternAcceptLength int `yaml:"pattern_accept_length"`
	// PDFBackend 结构化解析后端: eino | tika | ledongthuc
	PDFBackend string `yaml:"pdf_backend"`
	// AnnotateSections 是否在文本中插入章节标注
	AnnotateSections bool `yaml:"annotate_sections"`
	// ValidateSchema 是否对补全结果做 JSON Schema 诊断
	ValidateSchema bool   `yaml:"validate_schema"`
	TempDir        string `yaml:"temp_dir"`
	// CacheTTL 结果缓存时间，例如 "24h"，为空则不缓存
	CacheTTL string `yaml:"cache_ttl"`
}

// TikaConfig Tika服务器配置结构
type TikaConfig struct {
	ServerURL    string `yaml:"server_url"`      // Tika服务器URL
	Timeout      int    `yaml:"timeout_seconds"` // 超时时间(秒)
	MetadataMode string `yaml:"metadata_mode"`   // 元数据模式: "full", "minimal", "none"
}

// OCRConfig 光学识别配置
type OCRConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Tesseract string `yaml:"tesseract"` // tesseract 可执行文件
	Language  string `yaml:"language"`
	DPI       int    `yaml:"dpi"`
	MaxPages  int    `yaml:"max_pages"`
	Workers   int    `yaml:"workers"`
	Timeout   string `yaml:"timeout"`
}

// RedisConfig holds configuration for Redis
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// 连接池设置
	PoolSize     int `yaml:"pool_size"`
	MinIdleConns int `yaml:"min_idle_conns"`
	// 超时设置
	DialTimeoutSeconds  int `yaml:"dial_timeout_seconds"`
	ReadTimeoutSeconds  int `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
	// 重试设置
	MaxRetries        int `yaml:"max_retries"`
	MinRetryBackoffMS int `yaml:"min_retry_backoff_ms"`
	MaxRetryBackoffMS int `yaml:"max_retry_backoff_ms"`
	// 连接生命周期
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
	ConnMaxIdleTimeMinutes int `yaml:"conn_max_idle_time_minutes"`
}

// MinIOConfig MinIO配置结构
type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyID"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	UseSSL          bool   `yaml:"useSSL"`
	Location        string `yaml:"location"`
	// 上传文档存储桶
	UploadsBucket string `yaml:"uploadsBucket"`
	// 上传文档过期天数，0 表示不设置生命周期
	UploadExpireDays int `yaml:"upload_expire_days"`
}

// RabbitMQConfig RabbitMQ配置结构
type RabbitMQConfig struct {
	URL              string `yaml:"url"`
	IngestExchange   string `yaml:"ingest_exchange"`
	RequestQueue     string `yaml:"request_queue"`
	RequestRouteKey  string `yaml:"request_routing_key"`
	ResultRoutingKey string `yaml:"result_routing_key"`
	ResultQueue      string `yaml:"result_queue"`
	PrefetchCount    int    `yaml:"prefetch_count"`
	Workers          int    `yaml:"workers"`
}

// MySQLConfig MySQL配置结构
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	// 连接池设置
	MaxIdleConns int `yaml:"max_idle_conns"`
	MaxOpenConns int `yaml:"max_open_conns"`
	// 连接生命周期
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
	ConnMaxIdleTimeMinutes int `yaml:"conn_max_idle_time_minutes"`
	// 超时设置
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
	ReadTimeoutSeconds    int `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds   int `yaml:"write_timeout_seconds"`
	// 日志级别(1-4)
	LogLevel int `yaml:"log_level"`
}

// ServerConfig 定义服务器配置
type ServerConfig struct {
	Address string `yaml:"address"` // 例如 ":8080"
	// APIKeys 非空时启用 keyauth
	APIKeys []string `yaml:"api_keys,omitempty"`
	// MaxUploadMB 上传大小限制
	MaxUploadMB int `yaml:"max_upload_mb"`
}

// TracingConfig OpenTelemetry 导出配置
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"` // OTLP gRPC 地址，例如 localhost:4317
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level        string `yaml:"level"`         // debug, info, warn, error
	Format       string `yaml:"format"`        // json, pretty
	TimeFormat   string `yaml:"time_format"`   // 时间格式
	ReportCaller bool   `yaml:"report_caller"` // 是否报告调用位置
	File         string `yaml:"file"`          // 可选的日志文件
}

// LoadConfig 从文件加载配置，并用环境变量覆盖敏感字段
func LoadConfig(configPath string) (*Config, error) {
	// .env 只在本地开发时存在，缺失不算错误
	_ = godotenv.Load()

	if configPath == "" {
		searchPaths := []string{
			"config.yaml",
			"./configs/config.yaml",
			"../config.yaml",
			filepath.Join(os.Getenv("HOME"), ".cv-ingest", "config.yaml"),
		}
		if execPath, err := os.Executable(); err == nil {
			searchPaths = append(searchPaths, filepath.Join(filepath.Dir(execPath), "config.yaml"))
		}
		for _, path := range searchPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
		// 找不到配置文件时使用默认配置
		if configPath == "" {
			cfg := createDefaultConfig()
			applyEnvOverrides(cfg)
			return cfg, nil
		}
	}

	cfg, err := LoadConfigFromFileOnly(configPath)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadConfigFromFileOnly 只从文件加载配置，不读取环境变量
func LoadConfigFromFileOnly(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("必须提供配置文件路径")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("配置文件不存在: %s", configPath)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 先填默认值，YAML 中出现的字段会覆盖它们
	cfg := createDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CV_COMPLETION_API_KEY"); v != "" {
		cfg.Completion.APIKey = v
	}
	if v := os.Getenv("CV_COMPLETION_API_URL"); v != "" {
		cfg.Completion.APIURL = v
	}
	if v := os.Getenv("CV_COMPLETION_MODEL"); v != "" {
		cfg.Completion.Model = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.Completion.Provider == "gemini" && cfg.Completion.APIKey == "" {
		cfg.Completion.APIKey = v
	}
	if v := os.Getenv("CV_TIKA_URL"); v != "" {
		cfg.Tika.ServerURL = v
	}
	if v := os.Getenv("CV_REDIS_ADDR"); v != "" {
		cfg.Redis.Address = v
	}
	if v := os.Getenv("CV_RABBITMQ_URL"); v != "" {
		cfg.RabbitMQ.URL = v
	}
}

// Validate 检查配置取值范围
func (c *Config) Validate() error {
	var problems []string
	if c.Pipeline.WindowSize < 1000 {
		problems = append(problems, "pipeline.window_size 不能小于 1000")
	}
	if c.Pipeline.MaxRequestChars > 0 && c.Pipeline.MaxRequestChars < c.Pipeline.WindowSize {
		problems = append(problems, "pipeline.max_request_chars 不能小于 window_size")
	}
	if c.Pipeline.PatternAcceptLength < 100 || c.Pipeline.PatternAcceptLength > 300 {
		problems = append(problems, "pipeline.pattern_accept_length 必须在 [100, 300] 之间")
	}
	switch c.Pipeline.PDFBackend {
	case "eino", "ledongthuc":
	case "tika":
		if c.Tika.ServerURL == "" {
			problems = append(problems, "pdf_backend=tika 需要配置 tika.server_url")
		}
	default:
		problems = append(problems, fmt.Sprintf("未知的 pipeline.pdf_backend: %q", c.Pipeline.PDFBackend))
	}
	switch c.Completion.Provider {
	case "openai", "qwen", "gemini", "mock":
	default:
		problems = append(problems, fmt.Sprintf("未知的 completion.provider: %q", c.Completion.Provider))
	}
	if c.Completion.MaxRetries < 0 {
		problems = append(problems, "completion.max_retries 不能为负数")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		problems = append(problems, "tracing.enabled 需要配置 tracing.endpoint")
	}
	if len(problems) > 0 {
		return fmt.Errorf("配置无效: %s", strings.Join(problems, "; "))
	}
	return nil
}

// createDefaultConfig 默认配置，也用作 CreateSampleConfig 的模板
func createDefaultConfig() *Config {
	cfg := &Config{}

	cfg.Completion.Provider = "qwen"
	cfg.Completion.APIURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	cfg.Completion.Model = "qwen-plus"
	cfg.Completion.Temperature = 0.1
	cfg.Completion.MaxTokens = 4096
	cfg.Completion.Timeout = "60s"
	cfg.Completion.QPM = 60
	cfg.Completion.MaxRetries = 0
	cfg.Completion.RetryWaitSeconds = 2

	cfg.ModelQPMLimits = map[string]int{
		"qwen-max":         1200,
		"qwen-plus":        15000,
		"qwen-turbo":       1200,
		"gpt-4o-mini":      500,
		"gemini-2.0-flash": 2000,
	}

	cfg.Pipeline.WindowSize = 24000
	cfg.Pipeline.MaxRequestChars = 30000
	cfg.Pipeline.PatternAcceptLength = 300
	cfg.Pipeline.PDFBackend = "eino"
	cfg.Pipeline.AnnotateSections = true
	cfg.Pipeline.ValidateSchema = true
	cfg.Pipeline.CacheTTL = "24h"

	cfg.Tika.Timeout = 60
	cfg.Tika.MetadataMode = "none"

	cfg.OCR.Enabled = true
	cfg.OCR.Tesseract = "tesseract"
	cfg.OCR.Language = "eng"
	cfg.OCR.DPI = 200
	cfg.OCR.MaxPages = 5
	cfg.OCR.Workers = 2
	cfg.OCR.Timeout = "90s"

	cfg.Redis.PoolSize = 10
	cfg.Redis.MinIdleConns = 2
	cfg.Redis.DialTimeoutSeconds = 5
	cfg.Redis.ReadTimeoutSeconds = 3
	cfg.Redis.WriteTimeoutSeconds = 3
	cfg.Redis.MaxRetries = 3
	cfg.Redis.MinRetryBackoffMS = 8
	cfg.Redis.MaxRetryBackoffMS = 512
	cfg.Redis.ConnMaxLifetimeMinutes = 60
	cfg.Redis.ConnMaxIdleTimeMinutes = 30

	cfg.MinIO.AccessKeyID = "minioadmin"
	cfg.MinIO.SecretAccessKey = "minioadmin"
	cfg.MinIO.UploadsBucket = "cv-uploads"
	cfg.MinIO.UploadExpireDays = 7

	cfg.RabbitMQ.IngestExchange = "cv.ingest.exchange"
	cfg.RabbitMQ.RequestQueue = "q.cv_ingest_requests"
	cfg.RabbitMQ.RequestRouteKey = "cv.ingest.requested"
	cfg.RabbitMQ.ResultRoutingKey = "cv.ingest.completed"
	cfg.RabbitMQ.ResultQueue = "q.cv_ingest_results"
	cfg.RabbitMQ.PrefetchCount = 4
	cfg.RabbitMQ.Workers = 2

	cfg.MySQL.Port = 3306
	cfg.MySQL.Database = "cv_ingest"
	cfg.MySQL.MaxIdleConns = 10
	cfg.MySQL.MaxOpenConns = 50
	cfg.MySQL.ConnMaxLifetimeMinutes = 60
	cfg.MySQL.ConnMaxIdleTimeMinutes = 30
	cfg.MySQL.ConnectTimeoutSeconds = 10
	cfg.MySQL.ReadTimeoutSeconds = 30
	cfg.MySQL.WriteTimeoutSeconds = 30
	cfg.MySQL.LogLevel = 2

	cfg.Server.Address = ":8080"
	cfg.Server.MaxUploadMB = 20

	cfg.Tracing.ServiceName = "cv-ingest"
	cfg.Tracing.Insecure = true
	cfg.Tracing.SampleRatio = 1.0

	cfg.Logger.Level = "info"
	cfg.Logger.Format = "pretty"
	cfg.Logger.TimeFormat = "2006-01-02 15:04:05"

	return cfg
}

// DefaultConfig 返回默认配置的副本
func DefaultConfig() *Config {
	return createDefaultConfig()
}

// CreateSampleConfig 创建一个示例配置文件
func CreateSampleConfig(filePath string) error {
	if _, err := os.Stat(filePath); err == nil {
		return fmt.Errorf("文件 '%s' 已存在，不会覆盖", filePath)
	}

	data, err := yaml.Marshal(createDefaultConfig())
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return fmt.Errorf("写入示例配置文件 '%s' 失败: %w", filePath, err)
	}
	return nil
}

// QPMForModel 返回模型的 QPM 上限，未配置时返回 0
func (c *Config) QPMForModel(model string) int {
	if c.ModelQPMLimits == nil {
		return 0
	}
	return c.ModelQPMLimits[model]
}

// GetDuration utility to parse duration strings from config
func GetDuration(durationStr string, defaultDuration time.Duration) time.Duration {
	if durationStr == "" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return defaultDuration
	}
	return d
}
