package config

import (
	"os"
	"strconv"
	"time"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	// 空表示使用 postgres，memory 仅用于本地调试
	Type string `yaml:"type"`
}

// MQConfig 消息队列配置
type MQConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `yaml:"port"`
}

// CRMConfig 远端 CRM (Bitrix24 inbound webhook) 配置
type CRMConfig struct {
	// 含共享密钥的 webhook 地址，例如 https://example.bitrix24.com.br/rest/1/xxxx
	WebhookURL       string        `yaml:"webhook_url"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	DownloadTimeout  time.Duration `yaml:"download_timeout"`
	UserCacheTTL     time.Duration `yaml:"user_cache_ttl"`
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
	DefaultAssignee  string        `yaml:"default_assignee"`
	CategoryID       int           `yaml:"category_id"`
	StagePrefix      string        `yaml:"stage_prefix"`
	EmailSender      string        `yaml:"email_sender"`
}

// StorageConfig 对象存储配置
type StorageConfig struct {
	Type      string        `yaml:"type"` // s3 | memory
	Endpoint  string        `yaml:"endpoint"`
	Region    string        `yaml:"region"`
	Bucket    string        `yaml:"bucket"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	PathStyle bool          `yaml:"path_style"`
	ShortTTL  time.Duration `yaml:"short_ttl"`
	LongTTL   time.Duration `yaml:"long_ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// WebhookConfig 入站通知配置
type WebhookConfig struct {
	DedupeTTL        time.Duration `yaml:"dedupe_ttl"`
	ApplicationToken string        `yaml:"application_token"`
}

// RealtimeConfig 实时推送配置
type RealtimeConfig struct {
	SendTimeout time.Duration `yaml:"send_timeout"`
	FanoutLimit int           `yaml:"fanout_limit"`
	GlobalRoom  string        `yaml:"global_room"`
}

// OtelConfig OpenTelemetry 配置
type OtelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`     // collector 不走 TLS
	SampleRatio float64 `yaml:"sample_ratio"` // (0,1) 之外全部采样
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `yaml:"level"`
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

// OverrideMQFromEnv 从环境变量覆盖MQ配置
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideJWTFromEnv 从环境变量覆盖JWT配置
func OverrideJWTFromEnv(cfg *JWTConfig) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Secret = secret
	}
}

// OverrideServerFromEnv 从环境变量覆盖服务器配置
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

// OverrideCRMFromEnv 从环境变量覆盖 CRM 配置
func OverrideCRMFromEnv(cfg *CRMConfig) {
	if url := os.Getenv("CRM_WEBHOOK_URL"); url != "" {
		cfg.WebhookURL = url
	}
}

// OverrideStorageFromEnv 从环境变量覆盖对象存储配置
func OverrideStorageFromEnv(cfg *StorageConfig) {
	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if bucket := os.Getenv("S3_BUCKET"); bucket != "" {
		cfg.Bucket = bucket
	}
	if key := os.Getenv("S3_ACCESS_KEY"); key != "" {
		cfg.AccessKey = key
	}
	if secret := os.Getenv("S3_SECRET_KEY"); secret != "" {
		cfg.SecretKey = secret
	}
}

// OverrideOtelFromEnv 从环境变量覆盖追踪配置
func OverrideOtelFromEnv(cfg *OtelConfig) {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Endpoint = endpoint
		cfg.Enabled = true
	}
	if ratio := os.Getenv("OTEL_SAMPLE_RATIO"); ratio != "" {
		if v, err := strconv.ParseFloat(ratio, 64); err == nil {
			cfg.SampleRatio = v
		}
	}
}
