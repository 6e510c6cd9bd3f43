// Package config 是 helpdesk-sync 服务和运维工具共用的配置入口
package config

import (
	"fmt"

	"helpdesk-sync/pkg/config"
)

type Config struct {
	Server   config.ServerConfig   `yaml:"server"`
	DB       config.DBConfig       `yaml:"db"`
	Redis    config.RedisConfig    `yaml:"redis"`
	MQ       config.MQConfig       `yaml:"mq"`
	JWT      config.JWTConfig      `yaml:"jwt"`
	CRM      config.CRMConfig      `yaml:"crm"`
	Storage  config.StorageConfig  `yaml:"storage"`
	Webhook  config.WebhookConfig  `yaml:"webhook"`
	Realtime config.RealtimeConfig `yaml:"realtime"`
	Otel     config.OtelConfig     `yaml:"otel"`
	Log      config.LogConfig      `yaml:"log"`
}

// Load 读取 base.yaml + <CONFIG_ENV>.yaml，再用环境变量覆盖
func Load() (*Config, error) {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	var cfg Config
	if err := config.Decode(env, configDir, &cfg); err != nil {
		return nil, fmt.Errorf("load config (env=%s): %w", env, err)
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideCRMFromEnv(&cfg.CRM)
	config.OverrideStorageFromEnv(&cfg.Storage)
	config.OverrideOtelFromEnv(&cfg.Otel)

	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	return &cfg, nil
}
