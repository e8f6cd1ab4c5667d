package zlog

import (
	"fmt"

	"github.com/spf13/viper" // 配置管理工具库
)

// 本地轮转文件策略
// tag 被 viper 用来匹配字段
type FileConfig struct {
	Path       string `mapstructure:"path"`        // 日志文件路径
	MaxSizeMB  int    `mapstructure:"max_size"`    // 单个日志文件最大容量（MB）
	MaxBackups int    `mapstructure:"max_backups"` // 保留旧文件数量
	MaxAgeDay  int    `mapstructure:"max_age"`     // 最长保存天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧日志文件
}

// 日志配置，对应服务配置文件中的 log 段
type Config struct {
	Service      string     `mapstructure:"service"`       // 归属服务名
	Level        string     `mapstructure:"level"`         // 日志级别，debug|info|warn|error
	Encoding     string     `mapstructure:"encoding"`      // 输出格式，json|console
	Stdout       bool       `mapstructure:"stdout"`        // 是否同时输出到控制台
	File         FileConfig `mapstructure:"file"`          // 文件相关配置
	EnableMetric bool       `mapstructure:"enable_metric"` // 是否上报 Prometheus 指标
}

// LoadConfig 从配置文件的 log 段加载日志配置
func LoadConfig(filePath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filePath)

	// 找不到配置项时查 ZLOG_ 前缀的环境变量
	v.SetEnvPrefix("ZLOG")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取日志配置文件失败：%w", err)
	}
	return FromViper(v)
}

// FromViper 从已加载的 viper 实例中解析 log 段，和服务配置共用同一个文件
func FromViper(v *viper.Viper) (*Config, error) {
	sub := v.Sub("log")
	if sub == nil {
		sub = viper.New()
	}

	sub.SetDefault("service", "unknown")
	sub.SetDefault("level", "info")
	sub.SetDefault("encoding", "json")
	sub.SetDefault("stdout", true)
	sub.SetDefault("file.max_size", 100)
	sub.SetDefault("file.max_backups", 60)
	sub.SetDefault("file.max_age", 1)
	sub.SetDefault("enable_metric", true)

	var cfg Config
	if err := sub.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("加载日志配置失败：%w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 严格校验，并补齐文件轮转的兜底值
func (cfg *Config) Validate() error {
	if cfg.Service == "" {
		return fmt.Errorf("配置错误：service 不能为空")
	}

	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("配置错误：level 只能是 debug/info/warn/error")
	}

	switch cfg.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("配置错误：encoding 只能是 json/console")
	}

	if !cfg.Stdout && cfg.File.Path == "" {
		return fmt.Errorf("配置错误：stdout 为 false 时，file.path 不能为空")
	}

	if cfg.File.Path != "" {
		if cfg.File.MaxSizeMB <= 0 {
			cfg.File.MaxSizeMB = 100
		}
		if cfg.File.MaxBackups < 0 {
			cfg.File.MaxBackups = 60
		}
		if cfg.File.MaxAgeDay < 0 {
			cfg.File.MaxAgeDay = 30
		}
	}
	return nil
}
