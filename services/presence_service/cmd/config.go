package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/EthanQC/canvas-collab/pkg/zlog"
	httpAdapter "github.com/EthanQC/canvas-collab/services/presence_service/internal/adapters/in/http"
	wsAdapter "github.com/EthanQC/canvas-collab/services/presence_service/internal/adapters/in/ws"
	kafkaPub "github.com/EthanQC/canvas-collab/services/presence_service/internal/adapters/out/kafka"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/adapters/out/memory"
	mysqlRepo "github.com/EthanQC/canvas-collab/services/presence_service/internal/adapters/out/mysql"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/application/session"
)

type Config struct {
	Server struct {
		HTTPPort        int           `mapstructure:"http_port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		Nodes           []string      `mapstructure:"nodes"` // 集群节点，一致性哈希用
	} `mapstructure:"server"`
	Token struct {
		Secret    string        `mapstructure:"secret"` // 画布会话令牌密钥
		TTL       time.Duration `mapstructure:"ttl"`
		WebSecret string        `mapstructure:"web_secret"` // Web 会话 Bearer 密钥，为空时与 secret 相同
	} `mapstructure:"token"`
	Session   session.Config                `mapstructure:"session"`
	WS        wsAdapter.Config              `mapstructure:"ws"`
	RateLimit httpAdapter.RateLimiterConfig `mapstructure:"rate_limit"`
	Storage   struct {
		Driver string           `mapstructure:"driver"` // mysql|memory
		MySQL  mysqlRepo.Config `mapstructure:"mysql"`
		Seed   memory.Seed      `mapstructure:"seed"`
	} `mapstructure:"storage"`
	Redis struct {
		Addr              string `mapstructure:"addr"` // 为空时不启用目录和权限通知
		Password          string `mapstructure:"password"`
		DB                int    `mapstructure:"db"`
		PoolSize          int    `mapstructure:"pool_size"`
		PermissionChannel string `mapstructure:"permission_channel"`
	} `mapstructure:"redis"`
	Kafka kafkaPub.Config `mapstructure:"kafka"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8086)
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("token.secret", "")
	v.SetDefault("token.ttl", "2h")
	v.SetDefault("token.web_secret", "")

	v.SetDefault("session.node_id", "")
	v.SetDefault("session.sweep_interval", "10s")
	v.SetDefault("session.stale_timeout", "30s")
	v.SetDefault("session.snapshot_interval", "60s")
	v.SetDefault("session.directory_ttl", "30s")
	v.SetDefault("session.queue_size", 256)
	v.SetDefault("session.workers", 4)

	v.SetDefault("ws.auth_timeout", "10s")
	v.SetDefault("ws.heartbeat_interval", "10s")
	v.SetDefault("ws.layout_repoll", "30s")

	def := httpAdapter.DefaultRateLimiterConfig()
	v.SetDefault("rate_limit.global_qps", def.GlobalQPS)
	v.SetDefault("rate_limit.ip_qps", def.IPQPSLimit)
	v.SetDefault("rate_limit.user_qps", def.UserQPSLimit)
	v.SetDefault("rate_limit.burst", def.BurstSize)

	v.SetDefault("storage.driver", "mysql")
	v.SetDefault("storage.mysql.max_open_conns", 20)
	v.SetDefault("storage.mysql.max_idle_conns", 5)
	v.SetDefault("storage.mysql.conn_max_lifetime", "30m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.permission_channel", "canvas:permission:changed")

	v.SetDefault("kafka.topic", kafkaPub.TopicFieldLocks)
}

// loadConfig 读取 configs/config.<env>.yaml，PRESENCE_ 前缀的环境变量可覆盖
func loadConfig(env string, paths ...string) (*Config, *zlog.Config, error) {
	v := viper.New()
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./configs", "../configs", "../../configs"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("PRESENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("读取配置文件失败：%w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("解析配置失败：%w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	logCfg, err := zlog.FromViper(v)
	if err != nil {
		return nil, nil, err
	}
	return &cfg, logCfg, nil
}

// validate 缺少会话密钥直接失败，其余补齐兜底值
func (c *Config) validate() error {
	if c.Token.Secret == "" {
		return errors.New("配置错误：token.secret 不能为空")
	}
	if c.Token.WebSecret == "" {
		c.Token.WebSecret = c.Token.Secret
	}
	if c.Token.TTL <= 0 {
		return errors.New("配置错误：token.ttl 必须大于 0")
	}
	if c.WS.HeartbeatInterval >= c.Session.StaleTimeout {
		return fmt.Errorf("配置错误：ws.heartbeat_interval(%s) 必须小于 session.stale_timeout(%s)",
			c.WS.HeartbeatInterval, c.Session.StaleTimeout)
	}

	switch c.Storage.Driver {
	case "mysql":
		if c.Storage.MySQL.DSN == "" {
			return errors.New("配置错误：storage.driver 为 mysql 时 storage.mysql.dsn 不能为空")
		}
	case "memory":
	default:
		return fmt.Errorf("配置错误：storage.driver 只能是 mysql/memory，当前为 %q", c.Storage.Driver)
	}

	if c.Session.NodeID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "presence-1"
		}
		c.Session.NodeID = host
	}
	return nil
}
