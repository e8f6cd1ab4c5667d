package zlog

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New 创建一个 *zap.Logger，不替换全局
func New(cfg Config, opts ...zap.Option) (*zap.Logger, error) {
	initLevel(cfg.Level)

	// dev/test 环境用开发编码配置，其余按生产配置
	var encCfg zapcore.EncoderConfig
	switch strings.ToLower(os.Getenv("APP_ENV")) {
	case "dev", "test":
		encCfg = zap.NewDevelopmentEncoderConfig()
	default:
		encCfg = zap.NewProductionEncoderConfig()
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Encoding) == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, buildWriteSyncer(cfg), dynamicLevel)
	core = wrapWithMetric(core, cfg)

	allOpts := append(opts,
		zap.AddCaller(),
		zap.Fields(zap.String("service", cfg.Service)),
	)
	return zap.New(core, allOpts...), nil
}

// ForCanvas 派生带 canvas 维度的子 logger，presence 会话内部统一使用
func ForCanvas(l *zap.Logger, canvasID string) *zap.Logger {
	if l == nil {
		l = zap.L()
	}
	return l.With(zap.String("canvas_id", canvasID))
}
