package zlog

import (
	"os"
	"path/filepath"

	// 按大小、天数、备份数切分日志文件，实现了 io.Writer
	"gopkg.in/natefinch/lumberjack.v2"

	"go.uber.org/zap/zapcore"
)

// buildWriteSyncer 根据配置组装所有输出
func buildWriteSyncer(cfg Config) zapcore.WriteSyncer {
	var syncers []zapcore.WriteSyncer

	if cfg.Stdout {
		syncers = append(syncers, zapcore.Lock(os.Stdout))
	}

	if p := cfg.File.Path; p != "" {
		// 目录不存在时 lumberjack 会在第一次写入时报错，这里提前建好
		_ = os.MkdirAll(filepath.Dir(p), 0o755)
		syncers = append(syncers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   p,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxAge:     cfg.File.MaxAgeDay,
			MaxBackups: cfg.File.MaxBackups,
			Compress:   cfg.File.Compress,
		}))
	}

	return zapcore.NewMultiWriteSyncer(syncers...)
}
