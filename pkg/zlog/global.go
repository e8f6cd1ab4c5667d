package zlog

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// MustInitGlobal 创建 logger 并替换 zap 全局实例，ctx 结束时停止 SIGHUP 监听
func MustInitGlobal(ctx context.Context, cfg Config) *zap.Logger {
	l, err := New(cfg)
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(l)
	setupSignalHandler(ctx)
	return l
}

// setupSignalHandler 监听 SIGHUP 在 debug 和 info 之间切换
func setupSignalHandler(ctx context.Context) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP)
	go func() {
		defer signal.Stop(c)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c:
				if GetLevel() == "debug" {
					SetLevel("info")
				} else {
					SetLevel("debug")
				}
				zap.L().Info("log level toggled", zap.String("now", GetLevel()))
			}
		}
	}()
}
