package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/EthanQC/canvas-collab/services/presence_service/internal/ports/in"
)

// DefaultChannel 权限系统发布变更的频道
const DefaultChannel = "canvas:permission:changed"

// PermissionChange user_id 为空表示整个画布的授权都变了
type PermissionChange struct {
	CanvasID string `json:"canvas_id"`
	UserID   string `json:"user_id,omitempty"`
}

// PermissionListener 订阅权限变更并通知会话层
type PermissionListener struct {
	client  redis.UniversalClient
	channel string
	handler in.PermissionChangeHandler
}

func NewPermissionListener(client redis.UniversalClient, channel string, handler in.PermissionChangeHandler) *PermissionListener {
	if channel == "" {
		channel = DefaultChannel
	}
	return &PermissionListener{client: client, channel: channel, handler: handler}
}

// Start 订阅确认成功后返回，消费协程在 ctx 结束时退出
func (l *PermissionListener) Start(ctx context.Context) error {
	sub := l.client.Subscribe(ctx, l.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe %s: %w", l.channel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				l.dispatch(ctx, m.Payload)
			}
		}
	}()

	zap.L().Info("permission listener started", zap.String("channel", l.channel))
	return nil
}

func (l *PermissionListener) dispatch(ctx context.Context, payload string) {
	var change PermissionChange
	if err := json.Unmarshal([]byte(payload), &change); err != nil || change.CanvasID == "" {
		zap.L().Warn("bad permission change payload", zap.String("payload", payload), zap.Error(err))
		return
	}
	zap.L().Debug("permission changed",
		zap.String("canvas_id", change.CanvasID),
		zap.String("user_id", change.UserID))
	l.handler.OnPermissionChanged(ctx, change.CanvasID, change.UserID)
}

// Publish 权限系统一侧使用，测试和运维脚本也用它触发变更
func Publish(ctx context.Context, client redis.UniversalClient, channel string, change PermissionChange) error {
	if channel == "" {
		channel = DefaultChannel
	}
	raw, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return client.Publish(ctx, channel, raw).Err()
}
