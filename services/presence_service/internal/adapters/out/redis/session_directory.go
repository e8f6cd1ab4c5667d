package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/EthanQC/canvas-collab/services/presence_service/internal/ports/out"
)

const (
	// 画布会话所在节点 Key 前缀
	sessionKeyPrefix = "canvas:session:"
)

// 只删除仍属于本节点的登记，避免误删其他节点刚接管的会话
var unregisterScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SessionDirectoryRedis canvas -> node 的会话目录，靠 TTL 兜底过期
type SessionDirectoryRedis struct {
	client redis.UniversalClient
}

func NewSessionDirectoryRedis(client redis.UniversalClient) out.SessionDirectory {
	return &SessionDirectoryRedis{client: client}
}

func (r *SessionDirectoryRedis) getKey(canvasID string) string {
	return sessionKeyPrefix + canvasID
}

// Register 登记或续期
func (r *SessionDirectoryRedis) Register(ctx context.Context, canvasID, nodeID string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.getKey(canvasID), nodeID, ttl).Err(); err != nil {
		return fmt.Errorf("register canvas session %s: %w", canvasID, err)
	}
	return nil
}

func (r *SessionDirectoryRedis) Unregister(ctx context.Context, canvasID, nodeID string) error {
	err := unregisterScript.Run(ctx, r.client, []string{r.getKey(canvasID)}, nodeID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("unregister canvas session %s: %w", canvasID, err)
	}
	return nil
}

// Lookup 没有活跃会话时返回空串
func (r *SessionDirectoryRedis) Lookup(ctx context.Context, canvasID string) (string, error) {
	node, err := r.client.Get(ctx, r.getKey(canvasID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("lookup canvas session %s: %w", canvasID, err)
	}
	return node, nil
}
