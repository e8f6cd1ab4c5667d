// Package broadcast 画布会话的扇出通道，每个订阅者一个 goroutine 负责过滤和投递
package broadcast

import (
	"context"
	"sync"

	"go.uber.org/zap"

	perrors "github.com/EthanQC/canvas-collab/pkg/errors"
	"github.com/EthanQC/canvas-collab/pkg/metrics"
	"github.com/EthanQC/canvas-collab/pkg/zlog"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/entity"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/vo"
)

const (
	DefaultQueueSize  = 256 // 和投递服务的发送缓冲一致
	defaultOutputSize = 16
)

// Policy 订阅者过滤时使用的权限查询，会在订阅者 goroutine 上回源
type Policy interface {
	CanAccess(ctx context.Context, userID, canvasID string, min vo.Role) (bool, error)
	FieldVisibility(ctx context.Context, userID, canvasID, fieldKey string) (vo.FieldAccess, error)
	KnownField(ctx context.Context, canvasID, fieldKey string) (bool, error)
}

// Channel 按画布分组的订阅表，Publish 永不阻塞
type Channel struct {
	policy    Policy
	queueSize int

	mu   sync.RWMutex
	subs map[string]map[string]*Subscription // canvasID -> clientID
}

func NewChannel(policy Policy, queueSize int) *Channel {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Channel{
		policy:    policy,
		queueSize: queueSize,
		subs:      make(map[string]map[string]*Subscription),
	}
}

// Subscribe 注册订阅者，snapshot 作为第一条事件入队，保证先于任何增量
func (c *Channel) Subscribe(opts Options, snapshot entity.Event) *Subscription {
	sub := newSubscription(opts, c.policy, c.queueSize)
	sub.enqueue(snapshot)

	c.mu.Lock()
	canvas, ok := c.subs[opts.CanvasID]
	if !ok {
		canvas = make(map[string]*Subscription)
		c.subs[opts.CanvasID] = canvas
	}
	old := canvas[opts.ClientID]
	canvas[opts.ClientID] = sub
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	go sub.pump()
	return sub
}

// Publish 非阻塞入队，队列满的订阅者丢弃该事件并标记重新同步
func (c *Channel) Publish(canvasID string, ev entity.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	for clientID, sub := range c.subs[canvasID] {
		if sub.enqueue(ev) {
			continue
		}
		err := &perrors.TransportError{ClientID: clientID, Err: errQueueFull}
		metrics.EventsDropped.Inc()
		zlog.ForCanvas(zap.L(), canvasID).Warn("presence event dropped, subscriber will resync",
			zap.String("client_id", clientID),
			zap.Uint64("seq", ev.Seq),
			zap.Error(err))
	}
}

func (c *Channel) Unsubscribe(canvasID, clientID string) {
	if sub := c.detach(canvasID, clientID); sub != nil {
		sub.Close()
	}
}

// Evict 客户端被淘汰，订阅以 unknown_client 结束，连接据此通知客户端重新加入
func (c *Channel) Evict(canvasID, clientID string) {
	if sub := c.detach(canvasID, clientID); sub != nil {
		sub.fail(perrors.UnknownClient())
	}
}

func (c *Channel) detach(canvasID, clientID string) *Subscription {
	c.mu.Lock()
	sub := c.subs[canvasID][clientID]
	if sub != nil {
		delete(c.subs[canvasID], clientID)
		if len(c.subs[canvasID]) == 0 {
			delete(c.subs, canvasID)
		}
	}
	c.mu.Unlock()
	return sub
}

// CloseCanvas 会话销毁时关闭该画布下的全部订阅
func (c *Channel) CloseCanvas(canvasID string) {
	c.mu.Lock()
	subs := c.subs[canvasID]
	delete(c.subs, canvasID)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (c *Channel) Count(canvasID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs[canvasID])
}
