// Package session 每个画布一个 actor goroutine，独占该画布的在线表
package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	perrors "github.com/EthanQC/canvas-collab/pkg/errors"
	"github.com/EthanQC/canvas-collab/pkg/metrics"
	"github.com/EthanQC/canvas-collab/pkg/zlog"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/application/broadcast"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/arbiter"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/entity"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/registry"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/ports/in"
)

// Session 单个画布的会话，所有修改都以命令形式交给 run
type Session struct {
	canvasID string
	owner    *Manager
	log      *zap.Logger

	cmds    chan func()
	done    chan struct{}
	clients atomic.Int64

	// 以下只在 run 里访问
	reg   *registry.Registry
	locks entity.LockMap
	users map[string]string // clientID -> userID
	seq   uint64
}

func newSession(canvasID string, owner *Manager) *Session {
	return &Session{
		canvasID: canvasID,
		owner:    owner,
		log:      zlog.ForCanvas(zap.L(), canvasID),
		cmds:     make(chan func()),
		done:     make(chan struct{}),
		reg:      registry.New(canvasID),
		locks:    make(entity.LockMap),
		users:    make(map[string]string),
	}
}

func (s *Session) run() {
	cfg := s.owner.cfg
	sweep := time.NewTicker(cfg.SweepInterval)
	snapshot := time.NewTicker(cfg.SnapshotInterval)
	defer sweep.Stop()
	defer snapshot.Stop()

	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-sweep.C:
			s.sweep()
			s.owner.refreshDirectory(s.canvasID)
		case <-snapshot.C:
			s.owner.channel.Publish(s.canvasID, s.snapshotEvent())
		case <-s.owner.ctx.Done():
			s.owner.release(s, true)
			return
		}

		// 最后一个客户端离开后销毁会话
		if s.reg.Len() == 0 && s.owner.release(s, false) {
			return
		}
	}
}

// dispatch 把 fn 交给 actor；会话已销毁时返回 ErrSessionClosed，调用方应重新获取会话
// 命令一旦被接收一定会执行，结果写入返回的 channel
func (s *Session) dispatch(ctx context.Context, fn func() error) (<-chan error, error) {
	errCh := make(chan error, 1)
	select {
	case s.cmds <- func() { errCh <- fn() }:
		return errCh, nil
	case <-s.done:
		return nil, perrors.ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) call(ctx context.Context, fn func() error) error {
	errCh, err := s.dispatch(ctx, fn)
	if err != nil {
		return err
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// join 被接收后等待结果；调用方已经放弃时撤销这次加入
func (s *Session) join(ctx context.Context, req in.JoinRequest) (*in.JoinResult, error) {
	var res *in.JoinResult
	errCh, err := s.dispatch(ctx, func() error {
		p, err := s.reg.Join(req.ClientID, req.UserID, req.UserName, s.owner.now())
		if err != nil {
			return err
		}
		s.users[p.ClientID] = p.UserID
		s.clients.Add(1)
		metrics.Clients.Inc()

		s.publish(entity.EventJoin, p)
		sub := s.owner.channel.Subscribe(broadcast.Options{
			CanvasID: s.canvasID,
			ClientID: p.ClientID,
			UserID:   p.UserID,
			Tab:      req.Tab,
			Resync:   s.snapshot,
		}, s.snapshotEvent())

		s.log.Info("client joined",
			zap.String("client_id", p.ClientID),
			zap.String("user_id", p.UserID),
			zap.Int("clients", s.reg.Len()))
		res = &in.JoinResult{Self: p, Subscription: sub}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := <-errCh; err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		res.Subscription.Close()
		if lerr := s.leave(context.Background(), req.ClientID); lerr != nil {
			s.log.Warn("rollback abandoned join failed", zap.String("client_id", req.ClientID), zap.Error(lerr))
		}
		return nil, err
	}
	return res, nil
}

func (s *Session) update(ctx context.Context, clientID string, patch entity.Patch) error {
	return s.call(ctx, func() error {
		p, changed, err := s.reg.Update(clientID, patch, s.owner.now())
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		s.recomputeLocks()
		s.publish(entity.EventUpdate, p)
		return nil
	})
}

func (s *Session) touch(ctx context.Context, clientID string) error {
	return s.call(ctx, func() error {
		return s.reg.Touch(clientID, s.owner.now())
	})
}

func (s *Session) leave(ctx context.Context, clientID string) error {
	return s.call(ctx, func() error {
		p, err := s.reg.Leave(clientID)
		if err != nil {
			return err
		}
		s.removed(p)
		s.recomputeLocks()
		delete(s.users, p.ClientID)
		s.publish(entity.EventLeave, p)
		s.log.Info("client left", zap.String("client_id", clientID), zap.Int("clients", s.reg.Len()))
		return nil
	})
}

// snapshot 供订阅者重新同步和 HTTP 查询使用
func (s *Session) snapshot(ctx context.Context) (entity.Event, error) {
	var ev entity.Event
	err := s.call(ctx, func() error {
		ev = s.snapshotEvent()
		return nil
	})
	return ev, err
}

// resync 权限变化后给所有订阅者推一次快照
func (s *Session) resync(ctx context.Context) error {
	return s.call(ctx, func() error {
		s.owner.channel.Publish(s.canvasID, s.snapshotEvent())
		return nil
	})
}

func (s *Session) sweep() {
	evicted := s.reg.SweepStale(s.owner.now(), s.owner.cfg.StaleTimeout)
	if len(evicted) == 0 {
		return
	}
	for _, p := range evicted {
		s.owner.channel.Evict(s.canvasID, p.ClientID)
		s.removed(p)
		metrics.Evictions.Inc()
	}
	s.recomputeLocks()
	for _, p := range evicted {
		delete(s.users, p.ClientID)
		s.publish(entity.EventLeave, p)
		s.log.Info("stale client evicted", zap.String("client_id", p.ClientID))
	}
}

// removed 订阅已被 Evict 摘除时 Unsubscribe 为空操作
func (s *Session) removed(p entity.ClientPresence) {
	s.owner.channel.Unsubscribe(s.canvasID, p.ClientID)
	s.clients.Add(-1)
	metrics.Clients.Dec()
}

// recomputeLocks 重新推导软锁，把变化交给后台发布
func (s *Session) recomputeLocks() {
	next := arbiter.LockedFieldsFor(s.reg.Snapshot())
	changes := arbiter.Diff(s.canvasID, s.locks, next, s.users, s.owner.now())
	s.locks = next
	if len(changes) == 0 {
		return
	}
	for _, c := range changes {
		metrics.LockChanges.WithLabelValues(string(c.Op)).Inc()
	}
	s.owner.publishLocks(changes)
}

func (s *Session) publish(typ entity.EventType, p entity.ClientPresence) {
	s.seq++
	s.owner.channel.Publish(s.canvasID, entity.Event{
		Type:     typ,
		CanvasID: s.canvasID,
		Seq:      s.seq,
		Client:   &p,
		Locks:    s.locks,
		At:       s.owner.now(),
	})
}

func (s *Session) snapshotEvent() entity.Event {
	return entity.Event{
		Type:     entity.EventSnapshot,
		CanvasID: s.canvasID,
		Seq:      s.seq,
		Clients:  s.reg.Snapshot(),
		Locks:    s.locks,
		At:       s.owner.now(),
	}
}

func isClosed(err error) bool {
	return errors.Is(err, perrors.ErrSessionClosed)
}
