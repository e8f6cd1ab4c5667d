package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	perrors "github.com/EthanQC/canvas-collab/pkg/errors"
	"github.com/EthanQC/canvas-collab/pkg/metrics"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/application/broadcast"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/entity"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/vo"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/ports/in"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/ports/out"
)

// Config 会话相关的时间参数
type Config struct {
	NodeID           string        `mapstructure:"node_id"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	StaleTimeout     time.Duration `mapstructure:"stale_timeout"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	DirectoryTTL     time.Duration `mapstructure:"directory_ttl"`
	QueueSize        int           `mapstructure:"queue_size"`
	Workers          int           `mapstructure:"workers"`
}

func DefaultConfig() Config {
	return Config{
		NodeID:           "presence-1",
		SweepInterval:    10 * time.Second,
		StaleTimeout:     30 * time.Second,
		SnapshotInterval: 60 * time.Second,
		DirectoryTTL:     30 * time.Second,
		QueueSize:        broadcast.DefaultQueueSize,
		Workers:          4,
	}
}

// Resolver 会话需要的权限能力
type Resolver interface {
	broadcast.Policy
	Invalidate(canvasID, userID string)
}

type Option func(*Manager)

func WithLockPublisher(p out.LockEventPublisher) Option {
	return func(m *Manager) { m.lockPub = p }
}

func WithDirectory(d out.SessionDirectory) Option {
	return func(m *Manager) { m.directory = d }
}

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager 首次加入时创建会话，最后一个客户端离开时销毁
type Manager struct {
	cfg       Config
	resolver  Resolver
	channel   *broadcast.Channel
	lockPub   out.LockEventPublisher
	directory out.SessionDirectory
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session

	jobs   chan func(ctx context.Context) // 外部 I/O 不在 actor 上执行
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ in.SessionUseCase = (*Manager)(nil)
var _ in.PermissionChangeHandler = (*Manager)(nil)

func NewManager(cfg Config, resolver Resolver, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = def.StaleTimeout
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = def.SnapshotInterval
	}
	if cfg.DirectoryTTL <= 0 {
		cfg.DirectoryTTL = def.DirectoryTTL
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		resolver: resolver,
		channel:  broadcast.NewChannel(resolver, cfg.QueueSize),
		now:      time.Now,
		sessions: make(map[string]*Session),
		jobs:     make(chan func(ctx context.Context), 1024),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(m)
	}

	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case job := <-m.jobs:
			job(m.ctx)
		}
	}
}

// submit 队列满时丢弃，只影响外部通知
func (m *Manager) submit(name string, job func(ctx context.Context)) {
	select {
	case m.jobs <- job:
	default:
		zap.L().Warn("background queue full, job dropped", zap.String("job", name))
	}
}

// Join 校验画布一致和访问权限后入会话
func (m *Manager) Join(ctx context.Context, req in.JoinRequest) (*in.JoinResult, error) {
	if req.TokenCanvasID != "" && req.TokenCanvasID != req.CanvasID {
		metrics.Refusals.WithLabelValues(perrors.ReasonAuthFailed).Inc()
		return nil, perrors.AuthError(perrors.ErrCanvasMismatch)
	}

	ok, err := m.resolver.CanAccess(ctx, req.UserID, req.CanvasID, vo.RoleViewer)
	if err != nil {
		return nil, fmt.Errorf("check canvas access: %w", err)
	}
	if !ok {
		metrics.Refusals.WithLabelValues(perrors.ReasonPermissionDenied).Inc()
		return nil, perrors.PermissionDenied(nil)
	}

	for {
		s := m.getOrCreate(req.CanvasID)
		res, err := s.join(ctx, req)
		if isClosed(err) {
			continue
		}
		return res, err
	}
}

func (m *Manager) Update(ctx context.Context, canvasID, clientID string, patch entity.Patch) error {
	s := m.lookup(canvasID)
	if s == nil {
		return perrors.ErrUnknownClient
	}
	return unknownIfClosed(s.update(ctx, clientID, patch))
}

func (m *Manager) Touch(ctx context.Context, canvasID, clientID string) error {
	s := m.lookup(canvasID)
	if s == nil {
		return perrors.ErrUnknownClient
	}
	return unknownIfClosed(s.touch(ctx, clientID))
}

func (m *Manager) Leave(ctx context.Context, canvasID, clientID string) error {
	s := m.lookup(canvasID)
	if s == nil {
		return perrors.ErrUnknownClient
	}
	return unknownIfClosed(s.leave(ctx, clientID))
}

func unknownIfClosed(err error) error {
	if isClosed(err) {
		return perrors.ErrUnknownClient
	}
	return err
}

// Presence 当前在线列表，按 viewer 过滤
func (m *Manager) Presence(ctx context.Context, canvasID, viewerUserID string) ([]entity.PresenceView, error) {
	ev, err := m.viewerSnapshot(ctx, canvasID, viewerUserID)
	if err != nil {
		return nil, err
	}
	f := &broadcast.Filter{Policy: m.resolver, CanvasID: canvasID, ViewerID: viewerUserID}
	views := make([]entity.PresenceView, 0, len(ev.Clients))
	for _, c := range ev.Clients {
		if v, ok := f.View(ctx, c, ev.Locks); ok {
			views = append(views, v)
		}
	}
	return views, nil
}

// Locks 字段占用情况，viewer 看不到的字段不返回
func (m *Manager) Locks(ctx context.Context, canvasID, viewerUserID string) (map[string][]string, error) {
	ev, err := m.viewerSnapshot(ctx, canvasID, viewerUserID)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(ev.Locks))
	for field, set := range ev.Locks {
		access, err := m.resolver.FieldVisibility(ctx, viewerUserID, canvasID, field)
		if err != nil {
			return nil, err
		}
		if access == vo.FieldHidden {
			continue
		}
		holders := make([]string, 0, len(set))
		for id := range set {
			holders = append(holders, id)
		}
		sort.Strings(holders)
		out[field] = holders
	}
	return out, nil
}

func (m *Manager) viewerSnapshot(ctx context.Context, canvasID, viewerUserID string) (entity.Event, error) {
	ok, err := m.resolver.CanAccess(ctx, viewerUserID, canvasID, vo.RoleViewer)
	if err != nil {
		return entity.Event{}, err
	}
	if !ok {
		return entity.Event{}, perrors.PermissionDenied(nil)
	}
	s := m.lookup(canvasID)
	if s == nil {
		return entity.Event{Type: entity.EventSnapshot, CanvasID: canvasID}, nil
	}
	ev, err := s.snapshot(ctx)
	if isClosed(err) {
		return entity.Event{Type: entity.EventSnapshot, CanvasID: canvasID}, nil
	}
	return ev, err
}

// OnPermissionChanged 清缓存并让该画布的订阅者重新同步
func (m *Manager) OnPermissionChanged(ctx context.Context, canvasID, userID string) {
	m.resolver.Invalidate(canvasID, userID)
	s := m.lookup(canvasID)
	if s == nil {
		return
	}
	if err := s.resync(ctx); err != nil && !isClosed(err) {
		zap.L().Warn("resync after permission change failed",
			zap.String("canvas_id", canvasID),
			zap.Error(err))
	}
}

func (m *Manager) Stats() in.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := in.Stats{Sessions: len(m.sessions)}
	for _, s := range m.sessions {
		st.Clients += int(s.clients.Load())
	}
	return st
}

func (m *Manager) lookup(canvasID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[canvasID]
}

func (m *Manager) getOrCreate(canvasID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[canvasID]; ok {
		return s
	}
	s := newSession(canvasID, m)
	m.sessions[canvasID] = s
	metrics.Sessions.Inc()
	go s.run()

	s.log.Info("canvas session created", zap.String("node_id", m.cfg.NodeID))
	m.refreshDirectory(canvasID)
	return s
}

// release 由 actor 调用；force 为 false 时只在会话仍为空时销毁
func (m *Manager) release(s *Session, force bool) bool {
	m.mu.Lock()
	if !force && s.reg.Len() != 0 {
		m.mu.Unlock()
		return false
	}
	if m.sessions[s.canvasID] == s {
		delete(m.sessions, s.canvasID)
	}
	close(s.done)
	m.mu.Unlock()

	metrics.Sessions.Dec()
	metrics.Clients.Sub(float64(s.clients.Swap(0)))
	m.channel.CloseCanvas(s.canvasID)
	m.resolver.Invalidate(s.canvasID, "")
	if !force {
		m.unregisterDirectory(s.canvasID)
	}
	s.log.Info("canvas session closed", zap.Bool("shutdown", force))
	return true
}

func (m *Manager) publishLocks(changes []entity.LockChange) {
	if m.lockPub == nil {
		return
	}
	m.submit("lock_changes", func(ctx context.Context) {
		if err := m.lockPub.PublishLockChanges(ctx, changes); err != nil {
			zap.L().Warn("publish lock changes failed",
				zap.String("canvas_id", changes[0].CanvasID),
				zap.Int("changes", len(changes)),
				zap.Error(err))
		}
	})
}

func (m *Manager) refreshDirectory(canvasID string) {
	if m.directory == nil {
		return
	}
	m.submit("directory_register", func(ctx context.Context) {
		if err := m.directory.Register(ctx, canvasID, m.cfg.NodeID, m.cfg.DirectoryTTL); err != nil {
			zap.L().Warn("register session directory failed", zap.String("canvas_id", canvasID), zap.Error(err))
		}
	})
}

func (m *Manager) unregisterDirectory(canvasID string) {
	if m.directory == nil {
		return
	}
	m.submit("directory_unregister", func(ctx context.Context) {
		if err := m.directory.Unregister(ctx, canvasID, m.cfg.NodeID); err != nil {
			zap.L().Warn("unregister session directory failed", zap.String("canvas_id", canvasID), zap.Error(err))
		}
	})
}

// Shutdown 停止全部会话和后台任务，并同步清理节点目录
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	canvases := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		canvases = append(canvases, id)
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	var errs []error
	if m.directory != nil {
		for _, id := range canvases {
			if err := m.directory.Unregister(ctx, id, m.cfg.NodeID); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
