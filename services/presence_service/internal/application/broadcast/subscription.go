package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	perrors "github.com/EthanQC/canvas-collab/pkg/errors"
	"github.com/EthanQC/canvas-collab/pkg/metrics"
	"github.com/EthanQC/canvas-collab/pkg/zlog"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/arbiter"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/entity"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/vo"
)

var errQueueFull = errors.New("subscriber queue full")

// Options 订阅参数
type Options struct {
	CanvasID string
	ClientID string
	UserID   string
	Tab      string
	// Resync 队列溢出或切换 tab 后重新拉取快照
	Resync func(ctx context.Context) (entity.Event, error)
}

type layoutUpdate struct {
	layout   arbiter.Layout
	viewport *arbiter.Viewport
}

// Subscription 单个订阅者，pump 独占下面的过滤状态
type Subscription struct {
	opts   Options
	queue  chan entity.Event
	out    chan entity.Outbound
	layout chan layoutUpdate
	tab    chan string

	needResync atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
	log        *zap.Logger

	errMu sync.Mutex
	err   error

	// 以下只在 pump 里读写
	filter  Filter
	lastSeq uint64
	synced  bool
	state   map[string]entity.ClientPresence
	locks   entity.LockMap
	seen    map[string]entity.PresenceView // 已投递过的协作者及其最后一次视图
}

func newSubscription(opts Options, policy Policy, queueSize int) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		opts:   opts,
		queue:  make(chan entity.Event, queueSize),
		out:    make(chan entity.Outbound, defaultOutputSize),
		layout: make(chan layoutUpdate, 1),
		tab:    make(chan string, 1),
		ctx:    ctx,
		cancel: cancel,
		log:    zlog.ForCanvas(zap.L(), opts.CanvasID).With(zap.String("client_id", opts.ClientID)),
		filter: Filter{
			Policy:   policy,
			CanvasID: opts.CanvasID,
			ViewerID: opts.UserID,
			Tab:      opts.Tab,
		},
		state: make(map[string]entity.ClientPresence),
		seen:  make(map[string]entity.PresenceView),
	}
}

// Events 过滤后的事件流，订阅结束时关闭
func (s *Subscription) Events() <-chan entity.Outbound { return s.out }

func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Subscription) Close() { s.cancel() }

// SetLayout 只保留最新一次布局
func (s *Subscription) SetLayout(layout arbiter.Layout, vp *arbiter.Viewport) {
	u := layoutUpdate{layout: layout, viewport: vp}
	for {
		select {
		case s.layout <- u:
			return
		default:
		}
		select {
		case <-s.layout:
		default:
		}
	}
}

func (s *Subscription) SetTabFilter(tab string) {
	for {
		select {
		case s.tab <- tab:
			return
		default:
		}
		select {
		case <-s.tab:
		default:
		}
	}
}

func (s *Subscription) enqueue(ev entity.Event) bool {
	if s.ctx.Err() != nil {
		return true
	}
	select {
	case s.queue <- ev:
		return true
	default:
		s.needResync.Store(true)
		return false
	}
}

func (s *Subscription) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.cancel()
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		if s.needResync.CompareAndSwap(true, false) && !s.resync() {
			return
		}
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.queue:
			if !s.handle(ev) {
				return
			}
		case u := <-s.layout:
			if !s.applyLayout(u) {
				return
			}
		case tab := <-s.tab:
			s.filter.Tab = tab
			s.needResync.Store(true)
		}
	}
}

func (s *Subscription) resync() bool {
	if s.opts.Resync == nil {
		return true
	}
	ev, err := s.opts.Resync(s.ctx)
	if err != nil {
		if s.ctx.Err() == nil {
			s.log.Warn("resync snapshot failed", zap.Error(err))
			s.fail(err)
		}
		return false
	}
	s.log.Debug("subscriber resynced", zap.Uint64("seq", ev.Seq))
	return s.handle(ev)
}

func (s *Subscription) handle(ev entity.Event) bool {
	if ev.Type == entity.EventSnapshot {
		return s.handleSnapshot(ev)
	}
	// 快照之前的增量已经包含在快照里
	if !s.synced || ev.Seq <= s.lastSeq {
		return true
	}
	s.lastSeq = ev.Seq
	if ev.Locks != nil {
		s.locks = ev.Locks
	}
	if ev.Client == nil || ev.Client.ClientID == s.opts.ClientID {
		return true
	}
	c := *ev.Client

	if ev.Type == entity.EventLeave {
		delete(s.state, c.ClientID)
		if _, ok := s.seen[c.ClientID]; !ok {
			return true
		}
		delete(s.seen, c.ClientID)
		v := entity.SelfView(c)
		return s.send(entity.Outbound{Type: entity.EventLeave, Seq: ev.Seq, Client: &v})
	}

	s.state[c.ClientID] = c
	return s.deliver(c, ev.Seq)
}

// deliver 第一次投递的协作者变成 join，不可见时整条事件都不投递
func (s *Subscription) deliver(c entity.ClientPresence, seq uint64) bool {
	v, ok := s.filter.View(s.ctx, c, s.locks)
	if !ok {
		return true
	}
	typ := entity.EventUpdate
	if _, shown := s.seen[c.ClientID]; !shown {
		typ = entity.EventJoin
	}
	s.seen[c.ClientID] = v
	return s.send(entity.Outbound{Type: typ, Seq: seq, Client: &v})
}

func (s *Subscription) handleSnapshot(ev entity.Event) bool {
	if s.synced && ev.Seq < s.lastSeq {
		return true
	}

	ok, err := s.filter.Policy.CanAccess(s.ctx, s.opts.UserID, s.opts.CanvasID, vo.RoleViewer)
	if err != nil {
		s.log.Warn("access check failed during snapshot", zap.Error(err))
		s.fail(err)
		return false
	}
	if !ok {
		s.log.Info("viewer lost canvas access")
		metrics.Refusals.WithLabelValues(perrors.ReasonPermissionDenied).Inc()
		s.fail(perrors.PermissionDenied(nil))
		return false
	}

	resynced := s.synced
	prev := s.seen
	s.synced = true
	s.lastSeq = ev.Seq
	s.locks = ev.Locks
	s.state = make(map[string]entity.ClientPresence, len(ev.Clients))
	s.seen = make(map[string]entity.PresenceView, len(ev.Clients))

	views := make([]entity.PresenceView, 0, len(ev.Clients))
	for _, c := range ev.Clients {
		if c.ClientID == s.opts.ClientID {
			continue
		}
		s.state[c.ClientID] = c
		if v, ok := s.filter.View(s.ctx, c, s.locks); ok {
			views = append(views, v)
			s.seen[c.ClientID] = v
		}
	}
	if !s.send(entity.Outbound{Type: entity.EventSnapshot, Seq: ev.Seq, Clients: views}) {
		return false
	}
	if !resynced {
		return true
	}

	// 重新同步后，新变为可见的协作者补发 join，视图有变化的补发 update
	for i := range views {
		v := views[i]
		typ := entity.EventUpdate
		if old, shown := prev[v.ClientID]; !shown {
			typ = entity.EventJoin
		} else if sameView(old, v) {
			continue
		}
		if !s.send(entity.Outbound{Type: typ, Seq: ev.Seq, Client: &v}) {
			return false
		}
	}
	return true
}

func sameView(a, b entity.PresenceView) bool {
	if !samePoint(a.Cursor, b.Cursor) || !samePoint(a.ViewportCursor, b.ViewportCursor) {
		return false
	}
	a.Cursor, a.ViewportCursor = nil, nil
	b.Cursor, b.ViewportCursor = nil, nil
	return a == b
}

func samePoint(a, b *entity.Point) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// applyLayout 布局变化后重新锚定当前占用者
func (s *Subscription) applyLayout(u layoutUpdate) bool {
	s.filter.Layout = u.layout
	if u.viewport != nil {
		s.filter.Viewport = u.viewport
	}
	if !s.synced {
		return true
	}

	ids := make([]string, 0, len(s.state))
	for id, c := range s.state {
		if arbiter.Holds(s.locks, c) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !s.deliver(s.state[id], s.lastSeq) {
			return false
		}
	}
	return true
}

func (s *Subscription) send(o entity.Outbound) bool {
	select {
	case s.out <- o:
		metrics.EventsDelivered.WithLabelValues(string(o.Type)).Inc()
		return true
	case <-s.ctx.Done():
		return false
	}
}
