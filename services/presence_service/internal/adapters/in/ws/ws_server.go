package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	perrors "github.com/EthanQC/canvas-collab/pkg/errors"
	"github.com/EthanQC/canvas-collab/pkg/jwt"
	"github.com/EthanQC/canvas-collab/pkg/metrics"
	"github.com/EthanQC/canvas-collab/pkg/zlog"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/arbiter"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/entity"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/ports/in"
)

const (
	// 写超时
	writeWait = 10 * time.Second
	// Pong等待时间
	pongWait = 60 * time.Second
	// 最大消息大小
	maxMessageSize = 64 * 1024
	// 发送缓冲
	sendBufferSize = 256
)

// Config 连接相关参数
type Config struct {
	AuthTimeout       time.Duration `mapstructure:"auth_timeout"`       // 等待 auth 消息的时间
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"` // 服务端 ping 周期，必须小于淘汰超时
	LayoutRepoll      time.Duration `mapstructure:"layout_repoll"`      // layout_request 兜底周期
}

func DefaultConfig() Config {
	return Config{
		AuthTimeout:       10 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		LayoutRepoll:      30 * time.Second,
	}
}

// TokenVerifier 校验会话令牌
type TokenVerifier interface {
	Verify(tokenStr string) (*jwt.Identity, error)
}

// Server 画布在线 WebSocket 服务
type Server struct {
	cfg      Config
	verifier TokenVerifier
	sessions in.SessionUseCase
	upgrader websocket.Upgrader
	conns    atomic.Int64
}

func NewServer(cfg Config, verifier TokenVerifier, sessions in.SessionUseCase) *Server {
	def := DefaultConfig()
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = def.AuthTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.LayoutRepoll <= 0 {
		cfg.LayoutRepoll = def.LayoutRepoll
	}
	return &Server{
		cfg:      cfg,
		verifier: verifier,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // 由前置网关校验 Origin
			},
		},
	}
}

// Connections 当前已认证的连接数
func (s *Server) Connections() int64 { return s.conns.Load() }

// HandleConnection 升级后等待 auth 消息，认证失败不会登记任何状态
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("WebSocket upgrade error", zap.Error(err))
		return
	}
	go s.serve(conn)
}

func (s *Server) serve(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)

	auth, err := s.readAuth(conn)
	if err != nil {
		refuse(conn, perrors.AuthError(err))
		return
	}
	id, err := s.verifier.Verify(auth.Token)
	if err != nil {
		refuse(conn, err)
		return
	}

	canvasID := auth.CanvasID
	if canvasID == "" {
		canvasID = id.CanvasID
	}
	clientID := uuid.NewString()
	ctx := zlog.WithClient(context.Background(), canvasID, clientID, id.UserID)

	res, err := s.sessions.Join(ctx, in.JoinRequest{
		CanvasID:      canvasID,
		TokenCanvasID: id.CanvasID,
		ClientID:      clientID,
		UserID:        id.UserID,
		UserName:      id.UserName,
		Tab:           auth.Tab,
	})
	if err != nil {
		refuse(conn, err)
		return
	}

	c := &connection{
		server:   s,
		conn:     conn,
		ctx:      ctx,
		canvasID: canvasID,
		clientID: clientID,
		sub:      res.Subscription,
		send:     make(chan []byte, sendBufferSize),
		closed:   make(chan struct{}),
	}
	s.conns.Add(1)

	c.sendJSON(MsgTypeWelcome, "", WelcomeData{
		CanvasID:   canvasID,
		Client:     entity.SelfView(res.Self),
		ServerTime: time.Now().UnixMilli(),
	})

	go c.writePump()
	go c.forward()
	c.readPump()
}

func (s *Server) readAuth(conn *websocket.Conn) (*AuthData, error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	if msg.Type != MsgTypeAuth {
		return nil, errors.New("first message must be auth")
	}
	var auth AuthData
	if err := json.Unmarshal(msg.Data, &auth); err != nil {
		return nil, err
	}
	if auth.Token == "" {
		return nil, perrors.ErrInvalidToken
	}
	return &auth, nil
}

// refuse 按拒绝原因选择关闭码，随后关闭连接
func refuse(conn *websocket.Conn, err error) {
	code, reason := closeCodeFor(err)
	metrics.Refusals.WithLabelValues(reason).Inc()
	zap.L().Info("connection refused", zap.String("reason", reason), zap.Error(err))

	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

// connection 认证通过后的单个连接
type connection struct {
	server   *Server
	conn     *websocket.Conn
	ctx      context.Context
	canvasID string
	clientID string
	sub      in.Subscription

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	closeMsg  []byte // 非空时写泵退出前发送该关闭帧
	mu        sync.Mutex
}

func (c *connection) close(closeMsg []byte) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeMsg = closeMsg
		c.mu.Unlock()
		close(c.closed)
	})
}

// readPump 读取客户端消息，退出时离开会话
func (c *connection) readPump() {
	defer c.cleanup()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				zlog.C(c.ctx).Warn("WebSocket error", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if !c.handleMessage(message) {
			return
		}
	}
}

func (c *connection) cleanup() {
	c.close(nil)
	c.sub.Close()
	err := c.server.sessions.Leave(context.Background(), c.canvasID, c.clientID)
	if err != nil && !errors.Is(err, perrors.ErrUnknownClient) {
		zlog.C(c.ctx).Warn("leave on disconnect failed", zap.Error(err))
	}
	c.server.conns.Add(-1)
	zlog.C(c.ctx).Info("Connection cleanup")
}

// writePump 唯一的写协程，负责 ping 和 layout_request
func (c *connection) writePump() {
	ping := time.NewTicker(c.server.cfg.HeartbeatInterval)
	layout := time.NewTicker(c.server.cfg.LayoutRepoll)
	defer func() {
		ping.Stop()
		layout.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				zlog.C(c.ctx).Warn("Write error", zap.Error(err))
				c.close(nil)
				return
			}

		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(nil)
				return
			}

		case <-layout.C:
			c.sendJSON(MsgTypeLayoutRequest, "", nil)

		case <-c.closed:
			c.flush()
			c.mu.Lock()
			msg := c.closeMsg
			c.mu.Unlock()
			if msg == nil {
				msg = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			}
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// flush 关闭前把已排队的消息写完，保证 error 消息先于关闭帧
func (c *connection) flush() {
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// forward 订阅流写入发送缓冲；缓冲满时阻塞，压力回到订阅队列
func (c *connection) forward() {
	for o := range c.sub.Events() {
		data, err := json.Marshal(o)
		if err != nil {
			continue
		}
		if !c.enqueue(c.frame(WSMessage{Type: WSMessageType(o.Type), Data: data, Ts: time.Now().UnixMilli()})) {
			return
		}
	}

	// 订阅结束后连接不再有意义，按结束原因选择关闭码
	code, reason := websocket.CloseGoingAway, "session_ended"
	if err := c.sub.Err(); err != nil {
		code, reason = closeCodeFor(err)
		zlog.C(c.ctx).Info("subscription ended", zap.String("reason", reason), zap.Error(err))
	}
	c.close(websocket.FormatCloseMessage(code, reason))
}

func closeCodeFor(err error) (int, string) {
	switch perrors.RefusalReason(err) {
	case perrors.ReasonAuthFailed:
		return CloseAuthFailed, perrors.ReasonAuthFailed
	case perrors.ReasonPermissionDenied:
		return ClosePermissionDenied, perrors.ReasonPermissionDenied
	case perrors.ReasonUnknownClient:
		return CloseUnknownClient, perrors.ReasonUnknownClient
	}
	return websocket.CloseInternalServerErr, "internal_error"
}

// evicted 会话里已经没有这个客户端，通知其重新加入
func (c *connection) evicted() {
	metrics.Refusals.WithLabelValues(perrors.ReasonUnknownClient).Inc()
	c.close(websocket.FormatCloseMessage(CloseUnknownClient, perrors.ReasonUnknownClient))
}

func (c *connection) handleMessage(data []byte) bool {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "bad_request", "invalid message format")
		return true
	}

	switch msg.Type {
	case MsgTypePing, MsgTypeHeartbeat:
		c.touch()
		c.sendJSON(MsgTypePong, msg.ID, nil)

	case MsgTypeUpdate:
		return c.handleUpdate(msg)

	case MsgTypeLayout:
		var layout LayoutData
		if err := json.Unmarshal(msg.Data, &layout); err != nil {
			c.sendError(msg.ID, "bad_request", "invalid layout data")
			return true
		}
		c.sub.SetLayout(arbiter.Layout(layout.Fields), layout.Viewport)
		c.touch()

	case MsgTypeTabFilter:
		var tf TabFilterData
		if err := json.Unmarshal(msg.Data, &tf); err != nil {
			c.sendError(msg.ID, "bad_request", "invalid tab filter")
			return true
		}
		c.sub.SetTabFilter(tf.Tab)

	case MsgTypeLeave:
		return false

	default:
		c.sendError(msg.ID, "bad_request", "unknown message type")
	}
	return true
}

func (c *connection) handleUpdate(msg WSMessage) bool {
	var upd UpdateData
	if err := json.Unmarshal(msg.Data, &upd); err != nil {
		c.sendError(msg.ID, "bad_request", "invalid update data")
		return true
	}
	patch, err := upd.Patch()
	if err != nil {
		c.sendError(msg.ID, "bad_request", err.Error())
		return true
	}

	err = c.server.sessions.Update(c.ctx, c.canvasID, c.clientID, patch)
	switch {
	case err == nil:
	case errors.Is(err, perrors.ErrUnknownClient):
		// 已被淘汰，客户端需要重新加入
		zlog.C(c.ctx).Warn("update from unknown client")
		c.sendError(msg.ID, perrors.ReasonUnknownClient, err.Error())
		c.evicted()
		return false
	case errors.Is(err, perrors.ErrInvalidAction):
		c.sendError(msg.ID, "bad_request", err.Error())
	default:
		zlog.C(c.ctx).Warn("update failed", zap.Error(err))
		c.sendError(msg.ID, "internal_error", "update failed")
	}
	return true
}

func (c *connection) touch() {
	err := c.server.sessions.Touch(c.ctx, c.canvasID, c.clientID)
	switch {
	case err == nil:
	case errors.Is(err, perrors.ErrUnknownClient):
		c.evicted()
	default:
		zlog.C(c.ctx).Debug("touch failed", zap.Error(err))
	}
}

func (c *connection) frame(msg WSMessage) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return data
}

// enqueue 阻塞写入发送缓冲，连接关闭时返回 false
func (c *connection) enqueue(data []byte) bool {
	if data == nil {
		return true
	}
	select {
	case c.send <- data:
		return true
	case <-c.closed:
		return false
	}
}

// sendJSON 控制类消息，缓冲满时直接丢弃
func (c *connection) sendJSON(typ WSMessageType, id string, payload interface{}) {
	msg := WSMessage{Type: typ, ID: id, Ts: time.Now().UnixMilli()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		msg.Data = data
	}
	select {
	case c.send <- c.frame(msg):
	default:
		zlog.C(c.ctx).Warn("send buffer full, control message dropped", zap.String("type", string(typ)))
	}
}

func (c *connection) sendError(id, code, errMsg string) {
	c.sendJSON(MsgTypeError, id, ErrorData{Code: code, Error: errMsg})
}
