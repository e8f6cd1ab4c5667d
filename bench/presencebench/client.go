package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/EthanQC/canvas-collab/pkg/jwt"
)

const (
	closeAuthFailed       = 4001
	closePermissionDenied = 4003
	closeUnknownClient    = 4004
)

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	Ts   int64           `json:"ts,omitempty"`
}

// client 单个模拟客户端：随机移动光标，偶尔进入和退出编辑
type client struct {
	id       int
	canvasID string
	userID   string
	cfg      Config
	stats    *Stats

	conn    *websocket.Conn
	writeMu sync.Mutex
	editing string
}

func (c *client) run(ctx context.Context, tokens jwt.Manager) {
	c.stats.Attempts.Add(1)
	token, _, err := tokens.Issue(c.userID, c.userID, c.canvasID)
	if err != nil {
		c.fail(err)
		return
	}

	start := time.Now()
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.Target, nil)
	if err != nil {
		c.fail(err)
		return
	}
	c.conn = conn
	defer conn.Close()

	if err := c.write("auth", map[string]string{"token": token}); err != nil {
		c.fail(err)
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(15 * time.Second))
	var welcome wsMessage
	if err := conn.ReadJSON(&welcome); err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) && (ce.Code == closeAuthFailed || ce.Code == closePermissionDenied) {
			c.stats.Refused.Add(1)
			c.stats.recordError(fmt.Sprintf("refused %d %s", ce.Code, ce.Text))
			return
		}
		c.fail(err)
		return
	}
	if welcome.Type != "welcome" {
		c.fail(fmt.Errorf("unexpected first message %q", welcome.Type))
		return
	}
	c.stats.recordJoin(time.Since(start))
	c.stats.Joined.Add(1)
	c.stats.Current.Add(1)
	defer c.stats.Current.Add(-1)

	readDone := make(chan struct{})
	go c.readLoop(readDone)

	_ = c.write("layout", map[string]interface{}{"fields": c.layout()})

	var tick <-chan time.Time
	if c.cfg.UpdateRate > 0 {
		t := time.NewTicker(time.Duration(float64(time.Second) / c.cfg.UpdateRate))
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			_ = c.write("leave", nil)
			return
		case <-readDone:
			return
		case <-tick:
			c.sendUpdate()
		}
	}
}

// readLoop 服务端 ping 由 gorilla 默认处理器回 pong
func (c *client) readLoop(done chan<- struct{}) {
	defer close(done)
	snapshots := 0
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		var msg wsMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, closeUnknownClient) {
				c.stats.Evicted.Add(1)
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.stats.recordError(err.Error())
			}
			return
		}
		if msg.Type == "layout_request" {
			_ = c.write("layout", map[string]interface{}{"fields": c.layout()})
			continue
		}
		if msg.Type == "snapshot" {
			snapshots++
			if snapshots > 1 {
				c.stats.Resyncs.Add(1)
			}
		}
		var fanout time.Duration
		if msg.Type == "update" && msg.Ts > 0 {
			fanout = time.Since(time.UnixMilli(msg.Ts))
		}
		c.stats.recordEvent(msg.Type, fanout)
	}
}

func (c *client) sendUpdate() {
	upd := map[string]interface{}{
		"cursor": map[string]float64{"x": rand.Float64() * 1600, "y": rand.Float64() * 900},
	}
	if rand.Float64() < c.cfg.EditRatio {
		if c.editing == "" {
			c.editing = c.cfg.Fields[rand.Intn(len(c.cfg.Fields))]
			upd["active_field"] = c.editing
			upd["action"] = "editing"
		} else {
			c.editing = ""
			upd["active_field"] = ""
		}
	}
	if err := c.write("update", upd); err != nil {
		c.stats.WriteErrs.Add(1)
		return
	}
	c.stats.Updates.Add(1)
}

// layout 每个客户端的字段位置略有不同，模拟不同窗口尺寸
func (c *client) layout() map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(c.cfg.Fields))
	offset := float64(c.id%7) * 13
	for i, f := range c.cfg.Fields {
		out[f] = map[string]float64{"x": 40 + offset, "y": 120*float64(i+1) + offset}
	}
	return out
}

func (c *client) write(typ string, data interface{}) error {
	msg := map[string]interface{}{"type": typ, "ts": time.Now().UnixMilli()}
	if data != nil {
		msg["data"] = data
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(msg)
}

func (c *client) fail(err error) {
	c.stats.Failed.Add(1)
	c.stats.recordError(err.Error())
	if c.cfg.Verbose {
		fmt.Printf("client %d (%s): %v\n", c.id, c.canvasID, err)
	}
}
