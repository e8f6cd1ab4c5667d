package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/EthanQC/canvas-collab/pkg/jwt"
)

// Config 压测配置
type Config struct {
	Target     string        `json:"target"`      // WebSocket URL
	Secret     string        `json:"-"`           // 会话令牌密钥，本地签发令牌
	Canvases   int           `json:"canvases"`    // 画布数
	PerCanvas  int           `json:"per_canvas"`  // 每个画布的客户端数
	Duration   time.Duration `json:"duration"`    // 压测持续时间
	Ramp       time.Duration `json:"ramp"`        // 爬坡时间
	UpdateRate float64       `json:"update_rate"` // 每客户端每秒光标更新
	EditRatio  float64       `json:"edit_ratio"`  // 更新里进入编辑的比例
	Fields     []string      `json:"fields"`      // 参与占用的字段
	Output     string        `json:"output"`      // text|json
	Verbose    bool          `json:"verbose"`
}

func main() {
	cfg := parseFlags()
	if cfg.Secret == "" {
		fmt.Fprintln(os.Stderr, "-secret 不能为空")
		os.Exit(2)
	}
	tokens, err := jwt.NewManager(cfg.Secret, cfg.Duration+time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token manager: %v\n", err)
		os.Exit(2)
	}

	total := cfg.Canvases * cfg.PerCanvas
	fmt.Println("=== presencebench - 画布在线压测工具 ===")
	fmt.Printf("目标: %s\n", cfg.Target)
	fmt.Printf("画布 x 客户端: %d x %d = %d\n", cfg.Canvases, cfg.PerCanvas, total)
	fmt.Printf("持续时间: %s, 爬坡: %s, 更新速率: %.1f/s\n\n", cfg.Duration, cfg.Ramp, cfg.UpdateRate)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	stats := newStats()
	run(ctx, cfg, tokens, stats, total)
	stats.EndTime = time.Now()

	result := stats.result(cfg)
	if cfg.Output == "json" {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}
	outputText(result)
}

func parseFlags() Config {
	cfg := Config{}
	flag.StringVar(&cfg.Target, "target", "ws://localhost:8086/ws", "WebSocket URL")
	flag.StringVar(&cfg.Secret, "secret", os.Getenv("PRESENCE_TOKEN_SECRET"), "会话令牌密钥")
	flag.IntVar(&cfg.Canvases, "canvases", 10, "画布数")
	flag.IntVar(&cfg.PerCanvas, "per-canvas", 20, "每个画布的客户端数")
	flag.DurationVar(&cfg.Duration, "duration", 2*time.Minute, "压测持续时间")
	flag.DurationVar(&cfg.Ramp, "ramp", 20*time.Second, "爬坡时间")
	flag.Float64Var(&cfg.UpdateRate, "update-rate", 5, "每客户端每秒光标更新数")
	flag.Float64Var(&cfg.EditRatio, "edit-ratio", 0.05, "更新中切换编辑状态的比例")
	flag.StringVar(&cfg.Output, "output", "text", "输出格式: text, json")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "详细输出")
	flag.Parse()
	cfg.Fields = []string{"Title", "Objectives", "KPIs", "Risks"}
	return cfg
}

// run 按爬坡速率建立连接，到时或中断后等所有客户端退出
func run(ctx context.Context, cfg Config, tokens jwt.Manager, stats *Stats, total int) {
	if total <= 0 {
		return
	}
	interval := cfg.Ramp / time.Duration(total)
	if interval <= 0 {
		interval = time.Millisecond
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("加入画布"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("client"),
	)

	report := time.NewTicker(10 * time.Second)
	defer report.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-report.C:
				printProgress(stats)
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
ramp:
	for i := 0; i < total; i++ {
		select {
		case <-ctx.Done():
			break ramp
		case <-ticker.C:
		}
		c := &client{
			id:       i,
			canvasID: fmt.Sprintf("bench-canvas-%d", i%cfg.Canvases),
			userID:   fmt.Sprintf("bench-user-%d", i),
			cfg:      cfg,
			stats:    stats,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.run(ctx, tokens)
		}()
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Println()
	wg.Wait()
}

func printProgress(stats *Stats) {
	fmt.Printf("\n[%s] 在线: %d | 加入: %d | 拒绝: %d | 失败: %d | 更新: %d | 收到: %d | 重同步: %d\n",
		time.Since(stats.StartTime).Round(time.Second),
		stats.Current.Load(), stats.Joined.Load(), stats.Refused.Load(), stats.Failed.Load(),
		stats.Updates.Load(), stats.Received.Load(), stats.Resyncs.Load())
}

func outputText(r Result) {
	fmt.Println()
	fmt.Println("==================== 压测结果 ====================")
	fmt.Printf("尝试/加入/拒绝/失败: %d/%d/%d/%d\n", r.Attempts, r.Joined, r.Refused, r.Failed)
	fmt.Printf("发送更新: %d, 收到事件: %d, 重同步: %d, 被淘汰: %d, 写失败: %d\n", r.UpdatesSent, r.EventsRecv, r.Resyncs, r.Evicted, r.WriteErrors)
	printLatency("加入延迟 (ms)", r.JoinLatency)
	printLatency("扇出延迟 (ms)", r.FanoutLatency)
	if len(r.Events) > 0 {
		fmt.Println("--- 事件 ---")
		for typ, n := range r.Events {
			fmt.Printf("%-10s %d\n", typ, n)
		}
	}
	if len(r.Errors) > 0 {
		fmt.Println("--- 错误 ---")
		for err, n := range r.Errors {
			fmt.Printf("%s: %d\n", err, n)
		}
	}
	fmt.Printf("--- 运行时间: %.2f 秒 ---\n", r.ActualTime)
}

func printLatency(title string, l LatencyStats) {
	fmt.Printf("--- %s ---\n", title)
	fmt.Printf("n=%d min=%.2f avg=%.2f p50=%.2f p90=%.2f p99=%.2f max=%.2f std=%.2f\n",
		l.Count, l.Min, l.Avg, l.P50, l.P90, l.P99, l.Max, l.StdDev)
}
