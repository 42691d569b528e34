package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"cdptrack/internal/logger"
	"cdptrack/internal/state"
	"cdptrack/pkg/domain"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// 出站消息类型
const (
	msgStartSession    = "startSession"
	msgPageEvent       = "pageEvent"
	msgTrackingChanged = "trackingChanged"
)

// 入站控制消息动作
const (
	actionLoadChanged     = "extensionLoadChanged"
	actionOpenTrackingTab = "openTrackingTab"
	actionCloseTracking   = "closeTrackingTab"
)

// defaultStartURL 控制端只发开关时打开的默认地址
const defaultStartURL = "https://www.google.com"

// RelayControl 桥所需的中继窗口操作
type RelayControl interface {
	CreateTrackingTab(ctx context.Context, url string) (domain.TargetID, error)
	CloseTrackingTab(ctx context.Context) error
}

// Options 桥行为参数
type Options struct {
	AllowedOrigins []string
	StartURL       string // 默认起始地址，空则用 defaultStartURL
}

// Envelope 出站消息信封
type Envelope struct {
	Type          string                `json:"type"`
	SessionID     domain.SessionID      `json:"sessionId,omitempty"`
	Enabled       *bool                 `json:"enabled,omitempty"`
	BrowserAction *domain.BrowserAction `json:"browserAction,omitempty"`
	RawEvent      *domain.ElementInfo   `json:"rawEvent,omitempty"`
	BrowserState  *domain.BrowserState  `json:"browserState,omitempty"`
}

// Bridge 控制器桥
// 控制应用经由 WebSocket 接入的唯一入口：握手时校验 Origin
// 白名单（精确匹配），接收控制消息并译为中继操作，向控制端
// 推送转发来的页面事件。同一时刻只保留最新的控制器会话。
type Bridge struct {
	log      logger.Logger
	store    *state.Store
	relay    RelayControl
	origins  map[string]bool
	startURL string

	upgrader websocket.Upgrader

	mu   sync.Mutex
	conn *websocket.Conn
	send chan []byte
}

// New 创建控制器桥
func New(store *state.Store, r RelayControl, opts Options, log logger.Logger) *Bridge {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.StartURL == "" {
		opts.StartURL = defaultStartURL
	}
	b := &Bridge{
		log:      log.With("module", "bridge"),
		store:    store,
		relay:    r,
		origins:  make(map[string]bool, len(opts.AllowedOrigins)),
		startURL: opts.StartURL,
	}
	for _, o := range opts.AllowedOrigins {
		b.origins[o] = true
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     b.checkOrigin,
	}

	// 追踪状态变更推送给控制端，与变更来源无关
	store.Subscribe(func(c state.Change) {
		enabled := c.TrackingEnabled
		b.push(&Envelope{
			Type:      msgTrackingChanged,
			SessionID: c.SessionID,
			Enabled:   &enabled,
		})
	})
	return b
}

// checkOrigin Origin 白名单校验（精确匹配）
// 拒绝是预期内的噪音，不记为错误。
func (b *Bridge) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if b.origins[origin] {
		return true
	}
	b.log.Debug("拒绝来源", "origin", origin)
	return false
}

// ServeHTTP WebSocket 接入端点
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// 非法来源或握手失败，upgrader 已写响应
		return
	}

	send := make(chan []byte, 64)
	done := make(chan struct{})
	b.mu.Lock()
	if b.conn != nil {
		_ = b.conn.Close()
	}
	b.conn = conn
	b.send = send
	b.mu.Unlock()

	b.log.Info("控制器已连接", "remote", conn.RemoteAddr().String())

	go b.writeLoop(conn, send, done)

	// 连接即通知会话开始
	b.push(&Envelope{Type: msgStartSession, SessionID: b.store.SessionID()})

	b.readLoop(conn)

	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
		b.send = nil
	}
	b.mu.Unlock()
	close(done)
	_ = conn.Close()
	b.log.Info("控制器已断开")
}

// readLoop 消费控制消息直到连接关闭
func (b *Bridge) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		b.handleControl(data)
	}
}

// writeLoop 顺序写出出站消息，连接断开后退出
func (b *Bridge) writeLoop(conn *websocket.Conn, send chan []byte, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case data := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				b.log.Debug("写出消息失败", "error", err)
				return
			}
		}
	}
}

// handleControl 处理一条控制消息
func (b *Bridge) handleControl(data []byte) {
	msg := gjson.ParseBytes(data)
	action := msg.Get("action").String()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch action {
	case actionLoadChanged:
		enabled := msg.Get("value").Bool()
		// 控制端只发开关时，由桥负责建出追踪标签页再开启
		if enabled && b.store.OriginalTarget() == "" {
			if _, err := b.relay.CreateTrackingTab(ctx, b.startURL); err != nil {
				b.log.Err(err, "打开追踪标签页失败", "url", b.startURL)
				return
			}
		}
		if err := b.store.SetTrackingEnabled(ctx, enabled); err != nil {
			b.log.Err(err, "切换追踪开关失败")
			return
		}
		if !enabled {
			if err := b.relay.CloseTrackingTab(ctx); err != nil && err != domain.ErrNoTrackedTarget {
				b.log.Warn("停止追踪时关闭标签页失败", "error", err)
			}
		}
	case actionOpenTrackingTab:
		url := msg.Get("url").String()
		if url == "" {
			return
		}
		if _, err := b.relay.CreateTrackingTab(ctx, url); err != nil {
			b.log.Err(err, "打开追踪标签页失败", "url", url)
			return
		}
		if err := b.store.SetTrackingEnabled(ctx, true); err != nil {
			b.log.Err(err, "开启追踪失败")
		}
	case actionCloseTracking:
		if err := b.relay.CloseTrackingTab(ctx); err != nil && err != domain.ErrNoTrackedTarget {
			b.log.Warn("关闭追踪标签页失败", "error", err)
		}
		if err := b.store.SetTrackingEnabled(ctx, false); err != nil {
			b.log.Err(err, "关闭追踪开关失败")
		}
	default:
		b.log.Debug("未知控制消息", "action", action)
	}
}

// EmitPageEvent 把转发来的动作推送给控制端
// 没有控制器会话时丢弃。
func (b *Bridge) EmitPageEvent(evt *domain.TrackedEvent) {
	if evt == nil {
		return
	}
	b.push(&Envelope{
		Type:          msgPageEvent,
		BrowserAction: &evt.BrowserAction,
		RawEvent:      evt.RawEvent,
		BrowserState:  evt.BrowserState,
	})
}

// push 序列化并投递出站消息，队列满时丢弃
func (b *Bridge) push(env *Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		b.log.Err(err, "序列化出站消息失败")
		return
	}
	b.mu.Lock()
	send := b.send
	b.mu.Unlock()
	if send == nil {
		return
	}
	select {
	case send <- data:
	default:
		b.log.Warn("出站队列已满，丢弃消息", "type", env.Type)
	}
}
