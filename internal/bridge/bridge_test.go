package bridge_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cdptrack/internal/bridge"
	"cdptrack/internal/logger"
	"cdptrack/internal/state"
	"cdptrack/internal/storage/db"
	"cdptrack/internal/storage/model"
	"cdptrack/internal/storage/repo"
	"cdptrack/pkg/domain"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

const goodOrigin = "http://localhost:3000"

// fakeRelay 用状态存储模拟追踪标签页的建立与关闭。
type fakeRelay struct {
	store *state.Store

	mu         sync.Mutex
	createdURL string
}

func (f *fakeRelay) CreateTrackingTab(ctx context.Context, url string) (domain.TargetID, error) {
	f.mu.Lock()
	f.createdURL = url
	f.mu.Unlock()
	if err := f.store.SetOriginalTarget(ctx, "TARGET-1"); err != nil {
		return "", err
	}
	return "TARGET-1", nil
}

func (f *fakeRelay) CloseTrackingTab(ctx context.Context) error {
	if f.store.OriginalTarget() == "" {
		return domain.ErrNoTrackedTarget
	}
	return f.store.ClearOriginalTarget(ctx)
}

func (f *fakeRelay) lastCreatedURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createdURL
}

// setupBridge 启动挂载控制器桥的测试服务器。
func setupBridge(t *testing.T) (*bridge.Bridge, *fakeRelay, *state.Store, *httptest.Server) {
	gdb, err := db.New(db.Options{Name: ":memory:", Prefix: "test_"})
	if err != nil {
		t.Fatalf("创建内存数据库失败: %v", err)
	}
	if err := db.Migrate(gdb, &model.Setting{}); err != nil {
		t.Fatalf("迁移数据库失败: %v", err)
	}
	store := state.NewStore(repo.NewSettingsRepo(gdb), logger.Nop())

	r := &fakeRelay{store: store}
	b := bridge.New(store, r, bridge.Options{
		AllowedOrigins: []string{goodOrigin, "https://browser.labeling.app"},
	}, logger.NewNop())

	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return b, r, store, srv
}

// dial 以指定 Origin 建立 WebSocket 连接。
func dial(t *testing.T, srv *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

// readEnvelope 读取一条出站消息并解析。
func readEnvelope(t *testing.T, conn *websocket.Conn) gjson.Result {
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("读取消息失败: %v", err)
	}
	return gjson.ParseBytes(data)
}

// readTrackingChanged 持续读取直到收到指定开关值的 trackingChanged。
// 设置原始目标也会触发一次状态推送，顺序与开关推送无约定。
func readTrackingChanged(t *testing.T, conn *websocket.Conn, enabled bool) gjson.Result {
	for i := 0; i < 5; i++ {
		msg := readEnvelope(t, conn)
		if msg.Get("type").String() == "trackingChanged" && msg.Get("enabled").Bool() == enabled {
			return msg
		}
	}
	t.Fatalf("未收到 enabled=%v 的 trackingChanged", enabled)
	return gjson.Result{}
}

// TestBridge_EvilOriginRejected 测试非白名单来源的握手被拒绝且状态不变。
func TestBridge_EvilOriginRejected(t *testing.T) {
	_, _, store, srv := setupBridge(t)

	conn, resp, err := dial(t, srv, "https://evil.example")
	if err == nil {
		conn.Close()
		t.Fatal("预期非法来源握手失败")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("预期 403，实际 %d", resp.StatusCode)
	}
	if store.TrackingEnabled() {
		t.Error("预期状态不变")
	}
}

// TestBridge_MissingOriginRejected 测试缺失 Origin 头的握手被拒绝。
func TestBridge_MissingOriginRejected(t *testing.T) {
	_, _, _, srv := setupBridge(t)

	conn, _, err := dial(t, srv, "")
	if err == nil {
		conn.Close()
		t.Fatal("预期缺失来源握手失败")
	}
}

// TestBridge_StartSessionOnConnect 测试连接后立即收到会话开始通知。
func TestBridge_StartSessionOnConnect(t *testing.T) {
	_, _, _, srv := setupBridge(t)

	conn, _, err := dial(t, srv, goodOrigin)
	if err != nil {
		t.Fatalf("握手失败: %v", err)
	}
	defer conn.Close()

	msg := readEnvelope(t, conn)
	if msg.Get("type").String() != "startSession" {
		t.Errorf("预期 startSession，实际 %s", msg.Get("type").String())
	}
}

// TestBridge_ExtensionLoadChanged 测试控制消息切换追踪开关并回推变更。
func TestBridge_ExtensionLoadChanged(t *testing.T) {
	_, _, store, srv := setupBridge(t)

	conn, _, err := dial(t, srv, goodOrigin)
	if err != nil {
		t.Fatalf("握手失败: %v", err)
	}
	defer conn.Close()
	readEnvelope(t, conn) // startSession

	if err := conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"action":"extensionLoadChanged","value":true}`)); err != nil {
		t.Fatalf("发送控制消息失败: %v", err)
	}

	readTrackingChanged(t, conn, true)
	if !store.TrackingEnabled() {
		t.Error("预期追踪开关已持久化为开启")
	}

	// 关闭追踪
	if err := conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"action":"extensionLoadChanged","value":false}`)); err != nil {
		t.Fatalf("发送控制消息失败: %v", err)
	}
	readTrackingChanged(t, conn, false)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && store.TrackingEnabled() {
		time.Sleep(10 * time.Millisecond)
	}
	if store.TrackingEnabled() {
		t.Error("预期追踪开关已关闭")
	}
}

// TestBridge_LoadChangedCreatesTrackingTab 测试开关开启且无被追踪目标时，
// 桥先以默认起始地址建出追踪标签页并持久化原始目标。
func TestBridge_LoadChangedCreatesTrackingTab(t *testing.T) {
	_, r, store, srv := setupBridge(t)

	conn, _, err := dial(t, srv, goodOrigin)
	if err != nil {
		t.Fatalf("握手失败: %v", err)
	}
	defer conn.Close()
	readEnvelope(t, conn) // startSession

	if err := conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"action":"extensionLoadChanged","value":true}`)); err != nil {
		t.Fatalf("发送控制消息失败: %v", err)
	}
	readTrackingChanged(t, conn, true)

	if got := r.lastCreatedURL(); got != "https://www.google.com" {
		t.Errorf("预期以默认起始地址建标签页，实际 %q", got)
	}
	if got := store.OriginalTarget(); got != "TARGET-1" {
		t.Errorf("预期原始目标已持久化为 TARGET-1，实际 %q", got)
	}
	if !store.TrackingEnabled() {
		t.Error("预期追踪开关已开启")
	}

	// 再次开启不再重建标签页
	if err := conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"action":"openTrackingTab","url":"https://a.example"}`)); err != nil {
		t.Fatalf("发送控制消息失败: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && r.lastCreatedURL() != "https://a.example" {
		time.Sleep(10 * time.Millisecond)
	}
	if got := r.lastCreatedURL(); got != "https://a.example" {
		t.Errorf("预期显式打开使用指定地址，实际 %q", got)
	}
}

// TestBridge_PageEventDelivery 测试转发动作以 pageEvent 推送给控制端。
func TestBridge_PageEventDelivery(t *testing.T) {
	b, _, _, srv := setupBridge(t)

	conn, _, err := dial(t, srv, goodOrigin)
	if err != nil {
		t.Fatalf("握手失败: %v", err)
	}
	defer conn.Close()
	readEnvelope(t, conn) // startSession

	checked := true
	b.EmitPageEvent(&domain.TrackedEvent{
		Target:        "T1",
		Timestamp:     42,
		BrowserAction: domain.NewCheckboxesAndRadios("checkbox", checked),
		RawEvent:      &domain.ElementInfo{TagName: "input", InputType: "checkbox"},
		BrowserState:  &domain.BrowserState{Clicks: 3},
	})

	msg := readEnvelope(t, conn)
	if msg.Get("type").String() != "pageEvent" {
		t.Fatalf("预期 pageEvent，实际 %s", msg.Get("type").String())
	}
	if msg.Get("browserAction.type").String() != "checkboxesAndRadios" {
		t.Errorf("动作类型不符: %s", msg.Get("browserAction.type").String())
	}
	if !msg.Get("browserAction.checked").Bool() {
		t.Error("预期动作负载 checked 为 true")
	}
	if msg.Get("browserState.clicks").Int() != 3 {
		t.Error("预期携带状态快照")
	}
	if msg.Get("rawEvent.tagName").String() != "input" {
		t.Error("预期携带原始元素快照")
	}
}

// TestBridge_UnknownActionIgnored 测试未知控制消息被忽略。
func TestBridge_UnknownActionIgnored(t *testing.T) {
	_, _, store, srv := setupBridge(t)

	conn, _, err := dial(t, srv, goodOrigin)
	if err != nil {
		t.Fatalf("握手失败: %v", err)
	}
	defer conn.Close()
	readEnvelope(t, conn)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"selfDestruct"}`))
	time.Sleep(50 * time.Millisecond)
	if store.TrackingEnabled() {
		t.Error("预期未知消息不改变状态")
	}
}
