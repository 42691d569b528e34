package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"cdptrack/internal/logger"
	"cdptrack/internal/state"
	"cdptrack/internal/storage/db"
	"cdptrack/internal/storage/model"
	"cdptrack/internal/storage/repo"
	"cdptrack/internal/tracker"
	"cdptrack/pkg/domain"
)

// newTestRelay 构建不依赖浏览器连接的中继与状态存储。
func newTestRelay(t *testing.T) (*Relay, *state.Store) {
	gdb, err := db.New(db.Options{Name: ":memory:", Prefix: "test_"})
	if err != nil {
		t.Fatalf("创建内存数据库失败: %v", err)
	}
	if err := db.Migrate(gdb, &model.Setting{}); err != nil {
		t.Fatalf("迁移数据库失败: %v", err)
	}
	store := state.NewStore(repo.NewSettingsRepo(gdb), logger.Nop())

	nav := tracker.New(time.Minute, logger.NewNop())
	t.Cleanup(nav.Stop)

	return New(nil, store, nav, nil, Options{}, logger.NewNop()), store
}

// sinkRecorder 收集送达控制器桥的动作。
type sinkRecorder struct {
	mu   sync.Mutex
	evts []*domain.TrackedEvent
}

func (s *sinkRecorder) sink(evt *domain.TrackedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evts = append(s.evts, evt)
}

func (s *sinkRecorder) types() []domain.ActionType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ActionType, 0, len(s.evts))
	for _, e := range s.evts {
		out = append(out, e.BrowserAction.Type)
	}
	return out
}

// TestIsDescendantTarget 测试谱系判定的自反性、传递性与否定情形。
func TestIsDescendantTarget(t *testing.T) {
	r, store := newTestRelay(t)
	ctx := context.Background()
	store.SetOriginalTarget(ctx, "ROOT")

	// ROOT 开启 CHILD，CHILD 开启 GRANDCHILD，OTHER 无关
	r.handleTargetCreated("CHILD", "ROOT", "https://a.example")
	r.handleTargetCreated("GRANDCHILD", "CHILD", "https://b.example")
	r.handleTargetCreated("OTHER", "", "https://c.example")

	tests := []struct {
		name string
		id   domain.TargetID
		want bool
	}{
		{"自反", "ROOT", true},
		{"直接子目标", "CHILD", true},
		{"传递后代", "GRANDCHILD", true},
		{"无开启者的无关目标", "OTHER", false},
		{"谱系缺失的未知目标", "UNKNOWN", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.IsDescendantTarget(tt.id); got != tt.want {
				t.Errorf("IsDescendantTarget(%s) = %v，预期 %v", tt.id, got, tt.want)
			}
		})
	}
}

// TestIsDescendantTarget_ExactFallback 测试谱系丢失时退化为精确相等。
func TestIsDescendantTarget_ExactFallback(t *testing.T) {
	r, store := newTestRelay(t)
	store.SetOriginalTarget(context.Background(), "ROOT")

	// 谱系为空（模拟进程重启后森林丢失）
	if !r.IsDescendantTarget("ROOT") {
		t.Error("预期与原始目标相等时判定为真")
	}
	if r.IsDescendantTarget("CHILD") {
		t.Error("预期谱系缺失时非原始目标判定为假")
	}
}

// TestIsDescendantTarget_NoOriginal 测试未设置原始目标时一律为假。
func TestIsDescendantTarget_NoOriginal(t *testing.T) {
	r, _ := newTestRelay(t)
	if r.IsDescendantTarget("ANY") {
		t.Error("预期无原始目标时判定为假")
	}
}

// TestForwardAction_DropWithoutSink 测试无控制器会话时静默丢弃。
func TestForwardAction_DropWithoutSink(t *testing.T) {
	r, _ := newTestRelay(t)

	evt := &domain.TrackedEvent{
		Target:        "T1",
		BrowserAction: domain.NewClick(1, 2),
	}
	r.ForwardAction(evt) // 不应崩溃

	rec := &sinkRecorder{}
	r.SetSink(rec.sink)
	r.ForwardAction(evt)
	if len(rec.types()) != 1 {
		t.Errorf("预期设置下游后转发 1 个动作，实际 %d", len(rec.types()))
	}
}

// TestFrameNavigated_SynthesizesActions 测试导航提交合成 navigate
// 与 pageReload，以及与持久化 URL 的联动。
func TestFrameNavigated_SynthesizesActions(t *testing.T) {
	r, store := newTestRelay(t)
	ctx := context.Background()
	store.SetTrackingEnabled(ctx, true)
	store.SetOriginalTarget(ctx, "T1")

	rec := &sinkRecorder{}
	r.SetSink(rec.sink)

	r.handleFrameNavigated("T1", "https://a.example")
	r.handleFrameNavigated("T1", "https://b.example")
	r.handleFrameNavigated("T1", "https://b.example") // 同 URL 视为刷新

	got := rec.types()
	want := []domain.ActionType{domain.ActionNavigate, domain.ActionNavigate, domain.ActionPageReload}
	if len(got) != len(want) {
		t.Fatalf("预期 %d 个动作，实际 %d 个", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("位置 %d 预期 %s，实际 %s", i, want[i], got[i])
		}
	}
}

// TestFrameNavigated_FirstCommitIsNavigate 测试创建时的初始 URL
// 不影响首次导航分类：新建标签页的第一次提交是 navigate。
func TestFrameNavigated_FirstCommitIsNavigate(t *testing.T) {
	r, store := newTestRelay(t)
	ctx := context.Background()
	store.SetTrackingEnabled(ctx, true)
	store.SetOriginalTarget(ctx, "T1")

	rec := &sinkRecorder{}
	r.SetSink(rec.sink)

	// 目标以同一地址创建后首次提交
	r.handleTargetCreated("T1", "", "https://www.google.com")
	r.handleFrameNavigated("T1", "https://www.google.com")
	r.handleFrameNavigated("T1", "https://www.google.com") // 第二次才是刷新

	got := rec.types()
	want := []domain.ActionType{domain.ActionNavigate, domain.ActionPageReload}
	if len(got) != len(want) {
		t.Fatalf("预期 %d 个动作，实际 %d 个", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("位置 %d 预期 %s，实际 %s", i, want[i], got[i])
		}
	}
}

// TestFrameNavigated_IgnoresUntracked 测试非被追踪目标的导航不合成动作。
func TestFrameNavigated_IgnoresUntracked(t *testing.T) {
	r, store := newTestRelay(t)
	ctx := context.Background()
	store.SetTrackingEnabled(ctx, true)
	store.SetOriginalTarget(ctx, "T1")

	rec := &sinkRecorder{}
	r.SetSink(rec.sink)

	r.handleFrameNavigated("STRANGER", "https://a.example")
	if len(rec.types()) != 0 {
		t.Error("预期无关目标的导航被忽略")
	}
}

// TestLoadFired_NotifiesOncePerNavigation 测试完成通知按导航去重。
func TestLoadFired_NotifiesOncePerNavigation(t *testing.T) {
	r, store := newTestRelay(t)
	ctx := context.Background()
	store.SetTrackingEnabled(ctx, true)
	store.SetOriginalTarget(ctx, "T1")
	r.SetSink(func(*domain.TrackedEvent) {})

	var mu sync.Mutex
	var notified []domain.TargetID
	r.SetNavigationListener(func(id domain.TargetID) {
		mu.Lock()
		notified = append(notified, id)
		mu.Unlock()
	})

	r.handleFrameNavigated("T1", "https://a.example")
	r.handleLoadFired("T1")
	r.handleLoadFired("T1") // 重复完成事件

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 1 {
		t.Errorf("预期通知 1 次，实际 %d 次", len(notified))
	}

	// 没有在途导航时的加载完成不通知
	r.handleLoadFired("T2")
	if len(notified) != 1 {
		t.Error("预期无在途导航时不通知")
	}
}

// TestTargetDestroyed_OriginalStopsTracking 测试原始目标关闭触发停止追踪。
func TestTargetDestroyed_OriginalStopsTracking(t *testing.T) {
	r, store := newTestRelay(t)
	ctx := context.Background()
	store.SetTrackingEnabled(ctx, true)
	store.SetOriginalTarget(ctx, "T1")

	r.handleTargetDestroyed("T1")

	if store.TrackingEnabled() {
		t.Error("预期追踪已停止")
	}
	if store.OriginalTarget() != "" {
		t.Error("预期原始目标已清除")
	}
}

// TestTargetDestroyed_PrunesForest 测试目标销毁剪除谱系条目。
func TestTargetDestroyed_PrunesForest(t *testing.T) {
	r, store := newTestRelay(t)
	ctx := context.Background()
	store.SetOriginalTarget(ctx, "ROOT")

	r.handleTargetCreated("CHILD", "ROOT", "")
	r.handleTargetCreated("GRANDCHILD", "CHILD", "")
	if !r.IsDescendantTarget("GRANDCHILD") {
		t.Fatal("预期销毁前为后代")
	}

	r.handleTargetDestroyed("CHILD")
	if r.IsDescendantTarget("GRANDCHILD") {
		t.Error("预期中间目标销毁后链路断开")
	}
}
