package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cdptrack/internal/logger"
	"cdptrack/internal/manager"
	"cdptrack/internal/state"
	"cdptrack/internal/storage/repo"
	"cdptrack/internal/tracker"
	"cdptrack/pkg/domain"

	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/target"
)

// Sink 动作下游（控制器桥）
type Sink func(evt *domain.TrackedEvent)

// NavigationListener 导航完成通知（送达对应目标的页面代理）
type NavigationListener func(target domain.TargetID)

// TargetListener 页面目标出现 / 消失通知
type TargetListener func(target domain.TargetID)

// Options Relay 行为参数
type Options struct {
	ScreenshotQuality int // JPEG 质量
}

// Relay 特权中继
// 唯一掌握目标谱系与被追踪原始目标的组件：维护谱系森林、
// 合成特权侧导航动作、执行受保护的截图与窗口管理，并把动作
// 无条件转发给控制器桥。
type Relay struct {
	log     logger.Logger
	mgr     *manager.Manager
	store   *state.Store
	nav     *tracker.Tracker
	traj    *repo.TrajectoryRepo
	quality int

	mu      sync.Mutex
	opener  map[domain.TargetID]domain.TargetID
	lastURL map[domain.TargetID]string

	sinkMu      sync.RWMutex
	sink        Sink
	navLis      NavigationListener
	onCreated   TargetListener
	onDestroyed TargetListener
}

// New 创建中继
func New(mgr *manager.Manager, store *state.Store, nav *tracker.Tracker,
	traj *repo.TrajectoryRepo, opts Options, log logger.Logger) *Relay {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.ScreenshotQuality <= 0 || opts.ScreenshotQuality > 100 {
		opts.ScreenshotQuality = 80
	}
	return &Relay{
		log:     log.With("module", "relay"),
		mgr:     mgr,
		store:   store,
		nav:     nav,
		traj:    traj,
		quality: opts.ScreenshotQuality,
		opener:  make(map[domain.TargetID]domain.TargetID),
		lastURL: make(map[domain.TargetID]string),
	}
}

// SetSink 设置动作下游
func (r *Relay) SetSink(s Sink) {
	r.sinkMu.Lock()
	r.sink = s
	r.sinkMu.Unlock()
}

// SetNavigationListener 设置导航完成监听
func (r *Relay) SetNavigationListener(l NavigationListener) {
	r.sinkMu.Lock()
	r.navLis = l
	r.sinkMu.Unlock()
}

// SetTargetListeners 设置目标出现 / 消失监听
func (r *Relay) SetTargetListeners(created, destroyed TargetListener) {
	r.sinkMu.Lock()
	r.onCreated = created
	r.onDestroyed = destroyed
	r.sinkMu.Unlock()
}

// Start 建立浏览器级会话并开始目标发现
func (r *Relay) Start(ctx context.Context) error {
	session, err := r.mgr.AttachBrowser(ctx)
	if err != nil {
		return err
	}
	c := session.Client

	created, err := c.Target.TargetCreated(session.Ctx)
	if err != nil {
		return err
	}
	destroyed, err := c.Target.TargetDestroyed(session.Ctx)
	if err != nil {
		created.Close()
		return err
	}
	if err := c.Target.SetDiscoverTargets(ctx, target.NewSetDiscoverTargetsArgs(true)); err != nil {
		created.Close()
		destroyed.Close()
		return err
	}

	go func() {
		defer created.Close()
		for {
			ev, err := created.Recv()
			if err != nil {
				r.log.Debug("目标创建流结束", "error", err)
				return
			}
			if ev.TargetInfo.Type != "page" {
				continue
			}
			var opener domain.TargetID
			if ev.TargetInfo.OpenerID != nil {
				opener = domain.TargetID(*ev.TargetInfo.OpenerID)
			}
			r.handleTargetCreated(domain.TargetID(ev.TargetInfo.TargetID), opener, ev.TargetInfo.URL)
		}
	}()
	go func() {
		defer destroyed.Close()
		for {
			ev, err := destroyed.Recv()
			if err != nil {
				r.log.Debug("目标销毁流结束", "error", err)
				return
			}
			r.handleTargetDestroyed(domain.TargetID(ev.TargetID))
		}
	}()

	r.log.Info("中继已启动")
	return nil
}

// handleTargetCreated 维护谱系森林
// 创建时的初始 URL 不计入导航历史：首次主框架提交必须
// 判为 navigate，与创建地址是否相同无关。
func (r *Relay) handleTargetCreated(id, opener domain.TargetID, url string) {
	r.mu.Lock()
	r.opener[id] = opener
	r.mu.Unlock()
	r.log.Debug("目标创建", "target", string(id), "opener", string(opener), "url", url)

	r.sinkMu.RLock()
	lis := r.onCreated
	r.sinkMu.RUnlock()
	if lis != nil {
		lis(id)
	}
}

// handleTargetDestroyed 剪除谱系条目；被追踪原始目标消失时停止追踪
func (r *Relay) handleTargetDestroyed(id domain.TargetID) {
	r.mu.Lock()
	delete(r.opener, id)
	delete(r.lastURL, id)
	r.mu.Unlock()
	r.nav.Abort(id)

	r.sinkMu.RLock()
	lis := r.onDestroyed
	r.sinkMu.RUnlock()
	if lis != nil {
		lis(id)
	}

	if r.store.OriginalTarget() == id {
		r.log.Info("被追踪目标已关闭，停止追踪", "target", string(id))
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := r.store.ClearOriginalTarget(ctx); err != nil {
			r.log.Err(err, "清除原始目标失败")
		}
		if err := r.store.SetTrackingEnabled(ctx, false); err != nil {
			r.log.Err(err, "关闭追踪开关失败")
		}
	}
}

// IsDescendantTarget 判断目标是否为被追踪原始目标或其后代
// 谱系缺失时退化为与原始目标的精确相等比较。
func (r *Relay) IsDescendantTarget(id domain.TargetID) bool {
	original := r.store.OriginalTarget()
	if original == "" {
		return false
	}
	if id == original {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[domain.TargetID]bool)
	for cur := id; cur != "" && !seen[cur]; {
		seen[cur] = true
		opener, ok := r.opener[cur]
		if !ok {
			return false
		}
		if opener == original {
			return true
		}
		cur = opener
	}
	return false
}

// CreateTrackingTab 在新窗口打开追踪标签页并记录为原始目标
// 创建失败不留下任何状态。
func (r *Relay) CreateTrackingTab(ctx context.Context, url string) (domain.TargetID, error) {
	session, err := r.mgr.AttachBrowser(ctx)
	if err != nil {
		return "", err
	}

	args := target.NewCreateTargetArgs(url).SetNewWindow(true)
	reply, err := session.Client.Target.CreateTarget(ctx, args)
	if err != nil {
		r.log.Err(err, "创建追踪标签页失败", "url", url)
		return "", fmt.Errorf("%w: %v", domain.ErrTargetCreateFailed, err)
	}

	id := domain.TargetID(reply.TargetID)
	if err := r.store.SetOriginalTarget(ctx, id); err != nil {
		return "", err
	}

	r.log.Info("追踪标签页已创建", "target", string(id), "url", url)
	return id, nil
}

// CloseTrackingTab 关闭被追踪原始目标并清除其记录
// 目标已不存在视为正常情况，记录仍被清除。
func (r *Relay) CloseTrackingTab(ctx context.Context) error {
	original := r.store.OriginalTarget()
	if original == "" {
		return domain.ErrNoTrackedTarget
	}

	session, err := r.mgr.AttachBrowser(ctx)
	if err != nil {
		return err
	}
	if _, err := session.Client.Target.CloseTarget(ctx,
		target.NewCloseTargetArgs(target.ID(original))); err != nil {
		r.log.Warn("关闭追踪标签页失败", "target", string(original), "error", err)
	}
	return r.store.ClearOriginalTarget(ctx)
}

// CaptureScreenshot 受保护的截图调用
// 仅服务于被追踪原始目标及其后代；失败以错误结果返回。
func (r *Relay) CaptureScreenshot(ctx context.Context, id domain.TargetID) (*domain.BrowserImage, error) {
	if !r.store.TrackingEnabled() {
		return nil, domain.ErrTrackingInactive
	}
	if !r.IsDescendantTarget(id) {
		return nil, domain.ErrTargetNotTracked
	}
	session, ok := r.mgr.GetSession(id)
	if !ok {
		return nil, domain.ErrTargetNotFound
	}

	c := session.Client
	var rect domain.Rect
	if metrics, err := c.Page.GetLayoutMetrics(ctx); err == nil {
		vp := metrics.CSSVisualViewport
		rect = domain.Rect{
			X:      vp.PageX,
			Y:      vp.PageY,
			Width:  vp.ClientWidth,
			Height: vp.ClientHeight,
		}
	}

	args := page.NewCaptureScreenshotArgs().SetFormat("jpeg").SetQuality(r.quality)
	reply, err := c.Page.CaptureScreenshot(ctx, args)
	if err != nil {
		r.log.Warn("截图失败", "target", string(id), "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrCaptureFailed, err)
	}

	return &domain.BrowserImage{
		Timestamp: time.Now().UnixMilli(),
		Rect:      rect,
		Image:     reply.Data,
	}, nil
}

// ForwardAction 把动作转发给控制器桥
// 没有控制器会话时静默丢弃，不缓冲不重试。
func (r *Relay) ForwardAction(evt *domain.TrackedEvent) {
	if evt == nil {
		return
	}
	r.sinkMu.RLock()
	sink := r.sink
	r.sinkMu.RUnlock()

	if sink == nil {
		r.log.Debug("无控制器会话，丢弃动作", "type", string(evt.BrowserAction.Type))
		return
	}
	sink(evt)

	if r.traj != nil {
		r.traj.Record(string(r.store.SessionID()), evt)
	}
}

// WatchNavigation 订阅目标会话的导航事件
// 主框架提交时合成 navigate / pageReload 动作；加载完成时
// 恰好通知页面代理一次（由在途导航条目去重）。
func (r *Relay) WatchNavigation(session *manager.Session) error {
	c := session.Client

	navigated, err := c.Page.FrameNavigated(session.Ctx)
	if err != nil {
		return err
	}
	loaded, err := c.Page.LoadEventFired(session.Ctx)
	if err != nil {
		navigated.Close()
		return err
	}

	go func() {
		defer navigated.Close()
		for {
			ev, err := navigated.Recv()
			if err != nil {
				r.log.Debug("导航事件流结束", "error", err)
				return
			}
			if ev.Frame.ParentID != nil && *ev.Frame.ParentID != "" {
				continue
			}
			r.handleFrameNavigated(session.ID, ev.Frame.URL)
		}
	}()
	go func() {
		defer loaded.Close()
		for {
			_, err := loaded.Recv()
			if err != nil {
				r.log.Debug("加载完成流结束", "error", err)
				return
			}
			r.handleLoadFired(session.ID)
		}
	}()
	return nil
}

// handleFrameNavigated 主框架导航提交
func (r *Relay) handleFrameNavigated(id domain.TargetID, url string) {
	if !r.store.TrackingEnabled() || !r.IsDescendantTarget(id) {
		return
	}

	r.mu.Lock()
	prev := r.lastURL[id]
	r.lastURL[id] = url
	r.mu.Unlock()

	kind := domain.ActionNavigate
	action := domain.NewNavigate(url)
	if url == prev {
		kind = domain.ActionPageReload
		action = domain.NewPageReload()
	}
	r.nav.Begin(id, tracker.Nav{URL: url, Kind: kind})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.store.PatchSessionURL(ctx, url); err != nil {
		r.log.Err(err, "更新会话状态 URL 失败")
	}

	r.ForwardAction(&domain.TrackedEvent{
		Target:        id,
		Timestamp:     time.Now().UnixMilli(),
		BrowserAction: action,
	})
	r.log.Debug("导航提交", "target", string(id), "url", url, "kind", string(kind))
}

// handleLoadFired 主框架加载完成
func (r *Relay) handleLoadFired(id domain.TargetID) {
	if _, ok := r.nav.Complete(id); !ok {
		return
	}
	r.sinkMu.RLock()
	lis := r.navLis
	r.sinkMu.RUnlock()
	if lis != nil {
		lis(id)
	}
}
