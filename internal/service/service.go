package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cdptrack/internal/agent"
	"cdptrack/internal/bridge"
	"cdptrack/internal/browser"
	"cdptrack/internal/config"
	"cdptrack/internal/logger"
	"cdptrack/internal/manager"
	"cdptrack/internal/relay"
	"cdptrack/internal/state"
	"cdptrack/internal/storage/db"
	"cdptrack/internal/storage/model"
	"cdptrack/internal/storage/repo"
	"cdptrack/internal/tracker"
	"cdptrack/pkg/domain"

	"github.com/mafredri/cdp/protocol/runtime"
)

// ErrNotStarted 服务尚未启动
var ErrNotStarted = errors.New("cdptrack: service not started")

type svc struct {
	cfg *config.Config
	log logger.Logger

	settings *repo.SettingsRepo
	traj     *repo.TrajectoryRepo
	store    *state.Store
	nav      *tracker.Tracker

	mu      sync.Mutex
	started bool
	mgr     *manager.Manager
	rel     *relay.Relay
	brg     *bridge.Bridge
	chrome  *browser.Browser
	agents  map[domain.TargetID]*agent.Agent

	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建并返回服务层实例
// 打开数据库并恢复持久化状态，浏览器连接延迟到 Start。
func New(cfg *config.Config, l logger.Logger) (*svc, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if l == nil {
		l = logger.NewNop()
	}

	gdb, err := db.New(db.Options{
		Name:   cfg.Sqlite.Db,
		Prefix: cfg.Sqlite.Prefix,
		Logger: db.NewLogger(l),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDatabaseNotInitialized, err)
	}
	if err := db.Migrate(gdb, &model.Setting{}, &model.TrajectoryEventRecord{}); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDatabaseNotInitialized, err)
	}

	settings := repo.NewSettingsRepo(gdb)
	s := &svc{
		cfg:      cfg,
		log:      l,
		settings: settings,
		traj:     repo.NewTrajectoryRepo(gdb),
		store:    state.NewStore(settings, l),
		nav:      tracker.New(0, l),
		agents:   make(map[domain.TargetID]*agent.Agent),
	}
	return s, nil
}

// Start 启动服务：连接或拉起浏览器，建立中继与控制器桥，
// 开始目标发现；追踪开关在上次退出时为开则恢复页面代理。
func (s *svc) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	devtoolsURL := s.cfg.Browser.DevToolsURL
	if devtoolsURL == "" {
		chrome, err := browser.Start(s.ctx, browser.Options{
			ExecPath:            s.cfg.Browser.ExecPath,
			UserDataDir:         s.cfg.Browser.UserDataDir,
			RemoteDebuggingPort: s.cfg.Browser.RemoteDebuggingPort,
			Headless:            s.cfg.Browser.Headless,
			Args:                s.cfg.Browser.Args,
			Logger:              s.log,
		})
		if err != nil {
			s.cancel()
			return fmt.Errorf("%w: %v", domain.ErrBrowserStartFailed, err)
		}
		s.chrome = chrome
		devtoolsURL = chrome.DevToolsURL
	}
	if err := s.settings.SetDevToolsURL(s.ctx, devtoolsURL); err != nil {
		s.log.Warn("持久化 DevTools 地址失败", "error", err)
	}

	s.mgr = manager.New(devtoolsURL, s.log)
	s.rel = relay.New(s.mgr, s.store, s.nav, s.traj, relay.Options{
		ScreenshotQuality: s.cfg.Capture.ScreenshotQuality,
	}, s.log)
	s.brg = bridge.New(s.store, s.rel, bridge.Options{
		AllowedOrigins: s.cfg.Bridge.AllowedOrigins,
		StartURL:       s.cfg.Bridge.StartURL,
	}, s.log)

	s.rel.SetSink(s.brg.EmitPageEvent)
	s.rel.SetNavigationListener(s.onNavigationCompleted)
	s.rel.SetTargetListeners(s.onTargetCreated, s.onTargetDestroyed)
	s.store.Subscribe(s.onStateChanged)

	if err := s.rel.Start(s.ctx); err != nil {
		s.cancel()
		return err
	}
	s.started = true
	s.log.Info("服务已启动", "devtools", devtoolsURL)

	// 上次退出时追踪仍开着，恢复页面代理
	if s.store.TrackingEnabled() {
		if original := s.store.OriginalTarget(); original != "" {
			go s.ensureAgent(original)
		}
	}
	return nil
}

// Shutdown 停止服务并释放资源
func (s *svc) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	agents := s.agents
	s.agents = make(map[domain.TargetID]*agent.Agent)
	s.mu.Unlock()

	for _, ag := range agents {
		ag.Stop(ctx)
	}
	if err := s.mgr.DetachAll(); err != nil {
		s.log.Warn("断开目标连接失败", "error", err)
	}
	s.nav.Stop()
	s.traj.Stop()
	if s.chrome != nil {
		if err := s.chrome.Stop(3 * time.Second); err != nil {
			s.log.Warn("关闭浏览器进程失败", "error", err)
		}
	}
	s.cancel()
	s.log.Info("服务已停止")
	return nil
}

// BridgeHandler 返回控制端 WebSocket 接入端点
func (s *svc) BridgeHandler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.brg == nil {
		return http.NotFoundHandler()
	}
	return s.brg
}

// onStateChanged 追踪状态变更时同步页面代理的生死
func (s *svc) onStateChanged(c state.Change) {
	if !c.TrackingEnabled {
		go s.stopAllAgents()
		return
	}
	if c.OriginalTarget != "" {
		go s.ensureAgent(c.OriginalTarget)
	}
}

// onTargetCreated 被追踪目标打开的新页面也纳入追踪
func (s *svc) onTargetCreated(id domain.TargetID) {
	if !s.store.TrackingEnabled() || !s.rel.IsDescendantTarget(id) {
		return
	}
	go s.ensureAgent(id)
}

// onTargetDestroyed 页面目标关闭后回收其代理
func (s *svc) onTargetDestroyed(id domain.TargetID) {
	go s.stopAgent(id)
}

// onNavigationCompleted 导航完成送达对应页面代理
func (s *svc) onNavigationCompleted(id domain.TargetID) {
	s.mu.Lock()
	ag := s.agents[id]
	s.mu.Unlock()
	if ag != nil {
		ag.NavigationCompleted()
	}
}

// ensureAgent 确保指定目标有在运行的页面代理（幂等）
func (s *svc) ensureAgent(id domain.TargetID) {
	s.mu.Lock()
	if !s.started || s.agents[id] != nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	session, err := s.mgr.AttachTarget(ctx, id)
	if err != nil {
		s.log.Err(err, "附加被追踪目标失败", "target", string(id))
		return
	}
	ag := agent.New(id, session, s.store, s.rel, s.rel.CaptureScreenshot, agent.Options{
		ScreenshotDebounce: time.Duration(s.cfg.Capture.ScreenshotDebounceMS) * time.Millisecond,
		HighlightThrottle:  time.Duration(s.cfg.Capture.HighlightThrottleMS) * time.Millisecond,
	}, s.log)
	if err := ag.Start(ctx); err != nil {
		s.log.Err(err, "启动页面代理失败", "target", string(id))
		_ = s.mgr.Detach(id)
		return
	}
	if err := s.rel.WatchNavigation(session); err != nil {
		s.log.Warn("订阅导航事件失败", "target", string(id), "error", err)
	}

	s.mu.Lock()
	if s.agents[id] != nil || !s.started {
		s.mu.Unlock()
		ag.Stop(ctx)
		return
	}
	s.agents[id] = ag
	s.mu.Unlock()
	s.log.Info("页面代理就绪", "target", string(id))
}

// stopAgent 停掉单个页面代理并断开目标
func (s *svc) stopAgent(id domain.TargetID) {
	s.mu.Lock()
	ag := s.agents[id]
	delete(s.agents, id)
	s.mu.Unlock()
	if ag == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ag.Stop(ctx)
	_ = s.mgr.Detach(id)
}

// stopAllAgents 追踪关闭时回收所有页面代理
func (s *svc) stopAllAgents() {
	s.mu.Lock()
	agents := s.agents
	s.agents = make(map[domain.TargetID]*agent.Agent)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for id, ag := range agents {
		ag.Stop(ctx)
		_ = s.mgr.Detach(id)
	}
}

// StartTracking 开启追踪
func (s *svc) StartTracking(ctx context.Context) error {
	if !s.isStarted() {
		return ErrNotStarted
	}
	return s.store.SetTrackingEnabled(ctx, true)
}

// StopTracking 关闭追踪并收起追踪标签页
func (s *svc) StopTracking(ctx context.Context) error {
	if !s.isStarted() {
		return ErrNotStarted
	}
	if err := s.rel.CloseTrackingTab(ctx); err != nil && !errors.Is(err, domain.ErrNoTrackedTarget) {
		s.log.Warn("关闭追踪标签页失败", "error", err)
	}
	return s.store.SetTrackingEnabled(ctx, false)
}

// Status 返回当前追踪状态
func (s *svc) Status(ctx context.Context) domain.TrackingStatus {
	return s.store.Status()
}

// OpenTrackingTab 在新窗口打开追踪标签页并开启追踪
func (s *svc) OpenTrackingTab(ctx context.Context, url string) (domain.TargetID, error) {
	if !s.isStarted() {
		return "", ErrNotStarted
	}
	id, err := s.rel.CreateTrackingTab(ctx, url)
	if err != nil {
		return "", err
	}
	if err := s.store.SetTrackingEnabled(ctx, true); err != nil {
		return id, err
	}
	return id, nil
}

// CloseTrackingTab 关闭追踪标签页
func (s *svc) CloseTrackingTab(ctx context.Context) error {
	if !s.isStarted() {
		return ErrNotStarted
	}
	return s.rel.CloseTrackingTab(ctx)
}

// ListTargets 列出浏览器页面目标
func (s *svc) ListTargets(ctx context.Context) ([]domain.TargetInfo, error) {
	if !s.isStarted() {
		return nil, ErrNotStarted
	}
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.mgr.ListTargets(queryCtx)
}

// GetBrowserState 返回最近一次持久化的会话状态
func (s *svc) GetBrowserState(ctx context.Context) (*domain.BrowserState, error) {
	return s.store.LoadBrowserState(ctx), nil
}

// CaptureScreenshot 对被追踪标签页截图
func (s *svc) CaptureScreenshot(ctx context.Context) (*domain.BrowserImage, error) {
	if !s.isStarted() {
		return nil, ErrNotStarted
	}
	original := s.store.OriginalTarget()
	if original == "" {
		return nil, domain.ErrNoTrackedTarget
	}
	return s.rel.CaptureScreenshot(ctx, original)
}

// RunCode 在被追踪标签页执行脚本并返回结果
// 执行本身也是一次动作，转发给控制端并触发内容刷新。
func (s *svc) RunCode(ctx context.Context, code string) (string, error) {
	if !s.isStarted() {
		return "", ErrNotStarted
	}
	original := s.store.OriginalTarget()
	if original == "" {
		return "", domain.ErrNoTrackedTarget
	}
	session, ok := s.mgr.GetSession(original)
	if !ok {
		return "", domain.ErrTargetNotFound
	}

	reply, err := session.Client.Runtime.Evaluate(ctx,
		runtime.NewEvaluateArgs(code).SetReturnByValue(true))
	if err != nil {
		return "", err
	}
	var result string
	if reply.Result.Value != nil {
		result = string(reply.Result.Value)
	}

	s.rel.ForwardAction(&domain.TrackedEvent{
		Target:        original,
		Timestamp:     time.Now().UnixMilli(),
		BrowserAction: domain.NewRunCode(code),
	})
	s.mu.Lock()
	ag := s.agents[original]
	s.mu.Unlock()
	if ag != nil {
		ag.Refresh()
	}
	return result, nil
}

// Render 触发被追踪标签页的一次内容刷新
func (s *svc) Render(ctx context.Context) error {
	if !s.isStarted() {
		return ErrNotStarted
	}
	original := s.store.OriginalTarget()
	if original == "" {
		return domain.ErrNoTrackedTarget
	}
	s.mu.Lock()
	ag := s.agents[original]
	s.mu.Unlock()
	if ag == nil {
		return domain.ErrTargetNotFound
	}
	ag.Refresh()
	s.rel.ForwardAction(&domain.TrackedEvent{
		Target:        original,
		Timestamp:     time.Now().UnixMilli(),
		BrowserAction: domain.NewRender(),
	})
	return nil
}

// QueryTrajectory 查询轨迹事件历史
func (s *svc) QueryTrajectory(ctx context.Context, opts repo.QueryOptions) (*domain.TrajectoryPage, error) {
	records, total, err := s.traj.Query(opts)
	if err != nil {
		return nil, err
	}
	page := &domain.TrajectoryPage{
		Total:  total,
		Events: make([]domain.TrajectoryEvent, 0, len(records)),
	}
	for i := range records {
		page.Events = append(page.Events, domain.TrajectoryEvent{
			ID:            records[i].ID,
			SessionID:     domain.SessionID(records[i].SessionID),
			Target:        domain.TargetID(records[i].TargetID),
			ActionType:    domain.ActionType(records[i].ActionType),
			BrowserAction: []byte(records[i].ActionJSON),
			RawEvent:      []byte(records[i].RawJSON),
			Timestamp:     records[i].Timestamp,
		})
	}
	return page, nil
}

func (s *svc) isStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}
