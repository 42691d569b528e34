package agent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"cdptrack/internal/adapter/cdp"
	"cdptrack/internal/debounce"
	"cdptrack/internal/dom"
	"cdptrack/internal/logger"
	"cdptrack/internal/manager"
	"cdptrack/internal/state"
	"cdptrack/pkg/domain"

	"github.com/mafredri/cdp/protocol/domsnapshot"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/tidwall/gjson"
)

// Forwarder 动作转发端
type Forwarder interface {
	ForwardAction(evt *domain.TrackedEvent)
}

// ScreenshotFunc 受保护的截图调用
type ScreenshotFunc func(ctx context.Context, target domain.TargetID) (*domain.BrowserImage, error)

// Options Agent 行为参数
type Options struct {
	ScreenshotDebounce time.Duration // 截图静默期
	HighlightThrottle  time.Duration // 高亮节流窗口
	ActionBuffer       int           // 动作发送队列长度
}

// Agent 被追踪标签页的页面代理
// 消费注入脚本回传的原始事件，构建动作与元素快照，
// 维护该标签页独占的 BrowserState 并向转发端送出动作。
type Agent struct {
	target  domain.TargetID
	session *manager.Session
	log     logger.Logger
	store   *state.Store
	forward Forwarder
	shoot   ScreenshotFunc

	mu        sync.Mutex
	bs        *domain.BrowserState
	listening bool

	actionCh  chan *domain.TrackedEvent
	shotDeb   *debounce.Debouncer
	shotGuard debounce.Guard
	hlDeb     *debounce.Debouncer

	// refresh 内容刷新入口，测试可替换
	refresh func()

	done     chan struct{}
	stopOnce sync.Once
}

// New 创建页面代理
func New(target domain.TargetID, session *manager.Session, store *state.Store,
	forward Forwarder, shoot ScreenshotFunc, opts Options, log logger.Logger) *Agent {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.ScreenshotDebounce <= 0 {
		opts.ScreenshotDebounce = 250 * time.Millisecond
	}
	if opts.HighlightThrottle <= 0 {
		opts.HighlightThrottle = 5 * time.Millisecond
	}
	if opts.ActionBuffer <= 0 {
		opts.ActionBuffer = 256
	}
	a := &Agent{
		target:   target,
		session:  session,
		log:      log.With("module", "agent", "target", string(target)),
		store:    store,
		forward:  forward,
		shoot:    shoot,
		bs:       &domain.BrowserState{StartedAt: time.Now().UnixMilli()},
		actionCh: make(chan *domain.TrackedEvent, opts.ActionBuffer),
		shotDeb:  debounce.New(opts.ScreenshotDebounce),
		hlDeb:    debounce.New(opts.HighlightThrottle),
		done:     make(chan struct{}),
	}
	a.refresh = func() { a.contentUpdated(a.session.Ctx) }
	return a
}

// Start 初始化会话：注入采集脚本、订阅回传绑定并开启监听
func (a *Agent) Start(ctx context.Context) error {
	c := a.session.Client
	if err := c.Page.Enable(ctx); err != nil {
		return err
	}
	if err := c.Runtime.Enable(ctx); err != nil {
		return err
	}
	if err := c.Runtime.AddBinding(ctx, runtime.NewAddBindingArgs(bindingName)); err != nil {
		return err
	}
	// 后续文档自动注入，当前文档立即注入
	if _, err := c.Page.AddScriptToEvaluateOnNewDocument(ctx,
		page.NewAddScriptToEvaluateOnNewDocumentArgs(captureScript)); err != nil {
		return err
	}
	if _, err := c.Runtime.Evaluate(ctx, runtime.NewEvaluateArgs(captureScript)); err != nil {
		return err
	}

	bc, err := c.Runtime.BindingCalled(ctx)
	if err != nil {
		return err
	}
	go func() {
		defer bc.Close()
		for {
			ev, err := bc.Recv()
			if err != nil {
				a.log.Debug("回传绑定流结束", "error", err)
				return
			}
			if ev.Name != bindingName {
				continue
			}
			a.handleAction(ev.Payload)
		}
	}()
	go a.sendLoop()

	a.log.Info("页面代理已启动")
	return a.AddEventListeners(ctx)
}

// AddEventListeners 开启页面事件监听（幂等）
func (a *Agent) AddEventListeners(ctx context.Context) error {
	a.mu.Lock()
	a.listening = true
	a.mu.Unlock()
	_, err := a.session.Client.Runtime.Evaluate(ctx,
		runtime.NewEvaluateArgs("window.__cdptrackSetListening && window.__cdptrackSetListening(true)"))
	return err
}

// RemoveEventListeners 关闭页面事件监听（幂等）
func (a *Agent) RemoveEventListeners(ctx context.Context) error {
	a.mu.Lock()
	a.listening = false
	a.mu.Unlock()
	_, err := a.session.Client.Runtime.Evaluate(ctx,
		runtime.NewEvaluateArgs("window.__cdptrackSetListening && window.__cdptrackSetListening(false)"))
	return err
}

// RemoveHighlight 移除悬停高亮覆盖层
func (a *Agent) RemoveHighlight(ctx context.Context) {
	a.hlDeb.Trigger(func() {
		_, err := a.session.Client.Runtime.Evaluate(ctx,
			runtime.NewEvaluateArgs("window.__cdptrackRemoveHighlight && window.__cdptrackRemoveHighlight()"))
		if err != nil {
			a.log.Debug("移除高亮失败", "error", err)
		}
	})
}

// Refresh 主动触发一次内容刷新
func (a *Agent) Refresh() {
	go a.refresh()
}

// NavigationCompleted 导航完成通知，触发一次内容刷新
func (a *Agent) NavigationCompleted() {
	a.Refresh()
}

// Stop 停止代理并释放资源
func (a *Agent) Stop(ctx context.Context) {
	a.stopOnce.Do(func() {
		if err := a.RemoveEventListeners(ctx); err != nil {
			a.log.Debug("关闭监听失败", "error", err)
		}
		a.RemoveHighlight(ctx)
		close(a.done)
		a.log.Info("页面代理已停止")
	})
}

// State 返回当前状态副本
func (a *Agent) State() domain.BrowserState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *a.bs
}

// needsRefresh 判断事件类别是否触发完整内容刷新
// 悬停、滚动、缩放、滚轮属于装饰性事件，不刷新。
func needsRefresh(kind string) bool {
	switch kind {
	case "click", "checkboxesAndRadios", "selectOptions",
		"keyDown", "keyUp", "popstate", "restore":
		return true
	}
	return false
}

// handleAction 处理注入脚本回传的一次原始事件
// 非装饰性事件先发起内容刷新，再构建动作送出；
// 刷新异步执行，不阻塞后续事件。
func (a *Agent) handleAction(payload string) {
	p := gjson.Parse(payload)
	kind := p.Get("kind").String()
	if kind == "" {
		return
	}

	elem := parseElement(p.Get("element"))

	if needsRefresh(kind) {
		go a.refresh()
	}

	var action *domain.BrowserAction
	switch kind {
	case "click":
		ba := domain.NewClick(p.Get("x").Float(), p.Get("y").Float())
		action = &ba
	case "checkboxesAndRadios":
		ba := domain.NewCheckboxesAndRadios(p.Get("inputType").String(), p.Get("checked").Bool())
		action = &ba
	case "selectOptions":
		var opts []string
		for _, o := range p.Get("selectedOptions").Array() {
			opts = append(opts, o.String())
		}
		ba := domain.NewSelectOptions(opts)
		action = &ba
	case "keyDown":
		ba := domain.NewKeyDown(p.Get("key").String())
		action = &ba
	case "keyUp":
		ba := domain.NewKeyUp(p.Get("key").String())
		action = &ba
	case "resize":
		ba := domain.NewResize(p.Get("width").Float(), p.Get("height").Float())
		action = &ba
	case "wheel":
		ba := domain.NewWheel(p.Get("x").Float(), p.Get("y").Float(),
			p.Get("deltaX").Float(), p.Get("deltaY").Float())
		action = &ba
	case "pointerMove":
		ba := domain.NewPointerMove(p.Get("x").Float(), p.Get("y").Float())
		action = &ba
	case "scroll":
		// 滚动只更新状态并触发截图，不产生动作
		a.shotDeb.Trigger(a.captureScreenshot)
	case "popstate", "restore":
		// 导航动作由特权侧合成，这里只做页面内刷新
	default:
		a.log.Debug("未知事件类别", "kind", kind)
		return
	}

	a.changeState(func(bs *domain.BrowserState) {
		if url := p.Get("url").String(); url != "" {
			bs.URL = url
		}
		if vp := p.Get("viewport"); vp.Exists() {
			bs.Viewport = &domain.Size{
				Width:  vp.Get("width").Float(),
				Height: vp.Get("height").Float(),
			}
		}
		if ss := p.Get("scrollSize"); ss.Exists() {
			bs.ScrollSize = &domain.Size{
				Width:  ss.Get("width").Float(),
				Height: ss.Get("height").Float(),
			}
		}
		if kind == "click" {
			bs.Clicks++
		}
		switch kind {
		case "click", "checkboxesAndRadios", "keyDown", "keyUp", "pointerMove":
			if elem != nil {
				bs.HoveredElement = elem
			}
		}
	})

	if action != nil {
		a.sendAction(*action, elem, p.Get("timestamp").Int())
	}
}

// sendAction 将动作放入发送队列（不阻塞事件处理）
func (a *Agent) sendAction(action domain.BrowserAction, elem *domain.ElementInfo, ts int64) {
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	st := a.State()
	evt := &domain.TrackedEvent{
		Target:        a.target,
		Timestamp:     ts,
		BrowserAction: action,
		RawEvent:      elem,
		BrowserState:  &st,
	}
	select {
	case a.actionCh <- evt:
	default:
		a.log.Warn("动作队列已满，丢弃", "type", string(action.Type))
	}
}

// sendLoop 顺序送出队列中的动作，保持事件触发顺序
func (a *Agent) sendLoop() {
	for {
		select {
		case <-a.done:
			return
		case evt := <-a.actionCh:
			a.forward.ForwardAction(evt)
		}
	}
}

// changeState 应用一次状态变更并异步持久化
func (a *Agent) changeState(fn func(*domain.BrowserState)) {
	a.mu.Lock()
	fn(a.bs)
	a.bs.Time = time.Now().UnixMilli()
	snapshot := *a.bs
	a.mu.Unlock()
	a.store.SaveBrowserState(&snapshot)
}

// contentUpdated 内容刷新：抓取整页 HTML 与可见元素矩形，
// 触发防抖截图，并作为一次变更提交到状态。
func (a *Agent) contentUpdated(ctx context.Context) {
	c := a.session.Client

	var html string
	if reply, err := c.Runtime.Evaluate(ctx,
		runtime.NewEvaluateArgs("document.documentElement.outerHTML")); err == nil && reply.Result.Value != nil {
		if err := json.Unmarshal(reply.Result.Value, &html); err != nil {
			a.log.Debug("解析页面 HTML 失败", "error", err)
		}
	} else if err != nil {
		a.log.Debug("抓取页面 HTML 失败", "error", err)
	}

	var boxes []domain.ElementInfo
	if reply, err := c.DOMSnapshot.CaptureSnapshot(ctx,
		domsnapshot.NewCaptureSnapshotArgs([]string{})); err == nil {
		if snap, convErr := cdp.FromCapture(reply); convErr == nil {
			boxes = dom.CaptureBoundingBoxes(snap.Root, snap.ScrollX, snap.ScrollY)
		} else {
			a.log.Debug("解析页面快照失败", "error", convErr)
		}
	} else {
		a.log.Debug("抓取页面快照失败", "error", err)
	}

	a.shotDeb.Trigger(a.captureScreenshot)

	a.changeState(func(bs *domain.BrowserState) {
		if html != "" {
			bs.DOM = html
		}
		bs.ElementBoundingBoxes = boxes
	})
}

// captureScreenshot 通过受保护的截图调用刷新状态中的截图
// 单飞守卫：已有截图在途时跳过本次请求，不排队。
func (a *Agent) captureScreenshot() {
	a.shotGuard.Do(func() {
		ctx, cancel := context.WithTimeout(a.session.Ctx, 10*time.Second)
		defer cancel()
		img, err := a.shoot(ctx, a.target)
		if err != nil {
			a.log.Debug("截图失败", "error", err)
			return
		}
		a.changeState(func(bs *domain.BrowserState) {
			bs.Image = img
		})
	})
}

// parseElement 解析注入脚本回传的元素快照
func parseElement(res gjson.Result) *domain.ElementInfo {
	if !res.Exists() {
		return nil
	}
	info := &domain.ElementInfo{
		TagName:        res.Get("tagName").String(),
		Text:           res.Get("text").String(),
		IsInteractable: res.Get("isInteractable").Bool(),
		InputType:      res.Get("inputType").String(),
		Alt:            res.Get("alt").String(),
		ClassName:      res.Get("className").String(),
		ElementID:      res.Get("elementId").String(),
		XPath:          res.Get("xpath").String(),
	}
	if bb := res.Get("boundingBox"); bb.Exists() {
		info.BoundingBox = &domain.Rect{
			X:      bb.Get("x").Float(),
			Y:      bb.Get("y").Float(),
			Width:  bb.Get("width").Float(),
			Height: bb.Get("height").Float(),
		}
	}
	if c := res.Get("isChecked"); c.Exists() {
		checked := c.Bool()
		info.IsChecked = &checked
	}
	if so := res.Get("selectedOptions"); so.Exists() {
		for _, o := range so.Array() {
			info.SelectedOptions = append(info.SelectedOptions, o.String())
		}
	}
	return info
}
