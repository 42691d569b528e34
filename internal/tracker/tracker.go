package tracker

import (
	"sync"
	"time"

	"cdptrack/internal/logger"
	"cdptrack/pkg/domain"
)

// Nav 一次进行中的导航
type Nav struct {
	URL  string            // 提交时的主框架 URL
	Kind domain.ActionType // navigate 或 pageReload
}

// entry 在途导航条目
type entry struct {
	target    domain.TargetID
	startTime time.Time
	nav       Nav
}

// Tracker 在途导航追踪器
// 每个目标同一时刻最多一条在途导航；加载完成事件按条目消费，
// 因此同一次导航只会产生一次完成通知。超时条目由后台协程清理。
type Tracker struct {
	pool    sync.Map
	timeout time.Duration
	log     logger.Logger
	done    chan struct{}
}

// New 创建导航追踪器
func New(timeout time.Duration, l logger.Logger) *Tracker {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if l == nil {
		l = logger.NewNop()
	}
	t := &Tracker{
		timeout: timeout,
		log:     l,
		done:    make(chan struct{}),
	}
	go t.cleanupLoop()
	return t
}

// Begin 记录目标的一次导航提交，覆盖同目标的旧条目
func (t *Tracker) Begin(target domain.TargetID, nav Nav) {
	t.pool.Store(target, &entry{
		target:    target,
		startTime: time.Now(),
		nav:       nav,
	})
}

// Complete 消费目标的在途导航
// 返回 false 表示没有在途导航（重复的完成事件或非导航加载）。
func (t *Tracker) Complete(target domain.TargetID) (Nav, bool) {
	val, ok := t.pool.LoadAndDelete(target)
	if !ok {
		return Nav{}, false
	}
	return val.(*entry).nav, true
}

// Abort 放弃目标的在途导航（目标被销毁时调用）
func (t *Tracker) Abort(target domain.TargetID) {
	t.pool.Delete(target)
}

// Stop 停止追踪器，释放资源
func (t *Tracker) Stop() {
	select {
	case <-t.done:
		return
	default:
		close(t.done)
	}
}

// cleanupLoop 定期清理超时在途导航的后台协程
func (t *Tracker) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			now := time.Now()
			t.pool.Range(func(key, value any) bool {
				e := value.(*entry)
				if now.Sub(e.startTime) > t.timeout {
					t.pool.Delete(key)
					t.log.Debug("清理超时在途导航", "target", e.target, "url", e.nav.URL)
				}
				return true
			})
		}
	}
}
