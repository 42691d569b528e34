package debounce

import (
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
)

// Debouncer 尾沿防抖：一段静默期后只执行最后一次触发
type Debouncer struct {
	fire func(func())
}

// New 创建静默期为 d 的防抖器
func New(d time.Duration) *Debouncer {
	return &Debouncer{fire: debounce.New(d)}
}

// Trigger 触发一次，静默期内的多次触发合并为最后一次
func (d *Debouncer) Trigger(fn func()) {
	d.fire(fn)
}

// Guard 单飞守卫：执行期间的再次触发被丢弃，不排队
type Guard struct {
	running atomic.Bool
}

// Do 执行 fn，若已有执行在进行则跳过并返回 false
func (g *Guard) Do(fn func()) bool {
	if !g.running.CompareAndSwap(false, true) {
		return false
	}
	defer g.running.Store(false)
	fn()
	return true
}
