package debounce_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cdptrack/internal/debounce"
)

// TestDebouncer_CollapsesBurst 测试静默期内的连续触发只执行最后一次。
func TestDebouncer_CollapsesBurst(t *testing.T) {
	d := debounce.New(50 * time.Millisecond)

	var calls atomic.Int32
	var last atomic.Int32
	for i := 1; i <= 5; i++ {
		n := int32(i)
		d.Trigger(func() {
			calls.Add(1)
			last.Store(n)
		})
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(200 * time.Millisecond)

	if got := calls.Load(); got != 1 {
		t.Errorf("预期只执行 1 次，实际 %d 次", got)
	}
	if got := last.Load(); got != 5 {
		t.Errorf("预期执行最后一次触发，实际为第 %d 次", got)
	}
}

// TestDebouncer_SeparateQuietPeriods 测试静默期之间的触发各自执行。
func TestDebouncer_SeparateQuietPeriods(t *testing.T) {
	d := debounce.New(20 * time.Millisecond)

	var calls atomic.Int32
	d.Trigger(func() { calls.Add(1) })
	time.Sleep(100 * time.Millisecond)
	d.Trigger(func() { calls.Add(1) })
	time.Sleep(100 * time.Millisecond)

	if got := calls.Load(); got != 2 {
		t.Errorf("预期执行 2 次，实际 %d 次", got)
	}
}

// TestGuard_SkipsReentrant 测试执行期间的再次触发被丢弃而不是排队。
func TestGuard_SkipsReentrant(t *testing.T) {
	var g debounce.Guard

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.Do(func() {
			close(started)
			<-release
		})
	}()

	<-started
	if g.Do(func() {}) {
		t.Error("预期执行期间的触发被跳过")
	}
	close(release)
	wg.Wait()

	if !g.Do(func() {}) {
		t.Error("预期执行结束后可以再次执行")
	}
}
