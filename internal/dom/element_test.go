package dom_test

import (
	"strings"
	"testing"

	"cdptrack/internal/dom"
	"cdptrack/pkg/domain"
)

// TestDisplayText_Priority 测试显示文本的解析优先级。
func TestDisplayText_Priority(t *testing.T) {
	t.Run("aria-label优先", func(t *testing.T) {
		n := dom.NewElement("button")
		n.Attrs["aria-label"] = "关闭"
		n.Append(dom.NewText("X"))
		if got := dom.DisplayText(n); got != "关闭" {
			t.Errorf("预期 关闭，实际 %s", got)
		}
	})

	t.Run("图片取alt", func(t *testing.T) {
		n := dom.NewElement("img")
		n.Attrs["alt"] = "logo"
		if got := dom.DisplayText(n); got != "logo" {
			t.Errorf("预期 logo，实际 %s", got)
		}
	})

	t.Run("输入框取当前值", func(t *testing.T) {
		n := dom.NewElement("input")
		n.InputValue = "hello@example.com"
		if got := dom.DisplayText(n); got != "hello@example.com" {
			t.Errorf("预期当前值，实际 %s", got)
		}
	})

	t.Run("直接子文本节点拼接", func(t *testing.T) {
		n := dom.NewElement("p")
		n.Append(dom.NewText("  first "))
		child := dom.NewElement("b")
		child.Append(dom.NewText("nested"))
		n.Append(child)
		n.Append(dom.NewText("second"))
		if got := dom.DisplayText(n); got != "first second" {
			t.Errorf("预期不含后代元素文本，实际 %q", got)
		}
	})
}

// TestInfo_CheckedInverted 测试复选框状态取反存储。
func TestInfo_CheckedInverted(t *testing.T) {
	checked := true
	n := dom.NewElement("input")
	n.Attrs["type"] = "checkbox"
	n.Checked = &checked

	info := dom.Info(n, 0, 0)
	if info.InputType != "checkbox" {
		t.Errorf("预期类型 checkbox，实际 %s", info.InputType)
	}
	if info.IsChecked == nil || *info.IsChecked {
		t.Error("预期勾选状态取反为 false")
	}
}

// TestInfo_InputTypeDefault 测试未声明类型的输入框默认为 text。
func TestInfo_InputTypeDefault(t *testing.T) {
	n := dom.NewElement("input")
	info := dom.Info(n, 0, 0)
	if info.InputType != "text" {
		t.Errorf("预期默认类型 text，实际 %s", info.InputType)
	}
	if info.IsChecked != nil {
		t.Error("预期文本输入框无勾选状态")
	}
}

// TestInfo_DocumentCoords 测试矩形换算为文档坐标。
func TestInfo_DocumentCoords(t *testing.T) {
	n := dom.NewElement("button")
	n.Rect = &domain.Rect{X: 10, Y: 20, Width: 100, Height: 30}

	info := dom.Info(n, 5, 500)
	if info.BoundingBox == nil {
		t.Fatal("预期有边界矩形")
	}
	if info.BoundingBox.X != 15 || info.BoundingBox.Y != 520 {
		t.Errorf("预期文档坐标 (15,520)，实际 (%v,%v)", info.BoundingBox.X, info.BoundingBox.Y)
	}
	if info.BoundingBox.Width != 100 || info.BoundingBox.Height != 30 {
		t.Error("预期宽高不变")
	}
}

// TestInfo_SelectOptions 测试下拉框选中项。
func TestInfo_SelectOptions(t *testing.T) {
	n := dom.NewElement("select")
	n.SelectedOptions = []string{"red", "blue"}

	info := dom.Info(n, 0, 0)
	if len(info.SelectedOptions) != 2 || info.SelectedOptions[0] != "red" {
		t.Errorf("预期选中项 [red blue]，实际 %v", info.SelectedOptions)
	}
}

// TestInfo_TextTruncated 测试长文本截断到 50 个字符。
func TestInfo_TextTruncated(t *testing.T) {
	n := dom.NewElement("p")
	n.Append(dom.NewText(strings.Repeat("a", 80)))

	info := dom.Info(n, 0, 0)
	if len(info.Text) != 50 {
		t.Errorf("预期截断到 50 字符，实际 %d", len(info.Text))
	}
}
