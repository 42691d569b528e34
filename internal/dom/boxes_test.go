package dom_test

import (
	"testing"

	"cdptrack/internal/dom"
	"cdptrack/pkg/domain"
)

// rect 构造视口矩形的简写。
func rect(x, y, w, h float64) *domain.Rect {
	return &domain.Rect{X: x, Y: y, Width: w, Height: h}
}

// TestCaptureBoundingBoxes_Policy 测试可交互与文本元素的选择策略。
func TestCaptureBoundingBoxes_Policy(t *testing.T) {
	html := dom.NewElement("html")
	body := dom.NewElement("body")
	html.Append(body)

	link := dom.NewElement("a")
	link.Attrs["href"] = "/home"
	link.Rect = rect(0, 0, 50, 20)
	link.Append(dom.NewText("home"))
	body.Append(link)

	// 无 href 的锚点不可交互也非文本标签
	bareAnchor := dom.NewElement("a")
	bareAnchor.Rect = rect(0, 30, 50, 20)
	body.Append(bareAnchor)

	para := dom.NewElement("p")
	para.Rect = rect(0, 60, 200, 20)
	para.Append(dom.NewText("some text"))
	body.Append(para)

	hidden := dom.NewElement("input")
	hidden.Attrs["type"] = "hidden"
	hidden.Rect = rect(0, 90, 10, 10)
	body.Append(hidden)

	infos := dom.CaptureBoundingBoxes(html, 0, 0)
	if len(infos) != 2 {
		t.Fatalf("预期收集 2 个元素，实际 %d 个: %+v", len(infos), infos)
	}
	if infos[0].TagName != "a" || !infos[0].IsInteractable {
		t.Errorf("预期第一个为可交互链接，实际 %+v", infos[0])
	}
	if infos[1].TagName != "p" || infos[1].IsInteractable {
		t.Errorf("预期第二个为不可交互段落，实际 %+v", infos[1])
	}
}

// TestCaptureBoundingBoxes_ZeroSizeDiscarded 测试零尺寸元素被丢弃。
func TestCaptureBoundingBoxes_ZeroSizeDiscarded(t *testing.T) {
	body := dom.NewElement("body")

	zeroWidth := dom.NewElement("button")
	zeroWidth.Rect = rect(0, 0, 0, 20)
	body.Append(zeroWidth)

	zeroHeight := dom.NewElement("button")
	zeroHeight.Rect = rect(0, 0, 20, 0)
	body.Append(zeroHeight)

	noLayout := dom.NewElement("button")
	body.Append(noLayout)

	visible := dom.NewElement("button")
	visible.Rect = rect(0, 0, 20, 20)
	body.Append(visible)

	infos := dom.CaptureBoundingBoxes(body, 0, 0)
	if len(infos) != 1 {
		t.Fatalf("预期只收集 1 个元素，实际 %d 个", len(infos))
	}
	for _, info := range infos {
		if info.BoundingBox.Width == 0 || info.BoundingBox.Height == 0 {
			t.Errorf("收集到零尺寸元素: %+v", info)
		}
	}
}

// TestCaptureBoundingBoxes_InteractableMatchesReEval 测试 isInteractable
// 与独立重新判定一致。
func TestCaptureBoundingBoxes_InteractableMatchesReEval(t *testing.T) {
	body := dom.NewElement("body")

	elems := []*dom.Node{}
	mk := func(tag string, attrs map[string]string) *dom.Node {
		n := dom.NewElement(tag)
		for k, v := range attrs {
			n.Attrs[k] = v
		}
		n.Rect = rect(0, float64(len(elems))*30, 100, 20)
		body.Append(n)
		elems = append(elems, n)
		return n
	}

	mk("button", nil)
	mk("span", map[string]string{"role": "button"})
	mk("div", map[string]string{"tabindex": "0"})
	mk("p", nil).Append(dom.NewText("plain"))
	mk("li", map[string]string{"draggable": "true"})

	infos := dom.CaptureBoundingBoxes(body, 0, 0)
	if len(infos) != len(elems) {
		t.Fatalf("预期收集 %d 个元素，实际 %d 个", len(elems), len(infos))
	}
	for i, info := range infos {
		if info.IsInteractable != dom.IsInteractable(elems[i]) {
			t.Errorf("元素 %s 的 isInteractable 与重新判定不一致", info.TagName)
		}
	}
}

// TestCaptureBoundingBoxes_LeafDiv 测试仅叶子 div 计入文本元素。
func TestCaptureBoundingBoxes_LeafDiv(t *testing.T) {
	body := dom.NewElement("body")

	parent := dom.NewElement("div")
	parent.Rect = rect(0, 0, 200, 100)
	body.Append(parent)

	leaf := dom.NewElement("div")
	leaf.Rect = rect(0, 0, 200, 40)
	leaf.Append(dom.NewText("leaf content"))
	parent.Append(leaf)

	infos := dom.CaptureBoundingBoxes(body, 0, 0)
	if len(infos) != 1 {
		t.Fatalf("预期只收集叶子 div，实际 %d 个", len(infos))
	}
	if infos[0].Text != "leaf content" {
		t.Errorf("预期文本 leaf content，实际 %s", infos[0].Text)
	}
}

// TestCaptureBoundingBoxes_StyleExcluded 测试 style 内的文本元素被排除。
func TestCaptureBoundingBoxes_StyleExcluded(t *testing.T) {
	body := dom.NewElement("body")
	style := dom.NewElement("style")
	body.Append(style)

	span := dom.NewElement("span")
	span.Rect = rect(0, 0, 10, 10)
	span.Append(dom.NewText(".cls{}"))
	style.Append(span)

	infos := dom.CaptureBoundingBoxes(body, 0, 0)
	if len(infos) != 0 {
		t.Fatalf("预期不收集 style 内元素，实际 %d 个", len(infos))
	}
}
