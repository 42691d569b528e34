package dom

import (
	"strings"

	"cdptrack/pkg/domain"
)

// maxTextLength 元素文本的截断长度
const maxTextLength = 50

// Info 为元素构建快照
// scrollX/scrollY 为页面滚动偏移，矩形从视口坐标换算为文档坐标。
func Info(n *Node, scrollX, scrollY float64) domain.ElementInfo {
	info := domain.ElementInfo{
		TagName:   n.Name,
		Text:      truncate(DisplayText(n), maxTextLength),
		ClassName: n.Attr("class"),
		ElementID: n.Attr("id"),
		XPath:     XPath(n),
	}

	if n.Rect != nil {
		info.BoundingBox = &domain.Rect{
			X:      n.Rect.X + scrollX,
			Y:      n.Rect.Y + scrollY,
			Width:  n.Rect.Width,
			Height: n.Rect.Height,
		}
	}

	switch n.Name {
	case "img":
		info.Alt = n.Attr("alt")
	case "input":
		info.InputType = inputType(n)
		if info.InputType == "checkbox" || info.InputType == "radio" {
			// 悬停时读到的是点击前的值，取反得到点击后的状态
			checked := n.Checked != nil && *n.Checked
			inverted := !checked
			info.IsChecked = &inverted
		}
	case "select":
		info.SelectedOptions = n.SelectedOptions
	}

	return info
}

// DisplayText 解析元素的显示文本
// 优先级：aria-label → 图片 alt → 输入框当前值 → 直接子文本节点拼接。
func DisplayText(n *Node) string {
	if label := n.Attr("aria-label"); label != "" {
		return label
	}
	if n.Name == "img" {
		if alt := n.Attr("alt"); alt != "" {
			return alt
		}
	}
	if n.Name == "input" || n.Name == "textarea" {
		if n.InputValue != "" {
			return n.InputValue
		}
	}
	return n.DirectText()
}

// inputType 返回输入框类型，缺省为 text
func inputType(n *Node) string {
	if t := n.Attr("type"); t != "" {
		return strings.ToLower(t)
	}
	return "text"
}

// truncate 按字符数截断文本
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
