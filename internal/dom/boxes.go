package dom

import (
	"cdptrack/pkg/domain"
)

// interactableRoles 视为可交互的 ARIA 角色
var interactableRoles = map[string]bool{
	"button":   true,
	"link":     true,
	"checkbox": true,
	"menuitem": true,
	"tab":      true,
}

// textualTags 视为文本承载的标签（叶子 div 单独判断）
var textualTags = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true,
	"li": true, "span": true, "article": true,
}

// IsInteractable 判断元素是否属于可交互选择集
func IsInteractable(n *Node) bool {
	switch n.Name {
	case "a":
		if n.HasAttr("href") {
			return true
		}
	case "button", "textarea", "select":
		return true
	case "input":
		if inputType(n) != "hidden" {
			return true
		}
	}
	if n.HasAttr("tabindex") {
		return true
	}
	if ce := n.Attr("contenteditable"); n.HasAttr("contenteditable") && ce != "false" {
		return true
	}
	if interactableRoles[n.Attr("role")] {
		return true
	}
	if n.Attr("draggable") == "true" {
		return true
	}
	return false
}

// isTextual 判断元素是否为文本承载元素
// div 仅在没有元素子节点（叶子）时计入。
func isTextual(n *Node) bool {
	if textualTags[n.Name] {
		return true
	}
	if n.Name == "div" {
		for _, c := range n.Children {
			if !c.IsText() {
				return false
			}
		}
		return true
	}
	return false
}

// CaptureBoundingBoxes 按文档顺序收集当前可见的可交互与文本元素
// 零宽或零高的元素被丢弃；文本截断；坐标为文档坐标系。
func CaptureBoundingBoxes(root *Node, scrollX, scrollY float64) []domain.ElementInfo {
	var infos []domain.ElementInfo
	root.Walk(func(n *Node) bool {
		if n.Rect == nil || n.Rect.Width == 0 || n.Rect.Height == 0 {
			return true
		}
		interactable := IsInteractable(n)
		if !interactable {
			if !isTextual(n) || n.hasAncestor("style") {
				return true
			}
		}
		info := Info(n, scrollX, scrollY)
		info.IsInteractable = interactable
		infos = append(infos, info)
		return true
	})
	return infos
}
