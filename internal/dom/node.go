package dom

import (
	"strings"

	"cdptrack/pkg/domain"
)

// Node 文档树节点
// 元素节点 Name 为小写标签名，文本节点 Name 为 #text、内容在 Value 中。
type Node struct {
	Name     string
	Value    string
	Attrs    map[string]string
	Parent   *Node
	Children []*Node

	// Rect 视口坐标系下的布局矩形，未参与布局时为 nil
	Rect *domain.Rect

	// 表单控件快照
	InputValue      string
	Checked         *bool
	SelectedOptions []string
}

// NewElement 创建元素节点
func NewElement(tag string) *Node {
	return &Node{
		Name:  strings.ToLower(tag),
		Attrs: make(map[string]string),
	}
}

// NewText 创建文本节点
func NewText(value string) *Node {
	return &Node{Name: "#text", Value: value}
}

// IsText 判断是否为文本节点
func (n *Node) IsText() bool {
	return n.Name == "#text"
}

// Attr 返回属性值，缺失时返回空串
func (n *Node) Attr(name string) string {
	if n.Attrs == nil {
		return ""
	}
	return n.Attrs[name]
}

// HasAttr 判断属性是否存在（含空值属性）
func (n *Node) HasAttr(name string) bool {
	if n.Attrs == nil {
		return false
	}
	_, ok := n.Attrs[name]
	return ok
}

// Append 追加子节点并建立父链接
func (n *Node) Append(child *Node) *Node {
	child.Parent = n
	n.Children = append(n.Children, child)
	return n
}

// Walk 按文档顺序深度优先遍历元素节点，fn 返回 false 时跳过该子树
func (n *Node) Walk(fn func(*Node) bool) {
	if n.IsText() {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// DirectText 拼接直接子文本节点内容（不含后代元素的文本）
func (n *Node) DirectText() string {
	var parts []string
	for _, c := range n.Children {
		if c.IsText() {
			if s := strings.TrimSpace(c.Value); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " ")
}

// hasAncestor 判断是否存在指定标签名的祖先
func (n *Node) hasAncestor(tag string) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Name == tag {
			return true
		}
	}
	return false
}
