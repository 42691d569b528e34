package dom

import "fmt"

// XPath 计算元素的结构化 XPath
// 带 id 的元素直接用 id 定位；body 固定为 /html/body；
// 其余元素沿祖先链递归，段内下标按同名兄弟计数。
// 对同一棵未变化的树重复计算结果稳定。
func XPath(n *Node) string {
	if n == nil || n.IsText() {
		return ""
	}
	if id := n.Attr("id"); id != "" {
		return fmt.Sprintf(`//*[@id="%s"]`, id)
	}
	if n.Name == "body" {
		return "/html/body"
	}
	if n.Parent == nil {
		return "/" + n.Name
	}
	return XPath(n.Parent) + fmt.Sprintf("/%s[%d]", n.Name, sameTagIndex(n))
}

// sameTagIndex 返回节点在同名兄弟中的序号（从 1 开始）
func sameTagIndex(n *Node) int {
	idx := 1
	for _, sib := range n.Parent.Children {
		if sib == n {
			break
		}
		if !sib.IsText() && sib.Name == n.Name {
			idx++
		}
	}
	return idx
}
