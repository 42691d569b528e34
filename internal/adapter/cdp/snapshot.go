package cdp

import (
	"fmt"
	"strings"

	"cdptrack/internal/dom"
	"cdptrack/pkg/domain"

	"github.com/mafredri/cdp/protocol/domsnapshot"
)

// DOM 节点类型常量（DOM 标准）
const (
	nodeTypeElement = 1
	nodeTypeText    = 3
)

// Snapshot 解析后的页面快照
type Snapshot struct {
	Root          *dom.Node
	ScrollX       float64
	ScrollY       float64
	ContentWidth  float64
	ContentHeight float64
}

// FromCapture 将 DOMSnapshot 抓取结果解析为文档树
// 快照的布局矩形是文档绝对坐标，这里换算为视口坐标，
// 与事件路径里 getBoundingClientRect 的坐标系保持一致。
func FromCapture(reply *domsnapshot.CaptureSnapshotReply) (*Snapshot, error) {
	if reply == nil || len(reply.Documents) == 0 {
		return nil, fmt.Errorf("%w: 快照不含文档", domain.ErrCaptureFailed)
	}
	doc := reply.Documents[0]
	strs := reply.Strings
	str := func(i domsnapshot.StringIndex) string {
		if i < 0 || int(i) >= len(strs) {
			return ""
		}
		return strs[i]
	}

	snap := &Snapshot{
		ScrollX:       fval(doc.ScrollOffsetX),
		ScrollY:       fval(doc.ScrollOffsetY),
		ContentWidth:  fval(doc.ContentWidth),
		ContentHeight: fval(doc.ContentHeight),
	}

	nodes := doc.Nodes
	count := len(nodes.NodeType)
	built := make([]*dom.Node, count)

	for i := 0; i < count; i++ {
		switch nodes.NodeType[i] {
		case nodeTypeElement:
			n := dom.NewElement(str(nodes.NodeName[i]))
			if i < len(nodes.Attributes) {
				attrs := nodes.Attributes[i]
				for j := 0; j+1 < len(attrs); j += 2 {
					n.Attrs[strings.ToLower(str(attrs[j]))] = str(attrs[j+1])
				}
			}
			built[i] = n
		case nodeTypeText:
			built[i] = dom.NewText(str(nodes.NodeValue[i]))
		}
	}

	// 表单控件的稀疏数据
	if nodes.InputValue != nil {
		for k, idx := range nodes.InputValue.Index {
			if idx >= 0 && idx < count && built[idx] != nil && k < len(nodes.InputValue.Value) {
				built[idx].InputValue = str(nodes.InputValue.Value[k])
			}
		}
	}
	if nodes.TextValue != nil {
		for k, idx := range nodes.TextValue.Index {
			if idx >= 0 && idx < count && built[idx] != nil && k < len(nodes.TextValue.Value) {
				built[idx].InputValue = str(nodes.TextValue.Value[k])
			}
		}
	}
	if nodes.InputChecked != nil {
		for _, idx := range nodes.InputChecked.Index {
			if idx >= 0 && idx < count && built[idx] != nil {
				checked := true
				built[idx].Checked = &checked
			}
		}
	}

	// 建立父子链接；文档节点不建模，其元素子节点作为树根候选
	for i := 0; i < count && i < len(nodes.ParentIndex); i++ {
		n := built[i]
		if n == nil {
			continue
		}
		p := nodes.ParentIndex[i]
		if p >= 0 && p < count && built[p] != nil {
			built[p].Append(n)
		} else if !n.IsText() && snap.Root == nil {
			snap.Root = n
		}
	}
	if snap.Root == nil {
		return nil, fmt.Errorf("%w: 快照不含根元素", domain.ErrCaptureFailed)
	}

	// 布局矩形
	for k, nodeIdx := range doc.Layout.NodeIndex {
		if nodeIdx < 0 || nodeIdx >= count || built[nodeIdx] == nil || k >= len(doc.Layout.Bounds) {
			continue
		}
		b := doc.Layout.Bounds[k]
		if len(b) < 4 {
			continue
		}
		built[nodeIdx].Rect = &domain.Rect{
			X:      b[0] - snap.ScrollX,
			Y:      b[1] - snap.ScrollY,
			Width:  b[2],
			Height: b[3],
		}
	}

	// 下拉框选中项：被选中的 option 沿父链挂到所属 select 上
	if nodes.OptionSelected != nil {
		for _, idx := range nodes.OptionSelected.Index {
			if idx < 0 || idx >= count || built[idx] == nil || built[idx].Name != "option" {
				continue
			}
			for p := built[idx].Parent; p != nil; p = p.Parent {
				if p.Name == "select" {
					p.SelectedOptions = append(p.SelectedOptions, built[idx].DirectText())
					break
				}
			}
		}
	}

	return snap, nil
}

// fval 解引用可选数值，缺失时为 0
func fval(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
