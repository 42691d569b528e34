package domain

import "encoding/json"

// TargetID 浏览器目标（标签页）ID
type TargetID string

// SessionID 追踪会话ID
type SessionID string

// ActionType 浏览器动作类型
type ActionType string

// 所有支持的浏览器动作类型
const (
	ActionNavigate            ActionType = "navigate"
	ActionPageReload          ActionType = "pageReload"
	ActionPageBack            ActionType = "pageBack"
	ActionPageForward         ActionType = "pageForward"
	ActionResize              ActionType = "resize"
	ActionClick               ActionType = "click"
	ActionWheel               ActionType = "wheel"
	ActionKeyDown             ActionType = "keyDown"
	ActionKeyUp               ActionType = "keyUp"
	ActionCheckboxesAndRadios ActionType = "checkboxesAndRadios"
	ActionSelectOptions       ActionType = "selectOptions"
	ActionPointerMove         ActionType = "pointerMove"
	ActionRunCode             ActionType = "runCode"
	ActionRender              ActionType = "render"
)

// Position 页面坐标
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size 宽高尺寸
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Delta 滚轮增量
type Delta struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect 页面矩形区域（文档坐标系）
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// BrowserAction 浏览器动作（带判别标签的联合类型）
// Type 决定哪一组负载字段有效，构造后不可修改
type BrowserAction struct {
	Type ActionType `json:"type"`

	// navigate
	URL string `json:"url,omitempty"`

	// resize
	Size *Size `json:"size,omitempty"`

	// click / wheel / pointerMove
	Position *Position `json:"position,omitempty"`

	// wheel
	Delta *Delta `json:"delta,omitempty"`

	// keyDown / keyUp
	Key string `json:"key,omitempty"`

	// checkboxesAndRadios
	InputType string `json:"inputType,omitempty"`
	Checked   *bool  `json:"checked,omitempty"`

	// selectOptions
	SelectOptions []string `json:"selectOptions,omitempty"`

	// runCode
	Code string `json:"code,omitempty"`
}

// NewNavigate 构造 navigate 动作
func NewNavigate(url string) BrowserAction {
	return BrowserAction{Type: ActionNavigate, URL: url}
}

// NewPageReload 构造 pageReload 动作
func NewPageReload() BrowserAction {
	return BrowserAction{Type: ActionPageReload}
}

// NewPageBack 构造 pageBack 动作
func NewPageBack() BrowserAction {
	return BrowserAction{Type: ActionPageBack}
}

// NewPageForward 构造 pageForward 动作
func NewPageForward() BrowserAction {
	return BrowserAction{Type: ActionPageForward}
}

// NewResize 构造 resize 动作
func NewResize(width, height float64) BrowserAction {
	return BrowserAction{Type: ActionResize, Size: &Size{Width: width, Height: height}}
}

// NewClick 构造 click 动作
func NewClick(x, y float64) BrowserAction {
	return BrowserAction{Type: ActionClick, Position: &Position{X: x, Y: y}}
}

// NewWheel 构造 wheel 动作
func NewWheel(x, y, deltaX, deltaY float64) BrowserAction {
	return BrowserAction{
		Type:     ActionWheel,
		Position: &Position{X: x, Y: y},
		Delta:    &Delta{X: deltaX, Y: deltaY},
	}
}

// NewKeyDown 构造 keyDown 动作
func NewKeyDown(key string) BrowserAction {
	return BrowserAction{Type: ActionKeyDown, Key: key}
}

// NewKeyUp 构造 keyUp 动作
func NewKeyUp(key string) BrowserAction {
	return BrowserAction{Type: ActionKeyUp, Key: key}
}

// NewCheckboxesAndRadios 构造 checkboxesAndRadios 动作
func NewCheckboxesAndRadios(inputType string, checked bool) BrowserAction {
	return BrowserAction{Type: ActionCheckboxesAndRadios, InputType: inputType, Checked: &checked}
}

// NewSelectOptions 构造 selectOptions 动作
func NewSelectOptions(selected []string) BrowserAction {
	return BrowserAction{Type: ActionSelectOptions, SelectOptions: selected}
}

// NewPointerMove 构造 pointerMove 动作
func NewPointerMove(x, y float64) BrowserAction {
	return BrowserAction{Type: ActionPointerMove, Position: &Position{X: x, Y: y}}
}

// NewRunCode 构造 runCode 动作
func NewRunCode(code string) BrowserAction {
	return BrowserAction{Type: ActionRunCode, Code: code}
}

// NewRender 构造 render 动作
func NewRender() BrowserAction {
	return BrowserAction{Type: ActionRender}
}

// ElementInfo 交互元素快照
// 每次事件重新计算，不做缓存
type ElementInfo struct {
	TagName        string `json:"tagName"`
	Text           string `json:"text,omitempty"`
	BoundingBox    *Rect  `json:"boundingBox,omitempty"`
	IsInteractable bool   `json:"isInteractable,omitempty"`
	InputType      string `json:"inputType,omitempty"`
	// IsChecked 取反存储：悬停时读到的是点击前的值
	IsChecked       *bool    `json:"isChecked,omitempty"`
	SelectedOptions []string `json:"selectedOptions,omitempty"`
	Alt             string   `json:"alt,omitempty"`
	ClassName       string   `json:"className,omitempty"`
	ElementID       string   `json:"elementId,omitempty"`
	XPath           string   `json:"xpath,omitempty"`
}

// BrowserImage 截图及其视口信息
type BrowserImage struct {
	Timestamp int64  `json:"timestamp"`
	Rect      Rect   `json:"rect"`
	Image     []byte `json:"image"`
}

// BrowserState 被追踪标签页的累积会话状态
// 由该标签页的 Page Agent 独占持有，仅通过 changeState 入口修改
type BrowserState struct {
	StartedAt            int64         `json:"startedAt"`
	Time                 int64         `json:"time"`
	Clicks               int           `json:"clicks"`
	IsLoading            bool          `json:"isLoading,omitempty"`
	URL                  string        `json:"url,omitempty"`
	Viewport             *Size         `json:"viewport,omitempty"`
	ScrollSize           *Size         `json:"scrollSize,omitempty"`
	DOM                  string        `json:"dom,omitempty"`
	ElementBoundingBoxes []ElementInfo `json:"elementBoundingBoxes,omitempty"`
	HoveredElement       *ElementInfo  `json:"hoveredElement,omitempty"`
	Image                *BrowserImage `json:"image,omitempty"`
}

// TrackedEvent 一次捕获的完整事件：动作 + 触发元素 + 状态快照
type TrackedEvent struct {
	Target        TargetID      `json:"target"`
	Timestamp     int64         `json:"timestamp"`
	BrowserAction BrowserAction `json:"browserAction"`
	RawEvent      *ElementInfo  `json:"rawEvent,omitempty"`
	BrowserState  *BrowserState `json:"browserState,omitempty"`
}

// TargetInfo 浏览器目标信息
type TargetInfo struct {
	ID        TargetID `json:"id"`
	Type      string   `json:"type"`
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	OpenerID  TargetID `json:"openerId,omitempty"`
	IsTracked bool     `json:"isTracked"`
}

// TrackingStatus 追踪状态视图
type TrackingStatus struct {
	Enabled        bool      `json:"enabled"`
	OriginalTarget TargetID  `json:"originalTarget,omitempty"`
	SessionID      SessionID `json:"sessionId,omitempty"`
}

// TrajectoryEvent 轨迹历史中的一条记录
type TrajectoryEvent struct {
	ID            string          `json:"id"`
	SessionID     SessionID       `json:"sessionId"`
	Target        TargetID        `json:"target"`
	ActionType    ActionType      `json:"actionType"`
	BrowserAction json.RawMessage `json:"browserAction,omitempty"`
	RawEvent      json.RawMessage `json:"rawEvent,omitempty"`
	Timestamp     int64           `json:"timestamp"`
}

// TrajectoryPage 轨迹历史查询结果页
type TrajectoryPage struct {
	Total  int64             `json:"total"`
	Events []TrajectoryEvent `json:"events"`
}
