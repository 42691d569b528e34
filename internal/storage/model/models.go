package model

import (
	"time"
)

// Setting 键值设置表，持久化追踪状态与会话状态文档
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`  // 设置键
	Value     string    `gorm:"type:text" json:"value"` // 设置值
	UpdatedAt time.Time `json:"updatedAt"`              // 更新时间
}

// 预定义的设置 Key
const (
	SettingKeyTrackingEnabled  = "tracking_enabled"   // 追踪开关："true" / "false" / 缺省
	SettingKeyOriginalTargetID = "original_target_id" // 被追踪原始目标 ID
	SettingKeySessionState     = "session_state"      // 会话状态 JSON（整体替换写入）
	SettingKeyDevToolsURL      = "devtools_url"       // DevTools URL
)

// TrajectoryEventRecord 轨迹事件记录表（每个已转发动作一条）
type TrajectoryEventRecord struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"index" json:"sessionId"`
	TargetID   string    `json:"targetId"`
	ActionType string    `gorm:"index" json:"actionType"`
	ActionJSON string    `gorm:"type:text" json:"actionJson"`
	RawJSON    string    `gorm:"type:text" json:"rawJson"`
	Timestamp  int64     `gorm:"index" json:"timestamp"`
	CreatedAt  time.Time `json:"createdAt"`
}
