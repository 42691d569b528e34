package repo

import (
	"context"
	"time"

	"cdptrack/internal/storage/model"

	"gorm.io/gorm"
)

// SettingsRepo 设置仓库
type SettingsRepo struct {
	db *gorm.DB
}

// NewSettingsRepo 创建设置仓库实例
func NewSettingsRepo(db *gorm.DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

// Get 获取设置值
func (r *SettingsRepo) Get(ctx context.Context, key string) (string, error) {
	var setting model.Setting
	result := r.db.WithContext(ctx).Where("key = ?", key).First(&setting)
	if result.Error != nil {
		return "", result.Error
	}
	return setting.Value, nil
}

// GetWithDefault 获取设置值，不存在时返回默认值
func (r *SettingsRepo) GetWithDefault(ctx context.Context, key, defaultValue string) string {
	val, err := r.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	return val
}

// Set 设置值（存在则更新，不存在则创建）
func (r *SettingsRepo) Set(ctx context.Context, key, value string) error {
	setting := model.Setting{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	return r.db.WithContext(ctx).Save(&setting).Error
}

// DeleteByKey 根据 key 删除设置
func (r *SettingsRepo) DeleteByKey(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Delete(&model.Setting{}, "key = ?", key).Error
}

// SetMultiple 批量设置
func (r *SettingsRepo) SetMultiple(ctx context.Context, kvs map[string]string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		for key, value := range kvs {
			setting := model.Setting{
				Key:       key,
				Value:     value,
				UpdatedAt: now,
			}
			if err := tx.Save(&setting).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetTrackingEnabled 获取追踪开关，缺省视为关闭
func (r *SettingsRepo) GetTrackingEnabled(ctx context.Context) bool {
	return r.GetWithDefault(ctx, model.SettingKeyTrackingEnabled, "false") == "true"
}

// SetTrackingEnabled 设置追踪开关
func (r *SettingsRepo) SetTrackingEnabled(ctx context.Context, enabled bool) error {
	value := "false"
	if enabled {
		value = "true"
	}
	return r.Set(ctx, model.SettingKeyTrackingEnabled, value)
}

// GetOriginalTargetID 获取被追踪原始目标 ID，未设置时返回空串
func (r *SettingsRepo) GetOriginalTargetID(ctx context.Context) string {
	return r.GetWithDefault(ctx, model.SettingKeyOriginalTargetID, "")
}

// SetOriginalTargetID 设置被追踪原始目标 ID
func (r *SettingsRepo) SetOriginalTargetID(ctx context.Context, id string) error {
	return r.Set(ctx, model.SettingKeyOriginalTargetID, id)
}

// ClearOriginalTargetID 清除被追踪原始目标 ID
func (r *SettingsRepo) ClearOriginalTargetID(ctx context.Context) error {
	return r.DeleteByKey(ctx, model.SettingKeyOriginalTargetID)
}

// GetSessionState 获取会话状态 JSON 文档
func (r *SettingsRepo) GetSessionState(ctx context.Context) string {
	return r.GetWithDefault(ctx, model.SettingKeySessionState, "")
}

// SetSessionState 整体替换会话状态 JSON 文档
func (r *SettingsRepo) SetSessionState(ctx context.Context, doc string) error {
	return r.Set(ctx, model.SettingKeySessionState, doc)
}

// GetDevToolsURL 获取 DevTools URL
func (r *SettingsRepo) GetDevToolsURL(ctx context.Context) string {
	return r.GetWithDefault(ctx, model.SettingKeyDevToolsURL, "http://localhost:9222")
}

// SetDevToolsURL 设置 DevTools URL
func (r *SettingsRepo) SetDevToolsURL(ctx context.Context, url string) error {
	return r.Set(ctx, model.SettingKeyDevToolsURL, url)
}
