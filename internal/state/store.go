package state

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"cdptrack/internal/logger"
	"cdptrack/internal/storage/model"
	"cdptrack/internal/storage/repo"
	"cdptrack/pkg/domain"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"
)

// Change 追踪状态变更通知
type Change struct {
	TrackingEnabled bool
	OriginalTarget  domain.TargetID
	SessionID       domain.SessionID
}

// Observer 状态变更观察者
type Observer func(Change)

// Store 追踪状态存储
// 持久化追踪开关与原始目标 ID，并向订阅者推送变更。
// 订阅接口是唯一的变更广播通道，与变更来源无关。
type Store struct {
	log      logger.Logger
	settings *repo.SettingsRepo

	mu        sync.Mutex
	enabled   bool
	original  domain.TargetID
	sessionID domain.SessionID

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObsID int
}

// NewStore 创建状态存储，从设置表恢复上次的持久状态
func NewStore(settings *repo.SettingsRepo, log logger.Logger) *Store {
	s := &Store{
		log:       log.With("module", "state"),
		settings:  settings,
		observers: make(map[int]Observer),
	}

	ctx := context.Background()
	s.enabled = settings.GetTrackingEnabled(ctx)
	s.original = domain.TargetID(settings.GetOriginalTargetID(ctx))
	if s.enabled {
		// 进程重启后继续沿用开关，但会话状态从零开始
		s.sessionID = domain.SessionID(uuid.NewString())
		if err := settings.SetSessionState(ctx, ""); err != nil {
			s.log.Err(err, "清空会话状态失败")
		}
	}
	return s
}

// Subscribe 订阅状态变更，返回取消订阅函数
func (s *Store) Subscribe(obs Observer) func() {
	s.obsMu.Lock()
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = obs
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

// notify 向所有观察者推送当前状态快照
func (s *Store) notify(c Change) {
	s.obsMu.Lock()
	obs := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		obs = append(obs, o)
	}
	s.obsMu.Unlock()

	for _, o := range obs {
		o(c)
	}
}

// snapshotLocked 生成当前变更快照，调用方需持有 mu
func (s *Store) snapshotLocked() Change {
	return Change{
		TrackingEnabled: s.enabled,
		OriginalTarget:  s.original,
		SessionID:       s.sessionID,
	}
}

// TrackingEnabled 返回追踪开关
func (s *Store) TrackingEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// OriginalTarget 返回被追踪原始目标 ID，未设置时为空
func (s *Store) OriginalTarget() domain.TargetID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.original
}

// SessionID 返回当前追踪会话 ID
func (s *Store) SessionID() domain.SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Status 返回追踪状态视图
func (s *Store) Status() domain.TrackingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.TrackingStatus{
		Enabled:        s.enabled,
		OriginalTarget: s.original,
		SessionID:      s.sessionID,
	}
}

// SetTrackingEnabled 设置追踪开关并广播变更
// 开启时生成新的会话 ID，开关与会话状态文档的清空在同一事务内落库。
func (s *Store) SetTrackingEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	if s.enabled == enabled {
		s.mu.Unlock()
		return nil
	}
	if enabled {
		err := s.settings.SetMultiple(ctx, map[string]string{
			model.SettingKeyTrackingEnabled: "true",
			model.SettingKeySessionState:    "",
		})
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.sessionID = domain.SessionID(uuid.NewString())
	} else {
		if err := s.settings.SetTrackingEnabled(ctx, false); err != nil {
			s.mu.Unlock()
			return err
		}
		s.sessionID = ""
	}
	s.enabled = enabled
	c := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Info("追踪开关变更", "enabled", enabled)
	s.notify(c)
	return nil
}

// SetOriginalTarget 设置被追踪原始目标 ID 并广播变更
func (s *Store) SetOriginalTarget(ctx context.Context, id domain.TargetID) error {
	s.mu.Lock()
	if err := s.settings.SetOriginalTargetID(ctx, string(id)); err != nil {
		s.mu.Unlock()
		return err
	}
	s.original = id
	c := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(c)
	return nil
}

// ClearOriginalTarget 清除被追踪原始目标 ID 并广播变更
func (s *Store) ClearOriginalTarget(ctx context.Context) error {
	s.mu.Lock()
	if s.original == "" {
		s.mu.Unlock()
		return nil
	}
	if err := s.settings.ClearOriginalTargetID(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	s.original = ""
	c := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(c)
	return nil
}

// SaveBrowserState 异步整体持久化会话状态文档（后写覆盖先写）
func (s *Store) SaveBrowserState(bs *domain.BrowserState) {
	doc, err := json.Marshal(bs)
	if err != nil {
		s.log.Err(err, "序列化会话状态失败")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.settings.SetSessionState(ctx, string(doc)); err != nil {
			s.log.Err(err, "持久化会话状态失败")
		}
	}()
}

// PatchSessionURL 就地修改已持久化会话状态文档中的 URL 字段
// 用于导航提交时更新 URL 而不重写整个文档。
func (s *Store) PatchSessionURL(ctx context.Context, url string) error {
	doc := s.settings.GetSessionState(ctx)
	if doc == "" {
		doc = "{}"
	}
	patched, err := sjson.Set(doc, "url", url)
	if err != nil {
		return err
	}
	return s.settings.SetSessionState(ctx, patched)
}

// LoadBrowserState 读取已持久化的会话状态文档
// 文档缺失或损坏时返回全新状态。
func (s *Store) LoadBrowserState(ctx context.Context) *domain.BrowserState {
	doc := s.settings.GetSessionState(ctx)
	if doc == "" {
		return &domain.BrowserState{StartedAt: time.Now().UnixMilli()}
	}
	var bs domain.BrowserState
	if err := json.Unmarshal([]byte(doc), &bs); err != nil {
		s.log.Err(err, "会话状态文档损坏，返回全新状态")
		return &domain.BrowserState{StartedAt: time.Now().UnixMilli()}
	}
	return &bs
}
