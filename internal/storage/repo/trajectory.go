package repo

import (
	"encoding/json"
	"sync"
	"time"

	"cdptrack/internal/storage/model"
	"cdptrack/pkg/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TrajectoryRepo 轨迹事件仓库（异步批量落库，不在事件路径上阻塞）
type TrajectoryRepo struct {
	db        *gorm.DB
	buffer    []model.TrajectoryEventRecord
	bufferMu  sync.Mutex
	batchSize int
	flushCh   chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewTrajectoryRepo 创建轨迹事件仓库实例
func NewTrajectoryRepo(db *gorm.DB) *TrajectoryRepo {
	r := &TrajectoryRepo{
		db:        db,
		buffer:    make([]model.TrajectoryEventRecord, 0, 100),
		batchSize: 50,
		flushCh:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
	// 启动异步写入协程
	r.wg.Add(1)
	go r.asyncWriter()
	return r
}

// asyncWriter 异步批量写入协程
func (r *TrajectoryRepo) asyncWriter() {
	defer r.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			// 停止前刷新剩余数据
			r.flush()
			return
		case <-ticker.C:
			r.flush()
		case <-r.flushCh:
			r.flush()
		}
	}
}

// flush 刷新缓冲区到数据库
func (r *TrajectoryRepo) flush() {
	r.bufferMu.Lock()
	if len(r.buffer) == 0 {
		r.bufferMu.Unlock()
		return
	}
	toWrite := r.buffer
	r.buffer = make([]model.TrajectoryEventRecord, 0, 100)
	r.bufferMu.Unlock()

	if err := r.db.CreateInBatches(toWrite, 100).Error; err != nil {
		// 记录错误但不阻塞
		_ = err
	}
}

// Stop 停止异步写入
func (r *TrajectoryRepo) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

// Record 记录一条已转发的轨迹事件（异步写入数据库）
func (r *TrajectoryRepo) Record(sessionID string, evt *domain.TrackedEvent) {
	actionJSON, _ := json.Marshal(evt.BrowserAction)
	var rawJSON []byte
	if evt.RawEvent != nil {
		rawJSON, _ = json.Marshal(evt.RawEvent)
	}

	record := model.TrajectoryEventRecord{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		TargetID:   string(evt.Target),
		ActionType: string(evt.BrowserAction.Type),
		ActionJSON: string(actionJSON),
		RawJSON:    string(rawJSON),
		Timestamp:  evt.Timestamp,
		CreatedAt:  time.Now(),
	}

	r.bufferMu.Lock()
	r.buffer = append(r.buffer, record)
	needFlush := len(r.buffer) >= r.batchSize
	r.bufferMu.Unlock()

	if needFlush {
		select {
		case r.flushCh <- struct{}{}:
		default:
		}
	}
}

// QueryOptions 查询选项
type QueryOptions struct {
	SessionID  string
	ActionType string
	StartTime  int64
	EndTime    int64
	Offset     int
	Limit      int
}

// Query 查询轨迹事件历史
func (r *TrajectoryRepo) Query(opts QueryOptions) ([]model.TrajectoryEventRecord, int64, error) {
	query := r.db.Model(&model.TrajectoryEventRecord{})

	if opts.SessionID != "" {
		query = query.Where("session_id = ?", opts.SessionID)
	}
	if opts.ActionType != "" {
		query = query.Where("action_type = ?", opts.ActionType)
	}
	if opts.StartTime > 0 {
		query = query.Where("timestamp >= ?", opts.StartTime)
	}
	if opts.EndTime > 0 {
		query = query.Where("timestamp <= ?", opts.EndTime)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	var records []model.TrajectoryEventRecord
	err := query.Order("timestamp DESC").
		Offset(opts.Offset).
		Limit(opts.Limit).
		Find(&records).Error

	return records, total, err
}

// DeleteBySession 删除指定会话的轨迹事件
func (r *TrajectoryRepo) DeleteBySession(sessionID string) error {
	return r.db.Where("session_id = ?", sessionID).Delete(&model.TrajectoryEventRecord{}).Error
}

// CleanupOldEvents 根据保留天数清理旧事件
func (r *TrajectoryRepo) CleanupOldEvents(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 7 // 默认保留 7 天
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	result := r.db.Where("timestamp < ?", cutoff).Delete(&model.TrajectoryEventRecord{})
	return result.RowsAffected, result.Error
}
