package api

import (
	"context"
	"net/http"

	"cdptrack/internal/config"
	"cdptrack/internal/logger"
	"cdptrack/internal/service"
	"cdptrack/internal/storage/repo"
	"cdptrack/pkg/domain"
)

// Service 服务接口
type Service interface {
	// Start 启动服务：连接或拉起浏览器并开始目标发现
	Start(ctx context.Context) error

	// Shutdown 停止服务并释放资源
	Shutdown(ctx context.Context) error

	// BridgeHandler 返回控制端 WebSocket 接入端点
	BridgeHandler() http.Handler

	// StartTracking 开启追踪
	StartTracking(ctx context.Context) error

	// StopTracking 关闭追踪并收起追踪标签页
	StopTracking(ctx context.Context) error

	// Status 返回当前追踪状态
	Status(ctx context.Context) domain.TrackingStatus

	// OpenTrackingTab 在新窗口打开追踪标签页并开启追踪
	OpenTrackingTab(ctx context.Context, url string) (domain.TargetID, error)

	// CloseTrackingTab 关闭追踪标签页
	CloseTrackingTab(ctx context.Context) error

	// ListTargets 列出浏览器页面目标
	ListTargets(ctx context.Context) ([]domain.TargetInfo, error)

	// GetBrowserState 返回最近一次持久化的会话状态
	GetBrowserState(ctx context.Context) (*domain.BrowserState, error)

	// CaptureScreenshot 对被追踪标签页截图
	CaptureScreenshot(ctx context.Context) (*domain.BrowserImage, error)

	// RunCode 在被追踪标签页执行脚本并返回结果
	RunCode(ctx context.Context, code string) (string, error)

	// Render 触发被追踪标签页的一次内容刷新
	Render(ctx context.Context) error

	// QueryTrajectory 查询轨迹事件历史
	QueryTrajectory(ctx context.Context, opts repo.QueryOptions) (*domain.TrajectoryPage, error)
}

// NewService 创建并返回服务接口实现
func NewService(cfg *config.Config, l logger.Logger) (Service, error) {
	s, err := service.New(cfg, l)
	if err != nil {
		return nil, err
	}
	return s, nil
}
