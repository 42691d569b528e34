package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"cdptrack/internal/storage/repo"
	api "cdptrack/pkg/api"
)

// Server 提供给本机控制工具的 HTTP 接口入口
type Server struct {
	svc api.Service
}

// NewServer 创建 HTTP 接口服务
func NewServer(svc api.Service) *Server {
	return &Server{svc: svc}
}

// ServeHTTP 处理所有控制请求
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ErrInvalidRequest.withError(err))
		return
	}
	res := s.dispatch(r.Context(), &req)
	writeResponse(w, res)
}

// Request 表示通用请求结构
type Request struct {
	Method string          `json:"method"`
	ID     string          `json:"id,omitempty"`
	Params json.RawMessage `json:"params"`
}

// Response 表示通用响应结构
type Response struct {
	ID     string       `json:"id,omitempty"`
	Result interface{}  `json:"result,omitempty"`
	Error  *ErrorObject `json:"error,omitempty"`
}

// ErrorObject 表示错误信息
type ErrorObject struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ApiError 表示内部错误类型
type ApiError struct {
	Code string
	Err  error
}

func (e ApiError) withError(err error) ApiError {
	return ApiError{Code: e.Code, Err: err}
}

var (
	// ErrInvalidRequest 无效请求
	ErrInvalidRequest = ApiError{Code: "invalid_request"}
	// ErrMethodNotFound 方法不存在
	ErrMethodNotFound = ApiError{Code: "method_not_found"}
	// ErrInvalidParams 参数错误
	ErrInvalidParams = ApiError{Code: "invalid_params"}
	// ErrInternal 内部错误
	ErrInternal = ApiError{Code: "internal"}
)

// tabOpenParams 追踪标签页打开参数
type tabOpenParams struct {
	URL string `json:"url"`
}

// codeRunParams 脚本执行参数
type codeRunParams struct {
	Code string `json:"code"`
}

// trajectoryQueryParams 轨迹查询参数
type trajectoryQueryParams struct {
	SessionID  string `json:"sessionId,omitempty"`
	ActionType string `json:"actionType,omitempty"`
	StartTime  int64  `json:"startTime,omitempty"`
	EndTime    int64  `json:"endTime,omitempty"`
	Offset     int    `json:"offset,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// tabOpenResult 追踪标签页打开结果
type tabOpenResult struct {
	TargetID string `json:"targetId"`
}

// codeRunResult 脚本执行结果
type codeRunResult struct {
	Result json.RawMessage `json:"result,omitempty"`
}

// dispatch 根据 method 分发请求
func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	var (
		result interface{}
		err    *ErrorObject
	)
	switch req.Method {
	case "tracking.start":
		result, err = s.handleTrackingStart(ctx)
	case "tracking.stop":
		result, err = s.handleTrackingStop(ctx)
	case "tracking.status":
		result, err = s.handleTrackingStatus(ctx)
	case "tab.open":
		result, err = s.handleTabOpen(ctx, req.Params)
	case "tab.close":
		result, err = s.handleTabClose(ctx)
	case "target.list":
		result, err = s.handleTargetList(ctx)
	case "state.get":
		result, err = s.handleStateGet(ctx)
	case "screenshot.capture":
		result, err = s.handleScreenshotCapture(ctx)
	case "code.run":
		result, err = s.handleCodeRun(ctx, req.Params)
	case "render":
		result, err = s.handleRender(ctx)
	case "trajectory.query":
		result, err = s.handleTrajectoryQuery(ctx, req.Params)
	default:
		err = toErrorObject(ErrMethodNotFound)
	}
	return &Response{ID: req.ID, Result: result, Error: err}
}

// writeResponse 写出统一响应
func writeResponse(w http.ResponseWriter, res *Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	_ = enc.Encode(res)
}

// writeError 写出错误响应
func writeError(w http.ResponseWriter, apiErr ApiError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	_ = enc.Encode(&Response{Error: toErrorObject(apiErr)})
}

// toErrorObject 转换错误为响应错误对象
func toErrorObject(e ApiError) *ErrorObject {
	msg := e.Code
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return &ErrorObject{Code: e.Code, Message: msg}
}

// handleTrackingStart 处理开启追踪
func (s *Server) handleTrackingStart(ctx context.Context) (interface{}, *ErrorObject) {
	if err := s.svc.StartTracking(ctx); err != nil {
		return nil, toErrorObject(ErrInternal.withError(err))
	}
	return s.svc.Status(ctx), nil
}

// handleTrackingStop 处理关闭追踪
func (s *Server) handleTrackingStop(ctx context.Context) (interface{}, *ErrorObject) {
	if err := s.svc.StopTracking(ctx); err != nil {
		return nil, toErrorObject(ErrInternal.withError(err))
	}
	return s.svc.Status(ctx), nil
}

// handleTrackingStatus 处理追踪状态查询
func (s *Server) handleTrackingStatus(ctx context.Context) (interface{}, *ErrorObject) {
	return s.svc.Status(ctx), nil
}

// handleTabOpen 处理打开追踪标签页
func (s *Server) handleTabOpen(ctx context.Context, params json.RawMessage) (interface{}, *ErrorObject) {
	var p tabOpenParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, toErrorObject(ErrInvalidParams.withError(err))
	}
	if p.URL == "" {
		return nil, toErrorObject(ErrInvalidParams.withError(errors.New("url is required")))
	}
	id, err := s.svc.OpenTrackingTab(ctx, p.URL)
	if err != nil {
		return nil, toErrorObject(ErrInternal.withError(err))
	}
	return &tabOpenResult{TargetID: string(id)}, nil
}

// handleTabClose 处理关闭追踪标签页
func (s *Server) handleTabClose(ctx context.Context) (interface{}, *ErrorObject) {
	if err := s.svc.CloseTrackingTab(ctx); err != nil {
		return nil, toErrorObject(ErrInternal.withError(err))
	}
	return nil, nil
}

// handleTargetList 处理目标列表查询
func (s *Server) handleTargetList(ctx context.Context) (interface{}, *ErrorObject) {
	targets, err := s.svc.ListTargets(ctx)
	if err != nil {
		return nil, toErrorObject(ErrInternal.withError(err))
	}
	return targets, nil
}

// handleStateGet 处理会话状态查询
func (s *Server) handleStateGet(ctx context.Context) (interface{}, *ErrorObject) {
	bs, err := s.svc.GetBrowserState(ctx)
	if err != nil {
		return nil, toErrorObject(ErrInternal.withError(err))
	}
	return bs, nil
}

// handleScreenshotCapture 处理截图
func (s *Server) handleScreenshotCapture(ctx context.Context) (interface{}, *ErrorObject) {
	img, err := s.svc.CaptureScreenshot(ctx)
	if err != nil {
		return nil, toErrorObject(ErrInternal.withError(err))
	}
	return img, nil
}

// handleCodeRun 处理脚本执行
func (s *Server) handleCodeRun(ctx context.Context, params json.RawMessage) (interface{}, *ErrorObject) {
	var p codeRunParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, toErrorObject(ErrInvalidParams.withError(err))
	}
	if p.Code == "" {
		return nil, toErrorObject(ErrInvalidParams.withError(errors.New("code is required")))
	}
	out, err := s.svc.RunCode(ctx, p.Code)
	if err != nil {
		return nil, toErrorObject(ErrInternal.withError(err))
	}
	return &codeRunResult{Result: json.RawMessage(out)}, nil
}

// handleRender 处理内容刷新
func (s *Server) handleRender(ctx context.Context) (interface{}, *ErrorObject) {
	if err := s.svc.Render(ctx); err != nil {
		return nil, toErrorObject(ErrInternal.withError(err))
	}
	return nil, nil
}

// handleTrajectoryQuery 处理轨迹历史查询
func (s *Server) handleTrajectoryQuery(ctx context.Context, params json.RawMessage) (interface{}, *ErrorObject) {
	var p trajectoryQueryParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, toErrorObject(ErrInvalidParams.withError(err))
		}
	}
	page, err := s.svc.QueryTrajectory(ctx, repo.QueryOptions{
		SessionID:  p.SessionID,
		ActionType: p.ActionType,
		StartTime:  p.StartTime,
		EndTime:    p.EndTime,
		Offset:     p.Offset,
		Limit:      p.Limit,
	})
	if err != nil {
		return nil, toErrorObject(ErrInternal.withError(err))
	}
	return page, nil
}
