package domain

import "errors"

// 追踪状态相关错误
var (
	ErrTrackingInactive = errors.New("tracking inactive")
	ErrNoTrackedTarget  = errors.New("no tracked target")
	ErrTargetNotTracked = errors.New("target not tracked")
)

// 目标相关错误
var (
	ErrTargetNotFound     = errors.New("target not found")
	ErrTargetCreateFailed = errors.New("target create failed")
)

// 转发与采集相关错误
var (
	ErrControllerAbsent = errors.New("controller absent")
	ErrCaptureFailed    = errors.New("capture failed")
	ErrOriginRejected   = errors.New("origin rejected")
)

// 连接相关错误
var (
	ErrDevToolsUnreachable = errors.New("devtools unreachable")
	ErrBrowserStartFailed  = errors.New("browser start failed")
)

// 存储相关错误
var (
	ErrDatabaseNotInitialized = errors.New("database not initialized")
)
