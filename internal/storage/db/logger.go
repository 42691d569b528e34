package db

import (
	"context"
	"time"

	applog "cdptrack/internal/logger"

	"gorm.io/gorm/logger"
)

// Logger GORM 日志适配器
type Logger struct {
	log      applog.Logger
	LogLevel logger.LogLevel
}

// NewLogger 创建 GORM 日志适配器
func NewLogger(l applog.Logger) *Logger {
	return &Logger{log: l, LogLevel: logger.Warn}
}

// LogMode 设置日志级别
func (l *Logger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

// Info 打印 info 级别日志
func (l *Logger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Info {
		l.log.Info(msg, dataFields(data)...)
	}
}

// Warn 打印 warn 级别日志
func (l *Logger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Warn {
		l.log.Warn(msg, dataFields(data)...)
	}
}

// Error 打印 error 级别日志
func (l *Logger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Error {
		l.log.Error(msg, dataFields(data)...)
	}
}

// Trace 打印 SQL 日志
func (l *Logger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []any{
		"sql", sql,
		"rows", rows,
		"timeMs", float64(elapsed.Nanoseconds()) / 1e6,
	}

	switch {
	case err != nil && l.LogLevel >= logger.Error:
		l.log.Error("SQL执行错误", append(fields, "error", err)...)
	case elapsed > time.Second && l.LogLevel >= logger.Warn:
		l.log.Warn("慢SQL查询", append(fields, "threshold", "1s")...)
	case l.LogLevel == logger.Info:
		l.log.Debug("SQL执行", fields...)
	}
}

// dataFields 将 GORM 附加数据转换为键值字段
func dataFields(data []any) []any {
	if len(data)%2 != 0 {
		data = append(data, "MISSING")
	}
	return data
}
