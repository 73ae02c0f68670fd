package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/log/writer"
)

// SLogOptions 日志初始化选项
type SLogOptions struct {
	// 日志级别：debug, info, warn, error
	Level string `cfg:"level" def:"info" validate:"omitempty,oneof=debug info warn error"`

	// 输出格式：text, json
	Format string `cfg:"format" def:"text" validate:"omitempty,oneof=text json"`

	// 输出目标，为空时输出到标准输出
	Output *writer.Options `cfg:"output"`

	// 时间格式
	TimeFormat string `cfg:"timeFormat"`

	// 是否显示调用者信息
	AddSource bool `cfg:"addSource"`

	// 自定义字段
	Fields map[string]any `cfg:"fields"`
}

type SLog struct {
	slogger *slog.Logger
	closer  io.Closer
}

func NewSLogWithOptions(options *SLogOptions) (*SLog, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}

	level := options.Level
	if level == "" {
		level = "info"
	}
	format := options.Format
	if format == "" {
		format = "text"
	}
	timeFormat := options.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}

	lv, err := parseLevel(level)
	if err != nil {
		return nil, errors.WithMessage(err, "invalid log level")
	}

	w, err := writer.NewWriterWithOptions(options.Output)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create writer")
	}

	slogger, err := newSLogger(w, format, lv, options.AddSource, timeFormat)
	if err != nil {
		w.Close()
		return nil, err
	}

	if len(options.Fields) > 0 {
		args := make([]any, 0, len(options.Fields)*2)
		for k, v := range options.Fields {
			args = append(args, k, v)
		}
		slogger = slogger.With(args...)
	}

	return &SLog{slogger: slogger, closer: w}, nil
}

// NewSLogWithWriter 直接输出到 w，测试里用来捕获日志
func NewSLogWithWriter(w io.Writer, level string) (*SLog, error) {
	lv, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	slogger, err := newSLogger(w, "text", lv, false, time.RFC3339)
	if err != nil {
		return nil, err
	}
	return &SLog{slogger: slogger}, nil
}

// NewNop 丢弃所有日志
func NewNop() *SLog {
	return &SLog{slogger: slog.New(slog.DiscardHandler)}
}

func newSLogger(w io.Writer, format string, level slog.Level, addSource bool, timeFormat string) (*slog.Logger, error) {
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: addSource,
	}

	if timeFormat != time.RFC3339 {
		handlerOpts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{
					Key:   a.Key,
					Value: slog.StringValue(a.Value.Time().Format(timeFormat)),
				}
			}
			return a
		}
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	case "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	default:
		return nil, errors.Errorf("unsupported format: %s", format)
	}
	return slog.New(handler), nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.Errorf("unknown level: %s", level)
	}
}

func (l *SLog) Debug(msg string, args ...any) {
	l.slogger.Debug(msg, args...)
}

func (l *SLog) Info(msg string, args ...any) {
	l.slogger.Info(msg, args...)
}

func (l *SLog) Warn(msg string, args ...any) {
	l.slogger.Warn(msg, args...)
}

func (l *SLog) Error(msg string, args ...any) {
	l.slogger.Error(msg, args...)
}

func (l *SLog) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slogger.DebugContext(ctx, msg, args...)
}

func (l *SLog) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slogger.InfoContext(ctx, msg, args...)
}

func (l *SLog) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slogger.WarnContext(ctx, msg, args...)
}

func (l *SLog) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slogger.ErrorContext(ctx, msg, args...)
}

func (l *SLog) With(args ...any) Logger {
	return &SLog{slogger: l.slogger.With(args...), closer: l.closer}
}

func (l *SLog) WithGroup(name string) Logger {
	return &SLog{slogger: l.slogger.WithGroup(name), closer: l.closer}
}

// Close 关闭底层输出器，派生出来的日志器共享同一个输出器
func (l *SLog) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
