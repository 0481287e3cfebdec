package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger *slog.Logger
	jsonFormat bool
)

func init() {
	levelVar.Set(slog.LevelInfo)
	baseLogger = newLogger(os.Stdout)
}

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: &levelVar}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SetOutput 替换日志输出（例如 stdout + 文件）。
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	baseLogger = newLogger(w)
	loggerMu.Unlock()
}

// SetFormat 切换 text/json 输出，需在 SetOutput 之前调用。
func SetFormat(format string) {
	loggerMu.Lock()
	jsonFormat = strings.EqualFold(strings.TrimSpace(format), "json")
	loggerMu.Unlock()
}

// SetLevel 支持 debug/info/warn/error，未知值回落到 info。
func SetLevel(level string) {
	levelVar.Set(parseLevel(level))
}

// Level 返回当前级别名称（小写）。
func Level() string {
	return strings.ToLower(levelVar.Level().String())
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func activeLogger() *slog.Logger {
	loggerMu.RLock()
	l := baseLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if baseLogger == nil {
		baseLogger = newLogger(os.Stdout)
	}
	return baseLogger
}

func Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...))
}

// Tagged 返回带固定前缀的日志器，如 Tagged("live").Infof(...) 输出 "[live] ..."。
func Tagged(tag string) TagLogger {
	return TagLogger{prefix: "[" + strings.TrimSpace(tag) + "] "}
}

type TagLogger struct {
	prefix string
}

func (t TagLogger) Debugf(format string, v ...any) { Debugf(t.prefix+format, v...) }
func (t TagLogger) Infof(format string, v ...any)  { Infof(t.prefix+format, v...) }
func (t TagLogger) Warnf(format string, v ...any)  { Warnf(t.prefix+format, v...) }
func (t TagLogger) Errorf(format string, v ...any) { Errorf(t.prefix+format, v...) }

// InfoBlock 逐行输出多行文本（启动摘要等）。
func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	for _, line := range strings.Split(block, "\n") {
		Infof("%s", line)
	}
}
