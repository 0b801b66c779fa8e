package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// LogLevel はログのレベルを表す型です。
type LogLevel = slog.Level

const (
	LevelDebug LogLevel = slog.LevelDebug
	LevelInfo  LogLevel = slog.LevelInfo
	LevelWarn  LogLevel = slog.LevelWarn
	LevelError LogLevel = slog.LevelError
)

var (
	mu       sync.RWMutex
	level    = new(slog.LevelVar)
	format   = "text"
	output   io.Writer = os.Stdout
	instance           = newLogger(output, format)
)

func newLogger(w io.Writer, f string) *slog.Logger {
	if strings.EqualFold(f, "json") {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	noColor := true
	if file, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(file.Fd())
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		NoColor:    noColor,
		TimeFormat: time.DateTime,
		Level:      level,
	}))
}

// SetLogLevel はログレベルを設定します。
func SetLogLevel(lv string) {
	switch strings.ToUpper(lv) {
	case "DEBUG":
		level.Set(LevelDebug)
	case "INFO", "":
		level.Set(LevelInfo)
	case "WARN", "WARNING":
		level.Set(LevelWarn)
	case "ERROR", "FATAL":
		level.Set(LevelError)
	default:
		level.Set(LevelInfo)
		Warnf("不明なログレベル '%s' が指定されました。INFO レベルで続行します。", lv)
	}
}

// SetFormat は出力形式 ("text" または "json") を設定します。
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()
	format = f
	instance = newLogger(output, format)
}

// SetOutput は出力先を変更します。主にテストで使用します。
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	instance = newLogger(output, format)
}

// Logger は現在の *slog.Logger を返します。構造化ログを直接出したい場合に使います。
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

func logf(lv LogLevel, f string, v ...interface{}) {
	l := Logger()
	if !l.Enabled(context.Background(), lv) {
		return
	}
	l.Log(context.Background(), lv, fmt.Sprintf(f, v...))
}

// Debugf は DEBUG レベルのログを出力します。
func Debugf(format string, v ...interface{}) {
	logf(LevelDebug, format, v...)
}

// Infof は INFO レベルのログを出力します。
func Infof(format string, v ...interface{}) {
	logf(LevelInfo, format, v...)
}

// Warnf は WARN レベルのログを出力します。
func Warnf(format string, v ...interface{}) {
	logf(LevelWarn, format, v...)
}

// Errorf は ERROR レベルのログを出力します。
func Errorf(format string, v ...interface{}) {
	logf(LevelError, format, v...)
}

// Fatalf は ERROR レベルでログを出力し、プログラムを終了します。
func Fatalf(format string, v ...interface{}) {
	logf(LevelError, "[FATAL] "+format, v...)
	os.Exit(1)
}
