// Package logging 提供 JSON 行格式的结构化日志。
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level 日志级别
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelOrder = map[Level]int{
	LevelDebug: 1,
	LevelInfo:  2,
	LevelWarn:  3,
	LevelError: 4,
}

// ParseLevel 解析级别字符串, 大小写不敏感
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if l == "warning" {
		l = LevelWarn
	}
	if _, ok := levelOrder[l]; !ok {
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// LogRecord 一条日志
type LogRecord struct {
	Timestamp time.Time              `json:"ts"`
	Level     Level                  `json:"level"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Transport 日志输出目标
type Transport interface {
	Name() string
	Log(ctx context.Context, rec *LogRecord) error
	Flush(ctx context.Context) error
}

// Logger 将日志分发到多个 Transport
type Logger struct {
	mu         sync.RWMutex
	level      Level
	transports []Transport
}

// NewLogger 创建 Logger
func NewLogger(level Level, transports ...Transport) *Logger {
	return &Logger{level: level, transports: transports}
}

// SetLevel 运行时调整级别
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Level 当前级别
func (l *Logger) Level() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// AddTransport 追加输出目标
func (l *Logger) AddTransport(t Transport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transports = append(l.transports, t)
}

// Enabled 判断级别是否输出
func (l *Logger) Enabled(level Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return levelOrder[level] >= levelOrder[l.level]
}

func (l *Logger) log(ctx context.Context, level Level, msg string, fields map[string]interface{}) {
	if !l.Enabled(level) {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rec := &LogRecord{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   msg,
		RequestID: RequestIDFromContext(ctx),
		Fields:    fields,
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.transports {
		_ = t.Log(ctx, rec)
	}
}

func (l *Logger) Debug(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, LevelDebug, msg, fields)
}

func (l *Logger) Info(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, LevelInfo, msg, fields)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, LevelWarn, msg, fields)
}

func (l *Logger) Error(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, LevelError, msg, fields)
}

// Flush 刷新全部 transport
func (l *Logger) Flush(ctx context.Context) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.transports {
		_ = t.Flush(ctx)
	}
}

// =========================
// 请求上下文
// =========================

type requestIDKey struct{}

// WithRequestID 将请求 ID 写入 context, 之后的日志自动携带
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext 读取请求 ID
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// =========================
// 输出目标
// =========================

// WriterTransport 以 JSON 行写入任意 io.Writer
type WriterTransport struct {
	name    string
	mu      sync.Mutex
	encoder *json.Encoder
}

// NewWriterTransport 创建 WriterTransport
func NewWriterTransport(name string, w io.Writer) *WriterTransport {
	return &WriterTransport{name: name, encoder: json.NewEncoder(w)}
}

// NewStdoutTransport 写到 stdout
func NewStdoutTransport() *WriterTransport {
	return NewWriterTransport("stdout", os.Stdout)
}

func (t *WriterTransport) Name() string { return t.name }

func (t *WriterTransport) Log(ctx context.Context, rec *LogRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.encoder.Encode(rec)
}

func (t *WriterTransport) Flush(ctx context.Context) error { return nil }

// FileTransport 追加写入日志文件
type FileTransport struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// NewFileTransport 打开(或创建)日志文件
func NewFileTransport(path string) (*FileTransport, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileTransport{file: f, encoder: json.NewEncoder(f)}, nil
}

func (t *FileTransport) Name() string { return "file" }

func (t *FileTransport) Log(ctx context.Context, rec *LogRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.encoder.Encode(rec)
}

func (t *FileTransport) Flush(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Sync()
}

// Close 关闭文件
func (t *FileTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}

// MemoryTransport 在内存中保留日志, 用于测试断言
type MemoryTransport struct {
	mu      sync.Mutex
	records []LogRecord
}

func NewMemoryTransport() *MemoryTransport { return &MemoryTransport{} }

func (t *MemoryTransport) Name() string { return "memory" }

func (t *MemoryTransport) Log(ctx context.Context, rec *LogRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, *rec)
	return nil
}

func (t *MemoryTransport) Flush(ctx context.Context) error { return nil }

// Records 返回已记录日志的副本
func (t *MemoryTransport) Records() []LogRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]LogRecord, len(t.records))
	copy(out, t.records)
	return out
}

// Messages 按 message 过滤
func (t *MemoryTransport) Messages(msg string) []LogRecord {
	var out []LogRecord
	for _, r := range t.Records() {
		if r.Message == msg {
			out = append(out, r)
		}
	}
	return out
}

// =========================
// 默认 Logger
// =========================

// Default 全局 Logger
var Default = NewLogger(LevelInfo, NewStdoutTransport())

// Configure 按配置重建 Default; file 为空时只写 stdout。
// 返回的 closer 用于关闭日志文件。
func Configure(level, file string) (io.Closer, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	transports := []Transport{NewStdoutTransport()}
	var closer io.Closer = nopCloser{}
	if file != "" {
		ft, err := NewFileTransport(file)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		transports = append(transports, ft)
		closer = ft
	}
	Default = NewLogger(lvl, transports...)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func Debug(ctx context.Context, msg string, fields map[string]interface{}) {
	Default.Debug(ctx, msg, fields)
}

func Info(ctx context.Context, msg string, fields map[string]interface{}) {
	Default.Info(ctx, msg, fields)
}

func Warn(ctx context.Context, msg string, fields map[string]interface{}) {
	Default.Warn(ctx, msg, fields)
}

func Error(ctx context.Context, msg string, fields map[string]interface{}) {
	Default.Error(ctx, msg, fields)
}

func Flush(ctx context.Context) {
	Default.Flush(ctx)
}
