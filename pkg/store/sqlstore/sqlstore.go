// Package sqlstore 是 postgres 与 mysql 后端共享的 gorm 模型与查询。
package sqlstore

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/wordflowlab/devtrail/pkg/store"
	"github.com/wordflowlab/devtrail/pkg/types"
)

// Config SQL 后端通用配置
type Config struct {
	// DSN 数据库连接字符串
	DSN string

	// MaxIdleConns 最大空闲连接数
	MaxIdleConns int

	// MaxOpenConns 最大打开连接数, 同时也是写入的并发上限
	MaxOpenConns int

	// ConnMaxLifetime 连接最大生命周期
	ConnMaxLifetime time.Duration

	// LogLevel GORM 日志级别
	LogLevel logger.LogLevel

	// AutoMigrate 是否自动迁移表结构
	AutoMigrate bool
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxIdleConns:    5,
		MaxOpenConns:    20,
		ConnMaxLifetime: time.Hour,
		LogLevel:        logger.Warn,
		AutoMigrate:     true,
	}
}

// ParseLogLevel 将配置字符串转换为 GORM 日志级别
func ParseLogLevel(s string) logger.LogLevel {
	switch strings.ToLower(s) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// ConfigurePool 设置连接池
func ConfigurePool(db *gorm.DB, cfg *Config) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return nil
}

// JSON 原始 JSON 列; postgres 使用 JSONB, mysql 使用 JSON
type JSON []byte

// Value 空值写入 NULL
func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan 读取 JSON 列
func (j *JSON) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSON(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
	return nil
}

func (JSON) GormDataType() string { return "json" }

func (JSON) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "JSONB"
	case "mysql":
		return "JSON"
	}
	return ""
}

// EncodeMap 序列化 map, nil 或空 map 返回 nil
func EncodeMap(m map[string]interface{}) (JSON, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return JSON(b), nil
}

// DecodeMap 反序列化 map
func DecodeMap(j JSON) (map[string]interface{}, error) {
	if len(j) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(j, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// RawJSON 复制原始负载, 非法 JSON 时以字符串形式保存
func RawJSON(raw json.RawMessage) JSON {
	if len(raw) == 0 {
		return nil
	}
	if !json.Valid(raw) {
		b, _ := json.Marshal(string(raw))
		return JSON(b)
	}
	return JSON(append([]byte(nil), raw...))
}

// EventLogModel 事件日志
// 对应表: event_log
type EventLogModel struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	EventType       string    `gorm:"size:128;not null;index:idx_event_log_type"`
	SourceEventName string    `gorm:"size:64;not null"`
	Action          string    `gorm:"size:64;not null"`
	ObjectID        string    `gorm:"size:512;not null;index:idx_event_log_object"`
	ObjectType      string    `gorm:"size:32;not null;index:idx_event_log_object_type"`
	Platform        string    `gorm:"size:32;not null"`
	Repository      string    `gorm:"size:255;not null;index:idx_event_log_repository"`
	ActorLogin      string    `gorm:"size:255;index:idx_event_log_actor"`
	OccurredAt      time.Time `gorm:"not null;index:idx_event_log_occurred"`
	ReceivedAt      time.Time `gorm:"not null"`
	Diff            JSON
	RawPayload      JSON
}

// TableName 指定表名
func (EventLogModel) TableName() string {
	return "event_log"
}

// LogModelFromRecord 转换为数据库模型
func LogModelFromRecord(rec *types.EventLogRecord) (*EventLogModel, error) {
	diff, err := EncodeMap(rec.Diff)
	if err != nil {
		return nil, fmt.Errorf("marshal diff: %w", err)
	}
	return &EventLogModel{
		EventType:       rec.EventType,
		SourceEventName: rec.SourceEventName,
		Action:          rec.Action,
		ObjectID:        rec.ObjectID,
		ObjectType:      string(rec.ObjectType),
		Platform:        rec.Platform,
		Repository:      rec.Repository,
		ActorLogin:      rec.ActorLogin,
		OccurredAt:      rec.OccurredAt.UTC(),
		ReceivedAt:      rec.ReceivedAt.UTC(),
		Diff:            diff,
		RawPayload:      RawJSON(rec.RawPayload),
	}, nil
}

// ToRecord 转换为领域记录
func (m *EventLogModel) ToRecord() (types.EventLogRecord, error) {
	diff, err := DecodeMap(m.Diff)
	if err != nil {
		return types.EventLogRecord{}, fmt.Errorf("unmarshal diff: %w", err)
	}
	rec := types.EventLogRecord{
		ID:              m.ID,
		EventType:       m.EventType,
		SourceEventName: m.SourceEventName,
		Action:          m.Action,
		ObjectID:        m.ObjectID,
		ObjectType:      types.EventType(m.ObjectType),
		Platform:        m.Platform,
		Repository:      m.Repository,
		ActorLogin:      m.ActorLogin,
		OccurredAt:      m.OccurredAt.UTC(),
		ReceivedAt:      m.ReceivedAt.UTC(),
		Diff:            diff,
	}
	if len(m.RawPayload) > 0 {
		rec.RawPayload = json.RawMessage(m.RawPayload)
	}
	return rec, nil
}

// Reader 两种方言共享的只读查询
type Reader struct {
	DB *gorm.DB
	// CanonicalTable 对象表名
	CanonicalTable string
}

// GetEventHistory 对象的事件日志, 新的在前
func (r *Reader) GetEventHistory(ctx context.Context, id string, limit int) ([]types.EventLogRecord, error) {
	limit = store.ClampLimit(limit, store.DefaultHistoryLimit, store.MaxHistoryLimit)

	var models []EventLogModel
	if err := r.DB.WithContext(ctx).
		Where("object_id = ?", id).
		Order("id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, store.Wrap("read_failed", "get event history", err)
	}

	out := make([]types.EventLogRecord, 0, len(models))
	for i := range models {
		rec, err := models[i].ToRecord()
		if err != nil {
			return nil, store.Wrap("read_failed", "decode event", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

type timelineRow struct {
	EventID    int64
	EventType  string
	Action     string
	ObjectID   string
	ObjectType string
	Repository string
	ActorLogin string
	OccurredAt time.Time
	Title      *string
	URL        *string
	Properties JSON
}

func (r *Reader) timelineQuery(ctx context.Context, f store.TimelineFilter) *gorm.DB {
	q := r.DB.WithContext(ctx).Table("event_log AS e")
	if f.Repository != "" {
		q = q.Where("e.repository = ?", f.Repository)
	}
	if f.ObjectType != "" {
		q = q.Where("e.object_type = ?", string(f.ObjectType))
	}
	if f.Actor != "" {
		q = q.Where("LOWER(e.actor_login) = LOWER(?)", f.Actor)
	}
	return q
}

// Timeline 日志行左联对象表, 按发生时间与序号倒序
func (r *Reader) Timeline(ctx context.Context, f store.TimelineFilter) ([]types.TimelineEntry, int, error) {
	f = f.Normalize()

	var total int64
	if err := r.timelineQuery(ctx, f).Count(&total).Error; err != nil {
		return nil, 0, store.Wrap("read_failed", "count timeline", err)
	}

	var rows []timelineRow
	if err := r.timelineQuery(ctx, f).
		Select("e.id AS event_id, e.event_type, e.action, e.object_id, e.object_type, e.repository, e.actor_login, e.occurred_at, c.title, c.url, c.properties").
		Joins(fmt.Sprintf("LEFT JOIN %s AS c ON c.id = e.object_id", r.canonicalTable())).
		Order("e.occurred_at DESC, e.id DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Scan(&rows).Error; err != nil {
		return nil, 0, store.Wrap("read_failed", "query timeline", err)
	}

	entries := make([]types.TimelineEntry, 0, len(rows))
	for _, row := range rows {
		props, err := DecodeMap(row.Properties)
		if err != nil {
			return nil, 0, store.Wrap("read_failed", "decode properties", err)
		}
		entries = append(entries, types.TimelineEntry{
			EventID:    row.EventID,
			EventType:  row.EventType,
			Action:     row.Action,
			ObjectID:   row.ObjectID,
			ObjectType: types.EventType(row.ObjectType),
			Repository: row.Repository,
			Actor:      row.ActorLogin,
			OccurredAt: row.OccurredAt.UTC(),
			Title:      row.Title,
			URL:        row.URL,
			Properties: props,
		})
	}
	return entries, int(total), nil
}

type countRow struct {
	Name string
	N    int
}

// TimelineStats 过滤后的事件统计
func (r *Reader) TimelineStats(ctx context.Context, f store.TimelineFilter) (*types.TimelineStats, error) {
	stats := &types.TimelineStats{
		ByEventType:  map[string]int{},
		ByRepository: map[string]int{},
	}

	for column, target := range map[string]map[string]int{
		"e.event_type": stats.ByEventType,
		"e.repository": stats.ByRepository,
	} {
		var rows []countRow
		if err := r.timelineQuery(ctx, f).
			Select(column + " AS name, COUNT(*) AS n").
			Group(column).
			Scan(&rows).Error; err != nil {
			return nil, store.Wrap("read_failed", "timeline stats", err)
		}
		for _, row := range rows {
			target[row.Name] = row.N
		}
	}
	for _, n := range stats.ByEventType {
		stats.TotalEvents += n
	}
	return stats, nil
}

func (r *Reader) canonicalTable() string {
	if r.CanonicalTable == "" {
		return "canonical_objects"
	}
	return r.CanonicalTable
}

// Ping 检查连接
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NotFound 将 gorm 的未找到错误转换为 store.ErrNotFound
func NotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return store.Wrap("read_failed", "read object", err)
}
