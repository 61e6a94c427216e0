// Package postgres 基于 PostgreSQL 的事件存储, 全文检索使用 tsvector。
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/wordflowlab/devtrail/pkg/store"
	"github.com/wordflowlab/devtrail/pkg/store/sqlstore"
	"github.com/wordflowlab/devtrail/pkg/types"
)

// Config PostgreSQL 配置
type Config struct {
	sqlstore.Config

	// TextSearchConfig 全文检索语言配置, 默认 "english"
	TextSearchConfig string
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{Config: *sqlstore.DefaultConfig(), TextSearchConfig: "english"}
}

var regconfigPattern = regexp.MustCompile(`^[a-z_]+$`)

// Store PostgreSQL 事件存储
type Store struct {
	sqlstore.Reader
	db         *gorm.DB
	textConfig string
	now        func() time.Time
}

var _ store.Store = (*Store)(nil)

// New 连接数据库并按需迁移
func New(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("DSN is required")
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := sqlstore.ConfigurePool(db, &cfg.Config); err != nil {
		return nil, err
	}

	s, err := NewWithDB(db, cfg.TextSearchConfig)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := s.Migrate(context.Background()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB 使用已有连接
func NewWithDB(db *gorm.DB, textConfig string) (*Store, error) {
	if textConfig == "" {
		textConfig = "english"
	}
	textConfig = strings.ToLower(textConfig)
	if !regconfigPattern.MatchString(textConfig) {
		return nil, fmt.Errorf("invalid text search config %q", textConfig)
	}
	return &Store{
		Reader:     sqlstore.Reader{DB: db},
		db:         db,
		textConfig: textConfig,
		now:        time.Now,
	}, nil
}

// Migrate 建表并创建全文检索列与索引
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&sqlstore.EventLogModel{}, &CanonicalObjectModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	// 生成列与 GIN 索引 AutoMigrate 无法表达
	stmts := []string{
		fmt.Sprintf(`ALTER TABLE canonical_objects
			ADD COLUMN IF NOT EXISTS search_vector tsvector
			GENERATED ALWAYS AS (to_tsvector('%s', coalesce(search_text, ''))) STORED`, s.textConfig),
		`CREATE INDEX IF NOT EXISTS idx_canonical_search_vector
			ON canonical_objects USING GIN (search_vector)`,
		`CREATE INDEX IF NOT EXISTS idx_event_log_timeline
			ON event_log (occurred_at DESC, id DESC)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create indexes: %w", err)
		}
	}
	return nil
}

// StoreEvent 同一事务内追加日志并覆盖对象
func (s *Store) StoreEvent(ctx context.Context, ev *types.InternalEvent) (int64, error) {
	if err := store.ValidateEvent(ev); err != nil {
		return 0, err
	}
	now := s.now().UTC()
	rec, obj := store.Prepare(ev, now)

	logModel, err := sqlstore.LogModelFromRecord(rec)
	if err != nil {
		return 0, store.Wrap(store.ErrInvalidEvent.Code, "encode event", err)
	}
	objModel, err := fromObject(&obj, now)
	if err != nil {
		return 0, store.Wrap(store.ErrInvalidEvent.Code, "encode object", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(logModel).Error; err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		// last-writer-wins: 整行覆盖
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(objModel).Error; err != nil {
			return fmt.Errorf("upsert object: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, store.Wrap("write_failed", "store event", err)
	}
	return logModel.ID, nil
}

func (s *Store) GetCanonicalObject(ctx context.Context, id string) (*types.CanonicalObject, error) {
	var m CanonicalObjectModel
	if err := s.db.WithContext(ctx).
		Select(canonicalColumns).
		Where("id = ?", id).
		First(&m).Error; err != nil {
		return nil, sqlstore.NotFound(err)
	}
	return m.toObject()
}

func (s *Store) GetCanonicalObjects(ctx context.Context, ids []string) (map[string]*types.CanonicalObject, error) {
	out := make(map[string]*types.CanonicalObject, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var models []CanonicalObjectModel
	if err := s.db.WithContext(ctx).
		Select(canonicalColumns).
		Where("id IN ?", ids).
		Find(&models).Error; err != nil {
		return nil, store.Wrap("read_failed", "get objects", err)
	}
	for i := range models {
		obj, err := models[i].toObject()
		if err != nil {
			return nil, store.Wrap("read_failed", "decode object", err)
		}
		out[obj.ID] = obj
	}
	return out, nil
}

func (s *Store) ListCanonicalObjects(ctx context.Context, afterID string, limit int) ([]types.CanonicalObject, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []CanonicalObjectModel
	if err := s.db.WithContext(ctx).
		Select(canonicalColumns).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, store.Wrap("read_failed", "list objects", err)
	}
	out := make([]types.CanonicalObject, 0, len(models))
	for i := range models {
		obj, err := models[i].toObject()
		if err != nil {
			return nil, store.Wrap("read_failed", "decode object", err)
		}
		out = append(out, *obj)
	}
	return out, nil
}

type lexicalRow struct {
	CanonicalObjectModel `gorm:"embedded"`
	Rank                 float64
}

// SearchObjects websearch_to_tsquery 匹配, 按 ts_rank、updated_at、id 排序
func (s *Store) SearchObjects(ctx context.Context, query string, filter store.LexicalFilter) ([]types.LexicalResult, int, error) {
	filter = filter.Normalize()
	query = strings.TrimSpace(query)
	if query == "" {
		return []types.LexicalResult{}, 0, nil
	}

	tsquery := fmt.Sprintf("websearch_to_tsquery('%s', ?)", s.textConfig)
	base := s.db.WithContext(ctx).
		Model(&CanonicalObjectModel{}).
		Where("search_vector @@ "+tsquery, query)
	if filter.ObjectType != "" {
		base = base.Where("object_type = ?", string(filter.ObjectType))
	}
	if filter.Repository != "" {
		base = base.Where("repository = ?", filter.Repository)
	}
	base = base.Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, store.Wrap("read_failed", "count search", err)
	}
	if total == 0 {
		return []types.LexicalResult{}, 0, nil
	}

	var rows []lexicalRow
	if err := base.
		Select(canonicalColumns+", ts_rank(search_vector, "+tsquery+") AS rank", query).
		Order("rank DESC, updated_at DESC, id ASC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Scan(&rows).Error; err != nil {
		return nil, 0, store.Wrap("read_failed", "search objects", err)
	}

	results := make([]types.LexicalResult, 0, len(rows))
	for i := range rows {
		obj, err := rows[i].toObject()
		if err != nil {
			return nil, 0, store.Wrap("read_failed", "decode object", err)
		}
		results = append(results, types.LexicalResult{
			Object: obj,
			Rank:   filter.Offset + i + 1,
			Score:  rows[i].Rank,
		})
	}
	return results, int(total), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return sqlstore.Ping(ctx, s.db)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return sqlstore.Close(s.db)
}
