// Package mysql 基于 MySQL 8.0+ 的事件存储, 全文检索使用 FULLTEXT 索引。
//
// DSN 需要包含 parseTime=true, 例如:
//
//	user:pass@tcp(localhost:3306)/devtrail?charset=utf8mb4&parseTime=True&loc=UTC
package mysql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/wordflowlab/devtrail/pkg/store"
	"github.com/wordflowlab/devtrail/pkg/store/sqlstore"
	"github.com/wordflowlab/devtrail/pkg/types"
)

// innodb_ft_min_token_size 默认值
const minTokenSize = 3

// Store MySQL 事件存储
type Store struct {
	sqlstore.Reader
	db  *gorm.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New 连接数据库并按需迁移
func New(cfg *sqlstore.Config) (*Store, error) {
	if cfg == nil {
		cfg = sqlstore.DefaultConfig()
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("DSN is required")
	}

	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to mysql: %w", err)
	}
	if err := sqlstore.ConfigurePool(db, cfg); err != nil {
		return nil, err
	}

	s := NewWithDB(db)
	if cfg.AutoMigrate {
		if err := s.Migrate(context.Background()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB 使用已有连接
func NewWithDB(db *gorm.DB) *Store {
	return &Store{Reader: sqlstore.Reader{DB: db}, db: db, now: time.Now}
}

// Migrate 建表; FULLTEXT 索引由模型标签创建
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx).Set("gorm:table_options", "ENGINE=InnoDB DEFAULT CHARSET=utf8mb4")
	if err := db.AutoMigrate(&sqlstore.EventLogModel{}, &CanonicalObjectModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// StoreEvent 同一事务内追加日志并覆盖对象(ON DUPLICATE KEY UPDATE)
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
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(objModel).Error; err != nil {
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
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
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
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
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

// BooleanQuery 将自由文本转换为 BOOLEAN MODE 查询。
// 每个词都必须出现; 词干是原词前缀时用词干加 * 匹配其他词形, 否则用原词加 *。
func BooleanQuery(query string) string {
	var parts []string
	seen := map[string]bool{}
	for _, word := range store.Words(query) {
		term := prefixTerm(word)
		if len(term) < minTokenSize || seen[term] {
			continue
		}
		seen[term] = true
		parts = append(parts, "+"+term+"*")
	}
	return strings.Join(parts, " ")
}

// prefixTerm 保证返回值是 word 的前缀, 索引中的原词总能被匹配
func prefixTerm(word string) string {
	if stem := store.Stem(word); stem != "" && strings.HasPrefix(word, stem) {
		return stem
	}
	return word
}

type lexicalRow struct {
	CanonicalObjectModel `gorm:"embedded"`
	Relevance            float64
}

// SearchObjects MATCH ... AGAINST 相关度排序
func (s *Store) SearchObjects(ctx context.Context, query string, filter store.LexicalFilter) ([]types.LexicalResult, int, error) {
	filter = filter.Normalize()
	bq := BooleanQuery(query)
	if bq == "" {
		return []types.LexicalResult{}, 0, nil
	}

	const match = "MATCH(search_text) AGAINST (? IN BOOLEAN MODE)"
	base := s.db.WithContext(ctx).Model(&CanonicalObjectModel{}).Where(match, bq)
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
		Select("canonical_objects.*, "+match+" AS relevance", bq).
		Order("relevance DESC, updated_at DESC, id ASC").
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
			Score:  rows[i].Relevance,
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
