package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wordflowlab/devtrail/pkg/types"
)

// MemoryStore 进程内存储, 用于测试与开发模式
type MemoryStore struct {
	mu      sync.RWMutex
	seq     int64
	log     []types.EventLogRecord
	objects map[string]*memoryObject
	closed  bool

	now func() time.Time
}

type memoryObject struct {
	obj   types.CanonicalObject
	terms termIndex
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]*memoryObject),
		now:     time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

// StoreEvent 追加日志并覆盖对象
func (s *MemoryStore) StoreEvent(ctx context.Context, ev *types.InternalEvent) (int64, error) {
	if err := ValidateEvent(ev); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rec, obj := Prepare(ev, s.now().UTC())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, Wrap("closed", "store closed", nil)
	}

	s.seq++
	rec.ID = s.seq
	s.log = append(s.log, *rec)
	s.objects[obj.ID] = &memoryObject{obj: obj, terms: buildTermIndex(obj.SearchText)}
	return rec.ID, nil
}

func (s *MemoryStore) GetCanonicalObject(ctx context.Context, id string) (*types.CanonicalObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.objects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneObject(&m.obj), nil
}

func (s *MemoryStore) GetCanonicalObjects(ctx context.Context, ids []string) (map[string]*types.CanonicalObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*types.CanonicalObject, len(ids))
	for _, id := range ids {
		if m, ok := s.objects[id]; ok {
			out[id] = cloneObject(&m.obj)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetEventHistory(ctx context.Context, id string, limit int) ([]types.EventLogRecord, error) {
	limit = ClampLimit(limit, DefaultHistoryLimit, MaxHistoryLimit)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.EventLogRecord
	for i := len(s.log) - 1; i >= 0 && len(out) < limit; i-- {
		if s.log[i].ObjectID == id {
			out = append(out, s.log[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) ListCanonicalObjects(ctx context.Context, afterID string, limit int) ([]types.CanonicalObject, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	ids := make([]string, 0, len(s.objects))
	for id := range s.objects {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]types.CanonicalObject, 0, len(ids))
	for _, id := range ids {
		out = append(out, *cloneObject(&s.objects[id].obj))
	}
	s.mu.RUnlock()
	return out, nil
}

// SearchObjects 词频排序, 所有查询词都需命中
func (s *MemoryStore) SearchObjects(ctx context.Context, query string, filter LexicalFilter) ([]types.LexicalResult, int, error) {
	filter = filter.Normalize()
	terms := Tokenize(query)
	if len(terms) == 0 {
		return []types.LexicalResult{}, 0, nil
	}

	s.mu.RLock()
	type hit struct {
		obj   *types.CanonicalObject
		score float64
	}
	var hits []hit
	for _, m := range s.objects {
		if filter.ObjectType != "" && m.obj.ObjectType != filter.ObjectType {
			continue
		}
		if filter.Repository != "" && m.obj.Repository() != filter.Repository {
			continue
		}
		if sc := m.terms.score(terms); sc > 0 {
			hits = append(hits, hit{obj: cloneObject(&m.obj), score: sc})
		}
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		ti, tj := hits[i].obj.Timestamps.UpdatedAt, hits[j].obj.Timestamps.UpdatedAt
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return hits[i].obj.ID < hits[j].obj.ID
	})

	total := len(hits)
	results := []types.LexicalResult{}
	for i := filter.Offset; i < total && len(results) < filter.Limit; i++ {
		results = append(results, types.LexicalResult{Object: hits[i].obj, Rank: i + 1, Score: hits[i].score})
	}
	return results, total, nil
}

func (s *MemoryStore) Timeline(ctx context.Context, filter TimelineFilter) ([]types.TimelineEntry, int, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.filterLog(filter)
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.After(b.OccurredAt)
		}
		return a.ID > b.ID
	})

	total := len(matched)
	entries := []types.TimelineEntry{}
	for i := filter.Offset; i < total && len(entries) < filter.Limit; i++ {
		rec := matched[i]
		entry := types.TimelineEntry{
			EventID:    rec.ID,
			EventType:  rec.EventType,
			Action:     rec.Action,
			ObjectID:   rec.ObjectID,
			ObjectType: rec.ObjectType,
			Repository: rec.Repository,
			Actor:      rec.ActorLogin,
			OccurredAt: rec.OccurredAt,
		}
		if m, ok := s.objects[rec.ObjectID]; ok {
			title, url := m.obj.Title, m.obj.URL()
			entry.Title = &title
			entry.URL = &url
			entry.Properties = cloneProps(m.obj.Properties)
		}
		entries = append(entries, entry)
	}
	return entries, total, nil
}

func (s *MemoryStore) TimelineStats(ctx context.Context, filter TimelineFilter) (*types.TimelineStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &types.TimelineStats{
		ByEventType:  map[string]int{},
		ByRepository: map[string]int{},
	}
	for _, rec := range s.filterLog(filter) {
		stats.TotalEvents++
		stats.ByEventType[rec.EventType]++
		stats.ByRepository[rec.Repository]++
	}
	return stats, nil
}

// filterLog 调用方持有读锁
func (s *MemoryStore) filterLog(filter TimelineFilter) []types.EventLogRecord {
	var out []types.EventLogRecord
	for _, rec := range s.log {
		if filter.Repository != "" && rec.Repository != filter.Repository {
			continue
		}
		if filter.ObjectType != "" && rec.ObjectType != filter.ObjectType {
			continue
		}
		if filter.Actor != "" && !strings.EqualFold(rec.ActorLogin, filter.Actor) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// DeleteObject 删除对象当前状态, 日志保留。仅用于测试缺失对象的场景。
func (s *MemoryStore) DeleteObject(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, id)
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Wrap("closed", "store closed", nil)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneObject(o *types.CanonicalObject) *types.CanonicalObject {
	c := *o
	c.Actors.Participants = append([]string(nil), o.Actors.Participants...)
	c.Properties = cloneProps(o.Properties)
	if o.RawPayload != nil {
		c.RawPayload = append(json.RawMessage(nil), o.RawPayload...)
	}
	return &c
}

func cloneProps(p map[string]interface{}) map[string]interface{} {
	if p == nil {
		return nil
	}
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
