// Package timeline 提供按时间倒序的活动流。
package timeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/wordflowlab/devtrail/pkg/store"
	"github.com/wordflowlab/devtrail/pkg/types"
)

// Filter 时间线查询条件
type Filter struct {
	Repository   string
	ObjectType   types.EventType
	Actor        string
	Limit        int
	Offset       int
	IncludeStats bool
}

// Page 时间线分页结果
type Page struct {
	Entries    []types.TimelineEntry
	Pagination types.Pagination
	Stats      *types.TimelineStats
}

// Service 时间线服务
type Service struct {
	reader store.TimelineReader
}

// NewService 创建时间线服务
func NewService(reader store.TimelineReader) *Service {
	return &Service{reader: reader}
}

// Get 返回事件日志与对象当前状态的联接, 新的在前。
// 对象行缺失时条目仍然返回, 标题与链接为空。
func (s *Service) Get(ctx context.Context, f Filter) (*Page, error) {
	tf := store.TimelineFilter{
		Repository: f.Repository,
		ObjectType: f.ObjectType,
		Actor:      f.Actor,
		Limit:      f.Limit,
		Offset:     f.Offset,
	}.Normalize()

	var (
		entries []types.TimelineEntry
		total   int
		stats   *types.TimelineStats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, total, err = s.reader.Timeline(gctx, tf)
		if err != nil {
			return fmt.Errorf("read timeline: %w", err)
		}
		return nil
	})
	if f.IncludeStats {
		g.Go(func() error {
			var err error
			stats, err = s.reader.TimelineStats(gctx, tf)
			if err != nil {
				return fmt.Errorf("read timeline stats: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if entries == nil {
		entries = []types.TimelineEntry{}
	}
	return &Page{
		Entries:    entries,
		Pagination: types.NewPagination(tf.Limit, tf.Offset, total),
		Stats:      stats,
	}, nil
}
