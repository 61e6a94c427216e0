// Package rrf 实现倒数排名融合(Reciprocal Rank Fusion)。
//
// 排名为 r(从 1 开始)的条目贡献 1/(k+r), 同一条目在各来源的贡献相加。
// 仅使用排名而非原始分数, 因此不同尺度的检索结果可以直接融合。
package rrf

import (
	"sort"

	"github.com/wordflowlab/devtrail/pkg/types"
)

// DefaultK 平滑常数
const DefaultK = 60

// 来源名称
const (
	SourceKeyword  = "keyword"
	SourceSemantic = "semantic"
)

// RankedList 单一来源的有序结果, IDs[0] 排名为 1
type RankedList struct {
	Source string
	IDs    []string
	// Scores 可选, 与 IDs 对齐的原始分数, 仅用于回填 Contribution
	Scores []float64
}

// Options 融合参数
type Options struct {
	// K <= 0 时使用 DefaultK
	K int
	// MinSources 结果至少出现在多少个不同来源中, <= 0 时为 1
	MinSources int
}

// Contribution 某一来源对结果的贡献
type Contribution struct {
	Source string  `json:"source"`
	Rank   int     `json:"rank"`
	Score  float64 `json:"score"`
}

// Result 融合结果
type Result struct {
	ID              string         `json:"id"`
	Score           float64        `json:"score"`
	NormalizedScore float64        `json:"normalized_score"`
	Contributions   []Contribution `json:"contributions"`
}

// Contribution 返回指定来源的贡献
func (r *Result) Contribution(source string) (Contribution, bool) {
	for _, c := range r.Contributions {
		if c.Source == source {
			return c, true
		}
	}
	return Contribution{}, false
}

// Fuse 融合多个有序列表。
// 同一列表内重复的 ID 只按最好的排名计一次; 同名来源视为同一来源。
// 结果按分数降序, 分数相同时按 ID 升序。
func Fuse(lists []RankedList, opts Options) []Result {
	k := opts.K
	if k <= 0 {
		k = DefaultK
	}
	minSources := opts.MinSources
	if minSources <= 0 {
		minSources = 1
	}

	byID := make(map[string]*Result)
	var order []string
	for _, list := range lists {
		for i, id := range list.IDs {
			if id == "" {
				continue
			}
			r, ok := byID[id]
			if !ok {
				r = &Result{ID: id}
				byID[id] = r
				order = append(order, id)
			}
			if _, seen := r.Contribution(list.Source); seen {
				continue
			}
			c := Contribution{Source: list.Source, Rank: i + 1}
			if i < len(list.Scores) {
				c.Score = list.Scores[i]
			}
			r.Contributions = append(r.Contributions, c)
			r.Score += 1.0 / float64(k+i+1)
		}
	}

	results := make([]Result, 0, len(order))
	for _, id := range order {
		r := byID[id]
		if len(r.Contributions) < minSources {
			continue
		}
		results = append(results, *r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results
}

// Normalize 将分数 min-max 归一化到 [0,1] 写入 NormalizedScore; 全部相等时为 1.0
func Normalize(results []Result) []Result {
	if len(results) == 0 {
		return results
	}
	lo, hi := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < lo {
			lo = r.Score
		}
		if r.Score > hi {
			hi = r.Score
		}
	}
	for i := range results {
		if hi == lo {
			results[i].NormalizedScore = 1.0
			continue
		}
		results[i].NormalizedScore = (results[i].Score - lo) / (hi - lo)
	}
	return results
}

// Classify 根据贡献来源判断命中类型
func Classify(contributions []Contribution) types.MatchType {
	var keyword, semantic bool
	for _, c := range contributions {
		switch c.Source {
		case SourceKeyword:
			keyword = true
		case SourceSemantic:
			semantic = true
		}
	}
	switch {
	case keyword && semantic:
		return types.MatchHybrid
	case semantic:
		return types.MatchSemantic
	default:
		return types.MatchKeyword
	}
}
