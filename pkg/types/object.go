package types

import (
	"encoding/json"
	"time"
)

// ObjectActors 对象相关的参与者
type ObjectActors struct {
	CreatedBy    string   `json:"created_by"`
	UpdatedBy    string   `json:"updated_by"`
	Participants []string `json:"participants"`
}

// ObjectTimestamps 对象时间戳(来自上游平台)
type ObjectTimestamps struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanonicalObject 平台对象的当前状态, 每个 ObjectID 恰好一行。
// 同一对象的新事件会整体覆盖该行(last-writer-wins, 不做字段级合并)。
type CanonicalObject struct {
	ID         string                 `json:"id"`
	Platform   string                 `json:"platform"`
	ObjectType EventType              `json:"object_type"`
	Title      string                 `json:"title"`
	Body       string                 `json:"body"`
	Actors     ObjectActors           `json:"actors"`
	Timestamps ObjectTimestamps       `json:"timestamps"`
	Properties map[string]interface{} `json:"properties"`
	SearchText string                 `json:"search_text"`
	RawPayload json.RawMessage        `json:"raw_payload,omitempty"`
}

// 常用属性键
const (
	PropState      = "state"
	PropRepository = "repository"
	PropURL        = "url"
	PropNumber     = "number"
	PropLabels     = "labels"
)

// Repository 从 properties 中读取仓库全名
func (o *CanonicalObject) Repository() string {
	return o.stringProp(PropRepository)
}

// State 从 properties 中读取状态
func (o *CanonicalObject) State() string {
	return o.stringProp(PropState)
}

// URL 从 properties 中读取链接
func (o *CanonicalObject) URL() string {
	return o.stringProp(PropURL)
}

func (o *CanonicalObject) stringProp(key string) string {
	if o == nil || o.Properties == nil {
		return ""
	}
	if v, ok := o.Properties[key].(string); ok {
		return v
	}
	return ""
}

// TimelineEntry 时间线条目: 事件日志行与对象当前状态的联接。
// 对象已被删除时 Title/URL/Properties 为空, 但事件仍然保留。
type TimelineEntry struct {
	EventID    int64                  `json:"event_id"`
	EventType  string                 `json:"event_type"`
	Action     string                 `json:"action"`
	ObjectID   string                 `json:"object_id"`
	ObjectType EventType              `json:"object_type"`
	Repository string                 `json:"repository"`
	Actor      string                 `json:"actor"`
	OccurredAt time.Time              `json:"occurred_at"`
	Title      *string                `json:"title"`
	URL        *string                `json:"url"`
	Properties map[string]interface{} `json:"properties"`
}

// TimelineStats 时间线统计
type TimelineStats struct {
	TotalEvents  int            `json:"total_events"`
	ByEventType  map[string]int `json:"by_event_type"`
	ByRepository map[string]int `json:"by_repository"`
}

// Pagination 分页信息
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

// NewPagination 构造分页信息
func NewPagination(limit, offset, total int) Pagination {
	return Pagination{
		Limit:   limit,
		Offset:  offset,
		Total:   total,
		HasMore: offset+limit < total,
	}
}
