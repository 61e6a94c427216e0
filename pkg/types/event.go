package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType 平台无关的事件类型
type EventType string

const (
	EventTypeCommit      EventType = "commit"
	EventTypeIssue       EventType = "issue"
	EventTypePullRequest EventType = "pull_request"
	EventTypeComment     EventType = "comment"
	EventTypeReview      EventType = "review"
)

// Valid 判断是否为已知的事件类型
func (t EventType) Valid() bool {
	switch t {
	case EventTypeCommit, EventTypeIssue, EventTypePullRequest, EventTypeComment, EventTypeReview:
		return true
	}
	return false
}

// PlatformGitHub 当前唯一接入的平台
const PlatformGitHub = "github"

// Repository 事件所属仓库
type Repository struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Owner    string `json:"owner"`
	Name     string `json:"name"`
	URL      string `json:"url,omitempty"`
}

// Actor 触发事件的用户
type Actor struct {
	Login string `json:"login"`
	ID    int64  `json:"id,omitempty"`
	URL   string `json:"url,omitempty"`
}

// InternalEvent 归一化后的内部事件。
// 同一个平台对象的所有事件共享同一个 ObjectID, 重复投递总是映射到相同身份。
type InternalEvent struct {
	EventType       EventType              `json:"event_type"`
	SourceEventName string                 `json:"source_event_name"`
	Action          string                 `json:"action"`
	Timestamp       time.Time              `json:"timestamp"`
	ObjectID        string                 `json:"object_id"`
	ObjectType      EventType              `json:"object_type"`
	Platform        string                 `json:"platform"`
	Repository      Repository             `json:"repository"`
	Actor           Actor                  `json:"actor"`
	Object          map[string]interface{} `json:"object"`
	Diff            map[string]interface{} `json:"diff,omitempty"`
	RawPayload      json.RawMessage        `json:"raw_payload,omitempty"`
}

// LogEventType 事件日志中记录的类型, 形如 "pull_request.opened"
func (e *InternalEvent) LogEventType() string {
	if e.Action == "" {
		return string(e.EventType)
	}
	return string(e.EventType) + "." + e.Action
}

// ObjectID 构造确定性的对象标识: platform:repo:<owner/name>:<type>:<number|sha>
func ObjectID(platform, repoFullName string, objectType EventType, key interface{}) string {
	return fmt.Sprintf("%s:repo:%s:%s:%v", platform, repoFullName, objectType, key)
}

// ParseObjectID 拆分对象标识, 返回 platform, repository, type, key
func ParseObjectID(id string) (platform, repo string, objectType EventType, key string, err error) {
	// repository 本身包含 "/", 但不包含 ":"
	parts := strings.Split(id, ":")
	if len(parts) != 5 || parts[1] != "repo" {
		return "", "", "", "", fmt.Errorf("malformed object id %q", id)
	}
	return parts[0], parts[2], EventType(parts[3]), parts[4], nil
}

// EventLogRecord 追加写入的事件日志记录, 写入后不可变
type EventLogRecord struct {
	ID              int64                  `json:"id"`
	EventType       string                 `json:"event_type"`
	SourceEventName string                 `json:"source_event_name"`
	Action          string                 `json:"action"`
	ObjectID        string                 `json:"object_id"`
	ObjectType      EventType              `json:"object_type"`
	Platform        string                 `json:"platform"`
	Repository      string                 `json:"repository"`
	ActorLogin      string                 `json:"actor_login"`
	OccurredAt      time.Time              `json:"occurred_at"`
	ReceivedAt      time.Time              `json:"received_at"`
	Diff            map[string]interface{} `json:"diff,omitempty"`
	RawPayload      json.RawMessage        `json:"raw_payload,omitempty"`
}

// NewEventLogRecord 从内部事件构造日志记录(ID 由存储层分配)
func NewEventLogRecord(e *InternalEvent, receivedAt time.Time) *EventLogRecord {
	return &EventLogRecord{
		EventType:       e.LogEventType(),
		SourceEventName: e.SourceEventName,
		Action:          e.Action,
		ObjectID:        e.ObjectID,
		ObjectType:      e.ObjectType,
		Platform:        e.Platform,
		Repository:      e.Repository.FullName,
		ActorLogin:      e.Actor.Login,
		OccurredAt:      e.Timestamp,
		ReceivedAt:      receivedAt,
		Diff:            e.Diff,
		RawPayload:      e.RawPayload,
	}
}
