package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/wordflowlab/devtrail/pkg/types"
)

// 评论对象的状态
const (
	CommentStateActive  = "active"
	CommentStateDeleted = "deleted"
	CommitStatePushed   = "pushed"
)

// CanonicalFromEvent 由内部事件推导对象的当前状态行。
// 结果整体覆盖已有行, 不与旧值合并。
func CanonicalFromEvent(ev types.InternalEvent) types.CanonicalObject {
	obj := types.CanonicalObject{
		ID:         ev.ObjectID,
		Platform:   ev.Platform,
		ObjectType: ev.ObjectType,
		RawPayload: ev.RawPayload,
		Properties: map[string]interface{}{
			types.PropRepository: ev.Repository.FullName,
			types.PropURL:        getString(ev.Object, "url"),
		},
	}
	author := getString(ev.Object, "author")
	participants := []string{author, ev.Actor.Login}

	switch ev.ObjectType {
	case types.EventTypeIssue:
		obj.Title = getString(ev.Object, "title")
		obj.Body = getString(ev.Object, "body")
		obj.Timestamps.CreatedAt = getTime(ev.Object, "created_at")
		obj.Timestamps.UpdatedAt = getTime(ev.Object, "updated_at")
		obj.Properties[types.PropState] = getString(ev.Object, "state")
		obj.Properties[types.PropNumber] = getInt(ev.Object, "number")
		obj.Properties[types.PropLabels] = getStrings(ev.Object, "labels")
		obj.Properties["is_pull_request"] = getBool(ev.Object, "is_pull_request")
		obj.Properties["comments"] = getInt(ev.Object, "comments")
		participants = append(participants, getStrings(ev.Object, "assignees")...)

	case types.EventTypePullRequest:
		obj.Title = getString(ev.Object, "title")
		obj.Body = getString(ev.Object, "body")
		obj.Timestamps.CreatedAt = getTime(ev.Object, "created_at")
		obj.Timestamps.UpdatedAt = getTime(ev.Object, "updated_at")
		merged := getBool(ev.Object, "merged")
		state := getString(ev.Object, "state")
		if merged {
			state = ActionMerged
		}
		obj.Properties[types.PropState] = state
		obj.Properties[types.PropNumber] = getInt(ev.Object, "number")
		obj.Properties[types.PropLabels] = getStrings(ev.Object, "labels")
		obj.Properties["merged"] = merged
		obj.Properties["draft"] = getBool(ev.Object, "draft")
		obj.Properties["head_ref"] = getString(ev.Object, "head_ref")
		obj.Properties["base_ref"] = getString(ev.Object, "base_ref")
		obj.Properties["additions"] = getInt(ev.Object, "additions")
		obj.Properties["deletions"] = getInt(ev.Object, "deletions")
		obj.Properties["changed_files"] = getInt(ev.Object, "changed_files")
		if t := getTime(ev.Object, "merged_at"); !t.IsZero() {
			obj.Properties["merged_at"] = t
		}
		participants = append(participants, getStrings(ev.Object, "assignees")...)
		participants = append(participants, getStrings(ev.Object, "reviewers")...)
		participants = append(participants, getString(ev.Object, "merged_by"))

	case types.EventTypeComment:
		number := getInt(ev.Object, "parent_number")
		obj.Title = fmt.Sprintf("Comment on #%d: %s", number, getString(ev.Object, "parent_title"))
		obj.Body = getString(ev.Object, "body")
		obj.Timestamps.CreatedAt = getTime(ev.Object, "created_at")
		obj.Timestamps.UpdatedAt = getTime(ev.Object, "updated_at")
		state := CommentStateActive
		if getBool(ev.Object, "deleted") {
			state = CommentStateDeleted
		}
		obj.Properties[types.PropState] = state
		obj.Properties["parent_number"] = number
		obj.Properties["parent_is_pull_request"] = getBool(ev.Object, "parent_is_pull_request")
		if path := getString(ev.Object, "path"); path != "" {
			obj.Properties["path"] = path
		}

	case types.EventTypeCommit:
		message := getString(ev.Object, "message")
		obj.Title = firstLine(message)
		obj.Body = message
		obj.Timestamps.CreatedAt = getTime(ev.Object, "committed_at")
		obj.Timestamps.UpdatedAt = obj.Timestamps.CreatedAt
		obj.Properties[types.PropState] = CommitStatePushed
		obj.Properties["sha"] = getString(ev.Object, "sha")
		obj.Properties["branch"] = getString(ev.Object, "branch")
		obj.Properties["files_added"] = getInt(ev.Object, "added")
		obj.Properties["files_removed"] = getInt(ev.Object, "removed")
		obj.Properties["files_modified"] = getInt(ev.Object, "modified")

	case types.EventTypeReview:
		number := getInt(ev.Object, "pr_number")
		obj.Title = fmt.Sprintf("Review on PR #%d: %s", number, getString(ev.Object, "pr_title"))
		obj.Body = getString(ev.Object, "body")
		obj.Timestamps.CreatedAt = getTime(ev.Object, "submitted_at")
		obj.Timestamps.UpdatedAt = obj.Timestamps.CreatedAt
		obj.Properties[types.PropState] = getString(ev.Object, "state")
		obj.Properties["pr_number"] = number
		obj.Properties["commit_id"] = getString(ev.Object, "commit_id")
	}

	if obj.Timestamps.CreatedAt.IsZero() {
		obj.Timestamps.CreatedAt = ev.Timestamp
	}
	if obj.Timestamps.UpdatedAt.IsZero() {
		obj.Timestamps.UpdatedAt = ev.Timestamp
	}
	if author == "" {
		author = ev.Actor.Login
	}
	obj.Actors = types.ObjectActors{
		CreatedBy:    author,
		UpdatedBy:    ev.Actor.Login,
		Participants: dedupe(participants),
	}
	obj.SearchText = BuildSearchText(&obj)
	return obj
}

// BuildSearchText 拼接全文检索使用的文本
func BuildSearchText(obj *types.CanonicalObject) string {
	parts := []string{obj.Title, obj.Body}
	if labels, ok := obj.Properties[types.PropLabels].([]string); ok {
		parts = append(parts, labels...)
	}
	parts = append(parts, obj.Repository(), obj.Actors.CreatedBy)

	var b strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(p)
	}
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getBool(m map[string]interface{}, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func getInt(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func getStrings(m map[string]interface{}, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func getTime(m map[string]interface{}, key string) time.Time {
	switch v := m[key].(type) {
	case time.Time:
		return v.UTC()
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
