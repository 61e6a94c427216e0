package semantic

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wordflowlab/devtrail/pkg/types"
)

// MaxBodyRunes 参与向量化的正文上限
const MaxBodyRunes = 2000

// PrepareForEmbedding 将对象压缩为一段用于向量化的文本。
// 依次为类型、仓库、标题、作者、状态、类型相关字段, 最后是截断后的正文。
func PrepareForEmbedding(obj *types.CanonicalObject) string {
	if obj == nil {
		return ""
	}
	var lines []string
	add := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			lines = append(lines, label+": "+value)
		}
	}

	add("Type", string(obj.ObjectType))
	add("Repository", obj.Repository())
	add("Title", obj.Title)
	add("Author", obj.Actors.CreatedBy)
	add("State", obj.State())

	p := obj.Properties
	switch obj.ObjectType {
	case types.EventTypeIssue:
		add("Labels", strings.Join(propStrings(p, types.PropLabels), ", "))
	case types.EventTypePullRequest:
		add("Labels", strings.Join(propStrings(p, types.PropLabels), ", "))
		if head, base := propString(p, "head_ref"), propString(p, "base_ref"); head != "" || base != "" {
			add("Branch", fmt.Sprintf("%s -> %s", head, base))
		}
	case types.EventTypeComment:
		if n := propInt(p, "parent_number"); n > 0 {
			add("Parent", "#"+strconv.Itoa(n))
		}
		add("Path", propString(p, "path"))
	case types.EventTypeCommit:
		add("Branch", propString(p, "branch"))
		add("SHA", propString(p, "sha"))
	case types.EventTypeReview:
		if n := propInt(p, "pr_number"); n > 0 {
			add("Pull Request", "#"+strconv.Itoa(n))
		}
	}

	if body := strings.TrimSpace(obj.Body); body != "" {
		lines = append(lines, "", truncateRunes(body, MaxBodyRunes))
	}
	return strings.Join(lines, "\n")
}

// Payload 向量载荷, 可用于过滤
func Payload(obj *types.CanonicalObject) map[string]interface{} {
	return map[string]interface{}{
		"object_id":   obj.ID,
		"object_type": string(obj.ObjectType),
		"repository":  obj.Repository(),
		"created_by":  obj.Actors.CreatedBy,
		"state":       obj.State(),
		"title":       obj.Title,
		"created_at":  formatTime(obj.Timestamps.CreatedAt),
		"updated_at":  formatTime(obj.Timestamps.UpdatedAt),
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// 对象读回后 properties 经过一次 JSON 往返, 数值为 float64, 列表为 []interface{}

func propString(p map[string]interface{}, key string) string {
	s, _ := p[key].(string)
	return s
}

func propInt(p map[string]interface{}, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func propStrings(p map[string]interface{}, key string) []string {
	switch v := p[key].(type) {
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
