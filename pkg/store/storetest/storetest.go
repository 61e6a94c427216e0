// Package storetest 提供构造内部事件与预置存储数据的测试辅助函数。
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/wordflowlab/devtrail/pkg/types"
)

// Repo 测试默认仓库
const Repo = "acme/widgets"

// BaseTime 测试事件的起始时间
var BaseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Event 构造一个 issue / pull_request 事件, 时间戳为 BaseTime + number 分钟
func Event(objectType types.EventType, number int, title, body string) *types.InternalEvent {
	return EventIn(Repo, objectType, number, title, body)
}

// EventIn 同 Event, 指定仓库
func EventIn(repo string, objectType types.EventType, number int, title, body string) *types.InternalEvent {
	ts := BaseTime.Add(time.Duration(number) * time.Minute)
	return &types.InternalEvent{
		EventType:       objectType,
		SourceEventName: sourceName(objectType),
		Action:          "opened",
		Timestamp:       ts,
		ObjectID:        types.ObjectID(types.PlatformGitHub, repo, objectType, number),
		ObjectType:      objectType,
		Platform:        types.PlatformGitHub,
		Repository:      types.Repository{FullName: repo},
		Actor:           types.Actor{Login: "octocat"},
		Object: map[string]interface{}{
			"number":     number,
			"title":      title,
			"body":       body,
			"state":      "open",
			"author":     "octocat",
			"url":        fmt.Sprintf("https://github.com/%s/issues/%d", repo, number),
			"created_at": ts,
			"updated_at": ts,
		},
	}
}

func sourceName(t types.EventType) string {
	if t == types.EventTypePullRequest {
		return "pull_request"
	}
	return "issues"
}

// Writer 可写入事件的存储
type Writer interface {
	StoreEvent(ctx context.Context, ev *types.InternalEvent) (int64, error)
}

// Seed 依次写入事件, 任一失败即终止测试
func Seed(t testing.TB, w Writer, evs ...*types.InternalEvent) {
	t.Helper()
	for _, ev := range evs {
		if _, err := w.StoreEvent(context.Background(), ev); err != nil {
			t.Fatalf("seed %s: %v", ev.ObjectID, err)
		}
	}
}
