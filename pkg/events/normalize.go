package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/wordflowlab/devtrail/pkg/types"
)

// 归一化后的动作
const (
	ActionPushed       = "pushed"
	ActionMerged       = "merged"
	ActionSynchronized = "synchronized"
	ActionDeleted      = "deleted"
)

// Normalizer 将平台负载转换为内部事件
type Normalizer struct {
	// Now 负载缺少时间戳时使用
	Now func() time.Time
}

// NewNormalizer 创建归一化器
func NewNormalizer() *Normalizer {
	return &Normalizer{Now: time.Now}
}

var defaultNormalizer = NewNormalizer()

// Normalize 使用默认归一化器解码并转换一次投递
func Normalize(eventName string, body []byte) ([]types.InternalEvent, error) {
	return defaultNormalizer.Normalize(eventName, body)
}

// Normalize 解码并转换一次投递。
// push 按提交展开为多个事件; ping 与未知事件返回零个事件。
func (n *Normalizer) Normalize(eventName string, body []byte) ([]types.InternalEvent, error) {
	p, err := Decode(eventName, body)
	if err != nil {
		return nil, err
	}
	return n.FromPayload(p, body), nil
}

// FromPayload 转换已解码的负载
func (n *Normalizer) FromPayload(p Payload, raw []byte) []types.InternalEvent {
	switch v := p.(type) {
	case *IssuesPayload:
		return []types.InternalEvent{n.fromIssue(v, raw)}
	case *PullRequestPayload:
		return []types.InternalEvent{n.fromPullRequest(v, raw)}
	case *IssueCommentPayload:
		return []types.InternalEvent{n.fromComment(v, raw)}
	case *PushPayload:
		return n.fromPush(v)
	case *PullRequestReviewPayload:
		return []types.InternalEvent{n.fromReview(v, raw)}
	case *PingPayload, *IgnoredPayload:
		return nil
	}
	return nil
}

func (n *Normalizer) fromIssue(p *IssuesPayload, raw []byte) types.InternalEvent {
	issue := p.Issue
	repo := toRepository(p.Repository)
	ev := types.InternalEvent{
		EventType:       types.EventTypeIssue,
		SourceEventName: GitHubIssues,
		Action:          p.Action,
		Timestamp:       n.pick(issue.UpdatedAt, issue.CreatedAt),
		ObjectID:        types.ObjectID(types.PlatformGitHub, repo.FullName, types.EventTypeIssue, issue.Number),
		ObjectType:      types.EventTypeIssue,
		Platform:        types.PlatformGitHub,
		Repository:      repo,
		Actor:           toActor(p.Sender),
		Object: map[string]interface{}{
			"number":          issue.Number,
			"title":           issue.Title,
			"body":            issue.Body,
			"state":           issue.State,
			"url":             issue.HTMLURL,
			"author":          issue.User.Login,
			"assignees":       logins(issue.Assignees),
			"labels":          labelNames(issue.Labels),
			"comments":        issue.Comments,
			"is_pull_request": issue.IsPullRequest(),
			"created_at":      issue.CreatedAt,
			"updated_at":      issue.UpdatedAt,
		},
		RawPayload: json.RawMessage(raw),
	}
	if issue.ClosedAt != nil {
		ev.Object["closed_at"] = *issue.ClosedAt
	}
	ev.Diff = stateDiff(p.Action, issue.State, p.Changes)
	return ev
}

func (n *Normalizer) fromPullRequest(p *PullRequestPayload, raw []byte) types.InternalEvent {
	pr := p.PullRequest
	repo := toRepository(p.Repository)
	action := p.Action
	switch {
	case action == "closed" && pr.Merged:
		action = ActionMerged
	case action == "synchronize":
		action = ActionSynchronized
	}

	ev := types.InternalEvent{
		EventType:       types.EventTypePullRequest,
		SourceEventName: GitHubPullRequest,
		Action:          action,
		Timestamp:       n.pick(pr.UpdatedAt, pr.CreatedAt),
		ObjectID:        types.ObjectID(types.PlatformGitHub, repo.FullName, types.EventTypePullRequest, pr.Number),
		ObjectType:      types.EventTypePullRequest,
		Platform:        types.PlatformGitHub,
		Repository:      repo,
		Actor:           toActor(p.Sender),
		Object: map[string]interface{}{
			"number":        pr.Number,
			"title":         pr.Title,
			"body":          pr.Body,
			"state":         pr.State,
			"url":           pr.HTMLURL,
			"author":        pr.User.Login,
			"assignees":     logins(pr.Assignees),
			"reviewers":     logins(pr.Reviewers),
			"labels":        labelNames(pr.Labels),
			"draft":         pr.Draft,
			"merged":        pr.Merged,
			"head_ref":      pr.Head.Ref,
			"base_ref":      pr.Base.Ref,
			"additions":     pr.Additions,
			"deletions":     pr.Deletions,
			"changed_files": pr.ChangedFiles,
			"created_at":    pr.CreatedAt,
			"updated_at":    pr.UpdatedAt,
		},
		RawPayload: json.RawMessage(raw),
	}
	if pr.MergedAt != nil {
		ev.Object["merged_at"] = *pr.MergedAt
	}
	if pr.MergedBy != nil {
		ev.Object["merged_by"] = pr.MergedBy.Login
	}

	switch action {
	case ActionMerged:
		diff := map[string]interface{}{"merged": true}
		if pr.MergedAt != nil {
			diff["merged_at"] = *pr.MergedAt
		}
		ev.Diff = diff
	case ActionSynchronized:
		ev.Diff = map[string]interface{}{"head_sha": pr.Head.SHA}
	default:
		ev.Diff = stateDiff(action, pr.State, p.Changes)
	}
	return ev
}

func (n *Normalizer) fromComment(p *IssueCommentPayload, raw []byte) types.InternalEvent {
	c := p.Comment
	repo := toRepository(p.Repository)
	number, title, isPR := p.Parent()

	ev := types.InternalEvent{
		EventType:       types.EventTypeComment,
		SourceEventName: p.Event,
		Action:          p.Action,
		Timestamp:       n.pick(c.UpdatedAt, c.CreatedAt),
		ObjectID:        types.ObjectID(types.PlatformGitHub, repo.FullName, types.EventTypeComment, c.ID),
		ObjectType:      types.EventTypeComment,
		Platform:        types.PlatformGitHub,
		Repository:      repo,
		Actor:           toActor(p.Sender),
		Object: map[string]interface{}{
			"comment_id":             c.ID,
			"body":                   c.Body,
			"url":                    c.HTMLURL,
			"author":                 c.User.Login,
			"parent_number":          number,
			"parent_title":           title,
			"parent_is_pull_request": isPR,
			"deleted":                p.Action == ActionDeleted,
			"created_at":             c.CreatedAt,
			"updated_at":             c.UpdatedAt,
		},
		RawPayload: json.RawMessage(raw),
	}
	if c.Path != "" {
		ev.Object["path"] = c.Path
	}

	switch p.Action {
	case "edited":
		ev.Diff = changesDiff(p.Changes)
	case ActionDeleted:
		ev.Diff = map[string]interface{}{"deleted": true}
	}
	return ev
}

func (n *Normalizer) fromPush(p *PushPayload) []types.InternalEvent {
	repo := toRepository(p.Repository)
	branch := strings.TrimPrefix(p.Ref, "refs/heads/")
	out := make([]types.InternalEvent, 0, len(p.Commits))

	for _, c := range p.Commits {
		if c.ID == "" {
			continue
		}
		actor := toActor(p.Sender)
		if c.Author.Username != "" {
			actor = types.Actor{Login: c.Author.Username}
		}
		author := c.Author.Username
		if author == "" {
			author = c.Author.Name
		}
		raw, _ := json.Marshal(c)

		out = append(out, types.InternalEvent{
			EventType:       types.EventTypeCommit,
			SourceEventName: GitHubPush,
			Action:          ActionPushed,
			Timestamp:       n.pick(c.Timestamp),
			ObjectID:        types.ObjectID(types.PlatformGitHub, repo.FullName, types.EventTypeCommit, c.ID),
			ObjectType:      types.EventTypeCommit,
			Platform:        types.PlatformGitHub,
			Repository:      repo,
			Actor:           actor,
			Object: map[string]interface{}{
				"sha":          c.ID,
				"message":      c.Message,
				"url":          c.URL,
				"author":       author,
				"author_email": c.Author.Email,
				"branch":       branch,
				"added":        len(c.Added),
				"removed":      len(c.Removed),
				"modified":     len(c.Modified),
				"committed_at": c.Timestamp,
			},
			Diff: map[string]interface{}{
				"added":    len(c.Added),
				"removed":  len(c.Removed),
				"modified": len(c.Modified),
			},
			RawPayload: raw,
		})
	}
	return out
}

func (n *Normalizer) fromReview(p *PullRequestReviewPayload, raw []byte) types.InternalEvent {
	r := p.Review
	repo := toRepository(p.Repository)
	ev := types.InternalEvent{
		EventType:       types.EventTypeReview,
		SourceEventName: GitHubPullRequestReview,
		Action:          p.Action,
		Timestamp:       n.pick(r.SubmittedAt, p.PullRequest.UpdatedAt),
		ObjectID:        types.ObjectID(types.PlatformGitHub, repo.FullName, types.EventTypeReview, r.ID),
		ObjectType:      types.EventTypeReview,
		Platform:        types.PlatformGitHub,
		Repository:      repo,
		Actor:           toActor(p.Sender),
		Object: map[string]interface{}{
			"review_id":    r.ID,
			"body":         r.Body,
			"state":        strings.ToLower(r.State),
			"url":          r.HTMLURL,
			"author":       r.User.Login,
			"commit_id":    r.CommitID,
			"pr_number":    p.PullRequest.Number,
			"pr_title":     p.PullRequest.Title,
			"submitted_at": r.SubmittedAt,
		},
		RawPayload: json.RawMessage(raw),
	}
	switch p.Action {
	case "edited":
		ev.Diff = changesDiff(p.Changes)
	default:
		ev.Diff = map[string]interface{}{"state": strings.ToLower(r.State)}
	}
	return ev
}

// pick 返回第一个非零时间, 全部为零时使用当前时间
func (n *Normalizer) pick(ts ...time.Time) time.Time {
	for _, t := range ts {
		if !t.IsZero() {
			return t.UTC()
		}
	}
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	return now().UTC()
}

func stateDiff(action, state string, changes json.RawMessage) map[string]interface{} {
	switch action {
	case "edited":
		return changesDiff(changes)
	case "closed", "reopened":
		return map[string]interface{}{"state": state}
	}
	return nil
}

func changesDiff(changes json.RawMessage) map[string]interface{} {
	if len(changes) == 0 {
		return nil
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(changes, &parsed); err != nil || len(parsed) == 0 {
		return nil
	}
	return map[string]interface{}{"changes": parsed}
}

func toRepository(r GHRepository) types.Repository {
	owner := r.Owner.Login
	name := r.Name
	if (owner == "" || name == "") && strings.Contains(r.FullName, "/") {
		parts := strings.SplitN(r.FullName, "/", 2)
		owner, name = parts[0], parts[1]
	}
	return types.Repository{
		ID:       r.ID,
		FullName: r.FullName,
		Owner:    owner,
		Name:     name,
		URL:      r.HTMLURL,
	}
}

func toActor(u GHUser) types.Actor {
	return types.Actor{Login: u.Login, ID: u.ID, URL: u.HTMLURL}
}

func logins(users []GHUser) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		if u.Login != "" {
			out = append(out, u.Login)
		}
	}
	return out
}

func labelNames(labels []GHLabel) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, l.Name)
	}
	return out
}
