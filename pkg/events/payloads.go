package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedPayload 已识别的事件但请求体无法解析
var ErrMalformedPayload = errors.New("malformed webhook payload")

// GitHub 事件头取值
const (
	GitHubIssues                   = "issues"
	GitHubPullRequest              = "pull_request"
	GitHubIssueComment             = "issue_comment"
	GitHubPullRequestReviewComment = "pull_request_review_comment"
	GitHubPullRequestReview        = "pull_request_review"
	GitHubPush                     = "push"
	GitHubPing                     = "ping"
)

// Payload 解码后的 webhook 负载(tagged union)。
// 具体类型: *IssuesPayload, *PullRequestPayload, *IssueCommentPayload,
// *PushPayload, *PullRequestReviewPayload, *PingPayload, *IgnoredPayload。
type Payload interface {
	// EventName 原始事件头
	EventName() string
	payload()
}

// GHUser 平台用户
type GHUser struct {
	Login   string `json:"login"`
	ID      int64  `json:"id"`
	HTMLURL string `json:"html_url"`
}

// GHRepository 平台仓库
type GHRepository struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
	Owner    struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// GHLabel 标签
type GHLabel struct {
	Name string `json:"name"`
}

// GHIssue issue 对象; 携带 pull_request 字段时表示 PR 上的对话
type GHIssue struct {
	ID          int64           `json:"id"`
	Number      int             `json:"number"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	State       string          `json:"state"`
	HTMLURL     string          `json:"html_url"`
	User        GHUser          `json:"user"`
	Assignees   []GHUser        `json:"assignees"`
	Labels      []GHLabel       `json:"labels"`
	Comments    int             `json:"comments"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ClosedAt    *time.Time      `json:"closed_at"`
	PullRequest json.RawMessage `json:"pull_request,omitempty"`
}

// IsPullRequest issue 是否实际为 PR
func (i *GHIssue) IsPullRequest() bool {
	return len(i.PullRequest) > 0 && string(i.PullRequest) != "null"
}

// GHRef 分支引用
type GHRef struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// GHPullRequest pull request 对象
type GHPullRequest struct {
	ID             int64      `json:"id"`
	Number         int        `json:"number"`
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	State          string     `json:"state"`
	HTMLURL        string     `json:"html_url"`
	User           GHUser     `json:"user"`
	Assignees      []GHUser   `json:"assignees"`
	Reviewers      []GHUser   `json:"requested_reviewers"`
	Labels         []GHLabel  `json:"labels"`
	Draft          bool       `json:"draft"`
	Merged         bool       `json:"merged"`
	MergedAt       *time.Time `json:"merged_at"`
	MergedBy       *GHUser    `json:"merged_by"`
	Head           GHRef      `json:"head"`
	Base           GHRef      `json:"base"`
	Additions      int        `json:"additions"`
	Deletions      int        `json:"deletions"`
	ChangedFiles   int        `json:"changed_files"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ClosedAt       *time.Time `json:"closed_at"`
	MergeCommitSHA string     `json:"merge_commit_sha"`
}

// GHComment 评论(issue 评论或 PR 行内评论)
type GHComment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	HTMLURL   string    `json:"html_url"`
	User      GHUser    `json:"user"`
	Path      string    `json:"path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GHReview PR 评审
type GHReview struct {
	ID          int64     `json:"id"`
	Body        string    `json:"body"`
	State       string    `json:"state"`
	HTMLURL     string    `json:"html_url"`
	User        GHUser    `json:"user"`
	CommitID    string    `json:"commit_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// GHCommitAuthor 提交作者
type GHCommitAuthor struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// GHCommit push 中的单个提交
type GHCommit struct {
	ID        string         `json:"id"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	URL       string         `json:"url"`
	Author    GHCommitAuthor `json:"author"`
	Committer GHCommitAuthor `json:"committer"`
	Added     []string       `json:"added"`
	Removed   []string       `json:"removed"`
	Modified  []string       `json:"modified"`
}

// IssuesPayload "issues" 事件
type IssuesPayload struct {
	Action     string          `json:"action"`
	Issue      GHIssue         `json:"issue"`
	Changes    json.RawMessage `json:"changes,omitempty"`
	Repository GHRepository    `json:"repository"`
	Sender     GHUser          `json:"sender"`
}

// PullRequestPayload "pull_request" 事件
type PullRequestPayload struct {
	Action      string          `json:"action"`
	Number      int             `json:"number"`
	PullRequest GHPullRequest   `json:"pull_request"`
	Changes     json.RawMessage `json:"changes,omitempty"`
	Repository  GHRepository    `json:"repository"`
	Sender      GHUser          `json:"sender"`
}

// IssueCommentPayload "issue_comment" 与 "pull_request_review_comment" 事件
type IssueCommentPayload struct {
	Event       string          `json:"-"`
	Action      string          `json:"action"`
	Issue       *GHIssue        `json:"issue,omitempty"`
	PullRequest *GHPullRequest  `json:"pull_request,omitempty"`
	Comment     GHComment       `json:"comment"`
	Changes     json.RawMessage `json:"changes,omitempty"`
	Repository  GHRepository    `json:"repository"`
	Sender      GHUser          `json:"sender"`
}

// Parent 评论所属 issue/PR 编号与标题
func (p *IssueCommentPayload) Parent() (number int, title string, isPR bool) {
	switch {
	case p.Issue != nil:
		return p.Issue.Number, p.Issue.Title, p.Issue.IsPullRequest()
	case p.PullRequest != nil:
		return p.PullRequest.Number, p.PullRequest.Title, true
	}
	return 0, "", false
}

// PushPayload "push" 事件
type PushPayload struct {
	Ref        string         `json:"ref"`
	Before     string         `json:"before"`
	After      string         `json:"after"`
	Commits    []GHCommit     `json:"commits"`
	Pusher     GHCommitAuthor `json:"pusher"`
	Repository GHRepository   `json:"repository"`
	Sender     GHUser         `json:"sender"`
}

// PullRequestReviewPayload "pull_request_review" 事件
type PullRequestReviewPayload struct {
	Action      string          `json:"action"`
	Review      GHReview        `json:"review"`
	PullRequest GHPullRequest   `json:"pull_request"`
	Changes     json.RawMessage `json:"changes,omitempty"`
	Repository  GHRepository    `json:"repository"`
	Sender      GHUser          `json:"sender"`
}

// PingPayload "ping" 事件, 仅确认
type PingPayload struct {
	Zen        string        `json:"zen"`
	HookID     int64         `json:"hook_id"`
	Repository *GHRepository `json:"repository,omitempty"`
}

// IgnoredPayload 不支持的事件类型
type IgnoredPayload struct {
	Event string
}

func (*IssuesPayload) EventName() string            { return GitHubIssues }
func (*PullRequestPayload) EventName() string       { return GitHubPullRequest }
func (p *IssueCommentPayload) EventName() string    { return p.Event }
func (*PushPayload) EventName() string              { return GitHubPush }
func (*PullRequestReviewPayload) EventName() string { return GitHubPullRequestReview }
func (*PingPayload) EventName() string              { return GitHubPing }
func (p *IgnoredPayload) EventName() string         { return p.Event }

func (*IssuesPayload) payload()            {}
func (*PullRequestPayload) payload()       {}
func (*IssueCommentPayload) payload()      {}
func (*PushPayload) payload()              {}
func (*PullRequestReviewPayload) payload() {}
func (*PingPayload) payload()              {}
func (*IgnoredPayload) payload()           {}

// Decode 根据事件头解码请求体。
// 未知事件返回 *IgnoredPayload 且不解析请求体。
func Decode(eventName string, body []byte) (Payload, error) {
	var p Payload
	switch eventName {
	case GitHubIssues:
		p = &IssuesPayload{}
	case GitHubPullRequest:
		p = &PullRequestPayload{}
	case GitHubIssueComment, GitHubPullRequestReviewComment:
		p = &IssueCommentPayload{Event: eventName}
	case GitHubPush:
		p = &PushPayload{}
	case GitHubPullRequestReview:
		p = &PullRequestReviewPayload{}
	case GitHubPing:
		p = &PingPayload{}
	default:
		return &IgnoredPayload{Event: eventName}, nil
	}

	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body for %s", ErrMalformedPayload, eventName)
	}
	if err := json.Unmarshal(body, p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, eventName, err)
	}
	return p, nil
}

// RepositoryName 负载所属仓库全名, 没有仓库时返回空字符串
func RepositoryName(p Payload) string {
	switch v := p.(type) {
	case *IssuesPayload:
		return v.Repository.FullName
	case *PullRequestPayload:
		return v.Repository.FullName
	case *IssueCommentPayload:
		return v.Repository.FullName
	case *PushPayload:
		return v.Repository.FullName
	case *PullRequestReviewPayload:
		return v.Repository.FullName
	case *PingPayload:
		if v.Repository != nil {
			return v.Repository.FullName
		}
	}
	return ""
}
