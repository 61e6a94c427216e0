package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordflowlab/devtrail/pkg/types"
)

const repoJSON = `"repository":{"id":1,"name":"hello","full_name":"octo/hello","html_url":"https://github.com/octo/hello","owner":{"login":"octo"}},"sender":{"login":"alice","id":7}`

func fixedNormalizer() *Normalizer {
	return &Normalizer{Now: func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }}
}

func TestNormalizePullRequest(t *testing.T) {
	n := fixedNormalizer()

	t.Run("opened", func(t *testing.T) {
		body := []byte(`{"action":"opened","number":999,"pull_request":{"id":5,"number":999,"title":"Test PR","body":"adds things","state":"open","html_url":"https://github.com/octo/hello/pull/999","user":{"login":"alice"},"labels":[{"name":"bug"}],"created_at":"2024-03-01T10:00:00Z","updated_at":"2024-03-01T10:00:00Z"},` + repoJSON + `}`)

		evs, err := n.Normalize("pull_request", body)
		require.NoError(t, err)
		require.Len(t, evs, 1)

		ev := evs[0]
		assert.Equal(t, types.EventTypePullRequest, ev.EventType)
		assert.Equal(t, "opened", ev.Action)
		assert.Equal(t, "github:repo:octo/hello:pull_request:999", ev.ObjectID)
		assert.Equal(t, "pull_request.opened", ev.LogEventType())
		assert.Equal(t, "octo", ev.Repository.Owner)
		assert.Equal(t, "alice", ev.Actor.Login)
		assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), ev.Timestamp)
		assert.Nil(t, ev.Diff)
	})

	t.Run("closed with merge becomes merged", func(t *testing.T) {
		body := []byte(`{"action":"closed","pull_request":{"number":3,"title":"x","state":"closed","merged":true,"merged_at":"2024-03-02T00:00:00Z","merged_by":{"login":"bob"}},` + repoJSON + `}`)
		evs, err := n.Normalize("pull_request", body)
		require.NoError(t, err)
		require.Len(t, evs, 1)
		assert.Equal(t, ActionMerged, evs[0].Action)
		assert.Equal(t, true, evs[0].Diff["merged"])
		assert.Contains(t, evs[0].Diff, "merged_at")
	})

	t.Run("closed without merge stays closed", func(t *testing.T) {
		body := []byte(`{"action":"closed","pull_request":{"number":3,"state":"closed","merged":false},` + repoJSON + `}`)
		evs, err := n.Normalize("pull_request", body)
		require.NoError(t, err)
		assert.Equal(t, "closed", evs[0].Action)
		assert.Equal(t, map[string]interface{}{"state": "closed"}, evs[0].Diff)
	})

	t.Run("synchronize", func(t *testing.T) {
		body := []byte(`{"action":"synchronize","pull_request":{"number":3,"head":{"ref":"f","sha":"abc"}},` + repoJSON + `}`)
		evs, err := n.Normalize("pull_request", body)
		require.NoError(t, err)
		assert.Equal(t, ActionSynchronized, evs[0].Action)
		assert.Equal(t, "abc", evs[0].Diff["head_sha"])
	})

	t.Run("unlisted action recorded as-is", func(t *testing.T) {
		body := []byte(`{"action":"labeled","pull_request":{"number":3},` + repoJSON + `}`)
		evs, err := n.Normalize("pull_request", body)
		require.NoError(t, err)
		assert.Equal(t, "labeled", evs[0].Action)
		assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), evs[0].Timestamp)
	})
}

func TestNormalizeIssue(t *testing.T) {
	body := []byte(`{"action":"edited","issue":{"number":12,"title":"Crash on start","body":"stack trace","state":"open","user":{"login":"carol"},"assignees":[{"login":"dave"}],"updated_at":"2024-02-01T00:00:00Z"},"changes":{"title":{"from":"Crash"}},` + repoJSON + `}`)
	evs, err := Normalize("issues", body)
	require.NoError(t, err)
	require.Len(t, evs, 1)

	ev := evs[0]
	assert.Equal(t, "github:repo:octo/hello:issue:12", ev.ObjectID)
	assert.Equal(t, "issue.edited", ev.LogEventType())
	require.Contains(t, ev.Diff, "changes")
	assert.Equal(t, []string{"dave"}, ev.Object["assignees"])
}

func TestNormalizeComment(t *testing.T) {
	t.Run("issue comment keyed by comment id", func(t *testing.T) {
		body := []byte(`{"action":"created","issue":{"number":12,"title":"Crash"},"comment":{"id":555,"body":"same here","user":{"login":"erin"}},` + repoJSON + `}`)
		evs, err := Normalize("issue_comment", body)
		require.NoError(t, err)
		require.Len(t, evs, 1)
		assert.Equal(t, "github:repo:octo/hello:comment:555", evs[0].ObjectID)
		assert.Equal(t, "issue_comment", evs[0].SourceEventName)
	})

	t.Run("review comment deleted", func(t *testing.T) {
		body := []byte(`{"action":"deleted","pull_request":{"number":8,"title":"Refactor"},"comment":{"id":77,"body":"nit","path":"main.go","user":{"login":"erin"}},` + repoJSON + `}`)
		evs, err := Normalize("pull_request_review_comment", body)
		require.NoError(t, err)
		require.Len(t, evs, 1)
		assert.Equal(t, "comment.deleted", evs[0].LogEventType())
		assert.Equal(t, true, evs[0].Object["parent_is_pull_request"])
		assert.Equal(t, true, evs[0].Diff["deleted"])
	})
}

func TestNormalizePushFansOut(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main","commits":[
		{"id":"aaa111","message":"fix: one\n\ndetails","timestamp":"2024-04-01T00:00:00Z","author":{"name":"A","username":"alice"},"added":["a.go"],"modified":["b.go","c.go"]},
		{"id":"bbb222","message":"feat: two","timestamp":"2024-04-01T01:00:00Z","author":{"name":"Bob"}}
	],` + repoJSON + `}`)

	evs, err := Normalize("push", body)
	require.NoError(t, err)
	require.Len(t, evs, 2)

	assert.Equal(t, "github:repo:octo/hello:commit:aaa111", evs[0].ObjectID)
	assert.Equal(t, "commit.pushed", evs[0].LogEventType())
	assert.Equal(t, "main", evs[0].Object["branch"])
	assert.Equal(t, map[string]interface{}{"added": 1, "removed": 0, "modified": 2}, evs[0].Diff)

	assert.Equal(t, "github:repo:octo/hello:commit:bbb222", evs[1].ObjectID)
	// 提交作者没有用户名时回退到 sender
	assert.Equal(t, "alice", evs[1].Actor.Login)
	assert.Equal(t, "Bob", evs[1].Object["author"])
}

func TestNormalizeReview(t *testing.T) {
	body := []byte(`{"action":"submitted","review":{"id":31,"state":"APPROVED","body":"lgtm","user":{"login":"bob"},"submitted_at":"2024-05-01T00:00:00Z"},"pull_request":{"number":999,"title":"Test PR"},` + repoJSON + `}`)
	evs, err := Normalize("pull_request_review", body)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "github:repo:octo/hello:review:31", evs[0].ObjectID)
	assert.Equal(t, "approved", evs[0].Object["state"])
	assert.Equal(t, map[string]interface{}{"state": "approved"}, evs[0].Diff)
}

func TestNormalizeIgnoredAndMalformed(t *testing.T) {
	t.Run("unknown event", func(t *testing.T) {
		evs, err := Normalize("star", []byte(`not even json`))
		require.NoError(t, err)
		assert.Empty(t, evs)
	})

	t.Run("ping", func(t *testing.T) {
		evs, err := Normalize("ping", []byte(`{"zen":"Keep it simple.","hook_id":1}`))
		require.NoError(t, err)
		assert.Empty(t, evs)
	})

	t.Run("malformed recognized event", func(t *testing.T) {
		_, err := Normalize("issues", []byte(`{"action":`))
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("empty body", func(t *testing.T) {
		_, err := Normalize("push", nil)
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})
}

func TestNormalizeDeterministicIdentity(t *testing.T) {
	body := []byte(`{"action":"opened","pull_request":{"number":42,"title":"t"},` + repoJSON + `}`)
	first, err := Normalize("pull_request", body)
	require.NoError(t, err)
	second, err := Normalize("pull_request", body)
	require.NoError(t, err)
	assert.Equal(t, first[0].ObjectID, second[0].ObjectID)
}

func TestDecodeTaggedUnion(t *testing.T) {
	cases := map[string]Payload{
		"issues":                      &IssuesPayload{},
		"pull_request":                &PullRequestPayload{},
		"issue_comment":               &IssueCommentPayload{},
		"pull_request_review_comment": &IssueCommentPayload{},
		"push":                        &PushPayload{},
		"pull_request_review":         &PullRequestReviewPayload{},
		"ping":                        &PingPayload{},
	}
	for name, want := range cases {
		p, err := Decode(name, []byte(`{`+repoJSON+`}`))
		require.NoError(t, err, name)
		assert.IsType(t, want, p, name)
		assert.Equal(t, name, p.EventName())
		if name != "ping" {
			assert.Equal(t, "octo/hello", RepositoryName(p))
		}
	}

	p, err := Decode("deployment", nil)
	require.NoError(t, err)
	assert.IsType(t, &IgnoredPayload{}, p)
	assert.Equal(t, "", RepositoryName(p))
}
