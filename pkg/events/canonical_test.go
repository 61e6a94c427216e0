package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordflowlab/devtrail/pkg/types"
)

func normalizeOne(t *testing.T, event, body string) types.InternalEvent {
	t.Helper()
	evs, err := fixedNormalizer().Normalize(event, []byte(body))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	return evs[0]
}

func TestCanonicalFromPullRequest(t *testing.T) {
	ev := normalizeOne(t, "pull_request", `{"action":"closed","pull_request":{"number":7,"title":"Speed up indexer","body":"uses batches","state":"closed","merged":true,"user":{"login":"alice"},"requested_reviewers":[{"login":"bob"}],"merged_by":{"login":"carol"},"labels":[{"name":"perf"}],"html_url":"https://github.com/octo/hello/pull/7","created_at":"2024-01-01T00:00:00Z","updated_at":"2024-01-03T00:00:00Z"},`+repoJSON+`}`)

	obj := CanonicalFromEvent(ev)
	assert.Equal(t, "github:repo:octo/hello:pull_request:7", obj.ID)
	assert.Equal(t, types.EventTypePullRequest, obj.ObjectType)
	assert.Equal(t, "Speed up indexer", obj.Title)
	assert.Equal(t, "merged", obj.State())
	assert.Equal(t, "octo/hello", obj.Repository())
	assert.Equal(t, "https://github.com/octo/hello/pull/7", obj.URL())
	assert.Equal(t, 7, obj.Properties[types.PropNumber])
	assert.Equal(t, "alice", obj.Actors.CreatedBy)
	assert.Equal(t, "alice", obj.Actors.UpdatedBy)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, obj.Actors.Participants)
	assert.False(t, obj.Timestamps.CreatedAt.IsZero())

	assert.Contains(t, obj.SearchText, "Speed up indexer")
	assert.Contains(t, obj.SearchText, "uses batches")
	assert.Contains(t, obj.SearchText, "perf")
	assert.Contains(t, obj.SearchText, "octo/hello")
}

func TestCanonicalFromComment(t *testing.T) {
	ev := normalizeOne(t, "issue_comment", `{"action":"deleted","issue":{"number":12,"title":"Crash"},"comment":{"id":9,"body":"dup","user":{"login":"erin"}},`+repoJSON+`}`)
	obj := CanonicalFromEvent(ev)
	assert.Equal(t, "Comment on #12: Crash", obj.Title)
	assert.Equal(t, CommentStateDeleted, obj.State())
	assert.Equal(t, "erin", obj.Actors.CreatedBy)
}

func TestCanonicalFromCommit(t *testing.T) {
	evs, err := Normalize("push", []byte(`{"ref":"refs/heads/dev","commits":[{"id":"abc","message":"fix: null deref\n\nlong body","author":{"username":"alice"},"removed":["x"]}],`+repoJSON+`}`))
	require.NoError(t, err)
	obj := CanonicalFromEvent(evs[0])
	assert.Equal(t, "fix: null deref", obj.Title)
	assert.Equal(t, "fix: null deref\n\nlong body", obj.Body)
	assert.Equal(t, "dev", obj.Properties["branch"])
	assert.Equal(t, 1, obj.Properties["files_removed"])
	assert.Equal(t, evs[0].Timestamp, obj.Timestamps.UpdatedAt)
}

func TestCanonicalFromReview(t *testing.T) {
	ev := normalizeOne(t, "pull_request_review", `{"action":"submitted","review":{"id":4,"state":"changes_requested","body":"needs tests","user":{"login":"bob"}},"pull_request":{"number":7,"title":"Speed up"},`+repoJSON+`}`)
	obj := CanonicalFromEvent(ev)
	assert.Equal(t, "Review on PR #7: Speed up", obj.Title)
	assert.Equal(t, "changes_requested", obj.State())
}

func TestCanonicalLastWriterWins(t *testing.T) {
	opened := CanonicalFromEvent(normalizeOne(t, "issues", `{"action":"opened","issue":{"number":1,"title":"Old","state":"open","labels":[{"name":"a"}]},`+repoJSON+`}`))
	edited := CanonicalFromEvent(normalizeOne(t, "issues", `{"action":"edited","issue":{"number":1,"title":"New","state":"open"},`+repoJSON+`}`))

	assert.Equal(t, opened.ID, edited.ID)
	assert.Equal(t, "New", edited.Title)
	// labels 整体替换而非合并
	assert.Empty(t, edited.Properties[types.PropLabels])
	assert.NotContains(t, edited.SearchText, "Old")
}
