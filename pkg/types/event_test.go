package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObjectID(t *testing.T) {
	id := ObjectID(PlatformGitHub, "acme/widgets", EventTypePullRequest, 42)
	assert.Equal(t, "github:repo:acme/widgets:pull_request:42", id)

	platform, repo, objectType, key, err := ParseObjectID(id)
	require.NoError(t, err)
	assert.Equal(t, PlatformGitHub, platform)
	assert.Equal(t, "acme/widgets", repo)
	assert.Equal(t, EventTypePullRequest, objectType)
	assert.Equal(t, "42", key)

	for _, bad := range []string{"", "github:acme/widgets:issue:1", "github:org:acme/widgets:issue:1", "github:repo:a:b:issue:1"} {
		_, _, _, _, err := ParseObjectID(bad)
		assert.Error(t, err, bad)
	}
}
