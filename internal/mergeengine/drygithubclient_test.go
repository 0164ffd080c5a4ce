package mergeengine

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/gatekeeper/internal/githubclt"
	"github.com/simplesurance/gatekeeper/internal/mergeengine/mocks"
)

func TestDryGithubClientDoesNotForwardChanges(t *testing.T) {
	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)

	dry := NewDryGithubClient(clt, zaptest.NewLogger(t))
	ctx := context.Background()

	assert.NoError(t, dry.CreateStatus(ctx, repoOwner, repo, "abc", &githubclt.CommitStatus{Context: "gatekeeper"}))
	assert.NoError(t, dry.AddLabel(ctx, repoOwner, repo, 1, "merge"))
	assert.NoError(t, dry.CreateIssueComment(ctx, repoOwner, repo, 1, "comment"))

	pr := newPR(1, nil)
	mockPullRequestCall(clt, pr)

	result, err := dry.PullRequest(ctx, repoOwner, repo, 1)
	require.NoError(t, err)
	assert.Equal(t, pr, result)
}
