package status

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/gatekeeper/internal/checks"
	"github.com/simplesurance/gatekeeper/internal/githubclt"
	"github.com/simplesurance/gatekeeper/internal/policy"
	"github.com/simplesurance/gatekeeper/internal/prstate"
)

type createdStatus struct {
	owner, repo, ref string
	status           *githubclt.CommitStatus
}

type fakeCreator struct {
	created []*createdStatus
	err     error
}

func (f *fakeCreator) CreateStatus(_ context.Context, owner, repo, ref string, st *githubclt.CommitStatus) error {
	if f.err != nil {
		return f.err
	}

	f.created = append(f.created, &createdStatus{owner: owner, repo: repo, ref: ref, status: st})
	return nil
}

func TestDescribe(t *testing.T) {
	testcases := []struct {
		name        string
		verdict     checks.Verdict
		state       string
		description string
	}{
		{
			name:        "success",
			state:       githubclt.StatusStateSuccess,
			description: "Ready to merge",
		},
		{
			name:        "pending",
			verdict:     checks.Verdict{Pending: []string{"status ci is pending", "1 pending code review"}},
			state:       githubclt.StatusStatePending,
			description: "Status ci is pending, 1 pending code review",
		},
		{
			name: "failures_are_listed_before_pendings",
			verdict: checks.Verdict{
				Pending: []string{"missing required labels: Z-.*"},
				Failure: []string{"conflicts with base branch main"},
			},
			state:       githubclt.StatusStateFailure,
			description: "Conflicts with base branch main, missing required labels: Z-.*",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			state, description := Describe(&tc.verdict, "ready to merge")
			assert.Equal(t, tc.state, state)
			assert.Equal(t, tc.description, description)
		})
	}
}

func TestTruncate(t *testing.T) {
	exact := strings.Repeat("a", MaxDescriptionLen)
	assert.Equal(t, exact, Truncate(exact))

	long := strings.Repeat("b", MaxDescriptionLen+1)
	truncated := Truncate(long)
	assert.Len(t, truncated, MaxDescriptionLen)
	assert.Equal(t, strings.Repeat("b", MaxDescriptionLen-3)+"...", truncated)

	multiByte := strings.Repeat("ü", 200)
	truncated = Truncate(multiByte)
	assert.Equal(t, MaxDescriptionLen, len([]rune(truncated)))
	assert.True(t, strings.HasSuffix(truncated, "..."))
}

func TestFormatDescriptionUpperCasesFirstCharacter(t *testing.T) {
	assert.Equal(t, "Äbc", FormatDescription("äbc"))
	assert.Equal(t, "", FormatDescription(""))
}

func testPolicy(t *testing.T) *policy.Policy {
	cfg := policy.DefaultMergeConfig()
	cfg.OverrideLabel = "override"
	cfg.OverrideStatusContext = "gatekeeper/override"
	cfg.StatusTargetURL = "https://example.com/docs"

	p, err := cfg.Compile()
	require.NoError(t, err)

	return p
}

func testPR() *prstate.Snapshot {
	return &prstate.Snapshot{
		Number:     3,
		Repository: prstate.Repository{ID: 1, Owner: "owner", Name: "repo"},
		HeadSHA:    "abc",
		State:      prstate.StateOpen,
		Labels:     []string{"override"},
	}
}

func TestPublish(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	clt := fakeCreator{}
	p := NewPublisher(&clt)

	published, err := p.Publish(context.Background(), &checks.Verdict{Pending: []string{"status ci is pending"}}, testPR(), testPolicy(t))
	require.NoError(t, err)
	assert.True(t, published)

	require.Len(t, clt.created, 1)
	created := clt.created[0]
	assert.Equal(t, "owner", created.owner)
	assert.Equal(t, "repo", created.repo)
	assert.Equal(t, "abc", created.ref)
	assert.Equal(t, policy.DefaultStatusContext, created.status.Context)
	assert.Equal(t, githubclt.StatusStatePending, created.status.State)
	assert.Equal(t, "Status ci is pending", created.status.Description)
	assert.Equal(t, "https://example.com/docs", created.status.TargetURL)
}

func TestPublishSkipsClosedPullRequests(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	clt := fakeCreator{}
	p := NewPublisher(&clt)

	pr := testPR()
	pr.State = prstate.StateClosed

	published, err := p.Publish(context.Background(), &checks.Verdict{}, pr, testPolicy(t))
	require.NoError(t, err)
	assert.False(t, published)
	assert.Empty(t, clt.created)
}

func TestPublishReturnsErrors(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	p := NewPublisher(&fakeCreator{err: errors.New("error")})

	published, err := p.Publish(context.Background(), &checks.Verdict{}, testPR(), testPolicy(t))
	assert.Error(t, err)
	assert.False(t, published)
}

func TestPublishOverride(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	clt := fakeCreator{}
	p := NewPublisher(&clt)

	published, err := p.PublishOverride(context.Background(), testPR(), testPolicy(t))
	require.NoError(t, err)
	assert.True(t, published)
	require.Len(t, clt.created, 1)
	assert.Equal(t, "gatekeeper/override", clt.created[0].status.Context)
	assert.Equal(t, githubclt.StatusStateSuccess, clt.created[0].status.State)

	pr := testPR()
	pr.Labels = nil
	published, err = p.PublishOverride(context.Background(), pr, testPolicy(t))
	require.NoError(t, err)
	assert.False(t, published)
	assert.Len(t, clt.created, 1)
}
