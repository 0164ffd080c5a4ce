package changeevent

import (
	"testing"

	"github.com/google/go-github/v59/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	repoID    = int64(42)
	repoOwner = "simplesurance"
	repoName  = "gatekeeper"
)

func ghRepo() *github.Repository {
	return &github.Repository{
		ID:            github.Int64(repoID),
		Name:          github.String(repoName),
		DefaultBranch: github.String("main"),
		Owner:         &github.User{Login: github.String(repoOwner)},
	}
}

func ghPullRequest(number int) *github.PullRequest {
	return &github.PullRequest{
		ID:     github.Int64(1000 + int64(number)),
		Number: github.Int(number),
		State:  github.String("open"),
		Head:   &github.PullRequestBranch{SHA: github.String("abc")},
		Base:   &github.PullRequestBranch{Ref: github.String("main")},
		Labels: []*github.Label{{Name: github.String("b")}, {Name: github.String("a")}},
	}
}

func newPullRequestEvent(action string) *github.PullRequestEvent {
	return &github.PullRequestEvent{
		Action:      github.String(action),
		Number:      github.Int(7),
		PullRequest: ghPullRequest(7),
		Repo:        ghRepo(),
	}
}

func TestNormalizeLabelEvents(t *testing.T) {
	ev := newPullRequestEvent("labeled")
	ev.Label = &github.Label{Name: github.String("merge")}

	result, err := Normalize("d1", ev)
	require.NoError(t, err)
	require.IsType(t, &LabelAdded{}, result)

	added := result.(*LabelAdded)
	assert.Equal(t, "merge", added.Label)
	assert.Equal(t, 7, added.PullRequest.Number)
	assert.Equal(t, []string{"a", "b"}, added.PullRequest.Labels)
	assert.Equal(t, "d1", added.DeliveryID())
	assert.Equal(t, &Repository{ID: repoID, Owner: repoOwner, Name: repoName, DefaultBranch: "main"}, added.Repo())
	assert.Equal(t, "label_added", added.Kind())

	ev.Action = github.String("unlabeled")
	result, err = Normalize("d2", ev)
	require.NoError(t, err)
	require.IsType(t, &LabelRemoved{}, result)
	assert.Equal(t, "merge", result.(*LabelRemoved).Label)
}

func TestNormalizeLabelEventWithoutLabelFails(t *testing.T) {
	_, err := Normalize("d", newPullRequestEvent("labeled"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupported)
}

func TestNormalizePullRequestActions(t *testing.T) {
	testcases := []struct {
		action string
		expect ChangeEvent
	}{
		{action: "synchronize", expect: &PRSynchronized{}},
		{action: "opened", expect: &PROpened{}},
		{action: "reopened", expect: &PROpened{}},
		{action: "closed", expect: &PRClosed{}},
		{action: "review_requested", expect: &ReviewChanged{}},
		{action: "review_request_removed", expect: &ReviewChanged{}},
	}

	for _, tc := range testcases {
		t.Run(tc.action, func(t *testing.T) {
			result, err := Normalize("d", newPullRequestEvent(tc.action))
			require.NoError(t, err)
			assert.IsType(t, tc.expect, result)
			assert.NotEmpty(t, result.LogFields())
		})
	}
}

func TestNormalizeUnsupportedPullRequestAction(t *testing.T) {
	_, err := Normalize("d", newPullRequestEvent("assigned"))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestNormalizeUnsupportedEventType(t *testing.T) {
	_, err := Normalize("d", &github.IssuesEvent{})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestNormalizeIncompleteRepository(t *testing.T) {
	ev := newPullRequestEvent("opened")
	ev.Repo.ID = nil

	_, err := Normalize("d", ev)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupported)
}

func TestNormalizeReviewEvent(t *testing.T) {
	ev := &github.PullRequestReviewEvent{
		Action:      github.String("submitted"),
		Review:      &github.PullRequestReview{State: github.String("approved")},
		PullRequest: ghPullRequest(3),
		Repo:        ghRepo(),
	}

	result, err := Normalize("d", ev)
	require.NoError(t, err)
	require.IsType(t, &ReviewChanged{}, result)
	assert.Equal(t, ReviewSubmitted, result.(*ReviewChanged).Action)
	assert.Equal(t, 3, result.(*ReviewChanged).PullRequest.Number)
}

func TestNormalizeStatusEvent(t *testing.T) {
	ev := &github.StatusEvent{
		SHA:      github.String("abc"),
		Context:  github.String("ci"),
		State:    github.String("pending"),
		Branches: []*github.Branch{{Name: github.String("main")}, {Name: github.String("feature")}},
		Repo:     ghRepo(),
	}

	result, err := Normalize("d", ev)
	require.NoError(t, err)
	require.IsType(t, &StatusReceived{}, result)

	st := result.(*StatusReceived)
	assert.Equal(t, "abc", st.SHA)
	assert.Equal(t, "ci", st.Context)
	assert.Equal(t, "pending", st.State)
	assert.Equal(t, []string{"main", "feature"}, st.Branches)
	assert.True(t, st.OnDefaultBranch())

	st.Branches = []string{"feature"}
	assert.False(t, st.OnDefaultBranch())
}

func newPushEvent(ref string) *github.PushEvent {
	return &github.PushEvent{
		Ref:   github.String(ref),
		After: github.String("def"),
		Repo: &github.PushEventRepository{
			ID:            github.Int64(repoID),
			Name:          github.String(repoName),
			DefaultBranch: github.String("main"),
			Owner:         &github.User{Name: github.String(repoOwner)},
		},
	}
}

func TestNormalizePushEvent(t *testing.T) {
	result, err := Normalize("d", newPushEvent("refs/heads/main"))
	require.NoError(t, err)
	require.IsType(t, &BranchPushed{}, result)

	push := result.(*BranchPushed)
	assert.Equal(t, "main", push.Branch)
	assert.Equal(t, "def", push.HeadSHA)
	assert.Equal(t, repoOwner, push.Repo().Owner)
	assert.True(t, push.IsDefaultBranch())
}

func TestNormalizePushEventIgnoresTagsAndDeletions(t *testing.T) {
	_, err := Normalize("d", newPushEvent("refs/tags/v1.0.0"))
	assert.ErrorIs(t, err, ErrUnsupported)

	ev := newPushEvent("refs/heads/feature")
	ev.Deleted = github.Bool(true)
	_, err = Normalize("d", ev)
	assert.ErrorIs(t, err, ErrUnsupported)
}
