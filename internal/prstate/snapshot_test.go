package prstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplesurance/gatekeeper/internal/githubclt"
)

func TestMergeKeepsUnsetFields(t *testing.T) {
	base := newSnapshot(Repository{ID: 1, Owner: "o", Name: "r"}, 3)
	base.ID = 100
	base.HeadSHA = "aaa"
	base.Labels = []string{"a"}
	base.PendingReviewCount = ptr(1)

	merged := Merge(base, &Update{Mergeable: ptr(MergeableFalse)})

	assert.Equal(t, int64(100), merged.ID)
	assert.Equal(t, "aaa", merged.HeadSHA)
	assert.Equal(t, []string{"a"}, merged.Labels)
	assert.Equal(t, 1, *merged.PendingReviewCount)
	assert.Equal(t, MergeableFalse, merged.Mergeable)

	// base is not modified
	assert.Equal(t, MergeableUnknown, base.Mergeable)
}

func TestMergeDoesNotChangeID(t *testing.T) {
	base := newSnapshot(Repository{ID: 1}, 3)

	merged := Merge(base, &Update{ID: ptr(int64(7))})
	assert.Equal(t, int64(7), merged.ID)

	merged = Merge(merged, &Update{ID: ptr(int64(8))})
	assert.Equal(t, int64(7), merged.ID)
}

func TestMergeNormalizesLabels(t *testing.T) {
	merged := Merge(newSnapshot(Repository{ID: 1}, 3), &Update{Labels: []string{"z", "a", "z"}})
	assert.Equal(t, []string{"a", "z"}, merged.Labels)
	assert.True(t, merged.HasLabel("z"))
	assert.False(t, merged.HasLabel("b"))
}

func TestOverlay(t *testing.T) {
	host := &Update{HeadSHA: ptr("host"), Labels: []string{"host"}, Mergeable: ptr(MergeableTrue)}
	partial := &Update{HeadSHA: ptr("event"), SynchronizedAt: ptr(time.Now())}

	result := host.Overlay(partial)
	assert.Equal(t, "event", *result.HeadSHA)
	assert.Equal(t, []string{"host"}, result.Labels)
	assert.Equal(t, MergeableTrue, *result.Mergeable)
	assert.NotNil(t, result.SynchronizedAt)

	// host is not modified
	assert.Equal(t, "host", *host.HeadSHA)

	assert.Equal(t, &Update{}, (*Update)(nil).Overlay(nil))
	assert.Equal(t, partial.HeadSHA, (*Update)(nil).Overlay(partial).HeadSHA)
}

func TestConflictNotified(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	testcases := []struct {
		name              string
		mergeable         Mergeable
		synchronizedAt    *time.Time
		conflictCommentAt *time.Time
		needsComment      bool
	}{
		{name: "never_commented", mergeable: MergeableFalse, needsComment: true},
		{name: "commented_never_synced", mergeable: MergeableFalse, conflictCommentAt: &t1},
		{name: "commented_after_sync", mergeable: MergeableFalse, synchronizedAt: &t1, conflictCommentAt: &t2},
		{name: "commented_at_sync_time", mergeable: MergeableFalse, synchronizedAt: &t1, conflictCommentAt: &t1},
		{name: "synced_after_comment", mergeable: MergeableFalse, synchronizedAt: &t2, conflictCommentAt: &t1, needsComment: true},
		{name: "mergeable", mergeable: MergeableTrue},
		{name: "unknown", mergeable: MergeableUnknown},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			s := Snapshot{
				Mergeable:         tc.mergeable,
				SynchronizedAt:    tc.synchronizedAt,
				ConflictCommentAt: tc.conflictCommentAt,
			}

			assert.Equal(t, tc.needsComment, s.NeedsConflictComment())
		})
	}
}

func TestUpdateFromPullRequest(t *testing.T) {
	u := UpdateFromPullRequest(&githubclt.PullRequest{
		ID:      9,
		Number:  1,
		State:   githubclt.PullRequestStateClosed,
		HeadSHA: "abc",
		BaseRef: "main",
		Labels:  nil,
	})

	require.NotNil(t, u.ID)
	assert.Equal(t, int64(9), *u.ID)
	assert.Nil(t, u.Mergeable)
	assert.NotNil(t, u.Labels)
	assert.Empty(t, u.Labels)
	assert.Equal(t, StateClosed, *u.State)
	assert.Nil(t, u.UpdatedAt)

	mergeable := false
	u = UpdateFromPullRequest(&githubclt.PullRequest{Mergeable: &mergeable, State: githubclt.PullRequestStateOpen})
	assert.Equal(t, MergeableFalse, *u.Mergeable)
	assert.Equal(t, StateOpen, *u.State)
}
