// Package storetest provides tests that every prstate.Store implementation
// must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplesurance/gatekeeper/internal/goorderr"
	"github.com/simplesurance/gatekeeper/internal/prstate"
)

func ptr[T any](v T) *T {
	return &v
}

// Run runs the Store conformance tests, newStore must return an empty
// store.
func Run(t *testing.T, newStore func(t *testing.T) prstate.Store) {
	t.Run("GetNotExisting", func(t *testing.T) {
		store := newStore(t)

		_, err := store.Get(context.Background(), prstate.Key{RepositoryID: 1, Number: 1})
		assert.ErrorIs(t, err, goorderr.ErrNotFound)
	})

	t.Run("UpsertCreatesAndMerges", func(t *testing.T) {
		testUpsertCreatesAndMerges(t, newStore(t))
	})

	t.Run("ConcurrentUpsertsOfDisjointFields", func(t *testing.T) {
		testConcurrentUpsertsOfDisjointFields(t, newStore(t))
	})

	t.Run("IDIsImmutable", func(t *testing.T) {
		testIDIsImmutable(t, newStore(t))
	})

	t.Run("ListOpenByBase", func(t *testing.T) {
		testListOpenByBase(t, newStore(t))
	})

	t.Run("FindOpenByHeadSHA", func(t *testing.T) {
		testFindOpenByHeadSHA(t, newStore(t))
	})
}

var repo = prstate.Repository{ID: 42, Owner: "owner", Name: "repo"}

func testUpsertCreatesAndMerges(t *testing.T, store prstate.Store) {
	ctx := context.Background()
	syncedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	snap, err := store.Upsert(ctx, repo, 7, &prstate.Update{
		ID:        ptr(int64(1007)),
		HeadSHA:   ptr("aaa"),
		BaseRef:   ptr("main"),
		Mergeable: ptr(prstate.MergeableTrue),
		Labels:    []string{"b", "a"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1007), snap.ID)
	assert.Equal(t, []string{"a", "b"}, snap.Labels)
	assert.Equal(t, prstate.StateOpen, snap.State)
	assert.Nil(t, snap.PendingReviewCount)

	_, err = store.Upsert(ctx, repo, 7, &prstate.Update{PendingReviewCount: ptr(2)})
	require.NoError(t, err)

	snap, err = store.Upsert(ctx, repo, 7, &prstate.Update{
		HeadSHA:        ptr("bbb"),
		SynchronizedAt: &syncedAt,
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, prstate.Key{RepositoryID: repo.ID, Number: 7})
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	assert.Equal(t, "bbb", got.HeadSHA)
	assert.Equal(t, "main", got.BaseRef)
	assert.Equal(t, prstate.MergeableTrue, got.Mergeable)
	assert.Equal(t, []string{"a", "b"}, got.Labels)
	require.NotNil(t, got.PendingReviewCount)
	assert.Equal(t, 2, *got.PendingReviewCount)
	require.NotNil(t, got.SynchronizedAt)
	assert.True(t, syncedAt.Equal(*got.SynchronizedAt))
	assert.Nil(t, got.ConflictCommentAt)
	assert.Equal(t, repo, got.Repository)

	got, err = store.Upsert(ctx, repo, 7, &prstate.Update{Labels: []string{}})
	require.NoError(t, err)
	assert.Empty(t, got.Labels)
}

func testConcurrentUpsertsOfDisjointFields(t *testing.T, store prstate.Store) {
	const rounds = 50

	ctx := context.Background()
	syncedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := store.Upsert(ctx, repo, 9, &prstate.Update{HeadSHA: ptr("aaa")})
	require.NoError(t, err)

	updates := []func(i int) *prstate.Update{
		func(i int) *prstate.Update {
			return &prstate.Update{PendingReviewCount: ptr(i)}
		},
		func(i int) *prstate.Update {
			return &prstate.Update{Labels: []string{fmt.Sprintf("label-%03d", i)}}
		},
		func(i int) *prstate.Update {
			return &prstate.Update{SynchronizedAt: ptr(syncedAt.Add(time.Duration(i) * time.Second))}
		},
	}

	var wg sync.WaitGroup
	errCh := make(chan error, rounds*len(updates))

	for _, update := range updates {
		wg.Add(1)
		go func(update func(int) *prstate.Update) {
			defer wg.Done()

			for i := 1; i <= rounds; i++ {
				if _, err := store.Upsert(ctx, repo, 9, update(i)); err != nil {
					errCh <- err
				}
			}
		}(update)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}

	got, err := store.Get(ctx, prstate.Key{RepositoryID: repo.ID, Number: 9})
	require.NoError(t, err)

	assert.Equal(t, "aaa", got.HeadSHA)
	require.NotNil(t, got.PendingReviewCount)
	assert.Equal(t, rounds, *got.PendingReviewCount)
	assert.Equal(t, []string{fmt.Sprintf("label-%03d", rounds)}, got.Labels)
	require.NotNil(t, got.SynchronizedAt)
	assert.True(t, syncedAt.Add(rounds*time.Second).Equal(*got.SynchronizedAt))
}

func testIDIsImmutable(t *testing.T, store prstate.Store) {
	ctx := context.Background()

	_, err := store.Upsert(ctx, repo, 1, &prstate.Update{HeadSHA: ptr("aaa")})
	require.NoError(t, err)

	snap, err := store.Upsert(ctx, repo, 1, &prstate.Update{ID: ptr(int64(5))})
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.ID)

	snap, err = store.Upsert(ctx, repo, 1, &prstate.Update{ID: ptr(int64(6))})
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.ID)
}

func testListOpenByBase(t *testing.T, store prstate.Store) {
	ctx := context.Background()
	otherRepo := prstate.Repository{ID: 43, Owner: "owner", Name: "other"}

	for nr, base := range map[int]string{1: "main", 2: "main", 3: "release", 4: "main"} {
		_, err := store.Upsert(ctx, repo, nr, &prstate.Update{BaseRef: ptr(base)})
		require.NoError(t, err)
	}

	_, err := store.Upsert(ctx, repo, 4, &prstate.Update{State: ptr(prstate.StateClosed)})
	require.NoError(t, err)

	_, err = store.Upsert(ctx, otherRepo, 1, &prstate.Update{BaseRef: ptr("main")})
	require.NoError(t, err)

	snaps, err := store.ListOpenByBase(ctx, repo.ID, "main")
	require.NoError(t, err)

	var numbers []int
	for _, s := range snaps {
		numbers = append(numbers, s.Number)
	}
	assert.ElementsMatch(t, []int{1, 2}, numbers)
}

func testFindOpenByHeadSHA(t *testing.T, store prstate.Store) {
	ctx := context.Background()

	_, err := store.Upsert(ctx, repo, 1, &prstate.Update{HeadSHA: ptr("aaa")})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, repo, 2, &prstate.Update{HeadSHA: ptr("bbb")})
	require.NoError(t, err)

	snaps, err := store.FindOpenByHeadSHA(ctx, repo.ID, "bbb")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 2, snaps[0].Number)

	snaps, err = store.FindOpenByHeadSHA(ctx, repo.ID, "ccc")
	require.NoError(t, err)
	assert.Empty(t, snaps)
}
