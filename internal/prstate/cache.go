package prstate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/gatekeeper/internal/githubclt"
	"github.com/simplesurance/gatekeeper/internal/goorderr"
	"github.com/simplesurance/gatekeeper/internal/logfields"
)

const loggerName = "pr_state_cache"

// PullRequestGetter retrieves the current state of a pull request from
// GitHub.
type PullRequestGetter interface {
	PullRequest(ctx context.Context, owner, repo string, number int) (*githubclt.PullRequest, error)
}

// Cache provides the state of pull requests, it retrieves them from GitHub
// when the stored state is incomplete.
type Cache struct {
	store  Store
	clt    PullRequestGetter
	logger *zap.Logger
}

func NewCache(store Store, clt PullRequestGetter) *Cache {
	return &Cache{
		store:  store,
		clt:    clt,
		logger: zap.L().Named(loggerName),
	}
}

// Get returns the cached snapshot, if none exists an error wrapping
// goorderr.ErrNotFound is returned.
func (c *Cache) Get(ctx context.Context, repo Repository, number int) (*Snapshot, error) {
	return c.store.Get(ctx, Key{RepositoryID: repo.ID, Number: number})
}

// Refresh merges partial into the cached snapshot and returns the result.
// The pull request is retrieved from GitHub when partial is nil, when no
// cached snapshot exists or when the mergeable state of the cached snapshot
// is unknown. When it is retrieved, only the fields of partial that GitHub
// does not provide are merged over the retrieved state (see ForceRefresh).
// When GitHub reports that the pull request does not exist, an error
// wrapping goorderr.ErrNotFound is returned.
func (c *Cache) Refresh(ctx context.Context, repo Repository, number int, partial *Update) (*Snapshot, error) {
	fetch := partial == nil

	if !fetch {
		cached, err := c.store.Get(ctx, Key{RepositoryID: repo.ID, Number: number})
		switch {
		case err == nil:
			fetch = cached.Mergeable == MergeableUnknown
		case errors.Is(err, goorderr.ErrNotFound):
			fetch = true
		default:
			return nil, fmt.Errorf("retrieving cached pull request failed: %w", err)
		}
	}

	if !fetch {
		return c.store.Upsert(ctx, repo, number, partial)
	}

	return c.ForceRefresh(ctx, repo, number, partial)
}

// ForceRefresh retrieves the pull request from GitHub, merges the locally
// computed fields of partial (see Update.LocalFields) over it and stores the
// result. Fields of partial that GitHub provides are ignored, the retrieved
// values are more recent than the ones of a webhook payload.
// If GitHub did not compute the mergeable state yet, it is stored as
// MergeableUnknown.
func (c *Cache) ForceRefresh(ctx context.Context, repo Repository, number int, partial *Update) (*Snapshot, error) {
	pr, err := c.clt.PullRequest(ctx, repo.Owner, repo.Name, number)
	if err != nil {
		return nil, fmt.Errorf("retrieving pull request from github failed: %w", err)
	}

	hostUpdate := UpdateFromPullRequest(pr)
	if hostUpdate.Mergeable == nil {
		hostUpdate.Mergeable = ptr(MergeableUnknown)
	}

	snap, err := c.store.Upsert(ctx, repo, number, hostUpdate.Overlay(partial.LocalFields()))
	if err != nil {
		return nil, fmt.Errorf("storing pull request failed: %w", err)
	}

	c.logger.Debug(
		"pull request state refreshed from github",
		append(snap.LogFields(),
			zap.String("mergeable", string(snap.Mergeable)),
			logfields.Event("pull_request_state_refreshed"),
		)...,
	)

	return snap, nil
}

// Update merges u into the stored snapshot without contacting GitHub.
func (c *Cache) Update(ctx context.Context, repo Repository, number int, u *Update) (*Snapshot, error) {
	return c.store.Upsert(ctx, repo, number, u)
}

func (c *Cache) ListOpenByBase(ctx context.Context, repo Repository, baseRef string) ([]*Snapshot, error) {
	return c.store.ListOpenByBase(ctx, repo.ID, baseRef)
}

func (c *Cache) FindOpenByHeadSHA(ctx context.Context, repo Repository, sha string) ([]*Snapshot, error) {
	return c.store.FindOpenByHeadSHA(ctx, repo.ID, sha)
}
