package prstate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/simplesurance/gatekeeper/internal/goorderr"
)

// Store persists pull request snapshots.
// Snapshots are never deleted, closed pull requests are marked as closed.
type Store interface {
	// Get returns the snapshot or an error wrapping goorderr.ErrNotFound.
	Get(ctx context.Context, key Key) (*Snapshot, error)
	// Upsert merges u into the stored snapshot (see Merge) and returns
	// the result. If no snapshot exists it is created.
	// The merge is atomic, concurrent Upserts of different fields do not
	// overwrite each other.
	Upsert(ctx context.Context, repo Repository, number int, u *Update) (*Snapshot, error)
	// ListOpenByBase returns the open pull requests with the base branch.
	ListOpenByBase(ctx context.Context, repositoryID int64, baseRef string) ([]*Snapshot, error)
	// FindOpenByHeadSHA returns the open pull requests whose head commit
	// is sha.
	FindOpenByHeadSHA(ctx context.Context, repositoryID int64, sha string) ([]*Snapshot, error)
}

// MemStore is an in-memory Store.
type MemStore struct {
	lock      sync.Mutex
	snapshots map[Key]*Snapshot
}

func NewMemStore() *MemStore {
	return &MemStore{snapshots: map[Key]*Snapshot{}}
}

func (s *MemStore) Get(_ context.Context, key Key) (*Snapshot, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	snap, exists := s.snapshots[key]
	if !exists {
		return nil, fmt.Errorf("pull request %s: %w", key, goorderr.ErrNotFound)
	}

	return snap.Clone(), nil
}

func (s *MemStore) Upsert(_ context.Context, repo Repository, number int, u *Update) (*Snapshot, error) {
	key := Key{RepositoryID: repo.ID, Number: number}

	s.lock.Lock()
	defer s.lock.Unlock()

	base, exists := s.snapshots[key]
	if !exists {
		base = newSnapshot(repo, number)
	}

	merged := Merge(base, u)
	merged.Repository = repo
	s.snapshots[key] = merged

	return merged.Clone(), nil
}

func (s *MemStore) filter(repositoryID int64, match func(*Snapshot) bool) []*Snapshot {
	s.lock.Lock()
	defer s.lock.Unlock()

	var result []*Snapshot
	for key, snap := range s.snapshots {
		if key.RepositoryID != repositoryID || !snap.IsOpen() {
			continue
		}

		if match(snap) {
			result = append(result, snap.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Number < result[j].Number
	})

	return result
}

func (s *MemStore) ListOpenByBase(_ context.Context, repositoryID int64, baseRef string) ([]*Snapshot, error) {
	return s.filter(repositoryID, func(snap *Snapshot) bool {
		return snap.BaseRef == baseRef
	}), nil
}

func (s *MemStore) FindOpenByHeadSHA(_ context.Context, repositoryID int64, sha string) ([]*Snapshot, error) {
	return s.filter(repositoryID, func(snap *Snapshot) bool {
		return snap.HeadSHA == sha
	}), nil
}
