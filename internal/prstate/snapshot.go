// Package prstate caches the state of pull requests.
package prstate

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/gatekeeper/internal/githubclt"
	"github.com/simplesurance/gatekeeper/internal/logfields"
)

// Repository identifies a GitHub repository.
type Repository struct {
	ID    int64
	Owner string
	Name  string
}

func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

func (r Repository) LogFields() []zap.Field {
	return []zap.Field{
		logfields.RepositoryID(r.ID),
		logfields.RepositoryOwner(r.Owner),
		logfields.Repository(r.Name),
	}
}

// Key identifies a pull request in the store.
type Key struct {
	RepositoryID int64
	Number       int
}

func (k Key) String() string {
	return fmt.Sprintf("%d#%d", k.RepositoryID, k.Number)
}

// Mergeable describes if a pull request can be merged into its base branch
// without conflicts.
type Mergeable string

const (
	MergeableUnknown Mergeable = "unknown"
	MergeableTrue    Mergeable = "mergeable"
	MergeableFalse   Mergeable = "conflicting"
)

// MergeableFromBool converts the tri-state mergeable value of the GitHub API,
// nil means not computed yet.
func MergeableFromBool(v *bool) Mergeable {
	switch {
	case v == nil:
		return MergeableUnknown
	case *v:
		return MergeableTrue
	default:
		return MergeableFalse
	}
}

type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

// Snapshot is the last known state of a pull request.
type Snapshot struct {
	// ID is the GitHub ID of the pull request, it does not change once it
	// was assigned.
	ID         int64
	Number     int
	Repository Repository
	HeadSHA    string
	BaseRef    string
	Mergeable  Mergeable
	// Labels is the sorted set of assigned label names.
	Labels []string
	// PendingReviewCount is nil if it was never computed.
	PendingReviewCount *int
	// SynchronizedAt is the time when new commits were pushed to the pull
	// request branch the last time.
	SynchronizedAt *time.Time
	// ConflictCommentAt is the time when the last conflict comment was
	// created.
	ConflictCommentAt *time.Time
	State             State
	UpdatedAt         time.Time
}

func (s *Snapshot) Key() Key {
	return Key{RepositoryID: s.Repository.ID, Number: s.Number}
}

func (s *Snapshot) HasLabel(name string) bool {
	_, found := slices.BinarySearch(s.Labels, name)
	return found
}

func (s *Snapshot) IsOpen() bool {
	return s.State != StateClosed
}

// ConflictNotified returns true if a conflict comment was created after the
// last time the pull request branch was synchronized.
func (s *Snapshot) ConflictNotified() bool {
	if s.ConflictCommentAt == nil {
		return false
	}

	if s.SynchronizedAt == nil {
		return true
	}

	return !s.ConflictCommentAt.Before(*s.SynchronizedAt)
}

// NeedsConflictComment returns true if the pull request conflicts with its
// base branch and no conflict comment was created since the last
// synchronization.
func (s *Snapshot) NeedsConflictComment() bool {
	return s.Mergeable == MergeableFalse && !s.ConflictNotified()
}

func (s *Snapshot) Clone() *Snapshot {
	result := *s
	result.Labels = slices.Clone(s.Labels)

	if s.PendingReviewCount != nil {
		v := *s.PendingReviewCount
		result.PendingReviewCount = &v
	}

	if s.SynchronizedAt != nil {
		v := *s.SynchronizedAt
		result.SynchronizedAt = &v
	}

	if s.ConflictCommentAt != nil {
		v := *s.ConflictCommentAt
		result.ConflictCommentAt = &v
	}

	return &result
}

func (s *Snapshot) LogFields() []zap.Field {
	return append(
		s.Repository.LogFields(),
		logfields.PullRequest(s.Number),
		logfields.Commit(s.HeadSHA),
		logfields.BaseBranch(s.BaseRef),
	)
}

// Update is a partial Snapshot, nil fields are not changed when it is
// applied.
// A nil Labels slice keeps the labels, an empty non-nil slice removes all.
type Update struct {
	ID                 *int64
	HeadSHA            *string
	BaseRef            *string
	Mergeable          *Mergeable
	Labels             []string
	PendingReviewCount *int
	SynchronizedAt     *time.Time
	ConflictCommentAt  *time.Time
	State              *State
	UpdatedAt          *time.Time
}

func ptr[T any](v T) *T {
	return &v
}

// UpdateFromPullRequest returns an Update containing the fields of pr that
// GitHub is authoritative for.
// Mergeable is only set when pr.Mergeable is not nil.
func UpdateFromPullRequest(pr *githubclt.PullRequest) *Update {
	u := Update{
		HeadSHA: ptr(pr.HeadSHA),
		BaseRef: ptr(pr.BaseRef),
		Labels:  NormalizeLabels(pr.Labels),
	}

	if pr.ID != 0 {
		u.ID = ptr(pr.ID)
	}

	if pr.Mergeable != nil {
		u.Mergeable = ptr(MergeableFromBool(pr.Mergeable))
	}

	if pr.State == githubclt.PullRequestStateClosed {
		u.State = ptr(StateClosed)
	} else {
		u.State = ptr(StateOpen)
	}

	if !pr.UpdatedAt.IsZero() {
		u.UpdatedAt = ptr(pr.UpdatedAt)
	}

	return &u
}

// NormalizeLabels returns a sorted copy of labels without duplicates.
func NormalizeLabels(labels []string) []string {
	result := make([]string, len(labels))
	copy(result, labels)
	sort.Strings(result)

	return slices.Compact(result)
}

// LocalFields returns an Update that only contains the fields of u that are
// computed by gatekeeper and not retrieved from GitHub.
func (u *Update) LocalFields() *Update {
	if u == nil {
		return nil
	}

	return &Update{
		PendingReviewCount: u.PendingReviewCount,
		SynchronizedAt:     u.SynchronizedAt,
		ConflictCommentAt:  u.ConflictCommentAt,
	}
}

// Overlay returns an Update with the fields of u, overwritten by all non-nil
// fields of over.
func (u *Update) Overlay(over *Update) *Update {
	if u == nil {
		if over == nil {
			return &Update{}
		}

		result := *over
		return &result
	}

	result := *u
	if over == nil {
		return &result
	}

	if over.ID != nil {
		result.ID = over.ID
	}
	if over.HeadSHA != nil {
		result.HeadSHA = over.HeadSHA
	}
	if over.BaseRef != nil {
		result.BaseRef = over.BaseRef
	}
	if over.Mergeable != nil {
		result.Mergeable = over.Mergeable
	}
	if over.Labels != nil {
		result.Labels = over.Labels
	}
	if over.PendingReviewCount != nil {
		result.PendingReviewCount = over.PendingReviewCount
	}
	if over.SynchronizedAt != nil {
		result.SynchronizedAt = over.SynchronizedAt
	}
	if over.ConflictCommentAt != nil {
		result.ConflictCommentAt = over.ConflictCommentAt
	}
	if over.State != nil {
		result.State = over.State
	}
	if over.UpdatedAt != nil {
		result.UpdatedAt = over.UpdatedAt
	}

	return &result
}

// Merge applies u to base and returns the result, base is not modified.
// Fields GitHub is authoritative for (HeadSHA, BaseRef, Mergeable, Labels,
// State, UpdatedAt) and the locally computed fields (PendingReviewCount,
// SynchronizedAt, ConflictCommentAt) are merged the same way: the value of u
// wins when it is set.
// ID is only set when base has none.
func Merge(base *Snapshot, u *Update) *Snapshot {
	result := base.Clone()
	if u == nil {
		return result
	}

	if u.ID != nil && result.ID == 0 {
		result.ID = *u.ID
	}
	if u.HeadSHA != nil {
		result.HeadSHA = *u.HeadSHA
	}
	if u.BaseRef != nil {
		result.BaseRef = *u.BaseRef
	}
	if u.Mergeable != nil {
		result.Mergeable = *u.Mergeable
	}
	if u.Labels != nil {
		result.Labels = NormalizeLabels(u.Labels)
	}
	if u.PendingReviewCount != nil {
		result.PendingReviewCount = ptr(*u.PendingReviewCount)
	}
	if u.SynchronizedAt != nil {
		result.SynchronizedAt = ptr(*u.SynchronizedAt)
	}
	if u.ConflictCommentAt != nil {
		result.ConflictCommentAt = ptr(*u.ConflictCommentAt)
	}
	if u.State != nil {
		result.State = *u.State
	}
	if u.UpdatedAt != nil {
		result.UpdatedAt = *u.UpdatedAt
	}

	return result
}

// newSnapshot returns the Snapshot of a pull request that was never seen
// before.
func newSnapshot(repo Repository, number int) *Snapshot {
	return &Snapshot{
		Number:     number,
		Repository: repo,
		Mergeable:  MergeableUnknown,
		Labels:     []string{},
		State:      StateOpen,
	}
}
