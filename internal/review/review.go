// Package review counts the code reviews that block merging a pull request.
package review

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/simplesurance/gatekeeper/internal/githubclt"
)

const (
	StateApproved         = "APPROVED"
	StateChangesRequested = "CHANGES_REQUESTED"
	StateCommented        = "COMMENTED"
	StateDismissed        = "DISMISSED"
	StatePending          = "PENDING"
)

// qualifyingAssociations are the author associations whose reviews are
// counted.
var qualifyingAssociations = map[string]struct{}{
	"OWNER":        {},
	"MEMBER":       {},
	"COLLABORATOR": {},
	"CONTRIBUTOR":  {},
}

// Client retrieves review information of pull requests.
type Client interface {
	ListReviews(ctx context.Context, owner, repo string, number int) ([]*githubclt.Review, error)
	ListRequestedReviewers(ctx context.Context, owner, repo string, number int) ([]string, error)
}

// PendingCount returns the number of outstanding reviews.
// Only the most recent non-comment review of each qualifying author is
// considered, it is outstanding when its state is PENDING or
// CHANGES_REQUESTED. Each requested reviewer adds one, GitHub removes a
// reviewer from the requested ones when the review is submitted.
// The result does not depend on the order of reviews.
func PendingCount(reviews []*githubclt.Review, requested []string) int {
	sorted := make([]*githubclt.Review, 0, len(reviews))
	for _, r := range reviews {
		if r.State == StateCommented {
			continue
		}

		if _, ok := qualifyingAssociations[r.AuthorAssociation]; !ok {
			continue
		}

		sorted = append(sorted, r)
	}

	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].SubmittedAt.Equal(sorted[j].SubmittedAt) {
			return sorted[i].SubmittedAt.After(sorted[j].SubmittedAt)
		}

		return sorted[i].ID > sorted[j].ID
	})

	latest := make(map[string]*githubclt.Review, len(sorted))
	for _, r := range sorted {
		author := strings.ToLower(r.Author)
		if _, exists := latest[author]; exists {
			continue
		}

		latest[author] = r
	}

	var cnt int
	for _, r := range latest {
		if r.State == StatePending || r.State == StateChangesRequested {
			cnt++
		}
	}

	return cnt + len(requested)
}

// Tally computes the pending review count of pull requests.
type Tally struct {
	clt Client
}

func NewTally(clt Client) *Tally {
	return &Tally{clt: clt}
}

// PendingReviewCount retrieves the reviews and requested reviewers of a pull
// request and returns the number of outstanding reviews.
func (t *Tally) PendingReviewCount(ctx context.Context, owner, repo string, number int) (int, error) {
	reviews, err := t.clt.ListReviews(ctx, owner, repo, number)
	if err != nil {
		return 0, fmt.Errorf("listing reviews failed: %w", err)
	}

	requested, err := t.clt.ListRequestedReviewers(ctx, owner, repo, number)
	if err != nil {
		return 0, fmt.Errorf("listing requested reviewers failed: %w", err)
	}

	return PendingCount(reviews, requested), nil
}
