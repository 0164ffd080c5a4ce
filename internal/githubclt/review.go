package githubclt

import (
	"context"
	"time"

	"github.com/google/go-github/v59/github"
)

// Review is a pull request review.
type Review struct {
	ID     int64
	Author string
	// AuthorAssociation is the relation of the author to the repository,
	// e.g. OWNER, MEMBER, COLLABORATOR, CONTRIBUTOR, NONE.
	AuthorAssociation string
	// State is one of APPROVED, CHANGES_REQUESTED, COMMENTED, DISMISSED, PENDING.
	State       string
	SubmittedAt time.Time
}

// ListReviews returns all reviews of a pull request.
func (clt *Client) ListReviews(ctx context.Context, owner, repo string, number int) ([]*Review, error) {
	var result []*Review

	opts := github.ListOptions{PerPage: perPage}
	for {
		reviews, resp, err := clt.restClt.PullRequests.ListReviews(ctx, owner, repo, number, &opts)
		if err != nil {
			return nil, clt.wrapRetryableErrors(err)
		}

		for _, r := range reviews {
			result = append(result, &Review{
				ID:                r.GetID(),
				Author:            r.GetUser().GetLogin(),
				AuthorAssociation: r.GetAuthorAssociation(),
				State:             r.GetState(),
				SubmittedAt:       r.GetSubmittedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			return result, nil
		}

		opts.Page = resp.NextPage
	}
}

// ListRequestedReviewers returns the logins of users whose review is
// requested. Requested teams are not included.
func (clt *Client) ListRequestedReviewers(ctx context.Context, owner, repo string, number int) ([]string, error) {
	var result []string

	opts := github.ListOptions{PerPage: perPage}
	for {
		reviewers, resp, err := clt.restClt.PullRequests.ListReviewers(ctx, owner, repo, number, &opts)
		if err != nil {
			return nil, clt.wrapRetryableErrors(err)
		}

		for _, u := range reviewers.Users {
			result = append(result, u.GetLogin())
		}

		if resp.NextPage == 0 {
			return result, nil
		}

		opts.Page = resp.NextPage
	}
}
