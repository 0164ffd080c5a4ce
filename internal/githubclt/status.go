package githubclt

import (
	"context"
	"time"

	"github.com/google/go-github/v59/github"
)

const (
	StatusStatePending = "pending"
	StatusStateSuccess = "success"
	StatusStateFailure = "failure"
	StatusStateError   = "error"
)

// CommitStatus is a GitHub commit status.
type CommitStatus struct {
	Context     string
	State       string
	Description string
	TargetURL   string
	CreatedAt   time.Time
}

// ListStatuses returns all statuses of the commit ref, in reverse
// chronological order.
func (clt *Client) ListStatuses(ctx context.Context, owner, repo, ref string) ([]*CommitStatus, error) {
	var result []*CommitStatus

	opts := github.ListOptions{PerPage: perPage}
	for {
		statuses, resp, err := clt.restClt.Repositories.ListStatuses(ctx, owner, repo, ref, &opts)
		if err != nil {
			return nil, clt.wrapRetryableErrors(err)
		}

		for _, s := range statuses {
			result = append(result, &CommitStatus{
				Context:     s.GetContext(),
				State:       s.GetState(),
				Description: s.GetDescription(),
				TargetURL:   s.GetTargetURL(),
				CreatedAt:   s.GetCreatedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			return result, nil
		}

		opts.Page = resp.NextPage
	}
}

// CreateStatus creates a commit status for ref.
// The CreatedAt field of status is ignored.
func (clt *Client) CreateStatus(ctx context.Context, owner, repo, ref string, status *CommitStatus) error {
	st := github.RepoStatus{
		Context:     &status.Context,
		State:       &status.State,
		Description: &status.Description,
	}

	if status.TargetURL != "" {
		st.TargetURL = &status.TargetURL
	}

	_, _, err := clt.restClt.Repositories.CreateStatus(ctx, owner, repo, ref, &st)
	return clt.wrapRetryableErrors(err)
}
