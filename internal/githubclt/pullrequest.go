package githubclt

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/shurcooL/githubv4"
)

const (
	PullRequestStateOpen   = "open"
	PullRequestStateClosed = "closed"
)

// PullRequest is the subset of the GitHub pull request object that is
// needed to evaluate its merge readiness.
type PullRequest struct {
	ID      int64
	Number  int
	State   string
	HeadSHA string
	BaseRef string
	// Mergeable is nil when GitHub did not compute the mergeability yet.
	Mergeable *bool
	// Labels are the sorted names of the assigned labels.
	Labels    []string
	UpdatedAt time.Time
}

// PullRequestFromGithub converts a go-github pull request to a PullRequest.
func PullRequestFromGithub(pr *github.PullRequest) *PullRequest {
	result := PullRequest{
		ID:        pr.GetID(),
		Number:    pr.GetNumber(),
		State:     pr.GetState(),
		HeadSHA:   pr.GetHead().GetSHA(),
		BaseRef:   pr.GetBase().GetRef(),
		Mergeable: pr.Mergeable,
		UpdatedAt: pr.GetUpdatedAt().Time,
	}

	result.Labels = make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		result.Labels = append(result.Labels, l.GetName())
	}
	sort.Strings(result.Labels)

	return &result
}

// PullRequest fetches a pull request.
func (clt *Client) PullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	pr, _, err := clt.restClt.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	return PullRequestFromGithub(pr), nil
}

// PullRequestsForCommit returns the pull requests in the repository that
// contain the commit sha.
// When the commit is only part of branches without pull requests an empty
// slice is returned.
func (clt *Client) PullRequestsForCommit(ctx context.Context, owner, repo, sha string) ([]*PullRequest, error) {
	prs, _, err := clt.restClt.PullRequests.ListPullRequestsWithCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	result := make([]*PullRequest, 0, len(prs))
	for _, pr := range prs {
		result = append(result, PullRequestFromGithub(pr))
	}

	return result, nil
}

type queryPullRequest struct {
	DatabaseID  int64 `graphql:"databaseId"`
	Number      int
	State       githubv4.PullRequestState
	HeadRefOid  string
	BaseRefName string
	Mergeable   githubv4.MergeableState
	UpdatedAt   githubv4.DateTime
	Labels      struct {
		Nodes []struct {
			Name string
		}
	} `graphql:"labels(first: 100)"`
}

func (q *queryPullRequest) toPullRequest() *PullRequest {
	pr := PullRequest{
		ID:        q.DatabaseID,
		Number:    q.Number,
		HeadSHA:   q.HeadRefOid,
		BaseRef:   q.BaseRefName,
		Mergeable: mergeableStateToBool(q.Mergeable),
		UpdatedAt: q.UpdatedAt.Time,
	}

	if q.State == githubv4.PullRequestStateOpen {
		pr.State = PullRequestStateOpen
	} else {
		pr.State = PullRequestStateClosed
	}

	pr.Labels = make([]string, 0, len(q.Labels.Nodes))
	for _, l := range q.Labels.Nodes {
		pr.Labels = append(pr.Labels, l.Name)
	}
	sort.Strings(pr.Labels)

	return &pr
}

func mergeableStateToBool(state githubv4.MergeableState) *bool {
	var result bool

	switch state {
	case githubv4.MergeableStateMergeable:
		result = true
	case githubv4.MergeableStateConflicting:
		result = false
	default:
		return nil
	}

	return &result
}

// ListOpenPullRequests returns all open pull requests of a repository.
func (clt *Client) ListOpenPullRequests(ctx context.Context, owner, repo string) ([]*PullRequest, error) {
	type graphQLQueryOpenPRs struct {
		Repository struct {
			PullRequests struct {
				PageInfo struct {
					EndCursor   string
					HasNextPage bool
				}
				Nodes []queryPullRequest
			} `graphql:"pullRequests(states: OPEN, first: $first, after: $after)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	vars := map[string]any{
		"owner": githubv4.String(owner),
		"name":  githubv4.String(repo),
		"first": githubv4.Int(perPage),
		"after": (*githubv4.String)(nil),
	}

	var result []*PullRequest
	for {
		var q graphQLQueryOpenPRs

		err := clt.graphQLClt.Query(ctx, &q, vars)
		if err != nil {
			return nil, clt.wrapGraphQLRetryableErrors(err)
		}

		for i := range q.Repository.PullRequests.Nodes {
			result = append(result, q.Repository.PullRequests.Nodes[i].toPullRequest())
		}

		pageInfo := q.Repository.PullRequests.PageInfo
		if !pageInfo.HasNextPage {
			return result, nil
		}

		if pageInfo.EndCursor == "" {
			return nil, fmt.Errorf("retrieving all pull requests failed, HasNextPage is %t, expected non-empty EndCursor", pageInfo.HasNextPage)
		}

		vars["after"] = githubv4.NewString(githubv4.String(pageInfo.EndCursor))
	}
}
