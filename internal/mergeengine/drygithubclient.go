package mergeengine

import (
	"context"

	"go.uber.org/zap"

	"github.com/simplesurance/gatekeeper/internal/githubclt"
	"github.com/simplesurance/gatekeeper/internal/logfields"
)

// DryGithubClient is a github-client that does not do any changes on github.
// All operations that could cause a change are simulated and always succeed.
// All other operations are forwarded to a wrapped GithubClient.
type DryGithubClient struct {
	GithubClient
	logger *zap.Logger
}

func NewDryGithubClient(clt GithubClient, logger *zap.Logger) *DryGithubClient {
	return &DryGithubClient{
		GithubClient: clt,
		logger:       logger.Named("dry_github_client"),
	}
}

func (c *DryGithubClient) CreateStatus(_ context.Context, owner, repo, ref string, status *githubclt.CommitStatus) error {
	c.logger.Info(
		"simulated creating of commit status, no status created on github",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.Commit(ref),
		logfields.StatusContext(status.Context),
		logfields.StatusState(status.State),
		zap.String("status_description", status.Description),
	)
	return nil
}

func (c *DryGithubClient) AddLabel(_ context.Context, owner, repo string, number int, label string) error {
	c.logger.Info(
		"simulated adding of label, no label added on github",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(number),
		logfields.Label(label),
	)
	return nil
}

func (c *DryGithubClient) CreateIssueComment(_ context.Context, owner, repo string, number int, _ string) error {
	c.logger.Info(
		"simulated creating of github issue comment, no comment created on github",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(number),
	)
	return nil
}
