package githubclt

import (
	"context"
	"errors"
	"fmt"
)

// Repository describes a GitHub repository.
type Repository struct {
	ID            int64
	Owner         string
	Name          string
	DefaultBranch string
}

// Repository fetches information about a repository.
func (clt *Client) Repository(ctx context.Context, owner, repo string) (*Repository, error) {
	r, _, err := clt.restClt.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	return &Repository{
		ID:            r.GetID(),
		Owner:         r.GetOwner().GetLogin(),
		Name:          r.GetName(),
		DefaultBranch: r.GetDefaultBranch(),
	}, nil
}

// FileContent returns the content of a file in the default branch of the
// repository.
// If the file does not exist an error wrapping goorderr.ErrNotFound is
// returned.
func (clt *Client) FileContent(ctx context.Context, owner, repo, path string) ([]byte, error) {
	file, _, _, err := clt.restClt.Repositories.GetContents(ctx, owner, repo, path, nil)
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	if file == nil {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding content of %s failed: %w", path, err)
	}

	if content == "" && file.GetSize() > 0 {
		return nil, errors.New("github returned an empty content for a non-empty file, files >1MB are not supported")
	}

	return []byte(content), nil
}
