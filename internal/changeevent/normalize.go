package changeevent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v59/github"

	"github.com/simplesurance/gatekeeper/internal/githubclt"
)

const branchRefPrefix = "refs/heads/"

// Normalize converts an event returned by github.ParseWebHook to a
// ChangeEvent.
// If the event type or its action is not processed, an error wrapping
// ErrUnsupported is returned.
func Normalize(deliveryID string, event any) (ChangeEvent, error) {
	switch ev := event.(type) {
	case *github.PullRequestEvent:
		return normalizePullRequestEvent(deliveryID, ev)

	case *github.PullRequestReviewEvent:
		return normalizePullRequestReviewEvent(deliveryID, ev)

	case *github.StatusEvent:
		return normalizeStatusEvent(deliveryID, ev)

	case *github.PushEvent:
		return normalizePushEvent(deliveryID, ev)

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, event)
	}
}

func repositoryFromGithub(repo *github.Repository) (*Repository, error) {
	if repo == nil {
		return nil, errors.New("repository field is missing")
	}

	owner := repo.GetOwner().GetLogin()
	if owner == "" {
		owner = repo.GetOwner().GetName()
	}

	r := Repository{
		ID:            repo.GetID(),
		Owner:         owner,
		Name:          repo.GetName(),
		DefaultBranch: repo.GetDefaultBranch(),
	}

	return &r, r.validate()
}

func (r *Repository) validate() error {
	if r.ID == 0 {
		return errors.New("repository id is missing")
	}

	if r.Owner == "" {
		return errors.New("repository owner is missing")
	}

	if r.Name == "" {
		return errors.New("repository name is missing")
	}

	return nil
}

func pullRequestFromGithub(pr *github.PullRequest) (*githubclt.PullRequest, error) {
	if pr == nil {
		return nil, errors.New("pull_request field is missing")
	}

	if pr.GetNumber() <= 0 {
		return nil, errors.New("pull request number is missing")
	}

	return githubclt.PullRequestFromGithub(pr), nil
}

func normalizePullRequestEvent(deliveryID string, ev *github.PullRequestEvent) (ChangeEvent, error) {
	action := ev.GetAction()

	switch action {
	case "labeled", "unlabeled", "synchronize", "opened", "reopened", "closed",
		ReviewRequested, ReviewRequestRemoved:
	default:
		return nil, fmt.Errorf("%w: pull_request action %q", ErrUnsupported, action)
	}

	repo, err := repositoryFromGithub(ev.GetRepo())
	if err != nil {
		return nil, err
	}

	pr, err := pullRequestFromGithub(ev.GetPullRequest())
	if err != nil {
		return nil, err
	}

	meta := Meta{Delivery: deliveryID, Repository: *repo}

	switch action {
	case "labeled":
		label := ev.GetLabel().GetName()
		if label == "" {
			return nil, errors.New("label field is missing")
		}

		return &LabelAdded{Meta: meta, PullRequest: pr, Label: label}, nil

	case "unlabeled":
		label := ev.GetLabel().GetName()
		if label == "" {
			return nil, errors.New("label field is missing")
		}

		return &LabelRemoved{Meta: meta, PullRequest: pr, Label: label}, nil

	case "synchronize":
		return &PRSynchronized{Meta: meta, PullRequest: pr}, nil

	case "opened", "reopened":
		return &PROpened{Meta: meta, PullRequest: pr, Reopened: action == "reopened"}, nil

	case "closed":
		return &PRClosed{Meta: meta, PullRequest: pr}, nil

	default:
		return &ReviewChanged{Meta: meta, PullRequest: pr, Action: action}, nil
	}
}

func normalizePullRequestReviewEvent(deliveryID string, ev *github.PullRequestReviewEvent) (ChangeEvent, error) {
	action := ev.GetAction()

	switch action {
	case ReviewSubmitted, ReviewEdited, ReviewDismissed:
	default:
		return nil, fmt.Errorf("%w: pull_request_review action %q", ErrUnsupported, action)
	}

	repo, err := repositoryFromGithub(ev.GetRepo())
	if err != nil {
		return nil, err
	}

	pr, err := pullRequestFromGithub(ev.GetPullRequest())
	if err != nil {
		return nil, err
	}

	return &ReviewChanged{
		Meta:        Meta{Delivery: deliveryID, Repository: *repo},
		PullRequest: pr,
		Action:      action,
	}, nil
}

func normalizeStatusEvent(deliveryID string, ev *github.StatusEvent) (ChangeEvent, error) {
	repo, err := repositoryFromGithub(ev.GetRepo())
	if err != nil {
		return nil, err
	}

	if ev.GetSHA() == "" {
		return nil, errors.New("sha field is missing")
	}

	if ev.GetContext() == "" {
		return nil, errors.New("context field is missing")
	}

	branches := make([]string, 0, len(ev.Branches))
	for _, b := range ev.Branches {
		if name := b.GetName(); name != "" {
			branches = append(branches, name)
		}
	}

	return &StatusReceived{
		Meta:     Meta{Delivery: deliveryID, Repository: *repo},
		SHA:      ev.GetSHA(),
		Context:  ev.GetContext(),
		State:    ev.GetState(),
		Branches: branches,
	}, nil
}

func normalizePushEvent(deliveryID string, ev *github.PushEvent) (ChangeEvent, error) {
	if ev.GetDeleted() {
		return nil, fmt.Errorf("%w: push event for deleted ref", ErrUnsupported)
	}

	branch, isBranch := strings.CutPrefix(ev.GetRef(), branchRefPrefix)
	if !isBranch {
		return nil, fmt.Errorf("%w: push event for non-branch ref %q", ErrUnsupported, ev.GetRef())
	}

	if branch == "" {
		return nil, errors.New("branch name is empty")
	}

	pushRepo := ev.GetRepo()
	if pushRepo == nil {
		return nil, errors.New("repository field is missing")
	}

	owner := pushRepo.GetOwner().GetLogin()
	if owner == "" {
		owner = pushRepo.GetOwner().GetName()
	}

	repo := Repository{
		ID:            pushRepo.GetID(),
		Owner:         owner,
		Name:          pushRepo.GetName(),
		DefaultBranch: pushRepo.GetDefaultBranch(),
	}
	if err := repo.validate(); err != nil {
		return nil, err
	}

	return &BranchPushed{
		Meta:    Meta{Delivery: deliveryID, Repository: repo},
		Branch:  branch,
		HeadSHA: ev.GetAfter(),
	}, nil
}
