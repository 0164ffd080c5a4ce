package mergeengine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/gatekeeper/internal/changeevent"
	"github.com/simplesurance/gatekeeper/internal/githubclt"
	"github.com/simplesurance/gatekeeper/internal/goorderr"
	"github.com/simplesurance/gatekeeper/internal/logfields"
	"github.com/simplesurance/gatekeeper/internal/policy"
	"github.com/simplesurance/gatekeeper/internal/prstate"
)

var logFieldEventIgnored = logfields.Event("change_event_ignored")

func (e *Engine) onLabelAdded(ctx context.Context, logger *zap.Logger, ev *changeevent.LabelAdded) error {
	repo := repositoryFromEvent(ev)

	pol, err := e.loadPolicy(ctx, repo.Owner, repo.Name)
	if err != nil {
		return err
	}

	snap, err := e.cache.Refresh(ctx, repo, ev.PullRequest.Number, prstate.UpdateFromPullRequest(ev.PullRequest))
	if err != nil {
		return fmt.Errorf("refreshing pull request state failed: %w", err)
	}

	if pol.IsMergeLinked(ev.Label) && !snap.HasLabel(pol.MergeLabel) {
		snap, err = e.addMergeLabel(ctx, logger, snap, pol)
		if err != nil {
			return err
		}
	}

	if ev.Label == pol.MergeLabel || ev.Label == pol.OverrideLabel {
		if _, err := e.publisher.PublishOverride(ctx, snap, pol); err != nil {
			return fmt.Errorf("publishing override status failed: %w", err)
		}
	}

	if !pol.LabelParticipates(ev.Label) {
		logger.Debug("label is not part of the policy, skipping evaluation", logFieldEventIgnored)
		return nil
	}

	return e.evaluate(ctx, logger, snap, pol)
}

func (e *Engine) addMergeLabel(ctx context.Context, logger *zap.Logger, snap *prstate.Snapshot, pol *policy.Policy) (*prstate.Snapshot, error) {
	err := e.clt.AddLabel(ctx, snap.Repository.Owner, snap.Repository.Name, snap.Number, pol.MergeLabel)
	switch {
	case err == nil:
		logger.Info(
			"merge label added",
			logfields.Event("merge_label_added"),
			zap.String("merge_label", pol.MergeLabel),
		)

	case errors.Is(err, githubclt.ErrAlreadyExists):
		logger.Debug("merge label is already assigned", logfields.Event("merge_label_exists"))

	default:
		return nil, fmt.Errorf("adding merge label failed: %w", err)
	}

	labels := append(append([]string{}, snap.Labels...), pol.MergeLabel)
	snap, err = e.cache.Update(ctx, snap.Repository, snap.Number, &prstate.Update{Labels: labels})
	if err != nil {
		return nil, fmt.Errorf("storing labels failed: %w", err)
	}

	return snap, nil
}

func (e *Engine) onLabelRemoved(ctx context.Context, logger *zap.Logger, ev *changeevent.LabelRemoved) error {
	repo := repositoryFromEvent(ev)

	pol, err := e.loadPolicy(ctx, repo.Owner, repo.Name)
	if err != nil {
		return err
	}

	snap, err := e.cache.Refresh(ctx, repo, ev.PullRequest.Number, prstate.UpdateFromPullRequest(ev.PullRequest))
	if err != nil {
		return fmt.Errorf("refreshing pull request state failed: %w", err)
	}

	if !pol.LabelRemovalRelevant(ev.Label) {
		logger.Debug("removing the label does not affect the verdict, skipping evaluation", logFieldEventIgnored)
		return nil
	}

	return e.evaluate(ctx, logger, snap, pol)
}

func (e *Engine) onStatusReceived(ctx context.Context, logger *zap.Logger, ev *changeevent.StatusReceived) error {
	repo := repositoryFromEvent(ev)

	pol, err := e.loadPolicy(ctx, repo.Owner, repo.Name)
	if err != nil {
		return err
	}

	if pol.OwnsStatusContext(ev.Context) {
		logger.Debug("status was created by gatekeeper, ignoring event", logFieldEventIgnored)
		return nil
	}

	prs, err := e.pullRequestsForCommit(ctx, repo, ev)
	if err != nil {
		return err
	}

	if len(prs) == 0 {
		logger.Debug("commit does not belong to an open pull request, ignoring event", logFieldEventIgnored)
		return nil
	}

	var errs []error
	for _, number := range prs {
		// the labels and mergeable state of the cached snapshot might be
		// outdated, the pull request is always retrieved from GitHub
		snap, err := e.cache.Refresh(ctx, repo, number, nil)
		if err != nil {
			if errors.Is(err, goorderr.ErrNotFound) {
				logger.Info(
					"pull request does not exist anymore, skipping it",
					logfields.Event("pull_request_not_found"),
					logfields.PullRequest(number),
				)
				continue
			}

			errs = append(errs, fmt.Errorf("refreshing pull request #%d failed: %w", number, err))
			continue
		}

		if err := e.evaluate(ctx, logger, snap, pol); err != nil {
			errs = append(errs, fmt.Errorf("evaluating pull request #%d failed: %w", number, err))
		}
	}

	return errors.Join(errs...)
}

// pullRequestsForCommit returns the numbers of the open pull requests whose
// head commit is the commit of the status event.
// Cached pull requests are preferred, if none is cached GitHub is queried.
// GitHub is not queried for commits that are the head of the default branch.
func (e *Engine) pullRequestsForCommit(ctx context.Context, repo prstate.Repository, ev *changeevent.StatusReceived) ([]int, error) {
	cached, err := e.cache.FindOpenByHeadSHA(ctx, repo, ev.SHA)
	if err != nil {
		return nil, fmt.Errorf("querying cached pull requests failed: %w", err)
	}

	if len(cached) > 0 {
		result := make([]int, 0, len(cached))
		for _, snap := range cached {
			result = append(result, snap.Number)
		}

		return result, nil
	}

	if ev.OnDefaultBranch() {
		return nil, nil
	}

	prs, err := e.clt.PullRequestsForCommit(ctx, repo.Owner, repo.Name, ev.SHA)
	if err != nil {
		return nil, fmt.Errorf("retrieving pull requests for commit failed: %w", err)
	}

	var result []int
	for _, pr := range prs {
		if pr.State != githubclt.PullRequestStateOpen || pr.HeadSHA != ev.SHA {
			continue
		}

		result = append(result, pr.Number)
	}

	return result, nil
}

func (e *Engine) onReviewChanged(ctx context.Context, logger *zap.Logger, ev *changeevent.ReviewChanged) error {
	repo := repositoryFromEvent(ev)

	pol, err := e.loadPolicy(ctx, repo.Owner, repo.Name)
	if err != nil {
		return err
	}

	if !pol.RequireReviews {
		logger.Debug("reviews are not required by the policy, ignoring event", logFieldEventIgnored)
		return nil
	}

	snap, err := e.cache.Refresh(ctx, repo, ev.PullRequest.Number, prstate.UpdateFromPullRequest(ev.PullRequest))
	if err != nil {
		return fmt.Errorf("refreshing pull request state failed: %w", err)
	}

	snap, err = e.updatePendingReviewCount(ctx, snap)
	if err != nil {
		return err
	}

	return e.evaluate(ctx, logger, snap, pol)
}

// onSynchronized handles pull requests that were opened or got new commits.
func (e *Engine) onSynchronized(ctx context.Context, logger *zap.Logger, evRepo *changeevent.Repository, pr *githubclt.PullRequest) error {
	repo := prstate.Repository{ID: evRepo.ID, Owner: evRepo.Owner, Name: evRepo.Name}

	pol, err := e.loadPolicy(ctx, repo.Owner, repo.Name)
	if err != nil {
		return err
	}

	// the payload is not used, GitHub recomputes the mergeable state after a
	// push and the labels might have changed since the event was sent
	now := e.now()
	snap, err := e.cache.ForceRefresh(ctx, repo, pr.Number, &prstate.Update{SynchronizedAt: &now})
	if err != nil {
		return fmt.Errorf("refreshing pull request state failed: %w", err)
	}

	snap, err = e.resolveMergeable(ctx, logger, snap)
	if err != nil {
		return fmt.Errorf("refreshing mergeable state failed: %w", err)
	}

	return e.evaluate(ctx, logger, snap, pol)
}

func (e *Engine) onClosed(ctx context.Context, logger *zap.Logger, ev *changeevent.PRClosed) error {
	repo := repositoryFromEvent(ev)

	u := prstate.UpdateFromPullRequest(ev.PullRequest)
	closed := prstate.StateClosed
	u.State = &closed

	if _, err := e.cache.Update(ctx, repo, ev.PullRequest.Number, u); err != nil {
		return fmt.Errorf("storing pull request state failed: %w", err)
	}

	logger.Debug("pull request marked as closed", logfields.Event("pull_request_closed"))

	return nil
}

// onBranchPushed creates a conflict comment on all open pull requests with
// the branch as base branch that are in conflict with it and were not
// notified since their last synchronization.
func (e *Engine) onBranchPushed(ctx context.Context, logger *zap.Logger, ev *changeevent.BranchPushed) error {
	repo := repositoryFromEvent(ev)

	if ev.IsDefaultBranch() {
		e.policies.Invalidate(repo.Owner, repo.Name)
	}

	pol, err := e.loadPolicy(ctx, repo.Owner, repo.Name)
	if err != nil {
		return err
	}

	if !pol.NoConflict {
		logger.Debug("conflict check is disabled, ignoring push event", logFieldEventIgnored)
		return nil
	}

	prs, err := e.cache.ListOpenByBase(ctx, repo, ev.Branch)
	if err != nil {
		return fmt.Errorf("querying cached pull requests failed: %w", err)
	}

	var errs []error
	for _, pr := range prs {
		if err := e.checkConflict(ctx, logger, pr, pol); err != nil {
			if errors.Is(err, goorderr.ErrNotFound) {
				logger.Info(
					"pull request does not exist anymore, skipping it",
					logfields.Event("pull_request_not_found"),
					logfields.PullRequest(pr.Number),
				)
				continue
			}

			errs = append(errs, fmt.Errorf("checking pull request #%d for conflicts failed: %w", pr.Number, err))
		}
	}

	return errors.Join(errs...)
}

func (e *Engine) checkConflict(ctx context.Context, logger *zap.Logger, pr *prstate.Snapshot, pol *policy.Policy) error {
	logger = logger.With(logfields.PullRequest(pr.Number))

	snap, err := e.cache.ForceRefresh(ctx, pr.Repository, pr.Number, nil)
	if err != nil {
		return err
	}

	snap, err = e.resolveMergeable(ctx, logger, snap)
	if err != nil {
		return err
	}

	if !snap.IsOpen() || !snap.NeedsConflictComment() {
		return nil
	}

	err = e.clt.CreateIssueComment(ctx, snap.Repository.Owner, snap.Repository.Name, snap.Number, pol.ConflictCommentText(snap.BaseRef))
	if err != nil {
		return fmt.Errorf("creating conflict comment failed: %w", err)
	}

	now := e.now()
	if _, err := e.cache.Update(ctx, snap.Repository, snap.Number, &prstate.Update{ConflictCommentAt: &now}); err != nil {
		return fmt.Errorf("storing conflict comment time failed: %w", err)
	}

	metrics.ConflictCommentsInc(snap.Repository)
	logger.Info("pull request conflicts with base branch, comment created", logfields.Event("conflict_comment_created"))

	return nil
}
