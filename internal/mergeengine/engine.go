// Package mergeengine evaluates the merge readiness of pull requests when
// change events happen and publishes the result as commit status.
package mergeengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/gatekeeper/internal/changeevent"
	"github.com/simplesurance/gatekeeper/internal/checks"
	"github.com/simplesurance/gatekeeper/internal/githubclt"
	"github.com/simplesurance/gatekeeper/internal/goorderr"
	"github.com/simplesurance/gatekeeper/internal/logfields"
	"github.com/simplesurance/gatekeeper/internal/policy"
	"github.com/simplesurance/gatekeeper/internal/prstate"
	"github.com/simplesurance/gatekeeper/internal/review"
	"github.com/simplesurance/gatekeeper/internal/status"
)

const loggerName = "merge_engine"

const (
	defMergeablePollAttempts = 2
	defMergeablePollInterval = 3 * time.Second
)

//go:generate mockgen -destination mocks/mock_githubclient.go -package mocks . GithubClient

type GithubClient interface {
	PullRequest(ctx context.Context, owner, repo string, number int) (*githubclt.PullRequest, error)
	PullRequestsForCommit(ctx context.Context, owner, repo, sha string) ([]*githubclt.PullRequest, error)
	ListOpenPullRequests(ctx context.Context, owner, repo string) ([]*githubclt.PullRequest, error)
	ListReviews(ctx context.Context, owner, repo string, number int) ([]*githubclt.Review, error)
	ListRequestedReviewers(ctx context.Context, owner, repo string, number int) ([]string, error)
	ListStatuses(ctx context.Context, owner, repo, ref string) ([]*githubclt.CommitStatus, error)
	CreateStatus(ctx context.Context, owner, repo, ref string, status *githubclt.CommitStatus) error
	AddLabel(ctx context.Context, owner, repo string, pullRequestOrIssueNumber int, label string) error
	CreateIssueComment(ctx context.Context, owner, repo string, issueOrPRNr int, comment string) error
	Repository(ctx context.Context, owner, repo string) (*githubclt.Repository, error)
}

// PolicyLoader provides the policies of repositories.
type PolicyLoader interface {
	Load(ctx context.Context, owner, repo string) (*policy.Policy, error)
	Invalidate(owner, repo string)
}

// Engine processes change events of pull requests.
// Events can be processed concurrently, no ordering between events of the
// same pull request is assumed.
type Engine struct {
	clt       GithubClient
	policies  PolicyLoader
	cache     *prstate.Cache
	tally     *review.Tally
	publisher *status.Publisher
	logger    *zap.Logger
	now       func() time.Time

	mergeablePollAttempts int
	mergeablePollInterval time.Duration
}

type Option func(*Engine)

// WithMergeablePoll configures how often and in which interval a pull request
// is fetched again after a push, when GitHub did not compute its mergeable
// state yet.
// attempts 0 disables polling.
func WithMergeablePoll(attempts int, interval time.Duration) Option {
	return func(e *Engine) {
		e.mergeablePollAttempts = attempts
		e.mergeablePollInterval = interval
	}
}

func New(clt GithubClient, store prstate.Store, policies PolicyLoader, opts ...Option) *Engine {
	e := Engine{
		clt:                   clt,
		policies:              policies,
		cache:                 prstate.NewCache(store, clt),
		tally:                 review.NewTally(clt),
		publisher:             status.NewPublisher(clt),
		logger:                zap.L().Named(loggerName),
		now:                   time.Now,
		mergeablePollAttempts: defMergeablePollAttempts,
		mergeablePollInterval: defMergeablePollInterval,
	}

	for _, opt := range opts {
		opt(&e)
	}

	return &e
}

func repositoryFromEvent(ev changeevent.ChangeEvent) prstate.Repository {
	r := ev.Repo()
	return prstate.Repository{ID: r.ID, Owner: r.Owner, Name: r.Name}
}

// HandleEvent processes a change event.
// When a pull request does not exist anymore or is inaccessible, processing
// is aborted and nil is returned.
// Errors of the GitHub API that are temporary are returned wrapped as
// goorderr.RetryableError.
func (e *Engine) HandleEvent(ctx context.Context, ev changeevent.ChangeEvent) error {
	logger := e.logger.With(ev.LogFields()...)

	logger.Debug("processing change event", logfields.Event("change_event_processing_started"))

	err := e.handleEvent(ctx, logger, ev)
	if err != nil {
		if errors.Is(err, goorderr.ErrNotFound) {
			logger.Info(
				"pull request or repository does not exist or is inaccessible, skipping event",
				logfields.Event("change_event_skipped_not_found"),
				zap.Error(err),
			)

			metrics.ProcessedEventsInc(ev.Kind(), eventResultSkippedVal)
			return nil
		}

		metrics.ProcessedEventsInc(ev.Kind(), eventResultFailedVal)
		return err
	}

	metrics.ProcessedEventsInc(ev.Kind(), eventResultSuccessVal)
	logger.Debug("change event processed", logfields.Event("change_event_processed"))

	return nil
}

func (e *Engine) handleEvent(ctx context.Context, logger *zap.Logger, ev changeevent.ChangeEvent) error {
	switch ev := ev.(type) {
	case *changeevent.LabelAdded:
		return e.onLabelAdded(ctx, logger, ev)
	case *changeevent.LabelRemoved:
		return e.onLabelRemoved(ctx, logger, ev)
	case *changeevent.StatusReceived:
		return e.onStatusReceived(ctx, logger, ev)
	case *changeevent.ReviewChanged:
		return e.onReviewChanged(ctx, logger, ev)
	case *changeevent.PRSynchronized:
		return e.onSynchronized(ctx, logger, ev.Repo(), ev.PullRequest)
	case *changeevent.PROpened:
		return e.onSynchronized(ctx, logger, ev.Repo(), ev.PullRequest)
	case *changeevent.PRClosed:
		return e.onClosed(ctx, logger, ev)
	case *changeevent.BranchPushed:
		return e.onBranchPushed(ctx, logger, ev)
	default:
		return fmt.Errorf("unsupported change event type: %T", ev)
	}
}

func (e *Engine) loadPolicy(ctx context.Context, owner, repo string) (*policy.Policy, error) {
	pol, err := e.policies.Load(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("loading policy failed: %w", err)
	}

	return pol, nil
}

// evaluate runs the checks of the policy for the pull request and publishes
// the verdict.
// If reviews are required and the pending review count of the pull request
// was never computed, it is computed first.
func (e *Engine) evaluate(ctx context.Context, logger *zap.Logger, snap *prstate.Snapshot, pol *policy.Policy) error {
	logger = logger.With(snap.LogFields()...)

	if !snap.IsOpen() {
		logger.Debug("pull request is closed, skipping evaluation", logfields.Event("evaluation_skipped_pr_closed"))
		return nil
	}

	if snap.HeadSHA == "" {
		logger.Warn("head commit of pull request is unknown, skipping evaluation", logfields.Event("evaluation_skipped_head_unknown"))
		return nil
	}

	if pol.RequireReviews && snap.PendingReviewCount == nil {
		var err error
		snap, err = e.updatePendingReviewCount(ctx, snap)
		if err != nil {
			return err
		}
	}

	statuses, err := e.clt.ListStatuses(ctx, snap.Repository.Owner, snap.Repository.Name, snap.HeadSHA)
	if err != nil {
		return fmt.Errorf("listing commit statuses failed: %w", err)
	}

	external := checks.LatestPerContext(statuses, pol.OwnsStatusContext)
	verdict := checks.Evaluate(snap, pol, snap.Labels, external)

	logger.Debug(
		"pull request evaluated",
		logfields.Event("pull_request_evaluated"),
		zap.Strings("verdict.pending", verdict.Pending),
		zap.Strings("verdict.failure", verdict.Failure),
	)

	published, err := e.publisher.Publish(ctx, verdict, snap, pol)
	if err != nil {
		return fmt.Errorf("publishing commit status failed: %w", err)
	}

	if published {
		metrics.PublishedStatusesInc(snap.Repository, string(verdict.State()))
	}

	return nil
}

func (e *Engine) updatePendingReviewCount(ctx context.Context, snap *prstate.Snapshot) (*prstate.Snapshot, error) {
	cnt, err := e.tally.PendingReviewCount(ctx, snap.Repository.Owner, snap.Repository.Name, snap.Number)
	if err != nil {
		return nil, fmt.Errorf("computing pending review count failed: %w", err)
	}

	snap, err = e.cache.Update(ctx, snap.Repository, snap.Number, &prstate.Update{PendingReviewCount: &cnt})
	if err != nil {
		return nil, fmt.Errorf("storing pending review count failed: %w", err)
	}

	return snap, nil
}

// resolveMergeable fetches the pull request again while its mergeable state
// is unknown, at most e.mergeablePollAttempts times.
// If it is still unknown afterwards the last fetched snapshot is returned.
func (e *Engine) resolveMergeable(ctx context.Context, logger *zap.Logger, snap *prstate.Snapshot) (*prstate.Snapshot, error) {
	for i := 0; i < e.mergeablePollAttempts && snap.Mergeable == prstate.MergeableUnknown; i++ {
		timer := time.NewTimer(e.mergeablePollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		var err error
		snap, err = e.cache.ForceRefresh(ctx, snap.Repository, snap.Number, nil)
		if err != nil {
			return nil, err
		}
	}

	if snap.Mergeable == prstate.MergeableUnknown {
		logger.Debug(
			"mergeable state of pull request is still unknown",
			logfields.Event("mergeable_state_unresolved"),
		)
	}

	return snap, nil
}
