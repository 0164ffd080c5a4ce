package mergeengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/gatekeeper/internal/goorderr"
	"github.com/simplesurance/gatekeeper/internal/logfields"
	"github.com/simplesurance/gatekeeper/internal/prstate"
)

type syncStat struct {
	StartTime time.Time
	EndTime   time.Time
	Seen      uint
	Evaluated uint
	Skipped   uint
	Failures  uint
}

func (s *syncStat) LogFields() []zap.Field {
	return []zap.Field{
		zap.Duration("sync_duration", s.EndTime.Sub(s.StartTime)),
		zap.Uint("pr_sync.seen", s.Seen),
		zap.Uint("pr_sync.evaluated", s.Evaluated),
		zap.Uint("pr_sync.skipped", s.Skipped),
		zap.Uint("pr_sync.failures", s.Failures),
	}
}

// ResyncRepository retrieves all open pull requests of the repository from
// GitHub, stores their state and evaluates them.
// Evaluating a pull request failing does not abort the synchronization, all
// errors are returned joined.
func (e *Engine) ResyncRepository(ctx context.Context, owner, name string) error {
	stats := syncStat{StartTime: e.now()}

	logger := e.logger.With(
		logfields.RepositoryOwner(owner),
		logfields.Repository(name),
	)

	logger.Info("starting synchronization", logfields.Event("resync_started"))

	ghRepo, err := e.clt.Repository(ctx, owner, name)
	if err != nil {
		return fmt.Errorf("retrieving repository failed: %w", err)
	}

	repo := prstate.Repository{ID: ghRepo.ID, Owner: owner, Name: name}
	logger = logger.With(logfields.RepositoryID(repo.ID))

	pol, err := e.loadPolicy(ctx, owner, name)
	if err != nil {
		return err
	}

	logger.Debug(
		"loaded policy",
		logfields.Event("resync_policy_loaded"),
		zap.String("policy", pol.DetailedString()),
	)

	prs, err := e.clt.ListOpenPullRequests(ctx, owner, name)
	if err != nil {
		return fmt.Errorf("listing open pull requests failed: %w", err)
	}

	var errs []error
	for _, pr := range prs {
		stats.Seen++

		prLogger := logger.With(logfields.PullRequest(pr.Number))

		snap, err := e.cache.Refresh(ctx, repo, pr.Number, prstate.UpdateFromPullRequest(pr))
		if err == nil && pol.RequireReviews {
			snap, err = e.updatePendingReviewCount(ctx, snap)
		}
		if err == nil {
			err = e.evaluate(ctx, prLogger, snap, pol)
		}

		if err != nil {
			if errors.Is(err, goorderr.ErrNotFound) {
				stats.Skipped++
				prLogger.Info(
					"pull request does not exist anymore, skipping it",
					logfields.Event("resync_pull_request_not_found"),
				)
				continue
			}

			stats.Failures++
			prLogger.Warn(
				"synchronizing pull request failed",
				logfields.Event("resync_pull_request_failed"),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("pull request #%d: %w", pr.Number, err))

			if ctx.Err() != nil {
				break
			}
			continue
		}

		stats.Evaluated++
	}

	stats.EndTime = e.now()

	logger.Info(
		"synchronization finished",
		append(stats.LogFields(), logfields.Event("resync_finished"))...,
	)

	return errors.Join(errs...)
}
