// Package status publishes merge readiness verdicts as GitHub commit
// statuses.
package status

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/simplesurance/gatekeeper/internal/checks"
	"github.com/simplesurance/gatekeeper/internal/githubclt"
	"github.com/simplesurance/gatekeeper/internal/logfields"
	"github.com/simplesurance/gatekeeper/internal/policy"
	"github.com/simplesurance/gatekeeper/internal/prstate"
)

const loggerName = "status_publisher"

// MaxDescriptionLen is the maximum number of characters of a status
// description.
const MaxDescriptionLen = 140

const truncationSuffix = "..."

const overrideDescription = "Override label is set"

// Creator creates commit statuses.
type Creator interface {
	CreateStatus(ctx context.Context, owner, repo, ref string, status *githubclt.CommitStatus) error
}

// Publisher creates the commit status for verdicts.
// Every call creates a status, it does not compare with previously created
// ones.
type Publisher struct {
	clt    Creator
	logger *zap.Logger
}

func NewPublisher(clt Creator) *Publisher {
	return &Publisher{
		clt:    clt,
		logger: zap.L().Named(loggerName),
	}
}

// Describe returns the commit status state and description for a verdict.
// Failure reasons are listed before pending ones.
func Describe(v *checks.Verdict, successText string) (state, description string) {
	switch v.State() {
	case checks.StateFailure:
		reasons := make([]string, 0, len(v.Failure)+len(v.Pending))
		reasons = append(reasons, v.Failure...)
		reasons = append(reasons, v.Pending...)

		return githubclt.StatusStateFailure, FormatDescription(strings.Join(reasons, ", "))

	case checks.StatePending:
		return githubclt.StatusStatePending, FormatDescription(strings.Join(v.Pending, ", "))

	default:
		return githubclt.StatusStateSuccess, FormatDescription(successText)
	}
}

// FormatDescription upper-cases the first character of s and truncates it
// to MaxDescriptionLen characters.
func FormatDescription(s string) string {
	return Truncate(upperFirst(s))
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}

	return string(unicode.ToUpper(r)) + s[size:]
}

// Truncate shortens s to MaxDescriptionLen characters. When s is longer the
// last 3 characters are replaced by "...".
func Truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxDescriptionLen {
		return s
	}

	runes := []rune(s)
	return string(runes[:MaxDescriptionLen-len(truncationSuffix)]) + truncationSuffix
}

// Publish creates the commit status for the verdict at the head commit of
// the pull request.
// It returns false without creating a status when the pull request is closed
// or its head commit is unknown.
func (p *Publisher) Publish(ctx context.Context, v *checks.Verdict, pr *prstate.Snapshot, pol *policy.Policy) (bool, error) {
	state, description := Describe(v, pol.SuccessText)
	return p.create(ctx, pr, &githubclt.CommitStatus{
		Context:     pol.StatusContext,
		State:       state,
		Description: description,
		TargetURL:   pol.StatusTargetURL,
	})
}

// PublishOverride creates a success status with the override status context
// at the head commit of the pull request.
// It returns false without creating a status when no override status context
// is configured, the pull request does not have the override label or it is
// closed.
func (p *Publisher) PublishOverride(ctx context.Context, pr *prstate.Snapshot, pol *policy.Policy) (bool, error) {
	if pol.OverrideStatusContext == "" || pol.OverrideLabel == "" || !pr.HasLabel(pol.OverrideLabel) {
		return false, nil
	}

	return p.create(ctx, pr, &githubclt.CommitStatus{
		Context:     pol.OverrideStatusContext,
		State:       githubclt.StatusStateSuccess,
		Description: overrideDescription,
		TargetURL:   pol.StatusTargetURL,
	})
}

func (p *Publisher) create(ctx context.Context, pr *prstate.Snapshot, st *githubclt.CommitStatus) (bool, error) {
	logger := p.logger.With(pr.LogFields()...).With(
		logfields.StatusContext(st.Context),
		logfields.StatusState(st.State),
	)

	if !pr.IsOpen() {
		logger.Debug("pull request is closed, skipping creating status",
			logfields.Event("status_publish_skipped_pr_closed"))
		return false, nil
	}

	if pr.HeadSHA == "" {
		logger.Warn("head commit of pull request is unknown, skipping creating status",
			logfields.Event("status_publish_skipped_head_unknown"))
		return false, nil
	}

	err := p.clt.CreateStatus(ctx, pr.Repository.Owner, pr.Repository.Name, pr.HeadSHA, st)
	if err != nil {
		return false, err
	}

	logger.Info(
		"commit status created",
		logfields.Event("status_published"),
		zap.String("status_description", st.Description),
	)

	return true, nil
}
