// Package changeevent converts GitHub webhook events to the change events
// that are processed by the merge engine.
package changeevent

import (
	"errors"

	"go.uber.org/zap"

	"github.com/simplesurance/gatekeeper/internal/githubclt"
	"github.com/simplesurance/gatekeeper/internal/logfields"
)

// ErrUnsupported is returned by Normalize for events and actions that are not
// processed.
var ErrUnsupported = errors.New("unsupported event")

// Repository is the repository an event happened in.
type Repository struct {
	ID            int64
	Owner         string
	Name          string
	DefaultBranch string
}

func (r *Repository) LogFields() []zap.Field {
	return []zap.Field{
		logfields.RepositoryID(r.ID),
		logfields.RepositoryOwner(r.Owner),
		logfields.Repository(r.Name),
	}
}

// ChangeEvent is one of the event types defined in this package:
// *LabelAdded, *LabelRemoved, *StatusReceived, *ReviewChanged,
// *PRSynchronized, *PROpened, *PRClosed, *BranchPushed.
type ChangeEvent interface {
	// Kind returns a short snake-case name of the event type.
	Kind() string
	DeliveryID() string
	Repo() *Repository
	LogFields() []zap.Field

	changeEvent()
}

// Meta contains the fields that all events share.
type Meta struct {
	Delivery   string
	Repository Repository
}

func (m *Meta) DeliveryID() string {
	return m.Delivery
}

func (m *Meta) Repo() *Repository {
	return &m.Repository
}

func (m *Meta) logFields(kind string) []zap.Field {
	return append(
		m.Repository.LogFields(),
		logfields.DeliveryID(m.Delivery),
		logfields.ChangeEvent(kind),
	)
}

func (*Meta) changeEvent() {}

// LabelAdded is sent when a label was assigned to a pull request.
type LabelAdded struct {
	Meta
	// PullRequest is the state of the pull request as contained in the
	// webhook payload.
	PullRequest *githubclt.PullRequest
	Label       string
}

func (*LabelAdded) Kind() string { return "label_added" }

func (e *LabelAdded) LogFields() []zap.Field {
	return append(e.logFields(e.Kind()), logfields.PullRequest(e.PullRequest.Number), logfields.Label(e.Label))
}

// LabelRemoved is sent when a label was removed from a pull request.
type LabelRemoved struct {
	Meta
	PullRequest *githubclt.PullRequest
	Label       string
}

func (*LabelRemoved) Kind() string { return "label_removed" }

func (e *LabelRemoved) LogFields() []zap.Field {
	return append(e.logFields(e.Kind()), logfields.PullRequest(e.PullRequest.Number), logfields.Label(e.Label))
}

// StatusReceived is sent when a commit status was created.
type StatusReceived struct {
	Meta
	SHA     string
	Context string
	State   string
	// Branches are the names of the branches whose head commit is SHA.
	Branches []string
}

func (*StatusReceived) Kind() string { return "status_received" }

func (e *StatusReceived) LogFields() []zap.Field {
	return append(
		e.logFields(e.Kind()),
		logfields.Commit(e.SHA),
		logfields.StatusContext(e.Context),
		logfields.StatusState(e.State),
	)
}

// OnDefaultBranch returns true if the commit is the head of the default
// branch of the repository.
func (e *StatusReceived) OnDefaultBranch() bool {
	if e.Repository.DefaultBranch == "" {
		return false
	}

	for _, b := range e.Branches {
		if b == e.Repository.DefaultBranch {
			return true
		}
	}

	return false
}

const (
	ReviewRequested      = "review_requested"
	ReviewRequestRemoved = "review_request_removed"
	ReviewSubmitted      = "submitted"
	ReviewEdited         = "edited"
	ReviewDismissed      = "dismissed"
)

// ReviewChanged is sent when a review was requested, a review request was
// removed or a review was submitted, edited or dismissed.
type ReviewChanged struct {
	Meta
	PullRequest *githubclt.PullRequest
	Action      string
}

func (*ReviewChanged) Kind() string { return "review_changed" }

func (e *ReviewChanged) LogFields() []zap.Field {
	return append(
		e.logFields(e.Kind()),
		logfields.PullRequest(e.PullRequest.Number),
		zap.String("review_action", e.Action),
	)
}

// PRSynchronized is sent when commits were pushed to the branch of a pull
// request.
type PRSynchronized struct {
	Meta
	PullRequest *githubclt.PullRequest
}

func (*PRSynchronized) Kind() string { return "pr_synchronized" }

func (e *PRSynchronized) LogFields() []zap.Field {
	return append(e.logFields(e.Kind()), logfields.PullRequest(e.PullRequest.Number), logfields.Commit(e.PullRequest.HeadSHA))
}

// PROpened is sent when a pull request was opened or reopened.
type PROpened struct {
	Meta
	PullRequest *githubclt.PullRequest
	Reopened    bool
}

func (*PROpened) Kind() string { return "pr_opened" }

func (e *PROpened) LogFields() []zap.Field {
	return append(e.logFields(e.Kind()), logfields.PullRequest(e.PullRequest.Number), logfields.Commit(e.PullRequest.HeadSHA))
}

// PRClosed is sent when a pull request was closed or merged.
type PRClosed struct {
	Meta
	PullRequest *githubclt.PullRequest
}

func (*PRClosed) Kind() string { return "pr_closed" }

func (e *PRClosed) LogFields() []zap.Field {
	return append(e.logFields(e.Kind()), logfields.PullRequest(e.PullRequest.Number))
}

// BranchPushed is sent when commits were pushed to a branch.
type BranchPushed struct {
	Meta
	Branch  string
	HeadSHA string
}

func (*BranchPushed) Kind() string { return "branch_pushed" }

func (e *BranchPushed) LogFields() []zap.Field {
	return append(e.logFields(e.Kind()), logfields.Branch(e.Branch), logfields.Commit(e.HeadSHA))
}

// IsDefaultBranch returns true if the push was to the default branch of the
// repository.
func (e *BranchPushed) IsDefaultBranch() bool {
	return e.Repository.DefaultBranch != "" && e.Branch == e.Repository.DefaultBranch
}
