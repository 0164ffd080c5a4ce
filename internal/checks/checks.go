// Package checks evaluates the merge readiness of pull requests.
package checks

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/simplesurance/gatekeeper/internal/githubclt"
	"github.com/simplesurance/gatekeeper/internal/policy"
	"github.com/simplesurance/gatekeeper/internal/prstate"
)

// State is the aggregated result of a Verdict.
type State string

const (
	StateSuccess State = "success"
	StatePending State = "pending"
	StateFailure State = "failure"
)

// Verdict contains the reasons why a pull request is not ready to be
// merged, in evaluation order.
type Verdict struct {
	Pending []string
	Failure []string
}

// State returns StateFailure if the verdict has failure reasons, otherwise
// StatePending if it has pending reasons, otherwise StateSuccess.
func (v *Verdict) State() State {
	if len(v.Failure) > 0 {
		return StateFailure
	}

	if len(v.Pending) > 0 {
		return StatePending
	}

	return StateSuccess
}

func (v *Verdict) addPending(format string, a ...any) {
	v.Pending = append(v.Pending, fmt.Sprintf(format, a...))
}

func (v *Verdict) addFailure(format string, a ...any) {
	v.Failure = append(v.Failure, fmt.Sprintf(format, a...))
}

// ExternalStatus is the latest commit status of a context.
type ExternalStatus struct {
	Context   string
	State     string
	CreatedAt time.Time
}

// LatestPerContext returns the newest status of each context, sorted by
// context. Statuses whose context is matched by exclude are omitted.
func LatestPerContext(statuses []*githubclt.CommitStatus, exclude func(context string) bool) []*ExternalStatus {
	latest := make(map[string]*ExternalStatus, len(statuses))

	for _, st := range statuses {
		if exclude != nil && exclude(st.Context) {
			continue
		}

		cur, exists := latest[st.Context]
		if exists && !st.CreatedAt.After(cur.CreatedAt) {
			continue
		}

		latest[st.Context] = &ExternalStatus{
			Context:   st.Context,
			State:     st.State,
			CreatedAt: st.CreatedAt,
		}
	}

	result := make([]*ExternalStatus, 0, len(latest))
	for _, st := range latest {
		result = append(result, st)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Context < result[j].Context
	})

	return result
}

func missingPatterns(patterns []policy.Pattern, values []string) []string {
	var missing []string

	for _, p := range patterns {
		found := false
		for _, v := range values {
			if p.Match(v) {
				found = true
				break
			}
		}

		if !found {
			missing = append(missing, p.String())
		}
	}

	return missing
}

func matchingPatterns(patterns []policy.Pattern, values []string) []string {
	var matching []string

	for _, p := range patterns {
		for _, v := range values {
			if p.Match(v) {
				matching = append(matching, p.String())
				break
			}
		}
	}

	return matching
}

// Evaluate runs all checks of the policy for the pull request and returns
// the verdict. All checks are evaluated, a failing check does not skip the
// following ones.
// labels are the labels of the pull request, statuses the latest external
// commit statuses of its head commit, they must not contain statuses
// created by the application itself.
func Evaluate(pr *prstate.Snapshot, p *policy.Policy, labels []string, statuses []*ExternalStatus) *Verdict {
	var v Verdict

	if p.NoConflict && pr.Mergeable == prstate.MergeableFalse {
		v.addFailure("conflicts with base branch %s", pr.BaseRef)
	}

	if missing := missingPatterns(p.RequiredLabels, labels); len(missing) > 0 {
		v.addPending("missing required labels: %s", strings.Join(missing, ", "))
	}

	if p.MergeLabel != "" && slices.Contains(labels, p.MergeLabel) {
		if missing := missingPatterns(p.RequiredLabelsWhenMergeReady, labels); len(missing) > 0 {
			v.addPending("missing labels required for merge: %s", strings.Join(missing, ", "))
		}
	}

	if forbidden := matchingPatterns(p.ForbiddenLabels, labels); len(forbidden) > 0 {
		v.addPending("forbidden labels detected: %s", strings.Join(forbidden, ", "))
	}

	contexts := make([]string, 0, len(statuses))
	for _, st := range statuses {
		contexts = append(contexts, st.Context)

		switch st.State {
		case githubclt.StatusStateFailure, githubclt.StatusStateError:
			v.addFailure("status %s is failing", st.Context)
		case githubclt.StatusStatePending:
			v.addPending("status %s is pending", st.Context)
		}
	}

	for _, missing := range missingPatterns(p.RequiredStatuses, contexts) {
		v.addPending("missing required status %s", missing)
	}

	if p.RequireReviews && pr.PendingReviewCount != nil {
		switch cnt := *pr.PendingReviewCount; {
		case cnt == 1:
			v.addPending("1 pending code review")
		case cnt > 1:
			v.addPending("%d pending code reviews", cnt)
		}
	}

	return &v
}
