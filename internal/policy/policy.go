// Package policy provides the merge readiness configuration of repositories.
package policy

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	DefaultStatusContext   = "gatekeeper"
	DefaultSuccessText     = "Ready to merge"
	DefaultConflictComment = "This pull request has merge conflicts with the base branch `%s`. Please resolve them."
)

// MergeConfig is the uncompiled merge policy as it is defined in the
// application configuration file and in the repository policy files.
// Label and status patterns are unanchored regular expressions, patterns
// prefixed with "glob:" are shell glob patterns.
type MergeConfig struct {
	MergeLabel                   string   `toml:"merge_label" yaml:"merge_label"`
	OverrideLabel                string   `toml:"override_label" yaml:"override_label"`
	OverrideStatusContext        string   `toml:"override_status_context" yaml:"override_status_context"`
	MergeLinkedLabels            []string `toml:"merge_linked_labels" yaml:"merge_linked_labels"`
	RequiredLabels               []string `toml:"required_labels" yaml:"required_labels"`
	ForbiddenLabels              []string `toml:"forbidden_labels" yaml:"forbidden_labels"`
	RequiredLabelsWhenMergeReady []string `toml:"required_labels_when_merge_ready" yaml:"required_labels_when_merge_ready"`
	RequiredStatuses             []string `toml:"required_statuses" yaml:"required_statuses"`
	NoConflict                   bool     `toml:"no_conflict" yaml:"no_conflict"`
	RequireReviews               bool     `toml:"require_reviews" yaml:"require_reviews"`
	StatusContext                string   `toml:"status_context" yaml:"status_context"`
	SuccessText                  string   `toml:"success_text" yaml:"success_text"`
	// ConflictComment is the text of the comment that is created when a
	// pull request conflicts with its base branch, %s is replaced by the
	// name of the base branch.
	ConflictComment string `toml:"conflict_comment" yaml:"conflict_comment"`
	StatusTargetURL string `toml:"status_target_url" yaml:"status_target_url"`
}

// DefaultMergeConfig returns a MergeConfig that only sets the mandatory
// text fields.
func DefaultMergeConfig() MergeConfig {
	return MergeConfig{
		StatusContext:   DefaultStatusContext,
		SuccessText:     DefaultSuccessText,
		ConflictComment: DefaultConflictComment,
	}
}

// Policy is a compiled MergeConfig.
type Policy struct {
	MergeLabel                   string
	OverrideLabel                string
	OverrideStatusContext        string
	MergeLinkedLabels            []string
	RequiredLabels               []Pattern
	ForbiddenLabels              []Pattern
	RequiredLabelsWhenMergeReady []Pattern
	RequiredStatuses             []Pattern
	NoConflict                   bool
	RequireReviews               bool
	StatusContext                string
	SuccessText                  string
	ConflictComment              string
	StatusTargetURL              string
}

// Compile validates the configuration and compiles its patterns.
func (c *MergeConfig) Compile() (*Policy, error) {
	var err error

	if c.StatusContext == "" {
		return nil, errors.New("status_context is empty")
	}

	if len(c.MergeLinkedLabels) > 0 && c.MergeLabel == "" {
		return nil, errors.New("merge_linked_labels is defined but merge_label is empty")
	}

	if c.OverrideStatusContext != "" && c.OverrideLabel == "" {
		return nil, errors.New("override_status_context is defined but override_label is empty")
	}

	if c.OverrideStatusContext != "" && c.OverrideStatusContext == c.StatusContext {
		return nil, errors.New("override_status_context and status_context must differ")
	}

	p := Policy{
		MergeLabel:            c.MergeLabel,
		OverrideLabel:         c.OverrideLabel,
		OverrideStatusContext: c.OverrideStatusContext,
		MergeLinkedLabels:     slices.Clone(c.MergeLinkedLabels),
		NoConflict:            c.NoConflict,
		RequireReviews:        c.RequireReviews,
		StatusContext:         c.StatusContext,
		SuccessText:           c.SuccessText,
		ConflictComment:       c.ConflictComment,
		StatusTargetURL:       c.StatusTargetURL,
	}

	if p.SuccessText == "" {
		p.SuccessText = DefaultSuccessText
	}

	if p.ConflictComment == "" {
		p.ConflictComment = DefaultConflictComment
	}

	if p.RequiredLabels, err = parsePatterns(c.RequiredLabels); err != nil {
		return nil, fmt.Errorf("required_labels: %w", err)
	}

	if p.ForbiddenLabels, err = parsePatterns(c.ForbiddenLabels); err != nil {
		return nil, fmt.Errorf("forbidden_labels: %w", err)
	}

	if p.RequiredLabelsWhenMergeReady, err = parsePatterns(c.RequiredLabelsWhenMergeReady); err != nil {
		return nil, fmt.Errorf("required_labels_when_merge_ready: %w", err)
	}

	if p.RequiredStatuses, err = parsePatterns(c.RequiredStatuses); err != nil {
		return nil, fmt.Errorf("required_statuses: %w", err)
	}

	return &p, nil
}

// OwnsStatusContext returns true if statuses with the context are created by
// the application itself.
func (p *Policy) OwnsStatusContext(context string) bool {
	return context == p.StatusContext ||
		(p.OverrideStatusContext != "" && context == p.OverrideStatusContext)
}

// IsMergeLinked returns true if adding the label causes the merge label to
// be added.
func (p *Policy) IsMergeLinked(label string) bool {
	return p.MergeLabel != "" && slices.Contains(p.MergeLinkedLabels, label)
}

// LabelParticipates returns true if the label has an effect on the
// evaluation of the policy.
func (p *Policy) LabelParticipates(label string) bool {
	if p.MergeLabel != "" && label == p.MergeLabel {
		return true
	}

	if p.OverrideLabel != "" && label == p.OverrideLabel {
		return true
	}

	if slices.Contains(p.MergeLinkedLabels, label) {
		return true
	}

	return MatchAny(p.RequiredLabels, label) ||
		MatchAny(p.ForbiddenLabels, label) ||
		MatchAny(p.RequiredLabelsWhenMergeReady, label)
}

// LabelRemovalRelevant returns true if removing the label can change the
// verdict.
func (p *Policy) LabelRemovalRelevant(label string) bool {
	if MatchAny(p.RequiredLabels, label) ||
		MatchAny(p.ForbiddenLabels, label) ||
		MatchAny(p.RequiredLabelsWhenMergeReady, label) {
		return true
	}

	return p.MergeLabel != "" && label == p.MergeLabel && len(p.RequiredLabelsWhenMergeReady) > 0
}

// ConflictCommentText returns the conflict comment for a pull request with
// the base branch baseRef.
func (p *Policy) ConflictCommentText(baseRef string) string {
	if !strings.Contains(p.ConflictComment, "%s") {
		return p.ConflictComment
	}

	return fmt.Sprintf(p.ConflictComment, baseRef)
}

func patternsString(patterns []Pattern) string {
	strs := make([]string, 0, len(patterns))
	for _, p := range patterns {
		strs = append(strs, p.String())
	}

	return strings.Join(strs, ", ")
}

func indentLines(str, prefix string) string {
	lines := strings.Split(str, "\n")
	for i := range lines {
		lines[i] = prefix + lines[i]
	}

	return strings.Join(lines, "\n")
}

func (p *Policy) String() string {
	return fmt.Sprintf("status_context: %s, merge_label: %s", p.StatusContext, p.MergeLabel)
}

// DetailedString returns a multi-line description of the policy.
func (p *Policy) DetailedString() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "status context: %s\n", p.StatusContext)
	fmt.Fprintf(&sb, "merge label: %s\n", p.MergeLabel)
	fmt.Fprintf(&sb, "merge linked labels: %s\n", strings.Join(p.MergeLinkedLabels, ", "))
	fmt.Fprintf(&sb, "override label: %s\n", p.OverrideLabel)
	fmt.Fprintf(&sb, "override status context: %s\n", p.OverrideStatusContext)
	sb.WriteString("checks:\n")

	var checks strings.Builder
	fmt.Fprintf(&checks, "no conflict: %t\n", p.NoConflict)
	fmt.Fprintf(&checks, "require reviews: %t\n", p.RequireReviews)
	fmt.Fprintf(&checks, "required labels: %s\n", patternsString(p.RequiredLabels))
	fmt.Fprintf(&checks, "forbidden labels: %s\n", patternsString(p.ForbiddenLabels))
	fmt.Fprintf(&checks, "required labels when merge ready: %s\n", patternsString(p.RequiredLabelsWhenMergeReady))
	fmt.Fprintf(&checks, "required statuses: %s", patternsString(p.RequiredStatuses))
	sb.WriteString(indentLines(checks.String(), "  "))

	return sb.String()
}
