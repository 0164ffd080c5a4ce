package policy

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// GlobPrefix marks a pattern definition as shell glob pattern instead of a
// regular expression.
const GlobPrefix = "glob:"

// Pattern matches label names or status contexts.
type Pattern interface {
	Match(string) bool
	String() string
}

// RegexPattern matches a value when the regular expression matches any part
// of it, use ^ and $ to match the whole value.
type RegexPattern struct {
	expr string
	re   *regexp.Regexp
}

func NewRegexPattern(expr string) (*RegexPattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid regular expression %q: %w", expr, err)
	}

	return &RegexPattern{expr: expr, re: re}, nil
}

func (p *RegexPattern) Match(val string) bool {
	return p.re.MatchString(val)
}

func (p *RegexPattern) String() string {
	return p.expr
}

// GlobPattern matches values with the syntax of path.Match.
type GlobPattern struct {
	glob string
}

func NewGlobPattern(glob string) (*GlobPattern, error) {
	if _, err := path.Match(glob, ""); err != nil {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", glob, err)
	}

	return &GlobPattern{glob: glob}, nil
}

func (p *GlobPattern) Match(val string) bool {
	// the pattern was validated on creation, ErrBadPattern can not happen
	match, _ := path.Match(p.glob, val)
	return match
}

func (p *GlobPattern) String() string {
	return p.glob
}

// ParsePattern creates a GlobPattern if def is prefixed with GlobPrefix,
// otherwise a RegexPattern.
func ParsePattern(def string) (Pattern, error) {
	if glob, ok := strings.CutPrefix(def, GlobPrefix); ok {
		return NewGlobPattern(glob)
	}

	return NewRegexPattern(def)
}

func parsePatterns(defs []string) ([]Pattern, error) {
	result := make([]Pattern, 0, len(defs))
	for _, def := range defs {
		p, err := ParsePattern(def)
		if err != nil {
			return nil, err
		}

		result = append(result, p)
	}

	return result, nil
}

// MatchAny returns true if any pattern matches val.
func MatchAny(patterns []Pattern, val string) bool {
	for _, p := range patterns {
		if p.Match(val) {
			return true
		}
	}

	return false
}
