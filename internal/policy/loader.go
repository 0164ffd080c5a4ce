package policy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/simplesurance/gatekeeper/internal/goorderr"
	"github.com/simplesurance/gatekeeper/internal/logfields"
)

const (
	DefaultPolicyFile = ".github/gatekeeper.yml"
	DefaultCacheTTL   = 5 * time.Minute
)

const loggerName = "policy_loader"

// ContentGetter retrieves the content of a file of the default branch of a
// repository.
type ContentGetter interface {
	FileContent(ctx context.Context, owner, repo, path string) ([]byte, error)
}

type cacheEntry struct {
	policy    *Policy
	expiresAt time.Time
}

// Loader loads the policy of a repository.
// The policy file of the repository is merged over the default MergeConfig,
// settings that the file does not define keep their default values.
// Loaded policies are cached for a TTL.
type Loader struct {
	clt      ContentGetter
	defaults MergeConfig
	filename string
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time

	lock  sync.Mutex
	cache map[string]*cacheEntry
}

type LoaderOption func(*Loader)

// WithPolicyFile sets the path of the policy file in the repositories.
func WithPolicyFile(path string) LoaderOption {
	return func(l *Loader) {
		l.filename = path
	}
}

// WithCacheTTL sets for how long a loaded policy is cached.
// A ttl <=0 disables caching.
func WithCacheTTL(ttl time.Duration) LoaderOption {
	return func(l *Loader) {
		l.ttl = ttl
	}
}

func NewLoader(clt ContentGetter, defaults MergeConfig, opts ...LoaderOption) *Loader {
	l := Loader{
		clt:      clt,
		defaults: defaults,
		filename: DefaultPolicyFile,
		ttl:      DefaultCacheTTL,
		logger:   zap.L().Named(loggerName),
		now:      time.Now,
		cache:    map[string]*cacheEntry{},
	}

	for _, opt := range opts {
		opt(&l)
	}

	return &l
}

func cacheKey(owner, repo string) string {
	return owner + "/" + repo
}

// Load returns the policy for the repository.
func (l *Loader) Load(ctx context.Context, owner, repo string) (*Policy, error) {
	key := cacheKey(owner, repo)

	l.lock.Lock()
	entry, exists := l.cache[key]
	l.lock.Unlock()

	if exists && l.now().Before(entry.expiresAt) {
		return entry.policy, nil
	}

	logger := l.logger.With(
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		zap.String("policy_file", l.filename),
	)

	cfg := l.defaults
	content, err := l.clt.FileContent(ctx, owner, repo, l.filename)
	switch {
	case err == nil:
		cfg, err = MergeConfigFromYAML(bytes.NewReader(content), l.defaults)
		if err != nil {
			return nil, fmt.Errorf("parsing %s of %s failed: %w", l.filename, key, err)
		}

		logger.Debug("loaded repository policy file", logfields.Event("policy_file_loaded"))

	case errors.Is(err, goorderr.ErrNotFound):
		logger.Debug(
			"repository has no policy file, using defaults",
			logfields.Event("policy_file_not_found"),
		)

	default:
		return nil, fmt.Errorf("retrieving %s of %s failed: %w", l.filename, key, err)
	}

	policy, err := cfg.Compile()
	if err != nil {
		return nil, fmt.Errorf("policy of %s is invalid: %w", key, err)
	}

	if l.ttl > 0 {
		l.lock.Lock()
		l.cache[key] = &cacheEntry{policy: policy, expiresAt: l.now().Add(l.ttl)}
		l.lock.Unlock()
	}

	return policy, nil
}

// Invalidate removes the cached policy of a repository.
func (l *Loader) Invalidate(owner, repo string) {
	l.lock.Lock()
	delete(l.cache, cacheKey(owner, repo))
	l.lock.Unlock()

	l.logger.Debug(
		"cached policy invalidated",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.Event("policy_cache_invalidated"),
	)
}

// MergeConfigFromYAML decodes a YAML MergeConfig document over defaults.
// Unknown keys are rejected.
func MergeConfigFromYAML(r io.Reader, defaults MergeConfig) (MergeConfig, error) {
	result := defaults

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&result); err != nil {
		if errors.Is(err, io.EOF) {
			return defaults, nil
		}

		return MergeConfig{}, err
	}

	return result, nil
}
