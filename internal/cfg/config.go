package cfg

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pelletier/go-toml"

	"github.com/simplesurance/gatekeeper/internal/policy"
)

const (
	DefaultWebhookEndpoint    = "/listener/github"
	DefaultMetricsEndpoint    = "/metrics"
	DefaultLogFormat          = "logfmt"
	DefaultLogLevel           = "info"
	DefaultLogTimeKey         = "time_iso8601"
	DefaultWorkers            = 16
	DefaultPolicyCacheTTL     = "5m"
	DefaultMinRequestInterval = "1s"
)

type Config struct {
	HTTPListenAddr            string             `toml:"http_server_listen_addr"`
	HTTPSListenAddr           string             `toml:"https_server_listen_addr"`
	HTTPSCertFile             string             `toml:"https_ssl_cert_file"`
	HTTPSKeyFile              string             `toml:"https_ssl_key_file"`
	HTTPGithubWebhookEndpoint string             `toml:"github_webhook_endpoint"`
	HTTPMetricsEndpoint       string             `toml:"prometheus_metrics_endpoint"`
	GithubWebHookSecret       string             `toml:"github_webhook_secret"`
	GithubAPIToken            string             `toml:"github_api_token"`
	GithubMinRequestInterval  string             `toml:"github_min_request_interval"`
	LogFormat                 string             `toml:"log_format"`
	LogTimeKey                string             `toml:"log_time_key"`
	LogLevel                  string             `toml:"log_level"`
	Workers                   int                `toml:"workers"`
	IgnoreQuery               string             `toml:"ignore_query"`
	Repositories              []GithubRepository `toml:"repository"`
	ResyncOnStart             bool               `toml:"resync_on_start"`
	DryRun                    bool               `toml:"dry_run"`
	PolicyFile                string             `toml:"policy_file"`
	PolicyCacheTTL            string             `toml:"policy_cache_ttl"`
	Postgres                  Postgres           `toml:"postgres"`
	Policy                    policy.MergeConfig `toml:"policy"`
}

type GithubRepository struct {
	Owner          string `toml:"owner"`
	RepositoryName string `toml:"repository"`
}

func (r *GithubRepository) String() string {
	return r.Owner + "/" + r.RepositoryName
}

// Postgres configures the persistent pull request state store.
// When DSN is empty the state is kept in memory.
type Postgres struct {
	DSN      string `toml:"dsn"`
	MaxConns int32  `toml:"max_connections"`
	Migrate  bool   `toml:"migrate"`
}

func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	result.setDefaults()

	if err := result.Validate(); err != nil {
		return nil, err
	}

	return &result, nil
}

func (r *Config) setDefaults() {
	def := policy.DefaultMergeConfig()

	setIfEmpty(&r.HTTPGithubWebhookEndpoint, DefaultWebhookEndpoint)
	setIfEmpty(&r.HTTPMetricsEndpoint, DefaultMetricsEndpoint)
	setIfEmpty(&r.LogFormat, DefaultLogFormat)
	setIfEmpty(&r.LogLevel, DefaultLogLevel)
	setIfEmpty(&r.LogTimeKey, DefaultLogTimeKey)
	setIfEmpty(&r.PolicyCacheTTL, DefaultPolicyCacheTTL)
	setIfEmpty(&r.GithubMinRequestInterval, DefaultMinRequestInterval)
	setIfEmpty(&r.PolicyFile, policy.DefaultPolicyFile)
	setIfEmpty(&r.Policy.StatusContext, def.StatusContext)
	setIfEmpty(&r.Policy.SuccessText, def.SuccessText)
	setIfEmpty(&r.Policy.ConflictComment, def.ConflictComment)

	if r.Workers <= 0 {
		r.Workers = DefaultWorkers
	}
}

func setIfEmpty(s *string, val string) {
	if *s == "" {
		*s = val
	}
}

// Validate returns an error if the configuration contains invalid values.
func (r *Config) Validate() error {
	var errs []error

	if r.HTTPListenAddr == "" && r.HTTPSListenAddr == "" {
		errs = append(errs, errors.New("https_server_listen_addr or http_server_listen_addr must be defined, both are unset"))
	}

	if r.HTTPSListenAddr != "" && (r.HTTPSCertFile == "" || r.HTTPSKeyFile == "") {
		errs = append(errs, errors.New("https_server_listen_addr is set but https_ssl_cert_file or https_ssl_key_file is empty"))
	}

	if !strings.HasPrefix(r.HTTPGithubWebhookEndpoint, "/") {
		errs = append(errs, fmt.Errorf("github_webhook_endpoint %q must start with /", r.HTTPGithubWebhookEndpoint))
	}

	if _, err := r.PolicyCacheTTLDuration(); err != nil {
		errs = append(errs, err)
	}

	if _, err := r.GithubMinRequestIntervalDuration(); err != nil {
		errs = append(errs, err)
	}

	for i, repo := range r.Repositories {
		if repo.Owner == "" || repo.RepositoryName == "" {
			errs = append(errs, fmt.Errorf("repository #%d: owner and repository must be set", i))
		}
	}

	if _, err := r.Policy.Compile(); err != nil {
		errs = append(errs, fmt.Errorf("policy: %w", err))
	}

	return errors.Join(errs...)
}

// PolicyCacheTTLDuration returns policy_cache_ttl parsed as duration.
func (r *Config) PolicyCacheTTLDuration() (time.Duration, error) {
	d, err := time.ParseDuration(r.PolicyCacheTTL)
	if err != nil {
		return 0, fmt.Errorf("policy_cache_ttl: %w", err)
	}

	return d, nil
}

// GithubMinRequestIntervalDuration returns github_min_request_interval
// parsed as duration.
func (r *Config) GithubMinRequestIntervalDuration() (time.Duration, error) {
	d, err := time.ParseDuration(r.GithubMinRequestInterval)
	if err != nil {
		return 0, fmt.Errorf("github_min_request_interval: %w", err)
	}

	return d, nil
}

// RepositoryNames returns the configured repositories in the form
// owner/name.
func (r *Config) RepositoryNames() []string {
	result := make([]string, 0, len(r.Repositories))
	for i := range r.Repositories {
		result = append(result, r.Repositories[i].String())
	}

	return result
}

func (r *Config) Marshal(writer io.Writer) error {
	return toml.NewEncoder(writer).Encode(r)
}
