package cfg

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplesurance/gatekeeper/internal/policy"
)

const exampleConfig = `
http_server_listen_addr = ":8085"
github_webhook_secret = "secret"
github_api_token = "token"
log_level = "debug"
workers = 4
ignore_query = '.sender.login == "bot"'
resync_on_start = true
policy_cache_ttl = "1m"

[postgres]
dsn = "postgres://localhost/gatekeeper"
migrate = true

[[repository]]
owner = "simplesurance"
repository = "gatekeeper"

[[repository]]
owner = "simplesurance"
repository = "other"

[policy]
merge_label = "merge"
required_labels = ["approved"]
required_statuses = ["glob:ci/*"]
no_conflict = true
require_reviews = true
`

func TestLoad(t *testing.T) {
	config, err := Load(strings.NewReader(exampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8085", config.HTTPListenAddr)
	assert.Equal(t, "secret", config.GithubWebHookSecret)
	assert.Equal(t, "token", config.GithubAPIToken)
	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, 4, config.Workers)
	assert.Equal(t, `.sender.login == "bot"`, config.IgnoreQuery)
	assert.True(t, config.ResyncOnStart)
	assert.False(t, config.DryRun)
	assert.Equal(t, "postgres://localhost/gatekeeper", config.Postgres.DSN)
	assert.True(t, config.Postgres.Migrate)
	assert.Equal(t, []string{"simplesurance/gatekeeper", "simplesurance/other"}, config.RepositoryNames())

	ttl, err := config.PolicyCacheTTLDuration()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	assert.Equal(t, "merge", config.Policy.MergeLabel)
	assert.Equal(t, []string{"approved"}, config.Policy.RequiredLabels)
	assert.Equal(t, []string{"glob:ci/*"}, config.Policy.RequiredStatuses)
	assert.True(t, config.Policy.NoConflict)
	assert.True(t, config.Policy.RequireReviews)
}

func TestLoadSetsDefaults(t *testing.T) {
	config, err := Load(strings.NewReader(`http_server_listen_addr = ":8085"`))
	require.NoError(t, err)

	assert.Equal(t, DefaultWebhookEndpoint, config.HTTPGithubWebhookEndpoint)
	assert.Equal(t, DefaultMetricsEndpoint, config.HTTPMetricsEndpoint)
	assert.Equal(t, DefaultLogFormat, config.LogFormat)
	assert.Equal(t, DefaultLogLevel, config.LogLevel)
	assert.Equal(t, DefaultLogTimeKey, config.LogTimeKey)
	assert.Equal(t, DefaultWorkers, config.Workers)
	assert.Equal(t, policy.DefaultPolicyFile, config.PolicyFile)
	assert.Equal(t, policy.DefaultStatusContext, config.Policy.StatusContext)
	assert.Equal(t, policy.DefaultSuccessText, config.Policy.SuccessText)
	assert.Empty(t, config.Postgres.DSN)

	interval, err := config.GithubMinRequestIntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, time.Second, interval)
}

func TestLoadInvalid(t *testing.T) {
	tcs := []struct {
		name   string
		config string
	}{
		{name: "no listen addr", config: `github_api_token = "token"`},
		{name: "https without cert", config: `https_server_listen_addr = ":443"`},
		{name: "relative endpoint", config: "http_server_listen_addr = \":80\"\ngithub_webhook_endpoint = \"github\""},
		{name: "invalid ttl", config: "http_server_listen_addr = \":80\"\npolicy_cache_ttl = \"forever\""},
		{name: "incomplete repository", config: "http_server_listen_addr = \":80\"\n[[repository]]\nowner = \"simplesurance\""},
		{name: "invalid policy", config: "http_server_listen_addr = \":80\"\n[policy]\nrequired_labels = [\"(\"]"},
		{name: "invalid toml", config: `http_server_listen_addr = `},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.config))
			assert.Error(t, err)
		})
	}
}
