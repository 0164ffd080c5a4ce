// Package githubclt provides a github API client.
package githubclt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/simplesurance/gatekeeper/internal/goorderr"
	"github.com/simplesurance/gatekeeper/internal/logfields"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "github_client"

// ErrAlreadyExists is returned when a resource that should be created
// already exists.
var ErrAlreadyExists = errors.New("already exists")

const perPage = 100

type Option func(*options)

type options struct {
	minRequestInterval time.Duration
	requestTimeout     time.Duration
}

// WithMinRequestInterval sets the minimal interval between the start of two
// API requests. A value <=0 disables the spacing, the limit of 1 in-flight
// request still applies.
func WithMinRequestInterval(d time.Duration) Option {
	return func(o *options) {
		o.minRequestInterval = d
	}
}

// WithRequestTimeout sets the timeout for a single API request.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		o.requestTimeout = d
	}
}

// New returns a new github api client.
// REST and GraphQL requests share the same throttled transport.
func New(oauthAPItoken string, opts ...Option) *Client {
	o := options{
		minRequestInterval: DefaultMinRequestInterval,
		requestTimeout:     DefaultHTTPClientTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	httpClient := newHTTPClient(oauthAPItoken, &o)
	return &Client{
		restClt:    github.NewClient(httpClient),
		graphQLClt: githubv4.NewClient(httpClient),
		logger:     zap.L().Named(loggerName),
	}
}

func newHTTPClient(apiToken string, o *options) *http.Client {
	transport := newThrottledTransport(
		http.DefaultTransport,
		o.minRequestInterval,
		o.requestTimeout,
	)

	if apiToken == "" {
		return &http.Client{Transport: transport}
	}

	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiToken}),
			Base:   transport,
		},
	}
}

// Client is an github API client.
// All methods return a goorderr.RetryableError when an operation can be retried.
// This can be e.g. the case when the API ratelimit is exceeded.
// When a resource does not exist goorderr.ErrNotFound is returned.
type Client struct {
	restClt    *github.Client
	graphQLClt *githubv4.Client
	logger     *zap.Logger
}

// CreateIssueComment creates a comment in a issue or pull request
func (clt *Client) CreateIssueComment(ctx context.Context, owner, repo string, issueOrPRNr int, comment string) error {
	_, _, err := clt.restClt.Issues.CreateComment(ctx, owner, repo, issueOrPRNr, &github.IssueComment{Body: &comment})
	return clt.wrapRetryableErrors(err)
}

// AddLabel adds a label to Pull-Request or Issue.
// If the label is already assigned ErrAlreadyExists is returned.
func (clt *Client) AddLabel(ctx context.Context, owner, repo string, pullRequestOrIssueNumber int, label string) error {
	if label == "" {
		// by default github removes all labels when none is provided,
		// as safe guard fail if because of a bug an empty label value
		// is passed:
		return errors.New("provided label is empty")
	}

	_, _, err := clt.restClt.Issues.AddLabelsToIssue(ctx, owner, repo, pullRequestOrIssueNumber, []string{label})
	if err != nil {
		var respErr *github.ErrorResponse
		if errors.As(err, &respErr) && isAlreadyExistsResponse(respErr) {
			clt.logger.Debug("label is already assigned",
				logfields.RepositoryOwner(owner),
				logfields.Repository(repo),
				logfields.PullRequest(pullRequestOrIssueNumber),
				logfields.Label(label),
				logfields.Event("github_add_label_already_exists"),
			)

			return fmt.Errorf("label %q: %w", label, ErrAlreadyExists)
		}

		return clt.wrapRetryableErrors(err)
	}

	return nil
}

func isAlreadyExistsResponse(respErr *github.ErrorResponse) bool {
	if respErr.Response == nil || respErr.Response.StatusCode != http.StatusUnprocessableEntity {
		return false
	}

	for _, e := range respErr.Errors {
		if e.Code == "already_exists" {
			return true
		}
	}

	return false
}

func (clt *Client) wrapRetryableErrors(err error) error {
	if err == nil {
		return nil
	}

	switch v := err.(type) {
	case *github.RateLimitError:
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.Int("github_api_rate_limit", v.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", v.Rate.Reset.Time),
		)

		return goorderr.NewRetryableError(err, v.Rate.Reset.Time)

	case *github.AbuseRateLimitError:
		retryAfter := time.Minute
		if v.RetryAfter != nil {
			retryAfter = *v.RetryAfter
		}

		clt.logger.Info(
			"secondary rate limit exceeded",
			logfields.Event("github_api_secondary_rate_limit_exceeded"),
			zap.Duration("github_api_retry_after", retryAfter),
		)

		return goorderr.NewRetryableError(err, time.Now().Add(retryAfter))

	case *github.ErrorResponse:
		if v.Response == nil {
			return err
		}

		if v.Response.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", goorderr.ErrNotFound, err)
		}

		if v.Response.StatusCode >= 500 && v.Response.StatusCode < 600 {
			return goorderr.NewRetryableAnytimeError(err)
		}

		return err
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return goorderr.NewRetryableAnytimeError(err)
	}

	return err
}

var graphQlHTTPStatusErrRe = regexp.MustCompile(`^non-200 OK status code: ([0-9]+) .*`)

func (clt *Client) wrapGraphQLRetryableErrors(err error) error {
	matches := graphQlHTTPStatusErrRe.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return err
	}

	errcode, atoiErr := strconv.Atoi(matches[1])
	if atoiErr != nil {
		clt.logger.Info(
			"parsing http code from error string failed",
			zap.Error(atoiErr),
			zap.String("error_string", err.Error()),
			zap.String("http_errcode", matches[1]),
		)
		return err
	}

	if errcode >= 500 && errcode < 600 {
		return goorderr.NewRetryableAnytimeError(err)
	}

	return err
}
