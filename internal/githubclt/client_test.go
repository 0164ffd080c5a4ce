package githubclt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v59/github"
	"github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/gatekeeper/internal/goorderr"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	restClt := github.NewClient(srv.Client())
	baseURL, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	restClt.BaseURL = baseURL

	return &Client{
		logger:     zap.L(),
		restClt:    restClt,
		graphQLClt: githubv4.NewEnterpriseClient(srv.URL, srv.Client()),
	}, srv
}

func TestWrapRetryableErrorsGraphql(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	clt, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	prs, err := clt.ListOpenPullRequests(context.Background(), "test", "test")
	require.Error(t, err)
	assert.Nil(t, prs)

	var retryableErr *goorderr.RetryableError
	assert.ErrorAs(t, err, &retryableErr)
}

func TestWrapRetryableErrorsGraphqlWithNonStatusErr(t *testing.T) {
	err := errors.New("error")
	wrappedErr := (&Client{}).wrapGraphQLRetryableErrors(err)
	assert.Equal(t, err, wrappedErr)
}

func TestRESTServerErrorIsRetryable(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	clt, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := clt.PullRequest(context.Background(), "owner", "repo", 1)
	require.Error(t, err)
	assert.True(t, goorderr.IsRetryable(err))
}

func TestRESTNotFound(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	clt, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	}))

	_, err := clt.PullRequest(context.Background(), "owner", "repo", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, goorderr.ErrNotFound)
	assert.False(t, goorderr.IsRetryable(err))

	_, err = clt.FileContent(context.Background(), "owner", "repo", ".github/gatekeeper.yml")
	assert.ErrorIs(t, err, goorderr.ErrNotFound)
}

func TestAddLabelAlreadyExists(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	clt, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/owner/repo/issues/5/labels", r.URL.Path)
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message":"Validation Failed","errors":[{"resource":"Label","code":"already_exists","field":"name"}]}`)
	}))

	err := clt.AddLabel(context.Background(), "owner", "repo", 5, "merge")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestAddLabelRejectsEmptyLabel(t *testing.T) {
	err := (&Client{}).AddLabel(context.Background(), "owner", "repo", 5, "")
	assert.Error(t, err)
}

func TestListReviewsPaginates(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	var srvURL string
	clt, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"id": 2, "user": {"login": "bob"}, "author_association": "MEMBER", "state": "APPROVED", "submitted_at": "2024-01-02T10:00:00Z"}]`)
			return
		}

		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/owner/repo/pulls/1/reviews?page=2>; rel="next"`, srvURL))
		fmt.Fprint(w, `[{"id": 1, "user": {"login": "alice"}, "author_association": "OWNER", "state": "CHANGES_REQUESTED", "submitted_at": "2024-01-01T10:00:00Z"}]`)
	}))
	srvURL = srv.URL

	reviews, err := clt.ListReviews(context.Background(), "owner", "repo", 1)
	require.NoError(t, err)
	require.Len(t, reviews, 2)

	assert.Equal(t, "alice", reviews[0].Author)
	assert.Equal(t, "CHANGES_REQUESTED", reviews[0].State)
	assert.Equal(t, "OWNER", reviews[0].AuthorAssociation)
	assert.Equal(t, "bob", reviews[1].Author)
	assert.Equal(t, int64(2), reviews[1].ID)
}

func TestCreateStatus(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	var gotPath, gotBody string
	clt, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		gotPath = r.URL.Path
		gotBody = string(buf)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{}`)
	}))

	err := clt.CreateStatus(context.Background(), "owner", "repo", "abc", &CommitStatus{
		Context:     "gatekeeper",
		State:       StatusStatePending,
		Description: "Missing required labels: ready",
	})
	require.NoError(t, err)

	assert.Equal(t, "/repos/owner/repo/statuses/abc", gotPath)
	assert.Contains(t, gotBody, `"context":"gatekeeper"`)
	assert.Contains(t, gotBody, `"state":"pending"`)
	assert.NotContains(t, gotBody, "target_url")
}
