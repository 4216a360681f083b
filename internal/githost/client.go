// Package githost provides the GitHub client through that depflow creates
// and maintains dependency update pull requests.
package githost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v43/github"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/simplesurance/depflow/internal/coherency"
	"github.com/simplesurance/depflow/internal/deperr"
	"github.com/simplesurance/depflow/internal/logfields"
)

const DefaultHTTPClientTimeout = time.Minute

// DefaultManifestPath is the dependency manifest file maintained in target
// repositories.
const DefaultManifestPath = "dependencies.json"

const loggerName = "github_client"

// PullRequest identifies a pull request created by depflow.
type PullRequest struct {
	URL        string
	HeadBranch string
	Number     int
}

// New returns a new github api client.
// botUser is the login of the account the apiToken belongs to, it is used to
// distinguish depflow commits from manual edits on update branches.
func New(oauthAPIToken, botUser string) *Client {
	httpClient := newHTTPClient(oauthAPIToken)
	return &Client{
		restClt:      github.NewClient(httpClient),
		graphQLClt:   githubv4.NewClient(httpClient),
		botUser:      botUser,
		manifestPath: DefaultManifestPath,
		logger:       zap.L().Named(loggerName),
	}
}

func newHTTPClient(apiToken string) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultHTTPClientTimeout

	return tc
}

// Client is a github API client.
// All methods return a deperr.RetryableError when an operation can be
// retried. This is e.g. the case when the API ratelimit is exceeded.
type Client struct {
	restClt      *github.Client
	graphQLClt   *githubv4.Client
	botUser      string
	manifestPath string
	logger       *zap.Logger
}

// DependencyGraph reads and parses the dependency manifest of a branch.
func (clt *Client) DependencyGraph(ctx context.Context, owner, repo, branch string) (*coherency.Graph, error) {
	content, _, _, err := clt.restClt.Repositories.GetContents(
		ctx, owner, repo, clt.manifestPath,
		&github.RepositoryContentGetOptions{Ref: branch},
	)
	if err != nil {
		return nil, clt.wrapRetryableErrors(fmt.Errorf("fetching %s failed: %w", clt.manifestPath, err))
	}

	raw, err := content.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding %s content failed: %w", clt.manifestPath, err)
	}

	var graph coherency.Graph
	if err := json.Unmarshal([]byte(raw), &graph); err != nil {
		return nil, fmt.Errorf("parsing %s failed: %w", clt.manifestPath, err)
	}

	return &graph, nil
}

// CreateBranch creates branchName pointing at the current head commit of
// baseBranch and returns its name.
func (clt *Client) CreateBranch(ctx context.Context, owner, repo, baseBranch, branchName string) (string, error) {
	baseRef, _, err := clt.restClt.Git.GetRef(ctx, owner, repo, "refs/heads/"+baseBranch)
	if err != nil {
		return "", clt.wrapRetryableErrors(fmt.Errorf("resolving base branch %q failed: %w", baseBranch, err))
	}

	ref := github.Reference{
		Ref:    github.String("refs/heads/" + branchName),
		Object: baseRef.Object,
	}

	_, _, err = clt.restClt.Git.CreateRef(ctx, owner, repo, &ref)
	if err != nil {
		if !refExistsError(err) {
			return "", clt.wrapRetryableErrors(fmt.Errorf("creating branch %q failed: %w", branchName, err))
		}

		// leftover branch of an earlier attempt that failed before the
		// pull request existed, reset it to the base branch head
		_, _, err = clt.restClt.Git.UpdateRef(ctx, owner, repo, &ref, true)
		if err != nil {
			return "", clt.wrapRetryableErrors(fmt.Errorf("resetting existing branch %q failed: %w", branchName, err))
		}
	}

	clt.logger.Debug(
		"branch created",
		logfields.Event("github_branch_created"),
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.Branch(branchName),
		logfields.BaseBranch(baseBranch),
		logfields.Commit(baseRef.Object.GetSHA()),
	)

	return branchName, nil
}

// refExistsError returns true when err is the api response for creating a
// ref that already exists.
func refExistsError(err error) bool {
	var errResp *github.ErrorResponse
	if !errors.As(err, &errResp) {
		return false
	}

	if errResp.Response == nil || errResp.Response.StatusCode != http.StatusUnprocessableEntity {
		return false
	}

	return strings.Contains(strings.ToLower(errResp.Message), "already exists")
}

// CommitUpdates rewrites the dependency manifest on branch with the versions
// from updates and commits the result.
// The SHA of the created commit is returned.
func (clt *Client) CommitUpdates(ctx context.Context, owner, repo, branch string, updates []*coherency.AssetUpdate, message string) (string, error) {
	content, _, _, err := clt.restClt.Repositories.GetContents(
		ctx, owner, repo, clt.manifestPath,
		&github.RepositoryContentGetOptions{Ref: branch},
	)
	if err != nil {
		return "", clt.wrapRetryableErrors(fmt.Errorf("fetching %s on %q failed: %w", clt.manifestPath, branch, err))
	}

	raw, err := content.GetContent()
	if err != nil {
		return "", fmt.Errorf("decoding %s content failed: %w", clt.manifestPath, err)
	}

	var graph coherency.Graph
	if err := json.Unmarshal([]byte(raw), &graph); err != nil {
		return "", fmt.Errorf("parsing %s failed: %w", clt.manifestPath, err)
	}

	applyUpdates(&graph, updates)

	newContent, err := json.MarshalIndent(&graph, "", "  ")
	if err != nil {
		return "", err
	}

	commit, _, err := clt.restClt.Repositories.UpdateFile(ctx, owner, repo, clt.manifestPath,
		&github.RepositoryContentFileOptions{
			Message: github.String(message),
			Content: append(newContent, '\n'),
			SHA:     github.String(content.GetSHA()),
			Branch:  github.String(branch),
		})
	if err != nil {
		return "", clt.wrapRetryableErrors(fmt.Errorf("committing %s update failed: %w", clt.manifestPath, err))
	}

	clt.logger.Debug(
		"dependency updates committed",
		logfields.Event("github_updates_committed"),
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.Branch(branch),
		logfields.Commit(commit.GetSHA()),
		zap.Int("depflow.update_count", len(updates)),
	)

	return commit.GetSHA(), nil
}

func applyUpdates(graph *coherency.Graph, updates []*coherency.AssetUpdate) {
	for _, update := range updates {
		dep := graph.Dependency(update.Name)
		if dep == nil {
			continue
		}

		dep.Version = update.ToVersion
		if update.ToCommit != "" {
			dep.Commit = update.ToCommit
		}
	}
}

// CreatePullRequest opens a pull request from head into base.
func (clt *Client) CreatePullRequest(ctx context.Context, owner, repo, head, base, title, body string) (*PullRequest, error) {
	pr, _, err := clt.restClt.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(head),
		Base:  github.String(base),
		Body:  github.String(body),
	})
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	clt.logger.Info(
		"pull request created",
		logfields.Event("github_pull_request_created"),
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequestURL(pr.GetHTMLURL()),
	)

	return &PullRequest{
		URL:        pr.GetHTMLURL(),
		HeadBranch: pr.GetHead().GetRef(),
		Number:     pr.GetNumber(),
	}, nil
}

// UpdatePullRequest replaces the description of an open pull request.
func (clt *Client) UpdatePullRequest(ctx context.Context, owner, repo string, number int, title, body string) error {
	_, _, err := clt.restClt.PullRequests.Edit(ctx, owner, repo, number, &github.PullRequest{
		Title: github.String(title),
		Body:  github.String(body),
	})

	return clt.wrapRetryableErrors(err)
}

var pullRequestURLRe = regexp.MustCompile(`^https://[^/]+/([^/]+)/([^/]+)/pull/([0-9]+)$`)

// ParsePullRequestURL extracts owner, repository and pull request number from
// a github pull request HTML URL.
func ParsePullRequestURL(url string) (owner, repo string, number int, err error) {
	matches := pullRequestURLRe.FindStringSubmatch(url)
	if len(matches) != 4 {
		return "", "", 0, fmt.Errorf("unparsable pull request url: %q", url)
	}

	number, err = strconv.Atoi(matches[3])
	if err != nil {
		return "", "", 0, fmt.Errorf("unparsable pull request number in url %q: %w", url, err)
	}

	return matches[1], matches[2], number, nil
}

func (clt *Client) wrapRetryableErrors(err error) error {
	var rateLimitErr *github.RateLimitError
	var respErr *github.ErrorResponse

	switch {
	case errors.As(err, &rateLimitErr):
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.Int("github_api_rate_limit", rateLimitErr.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", rateLimitErr.Rate.Reset.Time),
		)

		return deperr.NewRetryableError(err, rateLimitErr.Rate.Reset.Time)

	case errors.As(err, &respErr):
		if respErr.Response.StatusCode >= 500 && respErr.Response.StatusCode < 600 {
			return deperr.NewRetryableAnytimeError(err)
		}
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
		return deperr.NewRetryableAnytimeError(err)
	}

	return err
}
