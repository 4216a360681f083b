package githost

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v43/github"
	"github.com/shurcooL/githubv4"
)

// Status describes the lifecycle state of an update pull request.
type Status string

const (
	// StatusNotFound indicates that no pull request exists for the stored
	// reference.
	StatusNotFound Status = "not_found"
	// StatusInProgressCanUpdate indicates an open pull request whose head
	// branch only contains commits of the bot account.
	StatusInProgressCanUpdate Status = "in_progress_can_update"
	// StatusInProgressCannotUpdate indicates an open pull request whose
	// head branch was modified by somebody else.
	StatusInProgressCannotUpdate Status = "in_progress_cannot_update"
	// StatusCompleted indicates a merged or closed pull request.
	StatusCompleted Status = "completed"
)

const maxStatusCommits = 100

// PullRequestStatus classifies the pull request.
// A merged or closed pull request is StatusCompleted. An open pull request is
// StatusInProgressCanUpdate when all commits on its head branch were authored
// by the bot account, otherwise StatusInProgressCannotUpdate.
func (clt *Client) PullRequestStatus(ctx context.Context, owner, repo string, number int) (Status, error) {
	pr, resp, err := clt.restClt.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return StatusNotFound, nil
		}

		var respErr *github.ErrorResponse
		if errors.As(err, &respErr) && respErr.Response.StatusCode == http.StatusNotFound {
			return StatusNotFound, nil
		}

		return "", clt.wrapRetryableErrors(err)
	}

	if pr.GetMerged() || pr.GetState() == "closed" {
		return StatusCompleted, nil
	}

	allFromBot, err := clt.commitsOnlyFromBot(ctx, owner, repo, number)
	if err != nil {
		return "", err
	}

	if allFromBot {
		return StatusInProgressCanUpdate, nil
	}

	return StatusInProgressCannotUpdate, nil
}

func (clt *Client) commitsOnlyFromBot(ctx context.Context, owner, repo string, number int) (bool, error) {
	var query struct {
		Repository struct {
			PullRequest struct {
				Commits struct {
					TotalCount githubv4.Int
					Nodes      []struct {
						Commit struct {
							Author struct {
								User struct {
									Login githubv4.String
								}
							}
						}
					}
				} `graphql:"commits(last: $commitCnt)"`
			} `graphql:"pullRequest(number: $prNumber)"`
		} `graphql:"repository(owner: $owner, name: $repoName)"`
	}

	vars := map[string]interface{}{
		"owner":     githubv4.String(owner),
		"repoName":  githubv4.String(repo),
		"prNumber":  githubv4.Int(number),
		"commitCnt": githubv4.Int(maxStatusCommits),
	}

	if err := clt.graphQLClt.Query(ctx, &query, vars); err != nil {
		return false, clt.wrapGraphQLRetryableErrors(err)
	}

	commits := query.Repository.PullRequest.Commits
	if int(commits.TotalCount) > len(commits.Nodes) {
		return false, fmt.Errorf(
			"pull request has %d commits, only %d were evaluated",
			commits.TotalCount, len(commits.Nodes),
		)
	}

	for _, node := range commits.Nodes {
		if string(node.Commit.Author.User.Login) != clt.botUser {
			return false, nil
		}
	}

	return true, nil
}
