package updater

import (
	"context"

	"github.com/simplesurance/depflow/internal/githost"
)

// classifyPullRequest returns the live status of the tracked pull request.
// When no pull request is tracked it returns StatusNotFound without querying
// the host.
func (u *Updater) classifyPullRequest(ctx context.Context, prState *PullRequestState) (githost.Status, error) {
	if prState == nil || prState.URL == "" {
		return githost.StatusNotFound, nil
	}

	owner, repo, number, err := githost.ParsePullRequestURL(prState.URL)
	if err != nil {
		return "", err
	}

	return u.host.PullRequestStatus(ctx, owner, repo, number)
}
