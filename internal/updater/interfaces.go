package updater

import (
	"context"
	"time"

	"github.com/simplesurance/depflow/internal/coherency"
	"github.com/simplesurance/depflow/internal/githost"
	"github.com/simplesurance/depflow/internal/pcs"
	"github.com/simplesurance/depflow/internal/reminder"
)

//go:generate mockgen -package mocks -destination mocks/updater.go github.com/simplesurance/depflow/internal/updater RepoHost,SyncService,ReminderScheduler

// RepoHost is the repository host the update pull requests are maintained
// on.
type RepoHost interface {
	DependencyGraph(ctx context.Context, owner, repo, branch string) (*coherency.Graph, error)
	CreateBranch(ctx context.Context, owner, repo, baseBranch, branchName string) (string, error)
	CommitUpdates(ctx context.Context, owner, repo, branch string, updates []*coherency.AssetUpdate, message string) (string, error)
	CreatePullRequest(ctx context.Context, owner, repo, head, base, title, body string) (*githost.PullRequest, error)
	UpdatePullRequest(ctx context.Context, owner, repo string, number int, title, body string) error
	PullRequestStatus(ctx context.Context, owner, repo string, number int) (githost.Status, error)
}

// SyncService is the branch synchronization service used by code-flow
// subscriptions.
type SyncService interface {
	RequestSync(ctx context.Context, sourceRepoURL, targetOwner, targetRepo, commit string) (*pcs.SyncResult, error)
	PollSync(ctx context.Context, requestID string) (*pcs.SyncResult, error)
}

// ReminderScheduler schedules durable reminders that re-enter the updater
// via ProcessReminder.
type ReminderScheduler interface {
	Schedule(ctx context.Context, ownerKey string, kind reminder.Kind, dueIn time.Duration) error
	Cancel(ctx context.Context, ownerKey string, kind reminder.Kind) error
}
