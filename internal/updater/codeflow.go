package updater

import (
	"context"

	"go.uber.org/zap"

	"github.com/simplesurance/depflow/internal/coherency"
	"github.com/simplesurance/depflow/internal/githost"
	"github.com/simplesurance/depflow/internal/logfields"
	"github.com/simplesurance/depflow/internal/reminder"
	"github.com/simplesurance/depflow/internal/telemetry"
)

// updateCodeFlow routes a build through the branch synchronization service.
// The service materializes a head branch containing the source commits, a
// pull request is only opened once that branch is ready.
func (u *Updater) updateCodeFlow(ctx context.Context, logger *zap.Logger, sub *Subscription, build *Build) error {
	key := sub.TargetKey()

	build, err := u.mergeQueuedBatch(ctx, sub, build)
	if err != nil {
		return err
	}

	prState, err := u.loadPRState(ctx, key)
	if err != nil {
		return err
	}

	status, err := u.classifyPullRequest(ctx, prState)
	if err != nil {
		return err
	}

	switch status {
	case githost.StatusInProgressCannotUpdate:
		// foreign commits on the head branch, a synchronization request
		// must not rewrite it
		return u.queuePending(ctx, logger, sub, build, true, reminder.KindPullRequestUpdate, pendingRetryInterval, "pull request head branch has foreign commits")

	case githost.StatusCompleted:
		u.recordPullRequestCompleted(sub, build, prState)

		if err := u.store.Delete(ctx, prKey(key)); err != nil {
			return err
		}

		logger.Info(
			"tracked pull request was merged or closed, starting a new one",
			logfields.Event("pull_request_completed"),
			logfields.PullRequestURL(prState.URL),
		)

		prState = nil

	case githost.StatusNotFound:
		if prState != nil {
			if err := u.store.Delete(ctx, prKey(key)); err != nil {
				return err
			}

			prState = nil
		}

	case githost.StatusInProgressCanUpdate:
	}

	cf, err := u.loadCodeFlow(ctx, key)
	if err != nil {
		return err
	}

	// a synchronization request for the same commit is already
	// outstanding, the code flow reminder will pick up its result
	if cf != nil && cf.SourceCommit == build.Commit && cf.SyncRequestID != "" {
		logger.Debug(
			"branch synchronization for commit already requested",
			logfields.Event("code_flow_sync_deduplicated"),
			logfields.Commit(build.Commit),
		)

		return nil
	}

	syncResult, err := u.syncSvc.RequestSync(ctx, sub.SourceRepoURL, sub.TargetOwner, sub.TargetRepo, build.Commit)
	if err != nil {
		return err
	}

	u.sink.Record(&telemetry.FlowEvent{
		Type:           telemetry.EventCodeFlowRequested,
		SubscriptionID: sub.ID,
		BuildID:        build.ID,
		TargetRepo:     sub.TargetRepo,
		TargetBranch:   sub.TargetBranch,
		Details:        build.Commit,
	})

	newCf := CodeFlowState{
		SubscriptionID:    sub.ID,
		SourceCommit:      build.Commit,
		SyncRequestID:     syncResult.RequestID,
		LastSyncedBuildID: build.ID,
	}

	if !syncResult.Ready {
		if err := u.store.Put(ctx, codeFlowKey(key), &newCf); err != nil {
			return err
		}

		return u.queuePending(ctx, logger, sub, build, true, reminder.KindCodeFlow, codeFlowPollInterval, "synchronization branch not ready")
	}

	newCf.HeadBranch = syncResult.HeadBranch
	newCf.SyncRequestID = ""

	return u.finishCodeFlowReady(ctx, logger, sub, build, prState, &newCf)
}

// finishCodeFlowReady commits the build's updates onto the ready
// synchronization branch and creates or refreshes the pull request for it.
func (u *Updater) finishCodeFlowReady(ctx context.Context, logger *zap.Logger, sub *Subscription, build *Build, prState *PullRequestState, cf *CodeFlowState) error {
	key := sub.TargetKey()

	if err := u.store.Put(ctx, codeFlowKey(key), cf); err != nil {
		return err
	}

	graph, err := u.host.DependencyGraph(ctx, sub.TargetOwner, sub.TargetRepo, sub.TargetBranch)
	if err != nil {
		return err
	}

	result := coherency.Compute(build.Assets, build.SourceRepoURL, build.Commit, graph, sub.Policy)

	if prState == nil {
		if len(result.Updates) == 0 {
			logger.Debug(
				"target branch is up to date, nothing to do",
				logfields.Event("target_up_to_date"),
			)

			return u.markApplied(ctx, key)
		}

		if _, err := u.host.CommitUpdates(ctx, sub.TargetOwner, sub.TargetRepo, cf.HeadBranch, result.Updates, commitMessage(result.Updates)); err != nil {
			return err
		}

		pr, err := u.host.CreatePullRequest(ctx, sub.TargetOwner, sub.TargetRepo, cf.HeadBranch, sub.TargetBranch, prTitle(result.Updates), prBody(build, result))
		if err != nil {
			return err
		}

		newPRState := PullRequestState{
			URL:                 pr.URL,
			HeadBranch:          pr.HeadBranch,
			Status:              PRStatusInProgress,
			CoherencySuccessful: result.Successful,
			CoherencyErrors:     result.Errors,
		}

		if err := u.store.Put(ctx, prKey(key), &newPRState); err != nil {
			return err
		}

		if err := u.finishApplied(ctx, key); err != nil {
			return err
		}

		u.recordUpdates(sub, build, telemetry.EventPullRequestCreated, result.Updates)

		logger.Info(
			"code flow pull request created",
			logfields.Event("code_flow_pull_request_created"),
			logfields.PullRequestURL(pr.URL),
			logfields.Branch(pr.HeadBranch),
			zap.Int("depflow.update_count", len(result.Updates)),
		)

		return nil
	}

	// open pull request whose head branch was just re-synchronized
	if len(result.Updates) > 0 {
		if _, err := u.host.CommitUpdates(ctx, sub.TargetOwner, sub.TargetRepo, prState.HeadBranch, result.Updates, commitMessage(result.Updates)); err != nil {
			return err
		}

		owner, repo, number, err := githost.ParsePullRequestURL(prState.URL)
		if err != nil {
			return err
		}

		if err := u.host.UpdatePullRequest(ctx, owner, repo, number, prTitle(result.Updates), prBody(build, result)); err != nil {
			return err
		}
	}

	prState.CoherencySuccessful = result.Successful
	prState.CoherencyErrors = result.Errors

	if err := u.store.Put(ctx, prKey(key), prState); err != nil {
		return err
	}

	if err := u.finishApplied(ctx, key); err != nil {
		return err
	}

	u.recordUpdates(sub, build, telemetry.EventPullRequestUpdated, result.Updates)

	logger.Info(
		"code flow pull request refreshed",
		logfields.Event("code_flow_pull_request_updated"),
		logfields.PullRequestURL(prState.URL),
		zap.Int("depflow.update_count", len(result.Updates)),
	)

	return nil
}
