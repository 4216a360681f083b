package updater

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/depflow/internal/githost"
	"github.com/simplesurance/depflow/internal/logfields"
	"github.com/simplesurance/depflow/internal/reminder"
)

// ProcessReminder is the entry point for fired reminders.
// Reminders are delivered at least once, all handlers no-op when their
// precondition was already resolved by an earlier delivery or a newer build.
func (u *Updater) ProcessReminder(ctx context.Context, rem *reminder.Reminder) (err error) {
	defer func() { observeEntrypoint("process_reminder", err) }()

	unlock := u.locks.Lock(rem.OwnerKey)
	defer unlock()

	logger := u.logger.With(
		logfields.TargetKey(rem.OwnerKey),
		logfields.ReminderKind(string(rem.Kind)),
	)

	switch rem.Kind {
	case reminder.KindPullRequestUpdate:
		return u.processPendingUpdate(ctx, logger, rem.OwnerKey)

	case reminder.KindCodeFlow:
		return u.processCodeFlowPoll(ctx, logger, rem.OwnerKey)

	case reminder.KindPullRequestCheck:
		return u.processPullRequestCheck(ctx, logger, rem.OwnerKey)

	default:
		return fmt.Errorf("unsupported reminder kind: %q", rem.Kind)
	}
}

// processPendingUpdate retries the queued update of a target key.
func (u *Updater) processPendingUpdate(ctx context.Context, logger *zap.Logger, key string) error {
	pending, err := u.loadPending(ctx, key)
	if err != nil {
		return err
	}

	if pending == nil {
		logger.Debug(
			"no pending update queued, nothing to do",
			logfields.Event("pending_update_already_resolved"),
		)

		return nil
	}

	sub := u.subscription(pending.SubscriptionID)
	if sub == nil {
		logger.Warn(
			"queued update references an unknown subscription, dropping it",
			logfields.Event("pending_update_dropped"),
			logfields.Subscription(pending.SubscriptionID),
		)

		_, err := u.clearPending(ctx, key)

		return err
	}

	if pending.IsCodeFlow {
		return u.updateCodeFlow(ctx, logger, sub, pending.Build)
	}

	return u.updateClassic(ctx, logger, sub, pending.Build)
}

// processCodeFlowPoll polls the synchronization service for a previously
// requested branch.
func (u *Updater) processCodeFlowPoll(ctx context.Context, logger *zap.Logger, key string) error {
	cf, err := u.loadCodeFlow(ctx, key)
	if err != nil {
		return err
	}

	if cf == nil || cf.SyncRequestID == "" {
		logger.Debug(
			"no synchronization request outstanding, nothing to do",
			logfields.Event("code_flow_already_resolved"),
		)

		return nil
	}

	syncResult, err := u.syncSvc.PollSync(ctx, cf.SyncRequestID)
	if err != nil {
		return err
	}

	if !syncResult.Ready {
		logger.Debug(
			"synchronization branch still not ready",
			logfields.Event("code_flow_branch_not_ready"),
			logfields.Commit(cf.SourceCommit),
		)

		return u.reminders.Schedule(ctx, key, reminder.KindCodeFlow, codeFlowPollInterval)
	}

	cf.HeadBranch = syncResult.HeadBranch
	cf.SyncRequestID = ""

	pending, err := u.loadPending(ctx, key)
	if err != nil {
		return err
	}

	if pending == nil || pending.Build == nil {
		// the queued update vanished, only record the branch
		return u.store.Put(ctx, codeFlowKey(key), cf)
	}

	sub := u.subscription(pending.SubscriptionID)
	if sub == nil {
		logger.Warn(
			"queued update references an unknown subscription, dropping it",
			logfields.Event("pending_update_dropped"),
			logfields.Subscription(pending.SubscriptionID),
		)

		_, err := u.clearPending(ctx, key)

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

	if status == githost.StatusInProgressCannotUpdate {
		return u.queuePending(ctx, logger, sub, pending.Build, true, reminder.KindPullRequestUpdate, pendingRetryInterval, "pull request head branch has foreign commits")
	}

	if status == githost.StatusCompleted || status == githost.StatusNotFound {
		if prState != nil {
			if status == githost.StatusCompleted {
				u.recordPullRequestCompleted(sub, pending.Build, prState)
			}

			if err := u.store.Delete(ctx, prKey(key)); err != nil {
				return err
			}
		}

		prState = nil
	}

	return u.finishCodeFlowReady(ctx, logger, sub, pending.Build, prState, cf)
}

// processPullRequestCheck re-checks the tracked pull request of a target
// key. A completed pull request ends the flow, a queued update is then
// replayed against a fresh pull request.
func (u *Updater) processPullRequestCheck(ctx context.Context, logger *zap.Logger, key string) error {
	prState, err := u.loadPRState(ctx, key)
	if err != nil {
		return err
	}

	if prState == nil {
		logger.Debug(
			"no pull request tracked, nothing to do",
			logfields.Event("pull_request_check_already_resolved"),
		)

		return nil
	}

	status, err := u.classifyPullRequest(ctx, prState)
	if err != nil {
		return err
	}

	switch status {
	case githost.StatusInProgressCanUpdate, githost.StatusInProgressCannotUpdate:
		return u.reminders.Schedule(ctx, key, reminder.KindPullRequestCheck, checkReminderInterval)

	case githost.StatusNotFound:
		logger.Info(
			"tracked pull request vanished, dropping its state",
			logfields.Event("pull_request_vanished"),
			logfields.PullRequestURL(prState.URL),
		)

		return u.store.Delete(ctx, prKey(key))

	case githost.StatusCompleted:
		u.recordPullRequestCompleted(nil, nil, prState)

		if err := u.store.Delete(ctx, prKey(key)); err != nil {
			return err
		}

		if err := u.store.Delete(ctx, codeFlowKey(key)); err != nil {
			return err
		}

		logger.Info(
			"pull request completed",
			logfields.Event("pull_request_completed"),
			logfields.PullRequestURL(prState.URL),
		)

		// a queued update that was deferred while this pull request was
		// open is replayed against a fresh one
		return u.processPendingUpdate(ctx, logger, key)

	default:
		return fmt.Errorf("unsupported pull request status: %q", status)
	}
}
