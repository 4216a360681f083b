// Package updater implements the per-subscription pull request
// reconciliation state machine.
//
// Builds enter via UpdateAssets, fired reminders via ProcessReminder. Both
// entry points are serialized per target key, state for different keys is
// reconciled in parallel. For every build the updater either creates a pull
// request, commits onto an existing one, defers the update behind a durable
// reminder or routes it through the branch synchronization service.
package updater

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/depflow/internal/coherency"
	"github.com/simplesurance/depflow/internal/githost"
	"github.com/simplesurance/depflow/internal/logfields"
	"github.com/simplesurance/depflow/internal/reminder"
	"github.com/simplesurance/depflow/internal/statestore"
	"github.com/simplesurance/depflow/internal/telemetry"
)

const (
	// checkReminderInterval is the period in that open pull requests are
	// re-checked for having been merged or closed.
	checkReminderInterval = 30 * time.Minute
	// pendingRetryInterval is the delay before a deferred update is
	// retried.
	pendingRetryInterval = 30 * time.Minute
	// codeFlowPollInterval is the delay between polls for a
	// synchronization branch that was not ready yet.
	codeFlowPollInterval = 5 * time.Minute
)

const loggerName = "updater"

// Updater reconciles subscriptions with their update pull requests.
type Updater struct {
	store         statestore.Store
	host          RepoHost
	syncSvc       SyncService
	reminders     ReminderScheduler
	sink          telemetry.Sink
	logger        *zap.Logger
	locks         *keyMutex
	subscriptions map[string]*Subscription
}

func New(store statestore.Store, host RepoHost, syncSvc SyncService, reminders ReminderScheduler, sink telemetry.Sink, subscriptions []*Subscription) *Updater {
	subsByID := make(map[string]*Subscription, len(subscriptions))
	for _, sub := range subscriptions {
		subsByID[sub.ID] = sub
	}

	return &Updater{
		store:         store,
		host:          host,
		syncSvc:       syncSvc,
		reminders:     reminders,
		sink:          sink,
		logger:        zap.L().Named(loggerName),
		locks:         newKeyMutex(),
		subscriptions: subsByID,
	}
}

// SubscriptionsForChannel returns the subscriptions sourcing from channel.
func (u *Updater) SubscriptionsForChannel(channel string) []*Subscription {
	var result []*Subscription

	for _, sub := range u.subscriptions {
		if sub.Channel == channel {
			result = append(result, sub)
		}
	}

	return result
}

func (u *Updater) subscription(id string) *Subscription {
	return u.subscriptions[id]
}

// UpdateAssets processes a newly observed build for a subscription.
// Failures of host or synchronization service calls are returned to the
// caller, persisted state is then unchanged and reprocessing the build is
// safe.
func (u *Updater) UpdateAssets(ctx context.Context, sub *Subscription, build *Build) (err error) {
	defer func() { observeEntrypoint("update_assets", err) }()

	logger := u.logger.With(
		logfields.Subscription(sub.ID),
		logfields.TargetKey(sub.TargetKey()),
		logfields.Build(build.ID),
	)

	if sub.UpdateFrequency == FrequencyNone {
		logger.Debug(
			"build ignored, subscription updates are disabled",
			logfields.Event("build_ignored"),
		)

		return nil
	}

	unlock := u.locks.Lock(sub.TargetKey())
	defer unlock()

	if len(build.Assets) == 0 {
		return u.handleEmptyBuild(ctx, logger, sub)
	}

	if sub.SourceEnabled {
		return u.updateCodeFlow(ctx, logger, sub, build)
	}

	deferFor, err := u.frequencyDefer(ctx, sub)
	if err != nil {
		return err
	}

	if deferFor > 0 {
		return u.queuePending(ctx, logger, sub, build, false, reminder.KindPullRequestUpdate, deferFor, "update frequency window not elapsed")
	}

	return u.updateClassic(ctx, logger, sub, build)
}

// handleEmptyBuild treats a build without assets as a no-op merge signal:
// the queued update and its retry reminders are dropped, the subscription is
// marked caught up. An open pull request and its check reminder stay
// untouched.
func (u *Updater) handleEmptyBuild(ctx context.Context, logger *zap.Logger, sub *Subscription) error {
	key := sub.TargetKey()

	if _, err := u.clearPending(ctx, key); err != nil {
		return err
	}

	if err := u.reminders.Cancel(ctx, key, reminder.KindPullRequestUpdate); err != nil {
		return err
	}

	if err := u.reminders.Cancel(ctx, key, reminder.KindCodeFlow); err != nil {
		return err
	}

	if err := u.store.Put(ctx, cursorKey(key), &updateCursor{LastAppliedAt: time.Now()}); err != nil {
		return err
	}

	logger.Debug(
		"empty build processed, subscription marked caught up",
		logfields.Event("empty_build_processed"),
	)

	return nil
}

// frequencyDefer returns how long an update must be deferred to honor the
// subscription's update frequency, 0 when it can be applied now.
func (u *Updater) frequencyDefer(ctx context.Context, sub *Subscription) (time.Duration, error) {
	window := sub.UpdateFrequency.Window()
	if window == 0 {
		return 0, nil
	}

	var cursor updateCursor

	err := u.store.Get(ctx, cursorKey(sub.TargetKey()), &cursor)
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			return 0, nil
		}

		return 0, err
	}

	remaining := time.Until(cursor.LastAppliedAt.Add(window))
	if remaining <= 0 {
		return 0, nil
	}

	return remaining, nil
}

// updateClassic runs the decision tree for subscriptions that commit
// directly to the update branch.
func (u *Updater) updateClassic(ctx context.Context, logger *zap.Logger, sub *Subscription, build *Build) error {
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

		return u.createPullRequest(ctx, logger, sub, build)

	case githost.StatusNotFound:
		if prState != nil {
			// stale record for a pull request that vanished
			if err := u.store.Delete(ctx, prKey(key)); err != nil {
				return err
			}
		}

		return u.createPullRequest(ctx, logger, sub, build)

	case githost.StatusInProgressCanUpdate:
		return u.commitToExisting(ctx, logger, sub, build, prState)

	case githost.StatusInProgressCannotUpdate:
		return u.queuePending(ctx, logger, sub, build, false, reminder.KindPullRequestUpdate, pendingRetryInterval, "pull request head branch has foreign commits")

	default:
		return fmt.Errorf("unsupported pull request status: %q", status)
	}
}

// mergeQueuedBatch merges the asset list of a queued update of another
// subscription into build. Batched subscriptions share a target key, their
// updates end up in one pull request. A queued update of the same
// subscription is superseded by the newer build instead.
func (u *Updater) mergeQueuedBatch(ctx context.Context, sub *Subscription, build *Build) (*Build, error) {
	pending, err := u.loadPending(ctx, sub.TargetKey())
	if err != nil {
		return nil, err
	}

	if pending == nil || pending.SubscriptionID == sub.ID || pending.Build == nil {
		return build, nil
	}

	merged := *build
	merged.Assets = mergeAssets(pending.Build.Assets, build.Assets)

	return &merged, nil
}

// createPullRequest creates branch, commit and pull request for the updates
// the build requires and starts tracking it.
func (u *Updater) createPullRequest(ctx context.Context, logger *zap.Logger, sub *Subscription, build *Build) error {
	key := sub.TargetKey()

	graph, err := u.host.DependencyGraph(ctx, sub.TargetOwner, sub.TargetRepo, sub.TargetBranch)
	if err != nil {
		return err
	}

	result := coherency.Compute(build.Assets, build.SourceRepoURL, build.Commit, graph, sub.Policy)
	if len(result.Updates) == 0 {
		logger.Debug(
			"target branch is up to date, nothing to do",
			logfields.Event("target_up_to_date"),
		)

		return u.markApplied(ctx, key)
	}

	branchName := updateBranchName(sub, build)

	if _, err := u.host.CreateBranch(ctx, sub.TargetOwner, sub.TargetRepo, sub.TargetBranch, branchName); err != nil {
		return err
	}

	if _, err := u.host.CommitUpdates(ctx, sub.TargetOwner, sub.TargetRepo, branchName, result.Updates, commitMessage(result.Updates)); err != nil {
		return err
	}

	pr, err := u.host.CreatePullRequest(ctx, sub.TargetOwner, sub.TargetRepo, branchName, sub.TargetBranch, prTitle(result.Updates), prBody(build, result))
	if err != nil {
		return err
	}

	prState := PullRequestState{
		URL:                 pr.URL,
		HeadBranch:          pr.HeadBranch,
		Status:              PRStatusInProgress,
		CoherencySuccessful: result.Successful,
		CoherencyErrors:     result.Errors,
	}

	if err := u.store.Put(ctx, prKey(key), &prState); err != nil {
		return err
	}

	if err := u.finishApplied(ctx, key); err != nil {
		return err
	}

	u.recordUpdates(sub, build, telemetry.EventPullRequestCreated, result.Updates)

	logger.Info(
		"update pull request created",
		logfields.Event("update_pull_request_created"),
		logfields.PullRequestURL(pr.URL),
		logfields.Branch(pr.HeadBranch),
		zap.Int("depflow.update_count", len(result.Updates)),
	)

	return nil
}

// commitToExisting commits the build's updates onto the head branch of the
// tracked open pull request.
func (u *Updater) commitToExisting(ctx context.Context, logger *zap.Logger, sub *Subscription, build *Build, prState *PullRequestState) error {
	key := sub.TargetKey()

	graph, err := u.host.DependencyGraph(ctx, sub.TargetOwner, sub.TargetRepo, sub.TargetBranch)
	if err != nil {
		return err
	}

	result := coherency.Compute(build.Assets, build.SourceRepoURL, build.Commit, graph, sub.Policy)
	if len(result.Updates) == 0 {
		logger.Debug(
			"target branch is up to date, nothing to do",
			logfields.Event("target_up_to_date"),
		)

		return u.markApplied(ctx, key)
	}

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
		"pull request updated with new versions",
		logfields.Event("pull_request_updated"),
		logfields.PullRequestURL(prState.URL),
		zap.Int("depflow.update_count", len(result.Updates)),
	)

	return nil
}

// queuePending persists the build as a pending update and schedules the
// reminder that will retry it.
func (u *Updater) queuePending(ctx context.Context, logger *zap.Logger, sub *Subscription, build *Build, isCodeFlow bool, kind reminder.Kind, dueIn time.Duration, reason string) error {
	key := sub.TargetKey()

	build, err := u.mergeQueuedBatch(ctx, sub, build)
	if err != nil {
		return err
	}

	existed, err := u.pendingExists(ctx, key)
	if err != nil {
		return err
	}

	pending := PendingUpdateState{
		SubscriptionID: sub.ID,
		Build:          build,
		IsCodeFlow:     isCodeFlow,
		QueuedAt:       time.Now(),
	}

	if err := u.store.Put(ctx, pendingKey(key), &pending); err != nil {
		return err
	}

	if !existed {
		pendingUpdates.Inc()
	}

	if err := u.reminders.Schedule(ctx, key, kind, dueIn); err != nil {
		return err
	}

	u.sink.Record(&telemetry.FlowEvent{
		Type:           telemetry.EventUpdateDeferred,
		SubscriptionID: sub.ID,
		BuildID:        build.ID,
		TargetRepo:     sub.TargetRepo,
		TargetBranch:   sub.TargetBranch,
		Details:        reason,
	})

	logger.Info(
		"update deferred",
		logfields.Event("update_deferred"),
		logfields.ReminderKind(string(kind)),
		zap.Duration("depflow.retry_in", dueIn),
		zap.String("depflow.reason", reason),
	)

	return nil
}

// finishApplied clears the queued update and its retry reminder, re-arms the
// periodic pull request check and records the apply time.
func (u *Updater) finishApplied(ctx context.Context, key string) error {
	if err := u.markApplied(ctx, key); err != nil {
		return err
	}

	return u.reminders.Schedule(ctx, key, reminder.KindPullRequestCheck, checkReminderInterval)
}

// markApplied drops the pending update with its reminders and records the
// apply time for frequency gating.
func (u *Updater) markApplied(ctx context.Context, key string) error {
	if _, err := u.clearPending(ctx, key); err != nil {
		return err
	}

	if err := u.reminders.Cancel(ctx, key, reminder.KindPullRequestUpdate); err != nil {
		return err
	}

	if err := u.reminders.Cancel(ctx, key, reminder.KindCodeFlow); err != nil {
		return err
	}

	return u.store.Put(ctx, cursorKey(key), &updateCursor{LastAppliedAt: time.Now()})
}

func (u *Updater) clearPending(ctx context.Context, key string) (removed bool, err error) {
	exist, err := u.pendingExists(ctx, key)
	if err != nil {
		return false, err
	}

	if !exist {
		return false, nil
	}

	if err := u.store.Delete(ctx, pendingKey(key)); err != nil {
		return false, err
	}

	pendingUpdates.Dec()

	return true, nil
}

func (u *Updater) pendingExists(ctx context.Context, key string) (bool, error) {
	var pending PendingUpdateState

	err := u.store.Get(ctx, pendingKey(key), &pending)
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

func (u *Updater) loadPRState(ctx context.Context, key string) (*PullRequestState, error) {
	var state PullRequestState

	err := u.store.Get(ctx, prKey(key), &state)
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			return nil, nil
		}

		return nil, err
	}

	return &state, nil
}

func (u *Updater) loadPending(ctx context.Context, key string) (*PendingUpdateState, error) {
	var pending PendingUpdateState

	err := u.store.Get(ctx, pendingKey(key), &pending)
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			return nil, nil
		}

		return nil, err
	}

	return &pending, nil
}

func (u *Updater) loadCodeFlow(ctx context.Context, key string) (*CodeFlowState, error) {
	var state CodeFlowState

	err := u.store.Get(ctx, codeFlowKey(key), &state)
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			return nil, nil
		}

		return nil, err
	}

	return &state, nil
}

func (u *Updater) recordUpdates(sub *Subscription, build *Build, eventType telemetry.EventType, updates []*coherency.AssetUpdate) {
	for _, update := range updates {
		u.sink.Record(&telemetry.FlowEvent{
			Type:           telemetry.EventAssetUpdateApplied,
			SubscriptionID: sub.ID,
			BuildID:        build.ID,
			TargetRepo:     sub.TargetRepo,
			TargetBranch:   sub.TargetBranch,
			Details:        fmt.Sprintf("%s: %s -> %s", update.Name, update.FromVersion, update.ToVersion),
		})
	}

	u.sink.Record(&telemetry.FlowEvent{
		Type:           eventType,
		SubscriptionID: sub.ID,
		BuildID:        build.ID,
		TargetRepo:     sub.TargetRepo,
		TargetBranch:   sub.TargetBranch,
	})
}

// recordPullRequestCompleted emits the completion event. sub and build may
// be nil when the completion was detected by a check reminder.
func (u *Updater) recordPullRequestCompleted(sub *Subscription, build *Build, prState *PullRequestState) {
	event := telemetry.FlowEvent{
		Type:    telemetry.EventPullRequestCompleted,
		Details: prState.URL,
	}

	if sub != nil {
		event.SubscriptionID = sub.ID
		event.TargetRepo = sub.TargetRepo
		event.TargetBranch = sub.TargetBranch
	}

	if build != nil {
		event.BuildID = build.ID
	}

	u.sink.Record(&event)
}

func updateBranchName(sub *Subscription, build *Build) string {
	return "depflow/" + sub.TargetBranch + "/" + shortCommit(build.Commit)
}

func shortCommit(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}

	return commit
}

func commitMessage(updates []*coherency.AssetUpdate) string {
	names := make([]string, 0, len(updates))
	for _, update := range updates {
		names = append(names, update.Name)
	}

	return "Update dependencies: " + strings.Join(names, ", ")
}

func prTitle(updates []*coherency.AssetUpdate) string {
	if len(updates) == 1 {
		return fmt.Sprintf("Update %s to %s", updates[0].Name, updates[0].ToVersion)
	}

	return fmt.Sprintf("Update %d dependencies", len(updates))
}

func prBody(build *Build, result *coherency.Result) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Updates dependencies to the versions of build %s (%s).\n\n", build.ID, shortCommit(build.Commit))

	for _, update := range result.Updates {
		fmt.Fprintf(&sb, "- **%s**: %s -> %s\n", update.Name, update.FromVersion, update.ToVersion)
	}

	if len(result.Errors) > 0 {
		sb.WriteString("\n## Coherency Errors\n\n")

		for _, details := range result.Errors {
			fmt.Fprintf(&sb, "- %s\n", details.Error)

			for _, solution := range details.PotentialSolutions {
				fmt.Fprintf(&sb, "  - %s\n", solution)
			}
		}
	}

	return sb.String()
}
