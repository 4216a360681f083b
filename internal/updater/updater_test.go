package updater

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/depflow/internal/coherency"
	"github.com/simplesurance/depflow/internal/githost"
	"github.com/simplesurance/depflow/internal/pcs"
	"github.com/simplesurance/depflow/internal/reminder"
	"github.com/simplesurance/depflow/internal/statestore/memory"
	"github.com/simplesurance/depflow/internal/telemetry"
	"github.com/simplesurance/depflow/internal/updater/mocks"
)

const testPRURL = "https://github.com/o/repo/pull/1"

func initTest(t *testing.T) {
	t.Helper()

	oldLogger := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(oldLogger) })
	zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name()))
}

type recordingSink struct {
	lock   sync.Mutex
	events []*telemetry.FlowEvent
}

func (s *recordingSink) Record(event *telemetry.FlowEvent) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.events = append(s.events, event)
}

func (s *recordingSink) countByType(eventType telemetry.EventType) int {
	s.lock.Lock()
	defer s.lock.Unlock()

	var count int
	for _, event := range s.events {
		if event.Type == eventType {
			count++
		}
	}

	return count
}

type testEnv struct {
	updater   *Updater
	store     *memory.Store
	host      *mocks.MockRepoHost
	syncSvc   *mocks.MockSyncService
	reminders *mocks.MockReminderScheduler
	sink      *recordingSink
}

func newTestEnv(t *testing.T, subs ...*Subscription) *testEnv {
	t.Helper()
	initTest(t)

	mockctrl := gomock.NewController(t)
	t.Cleanup(mockctrl.Finish)

	env := testEnv{
		store:     memory.New(),
		host:      mocks.NewMockRepoHost(mockctrl),
		syncSvc:   mocks.NewMockSyncService(mockctrl),
		reminders: mocks.NewMockReminderScheduler(mockctrl),
		sink:      &recordingSink{},
	}

	env.updater = New(env.store, env.host, env.syncSvc, env.reminders, env.sink, subs)

	return &env
}

func testSubscription() *Subscription {
	return &Subscription{
		ID:              "sub1",
		Channel:         "stable",
		SourceRepoURL:   "https://github.com/o/source",
		TargetOwner:     "o",
		TargetRepo:      "repo",
		TargetBranch:    "main",
		UpdateFrequency: FrequencyEveryBuild,
		Policy:          coherency.PolicyStrict,
	}
}

func testBuild() *Build {
	return &Build{
		ID:            "build-1",
		SourceRepoURL: "https://github.com/o/source",
		Commit:        "sha4567890abcdef",
		Assets:        []*coherency.Asset{{Name: "Service.A", Version: "1.1.0"}},
	}
}

func testGraph() *coherency.Graph {
	return &coherency.Graph{
		Dependencies: []*coherency.Dependency{
			{
				Name:          "Service.A",
				Version:       "1.0.0",
				RepositoryURL: "https://github.com/o/source",
				Commit:        "oldsha",
			},
		},
	}
}

// expectCreateFlow registers the host and reminder expectations of a
// successful branch+commit+pull-request creation.
func expectCreateFlow(env *testEnv, key string) {
	env.host.EXPECT().
		DependencyGraph(gomock.Any(), "o", "repo", "main").
		Return(testGraph(), nil)
	env.host.EXPECT().
		CreateBranch(gomock.Any(), "o", "repo", "main", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _, _, name string) (string, error) {
			return name, nil
		})
	env.host.EXPECT().
		CommitUpdates(gomock.Any(), "o", "repo", gomock.Any(), gomock.Any(), gomock.Any()).
		Return("commit1", nil)
	env.host.EXPECT().
		CreatePullRequest(gomock.Any(), "o", "repo", gomock.Any(), "main", gomock.Any(), gomock.Any()).
		Return(&githost.PullRequest{URL: testPRURL, HeadBranch: "depflow/main/sha45678", Number: 1}, nil)

	env.reminders.EXPECT().
		Cancel(gomock.Any(), key, gomock.Any()).
		Return(nil).
		AnyTimes()
	env.reminders.EXPECT().
		Schedule(gomock.Any(), key, reminder.KindPullRequestCheck, gomock.Any()).
		Return(nil)
}

func TestNewBuildCreatesPullRequest(t *testing.T) {
	sub := testSubscription()
	env := newTestEnv(t, sub)
	key := sub.TargetKey()

	expectCreateFlow(env, key)

	err := env.updater.UpdateAssets(context.Background(), sub, testBuild())
	require.NoError(t, err)

	var prState PullRequestState
	require.NoError(t, env.store.Get(context.Background(), prKey(key), &prState))
	assert.Equal(t, PRStatusInProgress, prState.Status)
	assert.Equal(t, testPRURL, prState.URL)
	assert.True(t, prState.CoherencySuccessful)

	assert.Equal(t, 1, env.sink.countByType(telemetry.EventAssetUpdateApplied))
	assert.Equal(t, 1, env.sink.countByType(telemetry.EventPullRequestCreated))
}

func TestBatchableSubscriptionsShareStateKey(t *testing.T) {
	subA := testSubscription()
	subA.Batchable = true

	subB := testSubscription()
	subB.ID = "sub2"
	subB.Batchable = true

	assert.Equal(t, subA.TargetKey(), subB.TargetKey())

	nonBatched := testSubscription()
	assert.NotEqual(t, subA.TargetKey(), nonBatched.TargetKey())
}

func TestBatchingDoesNotChangeTransitions(t *testing.T) {
	// the same build sequence triggers the same external calls regardless
	// of Batchable, only the state key granularity differs
	for _, batchable := range []bool{false, true} {
		sub := testSubscription()
		sub.Batchable = batchable
		env := newTestEnv(t, sub)
		key := sub.TargetKey()

		expectCreateFlow(env, key)

		err := env.updater.UpdateAssets(context.Background(), sub, testBuild())
		require.NoError(t, err, "batchable: %v", batchable)

		var prState PullRequestState
		require.NoError(t, env.store.Get(context.Background(), prKey(key), &prState))
		assert.Equal(t, PRStatusInProgress, prState.Status)
	}
}

func TestNonUpdatablePullRequestDefers(t *testing.T) {
	sub := testSubscription()
	env := newTestEnv(t, sub)
	key := sub.TargetKey()
	ctx := context.Background()

	require.NoError(t, env.store.Put(ctx, prKey(key), &PullRequestState{
		URL:        testPRURL,
		HeadBranch: "depflow/main/sha45678",
		Status:     PRStatusInProgress,
	}))

	env.host.EXPECT().
		PullRequestStatus(gomock.Any(), "o", "repo", 1).
		Return(githost.StatusInProgressCannotUpdate, nil)
	env.reminders.EXPECT().
		Schedule(gomock.Any(), key, reminder.KindPullRequestUpdate, gomock.Any()).
		Return(nil)

	err := env.updater.UpdateAssets(ctx, sub, testBuild())
	require.NoError(t, err)

	var pending PendingUpdateState
	require.NoError(t, env.store.Get(ctx, pendingKey(key), &pending))
	assert.Equal(t, "sub1", pending.SubscriptionID)
	assert.False(t, pending.IsCodeFlow)
	assert.Equal(t, "build-1", pending.Build.ID)

	assert.Equal(t, 1, env.sink.countByType(telemetry.EventUpdateDeferred))
}

func TestUpdatablePullRequestReceivesCommit(t *testing.T) {
	sub := testSubscription()
	env := newTestEnv(t, sub)
	key := sub.TargetKey()
	ctx := context.Background()

	require.NoError(t, env.store.Put(ctx, prKey(key), &PullRequestState{
		URL:                 testPRURL,
		HeadBranch:          "depflow/main/sha45678",
		Status:              PRStatusInProgress,
		CoherencySuccessful: false,
	}))

	env.host.EXPECT().
		PullRequestStatus(gomock.Any(), "o", "repo", 1).
		Return(githost.StatusInProgressCanUpdate, nil)
	env.host.EXPECT().
		DependencyGraph(gomock.Any(), "o", "repo", "main").
		Return(testGraph(), nil)
	// the commit goes onto the head branch of the open pull request
	env.host.EXPECT().
		CommitUpdates(gomock.Any(), "o", "repo", "depflow/main/sha45678", gomock.Any(), gomock.Any()).
		Return("commit2", nil)
	env.host.EXPECT().
		UpdatePullRequest(gomock.Any(), "o", "repo", 1, gomock.Any(), gomock.Any()).
		Return(nil)

	env.reminders.EXPECT().
		Cancel(gomock.Any(), key, gomock.Any()).
		Return(nil).
		AnyTimes()
	env.reminders.EXPECT().
		Schedule(gomock.Any(), key, reminder.KindPullRequestCheck, gomock.Any()).
		Return(nil)

	err := env.updater.UpdateAssets(ctx, sub, testBuild())
	require.NoError(t, err)

	var prState PullRequestState
	require.NoError(t, env.store.Get(ctx, prKey(key), &prState))
	assert.Equal(t, testPRURL, prState.URL)
	assert.Equal(t, "depflow/main/sha45678", prState.HeadBranch)
	assert.True(t, prState.CoherencySuccessful, "coherency fields must be refreshed")

	assert.Equal(t, 1, env.sink.countByType(telemetry.EventAssetUpdateApplied))
	assert.Equal(t, 1, env.sink.countByType(telemetry.EventPullRequestUpdated))
}

func TestCodeFlowBranchNotReady(t *testing.T) {
	sub := testSubscription()
	sub.SourceEnabled = true
	env := newTestEnv(t, sub)
	key := sub.TargetKey()
	ctx := context.Background()

	env.syncSvc.EXPECT().
		RequestSync(gomock.Any(), sub.SourceRepoURL, "o", "repo", "sha4567890abcdef").
		Return(&pcs.SyncResult{RequestID: "req-1", Ready: false}, nil)
	env.reminders.EXPECT().
		Schedule(gomock.Any(), key, reminder.KindCodeFlow, gomock.Any()).
		Return(nil)

	err := env.updater.UpdateAssets(ctx, sub, testBuild())
	require.NoError(t, err)

	var pending PendingUpdateState
	require.NoError(t, env.store.Get(ctx, pendingKey(key), &pending))
	assert.True(t, pending.IsCodeFlow)

	var cf CodeFlowState
	require.NoError(t, env.store.Get(ctx, codeFlowKey(key), &cf))
	assert.Equal(t, "sha4567890abcdef", cf.SourceCommit)
	assert.Equal(t, "req-1", cf.SyncRequestID)
	assert.Equal(t, "build-1", cf.LastSyncedBuildID)
}

func TestCodeFlowSyncRequestsAreDeduplicated(t *testing.T) {
	sub := testSubscription()
	sub.SourceEnabled = true
	env := newTestEnv(t, sub)
	key := sub.TargetKey()
	ctx := context.Background()

	env.syncSvc.EXPECT().
		RequestSync(gomock.Any(), sub.SourceRepoURL, "o", "repo", "sha4567890abcdef").
		Return(&pcs.SyncResult{RequestID: "req-1", Ready: false}, nil).
		Times(1)
	env.reminders.EXPECT().
		Schedule(gomock.Any(), key, reminder.KindCodeFlow, gomock.Any()).
		Return(nil).
		Times(1)

	require.NoError(t, env.updater.UpdateAssets(ctx, sub, testBuild()))
	// second delivery of the same build while the request is outstanding
	require.NoError(t, env.updater.UpdateAssets(ctx, sub, testBuild()))
}

func TestNewBuildSupersedesOutstandingSync(t *testing.T) {
	sub := testSubscription()
	sub.SourceEnabled = true
	env := newTestEnv(t, sub)
	key := sub.TargetKey()
	ctx := context.Background()

	require.NoError(t, env.store.Put(ctx, codeFlowKey(key), &CodeFlowState{
		SubscriptionID:    "sub1",
		SourceCommit:      "sha123",
		SyncRequestID:     "req-1",
		LastSyncedBuildID: "build-0",
	}))

	env.syncSvc.EXPECT().
		RequestSync(gomock.Any(), sub.SourceRepoURL, "o", "repo", "sha456").
		Return(&pcs.SyncResult{RequestID: "req-2", Ready: false}, nil)
	env.reminders.EXPECT().
		Schedule(gomock.Any(), key, reminder.KindCodeFlow, gomock.Any()).
		Return(nil)

	newBuild := testBuild()
	newBuild.Commit = "sha456"

	require.NoError(t, env.updater.UpdateAssets(ctx, sub, newBuild))

	var cf CodeFlowState
	require.NoError(t, env.store.Get(ctx, codeFlowKey(key), &cf))
	assert.Equal(t, "sha456", cf.SourceCommit)
	assert.Equal(t, "req-2", cf.SyncRequestID)
	assert.Equal(t, "build-1", cf.LastSyncedBuildID)
}

func TestCompletedPullRequestRestartsFlow(t *testing.T) {
	sub := testSubscription()
	env := newTestEnv(t, sub)
	key := sub.TargetKey()
	ctx := context.Background()

	require.NoError(t, env.store.Put(ctx, prKey(key), &PullRequestState{
		URL:        testPRURL,
		HeadBranch: "depflow/main/oldsha12",
		Status:     PRStatusInProgress,
	}))

	env.host.EXPECT().
		PullRequestStatus(gomock.Any(), "o", "repo", 1).
		Return(githost.StatusCompleted, nil)
	expectCreateFlow(env, key)

	require.NoError(t, env.updater.UpdateAssets(ctx, sub, testBuild()))

	var prState PullRequestState
	require.NoError(t, env.store.Get(ctx, prKey(key), &prState))
	assert.Equal(t, PRStatusInProgress, prState.Status)

	assert.Equal(t, 1, env.sink.countByType(telemetry.EventPullRequestCompleted))
	assert.Equal(t, 1, env.sink.countByType(telemetry.EventPullRequestCreated))
}

func TestEmptyBuildClearsPendingWithoutHostCalls(t *testing.T) {
	sub := testSubscription()
	env := newTestEnv(t, sub)
	key := sub.TargetKey()
	ctx := context.Background()

	require.NoError(t, env.store.Put(ctx, pendingKey(key), &PendingUpdateState{
		SubscriptionID: "sub1",
		Build:          testBuild(),
	}))

	env.reminders.EXPECT().
		Cancel(gomock.Any(), key, reminder.KindPullRequestUpdate).
		Return(nil)
	env.reminders.EXPECT().
		Cancel(gomock.Any(), key, reminder.KindCodeFlow).
		Return(nil)

	emptyBuild := testBuild()
	emptyBuild.Assets = nil

	require.NoError(t, env.updater.UpdateAssets(ctx, sub, emptyBuild))

	var pending PendingUpdateState
	err := env.store.Get(ctx, pendingKey(key), &pending)
	assert.Error(t, err)
}

func TestFrequencyWindowDefers(t *testing.T) {
	sub := testSubscription()
	sub.UpdateFrequency = FrequencyEveryDay
	env := newTestEnv(t, sub)
	key := sub.TargetKey()
	ctx := context.Background()

	// an update was applied moments ago, the daily window is still open
	require.NoError(t, env.store.Put(ctx, cursorKey(key), &updateCursor{LastAppliedAt: time.Now()}))

	env.reminders.EXPECT().
		Schedule(gomock.Any(), key, reminder.KindPullRequestUpdate, gomock.Any()).
		Return(nil)

	require.NoError(t, env.updater.UpdateAssets(ctx, sub, testBuild()))

	var pending PendingUpdateState
	require.NoError(t, env.store.Get(ctx, pendingKey(key), &pending))
	assert.Equal(t, "build-1", pending.Build.ID)
}

func TestFrequencyNoneIgnoresBuilds(t *testing.T) {
	sub := testSubscription()
	sub.UpdateFrequency = FrequencyNone
	env := newTestEnv(t, sub)

	// no host, sync or reminder calls are expected
	require.NoError(t, env.updater.UpdateAssets(context.Background(), sub, testBuild()))
}

func TestPendingUpdateReminderReplaysQueuedBuild(t *testing.T) {
	sub := testSubscription()
	env := newTestEnv(t, sub)
	key := sub.TargetKey()
	ctx := context.Background()

	require.NoError(t, env.store.Put(ctx, pendingKey(key), &PendingUpdateState{
		SubscriptionID: "sub1",
		Build:          testBuild(),
	}))

	expectCreateFlow(env, key)

	err := env.updater.ProcessReminder(ctx, &reminder.Reminder{
		OwnerKey: key,
		Kind:     reminder.KindPullRequestUpdate,
	})
	require.NoError(t, err)

	var prState PullRequestState
	require.NoError(t, env.store.Get(ctx, prKey(key), &prState))
	assert.Equal(t, PRStatusInProgress, prState.Status)

	var pending PendingUpdateState
	assert.Error(t, env.store.Get(ctx, pendingKey(key), &pending))
}

func TestPendingUpdateReminderWithoutPendingIsNoop(t *testing.T) {
	sub := testSubscription()
	env := newTestEnv(t, sub)

	err := env.updater.ProcessReminder(context.Background(), &reminder.Reminder{
		OwnerKey: sub.TargetKey(),
		Kind:     reminder.KindPullRequestUpdate,
	})
	require.NoError(t, err)
}

func TestCheckReminderCompletedReplaysPending(t *testing.T) {
	sub := testSubscription()
	env := newTestEnv(t, sub)
	key := sub.TargetKey()
	ctx := context.Background()

	require.NoError(t, env.store.Put(ctx, prKey(key), &PullRequestState{
		URL:        testPRURL,
		HeadBranch: "depflow/main/oldsha12",
		Status:     PRStatusInProgress,
	}))
	require.NoError(t, env.store.Put(ctx, pendingKey(key), &PendingUpdateState{
		SubscriptionID: "sub1",
		Build:          testBuild(),
	}))

	gomock.InOrder(
		env.host.EXPECT().
			PullRequestStatus(gomock.Any(), "o", "repo", 1).
			Return(githost.StatusCompleted, nil),
		env.host.EXPECT().
			DependencyGraph(gomock.Any(), "o", "repo", "main").
			Return(testGraph(), nil),
	)
	env.host.EXPECT().
		CreateBranch(gomock.Any(), "o", "repo", "main", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _, _, name string) (string, error) {
			return name, nil
		})
	env.host.EXPECT().
		CommitUpdates(gomock.Any(), "o", "repo", gomock.Any(), gomock.Any(), gomock.Any()).
		Return("commit2", nil)
	env.host.EXPECT().
		CreatePullRequest(gomock.Any(), "o", "repo", gomock.Any(), "main", gomock.Any(), gomock.Any()).
		Return(&githost.PullRequest{URL: "https://github.com/o/repo/pull/2", HeadBranch: "depflow/main/sha45678", Number: 2}, nil)

	env.reminders.EXPECT().
		Cancel(gomock.Any(), key, gomock.Any()).
		Return(nil).
		AnyTimes()
	env.reminders.EXPECT().
		Schedule(gomock.Any(), key, reminder.KindPullRequestCheck, gomock.Any()).
		Return(nil)

	err := env.updater.ProcessReminder(ctx, &reminder.Reminder{
		OwnerKey: key,
		Kind:     reminder.KindPullRequestCheck,
	})
	require.NoError(t, err)

	var prState PullRequestState
	require.NoError(t, env.store.Get(ctx, prKey(key), &prState))
	assert.Equal(t, "https://github.com/o/repo/pull/2", prState.URL)
}

func TestCheckReminderOpenPullRequestRearms(t *testing.T) {
	sub := testSubscription()
	env := newTestEnv(t, sub)
	key := sub.TargetKey()
	ctx := context.Background()

	require.NoError(t, env.store.Put(ctx, prKey(key), &PullRequestState{
		URL:        testPRURL,
		HeadBranch: "depflow/main/sha45678",
		Status:     PRStatusInProgress,
	}))

	env.host.EXPECT().
		PullRequestStatus(gomock.Any(), "o", "repo", 1).
		Return(githost.StatusInProgressCanUpdate, nil)
	env.reminders.EXPECT().
		Schedule(gomock.Any(), key, reminder.KindPullRequestCheck, gomock.Any()).
		Return(nil)

	err := env.updater.ProcessReminder(ctx, &reminder.Reminder{
		OwnerKey: key,
		Kind:     reminder.KindPullRequestCheck,
	})
	require.NoError(t, err)
}

func TestCodeFlowReminderReadyCreatesPullRequest(t *testing.T) {
	sub := testSubscription()
	sub.SourceEnabled = true
	env := newTestEnv(t, sub)
	key := sub.TargetKey()
	ctx := context.Background()

	require.NoError(t, env.store.Put(ctx, codeFlowKey(key), &CodeFlowState{
		SubscriptionID:    "sub1",
		SourceCommit:      "sha4567890abcdef",
		SyncRequestID:     "req-1",
		LastSyncedBuildID: "build-1",
	}))
	require.NoError(t, env.store.Put(ctx, pendingKey(key), &PendingUpdateState{
		SubscriptionID: "sub1",
		Build:          testBuild(),
		IsCodeFlow:     true,
	}))

	env.syncSvc.EXPECT().
		PollSync(gomock.Any(), "req-1").
		Return(&pcs.SyncResult{RequestID: "req-1", Ready: true, HeadBranch: "sync/sha45678"}, nil)

	env.host.EXPECT().
		DependencyGraph(gomock.Any(), "o", "repo", "main").
		Return(testGraph(), nil)
	env.host.EXPECT().
		CommitUpdates(gomock.Any(), "o", "repo", "sync/sha45678", gomock.Any(), gomock.Any()).
		Return("commit1", nil)
	env.host.EXPECT().
		CreatePullRequest(gomock.Any(), "o", "repo", "sync/sha45678", "main", gomock.Any(), gomock.Any()).
		Return(&githost.PullRequest{URL: testPRURL, HeadBranch: "sync/sha45678", Number: 1}, nil)

	env.reminders.EXPECT().
		Cancel(gomock.Any(), key, gomock.Any()).
		Return(nil).
		AnyTimes()
	env.reminders.EXPECT().
		Schedule(gomock.Any(), key, reminder.KindPullRequestCheck, gomock.Any()).
		Return(nil)

	err := env.updater.ProcessReminder(ctx, &reminder.Reminder{
		OwnerKey: key,
		Kind:     reminder.KindCodeFlow,
	})
	require.NoError(t, err)

	var prState PullRequestState
	require.NoError(t, env.store.Get(ctx, prKey(key), &prState))
	assert.Equal(t, "sync/sha45678", prState.HeadBranch)

	var cf CodeFlowState
	require.NoError(t, env.store.Get(ctx, codeFlowKey(key), &cf))
	assert.Empty(t, cf.SyncRequestID)
	assert.Equal(t, "sync/sha45678", cf.HeadBranch)
}

func TestCodeFlowReminderNotReadyRearms(t *testing.T) {
	sub := testSubscription()
	sub.SourceEnabled = true
	env := newTestEnv(t, sub)
	key := sub.TargetKey()
	ctx := context.Background()

	require.NoError(t, env.store.Put(ctx, codeFlowKey(key), &CodeFlowState{
		SubscriptionID:    "sub1",
		SourceCommit:      "sha4567890abcdef",
		SyncRequestID:     "req-1",
		LastSyncedBuildID: "build-1",
	}))

	env.syncSvc.EXPECT().
		PollSync(gomock.Any(), "req-1").
		Return(&pcs.SyncResult{RequestID: "req-1", Ready: false}, nil)
	env.reminders.EXPECT().
		Schedule(gomock.Any(), key, reminder.KindCodeFlow, gomock.Any()).
		Return(nil)

	err := env.updater.ProcessReminder(ctx, &reminder.Reminder{
		OwnerKey: key,
		Kind:     reminder.KindCodeFlow,
	})
	require.NoError(t, err)
}
