package updater

import (
	"time"

	"github.com/simplesurance/depflow/internal/coherency"
)

// UpdateFrequency limits how often a subscription's target receives updates.
type UpdateFrequency string

const (
	FrequencyEveryBuild UpdateFrequency = "every_build"
	FrequencyEveryDay   UpdateFrequency = "every_day"
	FrequencyEveryWeek  UpdateFrequency = "every_week"
	// FrequencyNone disables automatic updates for the subscription.
	FrequencyNone UpdateFrequency = "none"
)

// Window returns the minimum duration between two applied updates.
// It is 0 for frequencies without a window.
func (f UpdateFrequency) Window() time.Duration {
	switch f {
	case FrequencyEveryDay:
		return 24 * time.Hour
	case FrequencyEveryWeek:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// Subscription is the standing rule that a target repository branch receives
// dependency updates from a channel.
// Subscriptions are declared in the configuration file and treated as
// immutable values.
type Subscription struct {
	ID            string
	Channel       string
	SourceRepoURL string
	TargetOwner   string
	TargetRepo    string
	TargetBranch  string
	// Batchable subscriptions sharing a target repository and branch share
	// one pull request.
	Batchable       bool
	UpdateFrequency UpdateFrequency
	// SourceEnabled selects code-flow mode: updates are routed through the
	// branch synchronization service instead of committing directly.
	SourceEnabled bool
	Policy        coherency.Policy
	// FilterQuery is an optional gojq expression evaluated against
	// incoming build documents, non-matching builds are skipped.
	FilterQuery string
}

// TargetKey returns the key the subscription's reconciliation state is
// persisted and serialized under.
// Batchable subscriptions omit the subscription id, so all batchable
// subscriptions of one target repository branch share a state bundle.
func (s *Subscription) TargetKey() string {
	id := s.ID
	if s.Batchable {
		id = ""
	}

	return s.TargetOwner + "/" + s.TargetRepo + "/" + s.TargetBranch + "/" + id
}

// Build is one immutable build observed on a channel.
type Build struct {
	ID            string             `json:"id"`
	SourceRepoURL string             `json:"sourceRepository"`
	Commit        string             `json:"commit"`
	Assets        []*coherency.Asset `json:"assets"`
}

// PRStatus is the persisted lifecycle state of a tracked pull request.
// Completed pull requests are not stored, their record is deleted.
type PRStatus string

const PRStatusInProgress PRStatus = "in_progress"

// PullRequestState tracks the pull request depflow maintains for a target
// key. At most one exists per key.
type PullRequestState struct {
	URL                 string                    `json:"url"`
	HeadBranch          string                    `json:"headBranch"`
	Status              PRStatus                  `json:"status"`
	CoherencySuccessful bool                      `json:"coherencySuccessful"`
	CoherencyErrors     []*coherency.ErrorDetails `json:"coherencyErrors,omitempty"`
}

// CodeFlowState tracks the last branch synchronization requested for a
// code-flow target key, to avoid duplicate requests for the same commit.
// LastSyncedBuildID never regresses to an older build.
type CodeFlowState struct {
	SubscriptionID    string `json:"subscriptionId"`
	SourceCommit      string `json:"sourceCommit"`
	HeadBranch        string `json:"headBranch,omitempty"`
	SyncRequestID     string `json:"syncRequestId,omitempty"`
	LastSyncedBuildID string `json:"lastSyncedBuildId"`
}

// PendingUpdateState is a queued, not yet applied update.
// It exists only together with an active reminder that will retry it, and is
// deleted when the update was applied or superseded.
type PendingUpdateState struct {
	SubscriptionID string    `json:"subscriptionId"`
	Build          *Build    `json:"build"`
	IsCodeFlow     bool      `json:"isCodeFlow"`
	QueuedAt       time.Time `json:"queuedAt"`
}

// updateCursor records when an update was last applied for a target key,
// used for EveryDay/EveryWeek frequency gating.
type updateCursor struct {
	LastAppliedAt time.Time `json:"lastAppliedAt"`
}

func prKey(targetKey string) string       { return "pr/" + targetKey }
func codeFlowKey(targetKey string) string { return "codeflow/" + targetKey }
func pendingKey(targetKey string) string  { return "pending/" + targetKey }
func cursorKey(targetKey string) string   { return "cursor/" + targetKey }

// mergeAssets unions base and override by asset name, override wins on
// conflicts. Used when batched subscriptions queue updates for the same
// target key.
func mergeAssets(base, override []*coherency.Asset) []*coherency.Asset {
	result := make([]*coherency.Asset, 0, len(base)+len(override))
	overridden := make(map[string]struct{}, len(override))

	for _, asset := range override {
		overridden[asset.Name] = struct{}{}
	}

	for _, asset := range base {
		if _, exist := overridden[asset.Name]; exist {
			continue
		}

		result = append(result, asset)
	}

	return append(result, override...)
}
