// Package telemetry records the lifecycle events of update flows.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/simplesurance/depflow/internal/logfields"
)

// EventType classifies a flow event.
type EventType string

const (
	// EventAssetUpdateApplied is emitted once per asset version change that
	// was committed to a pull request.
	EventAssetUpdateApplied   EventType = "asset_update_applied"
	EventPullRequestCreated   EventType = "pull_request_created"
	EventPullRequestUpdated   EventType = "pull_request_updated"
	EventPullRequestCompleted EventType = "pull_request_completed"
	EventUpdateDeferred       EventType = "update_deferred"
	EventCodeFlowRequested    EventType = "code_flow_requested"
)

// FlowEvent is one recorded lifecycle event of an update flow.
type FlowEvent struct {
	Type           EventType
	SubscriptionID string
	BuildID        string
	TargetRepo     string
	TargetBranch   string
	Time           time.Time
	Details        string
}

// Sink consumes flow events. Implementations must not block.
type Sink interface {
	Record(event *FlowEvent)
}

// Recorder logs flow events and counts them in a prometheus metric.
type Recorder struct {
	logger *zap.Logger
	events *prometheus.CounterVec
}

func NewRecorder(registry prometheus.Registerer) *Recorder {
	return &Recorder{
		logger: zap.L().Named("telemetry"),
		events: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "depflow_flow_events_total",
				Help: "Count of update flow lifecycle events.",
			},
			[]string{"type", "repository"},
		),
	}
}

func (r *Recorder) Record(event *FlowEvent) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	r.events.WithLabelValues(string(event.Type), event.TargetRepo).Inc()

	r.logger.Info(
		"flow event",
		logfields.Event(string(event.Type)),
		logfields.Subscription(event.SubscriptionID),
		logfields.Build(event.BuildID),
		logfields.Repository(event.TargetRepo),
		logfields.Branch(event.TargetBranch),
		zap.String("depflow.details", event.Details),
	)
}

// DiscardSink drops all events, used in tests.
type DiscardSink struct{}

func (DiscardSink) Record(*FlowEvent) {}
