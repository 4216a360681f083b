// Package ingest receives build notifications over HTTP and dispatches them
// to the updater.
//
// A notification names a channel and carries the build document. It is fanned
// out to every subscription sourcing from that channel whose optional filter
// query matches the document.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/itchyny/gojq"
	"go.uber.org/zap"

	"github.com/simplesurance/depflow/internal/logfields"
	"github.com/simplesurance/depflow/internal/retry"
	"github.com/simplesurance/depflow/internal/updater"
)

const loggerName = "ingest"

// maxBodyBytes limits the accepted notification size.
const maxBodyBytes = 1 << 20

// buildNotification is the wire format of a build event.
type buildNotification struct {
	Channel string         `json:"channel"`
	Build   *updater.Build `json:"build"`
}

// Service dispatches incoming builds to the updater.
type Service struct {
	updater *updater.Updater
	retryer *retry.Retryer
	logger  *zap.Logger
	// compiled filter queries by subscription id
	filters map[string]*gojq.Code
}

// New compiles the filter queries of all subscriptions and returns the
// service.
func New(updtr *updater.Updater, retryer *retry.Retryer, subs []*updater.Subscription) (*Service, error) {
	filters := make(map[string]*gojq.Code, len(subs))

	for _, sub := range subs {
		if sub.FilterQuery == "" {
			continue
		}

		query, err := gojq.Parse(sub.FilterQuery)
		if err != nil {
			return nil, fmt.Errorf("subscription %s: parsing filter query failed: %w", sub.ID, err)
		}

		code, err := gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("subscription %s: compiling filter query failed: %w", sub.ID, err)
		}

		filters[sub.ID] = code
	}

	return &Service{
		updater: updtr,
		retryer: retryer,
		logger:  zap.L().Named(loggerName),
		filters: filters,
	}, nil
}

// HandleBuild is the http.Handler for build notifications.
// It responds 200 when all matching subscriptions were dispatched
// successfully and 500 otherwise, so the sender redelivers the notification.
func (s *Service) HandleBuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "expecting POST requests", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "reading request body failed", http.StatusBadRequest)
		return
	}

	var notification buildNotification

	if err := json.Unmarshal(body, &notification); err != nil {
		s.logger.Debug(
			"received unparsable build notification",
			logfields.Event("build_notification_unparsable"),
			zap.Error(err),
		)

		http.Error(w, "unparsable request body", http.StatusBadRequest)

		return
	}

	if notification.Channel == "" || notification.Build == nil || notification.Build.ID == "" {
		http.Error(w, "channel and build.id fields are required", http.StatusBadRequest)
		return
	}

	logger := s.logger.With(
		logfields.Channel(notification.Channel),
		logfields.Build(notification.Build.ID),
	)

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		http.Error(w, "unparsable request body", http.StatusBadRequest)
		return
	}

	var dispatched int

	for _, sub := range s.updater.SubscriptionsForChannel(notification.Channel) {
		match, err := s.filterMatches(sub, doc)
		if err != nil {
			logger.Warn(
				"evaluating filter query failed, skipping subscription",
				logfields.Event("filter_query_evaluation_failed"),
				logfields.Subscription(sub.ID),
				zap.Error(err),
			)

			continue
		}

		if !match {
			logger.Debug(
				"build does not match subscription filter",
				logfields.Event("build_filtered"),
				logfields.Subscription(sub.ID),
			)

			continue
		}

		sub := sub
		err = s.retryer.Run(r.Context(), func(ctx context.Context) error {
			return s.updater.UpdateAssets(ctx, sub, notification.Build)
		}, []zap.Field{
			logfields.Channel(notification.Channel),
			logfields.Subscription(sub.ID),
			logfields.Build(notification.Build.ID),
		})
		if err != nil {
			logger.Error(
				"processing build failed",
				logfields.Event("build_processing_failed"),
				logfields.Subscription(sub.ID),
				zap.Error(err),
			)

			http.Error(w, "processing build failed", http.StatusInternalServerError)

			return
		}

		dispatched++
	}

	logger.Debug(
		"build notification processed",
		logfields.Event("build_notification_processed"),
		zap.Int("depflow.dispatched", dispatched),
	)

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"dispatched":%d}`+"\n", dispatched)
}

// filterMatches evaluates the subscription's filter query against the
// notification document. Subscriptions without a query match every build.
func (s *Service) filterMatches(sub *updater.Subscription, doc map[string]any) (bool, error) {
	code, exist := s.filters[sub.ID]
	if !exist {
		return true, nil
	}

	iter := code.Run(doc)

	for {
		val, ok := iter.Next()
		if !ok {
			return false, nil
		}

		if err, isErr := val.(error); isErr {
			return false, err
		}

		switch v := val.(type) {
		case bool:
			if v {
				return true, nil
			}
		case nil:
		default:
			// non-boolean, non-null output counts as a match
			return true, nil
		}
	}
}
