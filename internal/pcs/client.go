// Package pcs implements the client for the branch synchronization service.
//
// The service mirrors the commits of a source repository up to a requested
// commit into a synchronization branch of the target repository. Sync
// requests are asynchronous, depflow polls their state until the branch is
// ready.
package pcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/depflow/internal/deperr"
	"github.com/simplesurance/depflow/internal/logfields"
)

const DefaultHTTPClientTimeout = time.Minute

// SyncResult describes the state of a synchronization request.
type SyncResult struct {
	// RequestID identifies the request on subsequent Poll calls.
	RequestID string `json:"requestId"`
	// Ready is true when the synchronization branch contains all commits
	// up to the requested one.
	Ready bool `json:"ready"`
	// HeadBranch is the synchronization branch in the target repository.
	// Only set when Ready is true.
	HeadBranch string `json:"headBranch"`
}

type syncRequest struct {
	SourceRepositoryURL string `json:"sourceRepositoryUrl"`
	TargetOwner         string `json:"targetOwner"`
	TargetRepository    string `json:"targetRepository"`
	Commit              string `json:"commit"`
}

// Client is a client for the branch synchronization service HTTP API.
type Client struct {
	baseURL *url.URL
	clt     *http.Client
	logger  *zap.Logger
}

func New(baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url failed: %w", err)
	}

	return &Client{
		baseURL: u,
		clt:     &http.Client{Timeout: DefaultHTTPClientTimeout},
		logger:  zap.L().Named("pcs_client"),
	}, nil
}

// RequestSync asks the service to synchronize commit of the source repository
// into a branch of targetOwner/targetRepo.
// The service deduplicates requests, requesting a sync for a commit that is
// already being synchronized returns the existing request.
func (clt *Client) RequestSync(ctx context.Context, sourceRepoURL, targetOwner, targetRepo, commit string) (*SyncResult, error) {
	reqBody, err := json.Marshal(&syncRequest{
		SourceRepositoryURL: sourceRepoURL,
		TargetOwner:         targetOwner,
		TargetRepository:    targetRepo,
		Commit:              commit,
	})
	if err != nil {
		return nil, err
	}

	var result SyncResult

	err = clt.do(ctx, http.MethodPost, "/api/v1/syncs", bytes.NewReader(reqBody), &result)
	if err != nil {
		return nil, err
	}

	clt.logger.Debug(
		"branch synchronization requested",
		logfields.Event("pcs_sync_requested"),
		logfields.Commit(commit),
		zap.String("pcs_request_id", result.RequestID),
		zap.Bool("pcs_ready", result.Ready),
	)

	return &result, nil
}

// PollSync returns the current state of a synchronization request.
func (clt *Client) PollSync(ctx context.Context, requestID string) (*SyncResult, error) {
	var result SyncResult

	err := clt.do(ctx, http.MethodGet, "/api/v1/syncs/"+url.PathEscape(requestID), nil, &result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

func (clt *Client) do(ctx context.Context, method, path string, body io.Reader, dest any) error {
	endpoint := clt.baseURL.JoinPath(path)

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := clt.clt.Do(req)
	if err != nil {
		// transport errors are transient, the service might be restarting
		return deperr.NewRetryableAnytimeError(err)
	}

	defer resp.Body.Close()

	if resp.StatusCode >= 500 && resp.StatusCode < 600 {
		return deperr.NewRetryableAnytimeError(
			fmt.Errorf("%s %s: server returned status %d", method, path, resp.StatusCode),
		)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s %s: server returned status %d", method, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decoding response body failed: %w", err)
	}

	return nil
}
