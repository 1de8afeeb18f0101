package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/seantiz/splay/internal/api"
	"github.com/seantiz/splay/internal/model"
	"github.com/seantiz/splay/internal/queue"
)

const httpClientTimeout = 30 * time.Second

// HTTPClient speaks to a remote coordinator's queue endpoints. Status codes
// are mapped back onto the queue sentinel errors so the worker loop behaves
// identically in-process and over the network.
type HTTPClient struct {
	BaseURL string
	RunID   string

	client *http.Client
}

var _ QueueClient = (*HTTPClient)(nil)

// NewHTTPClient creates a client bound to one run on one coordinator.
func NewHTTPClient(baseURL, runID string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		RunID:   runID,
		client:  &http.Client{Timeout: httpClientTimeout},
	}
}

// Lease claims the next pending batch for the agent.
func (c *HTTPClient) Lease(ctx context.Context, agentID string) (*Lease, error) {
	req := api.LeaseRequest{RunID: c.RunID, AgentID: agentID}

	var resp api.LeaseResponse
	status, err := c.post(ctx, "/v1/queue/lease", req, &resp)
	if err != nil {
		return nil, err
	}
	if err := mapStatus(status); err != nil {
		return nil, err
	}
	return &Lease{Batch: resp.Batch, Tests: resp.Tests}, nil
}

// Ack reports batch results to the coordinator.
func (c *HTTPClient) Ack(ctx context.Context, batchID, agentID string, results []model.RunResult) error {
	req := api.AckRequest{RunID: c.RunID, BatchID: batchID, AgentID: agentID, Results: results}
	status, err := c.post(ctx, "/v1/queue/ack", req, nil)
	if err != nil {
		return err
	}
	return mapStatus(status)
}

// ExtendLease renews the lease on a long-running batch.
func (c *HTTPClient) ExtendLease(ctx context.Context, batchID, agentID string) error {
	req := api.ExtendRequest{RunID: c.RunID, BatchID: batchID, AgentID: agentID}
	status, err := c.post(ctx, "/v1/queue/extend", req, nil)
	if err != nil {
		return err
	}
	return mapStatus(status)
}

// Heartbeat signals liveness to the coordinator.
func (c *HTTPClient) Heartbeat(ctx context.Context, agentID string) error {
	req := api.HeartbeatRequest{RunID: c.RunID, AgentID: agentID}
	status, err := c.post(ctx, "/v1/queue/heartbeat", req, nil)
	if err != nil {
		return err
	}
	return mapStatus(status)
}

// post sends the request body and decodes a 200 response into out when out is
// non-nil. It returns the status code; decoding is skipped for non-200.
func (c *HTTPClient) post(ctx context.Context, path string, body, out any) (int, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("coordinator request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return 0, fmt.Errorf("decode response: %w", err)
		}
		return resp.StatusCode, nil
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// mapStatus translates the queue service's status codes into sentinel errors.
func mapStatus(status int) error {
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusNoContent:
		return queue.ErrNoWork
	case http.StatusGone:
		return queue.ErrDrained
	case http.StatusForbidden:
		return queue.ErrAgentDead
	case http.StatusConflict:
		return queue.ErrStaleAck
	case http.StatusNotFound:
		return queue.ErrUnknownBatch
	default:
		return fmt.Errorf("coordinator returned status %d", status)
	}
}
