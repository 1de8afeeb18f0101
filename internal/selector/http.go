package selector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/seantiz/splay/internal/model"
)

const defaultRequestTimeout = 30 * time.Second

// HTTPSelector calls a remote test-selection service.
type HTTPSelector struct {
	url    string
	client *http.Client
}

// NewHTTPSelector creates a selector client for the given endpoint.
func NewHTTPSelector(url string) *HTTPSelector {
	return &HTTPSelector{
		url: url,
		client: &http.Client{
			Timeout: defaultRequestTimeout,
		},
	}
}

type selectRequest struct {
	ChangedFiles []string `json:"changed_files"`
}

// Select posts the changed file list and decodes the selected tests. Every
// failure mode collapses to ErrSelectorUnavailable; the caller aborts the run.
func (s *HTTPSelector) Select(ctx context.Context, changedFiles []string) ([]model.TestCase, error) {
	body, err := json.Marshal(selectRequest{ChangedFiles: changedFiles})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrSelectorUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrSelectorUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSelectorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: selector returned status %d", ErrSelectorUnavailable, resp.StatusCode)
	}

	var tests []model.TestCase
	if err := json.NewDecoder(resp.Body).Decode(&tests); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrSelectorUnavailable, err)
	}

	if err := Validate(tests); err != nil {
		return nil, err
	}
	return tests, nil
}
