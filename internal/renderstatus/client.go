// Package renderstatus observes video render jobs through the renderer's job
// status endpoint.
package renderstatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/LyricSync/internal/inference"
	"github.com/dharsanguruparan/LyricSync/internal/model"
)

// Client queries GET {base}/api/status/{job_id}.
type Client struct {
	base   string
	caller *inference.Caller
}

// NewClient builds a Client. A nil httpClient uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client, log *logrus.Entry) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		// The poller is the retry loop, so a single query never retries.
		caller: &inference.Caller{Service: "Render", HTTP: httpClient, Log: log},
	}
}

// Status fetches the current descriptor of jobID. An unknown job is
// model.ErrNotFound.
func (c *Client) Status(ctx context.Context, jobID string) (*model.JobDescriptor, error) {
	endpoint := c.base + "/api/status/" + url.PathEscape(jobID)
	body, err := c.caller.Execute(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		var upstream *model.UpstreamError
		if errors.As(err, &upstream) && upstream.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("render job %s: %w", jobID, model.ErrNotFound)
		}
		return nil, err
	}
	var job model.JobDescriptor
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, &model.UpstreamError{Service: "Render", Reason: "invalid job descriptor: " + err.Error()}
	}
	return &job, nil
}
