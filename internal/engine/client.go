package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/modelforge/certhub/pkg/models"
	"resty.dev/v3"
)

// HTTPClient implements Engine against the probe runner's HTTP API. The
// runner streams one JSON object per line: progress events while probes
// execute, then a single result line carrying the outcome.
type HTTPClient struct {
	baseURL string
	client  *resty.Client
}

// NewHTTPClient creates an engine client for the given base URL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &HTTPClient{baseURL: baseURL, client: client}
}

// Close releases the underlying transport.
func (c *HTTPClient) Close() error {
	return c.client.Close()
}

type certifyRequest struct {
	DeploymentRef string `json:"deployment_ref"`
	Region        string `json:"region"`
	AccessKey     string `json:"access_key"`
	SecretKey     string `json:"secret_key"`
}

// streamLine is one NDJSON line from the runner.
type streamLine struct {
	Type     string   `json:"type"`
	TestName string   `json:"test_name,omitempty"`
	Status   string   `json:"status,omitempty"`
	Current  int      `json:"current,omitempty"`
	Total    int      `json:"total,omitempty"`
	Outcome  *Outcome `json:"outcome,omitempty"`
}

func (c *HTTPClient) Certify(ctx context.Context, req Request, progress ProgressFunc) (*Outcome, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(certifyRequest{
			DeploymentRef: req.DeploymentRef,
			Region:        req.Region,
			AccessKey:     req.AccessKey,
			SecretKey:     req.SecretKey,
		}).
		SetDoNotParseResponse(true).
		Post("/v1/certify")
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrEngineUnreachable, resp.StatusCode())
	}

	var outcome *Outcome
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev streamLine
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("decoding engine event: %w", err)
		}
		switch ev.Type {
		case "progress":
			if progress != nil {
				progress(models.ProgressEvent{
					Type:     models.EventProgress,
					TestName: ev.TestName,
					Status:   ev.Status,
					Current:  ev.Current,
					Total:    ev.Total,
				})
			}
		case "result":
			outcome = ev.Outcome
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, classifyError(err)
	}
	if outcome == nil {
		return nil, fmt.Errorf("%w: stream ended without a result", ErrEngineUnreachable)
	}
	if outcome.CategorizedError != nil {
		return outcome, outcome.CategorizedError
	}
	return outcome, nil
}

// classifyError maps transport failures to the engine sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrEngineUnreachable, err)
}

var _ Engine = (*HTTPClient)(nil)
