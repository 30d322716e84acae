// Package prefect triggers and observes flow runs through the Prefect REST API.
package prefect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/pipeline-orchestrator/internal/engine"
)

// APIError is a non-OK answer from the Prefect API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("prefect api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("prefect api error (status=%d): %s", e.StatusCode, body)
}

type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the API rooted at baseURL, e.g.
// http://prefect-server:4200/api.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("prefect api url is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid prefect api url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}, nil
}

type deployment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type stateDetails struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type flowRun struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	StateType string        `json:"state_type"`
	State     *stateDetails `json:"state"`
}

func (r flowRun) state() engine.RunState {
	if r.State != nil && r.State.Type != "" {
		return engine.ParseRunState(r.State.Type)
	}
	return engine.ParseRunState(r.StateType)
}

// FindDeployment looks up a deployment by name. Transport failures, non-OK
// answers and an empty result all report engine.ErrUnavailable.
func (c *Client) FindDeployment(ctx context.Context, name string) (engine.Deployment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return engine.Deployment{}, errors.New("deployment name is required")
	}
	body := map[string]any{
		"deployments": map[string]any{
			"name": map[string]any{"any_": []string{name}},
		},
		"limit": 1,
	}
	var out []deployment
	if err := c.post(ctx, "/deployments/filter", body, &out); err != nil {
		return engine.Deployment{}, fmt.Errorf("%w: find deployment %s: %v", engine.ErrUnavailable, name, err)
	}
	if len(out) == 0 || strings.TrimSpace(out[0].ID) == "" {
		return engine.Deployment{}, fmt.Errorf("%w: deployment %s not found", engine.ErrUnavailable, name)
	}
	return engine.Deployment{ID: out[0].ID, Name: out[0].Name}, nil
}

// CreateFlowRun starts a run of the deployment. A transport failure or a 5xx
// answer reports engine.ErrUnavailable; a 4xx answer reports
// engine.ErrRejected.
func (c *Client) CreateFlowRun(ctx context.Context, deploymentID string, req engine.FlowRunRequest) (engine.FlowRun, error) {
	deploymentID = strings.TrimSpace(deploymentID)
	if deploymentID == "" {
		return engine.FlowRun{}, errors.New("deployment id is required")
	}
	body := map[string]any{
		"name":       req.Name,
		"parameters": req.Payload(),
	}
	var out flowRun
	err := c.post(ctx, "/deployments/"+url.PathEscape(deploymentID)+"/create_flow_run", body, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return engine.FlowRun{}, fmt.Errorf("%w: %v", engine.ErrRejected, err)
		}
		return engine.FlowRun{}, fmt.Errorf("%w: create flow run: %v", engine.ErrUnavailable, err)
	}
	if strings.TrimSpace(out.ID) == "" {
		return engine.FlowRun{}, fmt.Errorf("%w: flow run response has no id", engine.ErrRejected)
	}
	return engine.FlowRun{ID: out.ID, Name: out.Name, State: out.state()}, nil
}

func (c *Client) FlowRunState(ctx context.Context, id string) (engine.RunState, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("flow run id is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/flow_runs/"+url.PathEscape(id), nil)
	if err != nil {
		return "", err
	}
	var out flowRun
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("get flow run %s: %w", id, err)
	}
	return out.state(), nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode prefect response: %w", err)
	}
	return nil
}
