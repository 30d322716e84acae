// Package temporal runs ingestion flows as Temporal workflows. The deployment
// name selected by the routing table is used as the workflow type.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"

	"github.com/animus-labs/pipeline-orchestrator/internal/engine"
)

type Config struct {
	HostPort  string
	Namespace string
	TaskQueue string
	// RunTimeout bounds a whole workflow execution.
	RunTimeout time.Duration
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.HostPort) == "" {
		return errors.New("temporal host:port is required")
	}
	if strings.TrimSpace(c.TaskQueue) == "" {
		return errors.New("temporal task queue is required")
	}
	return nil
}

// workflowClient is the subset of client.Client the engine calls.
type workflowClient interface {
	CheckHealth(ctx context.Context, request *client.CheckHealthRequest) (*client.CheckHealthResponse, error)
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	DescribeWorkflowExecution(ctx context.Context, workflowID, runID string) (*workflowservice.DescribeWorkflowExecutionResponse, error)
}

type Engine struct {
	client    workflowClient
	closer    func()
	taskQueue string
	timeout   time.Duration
}

// New creates a lazily connected engine so an unreachable frontend degrades
// to inline execution instead of failing startup.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	namespace := strings.TrimSpace(cfg.Namespace)
	if namespace == "" {
		namespace = "default"
	}
	c, err := client.NewLazyClient(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("create temporal client: %w", err)
	}
	e := newEngine(c, cfg.TaskQueue, cfg.RunTimeout)
	e.closer = c.Close
	return e, nil
}

func newEngine(c workflowClient, taskQueue string, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = time.Hour
	}
	return &Engine{client: c, taskQueue: strings.TrimSpace(taskQueue), timeout: timeout}
}

func (e *Engine) Close() {
	if e != nil && e.closer != nil {
		e.closer()
	}
}

// FindDeployment checks the frontend is healthy and returns name as the
// workflow type.
func (e *Engine) FindDeployment(ctx context.Context, name string) (engine.Deployment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return engine.Deployment{}, errors.New("deployment name is required")
	}
	if _, err := e.client.CheckHealth(ctx, &client.CheckHealthRequest{}); err != nil {
		return engine.Deployment{}, fmt.Errorf("%w: temporal health: %v", engine.ErrUnavailable, err)
	}
	return engine.Deployment{ID: name, Name: name}, nil
}

// CreateFlowRun starts a workflow whose id is the flow-run name, so a retried
// start for the same run is rejected by Temporal rather than duplicated.
func (e *Engine) CreateFlowRun(ctx context.Context, deploymentID string, req engine.FlowRunRequest) (engine.FlowRun, error) {
	opts := client.StartWorkflowOptions{
		ID:                       req.Name + "-" + req.RunKey(),
		TaskQueue:                e.taskQueue,
		WorkflowExecutionTimeout: e.timeout,
	}
	run, err := e.client.ExecuteWorkflow(ctx, opts, deploymentID, req.Payload())
	if err != nil {
		if isUnavailable(err) {
			return engine.FlowRun{}, fmt.Errorf("%w: start workflow: %v", engine.ErrUnavailable, err)
		}
		return engine.FlowRun{}, fmt.Errorf("%w: %v", engine.ErrRejected, err)
	}
	return engine.FlowRun{ID: run.GetID(), Name: req.Name, State: engine.StateRunning}, nil
}

func (e *Engine) FlowRunState(ctx context.Context, id string) (engine.RunState, error) {
	resp, err := e.client.DescribeWorkflowExecution(ctx, strings.TrimSpace(id), "")
	if err != nil {
		return "", fmt.Errorf("describe workflow %s: %w", id, err)
	}
	return stateFromStatus(resp.GetWorkflowExecutionInfo().GetStatus()), nil
}

func stateFromStatus(status enumspb.WorkflowExecutionStatus) engine.RunState {
	switch status {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return engine.StateRunning
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return engine.StateCompleted
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED, enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return engine.StateFailed
	case enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return engine.StateCrashed
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return engine.StateCancelled
	default:
		return engine.StateUnknown
	}
}

func isUnavailable(err error) bool {
	var unavailable *serviceerror.Unavailable
	var deadline *serviceerror.DeadlineExceeded
	return errors.As(err, &unavailable) || errors.As(err, &deadline) ||
		errors.Is(err, context.DeadlineExceeded)
}
