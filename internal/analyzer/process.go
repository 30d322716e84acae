package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
)

const DefaultProcessTimeout = 60 * time.Second

// Process delegates analysis to an external command. The request is written
// to stdin as JSON and the response read from stdout. Every call is bounded
// by the configured timeout; the child is killed when it expires.
type Process struct {
	bin     string
	args    []string
	env     []string
	timeout time.Duration
}

// NewProcess parses command into a binary and arguments.
func NewProcess(command string, timeout time.Duration) (*Process, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("analyzer command is required")
	}
	bin, err := exec.LookPath(fields[0])
	if err != nil {
		return nil, fmt.Errorf("analyzer binary not found: %w", err)
	}
	return newProcess(bin, fields[1:], nil, timeout), nil
}

func newProcess(bin string, args, env []string, timeout time.Duration) *Process {
	if timeout <= 0 {
		timeout = DefaultProcessTimeout
	}
	return &Process{bin: bin, args: args, env: env, timeout: timeout}
}

type processRequest struct {
	Operation string   `json:"operation"`
	Format    string   `json:"format,omitempty"`
	HasHeader bool     `json:"has_header,omitempty"`
	Delimiter string   `json:"delimiter,omitempty"`
	Data      []byte   `json:"data,omitempty"`
	Names     []string `json:"names,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
}

type processResponse struct {
	RowCount int64         `json:"row_count"`
	Schema   domain.Schema `json:"schema"`
	Matches  []string      `json:"matches"`
	Error    string        `json:"error"`
}

func (p *Process) Analyze(ctx context.Context, req Request) (Analysis, error) {
	resp, err := p.call(ctx, processRequest{
		Operation: "analyze",
		Format:    NormalizeFormat(req.Format),
		HasHeader: req.Options.HasHeader,
		Delimiter: req.Options.Delimiter,
		Data:      req.Data,
	})
	if err != nil {
		return Analysis{}, err
	}
	if resp.Schema == nil {
		resp.Schema = domain.Schema{}
	}
	return Analysis{RowCount: resp.RowCount, Schema: resp.Schema}, nil
}

func (p *Process) Match(ctx context.Context, names []string, pattern string) ([]string, error) {
	resp, err := p.call(ctx, processRequest{Operation: "match", Names: names, Pattern: pattern})
	if err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

func (p *Process) call(ctx context.Context, req processRequest) (processResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return processResponse{}, fmt.Errorf("marshal analyzer request: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, p.bin, p.args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second
	if len(p.env) > 0 {
		cmd.Env = append(os.Environ(), p.env...)
	}

	if err := cmd.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return processResponse{}, fmt.Errorf("%w after %s", ErrAnalyzerTimeout, p.timeout)
		}
		if ctx.Err() != nil {
			return processResponse{}, ctx.Err()
		}
		return processResponse{}, fmt.Errorf("analyzer %s failed: %w: %s", req.Operation, err, strings.TrimSpace(stderr.String()))
	}

	var resp processResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return processResponse{}, fmt.Errorf("decode analyzer response: %w", err)
	}
	if resp.Error != "" {
		return processResponse{}, fmt.Errorf("analyzer %s: %s", req.Operation, resp.Error)
	}
	return resp, nil
}
