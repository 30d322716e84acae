package domain

import (
	"errors"
	"strings"
	"time"
)

// Execution is one orchestrator invocation of a pipeline.
type Execution struct {
	ID          string
	PipelineID  string
	Status      ExecutionStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	DurationMS  int64
}

func (e Execution) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("execution id is required")
	}
	if strings.TrimSpace(e.PipelineID) == "" {
		return errors.New("pipeline id is required")
	}
	if e.StartedAt.IsZero() {
		return errors.New("started at is required")
	}
	return nil
}

// SourceExecution records one source within an Execution. It is the unit of
// partial failure.
type SourceExecution struct {
	ID               string
	ExecutionID      string
	SourceID         string
	Status           SourceExecutionStatus
	FlowRunID        string
	StartedAt        time.Time
	CompletedAt      *time.Time
	DurationMS       int64
	RecordsProcessed int64
	SourceFilePath   string
	BronzeFilePath   string
	Logs             []string
	ErrorMessage     string
}

func (s SourceExecution) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("source execution id is required")
	}
	if strings.TrimSpace(s.ExecutionID) == "" {
		return errors.New("execution id is required")
	}
	if strings.TrimSpace(s.SourceID) == "" {
		return errors.New("source id is required")
	}
	if s.StartedAt.IsZero() {
		return errors.New("started at is required")
	}
	return nil
}
