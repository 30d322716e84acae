package domain

import (
	"errors"
	"strings"
	"time"
)

// IngestJob is a layer-centric landing-to-bronze job.
type IngestJob struct {
	ID          string
	PipelineID  string
	Name        string
	SourceType  string
	SourcePath  string
	FileFormat  string
	Options     IngestOptions
	TargetTable string
	Environment Environment
	Status      string
}

// IngestOptions are the parse options stored with an ingest job.
type IngestOptions struct {
	Header    *bool  `json:"header,omitempty"`
	Delimiter string `json:"delimiter,omitempty"`
}

func (o IngestOptions) HasHeader() bool {
	if o.Header == nil {
		return true
	}
	return *o.Header
}

func (j IngestJob) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("ingest job id is required")
	}
	if strings.TrimSpace(j.PipelineID) == "" {
		return errors.New("pipeline id is required")
	}
	if strings.TrimSpace(j.TargetTable) == "" {
		return errors.New("target table is required")
	}
	return nil
}

// IngestRun is one execution of an IngestJob. At most one run per job may be
// pending or running.
type IngestRun struct {
	ID             string
	JobID          string
	Status         IngestRunStatus
	FlowRunID      string
	RowCount       int64
	OutputKey      string
	ActualSchema   Schema
	SourceChecksum string
	ErrorMessage   string
	StartedAt      time.Time
	FinishedAt     *time.Time
	DurationMS     int64
}

func (r IngestRun) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("ingest run id is required")
	}
	if strings.TrimSpace(r.JobID) == "" {
		return errors.New("job id is required")
	}
	if r.StartedAt.IsZero() {
		return errors.New("started at is required")
	}
	return nil
}
