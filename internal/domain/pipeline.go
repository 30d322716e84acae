package domain

import (
	"errors"
	"strings"
	"time"
)

// Environment is the deployment tier a pipeline and its catalog rows belong to.
type Environment string

const (
	EnvironmentDev  Environment = "dev"
	EnvironmentQA   Environment = "qa"
	EnvironmentUAT  Environment = "uat"
	EnvironmentProd Environment = "prod"
)

// NormalizeEnvironment maps the long-form names used by the console onto
// catalog environments. Unknown or empty values resolve to prod.
func NormalizeEnvironment(value string) Environment {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "development":
		return EnvironmentDev
	case "qa":
		return EnvironmentQA
	case "uat":
		return EnvironmentUAT
	default:
		return EnvironmentProd
	}
}

type PipelineMode string

const (
	PipelineModeSourceCentric PipelineMode = "source-centric"
	PipelineModeLayerCentric  PipelineMode = "layer-centric"
)

type Pipeline struct {
	ID          string
	Name        string
	Owner       string
	Team        string
	Environment Environment
	Mode        PipelineMode
	LastRun     *time.Time
}

func (p Pipeline) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("pipeline id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("pipeline name is required")
	}
	return nil
}

type SourceType string

const (
	SourceTypeFile          SourceType = "file-based"
	SourceTypeDatabase      SourceType = "database"
	SourceTypeAPI           SourceType = "api"
	SourceTypeGoldAnalytics SourceType = "gold-analytics"
	SourceTypeNoSQL         SourceType = "nosql"
)

// Source is one ingestion job of a pipeline. It is read-only for the
// orchestrator.
type Source struct {
	ID                   string
	PipelineID           string
	Name                 string
	Type                 SourceType
	OrderIndex           int
	SourceConfig         SourceConfig
	DestinationConfig    DestinationConfig
	TransformationConfig TransformationConfig
}

func (s Source) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("source id is required")
	}
	if strings.TrimSpace(s.PipelineID) == "" {
		return errors.New("pipeline id is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("source name is required")
	}
	return nil
}

// IsDatabase reports whether the source reads from a relational connection
// instead of the landing zone.
func (s Source) IsDatabase() bool {
	return s.Type == SourceTypeDatabase || s.SourceConfig.Kind == SourceKindDatabase
}

// DatasetJob is a source row flagged as a dataset job: a SQL transform that
// builds a Silver or Gold table from datasets already in the catalog.
type DatasetJob struct {
	ID                string
	PipelineID        string
	Name              string
	TargetLayer       Layer
	InputDatasets     []string
	TransformSQL      string
	DestinationConfig DestinationConfig
}

// OutputTable returns the table configured for the job's target layer.
func (j DatasetJob) OutputTable() string {
	switch j.TargetLayer {
	case LayerSilver, LayerGold:
		return j.DestinationConfig.TableName(j.TargetLayer)
	default:
		return ""
	}
}
