package engine

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
)

const (
	DefaultDeployment        = "layer-centric-ingest"
	DefaultDatasetDeployment = "flowforge-dataset-job"
)

// Routes picks the deployment that runs a job. Rules are checked in order;
// empty rule fields match anything. Dataset jobs always go to Dataset.
type Routes struct {
	Default string      `yaml:"default"`
	Dataset string      `yaml:"dataset"`
	Rules   []RouteRule `yaml:"routes"`
}

type RouteRule struct {
	Environment string `yaml:"environment"`
	Team        string `yaml:"team"`
	Deployment  string `yaml:"deployment"`
}

func DefaultRoutes() Routes {
	return Routes{Default: DefaultDeployment, Dataset: DefaultDatasetDeployment}
}

// LoadRoutes reads a routing file. An empty path yields DefaultRoutes.
func LoadRoutes(path string) (Routes, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultRoutes(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Routes{}, fmt.Errorf("read deployment routes: %w", err)
	}
	return ParseRoutes(raw)
}

func ParseRoutes(raw []byte) (Routes, error) {
	var routes Routes
	if err := yaml.Unmarshal(raw, &routes); err != nil {
		return Routes{}, fmt.Errorf("parse deployment routes: %w", err)
	}
	if strings.TrimSpace(routes.Default) == "" {
		routes.Default = DefaultDeployment
	}
	if strings.TrimSpace(routes.Dataset) == "" {
		routes.Dataset = DefaultDatasetDeployment
	}
	for i, rule := range routes.Rules {
		if strings.TrimSpace(rule.Deployment) == "" {
			return Routes{}, fmt.Errorf("route %d: deployment is required", i)
		}
	}
	return routes, nil
}

// Deployment returns the deployment name for env and team.
func (r Routes) Deployment(env domain.Environment, team string) string {
	team = strings.ToLower(strings.TrimSpace(team))
	for _, rule := range r.Rules {
		if rule.Environment != "" && domain.NormalizeEnvironment(rule.Environment) != env {
			continue
		}
		if rule.Team != "" && strings.ToLower(strings.TrimSpace(rule.Team)) != team {
			continue
		}
		return strings.TrimSpace(rule.Deployment)
	}
	if strings.TrimSpace(r.Default) == "" {
		return DefaultDeployment
	}
	return r.Default
}

// DatasetDeployment returns the deployment that runs dataset jobs.
func (r Routes) DatasetDeployment() string {
	if d := strings.TrimSpace(r.Dataset); d != "" {
		return d
	}
	return DefaultDatasetDeployment
}
